package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"github.com/docqa/backend/pkg/logger"
	"github.com/docqa/backend/pkg/retry"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama embeds through a local Ollama server.
type Ollama struct {
	client      *api.Client
	model       string
	dim         int
	retryConfig retry.Config
}

func NewOllama(baseURL, model string, dim int, timeout time.Duration) (*Ollama, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ollama url: %w", err)
	}

	logger.Info("Ollama embedder initialized", zap.String("url", baseURL), zap.String("model", model))

	cfg := retry.DefaultConfig()
	cfg.Logger = logger.GetLogger()

	return &Ollama{
		client:      api.NewClient(base, &http.Client{Timeout: timeout}),
		model:       model,
		dim:         dim,
		retryConfig: cfg,
	}, nil
}

func (o *Ollama) Dimension() int {
	return o.dim
}

func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	return retry.DoWithResult(ctx, o.retryConfig, func() ([][]float32, error) {
		return o.embedBatch(ctx, texts)
	})
}

func (o *Ollama) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.Embed(ctx, &api.EmbedRequest{Model: o.model, Input: texts})
	if err != nil {
		err = fmt.Errorf("failed to call embedding endpoint: %w", err)
		var status api.StatusError
		if errors.As(err, &status) && status.StatusCode < 500 && status.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, retry.Permanent(fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), len(resp.Embeddings)))
	}

	for _, vec := range resp.Embeddings {
		if o.dim > 0 && len(vec) != o.dim {
			return nil, retry.Permanent(fmt.Errorf("embedding length %d does not match expected %d", len(vec), o.dim))
		}
	}

	return resp.Embeddings, nil
}
