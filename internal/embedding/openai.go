package embedding

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/pkg/circuitbreaker"
	"github.com/docqa/backend/pkg/logger"
	"github.com/docqa/backend/pkg/retry"
)

type OpenAI struct {
	client      *openai.Client
	model       string
	dim         int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewOpenAI(apiKey, baseURL, model string, dim int, timeout time.Duration) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	cb := circuitbreaker.NewCircuitBreaker("embedding", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OnStateChange:    metrics.ObserveCircuitState,
		Logger:           logger.GetLogger(),
	})

	logger.Info("OpenAI embedder initialized", zap.String("model", model), zap.Int("dim", dim))

	return &OpenAI{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		dim:     dim,
		timeout: timeout,
		cb:      cb,
		retryConfig: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}
}

func (o *OpenAI) Dimension() int {
	return o.dim
}

func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var embeddings [][]float32

	err := o.cb.Execute(ctx, func() error {
		return retry.Do(ctx, o.retryConfig, func() error {
			resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: texts,
				Model: openai.EmbeddingModel(o.model),
			})
			if err != nil {
				return fmt.Errorf("failed to generate embeddings: %w", err)
			}
			if len(resp.Data) != len(texts) {
				return retry.Permanent(fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), len(resp.Data)))
			}

			embeddings = make([][]float32, len(resp.Data))
			for _, data := range resp.Data {
				if data.Index < 0 || data.Index >= len(embeddings) {
					return retry.Permanent(fmt.Errorf("embedding index %d out of range", data.Index))
				}
				embeddings[data.Index] = data.Embedding
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}
