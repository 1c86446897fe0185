// Package embedding turns text into dense vectors. The provider is chosen
// once at startup from configuration.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/docqa/backend/pkg/config"
)

type Embedder interface {
	// Embed returns one vector per input, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// New builds the configured provider.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedding provider openai requires an api key")
		}
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dim, timeout), nil
	case "ollama":
		return NewOllama(cfg.BaseURL, cfg.Model, cfg.Dim, timeout)
	case "hashing", "":
		return NewHashing(cfg.Dim), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
