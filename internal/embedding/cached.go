package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/pkg/logger"
	"github.com/docqa/backend/pkg/utils"
)

// Cache stores vectors keyed by model and text hash. The redis client
// satisfies it.
type Cache interface {
	GetEmbedding(ctx context.Context, model, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, model, textHash string, embedding []float32, ttl time.Duration) error
}

// Cached serves repeated texts from a cache and embeds only the misses.
// Cache failures are logged and otherwise ignored.
type Cached struct {
	inner Embedder
	cache Cache
	model string
	ttl   time.Duration
}

func NewCached(inner Embedder, cache Cache, model string, ttl time.Duration) *Cached {
	return &Cached{inner: inner, cache: cache, model: model, ttl: ttl}
}

func (c *Cached) Dimension() int {
	return c.inner.Dimension()
}

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	hashes := make([]string, len(texts))

	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		hashes[i] = utils.HashString(text)

		vec, ok, err := c.cache.GetEmbedding(ctx, c.model, hashes[i])
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		}
		if ok && len(vec) == c.inner.Dimension() {
			out[i] = vec
			continue
		}

		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		metrics.CacheHits.WithLabelValues("embedding").Add(float64(len(texts)))
		return out, nil
	}

	vectors, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, i := range missIdx {
		out[i] = vectors[j]
		if err := c.cache.SetEmbedding(ctx, c.model, hashes[i], vectors[j], c.ttl); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}

	metrics.CacheHits.WithLabelValues("embedding").Add(float64(len(texts) - len(missTexts)))
	metrics.CacheMisses.WithLabelValues("embedding").Add(float64(len(missTexts)))

	logger.Debug("Embeddings resolved",
		zap.Int("hits", len(texts)-len(missTexts)),
		zap.Int("misses", len(missTexts)),
	)

	return out, nil
}
