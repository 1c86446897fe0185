package ingestion

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/docqa/backend/internal/embedding"
	"github.com/docqa/backend/internal/metrics"
)

// Gate bounds the number of embedding calls in flight. One gate is shared
// by ingestion and query-time retrieval; acquisition waits for a free slot
// and gives up only when the context ends.
type Gate struct {
	inner embedding.Embedder
	sem   *semaphore.Weighted
	size  int64
}

func NewGate(inner embedding.Embedder, maxConcurrency int) *Gate {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Gate{
		inner: inner,
		sem:   semaphore.NewWeighted(int64(maxConcurrency)),
		size:  int64(maxConcurrency),
	}
}

func (g *Gate) Dimension() int {
	return g.inner.Dimension()
}

func (g *Gate) Capacity() int {
	return int(g.size)
}

func (g *Gate) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire embedding slot: %w", err)
	}
	defer g.sem.Release(1)

	metrics.EmbeddingInFlight.Inc()
	defer metrics.EmbeddingInFlight.Dec()

	return g.inner.Embed(ctx, texts)
}
