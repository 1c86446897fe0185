package ingestion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/docqa/backend/internal/embedding"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/internal/vector"
	"github.com/docqa/backend/pkg/logger"
)

const DefaultEmbeddingBatch = 64

// Vectorizer embeds a document's chunks batch by batch and upserts the
// vectors into the workspace namespace.
type Vectorizer struct {
	embedder  embedding.Embedder
	index     vector.Index
	batchSize int
	workers   int
	limiter   *rate.Limiter
}

// NewVectorizer paces batch starts at one per delay. Workers bounds the
// batches scheduled at once; the embedder (usually a Gate) may bound them
// further.
func NewVectorizer(embedder embedding.Embedder, index vector.Index, batchSize int, delay time.Duration, workers int) *Vectorizer {
	if batchSize <= 0 {
		batchSize = DefaultEmbeddingBatch
	}
	if workers <= 0 {
		workers = 1
	}

	var limiter *rate.Limiter
	if delay > 0 {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
	}

	return &Vectorizer{
		embedder:  embedder,
		index:     index,
		batchSize: batchSize,
		workers:   workers,
		limiter:   limiter,
	}
}

// Vectorize returns the number of vectors written.
func (v *Vectorizer) Vectorize(ctx context.Context, workspaceID string, doc *models.Document, chunks []models.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	type batch struct {
		start, end int
	}
	var batches []batch
	for start := 0; start < len(chunks); start += v.batchSize {
		end := start + v.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, batch{start, end})
	}

	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)

	// Wait can fail without cancelling the context, e.g. when the deadline
	// is closer than the next pacing slot.
	var waitErr error
	for _, b := range batches {
		b := b
		if v.limiter != nil {
			if err := v.limiter.Wait(gctx); err != nil {
				waitErr = fmt.Errorf("failed to pace embedding batch %d-%d: %w", b.start, b.end, err)
				break
			}
		}

		g.Go(func() error {
			texts := make([]string, 0, b.end-b.start)
			for _, ch := range chunks[b.start:b.end] {
				texts = append(texts, ch.Text)
			}

			embs, err := v.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed batch %d-%d: %w", b.start, b.end, err)
			}
			if len(embs) != len(texts) {
				return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embs), len(texts))
			}

			copy(vectors[b.start:b.end], embs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	if waitErr != nil {
		return 0, waitErr
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	records := make([]vector.Record, len(chunks))
	for i, ch := range chunks {
		records[i] = vector.Record{
			ID:       vector.RecordID(workspaceID, doc.ID, ch.ID),
			Vector:   vectors[i],
			Metadata: vector.ChunkMetadata(workspaceID, doc.ID, ch.ID, ch.Index, doc.Filename),
		}
	}

	for _, page := range vector.Pages(records, vector.UpsertPageSize) {
		if err := v.index.Upsert(ctx, workspaceID, page); err != nil {
			return 0, fmt.Errorf("failed to upsert vectors: %w", err)
		}
	}

	logger.Info("Vectors upserted",
		zap.String("doc_id", doc.ID),
		zap.Int("vectors", len(records)),
		zap.Int("batches", len(batches)),
	)

	return len(records), nil
}
