package ingestion

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/backend/internal/embedding"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/internal/vector"
	"github.com/docqa/backend/internal/vector/memory"
)

func pacedChunks() (*models.Document, []models.Chunk) {
	doc := &models.Document{ID: "d1", WorkspaceID: "ws", Filename: "notes.txt"}
	texts := []string{"alpha apple anchor", "beta bridge bottle", "gamma garden glove"}

	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{ID: fmt.Sprintf("c%d", i), DocumentID: doc.ID, Index: i, Text: text}
	}
	return doc, chunks
}

func TestVectorizerPacesBatches(t *testing.T) {
	embedder := embedding.NewHashing(256)
	index := memory.New()
	v := NewVectorizer(embedder, index, 1, 40*time.Millisecond, 1)
	doc, chunks := pacedChunks()
	ctx := context.Background()

	start := time.Now()
	n, err := v.Vectorize(ctx, "ws", doc, chunks)
	require.NoError(t, err)

	assert.Equal(t, 3, n)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 3, index.Len("ws"))

	for _, ch := range chunks {
		vecs, err := embedder.Embed(ctx, []string{ch.Text})
		require.NoError(t, err)

		matches, err := index.Query(ctx, "ws", vecs[0], 1)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, ch.ID, matches[0].Metadata[vector.MetaChunkID])
		assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	}
}

func TestVectorizerFailsWhenDeadlinePrecedesNextBatch(t *testing.T) {
	index := memory.New()
	v := NewVectorizer(embedding.NewHashing(256), index, 1, time.Second, 1)
	doc, chunks := pacedChunks()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	n, err := v.Vectorize(ctx, "ws", doc, chunks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to pace embedding batch")
	assert.Zero(t, n)
	assert.Zero(t, index.Len("ws"))
}
