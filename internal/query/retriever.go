package query

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/embedding"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/internal/vector"
	"github.com/docqa/backend/pkg/logger"
)

const (
	// DefaultReputationBoost weights a document's reputation against raw
	// similarity when reranking.
	DefaultReputationBoost = 0.1
	DefaultTopK            = 20
	// avgTopN is how many leading similarity scores feed the confidence average.
	avgTopN = 5
)

// ChunkStore resolves vector matches back to stored chunks.
type ChunkStore interface {
	GetChunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error)
}

// ReputationSource supplies document reputation scores.
type ReputationSource interface {
	Scores(ctx context.Context, workspaceID string, docIDs []string) (map[string]float64, error)
}

type RankedChunk struct {
	Chunk      *models.Chunk
	Similarity float64
	Reputation float64
	Score      float64
}

type Retrieval struct {
	Chunks []RankedChunk
	// AvgTopScore is the mean raw similarity of the leading matches. Zero
	// when nothing matched.
	AvgTopScore float64
	Candidates  int
}

type Retriever struct {
	embedder   embedding.Embedder
	index      vector.Index
	chunks     ChunkStore
	reputation ReputationSource
	boost      float64
}

func NewRetriever(embedder embedding.Embedder, index vector.Index, chunks ChunkStore, reputation ReputationSource, boost float64) *Retriever {
	return &Retriever{
		embedder:   embedder,
		index:      index,
		chunks:     chunks,
		reputation: reputation,
		boost:      boost,
	}
}

// Retrieve finds the k nearest chunks in the workspace and reranks them by
// similarity plus boosted reputation. Matches whose chunk is gone from the
// store are dropped. Embedding and index errors are returned as is, without
// retrying.
func (r *Retriever) Retrieve(ctx context.Context, text, workspaceID string, k int) (*Retrieval, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	vectors, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected 1", len(vectors))
	}

	matches, err := r.index.Query(ctx, workspaceID, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector index: %w", err)
	}

	type candidate struct {
		chunkID string
		docID   string
		score   float64
	}
	candidates := make([]candidate, 0, len(matches))
	chunkIDs := make([]string, 0, len(matches))
	docIDs := make([]string, 0, len(matches))
	for _, m := range matches {
		chunkID := m.Metadata[vector.MetaChunkID]
		docID := m.Metadata[vector.MetaDocumentID]
		if chunkID == "" || docID == "" {
			continue
		}
		candidates = append(candidates, candidate{chunkID: chunkID, docID: docID, score: m.Score})
		chunkIDs = append(chunkIDs, chunkID)
		docIDs = append(docIDs, docID)
	}

	result := &Retrieval{Candidates: len(candidates)}
	if len(candidates) == 0 {
		metrics.RetrievalCandidates.Observe(0)
		return result, nil
	}

	top := len(candidates)
	if top > avgTopN {
		top = avgTopN
	}
	var sum float64
	for _, c := range candidates[:top] {
		sum += c.score
	}
	result.AvgTopScore = sum / float64(top)

	rows, err := r.chunks.GetChunks(ctx, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	scores, err := r.reputation.Scores(ctx, workspaceID, docIDs)
	if err != nil {
		return nil, err
	}

	ranked := make([]RankedChunk, 0, len(candidates))
	for _, c := range candidates {
		row, ok := rows[c.chunkID]
		if !ok {
			metrics.RetrievalDropped.Inc()
			logger.Debug("Dropping match for missing chunk", zap.String("chunk_id", c.chunkID))
			continue
		}
		rep := scores[c.docID]
		ranked = append(ranked, RankedChunk{
			Chunk:      row,
			Similarity: c.score,
			Reputation: rep,
			Score:      c.score + r.boost*rep,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	result.Chunks = ranked
	metrics.RetrievalCandidates.Observe(float64(len(ranked)))

	logger.Debug("Retrieval complete",
		zap.String("workspace", workspaceID),
		zap.Int("matches", len(matches)),
		zap.Int("ranked", len(ranked)),
		zap.Float64("avg_top_score", result.AvgTopScore),
	)

	return result, nil
}
