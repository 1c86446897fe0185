package query

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/internal/vector"
)

type constEmbedder struct{}

func (constEmbedder) Dimension() int { return 2 }
func (constEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type stubIndex struct {
	matches []vector.Match
	err     error
}

func (s *stubIndex) EnsureCollection(context.Context, int) error           { return nil }
func (s *stubIndex) Upsert(context.Context, string, []vector.Record) error { return nil }
func (s *stubIndex) Delete(context.Context, string, vector.Filter) error   { return nil }
func (s *stubIndex) Query(context.Context, string, []float32, int) ([]vector.Match, error) {
	return s.matches, s.err
}

type stubChunks map[string]*models.Chunk

func (s stubChunks) GetChunks(_ context.Context, ids []string) (map[string]*models.Chunk, error) {
	out := make(map[string]*models.Chunk)
	for _, id := range ids {
		if ch, ok := s[id]; ok {
			out[id] = ch
		}
	}
	return out, nil
}

type stubReputation map[string]float64

func (s stubReputation) Scores(context.Context, string, []string) (map[string]float64, error) {
	return s, nil
}

func match(chunkID, docID string, score float64) vector.Match {
	return vector.Match{
		ID:       chunkID,
		Score:    score,
		Metadata: map[string]string{vector.MetaChunkID: chunkID, vector.MetaDocumentID: docID},
	}
}

func chunkSet(ids ...string) stubChunks {
	out := stubChunks{}
	for _, id := range ids {
		out[id] = &models.Chunk{ID: id, DocumentID: "doc-" + id, Text: id}
	}
	return out
}

func rankedIDs(r *Retrieval) []string {
	ids := make([]string, len(r.Chunks))
	for i, rc := range r.Chunks {
		ids[i] = rc.Chunk.ID
	}
	return ids
}

func TestRetrieveReranksByReputationAndDropsMissing(t *testing.T) {
	index := &stubIndex{matches: []vector.Match{
		match("a", "doc-a", 0.50),
		match("b", "doc-b", 0.50),
		match("c", "doc-c", 0.45),
		match("gone", "doc-gone", 0.40),
		{ID: "bare", Score: 0.99},
	}}
	r := NewRetriever(constEmbedder{}, index, chunkSet("a", "b", "c"), stubReputation{"doc-c": 1.0}, DefaultReputationBoost)

	res, err := r.Retrieve(context.Background(), "q", "ws", 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a", "b"}, rankedIDs(res))
	assert.InDelta(t, 0.55, res.Chunks[0].Score, 1e-9)
	assert.InDelta(t, 0.45, res.Chunks[0].Similarity, 1e-9)
	assert.Equal(t, 4, res.Candidates)
	// the dropped match still counts toward the average; the bare one does not
	assert.InDelta(t, (0.5+0.5+0.45+0.4)/4, res.AvgTopScore, 1e-9)
}

func TestRetrieveStableOnTies(t *testing.T) {
	index := &stubIndex{matches: []vector.Match{
		match("x", "doc-x", 0.3),
		match("y", "doc-y", 0.3),
		match("z", "doc-z", 0.3),
	}}
	r := NewRetriever(constEmbedder{}, index, chunkSet("x", "y", "z"), stubReputation{}, DefaultReputationBoost)

	res, err := r.Retrieve(context.Background(), "q", "ws", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, rankedIDs(res))
}

func TestRetrieveAveragesAtMostFiveScores(t *testing.T) {
	var matches []vector.Match
	ids := []string{"1", "2", "3", "4", "5", "6", "7"}
	scores := []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.1, 0.1}
	for i, id := range ids {
		matches = append(matches, match(id, "doc-"+id, scores[i]))
	}
	r := NewRetriever(constEmbedder{}, &stubIndex{matches: matches}, chunkSet(ids...), stubReputation{}, DefaultReputationBoost)

	res, err := r.Retrieve(context.Background(), "q", "ws", 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, res.AvgTopScore, 1e-9)

	r = NewRetriever(constEmbedder{}, &stubIndex{matches: matches[:2]}, chunkSet(ids...), stubReputation{}, DefaultReputationBoost)
	res, err = r.Retrieve(context.Background(), "q", "ws", 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.85, res.AvgTopScore, 1e-9)
}

func TestRetrieveEmptyAndErrors(t *testing.T) {
	r := NewRetriever(constEmbedder{}, &stubIndex{}, stubChunks{}, stubReputation{}, DefaultReputationBoost)
	res, err := r.Retrieve(context.Background(), "q", "ws", 10)
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
	assert.Zero(t, res.AvgTopScore)

	boom := errors.New("index down")
	r = NewRetriever(constEmbedder{}, &stubIndex{err: boom}, stubChunks{}, stubReputation{}, DefaultReputationBoost)
	_, err = r.Retrieve(context.Background(), "q", "ws", 10)
	assert.ErrorIs(t, err, boom)
}
