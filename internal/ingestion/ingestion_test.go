package ingestion

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/backend/internal/embedding"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/internal/storage/sqlite"
	"github.com/docqa/backend/internal/vector"
	"github.com/docqa/backend/internal/vector/memory"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func expectedChunks(t *testing.T, text string, size, overlap int) int {
	t.Helper()
	n, err := CountTokens(text)
	require.NoError(t, err)
	return len(windows(n, size, overlap))
}

func TestWindowsOverlap(t *testing.T) {
	assert.Equal(t, []window{{0, 500}, {425, 925}, {850, 1100}}, windows(1100, 500, 75))
	assert.Equal(t, []window{{0, 30}}, windows(30, 500, 75))
	assert.Empty(t, windows(0, 500, 75))
}

func TestChunkTextWindowsAndOverlap(t *testing.T) {
	text := words(1100)
	total, err := CountTokens(text)
	require.NoError(t, err)
	require.Greater(t, total, 1000)

	pieces, err := ChunkText(text, 500, 75)
	require.NoError(t, err)
	require.Len(t, pieces, len(windows(total, 500, 75)))

	sum := 0
	for i, p := range pieces {
		if i < len(pieces)-1 {
			assert.Equal(t, 500, p.TokenCount)
		}
		sum += p.TokenCount
		assert.Len(t, p.Hash, 64)
	}
	assert.Equal(t, total+75*(len(pieces)-1), sum)
	assert.NotEqual(t, pieces[0].Hash, pieces[1].Hash)

	assert.True(t, strings.HasPrefix(pieces[0].Text, "w0 w1"))
	// the next window opens inside the previous one
	assert.Contains(t, pieces[0].Text, pieces[1].Text[:40])
}

func TestChunkTextSmallAndEmpty(t *testing.T) {
	pieces, err := ChunkText("   \n ", 500, 75)
	require.NoError(t, err)
	assert.Empty(t, pieces)

	pieces, err = ChunkText("one\ntwo   three", 500, 75)
	require.NoError(t, err)
	require.Len(t, pieces, 1)
	assert.Equal(t, "one two three", pieces[0].Text)
	assert.Equal(t, 3, pieces[0].TokenCount)
}

type slowEmbedder struct {
	inFlight int32
	maxSeen  int32
}

func (s *slowEmbedder) Dimension() int { return 2 }

func (s *slowEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&s.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&s.maxSeen, seen, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)

	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestGateBoundsConcurrency(t *testing.T) {
	inner := &slowEmbedder{}
	gate := NewGate(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gate.Embed(context.Background(), []string{"x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&inner.maxSeen), int32(2))
	assert.Equal(t, 2, gate.Capacity())
}

func TestGateHonoursCancellation(t *testing.T) {
	gate := NewGate(&slowEmbedder{}, 1)
	require.NoError(t, gate.sem.Acquire(context.Background(), 1))
	defer gate.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gate.Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type failingEmbedder struct{}

func (failingEmbedder) Dimension() int { return 2 }
func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("provider down")
}

type fixture struct {
	db    *sqlite.Client
	index *memory.Index
	proc  *Processor
}

func newFixture(t *testing.T, embedder embedding.Embedder) *fixture {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "ingest.db"), 5000)
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	index := memory.New()
	vectorizer := NewVectorizer(NewGate(embedder, 1), index, 2, 0, 1)

	return &fixture{db: db, index: index, proc: NewProcessor(db, vectorizer, index, 50, 10)}
}

func TestIngestTextProcessesAndDedupes(t *testing.T) {
	f := newFixture(t, embedding.NewHashing(32))
	ctx := context.Background()

	want := expectedChunks(t, words(120), 50, 10)
	require.Greater(t, want, 1)

	res, err := f.proc.IngestText(ctx, IngestRequest{Workspace: "ws", Filename: "a.txt", Content: words(120)})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, want, res.Chunks)
	assert.Equal(t, want, res.Vectors)
	assert.Equal(t, want, f.index.Len("ws"))

	matches, err := f.index.Query(ctx, "ws", make([]float32, 32), 10)
	require.NoError(t, err)
	for _, m := range matches {
		assert.Equal(t, res.Document.ID, m.Metadata[vector.MetaDocumentID])
		assert.Equal(t, "a.txt", m.Metadata[vector.MetaFilename])
	}

	dup, err := f.proc.IngestText(ctx, IngestRequest{Workspace: "ws", Filename: "b.txt", Content: words(120)})
	require.NoError(t, err)
	assert.False(t, dup.Created)
	assert.Equal(t, StatusDuplicate, dup.Status)
	assert.Equal(t, res.Document.ID, dup.DuplicateOf)

	other, err := f.proc.IngestText(ctx, IngestRequest{Workspace: "ws", Filename: "c.txt", Content: words(120), Mode: ModeVersion})
	require.NoError(t, err)
	assert.True(t, other.Created)
	assert.NotEqual(t, res.Document.ID, other.Document.ID)
}

func TestIngestTextRejectsEmptyAndBadMode(t *testing.T) {
	f := newFixture(t, embedding.NewHashing(32))

	_, err := f.proc.IngestText(context.Background(), IngestRequest{Workspace: "ws", Content: "  "})
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = f.proc.IngestText(context.Background(), IngestRequest{Workspace: "ws", Content: "x", Mode: "nope"})
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestIngestHTMLStripsMarkup(t *testing.T) {
	f := newFixture(t, embedding.NewHashing(32))

	res, err := f.proc.IngestText(context.Background(), IngestRequest{
		Workspace: "ws",
		Filename:  "page.html",
		Mime:      "text/html",
		Content:   `<html><body><script>evil()</script><p>Hello   world</p></body></html>`,
	})
	require.NoError(t, err)

	chunks, err := f.db.ListChunks(context.Background(), res.Document.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Hello world", chunks[0].Text)
}

func TestIngestFailureMarksDocumentFailed(t *testing.T) {
	f := newFixture(t, failingEmbedder{})
	ctx := context.Background()

	res, err := f.proc.IngestText(ctx, IngestRequest{Workspace: "ws", Filename: "a.txt", Content: "some text"})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, StatusFailed, res.Status)

	doc, err := f.db.GetDocument(ctx, "ws", res.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, doc.Status)
}

func TestReindexAllPendingAndSkipProcessed(t *testing.T) {
	broken := newFixture(t, failingEmbedder{})
	ctx := context.Background()

	res, _ := broken.proc.IngestText(ctx, IngestRequest{Workspace: "ws", Filename: "a.txt", Content: words(60)})
	require.Equal(t, StatusFailed, res.Status)

	want := expectedChunks(t, words(60), 50, 10)
	require.Greater(t, want, 1)

	healthy := NewProcessor(broken.db, NewVectorizer(embedding.NewHashing(32), broken.index, 64, 0, 1), broken.index, 50, 10)

	report, err := healthy.Reindex(ctx, "ws", ReindexRequest{AllPending: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	require.Len(t, report.Results, 1)
	assert.Equal(t, StatusProcessed, report.Results[0].Status)
	assert.Equal(t, want, report.Results[0].Chunks)

	again, err := healthy.Reindex(ctx, "ws", ReindexRequest{DocumentIDs: []string{res.Document.ID, "missing"}})
	require.NoError(t, err)
	require.Len(t, again.Results, 1)
	assert.Equal(t, StatusSkippedProcessed, again.Results[0].Status)

	forced, err := healthy.ReindexDocument(ctx, "ws", res.Document.ID, ReindexOptions{Force: true, ClearFirst: true})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, forced.Status)
	assert.Equal(t, want, broken.index.Len("ws"))

	_, err = healthy.Reindex(ctx, "ws", ReindexRequest{})
	assert.ErrorIs(t, err, ErrNoSelection)
}

func TestDeleteDocumentClearsVectors(t *testing.T) {
	f := newFixture(t, embedding.NewHashing(32))
	ctx := context.Background()

	res, err := f.proc.IngestText(ctx, IngestRequest{Workspace: "ws", Filename: "a.txt", Content: words(60)})
	require.NoError(t, err)
	require.Equal(t, expectedChunks(t, words(60), 50, 10), f.index.Len("ws"))

	require.NoError(t, f.proc.DeleteDocument(ctx, "ws", res.Document.ID, true))
	assert.Equal(t, 0, f.index.Len("ws"))

	assert.ErrorIs(t, f.proc.DeleteDocument(ctx, "ws", res.Document.ID, true), ErrDocumentNotFound)
}
