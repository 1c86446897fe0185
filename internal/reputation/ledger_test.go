package reputation

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/internal/storage/sqlite"
)

type ledgerFixture struct {
	db     *sqlite.Client
	ledger *Ledger
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "rep.db"), 5000)
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	return &ledgerFixture{db: db, ledger: NewLedger(db)}
}

// citedQuery stores one document with n chunks and a completed query citing
// all of them.
func (f *ledgerFixture) citedQuery(t *testing.T, ws string, n int) (docID, queryID string) {
	t.Helper()
	ctx := context.Background()

	doc := &models.Document{ID: uuid.NewString(), WorkspaceID: ws, Filename: "a.txt", ContentHash: uuid.NewString()}
	require.NoError(t, f.db.InsertDocument(ctx, doc))

	chunks := make([]models.Chunk, n)
	citations := make([]models.QueryCitation, n)
	for i := range chunks {
		chunks[i] = models.Chunk{ID: uuid.NewString(), Index: i, Text: "text", TokenCount: 1}
		citations[i] = models.QueryCitation{Position: i + 1, ChunkID: chunks[i].ID, DocumentID: doc.ID, Origin: models.OriginLocal}
	}
	require.NoError(t, f.db.ReplaceChunks(ctx, doc.ID, chunks))

	rec := &models.QueryRecord{ID: uuid.NewString(), WorkspaceID: ws, Question: "q"}
	require.NoError(t, f.db.InsertQuery(ctx, rec))
	require.NoError(t, f.db.CompleteQuery(ctx, rec, citations))

	return doc.ID, rec.ID
}

func TestSmoothedScore(t *testing.T) {
	assert.InDelta(t, 0.0, SmoothedScore(0, 0), 1e-9)
	assert.InDelta(t, 0.4, SmoothedScore(2, 0), 1e-9)
	assert.InDelta(t, -0.25, SmoothedScore(0, 1), 1e-9)
	assert.Less(t, SmoothedScore(1000, 0), 1.0)
}

func TestConcurrentUpvotesAreNotLost(t *testing.T) {
	f := newLedgerFixture(t)
	docID, queryID := f.citedQuery(t, "ws", 2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.ledger.RecordFeedback(context.Background(), "ws", queryID, 1, "")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	rep, err := f.db.GetReputation(context.Background(), "ws", docID)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.UpCount)
	assert.Equal(t, 0, rep.DownCount)
	assert.InDelta(t, 0.4, rep.Score, 1e-9)
}

func TestNeutralFeedbackLeavesScoreUnchanged(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	docID, queryID := f.citedQuery(t, "ws", 1)

	receipt, err := f.ledger.RecordFeedback(ctx, "ws", queryID, 1, "useful")
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.AffectedDocuments)
	assert.Equal(t, []string{docID}, receipt.DocumentIDs)

	before, err := f.ledger.Scores(ctx, "ws", []string{docID})
	require.NoError(t, err)

	receipt, err = f.ledger.RecordFeedback(ctx, "ws", queryID, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 0, receipt.AffectedDocuments)
	assert.Empty(t, receipt.DocumentIDs)

	after, err := f.ledger.Scores(ctx, "ws", []string{docID})
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.InDelta(t, 0.25, after[docID], 1e-9)
}

func TestRecordFeedbackRejectsBadInput(t *testing.T) {
	f := newLedgerFixture(t)
	_, queryID := f.citedQuery(t, "ws", 1)

	_, err := f.ledger.RecordFeedback(context.Background(), "ws", queryID, 2, "")
	assert.ErrorIs(t, err, ErrInvalidRating)

	_, err = f.ledger.RecordFeedback(context.Background(), "ws", "missing", 1, "")
	assert.ErrorIs(t, err, ErrQueryNotFound)

	_, err = f.ledger.RecordFeedback(context.Background(), "elsewhere", queryID, 1, "")
	assert.ErrorIs(t, err, ErrQueryNotFound)
}

func TestRebuildReproducesIncrementalScores(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	docID, queryID := f.citedQuery(t, "ws", 3)

	for _, rating := range []int{1, 1, -1, 0} {
		_, err := f.ledger.RecordFeedback(ctx, "ws", queryID, rating, "")
		require.NoError(t, err)
	}
	incremental, err := f.ledger.Scores(ctx, "ws", []string{docID})
	require.NoError(t, err)

	n, err := f.ledger.Rebuild(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rebuilt, err := f.ledger.Scores(ctx, "ws", []string{docID})
	require.NoError(t, err)
	assert.InDelta(t, SmoothedScore(2, 1), rebuilt[docID], 1e-9)
	assert.InDelta(t, incremental[docID], rebuilt[docID], 1e-9)
}
