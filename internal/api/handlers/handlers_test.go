package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/backend/internal/answer"
	"github.com/docqa/backend/internal/ingestion"
	"github.com/docqa/backend/internal/query"
	"github.com/docqa/backend/internal/reputation"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/internal/storage/sqlite"
)

type stubEngine struct {
	last query.Request
}

func (s *stubEngine) Answer(_ context.Context, req query.Request) (*query.Response, error) {
	s.last = req
	if strings.TrimSpace(req.Question) == "" {
		return nil, query.ErrEmptyQuestion
	}
	return &query.Response{
		QueryID:    "q1",
		Answer:     "forty two [1]",
		Confidence: answer.LevelMedium,
		Citations:  []query.Citation{{N: 1, ChunkID: "c1", DocumentID: "d1", Origin: "local"}},
		Origin:     query.OriginSummary{Mode: "local", Local: 1, WebDomains: []string{}},
	}, nil
}

type stubQueries struct{}

func (stubQueries) GetQuery(_ context.Context, ws, id string) (*models.QueryRecord, error) {
	return nil, sqlite.ErrNotFound
}

type stubLedger struct{}

func (stubLedger) RecordFeedback(_ context.Context, ws, queryID string, rating int, _ string) (*reputation.FeedbackReceipt, error) {
	if rating > 1 || rating < -1 {
		return nil, reputation.ErrInvalidRating
	}
	if queryID != "q1" {
		return nil, reputation.ErrQueryNotFound
	}
	return &reputation.FeedbackReceipt{QueryID: queryID, Rating: rating, AffectedDocuments: 1, DocumentIDs: []string{"d1"}}, nil
}

func (stubLedger) Rebuild(context.Context, string) (int, error) { return 3, nil }

type stubDocuments struct {
	seen map[string]bool
}

func (s *stubDocuments) IngestText(_ context.Context, req ingestion.IngestRequest) (*ingestion.IngestResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ingestion.ErrEmptyContent
	}
	doc := &models.Document{ID: "d-" + req.Content, WorkspaceID: req.Workspace, Filename: req.Filename}
	if s.seen[req.Content] {
		return &ingestion.IngestResult{Document: doc, Status: ingestion.StatusDuplicate, DuplicateOf: doc.ID}, nil
	}
	s.seen[req.Content] = true
	return &ingestion.IngestResult{Document: doc, Status: ingestion.StatusProcessed, Created: true, Chunks: 1, Vectors: 1}, nil
}

func (s *stubDocuments) ReindexDocument(context.Context, string, string, ingestion.ReindexOptions) (*ingestion.ReindexOutcome, error) {
	return nil, ingestion.ErrDocumentNotFound
}

func (s *stubDocuments) Reindex(_ context.Context, _ string, req ingestion.ReindexRequest) (*ingestion.ReindexReport, error) {
	if len(req.DocumentIDs) == 0 && !req.AllPending {
		return nil, ingestion.ErrNoSelection
	}
	return &ingestion.ReindexReport{Updated: 1, Results: []ingestion.ReindexOutcome{{ID: "d1", Status: ingestion.StatusProcessed}}}, nil
}

func (s *stubDocuments) DeleteDocument(_ context.Context, _, id string, _ bool) error {
	if id != "d1" {
		return ingestion.ErrDocumentNotFound
	}
	return nil
}

func newTestApp(engine *stubEngine) *fiber.App {
	ws := Workspaces{Default: "default"}
	ask := NewAskHandler(engine, stubQueries{}, ws)
	feedback := NewFeedbackHandler(stubLedger{}, ws)
	docs := NewDocumentHandler(&stubDocuments{seen: map[string]bool{}}, nil, ws)

	app := fiber.New()
	api := app.Group("/api/v1")
	api.Post("/ask", ask.HandleAsk)
	api.Get("/queries/:id", ask.GetQuery)
	api.Post("/feedback", feedback.SubmitFeedback)
	api.Post("/reputation/rebuild", feedback.RebuildReputation)
	api.Post("/documents", docs.UploadDocument)
	api.Post("/documents/reindex", docs.ReindexBatch)
	api.Post("/documents/:id/reindex", docs.ReindexDocument)
	api.Delete("/documents/:id", docs.DeleteDocument)
	return app
}

func call(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestHandleAsk(t *testing.T) {
	engine := &stubEngine{}
	app := newTestApp(engine)

	status, body := call(t, app, "POST", "/api/v1/ask",
		`{"query":"meaning?","auto_enrich":true,"history":[{"role":"user","content":"hi"}]}`,
		map[string]string{"X-Workspace": "team"},
	)

	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "q1", body["query_id"])
	assert.Equal(t, "medium", body["confidence"])
	assert.Equal(t, "local", body["origin"].(map[string]interface{})["mode"])
	assert.NotContains(t, body, "enrichment")

	assert.Equal(t, "team", engine.last.Workspace)
	assert.True(t, engine.last.Enrich)
	require.Len(t, engine.last.History, 1)
	assert.Equal(t, "hi", engine.last.History[0].Content)

	status, _ = call(t, app, "POST", "/api/v1/ask", `{"query":""}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "default", engine.last.Workspace)

	status, _ = call(t, app, "GET", "/api/v1/queries/nope", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestSubmitFeedback(t *testing.T) {
	app := newTestApp(&stubEngine{})

	status, body := call(t, app, "POST", "/api/v1/feedback", `{"query_id":"q1","rating":1}`, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["affected_documents"])

	status, _ = call(t, app, "POST", "/api/v1/feedback", `{"query_id":"other","rating":-1}`, nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = call(t, app, "POST", "/api/v1/feedback", `{"query_id":"q1","rating":3}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = call(t, app, "POST", "/api/v1/reputation/rebuild", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 3, body["documents"])
}

func TestDocumentEndpoints(t *testing.T) {
	app := newTestApp(&stubEngine{})

	status, body := call(t, app, "POST", "/api/v1/documents", `{"filename":"a.txt","content":"abc"}`, nil)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, ingestion.StatusProcessed, body["status"])

	status, body = call(t, app, "POST", "/api/v1/documents", `{"filename":"b.txt","content":"abc"}`, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, ingestion.StatusDuplicate, body["status"])

	status, _ = call(t, app, "POST", "/api/v1/documents", `{"content":"  "}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = call(t, app, "DELETE", "/api/v1/documents/zzz", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	status, _ = call(t, app, "DELETE", "/api/v1/documents/d1", "", nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = call(t, app, "POST", "/api/v1/documents/reindex", `{}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	status, body = call(t, app, "POST", "/api/v1/documents/reindex", `{"all_pending":true}`, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["updated"])

	status, _ = call(t, app, "POST", "/api/v1/documents/d9/reindex?force=true", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestSplitIntoWords(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "\n", "\n", "c"}, splitIntoWords("a  b\n\nc"))
	assert.Empty(t, splitIntoWords(""))
}
