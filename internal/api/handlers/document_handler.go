package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/ingestion"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/internal/storage/sqlite"
	"github.com/docqa/backend/pkg/logger"
)

type DocumentService interface {
	IngestText(ctx context.Context, req ingestion.IngestRequest) (*ingestion.IngestResult, error)
	ReindexDocument(ctx context.Context, workspaceID, id string, opts ingestion.ReindexOptions) (*ingestion.ReindexOutcome, error)
	Reindex(ctx context.Context, workspaceID string, req ingestion.ReindexRequest) (*ingestion.ReindexReport, error)
	DeleteDocument(ctx context.Context, workspaceID, id string, clearVectors bool) error
}

type DocumentStore interface {
	ListDocuments(ctx context.Context, workspaceID string) ([]models.DocumentSummary, error)
	GetDocument(ctx context.Context, workspaceID, id string) (*models.Document, error)
	ListChunks(ctx context.Context, documentID string) ([]models.Chunk, error)
}

type DocumentHandler struct {
	processor  DocumentService
	store      DocumentStore
	workspaces Workspaces
}

func NewDocumentHandler(processor DocumentService, store DocumentStore, workspaces Workspaces) *DocumentHandler {
	return &DocumentHandler{
		processor:  processor,
		store:      store,
		workspaces: workspaces,
	}
}

func documentView(doc *models.Document) fiber.Map {
	return fiber.Map{
		"id":         doc.ID,
		"filename":   doc.Filename,
		"mime":       doc.Mime,
		"bytes":      doc.Bytes,
		"status":     doc.Status,
		"meta":       doc.Meta,
		"created_at": doc.CreatedAt.Unix(),
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req struct {
		Filename string `json:"filename"`
		Mime     string `json:"mime"`
		Content  string `json:"content"`
		Mode     string `json:"mode"`
	}
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	result, err := h.processor.IngestText(c.UserContext(), ingestion.IngestRequest{
		Workspace: h.workspaces.From(c),
		Filename:  req.Filename,
		Mime:      req.Mime,
		Content:   req.Content,
		Mode:      req.Mode,
	})
	switch {
	case errors.Is(err, ingestion.ErrEmptyContent), errors.Is(err, ingestion.ErrInvalidMode):
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	case err != nil && result == nil:
		logger.Error("Failed to ingest document", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to process document")
	}

	status := fiber.StatusOK
	if result.Created {
		status = fiber.StatusCreated
	}
	if result.Status == ingestion.StatusFailed {
		status = fiber.StatusBadGateway
	}

	return c.Status(status).JSON(fiber.Map{
		"document":     documentView(result.Document),
		"status":       result.Status,
		"chunks":       result.Chunks,
		"vectors":      result.Vectors,
		"duplicate_of": result.DuplicateOf,
		"error":        result.Error,
	})
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	docs, err := h.store.ListDocuments(c.UserContext(), h.workspaces.From(c))
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to list documents")
	}

	items := make([]fiber.Map, 0, len(docs))
	for i := range docs {
		view := documentView(&docs[i].Document)
		view["chunk_count"] = docs[i].ChunkCount
		items = append(items, view)
	}

	return c.JSON(fiber.Map{"documents": items})
}

func (h *DocumentHandler) ListChunks(c *fiber.Ctx) error {
	doc, err := h.store.GetDocument(c.UserContext(), h.workspaces.From(c), c.Params("id"))
	if errors.Is(err, sqlite.ErrNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "Document not found")
	}
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to load document")
	}

	chunks, err := h.store.ListChunks(c.UserContext(), doc.ID)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to load chunks")
	}

	items := make([]fiber.Map, 0, len(chunks))
	for _, ch := range chunks {
		items = append(items, fiber.Map{
			"id":          ch.ID,
			"idx":         ch.Index,
			"text":        ch.Text,
			"token_count": ch.TokenCount,
			"page_start":  ch.PageStart,
			"page_end":    ch.PageEnd,
		})
	}

	return c.JSON(fiber.Map{"document": documentView(doc), "chunks": items})
}

func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	clearVectors := c.QueryBool("clear_vectors", true)

	err := h.processor.DeleteDocument(c.UserContext(), h.workspaces.From(c), c.Params("id"), clearVectors)
	if errors.Is(err, ingestion.ErrDocumentNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "Document not found")
	}
	if err != nil {
		logger.Error("Failed to delete document", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to delete document")
	}

	return c.JSON(fiber.Map{"deleted": c.Params("id")})
}

func (h *DocumentHandler) ReindexDocument(c *fiber.Ctx) error {
	opts := ingestion.ReindexOptions{
		ClearFirst: c.QueryBool("clear_first", false),
		Force:      c.QueryBool("force", false),
	}

	outcome, err := h.processor.ReindexDocument(c.UserContext(), h.workspaces.From(c), c.Params("id"), opts)
	if errors.Is(err, ingestion.ErrDocumentNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "Document not found")
	}
	if err != nil {
		logger.Error("Failed to reindex document", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to reindex document")
	}

	return c.JSON(outcome)
}

func (h *DocumentHandler) ReindexBatch(c *fiber.Ctx) error {
	var req struct {
		DocumentIDs []string `json:"document_ids"`
		AllPending  bool     `json:"all_pending"`
		Force       bool     `json:"force"`
		ClearFirst  bool     `json:"clear_first"`
	}
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	report, err := h.processor.Reindex(c.UserContext(), h.workspaces.From(c), ingestion.ReindexRequest{
		DocumentIDs:    req.DocumentIDs,
		AllPending:     req.AllPending,
		ReindexOptions: ingestion.ReindexOptions{Force: req.Force, ClearFirst: req.ClearFirst},
	})
	if errors.Is(err, ingestion.ErrNoSelection) {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		logger.Error("Failed to reindex documents", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to reindex documents")
	}

	return c.JSON(report)
}
