package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/llm"
	"github.com/docqa/backend/internal/query"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/internal/storage/sqlite"
	"github.com/docqa/backend/pkg/logger"
)

type Answerer interface {
	Answer(ctx context.Context, req query.Request) (*query.Response, error)
}

type QueryStore interface {
	GetQuery(ctx context.Context, workspaceID, id string) (*models.QueryRecord, error)
}

type AskHandler struct {
	engine     Answerer
	queries    QueryStore
	workspaces Workspaces
}

func NewAskHandler(engine Answerer, queries QueryStore, workspaces Workspaces) *AskHandler {
	return &AskHandler{
		engine:     engine,
		queries:    queries,
		workspaces: workspaces,
	}
}

type askRequest struct {
	Query      string     `json:"query"`
	History    []llm.Turn `json:"history"`
	AutoEnrich bool       `json:"auto_enrich"`
}

func (r askRequest) toQuery(workspace string) query.Request {
	return query.Request{
		Workspace: workspace,
		Question:  r.Query,
		History:   r.History,
		Enrich:    r.AutoEnrich,
	}
}

func (h *AskHandler) HandleAsk(c *fiber.Ctx) error {
	var req askRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	response, err := h.engine.Answer(c.UserContext(), req.toQuery(h.workspaces.From(c)))
	if errors.Is(err, query.ErrEmptyQuestion) {
		return errorJSON(c, fiber.StatusBadRequest, "Query is required.")
	}
	if err != nil {
		logger.Error("Failed to answer question", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to process query")
	}

	return c.JSON(response)
}

func (h *AskHandler) GetQuery(c *fiber.Ctx) error {
	rec, err := h.queries.GetQuery(c.UserContext(), h.workspaces.From(c), c.Params("id"))
	if errors.Is(err, sqlite.ErrNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "Query not found")
	}
	if err != nil {
		logger.Error("Failed to load query", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to load query")
	}

	return c.JSON(fiber.Map{
		"id":                   rec.ID,
		"question":             rec.Question,
		"answer":               rec.Answer,
		"confidence":           rec.Confidence,
		"missing_info":         rec.MissingInfo,
		"suggested_enrichment": rec.SuggestedEnrichment,
		"chunk_ids":            rec.ChunkIDs,
		"created_at":           rec.CreatedAt.Unix(),
		"answered":             rec.AnsweredAt != nil,
	})
}
