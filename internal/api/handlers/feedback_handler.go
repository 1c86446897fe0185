package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/reputation"
	"github.com/docqa/backend/pkg/logger"
)

type FeedbackRecorder interface {
	RecordFeedback(ctx context.Context, workspaceID, queryID string, rating int, comment string) (*reputation.FeedbackReceipt, error)
	Rebuild(ctx context.Context, workspaceID string) (int, error)
}

type FeedbackHandler struct {
	ledger     FeedbackRecorder
	workspaces Workspaces
}

func NewFeedbackHandler(ledger FeedbackRecorder, workspaces Workspaces) *FeedbackHandler {
	return &FeedbackHandler{ledger: ledger, workspaces: workspaces}
}

func (h *FeedbackHandler) SubmitFeedback(c *fiber.Ctx) error {
	var req struct {
		QueryID string `json:"query_id"`
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	receipt, err := h.ledger.RecordFeedback(c.UserContext(), h.workspaces.From(c), req.QueryID, req.Rating, req.Comment)
	switch {
	case errors.Is(err, reputation.ErrInvalidRating):
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, reputation.ErrQueryNotFound):
		return errorJSON(c, fiber.StatusNotFound, "Query not found")
	case err != nil:
		logger.Error("Failed to record feedback", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to record feedback")
	}

	return c.JSON(receipt)
}

func (h *FeedbackHandler) RebuildReputation(c *fiber.Ctx) error {
	n, err := h.ledger.Rebuild(c.UserContext(), h.workspaces.From(c))
	if err != nil {
		logger.Error("Failed to rebuild reputation", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to rebuild reputation")
	}

	return c.JSON(fiber.Map{"documents": n})
}
