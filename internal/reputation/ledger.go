// Package reputation keeps the feedback-derived trust score of each document
// in a workspace. Retrieval reads the scores; the feedback endpoint writes them.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/internal/storage/sqlite"
	"github.com/docqa/backend/pkg/logger"
)

// Smoothing damps the score of documents with little feedback.
const Smoothing = 3.0

var (
	ErrInvalidRating = errors.New("rating must be -1, 0 or 1")
	ErrQueryNotFound = errors.New("query not found")
)

// Store is the subset of the relational store the ledger needs. The merge
// in ApplyFeedback must be atomic per (workspace, document).
type Store interface {
	ApplyFeedback(ctx context.Context, workspaceID string, fb *models.Feedback, smoothing float64) ([]string, error)
	ReputationScores(ctx context.Context, workspaceID string, docIDs []string) (map[string]float64, error)
	RebuildReputation(ctx context.Context, workspaceID string, smoothing float64) (int, error)
}

type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// SmoothedScore is (up - down) / (up + down + Smoothing), always in (-1, 1).
func SmoothedScore(up, down int) float64 {
	return float64(up-down) / (float64(up+down) + Smoothing)
}

type FeedbackReceipt struct {
	FeedbackID        string   `json:"feedback_id"`
	QueryID           string   `json:"query_id"`
	Rating            int      `json:"rating"`
	AffectedDocuments int      `json:"affected_documents"`
	DocumentIDs       []string `json:"document_ids"`
}

// RecordFeedback appends a rating for a query and folds it into the
// reputation of every distinct document the query cited. A neutral rating
// is stored but changes no counts.
func (l *Ledger) RecordFeedback(ctx context.Context, workspaceID, queryID string, rating int, comment string) (*FeedbackReceipt, error) {
	if rating < -1 || rating > 1 {
		return nil, ErrInvalidRating
	}

	fb := &models.Feedback{
		ID:      uuid.NewString(),
		QueryID: queryID,
		Rating:  rating,
		Comment: comment,
	}

	docIDs, err := l.store.ApplyFeedback(ctx, workspaceID, fb, Smoothing)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, ErrQueryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record feedback: %w", err)
	}

	metrics.FeedbackTotal.WithLabelValues(strconv.Itoa(rating)).Inc()

	logger.Info("Feedback recorded",
		zap.String("query_id", queryID),
		zap.String("workspace", workspaceID),
		zap.Int("rating", rating),
		zap.Int("affected_documents", len(docIDs)),
	)

	if docIDs == nil {
		docIDs = []string{}
	}
	return &FeedbackReceipt{
		FeedbackID:        fb.ID,
		QueryID:           queryID,
		Rating:            rating,
		AffectedDocuments: len(docIDs),
		DocumentIDs:       docIDs,
	}, nil
}

// Scores returns the reputation of each listed document. Documents without
// feedback are absent from the map and count as 0.
func (l *Ledger) Scores(ctx context.Context, workspaceID string, docIDs []string) (map[string]float64, error) {
	scores, err := l.store.ReputationScores(ctx, workspaceID, docIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load reputation: %w", err)
	}
	return scores, nil
}

// Rebuild recomputes the workspace's reputation from its feedback history.
func (l *Ledger) Rebuild(ctx context.Context, workspaceID string) (int, error) {
	n, err := l.store.RebuildReputation(ctx, workspaceID, Smoothing)
	if err != nil {
		return 0, err
	}

	logger.Info("Reputation rebuilt", zap.String("workspace", workspaceID), zap.Int("documents", n))
	return n, nil
}
