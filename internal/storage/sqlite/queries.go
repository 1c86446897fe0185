package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/pkg/logger"
)

// InsertQuery records a question at the moment it is asked.
func (c *Client) InsertQuery(ctx context.Context, record *models.QueryRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO queries (id, workspace_id, question, created_at) VALUES (?, ?, ?, ?)`,
		record.ID, record.WorkspaceID, record.Question, record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	return nil
}

// CompleteQuery stores the final answer and its citations in one transaction.
// A query can be completed only once.
func (c *Client) CompleteQuery(ctx context.Context, record *models.QueryRecord, citations []models.QueryCitation) error {
	missingJSON, err := json.Marshal(nonNil(record.MissingInfo))
	if err != nil {
		return fmt.Errorf("failed to encode missing info: %w", err)
	}
	suggestedJSON, err := json.Marshal(nonNil(record.SuggestedEnrichment))
	if err != nil {
		return fmt.Errorf("failed to encode suggestions: %w", err)
	}

	answeredAt := time.Now()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE queries
		SET answer = ?, confidence = ?, missing_info = ?, suggested_enrichment = ?, answered_at = ?
		WHERE id = ? AND answered_at IS NULL
	`, record.Answer, record.Confidence, string(missingJSON), string(suggestedJSON), answeredAt.Unix(), record.ID)
	if err != nil {
		return fmt.Errorf("failed to complete query: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	for _, cit := range citations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO query_citations (query_id, position, chunk_id, document_id, origin, domain)
			VALUES (?, ?, ?, ?, ?, ?)
		`, record.ID, cit.Position, cit.ChunkID, cit.DocumentID, cit.Origin, cit.Domain)
		if err != nil {
			return fmt.Errorf("failed to insert query citation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit query: %w", err)
	}

	record.AnsweredAt = &answeredAt

	logger.Info("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("workspace", record.WorkspaceID),
		zap.Float64("confidence", record.Confidence),
		zap.Int("citations", len(citations)),
	)

	return nil
}

func (c *Client) GetQuery(ctx context.Context, workspaceID, id string) (*models.QueryRecord, error) {
	var r models.QueryRecord
	var answer, missing, suggested sql.NullString
	var confidence sql.NullFloat64
	var createdAt int64
	var answeredAt sql.NullInt64

	err := c.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, question, answer, confidence, missing_info, suggested_enrichment, created_at, answered_at
		FROM queries WHERE id = ? AND workspace_id = ?
	`, id, workspaceID).Scan(
		&r.ID, &r.WorkspaceID, &r.Question, &answer, &confidence, &missing, &suggested, &createdAt, &answeredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get query: %w", err)
	}

	r.Answer = answer.String
	r.Confidence = confidence.Float64
	if missing.Valid {
		json.Unmarshal([]byte(missing.String), &r.MissingInfo)
	}
	if suggested.Valid {
		json.Unmarshal([]byte(suggested.String), &r.SuggestedEnrichment)
	}
	r.CreatedAt = time.Unix(createdAt, 0)
	if answeredAt.Valid {
		t := time.Unix(answeredAt.Int64, 0)
		r.AnsweredAt = &t
	}

	rows, err := c.db.QueryContext(ctx, `SELECT chunk_id FROM query_citations WHERE query_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get query citations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var chunkID string
		if err := rows.Scan(&chunkID); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.ChunkIDs = append(r.ChunkIDs, chunkID)
	}

	return &r, rows.Err()
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
