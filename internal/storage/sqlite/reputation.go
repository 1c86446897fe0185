package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/docqa/backend/internal/storage/models"
)

// mergeReputationSQL adds a count delta and recomputes the smoothed score from
// the post-merge counts within the same statement.
const mergeReputationSQL = `
	INSERT INTO document_reputation (workspace_id, document_id, up_count, down_count, score, updated_at)
	VALUES (?, ?, ?, ?, CAST(? - ? AS REAL) / (? + ? + ?), ?)
	ON CONFLICT(workspace_id, document_id) DO UPDATE SET
		up_count = up_count + excluded.up_count,
		down_count = down_count + excluded.down_count,
		score = CAST((up_count + excluded.up_count) - (down_count + excluded.down_count) AS REAL)
			/ ((up_count + excluded.up_count) + (down_count + excluded.down_count) + ?),
		updated_at = excluded.updated_at
`

// ApplyFeedback appends the feedback row and merges its rating into the
// reputation of every distinct document cited by the query, all in one
// transaction. It returns the ids of the documents whose counts changed.
func (c *Client) ApplyFeedback(ctx context.Context, workspaceID string, fb *models.Feedback, smoothing float64) ([]string, error) {
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT workspace_id FROM queries WHERE id = ?`, fb.QueryID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != workspaceID) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load query: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO feedback (id, query_id, rating, comment, created_at) VALUES (?, ?, ?, ?, ?)`,
		fb.ID, fb.QueryID, fb.Rating, fb.Comment, fb.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store feedback: %w", err)
	}

	up, down := 0, 0
	switch {
	case fb.Rating > 0:
		up = 1
	case fb.Rating < 0:
		down = 1
	}

	var affected []string
	if up+down > 0 {
		affected, err = citedDocuments(ctx, tx, fb.QueryID)
		if err != nil {
			return nil, err
		}

		now := time.Now().Unix()
		for _, docID := range affected {
			_, err := tx.ExecContext(ctx, mergeReputationSQL,
				workspaceID, docID, up, down,
				up, down, up, down, smoothing,
				now, smoothing,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to merge reputation: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit feedback: %w", err)
	}

	return affected, nil
}

// citedDocuments maps the query's cited chunks to their distinct owning
// documents. Chunks that no longer exist are skipped.
func citedDocuments(ctx context.Context, tx *sql.Tx, queryID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT c.document_id
		FROM query_citations qc
		JOIN chunks c ON c.id = qc.chunk_id
		WHERE qc.query_id = ?
		ORDER BY c.document_id
	`, queryID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cited documents: %w", err)
	}
	defer rows.Close()

	var docIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docIDs = append(docIDs, id)
	}

	return docIDs, rows.Err()
}

// ReputationScores returns the score of each listed document that has a
// reputation row.
func (c *Client) ReputationScores(ctx context.Context, workspaceID string, docIDs []string) (map[string]float64, error) {
	docIDs = uniqueStrings(docIDs)
	scores := make(map[string]float64, len(docIDs))
	if len(docIDs) == 0 {
		return scores, nil
	}

	args := append([]interface{}{workspaceID}, stringArgs(docIDs)...)
	query := `SELECT document_id, score FROM document_reputation
		WHERE workspace_id = ? AND document_id IN (` + placeholders(len(docIDs)) + `)`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get reputation scores: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		scores[id] = score
	}

	return scores, rows.Err()
}

func (c *Client) GetReputation(ctx context.Context, workspaceID, documentID string) (*models.DocumentReputation, error) {
	var r models.DocumentReputation
	var updatedAt int64

	err := c.db.QueryRowContext(ctx, `
		SELECT workspace_id, document_id, up_count, down_count, score, updated_at
		FROM document_reputation WHERE workspace_id = ? AND document_id = ?
	`, workspaceID, documentID).Scan(&r.WorkspaceID, &r.DocumentID, &r.UpCount, &r.DownCount, &r.Score, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reputation: %w", err)
	}

	r.UpdatedAt = time.Unix(updatedAt, 0)
	return &r, nil
}

// RebuildReputation recomputes the workspace's reputation rows from the full
// feedback history and returns the number of rows written.
func (c *Client) RebuildReputation(ctx context.Context, workspaceID string, smoothing float64) (int, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_reputation WHERE workspace_id = ?`, workspaceID); err != nil {
		return 0, fmt.Errorf("failed to clear reputation: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO document_reputation (workspace_id, document_id, up_count, down_count, score, updated_at)
		SELECT ?, document_id,
			SUM(CASE WHEN rating > 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN rating < 0 THEN 1 ELSE 0 END),
			0, ?
		FROM (
			SELECT DISTINCT f.id AS feedback_id, c.document_id AS document_id, f.rating AS rating
			FROM feedback f
			JOIN queries q ON q.id = f.query_id
			JOIN query_citations qc ON qc.query_id = f.query_id
			JOIN chunks c ON c.id = qc.chunk_id
			WHERE q.workspace_id = ? AND f.rating != 0
		)
		GROUP BY document_id
	`, workspaceID, time.Now().Unix(), workspaceID)
	if err != nil {
		return 0, fmt.Errorf("failed to rebuild reputation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE document_reputation
		SET score = CAST(up_count - down_count AS REAL) / (up_count + down_count + ?)
		WHERE workspace_id = ?
	`, smoothing, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("failed to rescore reputation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reputation rebuild: %w", err)
	}

	n, _ := res.RowsAffected()
	return int(n), nil
}
