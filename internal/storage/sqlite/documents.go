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

const documentColumns = `id, workspace_id, filename, mime, bytes, storage_uri, content_hash, status, meta, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var mime, storageURI, meta sql.NullString
	var status string
	var createdAt, updatedAt int64

	err := row.Scan(
		&doc.ID,
		&doc.WorkspaceID,
		&doc.Filename,
		&mime,
		&doc.Bytes,
		&storageURI,
		&doc.ContentHash,
		&status,
		&meta,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Mime = mime.String
	doc.StorageURI = storageURI.String
	doc.Status = models.DocumentStatus(status)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &doc.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode document meta: %w", err)
		}
	}
	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)

	return &doc, nil
}

func (c *Client) InsertDocument(ctx context.Context, doc *models.Document) error {
	metaJSON, err := json.Marshal(doc.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode document meta: %w", err)
	}

	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = models.StatusUploaded
	}

	query := `INSERT INTO documents (` + documentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = c.db.ExecContext(
		ctx,
		query,
		doc.ID,
		doc.WorkspaceID,
		doc.Filename,
		doc.Mime,
		doc.Bytes,
		doc.StorageURI,
		doc.ContentHash,
		string(doc.Status),
		string(metaJSON),
		doc.CreatedAt.Unix(),
		doc.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted",
		zap.String("doc_id", doc.ID),
		zap.String("workspace", doc.WorkspaceID),
		zap.String("filename", doc.Filename),
	)
	return nil
}

func (c *Client) GetDocument(ctx context.Context, workspaceID, id string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = ? AND workspace_id = ?`

	doc, err := scanDocument(c.db.QueryRowContext(ctx, query, id, workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return doc, nil
}

// FindDocumentByHash returns the oldest document in the workspace with the
// given content hash, or ErrNotFound.
func (c *Client) FindDocumentByHash(ctx context.Context, workspaceID, hash string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE workspace_id = ? AND content_hash = ?
		ORDER BY created_at ASC, id ASC LIMIT 1`

	doc, err := scanDocument(c.db.QueryRowContext(ctx, query, workspaceID, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find document by hash: %w", err)
	}

	return doc, nil
}

// GetDocuments loads documents by id. Unknown ids are absent from the map.
func (c *Client) GetDocuments(ctx context.Context, ids []string) (map[string]*models.Document, error) {
	ids = uniqueStrings(ids)
	docs := make(map[string]*models.Document, len(ids))
	if len(ids) == 0 {
		return docs, nil
	}

	query := `SELECT ` + documentColumns + ` FROM documents WHERE id IN (` + placeholders(len(ids)) + `)`

	rows, err := c.db.QueryContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs[doc.ID] = doc
	}

	return docs, rows.Err()
}

func (c *Client) ListDocuments(ctx context.Context, workspaceID string) ([]models.DocumentSummary, error) {
	query := `
		SELECT d.id, d.workspace_id, d.filename, d.mime, d.bytes, d.storage_uri, d.content_hash,
			d.status, d.meta, d.created_at, d.updated_at, COUNT(c.id)
		FROM documents d
		LEFT JOIN chunks c ON c.document_id = d.id
		WHERE d.workspace_id = ?
		GROUP BY d.id
		ORDER BY d.created_at DESC, d.id ASC
	`

	rows, err := c.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var summaries []models.DocumentSummary
	for rows.Next() {
		var s models.DocumentSummary
		var mime, storageURI, meta sql.NullString
		var status string
		var createdAt, updatedAt int64

		err := rows.Scan(
			&s.ID, &s.WorkspaceID, &s.Filename, &mime, &s.Bytes, &storageURI, &s.ContentHash,
			&status, &meta, &createdAt, &updatedAt, &s.ChunkCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		s.Mime = mime.String
		s.StorageURI = storageURI.String
		s.Status = models.DocumentStatus(status)
		if meta.Valid && meta.String != "" {
			json.Unmarshal([]byte(meta.String), &s.Meta)
		}
		s.CreatedAt = time.Unix(createdAt, 0)
		s.UpdatedAt = time.Unix(updatedAt, 0)

		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}

// ListDocumentsByStatus returns the workspace's documents in one of the
// given states, oldest first.
func (c *Client) ListDocumentsByStatus(ctx context.Context, workspaceID string, statuses ...models.DocumentStatus) ([]*models.Document, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	args := []interface{}{workspaceID}
	for _, s := range statuses {
		args = append(args, string(s))
	}

	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE workspace_id = ? AND status IN (` + placeholders(len(statuses)) + `)
		ORDER BY created_at ASC, id ASC`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents by status: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

func (c *Client) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteDocument removes the document and, through the foreign key, its chunks.
func (c *Client) DeleteDocument(ctx context.Context, workspaceID, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ? AND workspace_id = ?`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	logger.Info("Document deleted", zap.String("doc_id", id), zap.String("workspace", workspaceID))
	return nil
}

// ReplaceChunks swaps the document's chunk set in one transaction.
func (c *Client) ReplaceChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, idx, text, token_count, content_hash, page_start, page_end, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i := range chunks {
		ch := &chunks[i]
		ch.DocumentID = documentID
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = now
		}

		_, err := stmt.ExecContext(ctx,
			ch.ID, documentID, ch.Index, ch.Text, ch.TokenCount, ch.ContentHash,
			nullableInt(ch.PageStart), nullableInt(ch.PageEnd), ch.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}

	return nil
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

const chunkColumns = `id, document_id, idx, text, token_count, content_hash, page_start, page_end, created_at`

func scanChunk(row rowScanner) (*models.Chunk, error) {
	var ch models.Chunk
	var pageStart, pageEnd sql.NullInt64
	var createdAt int64

	err := row.Scan(&ch.ID, &ch.DocumentID, &ch.Index, &ch.Text, &ch.TokenCount, &ch.ContentHash, &pageStart, &pageEnd, &createdAt)
	if err != nil {
		return nil, err
	}

	if pageStart.Valid {
		v := int(pageStart.Int64)
		ch.PageStart = &v
	}
	if pageEnd.Valid {
		v := int(pageEnd.Int64)
		ch.PageEnd = &v
	}
	ch.CreatedAt = time.Unix(createdAt, 0)

	return &ch, nil
}

// GetChunks resolves chunk ids. Ids without a row are absent from the map.
func (c *Client) GetChunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error) {
	ids = uniqueStrings(ids)
	chunks := make(map[string]*models.Chunk, len(ids))
	if len(ids) == 0 {
		return chunks, nil
	}

	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE id IN (` + placeholders(len(ids)) + `)`

	rows, err := c.db.QueryContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		chunks[ch.ID] = ch
	}

	return chunks, rows.Err()
}

func (c *Client) ListChunks(ctx context.Context, documentID string) ([]models.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE document_id = ? ORDER BY idx ASC`

	rows, err := c.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		chunks = append(chunks, *ch)
	}

	return chunks, rows.Err()
}
