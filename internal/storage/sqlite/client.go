package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/docqa/backend/pkg/logger"
)

// ErrNotFound is returned when a looked-up row does not exist in the workspace.
var ErrNotFound = errors.New("not found")

type Client struct {
	db *sql.DB
}

// NewClient opens the database at dbPath. Write transactions take the
// database lock up front so concurrent writers queue on the busy timeout
// instead of failing on lock upgrade.
func NewClient(dbPath string, busyTimeoutMS int) (*Client, error) {
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}

	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on&_journal_mode=WAL&_txlock=immediate", dbPath, busyTimeoutMS)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		mime TEXT,
		bytes INTEGER NOT NULL DEFAULT 0,
		storage_uri TEXT,
		content_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		meta TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_workspace ON documents(workspace_id);
	CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(workspace_id, content_hash);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		text TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		page_start INTEGER,
		page_end INTEGER,
		created_at INTEGER NOT NULL,
		UNIQUE (document_id, idx),
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

	CREATE TABLE IF NOT EXISTS queries (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT,
		confidence REAL,
		missing_info TEXT,
		suggested_enrichment TEXT,
		created_at INTEGER NOT NULL,
		answered_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_queries_workspace ON queries(workspace_id);

	CREATE TABLE IF NOT EXISTS query_citations (
		query_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		chunk_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		origin TEXT NOT NULL,
		domain TEXT,
		PRIMARY KEY (query_id, position),
		FOREIGN KEY (query_id) REFERENCES queries(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_citations_chunk ON query_citations(chunk_id);

	CREATE TABLE IF NOT EXISTS feedback (
		id TEXT PRIMARY KEY,
		query_id TEXT NOT NULL,
		rating INTEGER NOT NULL CHECK (rating BETWEEN -1 AND 1),
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (query_id) REFERENCES queries(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_query ON feedback(query_id);

	CREATE TABLE IF NOT EXISTS document_reputation (
		workspace_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		up_count INTEGER NOT NULL DEFAULT 0,
		down_count INTEGER NOT NULL DEFAULT 0,
		score REAL NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (workspace_id, document_id)
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
