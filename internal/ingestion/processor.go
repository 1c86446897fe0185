package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/internal/storage/sqlite"
	"github.com/docqa/backend/internal/vector"
	"github.com/docqa/backend/pkg/logger"
	"github.com/docqa/backend/pkg/utils"
)

var (
	ErrEmptyContent     = errors.New("document has no text content")
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidMode      = errors.New("invalid upload mode")
	ErrNoSelection      = errors.New("provide document ids or set all_pending")
)

// Upload modes.
const (
	ModeDedupe  = "dedupe"
	ModeVersion = "version"
	ModeReindex = "reindex"
)

// Per-item outcome statuses.
const (
	StatusProcessed        = "processed"
	StatusDuplicate        = "duplicate"
	StatusReindexed        = "reindexed"
	StatusFailed           = "failed"
	StatusNoChunks         = "no_chunks"
	StatusSkippedProcessed = "skipped_already_processed"
)

type Store interface {
	InsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, workspaceID, id string) (*models.Document, error)
	GetDocuments(ctx context.Context, ids []string) (map[string]*models.Document, error)
	FindDocumentByHash(ctx context.Context, workspaceID, hash string) (*models.Document, error)
	ListDocumentsByStatus(ctx context.Context, workspaceID string, statuses ...models.DocumentStatus) ([]*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error
	DeleteDocument(ctx context.Context, workspaceID, id string) error
	ReplaceChunks(ctx context.Context, documentID string, chunks []models.Chunk) error
	ListChunks(ctx context.Context, documentID string) ([]models.Chunk, error)
}

type Processor struct {
	db           Store
	vectorizer   *Vectorizer
	index        vector.Index
	chunkSize    int
	chunkOverlap int
}

func NewProcessor(db Store, vectorizer *Vectorizer, index vector.Index, chunkSize, chunkOverlap int) *Processor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkTokens
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultOverlapTokens
	}
	return &Processor{
		db:           db,
		vectorizer:   vectorizer,
		index:        index,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

type IngestRequest struct {
	Workspace  string
	Filename   string
	Mime       string
	Content    string
	StorageURI string
	Meta       models.DocumentMeta
	Mode       string
}

type IngestResult struct {
	Document    *models.Document
	Status      string
	Chunks      int
	Vectors     int
	DuplicateOf string
	Created     bool
	Error       string
}

// IngestText stores, chunks and vectorizes a text document. Identical
// content in the same workspace is deduplicated unless the mode is version.
// Failures after the document row exists mark it failed and are returned
// alongside a result describing them.
func (p *Processor) IngestText(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeDedupe
	}
	if mode != ModeDedupe && mode != ModeVersion && mode != ModeReindex {
		return nil, ErrInvalidMode
	}

	text := req.Content
	if strings.Contains(strings.ToLower(req.Mime), "html") {
		text = cleanHTML(text)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}

	hash := utils.HashString(text)

	if mode != ModeVersion {
		existing, err := p.db.FindDocumentByHash(ctx, req.Workspace, hash)
		if err != nil && !errors.Is(err, sqlite.ErrNotFound) {
			return nil, err
		}
		if existing != nil {
			if mode == ModeReindex {
				outcome := p.reindex(ctx, existing, ReindexOptions{Force: true})
				return &IngestResult{
					Document:    existing,
					Status:      reindexStatus(outcome.Status),
					Chunks:      outcome.Chunks,
					Vectors:     outcome.Vectors,
					DuplicateOf: existing.ID,
					Error:       outcome.Error,
				}, nil
			}

			chunks, err := p.db.ListChunks(ctx, existing.ID)
			if err != nil {
				return nil, err
			}
			logger.Info("Duplicate document skipped", zap.String("doc_id", existing.ID), zap.String("workspace", req.Workspace))
			return &IngestResult{
				Document:    existing,
				Status:      StatusDuplicate,
				Chunks:      len(chunks),
				DuplicateOf: existing.ID,
			}, nil
		}
	}

	mime := req.Mime
	if mime == "" {
		mime = "text/plain"
	}

	doc := &models.Document{
		ID:          uuid.NewString(),
		WorkspaceID: req.Workspace,
		Filename:    req.Filename,
		Mime:        mime,
		Bytes:       int64(len(req.Content)),
		StorageURI:  req.StorageURI,
		ContentHash: hash,
		Status:      models.StatusUploaded,
		Meta:        req.Meta,
	}
	if doc.Filename == "" {
		doc.Filename = "untitled.txt"
	}
	if doc.Meta.Source == "" {
		doc.Meta.Source = models.OriginLocal
	}

	if err := p.db.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	result := &IngestResult{Document: doc, Created: true}

	pieces, err := ChunkText(text, p.chunkSize, p.chunkOverlap)
	if err != nil {
		return p.fail(ctx, result, err)
	}
	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.Chunk{
			ID:          uuid.NewString(),
			DocumentID:  doc.ID,
			Index:       i,
			Text:        piece.Text,
			TokenCount:  piece.TokenCount,
			ContentHash: piece.Hash,
		}
	}
	result.Chunks = len(chunks)

	if err := p.db.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return p.fail(ctx, result, err)
	}

	written, err := p.vectorizer.Vectorize(ctx, req.Workspace, doc, chunks)
	if err != nil {
		return p.fail(ctx, result, err)
	}
	result.Vectors = written

	if err := p.db.UpdateDocumentStatus(ctx, doc.ID, models.StatusProcessed); err != nil {
		return p.fail(ctx, result, err)
	}
	doc.Status = models.StatusProcessed
	result.Status = StatusProcessed
	metrics.DocumentsProcessed.WithLabelValues(StatusProcessed).Inc()

	logger.Info("Document processed successfully",
		zap.String("doc_id", doc.ID),
		zap.String("workspace", req.Workspace),
		zap.Int("chunks", len(chunks)),
	)

	return result, nil
}

func (p *Processor) fail(ctx context.Context, result *IngestResult, cause error) (*IngestResult, error) {
	doc := result.Document
	if err := p.db.UpdateDocumentStatus(context.WithoutCancel(ctx), doc.ID, models.StatusFailed); err != nil {
		logger.Error("Failed to mark document failed", zap.String("doc_id", doc.ID), zap.Error(err))
	}
	doc.Status = models.StatusFailed
	result.Status = StatusFailed
	result.Error = cause.Error()
	metrics.DocumentsProcessed.WithLabelValues(StatusFailed).Inc()

	logger.Warn("Document ingestion failed", zap.String("doc_id", doc.ID), zap.Error(cause))
	return result, fmt.Errorf("failed to ingest document %s: %w", doc.ID, cause)
}

func reindexStatus(status string) string {
	if status == StatusProcessed {
		return StatusReindexed
	}
	return status
}

type ReindexOptions struct {
	ClearFirst bool
	Force      bool
}

type ReindexRequest struct {
	DocumentIDs []string
	AllPending  bool
	ReindexOptions
}

type ReindexOutcome struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Chunks   int    `json:"chunks,omitempty"`
	Vectors  int    `json:"vectors,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ReindexReport struct {
	Updated int              `json:"updated"`
	Results []ReindexOutcome `json:"results"`
}

// ReindexDocument re-embeds the stored chunks of one document.
func (p *Processor) ReindexDocument(ctx context.Context, workspaceID, id string, opts ReindexOptions) (*ReindexOutcome, error) {
	doc, err := p.db.GetDocument(ctx, workspaceID, id)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}

	outcome := p.reindex(ctx, doc, opts)
	return &outcome, nil
}

// Reindex re-embeds the selected documents, or every uploaded or failed
// document when AllPending is set. Each document is handled independently.
func (p *Processor) Reindex(ctx context.Context, workspaceID string, req ReindexRequest) (*ReindexReport, error) {
	var docs []*models.Document

	switch {
	case len(req.DocumentIDs) > 0:
		found, err := p.db.GetDocuments(ctx, req.DocumentIDs)
		if err != nil {
			return nil, err
		}
		for _, id := range req.DocumentIDs {
			if doc, ok := found[id]; ok && doc.WorkspaceID == workspaceID {
				docs = append(docs, doc)
			}
		}
	case req.AllPending:
		pending, err := p.db.ListDocumentsByStatus(ctx, workspaceID, models.StatusUploaded, models.StatusFailed)
		if err != nil {
			return nil, err
		}
		docs = pending
	default:
		return nil, ErrNoSelection
	}

	report := &ReindexReport{Results: make([]ReindexOutcome, 0, len(docs))}
	for _, doc := range docs {
		outcome := p.reindex(ctx, doc, req.ReindexOptions)
		if outcome.Status == StatusProcessed {
			report.Updated++
		}
		report.Results = append(report.Results, outcome)
	}

	logger.Info("Reindex completed",
		zap.String("workspace", workspaceID),
		zap.Int("documents", len(docs)),
		zap.Int("updated", report.Updated),
	)

	return report, nil
}

func (p *Processor) reindex(ctx context.Context, doc *models.Document, opts ReindexOptions) ReindexOutcome {
	outcome := ReindexOutcome{ID: doc.ID, Filename: doc.Filename}

	failed := func(err error) ReindexOutcome {
		if uerr := p.db.UpdateDocumentStatus(context.WithoutCancel(ctx), doc.ID, models.StatusFailed); uerr != nil {
			logger.Error("Failed to mark document failed", zap.String("doc_id", doc.ID), zap.Error(uerr))
		}
		doc.Status = models.StatusFailed
		outcome.Status = StatusFailed
		outcome.Error = err.Error()
		logger.Warn("Reindex failed", zap.String("doc_id", doc.ID), zap.Error(err))
		return outcome
	}

	if opts.ClearFirst {
		if err := p.index.Delete(ctx, doc.WorkspaceID, vector.Filter{DocumentID: doc.ID}); err != nil {
			return failed(err)
		}
	}

	chunks, err := p.db.ListChunks(ctx, doc.ID)
	if err != nil {
		return failed(err)
	}
	if len(chunks) == 0 {
		outcome.Status = StatusNoChunks
		return outcome
	}

	if !opts.Force && doc.Status == models.StatusProcessed {
		outcome.Status = StatusSkippedProcessed
		return outcome
	}

	written, err := p.vectorizer.Vectorize(ctx, doc.WorkspaceID, doc, chunks)
	if err != nil {
		return failed(err)
	}

	if err := p.db.UpdateDocumentStatus(ctx, doc.ID, models.StatusProcessed); err != nil {
		return failed(err)
	}
	doc.Status = models.StatusProcessed

	outcome.Status = StatusProcessed
	outcome.Chunks = len(chunks)
	outcome.Vectors = written
	return outcome
}

// DeleteDocument removes a document with its chunks, and its vectors when
// clearVectors is set.
func (p *Processor) DeleteDocument(ctx context.Context, workspaceID, id string, clearVectors bool) error {
	if _, err := p.db.GetDocument(ctx, workspaceID, id); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}

	if clearVectors {
		if err := p.index.Delete(ctx, workspaceID, vector.Filter{DocumentID: id}); err != nil {
			return fmt.Errorf("failed to clear vectors: %w", err)
		}
	}

	if err := p.db.DeleteDocument(ctx, workspaceID, id); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}
	return nil
}

func cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	return utils.NormalizeWhitespace(doc.Find("body").Text())
}
