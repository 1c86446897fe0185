package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/answer"
	"github.com/docqa/backend/internal/enrichment"
	"github.com/docqa/backend/internal/llm"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/pkg/logger"
)

var ErrEmptyQuestion = errors.New("question is required")

// Store persists questions and resolves document details for citations.
type Store interface {
	InsertQuery(ctx context.Context, record *models.QueryRecord) error
	CompleteQuery(ctx context.Context, record *models.QueryRecord, citations []models.QueryCitation) error
	GetDocuments(ctx context.Context, ids []string) (map[string]*models.Document, error)
}

// Enricher is the web enrichment step. enrichment.Orchestrator implements it.
type Enricher interface {
	ShouldEnrich(optIn bool, s enrichment.Signals) bool
	Enrich(ctx context.Context, workspaceID, question string, topics []string) *enrichment.Report
}

type Options struct {
	TopK             int
	MaxContextChunks int
}

type Engine struct {
	store       Store
	retriever   *Retriever
	synthesizer *answer.Synthesizer
	enricher    Enricher
	topK        int
	maxContext  int
}

// NewEngine wires the pipeline. A nil enricher disables enrichment.
func NewEngine(store Store, retriever *Retriever, synthesizer *answer.Synthesizer, enricher Enricher, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.MaxContextChunks <= 0 {
		opts.MaxContextChunks = DefaultMaxContextChunks
	}
	return &Engine{
		store:       store,
		retriever:   retriever,
		synthesizer: synthesizer,
		enricher:    enricher,
		topK:        opts.TopK,
		maxContext:  opts.MaxContextChunks,
	}
}

type Request struct {
	Workspace string
	Question  string
	History   []llm.Turn
	Enrich    bool
}

type EnrichmentMeta struct {
	AddedDocs int                  `json:"added_docs"`
	Topics    []string             `json:"topics"`
	Outcomes  []enrichment.Outcome `json:"outcomes"`
}

type Response struct {
	QueryID             string          `json:"query_id"`
	Answer              string          `json:"answer"`
	Confidence          answer.Level    `json:"confidence"`
	MissingInfo         []string        `json:"missing_info"`
	SuggestedEnrichment []string        `json:"suggested_enrichment"`
	Citations           []Citation      `json:"citations"`
	Origin              OriginSummary   `json:"origin"`
	Enrichment          *EnrichmentMeta `json:"enrichment,omitempty"`
}

// pass is one retrieval, context assembly and synthesis round.
type pass struct {
	retrieval *Retrieval
	citations []Citation
	result    answer.Result
}

// Answer resolves one question. The query row is created up front and
// completed exactly once at the end with whichever answer is current, even
// when enrichment ran a second pass.
func (e *Engine) Answer(ctx context.Context, req Request) (*Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		metrics.QueryTotal.WithLabelValues("rejected").Inc()
		return nil, ErrEmptyQuestion
	}

	start := time.Now()

	record := &models.QueryRecord{
		ID:          uuid.NewString(),
		WorkspaceID: req.Workspace,
		Question:    question,
	}
	if err := e.store.InsertQuery(ctx, record); err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	current, err := e.run(ctx, req.Workspace, question, req.History)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		logger.Error("Query resolution failed", zap.String("query_id", record.ID), zap.Error(err))
		return nil, err
	}

	var meta *EnrichmentMeta
	if e.enricher != nil {
		signals := enrichment.Signals{
			Level:        current.result.Confidence,
			AvgScore:     current.retrieval.AvgTopScore,
			DistinctDocs: distinctDocuments(current.citations),
			MissingInfo:  len(current.result.MissingInfo),
		}
		if e.enricher.ShouldEnrich(req.Enrich, signals) {
			current, meta = e.enrichAndRetry(ctx, req, question, current)
		}
	}

	record.Answer = current.result.Answer
	record.Confidence = current.result.Confidence.Score()
	record.MissingInfo = current.result.MissingInfo
	record.SuggestedEnrichment = current.result.SuggestedEnrichment

	cited := make([]models.QueryCitation, len(current.citations))
	for i, c := range current.citations {
		cited[i] = models.QueryCitation{
			QueryID:    record.ID,
			Position:   c.N,
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Origin:     c.Origin,
			Domain:     c.Domain,
		}
	}

	if err := e.store.CompleteQuery(ctx, record, cited); err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to persist answer: %w", err)
	}

	resp := &Response{
		QueryID:             record.ID,
		Answer:              current.result.Answer,
		Confidence:          current.result.Confidence,
		MissingInfo:         current.result.MissingInfo,
		SuggestedEnrichment: current.result.SuggestedEnrichment,
		Citations:           current.citations,
		Origin:              SummarizeOrigins(current.citations),
		Enrichment:          meta,
	}

	metrics.QueryTotal.WithLabelValues("ok").Inc()
	metrics.QueryDuration.WithLabelValues(resp.Origin.Mode).Observe(time.Since(start).Seconds())
	metrics.ConfidenceScore.Observe(record.Confidence)

	logger.Info("Question answered",
		zap.String("query_id", record.ID),
		zap.String("workspace", req.Workspace),
		zap.String("confidence", string(resp.Confidence)),
		zap.Int("citations", len(resp.Citations)),
		zap.String("mode", resp.Origin.Mode),
		zap.Duration("duration", time.Since(start)),
	)

	return resp, nil
}

// enrichAndRetry runs enrichment and, when it added documents, a single
// second pass. The first pass stands when nothing was added or the second
// pass finds nothing.
func (e *Engine) enrichAndRetry(ctx context.Context, req Request, question string, first *pass) (*pass, *EnrichmentMeta) {
	report := e.enricher.Enrich(ctx, req.Workspace, question, first.result.MissingInfo)
	meta := &EnrichmentMeta{
		AddedDocs: len(report.Added),
		Topics:    report.Topics,
		Outcomes:  report.Outcomes,
	}
	if len(report.Added) == 0 {
		return first, meta
	}

	second, err := e.run(ctx, req.Workspace, question, req.History)
	if err != nil {
		logger.Warn("Second pass failed, keeping first answer", zap.Error(err))
		return first, meta
	}
	if len(second.retrieval.Chunks) == 0 {
		return first, meta
	}

	if second.result.Source == answer.SourceExtractive {
		second.result.MissingInfo = first.result.MissingInfo
		second.result.SuggestedEnrichment = first.result.SuggestedEnrichment
	}
	return second, meta
}

func (e *Engine) run(ctx context.Context, workspaceID, question string, history []llm.Turn) (*pass, error) {
	retrieval, err := e.retriever.Retrieve(ctx, question, workspaceID, e.topK)
	if err != nil {
		return nil, err
	}

	selected := Top(retrieval.Chunks, e.maxContext)
	if len(selected) == 0 {
		return &pass{
			retrieval: retrieval,
			citations: []Citation{},
			result:    e.synthesizer.Synthesize(ctx, answer.Input{Question: question}),
		}, nil
	}

	docIDs := make([]string, len(selected))
	texts := make([]string, len(selected))
	for i, rc := range selected {
		docIDs[i] = rc.Chunk.DocumentID
		texts[i] = rc.Chunk.Text
	}

	docs, err := e.store.GetDocuments(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load cited documents: %w", err)
	}

	block, citations := BuildContext(selected, docs, e.maxContext)

	result := e.synthesizer.Synthesize(ctx, answer.Input{
		Question:     question,
		History:      history,
		ContextBlock: block,
		Texts:        texts,
		AvgScore:     retrieval.AvgTopScore,
	})

	return &pass{retrieval: retrieval, citations: citations, result: result}, nil
}
