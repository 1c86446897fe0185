// Package enrichment pulls web pages into a workspace when an answer is too
// weak, so the question can be answered a second time.
package enrichment

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/answer"
	"github.com/docqa/backend/internal/ingestion"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/search/web"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/pkg/logger"
)

const (
	DefaultMinConfidence = 0.2
	DefaultMaxDocs       = 3
	DefaultMaxPerTopic   = 1
	DefaultMaxResults    = 3
	DefaultMinPageChars  = 500
	DefaultFetchTimeout  = 10 * time.Second
)

// Per-page outcome statuses.
const (
	StatusAdded       = "added"
	StatusDuplicate   = "duplicate"
	StatusTooShort    = "too_short"
	StatusFetchFailed = "fetch_failed"
	StatusFailed      = "failed"
)

type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]web.SearchResult, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*web.Page, error)
}

type Ingester interface {
	IngestText(ctx context.Context, req ingestion.IngestRequest) (*ingestion.IngestResult, error)
}

type Config struct {
	Enabled       bool
	MinConfidence float64
	MaxDocs       int
	MaxPerTopic   int
	MaxResults    int
	MinPageChars  int
	FetchTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinConfidence <= 0 {
		c.MinConfidence = DefaultMinConfidence
	}
	if c.MaxDocs <= 0 {
		c.MaxDocs = DefaultMaxDocs
	}
	if c.MaxPerTopic <= 0 {
		c.MaxPerTopic = DefaultMaxPerTopic
	}
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.MinPageChars <= 0 {
		c.MinPageChars = DefaultMinPageChars
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	return c
}

// Signals describe the first answer of a question.
type Signals struct {
	Level        answer.Level
	AvgScore     float64
	DistinctDocs int
	MissingInfo  int
}

type Outcome struct {
	Topic      string `json:"topic"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Status     string `json:"status"`
	DocumentID string `json:"document_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

type Report struct {
	Topics []string `json:"topics"`
	// Added lists the ids of documents created by this run.
	Added    []string  `json:"added"`
	Outcomes []Outcome `json:"outcomes"`
}

type Orchestrator struct {
	cfg      Config
	searcher Searcher
	fetcher  Fetcher
	ingester Ingester
}

func NewOrchestrator(cfg Config, searcher Searcher, fetcher Fetcher, ingester Ingester) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		searcher: searcher,
		fetcher:  fetcher,
		ingester: ingester,
	}
}

// ShouldEnrich requires the caller's opt-in and the global switch, then any
// sign of a weak answer.
func (o *Orchestrator) ShouldEnrich(optIn bool, s Signals) bool {
	if !optIn || !o.cfg.Enabled {
		return false
	}
	return s.Level == answer.LevelLow ||
		s.AvgScore < o.cfg.MinConfidence ||
		s.DistinctDocs < 1 ||
		s.MissingInfo > 0
}

// Enrich searches the web for each topic, or for the question when there are
// none, and ingests pages that carry enough text. Search, fetch and ingest
// failures are recorded per item and never abort the run.
func (o *Orchestrator) Enrich(ctx context.Context, workspaceID, question string, topics []string) *Report {
	topics = uniqueTopics(topics)
	if len(topics) == 0 {
		topics = []string{question}
	}

	metrics.EnrichmentTriggered.Inc()
	report := &Report{Topics: topics, Added: []string{}, Outcomes: []Outcome{}}
	seen := make(map[string]bool)

	for _, topic := range topics {
		if len(report.Added) >= o.cfg.MaxDocs {
			break
		}

		results, err := o.searcher.Search(ctx, topic, o.cfg.MaxResults)
		if err != nil {
			logger.Warn("Web search failed", zap.String("topic", topic), zap.Error(err))
			continue
		}

		perTopic := 0
		for _, hit := range results {
			if perTopic >= o.cfg.MaxPerTopic || len(report.Added) >= o.cfg.MaxDocs {
				break
			}
			if hit.URL == "" || seen[hit.URL] {
				continue
			}
			seen[hit.URL] = true

			outcome := o.acquire(ctx, workspaceID, topic, hit)
			report.Outcomes = append(report.Outcomes, outcome)
			metrics.EnrichmentDocuments.WithLabelValues(outcome.Status).Inc()

			switch outcome.Status {
			case StatusAdded:
				report.Added = append(report.Added, outcome.DocumentID)
				perTopic++
			case StatusDuplicate:
				perTopic++
			}
		}
	}

	logger.Info("Enrichment finished",
		zap.String("workspace", workspaceID),
		zap.Int("topics", len(topics)),
		zap.Int("added", len(report.Added)),
		zap.Int("considered", len(report.Outcomes)),
	)

	return report
}

func (o *Orchestrator) acquire(ctx context.Context, workspaceID, topic string, hit web.SearchResult) Outcome {
	outcome := Outcome{Topic: topic, URL: hit.URL, Title: hit.Title}

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	page, err := o.fetcher.Fetch(fetchCtx, hit.URL)
	cancel()
	if err != nil {
		logger.Debug("Page fetch failed", zap.String("url", hit.URL), zap.Error(err))
		outcome.Status = StatusFetchFailed
		outcome.Error = err.Error()
		return outcome
	}

	text := strings.TrimSpace(page.Text)
	if utf8.RuneCountInString(text) < o.cfg.MinPageChars {
		outcome.Status = StatusTooShort
		return outcome
	}

	filename := hit.Title
	if filename == "" {
		filename = page.Title
	}
	if filename == "" {
		filename = hit.URL
	}

	res, err := o.ingester.IngestText(ctx, ingestion.IngestRequest{
		Workspace:  workspaceID,
		Filename:   filename,
		Mime:       "text/plain",
		Content:    text,
		StorageURI: hit.URL,
		Meta: models.DocumentMeta{
			Source:   models.OriginWeb,
			Provider: "web",
			URL:      hit.URL,
			Domain:   web.Domain(hit.URL),
		},
		Mode: ingestion.ModeDedupe,
	})
	if res != nil && res.Document != nil {
		outcome.DocumentID = res.Document.ID
	}
	if err != nil {
		logger.Warn("Enrichment ingest failed", zap.String("url", hit.URL), zap.Error(err))
		outcome.Status = StatusFailed
		outcome.Error = err.Error()
		return outcome
	}

	if !res.Created {
		outcome.Status = StatusDuplicate
		return outcome
	}
	outcome.Status = StatusAdded
	return outcome
}

func uniqueTopics(topics []string) []string {
	seen := make(map[string]bool, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		out = append(out, t)
	}
	return out
}
