package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/backend/internal/answer"
	"github.com/docqa/backend/internal/ingestion"
	"github.com/docqa/backend/internal/search/web"
	"github.com/docqa/backend/internal/storage/models"
)

type mapSearch struct {
	byTopic map[string][]web.SearchResult
	fail    map[string]bool
}

func (m *mapSearch) Search(_ context.Context, q string, n int) ([]web.SearchResult, error) {
	if m.fail[q] {
		return nil, errors.New("quota exceeded")
	}
	res := m.byTopic[q]
	if len(res) > n {
		res = res[:n]
	}
	return res, nil
}

type pageFetcher struct {
	pages   map[string]string
	fetched []string
}

func (p *pageFetcher) Fetch(_ context.Context, url string) (*web.Page, error) {
	p.fetched = append(p.fetched, url)
	text, ok := p.pages[url]
	if !ok {
		return nil, fmt.Errorf("GET %s: 500", url)
	}
	return &web.Page{URL: url, Title: "page", Text: text}, nil
}

type recordingIngester struct {
	requests []ingestion.IngestRequest
	hashes   map[string]string
	failURL  string
}

func (r *recordingIngester) IngestText(_ context.Context, req ingestion.IngestRequest) (*ingestion.IngestResult, error) {
	r.requests = append(r.requests, req)
	if r.hashes == nil {
		r.hashes = make(map[string]string)
	}

	doc := &models.Document{ID: fmt.Sprintf("doc-%d", len(r.requests)), Meta: req.Meta}
	if req.StorageURI == r.failURL {
		return &ingestion.IngestResult{Document: doc, Status: ingestion.StatusFailed}, errors.New("embedding failed")
	}
	if existing, ok := r.hashes[req.Content]; ok {
		return &ingestion.IngestResult{Document: &models.Document{ID: existing}, Status: ingestion.StatusDuplicate}, nil
	}
	r.hashes[req.Content] = doc.ID
	return &ingestion.IngestResult{Document: doc, Status: ingestion.StatusProcessed, Created: true}, nil
}

func longText(seed string) string {
	return strings.Repeat(seed+" ", 600/len(seed)+1)
}

func hits(urls ...string) []web.SearchResult {
	out := make([]web.SearchResult, len(urls))
	for i, u := range urls {
		out[i] = web.SearchResult{Title: "title " + u, URL: u}
	}
	return out
}

func TestShouldEnrich(t *testing.T) {
	o := NewOrchestrator(Config{Enabled: true}, nil, nil, nil)
	strong := Signals{Level: answer.LevelHigh, AvgScore: 0.5, DistinctDocs: 2}

	assert.False(t, o.ShouldEnrich(true, strong))
	assert.False(t, o.ShouldEnrich(false, Signals{Level: answer.LevelLow}))

	weak := strong
	weak.Level = answer.LevelLow
	assert.True(t, o.ShouldEnrich(true, weak))

	lowScore := strong
	lowScore.AvgScore = 0.19
	assert.True(t, o.ShouldEnrich(true, lowScore))

	noDocs := strong
	noDocs.DistinctDocs = 0
	assert.True(t, o.ShouldEnrich(true, noDocs))

	gaps := strong
	gaps.MissingInfo = 1
	assert.True(t, o.ShouldEnrich(true, gaps))

	disabled := NewOrchestrator(Config{Enabled: false}, nil, nil, nil)
	assert.False(t, disabled.ShouldEnrich(true, weak))
}

func TestEnrichHonoursBudgets(t *testing.T) {
	search := &mapSearch{byTopic: map[string][]web.SearchResult{
		"t1": hits("https://a.com/1", "https://a.com/2"),
		"t2": hits("https://b.com/1"),
		"t3": hits("https://c.com/1"),
	}}
	fetcher := &pageFetcher{pages: map[string]string{
		"https://a.com/1": longText("alpha"),
		"https://a.com/2": longText("beta"),
		"https://b.com/1": longText("gamma"),
		"https://c.com/1": longText("delta"),
	}}
	ingester := &recordingIngester{}

	o := NewOrchestrator(Config{Enabled: true, MaxDocs: 2}, search, fetcher, ingester)
	report := o.Enrich(context.Background(), "ws", "question", []string{"t1", " t1 ", "t2", "t3"})

	assert.Equal(t, []string{"t1", "t2", "t3"}, report.Topics)
	assert.Equal(t, []string{"doc-1", "doc-2"}, report.Added)
	// one per topic, and the total budget stops before t3
	assert.Equal(t, []string{"https://a.com/1", "https://b.com/1"}, fetcher.fetched)

	req := ingester.requests[0]
	assert.Equal(t, "ws", req.Workspace)
	assert.Equal(t, "title https://a.com/1", req.Filename)
	assert.Equal(t, "https://a.com/1", req.StorageURI)
	assert.Equal(t, models.DocumentMeta{Source: "web", Provider: "web", URL: "https://a.com/1", Domain: "a.com"}, req.Meta)
}

func TestEnrichFallsBackToQuestionAndSkipsFailures(t *testing.T) {
	search := &mapSearch{byTopic: map[string][]web.SearchResult{
		"why?": hits("https://down.com", "https://tiny.com", "https://broken.com", "https://ok.com"),
	}}
	fetcher := &pageFetcher{pages: map[string]string{
		"https://tiny.com":   "short",
		"https://broken.com": longText("broken"),
		"https://ok.com":     longText("fine"),
	}}
	ingester := &recordingIngester{failURL: "https://broken.com"}

	o := NewOrchestrator(Config{Enabled: true, MaxResults: 4}, search, fetcher, ingester)
	report := o.Enrich(context.Background(), "ws", "why?", nil)

	assert.Equal(t, []string{"why?"}, report.Topics)
	require.Len(t, report.Outcomes, 4)
	assert.Equal(t, StatusFetchFailed, report.Outcomes[0].Status)
	assert.Equal(t, StatusTooShort, report.Outcomes[1].Status)
	assert.Equal(t, StatusFailed, report.Outcomes[2].Status)
	assert.Equal(t, "doc-1", report.Outcomes[2].DocumentID)
	assert.Equal(t, StatusAdded, report.Outcomes[3].Status)
	assert.Len(t, report.Added, 1)
}

func TestEnrichDuplicateIsNotAdded(t *testing.T) {
	text := longText("same")
	search := &mapSearch{byTopic: map[string][]web.SearchResult{
		"one": hits("https://x.com/a"),
		"two": hits("https://x.com/b"),
	}}
	fetcher := &pageFetcher{pages: map[string]string{"https://x.com/a": text, "https://x.com/b": text}}

	o := NewOrchestrator(Config{Enabled: true}, search, fetcher, &recordingIngester{})
	report := o.Enrich(context.Background(), "ws", "q", []string{"one", "two"})

	assert.Len(t, report.Added, 1)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, StatusDuplicate, report.Outcomes[1].Status)
	assert.Equal(t, report.Added[0], report.Outcomes[1].DocumentID)
}

func TestEnrichSearchFailureCountsAsNoResults(t *testing.T) {
	search := &mapSearch{
		byTopic: map[string][]web.SearchResult{"second": hits("https://y.com")},
		fail:    map[string]bool{"first": true},
	}
	fetcher := &pageFetcher{pages: map[string]string{"https://y.com": longText("why")}}

	o := NewOrchestrator(Config{Enabled: true}, search, fetcher, &recordingIngester{})
	report := o.Enrich(context.Background(), "ws", "q", []string{"first", "second"})

	assert.Len(t, report.Added, 1)
}
