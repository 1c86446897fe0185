package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/docqa/backend/internal/search/web"
	"github.com/docqa/backend/internal/storage/models"
)

const (
	DefaultMaxContextChunks = 6
	unknownFilename         = "source"
)

// Citation points an inline [N] marker back to the chunk it came from.
type Citation struct {
	N          int    `json:"n"`
	Filename   string `json:"filename"`
	DocumentID string `json:"document_id"`
	ChunkID    string `json:"chunk_id"`
	PageStart  *int   `json:"page_start"`
	PageEnd    *int   `json:"page_end"`
	Origin     string `json:"origin"`
	Domain     string `json:"domain,omitempty"`
	URL        string `json:"url,omitempty"`
}

type OriginSummary struct {
	Mode       string   `json:"mode"`
	Local      int      `json:"local"`
	Web        int      `json:"web"`
	WebDomains []string `json:"web_domains"`
}

// Top returns the first limit chunks.
func Top(chunks []RankedChunk, limit int) []RankedChunk {
	if limit <= 0 {
		limit = DefaultMaxContextChunks
	}
	if len(chunks) > limit {
		return chunks[:limit]
	}
	return chunks
}

// BuildContext renders the top limit chunks as numbered entries and returns
// the citations in the same order. Several chunks of one document may appear.
func BuildContext(chunks []RankedChunk, docs map[string]*models.Document, limit int) (string, []Citation) {
	selected := Top(chunks, limit)

	blocks := make([]string, 0, len(selected))
	citations := make([]Citation, 0, len(selected))

	for i, rc := range selected {
		ch := rc.Chunk
		n := i + 1

		filename := unknownFilename
		var meta models.DocumentMeta
		if doc, ok := docs[ch.DocumentID]; ok {
			meta = doc.Meta
			if doc.Filename != "" {
				filename = doc.Filename
			}
		}

		pages := ""
		if ch.PageStart != nil && ch.PageEnd != nil {
			pages = fmt.Sprintf(", p.%d-%d", *ch.PageStart, *ch.PageEnd)
		}
		blocks = append(blocks, fmt.Sprintf("[%d] (%s%s)\n%s", n, filename, pages, strings.TrimSpace(ch.Text)))

		citation := Citation{
			N:          n,
			Filename:   filename,
			DocumentID: ch.DocumentID,
			ChunkID:    ch.ID,
			PageStart:  ch.PageStart,
			PageEnd:    ch.PageEnd,
			Origin:     meta.Origin(),
		}
		if citation.Origin == models.OriginWeb {
			citation.URL = meta.URL
			citation.Domain = meta.Domain
			if citation.Domain == "" {
				citation.Domain = web.Domain(meta.URL)
			}
		}
		citations = append(citations, citation)
	}

	return strings.Join(blocks, "\n\n"), citations
}

// SummarizeOrigins counts local and web citations. The mode is enriched as
// soon as one web document is cited.
func SummarizeOrigins(citations []Citation) OriginSummary {
	summary := OriginSummary{Mode: models.OriginLocal, WebDomains: []string{}}
	domains := make(map[string]bool)

	for _, c := range citations {
		switch c.Origin {
		case models.OriginWeb:
			summary.Web++
			if c.Domain != "" && !domains[c.Domain] {
				domains[c.Domain] = true
				summary.WebDomains = append(summary.WebDomains, c.Domain)
			}
		case models.OriginLocal:
			summary.Local++
		}
	}

	sort.Strings(summary.WebDomains)
	if summary.Web > 0 {
		summary.Mode = "enriched"
	}
	return summary
}

func distinctDocuments(citations []Citation) int {
	seen := make(map[string]bool, len(citations))
	for _, c := range citations {
		if c.DocumentID != "" {
			seen[c.DocumentID] = true
		}
	}
	return len(seen)
}
