package models

import "time"

type DocumentStatus string

const (
	StatusUploaded  DocumentStatus = "uploaded"
	StatusProcessed DocumentStatus = "processed"
	StatusFailed    DocumentStatus = "failed"
)

const (
	OriginLocal = "local"
	OriginWeb   = "web"
)

// DocumentMeta is provenance attached to a document. Web documents carry
// the page url and its domain.
type DocumentMeta struct {
	Source   string `json:"source,omitempty"`
	Provider string `json:"provider,omitempty"`
	URL      string `json:"url,omitempty"`
	Domain   string `json:"domain,omitempty"`
}

// Origin is local unless the document was fetched from the web.
func (m DocumentMeta) Origin() string {
	if m.Source == OriginWeb {
		return OriginWeb
	}
	return OriginLocal
}

type Document struct {
	ID          string
	WorkspaceID string
	Filename    string
	Mime        string
	Bytes       int64
	StorageURI  string
	ContentHash string
	Status      DocumentStatus
	Meta        DocumentMeta
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Chunk struct {
	ID          string
	DocumentID  string
	Index       int
	Text        string
	TokenCount  int
	ContentHash string
	PageStart   *int
	PageEnd     *int
	CreatedAt   time.Time
}

type QueryRecord struct {
	ID                  string
	WorkspaceID         string
	Question            string
	Answer              string
	Confidence          float64
	MissingInfo         []string
	SuggestedEnrichment []string
	ChunkIDs            []string
	CreatedAt           time.Time
	AnsweredAt          *time.Time
}

// QueryCitation is one cited chunk of a completed query, in rendered order.
type QueryCitation struct {
	QueryID    string
	Position   int
	ChunkID    string
	DocumentID string
	Origin     string
	Domain     string
}

type Feedback struct {
	ID        string
	QueryID   string
	Rating    int
	Comment   string
	CreatedAt time.Time
}

type DocumentReputation struct {
	WorkspaceID string
	DocumentID  string
	UpCount     int
	DownCount   int
	Score       float64
	UpdatedAt   time.Time
}

// DocumentSummary is a listing row with the number of stored chunks.
type DocumentSummary struct {
	Document
	ChunkCount int
}
