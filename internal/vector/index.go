// Package vector defines the similarity index the retriever and vectorizer
// share. Namespaces partition the index per workspace.
package vector

import (
	"context"
	"fmt"
	"strings"
)

const (
	MetaWorkspaceID = "workspace_id"
	MetaDocumentID  = "document_id"
	MetaChunkID     = "chunk_id"
	MetaIndex       = "idx"
	MetaFilename    = "filename"
)

// UpsertPageSize bounds the records sent in one upsert call.
const UpsertPageSize = 100

type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

type Match struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Filter selects records for deletion. Empty fields match everything in
// the namespace.
type Filter struct {
	DocumentID string
}

type Index interface {
	EnsureCollection(ctx context.Context, dim int) error
	Upsert(ctx context.Context, namespace string, records []Record) error
	// Query returns at most topK matches, highest similarity first.
	Query(ctx context.Context, namespace string, vec []float32, topK int) ([]Match, error)
	Delete(ctx context.Context, namespace string, filter Filter) error
}

// RecordID is the stable id of a chunk's vector.
func RecordID(workspaceID, documentID, chunkID string) string {
	return strings.Join([]string{workspaceID, documentID, chunkID}, ":")
}

// ChunkMetadata builds the metadata every chunk vector carries.
func ChunkMetadata(workspaceID, documentID, chunkID string, idx int, filename string) map[string]string {
	return map[string]string{
		MetaWorkspaceID: workspaceID,
		MetaDocumentID:  documentID,
		MetaChunkID:     chunkID,
		MetaIndex:       fmt.Sprintf("%d", idx),
		MetaFilename:    filename,
	}
}

// Pages splits records into slices of at most size records.
func Pages(records []Record, size int) [][]Record {
	if size <= 0 {
		size = UpsertPageSize
	}
	var pages [][]Record
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		pages = append(pages, records[start:end])
	}
	return pages
}
