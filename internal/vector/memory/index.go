// Package memory is an in-process cosine index for single-node setups and tests.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/docqa/backend/internal/vector"
)

type entry struct {
	record vector.Record
	seq    int
}

type Index struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]entry
	seq        int
}

func New() *Index {
	return &Index{namespaces: make(map[string]map[string]entry)}
}

func (m *Index) EnsureCollection(ctx context.Context, dim int) error {
	return nil
}

func (m *Index) Upsert(ctx context.Context, namespace string, records []vector.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]entry)
		m.namespaces[namespace] = ns
	}

	for _, r := range records {
		meta := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)

		seq := m.seq
		if existing, ok := ns[r.ID]; ok {
			seq = existing.seq
		} else {
			m.seq++
		}
		ns[r.ID] = entry{record: vector.Record{ID: r.ID, Vector: vec, Metadata: meta}, seq: seq}
	}

	return nil
}

func (m *Index) Query(ctx context.Context, namespace string, vec []float32, topK int) ([]vector.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns := m.namespaces[namespace]

	type scored struct {
		match vector.Match
		seq   int
	}
	results := make([]scored, 0, len(ns))
	for _, e := range ns {
		results = append(results, scored{
			match: vector.Match{ID: e.record.ID, Score: cosine(vec, e.record.Vector), Metadata: e.record.Metadata},
			seq:   e.seq,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].match.Score != results[j].match.Score {
			return results[i].match.Score > results[j].match.Score
		}
		return results[i].seq < results[j].seq
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	matches := make([]vector.Match, len(results))
	for i, r := range results {
		matches[i] = r.match
	}
	return matches, nil
}

func (m *Index) Delete(ctx context.Context, namespace string, filter vector.Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns := m.namespaces[namespace]
	for id, e := range ns {
		if filter.DocumentID == "" || e.record.Metadata[vector.MetaDocumentID] == filter.DocumentID {
			delete(ns, id)
		}
	}
	return nil
}

// Len returns the number of records in the namespace.
func (m *Index) Len(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.namespaces[namespace])
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
