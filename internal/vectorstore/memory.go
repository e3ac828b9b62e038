package vectorstore

import (
	"context"
	"sort"
	"sync"
)

// entry wraps a document with its insertion sequence number. The sequence
// breaks score ties so repeated searches over the same data return the same
// order.
type entry struct {
	doc Document
	seq uint64
}

// MemoryStore is the in-memory reference implementation of Store. Searches
// are a linear cosine scan over all documents, which is fine for the corpus
// sizes a single conversation owner accumulates.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string]*entry
	ordered []*entry // rebuilt lazily, insertion order
	stale   bool
	nextSeq uint64
}

// NewMemoryStore returns an empty index.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*entry)}
}

func (m *MemoryStore) Add(ctx context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(doc)
	return nil
}

func (m *MemoryStore) AddBatch(ctx context.Context, docs []Document) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range docs {
		m.addLocked(doc)
	}
	return len(docs), nil
}

func (m *MemoryStore) addLocked(doc Document) {
	if old, ok := m.docs[doc.ID]; ok {
		old.doc = doc
	} else {
		m.docs[doc.ID] = &entry{doc: doc, seq: m.nextSeq}
		m.nextSeq++
	}
	m.stale = true
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return e.doc, nil
}

func (m *MemoryStore) Update(ctx context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.docs[doc.ID]
	if !ok {
		return ErrNotFound
	}
	e.doc = doc
	m.stale = true
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return false, nil
	}
	delete(m.docs, id)
	m.stale = true
	return true, nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

func (m *MemoryStore) Search(ctx context.Context, query []float64, topK int, filter map[string]string, minScore float64) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stale {
		m.rebuildLocked()
	}

	type scored struct {
		e     *entry
		score float64
	}
	var hits []scored
	for _, e := range m.ordered {
		if !matchesFilter(e.doc.Metadata, filter) {
			continue
		}
		score := CosineSimilarity(query, e.doc.Embedding)
		if score < minScore {
			continue
		}
		hits = append(hits, scored{e: e, score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].e.seq < hits[j].e.seq
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{Document: h.e.doc, Score: h.score, Rank: i}
	}
	return results, nil
}

// rebuildLocked refreshes the insertion-ordered view after mutations.
func (m *MemoryStore) rebuildLocked() {
	m.ordered = m.ordered[:0]
	for _, e := range m.docs {
		m.ordered = append(m.ordered, e)
	}
	sort.Slice(m.ordered, func(i, j int) bool { return m.ordered[i].seq < m.ordered[j].seq })
	m.stale = false
}

func matchesFilter(meta, filter map[string]string) bool {
	for k, want := range filter {
		if meta[k] != want {
			return false
		}
	}
	return true
}
