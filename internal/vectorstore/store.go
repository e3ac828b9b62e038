// Package vectorstore defines the vector index contract used for semantic
// memory retrieval, with an in-memory reference implementation and an
// embedded chromem-go backend.
package vectorstore

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrNotFound is returned when a document ID is unknown to the store.
var ErrNotFound = errors.New("vectorstore: document not found")

// Document is one indexed item. Metadata values are flat strings so filters
// stay exact-match and portable across backends.
type Document struct {
	ID        string
	Content   string
	Embedding []float64
	Metadata  map[string]string
	Source    string
	CreatedAt time.Time
}

// Result is a scored search hit. Rank is zero-based within the result set.
type Result struct {
	Document Document
	Score    float64
	Rank     int
}

// Store indexes documents for similarity search. Implementations must be
// safe for concurrent use.
type Store interface {
	// Add indexes a single document. An existing ID is overwritten.
	Add(ctx context.Context, doc Document) error
	// AddBatch indexes documents and reports how many were stored.
	AddBatch(ctx context.Context, docs []Document) (int, error)
	// Search returns up to topK documents ordered by descending cosine
	// similarity to query. filter keeps only documents whose metadata
	// matches every given key/value exactly. Hits scoring below minScore
	// are dropped.
	Search(ctx context.Context, query []float64, topK int, filter map[string]string, minScore float64) ([]Result, error)
	// Get fetches a document by ID.
	Get(ctx context.Context, id string) (Document, error)
	// Update replaces the document with the same ID.
	Update(ctx context.Context, doc Document) error
	// Delete removes a document, reporting whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// Len reports the number of indexed documents.
	Len() int
}

// CosineSimilarity computes the cosine of the angle between a and b.
// Mismatched lengths or a zero-norm vector yield 0.0 rather than an error,
// so a degenerate embedding ranks last instead of failing a search.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
