// Package storage defines the durable persistence contract for memory
// records, with SQLite and Postgres implementations in subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/scrypster/recall/pkg/types"
)

// Common errors returned by storage implementations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// ListQuery narrows ListByOwner. BotID and Categories are optional.
type ListQuery struct {
	OwnerID    string
	BotID      string
	Categories []string
	Limit      int
}

// MemoryStore persists memory records. Implementations must be safe for
// concurrent use.
type MemoryStore interface {
	// Store inserts a record, or replaces the record with the same ID.
	Store(ctx context.Context, rec *types.MemoryRecord) error

	// Get fetches a record by ID, including inactive ones.
	Get(ctx context.Context, id string) (*types.MemoryRecord, error)

	// Update replaces an existing record. ErrNotFound if the ID is unknown.
	Update(ctx context.Context, rec *types.MemoryRecord) error

	// SoftDelete marks a record inactive, reporting whether it was active.
	SoftDelete(ctx context.Context, id string) (bool, error)

	// ListByOwner returns active records for an owner ordered by importance
	// descending, then last accessed descending with never-accessed records
	// last, then created descending.
	ListByOwner(ctx context.Context, q ListQuery) ([]*types.MemoryRecord, error)

	// ListUnembedded returns active records that have no stored embedding.
	ListUnembedded(ctx context.Context, limit int) ([]*types.MemoryRecord, error)

	// StoreEmbedding attaches an embedding vector and its model to a record.
	StoreEmbedding(ctx context.Context, id string, embedding []float64, model string) error

	// TouchAccess increments access_count and sets last_accessed_at for all
	// ids inside a single transaction.
	TouchAccess(ctx context.Context, ids []string, now time.Time) error

	// CountByCategory tallies active records per category for an owner.
	CountByCategory(ctx context.Context, ownerID string) (map[string]int, error)

	// Close releases database resources.
	Close() error
}

// VectorHit pairs a record with its cosine similarity to the query.
type VectorHit struct {
	Record *types.MemoryRecord
	Score  float64
}

// VectorSearcher is an optional MemoryStore capability: similarity search
// executed inside the database. Availability is reported separately because
// it can depend on a server-side extension being installed.
type VectorSearcher interface {
	VectorSearchAvailable() bool

	// VectorSearch returns active records for ownerID ordered by descending
	// similarity to query, dropping scores below minScore.
	VectorSearch(ctx context.Context, ownerID string, query []float64, topK int, minScore float64) ([]VectorHit, error)
}
