package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/philippgille/chromem-go"
)

const (
	metaSourceKey  = "_source"
	metaCreatedKey = "_created_at"
)

// ChromemStore implements Store on an embedded chromem-go collection. It is
// a drop-in replacement for MemoryStore when the corpus outgrows a linear
// scan, and can persist across restarts when opened with a path.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromemStore opens an in-memory store when path is empty, otherwise a
// persistent one rooted at path.
func NewChromemStore(path, collection string) (*ChromemStore, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}
	col, err := db.GetOrCreateCollection(collection, nil, rejectInternalEmbedding)
	if err != nil {
		return nil, fmt.Errorf("open chromem collection: %w", err)
	}
	return &ChromemStore{db: db, collection: col}, nil
}

// rejectInternalEmbedding guards against chromem computing embeddings on its
// own; callers always supply vectors produced by the embedding service.
func rejectInternalEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("vectorstore: embeddings must be supplied by the caller")
}

func (c *ChromemStore) Add(ctx context.Context, doc Document) error {
	return c.collection.AddDocument(ctx, toChromemDoc(doc))
}

func (c *ChromemStore) AddBatch(ctx context.Context, docs []Document) (int, error) {
	for i, doc := range docs {
		if err := c.collection.AddDocument(ctx, toChromemDoc(doc)); err != nil {
			return i, fmt.Errorf("add document %q: %w", doc.ID, err)
		}
	}
	return len(docs), nil
}

func (c *ChromemStore) Search(ctx context.Context, query []float64, topK int, filter map[string]string, minScore float64) ([]Result, error) {
	if topK <= 0 || c.collection.Count() == 0 {
		return nil, nil
	}
	n := topK
	if count := c.collection.Count(); n > count {
		n = count
	}
	hits, err := c.collection.QueryEmbedding(ctx, toFloat32(query), n, filter, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	var results []Result
	for _, h := range hits {
		score := float64(h.Similarity)
		if score < minScore {
			continue
		}
		results = append(results, Result{
			Document: fromChromemResult(h),
			Score:    score,
			Rank:     len(results),
		})
	}
	return results, nil
}

func (c *ChromemStore) Get(ctx context.Context, id string) (Document, error) {
	doc, err := c.collection.GetByID(ctx, id)
	if err != nil {
		return Document{}, ErrNotFound
	}
	return fromChromemDoc(doc), nil
}

func (c *ChromemStore) Update(ctx context.Context, doc Document) error {
	if _, err := c.collection.GetByID(ctx, doc.ID); err != nil {
		return ErrNotFound
	}
	return c.collection.AddDocument(ctx, toChromemDoc(doc))
}

func (c *ChromemStore) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := c.collection.GetByID(ctx, id); err != nil {
		return false, nil
	}
	if err := c.collection.Delete(ctx, nil, nil, id); err != nil {
		return false, fmt.Errorf("chromem delete: %w", err)
	}
	return true, nil
}

func (c *ChromemStore) Len() int { return c.collection.Count() }

func toChromemDoc(doc Document) chromem.Document {
	meta := make(map[string]string, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta[metaSourceKey] = doc.Source
	if !doc.CreatedAt.IsZero() {
		meta[metaCreatedKey] = doc.CreatedAt.UTC().Format(time.RFC3339)
	}
	return chromem.Document{
		ID:        doc.ID,
		Content:   doc.Content,
		Embedding: toFloat32(doc.Embedding),
		Metadata:  meta,
	}
}

func fromChromemDoc(doc chromem.Document) Document {
	return restoreDoc(doc.ID, doc.Content, doc.Embedding, doc.Metadata)
}

func fromChromemResult(r chromem.Result) Document {
	return restoreDoc(r.ID, r.Content, r.Embedding, r.Metadata)
}

func restoreDoc(id, content string, embedding []float32, meta map[string]string) Document {
	out := Document{
		ID:        id,
		Content:   content,
		Embedding: toFloat64(embedding),
		Metadata:  make(map[string]string, len(meta)),
	}
	for k, v := range meta {
		switch k {
		case metaSourceKey:
			out.Source = v
		case metaCreatedKey:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				out.CreatedAt = t
			}
		default:
			out.Metadata[k] = v
		}
	}
	return out
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
