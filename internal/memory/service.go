// Package memory decides what is worth remembering from a conversation,
// persists it, and retrieves relevant memories for later turns. Retrieval is
// hybrid: vector similarity when an embedding provider is configured, with a
// metadata-ordered fallback that works with no model at all.
package memory

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/recall/internal/embedding"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/internal/vectorstore"
	"github.com/scrypster/recall/pkg/types"
)

// Config tunes the memory service. Zero values select defaults.
type Config struct {
	// ImportanceThreshold gates capture. Classifications below it are
	// discarded. Default: medium.
	ImportanceThreshold types.Importance
	// MinScore drops weak vector hits. Default: 0.3.
	MinScore float64
	// DefaultLimit caps Retrieve when the caller passes 0. Default: 5.
	DefaultLimit int
	// BackfillBatchSize bounds each backfill round. Default: 50.
	BackfillBatchSize int
	// UseRetrievalHints enables the model call that narrows the fallback
	// query by category.
	UseRetrievalHints bool
}

func (c *Config) applyDefaults() {
	if c.ImportanceThreshold == "" {
		c.ImportanceThreshold = types.ImportanceMedium
	}
	if c.MinScore == 0 {
		c.MinScore = 0.3
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 5
	}
	if c.BackfillBatchSize <= 0 {
		c.BackfillBatchSize = 50
	}
}

// Service is the memory capture and retrieval pipeline. store is required;
// vectors, embedder and generator are optional and their absence degrades
// the service rather than breaking it.
type Service struct {
	store     storage.MemoryStore
	vectors   vectorstore.Store
	embedder  *embedding.Service
	generator llm.TextGenerator
	cfg       Config
}

// NewService wires the pipeline. Any of vectors, embedder and generator may
// be nil.
func NewService(store storage.MemoryStore, vectors vectorstore.Store, embedder *embedding.Service, generator llm.TextGenerator, cfg Config) *Service {
	cfg.applyDefaults()
	return &Service{
		store:     store,
		vectors:   vectors,
		embedder:  embedder,
		generator: generator,
		cfg:       cfg,
	}
}

// Classify decides whether an exchange contains something worth remembering.
// The model path is tried first when a generator is configured; any call or
// parse failure falls back to the deterministic rule classifier, so Classify
// never fails.
func (s *Service) Classify(ctx context.Context, userText, assistantText string) types.Classification {
	if s.generator != nil {
		reply, err := s.generator.Generate(ctx, llm.ClassificationMessage(userText, assistantText), llm.ClassificationInstruction)
		if err == nil {
			if c, perr := llm.ParseClassificationReply(reply); perr == nil {
				return *c
			} else {
				log.Printf("memory: unusable classification reply, using rules: %v", perr)
			}
		} else {
			log.Printf("memory: classification call failed, using rules: %v", err)
		}
	}
	return classifyWithRules(userText)
}

// Capture runs the full pipeline for one exchange: classify, gate on the
// importance threshold, embed best-effort, persist, index. It returns nil
// when the exchange was not worth keeping.
func (s *Service) Capture(ctx context.Context, ownerID, botID, userText, assistantText string) (*types.MemoryRecord, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}

	c := s.Classify(ctx, userText, assistantText)
	if !c.IsImportant {
		return nil, nil
	}
	if !c.Importance.AtLeast(s.cfg.ImportanceThreshold) {
		log.Printf("memory: importance %s below threshold %s, skipping", c.Importance, s.cfg.ImportanceThreshold)
		return nil, nil
	}

	now := time.Now().UTC()
	rec := &types.MemoryRecord{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		BotID:            botID,
		Summary:          c.Summary,
		UserMessage:      userText,
		AssistantMessage: assistantText,
		Importance:       c.Importance,
		Category:         c.Category,
		Keywords:         c.Keywords,
		EventDate:        c.EventDate,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// Embedding is best-effort: a provider outage must not lose the memory.
	if s.embedder != nil {
		if res, err := s.embedder.Embed(ctx, rec.Summary); err != nil {
			log.Printf("memory: embedding failed, storing record without vector: %v", err)
		} else {
			rec.Embedding = res.Vector
			rec.EmbeddingModel = res.Model
		}
	}

	if err := s.store.Store(ctx, rec); err != nil {
		return nil, fmt.Errorf("store memory: %w", err)
	}

	if rec.HasEmbedding() && s.vectors != nil {
		if err := s.vectors.Add(ctx, s.toDocument(rec)); err != nil {
			log.Printf("memory: failed to index memory %s: %v", rec.ID, err)
		}
	}

	log.Printf("memory: captured %s memory %s for owner %s", rec.Importance, rec.ID, ownerID)
	return rec, nil
}

// Retrieve returns up to limit memories relevant to currentMessage. The
// vector path is tried first; on any degradation it falls through to the
// metadata-ordered store query. Every returned record is touched (access
// count and timestamp) in one storage transaction. Retrieve reports degraded
// paths in the log, never as an error.
func (s *Service) Retrieve(ctx context.Context, ownerID, botID, currentMessage string, limit int) []types.MemoryRecord {
	if ownerID == "" {
		return nil
	}
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}

	records := s.retrieveByVector(ctx, ownerID, currentMessage, limit)
	if records == nil {
		records = s.retrieveFromStore(ctx, ownerID, botID, currentMessage, limit)
	}
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	ids := make([]string, len(records))
	for i := range records {
		ids[i] = records[i].ID
	}
	if err := s.store.TouchAccess(ctx, ids, now); err != nil {
		log.Printf("memory: failed to record access for %d memories: %v", len(ids), err)
	} else {
		for i := range records {
			records[i].AccessCount++
			t := now
			records[i].LastAccessedAt = &t
		}
	}
	return records
}

// retrieveByVector returns nil (not an empty slice) when the vector path is
// unavailable or failed, so the caller can distinguish "no path" from "no
// hits". No hits yields an empty slice.
func (s *Service) retrieveByVector(ctx context.Context, ownerID, currentMessage string, limit int) []types.MemoryRecord {
	if s.embedder == nil || currentMessage == "" {
		return nil
	}
	searcher, inDatabase := s.store.(storage.VectorSearcher)
	inDatabase = inDatabase && searcher.VectorSearchAvailable()
	if s.vectors == nil && !inDatabase {
		return nil
	}

	query, err := s.embedder.Embed(ctx, currentMessage)
	if err != nil {
		log.Printf("memory: query embedding failed, falling back to metadata retrieval: %v", err)
		return nil
	}

	// Stores with in-database similarity search skip the local index.
	if inDatabase {
		hits, err := searcher.VectorSearch(ctx, ownerID, query.Vector, limit, s.cfg.MinScore)
		if err != nil {
			log.Printf("memory: in-database vector search failed, falling back to metadata retrieval: %v", err)
			return nil
		}
		records := make([]types.MemoryRecord, 0, len(hits))
		for _, hit := range hits {
			records = append(records, *hit.Record)
		}
		return records
	}

	hits, err := s.vectors.Search(ctx, query.Vector, limit,
		map[string]string{"owner_id": ownerID}, s.cfg.MinScore)
	if err != nil {
		log.Printf("memory: vector search failed, falling back to metadata retrieval: %v", err)
		return nil
	}

	records := make([]types.MemoryRecord, 0, len(hits))
	for _, hit := range hits {
		rec, err := s.store.Get(ctx, hit.Document.ID)
		if err != nil {
			log.Printf("memory: indexed memory %s missing from store: %v", hit.Document.ID, err)
			continue
		}
		if !rec.Active {
			continue
		}
		records = append(records, *rec)
	}
	return records
}

func (s *Service) retrieveFromStore(ctx context.Context, ownerID, botID, currentMessage string, limit int) []types.MemoryRecord {
	var categories []string
	if s.cfg.UseRetrievalHints && s.generator != nil && currentMessage != "" {
		categories = s.retrievalHintCategories(ctx, currentMessage)
	}

	recs, err := s.store.ListByOwner(ctx, storage.ListQuery{
		OwnerID:    ownerID,
		BotID:      botID,
		Categories: categories,
		Limit:      limit,
	})
	if err != nil {
		log.Printf("memory: metadata retrieval failed: %v", err)
		return nil
	}

	records := make([]types.MemoryRecord, len(recs))
	for i, rec := range recs {
		records[i] = *rec
	}
	return records
}

func (s *Service) retrievalHintCategories(ctx context.Context, currentMessage string) []string {
	reply, err := s.generator.Generate(ctx, llm.RetrievalHintMessage(currentMessage), llm.RetrievalHintInstruction)
	if err != nil {
		log.Printf("memory: retrieval hint call failed: %v", err)
		return nil
	}
	hints, err := llm.ParseRetrievalHints(reply)
	if err != nil {
		log.Printf("memory: unusable retrieval hints: %v", err)
		return nil
	}
	if !hints.ShouldRetrieve {
		return nil
	}
	return hints.EventTypes
}

// BackfillEmbeddings embeds every active record that lacks a vector, in
// batches. Already-embedded records are untouched, so re-running after a
// partial failure resumes where it stopped.
func (s *Service) BackfillEmbeddings(ctx context.Context) (int, error) {
	if s.embedder == nil {
		return 0, fmt.Errorf("no embedding provider configured")
	}

	total := 0
	for {
		recs, err := s.store.ListUnembedded(ctx, s.cfg.BackfillBatchSize)
		if err != nil {
			return total, fmt.Errorf("list unembedded: %w", err)
		}
		if len(recs) == 0 {
			return total, nil
		}

		texts := make([]string, len(recs))
		for i, rec := range recs {
			texts[i] = rec.Summary
		}
		results, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return total, fmt.Errorf("embed batch: %w", err)
		}

		for i, rec := range recs {
			if err := s.store.StoreEmbedding(ctx, rec.ID, results[i].Vector, results[i].Model); err != nil {
				return total, fmt.Errorf("store embedding for %s: %w", rec.ID, err)
			}
			if s.vectors != nil {
				rec.Embedding = results[i].Vector
				rec.EmbeddingModel = results[i].Model
				if err := s.vectors.Add(ctx, s.toDocument(rec)); err != nil {
					log.Printf("memory: failed to index backfilled memory %s: %v", rec.ID, err)
				}
			}
			total++
		}
	}
}

// Forget soft-deletes a memory and drops it from the vector index.
func (s *Service) Forget(ctx context.Context, id string) (bool, error) {
	deleted, err := s.store.SoftDelete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("forget memory: %w", err)
	}
	if deleted && s.vectors != nil {
		if _, err := s.vectors.Delete(ctx, id); err != nil {
			log.Printf("memory: failed to drop %s from index: %v", id, err)
		}
	}
	return deleted, nil
}

// Stats reports per-category counts of an owner's active memories.
type Stats struct {
	Total      int
	ByCategory map[string]int
}

// OwnerStats tallies an owner's active memories.
func (s *Service) OwnerStats(ctx context.Context, ownerID string) (Stats, error) {
	counts, err := s.store.CountByCategory(ctx, ownerID)
	if err != nil {
		return Stats{}, fmt.Errorf("memory stats: %w", err)
	}
	st := Stats{ByCategory: counts}
	for _, n := range counts {
		st.Total += n
	}
	return st, nil
}

func (s *Service) toDocument(rec *types.MemoryRecord) vectorstore.Document {
	return vectorstore.Document{
		ID:        rec.ID,
		Content:   rec.Summary,
		Embedding: rec.Embedding,
		Metadata: map[string]string{
			"owner_id":   rec.OwnerID,
			"bot_id":     rec.BotID,
			"category":   rec.Category,
			"importance": string(rec.Importance),
		},
		Source:    "memory",
		CreatedAt: rec.CreatedAt,
	}
}
