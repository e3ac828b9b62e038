// Package engine wires the recall services into one bundle constructed at
// process start. There are no package-level singletons: the Engine is built
// once from configuration and passed by reference, and its state is shared
// read-only except for the documented locked mutations inside the embedding
// cache and the vector index.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/contextbuild"
	"github.com/scrypster/recall/internal/embedding"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/internal/memory"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/internal/storage/postgres"
	"github.com/scrypster/recall/internal/storage/sqlite"
	"github.com/scrypster/recall/internal/summary"
	"github.com/scrypster/recall/internal/vectorstore"
	"github.com/scrypster/recall/pkg/types"
)

// Engine bundles the storage, model and assembly services for one process.
type Engine struct {
	Store     storage.MemoryStore
	Vectors   vectorstore.Store
	Embedder  *embedding.Service
	Generator llm.TextGenerator
	Memories  *memory.Service
	Summaries *summary.Service
	Builder   *contextbuild.Builder
}

// New constructs the full service bundle from configuration.
func New(cfg *config.Config) (*Engine, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	vectors, err := openVectors(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	providerCfg := cfg.LLMProviderConfig()
	generator, err := llm.NewTextGenerator(providerCfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	embedProvider, err := llm.NewEmbeddingProvider(providerCfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	embedder := embedding.NewService(embedProvider, embedding.Config{
		CacheSize:         cfg.Embedding.CacheSize,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		MaxBatchSize:      cfg.Embedding.MaxBatchSize,
	})

	lexicon, err := loadLexicon(cfg.Summary.LexiconPath)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	summaries := summary.NewService(lexicon, generator)

	memories := memory.NewService(store, vectors, embedder, generator, memory.Config{
		ImportanceThreshold: types.Importance(cfg.Memory.ImportanceThreshold),
		MinScore:            cfg.Memory.MinScore,
		DefaultLimit:        cfg.Memory.DefaultLimit,
		BackfillBatchSize:   cfg.Memory.BackfillBatchSize,
		UseRetrievalHints:   cfg.Memory.UseRetrievalHints,
	})

	builder := contextbuild.NewBuilder(summaries, contextbuild.Config{
		ShortTermRounds:      cfg.Context.ShortTermRounds,
		MidTermEnd:           cfg.Context.MidTermEnd,
		MaxMemories:          cfg.Context.MaxMemories,
		MaxTotalTokens:       cfg.Context.MaxTotalTokens,
		ReservedOutputTokens: cfg.Context.ReservedOutputTokens,
		UseModelSummary:      cfg.Context.UseModelSummary,
		MaxSummaryLength:     cfg.Context.MaxSummaryLength,
	})

	return &Engine{
		Store:     store,
		Vectors:   vectors,
		Embedder:  embedder,
		Generator: generator,
		Memories:  memories,
		Summaries: summaries,
		Builder:   builder,
	}, nil
}

// TurnRequest describes one conversational turn to assemble a prompt for.
type TurnRequest struct {
	OwnerID        string
	BotID          string
	Persona        string
	History        []types.ConversationTurn
	CurrentMessage string
	StrategyText   string

	// SummaryOverride reuses a digest from a prior turn instead of
	// re-summarizing the mid-term window.
	SummaryOverride *types.ConversationSummary
}

// BuildTurn retrieves the memories relevant to the current message and
// assembles the prompt. Retrieval failures degrade to a prompt without a
// memory block; they never fail the turn.
func (e *Engine) BuildTurn(ctx context.Context, req TurnRequest) (contextbuild.BuildResult, error) {
	memories := e.Memories.Retrieve(ctx, req.OwnerID, req.BotID, req.CurrentMessage, 0)
	return e.Builder.Build(ctx, contextbuild.BuildRequest{
		Persona:         req.Persona,
		History:         req.History,
		CurrentMessage:  req.CurrentMessage,
		Memories:        memories,
		SummaryOverride: req.SummaryOverride,
		StrategyText:    req.StrategyText,
	})
}

// Remember runs the write path for a finished round: classify, embed and
// persist. A nil record means the round was judged not worth keeping.
func (e *Engine) Remember(ctx context.Context, ownerID, botID, userText, assistantText string) (*types.MemoryRecord, error) {
	return e.Memories.Capture(ctx, ownerID, botID, userText, assistantText)
}

// Backfill embeds records that were persisted while the embedding provider
// was unavailable.
func (e *Engine) Backfill(ctx context.Context) (int, error) {
	return e.Memories.BackfillEmbeddings(ctx)
}

// Close releases the storage layer.
func (e *Engine) Close() error {
	return e.Store.Close()
}

func openStore(cfg *config.Config) (storage.MemoryStore, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		store, err := postgres.NewStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("engine: open postgres store: %w", err)
		}
		return store, nil
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("engine: create data directory: %w", err)
		}
		store, err := sqlite.NewStore(filepath.Join(cfg.Storage.DataPath, "recall.db"))
		if err != nil {
			return nil, fmt.Errorf("engine: open sqlite store: %w", err)
		}
		return store, nil
	}
}

// openVectors selects the vector index backend. The in-memory index does not
// survive restarts; deployments that need a durable index use the chromem
// backend with a persistence path, or the postgres engine whose pgvector
// search runs in-database.
func openVectors(cfg *config.Config) (vectorstore.Store, error) {
	switch cfg.Storage.VectorBackend {
	case "chromem":
		store, err := vectorstore.NewChromemStore(cfg.Storage.ChromemPath, "memories")
		if err != nil {
			return nil, fmt.Errorf("engine: open chromem index: %w", err)
		}
		return store, nil
	default:
		return vectorstore.NewMemoryStore(), nil
	}
}

func loadLexicon(path string) (*summary.Lexicon, error) {
	if path == "" {
		return nil, nil
	}
	lexicon, err := summary.LoadLexicon(path)
	if err != nil {
		return nil, fmt.Errorf("engine: load lexicon: %w", err)
	}
	log.Printf("engine: loaded summary lexicon from %s", path)
	return lexicon, nil
}
