// Package config provides configuration management for recall.
// It loads settings from environment variables with the RECALL_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/pkg/types"
)

// Config holds all configuration settings for the recall engine.
type Config struct {
	Storage   StorageConfig
	Provider  ProviderConfig
	Embedding EmbeddingConfig
	Memory    MemoryConfig
	Context   ContextConfig
	Summary   SummaryConfig
}

// StorageConfig contains database and vector index configuration.
type StorageConfig struct {
	Engine        string // Storage engine: sqlite, postgres (default: sqlite)
	DataPath      string // Path to data directory for sqlite (default: ./data)
	PostgresDSN   string // Postgres connection string (required when Engine is postgres)
	VectorBackend string // Vector index backend: memory, chromem (default: memory)
	ChromemPath   string // Persistence path for the chromem backend; empty keeps it in memory
}

// ProviderConfig contains model provider configuration.
type ProviderConfig struct {
	Provider           string // Model provider: ollama, openai, dashscope (default: ollama)
	APIKey             string // API key for hosted providers
	BaseURL            string // Endpoint override
	Model              string // Chat model name (provider default when empty)
	EmbeddingModel     string // Embedding model name (provider default when empty)
	EmbeddingDimension int    // Vector size override for unknown embedding models
}

// EmbeddingConfig tunes the embedding service.
type EmbeddingConfig struct {
	CacheSize         int     // FIFO cache entries (default: 1024, negative disables)
	RequestsPerSecond float64 // Provider call pacing (default: 0, unpaced)
	MaxBatchSize      int     // Batch cap override (default: 0, provider cap applies)
}

// MemoryConfig tunes the capture and retrieval paths.
type MemoryConfig struct {
	ImportanceThreshold string  // Minimum tier persisted: low, medium, high, critical (default: medium)
	MinScore            float64 // Minimum similarity for vector hits (default: 0.3)
	DefaultLimit        int     // Retrieval result cap when the caller passes 0 (default: 5)
	BackfillBatchSize   int     // Records per embedding-backfill round (default: 50)
	UseRetrievalHints   bool    // Ask the model for category hints on the fallback path (default: false)
}

// ContextConfig tunes prompt assembly.
type ContextConfig struct {
	ShortTermRounds      int  // Recent rounds kept verbatim (default: 5)
	MidTermEnd           int  // Total round window before history is dropped (default: 20)
	MaxMemories          int  // Memories rendered per prompt (default: 8)
	MaxTotalTokens       int  // Prompt budget (default: 8000)
	ReservedOutputTokens int  // Budget slice reserved for the reply (default: 1000)
	UseModelSummary      bool // Summarize mid-term turns with the model (default: false)
	MaxSummaryLength     int  // Summary cap in runes (default: 200)
}

// SummaryConfig tunes the rule-based summarizer.
type SummaryConfig struct {
	LexiconPath string // Optional YAML lexicon overriding the built-in keyword sets
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the RECALL_ prefix. Zero values in
// the numeric settings mean "let the consuming package apply its default".
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			Engine:        getEnv("RECALL_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("RECALL_DATA_PATH", "./data"),
			PostgresDSN:   getEnv("RECALL_POSTGRES_DSN", ""),
			VectorBackend: getEnv("RECALL_VECTOR_BACKEND", "memory"),
			ChromemPath:   getEnv("RECALL_CHROMEM_PATH", ""),
		},
		Provider: ProviderConfig{
			Provider:           getEnv("RECALL_PROVIDER", "ollama"),
			APIKey:             getEnv("RECALL_API_KEY", ""),
			BaseURL:            getEnv("RECALL_BASE_URL", ""),
			Model:              getEnv("RECALL_MODEL", ""),
			EmbeddingModel:     getEnv("RECALL_EMBEDDING_MODEL", ""),
			EmbeddingDimension: getEnvInt("RECALL_EMBEDDING_DIMENSION", 0),
		},
		Embedding: EmbeddingConfig{
			CacheSize:         getEnvInt("RECALL_EMBEDDING_CACHE_SIZE", 0),
			RequestsPerSecond: getEnvFloat("RECALL_EMBEDDING_RPS", 0),
			MaxBatchSize:      getEnvInt("RECALL_EMBEDDING_BATCH_SIZE", 0),
		},
		Memory: MemoryConfig{
			ImportanceThreshold: getEnv("RECALL_IMPORTANCE_THRESHOLD", "medium"),
			MinScore:            getEnvFloat("RECALL_MIN_SCORE", 0),
			DefaultLimit:        getEnvInt("RECALL_RETRIEVE_LIMIT", 0),
			BackfillBatchSize:   getEnvInt("RECALL_BACKFILL_BATCH_SIZE", 0),
			UseRetrievalHints:   getEnvBool("RECALL_RETRIEVAL_HINTS", false),
		},
		Context: ContextConfig{
			ShortTermRounds:      getEnvInt("RECALL_SHORT_TERM_ROUNDS", 0),
			MidTermEnd:           getEnvInt("RECALL_MID_TERM_END", 0),
			MaxMemories:          getEnvInt("RECALL_MAX_MEMORIES", 0),
			MaxTotalTokens:       getEnvInt("RECALL_MAX_TOTAL_TOKENS", 0),
			ReservedOutputTokens: getEnvInt("RECALL_RESERVED_OUTPUT_TOKENS", 0),
			UseModelSummary:      getEnvBool("RECALL_USE_MODEL_SUMMARY", false),
			MaxSummaryLength:     getEnvInt("RECALL_MAX_SUMMARY_LENGTH", 0),
		},
		Summary: SummaryConfig{
			LexiconPath: getEnv("RECALL_LEXICON_PATH", ""),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that cannot produce a working engine.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported storage engine: %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: RECALL_POSTGRES_DSN is required for the postgres engine")
	}
	switch c.Storage.VectorBackend {
	case "memory", "chromem":
	default:
		return fmt.Errorf("config: unsupported vector backend: %q", c.Storage.VectorBackend)
	}
	if t := c.Memory.ImportanceThreshold; t != "" && !types.IsValidImportance(t) {
		return fmt.Errorf("config: unknown importance threshold: %q", t)
	}
	return nil
}

// LLMProviderConfig converts the provider section into the llm package's
// factory input.
func (c *Config) LLMProviderConfig() llm.ProviderConfig {
	return llm.ProviderConfig{
		Provider:           c.Provider.Provider,
		APIKey:             c.Provider.APIKey,
		BaseURL:            c.Provider.BaseURL,
		Model:              c.Provider.Model,
		EmbeddingModel:     c.Provider.EmbeddingModel,
		EmbeddingDimension: c.Provider.EmbeddingDimension,
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
