package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	_ = os.Unsetenv("RECALL_STORAGE_ENGINE")
	_ = os.Unsetenv("RECALL_PROVIDER")
	_ = os.Unsetenv("RECALL_VECTOR_BACKEND")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, "./data", cfg.Storage.DataPath)
	assert.Equal(t, "memory", cfg.Storage.VectorBackend)
	assert.Equal(t, "ollama", cfg.Provider.Provider)
	assert.Equal(t, "medium", cfg.Memory.ImportanceThreshold)
	assert.False(t, cfg.Context.UseModelSummary)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RECALL_PROVIDER", "dashscope")
	t.Setenv("RECALL_API_KEY", "sk-test")
	t.Setenv("RECALL_MIN_SCORE", "0.55")
	t.Setenv("RECALL_SHORT_TERM_ROUNDS", "3")
	t.Setenv("RECALL_USE_MODEL_SUMMARY", "yes")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "dashscope", cfg.Provider.Provider)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
	assert.InDelta(t, 0.55, cfg.Memory.MinScore, 1e-9)
	assert.Equal(t, 3, cfg.Context.ShortTermRounds)
	assert.True(t, cfg.Context.UseModelSummary)
}

func TestLoadConfig_MalformedNumbersKeepDefaults(t *testing.T) {
	t.Setenv("RECALL_SHORT_TERM_ROUNDS", "many")
	t.Setenv("RECALL_MIN_SCORE", "high")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Context.ShortTermRounds)
	assert.Equal(t, 0.0, cfg.Memory.MinScore)
}

func TestValidate_RejectsUnknownEngine(t *testing.T) {
	t.Setenv("RECALL_STORAGE_ENGINE", "mongodb")

	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestValidate_PostgresRequiresDSN(t *testing.T) {
	t.Setenv("RECALL_STORAGE_ENGINE", "postgres")
	_ = os.Unsetenv("RECALL_POSTGRES_DSN")

	_, err := config.LoadConfig()
	require.Error(t, err)

	t.Setenv("RECALL_POSTGRES_DSN", "postgres://localhost/recall")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Engine)
}

func TestValidate_RejectsUnknownImportance(t *testing.T) {
	t.Setenv("RECALL_IMPORTANCE_THRESHOLD", "urgent")

	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestValidate_RejectsUnknownVectorBackend(t *testing.T) {
	t.Setenv("RECALL_VECTOR_BACKEND", "faiss")

	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestLLMProviderConfig_Mapping(t *testing.T) {
	t.Setenv("RECALL_PROVIDER", "openai")
	t.Setenv("RECALL_MODEL", "gpt-4o-mini")
	t.Setenv("RECALL_EMBEDDING_MODEL", "text-embedding-3-small")
	t.Setenv("RECALL_EMBEDDING_DIMENSION", "1536")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	pc := cfg.LLMProviderConfig()
	assert.Equal(t, "openai", pc.Provider)
	assert.Equal(t, "gpt-4o-mini", pc.Model)
	assert.Equal(t, "text-embedding-3-small", pc.EmbeddingModel)
	assert.Equal(t, 1536, pc.EmbeddingDimension)
}
