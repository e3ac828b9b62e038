package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/engine"
	"github.com/scrypster/recall/pkg/types"
)

// newTestEngine builds a bundle backed by a throwaway sqlite file and a
// provider endpoint that refuses connections, so every model call exercises
// the rule-based fallbacks.
func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Engine:        "sqlite",
			DataPath:      t.TempDir(),
			VectorBackend: "memory",
		},
		Provider: config.ProviderConfig{
			Provider: "ollama",
			BaseURL:  "http://127.0.0.1:1",
		},
		Memory: config.MemoryConfig{ImportanceThreshold: "medium"},
	}
	eng, err := engine.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestEngineRemembersAndBuildsOffline(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	rec, err := eng.Remember(ctx, "u1", "bot1",
		"my birthday is on May 3rd, don't forget it", "I won't forget!")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.CategoryBirthday, rec.Category)
	// The embedding provider is unreachable, so the record waits for backfill.
	assert.False(t, rec.HasEmbedding())

	res, err := eng.BuildTurn(ctx, engine.TurnRequest{
		OwnerID:        "u1",
		BotID:          "bot1",
		Persona:        "You are a calm assistant.",
		CurrentMessage: "what did I tell you about my birthday?",
	})
	require.NoError(t, err)

	require.Len(t, res.Messages, 2)
	assert.Contains(t, res.Messages[0].Content, "You are a calm assistant.")
	assert.Contains(t, res.Messages[0].Content, "birthday")
	assert.Equal(t, 1, res.Metadata["memory_count"])
}

func TestEngineSkipsSmallTalk(t *testing.T) {
	eng := newTestEngine(t)

	rec, err := eng.Remember(context.Background(), "u1", "bot1", "hi", "hello!")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestEngineBackfillWithoutProviderIsAnError(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Remember(ctx, "u1", "bot1",
		"I prefer my coffee black, no sugar", "noted")
	require.NoError(t, err)

	// The provider is unreachable, so the pending record cannot be embedded.
	n, err := eng.Backfill(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestEngineChromemBackend(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Engine:        "sqlite",
			DataPath:      t.TempDir(),
			VectorBackend: "chromem",
		},
		Provider: config.ProviderConfig{Provider: "ollama", BaseURL: "http://127.0.0.1:1"},
		Memory:   config.MemoryConfig{ImportanceThreshold: "medium"},
	}
	eng, err := engine.New(cfg)
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	assert.NotNil(t, eng.Vectors)
	assert.Equal(t, 0, eng.Vectors.Len())
}
