package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/embedding"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/internal/storage/sqlite"
	"github.com/scrypster/recall/internal/vectorstore"
	"github.com/scrypster/recall/pkg/types"
)

// fakeEmbedProvider returns fixed vectors per text, or a fallback for
// unknown texts. A non-nil fail makes every call error.
type fakeEmbedProvider struct {
	vectors map[string][]float64
	fail    error
}

func (f *fakeEmbedProvider) Name() string      { return "fake" }
func (f *fakeEmbedProvider) Model() string     { return "fake-embed-1" }
func (f *fakeEmbedProvider) Dimension() int    { return 2 }
func (f *fakeEmbedProvider) MaxBatchSize() int { return 25 }

func (f *fakeEmbedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float64{1, 0}, nil
}

func (f *fakeEmbedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// fixedGenerator returns one canned reply for every call.
type fixedGenerator struct{ reply string }

func (g fixedGenerator) Generate(ctx context.Context, messages []llm.Message, instruction string) (string, error) {
	return g.reply, nil
}
func (fixedGenerator) Model() string { return "fixed" }

func newTestService(t *testing.T, provider *fakeEmbedProvider, generator llm.TextGenerator, cfg Config) (*Service, *sqlite.Store, *vectorstore.MemoryStore) {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	vectors := vectorstore.NewMemoryStore()
	var embedder *embedding.Service
	if provider != nil {
		embedder = embedding.NewService(provider, embedding.Config{CacheSize: -1})
	}
	return NewService(store, vectors, embedder, generator, cfg), store, vectors
}

func TestRuleClassifier(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		important    bool
		wantCategory string
	}{
		{"greeting", "hi", false, ""},
		{"short thanks", "谢谢你", false, ""},
		{"birthday", "my birthday is on May 3rd", true, types.CategoryBirthday},
		{"preference", "i like jazz a lot", true, types.CategoryPreference},
		{"goal cjk", "我的目标是跑完马拉松", true, types.CategoryGoal},
		{"small talk", "what a strange weather today", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := classifyWithRules(tt.text)
			assert.Equal(t, tt.important, c.IsImportant)
			if tt.important {
				assert.Equal(t, tt.wantCategory, c.Category)
				assert.Equal(t, types.ImportanceMedium, c.Importance)
				assert.NotEmpty(t, c.Summary)
				assert.NotEmpty(t, c.Keywords)
			}
		})
	}
}

func TestClassifyFallsBackOnBadModelReply(t *testing.T) {
	svc, _, _ := newTestService(t, nil, fixedGenerator{reply: "I refuse to answer in JSON."}, Config{})
	c := svc.Classify(context.Background(), "my birthday is on May 3rd", "Noted!")
	assert.True(t, c.IsImportant)
	assert.Equal(t, types.CategoryBirthday, c.Category)
}

func TestCaptureStoresAndIndexes(t *testing.T) {
	provider := &fakeEmbedProvider{}
	svc, store, vectors := newTestService(t, provider, nil, Config{})

	rec, err := svc.Capture(context.Background(), "u1", "b1", "my birthday is on May 3rd", "Happy early birthday!")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.HasEmbedding())
	assert.Equal(t, "fake-embed-1", rec.EmbeddingModel)

	stored, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Summary, stored.Summary)
	assert.Equal(t, 1, vectors.Len())
}

func TestCaptureUnimportantReturnsNil(t *testing.T) {
	svc, _, vectors := newTestService(t, &fakeEmbedProvider{}, nil, Config{})
	rec, err := svc.Capture(context.Background(), "u1", "", "hello", "Hi there!")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, 0, vectors.Len())
}

func TestCaptureBelowThresholdSkipped(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeEmbedProvider{}, nil, Config{
		ImportanceThreshold: types.ImportanceHigh,
	})
	// Rule classifier grades at medium, below the high threshold.
	rec, err := svc.Capture(context.Background(), "u1", "", "i like jazz a lot", "Nice taste!")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCaptureSurvivesEmbeddingFailure(t *testing.T) {
	provider := &fakeEmbedProvider{fail: errors.New("provider down")}
	svc, store, vectors := newTestService(t, provider, nil, Config{})

	rec, err := svc.Capture(context.Background(), "u1", "", "my birthday is on May 3rd", "Noted!")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.HasEmbedding())
	assert.Equal(t, 0, vectors.Len())

	stored, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Summary, stored.Summary)
}

func TestRetrieveVectorPathRanksBySimilarity(t *testing.T) {
	provider := &fakeEmbedProvider{vectors: map[string][]float64{
		"when is my birthday again": {1, 0},
	}}
	svc, _, _ := newTestService(t, provider, nil, Config{MinScore: 0.5})
	ctx := context.Background()

	// The rule classifier keeps the user's own words as the summary, so the
	// embedded text is the capture input itself.
	capture := func(userText string, vec []float64) *types.MemoryRecord {
		provider.vectors[userText] = vec
		rec, err := svc.Capture(ctx, "u1", "", userText, "Got it.")
		require.NoError(t, err)
		require.NotNil(t, rec)
		return rec
	}

	near := capture("my birthday is on May 3rd", []float64{1, 0})
	capture("i like jazz a lot", []float64{0, 1})

	got := svc.Retrieve(ctx, "u1", "", "when is my birthday again", 5)
	require.Len(t, got, 1, "the orthogonal memory is below minScore")
	assert.Equal(t, near.ID, got[0].ID)
	assert.Equal(t, 1, got[0].AccessCount)
	assert.NotNil(t, got[0].LastAccessedAt)
}

func TestRetrieveFallsBackWhenProviderAlwaysFails(t *testing.T) {
	provider := &fakeEmbedProvider{}
	svc, _, _ := newTestService(t, provider, nil, Config{})
	ctx := context.Background()

	rec, err := svc.Capture(ctx, "u1", "", "my birthday is on May 3rd", "Noted!")
	require.NoError(t, err)
	require.NotNil(t, rec)

	// Provider dies after capture: the vector path cannot embed the query.
	provider.fail = errors.New("provider down")

	got := svc.Retrieve(ctx, "u1", "", "when is my birthday again", 5)
	require.Len(t, got, 1, "fallback path must still return stored memories")
	assert.Equal(t, rec.ID, got[0].ID)
}

func TestRetrieveWithoutAnyProviders(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil, Config{})
	ctx := context.Background()

	rec, err := svc.Capture(ctx, "u1", "", "i like jazz a lot", "Nice!")
	require.NoError(t, err)
	require.NotNil(t, rec)

	got := svc.Retrieve(ctx, "u1", "", "", 5)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
}

func TestRetrieveAccessCountPersisted(t *testing.T) {
	svc, store, _ := newTestService(t, nil, nil, Config{})
	ctx := context.Background()

	rec, err := svc.Capture(ctx, "u1", "", "my birthday is on May 3rd", "Noted!")
	require.NoError(t, err)
	require.NotNil(t, rec)

	svc.Retrieve(ctx, "u1", "", "", 5)
	svc.Retrieve(ctx, "u1", "", "", 5)

	stored, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.AccessCount)
	assert.NotNil(t, stored.LastAccessedAt)
}

func TestBackfillEmbeddingsIsIdempotent(t *testing.T) {
	provider := &fakeEmbedProvider{fail: errors.New("provider down")}
	svc, store, vectors := newTestService(t, provider, nil, Config{})
	ctx := context.Background()

	// Capture while the provider is down: records persist without vectors.
	for _, text := range []string{"my birthday is on May 3rd", "i like jazz a lot"} {
		rec, err := svc.Capture(ctx, "u1", "", text, "Noted.")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.False(t, rec.HasEmbedding())
	}

	provider.fail = nil
	n, err := svc.BackfillEmbeddings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, vectors.Len())

	unembedded, err := store.ListUnembedded(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unembedded)

	n, err = svc.BackfillEmbeddings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second run has nothing left to embed")
}

func TestForget(t *testing.T) {
	svc, _, vectors := newTestService(t, &fakeEmbedProvider{}, nil, Config{})
	ctx := context.Background()

	rec, err := svc.Capture(ctx, "u1", "", "my birthday is on May 3rd", "Noted!")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, 1, vectors.Len())

	ok, err := svc.Forget(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, vectors.Len())

	got := svc.Retrieve(ctx, "u1", "", "", 5)
	assert.Empty(t, got)

	ok, err = svc.Forget(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOwnerStats(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil, Config{})
	ctx := context.Background()

	for _, text := range []string{"my birthday is on May 3rd", "i like jazz a lot", "i like hiking too"} {
		rec, err := svc.Capture(ctx, "u1", "", text, "Noted.")
		require.NoError(t, err)
		require.NotNil(t, rec)
	}

	stats, err := svc.OwnerStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByCategory[types.CategoryBirthday])
	assert.Equal(t, 2, stats.ByCategory[types.CategoryPreference])
}
