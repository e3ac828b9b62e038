package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 0}, []float64{1, 0}, 1.0},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0.0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1.0},
		{"zero norm", []float64{0, 0}, []float64{1, 1}, 0.0},
		{"both zero", []float64{0, 0}, []float64{0, 0}, 0.0},
		{"length mismatch", []float64{1}, []float64{1, 0}, 0.0},
		{"empty", nil, nil, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
			assert.InDelta(t, CosineSimilarity(tt.a, tt.b), CosineSimilarity(tt.b, tt.a), 1e-9,
				"similarity must be symmetric")
		})
	}
}

func TestSearchMinScoreKeepsOnlyQualifyingHits(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Unit vectors whose similarity to the query (1,0) is the first component.
	add := func(id string, x float64) {
		y := math.Sqrt(1 - x*x)
		require.NoError(t, s.Add(ctx, Document{ID: id, Embedding: []float64{x, y}}))
	}
	add("a", 0.9)
	add("b", 0.4)
	add("c", 0.6)

	results, err := s.Search(ctx, []float64{1, 0}, 10, nil, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Document.ID)
	assert.InDelta(t, 0.9, results[0].Score, 1e-9)
	assert.Equal(t, "c", results[1].Document.ID)
	assert.InDelta(t, 0.6, results[1].Score, 1e-9)
	assert.Equal(t, 0, results[0].Rank)
	assert.Equal(t, 1, results[1].Rank)
}

func TestSearchTieBreakIsInsertionOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Same direction, different magnitudes: identical cosine scores.
	require.NoError(t, s.Add(ctx, Document{ID: "first", Embedding: []float64{1, 1}}))
	require.NoError(t, s.Add(ctx, Document{ID: "second", Embedding: []float64{2, 2}}))
	require.NoError(t, s.Add(ctx, Document{ID: "third", Embedding: []float64{3, 3}}))

	for i := 0; i < 5; i++ {
		results, err := s.Search(ctx, []float64{1, 1}, 10, nil, 0)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "first", results[0].Document.ID)
		assert.Equal(t, "second", results[1].Document.ID)
		assert.Equal(t, "third", results[2].Document.ID)
	}
}

func TestSearchMetadataFilterExactMatchAll(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, Document{
		ID: "m1", Embedding: []float64{1, 0},
		Metadata: map[string]string{"owner_id": "u1", "category": "goal"},
	}))
	require.NoError(t, s.Add(ctx, Document{
		ID: "m2", Embedding: []float64{1, 0},
		Metadata: map[string]string{"owner_id": "u1", "category": "birthday"},
	}))
	require.NoError(t, s.Add(ctx, Document{
		ID: "m3", Embedding: []float64{1, 0},
		Metadata: map[string]string{"owner_id": "u2", "category": "goal"},
	}))

	results, err := s.Search(ctx, []float64{1, 0}, 10,
		map[string]string{"owner_id": "u1", "category": "goal"}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].Document.ID)
}

func TestSearchTopKCapsResults(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Add(ctx, Document{
			ID:        fmt.Sprintf("d%d", i),
			Embedding: []float64{1, float64(i) * 0.01},
		}))
	}
	results, err := s.Search(ctx, []float64{1, 0}, 3, nil, 0)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestUpdateAndDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, Document{ID: "d1", Content: "old", Embedding: []float64{1, 0}}))

	require.NoError(t, s.Update(ctx, Document{ID: "d1", Content: "new", Embedding: []float64{0, 1}}))
	got, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Content)

	err = s.Update(ctx, Document{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Delete(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, "d1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchAfterMutationSeesFreshIndex(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, Document{ID: "d1", Embedding: []float64{1, 0}}))
	results, err := s.Search(ctx, []float64{1, 0}, 10, nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)

	_, err = s.Delete(ctx, "d1")
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, Document{ID: "d2", Embedding: []float64{1, 0}}))

	results, err = s.Search(ctx, []float64{1, 0}, 10, nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d2", results[0].Document.ID)
}

func TestConcurrentAddAndSearch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("w%d-%d", n, j)
				_ = s.Add(ctx, Document{ID: id, Embedding: []float64{1, float64(j)}})
				_, _ = s.Search(ctx, []float64{1, 0}, 5, nil, 0)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 400, s.Len())
}
