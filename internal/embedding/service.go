// Package embedding wraps an LLM embedding provider with caching, batch
// chunking and rate limiting. The service never retries: a provider error is
// returned to the caller, who decides whether the operation can degrade.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/scrypster/recall/internal/llm"
)

// ErrEmptyText is returned when a caller asks to embed blank input.
var ErrEmptyText = errors.New("embedding: empty text")

// Result carries a vector together with the model that produced it, so
// stored embeddings can be checked for model compatibility later.
type Result struct {
	Vector []float64
	Model  string
}

// Config controls the service. Zero values select sensible defaults.
type Config struct {
	// CacheSize bounds the FIFO text cache. 0 uses DefaultCacheSize,
	// negative disables caching.
	CacheSize int
	// RequestsPerSecond paces provider calls. 0 disables pacing.
	RequestsPerSecond float64
	// MaxBatchSize overrides the provider's batch cap when smaller.
	MaxBatchSize int
}

const DefaultCacheSize = 1024

// Service produces embeddings through a single provider chosen at startup.
type Service struct {
	provider llm.EmbeddingProvider
	limiter  *rate.Limiter
	batchCap int

	mu    sync.Mutex
	cache map[string][]float64
	order []string // insertion order, oldest first
	max   int
}

// NewService wraps provider. provider must not be nil.
func NewService(provider llm.EmbeddingProvider, cfg Config) *Service {
	size := cfg.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	s := &Service{
		provider: provider,
		batchCap: provider.MaxBatchSize(),
		max:      size,
	}
	if cfg.MaxBatchSize > 0 && cfg.MaxBatchSize < s.batchCap {
		s.batchCap = cfg.MaxBatchSize
	}
	if s.batchCap <= 0 {
		s.batchCap = 1
	}
	if size > 0 {
		s.cache = make(map[string][]float64, size)
		s.order = make([]string, 0, size)
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return s
}

// Model reports the provider's embedding model identifier.
func (s *Service) Model() string { return s.provider.Model() }

// Dimension reports the provider's vector dimensionality.
func (s *Service) Dimension() int { return s.provider.Dimension() }

// Embed returns the vector for text, serving repeats from the cache.
func (s *Service) Embed(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyText
	}
	if vec, ok := s.cached(text); ok {
		return Result{Vector: vec, Model: s.provider.Model()}, nil
	}
	if err := s.wait(ctx); err != nil {
		return Result{}, err
	}
	vec, err := s.provider.Embed(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("embed: %w", err)
	}
	s.remember(text, vec)
	return Result{Vector: vec, Model: s.provider.Model()}, nil
}

// EmbedBatch embeds texts in order, chunking requests above the provider's
// batch cap. Any blank entry fails the whole batch with ErrEmptyText.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, ErrEmptyText
		}
	}

	results := make([]Result, len(texts))
	model := s.provider.Model()

	// Collect cache misses, preserving positions.
	var missTexts []string
	var missIdx []int
	for i, t := range texts {
		if vec, ok := s.cached(t); ok {
			results[i] = Result{Vector: vec, Model: model}
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}

	for start := 0; start < len(missTexts); start += s.batchCap {
		end := start + s.batchCap
		if end > len(missTexts) {
			end = len(missTexts)
		}
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
		chunk := missTexts[start:end]
		vecs, err := s.provider.EmbedBatch(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("embed batch: %w", err)
		}
		if len(vecs) != len(chunk) {
			return nil, fmt.Errorf("embed batch: provider returned %d vectors for %d texts", len(vecs), len(chunk))
		}
		for j, vec := range vecs {
			pos := missIdx[start+j]
			results[pos] = Result{Vector: vec, Model: model}
			s.remember(chunk[j], vec)
		}
	}
	return results, nil
}

// CacheLen reports the number of cached entries.
func (s *Service) CacheLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

func (s *Service) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func (s *Service) cached(text string) ([]float64, bool) {
	if s.cache == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	vec, ok := s.cache[text]
	return vec, ok
}

// remember inserts text into the FIFO cache, evicting the oldest-inserted
// entry when full. A repeat insert of a cached text is a no-op and does not
// refresh its position.
func (s *Service) remember(text string, vec []float64) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[text]; ok {
		return
	}
	if len(s.order) >= s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.cache, oldest)
	}
	s.cache[text] = vec
	s.order = append(s.order, text)
}
