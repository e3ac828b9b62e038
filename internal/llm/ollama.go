package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaConfig holds Ollama chat client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the chat model name (default: qwen2.5:7b)
	Model string

	// Timeout is the request timeout (default: 30s)
	Timeout time.Duration
}

// OllamaClient implements TextGenerator against a local Ollama instance.
// All HTTP calls are wrapped with circuit breaker protection.
type OllamaClient struct {
	cfg     OllamaConfig
	client  *http.Client
	breaker *CircuitBreaker
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

// NewOllamaClient creates a new Ollama chat client, applying defaults for any
// configuration values not provided.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen2.5:7b"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &OllamaClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: NewCircuitBreaker("ollama-chat"),
	}
}

// Generate sends a chat request to Ollama and returns the reply text.
// The instruction, when non-empty, is prepended as the system message.
func (c *OllamaClient) Generate(ctx context.Context, messages []Message, instruction string) (string, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.chat(ctx, messages, instruction)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *OllamaClient) chat(ctx context.Context, messages []Message, instruction string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	all := make([]Message, 0, len(messages)+1)
	if instruction != "" {
		all = append(all, Message{Role: "system", Content: instruction})
	}
	all = append(all, messages...)

	body, err := json.Marshal(ollamaChatRequest{Model: c.cfg.Model, Messages: all, Stream: false})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama chat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama chat returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}

	return parsed.Message.Content, nil
}

// Model returns the configured chat model name.
func (c *OllamaClient) Model() string {
	return c.cfg.Model
}

// OllamaEmbedderConfig holds Ollama embedding client configuration.
type OllamaEmbedderConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the embedding model name (default: nomic-embed-text)
	Model string

	// Dimension is the vector size of Model (default: 768)
	Dimension int

	// Timeout is the request timeout (default: 30s)
	Timeout time.Duration
}

// OllamaEmbedder implements EmbeddingProvider via Ollama's /api/embed.
type OllamaEmbedder struct {
	cfg     OllamaEmbedderConfig
	client  *http.Client
	breaker *CircuitBreaker
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// The embeddings field is a 2D array even for single-text input.
type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// NewOllamaEmbedder creates a new Ollama embedding provider.
func NewOllamaEmbedder(cfg OllamaEmbedderConfig) *OllamaEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 768
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &OllamaEmbedder{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: NewCircuitBreaker("ollama-embed"),
	}
}

// Name identifies the provider.
func (e *OllamaEmbedder) Name() string { return "ollama" }

// Model returns the embedding model name.
func (e *OllamaEmbedder) Model() string { return e.cfg.Model }

// Dimension returns the fixed vector size of the embedding model.
func (e *OllamaEmbedder) Dimension() int { return e.cfg.Dimension }

// MaxBatchSize bounds EmbedBatch input size per call.
func (e *OllamaEmbedder) MaxBatchSize() int { return 64 }

// Embed vectorizes a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("ollama embed returned no embeddings")
	}
	return vecs[0], nil
}

// EmbedBatch vectorizes up to MaxBatchSize texts in one call.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > e.MaxBatchSize() {
		return nil, fmt.Errorf("batch of %d exceeds ollama limit of %d", len(texts), e.MaxBatchSize())
	}

	result, err := e.breaker.Execute(ctx, func() (interface{}, error) {
		return e.embed(ctx, texts)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.([][]float64), nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, texts []string) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama embed returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}

	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed returned %d vectors for %d texts", len(parsed.Embeddings), len(texts))
	}

	return parsed.Embeddings, nil
}
