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

const dashScopeDefaultBaseURL = "https://dashscope.aliyuncs.com"

// DashScopeConfig holds configuration for the DashScope (Qwen) chat client.
type DashScopeConfig struct {
	APIKey  string
	Model   string        // default: qwen-plus
	BaseURL string        // default: https://dashscope.aliyuncs.com
	Timeout time.Duration // default: 60s
}

// DashScopeClient implements TextGenerator using the DashScope
// text-generation API.
type DashScopeClient struct {
	cfg     DashScopeConfig
	client  *http.Client
	breaker *CircuitBreaker
}

// NewDashScopeClient creates a new DashScope chat client.
func NewDashScopeClient(cfg DashScopeConfig) *DashScopeClient {
	if cfg.Model == "" {
		cfg.Model = "qwen-plus"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = dashScopeDefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &DashScopeClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: NewCircuitBreaker("dashscope-chat"),
	}
}

type dashScopeChatRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []Message `json:"messages"`
	} `json:"input"`
	Parameters struct {
		ResultFormat string `json:"result_format"`
	} `json:"parameters"`
}

type dashScopeChatResponse struct {
	Output struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Generate sends a chat request to DashScope and returns the reply text.
func (c *DashScopeClient) Generate(ctx context.Context, messages []Message, instruction string) (string, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.chat(ctx, messages, instruction)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("dashscope circuit breaker open: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *DashScopeClient) chat(ctx context.Context, messages []Message, instruction string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reqBody dashScopeChatRequest
	reqBody.Model = c.cfg.Model
	reqBody.Parameters.ResultFormat = "message"
	if instruction != "" {
		reqBody.Input.Messages = append(reqBody.Input.Messages, Message{Role: "system", Content: instruction})
	}
	reqBody.Input.Messages = append(reqBody.Input.Messages, messages...)

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := c.cfg.BaseURL + "/api/v1/services/aigc/text-generation/generation"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("dashscope chat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}

	var parsed dashScopeChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || parsed.Code != "" {
		return "", fmt.Errorf("dashscope chat error (status %d, code %q): %s", resp.StatusCode, parsed.Code, parsed.Message)
	}

	if len(parsed.Output.Choices) == 0 {
		return "", fmt.Errorf("dashscope chat returned no choices")
	}

	return parsed.Output.Choices[0].Message.Content, nil
}

// Model returns the configured chat model name.
func (c *DashScopeClient) Model() string {
	return c.cfg.Model
}

// DashScopeEmbedderConfig holds configuration for the DashScope embedding client.
type DashScopeEmbedderConfig struct {
	APIKey    string
	Model     string        // default: text-embedding-v3
	BaseURL   string        // default: https://dashscope.aliyuncs.com
	Dimension int           // default: model-dependent
	Timeout   time.Duration // default: 30s
}

// dashScopeEmbeddingDimensions maps known embedding models to their vector size.
var dashScopeEmbeddingDimensions = map[string]int{
	"text-embedding-v1": 1536,
	"text-embedding-v2": 1536,
	"text-embedding-v3": 1024,
}

// DashScopeEmbedder implements EmbeddingProvider using the DashScope
// text-embedding API. The API accepts at most 25 texts per call.
type DashScopeEmbedder struct {
	cfg     DashScopeEmbedderConfig
	client  *http.Client
	breaker *CircuitBreaker
}

// NewDashScopeEmbedder creates a new DashScope embedding provider.
func NewDashScopeEmbedder(cfg DashScopeEmbedderConfig) *DashScopeEmbedder {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-v3"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = dashScopeDefaultBaseURL
	}
	if cfg.Dimension == 0 {
		if d, ok := dashScopeEmbeddingDimensions[cfg.Model]; ok {
			cfg.Dimension = d
		} else {
			cfg.Dimension = 1024
		}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &DashScopeEmbedder{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: NewCircuitBreaker("dashscope-embed"),
	}
}

type dashScopeEmbedRequest struct {
	Model string `json:"model"`
	Input struct {
		Texts []string `json:"texts"`
	} `json:"input"`
}

type dashScopeEmbedResponse struct {
	Output struct {
		Embeddings []struct {
			TextIndex int       `json:"text_index"`
			Embedding []float64 `json:"embedding"`
		} `json:"embeddings"`
	} `json:"output"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Name identifies the provider.
func (e *DashScopeEmbedder) Name() string { return "dashscope" }

// Model returns the embedding model name.
func (e *DashScopeEmbedder) Model() string { return e.cfg.Model }

// Dimension returns the fixed vector size of the embedding model.
func (e *DashScopeEmbedder) Dimension() int { return e.cfg.Dimension }

// MaxBatchSize bounds EmbedBatch input size per call.
func (e *DashScopeEmbedder) MaxBatchSize() int { return 25 }

// Embed vectorizes a single text.
func (e *DashScopeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("dashscope embed returned no embeddings")
	}
	return vecs[0], nil
}

// EmbedBatch vectorizes up to MaxBatchSize texts in one call.
func (e *DashScopeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > e.MaxBatchSize() {
		return nil, fmt.Errorf("batch of %d exceeds dashscope limit of %d", len(texts), e.MaxBatchSize())
	}

	result, err := e.breaker.Execute(ctx, func() (interface{}, error) {
		return e.embed(ctx, texts)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("dashscope circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.([][]float64), nil
}

func (e *DashScopeEmbedder) embed(ctx context.Context, texts []string) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var reqBody dashScopeEmbedRequest
	reqBody.Model = e.cfg.Model
	reqBody.Input.Texts = texts

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	url := e.cfg.BaseURL + "/api/v1/services/embeddings/text-embedding/text-embedding"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dashscope embed request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read embed response: %w", err)
	}

	var parsed dashScopeEmbedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embed response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || parsed.Code != "" {
		return nil, fmt.Errorf("dashscope embed error (status %d, code %q): %s", resp.StatusCode, parsed.Code, parsed.Message)
	}

	if len(parsed.Output.Embeddings) != len(texts) {
		return nil, fmt.Errorf("dashscope embed returned %d vectors for %d texts", len(parsed.Output.Embeddings), len(texts))
	}

	vecs := make([][]float64, len(texts))
	for _, d := range parsed.Output.Embeddings {
		if d.TextIndex < 0 || d.TextIndex >= len(texts) {
			return nil, fmt.Errorf("dashscope embed returned out-of-range index %d", d.TextIndex)
		}
		vecs[d.TextIndex] = d.Embedding
	}
	return vecs, nil
}
