// Package llm provides the language-model and embedding-provider collaborators
// consumed by the memory and summary services: HTTP clients for Ollama, OpenAI
// and DashScope, the fixed instruction prompts, and the tolerant JSON reply
// parsers. All outbound calls run through a circuit breaker; the package
// never retries a failed call itself.
package llm

import "context"

// Message is one chat message sent to a text generator.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TextGenerator is the language-model collaborator used for importance
// classification, retrieval hints and model-based summarization.
// The instruction becomes the system message of the request.
type TextGenerator interface {
	Generate(ctx context.Context, messages []Message, instruction string) (string, error)
	Model() string
}

// EmbeddingProvider turns text into a fixed-length vector. Implementations
// identify themselves by name and fixed dimensionality; EmbedBatch accepts at
// most MaxBatchSize texts per call (callers chunk larger batches).
type EmbeddingProvider interface {
	Name() string
	Model() string
	Dimension() int
	MaxBatchSize() int
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}
