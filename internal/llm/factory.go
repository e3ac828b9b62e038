package llm

import "fmt"

// ProviderConfig selects and configures the model backends. The provider set
// is closed and chosen once at process start; there is no per-call selection.
type ProviderConfig struct {
	// Provider is one of "ollama", "openai", "dashscope".
	Provider string

	// APIKey authenticates hosted providers (unused by ollama).
	APIKey string

	// BaseURL overrides the provider endpoint (optional).
	BaseURL string

	// Model is the chat model name (optional, provider default applies).
	Model string

	// EmbeddingModel is the embedding model name (optional).
	EmbeddingModel string

	// EmbeddingDimension overrides the vector size for unknown models.
	EmbeddingDimension int
}

// NewTextGenerator creates the chat client for the configured provider.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL}), nil
	case "dashscope":
		return NewDashScopeClient(DashScopeConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbeddingProvider creates the embedding client for the configured
// provider.
func NewEmbeddingProvider(cfg ProviderConfig) (EmbeddingProvider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbedder(OpenAIEmbedderConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.EmbeddingModel,
			BaseURL:   cfg.BaseURL,
			Dimension: cfg.EmbeddingDimension,
		}), nil
	case "dashscope":
		return NewDashScopeEmbedder(DashScopeEmbedderConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.EmbeddingModel,
			BaseURL:   cfg.BaseURL,
			Dimension: cfg.EmbeddingDimension,
		}), nil
	case "ollama", "":
		return NewOllamaEmbedder(OllamaEmbedderConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.EmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}
