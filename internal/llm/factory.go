package llm

import (
	"fmt"
	"log/slog"

	"github.com/1thirteeng3/rlm/internal/errdefs"
)

// ProviderConfig is the subset of configuration a provider needs.
type ProviderConfig struct {
	Provider string // "openai", "anthropic", or "gemini".
	APIKey   string
	Model    string
	BaseURL  string // Optional override; OpenAI-compatible or Gemini-compatible endpoint.
}

// NewProvider builds the configured provider.
func NewProvider(cfg ProviderConfig, logger *slog.Logger) (Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: llm model is required", errdefs.ErrConfiguration)
	}
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL, logger), nil
	case "anthropic":
		return NewAnthropicClient(cfg.APIKey, cfg.Model, logger), nil
	case "gemini":
		return NewGeminiClient(cfg.APIKey, cfg.Model, cfg.BaseURL, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q (use openai, anthropic, or gemini)",
			errdefs.ErrConfiguration, cfg.Provider)
	}
}
