package narrative

import (
	"fmt"
	"strings"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

type ModelConfig struct {
	Provider         string
	Model            string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	GeminiAPIKey     string
}

// NewModel selects a backend by provider name. An empty provider means
// anthropic. Missing keys are not an error here; Generator reports them.
func NewModel(cfg ModelConfig) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderAnthropic:
		return NewAnthropicModel(AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			BaseURL: cfg.AnthropicBaseURL,
			Model:   cfg.Model,
		}), nil
	case ProviderGemini:
		return NewGeminiModel(cfg.GeminiAPIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("narrative: unknown provider %q", cfg.Provider)
	}
}
