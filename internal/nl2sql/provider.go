package nl2sql

import (
	"fmt"

	"github.com/querypilot/querypilot/internal/config"
)

// NewGenerator builds the backend selected by cfg.Provider.
func NewGenerator(cfg config.AIConfig) (Generator, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiGenerator(GeminiConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case config.ProviderOpenAI:
		return NewOpenAIGenerator(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}
