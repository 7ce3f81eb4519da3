// services/provider_factory.go
package services

import (
	"strings"

	"github.com/geopulse/geo-workflows/internal/config"
)

// NewProviderForModel picks the provider implementation that serves the
// given model name.
func NewProviderForModel(cfg *config.Config, model string, costService CostService) CompletionProvider {
	switch {
	case strings.HasPrefix(model, "gemini"):
		return NewGeminiProvider(cfg, model, costService)
	case strings.HasPrefix(model, "claude"):
		return NewAnthropicProvider(cfg, model, costService)
	default:
		return NewOpenAIProvider(cfg, model, costService)
	}
}
