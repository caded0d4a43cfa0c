// Package llm adapts hosted text-generation services to a single
// prompt-in, text-out call.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/hugh/quanty/pkg/config"
)

const defaultMaxTokens = 1024

// ErrEmptyResponse is returned when a provider answers without text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Provider generates text from a system instruction and a user prompt.
type Provider interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	Name() string
}

// New builds the provider selected by cfg. It returns nil, nil when no
// provider is configured.
func New(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: anthropic requires an API key")
		}
		return NewAnthropicProvider(cfg.APIKey, cfg.Model), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: openai requires an API key")
		}
		return NewOpenAIProvider(cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
