// Package llm provides the small language-model surface the bridge needs:
// one-shot completions used to title Discord threads.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/roelfdiedericks/discordbridge/internal/logging"
)

// Provider sends a single prompt and returns the text reply.
type Provider interface {
	Name() string
	SimpleMessage(ctx context.Context, userMessage, systemPrompt string) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string // "anthropic" or "openai"
	APIKey   string
	Model    string
	BaseURL  string
}

// Default models per provider.
const (
	DefaultAnthropicModel = "claude-haiku-4-5"
	DefaultOpenAIModel    = "gpt-4o-mini"
)

// titleMaxTokens bounds replies; titles are a handful of words.
const titleMaxTokens = 64

// New builds the configured provider. An empty provider name returns
// (nil, nil): naming then falls back to manual and agent-assigned names.
func New(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "":
		logging.L_debug("llm: no provider configured")
		return nil, nil
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "openai":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
