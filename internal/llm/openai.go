package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/roelfdiedericks/discordbridge/internal/logging"
)

// OpenAIProvider calls an OpenAI-compatible chat completions endpoint.
// BaseURL makes it work with OpenRouter, LM Studio, Ollama and friends.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai API key not configured")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	logging.L_debug("llm: openai provider ready", "model", model, "baseURL", config.BaseURL)
	return &OpenAIProvider{client: openai.NewClientWithConfig(config), model: model}, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// SimpleMessage implements Provider.
func (p *OpenAIProvider) SimpleMessage(ctx context.Context, userMessage, systemPrompt string) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userMessage})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.model,
		MaxTokens: titleMaxTokens,
		Messages:  msgs,
	})
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
