package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend serves Claude models.
type AnthropicBackend struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicBackend creates a backend with its own API client.
func NewAnthropicBackend(apiKey, model string) *AnthropicBackend {
	return &AnthropicBackend{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: 4096,
	}
}

// Name implements Backend.
func (a *AnthropicBackend) Name() string { return "anthropic:" + string(a.model) }

// Generate implements Backend.
func (a *AnthropicBackend) Generate(ctx context.Context, prompt string) Result {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Classify("", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return Classify(b.String(), nil)
}
