package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// OpenAIBackend serves chat-completion models from OpenAI or any
// OpenAI-compatible endpoint.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client; baseURL may be empty for api.openai.com.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// NewOpenAIBackend binds a model name to a shared client.
func NewOpenAIBackend(client *openai.Client, model string) *OpenAIBackend {
	return &OpenAIBackend{client: client, model: model}
}

// Name implements Backend.
func (o *OpenAIBackend) Name() string { return "openai:" + o.model }

// Generate implements Backend.
func (o *OpenAIBackend) Generate(ctx context.Context, prompt string) Result {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return Classify("", err)
	}
	if len(resp.Choices) == 0 {
		return Failure(ErrEmptyResponse)
	}
	return Classify(resp.Choices[0].Message.Content, nil)
}
