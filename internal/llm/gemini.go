package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiBackend serves Gemini and Gemma models through the Gemini API.
type GeminiBackend struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

// NewGeminiClient creates the shared API client for all Gemini backends.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}

// NewGeminiBackend binds a model name to a shared client.
func NewGeminiBackend(client *genai.Client, model string) *GeminiBackend {
	return &GeminiBackend{client: client, model: model, temperature: 0.7, maxTokens: 4096}
}

// Name implements Backend.
func (g *GeminiBackend) Name() string { return "gemini:" + g.model }

// Generate implements Backend.
func (g *GeminiBackend) Generate(ctx context.Context, prompt string) Result {
	temp := g.temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: g.maxTokens,
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	res, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return Classify("", err)
	}
	return Classify(res.Text(), nil)
}
