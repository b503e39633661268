package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// Provider names accepted in a priority entry.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ModelRef names one entry of the priority list.
type ModelRef struct {
	Provider string
	Model    string
}

func (m ModelRef) String() string { return m.Provider + ":" + m.Model }

// DefaultPriority is the ranked list used when MODEL_PRIORITY is unset.
var DefaultPriority = []ModelRef{
	{ProviderGemini, "gemini-2.5-flash"},
	{ProviderGemini, "gemini-3-flash"},
	{ProviderGemini, "gemini-2.5-flash-lite"},
	{ProviderGemini, "gemma-3-27b-it"},
	{ProviderGemini, "gemma-3-12b-it"},
	{ProviderGemini, "gemma-3-4b-it"},
	{ProviderGemini, "gemma-3-2b-it"},
	{ProviderGemini, "gemma-3-1b-it"},
}

// ParsePriority parses a comma-separated list of "provider:model" entries.
// Bare names are Gemini models. An empty input yields DefaultPriority.
func ParsePriority(raw string) ([]ModelRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		out := make([]ModelRef, len(DefaultPriority))
		copy(out, DefaultPriority)
		return out, nil
	}

	var out []ModelRef
	seen := make(map[ModelRef]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ref := ModelRef{Provider: ProviderGemini, Model: part}
		if provider, model, ok := strings.Cut(part, ":"); ok {
			ref = ModelRef{Provider: strings.ToLower(strings.TrimSpace(provider)), Model: strings.TrimSpace(model)}
		}
		switch ref.Provider {
		case ProviderGemini, ProviderOpenAI, ProviderAnthropic:
		default:
			return nil, fmt.Errorf("model priority entry %q: unknown provider %q", part, ref.Provider)
		}
		if ref.Model == "" {
			return nil, fmt.Errorf("model priority entry %q: missing model name", part)
		}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("model priority %q has no entries", raw)
	}
	return out, nil
}

// Credentials holds the provider keys known to the process.
type Credentials struct {
	GeminiAPIKey    string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
}

// BuildBackends instantiates the priority list, skipping entries whose
// provider has no credentials. The returned backends are stateless and may
// be shared by many FallbackClients.
func BuildBackends(ctx context.Context, refs []ModelRef, creds Credentials) ([]Backend, error) {
	var (
		backends     []Backend
		skipped      []string
		geminiClient *genai.Client
		openaiShared *openai.Client
	)
	if creds.GeminiAPIKey != "" && uses(refs, ProviderGemini) {
		c, err := NewGeminiClient(ctx, creds.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		geminiClient = c
	}
	if creds.OpenAIAPIKey != "" && uses(refs, ProviderOpenAI) {
		openaiShared = NewOpenAIClient(creds.OpenAIAPIKey, creds.OpenAIBaseURL)
	}

	for _, ref := range refs {
		switch ref.Provider {
		case ProviderGemini:
			if geminiClient == nil {
				skipped = append(skipped, ref.String())
				continue
			}
			backends = append(backends, NewGeminiBackend(geminiClient, ref.Model))
		case ProviderOpenAI:
			if openaiShared == nil {
				skipped = append(skipped, ref.String())
				continue
			}
			backends = append(backends, NewOpenAIBackend(openaiShared, ref.Model))
		case ProviderAnthropic:
			if creds.AnthropicAPIKey == "" {
				skipped = append(skipped, ref.String())
				continue
			}
			backends = append(backends, NewAnthropicBackend(creds.AnthropicAPIKey, ref.Model))
		}
	}

	if len(skipped) > 0 {
		slog.Warn("Skipping models without credentials", "models", skipped)
	}
	return backends, nil
}

func uses(refs []ModelRef, provider string) bool {
	for _, ref := range refs {
		if ref.Provider == provider {
			return true
		}
	}
	return false
}
