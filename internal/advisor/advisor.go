// Package advisor turns a business idea and its conversation into model
// prompts and typed results. Every method degrades to a static answer when
// generation or parsing fails so callers always have something to show.
package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/incubator/internal/domain"
	"github.com/ashureev/incubator/internal/extract"
	"github.com/ashureev/incubator/internal/llm"
	"github.com/ashureev/incubator/internal/questions"
	"github.com/ashureev/incubator/internal/sanitize"
)

// Defaults applied when the model gives no usable ambiguity rating.
const (
	DefaultVariabilityScore      = 50
	DefaultRequiresClarification = true
)

// Advisor builds prompts and parses model output. It holds no per-session
// state and is safe for concurrent use.
type Advisor struct {
	bank          *questions.Bank
	schedulingURL string
	logger        *slog.Logger
}

// New creates an Advisor. A nil bank uses the embedded default.
func New(bank *questions.Bank, schedulingURL string, logger *slog.Logger) *Advisor {
	if bank == nil {
		bank = questions.DefaultBank()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Advisor{bank: bank, schedulingURL: schedulingURL, logger: logger}
}

// Bank returns the fallback question bank.
func (a *Advisor) Bank() *questions.Bank { return a.bank }

// Ambiguity is the model's rating of how vague an idea is.
type Ambiguity struct {
	VariabilityScore      float64  `json:"variability_score"`
	RequiresClarification bool     `json:"requires_clarification"`
	UnclearAspects        []string `json:"unclear_aspects,omitempty"`
}

// EvaluateAmbiguity rates idea. Any failure yields the defaults.
func (a *Advisor) EvaluateAmbiguity(ctx context.Context, gen llm.Generator, idea string) Ambiguity {
	fallback := Ambiguity{VariabilityScore: DefaultVariabilityScore, RequiresClarification: DefaultRequiresClarification}

	prompt, err := a.prompt("ambiguity", idea, func(clean string) any {
		return struct{ Idea string }{clean}
	})
	if err != nil {
		a.logger.Error("Ambiguity prompt failed", "error", err)
		return fallback
	}

	text, err := gen.Generate(ctx, prompt)
	if err != nil {
		a.logger.Error("Ambiguity evaluation failed", "error", err)
		return fallback
	}

	var raw struct {
		VariabilityScore      *float64 `json:"variability_score"`
		RequiresClarification *bool    `json:"requires_clarification"`
		UnclearAspects        []string `json:"unclear_aspects"`
	}
	if err := extract.Into(text, &raw); err != nil {
		a.logger.Warn("Ambiguity response unparseable", "error", err)
		return fallback
	}

	out := fallback
	if raw.VariabilityScore != nil {
		out.VariabilityScore = max(0, min(100, *raw.VariabilityScore))
	}
	if raw.RequiresClarification != nil {
		out.RequiresClarification = *raw.RequiresClarification
	}
	out.UnclearAspects = raw.UnclearAspects
	return out
}

// ClarifyingQuestions asks the model for n opening questions, deduplicated
// against asked and topped up from the bank. It never fails.
func (a *Advisor) ClarifyingQuestions(ctx context.Context, gen llm.Generator, idea string, n int, asked []string) []string {
	var candidates []string

	prompt, err := a.prompt("questions", idea, func(clean string) any {
		return struct {
			System string
			Idea   string
			Count  int
			Bank   []string
		}{systemPrompt, clean, n, a.bank.Questions}
	})
	if err == nil {
		candidates, err = a.questionBatch(ctx, gen, prompt)
	}
	if err != nil {
		a.logger.Warn("Using bank for opening questions", "error", err)
		candidates = a.bank.Initial
	}

	var valid []string
	for _, c := range candidates {
		if questions.IsQuestion(c) {
			valid = append(valid, strings.TrimSpace(c))
		}
	}
	out := questions.Unique(valid, asked)
	if len(out) > n {
		out = out[:n]
	}

	seen := append(append([]string{}, asked...), out...)
	for len(out) < n {
		q, err := questions.Resolve("", seen, a.bank.Questions)
		if err != nil {
			break
		}
		out = append(out, q)
		seen = append(seen, q)
	}
	return out
}

func (a *Advisor) questionBatch(ctx context.Context, gen llm.Generator, prompt string) ([]string, error) {
	text, err := gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	raw, err := extract.JSON(text)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Questions []string `json:"questions"`
	}
	if err := extract.Into(string(raw), &wrapped); err == nil && len(wrapped.Questions) > 0 {
		return wrapped.Questions, nil
	}
	var list []string
	if err := extract.Into(string(raw), &list); err == nil && len(list) > 0 {
		return list, nil
	}
	return nil, fmt.Errorf("question batch: %w", extract.ErrMalformedJSON)
}

// QuestionRequest carries the context for one follow-up question.
type QuestionRequest struct {
	Idea       string
	Transcript string
	Turn       int
	Asked      []string
}

// NextQuestion asks the model for one follow-up and resolves it against the
// questions already asked. A failed generation resolves from the bank and a
// narrative reply is returned as is. questions.ErrNoUniqueQuestion means
// both sources are used up.
func (a *Advisor) NextQuestion(ctx context.Context, gen llm.Generator, req QuestionRequest) (string, error) {
	candidate := ""

	prompt, err := a.prompt("next_question", req.Idea, func(clean string) any {
		return struct {
			System     string
			Idea       string
			Transcript string
			Turn       int
			Asked      []string
		}{systemPrompt, clean, req.Transcript, req.Turn, lastN(req.Asked, 8)}
	})
	if err == nil {
		candidate, err = gen.Generate(ctx, prompt)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		a.logger.Warn("Follow-up question generation failed, using bank", "error", err)
		candidate = ""
	}

	candidate = strings.TrimSpace(strings.Trim(strings.TrimSpace(candidate), "`"))
	return questions.Resolve(candidate, req.Asked, a.bank.Questions)
}

// BusinessPlan generates and validates a viability report. On any error the
// returned plan is nil and callers show domain.FallbackPlan.
func (a *Advisor) BusinessPlan(ctx context.Context, gen llm.Generator, idea, clarifications string) (*domain.BusinessPlan, error) {
	prompt, err := a.prompt("plan", idea, func(clean string) any {
		return struct {
			System         string
			Idea           string
			Clarifications string
		}{systemPrompt, clean, clarifications}
	})
	if err != nil {
		return nil, err
	}

	text, err := gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate business plan: %w", err)
	}

	var plan domain.BusinessPlan
	if err := extract.Into(text, &plan); err != nil {
		return nil, fmt.Errorf("parse business plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("validate business plan: %w", err)
	}
	plan.IsFallback = false
	return &plan, nil
}

// PivotAnalysis proposes pivots for the failing pillars of a plan.
func (a *Advisor) PivotAnalysis(ctx context.Context, gen llm.Generator, idea string, failing []string) (*domain.PivotAnalysis, error) {
	prompt, err := a.prompt("pivots", idea, func(clean string) any {
		return struct {
			System  string
			Idea    string
			Failing []string
		}{systemPrompt, clean, failing}
	})
	if err != nil {
		return nil, err
	}

	text, err := gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate pivots: %w", err)
	}

	var analysis domain.PivotAnalysis
	if err := extract.Into(text, &analysis); err != nil {
		return nil, fmt.Errorf("parse pivots: %w", err)
	}
	if strings.TrimSpace(analysis.Analysis) == "" && len(analysis.Pivots) == 0 {
		return nil, fmt.Errorf("parse pivots: %w", domain.ErrEmptyPlan)
	}
	for i := range analysis.Pivots {
		p := &analysis.Pivots[i]
		p.ImprovedScoreEstimate = max(0, min(100, p.ImprovedScoreEstimate))
	}
	return &analysis, nil
}

// ChatRequest carries the context for a free-form reply.
type ChatRequest struct {
	Idea       string
	Report     string
	Transcript string
	Message    string
}

// ChatReply answers a free-form message. Unlike reports it has no static
// fallback; errors are returned to the caller.
func (a *Advisor) ChatReply(ctx context.Context, gen llm.Generator, req ChatRequest) (string, error) {
	prompt, err := a.prompt("chat", req.Idea, func(clean string) any {
		return struct {
			System     string
			Idea       string
			Report     string
			Transcript string
			Message    string
		}{systemPrompt, clean, req.Report, req.Transcript, req.Message}
	})
	if err != nil {
		return "", err
	}

	text, err := gen.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate chat reply: %w", err)
	}
	text = strings.TrimSpace(strings.Trim(strings.TrimSpace(text), "`"))
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}

// ClosingMessage is the call to action appended when a session locks. The
// wording depends on the plan's traffic light; a missing plan counts as red.
func (a *Advisor) ClosingMessage(plan *domain.BusinessPlan) string {
	var b strings.Builder
	if plan != nil && !plan.IsFallback && plan.Light() == "green" {
		b.WriteString("Your project is viable. Let's schedule a call to review development costs.")
	} else {
		b.WriteString("We detected critical risks. Let's schedule a call to pivot the idea before you lose money.")
	}
	if a.schedulingURL != "" {
		b.WriteString(" Book here: ")
		b.WriteString(a.schedulingURL)
	}
	b.WriteString(" This chat is now closed.")
	return b.String()
}

// prompt sanitizes the idea before it is placed in a template.
func (a *Advisor) prompt(name, idea string, data func(clean string) any) (string, error) {
	clean, err := sanitize.Sanitize(idea)
	if err != nil {
		return "", fmt.Errorf("%s prompt: %w", name, err)
	}
	return render(name, data(clean))
}

func lastN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
