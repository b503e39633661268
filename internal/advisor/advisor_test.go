package advisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/incubator/internal/domain"
	"github.com/ashureev/incubator/internal/llm"
	"github.com/ashureev/incubator/internal/questions"
)

type fakeGenerator struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", llm.ErrEmptyResponse
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r, nil
}

const planJSON = "Sure:\n```json\n" + `{
  "problem_statement": "Small shops lose sales to stockouts",
  "value_proposition": "Automatic reordering",
  "target_market": "Independent grocers in Spain",
  "revenue_model": "Monthly subscription",
  "cost_analysis": "Two engineers for six months",
  "technical_feasibility": "Standard POS integrations",
  "risks_analysis": "POS vendor lock-in",
  "scalability_potential": "High",
  "validation_strategy": "Pilot with 10 shops",
  "overall_assessment": "Promising",
  "viability_score": 140,
  "recommendation": "maybe"
}` + "\n```"

func newAdvisor() *Advisor {
	return New(nil, "https://example.com/book", nil)
}

func TestEvaluateAmbiguity(t *testing.T) {
	gen := &fakeGenerator{replies: []string{`{"variability_score": 20, "requires_clarification": false, "unclear_aspects": ["pricing"]}`}}
	got := newAdvisor().EvaluateAmbiguity(context.Background(), gen, "A subscription app for dog walkers in Madrid")

	assert.Equal(t, 20.0, got.VariabilityScore)
	assert.False(t, got.RequiresClarification)
	assert.Equal(t, []string{"pricing"}, got.UnclearAspects)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "dog walkers in Madrid")
}

func TestEvaluateAmbiguityDefaults(t *testing.T) {
	a := newAdvisor()

	got := a.EvaluateAmbiguity(context.Background(), &fakeGenerator{err: errors.New("down")}, "some idea here")
	assert.Equal(t, Ambiguity{VariabilityScore: 50, RequiresClarification: true}, got)

	got = a.EvaluateAmbiguity(context.Background(), &fakeGenerator{replies: []string{"no json"}}, "some idea here")
	assert.Equal(t, Ambiguity{VariabilityScore: 50, RequiresClarification: true}, got)

	got = a.EvaluateAmbiguity(context.Background(), &fakeGenerator{replies: []string{`{"unclear_aspects": []}`}}, "some idea here")
	assert.Equal(t, 50.0, got.VariabilityScore)
	assert.True(t, got.RequiresClarification)
}

func TestClarifyingQuestionsDeduplicates(t *testing.T) {
	gen := &fakeGenerator{replies: []string{`{"questions": ["Who pays?", "who  PAYS", "How big is the market?", "not a question"]}`}}
	got := newAdvisor().ClarifyingQuestions(context.Background(), gen, "an idea worth testing", 3, nil)

	require.Len(t, got, 3)
	assert.Equal(t, "Who pays?", got[0])
	assert.Equal(t, "How big is the market?", got[1])
	// The third slot is topped up from the bank.
	assert.Equal(t, questions.DefaultBank().Questions[0], got[2])
}

func TestClarifyingQuestionsFallsBackToBank(t *testing.T) {
	got := newAdvisor().ClarifyingQuestions(context.Background(), &fakeGenerator{err: llm.ErrAllBackendsExhausted}, "an idea worth testing", 3, nil)
	assert.Equal(t, questions.DefaultBank().Initial, got)
}

func TestNextQuestion(t *testing.T) {
	a := newAdvisor()
	asked := []string{"What is your target market?"}

	q, err := a.NextQuestion(context.Background(), &fakeGenerator{replies: []string{"How will you price it?"}}, QuestionRequest{Idea: "an idea worth testing", Turn: 1, Asked: asked})
	require.NoError(t, err)
	assert.Equal(t, "How will you price it?", q)

	q, err = a.NextQuestion(context.Background(), &fakeGenerator{replies: []string{"what is your TARGET market??"}}, QuestionRequest{Idea: "an idea worth testing", Turn: 2, Asked: asked})
	require.NoError(t, err)
	assert.False(t, questions.IsDuplicate(q, asked))

	q, err = a.NextQuestion(context.Background(), &fakeGenerator{err: errors.New("boom")}, QuestionRequest{Idea: "an idea worth testing", Turn: 2, Asked: asked})
	require.NoError(t, err)
	assert.Equal(t, a.Bank().Questions[0], q)
}

func TestBusinessPlan(t *testing.T) {
	plan, err := newAdvisor().BusinessPlan(context.Background(), &fakeGenerator{replies: []string{planJSON}}, "an idea worth testing", "user: answers")
	require.NoError(t, err)

	assert.Equal(t, 100, plan.ViabilityScore)
	assert.Equal(t, domain.RecommendViable, plan.Recommendation)
	assert.Equal(t, "Monthly subscription", plan.RevenueModel)
	assert.False(t, plan.IsFallback)
}

func TestBusinessPlanFailures(t *testing.T) {
	a := newAdvisor()

	_, err := a.BusinessPlan(context.Background(), &fakeGenerator{err: llm.ErrAllBackendsExhausted}, "an idea worth testing", "")
	assert.ErrorIs(t, err, llm.ErrAllBackendsExhausted)

	_, err = a.BusinessPlan(context.Background(), &fakeGenerator{replies: []string{"I cannot help with that"}}, "an idea worth testing", "")
	assert.Error(t, err)

	_, err = a.BusinessPlan(context.Background(), &fakeGenerator{replies: []string{`{"viability_score": 50}`}}, "an idea worth testing", "")
	assert.ErrorIs(t, err, domain.ErrEmptyPlan)
}

func TestPivotAnalysis(t *testing.T) {
	reply := `{"analysis": "No clear buyer", "pivots": [{"title": "B2B", "description": "Sell to chains", "key_changes": ["pricing"], "improved_score_estimate": 65}]}`
	got, err := newAdvisor().PivotAnalysis(context.Background(), &fakeGenerator{replies: []string{reply}}, "an idea worth testing", []string{"Market"})
	require.NoError(t, err)
	require.Len(t, got.Pivots, 1)
	assert.Equal(t, 65, got.Pivots[0].ImprovedScoreEstimate)
	assert.Contains(t, got.Render(), "Pivot 1: B2B")
}

func TestChatReplyPropagatesErrors(t *testing.T) {
	_, err := newAdvisor().ChatReply(context.Background(), &fakeGenerator{err: llm.ErrAllBackendsExhausted}, ChatRequest{Idea: "an idea worth testing", Message: "and now?"})
	assert.ErrorIs(t, err, llm.ErrAllBackendsExhausted)
}

func TestClosingMessage(t *testing.T) {
	a := newAdvisor()

	green := &domain.BusinessPlan{ViabilityScore: 80, Recommendation: domain.RecommendViable}
	assert.True(t, strings.HasPrefix(a.ClosingMessage(green), "Your project is viable."))

	red := &domain.BusinessPlan{ViabilityScore: 20, Recommendation: domain.RecommendNotViable}
	msg := a.ClosingMessage(red)
	assert.True(t, strings.HasPrefix(msg, "We detected critical risks."))
	assert.Contains(t, msg, "https://example.com/book")

	assert.True(t, strings.HasPrefix(a.ClosingMessage(nil), "We detected critical risks."))
}
