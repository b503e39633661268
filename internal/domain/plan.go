package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Recommendation is the categorical verdict of a viability report.
type Recommendation string

const (
	RecommendViable    Recommendation = "viable"
	RecommendPivot     Recommendation = "needs_pivot"
	RecommendNotViable Recommendation = "not_viable"
)

// ErrEmptyPlan is returned by Validate when a model produced no usable content.
var ErrEmptyPlan = errors.New("business plan has no content")

// BusinessPlan is the viability report of an idea, evaluated against nine pillars.
type BusinessPlan struct {
	ProblemStatement     string         `json:"problem_statement"`
	ValueProposition     string         `json:"value_proposition"`
	TargetMarket         string         `json:"target_market"`
	RevenueModel         string         `json:"revenue_model"`
	CostAnalysis         string         `json:"cost_analysis"`
	TechnicalFeasibility string         `json:"technical_feasibility"`
	RisksAnalysis        string         `json:"risks_analysis"`
	ScalabilityPotential string         `json:"scalability_potential"`
	ValidationStrategy   string         `json:"validation_strategy"`
	OverallAssessment    string         `json:"overall_assessment"`
	ViabilityScore       int            `json:"viability_score"`
	Recommendation       Recommendation `json:"recommendation"`
	PivotSuggestions     []string       `json:"pivot_suggestions,omitempty"`
	IsFallback           bool           `json:"is_fallback,omitempty"`
}

// PillarValue is one evaluated pillar of a plan.
type PillarValue struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Pillars returns the nine pillars in presentation order.
func (p *BusinessPlan) Pillars() []PillarValue {
	return []PillarValue{
		{"problem_statement", "Real Problem", p.ProblemStatement},
		{"value_proposition", "Value Proposition", p.ValueProposition},
		{"target_market", "Market", p.TargetMarket},
		{"revenue_model", "Revenue Model", p.RevenueModel},
		{"cost_analysis", "Costs", p.CostAnalysis},
		{"technical_feasibility", "Technical Feasibility", p.TechnicalFeasibility},
		{"risks_analysis", "Risks", p.RisksAnalysis},
		{"scalability_potential", "Scalability", p.ScalabilityPotential},
		{"validation_strategy", "Validation", p.ValidationStrategy},
	}
}

// Validate normalizes a plan decoded from model output. The score is clamped
// to 0..100 and an unknown recommendation is derived from the score.
func (p *BusinessPlan) Validate() error {
	empty := strings.TrimSpace(p.OverallAssessment) == ""
	for _, pv := range p.Pillars() {
		if strings.TrimSpace(pv.Text) != "" {
			empty = false
			break
		}
	}
	if empty {
		return ErrEmptyPlan
	}

	p.ViabilityScore = max(0, min(100, p.ViabilityScore))

	switch p.Recommendation {
	case RecommendViable, RecommendPivot, RecommendNotViable:
	default:
		p.Recommendation = recommendationFor(p.ViabilityScore)
	}
	return nil
}

func recommendationFor(score int) Recommendation {
	switch {
	case score >= 70:
		return RecommendViable
	case score >= 40:
		return RecommendPivot
	default:
		return RecommendNotViable
	}
}

// Light is the traffic-light summary of a plan: green, yellow or red.
func (p *BusinessPlan) Light() string {
	switch p.Recommendation {
	case RecommendViable:
		return "green"
	case RecommendPivot:
		return "yellow"
	default:
		return "red"
	}
}

// FailingPillars lists the titles of pillars that were left undefined or
// flagged as unclear. A low-scoring plan with no such pillar reports the
// pillars every pivot has to revisit.
func (p *BusinessPlan) FailingPillars() []string {
	var failing []string
	for _, pv := range p.Pillars() {
		text := strings.ToLower(strings.TrimSpace(pv.Text))
		if text == "" || text == "to be defined" ||
			strings.Contains(text, "unclear") || strings.Contains(text, "insufficient") {
			failing = append(failing, pv.Title)
		}
	}
	if len(failing) == 0 && p.ViabilityScore < 60 {
		failing = []string{"Value Proposition", "Market", "Revenue Model"}
	}
	return failing
}

// Render formats the plan as the text shown in chat.
func (p *BusinessPlan) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Viability report: %d/100 (%s)\n\n", p.ViabilityScore, p.Recommendation)
	for _, pv := range p.Pillars() {
		text := strings.TrimSpace(pv.Text)
		if text == "" {
			text = "To be defined"
		}
		fmt.Fprintf(&b, "%s: %s\n", pv.Title, text)
	}
	if s := strings.TrimSpace(p.OverallAssessment); s != "" {
		fmt.Fprintf(&b, "\nOverall: %s\n", s)
	}
	if len(p.PivotSuggestions) > 0 {
		b.WriteString("\nSuggested pivots:\n")
		for _, s := range p.PivotSuggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FallbackPlan is returned whenever a report cannot be generated or parsed.
func FallbackPlan() *BusinessPlan {
	return &BusinessPlan{
		ProblemStatement:     "Needs more detail",
		ValueProposition:     "To be defined",
		TargetMarket:         "To be defined",
		RevenueModel:         "To be defined",
		CostAnalysis:         "To be defined",
		TechnicalFeasibility: "To be defined",
		RisksAnalysis:        "To be defined",
		ScalabilityPotential: "To be defined",
		ValidationStrategy:   "To be defined",
		OverallAssessment:    "The idea needs more detail before it can be evaluated. Please try again.",
		ViabilityScore:       0,
		Recommendation:       RecommendNotViable,
		PivotSuggestions:     []string{"Refine the value proposition", "Define your target market better"},
		IsFallback:           true,
	}
}

// PivotOption is one strategic alternative to a failing idea.
type PivotOption struct {
	Title                 string   `json:"title"`
	Description           string   `json:"description"`
	KeyChanges            []string `json:"key_changes"`
	ImprovedScoreEstimate int      `json:"improved_score_estimate"`
}

// PivotAnalysis explains why an idea fails and proposes pivots.
type PivotAnalysis struct {
	Analysis string        `json:"analysis"`
	Pivots   []PivotOption `json:"pivots"`
}

// Render formats the analysis as an opening chat message.
func (a *PivotAnalysis) Render() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(a.Analysis))
	for i, pv := range a.Pivots {
		fmt.Fprintf(&b, "\n\nPivot %d: %s (estimated score %d)\n%s", i+1, pv.Title, pv.ImprovedScoreEstimate, pv.Description)
		for _, c := range pv.KeyChanges {
			fmt.Fprintf(&b, "\n- %s", c)
		}
	}
	return b.String()
}

// FallbackPivotAnalysis is used when pivots cannot be generated.
func FallbackPivotAnalysis() *PivotAnalysis {
	return &PivotAnalysis{
		Analysis: "We could not generate pivots right now. Refine your idea and present it again.",
	}
}
