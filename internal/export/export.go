// Package export assembles read-only views of a project from the store. The
// HTTP API and incubatorctl share it.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/incubator/internal/domain"
	"github.com/ashureev/incubator/internal/store"
)

// SessionSummary is the progress of one conversation.
type SessionSummary struct {
	Kind           domain.SessionKind `json:"kind"`
	Phase          domain.Phase       `json:"phase"`
	UserTurnCount  int                `json:"user_turn_count"`
	Locked         bool               `json:"locked"`
	RemainingTurns int                `json:"remaining_turns"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Summary is the progress of a project across its sessions.
type Summary struct {
	ProjectID      string                `json:"project_id"`
	Title          string                `json:"title"`
	Status         domain.ProjectStatus  `json:"status"`
	ViabilityScore *int                  `json:"viability_score,omitempty"`
	Recommendation domain.Recommendation `json:"recommendation,omitempty"`
	Sessions       []SessionSummary      `json:"sessions"`
}

// SessionExport is a session with its full log.
type SessionExport struct {
	domain.Session
	Messages []domain.ChatMessage `json:"messages"`
}

// Export is everything stored about a project.
type Export struct {
	ExportedAt time.Time            `json:"exported_at"`
	Project    *domain.Project      `json:"project"`
	Plan       *domain.BusinessPlan `json:"plan,omitempty"`
	Sessions   []SessionExport      `json:"sessions"`
}

// BuildSummary reports per-kind progress. maxMessages is the turn cap used
// to compute the remaining turns.
func BuildSummary(ctx context.Context, repo store.Repository, project *domain.Project, maxMessages int) (*Summary, error) {
	plan, err := repo.GetPlan(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	sessions, err := repo.ListSessions(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	out := &Summary{
		ProjectID: project.ID,
		Title:     project.Title,
		Status:    project.Status,
		Sessions:  make([]SessionSummary, 0, len(sessions)),
	}
	if plan != nil {
		score := plan.ViabilityScore
		out.ViabilityScore = &score
		out.Recommendation = plan.Recommendation
	}
	for _, s := range sessions {
		out.Sessions = append(out.Sessions, SessionSummary{
			Kind:           s.Kind,
			Phase:          s.Phase,
			UserTurnCount:  s.UserTurnCount,
			Locked:         s.IsLocked,
			RemainingTurns: s.Remaining(maxMessages),
			UpdatedAt:      s.UpdatedAt,
		})
	}
	return out, nil
}

// BuildExport loads the project, its plan and every session log.
func BuildExport(ctx context.Context, repo store.Repository, project *domain.Project) (*Export, error) {
	plan, err := repo.GetPlan(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	sessions, err := repo.ListSessions(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	out := &Export{
		ExportedAt: time.Now().UTC(),
		Project:    project,
		Plan:       plan,
		Sessions:   make([]SessionExport, 0, len(sessions)),
	}
	for _, s := range sessions {
		msgs, err := repo.ListMessages(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("load messages of %s session: %w", s.Kind, err)
		}
		if msgs == nil {
			msgs = []domain.ChatMessage{}
		}
		out.Sessions = append(out.Sessions, SessionExport{Session: *s, Messages: msgs})
	}
	return out, nil
}
