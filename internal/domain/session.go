package domain

import (
	"fmt"
	"time"
)

// Phase is a step of a conversation. Phases only move forward.
type Phase int

const (
	PhaseInitialInput Phase = iota
	PhaseAmbiguityCheck
	PhaseMicroInterview
	PhaseBlueprintReady
	PhaseContextualChat
	PhaseClosePhase
	PhaseCompleted
)

var phaseNames = [...]string{
	PhaseInitialInput:   "initial_input",
	PhaseAmbiguityCheck: "ambiguity_check",
	PhaseMicroInterview: "micro_interview",
	PhaseBlueprintReady: "blueprint_ready",
	PhaseContextualChat: "contextual_chat",
	PhaseClosePhase:     "close_phase",
	PhaseCompleted:      "completed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	parsed, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePhase is the inverse of Phase.String.
func ParsePhase(s string) (Phase, error) {
	for i, name := range phaseNames {
		if name == s {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// SessionKind identifies one of the independent conversations of a project.
type SessionKind string

const (
	KindClarification SessionKind = "clarification"
	KindAnalysis      SessionKind = "analysis"
	KindPivot         SessionKind = "pivot"
)

// ParseSessionKind validates a kind taken from a URL or database row.
func ParseSessionKind(s string) (SessionKind, error) {
	switch k := SessionKind(s); k {
	case KindClarification, KindAnalysis, KindPivot:
		return k, nil
	default:
		return "", fmt.Errorf("unknown session kind %q", s)
	}
}

// Session is the persisted state of one conversation. There is at most one
// session per (ProjectID, Kind).
type Session struct {
	ID             string      `json:"id"`
	ProjectID      string      `json:"project_id"`
	UserID         string      `json:"user_id"`
	Kind           SessionKind `json:"kind"`
	Phase          Phase       `json:"phase"`
	RawIdea        string      `json:"raw_idea"`
	RefinedIdea    string      `json:"refined_idea,omitempty"`
	AskedQuestions []string    `json:"asked_questions"`
	UserTurnCount  int         `json:"user_turn_count"`
	IsLocked       bool        `json:"is_locked"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Advance moves the session to phase to. Moving backwards is refused and
// reported as false.
func (s *Session) Advance(to Phase) bool {
	if to < s.Phase {
		return false
	}
	s.Phase = to
	return true
}

// Remaining is the number of user turns left before the lock.
func (s *Session) Remaining(maxMessages int) int {
	if s.IsLocked {
		return 0
	}
	if left := maxMessages - s.UserTurnCount; left > 0 {
		return left
	}
	return 0
}

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is an append-only log entry of a session. Seq breaks ties
// between messages created in the same instant.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// CountUserMessages returns the number of user-authored messages.
func CountUserMessages(msgs []ChatMessage) int {
	n := 0
	for _, m := range msgs {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}
