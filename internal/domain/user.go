// Package domain contains core domain types for the incubator.
package domain

import (
	"time"
)

// User is an anonymous per-device identity that owns projects.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProjectStatus tracks where a project is in the incubation flow.
type ProjectStatus string

const (
	ProjectAmbiguous  ProjectStatus = "ambiguous"
	ProjectReady      ProjectStatus = "ready"
	ProjectInAnalysis ProjectStatus = "in_analysis"
	ProjectCompleted  ProjectStatus = "completed"
)

// Project is a submitted business idea.
type Project struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	Title            string        `json:"title"`
	RawIdea          string        `json:"raw_idea"`
	VariabilityScore int           `json:"variability_score"`
	Status           ProjectStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// OwnedBy reports whether userID owns the project.
func (p *Project) OwnedBy(userID string) bool {
	return p != nil && userID != "" && p.UserID == userID
}

// NextSessionKind is the conversation a freshly created project should open.
func (p *Project) NextSessionKind() SessionKind {
	if p.Status == ProjectAmbiguous {
		return KindClarification
	}
	return KindAnalysis
}
