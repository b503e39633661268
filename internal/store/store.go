// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/incubator/internal/domain"
)

// ErrNotFound is returned when a project or session does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting users, projects and
// conversation sessions.
type Repository interface {
	// GetUser retrieves a user by their user ID. A missing user is (nil, nil).
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// CreateProject stores a new project.
	CreateProject(ctx context.Context, project *domain.Project) error

	// GetProject returns ErrNotFound for unknown IDs.
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)

	// ListProjects returns a user's projects, newest first.
	ListProjects(ctx context.Context, userID string) ([]*domain.Project, error)

	// CountProjectsSince counts projects a user created at or after since.
	CountProjectsSince(ctx context.Context, userID string, since time.Time) (int, error)

	// UpdateProjectStatus sets the status of a project.
	UpdateProjectStatus(ctx context.Context, projectID string, status domain.ProjectStatus) error

	// CreateSession inserts session unless one already exists for its
	// (ProjectID, Kind); either way the stored session is returned.
	CreateSession(ctx context.Context, session *domain.Session) (*domain.Session, error)

	// GetSession returns ErrNotFound when the project has no session of kind.
	GetSession(ctx context.Context, projectID string, kind domain.SessionKind) (*domain.Session, error)

	// ListSessions returns every session of a project.
	ListSessions(ctx context.Context, projectID string) ([]*domain.Session, error)

	// SaveTurn appends msgs and writes the session state in one transaction.
	// The stored user turn count is recomputed from the log and copied back
	// into session; IDs, Seq and CreatedAt are filled in on msgs.
	SaveTurn(ctx context.Context, session *domain.Session, msgs ...*domain.ChatMessage) error

	// ListMessages returns a session's log ordered by creation time then Seq.
	ListMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)

	// GetPlan returns the project's viability report, or (nil, nil).
	GetPlan(ctx context.Context, projectID string) (*domain.BusinessPlan, error)

	// UpsertPlan creates or replaces the project's viability report.
	UpsertPlan(ctx context.Context, projectID string, plan *domain.BusinessPlan) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
