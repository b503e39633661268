package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashureev/incubator/internal/domain"
	"github.com/ashureev/incubator/internal/llm"
)

type sessionKey struct {
	projectID string
	kind      domain.SessionKind
}

func (k sessionKey) String() string { return k.projectID + "/" + string(k.kind) }

// Registry maps (project, kind) to exactly one live Session. Sessions are
// hydrated from the store on first access, so a restart or an eviction never
// resets a conversation.
type Registry struct {
	deps *Deps
	cfg  Config

	mu       sync.Mutex
	sessions map[sessionKey]*Session
	group    singleflight.Group
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps, cfg Config) *Registry {
	deps.normalize()
	return &Registry{
		deps:     &deps,
		cfg:      cfg,
		sessions: make(map[sessionKey]*Session),
	}
}

// Config returns the limits applied to every session.
func (r *Registry) Config() Config { return r.cfg }

// GetOrCreate returns the live session for (projectID, kind), loading or
// creating it on first access. gen is only used when a new in-memory session
// is built; an existing one keeps its own client.
func (r *Registry) GetOrCreate(ctx context.Context, projectID, userID string, kind domain.SessionKind, gen llm.Generator) (*Session, error) {
	key := sessionKey{projectID, kind}

	if s := r.lookup(key); s != nil {
		if s.userID != userID {
			return nil, ErrUnauthorized
		}
		return s, nil
	}

	v, err, _ := r.group.Do(key.String(), func() (any, error) {
		if s := r.lookup(key); s != nil {
			return s, nil
		}
		s, err := r.load(ctx, projectID, userID, kind, gen)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.sessions[key] = s
		n := len(r.sessions)
		r.mu.Unlock()
		r.deps.Metrics.SetActiveSessions(n)
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	s := v.(*Session)
	if s.userID != userID {
		return nil, ErrUnauthorized
	}
	return s, nil
}

func (r *Registry) lookup(key sessionKey) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[key]
}

func (r *Registry) load(ctx context.Context, projectID, userID string, kind domain.SessionKind, gen llm.Generator) (*Session, error) {
	project, err := r.deps.Store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !project.OwnedBy(userID) {
		return nil, ErrUnauthorized
	}

	plan, err := r.deps.Store.GetPlan(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if kind == domain.KindPivot && plan == nil {
		return nil, ErrPlanRequired
	}

	state, err := r.deps.Store.CreateSession(ctx, &domain.Session{
		ProjectID: projectID,
		UserID:    userID,
		Kind:      kind,
		Phase:     domain.PhaseInitialInput,
		RawIdea:   project.RawIdea,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	msgs, err := r.deps.Store.ListMessages(ctx, state.ID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if n := domain.CountUserMessages(msgs); n != state.UserTurnCount {
		r.deps.Logger.Warn("Stored turn count disagrees with log, using log",
			"session_id", state.ID, "stored", state.UserTurnCount, "log", n)
		state.UserTurnCount = n
	}
	if state.UserTurnCount >= r.cfg.MaxMessages && !state.IsLocked {
		r.deps.Logger.Warn("Session reached the message cap without a lock, locking",
			"session_id", state.ID, "turns", state.UserTurnCount)
		state.IsLocked = true
	}

	if kind == domain.KindAnalysis && project.Status == domain.ProjectReady {
		if err := r.deps.Store.UpdateProjectStatus(ctx, projectID, domain.ProjectInAnalysis); err != nil {
			r.deps.Logger.Warn("Failed to update project status", "project_id", projectID, "error", err)
		}
	}

	r.deps.Logger.Debug("Session loaded",
		"project_id", projectID, "session_id", state.ID, "kind", string(kind),
		"phase", state.Phase.String(), "turns", state.UserTurnCount)
	return newSession(state, plan, msgs, gen, r.deps, r.cfg), nil
}

// Len is the number of sessions held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// EvictIdle drops in-memory sessions unused since before cutoff. Sessions
// busy with a message are kept. Durable state is untouched.
func (r *Registry) EvictIdle(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for key, s := range r.sessions {
		if !s.LastUsed().Before(cutoff) {
			continue
		}
		if !s.mu.TryLock() {
			continue
		}
		delete(r.sessions, key)
		s.evicted = true
		s.mu.Unlock()
		evicted++
	}
	r.deps.Metrics.SetActiveSessions(len(r.sessions))
	return evicted
}

// StartEvictor periodically evicts sessions idle for longer than ttl. The
// returned channel is closed once the worker has stopped after ctx ends.
func (r *Registry) StartEvictor(ctx context.Context, interval, ttl time.Duration) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Session evictor started", "interval", interval, "ttl", ttl)

		for {
			select {
			case now := <-ticker.C:
				if n := r.EvictIdle(now.Add(-ttl)); n > 0 {
					slog.Info("Session evictor dropped idle sessions", "count", n, "remaining", r.Len())
				}
			case <-ctx.Done():
				slog.Info("Session evictor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}
