package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/incubator/internal/conversation"
	"github.com/ashureev/incubator/internal/domain"
	"github.com/ashureev/incubator/internal/identity"
)

type sendMessageRequest struct {
	Message string `json:"message" validate:"max=20000"`
}

type sessionResponse struct {
	Session     domain.Session       `json:"session"`
	Messages    []domain.ChatMessage `json:"messages"`
	MaxMessages int                  `json:"max_messages"`
	Remaining   int                  `json:"remaining"`
}

func sessionKind(r *http.Request) (domain.SessionKind, error) {
	kind, err := domain.ParseSessionKind(chi.URLParam(r, "kind"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return kind, nil
}

// liveSession resolves the route to the caller's in-memory session.
func (h *Handler) liveSession(ctx context.Context, r *http.Request) (*conversation.Session, error) {
	project, err := h.ownedProject(r)
	if err != nil {
		return nil, err
	}
	kind, err := sessionKind(r)
	if err != nil {
		return nil, err
	}
	return h.registry.GetOrCreate(ctx, project.ID, project.UserID, kind, h.newGenerator())
}

// withSession runs fn on the live session, fetching it again once if it was
// evicted between lookup and use.
func (h *Handler) withSession(ctx context.Context, r *http.Request, fn func(*conversation.Session) error) error {
	for attempt := 0; ; attempt++ {
		s, err := h.liveSession(ctx, r)
		if err != nil {
			return err
		}
		err = fn(s)
		if errors.Is(err, conversation.ErrSessionEvicted) && attempt == 0 {
			continue
		}
		return err
	}
}

// StartSession opens (or reopens) a conversation and returns its log.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var resp sessionResponse
	err := h.withSession(ctx, r, func(s *conversation.Session) error {
		msgs, err := s.Start(ctx)
		if err != nil {
			return err
		}
		resp = h.sessionView(s.Snapshot(), msgs)
		return nil
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// ListMessages returns a stored conversation without loading it into memory.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	project, err := h.ownedProject(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	kind, err := sessionKind(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	state, err := h.repo.GetSession(r.Context(), project.ID, kind)
	if err != nil {
		fail(w, r, err)
		return
	}
	msgs, err := h.repo.ListMessages(r.Context(), state.ID)
	if err != nil {
		fail(w, r, fmt.Errorf("list messages: %w", err))
		return
	}
	JSON(w, http.StatusOK, h.sessionView(*state, msgs))
}

// SendMessage submits one user message and returns the assistant's reply.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		fail(w, r, errNoIdentity)
		return
	}
	if h.limiter != nil && !h.limiter.Allow(userID) {
		h.metrics.IncRejection("rate_limited")
		fail(w, r, errRateLimited)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 128<<10)).Decode(&req); err != nil {
		fail(w, r, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		fail(w, r, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}

	// Prevent concurrent sends to the same conversation.
	key := chi.URLParam(r, "projectID") + "/" + chi.URLParam(r, "kind")
	release, ok := h.acquireSend(key)
	if !ok {
		slog.Warn("Message already in progress", "user_id", userID, "session", key)
		h.metrics.IncRejection("message_in_progress")
		fail(w, r, errMessageInProgress)
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var (
		reply *conversation.Reply
		state domain.Session
	)
	err := h.withSession(ctx, r, func(s *conversation.Session) error {
		var err error
		reply, err = s.Submit(ctx, req.Message)
		state = s.Snapshot()
		return err
	})

	switch {
	case errors.Is(err, conversation.ErrSessionLocked):
		JSON(w, http.StatusTooManyRequests, map[string]any{
			"error":         "session_locked",
			"locked":        true,
			"message_count": state.UserTurnCount,
			"max_messages":  h.registry.Config().MaxMessages,
		})
	case err != nil:
		if errors.Is(err, conversation.ErrGenerationFailed) {
			slog.Warn("Generation failed", "session", key, "user_id", userID, "error", err)
		}
		fail(w, r, err)
	default:
		JSON(w, http.StatusOK, reply)
	}
}

func (h *Handler) sessionView(state domain.Session, msgs []domain.ChatMessage) sessionResponse {
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	maxMessages := h.registry.Config().MaxMessages
	return sessionResponse{
		Session:     state,
		Messages:    msgs,
		MaxMessages: maxMessages,
		Remaining:   state.Remaining(maxMessages),
	}
}

// acquireSend takes the in-flight slot for key. It fails when another request
// holds it. The entry is removed before its mutex is released, and a mutex
// locked after its entry was removed is discarded, so at most one holder
// exists per key.
func (h *Handler) acquireSend(key string) (release func(), ok bool) {
	for {
		v, _ := h.sendLocks.LoadOrStore(key, &sync.Mutex{})
		mutex := v.(*sync.Mutex)
		if !mutex.TryLock() {
			return nil, false
		}
		if cur, loaded := h.sendLocks.Load(key); loaded && cur == mutex {
			return func() {
				h.sendLocks.Delete(key)
				mutex.Unlock()
			}, true
		}
		mutex.Unlock()
	}
}
