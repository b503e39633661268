// Package api provides HTTP handlers for the incubator API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ashureev/incubator/internal/advisor"
	"github.com/ashureev/incubator/internal/conversation"
	"github.com/ashureev/incubator/internal/llm"
	"github.com/ashureev/incubator/internal/metrics"
	"github.com/ashureev/incubator/internal/store"
)

var (
	errRateLimited       = errors.New("rate limited")
	errMessageInProgress = errors.New("message in progress")
	errProjectLimit      = errors.New("daily project limit reached")
	errInvalidRequest    = errors.New("invalid request")
	errNoIdentity        = errors.New("no identity")
)

// GeneratorFactory returns a fresh model client. Each conversation gets its
// own so fallback state is tracked per session.
type GeneratorFactory func() llm.Generator

// Options are the dependencies of a Handler.
type Options struct {
	Store             store.Repository
	Registry          *conversation.Registry
	Advisor           *advisor.Advisor
	NewGenerator      GeneratorFactory
	Metrics           *metrics.Recorder
	Limiter           *RateLimiter
	MaxProjectsPerDay int
	RequestTimeout    time.Duration
}

// Handler serves the project and conversation endpoints.
type Handler struct {
	repo           store.Repository
	registry       *conversation.Registry
	advisor        *advisor.Advisor
	newGenerator   GeneratorFactory
	metrics        *metrics.Recorder
	limiter        *RateLimiter
	validate       *validator.Validate
	maxPerDay      int
	requestTimeout time.Duration
	now            func() time.Time

	// ambiguity is shared by project creation, outside any conversation.
	ambiguity llm.Generator
	// sendLocks rejects a second in-flight message for the same session.
	sendLocks sync.Map
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.MaxProjectsPerDay <= 0 {
		opts.MaxProjectsPerDay = 2
	}
	if opts.Advisor == nil {
		opts.Advisor = advisor.New(nil, "", nil)
	}
	if opts.NewGenerator == nil {
		opts.NewGenerator = func() llm.Generator { return llm.NewFallbackClient(nil) }
	}
	return &Handler{
		repo:           opts.Store,
		registry:       opts.Registry,
		advisor:        opts.Advisor,
		newGenerator:   opts.NewGenerator,
		metrics:        opts.Metrics,
		limiter:        opts.Limiter,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		maxPerDay:      opts.MaxProjectsPerDay,
		requestTimeout: opts.RequestTimeout,
		now:            time.Now,
		ambiguity:      opts.NewGenerator(),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response carrying a reason code.
func Error(w http.ResponseWriter, status int, reason string) {
	JSON(w, status, map[string]any{"error": reason})
}

// reasonFor maps an error to its HTTP status and reason code. It is the only
// place where domain errors become transport errors.
func reasonFor(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return http.StatusBadRequest, "empty_message"
	case errors.Is(err, conversation.ErrMessageTooShort):
		return http.StatusBadRequest, "message_too_short"
	case errors.Is(err, conversation.ErrInjectionDetected):
		return http.StatusBadRequest, "injection_detected"
	case errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, errNoIdentity):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, conversation.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, conversation.ErrPlanRequired):
		return http.StatusConflict, "plan_required"
	case errors.Is(err, errMessageInProgress):
		return http.StatusConflict, "message_in_progress"
	case errors.Is(err, conversation.ErrSessionLocked):
		return http.StatusTooManyRequests, "session_locked"
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, errProjectLimit):
		return http.StatusTooManyRequests, "project_limit"
	case errors.Is(err, conversation.ErrGenerationFailed):
		return http.StatusBadGateway, "generation_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// fail writes err as a reason-coded response and logs unexpected errors.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, reason := reasonFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "reason", reason, "error", err)
	}
	Error(w, status, reason)
}
