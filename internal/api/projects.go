package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/incubator/internal/advisor"
	"github.com/ashureev/incubator/internal/conversation"
	"github.com/ashureev/incubator/internal/domain"
	"github.com/ashureev/incubator/internal/identity"
	"github.com/ashureev/incubator/internal/sanitize"
)

const maxTitleLength = 60

type createProjectRequest struct {
	Title   string `json:"title" validate:"max=120"`
	RawIdea string `json:"raw_idea" validate:"required,min=10,max=5000"`
}

type createProjectResponse struct {
	Project     *domain.Project    `json:"project"`
	Ambiguity   advisor.Ambiguity  `json:"ambiguity"`
	NextSession domain.SessionKind `json:"next_session"`
}

type projectResponse struct {
	Project *domain.Project      `json:"project"`
	Plan    *domain.BusinessPlan `json:"plan,omitempty"`
}

// CreateProject stores a new idea after checking the daily limit and rating
// its ambiguity.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		fail(w, r, errNoIdentity)
		return
	}

	var req createProjectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		fail(w, r, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.RawIdea = strings.TrimSpace(req.RawIdea)
	if err := h.validate.Struct(req); err != nil {
		fail(w, r, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}

	idea, err := sanitize.Sanitize(req.RawIdea)
	if err != nil {
		h.metrics.IncRejection("injection_detected")
		fail(w, r, err)
		return
	}
	title := req.Title
	if title == "" {
		title = defaultTitle(idea)
	} else if title, err = sanitize.Sanitize(title); err != nil {
		h.metrics.IncRejection("injection_detected")
		fail(w, r, err)
		return
	}

	ctx := r.Context()
	n, err := h.repo.CountProjectsSince(ctx, userID, h.now().Add(-24*time.Hour))
	if err != nil {
		fail(w, r, fmt.Errorf("count projects: %w", err))
		return
	}
	if n >= h.maxPerDay {
		slog.Info("Daily project limit reached", "user_id", userID, "count", n)
		fail(w, r, errProjectLimit)
		return
	}

	genCtx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	amb := h.advisor.EvaluateAmbiguity(genCtx, h.ambiguity, idea)
	cancel()

	status := domain.ProjectReady
	if amb.RequiresClarification {
		status = domain.ProjectAmbiguous
	}
	project := &domain.Project{
		UserID:           userID,
		Title:            title,
		RawIdea:          idea,
		VariabilityScore: int(math.Round(amb.VariabilityScore)),
		Status:           status,
	}
	if err := h.repo.CreateProject(ctx, project); err != nil {
		fail(w, r, fmt.Errorf("create project: %w", err))
		return
	}

	slog.Info("Project created",
		"project_id", project.ID, "user_id", userID,
		"status", string(project.Status), "variability_score", project.VariabilityScore)
	JSON(w, http.StatusCreated, createProjectResponse{
		Project:     project,
		Ambiguity:   amb,
		NextSession: project.NextSessionKind(),
	})
}

// ListProjects returns the caller's projects, newest first.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		fail(w, r, errNoIdentity)
		return
	}
	projects, err := h.repo.ListProjects(r.Context(), userID)
	if err != nil {
		fail(w, r, fmt.Errorf("list projects: %w", err))
		return
	}
	if projects == nil {
		projects = []*domain.Project{}
	}
	JSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// GetProject returns a project and its viability report, if any.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.ownedProject(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	plan, err := h.repo.GetPlan(r.Context(), project.ID)
	if err != nil {
		fail(w, r, fmt.Errorf("load plan: %w", err))
		return
	}
	JSON(w, http.StatusOK, projectResponse{Project: project, Plan: plan})
}

// ownedProject loads the {projectID} of the route and checks the caller
// owns it.
func (h *Handler) ownedProject(r *http.Request) (*domain.Project, error) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		return nil, errNoIdentity
	}
	project, err := h.repo.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		return nil, err
	}
	if !project.OwnedBy(userID) {
		slog.Warn("Project access denied", "project_id", project.ID, "user_id", userID)
		return nil, conversation.ErrUnauthorized
	}
	return project, nil
}

func defaultTitle(idea string) string {
	idea = strings.Join(strings.Fields(idea), " ")
	if utf8.RuneCountInString(idea) <= maxTitleLength {
		return idea
	}
	runes := []rune(idea)
	return strings.TrimSpace(string(runes[:maxTitleLength])) + "..."
}
