package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/incubator/internal/export"
	"github.com/ashureev/incubator/internal/store"
)

// Summary reports per-session progress for a project.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	project, err := h.ownedProject(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	summary, err := export.BuildSummary(r.Context(), h.repo, project, h.registry.Config().MaxMessages)
	if err != nil {
		fail(w, r, fmt.Errorf("build summary: %w", err))
		return
	}
	JSON(w, http.StatusOK, summary)
}

// Export returns everything stored about a project as a JSON download.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	project, err := h.ownedProject(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	exp, err := export.BuildExport(r.Context(), h.repo, project)
	if err != nil {
		fail(w, r, fmt.Errorf("build export: %w", err))
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="project-%s.json"`, project.ID))
	JSON(w, http.StatusOK, exp)
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "database": "ok"}
	status, code := "healthy", http.StatusOK
	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		checks["database"] = "unreachable"
		status, code = "degraded", http.StatusServiceUnavailable
	}
	JSON(w, code, map[string]any{"status": status, "checks": checks})
}
