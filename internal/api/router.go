package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/incubator/internal/identity"
	"github.com/ashureev/incubator/internal/middleware"
	"github.com/ashureev/incubator/internal/store"
)

// RouterConfig holds what the router needs beyond the handlers.
type RouterConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter wires the middleware stack and every route.
func NewRouter(h *Handler, health *HealthHandler, repo store.Repository, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", health.Health)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment))

		r.Post("/projects", h.CreateProject)
		r.Get("/projects", h.ListProjects)
		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/", h.GetProject)
			r.Get("/summary", h.Summary)
			r.Get("/export", h.Export)
			r.Post("/sessions/{kind}", h.StartSession)
			r.Get("/sessions/{kind}/messages", h.ListMessages)
			r.Post("/sessions/{kind}/messages", h.SendMessage)
		})
	})
	return r
}
