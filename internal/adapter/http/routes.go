package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	cfotel "github.com/Strob0t/CoachForge/internal/adapter/otel"
	"github.com/Strob0t/CoachForge/internal/middleware"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	ServiceName string
	// TriggerLimiter guards the write endpoints; nil disables limiting.
	TriggerLimiter *middleware.RateLimiter
}

// NewRouter builds the ops router with the standard middleware chain.
func NewRouter(h *Handlers, opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(cfotel.HTTPMiddleware(opts.ServiceName))
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(SecurityHeaders)
	MountRoutes(r, h, opts.TriggerLimiter)
	return r
}

// MountRoutes registers the ops routes on r.
func MountRoutes(r chi.Router, h *Handlers, limiter *middleware.RateLimiter) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": "0.1.0"})
		})

		// Agents
		r.Get("/graph", h.Graph)
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/{agentID}/definition", h.GetDefinition)
		r.Get("/agents/{agentID}/history", h.DefinitionHistory)

		// Onboarding
		r.Get("/workflows", h.ListWorkflows)
		r.Get("/workflows/{userID}", h.GetWorkflow)
		r.Get("/drafts/{token}", h.GetDraft)

		r.Group(func(r chi.Router) {
			if limiter != nil {
				r.Use(limiter.Handler)
			}
			r.Post("/workflows/{userID}/trigger", h.TriggerOnboarding)
			r.Post("/drafts", h.CreateDraft)
			r.Put("/drafts/{token}", h.UpdateDraft)
		})
	})
}
