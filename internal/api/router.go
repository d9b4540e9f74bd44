// Package api serves the workspace, document and RAG endpoints under /api/v1.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/ragdesk/internal/api/handlers"
	"github.com/nikhilbhutani/ragdesk/internal/api/middleware"
	"github.com/nikhilbhutani/ragdesk/internal/auth"
	"github.com/nikhilbhutani/ragdesk/internal/config"
	"github.com/nikhilbhutani/ragdesk/internal/document"
	"github.com/nikhilbhutani/ragdesk/internal/metrics"
	"github.com/nikhilbhutani/ragdesk/internal/rag"
	"github.com/nikhilbhutani/ragdesk/internal/store"
)

// Deps are the services the routes are served from.
type Deps struct {
	Store  store.Store
	Docs   *document.Service
	RAG    *rag.Pipeline
	Checks map[string]handlers.Check
}

type Router struct {
	mux  *chi.Mux
	cfg  *config.Config
	deps Deps
	rl   *middleware.RateLimiter
}

func NewRouter(cfg *config.Config, deps Deps) *Router {
	return &Router{
		mux:  chi.NewRouter(),
		cfg:  cfg,
		deps: deps,
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.CORSOrigins))

	if rt.cfg.Server.RateLimitRPS > 0 {
		rt.rl = middleware.NewRateLimiter(rt.cfg.Server.RateLimitRPS, rt.cfg.Server.RateLimitBurst)
		r.Use(rt.rl.Limit)
	}

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.deps.Checks)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", metrics.Handler())

	wsH := handlers.NewWorkspaceHandler(rt.deps.Store, rt.deps.Docs)
	docH := handlers.NewDocumentHandler(rt.deps.Docs, rt.cfg.Ingest.MaxUploadBytes)
	ragH := handlers.NewRAGHandler(rt.deps.RAG, rt.deps.Docs)
	edit := auth.RequireRole(auth.RoleEditor)
	admin := auth.RequireRole(auth.RoleAdmin)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		if rt.cfg.Auth.JWTSecret != "" {
			r.Use(auth.NewJWTMiddleware(rt.cfg.Auth.JWTSecret).Authenticate)
		}

		r.Route("/workspaces", func(r chi.Router) {
			r.Get("/", wsH.List)
			r.With(edit).Post("/", wsH.Create)

			r.Route("/{workspaceID}", func(r chi.Router) {
				r.Get("/", wsH.Get)
				r.With(edit).Patch("/", wsH.Update)
				r.With(admin).Delete("/", wsH.Delete)

				// Document routes
				r.Route("/documents", func(r chi.Router) {
					r.Get("/", docH.List)
					r.With(edit).Post("/", docH.Upload)
					r.Get("/{documentID}", docH.Get)
					r.With(edit).Delete("/{documentID}", docH.Delete)
				})

				// RAG routes
				r.Post("/chat", ragH.Chat)
				r.Post("/search", ragH.Search)
				r.With(edit).Post("/ingest", ragH.Ingest)
			})
		})
	})

	return r
}

// Close stops background work started by Setup.
func (rt *Router) Close() {
	if rt.rl != nil {
		rt.rl.Stop()
	}
}
