/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/service-year      Reporting period frame
  /api/sessions/*        Bulk-edit working sets
  /api/reports/*         Report generation (streams documents)
  /api/viewers/*         Server-side document viewer state

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/service-year", h.GetServiceYear)

		// Bulk-edit session routes
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.StartSession)
			r.Get("/{id}", h.GetSession)
			r.Patch("/{id}/rows/{rowID}", h.EditRow)
			r.Post("/{id}/submit", h.SubmitSession)
			r.Delete("/{id}", h.CancelSession)
		})

		// Report generation routes
		r.Route("/reports", func(r chi.Router) {
			r.Post("/{kind}", h.GenerateReport)
		})

		// Viewer routes
		r.Route("/viewers", func(r chi.Router) {
			r.Post("/{kind}", h.OpenViewer)
			r.Get("/{id}/page/{page}", h.ViewerPage)
			r.Post("/{id}/next", h.ViewerNext)
			r.Post("/{id}/prev", h.ViewerPrev)
			r.Get("/{id}/download", h.ViewerDownload)
			r.Delete("/{id}", h.CloseViewer)
		})
	})

	return r
}
