package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// Bus metrics (no auth required for basic monitoring)
		r.Get("/metrics", s.handleMetrics)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// WS ticket requires authentication
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Route endpoints
			r.Route("/routes", func(r chi.Router) {
				r.Get("/", s.handleListRoutes)
				r.Post("/", s.handleCreateRoute)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetRoute)
					r.Put("/", s.handleUpdateRoute)
					r.Delete("/", s.handleDeleteRoute)
				})
			})

			// Message injection
			r.Post("/messages", s.handlePublishMessage)

			// Metrics management
			r.Post("/metrics/reset", s.handleResetMetrics)

			// Module endpoints
			r.Route("/modules", func(r chi.Router) {
				r.Get("/", s.handleListModules)
				r.Post("/reload", s.handleReloadModules)
			})

			// WebSocket (auth via ticket, validated in handler)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
