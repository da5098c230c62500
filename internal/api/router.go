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
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeNotFound(w, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, r.Method+" not allowed on "+r.URL.Path)
	})

	// Prometheus exposition
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Get("/devices", s.handleListDevices)

		r.Route("/monitors", func(r chi.Router) {
			r.Get("/", s.handleListMonitors)
			r.With(s.authMiddleware).Post("/", s.handleCreateMonitor)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetMonitor)
				r.Get("/history", s.handleMonitorHistory)

				r.Group(func(r chi.Router) {
					r.Use(s.authMiddleware)
					r.Delete("/", s.handleDeleteMonitor)
					r.Put("/mode", s.handleSetMode)
				})
			})
		})

		// WS ticket requires authentication when a secret is configured
		r.With(s.authMiddleware).Post("/auth/ws-ticket", s.handleWSTicket)

		// WebSocket (ticket validated in handler when auth is enabled)
		r.Get("/ws", s.handleWebSocket)
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
