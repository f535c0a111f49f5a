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
		r.Get("/health", s.handleHealth)

		r.Route("/fleet", func(r chi.Router) {
			// Device-facing: registration doubles as heartbeat
			r.Put("/device/{id}", s.handleRegisterDevice)

			// UI-facing registry reads
			r.Get("/devices", s.handleListDevices)
			r.Get("/device/{id}", s.handleGetDevice)
			r.Get("/stats", s.handleStats)
			r.Get("/events", s.handleListEvents)

			// Registry writes
			r.Delete("/device/{id}", s.handleRemoveDevice)
			r.Post("/cleanup", s.handleCleanup)

			// Command dispatch
			r.Post("/control/{id}/{command}", s.handleControl)

			// Real-time lifecycle event stream
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
