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

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// WS ticket requires authentication - the ticket carries the
			// caller's identity onto the notification hub
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Relay endpoints
			r.Route("/instances", func(r chi.Router) {
				r.Get("/", s.handleListInstances)

				r.Route("/{instance}", func(r chi.Router) {
					r.Post("/call", s.handleCall)
					r.Post("/subscriptions", s.handleSubscribe)
					r.Post("/subscriptions/{correlation}/harvest", s.handleHarvest)
				})
			})

			// Mailbox inspection
			r.Get("/mailbox/{correlation}", s.handleGetMailboxEntry)

			// Notification WebSocket (auth via ticket, validated in handler)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status, including the database and
// every instance connection.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "ok"
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			status = "degraded"
			dbStatus = err.Error()
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"version":   s.version,
		"database":  dbStatus,
		"instances": s.relay.Instances(),
	})
}
