package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultMetricsPath = "/metrics"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(s.withRequestID)
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)
	r.Use(s.cors)
	r.Use(limitBody)

	r.Get("/health", s.handleHealth)

	if s.gatherer != nil && s.metrics.Enabled {
		path := s.metrics.Path
		if path == "" {
			path = defaultMetricsPath
		}
		r.Handle(path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)

		// Ticket auth is checked in the handler.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/stats", s.handleStats)
			r.Get("/logs", s.handleUserLogs)

			r.Route("/locks", func(r chi.Router) {
				r.Get("/", s.handleListLocks)
				r.Post("/", s.handleRegisterLock)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/status", s.handleLockStatus)
					r.Get("/logs", s.handleLockLogs)
					r.Post("/lock", s.handleLockCommand)
					r.Post("/unlock", s.handleUnlockCommand)
					r.With(s.requireAdmin).Put("/owner", s.handleReassignLock)
				})
			})
		})
	})

	return r
}
