package gateway

import (
	"github.com/go-chi/chi/v5"

	"github.com/harun/parley/internal/observability"
)

func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", observability.MetricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/messages", s.handleMessage)

		r.Get("/session/{sessionID}", s.handleSession)
		r.Get("/sessions/stats", s.handleSessionStats)

		r.Route("/logs", func(r chi.Router) {
			r.Get("/stream", s.handleLogStream)
			r.Get("/ws", s.handleLogSocket)
			r.Get("/stats", s.handleLogStats)
		})
	})

	r.NotFound(s.handleNotFound)
}
