package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/chat", func(r chi.Router) {
		r.Get("/", s.listChats)
		r.Post("/", s.newChat)
		r.Delete("/", s.clearChats)

		r.Get("/status", s.getStatus)
		r.Delete("/error", s.dismissError)
		r.Get("/active", s.getActiveChat)
		r.Post("/retry", s.retryLast)

		r.Route("/message", func(r chi.Router) {
			r.Post("/", s.sendMessage)
			r.Patch("/{messageID}", s.editMessage)
			r.Post("/{messageID}/regenerate", s.regenerateMessage)
		})

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getChat)
			r.Delete("/", s.deleteChat)
			r.Post("/select", s.selectChat)
		})
	})

	// Event streaming (SSE)
	r.Get("/event", s.allEvents)
}
