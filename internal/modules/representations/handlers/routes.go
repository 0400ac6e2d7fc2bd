package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all representation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/representations", func(r chi.Router) {
		r.Post("/optimal", h.HandleOptimal)
		r.Post("/depolarizing", h.HandleDepolarizing)
	})
}
