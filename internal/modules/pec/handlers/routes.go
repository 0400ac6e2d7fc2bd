package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all estimation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/pec", func(r chi.Router) {
		r.Post("/estimate", h.HandleEstimate)
		r.Get("/estimate/live", h.HandleEstimateLive)
	})
}
