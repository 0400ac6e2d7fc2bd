// Package handlers provides HTTP handlers for quasi-probability
// representations.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/noisyops"
	"github.com/aristath/quasar/internal/modules/representations"
)

// Handler handles representation HTTP requests
type Handler struct {
	service      *representations.Service
	defaultNoise float64
	log          zerolog.Logger
}

// NewHandler creates a new representations handler. defaultNoise applies
// when a request leaves noise_level unset.
func NewHandler(service *representations.Service, defaultNoise float64, log zerolog.Logger) *Handler {
	return &Handler{
		service:      service,
		defaultNoise: defaultNoise,
		log:          log.With().Str("handler", "representations").Logger(),
	}
}

// representationRequest asks for a representation of one circuit fragment.
type representationRequest struct {
	Circuit    circuits.Circuit `json:"circuit"`
	NoiseLevel *float64         `json:"noise_level,omitempty"`
	// Model selects the closed form: "global" (default) or "local".
	Model string `json:"model,omitempty"`
	// Tol overrides the solver tolerance on the optimal endpoint.
	Tol float64 `json:"tol,omitempty"`
}

func (r representationRequest) noise(def float64) float64 {
	if r.NoiseLevel != nil {
		return *r.NoiseLevel
	}
	return def
}

// termPayload is one weighted term of a representation.
type termPayload struct {
	Circuit circuits.Circuit `json:"circuit"`
	Coeff   float64          `json:"coeff"`
}

// representationPayload flattens a representation for the wire.
func representationPayload(rep *representations.Representation) map[string]interface{} {
	reps := rep.Terms()
	terms := make([]termPayload, 0, len(reps))
	for _, term := range reps {
		terms = append(terms, termPayload{Circuit: term.Operation.Circuit(), Coeff: term.Coeff})
	}
	return map[string]interface{}{
		"ideal":        rep.Ideal(),
		"one_norm":     rep.OneNorm(),
		"terms":        terms,
		"distribution": rep.Distribution(),
	}
}

// HandleOptimal handles POST /api/representations/optimal. The basis models
// depolarizing noise after every gate, matching the simulator, and the
// minimal one-norm coefficients come from the cached solver.
func (h *Handler) HandleOptimal(w http.ResponseWriter, r *http.Request) {
	var body representationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	noise := body.noise(h.defaultNoise)
	basis, err := noisyops.DepolarizingBasis(body.Circuit, noise)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rep, err := h.service.SolveOptimal(body.Circuit, basis, representations.Options{Tol: body.Tol})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to solve representation")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"representation": representationPayload(rep),
			"noise_level":    noise,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleDepolarizing handles POST /api/representations/depolarizing, the
// closed forms with noise applied once after the whole fragment.
func (h *Handler) HandleDepolarizing(w http.ResponseWriter, r *http.Request) {
	var body representationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	noise := body.noise(h.defaultNoise)
	model := body.Model
	if model == "" {
		model = "global"
	}

	var (
		rep *representations.Representation
		err error
	)
	switch model {
	case "global":
		rep, err = representations.RepresentGlobalDepolarizing(body.Circuit, noise)
	case "local":
		rep, err = representations.RepresentLocalDepolarizing(body.Circuit, noise)
	default:
		http.Error(w, `model must be "global" or "local"`, http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"representation": representationPayload(rep),
			"noise_level":    noise,
			"model":          model,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
