// Package handlers provides HTTP handlers for running estimations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/estimation"
	"github.com/aristath/quasar/internal/modules/observables"
	"github.com/aristath/quasar/internal/modules/pec"
)

// Handler handles estimation HTTP requests
type Handler struct {
	service *pec.Service
	log     zerolog.Logger
}

// NewHandler creates a new estimation handler
func NewHandler(service *pec.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "pec").Logger(),
	}
}

// observableTerm is one weighted Pauli string of the requested observable.
// Coeff zero is read as one so a bare {"letters": "Z", "qubits": [0]} works.
type observableTerm struct {
	Coeff   float64 `json:"coeff,omitempty"`
	Letters string  `json:"letters"`
	Qubits  []int   `json:"qubits"`
}

// estimateRequest is the request body shared by the plain and the live
// estimation endpoints.
type estimateRequest struct {
	Circuit    circuits.Circuit `json:"circuit"`
	Observable []observableTerm `json:"observable,omitempty"`
	NoiseLevel *float64         `json:"noise_level,omitempty"`
	NumSamples int              `json:"num_samples,omitempty"`
	Precision  float64          `json:"precision,omitempty"`
	Seed       *int64           `json:"seed,omitempty"`
	Workers    int              `json:"workers,omitempty"`
	IncludeRaw *bool            `json:"include_raw,omitempty"`
}

// toRequest translates the wire form into a service request. The raw value
// is included unless the body says otherwise.
func (r estimateRequest) toRequest() (pec.Request, error) {
	req := pec.Request{
		Circuit:    r.Circuit,
		NoiseLevel: r.NoiseLevel,
		NumSamples: r.NumSamples,
		Precision:  r.Precision,
		Seed:       r.Seed,
		Workers:    r.Workers,
		IncludeRaw: true,
	}
	if r.IncludeRaw != nil {
		req.IncludeRaw = *r.IncludeRaw
	}
	if len(r.Observable) > 0 {
		terms := make([]observables.PauliString, 0, len(r.Observable))
		for _, t := range r.Observable {
			coeff := t.Coeff
			if coeff == 0 {
				coeff = 1
			}
			ps, err := observables.NewPauliString(coeff, t.Letters, t.Qubits...)
			if err != nil {
				return pec.Request{}, err
			}
			terms = append(terms, ps)
		}
		if len(terms) == 1 {
			req.Observable = terms[0]
		} else {
			req.Observable = observables.NewPauliSum(terms...)
		}
	}
	return req, nil
}

// HandleEstimate handles POST /api/pec/estimate
func (h *Handler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	var body estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req, err := body.toRequest()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.Estimate(r.Context(), req)
	if err != nil {
		h.log.Error().Err(err).Msg("Estimation failed")
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     resultPayload(result),
		"metadata": map[string]interface{}{"timestamp": time.Now().Format(time.RFC3339)},
	})
}

// statusFor maps estimation failures to HTTP statuses: executor failures
// are server-side, everything else is a bad request caught up front.
func statusFor(err error) int {
	var execErr *estimation.ExecutionError
	if errors.As(err, &execErr) {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// resultPayload flattens a service result for the wire.
func resultPayload(result *pec.Result) map[string]interface{} {
	payload := map[string]interface{}{
		"pec_value":   result.Value,
		"estimation":  result.Data,
		"noise_level": result.NoiseLevel,
		"observable":  result.Observable,
		"duration_ms": result.Duration.Milliseconds(),
	}
	if result.Run != nil {
		payload["run_id"] = result.Run.ID
	}
	if result.RawValue != nil {
		payload["raw_value"] = *result.RawValue
	}
	return payload
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
