package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quasar/internal/cache"
	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/representations"
)

type representationResponse struct {
	Data struct {
		Representation struct {
			Ideal        circuits.Circuit `json:"ideal"`
			OneNorm      float64          `json:"one_norm"`
			Distribution []float64        `json:"distribution"`
			Terms        []struct {
				Circuit circuits.Circuit `json:"circuit"`
				Coeff   float64          `json:"coeff"`
			} `json:"terms"`
		} `json:"representation"`
		NoiseLevel float64 `json:"noise_level"`
		Model      string  `json:"model"`
	} `json:"data"`
}

func newTestRouter(t *testing.T) (chi.Router, *cache.Repository) {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, cache.InitSchema(db))
	repo := cache.NewRepository(db, log)

	h := NewHandler(representations.NewService(repo, log), 0.1, log)
	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		h.RegisterRoutes(api)
	})
	return r, repo
}

func postJSON(t *testing.T, router chi.Router, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleOptimal(t *testing.T) {
	router, repo := newTestRouter(t)

	body := `{"circuit": {"operations": [{"gate": "X", "qubits": [0]}]}, "noise_level": 0.2}`
	rec := postJSON(t, router, "/api/representations/optimal", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp representationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	rep := resp.Data.Representation

	// Unique minimal one-norm for per-gate noise at p = 0.2.
	assert.InDelta(t, 1.3947368421, rep.OneNorm, 1e-6)
	require.Len(t, rep.Terms, 4)
	assert.InDelta(t, 1.1973684211, rep.Terms[0].Coeff, 1e-6)
	for _, term := range rep.Terms[1:] {
		assert.InDelta(t, -0.0657894737, term.Coeff, 1e-6)
	}
	assert.True(t, rep.Ideal.Equal(circuits.New(circuits.X(0))))
	assert.Len(t, rep.Distribution, 4)
	assert.Equal(t, 0.2, resp.Data.NoiseLevel)

	// The solved coefficients are now cached.
	entries, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), entries)

	rec = postJSON(t, router, "/api/representations/optimal", body)
	require.Equal(t, http.StatusOK, rec.Code)
	entries, err = repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), entries)
}

func TestHandleDepolarizingGlobal(t *testing.T) {
	router, _ := newTestRouter(t)

	body := `{"circuit": {"operations": [{"gate": "X", "qubits": [0]}]}, "noise_level": 0.2}`
	rec := postJSON(t, router, "/api/representations/depolarizing", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp representationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	rep := resp.Data.Representation

	// Closed form: gamma = (2 + p) / (2 (1 - p)).
	assert.InDelta(t, 1.375, rep.OneNorm, 1e-9)
	require.Len(t, rep.Terms, 4)
	assert.InDelta(t, (4-0.2)/(4*0.8), rep.Terms[0].Coeff, 1e-9)
	assert.InDelta(t, -0.2/(4*0.8), rep.Terms[1].Coeff, 1e-9)
	assert.Equal(t, "global", resp.Data.Model)
}

func TestHandleDepolarizingLocalTwoQubits(t *testing.T) {
	router, _ := newTestRouter(t)

	body := `{"circuit": {"operations": [{"gate": "CNOT", "qubits": [0, 1]}]}, "noise_level": 0.1, "model": "local"}`
	rec := postJSON(t, router, "/api/representations/depolarizing", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp representationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	rep := resp.Data.Representation

	require.Len(t, rep.Terms, 16)
	// Identity coefficient is the square of the single-qubit factor.
	factor := (4 - 0.1) / (4 * 0.9)
	assert.InDelta(t, factor*factor, rep.Terms[0].Coeff, 1e-9)
	assert.Equal(t, "local", resp.Data.Model)

	sum := 0.0
	for _, term := range rep.Terms {
		sum += term.Coeff
	}
	// Coefficients always sum to one for a trace-preserving target.
	assert.InDelta(t, 1, sum, 1e-9)
}

func TestHandleDepolarizingDefaultsNoise(t *testing.T) {
	router, _ := newTestRouter(t)

	body := `{"circuit": {"operations": [{"gate": "H", "qubits": [0]}]}}`
	rec := postJSON(t, router, "/api/representations/depolarizing", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp representationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0.1, resp.Data.NoiseLevel)
}

func TestRepresentationValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := postJSON(t, router, "/api/representations/depolarizing", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, router, "/api/representations/depolarizing", `{"circuit": {"operations": []}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, router, "/api/representations/depolarizing",
		`{"circuit": {"operations": [{"gate": "X", "qubits": [0]}]}, "model": "nearest"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Local closed form caps the support at two qubits.
	rec = postJSON(t, router, "/api/representations/depolarizing",
		`{"circuit": {"operations": [{"gate": "X", "qubits": [0]}, {"gate": "X", "qubits": [1]}, {"gate": "X", "qubits": [2]}]}, "model": "local"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, router, "/api/representations/optimal", `{"circuit": {"operations": []}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
