package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/quasar/internal/cache"
	"github.com/aristath/quasar/internal/modules/estimation"
	"github.com/aristath/quasar/internal/modules/pec"
	"github.com/aristath/quasar/internal/modules/representations"
	"github.com/aristath/quasar/internal/modules/runs"
)

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	cacheDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { cacheDB.Close() })
	require.NoError(t, cache.InitSchema(cacheDB))

	runsDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { runsDB.Close() })
	require.NoError(t, runs.InitSchema(runsDB))

	repsSvc := representations.NewService(cache.NewRepository(cacheDB, log), log)
	runsSvc := runs.NewService(runs.NewRepository(runsDB, log), log)
	svc := pec.NewService(repsSvc, runsSvc, 0.2, 0, log)

	h := NewHandler(svc, log)
	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		h.RegisterRoutes(api)
	})
	return r
}

func TestHandleEstimate(t *testing.T) {
	router := newTestRouter(t)

	body := `{"circuit": {"operations": [{"gate": "X", "qubits": [0]}]}, "num_samples": 1000, "seed": 42}`
	req := httptest.NewRequest(http.MethodPost, "/api/pec/estimate", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Data struct {
			PECValue   float64         `json:"pec_value"`
			RawValue   float64         `json:"raw_value"`
			RunID      string          `json:"run_id"`
			NoiseLevel float64         `json:"noise_level"`
			Observable string          `json:"observable"`
			Estimation estimation.Data `json:"estimation"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.InDelta(t, -1, resp.Data.PECValue, 0.25)
	assert.InDelta(t, -0.8, resp.Data.RawValue, 1e-9)
	assert.NotEmpty(t, resp.Data.RunID)
	assert.Equal(t, 0.2, resp.Data.NoiseLevel)
	assert.Equal(t, "Z0", resp.Data.Observable)
	assert.Equal(t, 1000, resp.Data.Estimation.NumSamples)
	assert.InDelta(t, 1.3947368421, resp.Data.Estimation.OneNorm, 1e-6)
}

func TestHandleEstimateCustomObservable(t *testing.T) {
	router := newTestRouter(t)

	body := `{
		"circuit": {"operations": [{"gate": "H", "qubits": [0]}]},
		"observable": [{"letters": "X", "qubits": [0]}],
		"num_samples": 1000,
		"seed": 5
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/pec/estimate", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Data struct {
			PECValue   float64 `json:"pec_value"`
			Observable string  `json:"observable"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "X0", resp.Data.Observable)
	// H maps |0> to |+>, so the ideal <X> is one.
	assert.InDelta(t, 1, resp.Data.PECValue, 0.25)
}

func TestHandleEstimateRejectsBadRequests(t *testing.T) {
	router := newTestRouter(t)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/pec/estimate", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := post(`{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(`{"circuit": {"operations": []}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(`{"circuit": {"operations": [{"gate": "X", "qubits": [0]}]}, "noise_level": 1.5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "noise level")

	rec = post(`{"circuit": {"operations": [{"gate": "X", "qubits": [0]}]}, "observable": [{"letters": "Q", "qubits": [0]}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEstimateLive(t *testing.T) {
	router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL+"/api/pec/estimate/live", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	req := map[string]interface{}{
		"circuit":     map[string]interface{}{"operations": []map[string]interface{}{{"gate": "X", "qubits": []int{0}}}},
		"num_samples": 500,
		"seed":        7,
	}
	require.NoError(t, wsjson.Write(ctx, conn, req))

	var (
		progressFrames int
		total          int
		result         map[string]interface{}
	)
	for result == nil {
		var msg struct {
			Type      string                 `json:"type"`
			Completed int                    `json:"completed"`
			Total     int                    `json:"total"`
			Error     string                 `json:"error"`
			Data      map[string]interface{} `json:"data"`
		}
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		switch msg.Type {
		case "progress":
			progressFrames++
			assert.LessOrEqual(t, msg.Completed, msg.Total)
			total = msg.Total
		case "result":
			result = msg.Data
		case "error":
			t.Fatalf("estimation failed: %s", msg.Error)
		}
	}

	assert.GreaterOrEqual(t, progressFrames, 1)
	assert.Equal(t, 500, total)
	pecValue, ok := result["pec_value"].(float64)
	require.True(t, ok)
	assert.InDelta(t, -1, pecValue, 0.35)
	assert.NotEmpty(t, result["run_id"])
}

func TestHandleEstimateLiveRejectsBadRequest(t *testing.T) {
	router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL+"/api/pec/estimate/live", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	req := map[string]interface{}{
		"circuit":    map[string]interface{}{"operations": []map[string]interface{}{{"gate": "X", "qubits": []int{0}}}},
		"observable": []map[string]interface{}{{"letters": "Q", "qubits": []int{0}}},
	}
	require.NoError(t, wsjson.Write(ctx, conn, req))

	var msg struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "error", msg.Type)
	assert.NotEmpty(t, msg.Error)
}
