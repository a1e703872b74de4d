package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/vaultpilot/internal/events"
	"github.com/aristath/vaultpilot/internal/modules/allocation"
	testutil "github.com/aristath/vaultpilot/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (chi.Router, *events.Bus) {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)

	db, cleanup := testutil.NewTestDB(t, "vaults")
	t.Cleanup(cleanup)

	bus := events.NewBus(logger)
	handler := NewHandler(allocation.NewRepository(db.Conn(), logger), events.NewManager(bus, logger), logger)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return router, bus
}

func do(t *testing.T, router chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Contains(t, response, "metadata")
	data, ok := response["data"].(map[string]interface{})
	require.True(t, ok)
	return data
}

func createBody(id string) map[string]interface{} {
	return map[string]interface{}{
		"id":                 id,
		"drift_threshold_bp": 500,
		"rebalance_cadence":  "monthly",
		"allocations": []map[string]interface{}{
			{"asset": "btc", "target_bp": 6000, "amount_held": "0.1"},
			{"asset": "ETH", "target_bp": 4000},
		},
	}
}

func TestHandleCreateVault(t *testing.T) {
	router, bus := setupRouter(t)

	var changed int
	bus.Subscribe(events.AllocationsChanged, func(e *events.Event) { changed++ })

	w := do(t, router, http.MethodPost, "/vaults", createBody("v1"))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, 1, changed)

	w = do(t, router, http.MethodGet, "/vaults/v1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	allocations := data["allocations"].([]interface{})
	require.Len(t, allocations, 2)
	assert.Equal(t, "BTC", allocations[0].(map[string]interface{})["asset"])
	assert.Equal(t, true, data["vault"].(map[string]interface{})["auto_rebalance"])
}

func TestHandleCreateVault_Errors(t *testing.T) {
	router, _ := setupRouter(t)

	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/vaults", createBody("v1")).Code)
	assert.Equal(t, http.StatusConflict, do(t, router, http.MethodPost, "/vaults", createBody("v1")).Code)

	bad := createBody("v2")
	bad["allocations"] = []map[string]interface{}{{"asset": "BTC", "target_bp": 9000}}
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/vaults", bad).Code)

	bad = createBody("v3")
	bad["rebalance_cadence"] = "hourly"
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/vaults", bad).Code)

	// Nothing was left behind by the rejected requests
	w := do(t, router, http.MethodGet, "/vaults", nil)
	data := decodeData(t, w)
	assert.Equal(t, float64(1), data["count"])
}

func TestHandleUpdateVault(t *testing.T) {
	router, _ := setupRouter(t)
	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/vaults", createBody("v1")).Code)

	w := do(t, router, http.MethodPatch, "/vaults/v1", map[string]interface{}{
		"drift_threshold_bp": 250,
		"rebalance_cadence":  "Weekly",
	})
	require.Equal(t, http.StatusOK, w.Code)
	vault := decodeData(t, w)["vault"].(map[string]interface{})
	assert.Equal(t, float64(250), vault["drift_threshold_bp"])
	assert.Equal(t, "weekly", vault["rebalance_cadence"])

	w = do(t, router, http.MethodPatch, "/vaults/v1", map[string]interface{}{"drift_threshold_bp": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPatch, "/vaults/missing", map[string]interface{}{"auto_rebalance": false})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSetAllocations(t *testing.T) {
	router, bus := setupRouter(t)
	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/vaults", createBody("v1")).Code)

	var changed int
	bus.Subscribe(events.AllocationsChanged, func(e *events.Event) { changed++ })

	w := do(t, router, http.MethodPut, "/vaults/v1/allocations", map[string]interface{}{
		"allocations": []map[string]interface{}{
			{"asset": "BTC", "target_bp": 5000},
			{"asset": "ETH", "target_bp": 3000},
			{"asset": "USDC", "target_bp": 2000},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, changed)
	assert.Len(t, decodeData(t, w)["allocations"], 3)

	w = do(t, router, http.MethodPut, "/vaults/v1/allocations", map[string]interface{}{
		"allocations": []map[string]interface{}{{"asset": "BTC", "target_bp": 5000}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, changed)

	w = do(t, router, http.MethodGet, "/vaults/v1/allocations", nil)
	assert.Len(t, decodeData(t, w)["allocations"], 3)
}

func TestHandleSetHoldings(t *testing.T) {
	router, _ := setupRouter(t)
	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/vaults", createBody("v1")).Code)

	w := do(t, router, http.MethodPut, "/vaults/v1/holdings", map[string]interface{}{
		"holdings": map[string]string{"ETH": "1.5"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodPut, "/vaults/v1/holdings", map[string]interface{}{
		"holdings": map[string]string{"SOL": "3"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleDeleteVault(t *testing.T) {
	router, _ := setupRouter(t)
	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/vaults", createBody("v1")).Code)

	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodDelete, "/vaults/v1", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/vaults/v1", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodDelete, "/vaults/v1", nil).Code)
}

func TestRegisterRoutes(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	handler := NewHandler(nil, nil, logger)

	router := chi.NewRouter()
	assert.NotPanics(t, func() {
		handler.RegisterRoutes(router)
	})
}
