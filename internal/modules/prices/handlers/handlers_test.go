package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/vaultpilot/internal/events"
	"github.com/aristath/vaultpilot/internal/modules/prices"
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
	h := NewHandler(prices.NewRepository(db.Conn(), time.Hour, logger), events.NewManager(bus, logger), logger)
	router := chi.NewRouter()
	h.RegisterRoutes(router)
	return router, bus
}

func TestHandleUpsertAndListPrices(t *testing.T) {
	router, bus := setupRouter(t)

	var updated []string
	bus.Subscribe(events.PricesUpdated, func(e *events.Event) {
		updated = e.Data.(*events.PricesUpdatedData).Assets
	})

	body, _ := json.Marshal(map[string]interface{}{
		"prices": []map[string]interface{}{
			{"asset": "btc", "price": "60000", "previous_24h": "50000"},
			{"asset": "ETH", "price": "2000"},
		},
	})
	req := httptest.NewRequest(http.MethodPut, "/prices", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"BTC", "ETH"}, updated)

	req = httptest.NewRequest(http.MethodGet, "/prices", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	items := response["data"].(map[string]interface{})["prices"].([]interface{})
	require.Len(t, items, 2)
	btc := items[0].(map[string]interface{})
	assert.Equal(t, "BTC", btc["asset"])
	assert.Equal(t, "20", btc["change_24h_pct"])
}

func TestHandleUpsertPrices_Invalid(t *testing.T) {
	router, _ := setupRouter(t)

	for _, body := range []string{
		`not json`,
		`{"prices": []}`,
		`{"prices": [{"asset": "BTC", "price": "-1"}]}`,
	} {
		req := httptest.NewRequest(http.MethodPut, "/prices", bytes.NewReader([]byte(body)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}
