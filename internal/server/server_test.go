package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/vaultpilot/internal/config"
	"github.com/aristath/vaultpilot/internal/di"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var quietLog = zerolog.New(nil).Level(zerolog.Disabled)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.DevMode = true

	container, jobs, err := di.Wire(context.Background(), cfg, quietLog)
	require.NoError(t, err)
	t.Cleanup(container.Close)

	srv := New(Config{Log: quietLog, Config: cfg, Container: container, Jobs: jobs})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.cancel()
		ts.Close()
	})
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func seedDriftedVault(t *testing.T, ts *httptest.Server) {
	t.Helper()
	status, resp := call(t, ts, http.MethodPut, "/api/prices", map[string]interface{}{
		"prices": []map[string]string{
			{"asset": "BTC", "price": "60000"},
			{"asset": "ETH", "price": "2000"},
		},
	})
	require.Equal(t, http.StatusOK, status, resp)

	status, resp = call(t, ts, http.MethodPost, "/api/vaults", map[string]interface{}{
		"id":                 "v1",
		"owner_ref":          "0xabc",
		"drift_threshold_bp": 500,
		"rebalance_cadence":  "manual",
		"allocations": []map[string]interface{}{
			{"asset": "BTC", "target_bp": 5000, "amount_held": "0.01"},
			{"asset": "ETH", "target_bp": 5000, "amount_held": "0.2"},
		},
	})
	require.Equal(t, http.StatusCreated, status, resp)
}

func TestHealth(t *testing.T) {
	ts := setupServer(t)

	status, resp := call(t, ts, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "vaultpilot", resp["service"])
}

func TestDriftThenRebalance(t *testing.T) {
	ts := setupServer(t)
	seedDriftedVault(t, ts)

	status, resp := call(t, ts, http.MethodGet, "/api/vaults/v1/drift", nil)
	require.Equal(t, http.StatusOK, status, resp)
	data := resp["data"].(map[string]interface{})
	detection := data["detection"].(map[string]interface{})
	assert.Equal(t, true, detection["needs_rebalance"])

	status, resp = call(t, ts, http.MethodPost, "/api/vaults/v1/rebalance", nil)
	require.Equal(t, http.StatusOK, status, resp)
	entry := resp["data"].(map[string]interface{})["history"].(map[string]interface{})
	assert.Equal(t, "completed", entry["status"])

	status, resp = call(t, ts, http.MethodGet, "/api/vaults/v1/history?kind=rebalance", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), resp["data"].(map[string]interface{})["count"])
}

func TestSystemStatus(t *testing.T) {
	ts := setupServer(t)
	seedDriftedVault(t, ts)

	status, resp := call(t, ts, http.MethodGet, "/api/system/status", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, float64(1), resp["vault_count"])
	assert.Len(t, resp["databases"], 2)
	assert.Contains(t, resp["jobs"], "vault_cycle")
}

func TestRunJob(t *testing.T) {
	ts := setupServer(t)

	status, _ := call(t, ts, http.MethodPost, "/api/system/jobs/purge_leases/run", nil)
	assert.Equal(t, http.StatusAccepted, status)

	status, resp := call(t, ts, http.MethodPost, "/api/system/jobs/nope/run", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, resp["error"], "nope")
}

func TestEventsWebsocket(t *testing.T) {
	ts := setupServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/ws?types=prices_updated"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	status, _ := call(t, ts, http.MethodPut, "/api/prices", map[string]interface{}{
		"prices": []map[string]string{{"asset": "BTC", "price": "61000"}},
	})
	require.Equal(t, http.StatusOK, status)

	var event map[string]interface{}
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	assert.Equal(t, "PRICES_UPDATED", event["type"])
	assert.Equal(t, "prices", event["module"])
}
