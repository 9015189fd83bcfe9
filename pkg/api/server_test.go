package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arraystore/arraystore/pkg/store"
)

func newTestServer(t *testing.T) (*Server, *store.Library) {
	t.Helper()
	lib, err := store.New(&store.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return NewServer(DefaultServerConfig(), lib, nil), lib
}

func getJSON(t *testing.T, srv *httptest.Server, path string) map[string]interface{} {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := getJSON(t, srv, "/healthz")
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["open_handles"])
}

func TestHandlesEndpoint(t *testing.T) {
	s, lib := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "data.arr")
	h, err := lib.Create(path, 0)
	require.NoError(t, err)
	defer func() { _ = lib.Close(h) }()

	body := getJSON(t, srv, "/handles")
	handles := body["handles"].([]interface{})
	require.Len(t, handles, 1)

	entry := handles[0].(map[string]interface{})
	assert.Equal(t, "classic", entry["model"])
	assert.Equal(t, path, entry["path"])
	assert.Equal(t, true, entry["writable"])

	body = getJSON(t, srv, "/healthz")
	assert.Equal(t, float64(1), body["open_handles"])
}

func TestModelsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := getJSON(t, srv, "/models")
	models := body["models"].([]interface{})
	assert.ElementsMatch(t, []interface{}{
		"classic", "classic64", "enhanced", "parallel", "remote2", "remote4",
	}, models)
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/healthz", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpointDisabledByDefault(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Setenv("ARRAYSTORE_METRICS_ENABLED", "true")
	lib, err := store.New(&store.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	s := NewServer(DefaultServerConfig(), lib, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	h, err := lib.Create(filepath.Join(t.TempDir(), "data.arr"), 0)
	require.NoError(t, err)
	defer func() { _ = lib.Close(h) }()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "arraystore_operations_total")
	assert.Contains(t, string(raw), "arraystore_open_handles")
}
