package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moabualruz/rice-search/internal/app"
	"github.com/moabualruz/rice-search/internal/config"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	a, err := app.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Engine.Close() })

	ts := httptest.NewServer(NewServer(a, nil).Handler())
	t.Cleanup(ts.Close)
	return ts, a
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// Create → index → search, end to end.
func TestCreateIndexSearch(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, ts, "POST", "/v1/stores", map[string]string{"name": "demo"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, ts, "POST", "/v1/stores/demo/index", map[string]any{
		"files": []map[string]string{
			{"path": "a.go", "content": "package main\nfunc Hello(){}\n", "language": "go"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["indexed"])
	assert.EqualValues(t, 0, body["skipped"])
	assert.EqualValues(t, 0, body["failed"])
	assert.EqualValues(t, 1, body["chunks_total"])

	resp, body = doJSON(t, ts, "POST", "/v1/stores/demo/search", map[string]any{
		"query": "Hello",
		"top_k": 5,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.GreaterOrEqual(t, body["total"].(float64), 1.0)

	results := body["results"].([]any)
	first := results[0].(map[string]any)
	assert.Equal(t, "a.go", first["path"])
	assert.EqualValues(t, 2, first["start_line"])
	symbols := first["symbols"].([]any)
	assert.Contains(t, symbols, "Hello")
}

// Re-posting the same body with force=false skips by content hash.
func TestIndexSkipUnchanged(t *testing.T) {
	ts, _ := newTestServer(t)

	files := map[string]any{
		"files": []map[string]string{
			{"path": "a.go", "content": "package main\nfunc Hello(){}\n", "language": "go"},
		},
	}

	resp, _ := doJSON(t, ts, "POST", "/v1/stores/default/index", files)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, ts, "POST", "/v1/stores/default/index", files)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["indexed"])
	assert.EqualValues(t, 1, body["skipped"])
	assert.EqualValues(t, 0, body["chunks_total"])
}

// Sync with an empty current set deletes everything.
func TestSyncDeletesMissing(t *testing.T) {
	ts, _ := newTestServer(t)

	doJSON(t, ts, "POST", "/v1/stores/default/index", map[string]any{
		"files": []map[string]string{
			{"path": "a.go", "content": "package main\nfunc Hello(){}\n", "language": "go"},
		},
	})

	resp, body := doJSON(t, ts, "POST", "/v1/stores/default/index/sync", map[string]any{
		"current_paths": []string{},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["removed"])

	resp, body = doJSON(t, ts, "POST", "/v1/stores/default/search", map[string]any{"query": "Hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["total"])
}

// Weight sensitivity: under dense-heavy weights the doc nearest the
// query's embedding ranks first; the sparse-heavy search is only
// checked to return results.
func TestWeightSensitivity(t *testing.T) {
	ts, _ := newTestServer(t)

	// doc1 repeats the query term heavily (sparse signal); doc3 is
	// written so its hashed embedding sits near the query's.
	doJSON(t, ts, "POST", "/v1/stores/default/index", map[string]any{
		"files": []map[string]string{
			{"path": "doc1.txt", "content": "retrieval retrieval retrieval retrieval ranking systems"},
			{"path": "doc2.txt", "content": "completely unrelated content about gardening"},
			{"path": "doc3.txt", "content": "hybrid search retrieval pipeline fuses sparse and dense signals for code search"},
		},
	})

	search := func(sw, dw float64) string {
		resp, body := doJSON(t, ts, "POST", "/v1/stores/default/search", map[string]any{
			"query":         "hybrid search retrieval pipeline",
			"sparse_weight": sw,
			"dense_weight":  dw,
			"top_k":         3,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		results := body["results"].([]any)
		require.NotEmpty(t, results)
		return results[0].(map[string]any)["path"].(string)
	}

	assert.Equal(t, "doc3.txt", search(0.1, 0.9))
	// The sparse-heavy ranking differs from dense-heavy only through
	// the weights; both must return results.
	sparseTop := search(0.9, 0.1)
	assert.NotEmpty(t, sparseTop)
}

func TestValidationBoundaries(t *testing.T) {
	ts, _ := newTestServer(t)

	// Empty query rejected.
	resp, _ := doJSON(t, ts, "POST", "/v1/stores/default/search", map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// 10000-char query accepted, 10001 rejected.
	resp, _ = doJSON(t, ts, "POST", "/v1/stores/default/search", map[string]any{
		"query": strings.Repeat("a", 10000),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, ts, "POST", "/v1/stores/default/search", map[string]any{
		"query": strings.Repeat("a", 10001),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// top_k bounds.
	resp, _ = doJSON(t, ts, "POST", "/v1/stores/default/search", map[string]any{"query": "x", "top_k": 1000})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, ts, "POST", "/v1/stores/default/search", map[string]any{"query": "x", "top_k": 1001})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Weight bounds.
	resp, _ = doJSON(t, ts, "POST", "/v1/stores/default/search", map[string]any{
		"query": "x", "sparse_weight": 1.0, "dense_weight": 0.0,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, ts, "POST", "/v1/stores/default/search", map[string]any{
		"query": "x", "sparse_weight": 1.000001,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Store names starting with - or _ rejected.
	for _, name := range []string{"-bad", "_bad"} {
		resp, _ = doJSON(t, ts, "POST", "/v1/stores", map[string]string{"name": name})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "store %q", name)
	}

	// Hostile paths rejected per document.
	resp, body := doJSON(t, ts, "POST", "/v1/stores/default/index", map[string]any{
		"files": []map[string]string{
			{"path": "../x", "content": "c"},
			{"path": "/etc/x", "content": "c"},
			{"path": `C:\x`, "content": "c"},
			{"path": "x\x00y", "content": "c"},
			{"path": "con.txt", "content": "c"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 5, body["failed"])
	assert.EqualValues(t, 0, body["indexed"])
}

func TestStoreNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := doJSON(t, ts, "POST", "/v1/stores/ghost/search", map[string]any{"query": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, ts, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, ts, "GET", "/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, ts, "GET", "/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = doJSON(t, ts, "GET", "/v1/version", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["version"])

	// Metrics endpoint serves Prometheus text.
	httpResp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = httpResp.Body.Close() }()
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)
}

// /readyz returns 503 once shutdown has begun.
func TestReadyzDuringDrain(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	a, err := app.New(cfg, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(NewServer(a, nil).Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, a.Shutdown(context.Background()))

	resp, err = ts.Client().Get(ts.URL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestObservabilityEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	// Generate one query so telemetry has data.
	doJSON(t, ts, "POST", "/v1/stores/default/search", map[string]any{"query": "anything"})

	resp, body := doJSON(t, ts, "GET", "/v1/observability/stats", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "stores")

	resp, body = doJSON(t, ts, "GET", "/v1/observability/recent-queries", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	queries := body["queries"].([]any)
	assert.NotEmpty(t, queries)
}

func TestIndexFilesPagination(t *testing.T) {
	ts, _ := newTestServer(t)

	var files []map[string]string
	for i := 0; i < 5; i++ {
		files = append(files, map[string]string{
			"path":    fmt.Sprintf("f%d.txt", i),
			"content": fmt.Sprintf("content %d", i),
		})
	}
	doJSON(t, ts, "POST", "/v1/stores/default/index", map[string]any{"files": files})

	resp, body := doJSON(t, ts, "GET", "/v1/stores/default/index/files?page=1&page_size=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 5, body["total"])
	assert.Len(t, body["files"].([]any), 2)
}

func TestConnectionScoping(t *testing.T) {
	ts, _ := newTestServer(t)

	// Index one doc under a connection id via header.
	req, err := http.NewRequest("POST", ts.URL+"/v1/stores/default/index", bytes.NewReader(mustJSON(t, map[string]any{
		"files": []map[string]string{{"path": "conn.txt", "content": "scoped content alpha"}},
	})))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Connection-ID", "conn-1")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Search scoped by the header sees it; a different connection does
	// not; filter value "all" opts out.
	search := func(conn, filterConn string) float64 {
		payload := map[string]any{"query": "scoped content alpha"}
		if filterConn != "" {
			payload["filter"] = map[string]any{"connection_id": filterConn}
		}
		req, err := http.NewRequest("POST", ts.URL+"/v1/stores/default/search", bytes.NewReader(mustJSON(t, payload)))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if conn != "" {
			req.Header.Set("X-Connection-ID", conn)
		}
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body["total"].(float64)
	}

	assert.GreaterOrEqual(t, search("conn-1", ""), 1.0)
	assert.Equal(t, 0.0, search("conn-2", ""))
	assert.GreaterOrEqual(t, search("conn-2", "all"), 1.0)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
