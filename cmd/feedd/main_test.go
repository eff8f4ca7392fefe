package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/market-feed/internal/config"
)

const testConfig = `
providers:
  - id: primary
    kind: mock
    priority: high
    capabilities: [equities-quotes, crypto-quotes]
    requests_per_minute: 10
discovery:
  static:
    stocks:
      - { symbol: AAPL, name: Apple Inc. }
`

func TestRoutes(t *testing.T) {
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	svc, cleanup, err := build(cfg)
	require.NoError(t, err)
	defer cleanup()

	h := routes(svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/providers", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var reports []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reports))
	require.Len(t, reports, 1)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/cache", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestBuildRejectsUnknownAdapter(t *testing.T) {
	cfg, err := config.Parse([]byte(`
providers:
  - id: x
    kind: bloomberg
    capabilities: [equities-quotes]
`))
	require.NoError(t, err)
	_, _, err = build(cfg)
	assert.ErrorContains(t, err, "unknown adapter kind")
}
