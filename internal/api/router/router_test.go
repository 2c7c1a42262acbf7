package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/responsibility-agent/internal/http/handlers"
	"github.com/wolfman30/responsibility-agent/internal/summary"
	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

const testSecret = "router-secret"

type stubRunner struct{ calls int }

func (s *stubRunner) Run(ctx context.Context) (*summary.Summary, error) {
	s.calls++
	sum := summary.New("run-1", time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	sum.Finalize(sum.StartedAt.Add(time.Second), nil)
	return sum, nil
}

func newTestRouter(t *testing.T, runner *stubRunner) http.Handler {
	t.Helper()
	logger := logging.Default()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "router_test_total", Help: "test"}))

	return New(&Config{
		Logger:          logger,
		Trigger:         handlers.NewTriggerHandler(runner, nil, logger),
		History:         handlers.NewHistoryHandler(nil, nil, logger),
		AdminAuthSecret: testSecret,
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Version:         "test",
		DryRun:          true,
	})
}

func adminToken(t *testing.T) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "billing-ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, &stubRunner{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRouterInfoEndpoint(t *testing.T) {
	router := newTestRouter(t, &stubRunner{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "responsibility-agent", resp["service"])
	assert.Equal(t, "test", resp["version"])
	assert.Equal(t, true, resp["dry_run"])
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, &stubRunner{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "router_test_total")
}

func TestRouterTriggerRequiresAdminToken(t *testing.T) {
	runner := &stubRunner{}
	router := newTestRouter(t, runner)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/trigger", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Zero(t, runner.calls)

	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, runner.calls)
	var resp handlers.TriggerResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "run-1", resp.Summary.RunID)
}

func TestRouterTriggerMethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, &stubRunner{})

	req := httptest.NewRequest(http.MethodGet, "/trigger", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRouterRunsWithoutStore(t *testing.T) {
	router := newTestRouter(t, &stubRunner{})

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouterHistoryRoutesRequireAdmin(t *testing.T) {
	router := newTestRouter(t, &stubRunner{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/run-1/audit", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/runs/run-1/report?date=2025-03-10", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
