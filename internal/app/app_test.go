package app

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horsemanagement/stablegate/internal/observability"
	"github.com/horsemanagement/stablegate/jobs"
	_ "github.com/horsemanagement/stablegate/testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BACKEND_URL", "http://backend.internal:8000")
	t.Setenv("JWT_SECRET", "stable-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 5*time.Second, cfg.PermissionsTimeout)
	assert.Equal(t, 10*time.Second, cfg.BackendTimeout)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Empty(t, cfg.FeaturesFile)
	assert.False(t, cfg.AuditAsync)
	assert.Equal(t, 90*24*time.Hour, cfg.AuditRetention)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresBackendAndSecret(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	t.Setenv("JWT_SECRET", "stable-secret")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("BACKEND_URL", "backend:8000")
	_, err = LoadConfig()
	assert.Error(t, err)

	t.Setenv("BACKEND_URL", "http://backend.internal:8000")
	t.Setenv("JWT_SECRET", "")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRejectsNonPositiveTimeout(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PERMISSIONS_TIMEOUT", "0s")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigAuditAsyncNeedsDSN(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUDIT_ASYNC", "true")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("AUDIT_PG_DSN", "postgres://stable@localhost/audit")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.AuditAsync)
}

func TestLoadWorkerConfigIgnoresGatewaySettings(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUDIT_PG_DSN", "")
	_, err := LoadWorkerConfig()
	assert.Error(t, err)

	t.Setenv("AUDIT_PG_DSN", "postgres://stable@localhost/audit")
	t.Setenv("REDIS_DB", "2")
	cfg, err := LoadWorkerConfig()
	require.NoError(t, err)
	assert.Equal(t, 90*24*time.Hour, cfg.AuditRetention)
	assert.Equal(t, int32(4), cfg.AuditPGMaxConns)
	assert.Equal(t, 5, cfg.WorkerConcurrency)
	assert.Equal(t, ":9091", cfg.WorkerMetricsAddr)
	assert.Equal(t, 2, cfg.Redis().DB)

	t.Setenv("WORKER_CONCURRENCY", "0")
	_, err = LoadWorkerConfig()
	assert.Error(t, err)
}

func TestInTestMode(t *testing.T) {
	assert.True(t, InTestMode())

	t.Setenv("STABLEGATE_TEST_MODE", "false")
	assert.False(t, InTestMode())

	t.Setenv("STABLEGATE_TEST_MODE", "yes please")
	assert.False(t, InTestMode())
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "warn")

	logger.Info("hidden")
	logger.Warn("shown", slog.String("feature", "horses"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"service":"stablegate"`)
	assert.Contains(t, out, `"feature":"horses"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestRouterHealthAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{Config: &Config{}, Metrics: metrics})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `stablegate_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestRateLimit(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{RateLimitPerMinute: 2}})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRouterMountsJobHealth(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{}, JobHandler: jobs.NewHandler(nil, nil)})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"audit","enabled":false,"pending":0,"active":0,"retry":0,"archived":0}`, rr.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{CORSAllowedOrigins: []string{"https://stable.example"}}})

	req := httptest.NewRequest(http.MethodOptions, "/healthz", nil)
	req.Header.Set("Origin", "https://stable.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, "https://stable.example", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
