package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gorenew/pkg/renew"
	prommetrics "github.com/mihaimyh/gorenew/pkg/renew/metrics/prometheus"
	"github.com/mihaimyh/gorenew/storage/memory"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PORTONE_API_SECRET", "secret")

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, backendMemory, cfg.LedgerBackend)
	assert.Equal(t, "KRW", cfg.Currency)
	assert.Equal(t, "Asia/Seoul", cfg.ScheduleTimezone)
	assert.Equal(t, -1, cfg.WebhookRateLimit)
	assert.Equal(t, "https://api.portone.io", cfg.PortOneBaseURL)
	assert.False(t, cfg.WebhookDedupe)
	assert.Zero(t, cfg.LedgerBreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.LedgerBreakerReset)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/renew")
	t.Setenv("WEBHOOK_DEDUPE", "true")
	t.Setenv("LEDGER_BREAKER_THRESHOLD", "3")
	t.Setenv("LEDGER_BREAKER_RESET", "1m")
	t.Setenv("SCHEDULE_TIMEZONE", "UTC")
	t.Setenv("WEBHOOK_RATE_LIMIT", "600")

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, backendPostgres, cfg.LedgerBackend)
	assert.True(t, cfg.WebhookDedupe)
	assert.Equal(t, 3, cfg.LedgerBreakerThreshold)
	assert.Equal(t, time.Minute, cfg.LedgerBreakerReset)
	assert.Equal(t, "UTC", cfg.ScheduleTimezone)
	assert.Equal(t, 600, cfg.WebhookRateLimit)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config)
		wantErr string
	}{
		{"memory", func(*config) {}, ""},
		{"postgres without dsn", func(c *config) { c.LedgerBackend = backendPostgres }, "POSTGRES_DSN"},
		{"mysql without dsn", func(c *config) { c.LedgerBackend = backendMySQL }, "MYSQL_DSN"},
		{"firestore without project", func(c *config) { c.LedgerBackend = backendFirestore }, "FIRESTORE_PROJECT_ID"},
		{"redis", func(c *config) { c.LedgerBackend = backendRedis }, ""},
		{"unknown backend", func(c *config) { c.LedgerBackend = "sqlite" }, "unknown LEDGER_BACKEND"},
		{"bad timezone", func(c *config) { c.ScheduleTimezone = "Mars/Olympus" }, "SCHEDULE_TIMEZONE"},
		{"negative breaker", func(c *config) { c.LedgerBreakerThreshold = -1 }, "LEDGER_BREAKER_THRESHOLD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config{LedgerBackend: backendMemory, ScheduleTimezone: "UTC"}
			tt.mutate(&cfg)

			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// fakePortOne answers the payment lookup and schedule reservation calls.
func fakePortOne(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/payments/T1":
			_, _ = w.Write([]byte(`{"id":"T1","paymentId":"payment_1","orderName":"Monthly",
				"billingKey":"bk-1","amount":{"total":9900},"customer":{"id":"cust-1"}}`))
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/schedule"):
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"type":"NOT_FOUND"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, cfg config) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := prommetrics.NewMetrics(reg, "gorenew")

	a, err := buildApp(cfg, memory.New(), reg, metrics, &renew.NoopLogger{})
	require.NoError(t, err)
	return a.routes()
}

func testConfig(baseURL string) config {
	return config{
		LedgerBackend:          backendMemory,
		ScheduleTimezone:       "Asia/Seoul",
		Currency:               "KRW",
		PortOneAPISecret:       "secret",
		PortOneBaseURL:         baseURL,
		WebhookDedupe:          true,
		LedgerBreakerThreshold: 3,
		LedgerBreakerReset:     time.Second,
	}
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRoutes_PaidThenStatus(t *testing.T) {
	h := newTestApp(t, testConfig(fakePortOne(t).URL))

	w := do(h, http.MethodGet, "/api/payments/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"isSubscribed":false`)

	w = do(h, http.MethodPost, "/api/portone", `{"payment_id":"T1","status":"Paid"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(h, http.MethodGet, "/api/payments/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, true, status["isSubscribed"])
	assert.Equal(t, "payment_1", status["transactionKey"])

	w = do(h, http.MethodPost, "/api/portone", `{"payment_id":"T1","status":"Paid"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"duplicate":true`)
}

func TestRoutes_MissingSecret(t *testing.T) {
	cfg := testConfig(fakePortOne(t).URL)
	cfg.PortOneAPISecret = ""
	h := newTestApp(t, cfg)

	w := do(h, http.MethodPost, "/api/portone", `{"payment_id":"T1","status":"Paid"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
}

func TestRoutes_Operational(t *testing.T) {
	h := newTestApp(t, testConfig(fakePortOne(t).URL))

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/readyz", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodGet, "/api/portone", "").Code)

	do(h, http.MethodPost, "/api/portone", `{"payment_id":"T1","status":"Paid"}`)
	w := do(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gorenew_notifications_total")
}

func TestRoutes_WebhookRateLimit(t *testing.T) {
	srv := fakePortOne(t)

	cfg := testConfig(srv.URL)
	cfg.WebhookRateLimit = -1
	h := newTestApp(t, cfg)
	for i := 0; i < 50; i++ {
		w := do(h, http.MethodPost, "/api/portone", `{"payment_id":"T1","status":"Ready"}`)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}

	cfg.WebhookRateLimit = 1
	h = newTestApp(t, cfg)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/portone", `{"payment_id":"T1","status":"Ready"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, http.MethodPost, "/api/portone", `{"payment_id":"T1","status":"Ready"}`).Code)
}

func TestOpenStore_Memory(t *testing.T) {
	s, closeFn, err := openStore(context.Background(), config{LedgerBackend: backendMemory}, &renew.NoopLogger{})
	require.NoError(t, err)
	defer closeFn()

	_, ok := s.(*memory.Storage)
	assert.True(t, ok)
}
