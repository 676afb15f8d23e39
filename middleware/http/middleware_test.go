package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mihaimyh/gorenew/pkg/renew"
	"github.com/mihaimyh/gorenew/storage/memory"
)

// errorSource is a status source that always fails
type errorSource struct{}

func (errorSource) Status(context.Context) (renew.Status, error) {
	return renew.Status{}, errors.New("connection refused")
}

func (errorSource) StatusFor(context.Context, string) (renew.Status, error) {
	return renew.Status{}, errors.New("connection refused")
}

// Test helper to create a deriver over a ledger holding one active key
func setupTestDeriver(t *testing.T, activeKey string) *renew.StatusDeriver {
	t.Helper()

	storage := memory.New()
	now := time.Now().UTC()
	if activeKey != "" {
		_, err := storage.InsertEvent(context.Background(), &renew.PaymentEvent{
			TransactionKey: activeKey,
			Amount:         9900,
			Status:         renew.EventStatusPaid,
			StartAt:        now.Add(-time.Hour),
			EndAt:          now.Add(29 * 24 * time.Hour),
			EndGraceAt:     now.Add(30 * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("Failed to seed ledger: %v", err)
		}
	}

	return renew.NewStatusDeriver(storage, nil, nil)
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, ok := StatusFromContext(r.Context())
		if !ok {
			t.Error("Expected status in request context")
		}
		w.Header().Set("X-Active-Key", status.TransactionKey)
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_AnyActiveSubscription(t *testing.T) {
	handler := Middleware(Config{Status: setupTestDeriver(t, "tx-1")})(okHandler(t))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/premium", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := w.Header().Get("X-Active-Key"); got != "tx-1" {
		t.Errorf("Expected active key tx-1, got %q", got)
	}
}

func TestMiddleware_NotSubscribed(t *testing.T) {
	handler := Middleware(Config{Status: setupTestDeriver(t, "")})(okHandler(t))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/premium", nil))

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected status 402, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Subscription required") {
		t.Errorf("Unexpected body: %s", w.Body.String())
	}
}

func TestMiddleware_KeyExtractor(t *testing.T) {
	handler := Middleware(Config{
		Status:            setupTestDeriver(t, "tx-1"),
		GetTransactionKey: FromHeader("X-Transaction-Key"),
	})(okHandler(t))

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"matching key", "tx-1", http.StatusOK},
		{"other key", "tx-2", http.StatusPaymentRequired},
		{"missing key", "", http.StatusPaymentRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/premium", nil)
			if tt.key != "" {
				req.Header.Set("X-Transaction-Key", tt.key)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestMiddleware_Error(t *testing.T) {
	handler := Middleware(Config{Status: errorSource{}})(okHandler(t))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/premium", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", w.Code)
	}
}

func TestMiddleware_CustomHandlers(t *testing.T) {
	var gotErr error
	errHandler := Middleware(Config{
		Status: errorSource{},
		OnError: func(w http.ResponseWriter, _ *http.Request, err error) {
			gotErr = err
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})(okHandler(t))

	w := httptest.NewRecorder()
	errHandler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusServiceUnavailable || gotErr == nil {
		t.Errorf("Expected custom error handler, got %d (%v)", w.Code, gotErr)
	}

	denyHandler := Middleware(Config{
		Status: setupTestDeriver(t, ""),
		OnNotSubscribed: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		},
	})(okHandler(t))

	w = httptest.NewRecorder()
	denyHandler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

func TestMiddleware_HandlerFunc(t *testing.T) {
	mw := HandlerFunc(Config{
		Status:            setupTestDeriver(t, "tx-1"),
		GetTransactionKey: FromQuery("transaction_key"),
	})
	handler := mw(okHandler(t).ServeHTTP)

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/?transaction_key=tx-1", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestMiddleware_RequiresStatus(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for missing Status")
		}
	}()
	Middleware(Config{})
}

func TestFromContext(t *testing.T) {
	type ctxKey struct{}
	extract := FromContext(ctxKey{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := extract(req); got != "" {
		t.Errorf("Expected empty key, got %q", got)
	}

	req = req.WithContext(context.WithValue(req.Context(), ctxKey{}, "tx-9"))
	if got := extract(req); got != "tx-9" {
		t.Errorf("Expected tx-9, got %q", got)
	}
}
