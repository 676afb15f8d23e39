package echo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gorenew/pkg/renew"
	"github.com/mihaimyh/gorenew/storage/memory"
)

type errorSource struct{}

func (errorSource) Status(context.Context) (renew.Status, error) {
	return renew.Status{}, errors.New("connection refused")
}

func (errorSource) StatusFor(context.Context, string) (renew.Status, error) {
	return renew.Status{}, errors.New("connection refused")
}

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
		require.NoError(t, err)
	}
	return renew.NewStatusDeriver(storage, nil, nil)
}

func setupServer(cfg Config) *echo.Echo {
	e := echo.New()
	e.Use(Middleware(cfg))
	e.GET("/premium/:key", func(c echo.Context) error {
		status, ok := GetStatus(c)
		if !ok {
			return c.NoContent(http.StatusTeapot)
		}
		return c.JSON(http.StatusOK, map[string]string{"key": status.TransactionKey})
	})
	return e
}

func get(e *echo.Echo, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestMiddleware_AnyActiveSubscription(t *testing.T) {
	w := get(setupServer(Config{Status: setupTestDeriver(t, "tx-1")}), "/premium/x")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"key":"tx-1"}`, w.Body.String())
}

func TestMiddleware_NotSubscribed(t *testing.T) {
	w := get(setupServer(Config{Status: setupTestDeriver(t, "")}), "/premium/x")

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.JSONEq(t, `{"error":"Subscription required"}`, w.Body.String())
}

func TestMiddleware_ParamExtractor(t *testing.T) {
	e := setupServer(Config{Status: setupTestDeriver(t, "tx-1"), GetTransactionKey: FromParam("key")})

	assert.Equal(t, http.StatusOK, get(e, "/premium/tx-1").Code)
	assert.Equal(t, http.StatusPaymentRequired, get(e, "/premium/tx-2").Code)
}

func TestMiddleware_QueryExtractor(t *testing.T) {
	e := setupServer(Config{Status: setupTestDeriver(t, "tx-1"), GetTransactionKey: FromQuery("k")})

	assert.Equal(t, http.StatusOK, get(e, "/premium/x?k=tx-1").Code)
	assert.Equal(t, http.StatusPaymentRequired, get(e, "/premium/x").Code)
}

func TestMiddleware_Error(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, get(setupServer(Config{Status: errorSource{}}), "/premium/x").Code)

	e := setupServer(Config{
		Status: errorSource{},
		OnError: func(c echo.Context, _ error) error {
			return c.NoContent(http.StatusServiceUnavailable)
		},
		OnNotSubscribed: func(c echo.Context) error {
			return c.NoContent(http.StatusForbidden)
		},
	})
	assert.Equal(t, http.StatusServiceUnavailable, get(e, "/premium/x").Code)
}

func TestMiddleware_CustomNotSubscribed(t *testing.T) {
	e := setupServer(Config{
		Status: setupTestDeriver(t, ""),
		OnNotSubscribed: func(c echo.Context) error {
			return c.NoContent(http.StatusForbidden)
		},
	})
	assert.Equal(t, http.StatusForbidden, get(e, "/premium/x").Code)
}

func TestMiddleware_RequiresStatus(t *testing.T) {
	assert.Panics(t, func() { Middleware(Config{}) })
}
