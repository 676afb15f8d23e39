package portone

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gorenew/pkg/renew"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

func newTestServer(t *testing.T, status int, response string) (*Client, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
		}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			assert.NoError(t, json.Unmarshal(raw, &rec.Body))
		}
		requests = append(requests, rec)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)

	client := New(Config{APISecret: "secret-123", BaseURL: server.URL})
	return client, &requests
}

func TestClient_GetPayment(t *testing.T) {
	client, requests := newTestServer(t, http.StatusOK, `{
		"id": "tx-1",
		"paymentId": "payment_1",
		"status": "PAID",
		"orderName": "Monthly plan",
		"billingKey": "bk-1",
		"amount": {"total": 9900, "paid": 9900},
		"customer": {"id": "cust-1"}
	}`)

	payment, err := client.GetPayment(context.Background(), "tx-1")
	require.NoError(t, err)

	assert.Equal(t, &renew.GatewayPayment{
		ID:         "tx-1",
		PaymentID:  "payment_1",
		Amount:     9900,
		OrderName:  "Monthly plan",
		BillingKey: "bk-1",
		CustomerID: "cust-1",
	}, payment)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/payments/tx-1", req.Path)
	assert.Equal(t, "PortOne secret-123", req.Auth)
}

func TestClient_GetPayment_EscapesID(t *testing.T) {
	client, requests := newTestServer(t, http.StatusOK, `{"id":"a/b"}`)

	_, err := client.GetPayment(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, "/payments/a%2Fb", (*requests)[0].Path)
}

func TestClient_GetPayment_APIError(t *testing.T) {
	client, _ := newTestServer(t, http.StatusNotFound,
		`{"type":"PAYMENT_NOT_FOUND","message":"payment not found"}`)

	_, err := client.GetPayment(context.Background(), "missing")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, EndpointGetPayment, apiErr.Endpoint)
	assert.Equal(t, "PAYMENT_NOT_FOUND", apiErr.Type)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestClient_MissingSecret(t *testing.T) {
	client, requests := newTestServer(t, http.StatusOK, `{}`)
	client.secret = ""

	assert.ErrorIs(t, client.CheckConfig(), renew.ErrConfiguration)

	_, err := client.GetPayment(context.Background(), "tx-1")
	assert.ErrorIs(t, err, renew.ErrConfiguration)
	assert.Empty(t, *requests)
}

func TestNew_StripsSchemeFromSecret(t *testing.T) {
	client := New(Config{APISecret: "  PortOne abc  "})

	assert.Equal(t, "abc", client.secret)
	assert.Equal(t, DefaultBaseURL, client.baseURL)
}

func TestClient_ReserveSchedule(t *testing.T) {
	client, requests := newTestServer(t, http.StatusOK, `{"schedule":{"id":"sched-1"}}`)
	kst := time.FixedZone("KST", 9*60*60)

	err := client.ReserveSchedule(context.Background(), "S1", renew.ScheduleRequest{
		BillingKey: "bk-1",
		OrderName:  "Monthly plan",
		CustomerID: "cust-1",
		Amount:     9900,
		Currency:   "KRW",
		TimeToPay:  time.Date(2025, 2, 16, 10, 5, 0, 0, kst),
	})
	require.NoError(t, err)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/payments/S1/schedule", req.Path)
	assert.Equal(t, "2025-02-16T01:05:00.000Z", req.Body["timeToPay"])

	payment := req.Body["payment"].(map[string]any)
	assert.Equal(t, "bk-1", payment["billingKey"])
	assert.Equal(t, "Monthly plan", payment["orderName"])
	assert.Equal(t, "KRW", payment["currency"])
	assert.Equal(t, map[string]any{"id": "cust-1"}, payment["customer"])
	assert.Equal(t, map[string]any{"total": 9900.0}, payment["amount"])
}

func TestClient_ReserveSchedule_Failure(t *testing.T) {
	client, _ := newTestServer(t, http.StatusConflict, `{"type":"ALREADY_PAID_OR_WAITING"}`)

	err := client.ReserveSchedule(context.Background(), "S1", renew.ScheduleRequest{BillingKey: "bk"})

	assert.Equal(t, http.StatusConflict, StatusCode(err))
}

func TestClient_ListSchedules(t *testing.T) {
	client, requests := newTestServer(t, http.StatusOK, `{
		"items": [
			{"id": "sched-1", "paymentId": "other", "status": "SCHEDULED"},
			{"id": "sched-9", "paymentId": "S1", "status": "SCHEDULED"}
		]
	}`)
	at := time.Date(2025, 2, 15, 10, 17, 0, 0, time.UTC)

	schedules, err := client.ListSchedules(context.Background(), renew.ScheduleFilter{
		BillingKey: "bk-1",
		From:       at.Add(-24 * time.Hour),
		Until:      at.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, []renew.Schedule{
		{ID: "sched-1", PaymentID: "other"},
		{ID: "sched-9", PaymentID: "S1"},
	}, schedules)

	req := (*requests)[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/payment-schedules", req.Path)
	assert.Equal(t,
		"filter.billingKey=bk-1&filter.from=2025-02-14T10%3A17%3A00.000Z&filter.until=2025-02-16T10%3A17%3A00.000Z",
		req.Query)
}

func TestClient_CancelSchedules(t *testing.T) {
	client, requests := newTestServer(t, http.StatusOK, `{"revokedScheduleIds":["sched-9"]}`)

	require.NoError(t, client.CancelSchedules(context.Background(), []string{"sched-9"}))

	req := (*requests)[0]
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "/payment-schedules", req.Path)
	assert.Equal(t, []any{"sched-9"}, req.Body["scheduleIds"])
}

func TestClient_CancelSchedules_Empty(t *testing.T) {
	client, requests := newTestServer(t, http.StatusOK, `{}`)

	require.NoError(t, client.CancelSchedules(context.Background(), nil))
	assert.Empty(t, *requests)
}

func TestClient_PayWithBillingKey(t *testing.T) {
	client, requests := newTestServer(t, http.StatusOK,
		`{"payment":{"pgTxId":"pg-1","paidAt":"2025-01-15T08:30:00Z"}}`)

	result, err := client.PayWithBillingKey(context.Background(), "payment_1", BillingKeyPayment{
		BillingKey: "bk-1",
		OrderName:  "Monthly plan",
		CustomerID: "cust-1",
		Amount:     9900,
		NoticeURLs: []string{"https://example.com/api/portone"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pg-1", result.Payment.PgTxID)

	req := (*requests)[0]
	assert.Equal(t, "/payments/payment_1/billing-key", req.Path)
	assert.Equal(t, "KRW", req.Body["currency"])
	assert.Equal(t, []any{"https://example.com/api/portone"}, req.Body["noticeUrls"])
}

type recordingMetrics struct {
	renew.NoopMetrics
	calls []string
}

func (m *recordingMetrics) RecordGatewayCall(endpoint, status string) {
	m.calls = append(m.calls, endpoint+":"+status)
}

func TestClient_RecordsMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	metrics := &recordingMetrics{}
	client := New(Config{APISecret: "s", BaseURL: server.URL, Metrics: metrics})

	_ = client.CancelSchedules(context.Background(), []string{"x"})

	assert.Equal(t, []string{"cancel_schedules:502"}, metrics.calls)
}
