package portone

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mihaimyh/gorenew/pkg/renew"
)

type scheduleRequestPayment struct {
	BillingKey string       `json:"billingKey"`
	OrderName  string       `json:"orderName"`
	Customer   customerJSON `json:"customer"`
	Amount     amountJSON   `json:"amount"`
	Currency   string       `json:"currency"`
}

type scheduleRequestBody struct {
	Payment   scheduleRequestPayment `json:"payment"`
	TimeToPay string                 `json:"timeToPay"`
}

type scheduleListResponse struct {
	Items []struct {
		ID        string `json:"id"`
		PaymentID string `json:"paymentId"`
	} `json:"items"`
}

type cancelSchedulesBody struct {
	ScheduleIDs []string `json:"scheduleIds"`
}

// ReserveSchedule books a future billing-key charge under paymentID.
func (c *Client) ReserveSchedule(ctx context.Context, paymentID string, req renew.ScheduleRequest) error {
	if paymentID == "" {
		return fmt.Errorf("schedule payment id is required")
	}

	body := scheduleRequestBody{
		Payment: scheduleRequestPayment{
			BillingKey: req.BillingKey,
			OrderName:  req.OrderName,
			Customer:   customerJSON{ID: req.CustomerID},
			Amount:     amountJSON{Total: req.Amount},
			Currency:   currencyOrDefault(req.Currency),
		},
		TimeToPay: formatTime(req.TimeToPay),
	}

	path := "/payments/" + url.PathEscape(paymentID) + "/schedule"
	return c.do(ctx, EndpointReserveSchedule, http.MethodPost, path, body, nil)
}

// ListSchedules returns the schedules booked for a billing key within a window.
func (c *Client) ListSchedules(ctx context.Context, filter renew.ScheduleFilter) ([]renew.Schedule, error) {
	query := url.Values{}
	if filter.BillingKey != "" {
		query.Set("filter.billingKey", filter.BillingKey)
	}
	if !filter.From.IsZero() {
		query.Set("filter.from", formatTime(filter.From))
	}
	if !filter.Until.IsZero() {
		query.Set("filter.until", formatTime(filter.Until))
	}

	path := "/payment-schedules"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var payload scheduleListResponse
	if err := c.do(ctx, EndpointListSchedules, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}

	schedules := make([]renew.Schedule, 0, len(payload.Items))
	for _, item := range payload.Items {
		schedules = append(schedules, renew.Schedule{ID: item.ID, PaymentID: item.PaymentID})
	}
	return schedules, nil
}

// CancelSchedules cancels pending schedules by their gateway ids.
func (c *Client) CancelSchedules(ctx context.Context, scheduleIDs []string) error {
	if len(scheduleIDs) == 0 {
		return nil
	}
	body := cancelSchedulesBody{ScheduleIDs: scheduleIDs}
	return c.do(ctx, EndpointCancelSchedules, http.MethodDelete, "/payment-schedules", body, nil)
}

// formatTime renders t as ISO-8601 UTC with millisecond precision.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
