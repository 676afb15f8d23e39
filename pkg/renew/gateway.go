package renew

import (
	"context"
	"time"
)

// Gateway is the subset of the payment provider API the coordinator uses.
type Gateway interface {
	// GetPayment fetches a payment record by its payment id.
	GetPayment(ctx context.Context, paymentID string) (*GatewayPayment, error)

	// ReserveSchedule books a future charge under paymentID.
	ReserveSchedule(ctx context.Context, paymentID string, req ScheduleRequest) error

	// ListSchedules returns pending schedules for a billing key whose
	// execution time falls in [From, Until].
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]Schedule, error)

	// CancelSchedules cancels schedules by their gateway-assigned ids.
	CancelSchedules(ctx context.Context, scheduleIDs []string) error
}

// GatewayPayment is the payment record as reported by the gateway.
type GatewayPayment struct {
	ID string

	// PaymentID is the gateway's transaction key when it differs from ID.
	PaymentID string

	Amount     int64
	OrderName  string
	BillingKey string
	CustomerID string
}

// TransactionKey returns PaymentID when present, else ID.
func (p *GatewayPayment) TransactionKey() string {
	if p.PaymentID != "" {
		return p.PaymentID
	}
	return p.ID
}

// HasBillingKey reports whether the charge used a reusable credential.
func (p *GatewayPayment) HasBillingKey() bool {
	return p.BillingKey != ""
}

// ScheduleRequest describes a future charge.
type ScheduleRequest struct {
	BillingKey string
	OrderName  string
	CustomerID string
	Amount     int64
	Currency   string
	TimeToPay  time.Time
}

// ScheduleFilter selects pending schedules.
type ScheduleFilter struct {
	BillingKey string
	From       time.Time
	Until      time.Time
}

// Schedule is a pending gateway-side charge reservation.
type Schedule struct {
	// ID is assigned by the gateway.
	ID string

	// PaymentID is the client-chosen payment id the schedule will charge under.
	PaymentID string
}
