package renew

import "time"

// EventStatus is the status of a ledger row. It is distinct from the
// gateway's own payment status values used on the wire.
type EventStatus string

const (
	// EventStatusPaid marks a completed charge.
	EventStatusPaid EventStatus = "Paid"

	// EventStatusCancel marks the reversal of a previously recorded charge.
	EventStatusCancel EventStatus = "Cancel"
)

// PaymentEvent is one immutable row of the payment ledger.
type PaymentEvent struct {
	// ID is assigned by the store at insert time.
	ID string `json:"id"`

	// TransactionKey is the gateway's identifier for the first charge of a
	// subscription. It is stable across all cycles and the cancellation.
	TransactionKey string `json:"transaction_key"`

	// Amount is in minor currency units: positive for a charge, negative
	// for a cancellation.
	Amount int64 `json:"amount"`

	Status EventStatus `json:"status"`

	// Coverage window of the charge.
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	EndGraceAt time.Time `json:"end_grace_at"`

	// NextScheduleAt is the planned time of the next cycle's attempt.
	NextScheduleAt time.Time `json:"next_schedule_at"`

	// NextScheduleID is the payment id under which the next cycle's charge
	// was (or will be) reserved with the gateway. It never refers to
	// another ledger row.
	NextScheduleID string `json:"next_schedule_id,omitempty"`

	// CreatedAt is set by the store and orders "latest" queries.
	CreatedAt time.Time `json:"created_at"`
}

// IsActiveAt reports whether now falls inside [StartAt, EndGraceAt].
func (e *PaymentEvent) IsActiveAt(now time.Time) bool {
	return !now.Before(e.StartAt) && !now.After(e.EndGraceAt)
}

// EventQuery filters ledger rows. Results are always ordered by CreatedAt
// descending.
type EventQuery struct {
	// TransactionKey filters by key when non-empty.
	TransactionKey string

	// Status filters by status when non-empty.
	Status EventStatus

	// Limit caps the number of rows returned (0 = no limit).
	Limit int
}

// Matches reports whether e satisfies the filter part of the query.
func (q EventQuery) Matches(e *PaymentEvent) bool {
	if q.TransactionKey != "" && e.TransactionKey != q.TransactionKey {
		return false
	}
	if q.Status != "" && e.Status != q.Status {
		return false
	}
	return true
}

// Notification is an inbound gateway webhook after decoding.
type Notification struct {
	// TransactionID is the gateway payment id (payment_id on the wire).
	TransactionID string

	// Status is the gateway payment status ("Paid", "Cancelled", ...).
	Status string
}

// Gateway payment status values routed by the dispatcher.
const (
	GatewayStatusPaid      = "Paid"
	GatewayStatusCancelled = "Cancelled"
)

// Action describes what the dispatcher did with a notification.
type Action string

const (
	ActionPaid      Action = "paid"
	ActionCancelled Action = "cancelled"
	ActionIgnored   Action = "ignored"
)

// Result is the outcome of handling one notification.
type Result struct {
	Action Action

	// Event is the ledger row inserted (or, for a duplicate, the row that
	// was already recorded). Nil when the notification was ignored.
	Event *PaymentEvent

	// Duplicate is true when the idempotency guard recognised a repeated
	// delivery and nothing was written.
	Duplicate bool

	// ScheduleReserved reports whether the next-cycle reservation succeeded
	// (Paid only).
	ScheduleReserved bool

	// ScheduleCancelled reports whether a pending reservation was cancelled
	// (Cancelled only).
	ScheduleCancelled bool
}

// Status is the derived subscription state.
type Status struct {
	Subscribed     bool
	TransactionKey string

	// Event is the authoritative row of the active group, if any.
	Event *PaymentEvent
}
