package renew

import "errors"

var (
	// ErrConfiguration is returned when required external credentials or
	// collaborators are missing.
	ErrConfiguration = errors.New("renew: configuration error")

	// ErrInvalidNotification is returned for a webhook without a payment id
	ErrInvalidNotification = errors.New("renew: invalid notification")

	// ErrGatewayLookup is returned when the payment record cannot be fetched
	ErrGatewayLookup = errors.New("renew: gateway payment lookup failed")

	// ErrGatewayReservation is returned when the next-cycle schedule cannot be placed
	ErrGatewayReservation = errors.New("renew: gateway schedule reservation failed")

	// ErrGatewayScheduleQuery is returned when pending schedules cannot be listed
	ErrGatewayScheduleQuery = errors.New("renew: gateway schedule query failed")

	// ErrGatewayScheduleCancel is returned when a pending schedule cannot be cancelled
	ErrGatewayScheduleCancel = errors.New("renew: gateway schedule cancel failed")

	// ErrLedgerWrite is returned when a ledger insert fails
	ErrLedgerWrite = errors.New("renew: ledger write failed")

	// ErrLedgerQuery is returned when a ledger query fails
	ErrLedgerQuery = errors.New("renew: ledger query failed")

	// ErrNoActivePayment is returned when a cancellation references a charge
	// the ledger never recorded
	ErrNoActivePayment = errors.New("renew: no paid ledger row for transaction")

	// ErrDeliveryInFlight is returned when a repeated delivery was claimed
	// but its ledger row is not visible yet
	ErrDeliveryInFlight = errors.New("renew: delivery already claimed and still in flight")

	// ErrScheduleNotFound is returned when no pending schedule matches the
	// recorded next_schedule_id
	ErrScheduleNotFound = errors.New("renew: pending schedule not found")
)

// IsFatal reports whether err must be surfaced to the gateway as a failure
// so the notification is redelivered.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrGatewayLookup),
		errors.Is(err, ErrLedgerWrite),
		errors.Is(err, ErrLedgerQuery),
		errors.Is(err, ErrNoActivePayment),
		errors.Is(err, ErrDeliveryInFlight):
		return true
	}
	return false
}
