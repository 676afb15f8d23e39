package renew

import (
	"context"
	"time"
)

// LedgerStore defines the append-only persistence of payment events.
// Implementations never update or delete rows.
type LedgerStore interface {
	// InsertEvent appends ev and returns the stored row with ID and
	// CreatedAt populated by the store.
	InsertEvent(ctx context.Context, ev *PaymentEvent) (*PaymentEvent, error)

	// QueryEvents returns rows matching q ordered by CreatedAt descending.
	// An empty result is not an error.
	QueryEvents(ctx context.Context, q EventQuery) ([]PaymentEvent, error)
}

// Deduper claims idempotency keys for webhook deliveries.
type Deduper interface {
	// Claim marks key as processed. It returns false when the key was
	// already claimed and has not expired.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release forgets key so a later delivery can claim it again.
	Release(ctx context.Context, key string) error
}

// Clock supplies the current instant. Tests substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns time.Now in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
