package renew

import (
	"fmt"
	"time"
)

const (
	defaultCurrency             = "KRW"
	defaultScheduleLookupWindow = 24 * time.Hour
	defaultDedupeTTL            = 72 * time.Hour
)

// Config holds the collaborators of a Coordinator.
type Config struct {
	// Ledger is the append-only event store (required).
	Ledger LedgerStore

	// Gateway is the payment provider client (required).
	Gateway Gateway

	// Planner computes coverage windows. If nil, a planner using the
	// charge instant's location is used.
	Planner *Planner

	// Clock supplies the charge instant. Defaults to SystemClock.
	Clock Clock

	// Currency is sent with next-cycle reservations (default: "KRW").
	Currency string

	// ScheduleLookupWindow is the half-width of the window around
	// next_schedule_at searched when cancelling a reservation (default: 24h).
	ScheduleLookupWindow time.Duration

	// Deduper enables the idempotency guard for repeated deliveries.
	// If nil, every delivery is processed.
	Deduper Deduper

	// DedupeTTL is how long a claimed delivery stays claimed (default: 72h).
	DedupeTTL time.Duration

	// Logger is an optional structured logger. Defaults to NoopLogger.
	Logger Logger

	// Metrics is an optional metrics collector. Defaults to NoopMetrics.
	Metrics Metrics
}

// Validate checks that the required collaborators are present.
func (c *Config) Validate() error {
	if c.Ledger == nil {
		return fmt.Errorf("%w: ledger store is required", ErrConfiguration)
	}
	if c.Gateway == nil {
		return fmt.Errorf("%w: gateway is required", ErrConfiguration)
	}
	if c.ScheduleLookupWindow < 0 {
		return fmt.Errorf("%w: schedule lookup window must not be negative", ErrConfiguration)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Planner == nil {
		c.Planner = &Planner{}
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Currency == "" {
		c.Currency = defaultCurrency
	}
	if c.ScheduleLookupWindow == 0 {
		c.ScheduleLookupWindow = defaultScheduleLookupWindow
	}
	if c.DedupeTTL == 0 {
		c.DedupeTTL = defaultDedupeTTL
	}
	if c.Logger == nil {
		c.Logger = &NoopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = &NoopMetrics{}
	}
}
