package renew

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// StatusSource reports subscription state. *StatusDeriver implements it.
type StatusSource interface {
	// Status evaluates every transaction key in the ledger.
	Status(ctx context.Context) (Status, error)
	// StatusFor evaluates a single transaction key.
	StatusFor(ctx context.Context, transactionKey string) (Status, error)
}

// StatusDeriver answers whether a subscription is currently active. It
// only reads the ledger.
type StatusDeriver struct {
	ledger  LedgerStore
	clock   Clock
	metrics Metrics
}

// NewStatusDeriver creates a deriver over ledger. A nil clock uses SystemClock.
func NewStatusDeriver(ledger LedgerStore, clock Clock, metrics Metrics) *StatusDeriver {
	if clock == nil {
		clock = SystemClock{}
	}
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	return &StatusDeriver{ledger: ledger, clock: clock, metrics: metrics}
}

// Status evaluates every transaction key in the ledger.
func (d *StatusDeriver) Status(ctx context.Context) (Status, error) {
	return d.derive(ctx, EventQuery{})
}

// StatusFor evaluates a single transaction key.
func (d *StatusDeriver) StatusFor(ctx context.Context, transactionKey string) (Status, error) {
	if transactionKey == "" {
		return Status{}, nil
	}
	return d.derive(ctx, EventQuery{TransactionKey: transactionKey})
}

func (d *StatusDeriver) derive(ctx context.Context, q EventQuery) (Status, error) {
	start := time.Now()
	rows, err := d.ledger.QueryEvents(ctx, q)
	d.metrics.RecordLedgerOperation("query", time.Since(start), err)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %w", ErrLedgerQuery, err)
	}
	return DeriveStatus(rows, d.clock.Now()), nil
}

// DeriveStatus computes the subscription state from ledger rows.
//
// Rows are grouped by transaction key and the most recently created row
// of each group is authoritative. Groups whose authoritative row is not
// Paid are discarded; of the rest, the first whose coverage window
// (StartAt through EndGraceAt) contains now is reported as active.
func DeriveStatus(events []PaymentEvent, now time.Time) Status {
	sorted := make([]PaymentEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	seen := make(map[string]bool, len(sorted))
	for i := range sorted {
		ev := &sorted[i]
		if seen[ev.TransactionKey] {
			continue
		}
		seen[ev.TransactionKey] = true

		if ev.Status != EventStatusPaid {
			continue
		}
		if ev.IsActiveAt(now) {
			return Status{Subscribed: true, TransactionKey: ev.TransactionKey, Event: ev}
		}
	}
	return Status{}
}
