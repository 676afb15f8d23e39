package renew

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var statusNow = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

func paidRow(key string, created time.Time, start, graceEnd time.Time) PaymentEvent {
	return PaymentEvent{
		TransactionKey: key,
		Status:         EventStatusPaid,
		Amount:         9900,
		StartAt:        start,
		EndAt:          graceEnd.Add(-24 * time.Hour),
		EndGraceAt:     graceEnd,
		CreatedAt:      created,
	}
}

func TestDeriveStatus_CancelAfterPaidIsNotSubscribed(t *testing.T) {
	paid := paidRow("A", time.Unix(1, 0), statusNow.Add(-24*time.Hour), statusNow.Add(30*24*time.Hour))
	cancel := *CancellationOf(&paid)
	cancel.CreatedAt = time.Unix(2, 0)

	status := DeriveStatus([]PaymentEvent{cancel, paid}, statusNow)

	assert.False(t, status.Subscribed)
	assert.Empty(t, status.TransactionKey)
}

func TestDeriveStatus_UnorderedInputStillUsesLatestRow(t *testing.T) {
	paid := paidRow("A", time.Unix(1, 0), statusNow.Add(-24*time.Hour), statusNow.Add(30*24*time.Hour))
	cancel := *CancellationOf(&paid)
	cancel.CreatedAt = time.Unix(2, 0)

	status := DeriveStatus([]PaymentEvent{paid, cancel}, statusNow)

	assert.False(t, status.Subscribed)
}

func TestDeriveStatus_SinglePaidRowInWindow(t *testing.T) {
	row := paidRow("B", statusNow.Add(-24*time.Hour), statusNow.Add(-24*time.Hour), statusNow.Add(30*24*time.Hour))

	status := DeriveStatus([]PaymentEvent{row}, statusNow)

	assert.True(t, status.Subscribed)
	assert.Equal(t, "B", status.TransactionKey)
	require.NotNil(t, status.Event)
	assert.Equal(t, int64(9900), status.Event.Amount)
}

func TestDeriveStatus_WindowBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		grace time.Time
		want  bool
	}{
		{"starts now", statusNow, statusNow.Add(time.Hour), true},
		{"grace ends now", statusNow.Add(-time.Hour), statusNow, true},
		{"not started", statusNow.Add(time.Second), statusNow.Add(time.Hour), false},
		{"grace over", statusNow.Add(-time.Hour), statusNow.Add(-time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := paidRow("K", statusNow.Add(-time.Hour), tt.start, tt.grace)
			assert.Equal(t, tt.want, DeriveStatus([]PaymentEvent{row}, statusNow).Subscribed)
		})
	}
}

func TestDeriveStatus_OtherKeyStillActive(t *testing.T) {
	inWindow := func(key string, created time.Time) PaymentEvent {
		return paidRow(key, created, statusNow.Add(-time.Hour), statusNow.Add(time.Hour))
	}
	old := inWindow("old", time.Unix(10, 0))
	cancelled := inWindow("cancelled", time.Unix(20, 0))
	cancelRow := *CancellationOf(&cancelled)
	cancelRow.CreatedAt = time.Unix(30, 0)

	status := DeriveStatus([]PaymentEvent{cancelRow, cancelled, old}, statusNow)

	assert.True(t, status.Subscribed)
	assert.Equal(t, "old", status.TransactionKey)
}

func TestDeriveStatus_Empty(t *testing.T) {
	assert.Equal(t, Status{}, DeriveStatus(nil, statusNow))
}

type staticLedger struct {
	rows    []PaymentEvent
	err     error
	queries []EventQuery
}

func (l *staticLedger) InsertEvent(_ context.Context, ev *PaymentEvent) (*PaymentEvent, error) {
	l.rows = append(l.rows, *ev)
	return ev, nil
}

func (l *staticLedger) QueryEvents(_ context.Context, q EventQuery) ([]PaymentEvent, error) {
	l.queries = append(l.queries, q)
	if l.err != nil {
		return nil, l.err
	}
	var out []PaymentEvent
	for i := range l.rows {
		if q.Matches(&l.rows[i]) {
			out = append(out, l.rows[i])
		}
	}
	return out, nil
}

func TestStatusDeriver_Idempotent(t *testing.T) {
	ledger := &staticLedger{rows: []PaymentEvent{
		paidRow("B", statusNow.Add(-time.Hour), statusNow.Add(-time.Hour), statusNow.Add(time.Hour)),
	}}
	deriver := NewStatusDeriver(ledger, ClockFunc(func() time.Time { return statusNow }), nil)
	ctx := context.Background()

	first, err := deriver.Status(ctx)
	require.NoError(t, err)
	second, err := deriver.Status(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, first.Subscribed)
}

func TestStatusDeriver_StatusForFiltersByKey(t *testing.T) {
	ledger := &staticLedger{rows: []PaymentEvent{
		paidRow("B", statusNow.Add(-time.Hour), statusNow.Add(-time.Hour), statusNow.Add(time.Hour)),
	}}
	deriver := NewStatusDeriver(ledger, ClockFunc(func() time.Time { return statusNow }), nil)

	status, err := deriver.StatusFor(context.Background(), "C")
	require.NoError(t, err)
	assert.False(t, status.Subscribed)
	require.Len(t, ledger.queries, 1)
	assert.Equal(t, "C", ledger.queries[0].TransactionKey)

	status, err = deriver.StatusFor(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, status.Subscribed)
	assert.Len(t, ledger.queries, 1, "empty key must not hit the ledger")
}

func TestStatusDeriver_LedgerError(t *testing.T) {
	deriver := NewStatusDeriver(&staticLedger{err: errors.New("boom")}, nil, nil)

	_, err := deriver.Status(context.Background())

	assert.ErrorIs(t, err, ErrLedgerQuery)
	assert.True(t, IsFatal(err))
}
