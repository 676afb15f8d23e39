package renew

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// configChecker is implemented by gateways that can report missing
// credentials before any call is made.
type configChecker interface {
	CheckConfig() error
}

// Coordinator reacts to gateway notifications by recording ledger events
// and keeping the gateway's pending schedule in line with the ledger.
//
// The ledger write is the source of truth. Reserving or cancelling the
// next cycle is best effort and never fails a handler once the ledger row
// is durable.
type Coordinator struct {
	config  Config
	ledger  LedgerStore
	gateway Gateway
	planner *Planner
	clock   Clock
	logger  Logger
	metrics Metrics
}

// NewCoordinator creates a coordinator from config.
func NewCoordinator(config Config) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	return &Coordinator{
		config:  config,
		ledger:  config.Ledger,
		gateway: config.Gateway,
		planner: config.Planner,
		clock:   config.Clock,
		logger:  config.Logger,
		metrics: config.Metrics,
	}, nil
}

// CheckConfig reports ErrConfiguration when the gateway is missing its
// credentials.
func (c *Coordinator) CheckConfig() error {
	if checker, ok := c.gateway.(configChecker); ok {
		if err := checker.CheckConfig(); err != nil {
			if errors.Is(err, ErrConfiguration) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}
	return nil
}

// Dispatch routes a notification to the Paid or Cancelled handler.
// Unrecognised statuses are logged and reported as ignored without error.
func (c *Coordinator) Dispatch(ctx context.Context, n Notification) (*Result, error) {
	start := time.Now()
	status := strings.TrimSpace(n.Status)

	res, err := c.dispatch(ctx, status, strings.TrimSpace(n.TransactionID))

	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case res.Action == ActionIgnored:
		outcome = "ignored"
	case res.Duplicate:
		outcome = "duplicate"
	}
	c.metrics.RecordNotification(status, outcome)
	c.metrics.RecordNotificationDuration(status, time.Since(start))

	return res, err
}

func (c *Coordinator) dispatch(ctx context.Context, status, transactionID string) (*Result, error) {
	if err := c.CheckConfig(); err != nil {
		return nil, err
	}

	switch status {
	case GatewayStatusPaid, GatewayStatusCancelled:
	default:
		c.logger.Info("ignoring notification with unknown status",
			Field{"status", status}, Field{"transaction_id", transactionID})
		return &Result{Action: ActionIgnored}, nil
	}

	if transactionID == "" {
		return nil, fmt.Errorf("%w: missing payment id", ErrInvalidNotification)
	}

	if status == GatewayStatusPaid {
		return c.HandlePaid(ctx, transactionID)
	}
	return c.HandleCancelled(ctx, transactionID)
}

// HandlePaid records a completed charge and reserves the next cycle.
//
// Failing to fetch the payment or to write the ledger row is fatal. A
// failed reservation is logged only: the charge has already happened and
// must be recorded regardless.
func (c *Coordinator) HandlePaid(ctx context.Context, transactionID string) (res *Result, err error) {
	payment, err := c.lookupPayment(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	key := transactionKey(payment, transactionID)

	claimKey := dedupeKey(EventStatusPaid, transactionID)
	claimed, err := c.claim(ctx, claimKey)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return c.duplicate(ctx, ActionPaid, key, EventStatusPaid)
	}
	defer func() {
		if err != nil {
			c.release(ctx, claimKey)
		}
	}()

	plan := c.planner.Plan(c.clock.Now())
	stored, err := c.insert(ctx, &PaymentEvent{
		TransactionKey: key,
		Amount:         payment.Amount,
		Status:         EventStatusPaid,
		StartAt:        plan.StartAt,
		EndAt:          plan.EndAt,
		EndGraceAt:     plan.EndGraceAt,
		NextScheduleAt: plan.NextScheduleAt,
		NextScheduleID: plan.NextScheduleID,
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("payment recorded",
		Field{"transaction_key", stored.TransactionKey},
		Field{"amount", stored.Amount},
		Field{"next_schedule_at", stored.NextScheduleAt})

	res = &Result{Action: ActionPaid, Event: stored}

	if !payment.HasBillingKey() {
		c.logger.Info("no billing key on payment, skipping next cycle reservation",
			Field{"transaction_key", key})
		c.metrics.RecordScheduleReconciliation("skipped")
		return res, nil
	}

	reserveErr := c.gateway.ReserveSchedule(ctx, plan.NextScheduleID, ScheduleRequest{
		BillingKey: payment.BillingKey,
		OrderName:  payment.OrderName,
		CustomerID: payment.CustomerID,
		Amount:     payment.Amount,
		Currency:   c.config.Currency,
		TimeToPay:  plan.NextScheduleAt,
	})
	if reserveErr != nil {
		c.logger.Error("next cycle reservation failed",
			Field{"transaction_key", key},
			Field{"next_schedule_id", plan.NextScheduleID},
			Field{"error", fmt.Errorf("%w: %w", ErrGatewayReservation, reserveErr)})
		c.metrics.RecordScheduleReconciliation("reserve_failed")
		return res, nil
	}

	c.logger.Info("next cycle reserved",
		Field{"transaction_key", key},
		Field{"next_schedule_id", plan.NextScheduleID},
		Field{"time_to_pay", plan.NextScheduleAt})
	c.metrics.RecordScheduleReconciliation("reserved")
	res.ScheduleReserved = true
	return res, nil
}

// HandleCancelled records the reversal of a charge and cancels the
// matching pending reservation.
//
// Failing to fetch the payment, to find the original Paid row or to write
// the Cancel row is fatal. The schedule lookup and cancellation are best
// effort and only logged.
func (c *Coordinator) HandleCancelled(ctx context.Context, transactionID string) (res *Result, err error) {
	payment, err := c.lookupPayment(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	key := transactionKey(payment, transactionID)

	claimKey := dedupeKey(EventStatusCancel, transactionID)
	claimed, err := c.claim(ctx, claimKey)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return c.duplicate(ctx, ActionCancelled, key, EventStatusCancel)
	}
	defer func() {
		if err != nil {
			c.release(ctx, claimKey)
		}
	}()

	rows, err := c.query(ctx, EventQuery{TransactionKey: key, Status: EventStatusPaid, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoActivePayment, key)
	}
	original := rows[0]

	stored, err := c.insert(ctx, CancellationOf(&original))
	if err != nil {
		return nil, err
	}

	c.logger.Info("cancellation recorded",
		Field{"transaction_key", stored.TransactionKey},
		Field{"amount", stored.Amount})

	res = &Result{Action: ActionCancelled, Event: stored}

	if !payment.HasBillingKey() || original.NextScheduleID == "" {
		c.logger.Info("no billing key or next schedule id, skipping reservation cancel",
			Field{"transaction_key", key})
		c.metrics.RecordScheduleReconciliation("skipped")
		return res, nil
	}

	scheduleID, cancelErr := c.cancelPendingSchedule(ctx, payment.BillingKey, &original)
	if cancelErr != nil {
		fields := []Field{
			{"transaction_key", key},
			{"next_schedule_id", original.NextScheduleID},
			{"error", cancelErr},
		}
		if errors.Is(cancelErr, ErrScheduleNotFound) {
			c.logger.Warn("no pending reservation to cancel", fields...)
		} else {
			c.logger.Error("pending reservation cancel failed", fields...)
		}
		return res, nil
	}

	c.logger.Info("pending reservation cancelled",
		Field{"transaction_key", key},
		Field{"schedule_id", scheduleID})
	res.ScheduleCancelled = true
	return res, nil
}

// CancellationOf builds the Cancel row reversing paid. The window fields
// and next_schedule_id are copied verbatim and the amount is negated.
func CancellationOf(paid *PaymentEvent) *PaymentEvent {
	return &PaymentEvent{
		TransactionKey: paid.TransactionKey,
		Amount:         -paid.Amount,
		Status:         EventStatusCancel,
		StartAt:        paid.StartAt,
		EndAt:          paid.EndAt,
		EndGraceAt:     paid.EndGraceAt,
		NextScheduleAt: paid.NextScheduleAt,
		NextScheduleID: paid.NextScheduleID,
	}
}

// cancelPendingSchedule finds the reservation placed for original and
// cancels it. It returns the gateway schedule id that was cancelled.
func (c *Coordinator) cancelPendingSchedule(
	ctx context.Context, billingKey string, original *PaymentEvent,
) (string, error) {
	window := c.config.ScheduleLookupWindow
	schedules, err := c.gateway.ListSchedules(ctx, ScheduleFilter{
		BillingKey: billingKey,
		From:       original.NextScheduleAt.Add(-window),
		Until:      original.NextScheduleAt.Add(window),
	})
	if err != nil {
		c.metrics.RecordScheduleReconciliation("query_failed")
		return "", fmt.Errorf("%w: %w", ErrGatewayScheduleQuery, err)
	}

	var scheduleID string
	for _, s := range schedules {
		if s.PaymentID == original.NextScheduleID {
			scheduleID = s.ID
			break
		}
	}
	if scheduleID == "" {
		c.metrics.RecordScheduleReconciliation("not_found")
		return "", fmt.Errorf("%w: %s", ErrScheduleNotFound, original.NextScheduleID)
	}

	if err := c.gateway.CancelSchedules(ctx, []string{scheduleID}); err != nil {
		c.metrics.RecordScheduleReconciliation("cancel_failed")
		return "", fmt.Errorf("%w: %w", ErrGatewayScheduleCancel, err)
	}

	c.metrics.RecordScheduleReconciliation("cancelled")
	return scheduleID, nil
}

func (c *Coordinator) lookupPayment(ctx context.Context, transactionID string) (*GatewayPayment, error) {
	payment, err := c.gateway.GetPayment(ctx, transactionID)
	if err != nil {
		c.logger.Error("payment lookup failed",
			Field{"transaction_id", transactionID}, Field{"error", err})
		return nil, fmt.Errorf("%w: %w", ErrGatewayLookup, err)
	}
	if payment == nil {
		return nil, fmt.Errorf("%w: empty payment record for %s", ErrGatewayLookup, transactionID)
	}
	return payment, nil
}

func (c *Coordinator) insert(ctx context.Context, ev *PaymentEvent) (*PaymentEvent, error) {
	start := time.Now()
	stored, err := c.ledger.InsertEvent(ctx, ev)
	c.metrics.RecordLedgerOperation("insert", time.Since(start), err)
	if err != nil {
		c.logger.Error("ledger insert failed",
			Field{"transaction_key", ev.TransactionKey},
			Field{"status", ev.Status},
			Field{"error", err})
		return nil, fmt.Errorf("%w: %w", ErrLedgerWrite, err)
	}
	return stored, nil
}

func (c *Coordinator) query(ctx context.Context, q EventQuery) ([]PaymentEvent, error) {
	start := time.Now()
	rows, err := c.ledger.QueryEvents(ctx, q)
	c.metrics.RecordLedgerOperation("query", time.Since(start), err)
	if err != nil {
		c.logger.Error("ledger query failed",
			Field{"transaction_key", q.TransactionKey},
			Field{"error", err})
		return nil, fmt.Errorf("%w: %w", ErrLedgerQuery, err)
	}
	return rows, nil
}

// claim returns true when the delivery should be processed. Without a
// Deduper, or when the Deduper itself fails, every delivery is processed.
func (c *Coordinator) claim(ctx context.Context, key string) (bool, error) {
	if c.config.Deduper == nil {
		return true, nil
	}
	ok, err := c.config.Deduper.Claim(ctx, key, c.config.DedupeTTL)
	if err != nil {
		c.logger.Warn("dedupe claim failed, processing delivery",
			Field{"key", key}, Field{"error", err})
		return true, nil
	}
	return ok, nil
}

func (c *Coordinator) release(ctx context.Context, key string) {
	if c.config.Deduper == nil {
		return
	}
	if err := c.config.Deduper.Release(context.WithoutCancel(ctx), key); err != nil {
		c.logger.Warn("dedupe release failed", Field{"key", key}, Field{"error", err})
	}
}

// duplicate answers a repeated delivery with the row already recorded.
func (c *Coordinator) duplicate(
	ctx context.Context, action Action, key string, status EventStatus,
) (*Result, error) {
	rows, err := c.query(ctx, EventQuery{TransactionKey: key, Status: status, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrDeliveryInFlight, status, key)
	}
	c.logger.Info("duplicate delivery, nothing written",
		Field{"transaction_key", key}, Field{"status", status})
	return &Result{Action: action, Event: &rows[0], Duplicate: true}, nil
}

func transactionKey(p *GatewayPayment, fallback string) string {
	if key := p.TransactionKey(); key != "" {
		return key
	}
	return fallback
}

func dedupeKey(status EventStatus, transactionID string) string {
	return string(status) + ":" + transactionID
}
