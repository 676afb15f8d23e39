package renew

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("renew: circuit breaker is open")

// CircuitBreaker guards calls to a flaky dependency.
type CircuitBreaker interface {
	// Execute runs fn unless the circuit is open.
	Execute(ctx context.Context, fn func() error) error
	// State returns the current state of the circuit breaker.
	State() CircuitBreakerState
}

// DefaultCircuitBreaker opens after a run of consecutive failures and lets
// a probe through once resetTimeout has elapsed.
type DefaultCircuitBreaker struct {
	mu sync.RWMutex

	state               CircuitBreakerState
	failureThreshold    int
	resetTimeout        time.Duration
	consecutiveFailures int
	openedAt            time.Time
	now                 func() time.Time

	onStateChange func(state CircuitBreakerState)
}

// NewDefaultCircuitBreaker creates a new default circuit breaker.
func NewDefaultCircuitBreaker(failureThreshold int, resetTimeout time.Duration,
	onStateChange func(state CircuitBreakerState)) *DefaultCircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return &DefaultCircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
		onStateChange:    onStateChange,
	}
}

func (cb *DefaultCircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

func (cb *DefaultCircuitBreaker) currentState() CircuitBreakerState {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Execute runs fn and records the outcome. Context cancellation is passed
// through without counting as a failure.
func (cb *DefaultCircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if cb.State() == StateOpen {
		return ErrCircuitOpen
	}

	err := fn()
	switch {
	case err == nil:
		cb.success()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
	default:
		cb.failure()
	}
	return err
}

func (cb *DefaultCircuitBreaker) success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	if cb.state != StateClosed {
		cb.changeState(StateClosed)
	}
}

func (cb *DefaultCircuitBreaker) failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	switch cb.currentState() {
	case StateHalfOpen:
		cb.openedAt = cb.now()
		cb.changeState(StateOpen)
	case StateClosed:
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.openedAt = cb.now()
			cb.changeState(StateOpen)
		}
	}
}

func (cb *DefaultCircuitBreaker) changeState(newState CircuitBreakerState) {
	if cb.state == newState {
		// half-open is derived, so re-opening from it still notifies
		if newState == StateOpen && cb.onStateChange != nil {
			cb.onStateChange(newState)
		}
		return
	}
	cb.state = newState
	if cb.onStateChange != nil {
		cb.onStateChange(newState)
	}
}

// CircuitBreakerLedger wraps a LedgerStore with circuit breaker protection.
type CircuitBreakerLedger struct {
	ledger LedgerStore
	cb     CircuitBreaker
}

// NewCircuitBreakerLedger creates a new ledger wrapper with circuit breaker.
func NewCircuitBreakerLedger(ledger LedgerStore, cb CircuitBreaker) *CircuitBreakerLedger {
	return &CircuitBreakerLedger{ledger: ledger, cb: cb}
}

func (l *CircuitBreakerLedger) InsertEvent(ctx context.Context, ev *PaymentEvent) (*PaymentEvent, error) {
	var stored *PaymentEvent
	err := l.cb.Execute(ctx, func() error {
		var e error
		stored, e = l.ledger.InsertEvent(ctx, ev)
		return e
	})
	return stored, err
}

func (l *CircuitBreakerLedger) QueryEvents(ctx context.Context, q EventQuery) ([]PaymentEvent, error) {
	var rows []PaymentEvent
	err := l.cb.Execute(ctx, func() error {
		var e error
		rows, e = l.ledger.QueryEvents(ctx, q)
		return e
	})
	return rows, err
}
