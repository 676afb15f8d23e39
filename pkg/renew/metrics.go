package renew

import "time"

// Metrics defines the interface for tracking subscription lifecycle operations.
type Metrics interface {
	// RecordNotification records a handled webhook notification.
	// status is the gateway status; outcome is "success", "ignored", "duplicate" or "error".
	RecordNotification(status, outcome string)

	// RecordNotificationDuration records how long a notification took to handle.
	RecordNotificationDuration(status string, duration time.Duration)

	// RecordLedgerOperation records the duration and result of a ledger call.
	RecordLedgerOperation(operation string, duration time.Duration, err error)

	// RecordGatewayCall records an API call to the payment gateway.
	// status is the HTTP status code as string, or "error" for transport failures.
	RecordGatewayCall(endpoint, status string)

	// RecordGatewayCallDuration records how long a gateway call took.
	RecordGatewayCallDuration(endpoint string, duration time.Duration)

	// RecordScheduleReconciliation records the outcome of a best-effort
	// schedule step ("reserved", "reserve_failed", "cancelled", "not_found",
	// "cancel_failed", "query_failed", "skipped").
	RecordScheduleReconciliation(outcome string)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)

	// RecordWebhookError records a rejected webhook request.
	// errorType is e.g. "method_not_allowed", "invalid_payload", "rate_limited".
	RecordWebhookError(errorType string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordNotification(_, _ string)                           {}
func (n *NoopMetrics) RecordNotificationDuration(_ string, _ time.Duration)     {}
func (n *NoopMetrics) RecordLedgerOperation(_ string, _ time.Duration, _ error) {}
func (n *NoopMetrics) RecordGatewayCall(_, _ string)                            {}
func (n *NoopMetrics) RecordGatewayCallDuration(_ string, _ time.Duration)      {}
func (n *NoopMetrics) RecordScheduleReconciliation(_ string)                    {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(_ string)                 {}
func (n *NoopMetrics) RecordWebhookError(_ string)                              {}
