package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements renew.Metrics using Prometheus.
type Metrics struct {
	notificationsTotal         *prometheus.CounterVec
	notificationDuration       *prometheus.HistogramVec
	ledgerOpsDuration          *prometheus.HistogramVec
	ledgerOpsErrors            *prometheus.CounterVec
	gatewayCallsTotal          *prometheus.CounterVec
	gatewayCallDuration        *prometheus.HistogramVec
	scheduleReconciliations    *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
	webhookErrorsTotal         *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		notificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of gateway notifications handled.",
		}, []string{"status", "outcome"}),

		notificationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_duration_seconds",
			Help:      "Latency of notification handling.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),

		ledgerOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_operation_duration_seconds",
			Help:      "Latency of ledger operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		ledgerOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operation_errors_total",
			Help:      "Total number of ledger operation errors.",
		}, []string{"operation"}),

		gatewayCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Total number of payment gateway API calls.",
		}, []string{"endpoint", "status"}),

		gatewayCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Latency of payment gateway API calls.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),

		scheduleReconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_reconciliations_total",
			Help:      "Outcomes of next-cycle reservation and cancellation steps.",
		}, []string{"outcome"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "errors_total",
			Help:      "Total number of rejected webhook requests.",
		}, []string{"error_type"}),
	}
}

func (m *Metrics) RecordNotification(status, outcome string) {
	m.notificationsTotal.WithLabelValues(status, outcome).Inc()
}

func (m *Metrics) RecordNotificationDuration(status string, duration time.Duration) {
	m.notificationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) RecordLedgerOperation(operation string, duration time.Duration, err error) {
	m.ledgerOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.ledgerOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordGatewayCall(endpoint, status string) {
	m.gatewayCallsTotal.WithLabelValues(endpoint, status).Inc()
}

func (m *Metrics) RecordGatewayCallDuration(endpoint string, duration time.Duration) {
	m.gatewayCallDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordScheduleReconciliation(outcome string) {
	m.scheduleReconciliations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordWebhookError(errorType string) {
	m.webhookErrorsTotal.WithLabelValues(errorType).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
