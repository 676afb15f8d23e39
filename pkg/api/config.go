package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mihaimyh/gorenew/pkg/portone"
	"github.com/mihaimyh/gorenew/pkg/renew"
)

// StatusSource derives subscription status from the ledger.
type StatusSource = renew.StatusSource

// Charger performs an immediate billing-key charge. *portone.Client implements it.
type Charger interface {
	PayWithBillingKey(ctx context.Context, paymentID string, p portone.BillingKeyPayment) (*portone.BillingKeyPaymentResult, error)
}

// Config holds configuration for the subscription API handler
type Config struct {
	// Status is the status deriver (required)
	Status StatusSource

	// Charger enables CreatePayment. If nil, CreatePayment answers 503.
	Charger Charger

	// GetTransactionKey optionally narrows GetStatus to one transaction key.
	// If nil, the "transaction_key" query parameter is used.
	GetTransactionKey func(*http.Request) string

	// WebhookURL is passed to the gateway so the resulting notification
	// reaches this service. Optional.
	WebhookURL string

	// Currency for billing-key charges. Defaults to KRW.
	Currency string

	// NewPaymentID generates merchant payment ids. Defaults to
	// "payment_<unix millis>_<7 random base36 chars>".
	NewPaymentID func() string

	// OnError handles errors (validation, gateway, internal)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	Logger renew.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Status == nil {
		return fmt.Errorf("status source is required")
	}
	return nil
}

// NewHandler creates a new API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.GetTransactionKey == nil {
		config.GetTransactionKey = FromQuery("transaction_key")
	}
	if config.Currency == "" {
		config.Currency = "KRW"
	}
	if config.NewPaymentID == nil {
		config.NewPaymentID = NewPaymentID
	}
	if config.Logger == nil {
		config.Logger = &renew.NoopLogger{}
	}
	return newHandler(config), nil
}

// Helper functions for common transaction key extraction patterns

// FromHeader returns a GetTransactionKey function that reads a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromQuery returns a GetTransactionKey function that reads a query parameter
func FromQuery(param string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.URL.Query().Get(param)
	}
}

// FromContext returns a GetTransactionKey function that reads a request context value
func FromContext(key any) func(*http.Request) string {
	return func(r *http.Request) string {
		if v, ok := r.Context().Value(key).(string); ok {
			return v
		}
		return ""
	}
}
