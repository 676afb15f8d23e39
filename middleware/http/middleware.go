// Package http provides HTTP middleware that gates handlers on an active
// subscription.
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mihaimyh/gorenew/pkg/renew"
)

// TransactionKeyExtractor extracts the transaction key to check from an HTTP request
// Return empty string when the request names no key
type TransactionKeyExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Status is the subscription status source (required)
	Status renew.StatusSource

	// GetTransactionKey narrows the check to one transaction key (optional)
	// If nil, any active subscription in the ledger admits the request
	GetTransactionKey TransactionKeyExtractor

	// OnNotSubscribed is called when no active subscription is found
	// If nil, returns 402 Payment Required
	OnNotSubscribed func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// StatusKey is the context key for the active renew.Status
	StatusKey ContextKey = "renew:status"
)

// Middleware creates an HTTP middleware that admits only subscribed requests
func Middleware(config Config) func(http.Handler) http.Handler {
	// Validate required configuration at startup (fail fast)
	if config.Status == nil {
		panic("gorenew/http: Config.Status is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			status, err := lookup(r.Context(), config, r)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
				}
				return
			}

			if !status.Subscribed {
				if config.OnNotSubscribed != nil {
					config.OnNotSubscribed(w, r)
				} else {
					writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "Subscription required"})
				}
				return
			}

			ctx := context.WithValue(r.Context(), StatusKey, status)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HandlerFunc creates an HTTP middleware that admits only subscribed requests (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

func lookup(ctx context.Context, config Config, r *http.Request) (renew.Status, error) {
	if config.GetTransactionKey == nil {
		return config.Status.Status(ctx)
	}
	return config.Status.StatusFor(ctx, config.GetTransactionKey(r))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // Response already committed
}

// StatusFromContext returns the status stored by Middleware
func StatusFromContext(ctx context.Context) (renew.Status, bool) {
	status, ok := ctx.Value(StatusKey).(renew.Status)
	return status, ok
}

// FromContext returns a TransactionKeyExtractor that gets the key from request context
func FromContext(key any) TransactionKeyExtractor {
	return func(r *http.Request) string {
		if v, ok := r.Context().Value(key).(string); ok {
			return v
		}
		return ""
	}
}

// FromHeader returns a TransactionKeyExtractor that gets the key from a header
func FromHeader(headerName string) TransactionKeyExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromQuery returns a TransactionKeyExtractor that gets the key from a query parameter
func FromQuery(param string) TransactionKeyExtractor {
	return func(r *http.Request) string {
		return r.URL.Query().Get(param)
	}
}
