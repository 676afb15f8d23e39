// Package echo provides Echo middleware that gates routes on an active subscription
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/gorenew/pkg/renew"
)

// StatusKey is the Echo context key holding the active renew.Status
const StatusKey = "renew:status"

// TransactionKeyExtractor extracts the transaction key to check from an Echo context
// Return empty string when the request names no key
type TransactionKeyExtractor func(c echo.Context) string

// Config holds middleware configuration
type Config struct {
	// Status is the subscription status source (required)
	Status renew.StatusSource

	// GetTransactionKey narrows the check to one transaction key (optional)
	// If nil, any active subscription in the ledger admits the request
	GetTransactionKey TransactionKeyExtractor

	// NotSubscribedStatusCode is the HTTP status code to return when no
	// active subscription is found
	// Default: 402 (Payment Required)
	NotSubscribedStatusCode int

	// OnNotSubscribed is called when no active subscription is found
	OnNotSubscribed func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that admits only subscribed requests
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Status == nil {
		panic("gorenew/echo: Config.Status is required")
	}
	if cfg.NotSubscribedStatusCode == 0 {
		cfg.NotSubscribedStatusCode = http.StatusPaymentRequired
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			var (
				status renew.Status
				err    error
			)
			if cfg.GetTransactionKey != nil {
				status, err = cfg.Status.StatusFor(ctx, cfg.GetTransactionKey(c))
			} else {
				status, err = cfg.Status.Status(ctx)
			}

			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}

			if !status.Subscribed {
				if cfg.OnNotSubscribed != nil {
					return cfg.OnNotSubscribed(c)
				}
				return c.JSON(cfg.NotSubscribedStatusCode, map[string]string{"error": "Subscription required"})
			}

			c.Set(StatusKey, status)
			return next(c)
		}
	}
}

// GetStatus returns the status stored by Middleware
func GetStatus(c echo.Context) (renew.Status, bool) {
	status, ok := c.Get(StatusKey).(renew.Status)
	return status, ok
}

// FromContext returns a TransactionKeyExtractor that gets the key from Echo context values
func FromContext(key string) TransactionKeyExtractor {
	return func(c echo.Context) string {
		if val := c.Get(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a TransactionKeyExtractor that gets the key from a header
func FromHeader(headerName string) TransactionKeyExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a TransactionKeyExtractor that gets the key from a route parameter
func FromParam(paramName string) TransactionKeyExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns a TransactionKeyExtractor that gets the key from a query parameter
func FromQuery(queryName string) TransactionKeyExtractor {
	return func(c echo.Context) string {
		return c.QueryParam(queryName)
	}
}
