// Package gin provides Gin middleware that gates routes on an active subscription
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/gorenew/pkg/renew"
)

// StatusKey is the Gin context key holding the active renew.Status
const StatusKey = "renew:status"

// TransactionKeyExtractor extracts the transaction key to check from a Gin context
// Return empty string when the request names no key
type TransactionKeyExtractor func(c *gongin.Context) string

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
	// If nil, uses default response: NotSubscribedStatusCode JSON
	OnNotSubscribed func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that admits only subscribed requests
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Status == nil {
		panic("gorenew/gin: Config.Status is required")
	}

	if cfg.NotSubscribedStatusCode == 0 {
		cfg.NotSubscribedStatusCode = http.StatusPaymentRequired
	}

	return func(c *gongin.Context) {
		ctx := c.Request.Context()

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
				cfg.OnError(c, err)
			} else {
				defaultError(c)
			}
			c.Abort()
			return
		}

		if !status.Subscribed {
			if cfg.OnNotSubscribed != nil {
				cfg.OnNotSubscribed(c)
			} else {
				defaultNotSubscribed(c, cfg.NotSubscribedStatusCode)
			}
			c.Abort()
			return
		}

		c.Set(StatusKey, status)
		c.Next()
	}
}

// GetStatus returns the status stored by Middleware
func GetStatus(c *gongin.Context) (renew.Status, bool) {
	val, exists := c.Get(StatusKey)
	if !exists {
		return renew.Status{}, false
	}
	status, ok := val.(renew.Status)
	return status, ok
}

// Default error handlers

func defaultNotSubscribed(c *gongin.Context, statusCode int) {
	c.JSON(statusCode, gongin.H{"error": "Subscription required"})
}

func defaultError(c *gongin.Context) {
	c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
}

// Convenience extractors for the transaction key

// FromContext returns a TransactionKeyExtractor that gets the key from Gin context values
// This is the recommended approach when an earlier middleware resolves the
// caller's subscription, e.g. c.Set("TransactionKey", "...").
func FromContext(key string) TransactionKeyExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a TransactionKeyExtractor that gets the key from a header
func FromHeader(headerName string) TransactionKeyExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a TransactionKeyExtractor that gets the key from a route parameter
func FromParam(paramName string) TransactionKeyExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns a TransactionKeyExtractor that gets the key from a query parameter
func FromQuery(queryName string) TransactionKeyExtractor {
	return func(c *gongin.Context) string {
		return c.Query(queryName)
	}
}
