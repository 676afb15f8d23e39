// Package fiber provides Fiber middleware that gates routes on an active subscription
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/gorenew/pkg/renew"
)

// StatusKey is the Fiber Locals key holding the active renew.Status
const StatusKey = "renew:status"

// TransactionKeyExtractor extracts the transaction key to check from a Fiber context
// Return empty string when the request names no key
type TransactionKeyExtractor func(c *fiber.Ctx) string

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
	OnNotSubscribed func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that admits only subscribed requests
func Middleware(cfg Config) fiber.Handler {
	if cfg.Status == nil {
		panic("gorenew/fiber: Config.Status is required")
	}
	if cfg.NotSubscribedStatusCode == 0 {
		cfg.NotSubscribedStatusCode = fiber.StatusPaymentRequired
	}

	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

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
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		}

		if !status.Subscribed {
			if cfg.OnNotSubscribed != nil {
				return cfg.OnNotSubscribed(c)
			}
			return c.Status(cfg.NotSubscribedStatusCode).JSON(fiber.Map{"error": "Subscription required"})
		}

		c.Locals(StatusKey, status)
		return c.Next()
	}
}

// GetStatus returns the status stored by Middleware
func GetStatus(c *fiber.Ctx) (renew.Status, bool) {
	status, ok := c.Locals(StatusKey).(renew.Status)
	return status, ok
}

// FromContext returns a TransactionKeyExtractor that gets the key from Fiber context values (Locals)
func FromContext(key string) TransactionKeyExtractor {
	return func(c *fiber.Ctx) string {
		if val := c.Locals(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a TransactionKeyExtractor that gets the key from a header
// Fiber v2 uses c.Get() for headers (not c.GetHeader())
func FromHeader(headerName string) TransactionKeyExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a TransactionKeyExtractor that gets the key from a route parameter.
// Fiber binds params only for route handlers, so the middleware must be mounted on the
// route itself (app.Get("/x/:key", Middleware(cfg), h)); under app.Use it always sees "".
func FromParam(paramName string) TransactionKeyExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}

// FromQuery returns a TransactionKeyExtractor that gets the key from a query parameter
func FromQuery(queryName string) TransactionKeyExtractor {
	return func(c *fiber.Ctx) string {
		return c.Query(queryName)
	}
}
