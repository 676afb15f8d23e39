// Package webhook exposes the gateway notification endpoint.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mihaimyh/gorenew/pkg/internal"
	"github.com/mihaimyh/gorenew/pkg/renew"
)

const (
	defaultMaxBodyBytes      = 64 * 1024
	defaultRateLimitRequests = 1000
	defaultRateLimitWindow   = time.Minute
)

// Dispatcher handles a decoded notification. *renew.Coordinator implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, n renew.Notification) (*renew.Result, error)
}

// Config configures the webhook handler.
type Config struct {
	// Dispatcher receives every well-formed notification. Required.
	Dispatcher Dispatcher

	// MaxBodyBytes caps the request body. Default 64KB.
	MaxBodyBytes int64

	// RateLimitRequests per client IP within RateLimitWindow, also the burst
	// size. Renewals cluster in one hour and the gateway posts from a handful
	// of addresses, so keep it well above the expected renewal volume.
	// A negative value disables rate limiting. Default 1000/min.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// TrustForwardedFor keys the limiter by X-Forwarded-For instead of the
	// connection address.
	TrustForwardedFor bool

	Logger  renew.Logger
	Metrics renew.Metrics
}

// DefaultConfig returns a Config with default limits and no dispatcher.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      defaultMaxBodyBytes,
		RateLimitRequests: defaultRateLimitRequests,
		RateLimitWindow:   defaultRateLimitWindow,
	}
}

// notification is the wire shape posted by the gateway.
type notification struct {
	PaymentID string `json:"payment_id" validate:"omitempty,max=1024"`
	Status    string `json:"status"`
}

type response struct {
	Success   bool                `json:"success"`
	Message   string              `json:"message,omitempty"`
	Error     string              `json:"error,omitempty"`
	Duplicate bool                `json:"duplicate,omitempty"`
	Payment   *renew.PaymentEvent `json:"payment,omitempty"`
}

// Handler serves POST notifications from the payment gateway.
type Handler struct {
	dispatcher   Dispatcher
	maxBodyBytes int64
	validate     *validator.Validate
	logger       renew.Logger
	metrics      renew.Metrics
	handler      http.Handler
}

// NewHandler creates a webhook handler.
func NewHandler(config Config) (*Handler, error) {
	if config.Dispatcher == nil {
		return nil, fmt.Errorf("%w: webhook dispatcher is required", renew.ErrConfiguration)
	}

	defaults := DefaultConfig()
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if config.RateLimitRequests == 0 {
		config.RateLimitRequests = defaults.RateLimitRequests
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = defaults.RateLimitWindow
	}
	if config.Logger == nil {
		config.Logger = &renew.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &renew.NoopMetrics{}
	}

	h := &Handler{
		dispatcher:   config.Dispatcher,
		maxBodyBytes: config.MaxBodyBytes,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		logger:       config.Logger,
		metrics:      config.Metrics,
	}

	h.handler = http.HandlerFunc(h.handle)
	if config.RateLimitRequests > 0 {
		limiter := internal.NewRateLimiter(config.RateLimitRequests, config.RateLimitWindow)
		limiter.TrustForwardedFor = config.TrustForwardedFor
		limiter.OnLimited = func(*http.Request) { h.metrics.RecordWebhookError("rate_limited") }
		h.handler = limiter.Middleware(h.handler)
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request) {
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.metrics.RecordWebhookError("method_not_allowed")
		h.write(w, http.StatusMethodNotAllowed, response{Error: "method not allowed"})
		return
	}

	body, err := internal.ReadBodyStrict(w, r, h.maxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			h.metrics.RecordWebhookError("payload_too_large")
			h.write(w, http.StatusRequestEntityTooLarge, response{Error: "payload too large"})
			return
		}
		h.metrics.RecordWebhookError("invalid_payload")
		h.write(w, http.StatusBadRequest, response{Error: fmt.Sprintf("invalid payload: %v", err)})
		return
	}

	var payload notification
	if err := json.Unmarshal(body, &payload); err != nil {
		h.metrics.RecordWebhookError("invalid_payload")
		h.write(w, http.StatusBadRequest, response{Error: "invalid payload: malformed JSON"})
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		h.metrics.RecordWebhookError("invalid_payload")
		h.write(w, http.StatusBadRequest, response{Error: fmt.Sprintf("invalid payload: %v", err)})
		return
	}

	h.logger.Info("webhook received",
		renew.Field{Key: "payment_id", Value: payload.PaymentID},
		renew.Field{Key: "status", Value: payload.Status})

	res, err := h.dispatcher.Dispatch(r.Context(), renew.Notification{
		TransactionID: payload.PaymentID,
		Status:        payload.Status,
	})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("webhook processing failed",
				renew.Field{Key: "payment_id", Value: payload.PaymentID},
				renew.Field{Key: "status", Value: payload.Status},
				renew.Field{Key: "error", Value: err})
			h.metrics.RecordWebhookError("processing_error")
		} else {
			h.metrics.RecordWebhookError("invalid_payload")
		}
		h.write(w, status, response{Error: err.Error()})
		return
	}

	h.write(w, http.StatusOK, successResponse(res))
}

// statusFor maps a dispatch error to the HTTP status the gateway sees.
// Anything that is not a caller mistake must be retried.
func statusFor(err error) int {
	if errors.Is(err, renew.ErrInvalidNotification) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func successResponse(res *renew.Result) response {
	out := response{Success: true}
	if res == nil {
		return out
	}

	switch res.Action {
	case renew.ActionPaid:
		out.Message = "payment recorded"
	case renew.ActionCancelled:
		out.Message = "cancellation recorded"
	case renew.ActionIgnored:
		out.Message = "status ignored"
	}
	if res.Duplicate {
		out.Message = "duplicate delivery"
		out.Duplicate = true
	}
	out.Payment = res.Event
	return out
}

func (h *Handler) write(w http.ResponseWriter, status int, body response) {
	if err := internal.WriteJSON(w, status, body); err != nil {
		h.logger.Warn("failed to write webhook response", renew.Field{Key: "error", Value: err})
	}
}
