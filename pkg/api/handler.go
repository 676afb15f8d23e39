package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mihaimyh/gorenew/pkg/internal"
	"github.com/mihaimyh/gorenew/pkg/portone"
	"github.com/mihaimyh/gorenew/pkg/renew"
)

const (
	maxTransactionKeyLen = 255
	maxRequestBodyBytes  = 16 * 1024
	paymentIDSuffixLen   = 7
	base36               = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Handler provides HTTP endpoints for subscription status and billing-key charges
type Handler struct {
	config   Config
	validate *validator.Validate
}

func newHandler(config Config) *Handler {
	return &Handler{
		config:   config,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// GetStatus reports whether a subscription is currently active.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key := strings.TrimSpace(h.config.GetTransactionKey(r))
	if len(key) > maxTransactionKeyLen {
		h.handleError(w, r, fmt.Errorf("invalid transaction key format"), http.StatusBadRequest)
		return
	}

	var (
		status renew.Status
		err    error
	)
	if key == "" {
		status, err = h.config.Status.Status(ctx)
	} else {
		status, err = h.config.Status.StatusFor(ctx, key)
	}
	if err != nil {
		h.config.Logger.Error("status derivation failed",
			renew.Field{Key: "transaction_key", Value: key},
			renew.Field{Key: "error", Value: err})
		h.handleError(w, r, fmt.Errorf("failed to derive subscription status"), http.StatusInternalServerError)
		return
	}

	resp := StatusResponse{IsSubscribed: status.Subscribed, TransactionKey: status.TransactionKey}
	if ev := status.Event; ev != nil {
		resp.StartAt = &ev.StartAt
		resp.EndAt = &ev.EndAt
		resp.EndGraceAt = &ev.EndGraceAt
	}

	internal.SetSecurityHeaders(w)
	if err := internal.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.config.Logger.Warn("failed to write status response", renew.Field{Key: "error", Value: err})
	}
}

// CreatePayment charges a stored billing key immediately. The ledger row is
// written later by the Paid webhook, not here.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writePayment(w, http.StatusMethodNotAllowed, PaymentResponse{Error: "method not allowed"})
		return
	}
	if h.config.Charger == nil {
		h.writePayment(w, http.StatusServiceUnavailable, PaymentResponse{Error: "payments are not configured"})
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxRequestBodyBytes)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.writePayment(w, status, PaymentResponse{Error: err.Error()})
		return
	}

	var req PaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writePayment(w, http.StatusBadRequest, PaymentResponse{Error: "malformed JSON"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writePayment(w, http.StatusBadRequest, PaymentResponse{
			Error:   "missing required fields",
			Details: validationDetails(err),
		})
		return
	}

	paymentID := h.config.NewPaymentID()
	payment := portone.BillingKeyPayment{
		BillingKey: req.BillingKey,
		OrderName:  req.OrderName,
		CustomerID: req.Customer.ID,
		Amount:     req.Amount,
		Currency:   h.config.Currency,
	}
	if h.config.WebhookURL != "" {
		payment.NoticeURLs = []string{h.config.WebhookURL}
	}

	if _, err := h.config.Charger.PayWithBillingKey(r.Context(), paymentID, payment); err != nil {
		h.config.Logger.Error("billing-key charge failed",
			renew.Field{Key: "payment_id", Value: paymentID},
			renew.Field{Key: "error", Value: err})

		status := portone.StatusCode(err)
		if status == 0 {
			status = http.StatusInternalServerError
		}
		resp := PaymentResponse{PaymentID: paymentID, Error: "payment failed"}
		var apiErr *portone.APIError
		if errors.As(err, &apiErr) {
			resp.Details = apiErr.Message
		}
		h.writePayment(w, status, resp)
		return
	}

	h.config.Logger.Info("billing-key charge requested",
		renew.Field{Key: "payment_id", Value: paymentID},
		renew.Field{Key: "amount", Value: req.Amount})
	h.writePayment(w, http.StatusOK, PaymentResponse{Success: true, PaymentID: paymentID})
}

// NewPaymentID returns "payment_<unix millis>_<7 random base36 chars>".
func NewPaymentID() string {
	var suffix [paymentIDSuffixLen]byte
	for i := range suffix {
		suffix[i] = base36[rand.IntN(len(base36))]
	}
	return "payment_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + string(suffix[:])
}

func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace())
	}
	return strings.Join(fields, ", ")
}

func (h *Handler) writePayment(w http.ResponseWriter, status int, resp PaymentResponse) {
	if err := internal.WriteJSON(w, status, resp); err != nil {
		h.config.Logger.Warn("failed to write payment response", renew.Field{Key: "error", Value: err})
	}
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	_ = internal.WriteJSON(w, statusCode, map[string]string{"error": err.Error()})
}
