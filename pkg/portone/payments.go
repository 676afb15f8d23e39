package portone

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mihaimyh/gorenew/pkg/renew"
)

type amountJSON struct {
	Total int64 `json:"total"`
}

type customerJSON struct {
	ID string `json:"id,omitempty"`
}

// paymentResponse is the subset of GET /payments/{id} that the coordinator uses.
type paymentResponse struct {
	ID         string       `json:"id"`
	PaymentID  string       `json:"paymentId"`
	Status     string       `json:"status"`
	OrderName  string       `json:"orderName"`
	BillingKey string       `json:"billingKey"`
	Amount     amountJSON   `json:"amount"`
	Customer   customerJSON `json:"customer"`
}

// GetPayment fetches a payment record by id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*renew.GatewayPayment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, fmt.Errorf("payment id is required")
	}

	var payload paymentResponse
	path := "/payments/" + url.PathEscape(paymentID)
	if err := c.do(ctx, EndpointGetPayment, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}

	return &renew.GatewayPayment{
		ID:         payload.ID,
		PaymentID:  payload.PaymentID,
		Amount:     payload.Amount.Total,
		OrderName:  payload.OrderName,
		BillingKey: payload.BillingKey,
		CustomerID: payload.Customer.ID,
	}, nil
}

// BillingKeyPayment describes an immediate charge against a stored billing key.
type BillingKeyPayment struct {
	BillingKey string
	OrderName  string
	CustomerID string
	Amount     int64
	Currency   string
	// NoticeURLs overrides the webhook URLs configured in the PortOne console.
	NoticeURLs []string
}

type billingKeyPaymentRequest struct {
	BillingKey string       `json:"billingKey"`
	OrderName  string       `json:"orderName"`
	Customer   customerJSON `json:"customer"`
	Amount     amountJSON   `json:"amount"`
	Currency   string       `json:"currency"`
	NoticeURLs []string     `json:"noticeUrls,omitempty"`
}

// BillingKeyPaymentResult is the gateway's answer to a billing-key charge.
type BillingKeyPaymentResult struct {
	Payment struct {
		PgTxID string `json:"pgTxId"`
		PaidAt string `json:"paidAt"`
	} `json:"payment"`
}

// PayWithBillingKey charges p immediately under paymentID. The resulting
// Paid webhook is what records the ledger row.
func (c *Client) PayWithBillingKey(
	ctx context.Context, paymentID string, p BillingKeyPayment,
) (*BillingKeyPaymentResult, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, fmt.Errorf("payment id is required")
	}

	body := billingKeyPaymentRequest{
		BillingKey: p.BillingKey,
		OrderName:  p.OrderName,
		Customer:   customerJSON{ID: p.CustomerID},
		Amount:     amountJSON{Total: p.Amount},
		Currency:   currencyOrDefault(p.Currency),
		NoticeURLs: p.NoticeURLs,
	}

	var result BillingKeyPaymentResult
	path := "/payments/" + url.PathEscape(paymentID) + "/billing-key"
	if err := c.do(ctx, EndpointPayWithBillingKey, http.MethodPost, path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func currencyOrDefault(currency string) string {
	if currency == "" {
		return "KRW"
	}
	return currency
}
