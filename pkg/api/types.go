package api

import "time"

// StatusResponse is the subscription state returned by GetStatus
type StatusResponse struct {
	IsSubscribed   bool       `json:"isSubscribed"`
	TransactionKey string     `json:"transactionKey,omitempty"`
	StartAt        *time.Time `json:"startAt,omitempty"`
	EndAt          *time.Time `json:"endAt,omitempty"`
	EndGraceAt     *time.Time `json:"endGraceAt,omitempty"`
}

// PaymentRequest is the body accepted by CreatePayment
type PaymentRequest struct {
	BillingKey string   `json:"billingKey" validate:"required,max=256"`
	OrderName  string   `json:"orderName" validate:"required,max=256"`
	Amount     int64    `json:"amount" validate:"required,gt=0"`
	Customer   Customer `json:"customer" validate:"required"`
}

// Customer identifies who is charged
type Customer struct {
	ID string `json:"id" validate:"required,max=256"`
}

// PaymentResponse is returned by CreatePayment
type PaymentResponse struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"paymentId,omitempty"`
	Error     string `json:"error,omitempty"`
	Details   string `json:"details,omitempty"`
}
