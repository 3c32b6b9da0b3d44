package gateway

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency applies to requests that do not name one.
const DefaultCurrency = "NGN"

// PaymentRequest is the provider-neutral payment intent. Amount accepts both
// JSON numbers and numeric strings, and is denominated in Currency.
type PaymentRequest struct {
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	Description   string            `json:"description" validate:"max=500"`
	Type          string            `json:"type" validate:"max=64"`
	CustomerEmail string            `json:"customerEmail,omitempty" validate:"omitempty,email"`
	CustomerName  string            `json:"customerName,omitempty" validate:"max=200"`
	CustomerPhone string            `json:"customerPhone,omitempty" validate:"max=32"`
	Reference     string            `json:"reference,omitempty" validate:"max=100"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CallbackURL   string            `json:"callbackUrl,omitempty" validate:"omitempty,url"`
	PaymentMethod PaymentMethod     `json:"paymentMethod,omitempty"`
	Country       string            `json:"country,omitempty" validate:"omitempty,len=2"`
}

// CurrencyCode returns the upper-cased request currency, DefaultCurrency when unset.
func (r PaymentRequest) CurrencyCode() string {
	c := strings.ToUpper(strings.TrimSpace(r.Currency))
	if c == "" {
		return DefaultCurrency
	}
	return c
}

type AccountDetails struct {
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	BankName      string `json:"bankName"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
}

// PaymentResponse is what a single successful initialize call returns.
// Exactly one of PaymentURL, AccountDetails, QRCode or USSDCode is set.
type PaymentResponse struct {
	Success        bool            `json:"success"`
	Reference      string          `json:"reference"`
	Gateway        ID              `json:"gateway"`
	PaymentURL     string          `json:"paymentUrl,omitempty"`
	AccountDetails *AccountDetails `json:"accountDetails,omitempty"`
	QRCode         string          `json:"qrCode,omitempty"`
	USSDCode       string          `json:"ussdCode,omitempty"`
	Message        string          `json:"message"`
}

// InitializationResult is the outcome of a fallback run. AttemptedGateways
// lists every gateway tried, in order, ending with the one that succeeded.
// FallbackUsed reports whether the winner was not the first candidate, so
// it is true only after at least one failed call. A disabled preferred
// gateway never enters the candidate list; when the top-priority gateway
// wins in its place FallbackUsed stays false.
type InitializationResult struct {
	PaymentResponse
	AttemptedGateways []ID `json:"attemptedGateways"`
	FallbackUsed      bool `json:"fallbackUsed"`
}

type PaymentStatus string

const (
	StatusPending  PaymentStatus = "pending"
	StatusSuccess  PaymentStatus = "success"
	StatusFailed   PaymentStatus = "failed"
	StatusRefunded PaymentStatus = "refunded"
)

type Verification struct {
	Success   bool            `json:"success"`
	Reference string          `json:"reference"`
	Gateway   ID              `json:"gateway"`
	Status    PaymentStatus   `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
	PaidAt    string          `json:"paidAt,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Message   string          `json:"message,omitempty"`
}

type RefundRequest struct {
	Gateway   ID              `json:"gateway" validate:"required"`
	Reference string          `json:"reference" validate:"required,max=100"`
	Amount    decimal.Decimal `json:"amount,omitempty"`
	Reason    string          `json:"reason,omitempty" validate:"max=255"`
}

type Refund struct {
	Success   bool            `json:"success"`
	Reference string          `json:"reference"`
	Gateway   ID              `json:"gateway"`
	RefundID  string          `json:"refundId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Message   string          `json:"message,omitempty"`
}

// Completed reports whether the provider says the money has gone back.
// Pending or processing refunds are confirmed later by webhook.
func (r Refund) Completed() bool {
	switch strings.ToLower(r.Status) {
	case "processed", "succeeded", "successful", "completed":
		return true
	}
	return false
}
