package payment

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Mekazstan/coop-payments-api/internal/gateway"
	"github.com/shopspring/decimal"
)

type FlutterwaveProvider struct {
	secretKey  string
	secretHash string
	baseURL    string
	httpClient *http.Client
}

func NewFlutterwaveProvider(secretKey, secretHash string) *FlutterwaveProvider {
	return &FlutterwaveProvider{
		secretKey:  secretKey,
		secretHash: secretHash,
		baseURL:    "https://api.flutterwave.com/v3",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *FlutterwaveProvider) WithBaseURL(baseURL string) *FlutterwaveProvider {
	f.baseURL = baseURL
	return f
}

func (f *FlutterwaveProvider) ID() gateway.ID {
	return gateway.Flutterwave
}

type flutterwaveCustomer struct {
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phonenumber,omitempty"`
}

type flutterwavePaymentParams struct {
	TxRef          string              `json:"tx_ref"`
	Amount         decimal.Decimal     `json:"amount"`
	Currency       string              `json:"currency"`
	RedirectURL    string              `json:"redirect_url,omitempty"`
	PaymentOptions string              `json:"payment_options,omitempty"`
	Customer       flutterwaveCustomer `json:"customer"`
	Meta           map[string]string   `json:"meta,omitempty"`
	Customizations struct {
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
	} `json:"customizations"`
}

type flutterwaveEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type flutterwaveTransaction struct {
	ID          int64           `json:"id"`
	TxRef       string          `json:"tx_ref"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	CreatedAt   string          `json:"created_at"`
	PaymentType string          `json:"payment_type"`
}

var flutterwaveOptions = map[gateway.PaymentMethod]string{
	gateway.MethodCard:         "card",
	gateway.MethodBankTransfer: "banktransfer",
	gateway.MethodUSSD:         "ussd",
	gateway.MethodQRCode:       "qr",
	gateway.MethodMobileMoney:  "mobilemoneyghana,mobilemoneyuganda,mpesa",
}

func (f *FlutterwaveProvider) Initialize(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentResponse, error) {
	if req.CustomerEmail == "" {
		return nil, fmt.Errorf("%w: flutterwave requires a customer email", ErrInvalidRequest)
	}
	currency, err := chargeCurrency(gateway.Flutterwave, req, "NGN")
	if err != nil {
		return nil, err
	}

	params := flutterwavePaymentParams{
		TxRef:          req.Reference,
		Amount:         req.Amount,
		Currency:       currency,
		RedirectURL:    req.CallbackURL,
		PaymentOptions: flutterwaveOptions[req.PaymentMethod],
		Customer: flutterwaveCustomer{
			Email:       req.CustomerEmail,
			Name:        req.CustomerName,
			PhoneNumber: req.CustomerPhone,
		},
		Meta: metadataWith(req),
	}
	params.Customizations.Title = "Cooperative Payment"
	params.Customizations.Description = req.Description

	var data struct {
		Link string `json:"link"`
	}
	msg, err := f.do(ctx, http.MethodPost, "/payments", params, &data)
	if err != nil {
		return nil, err
	}

	return &gateway.PaymentResponse{
		Success:    true,
		Reference:  req.Reference,
		Gateway:    gateway.Flutterwave,
		PaymentURL: data.Link,
		Message:    msg,
	}, nil
}

func (f *FlutterwaveProvider) lookup(ctx context.Context, reference string) (*flutterwaveTransaction, error) {
	var tx flutterwaveTransaction
	if _, err := f.do(ctx, http.MethodGet, "/transactions/verify_by_reference?tx_ref="+url.QueryEscape(reference), nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (f *FlutterwaveProvider) Verify(ctx context.Context, reference string) (*gateway.Verification, error) {
	tx, err := f.lookup(ctx, reference)
	if err != nil {
		return nil, err
	}

	status := flutterwaveStatus(tx.Status)
	return &gateway.Verification{
		Success:   status == gateway.StatusSuccess,
		Reference: reference,
		Gateway:   gateway.Flutterwave,
		Status:    status,
		Amount:    tx.Amount,
		Currency:  tx.Currency,
		PaidAt:    tx.CreatedAt,
		Channel:   tx.PaymentType,
	}, nil
}

func flutterwaveStatus(s string) gateway.PaymentStatus {
	switch strings.ToLower(s) {
	case "successful":
		return gateway.StatusSuccess
	case "failed", "cancelled":
		return gateway.StatusFailed
	}
	return gateway.StatusPending
}

func (f *FlutterwaveProvider) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	tx, err := f.lookup(ctx, req.Reference)
	if err != nil {
		return nil, err
	}

	body := map[string]any{}
	if req.Amount.IsPositive() {
		body["amount"] = req.Amount
	}
	if req.Reason != "" {
		body["comments"] = req.Reason
	}

	var data struct {
		ID             int64           `json:"id"`
		AmountRefunded decimal.Decimal `json:"amount_refunded"`
		Status         string          `json:"status"`
	}
	msg, err := f.do(ctx, http.MethodPost, fmt.Sprintf("/transactions/%d/refund", tx.ID), body, &data)
	if err != nil {
		return nil, err
	}

	return &gateway.Refund{
		Success:   true,
		Reference: req.Reference,
		Gateway:   gateway.Flutterwave,
		RefundID:  fmt.Sprintf("%d", data.ID),
		Amount:    data.AmountRefunded,
		Status:    data.Status,
		Message:   msg,
	}, nil
}

func (f *FlutterwaveProvider) do(ctx context.Context, method, path string, payload, out any) (string, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("failed to marshal params: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var env flutterwaveEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("failed to parse response: http=%d %w", resp.StatusCode, err)
	}
	if env.Status != "success" {
		return "", fmt.Errorf("flutterwave error: %s", env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", fmt.Errorf("failed to parse response data: %w", err)
		}
	}
	return env.Message, nil
}

// VerifyWebhookSignature compares the verif-hash header with the dashboard secret hash.
func (f *FlutterwaveProvider) VerifyWebhookSignature(signature string) bool {
	if f.secretHash == "" || signature == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(f.secretHash)) == 1
}

type FlutterwaveWebhookEvent struct {
	Event string                 `json:"event"`
	Data  flutterwaveTransaction `json:"data"`
}

func (f *FlutterwaveProvider) ParseWebhookEvent(payload []byte) (*FlutterwaveWebhookEvent, error) {
	var event FlutterwaveWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse webhook event: %w", err)
	}
	return &event, nil
}
