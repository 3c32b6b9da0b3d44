package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Mekazstan/coop-payments-api/internal/gateway"
)

type PaystackProvider struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
}

func NewPaystackProvider(secretKey, webhookSecret string) *PaystackProvider {
	return &PaystackProvider{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       "https://api.paystack.co",
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL points the provider at a different API host.
func (p *PaystackProvider) WithBaseURL(baseURL string) *PaystackProvider {
	p.baseURL = baseURL
	return p
}

func (p *PaystackProvider) ID() gateway.ID {
	return gateway.Paystack
}

type PaystackInitializeParams struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata"`
	Channels    []string          `json:"channels,omitempty"`
}

type PaystackInitializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type PaystackVerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status          string `json:"status"`
		Reference       string `json:"reference"`
		Amount          int64  `json:"amount"`
		Currency        string `json:"currency"`
		PaidAt          string `json:"paid_at"`
		Channel         string `json:"channel"`
		GatewayResponse string `json:"gateway_response"`
	} `json:"data"`
}

type paystackRefundResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID     json.Number `json:"id"`
		Status string      `json:"status"`
		Amount int64       `json:"amount"`
	} `json:"data"`
}

var paystackChannels = map[gateway.PaymentMethod]string{
	gateway.MethodCard:         "card",
	gateway.MethodBankTransfer: "bank_transfer",
	gateway.MethodUSSD:         "ussd",
	gateway.MethodQRCode:       "qr",
	gateway.MethodMobileMoney:  "mobile_money",
}

func (p *PaystackProvider) InitializeTransaction(ctx context.Context, params PaystackInitializeParams) (*PaystackInitializeResponse, error) {
	var result PaystackInitializeResponse
	if err := p.do(ctx, http.MethodPost, "/transaction/initialize", params, &result); err != nil {
		return nil, err
	}
	if !result.Status {
		return nil, fmt.Errorf("paystack error: %s", result.Message)
	}
	return &result, nil
}

func (p *PaystackProvider) Initialize(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentResponse, error) {
	if req.CustomerEmail == "" {
		return nil, fmt.Errorf("%w: paystack requires a customer email", ErrInvalidRequest)
	}
	currency, err := chargeCurrency(gateway.Paystack, req, "NGN")
	if err != nil {
		return nil, err
	}

	params := PaystackInitializeParams{
		Email:       req.CustomerEmail,
		Amount:      toMinorUnits(req.Amount),
		Currency:    currency,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    metadataWith(req),
	}
	if ch, ok := paystackChannels[req.PaymentMethod]; ok {
		params.Channels = []string{ch}
	}

	result, err := p.InitializeTransaction(ctx, params)
	if err != nil {
		return nil, err
	}

	ref := result.Data.Reference
	if ref == "" {
		ref = req.Reference
	}
	return &gateway.PaymentResponse{
		Success:    true,
		Reference:  ref,
		Gateway:    gateway.Paystack,
		PaymentURL: result.Data.AuthorizationURL,
		Message:    result.Message,
	}, nil
}

func (p *PaystackProvider) Verify(ctx context.Context, reference string) (*gateway.Verification, error) {
	var result PaystackVerifyResponse
	if err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &result); err != nil {
		return nil, err
	}
	if !result.Status {
		return nil, fmt.Errorf("paystack error: %s", result.Message)
	}

	status := paystackStatus(result.Data.Status)
	return &gateway.Verification{
		Success:   status == gateway.StatusSuccess,
		Reference: reference,
		Gateway:   gateway.Paystack,
		Status:    status,
		Amount:    fromMinorUnits(result.Data.Amount),
		Currency:  result.Data.Currency,
		PaidAt:    result.Data.PaidAt,
		Channel:   result.Data.Channel,
		Message:   result.Data.GatewayResponse,
	}, nil
}

func paystackStatus(s string) gateway.PaymentStatus {
	switch s {
	case "success":
		return gateway.StatusSuccess
	case "failed", "abandoned":
		return gateway.StatusFailed
	case "reversed":
		return gateway.StatusRefunded
	}
	return gateway.StatusPending
}

func (p *PaystackProvider) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	body := map[string]any{"transaction": req.Reference}
	if req.Amount.IsPositive() {
		body["amount"] = toMinorUnits(req.Amount)
	}
	if req.Reason != "" {
		body["merchant_note"] = req.Reason
	}

	var result paystackRefundResponse
	if err := p.do(ctx, http.MethodPost, "/refund", body, &result); err != nil {
		return nil, err
	}
	if !result.Status {
		return nil, fmt.Errorf("paystack error: %s", result.Message)
	}

	return &gateway.Refund{
		Success:   true,
		Reference: req.Reference,
		Gateway:   gateway.Paystack,
		RefundID:  result.Data.ID.String(),
		Amount:    fromMinorUnits(result.Data.Amount),
		Status:    result.Data.Status,
		Message:   result.Message,
	}, nil
}

func (p *PaystackProvider) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: http=%d %w", resp.StatusCode, err)
	}
	return nil
}

// VerifyWebhookSignature checks the X-Paystack-Signature HMAC. Paystack signs
// with the account secret key; a separate webhook secret overrides it.
func (p *PaystackProvider) VerifyWebhookSignature(payload []byte, signature string) bool {
	key := p.webhookSecret
	if key == "" {
		key = p.secretKey
	}
	if key == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(key))
	mac.Write(payload)
	expectedSignature := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expectedSignature))
}

type PaystackWebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Channel   string `json:"channel"`
		PaidAt    string `json:"paid_at"`
	} `json:"data"`
}

func (p *PaystackProvider) ParseWebhookEvent(payload []byte) (*PaystackWebhookEvent, error) {
	var event PaystackWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse webhook event: %w", err)
	}
	return &event, nil
}
