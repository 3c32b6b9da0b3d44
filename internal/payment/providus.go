package payment

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
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

// ProvidusProvider issues single-use virtual accounts for bank transfers.
// Settlement is confirmed by Providus' settlement notification, not by polling.
type ProvidusProvider struct {
	clientID     string
	clientSecret string
	accountName  string
	baseURL      string
	httpClient   *http.Client
}

func NewProvidusProvider(clientID, clientSecret, baseURL, accountName string) *ProvidusProvider {
	if accountName == "" {
		accountName = "COOP"
	}
	return &ProvidusProvider{
		clientID:     clientID,
		clientSecret: clientSecret,
		accountName:  accountName,
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *ProvidusProvider) ID() gateway.ID {
	return gateway.Providus
}

func (p *ProvidusProvider) signature() string {
	sum := sha512.Sum512([]byte(p.clientID + ":" + p.clientSecret))
	return hex.EncodeToString(sum[:])
}

type providusAccountResponse struct {
	AccountNumber     string `json:"account_number"`
	AccountName       string `json:"account_name"`
	RequestSuccessful bool   `json:"requestSuccessful"`
	ResponseMessage   string `json:"responseMessage"`
	ResponseCode      string `json:"responseCode"`
}

func (p *ProvidusProvider) Initialize(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentResponse, error) {
	if req.PaymentMethod != "" && req.PaymentMethod != gateway.MethodBankTransfer {
		return nil, fmt.Errorf("%w: providus only supports bank transfer, got %s", ErrInvalidRequest, req.PaymentMethod)
	}
	if _, err := chargeCurrency(gateway.Providus, req, "NGN"); err != nil {
		return nil, err
	}

	name := p.accountName
	if req.CustomerName != "" {
		name = p.accountName + "/" + req.CustomerName
	}

	var result providusAccountResponse
	if err := p.do(ctx, http.MethodPost, "/PiPCreateDynamicAccountNumber", map[string]string{"account_name": name}, &result); err != nil {
		return nil, err
	}
	if !result.RequestSuccessful || result.AccountNumber == "" {
		return nil, fmt.Errorf("providus error: %s (code %s)", result.ResponseMessage, result.ResponseCode)
	}

	return &gateway.PaymentResponse{
		Success:   true,
		Reference: req.Reference,
		Gateway:   gateway.Providus,
		AccountDetails: &gateway.AccountDetails{
			AccountNumber: result.AccountNumber,
			AccountName:   result.AccountName,
			BankName:      "Providus Bank",
			ExpiresAt:     time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		},
		Message: fmt.Sprintf("Transfer %s to the account below", req.Amount.StringFixed(2)),
	}, nil
}

// Verify cannot look a transfer up by our reference; the settlement
// notification carries the confirmation.
func (p *ProvidusProvider) Verify(ctx context.Context, reference string) (*gateway.Verification, error) {
	return &gateway.Verification{
		Success:   false,
		Reference: reference,
		Gateway:   gateway.Providus,
		Status:    gateway.StatusPending,
		Message:   "awaiting settlement notification",
	}, nil
}

func (p *ProvidusProvider) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	return nil, ErrRefundUnsupported
}

// Settlement is the transfer Providus reports against a dynamic account.
type Settlement struct {
	SessionID         string          `json:"sessionId"`
	SettlementID      string          `json:"settlementId"`
	AccountNumber     string          `json:"accountNumber"`
	TransactionAmount decimal.Decimal `json:"transactionAmount"`
	SettledAmount     decimal.Decimal `json:"settledAmount"`
	Currency          string          `json:"currency"`
	TranDateTime      string          `json:"tranDateTime"`
	SourceAccountName string          `json:"sourceAccountName"`
}

// VerifySession confirms a settlement notification against the Providus API.
func (p *ProvidusProvider) VerifySession(ctx context.Context, sessionID string) (*Settlement, error) {
	var s Settlement
	if err := p.do(ctx, http.MethodGet, "/PiPverifyTransaction_sessionid?session_id="+url.QueryEscape(sessionID), nil, &s); err != nil {
		return nil, err
	}
	if s.SessionID == "" || s.AccountNumber == "" {
		return nil, fmt.Errorf("providus error: session %s not found", sessionID)
	}
	return &s, nil
}

// VerifyWebhookSignature checks the X-Auth-Signature header sent with settlement notifications.
func (p *ProvidusProvider) VerifyWebhookSignature(signature string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(signature)), []byte(p.signature())) == 1
}

func (p *ProvidusProvider) ParseSettlement(payload []byte) (*Settlement, error) {
	var s Settlement
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settlement notification: %w", err)
	}
	return &s, nil
}

func (p *ProvidusProvider) do(ctx context.Context, method, path string, payload, out any) error {
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
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Client-Id", p.clientID)
	req.Header.Set("X-Auth-Signature", p.signature())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("providus error: http=%d body=%s", resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
