package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Invoker performs one call against one gateway. Implementations do not retry.
type Invoker interface {
	Initialize(ctx context.Context, id ID, req PaymentRequest) (*PaymentResponse, error)
	Verify(ctx context.Context, reference string, id ID) (*Verification, error)
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
}

const (
	initializePath = "/api/v1/payments/initialize"
	verifyPath     = "/api/v1/payments/verify"
	refundPath     = "/api/v1/payments/refund"
)

// HTTPInvoker forwards calls to the payments API, which owns the provider
// credentials.
type HTTPInvoker struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type HTTPInvokerOption func(*HTTPInvoker)

func WithHTTPClient(c *http.Client) HTTPInvokerOption {
	return func(h *HTTPInvoker) { h.httpClient = c }
}

// WithToken sets the bearer token sent with every call.
func WithToken(token string) HTTPInvokerOption {
	return func(h *HTTPInvoker) { h.token = token }
}

func NewHTTPInvoker(baseURL string, opts ...HTTPInvokerOption) *HTTPInvoker {
	h := &HTTPInvoker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type initializeBody struct {
	Gateway ID `json:"gateway"`
	PaymentRequest
}

func (h *HTTPInvoker) Initialize(ctx context.Context, id ID, req PaymentRequest) (*PaymentResponse, error) {
	var out PaymentResponse
	if err := h.post(ctx, id, "initialize", initializePath, initializeBody{Gateway: id, PaymentRequest: req}, &out); err != nil {
		return nil, err
	}
	if out.Gateway == "" {
		out.Gateway = id
	}
	return &out, nil
}

func (h *HTTPInvoker) Verify(ctx context.Context, reference string, id ID) (*Verification, error) {
	body := map[string]string{"reference": reference, "gateway": string(id)}

	var out Verification
	if err := h.post(ctx, id, "verify", verifyPath, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTPInvoker) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	var out Refund
	if err := h.post(ctx, req.Gateway, "refund", refundPath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// envelope covers both the API's {success, data} wrapper and bare payloads.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (h *HTTPInvoker) post(ctx context.Context, id ID, op, path string, payload, out any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return &CallError{Gateway: id, Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &CallError{Gateway: id, Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil {
			if m := env.errorMessage(); m != "" {
				msg = m
			}
		}
		return &CallError{Gateway: id, Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return &CallError{Gateway: id, Op: op, StatusCode: resp.StatusCode, Message: "invalid response body", Err: decodeErr}
	}
	if env.Success != nil && !*env.Success {
		msg := env.errorMessage()
		if msg == "" {
			msg = "gateway reported failure"
		}
		return &CallError{Gateway: id, Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	body := raw
	if len(env.Data) > 0 && string(env.Data) != "null" {
		body = env.Data
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &CallError{Gateway: id, Op: op, StatusCode: resp.StatusCode, Message: "invalid response body", Err: err}
	}
	return nil
}

// errorMessage reads "error" as either a string or {code, message}, falling
// back to "message".
func (e envelope) errorMessage() string {
	if len(e.Error) > 0 && string(e.Error) != "null" {
		var s string
		if err := json.Unmarshal(e.Error, &s); err == nil && s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(e.Error, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
	}
	return e.Message
}
