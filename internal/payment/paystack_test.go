package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Mekazstan/coop-payments-api/internal/gateway"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaystackInitialize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var body PaystackInitializeParams
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(250000), body.Amount)
		assert.Equal(t, "NGN", body.Currency)
		assert.Equal(t, []string{"ussd"}, body.Channels)
		assert.Equal(t, "COOP-PAYSTACK-1", body.Metadata["reference"])

		w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"COOP-PAYSTACK-1"}}`))
	}))
	defer srv.Close()

	p := NewPaystackProvider("sk_test", "").WithBaseURL(srv.URL)
	resp, err := p.Initialize(context.Background(), gateway.PaymentRequest{
		Amount:        decimal.NewFromInt(2500),
		CustomerEmail: "ada@example.com",
		Reference:     "COOP-PAYSTACK-1",
		PaymentMethod: gateway.MethodUSSD,
	})

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, gateway.Paystack, resp.Gateway)
	assert.Equal(t, "https://checkout.paystack.com/abc", resp.PaymentURL)
	assert.Equal(t, "COOP-PAYSTACK-1", resp.Reference)
}

func TestPaystackInitializeRequiresEmail(t *testing.T) {
	p := NewPaystackProvider("sk_test", "")

	_, err := p.Initialize(context.Background(), gateway.PaymentRequest{Amount: decimal.NewFromInt(100)})

	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPaystackInitializeRejectsOtherCurrency(t *testing.T) {
	p := NewPaystackProvider("sk_test", "").WithBaseURL("http://127.0.0.1:0")

	_, err := p.Initialize(context.Background(), gateway.PaymentRequest{
		Amount:        decimal.NewFromInt(100),
		Currency:      "USD",
		CustomerEmail: "ada@example.com",
	})

	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPaystackInitializeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
	}))
	defer srv.Close()

	p := NewPaystackProvider("bad", "").WithBaseURL(srv.URL)
	_, err := p.Initialize(context.Background(), gateway.PaymentRequest{
		Amount:        decimal.NewFromInt(100),
		CustomerEmail: "ada@example.com",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid key")
}

func TestPaystackVerify(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   gateway.PaymentStatus
	}{
		{"success", "success", gateway.StatusSuccess},
		{"abandoned", "abandoned", gateway.StatusFailed},
		{"reversed", "reversed", gateway.StatusRefunded},
		{"ongoing", "ongoing", gateway.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/transaction/verify/COOP-1", r.URL.Path)
				w.Write([]byte(`{"status":true,"message":"ok","data":{"status":"` + tt.status + `","reference":"COOP-1","amount":150050,"currency":"NGN","channel":"card"}}`))
			}))
			defer srv.Close()

			p := NewPaystackProvider("sk_test", "").WithBaseURL(srv.URL)
			v, err := p.Verify(context.Background(), "COOP-1")

			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Status)
			assert.Equal(t, tt.want == gateway.StatusSuccess, v.Success)
			assert.True(t, decimal.RequireFromString("1500.50").Equal(v.Amount))
			assert.Equal(t, "card", v.Channel)
		})
	}
}

func TestPaystackRefund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refund", r.URL.Path)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "COOP-1", body["transaction"])
		assert.Equal(t, float64(50000), body["amount"])
		assert.Equal(t, "duplicate", body["merchant_note"])

		w.Write([]byte(`{"status":true,"message":"Refund has been queued","data":{"id":3018284,"status":"pending","amount":50000}}`))
	}))
	defer srv.Close()

	p := NewPaystackProvider("sk_test", "").WithBaseURL(srv.URL)
	r, err := p.Refund(context.Background(), gateway.RefundRequest{
		Gateway:   gateway.Paystack,
		Reference: "COOP-1",
		Amount:    decimal.NewFromInt(500),
		Reason:    "duplicate",
	})

	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Equal(t, "3018284", r.RefundID)
	assert.True(t, decimal.NewFromInt(500).Equal(r.Amount))
}

func TestPaystackWebhookSignature(t *testing.T) {
	p := NewPaystackProvider("sk_test", "whsec")
	payload := []byte(`{"event":"charge.success","data":{"reference":"COOP-1","status":"success","amount":100000}}`)

	mac := hmac.New(sha512.New, []byte("whsec"))
	mac.Write(payload)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, p.VerifyWebhookSignature(payload, sig))
	assert.False(t, p.VerifyWebhookSignature(payload, "deadbeef"))
	assert.False(t, p.VerifyWebhookSignature([]byte(`{}`), sig))

	event, err := p.ParseWebhookEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "charge.success", event.Event)
	assert.Equal(t, "COOP-1", event.Data.Reference)
	assert.Equal(t, int64(100000), event.Data.Amount)
}

func hmacSHA512(key string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(key))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaystackWebhookSignatureKeys(t *testing.T) {
	payload := []byte(`{"event":"charge.success","data":{"reference":"COOP-1"}}`)

	// Without a webhook secret the account secret key signs.
	p := NewPaystackProvider("sk_live_real", "")
	assert.True(t, p.VerifyWebhookSignature(payload, hmacSHA512("sk_live_real", payload)))
	assert.False(t, p.VerifyWebhookSignature(payload, hmacSHA512("", payload)))
	assert.False(t, p.VerifyWebhookSignature(payload, ""))

	// An override replaces the secret key rather than adding to it.
	p = NewPaystackProvider("sk_live_real", "whsec")
	assert.False(t, p.VerifyWebhookSignature(payload, hmacSHA512("sk_live_real", payload)))

	unkeyed := NewPaystackProvider("", "")
	assert.False(t, unkeyed.VerifyWebhookSignature(payload, hmacSHA512("", payload)))
}
