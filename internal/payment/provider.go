package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Mekazstan/coop-payments-api/internal/gateway"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotConfigured     = errors.New("payment: gateway not configured")
	ErrRefundUnsupported = errors.New("payment: refunds not supported by gateway")
	ErrInvalidSignature  = errors.New("payment: invalid webhook signature")
	ErrInvalidRequest    = errors.New("payment: invalid request")
)

// Adapter talks to one provider's API using the provider-neutral shapes.
type Adapter interface {
	ID() gateway.ID
	Initialize(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentResponse, error)
	Verify(ctx context.Context, reference string) (*gateway.Verification, error)
	Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error)
}

// NewReference builds a tracking reference for requests that arrive without one.
func NewReference(id gateway.ID) string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	return fmt.Sprintf("COOP-%s-%s", strings.ToUpper(string(id)), strings.ToUpper(short))
}

// chargeCurrency returns the request currency when the adapter can charge it.
// A mismatch is ErrInvalidRequest so the fallback chain moves on without
// counting it against the provider.
func chargeCurrency(id gateway.ID, req gateway.PaymentRequest, supported string) (string, error) {
	c := req.CurrencyCode()
	if !strings.EqualFold(c, supported) {
		return "", fmt.Errorf("%w: %s charges %s, not %s", ErrInvalidRequest, id, strings.ToUpper(supported), c)
	}
	return c, nil
}

var hundred = decimal.NewFromInt(100)

// toMinorUnits converts naira to kobo, dollars to cents and so on.
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func fromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(hundred)
}

func metadataWith(req gateway.PaymentRequest) map[string]string {
	md := make(map[string]string, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		md[k] = v
	}
	md["reference"] = req.Reference
	if req.Type != "" {
		md["transaction_type"] = req.Type
	}
	return md
}
