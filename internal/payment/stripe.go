package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/Mekazstan/coop-payments-api/internal/gateway"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/webhook"
)

type StripeProvider struct {
	secretKey     string
	webhookSecret string
	currency      string
	successURL    string
	cancelURL     string
}

func NewStripeProvider(secretKey, webhookSecret, appURL string) *StripeProvider {
	stripe.Key = secretKey
	return &StripeProvider{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		currency:      "usd",
		successURL:    appURL + "/payments/success?session_id={CHECKOUT_SESSION_ID}",
		cancelURL:     appURL + "/payments/cancel",
	}
}

func (s *StripeProvider) ID() gateway.ID {
	return gateway.Stripe
}

type CheckoutSessionParams struct {
	Reference     string
	Description   string
	Amount        int64
	Currency      string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
	Metadata      map[string]string
}

func (s *StripeProvider) CreateCheckoutSession(params CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	name := params.Description
	if name == "" {
		name = "Cooperative payment"
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(params.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(name),
						Description: stripe.String(fmt.Sprintf("Reference %s", params.Reference)),
					},
					UnitAmount: stripe.Int64(params.Amount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		ClientReferenceID: stripe.String(params.Reference),
		Metadata:          params.Metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: params.Metadata,
		},
	}
	if params.CustomerEmail != "" {
		sessionParams.CustomerEmail = stripe.String(params.CustomerEmail)
	}

	sess, err := session.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return sess, nil
}

func (s *StripeProvider) Initialize(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentResponse, error) {
	if req.PaymentMethod != "" && req.PaymentMethod != gateway.MethodCard {
		return nil, fmt.Errorf("%w: stripe only supports card payments, got %s", ErrInvalidRequest, req.PaymentMethod)
	}
	if _, err := chargeCurrency(gateway.Stripe, req, s.currency); err != nil {
		return nil, err
	}

	successURL := s.successURL
	if req.CallbackURL != "" {
		successURL = req.CallbackURL
	}

	sess, err := s.CreateCheckoutSession(CheckoutSessionParams{
		Reference:     req.Reference,
		Description:   req.Description,
		Amount:        toMinorUnits(req.Amount),
		Currency:      s.currency,
		SuccessURL:    successURL,
		CancelURL:     s.cancelURL,
		CustomerEmail: req.CustomerEmail,
		Metadata:      metadataWith(req),
	})
	if err != nil {
		return nil, err
	}

	return &gateway.PaymentResponse{
		Success:    true,
		Reference:  req.Reference,
		Gateway:    gateway.Stripe,
		PaymentURL: sess.URL,
		Message:    "Checkout session created",
	}, nil
}

func (s *StripeProvider) findPaymentIntent(reference string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentSearchParams{}
	params.Query = fmt.Sprintf("metadata['reference']:'%s'", strings.ReplaceAll(reference, "'", ""))

	iter := paymentintent.Search(params)
	if iter.Next() {
		return iter.PaymentIntent(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to search payment intents: %w", err)
	}
	return nil, nil
}

func (s *StripeProvider) Verify(ctx context.Context, reference string) (*gateway.Verification, error) {
	pi, err := s.findPaymentIntent(reference)
	if err != nil {
		return nil, err
	}
	if pi == nil {
		// Checkout sessions only create the intent once the customer submits the form.
		return &gateway.Verification{
			Reference: reference,
			Gateway:   gateway.Stripe,
			Status:    gateway.StatusPending,
			Message:   "no payment attempt yet",
		}, nil
	}

	status := stripeStatus(pi.Status)
	return &gateway.Verification{
		Success:   status == gateway.StatusSuccess,
		Reference: reference,
		Gateway:   gateway.Stripe,
		Status:    status,
		Amount:    fromMinorUnits(pi.AmountReceived),
		Currency:  strings.ToUpper(string(pi.Currency)),
		Channel:   "card",
	}, nil
}

func stripeStatus(s stripe.PaymentIntentStatus) gateway.PaymentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return gateway.StatusSuccess
	case stripe.PaymentIntentStatusCanceled:
		return gateway.StatusFailed
	}
	return gateway.StatusPending
}

func (s *StripeProvider) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	pi, err := s.findPaymentIntent(req.Reference)
	if err != nil {
		return nil, err
	}
	if pi == nil {
		return nil, fmt.Errorf("stripe error: no payment found for %s", req.Reference)
	}

	params := &stripe.RefundParams{PaymentIntent: stripe.String(pi.ID)}
	if req.Amount.IsPositive() {
		params.Amount = stripe.Int64(toMinorUnits(req.Amount))
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}

	r, err := refund.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}

	return &gateway.Refund{
		Success:   true,
		Reference: req.Reference,
		Gateway:   gateway.Stripe,
		RefundID:  r.ID,
		Amount:    fromMinorUnits(r.Amount),
		Status:    string(r.Status),
	}, nil
}

func (s *StripeProvider) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	if s.webhookSecret == "" {
		return stripe.Event{}, fmt.Errorf("webhook signature verification failed: %w", ErrNotConfigured)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return event, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	return event, nil
}
