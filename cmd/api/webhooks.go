package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Mekazstan/coop-payments-api/internal/gateway"
	"github.com/Mekazstan/coop-payments-api/internal/jobs"
	"github.com/Mekazstan/coop-payments-api/internal/store"
	"github.com/stripe/stripe-go/v76"
)

const maxWebhookBytes = 1 << 16

func readWebhook(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_WEBHOOK",
			Message: "Invalid webhook payload",
		})
		return nil, false
	}
	return payload, true
}

func webhookNotConfigured(w http.ResponseWriter) {
	respondWithError(w, http.StatusNotFound, ApiError{
		Code:    "GATEWAY_NOT_CONFIGURED",
		Message: "Webhook not enabled for this gateway",
	})
}

func invalidSignature(w http.ResponseWriter) {
	respondWithError(w, http.StatusUnauthorized, ApiError{
		Code:    "INVALID_SIGNATURE",
		Message: "Invalid webhook signature",
	})
}

// acknowledge returns 200 so providers stop retrying, whatever we did with the event.
func acknowledge(w http.ResponseWriter) {
	respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "received"})
}

func (cfg *apiConfig) paystackWebhookHandler(w http.ResponseWriter, r *http.Request) {
	p := cfg.providers.paystack
	if p == nil {
		webhookNotConfigured(w)
		return
	}

	payload, ok := readWebhook(w, r)
	if !ok {
		return
	}
	if !p.VerifyWebhookSignature(payload, r.Header.Get("X-Paystack-Signature")) {
		invalidSignature(w)
		return
	}

	event, err := p.ParseWebhookEvent(payload)
	if err != nil {
		cfg.logger.Warnw("unreadable paystack webhook", "error", err)
		acknowledge(w)
		return
	}

	switch event.Event {
	case "charge.success":
		cfg.settleByReference(r.Context(), gateway.Paystack, event.Data.Reference, gateway.StatusSuccess, event.Data.PaidAt)
	case "refund.processed":
		cfg.settleByReference(r.Context(), gateway.Paystack, event.Data.Reference, gateway.StatusRefunded, "")
	default:
		cfg.logger.Debugw("ignoring paystack event", "event", event.Event)
	}
	acknowledge(w)
}

func (cfg *apiConfig) flutterwaveWebhookHandler(w http.ResponseWriter, r *http.Request) {
	f := cfg.providers.flutterwave
	if f == nil {
		webhookNotConfigured(w)
		return
	}

	payload, ok := readWebhook(w, r)
	if !ok {
		return
	}
	if !f.VerifyWebhookSignature(r.Header.Get("verif-hash")) {
		invalidSignature(w)
		return
	}

	event, err := f.ParseWebhookEvent(payload)
	if err != nil {
		cfg.logger.Warnw("unreadable flutterwave webhook", "error", err)
		acknowledge(w)
		return
	}

	if event.Event == "charge.completed" {
		switch event.Data.Status {
		case "successful":
			cfg.settleByReference(r.Context(), gateway.Flutterwave, event.Data.TxRef, gateway.StatusSuccess, event.Data.CreatedAt)
		case "failed":
			cfg.settleByReference(r.Context(), gateway.Flutterwave, event.Data.TxRef, gateway.StatusFailed, "")
		}
	}
	acknowledge(w)
}

func (cfg *apiConfig) stripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	s := cfg.providers.stripe
	if s == nil {
		webhookNotConfigured(w)
		return
	}

	payload, ok := readWebhook(w, r)
	if !ok {
		return
	}
	event, err := s.VerifyWebhookSignature(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		invalidSignature(w)
		return
	}

	switch string(event.Type) {
	case "checkout.session.completed", "checkout.session.expired":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			cfg.logger.Warnw("unreadable stripe checkout session", "event", event.ID, "error", err)
			break
		}
		// Delayed payment methods complete the session unpaid; the money arrives later.
		switch {
		case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
			cfg.settleByReference(r.Context(), gateway.Stripe, sess.ClientReferenceID, gateway.StatusSuccess, "")
		case string(event.Type) == "checkout.session.expired":
			cfg.settleByReference(r.Context(), gateway.Stripe, sess.ClientReferenceID, gateway.StatusFailed, "")
		}
	default:
		cfg.logger.Debugw("ignoring stripe event", "type", event.Type)
	}
	acknowledge(w)
}

type providusAck struct {
	RequestSuccessful bool   `json:"requestSuccessful"`
	SessionID         string `json:"sessionId"`
	ResponseMessage   string `json:"responseMessage"`
	ResponseCode      string `json:"responseCode"`
}

// providusWebhookHandler takes Providus settlement notifications. Providus
// expects its own acknowledgement body rather than our envelope.
func (cfg *apiConfig) providusWebhookHandler(w http.ResponseWriter, r *http.Request) {
	p := cfg.providers.providus
	if p == nil {
		webhookNotConfigured(w)
		return
	}

	payload, ok := readWebhook(w, r)
	if !ok {
		return
	}
	if !p.VerifyWebhookSignature(r.Header.Get("X-Auth-Signature")) {
		respondWithJSON(w, http.StatusUnauthorized, providusAck{ResponseMessage: "rejected transaction", ResponseCode: "02"})
		return
	}

	notice, err := p.ParseSettlement(payload)
	if err != nil || notice.SessionID == "" {
		respondWithJSON(w, http.StatusBadRequest, providusAck{ResponseMessage: "rejected transaction", ResponseCode: "02"})
		return
	}

	ctx := r.Context()
	settled, err := p.VerifySession(ctx, notice.SessionID)
	if err != nil {
		cfg.logger.Warnw("providus settlement could not be confirmed", "session", notice.SessionID, "error", err)
		respondWithJSON(w, http.StatusOK, providusAck{SessionID: notice.SessionID, ResponseMessage: "system failure, retry", ResponseCode: "03"})
		return
	}

	tx, err := cfg.transactions.GetByProviderReference(ctx, gateway.Providus, settled.AccountNumber)
	if err != nil {
		cfg.logger.Warnw("settlement for unknown account", "account", settled.AccountNumber, "session", settled.SessionID, "error", err)
		respondWithJSON(w, http.StatusOK, providusAck{SessionID: settled.SessionID, ResponseMessage: "rejected transaction", ResponseCode: "02"})
		return
	}

	if settled.TransactionAmount.LessThan(tx.Amount) {
		cfg.logger.Warnw("underpaid transfer", "reference", tx.Reference, "expected", tx.Amount.String(), "received", settled.TransactionAmount.String())
	} else {
		cfg.settle(ctx, tx, gateway.StatusSuccess, settled.TranDateTime)
	}

	respondWithJSON(w, http.StatusOK, providusAck{
		RequestSuccessful: true,
		SessionID:         settled.SessionID,
		ResponseMessage:   "success",
		ResponseCode:      "00",
	})
}

func (cfg *apiConfig) settleByReference(ctx context.Context, id gateway.ID, reference string, status gateway.PaymentStatus, paidAt string) {
	if reference == "" {
		return
	}

	tx, err := cfg.transactions.GetByReference(ctx, reference)
	if errors.Is(err, store.ErrNotFound) {
		cfg.logger.Warnw("webhook for unknown transaction", "gateway", id, "reference", reference)
		return
	}
	if err != nil {
		cfg.logger.Errorw("failed to load transaction", "reference", reference, "error", err)
		return
	}
	if tx.Gateway != id {
		cfg.logger.Warnw("webhook gateway mismatch", "reference", reference, "recorded", tx.Gateway, "webhook", id)
		return
	}

	cfg.settle(ctx, tx, status, paidAt)
}

// settle records a final status once and sends the receipt on first success.
// Redelivered or out-of-order events never move a record backwards.
func (cfg *apiConfig) settle(ctx context.Context, tx *store.Transaction, status gateway.PaymentStatus, paidAt string) {
	if !store.CanTransition(tx.Status, status) {
		cfg.logger.Debugw("ignoring webhook status", "reference", tx.Reference, "current", tx.Status, "status", status)
		return
	}

	err := cfg.transactions.UpdateStatus(ctx, tx.Reference, status)
	if errors.Is(err, store.ErrStatusTransition) {
		cfg.logger.Infow("transaction settled concurrently", "reference", tx.Reference, "status", status)
		return
	}
	if err != nil {
		cfg.logger.Errorw("failed to update transaction", "reference", tx.Reference, "status", status, "error", err)
		return
	}
	cfg.logger.Infow("transaction settled", "reference", tx.Reference, "gateway", tx.Gateway, "status", status)

	if status == gateway.StatusSuccess && tx.CustomerEmail != "" {
		if err := cfg.mailer.SendPaymentReceipt(tx.CustomerEmail, jobs.Receipt(*tx, paidAt)); err != nil {
			cfg.logger.Warnw("failed to send receipt", "reference", tx.Reference, "error", err)
		}
	}
}
