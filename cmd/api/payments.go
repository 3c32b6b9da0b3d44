package main

import (
	"errors"
	"net/http"

	"github.com/Mekazstan/coop-payments-api/internal/cache"
	"github.com/Mekazstan/coop-payments-api/internal/gateway"
	"github.com/Mekazstan/coop-payments-api/internal/payment"
	"github.com/Mekazstan/coop-payments-api/internal/store"
	"github.com/shopspring/decimal"
)

type initializeRequest struct {
	Gateway gateway.ID `json:"gateway" validate:"required"`
	gateway.PaymentRequest
}

type checkoutRequest struct {
	PreferredGateway gateway.ID `json:"preferredGateway,omitempty"`
	gateway.PaymentRequest
}

type verifyRequest struct {
	Reference string     `json:"reference" validate:"required,max=100"`
	Gateway   gateway.ID `json:"gateway" validate:"required"`
}

// validPayment covers the checks struct tags cannot express and normalises
// the optional method and currency in place.
func validPayment(w http.ResponseWriter, req *gateway.PaymentRequest) bool {
	if !req.Amount.IsPositive() {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "VALIDATION_ERROR",
			Message: "Amount must be greater than zero",
			Details: map[string]string{"amount": "gt"},
		})
		return false
	}
	method, err := gateway.ParsePaymentMethod(string(req.PaymentMethod))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "VALIDATION_ERROR",
			Message: "Unsupported payment method",
			Details: map[string]string{"paymentMethod": "oneof"},
		})
		return false
	}
	req.PaymentMethod = method
	req.Currency = req.CurrencyCode()
	return true
}

func (cfg *apiConfig) knownGateway(w http.ResponseWriter, id gateway.ID) bool {
	if _, ok := cfg.registry.Gateway(id); !ok {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "UNKNOWN_GATEWAY",
			Message: "Unknown payment gateway",
			Details: map[string]string{"gateway": string(id)},
		})
		return false
	}
	return true
}

func (cfg *apiConfig) initializePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if !decodeAndValidate(w, r, &req) || !validPayment(w, &req.PaymentRequest) {
		return
	}

	id := gateway.ParseID(string(req.Gateway))
	if !cfg.knownGateway(w, id) {
		return
	}

	resp, err := cfg.invoker.Initialize(r.Context(), id, req.PaymentRequest)
	if err != nil {
		cfg.respondWithGatewayError(w, err)
		return
	}

	respondWithData(w, http.StatusOK, "Payment initialized", resp)
}

func (cfg *apiConfig) verifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	v, err := cfg.manager.Verify(r.Context(), req.Reference, gateway.ParseID(string(req.Gateway)))
	if err != nil {
		cfg.respondWithGatewayError(w, err)
		return
	}

	respondWithData(w, http.StatusOK, "Payment verified", v)
}

func (cfg *apiConfig) refundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req gateway.RefundRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if req.Amount.IsNegative() {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "VALIDATION_ERROR",
			Message: "Refund amount cannot be negative",
			Details: map[string]string{"amount": "gte"},
		})
		return
	}
	req.Gateway = gateway.ParseID(string(req.Gateway))
	ctx := r.Context()

	// Refunds for references this service never recorded are passed through.
	tx, err := cfg.transactions.GetByReference(ctx, req.Reference)
	switch {
	case errors.Is(err, store.ErrNotFound):
		tx = nil
	case err != nil:
		cfg.logger.Errorw("failed to load transaction", "reference", req.Reference, "error", err)
		respondWithError(w, http.StatusInternalServerError, ApiError{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to load transaction",
		})
		return
	case tx.Gateway != req.Gateway:
		respondWithError(w, http.StatusConflict, ApiError{
			Code:    "GATEWAY_MISMATCH",
			Message: "Transaction was processed by a different gateway",
			Details: map[string]string{"gateway": string(tx.Gateway)},
		})
		return
	}

	refund, err := cfg.manager.Refund(ctx, req)
	if err != nil {
		cfg.respondWithGatewayError(w, err)
		return
	}

	if tx != nil && refund.Completed() && fullRefund(req.Amount, tx.Amount) {
		err := cfg.transactions.UpdateStatus(ctx, tx.Reference, gateway.StatusRefunded)
		if err != nil && !errors.Is(err, store.ErrStatusTransition) {
			cfg.logger.Errorw("failed to mark transaction refunded", "reference", tx.Reference, "error", err)
		}
	}

	respondWithData(w, http.StatusOK, "Refund initiated", refund)
}

// fullRefund treats an omitted amount as the whole charge.
func fullRefund(requested, charged decimal.Decimal) bool {
	return requested.IsZero() || requested.GreaterThanOrEqual(charged)
}

// checkoutHandler runs the full fallback chain and records the transaction.
func (cfg *apiConfig) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !decodeAndValidate(w, r, &req) || !validPayment(w, &req.PaymentRequest) {
		return
	}
	ctx := r.Context()

	preferred := gateway.ParseID(string(req.PreferredGateway))
	if preferred == "" {
		best, err := cfg.manager.SelectBestGateway(req.PaymentRequest)
		if err != nil {
			cfg.respondWithGatewayError(w, err)
			return
		}
		preferred = best
	}

	// Client-supplied references are claimed so retries cannot double charge.
	claimed := req.Reference != ""
	if claimed {
		if err := cfg.guard.Claim(ctx, req.Reference); err != nil {
			if errors.Is(err, cache.ErrDuplicate) {
				respondWithError(w, http.StatusConflict, ApiError{
					Code:    "DUPLICATE_REFERENCE",
					Message: "A payment with this reference is already in progress or completed",
					Details: map[string]string{"reference": req.Reference},
				})
				return
			}
			cfg.logger.Warnw("idempotency guard unavailable", "reference", req.Reference, "error", err)
			claimed = false
		}
	}
	release := func() {
		if claimed {
			if err := cfg.guard.Release(ctx, req.Reference); err != nil {
				cfg.logger.Warnw("failed to release reference", "reference", req.Reference, "error", err)
			}
		}
	}

	result, err := cfg.manager.InitializeWithFallback(ctx, req.PaymentRequest, preferred)
	if err != nil {
		release()
		cfg.respondWithGatewayError(w, err)
		return
	}

	tx := &store.Transaction{
		Reference:         result.Reference,
		Gateway:           result.Gateway,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Type:              req.Type,
		Description:       req.Description,
		CustomerEmail:     req.CustomerEmail,
		Status:            gateway.StatusPending,
		AttemptedGateways: result.AttemptedGateways,
		FallbackUsed:      result.FallbackUsed,
	}
	if result.AccountDetails != nil {
		tx.ProviderReference = result.AccountDetails.AccountNumber
	}

	if err := cfg.transactions.Create(ctx, tx); err != nil {
		release()
		if errors.Is(err, store.ErrConflict) {
			respondWithError(w, http.StatusConflict, ApiError{
				Code:    "DUPLICATE_REFERENCE",
				Message: "A payment with this reference already exists",
				Details: map[string]string{"reference": tx.Reference},
			})
			return
		}
		cfg.logger.Errorw("failed to record transaction", "reference", tx.Reference, "gateway", tx.Gateway, "error", err)
		respondWithError(w, http.StatusInternalServerError, ApiError{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to record transaction",
		})
		return
	}

	if claimed {
		if err := cfg.guard.Complete(ctx, req.Reference); err != nil {
			cfg.logger.Warnw("failed to complete reference", "reference", req.Reference, "error", err)
		}
	}

	message := "Payment initialized"
	if result.FallbackUsed {
		message = "Payment initialized with fallback gateway"
	}
	respondWithData(w, http.StatusCreated, message, result)
}

func (cfg *apiConfig) getPaymentHandler(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")

	tx, err := cfg.transactions.GetByReference(r.Context(), reference)
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, ApiError{
			Code:    "NOT_FOUND",
			Message: "Transaction not found",
		})
		return
	}
	if err != nil {
		cfg.logger.Errorw("failed to load transaction", "reference", reference, "error", err)
		respondWithError(w, http.StatusInternalServerError, ApiError{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to load transaction",
		})
		return
	}

	respondWithData(w, http.StatusOK, "", tx)
}

func (cfg *apiConfig) respondWithGatewayError(w http.ResponseWriter, err error) {
	var allFailed *gateway.AllFailedError
	var callErr *gateway.CallError

	switch {
	case errors.Is(err, gateway.ErrUnknownGateway):
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "UNKNOWN_GATEWAY",
			Message: err.Error(),
		})
	case errors.Is(err, gateway.ErrSelectionExhausted):
		respondWithError(w, http.StatusServiceUnavailable, ApiError{
			Code:    "NO_GATEWAY_AVAILABLE",
			Message: "No payment gateway is currently available",
		})
	case errors.As(err, &allFailed):
		respondWithError(w, http.StatusBadGateway, ApiError{
			Code:    "ALL_GATEWAYS_FAILED",
			Message: allFailed.Error(),
			Details: map[string]interface{}{"attemptedGateways": allFailed.Attempted},
		})
	case errors.Is(err, payment.ErrRefundUnsupported):
		respondWithError(w, http.StatusUnprocessableEntity, ApiError{
			Code:    "REFUND_UNSUPPORTED",
			Message: "This gateway does not support refunds",
		})
	case errors.Is(err, payment.ErrInvalidRequest):
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "VALIDATION_ERROR",
			Message: err.Error(),
		})
	case errors.Is(err, payment.ErrNotConfigured):
		respondWithError(w, http.StatusServiceUnavailable, ApiError{
			Code:    "GATEWAY_NOT_CONFIGURED",
			Message: err.Error(),
		})
	case errors.As(err, &callErr):
		respondWithError(w, http.StatusBadGateway, ApiError{
			Code:    "GATEWAY_ERROR",
			Message: callErr.Error(),
			Details: map[string]interface{}{"gateway": callErr.Gateway, "operation": callErr.Op},
		})
	default:
		respondWithError(w, http.StatusInternalServerError, ApiError{
			Code:    "INTERNAL_ERROR",
			Message: "An unexpected error occurred",
		})
	}
}
