package main

import (
	"errors"
	"net/http"

	"github.com/Mekazstan/coop-payments-api/internal/gateway"
)

func (cfg *apiConfig) listGatewaysHandler(w http.ResponseWriter, r *http.Request) {
	respondWithData(w, http.StatusOK, "", cfg.registry.All())
}

func (cfg *apiConfig) availableGatewaysHandler(w http.ResponseWriter, r *http.Request) {
	respondWithData(w, http.StatusOK, "", cfg.registry.AvailableGateways())
}

// selectGatewayHandler previews what checkout would try first for
// ?amount=&method=&country=.
func (cfg *apiConfig) selectGatewayHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	amount, err := gateway.ParseAmount(q.Get("amount"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "VALIDATION_ERROR",
			Message: err.Error(),
			Details: map[string]string{"field": "amount"},
		})
		return
	}

	method, err := gateway.ParsePaymentMethod(q.Get("method"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "VALIDATION_ERROR",
			Message: err.Error(),
			Details: map[string]string{"field": "method"},
		})
		return
	}

	id, err := cfg.manager.SelectBestGateway(gateway.PaymentRequest{
		Amount:        amount,
		PaymentMethod: method,
		Country:       q.Get("country"),
		Currency:      q.Get("currency"),
	})
	if err != nil {
		cfg.respondWithGatewayError(w, err)
		return
	}

	selected, _ := cfg.registry.Gateway(id)
	respondWithData(w, http.StatusOK, "", map[string]interface{}{
		"gateway":    id,
		"config":     selected,
		"candidates": cfg.manager.Candidates(id),
	})
}

type gatewayStatusRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (cfg *apiConfig) setGatewayStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := gateway.ParseID(r.PathValue("id"))

	var req gatewayStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := cfg.registry.SetGatewayStatus(id, *req.Enabled); err != nil {
		cfg.respondWithRegistryError(w, id, err)
		return
	}

	userID, _ := GetUserID(r.Context())
	cfg.logger.Infow("gateway status changed", "gateway", id, "enabled", *req.Enabled, "by", userID)

	updated, _ := cfg.registry.Gateway(id)
	respondWithData(w, http.StatusOK, "Gateway status updated", updated)
}

type gatewayPriorityRequest struct {
	Priority *int `json:"priority" validate:"required,gte=0"`
}

func (cfg *apiConfig) setGatewayPriorityHandler(w http.ResponseWriter, r *http.Request) {
	id := gateway.ParseID(r.PathValue("id"))

	var req gatewayPriorityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := cfg.registry.SetGatewayPriority(id, *req.Priority); err != nil {
		cfg.respondWithRegistryError(w, id, err)
		return
	}

	userID, _ := GetUserID(r.Context())
	cfg.logger.Infow("gateway priority changed", "gateway", id, "priority", *req.Priority, "by", userID)

	updated, _ := cfg.registry.Gateway(id)
	respondWithData(w, http.StatusOK, "Gateway priority updated", updated)
}

func (cfg *apiConfig) respondWithRegistryError(w http.ResponseWriter, id gateway.ID, err error) {
	if errors.Is(err, gateway.ErrUnknownGateway) {
		respondWithError(w, http.StatusNotFound, ApiError{
			Code:    "UNKNOWN_GATEWAY",
			Message: "Unknown payment gateway",
			Details: map[string]string{"gateway": string(id)},
		})
		return
	}
	respondWithError(w, http.StatusInternalServerError, ApiError{
		Code:    "INTERNAL_ERROR",
		Message: err.Error(),
	})
}
