package main

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/Mekazstan/coop-payments-api/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListGateways(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, "GET", "/api/v1/gateways", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var all []gateway.Config
	require.NoError(t, json.Unmarshal(decodeResponse(t, rr).Data, &all))
	assert.Len(t, all, len(gateway.DefaultConfigs()))

	rr = api.do(t, "GET", "/api/v1/gateways/available", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var available []gateway.Config
	require.NoError(t, json.Unmarshal(decodeResponse(t, rr).Data, &available))
	require.Len(t, available, 4)
	assert.Equal(t, gateway.Paystack, available[0].ID)
	for _, g := range available {
		assert.True(t, g.Enabled)
	}
}

func TestSelectGateway(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, "GET", "/api/v1/gateways/select?amount=20000000&method=bank_transfer&country=NG", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Gateway    gateway.ID   `json:"gateway"`
		Candidates []gateway.ID `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(decodeResponse(t, rr).Data, &body))
	assert.Equal(t, gateway.Providus, body.Gateway)
	assert.Equal(t, []gateway.ID{gateway.Providus, gateway.Paystack, gateway.Flutterwave, gateway.Stripe}, body.Candidates)
}

func TestSelectGatewayCurrency(t *testing.T) {
	api := newTestAPI(t)

	selected := func(query string) gateway.ID {
		rr := api.do(t, "GET", "/api/v1/gateways/select?"+query, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var body struct {
			Gateway gateway.ID `json:"gateway"`
		}
		require.NoError(t, json.Unmarshal(decodeResponse(t, rr).Data, &body))
		return body.Gateway
	}

	assert.Equal(t, gateway.Paystack, selected("amount=50"))
	assert.Equal(t, gateway.Stripe, selected("amount=50&currency=usd"))
}

func TestSelectGatewayValidation(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, "GET", "/api/v1/gateways/select?amount=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = api.do(t, "GET", "/api/v1/gateways/select?amount=100&method=cheque", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSetGatewayStatus(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, "PATCH", "/api/v1/gateways/paystack/status", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	g, ok := api.cfg.registry.Gateway(gateway.Paystack)
	require.True(t, ok)
	assert.False(t, g.Enabled)

	// Checkout now starts with the next gateway.
	rr = api.do(t, "POST", "/api/v1/payments/checkout", checkoutBody(nil))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, []gateway.ID{gateway.Flutterwave}, api.invoker.calls)
}

func TestSetGatewayStatusErrors(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, "PATCH", "/api/v1/gateways/paypal/status", map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "UNKNOWN_GATEWAY", decodeResponse(t, rr).Error.Code)

	rr = api.do(t, "PATCH", "/api/v1/gateways/paystack/status", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeResponse(t, rr).Error.Code)
}

func TestSetGatewayPriority(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, "PATCH", "/api/v1/gateways/stripe/priority", map[string]int{"priority": 0})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	available := api.cfg.registry.AvailableGateways()
	assert.Equal(t, gateway.Stripe, available[0].ID)

	rr = api.do(t, "PATCH", "/api/v1/gateways/stripe/priority", map[string]int{"priority": -1})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}
