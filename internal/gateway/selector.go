package gateway

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Selector struct {
	registry *Registry
}

func NewSelector(registry *Registry) *Selector {
	return &Selector{registry: registry}
}

// SelectBestGateway returns the first enabled gateway, in priority order, that
// supports method, accepts amount in DefaultCurrency and serves country. Empty
// method or country means no constraint. When nothing fits, the top-priority
// enabled gateway is returned anyway and the provider is left to reject the
// payment.
func (s *Selector) SelectBestGateway(amount decimal.Decimal, method PaymentMethod, country string) (ID, error) {
	return s.SelectBestGatewayIn(DefaultCurrency, amount, method, country)
}

// SelectBestGatewayIn is SelectBestGateway for an amount in currency. Gateways
// whose limits are set in another currency never fit.
func (s *Selector) SelectBestGatewayIn(currency string, amount decimal.Decimal, method PaymentMethod, country string) (ID, error) {
	available := s.registry.AvailableGateways()
	if len(available) == 0 {
		return "", ErrSelectionExhausted
	}

	for _, c := range available {
		if !c.Features.Supports(method) {
			continue
		}
		if !c.Limits.Accepts(currency, amount) {
			continue
		}
		if !c.ServesCountry(country) {
			continue
		}
		return c.ID, nil
	}

	return available[0].ID, nil
}

// ParseAmount turns a numeric string ("200000", "1500.50") into a decimal.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}
