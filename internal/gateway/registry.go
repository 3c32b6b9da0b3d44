package gateway

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Registry holds one Config per gateway id. Order of registration is kept
// so that equal priorities resolve deterministically.
type Registry struct {
	mu      sync.RWMutex
	order   []ID
	configs map[ID]*Config
}

func NewRegistry(configs ...Config) (*Registry, error) {
	r := &Registry{configs: make(map[ID]*Config, len(configs))}
	for _, c := range configs {
		if c.ID == "" {
			return nil, fmt.Errorf("gateway config %q: empty id", c.DisplayName)
		}
		if _, ok := r.configs[c.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateGateway, c.ID)
		}
		cfg := c.clone()
		r.configs[c.ID] = &cfg
		r.order = append(r.order, c.ID)
	}
	return r, nil
}

// AvailableGateways returns enabled gateways, lowest priority value first.
func (r *Registry) AvailableGateways() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Config, 0, len(r.order))
	for _, id := range r.order {
		if c := r.configs[id]; c.Enabled {
			out = append(out, c.clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// All returns every registered gateway in registration order.
func (r *Registry) All() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Config, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.configs[id].clone())
	}
	return out
}

func (r *Registry) Gateway(id ID) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.configs[id]
	if !ok {
		return Config{}, false
	}
	return c.clone(), true
}

func (r *Registry) SetGatewayStatus(id ID, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.configs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGateway, id)
	}
	c.Enabled = enabled
	return nil
}

// SetGatewayPriority overwrites the priority. Priorities need not be unique.
func (r *Registry) SetGatewayPriority(id ID, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.configs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGateway, id)
	}
	c.Priority = priority
	return nil
}

func naira(min, max int64) Limits {
	return Limits{Min: decimal.NewFromInt(min), Max: decimal.NewFromInt(max), Currency: "NGN"}
}

// DefaultConfigs is the gateway list the service boots with.
func DefaultConfigs() []Config {
	return []Config{
		{
			ID:          Paystack,
			DisplayName: "Paystack",
			Enabled:     true,
			Priority:    1,
			Features:    Features{BankTransfer: true, Card: true, USSD: true, QRCode: true},
			Limits:      naira(100, 5_000_000),
			Countries:   []string{"NG", "GH", "ZA", "KE"},
		},
		{
			ID:          Flutterwave,
			DisplayName: "Flutterwave",
			Enabled:     true,
			Priority:    2,
			Features:    Features{BankTransfer: true, Card: true, USSD: true, MobileMoney: true, QRCode: true},
			Limits:      naira(100, 10_000_000),
			Countries:   []string{"NG", "GH", "KE", "UG", "TZ", "ZA", "RW"},
		},
		{
			ID:          Providus,
			DisplayName: "Providus Bank",
			Enabled:     true,
			Priority:    3,
			Features:    Features{BankTransfer: true},
			Limits:      naira(100, 50_000_000),
			Countries:   []string{"NG"},
		},
		{
			ID:          Stripe,
			DisplayName: "Stripe",
			Enabled:     true,
			Priority:    4,
			Features:    Features{Card: true},
			Limits: Limits{
				Min:      decimal.NewFromFloat(0.5),
				Max:      decimal.NewFromInt(999_999),
				Currency: "USD",
			},
		},
		{
			ID:          Monnify,
			DisplayName: "Monnify",
			Enabled:     false,
			Priority:    5,
			Features:    Features{BankTransfer: true, Card: true, USSD: true},
			Limits:      naira(100, 10_000_000),
			Countries:   []string{"NG"},
		},
		{
			ID:          Squad,
			DisplayName: "Squad",
			Enabled:     false,
			Priority:    6,
			Features:    Features{BankTransfer: true, Card: true, USSD: true},
			Limits:      naira(100, 10_000_000),
			Countries:   []string{"NG"},
		},
	}
}
