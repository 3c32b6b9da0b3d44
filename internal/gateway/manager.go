package gateway

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Manager runs payment initialization across gateways, one at a time, until
// one succeeds. It keeps no memory of earlier chains.
type Manager struct {
	registry *Registry
	selector *Selector
	invoker  Invoker
	logger   *zap.SugaredLogger
}

func NewManager(registry *Registry, invoker Invoker, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		registry: registry,
		selector: NewSelector(registry),
		invoker:  invoker,
		logger:   logger,
	}
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) SelectBestGateway(req PaymentRequest) (ID, error) {
	return m.selector.SelectBestGatewayIn(req.CurrencyCode(), req.Amount, req.PaymentMethod, req.Country)
}

// Candidates is the attempt order for one chain: preferred first when it is
// enabled, then every other enabled gateway by priority.
func (m *Manager) Candidates(preferred ID) []ID {
	available := m.registry.AvailableGateways()
	out := make([]ID, 0, len(available))

	if preferred != "" {
		if c, ok := m.registry.Gateway(preferred); ok && c.Enabled {
			out = append(out, preferred)
		}
	}
	for _, c := range available {
		if len(out) > 0 && c.ID == out[0] {
			continue
		}
		out = append(out, c.ID)
	}
	return out
}

func (m *Manager) InitializeWithFallback(ctx context.Context, req PaymentRequest, preferred ID) (*InitializationResult, error) {
	candidates := m.Candidates(preferred)
	if len(candidates) == 0 {
		return nil, ErrSelectionExhausted
	}

	attempted := make([]ID, 0, len(candidates))
	var lastErr error

	for i, id := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, &AllFailedError{Attempted: attempted, Last: err}
		}
		attempted = append(attempted, id)

		resp, err := m.invoker.Initialize(ctx, id, req)
		if err == nil && resp != nil {
			if resp.Gateway == "" {
				resp.Gateway = id
			}
			m.logger.Infow("payment initialized",
				"gateway", id,
				"reference", resp.Reference,
				"attempt", i+1,
				"fallback_used", i > 0,
			)
			return &InitializationResult{
				PaymentResponse:   *resp,
				AttemptedGateways: attempted,
				FallbackUsed:      i > 0,
			}, nil
		}
		if err == nil {
			err = &CallError{Gateway: id, Op: "initialize", Message: "empty response"}
		}

		lastErr = err
		m.logger.Warnw("gateway initialization failed",
			"gateway", id,
			"attempt", i+1,
			"remaining", len(candidates)-i-1,
			"error", err,
		)
	}

	m.logger.Errorw("all gateways failed", "attempted", attempted, "error", lastErr)
	return nil, &AllFailedError{Attempted: attempted, Last: lastErr}
}

func (m *Manager) Verify(ctx context.Context, reference string, id ID) (*Verification, error) {
	if _, ok := m.registry.Gateway(id); !ok {
		return nil, ErrUnknownGateway
	}
	return m.invoker.Verify(ctx, reference, id)
}

func (m *Manager) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if _, ok := m.registry.Gateway(req.Gateway); !ok {
		return nil, ErrUnknownGateway
	}
	return m.invoker.Refund(ctx, req)
}

// Attempted extracts the attempted gateway list from a fallback error.
func Attempted(err error) []ID {
	var all *AllFailedError
	if errors.As(err, &all) {
		return all.Attempted
	}
	return nil
}
