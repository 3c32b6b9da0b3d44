package payment

import (
	"context"
	"errors"
	"time"

	"github.com/Mekazstan/coop-payments-api/internal/gateway"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerConfig struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Interval         time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		Interval:         time.Minute,
	}
}

type registered struct {
	adapter Adapter
	breaker *gobreaker.CircuitBreaker
}

// Dispatcher routes provider-neutral calls to the adapter registered for a
// gateway id. Each adapter sits behind its own circuit breaker.
type Dispatcher struct {
	adapters map[gateway.ID]registered
	breaker  BreakerConfig
	logger   *zap.SugaredLogger
}

func NewDispatcher(cfg BreakerConfig, logger *zap.SugaredLogger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		adapters: make(map[gateway.ID]registered),
		breaker:  cfg,
		logger:   logger,
	}
}

func (d *Dispatcher) Register(a Adapter) {
	threshold := d.breaker.FailureThreshold
	settings := gobreaker.Settings{
		Name:        string(a.ID()),
		MaxRequests: 1,
		Interval:    d.breaker.Interval,
		Timeout:     d.breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return threshold > 0 && counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrRefundUnsupported)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warnw("gateway circuit breaker state changed", "gateway", name, "from", from.String(), "to", to.String())
		},
	}
	d.adapters[a.ID()] = registered{adapter: a, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (d *Dispatcher) Registered(id gateway.ID) bool {
	_, ok := d.adapters[id]
	return ok
}

func (d *Dispatcher) Adapter(id gateway.ID) (Adapter, bool) {
	r, ok := d.adapters[id]
	return r.adapter, ok
}

func (d *Dispatcher) BreakerState(id gateway.ID) (gobreaker.State, bool) {
	r, ok := d.adapters[id]
	if !ok {
		return gobreaker.StateClosed, false
	}
	return r.breaker.State(), true
}

func (d *Dispatcher) lookup(id gateway.ID, op string) (registered, error) {
	r, ok := d.adapters[id]
	if !ok {
		return registered{}, &gateway.CallError{Gateway: id, Op: op, Message: "gateway not configured", Err: ErrNotConfigured}
	}
	return r, nil
}

func (d *Dispatcher) Initialize(ctx context.Context, id gateway.ID, req gateway.PaymentRequest) (*gateway.PaymentResponse, error) {
	r, err := d.lookup(id, "initialize")
	if err != nil {
		return nil, err
	}
	if req.Reference == "" {
		req.Reference = NewReference(id)
	}

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.adapter.Initialize(ctx, req)
	})
	if err != nil {
		return nil, callError(id, "initialize", err)
	}
	return out.(*gateway.PaymentResponse), nil
}

func (d *Dispatcher) Verify(ctx context.Context, reference string, id gateway.ID) (*gateway.Verification, error) {
	r, err := d.lookup(id, "verify")
	if err != nil {
		return nil, err
	}

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.adapter.Verify(ctx, reference)
	})
	if err != nil {
		return nil, callError(id, "verify", err)
	}
	return out.(*gateway.Verification), nil
}

func (d *Dispatcher) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	r, err := d.lookup(req.Gateway, "refund")
	if err != nil {
		return nil, err
	}

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.adapter.Refund(ctx, req)
	})
	if err != nil {
		return nil, callError(req.Gateway, "refund", err)
	}
	return out.(*gateway.Refund), nil
}

func callError(id gateway.ID, op string, err error) error {
	var ce *gateway.CallError
	if errors.As(err, &ce) {
		return err
	}
	return &gateway.CallError{Gateway: id, Op: op, Err: err}
}

var _ gateway.Invoker = (*Dispatcher)(nil)
