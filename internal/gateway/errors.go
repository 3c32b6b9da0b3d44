package gateway

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownGateway     = errors.New("gateway: unknown gateway")
	ErrDuplicateGateway   = errors.New("gateway: duplicate gateway id")
	ErrSelectionExhausted = errors.New("gateway: no enabled gateway available")
	ErrGatewayCallFailed  = errors.New("gateway: call failed")
	ErrAllGatewaysFailed  = errors.New("gateway: all gateways failed")
)

// CallError is a single failed initialize/verify/refund attempt.
type CallError struct {
	Gateway    ID
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *CallError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed (http %d): %s", e.Gateway, e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Gateway, e.Op, msg)
}

func (e *CallError) Is(target error) bool {
	return target == ErrGatewayCallFailed
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// AllFailedError is returned once every candidate in a fallback chain failed.
// Only the last failure is kept.
type AllFailedError struct {
	Attempted []ID
	Last      error
}

func (e *AllFailedError) Error() string {
	ids := make([]string, len(e.Attempted))
	for i, id := range e.Attempted {
		ids[i] = string(id)
	}
	if e.Last == nil {
		return fmt.Sprintf("all payment gateways failed (tried %s)", strings.Join(ids, ", "))
	}
	return fmt.Sprintf("all payment gateways failed (tried %s): %v", strings.Join(ids, ", "), e.Last)
}

func (e *AllFailedError) Is(target error) bool {
	return target == ErrAllGatewaysFailed
}

func (e *AllFailedError) Unwrap() error {
	return e.Last
}
