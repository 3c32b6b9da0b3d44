package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"

	// Long enough to cover a full fallback chain across every gateway.
	InProgressExpiry = 2 * time.Minute
	CompletedExpiry  = 24 * time.Hour
)

var ErrDuplicate = errors.New("payment reference already used")

// IdempotencyGuard claims payment references so a retried checkout cannot
// open a second transaction with the same reference.
type IdempotencyGuard struct {
	client *redis.Client
	prefix string
}

func NewIdempotencyGuard(client *redis.Client) *IdempotencyGuard {
	return &IdempotencyGuard{client: client, prefix: "pay:"}
}

func (g *IdempotencyGuard) key(reference string) string {
	return g.prefix + reference
}

// Claim marks the reference in progress. It returns ErrDuplicate when the
// reference is already in progress or completed.
func (g *IdempotencyGuard) Claim(ctx context.Context, reference string) error {
	set, err := g.client.SetNX(ctx, g.key(reference), StatusInProgress, InProgressExpiry).Result()
	if err != nil {
		return fmt.Errorf("redis SETNX error: %w", err)
	}
	if !set {
		return ErrDuplicate
	}
	return nil
}

func (g *IdempotencyGuard) Complete(ctx context.Context, reference string) error {
	if err := g.client.Set(ctx, g.key(reference), StatusCompleted, CompletedExpiry).Err(); err != nil {
		return fmt.Errorf("redis SET error: %w", err)
	}
	return nil
}

// Release drops an in-progress claim so the caller may retry the reference.
// Completed references are left alone.
func (g *IdempotencyGuard) Release(ctx context.Context, reference string) error {
	status, err := g.Status(ctx, reference)
	if err != nil {
		return err
	}
	if status != StatusInProgress {
		return nil
	}
	if err := g.client.Del(ctx, g.key(reference)).Err(); err != nil {
		return fmt.Errorf("redis DEL error: %w", err)
	}
	return nil
}

// Status reports the stored state, or "" when the reference was never claimed.
func (g *IdempotencyGuard) Status(ctx context.Context, reference string) (string, error) {
	status, err := g.client.Get(ctx, g.key(reference)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis GET error: %w", err)
	}
	return status, nil
}
