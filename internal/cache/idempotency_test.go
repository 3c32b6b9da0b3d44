package cache

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGuard(t *testing.T) *IdempotencyGuard {
	t.Helper()

	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set, skipping redis tests")
	}

	opt, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.Ping(context.Background()).Err())
	return NewIdempotencyGuard(client)
}

func TestClaimRejectsDuplicates(t *testing.T) {
	g := setupGuard(t)
	ctx := context.Background()
	ref := "TEST-" + uuid.NewString()

	require.NoError(t, g.Claim(ctx, ref))
	assert.ErrorIs(t, g.Claim(ctx, ref), ErrDuplicate)

	status, err := g.Status(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, status)
}

func TestReleaseAllowsRetry(t *testing.T) {
	g := setupGuard(t)
	ctx := context.Background()
	ref := "TEST-" + uuid.NewString()

	require.NoError(t, g.Claim(ctx, ref))
	require.NoError(t, g.Release(ctx, ref))

	status, err := g.Status(ctx, ref)
	require.NoError(t, err)
	assert.Empty(t, status)
	assert.NoError(t, g.Claim(ctx, ref))
}

func TestCompletedSurvivesRelease(t *testing.T) {
	g := setupGuard(t)
	ctx := context.Background()
	ref := "TEST-" + uuid.NewString()

	require.NoError(t, g.Claim(ctx, ref))
	require.NoError(t, g.Complete(ctx, ref))
	require.NoError(t, g.Release(ctx, ref))

	status, err := g.Status(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
	assert.ErrorIs(t, g.Claim(ctx, ref), ErrDuplicate)
}
