package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Mekazstan/coop-payments-api/internal/gateway"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *TransactionStore {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping store tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewTransactionStore(pool)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func testReference() string {
	return "TEST-" + uuid.NewString()
}

func TestTransactionLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	tx := &Transaction{
		Reference:         testReference(),
		Gateway:           gateway.Flutterwave,
		Amount:            decimal.RequireFromString("12500.50"),
		Type:              "contribution",
		CustomerEmail:     "ada@example.com",
		AttemptedGateways: []gateway.ID{gateway.Paystack, gateway.Flutterwave},
		FallbackUsed:      true,
	}
	require.NoError(t, s.Create(ctx, tx))
	assert.False(t, tx.CreatedAt.IsZero())
	assert.Equal(t, gateway.StatusPending, tx.Status)

	err := s.Create(ctx, &Transaction{Reference: tx.Reference, Gateway: gateway.Paystack, Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.GetByReference(ctx, tx.Reference)
	require.NoError(t, err)
	assert.True(t, tx.Amount.Equal(got.Amount))
	assert.Equal(t, "NGN", got.Currency)
	assert.Equal(t, tx.AttemptedGateways, got.AttemptedGateways)
	assert.True(t, got.FallbackUsed)

	require.NoError(t, s.UpdateStatus(ctx, tx.Reference, gateway.StatusSuccess))
	got, err = s.GetByReference(ctx, tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusSuccess, got.Status)
}

func TestTransactionNotFound(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.GetByReference(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateStatus(ctx, "does-not-exist", gateway.StatusFailed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusTransitions(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	tx := &Transaction{Reference: testReference(), Gateway: gateway.Paystack, Amount: decimal.NewFromInt(1000)}
	require.NoError(t, s.Create(ctx, tx))

	require.NoError(t, s.UpdateStatus(ctx, tx.Reference, gateway.StatusSuccess))
	assert.ErrorIs(t, s.UpdateStatus(ctx, tx.Reference, gateway.StatusSuccess), ErrStatusTransition)
	assert.ErrorIs(t, s.UpdateStatus(ctx, tx.Reference, gateway.StatusFailed), ErrStatusTransition)

	require.NoError(t, s.UpdateStatus(ctx, tx.Reference, gateway.StatusRefunded))
	assert.ErrorIs(t, s.UpdateStatus(ctx, tx.Reference, gateway.StatusSuccess), ErrStatusTransition)

	got, err := s.GetByReference(ctx, tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusRefunded, got.Status)
}

func TestProviderReferenceLookup(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	account := uuid.NewString()[:10]
	tx := &Transaction{
		Reference:         testReference(),
		Gateway:           gateway.Providus,
		Amount:            decimal.NewFromInt(20000),
		ProviderReference: account,
	}
	require.NoError(t, s.Create(ctx, tx))

	got, err := s.GetByProviderReference(ctx, gateway.Providus, account)
	require.NoError(t, err)
	assert.Equal(t, tx.Reference, got.Reference)

	_, err = s.GetByProviderReference(ctx, gateway.Paystack, account)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPendingAndAbandoned(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	tx := &Transaction{Reference: testReference(), Gateway: gateway.Paystack, Amount: decimal.NewFromInt(500)}
	require.NoError(t, s.Create(ctx, tx))

	future := time.Now().Add(time.Minute)

	pending, err := s.ListPending(ctx, future, 1000)
	require.NoError(t, err)
	assert.Contains(t, references(pending), tx.Reference)

	pending, err = s.ListPending(ctx, time.Now().Add(-time.Hour), 1000)
	require.NoError(t, err)
	assert.NotContains(t, references(pending), tx.Reference)

	n, err := s.MarkAbandoned(ctx, future)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	got, err := s.GetByReference(ctx, tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, got.Status)
}

func references(txs []Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.Reference
	}
	return out
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to gateway.PaymentStatus
		want     bool
	}{
		{gateway.StatusPending, gateway.StatusSuccess, true},
		{gateway.StatusPending, gateway.StatusFailed, true},
		{gateway.StatusPending, gateway.StatusRefunded, true},
		{gateway.StatusPending, StatusAbandoned, true},
		{StatusAbandoned, gateway.StatusSuccess, true},
		{gateway.StatusSuccess, gateway.StatusRefunded, true},
		{gateway.StatusSuccess, gateway.StatusSuccess, false},
		{gateway.StatusSuccess, gateway.StatusFailed, false},
		{gateway.StatusSuccess, StatusAbandoned, false},
		{gateway.StatusRefunded, gateway.StatusSuccess, false},
		{gateway.StatusFailed, gateway.StatusSuccess, false},
		{gateway.StatusFailed, gateway.StatusRefunded, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
