package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/Mekazstan/coop-payments-api/internal/gateway"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("transaction not found")
	ErrConflict          = errors.New("transaction already exists")
	ErrStatusTransition  = errors.New("transaction status transition not allowed")
	QueryTimeoutDuration = 5 * time.Second
)

//go:embed schema.sql
var schema string

// StatusAbandoned marks a record nobody paid within the expiry window.
const StatusAbandoned gateway.PaymentStatus = "abandoned"

// transitions lists, per target status, the statuses a record may leave to
// reach it. Success and refunded are final apart from success→refunded; a
// transfer that lands after expiry may still settle an abandoned record.
var transitions = map[gateway.PaymentStatus][]gateway.PaymentStatus{
	gateway.StatusSuccess:  {gateway.StatusPending, StatusAbandoned},
	gateway.StatusFailed:   {gateway.StatusPending, StatusAbandoned},
	gateway.StatusRefunded: {gateway.StatusPending, gateway.StatusSuccess},
	StatusAbandoned:        {gateway.StatusPending},
}

// CanTransition reports whether a record in from may be moved to to.
func CanTransition(from, to gateway.PaymentStatus) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

func sourceStatuses(to gateway.PaymentStatus) []string {
	out := make([]string, 0, len(transitions[to]))
	for _, s := range transitions[to] {
		out = append(out, string(s))
	}
	return out
}

type Transaction struct {
	Reference         string                `json:"reference"`
	Gateway           gateway.ID            `json:"gateway"`
	Amount            decimal.Decimal       `json:"amount"`
	Currency          string                `json:"currency"`
	Type              string                `json:"type,omitempty"`
	Description       string                `json:"description,omitempty"`
	CustomerEmail     string                `json:"customerEmail,omitempty"`
	Status            gateway.PaymentStatus `json:"status"`
	ProviderReference string                `json:"providerReference,omitempty"`
	AttemptedGateways []gateway.ID          `json:"attemptedGateways"`
	FallbackUsed      bool                  `json:"fallbackUsed"`
	CreatedAt         time.Time             `json:"createdAt"`
	UpdatedAt         time.Time             `json:"updatedAt"`
}

type TransactionStore struct {
	db *pgxpool.Pool
}

func NewTransactionStore(db *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{db: db}
}

func (s *TransactionStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const selectColumns = `reference, gateway, amount::text, currency, type, description, customer_email,
	status, COALESCE(provider_reference, ''), attempted_gateways, fallback_used, created_at, updated_at`

func (s *TransactionStore) Create(ctx context.Context, tx *Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	if tx.Currency == "" {
		tx.Currency = "NGN"
	}
	if tx.Status == "" {
		tx.Status = gateway.StatusPending
	}

	query := `
		INSERT INTO payment_transactions
			(reference, gateway, amount, currency, type, description, customer_email,
			 status, provider_reference, attempted_gateways, fallback_used)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)
		RETURNING created_at, updated_at`

	err := s.db.QueryRow(ctx, query,
		tx.Reference,
		string(tx.Gateway),
		tx.Amount.String(),
		tx.Currency,
		tx.Type,
		tx.Description,
		tx.CustomerEmail,
		string(tx.Status),
		tx.ProviderReference,
		idStrings(tx.AttemptedGateways),
		tx.FallbackUsed,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *TransactionStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	query := `SELECT ` + selectColumns + ` FROM payment_transactions WHERE reference = $1`
	return scanOne(s.db.QueryRow(ctx, query, reference))
}

// GetByProviderReference finds a record by the identifier the provider
// issued for it, such as a Providus virtual account number.
func (s *TransactionStore) GetByProviderReference(ctx context.Context, id gateway.ID, providerRef string) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	query := `SELECT ` + selectColumns + ` FROM payment_transactions WHERE gateway = $1 AND provider_reference = $2`
	return scanOne(s.db.QueryRow(ctx, query, string(id), providerRef))
}

// UpdateStatus moves a record to status when CanTransition allows it from
// the record's current status. The check and the write are one statement, so
// concurrent settlers cannot both succeed. ErrStatusTransition means the
// record exists but is already past the point where status applies.
func (s *TransactionStore) UpdateStatus(ctx context.Context, reference string, status gateway.PaymentStatus) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	tag, err := s.db.Exec(ctx,
		`UPDATE payment_transactions SET status = $2, updated_at = NOW()
		 WHERE reference = $1 AND status = ANY($3)`,
		reference, string(status), sourceStatuses(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM payment_transactions WHERE reference = $1)`, reference).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusTransition
}

// ListPending returns pending records created before the cutoff, oldest first.
func (s *TransactionStore) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	query := `SELECT ` + selectColumns + `
		FROM payment_transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// MarkAbandoned flips pending records created before the cutoff and returns
// how many changed.
func (s *TransactionStore) MarkAbandoned(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	tag, err := s.db.Exec(ctx,
		`UPDATE payment_transactions SET status = $2, updated_at = NOW()
		 WHERE status = 'pending' AND created_at < $1`,
		olderThan, string(StatusAbandoned))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanOne(row pgx.Row) (*Transaction, error) {
	var (
		tx        Transaction
		gw        string
		amount    string
		status    string
		attempted []string
	)
	err := row.Scan(
		&tx.Reference,
		&gw,
		&amount,
		&tx.Currency,
		&tx.Type,
		&tx.Description,
		&tx.CustomerEmail,
		&status,
		&tx.ProviderReference,
		&attempted,
		&tx.FallbackUsed,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q for %s: %w", amount, tx.Reference, err)
	}
	tx.Gateway = gateway.ID(gw)
	tx.Status = gateway.PaymentStatus(status)
	tx.AttemptedGateways = make([]gateway.ID, len(attempted))
	for i, id := range attempted {
		tx.AttemptedGateways[i] = gateway.ID(id)
	}
	return &tx, nil
}

func idStrings(ids []gateway.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
