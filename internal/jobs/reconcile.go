package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mekazstan/coop-payments-api/internal/email"
	"github.com/Mekazstan/coop-payments-api/internal/gateway"
	"github.com/Mekazstan/coop-payments-api/internal/store"
	"go.uber.org/zap"
)

type TransactionStore interface {
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]store.Transaction, error)
	UpdateStatus(ctx context.Context, reference string, status gateway.PaymentStatus) error
	MarkAbandoned(ctx context.Context, olderThan time.Time) (int64, error)
}

type Verifier interface {
	Verify(ctx context.Context, reference string, id gateway.ID) (*gateway.Verification, error)
}

type ReconcileStats struct {
	Checked   int
	Succeeded int
	Failed    int
	Pending   int
	Skipped   int
	Errors    int
}

type Reconciler struct {
	store    TransactionStore
	verifier Verifier
	mailer   email.Sender
	logger   *zap.SugaredLogger

	PendingAge time.Duration
	BatchSize  int
	now        func() time.Time
}

func NewReconciler(s TransactionStore, v Verifier, mailer email.Sender, logger *zap.SugaredLogger) *Reconciler {
	if mailer == nil {
		mailer = email.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Reconciler{
		store:      s,
		verifier:   v,
		mailer:     mailer,
		logger:     logger,
		PendingAge: 5 * time.Minute,
		BatchSize:  100,
		now:        time.Now,
	}
}

// ReconcilePendingPayments asks the owning gateway about every pending record
// older than PendingAge and settles the ones that reached a final state.
func (r *Reconciler) ReconcilePendingPayments(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats

	pending, err := r.store.ListPending(ctx, r.now().Add(-r.PendingAge), r.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to list pending payments: %w", err)
	}

	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		// Providus transfers settle through the settlement notification only.
		if tx.Gateway == gateway.Providus {
			continue
		}
		stats.Checked++

		v, err := r.verifier.Verify(ctx, tx.Reference, tx.Gateway)
		if err != nil {
			stats.Errors++
			r.logger.Warnw("verification failed", "reference", tx.Reference, "gateway", tx.Gateway, "error", err)
			continue
		}

		if v.Status == gateway.StatusPending {
			stats.Pending++
			continue
		}

		// The pending list may be stale by now; a webhook can settle first.
		err = r.store.UpdateStatus(ctx, tx.Reference, v.Status)
		if errors.Is(err, store.ErrStatusTransition) {
			stats.Skipped++
			r.logger.Debugw("payment already settled", "reference", tx.Reference, "status", v.Status)
			continue
		}
		if err != nil {
			stats.Errors++
			r.logger.Errorw("failed to update payment status", "reference", tx.Reference, "status", v.Status, "error", err)
			continue
		}

		if v.Status == gateway.StatusSuccess {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		r.notify(tx, v)
	}

	r.logger.Infow("reconciled pending payments",
		"checked", stats.Checked,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"pending", stats.Pending,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
	)
	return stats, nil
}

func (r *Reconciler) notify(tx store.Transaction, v *gateway.Verification) {
	if tx.CustomerEmail == "" {
		return
	}

	var err error
	switch v.Status {
	case gateway.StatusSuccess:
		err = r.mailer.SendPaymentReceipt(tx.CustomerEmail, Receipt(tx, v.PaidAt))
	case gateway.StatusFailed:
		err = r.mailer.SendPaymentFailed(tx.CustomerEmail, email.FailedData{
			Reference: tx.Reference,
			Amount:    tx.Amount.StringFixed(2),
			Currency:  tx.Currency,
		})
	}
	if err != nil {
		r.logger.Warnw("failed to send payment email", "reference", tx.Reference, "error", err)
	}
}

// ExpireStalePayments marks pending records older than maxAge as abandoned.
func (r *Reconciler) ExpireStalePayments(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := r.store.MarkAbandoned(ctx, r.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale payments: %w", err)
	}
	r.logger.Infow("expired stale payments", "count", n, "maxAge", maxAge.String())
	return n, nil
}

func Receipt(tx store.Transaction, paidAt string) email.ReceiptData {
	return email.ReceiptData{
		Reference: tx.Reference,
		Gateway:   string(tx.Gateway),
		Type:      tx.Type,
		Amount:    tx.Amount.StringFixed(2),
		Currency:  tx.Currency,
		PaidAt:    paidAt,
	}
}
