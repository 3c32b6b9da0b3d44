package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mekazstan/coop-payments-api/internal/auth"
	"github.com/Mekazstan/coop-payments-api/internal/config"
	"github.com/Mekazstan/coop-payments-api/internal/email"
	"github.com/Mekazstan/coop-payments-api/internal/gateway"
	"github.com/Mekazstan/coop-payments-api/internal/jobs"
	"github.com/Mekazstan/coop-payments-api/internal/logging"
	"github.com/Mekazstan/coop-payments-api/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// jobTimeout bounds a single run so a stuck gateway cannot pile runs up.
const jobTimeout = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", false).Fatalf("Failed to load config: %v", err)
	}

	log := logging.New(cfg.LogLevel, cfg.IsDevelopment()).Named("scheduler")
	defer log.Sync()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Unable to ping database: %v", err)
	}
	log.Info("Connected to database successfully")

	transactions := store.NewTransactionStore(pool)

	var mailer email.Sender = email.Noop{}
	if cfg.SMTPEnabled() {
		svc, err := email.NewEmailService(email.Config{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			FromEmail: cfg.FromEmail,
			FromName:  cfg.FromName,
		})
		if err != nil {
			log.Fatalf("Unable to set up email: %v", err)
		}
		mailer = svc
	}

	c := cron.New(cron.WithSeconds())

	// Pending payments are verified through the API so they share its
	// gateway credentials and circuit breakers.
	_, err = c.AddFunc(cfg.ReconcileSchedule, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		invoker, err := serviceInvoker(cfg)
		if err != nil {
			log.Errorw("failed to issue service token", "error", err)
			return
		}

		reconciler := jobs.NewReconciler(transactions, invoker, mailer, log.Named("reconcile"))
		reconciler.PendingAge = cfg.PendingAge

		stats, err := reconciler.ReconcilePendingPayments(runCtx)
		if err != nil {
			log.Errorw("reconciliation failed", "error", err)
			return
		}
		logStats(log, stats)
	})
	if err != nil {
		log.Fatalf("Failed to schedule reconciliation job: %v", err)
	}

	_, err = c.AddFunc(cfg.ExpirySchedule, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		reconciler := jobs.NewReconciler(transactions, nil, mailer, log.Named("expiry"))
		if _, err := reconciler.ExpireStalePayments(runCtx, cfg.AbandonAfter); err != nil {
			log.Errorw("expiry job failed", "error", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule expiry job: %v", err)
	}

	c.Start()
	log.Infow("Cron scheduler started",
		"reconcile", cfg.ReconcileSchedule,
		"expiry", cfg.ExpirySchedule,
		"api", cfg.APIURL,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down cron scheduler...")

	ctx = c.Stop()
	<-ctx.Done()

	log.Info("Cron scheduler stopped successfully")
}

// serviceInvoker returns an API client holding a fresh short-lived token.
func serviceInvoker(cfg *config.Config) (*gateway.HTTPInvoker, error) {
	token, err := auth.MakeJWT(uuid.New(), cfg.JWTSecret, cfg.ServiceTokenTTL)
	if err != nil {
		return nil, err
	}
	return gateway.NewHTTPInvoker(cfg.APIURL, gateway.WithToken(token)), nil
}

func logStats(log *zap.SugaredLogger, s jobs.ReconcileStats) {
	log.Infow("reconciliation completed",
		"checked", s.Checked,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"pending", s.Pending,
		"skipped", s.Skipped,
		"errors", s.Errors,
	)
}
