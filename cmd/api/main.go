package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mekazstan/coop-payments-api/internal/cache"
	"github.com/Mekazstan/coop-payments-api/internal/config"
	"github.com/Mekazstan/coop-payments-api/internal/email"
	"github.com/Mekazstan/coop-payments-api/internal/gateway"
	"github.com/Mekazstan/coop-payments-api/internal/logging"
	"github.com/Mekazstan/coop-payments-api/internal/payment"
	"github.com/Mekazstan/coop-payments-api/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type transactionStore interface {
	Create(ctx context.Context, tx *store.Transaction) error
	GetByReference(ctx context.Context, reference string) (*store.Transaction, error)
	GetByProviderReference(ctx context.Context, id gateway.ID, providerRef string) (*store.Transaction, error)
	UpdateStatus(ctx context.Context, reference string, status gateway.PaymentStatus) error
}

type referenceGuard interface {
	Claim(ctx context.Context, reference string) error
	Complete(ctx context.Context, reference string) error
	Release(ctx context.Context, reference string) error
}

// webhook verifiers; nil when the gateway is not configured.
type providers struct {
	paystack    *payment.PaystackProvider
	flutterwave *payment.FlutterwaveProvider
	providus    *payment.ProvidusProvider
	stripe      *payment.StripeProvider
}

type apiConfig struct {
	registry     *gateway.Registry
	manager      *gateway.Manager
	invoker      gateway.Invoker
	providers    providers
	transactions transactionStore
	guard        referenceGuard
	mailer       email.Sender
	logger       *zap.SugaredLogger
	jwtSecret    string
	redisClient  *redis.Client
	rateLimit    int
	corsOrigins  []string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", false).Fatalf("Failed to load config: %v", err)
	}

	log := logging.New(cfg.LogLevel, cfg.IsDevelopment())
	defer log.Sync()
	logger = log

	if !cfg.HasAnyGateway() {
		log.Fatal("At least one gateway secret key is required")
	}

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
	if err := transactions.Migrate(ctx); err != nil {
		log.Fatalf("Unable to migrate database: %v", err)
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Unable to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(opt)

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Unable to connect to Redis: %v", err)
	}
	log.Info("Connected to Redis successfully")

	registry, err := gateway.NewRegistry(gateway.DefaultConfigs()...)
	if err != nil {
		log.Fatalf("Invalid gateway registry: %v", err)
	}

	dispatcher := payment.NewDispatcher(payment.BreakerConfig{
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		OpenTimeout:      cfg.BreakerOpenTimeout,
		Interval:         time.Minute,
	}, log.Named("dispatcher"))
	provs := registerProviders(cfg, dispatcher)

	// Gateways without credentials stay in the registry but never get traffic.
	for _, g := range registry.All() {
		if !dispatcher.Registered(g.ID) {
			registry.SetGatewayStatus(g.ID, false)
		}
	}
	if err := cfg.ApplyGatewayOverrides(registry); err != nil {
		log.Fatalf("Invalid gateway overrides: %v", err)
	}
	for _, g := range registry.AvailableGateways() {
		log.Infow("gateway enabled", "gateway", g.ID, "priority", g.Priority)
	}

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

	api := &apiConfig{
		registry:     registry,
		manager:      gateway.NewManager(registry, dispatcher, log.Named("fallback")),
		invoker:      dispatcher,
		providers:    provs,
		transactions: transactions,
		guard:        cache.NewIdempotencyGuard(redisClient),
		mailer:       mailer,
		logger:       log,
		jwtSecret:    cfg.JWTSecret,
		redisClient:  redisClient,
		rateLimit:    cfg.RateLimit,
		corsOrigins:  cfg.CORSAllowedOrigins,
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      90 * time.Second,
	}

	go func() {
		log.Infof("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}
	log.Info("Server stopped")
}

func registerProviders(cfg *config.Config, d *payment.Dispatcher) providers {
	var p providers
	if cfg.PaystackSecretKey != "" {
		p.paystack = payment.NewPaystackProvider(cfg.PaystackSecretKey, cfg.PaystackWebhookSecret)
		d.Register(p.paystack)
	}
	if cfg.FlutterwaveSecretKey != "" {
		p.flutterwave = payment.NewFlutterwaveProvider(cfg.FlutterwaveSecretKey, cfg.FlutterwaveSecretHash)
		d.Register(p.flutterwave)
	}
	if cfg.ProvidusClientID != "" {
		p.providus = payment.NewProvidusProvider(cfg.ProvidusClientID, cfg.ProvidusClientSecret, cfg.ProvidusBaseURL, cfg.ProvidusAccountName)
		d.Register(p.providus)
	}
	if cfg.StripeSecretKey != "" {
		p.stripe = payment.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.AppURL)
		d.Register(p.stripe)
	}
	return p
}

func (cfg *apiConfig) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", cfg.healthHandler)

	protected := func(h http.HandlerFunc) http.Handler {
		mws := []func(http.Handler) http.Handler{AuthMiddleware(cfg.jwtSecret)}
		if cfg.redisClient != nil {
			mws = append(mws, RateLimitMiddleware(cfg.redisClient, cfg.rateLimit))
		}
		return chain(h, mws...)
	}

	// Payment routes
	mux.Handle("POST /api/v1/payments/initialize", protected(cfg.initializePaymentHandler))
	mux.Handle("POST /api/v1/payments/verify", protected(cfg.verifyPaymentHandler))
	mux.Handle("POST /api/v1/payments/refund", protected(cfg.refundPaymentHandler))
	mux.Handle("POST /api/v1/payments/checkout", protected(cfg.checkoutHandler))
	mux.Handle("GET /api/v1/payments/{reference}", protected(cfg.getPaymentHandler))

	// Gateway routes
	mux.Handle("GET /api/v1/gateways", protected(cfg.listGatewaysHandler))
	mux.Handle("GET /api/v1/gateways/available", protected(cfg.availableGatewaysHandler))
	mux.Handle("GET /api/v1/gateways/select", protected(cfg.selectGatewayHandler))
	mux.Handle("PATCH /api/v1/gateways/{id}/status", protected(cfg.setGatewayStatusHandler))
	mux.Handle("PATCH /api/v1/gateways/{id}/priority", protected(cfg.setGatewayPriorityHandler))

	// Webhook routes (no auth - verified by signature)
	mux.HandleFunc("POST /api/v1/webhooks/paystack", cfg.paystackWebhookHandler)
	mux.HandleFunc("POST /api/v1/webhooks/flutterwave", cfg.flutterwaveWebhookHandler)
	mux.HandleFunc("POST /api/v1/webhooks/providus", cfg.providusWebhookHandler)
	mux.HandleFunc("POST /api/v1/webhooks/stripe", cfg.stripeWebhookHandler)

	return chain(mux,
		RecoveryMiddleware,
		RequestIDMiddleware,
		LoggingMiddleware(cfg.logger),
		SecurityHeadersMiddleware,
		CORSMiddleware(cfg.corsOrigins),
	)
}

func (cfg *apiConfig) healthHandler(w http.ResponseWriter, r *http.Request) {
	respondWithData(w, http.StatusOK, "ok", map[string]interface{}{
		"gateways": len(cfg.registry.AvailableGateways()),
	})
}
