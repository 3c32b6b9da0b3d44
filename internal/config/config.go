package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Mekazstan/coop-payments-api/internal/gateway"
	"github.com/joho/godotenv"
)

type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

type Config struct {
	Environment Environment
	Port        string
	AppURL      string
	APIURL      string
	LogLevel    string

	DatabaseURL string
	RedisURL    string

	JWTSecret          string
	ServiceTokenTTL    time.Duration
	CORSAllowedOrigins []string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string

	RateLimit int

	PaystackSecretKey     string
	PaystackWebhookSecret string

	FlutterwaveSecretKey  string
	FlutterwaveSecretHash string

	ProvidusClientID     string
	ProvidusClientSecret string
	ProvidusBaseURL      string
	ProvidusAccountName  string

	StripeSecretKey     string
	StripeWebhookSecret string

	// GatewaysDisabled and GatewayPriorities override the built-in registry.
	GatewaysDisabled  []gateway.ID
	GatewayPriorities map[gateway.ID]int

	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration

	ReconcileSchedule string
	ExpirySchedule    string
	PendingAge        time.Duration
	AbandonAfter      time.Duration
}

func Load() (*Config, error) {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if env != "production" {
		if err := godotenv.Load(); err != nil {
			// Running from cmd/<binary> during development.
			_ = godotenv.Load("../../.env")
		}
	}

	priorities, err := parsePriorities(getEnv("GATEWAY_PRIORITIES", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: Environment(env),
		Port:        getEnv("PORT", "8080"),
		AppURL:      getEnv("APP_URL", "http://localhost:3000"),
		APIURL:      getEnv("API_URL", "http://localhost:8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		ServiceTokenTTL:    getEnvAsDuration("SERVICE_TOKEN_TTL", 15*time.Minute),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		FromEmail:    getEnv("FROM_EMAIL", "payments@coop.ng"),
		FromName:     getEnv("FROM_NAME", "Coop Payments"),

		RateLimit: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 60),

		PaystackSecretKey:     getEnv("PAYSTACK_SECRET_KEY", ""),
		PaystackWebhookSecret: getEnv("PAYSTACK_WEBHOOK_SECRET", ""),

		FlutterwaveSecretKey:  getEnv("FLUTTERWAVE_SECRET_KEY", ""),
		FlutterwaveSecretHash: getEnv("FLUTTERWAVE_SECRET_HASH", ""),

		ProvidusClientID:     getEnv("PROVIDUS_CLIENT_ID", ""),
		ProvidusClientSecret: getEnv("PROVIDUS_CLIENT_SECRET", ""),
		ProvidusBaseURL:      getEnv("PROVIDUS_BASE_URL", ""),
		ProvidusAccountName:  getEnv("PROVIDUS_ACCOUNT_NAME", "COOP"),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		GatewaysDisabled:  parseIDs(getEnv("GATEWAYS_DISABLED", "")),
		GatewayPriorities: priorities,

		BreakerFailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerOpenTimeout:      getEnvAsDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),

		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "0 */10 * * * *"),
		ExpirySchedule:    getEnv("EXPIRY_SCHEDULE", "0 0 * * * *"),
		PendingAge:        getEnvAsDuration("RECONCILE_PENDING_AGE", 5*time.Minute),
		AbandonAfter:      getEnvAsDuration("ABANDON_AFTER", 24*time.Hour),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.SMTPHost != "" || c.SMTPUsername != "" || c.SMTPPassword != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("incomplete SMTP configuration: all SMTP fields must be set")
		}
	}

	if (c.ProvidusClientID == "") != (c.ProvidusClientSecret == "") {
		return fmt.Errorf("incomplete Providus configuration: PROVIDUS_CLIENT_ID and PROVIDUS_CLIENT_SECRET go together")
	}
	if c.ProvidusClientID != "" && c.ProvidusBaseURL == "" {
		return fmt.Errorf("PROVIDUS_BASE_URL is required when Providus is configured")
	}

	return nil
}

func (c *Config) HasAnyGateway() bool {
	return c.PaystackSecretKey != "" || c.FlutterwaveSecretKey != "" ||
		c.ProvidusClientID != "" || c.StripeSecretKey != ""
}

func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// ApplyGatewayOverrides disables and re-prioritises registry entries. Ids the
// registry does not know are reported as an error.
func (c *Config) ApplyGatewayOverrides(r *gateway.Registry) error {
	for _, id := range c.GatewaysDisabled {
		if err := r.SetGatewayStatus(id, false); err != nil {
			return fmt.Errorf("GATEWAYS_DISABLED: %w", err)
		}
	}
	for id, priority := range c.GatewayPriorities {
		if err := r.SetGatewayPriority(id, priority); err != nil {
			return fmt.Errorf("GATEWAY_PRIORITIES: %w", err)
		}
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

func (c *Config) IsStaging() bool {
	return c.Environment == Staging
}

func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	return getListFrom(valueStr)
}

func parseIDs(s string) []gateway.ID {
	var ids []gateway.ID
	for _, v := range getListFrom(s) {
		ids = append(ids, gateway.ParseID(v))
	}
	return ids
}

// parsePriorities reads "paystack:2,flutterwave:1".
func parsePriorities(s string) (map[gateway.ID]int, error) {
	out := make(map[gateway.ID]int)
	for _, pair := range getListFrom(s) {
		id, val, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("GATEWAY_PRIORITIES: expected id:priority, got %q", pair)
		}
		priority, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("GATEWAY_PRIORITIES: invalid priority for %s: %w", id, err)
		}
		out[gateway.ParseID(id)] = priority
	}
	return out, nil
}

func getListFrom(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
