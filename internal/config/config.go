package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Store (empty DatabaseURL = in-memory store)
	DatabaseURL string
	DBMaxConns  int
	TxTimeout   time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int
	HTTPTimeout    time.Duration

	// Payments
	IdempotencyTTL time.Duration

	// Billing
	MinimumPaymentFloorCents int64
	MinimumPaymentRate       decimal.Decimal
	SweepConcurrency         int

	// Observability
	OTLPEndpoint string

	// Supabase (budget projections)
	SupabaseURL        string
	SupabaseServiceKey string

	// AMQP (bill events)
	AMQPURL      string
	AMQPExchange string

	// JWT / Auth
	JWTSecret string
	JWTIssuer string

	// Dev mode
	DevTools bool // DEV_TOOLS_ENABLED=true exposes /v1/dev/*
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		TxTimeout:   getEnvDuration("BILLING_TX_TIMEOUT", 5*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),
		HTTPTimeout:    getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		IdempotencyTTL: getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		MinimumPaymentFloorCents: int64(getEnvInt("MINIMUM_PAYMENT_FLOOR_CENTS", 5000)),
		MinimumPaymentRate:       getEnvDecimal("MINIMUM_PAYMENT_RATE", decimal.RequireFromString("0.15")),
		SweepConcurrency:         getEnvInt("SWEEP_CONCURRENCY", 4),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "billing"),

		JWTSecret: getEnv("JWT_SECRET", "card-billing-dev-secret-change-me"),
		JWTIssuer: getEnv("JWT_ISSUER", ""),

		DevTools: getEnv("DEV_TOOLS_ENABLED", "false") == "true",
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if c.DBMaxConns <= 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be positive: %d", c.DBMaxConns))
	}
	if c.TxTimeout <= 0 {
		errs = append(errs, errors.New("BILLING_TX_TIMEOUT must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("MAX_RETRIES must not be negative"))
	}
	if c.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENCY must be positive"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_TTL must be positive"))
	}
	if c.MinimumPaymentFloorCents < 0 {
		errs = append(errs, errors.New("MINIMUM_PAYMENT_FLOOR_CENTS must not be negative"))
	}
	if c.MinimumPaymentRate.IsNegative() || c.MinimumPaymentRate.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("MINIMUM_PAYMENT_RATE must be within [0, 1]: %s", c.MinimumPaymentRate))
	}
	if c.SweepConcurrency <= 0 {
		errs = append(errs, errors.New("SWEEP_CONCURRENCY must be positive"))
	}
	if (c.SupabaseURL == "") != (c.SupabaseServiceKey == "") {
		errs = append(errs, errors.New("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY must be set together"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}
