package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/card-billing/internal/app"
	"github.com/boddenberg/card-billing/internal/config"
	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/boddenberg/card-billing/internal/handler"
	"github.com/boddenberg/card-billing/internal/infra/cache"
	"github.com/boddenberg/card-billing/internal/infra/observability"
	"github.com/boddenberg/card-billing/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.Duration("tx_timeout", cfg.TxTimeout),
		zap.Duration("idempotency_ttl", cfg.IdempotencyTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Int64("minimum_payment_floor_cents", cfg.MinimumPaymentFloorCents),
		zap.String("minimum_payment_rate", cfg.MinimumPaymentRate.String()),
		zap.Bool("dev_tools", cfg.DevTools),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "card-billing")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Services ---
	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Minute)
	billingApp, err := app.New(startCtx, cfg, metrics, logger)
	cancelStart()
	if err != nil {
		logger.Fatal("failed to start billing service", zap.Error(err))
	}
	defer billingApp.Close()

	tokens := service.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	// --- Cache ---
	payments := cache.New[*domain.AllocationResult](cfg.IdempotencyTTL)
	defer payments.Close()

	// --- Router ---
	router := handler.NewRouter(billingApp.Service, tokens, payments, metrics, logger, cfg.DevTools)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
