// Package app wires configuration into the billing service. It is shared by
// the API server and the status sweep command.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/boddenberg/card-billing/internal/billing"
	"github.com/boddenberg/card-billing/internal/config"
	"github.com/boddenberg/card-billing/internal/infra/events"
	"github.com/boddenberg/card-billing/internal/infra/memory"
	"github.com/boddenberg/card-billing/internal/infra/observability"
	"github.com/boddenberg/card-billing/internal/infra/postgres"
	"github.com/boddenberg/card-billing/internal/infra/resilience"
	"github.com/boddenberg/card-billing/internal/infra/supabase"
	"github.com/boddenberg/card-billing/internal/port"
	"github.com/boddenberg/card-billing/internal/service"

	"go.uber.org/zap"
)

// App is a fully wired billing service plus whatever must be closed on exit.
type App struct {
	Service *service.BillingService
	Store   port.BillingStore

	closers []func()
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// New builds the store and the optional collaborators from cfg. Without
// DATABASE_URL the service runs on an empty in-memory store.
func New(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (*App, error) {
	a := &App{}

	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Store ---
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns), resilienceCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			a.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		a.Store = postgres.NewStore(pool, postgres.Config{
			TxTimeout:      cfg.TxTimeout,
			MaxConcurrency: cfg.MaxConcurrency,
		}, metrics, logger)
		logger.Info("using postgres store", zap.Int("max_conns", cfg.DBMaxConns))
	} else {
		a.Store = memory.New()
		logger.Warn("DATABASE_URL not set, using in-memory store (data is lost on restart)")
	}

	opts := []service.Option{
		service.WithMinimumPolicy(billing.MinimumPolicy{
			Rate:       cfg.MinimumPaymentRate,
			FloorCents: cfg.MinimumPaymentFloorCents,
		}),
	}

	// --- Budget projections ---
	if cfg.SupabaseURL != "" {
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		cb := resilience.NewCircuitBreaker("supabase", nil)
		opts = append(opts, service.WithBudgetProjector(
			supabase.NewClient(httpClient, cfg.SupabaseURL, cfg.SupabaseServiceKey, cb, resilienceCfg, logger),
		))
		logger.Info("budget projections enabled", zap.String("supabase_url", cfg.SupabaseURL))
	} else {
		logger.Info("budget projections disabled: Supabase not configured")
	}

	// --- Bill events ---
	if cfg.AMQPURL != "" {
		pub, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to amqp: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("closing amqp publisher", zap.Error(err))
			}
		})
		opts = append(opts, service.WithEventPublisher(pub))
		logger.Info("bill events enabled", zap.String("exchange", cfg.AMQPExchange))
	} else {
		logger.Info("bill events disabled: AMQP_URL not set")
	}

	a.Service = service.NewBillingService(a.Store, metrics, logger, opts...)
	return a, nil
}
