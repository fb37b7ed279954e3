// Package postgres is the relational billing store: pgx connection pool,
// embedded schema migrations and the transactional BillingTx implementation
// with row-level locks.
package postgres

import (
	"context"
	"fmt"

	"github.com/boddenberg/card-billing/internal/infra/resilience"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Connect opens a pool and pings it, retrying with backoff while the
// database comes up.
func Connect(ctx context.Context, dsn string, maxConns int32, retry resilience.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	var pool *pgxpool.Pool
	attempt := 0
	err = resilience.RetryWithBackoff(ctx, retry, func() error {
		attempt++
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			logger.Warn("database not reachable yet", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	logger.Info("postgres connected",
		zap.String("host", cfg.ConnConfig.Host),
		zap.String("database", cfg.ConnConfig.Database),
		zap.Int32("max_conns", cfg.MaxConns),
	)
	return pool, nil
}
