package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/boddenberg/card-billing/internal/infra/observability"
	"github.com/boddenberg/card-billing/internal/infra/resilience"
	"github.com/boddenberg/card-billing/internal/port"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("postgres")

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config bounds how the store uses the database.
type Config struct {
	// TxTimeout caps every transaction, lock waits included.
	TxTimeout time.Duration
	// MaxConcurrency is the number of transactions allowed in flight.
	MaxConcurrency int
}

// Store implements port.BillingStore on PostgreSQL.
type Store struct {
	pool     *pgxpool.Pool
	cb       *gobreaker.CircuitBreaker
	bulkhead *resilience.Bulkhead
	cfg      Config
	metrics  *observability.Metrics
	logger   *zap.Logger
}

var _ port.BillingStore = (*Store)(nil)

// NewStore creates the store. Business errors raised inside transactions do
// not count against the circuit breaker.
func NewStore(pool *pgxpool.Pool, cfg Config, metrics *observability.Metrics, logger *zap.Logger) *Store {
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 5 * time.Second
	}
	return &Store{
		pool:     pool,
		cb:       resilience.NewCircuitBreaker("postgres", isInfraError),
		bulkhead: resilience.NewBulkhead(cfg.MaxConcurrency),
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// WithinTx runs fn in a READ COMMITTED transaction bounded by TxTimeout.
// Concurrent transactions are limited by the bulkhead; while the breaker is
// open, calls fail fast with domain.ErrCircuitOpen.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.BillingTx) error) error {
	ctx, span := tracer.Start(ctx, "Postgres.WithinTx")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
	defer cancel()

	start := time.Now()
	err := s.runTx(ctx, fn)
	s.metrics.RecordStoreTx(time.Since(start))

	if err != nil {
		err = s.classify(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx port.BillingTx) error) error {
	if err := s.bulkhead.Acquire(ctx); err != nil {
		return err
	}
	defer s.bulkhead.Release()

	_, err := resilience.Execute(s.cb, "postgres", func() (struct{}, error) {
		return struct{}{}, pgx.BeginFunc(ctx, s.pool, func(ptx pgx.Tx) error {
			return fn(ctx, &tx{q: ptx})
		})
	})
	return err
}

// classify turns context expiry into domain.ErrTimeout and counts failures.
func (s *Store) classify(ctx context.Context, err error) error {
	var open *domain.ErrCircuitOpen
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		s.metrics.IncrStoreError("timeout")
		s.logger.Warn("billing transaction timed out", zap.Duration("timeout", s.cfg.TxTimeout), zap.Error(err))
		return &domain.ErrTimeout{Operation: "billing transaction"}
	case errors.As(err, &open):
		s.metrics.IncrStoreError("circuit_open")
		return err
	case isInfraError(err):
		s.metrics.IncrStoreError("error")
		s.logger.Error("billing transaction failed", zap.Error(err))
	}
	return err
}

// isInfraError reports whether err comes from the database rather than from
// billing rules.
func isInfraError(err error) bool {
	var (
		accNF      *domain.ErrAccountNotFound
		billNF     *domain.ErrBillNotFound
		notFound   *domain.ErrNotFound
		validation *domain.ErrValidation
		conflict   *domain.ErrConflict
		expired    *domain.ErrCardExpired
		cycle      *domain.ErrInvalidCycleConfig
		count      *domain.ErrInsufficientInstallmentCount
		transition *domain.ErrInvalidTransition
		forbidden  *domain.ErrForbidden
	)
	switch {
	case errors.As(err, &accNF), errors.As(err, &billNF), errors.As(err, &notFound),
		errors.As(err, &validation), errors.As(err, &conflict), errors.As(err, &expired),
		errors.As(err, &cycle), errors.As(err, &count), errors.As(err, &transition),
		errors.As(err, &forbidden):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// ============================================================
// Committed reads
// ============================================================

func (s *Store) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	return getAccount(ctx, s.pool, accountID, false)
}

func (s *Store) ListBills(ctx context.Context, accountID string) ([]domain.Bill, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListBills")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	return queryBills(ctx, s.pool, `SELECT `+billColumns+` FROM bills WHERE account_id = $1 ORDER BY reference_month`, accountID)
}

func (s *Store) GetBillByMonth(ctx context.Context, accountID string, month time.Time) (*domain.Bill, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetBillByMonth")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", accountID),
		attribute.String("bill.month", month.Format(domain.MonthLayout)),
	)

	row := s.pool.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE account_id = $1 AND reference_month = $2`, accountID, month)
	b, err := scanBill(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "bill", ID: accountID + "/" + month.Format(domain.MonthLayout)}
	}
	if err != nil {
		return nil, fmt.Errorf("get bill by month: %w", err)
	}
	return b, nil
}

func (s *Store) ListBillItems(ctx context.Context, billID string) ([]domain.LineItem, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListBillItems")
	defer span.End()
	span.SetAttributes(attribute.String("bill.id", billID))

	return queryItems(ctx, s.pool, `SELECT `+itemColumns+` FROM line_items WHERE bill_id = $1 ORDER BY posted_at, created_at`, billID)
}

func (s *Store) ListAccountIDs(ctx context.Context, accountType domain.AccountType) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id::text FROM accounts WHERE account_type = $1 ORDER BY id`, string(accountType))
	if err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	return ids, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
