// Package service provides the business logic layer (use cases).
// BillingService runs the card billing engine: purchases and installments,
// bill recomputation, payments, and the bill lifecycle sweep.
package service

import (
	"context"
	"sort"
	"time"

	"github.com/boddenberg/card-billing/internal/billing"
	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/boddenberg/card-billing/internal/infra/observability"
	"github.com/boddenberg/card-billing/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var billingTracer = otel.Tracer("service/billing")

// BillingService orchestrates every billing operation through the store's
// transactions. Side effects outside the database (budget projections, bill
// events) run after commit and never fail the operation.
type BillingService struct {
	store     port.BillingStore
	metrics   *observability.Metrics
	logger    *zap.Logger
	projector port.BudgetProjector
	events    port.EventPublisher
	policy    billing.MinimumPolicy
	now       func() time.Time
}

// Option configures optional collaborators of the service.
type Option func(*BillingService)

// WithBudgetProjector enables budget projections for future installments.
func WithBudgetProjector(p port.BudgetProjector) Option {
	return func(s *BillingService) { s.projector = p }
}

// WithEventPublisher enables bill.updated events.
func WithEventPublisher(p port.EventPublisher) Option {
	return func(s *BillingService) { s.events = p }
}

// WithMinimumPolicy overrides the minimum payment rule.
func WithMinimumPolicy(p billing.MinimumPolicy) Option {
	return func(s *BillingService) { s.policy = p }
}

// WithClock replaces time.Now, used for card expiry and default dates.
func WithClock(now func() time.Time) Option {
	return func(s *BillingService) { s.now = now }
}

// NewBillingService creates a new billing service.
func NewBillingService(store port.BillingStore, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *BillingService {
	s := &BillingService{
		store:   store,
		metrics: metrics,
		logger:  logger,
		policy:  billing.DefaultMinimumPolicy(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks the store, used by the readiness probe.
func (s *BillingService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ============================================================
// Accounts
// ============================================================

// AuthorizeAccount loads the account and checks it belongs to ownerID. A
// foreign account is reported as not found.
func (s *BillingService) AuthorizeAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.AuthorizeAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.OwnerID != ownerID {
		s.logger.Warn("account access denied",
			zap.String("account_id", accountID),
			zap.String("owner_id", ownerID),
		)
		return nil, &domain.ErrAccountNotFound{AccountID: accountID}
	}
	return acc, nil
}

// GetAccountOverview returns the card with its outstanding amount and the
// bills that still accept payments.
func (s *BillingService) GetAccountOverview(ctx context.Context, accountID string) (*domain.AccountOverview, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.GetAccountOverview")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	var (
		acc   *domain.Account
		bills []domain.Bill
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		acc, err = s.store.GetAccount(gctx, accountID)
		return err
	})
	g.Go(func() error {
		var err error
		bills, err = s.store.ListBills(gctx, accountID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	open := make([]domain.Bill, 0, len(bills))
	for _, b := range bills {
		if billing.AcceptsPayment(b.Status) {
			open = append(open, b)
		}
	}
	billing.SortForPayment(open)

	return &domain.AccountOverview{
		Account:          acc,
		OutstandingCents: billing.OutstandingCents(bills),
		OpenBills:        open,
	}, nil
}

// ============================================================
// Bills (reads)
// ============================================================

// ListBills returns every bill of the account, newest reference month first.
func (s *BillingService) ListBills(ctx context.Context, accountID string) ([]domain.Bill, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.ListBills")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	bills, err := s.store.ListBills(ctx, accountID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(bills, func(i, j int) bool {
		return bills[i].ReferenceMonth.After(bills[j].ReferenceMonth)
	})
	return bills, nil
}

// GetBillByMonth returns the bill for month ("2006-01") with its items.
func (s *BillingService) GetBillByMonth(ctx context.Context, accountID, month string) (*domain.BillDetail, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.GetBillByMonth")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", accountID),
		attribute.String("bill.month", month),
	)

	ref, err := billing.ParseMonth(month)
	if err != nil {
		return nil, err
	}

	bill, err := s.store.GetBillByMonth(ctx, accountID, ref)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListBillItems(ctx, bill.ID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.LineItem{}
	}
	return &domain.BillDetail{Bill: *bill, Items: items}, nil
}

// ============================================================
// Transaction helpers
// ============================================================

// recomputeBillTx rebuilds a bill's total and minimum payment from its items
// and reconciles the status with the new total. Running it twice changes
// nothing the second time.
func (s *BillingService) recomputeBillTx(ctx context.Context, tx port.BillingTx, billID string) (*domain.Bill, error) {
	bill, err := tx.LockBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	items, err := tx.ListBillItems(ctx, billID)
	if err != nil {
		return nil, err
	}

	total := billing.BillTotal(items)
	minimum := s.policy.MinimumPayment(total)
	if total != bill.TotalCents || minimum != bill.MinimumPaymentCents {
		if err := tx.UpdateBillTotals(ctx, billID, total, minimum); err != nil {
			return nil, err
		}
		bill.TotalCents, bill.MinimumPaymentCents = total, minimum
	}

	before := bill.Status
	changed := billing.Reconcile(bill, s.now())

	// removed items can leave more paid than owed; the excess is reported,
	// never kept on the bill
	if bill.PaidCents > bill.TotalCents {
		s.logger.Warn("bill overpaid after recompute",
			zap.String("card_id", bill.AccountID),
			zap.String("bill_id", bill.ID),
			zap.Int64("overpaid_cents", bill.PaidCents-bill.TotalCents),
		)
		bill.PaidCents = bill.TotalCents
		if err := tx.UpdateBillPayment(ctx, billID, bill.PaidCents, bill.Status); err != nil {
			return nil, err
		}
	} else if changed {
		if err := tx.UpdateBillStatus(ctx, billID, bill.Status); err != nil {
			return nil, err
		}
	}
	if changed {
		s.metrics.RecordTransition(before, bill.Status)
	}

	s.metrics.IncrBillRecompute()
	return bill, nil
}

// recomputeLimitTx stores the card's available limit derived from its bills.
// The account must already be locked by the caller.
func (s *BillingService) recomputeLimitTx(ctx context.Context, tx port.BillingTx, acc *domain.Account) (int64, error) {
	if !acc.IsCard() {
		return acc.AvailableLimitCents, nil
	}
	bills, err := tx.ListBills(ctx, acc.ID)
	if err != nil {
		return 0, err
	}
	available := billing.AvailableLimit(acc.CreditLimitCents, bills)
	if available != acc.AvailableLimitCents {
		if err := tx.UpdateAvailableLimit(ctx, acc.ID, available); err != nil {
			return 0, err
		}
		acc.AvailableLimitCents = available
	}
	return available, nil
}

// recomputeBillsTx recomputes each touched bill once, in reference month
// order so bill locks are always taken in the same order.
func (s *BillingService) recomputeBillsTx(ctx context.Context, tx port.BillingTx, touched map[string]domain.Bill) ([]domain.Bill, error) {
	bills := make([]domain.Bill, 0, len(touched))
	for _, b := range touched {
		bills = append(bills, b)
	}
	sort.Slice(bills, func(i, j int) bool {
		return bills[i].ReferenceMonth.Before(bills[j].ReferenceMonth)
	})

	out := make([]domain.Bill, 0, len(bills))
	for _, b := range bills {
		updated, err := s.recomputeBillTx(ctx, tx, b.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *updated)
	}
	return out, nil
}
