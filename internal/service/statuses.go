package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/boddenberg/card-billing/internal/billing"
	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/boddenberg/card-billing/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ============================================================
// Recompute
// ============================================================

// RecomputeBill rebuilds a bill from its items and refreshes the card limit.
func (s *BillingService) RecomputeBill(ctx context.Context, accountID, billID string) (*domain.Bill, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.RecomputeBill")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", accountID),
		attribute.String("bill.id", billID),
	)

	var bill *domain.Bill
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.BillingTx) error {
		acc, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		b, err := tx.LockBill(ctx, billID)
		if err != nil {
			return err
		}
		if b.AccountID != accountID {
			return &domain.ErrBillNotFound{BillID: billID, AccountID: accountID}
		}
		if bill, err = s.recomputeBillTx(ctx, tx, billID); err != nil {
			return err
		}
		_, err = s.recomputeLimitTx(ctx, tx, acc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

// RecomputeCardLimit derives the available limit from the card's bills and
// stores it.
func (s *BillingService) RecomputeCardLimit(ctx context.Context, accountID string) (int64, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.RecomputeCardLimit")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	var available int64
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.BillingTx) error {
		acc, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if !acc.IsCard() {
			return &domain.ErrValidation{Field: "account_id", Message: "account is not a credit card"}
		}
		available, err = s.recomputeLimitTx(ctx, tx, acc)
		return err
	})
	return available, err
}

// ============================================================
// Lifecycle sweep
// ============================================================

// RefreshStatuses closes bills whose closing date passed and marks unpaid
// bills overdue once their due date passed, as of asOf. It returns the bills
// whose status changed.
func (s *BillingService) RefreshStatuses(ctx context.Context, accountID string, asOf time.Time) ([]domain.Bill, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.RefreshStatuses")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	var (
		changed     []domain.Bill
		transitions [][2]domain.BillStatus
		available   int64
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.BillingTx) error {
		acc, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		available = acc.AvailableLimitCents

		bills, err := tx.LockOutstandingBills(ctx, accountID)
		if err != nil {
			return err
		}
		changed, transitions = changed[:0], transitions[:0]
		for i := range bills {
			b := &bills[i]
			before := b.Status
			if !billing.Refresh(b, asOf) {
				continue
			}
			if err := tx.UpdateBillStatus(ctx, b.ID, b.Status); err != nil {
				return err
			}
			changed = append(changed, *b)
			transitions = append(transitions, [2]domain.BillStatus{before, b.Status})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, t := range transitions {
		s.metrics.RecordTransition(t[0], t[1])
		if t[1] == domain.BillOverdue {
			s.logger.Warn("bill overdue",
				zap.String("card_id", accountID),
				zap.String("bill_id", changed[i].ID),
				zap.Int64("unpaid_cents", changed[i].UnpaidCents()),
			)
		}
	}
	s.publishBills(ctx, accountID, changed, available)
	return changed, nil
}

// SweepResult summarizes one RefreshAllStatuses run.
type SweepResult struct {
	Accounts     int `json:"accounts"`
	BillsChanged int `json:"bills_changed"`
	Failed       int `json:"failed"`
}

// RefreshAllStatuses runs RefreshStatuses for every card with at most
// concurrency accounts in flight. A failing account is logged and counted;
// the sweep goes on with the others.
func (s *BillingService) RefreshAllStatuses(ctx context.Context, asOf time.Time, concurrency int) (*SweepResult, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.RefreshAllStatuses")
	defer span.End()

	ids, err := s.store.ListAccountIDs(ctx, domain.AccountCreditCard)
	if err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	var changed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		g.Go(func() error {
			bills, err := s.RefreshStatuses(gctx, id, asOf)
			if err != nil {
				failed.Add(1)
				s.logger.Error("status refresh failed", zap.String("card_id", id), zap.Error(err))
				return nil
			}
			changed.Add(int64(len(bills)))
			return nil
		})
	}
	_ = g.Wait()

	res := &SweepResult{
		Accounts:     len(ids),
		BillsChanged: int(changed.Load()),
		Failed:       int(failed.Load()),
	}
	span.SetAttributes(
		attribute.Int("sweep.accounts", res.Accounts),
		attribute.Int("sweep.bills_changed", res.BillsChanged),
		attribute.Int("sweep.failed", res.Failed),
	)
	s.logger.Info("status sweep finished",
		zap.Int("accounts", res.Accounts),
		zap.Int("bills_changed", res.BillsChanged),
		zap.Int("failed", res.Failed),
		zap.Time("as_of", asOf),
	)
	return res, ctx.Err()
}
