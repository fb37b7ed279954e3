package service

import (
	"context"
	"time"

	"github.com/boddenberg/card-billing/internal/billing"
	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/boddenberg/card-billing/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Payments
// ============================================================

// ApplyPayment spreads a card payment over the outstanding bills, oldest due
// date first. Whatever exceeds the outstanding total is reported back as
// unallocated.
func (s *BillingService) ApplyPayment(ctx context.Context, accountID string, amountCents int64, paidAt time.Time) (*domain.AllocationResult, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.ApplyPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", accountID),
		attribute.Int64("payment.amount_cents", amountCents),
	)

	if amountCents <= 0 {
		return nil, &domain.ErrValidation{Field: "amount_cents", Message: "must be positive"}
	}
	if paidAt.IsZero() {
		paidAt = s.now().UTC()
	}

	result := &domain.AllocationResult{
		AccountID:    accountID,
		PaymentCents: amountCents,
		PaidAt:       paidAt,
	}
	var (
		changed     []domain.Bill
		transitions [][2]domain.BillStatus
	)

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.BillingTx) error {
		acc, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if !acc.IsCard() {
			return &domain.ErrValidation{Field: "account_id", Message: "account is not a credit card"}
		}

		bills, err := tx.LockOutstandingBills(ctx, accountID)
		if err != nil {
			return err
		}
		before := make(map[string]domain.BillStatus, len(bills))
		for _, b := range bills {
			before[b.ID] = b.Status
		}

		allocs, remaining, err := billing.Allocate(bills, amountCents)
		if err != nil {
			return err
		}

		byID := make(map[string]domain.Bill, len(bills))
		for _, b := range bills {
			byID[b.ID] = b
		}
		changed, transitions = changed[:0], transitions[:0]
		for _, a := range allocs {
			b := byID[a.BillID]
			if err := tx.UpdateBillPayment(ctx, b.ID, b.PaidCents, b.Status); err != nil {
				return err
			}
			changed = append(changed, b)
			if before[b.ID] != b.Status {
				transitions = append(transitions, [2]domain.BillStatus{before[b.ID], b.Status})
			}
		}

		available, err := s.recomputeLimitTx(ctx, tx, acc)
		if err != nil {
			return err
		}

		result.Allocations = allocs
		if result.Allocations == nil {
			result.Allocations = []domain.Allocation{}
		}
		result.AllocatedCents = amountCents - remaining
		result.UnallocatedCents = remaining
		result.AvailableLimitCents = available
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordPayment(result, transitions)
	s.publishBills(ctx, accountID, changed, result.AvailableLimitCents)
	return result, nil
}

// PayBill applies a payment to one specific bill. The part above what the
// bill still owes is reported as unallocated. A paid bill rejects payments.
func (s *BillingService) PayBill(ctx context.Context, accountID, billID string, amountCents int64, paidAt time.Time) (*domain.AllocationResult, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.PayBill")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", accountID),
		attribute.String("bill.id", billID),
		attribute.Int64("payment.amount_cents", amountCents),
	)

	if amountCents <= 0 {
		return nil, &domain.ErrValidation{Field: "amount_cents", Message: "must be positive"}
	}
	if paidAt.IsZero() {
		paidAt = s.now().UTC()
	}

	result := &domain.AllocationResult{
		AccountID:    accountID,
		PaymentCents: amountCents,
		PaidAt:       paidAt,
	}
	var (
		bill        domain.Bill
		transitions [][2]domain.BillStatus
	)

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

		before := b.Status
		applied, err := billing.ApplyPayment(b, amountCents)
		if err != nil {
			return err
		}
		transitions = transitions[:0]
		result.Allocations = []domain.Allocation{}
		if applied > 0 {
			if err := tx.UpdateBillPayment(ctx, b.ID, b.PaidCents, b.Status); err != nil {
				return err
			}
			result.Allocations = append(result.Allocations, domain.Allocation{
				BillID:         b.ID,
				ReferenceMonth: b.Month(),
				AmountCents:    applied,
				Status:         b.Status,
			})
			if before != b.Status {
				transitions = append(transitions, [2]domain.BillStatus{before, b.Status})
			}
		}

		available, err := s.recomputeLimitTx(ctx, tx, acc)
		if err != nil {
			return err
		}

		bill = *b
		result.AllocatedCents = applied
		result.UnallocatedCents = amountCents - applied
		result.AvailableLimitCents = available
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordPayment(result, transitions)
	if result.AllocatedCents > 0 {
		s.publishBills(ctx, accountID, []domain.Bill{bill}, result.AvailableLimitCents)
	}
	return result, nil
}

func (s *BillingService) recordPayment(result *domain.AllocationResult, transitions [][2]domain.BillStatus) {
	s.metrics.RecordPayment(result.AllocatedCents, result.UnallocatedCents)
	for _, t := range transitions {
		s.metrics.RecordTransition(t[0], t[1])
	}

	fields := []zap.Field{
		zap.String("card_id", result.AccountID),
		zap.Int64("amount_cents", result.PaymentCents),
		zap.Int64("allocated_cents", result.AllocatedCents),
		zap.Int("bills", len(result.Allocations)),
		zap.Int64("available_limit_cents", result.AvailableLimitCents),
	}
	if result.UnallocatedCents > 0 {
		s.logger.Warn("payment exceeds outstanding bills",
			append(fields, zap.Int64("unallocated_cents", result.UnallocatedCents))...)
		return
	}
	s.logger.Info("payment applied", fields...)
}
