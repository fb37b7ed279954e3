package service

import (
	"context"

	"github.com/boddenberg/card-billing/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// After-commit side effects
// ============================================================

// projectInstallments writes the future installments of a purchase to the
// budget service, for months the owner already budgeted. Failures are logged
// and counted; the purchase stays committed.
func (s *BillingService) projectInstallments(ctx context.Context, ownerID string, items []domain.LineItem) {
	if s.projector == nil || len(items) < 2 {
		return
	}

	for _, item := range items[1:] {
		if item.CategoryID == "" || item.Kind != domain.ItemCharge {
			continue
		}
		year, month := item.PostedAt.Year(), int(item.PostedAt.Month())

		ok, err := s.projector.HasBudget(ctx, ownerID, year, month)
		if err != nil {
			s.metrics.IncrExternalError("supabase")
			s.logger.Warn("budget lookup failed",
				zap.String("item_id", item.ID),
				zap.Int("year", year),
				zap.Int("month", month),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			continue
		}

		err = s.projector.UpsertProjection(ctx, &domain.BudgetProjection{
			OwnerID:      ownerID,
			CategoryID:   item.CategoryID,
			Year:         year,
			Month:        month,
			AmountCents:  item.AmountCents,
			SourceItemID: item.ID,
		})
		if err != nil {
			s.metrics.IncrExternalError("supabase")
			s.logger.Warn("budget projection failed",
				zap.String("item_id", item.ID),
				zap.Int("year", year),
				zap.Int("month", month),
				zap.Error(err),
			)
		}
	}
}

// publishBills emits one bill.updated event per changed bill.
func (s *BillingService) publishBills(ctx context.Context, accountID string, bills []domain.Bill, availableCents int64) {
	if s.events == nil {
		return
	}
	now := s.now().UTC()
	for _, b := range bills {
		err := s.events.PublishBillUpdated(ctx, &domain.BillEvent{
			Type:                domain.BillEventUpdated,
			AccountID:           accountID,
			BillID:              b.ID,
			ReferenceMonth:      b.Month(),
			TotalCents:          b.TotalCents,
			PaidCents:           b.PaidCents,
			Status:              b.Status,
			AvailableLimitCents: availableCents,
			OccurredAt:          now,
		})
		if err != nil {
			s.metrics.IncrExternalError("amqp")
			s.logger.Warn("bill event not published",
				zap.String("card_id", accountID),
				zap.String("bill_id", b.ID),
				zap.Error(err),
			)
		}
	}
}
