package service

import (
	"context"
	"strings"
	"time"

	"github.com/boddenberg/card-billing/internal/billing"
	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/boddenberg/card-billing/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Purchases & installments
// ============================================================

// ResolveBill returns the bill a posting on postedAt belongs to, creating it
// when it does not exist yet. Concurrent callers for the same month get the
// same bill.
func (s *BillingService) ResolveBill(ctx context.Context, accountID string, postedAt time.Time) (*domain.Bill, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.ResolveBill")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	var bill *domain.Bill
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.BillingTx) error {
		acc, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if !acc.IsCard() {
			return &domain.ErrValidation{Field: "account_id", Message: "account is not a credit card"}
		}
		bill, _, err = s.resolveBillTx(ctx, tx, acc, postedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

func (s *BillingService) resolveBillTx(ctx context.Context, tx port.BillingTx, acc *domain.Account, postedAt time.Time) (*domain.Bill, bool, error) {
	period, err := billing.ResolvePeriod(postedAt, acc.ClosingDay, acc.DueDay)
	if err != nil {
		return nil, false, err
	}
	nb := billing.NewBill(acc.ID, period)
	bill, created, err := tx.EnsureBill(ctx, &nb)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.Info("bill opened",
			zap.String("card_id", acc.ID),
			zap.String("bill_id", bill.ID),
			zap.String("reference_month", bill.Month()),
		)
	}
	return bill, created, nil
}

// CreatePurchase records a purchase. InstallmentCount of 0 or 1 books a single
// item; 2 or more is delegated to SplitInstallments.
func (s *BillingService) CreatePurchase(ctx context.Context, req *domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	if req.InstallmentCount >= 2 {
		return s.SplitInstallments(ctx, req)
	}

	ctx, span := billingTracer.Start(ctx, "BillingService.CreatePurchase")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", req.AccountID),
		attribute.Int64("purchase.amount_cents", req.TotalAmountCents),
	)

	if err := s.normalizePurchase(req); err != nil {
		return nil, err
	}
	req.InstallmentCount = 1

	plan := []billing.Installment{{
		Number:      1,
		Total:       1,
		AmountCents: req.TotalAmountCents,
		PostedAt:    req.PostedAt,
	}}
	return s.bookPurchase(ctx, req, plan)
}

// SplitInstallments books a purchase as InstallmentCount monthly items. The
// first item carries the purchase and its remainder cent; the rest point at
// it as their parent. Fewer than two installments is rejected.
func (s *BillingService) SplitInstallments(ctx context.Context, req *domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.SplitInstallments")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", req.AccountID),
		attribute.Int64("purchase.amount_cents", req.TotalAmountCents),
		attribute.Int("purchase.installments", req.InstallmentCount),
	)

	if req.InstallmentCount < 2 {
		return nil, &domain.ErrInsufficientInstallmentCount{Count: req.InstallmentCount}
	}
	if err := s.normalizePurchase(req); err != nil {
		return nil, err
	}
	if req.Kind == domain.ItemCredit {
		return nil, &domain.ErrValidation{Field: "kind", Message: "credits cannot be split into installments"}
	}

	plan, err := billing.PlanInstallments(req.TotalAmountCents, req.InstallmentCount, req.PostedAt)
	if err != nil {
		return nil, err
	}
	return s.bookPurchase(ctx, req, plan)
}

func (s *BillingService) normalizePurchase(req *domain.PurchaseRequest) error {
	req.Description = strings.TrimSpace(req.Description)

	if req.AccountID == "" {
		return &domain.ErrValidation{Field: "account_id", Message: "required"}
	}
	if req.TotalAmountCents <= 0 {
		return &domain.ErrValidation{Field: "total_amount_cents", Message: "must be positive"}
	}
	if req.InstallmentCount < 0 {
		return &domain.ErrValidation{Field: "installment_count", Message: "must not be negative"}
	}
	if len(req.Description) > 255 {
		return &domain.ErrValidation{Field: "description", Message: "at most 255 characters"}
	}

	switch req.Kind {
	case "":
		req.Kind = domain.ItemCharge
	case domain.ItemCharge, domain.ItemCredit:
	default:
		return &domain.ErrValidation{Field: "kind", Message: "must be 'charge' or 'credit'"}
	}

	if req.PostedAt.IsZero() {
		req.PostedAt = s.now().UTC()
	}
	return nil
}

// bookPurchase persists the planned items in one transaction: every item is
// inserted and attached to its bill, each touched bill is recomputed, then
// the card limit. Any failure rolls all of it back.
func (s *BillingService) bookPurchase(ctx context.Context, req *domain.PurchaseRequest, plan []billing.Installment) (*domain.PurchaseResult, error) {
	result := &domain.PurchaseResult{}
	var owner string

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.BillingTx) error {
		acc, err := tx.LockAccount(ctx, req.AccountID)
		if err != nil {
			return err
		}
		owner = acc.OwnerID

		if acc.IsCard() {
			if err := billing.ValidateCycle(acc.ClosingDay, acc.DueDay); err != nil {
				return err
			}
			if acc.Expired(s.now()) {
				return &domain.ErrCardExpired{AccountID: acc.ID, ExpiredAt: *acc.ExpiresAt}
			}
		}

		items := make([]domain.LineItem, 0, len(plan))
		touched := make(map[string]domain.Bill)
		var parentID *string

		for _, inst := range plan {
			item := domain.LineItem{
				AccountID:           acc.ID,
				CategoryID:          req.CategoryID,
				Description:         req.Description,
				AmountCents:         inst.AmountCents,
				Kind:                req.Kind,
				PostedAt:            inst.PostedAt,
				InstallmentNumber:   inst.Number,
				InstallmentTotal:    inst.Total,
				InstallmentParentID: parentID,
			}

			if acc.IsCard() {
				bill, _, err := s.resolveBillTx(ctx, tx, acc, inst.PostedAt)
				if err != nil {
					return err
				}
				billID := bill.ID
				item.BillID = &billID
				touched[bill.ID] = *bill
			}

			if err := tx.InsertLineItem(ctx, &item); err != nil {
				return err
			}
			if parentID == nil && len(plan) > 1 {
				id := item.ID
				parentID = &id
			}
			items = append(items, item)
		}

		bills, err := s.recomputeBillsTx(ctx, tx, touched)
		if err != nil {
			return err
		}
		available, err := s.recomputeLimitTx(ctx, tx, acc)
		if err != nil {
			return err
		}

		result.ParentItemID = items[0].ID
		result.Items = items
		result.Bills = bills
		result.AvailableLimitCents = available
		return nil
	})
	if err != nil {
		s.logger.Warn("purchase rejected",
			zap.String("card_id", req.AccountID),
			zap.Int64("amount_cents", req.TotalAmountCents),
			zap.Int("installments", len(plan)),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordPurchase(len(result.Items))
	s.logger.Info("purchase booked",
		zap.String("card_id", req.AccountID),
		zap.String("item_id", result.ParentItemID),
		zap.Int64("amount_cents", req.TotalAmountCents),
		zap.Int("installments", len(result.Items)),
		zap.Int64("available_limit_cents", result.AvailableLimitCents),
	)

	s.projectInstallments(ctx, owner, result.Items)
	s.publishBills(ctx, req.AccountID, result.Bills, result.AvailableLimitCents)
	return result, nil
}
