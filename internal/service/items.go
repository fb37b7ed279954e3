package service

import (
	"context"
	"fmt"

	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/boddenberg/card-billing/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Line item removal
// ============================================================

// DeleteLineItem removes one item and recomputes its bill and the card limit.
// The first item of an installment chain that still has installments cannot
// be removed on its own; use DeleteInstallmentChain.
func (s *BillingService) DeleteLineItem(ctx context.Context, accountID, itemID string) (*domain.DeletionResult, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.DeleteLineItem")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", accountID),
		attribute.String("item.id", itemID),
	)

	return s.deleteItems(ctx, accountID, itemID, func(ctx context.Context, tx port.BillingTx, item *domain.LineItem) ([]domain.LineItem, error) {
		if item.InstallmentParentID == nil && item.InstallmentTotal > 1 {
			chain, err := tx.ListChain(ctx, item.ID)
			if err != nil {
				return nil, err
			}
			if len(chain) > 1 {
				return nil, &domain.ErrConflict{
					Message: fmt.Sprintf("line item %s starts an installment chain; delete the whole chain", item.ID),
				}
			}
		}
		return []domain.LineItem{*item}, nil
	})
}

// DeleteInstallmentChain removes every installment of the purchase itemID
// belongs to, whichever installment itemID is.
func (s *BillingService) DeleteInstallmentChain(ctx context.Context, accountID, itemID string) (*domain.DeletionResult, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.DeleteInstallmentChain")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", accountID),
		attribute.String("item.id", itemID),
	)

	return s.deleteItems(ctx, accountID, itemID, func(ctx context.Context, tx port.BillingTx, item *domain.LineItem) ([]domain.LineItem, error) {
		return tx.ListChain(ctx, item.ChainID())
	})
}

type selectItems func(ctx context.Context, tx port.BillingTx, item *domain.LineItem) ([]domain.LineItem, error)

func (s *BillingService) deleteItems(ctx context.Context, accountID, itemID string, sel selectItems) (*domain.DeletionResult, error) {
	result := &domain.DeletionResult{}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.BillingTx) error {
		acc, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		item, err := tx.GetLineItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item.AccountID != accountID {
			return &domain.ErrNotFound{Resource: "line_item", ID: itemID}
		}

		items, err := sel(ctx, tx, item)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(items))
		touched := make(map[string]domain.Bill)
		for _, it := range items {
			ids = append(ids, it.ID)
			if it.BillID == nil {
				continue
			}
			if _, ok := touched[*it.BillID]; ok {
				continue
			}
			b, err := tx.LockBill(ctx, *it.BillID)
			if err != nil {
				return err
			}
			touched[b.ID] = *b
		}

		if err := tx.DeleteLineItems(ctx, ids); err != nil {
			return err
		}

		bills, err := s.recomputeBillsTx(ctx, tx, touched)
		if err != nil {
			return err
		}
		available, err := s.recomputeLimitTx(ctx, tx, acc)
		if err != nil {
			return err
		}

		result.DeletedItemIDs = ids
		result.Bills = bills
		result.AvailableLimitCents = available
		for _, b := range bills {
			if excess := touched[b.ID].PaidCents - b.PaidCents; excess > 0 {
				result.OverpaidCents += excess
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("line items deleted",
		zap.String("card_id", accountID),
		zap.String("item_id", itemID),
		zap.Int("deleted", len(result.DeletedItemIDs)),
		zap.Int64("available_limit_cents", result.AvailableLimitCents),
		zap.Int64("overpaid_cents", result.OverpaidCents),
	)
	s.publishBills(ctx, accountID, result.Bills, result.AvailableLimitCents)
	return result, nil
}
