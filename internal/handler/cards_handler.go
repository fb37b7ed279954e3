package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/boddenberg/card-billing/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Cards & bills
// ============================================================

func cardOverviewHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cards/{cardId}")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		span.SetAttributes(attribute.String("card.id", cardID))

		overview, err := svc.GetAccountOverview(ctx, cardID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, overview)
	}
}

func listBillsHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cards/{cardId}/bills")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		span.SetAttributes(attribute.String("card.id", cardID))

		bills, err := svc.ListBills(ctx, cardID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if bills == nil {
			bills = []domain.Bill{}
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Bill]{Data: bills, Total: len(bills)})
	}
}

func billByMonthHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cards/{cardId}/bills/{month}")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		month := chi.URLParam(r, "month")
		span.SetAttributes(
			attribute.String("card.id", cardID),
			attribute.String("bill.month", month),
		)

		detail, err := svc.GetBillByMonth(ctx, cardID, month)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

func recomputeBillHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cards/{cardId}/bills/{billId}/recompute")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		billID := chi.URLParam(r, "billId")
		span.SetAttributes(
			attribute.String("card.id", cardID),
			attribute.String("bill.id", billID),
		)

		bill, err := svc.RecomputeBill(ctx, cardID, billID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, bill)
	}
}

type refreshRequest struct {
	AsOf time.Time `json:"as_of"`
}

type refreshResponse struct {
	AsOf    time.Time     `json:"as_of"`
	Changed []domain.Bill `json:"changed"`
}

func refreshStatusesHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cards/{cardId}/statuses/refresh")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		span.SetAttributes(attribute.String("card.id", cardID))

		var req refreshRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if req.AsOf.IsZero() {
			req.AsOf = time.Now().UTC()
		}

		changed, err := svc.RefreshStatuses(ctx, cardID, req.AsOf)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if changed == nil {
			changed = []domain.Bill{}
		}
		writeJSON(w, http.StatusOK, refreshResponse{AsOf: req.AsOf, Changed: changed})
	}
}

// ============================================================
// Purchases & items
// ============================================================

func createPurchaseHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cards/{cardId}/purchases")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		span.SetAttributes(attribute.String("card.id", cardID))
		if acc := accountFromContext(ctx); acc != nil {
			span.SetAttributes(attribute.Int("card.closing_day", acc.ClosingDay))
		}

		var req domain.PurchaseRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		req.AccountID = cardID

		result, err := svc.CreatePurchase(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

func deleteItemHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/cards/{cardId}/items/{itemId}")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		itemID := chi.URLParam(r, "itemId")
		span.SetAttributes(
			attribute.String("card.id", cardID),
			attribute.String("item.id", itemID),
		)

		result, err := svc.DeleteLineItem(ctx, cardID, itemID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func deleteChainHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/cards/{cardId}/items/{itemId}/chain")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		itemID := chi.URLParam(r, "itemId")
		span.SetAttributes(
			attribute.String("card.id", cardID),
			attribute.String("item.id", itemID),
		)

		result, err := svc.DeleteInstallmentChain(ctx, cardID, itemID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
