package handler

import (
	"net/http"
	"strings"

	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/boddenberg/card-billing/internal/infra/observability"
	"github.com/boddenberg/card-billing/internal/port"
	"github.com/boddenberg/card-billing/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ============================================================
// Payments
// ============================================================

const (
	idempotencyKeyHeader    = "Idempotency-Key"
	idempotentReplayHeader  = "Idempotent-Replayed"
	maxIdempotencyKeyLength = 128
)

// paymentGate makes payment requests carrying an Idempotency-Key run once.
// Concurrent duplicates wait for the first request; later ones are served
// from the cache until it expires. Failed payments are not remembered, so a
// retry runs again.
type paymentGate struct {
	cache   port.Cache[*domain.AllocationResult]
	group   singleflight.Group
	metrics *observability.Metrics
}

func newPaymentGate(cache port.Cache[*domain.AllocationResult], metrics *observability.Metrics) *paymentGate {
	return &paymentGate{cache: cache, metrics: metrics}
}

// do runs pay under key. replayed reports that the result came from an
// earlier request. Reusing a key for a different amount is a duplicate error.
func (g *paymentGate) do(key string, amountCents int64, pay func() (*domain.AllocationResult, error)) (res *domain.AllocationResult, replayed bool, err error) {
	if key == "" || g.cache == nil {
		res, err = pay()
		return res, false, err
	}

	if cached, ok := g.cache.Get(key); ok {
		res, replayed = cached, true
	} else {
		ran := false
		v, err, _ := g.group.Do(key, func() (any, error) {
			if cached, ok := g.cache.Get(key); ok {
				return cached, nil
			}
			ran = true
			res, err := pay()
			if err != nil {
				return nil, err
			}
			g.cache.Set(key, res)
			return res, nil
		})
		if err != nil {
			return nil, false, err
		}
		res, replayed = v.(*domain.AllocationResult), !ran
	}

	if res.PaymentCents != amountCents {
		return nil, false, &domain.ErrDuplicate{Key: "idempotency key reused with a different amount"}
	}
	if replayed {
		g.metrics.IncrIdempotentReplay()
	}
	return res, replayed, nil
}

// idempotencyKey scopes the client key to the owner, card and target.
func idempotencyKey(r *http.Request, scope ...string) (string, error) {
	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key == "" {
		return "", nil
	}
	if len(key) > maxIdempotencyKeyLength {
		return "", &domain.ErrValidation{Field: idempotencyKeyHeader, Message: "at most 128 characters"}
	}
	parts := append([]string{OwnerIDFromContext(r.Context())}, scope...)
	return strings.Join(append(parts, key), "|"), nil
}

func writePayment(w http.ResponseWriter, res *domain.AllocationResult, replayed bool) {
	if replayed {
		w.Header().Set(idempotentReplayHeader, "true")
	}
	writeJSON(w, http.StatusOK, res)
}

func applyPaymentHandler(svc *service.BillingService, gate *paymentGate, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cards/{cardId}/payments")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		span.SetAttributes(attribute.String("card.id", cardID))

		var req domain.PaymentRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		key, err := idempotencyKey(r, cardID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		res, replayed, err := gate.do(key, req.AmountCents, func() (*domain.AllocationResult, error) {
			return svc.ApplyPayment(ctx, cardID, req.AmountCents, req.PaidAt)
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Bool("payment.replayed", replayed))
		writePayment(w, res, replayed)
	}
}

func payBillHandler(svc *service.BillingService, gate *paymentGate, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cards/{cardId}/bills/{billId}/payments")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		billID := chi.URLParam(r, "billId")
		span.SetAttributes(
			attribute.String("card.id", cardID),
			attribute.String("bill.id", billID),
		)

		var req domain.PaymentRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		key, err := idempotencyKey(r, cardID, billID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		res, replayed, err := gate.do(key, req.AmountCents, func() (*domain.AllocationResult, error) {
			return svc.PayBill(ctx, cardID, billID, req.AmountCents, req.PaidAt)
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Bool("payment.replayed", replayed))
		writePayment(w, res, replayed)
	}
}
