package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/boddenberg/card-billing/internal/infra/observability"
	"github.com/boddenberg/card-billing/internal/port"
	"github.com/boddenberg/card-billing/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware. With a
// nil svc or tokens only the operational endpoints are served. payments
// backs the Idempotency-Key support of the payment endpoints; nil disables it.
func NewRouter(
	svc *service.BillingService,
	tokens *service.TokenVerifier,
	payments port.Cache[*domain.AllocationResult],
	metrics *observability.Metrics,
	logger *zap.Logger,
	devTools bool,
) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc, logger))
	r.Get("/readyz", readyzHandler(svc, logger))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	if svc == nil || tokens == nil {
		return r
	}

	gate := newPaymentGate(payments, metrics)

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(requestMetricsMiddleware(metrics))

		r.Get("/metrics/billing", billingMetricsHandler(metrics))

		if devTools {
			logger.Warn("dev tools enabled: /v1/dev/* issues tokens without authentication")
			r.Post("/dev/token", devTokenHandler(tokens, logger))
			r.Post("/dev/sweep", devSweepHandler(svc, logger))
		}

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(tokens, logger))

			r.Route("/cards/{cardId}", func(r chi.Router) {
				r.Use(cardAccessMiddleware(svc, logger))

				// Card & bills
				r.Get("/", cardOverviewHandler(svc, logger))
				r.Get("/bills", listBillsHandler(svc, logger))
				r.Get("/bills/{month}", billByMonthHandler(svc, logger))
				r.Post("/bills/{billId}/recompute", recomputeBillHandler(svc, logger))
				r.Post("/statuses/refresh", refreshStatusesHandler(svc, logger))

				// Purchases & items
				r.Post("/purchases", createPurchaseHandler(svc, logger))
				r.Delete("/items/{itemId}", deleteItemHandler(svc, logger))
				r.Delete("/items/{itemId}/chain", deleteChainHandler(svc, logger))

				// Payments
				r.Post("/payments", applyPaymentHandler(svc, gate, logger))
				r.Post("/bills/{billId}/payments", payBillHandler(svc, gate, logger))
			})
		})
	})

	return r
}

// ============================================================
// Operational endpoints
// ============================================================

func healthzHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "card-billing", Status: "healthy", LastChecked: now},
		}

		if svc != nil {
			start := time.Now()
			err := svc.Ping(r.Context())
			h := domain.ServiceHealth{
				Name:        "store",
				Status:      "healthy",
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			}
			if err != nil {
				logger.Warn("health: store ping failed", zap.Error(err))
				h.Status = "unhealthy"
				h.Error = err.Error()
			}
			services = append(services, h)
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "degraded"
				break
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc != nil {
			if err := svc.Ping(r.Context()); err != nil {
				logger.Warn("readiness: store unavailable", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func billingMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetBillingSnapshot())
	}
}
