package observability

import (
	"time"

	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics of the billing engine.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	storeTxDuration   prometheus.Histogram
	storeErrors       *prometheus.CounterVec
	externalErrors    *prometheus.CounterVec
	purchases         prometheus.Counter
	installments      prometheus.Counter
	payments          prometheus.Counter
	paymentCents      *prometheus.CounterVec
	billRecomputes    prometheus.Counter
	billTransitions   *prometheus.CounterVec
	idempotentReplays prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_request_duration_seconds",
				Help:    "Duration of billing operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		storeTxDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billing_store_tx_duration_seconds",
				Help:    "Duration of billing store transactions, lock waits included.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_store_errors_total",
				Help: "Failed store transactions by reason.",
			},
			[]string{"reason"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_external_errors_total",
				Help: "Total errors from collaborator services.",
			},
			[]string{"service"},
		),
		purchases: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_purchases_total",
				Help: "Purchases recorded on cards.",
			},
		),
		installments: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_installments_total",
				Help: "Line items created, one per installment.",
			},
		),
		payments: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_payments_total",
				Help: "Payments applied to cards.",
			},
		),
		paymentCents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_payment_cents_total",
				Help: "Payment money by outcome (allocated or unallocated).",
			},
			[]string{"outcome"},
		),
		billRecomputes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_bill_recomputes_total",
				Help: "Bill total recomputations.",
			},
		),
		billTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_bill_transitions_total",
				Help: "Bill status transitions.",
			},
			[]string{"from", "to"},
		),
		idempotentReplays: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_idempotent_replays_total",
				Help: "Payment requests answered from the idempotency cache.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordStoreTx records the duration of a store transaction.
func (m *Metrics) RecordStoreTx(d time.Duration) {
	m.storeTxDuration.Observe(d.Seconds())
}

// IncrStoreError counts a failed store transaction.
func (m *Metrics) IncrStoreError(reason string) {
	m.storeErrors.WithLabelValues(reason).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// RecordPurchase counts a purchase and the line items it produced.
func (m *Metrics) RecordPurchase(items int) {
	m.purchases.Inc()
	m.installments.Add(float64(items))
}

// RecordPayment counts a payment and how much of it found a bill.
func (m *Metrics) RecordPayment(allocatedCents, unallocatedCents int64) {
	m.payments.Inc()
	m.paymentCents.WithLabelValues("allocated").Add(float64(allocatedCents))
	m.paymentCents.WithLabelValues("unallocated").Add(float64(unallocatedCents))
}

// IncrBillRecompute counts a bill recomputation.
func (m *Metrics) IncrBillRecompute() {
	m.billRecomputes.Inc()
}

// RecordTransition counts a bill status change.
func (m *Metrics) RecordTransition(from, to domain.BillStatus) {
	m.billTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// IncrIdempotentReplay counts a replayed payment response.
func (m *Metrics) IncrIdempotentReplay() {
	m.idempotentReplays.Inc()
}

// GetBillingSnapshot returns the counters behind GET /v1/metrics/billing.
func (m *Metrics) GetBillingSnapshot() *domain.BillingMetrics {
	allocated := getCounterValue(m.paymentCents.WithLabelValues("allocated"))
	unallocated := getCounterValue(m.paymentCents.WithLabelValues("unallocated"))

	var storeErrors float64
	for _, reason := range []string{"timeout", "circuit_open", "error"} {
		storeErrors += getCounterValue(m.storeErrors.WithLabelValues(reason))
	}

	unallocatedRate := float64(0)
	if allocated+unallocated > 0 {
		unallocatedRate = unallocated / (allocated + unallocated)
	}

	return &domain.BillingMetrics{
		Purchases:          int64(getCounterValue(m.purchases)),
		InstallmentsIssued: int64(getCounterValue(m.installments)),
		Payments:           int64(getCounterValue(m.payments)),
		AllocatedCents:     int64(allocated),
		UnallocatedCents:   int64(unallocated),
		BillRecomputes:     int64(getCounterValue(m.billRecomputes)),
		StoreErrors:        int64(storeErrors),
		IdempotentReplays:  int64(getCounterValue(m.idempotentReplays)),
		UnallocatedRate:    unallocatedRate,
		Period:             "all_time",
	}
}

// getCounterValue extracts the current float64 value of a counter.
func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
