package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
	Error       string `json:"error,omitempty"`
}

// BillingMetrics is returned by GET /v1/metrics/billing.
type BillingMetrics struct {
	Purchases          int64   `json:"purchases"`
	InstallmentsIssued int64   `json:"installmentsIssued"`
	Payments           int64   `json:"payments"`
	AllocatedCents     int64   `json:"allocatedCents"`
	UnallocatedCents   int64   `json:"unallocatedCents"`
	BillRecomputes     int64   `json:"billRecomputes"`
	StoreErrors        int64   `json:"storeErrors"`
	IdempotentReplays  int64   `json:"idempotentReplays"`
	UnallocatedRate    float64 `json:"unallocatedRate"`
	Period             string  `json:"period"`
}

// ============================================================
// Generic API Response wrappers
// ============================================================

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}
