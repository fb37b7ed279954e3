// Package supabase provides a client for the Supabase PostgREST API of the
// budget service. The billing engine only writes projected expenses there;
// budgets themselves are owned by that service.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/boddenberg/card-billing/internal/infra/resilience"
	"github.com/boddenberg/card-billing/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

var _ port.BudgetProjector = (*Client)(nil)

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// --- Budgets (implements port.BudgetProjector) ---

type budgetRow struct {
	ID string `json:"id"`
}

// HasBudget reports whether the owner has a budget for year/month.
func (c *Client) HasBudget(ctx context.Context, ownerID string, year, month int) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.HasBudget")
	defer span.End()
	span.SetAttributes(
		attribute.String("owner.id", ownerID),
		attribute.Int("budget.year", year),
		attribute.Int("budget.month", month),
	)

	q := url.Values{}
	q.Set("select", "id")
	q.Set("owner_id", "eq."+ownerID)
	q.Set("year", "eq."+strconv.Itoa(year))
	q.Set("month", "eq."+strconv.Itoa(month))
	q.Set("limit", "1")

	found, err := resilience.Execute(c.cb, "supabase", func() (bool, error) {
		var found bool
		err := c.retry(ctx, func() error {
			body, err := c.do(ctx, http.MethodGet, "budgets?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			if body == nil {
				found = false
				return nil
			}

			var rows []budgetRow
			if err := json.Unmarshal(body, &rows); err != nil {
				return permanent(fmt.Errorf("failed to decode budgets: %w", err))
			}
			found = len(rows) > 0
			return nil
		})
		return found, err
	})
	if err != nil {
		return false, &domain.ErrExternalService{Service: "supabase/budgets", Err: err}
	}
	return found, nil
}

// upsertProjectionParams are the arguments of the upsert_budget_projection
// function. It adds the amount to the projection keyed by
// (owner, category, year, month); source_item_id makes a replay a no-op.
type upsertProjectionParams struct {
	OwnerID      string `json:"p_owner_id"`
	CategoryID   string `json:"p_category_id"`
	Year         int    `json:"p_year"`
	Month        int    `json:"p_month"`
	AmountCents  int64  `json:"p_amount_cents"`
	SourceItemID string `json:"p_source_item_id"`
}

// UpsertProjection records a projected expense for a future budget month.
func (c *Client) UpsertProjection(ctx context.Context, p *domain.BudgetProjection) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertProjection")
	defer span.End()
	span.SetAttributes(
		attribute.String("owner.id", p.OwnerID),
		attribute.String("category.id", p.CategoryID),
		attribute.Int("budget.year", p.Year),
		attribute.Int("budget.month", p.Month),
	)

	params := upsertProjectionParams{
		OwnerID:      p.OwnerID,
		CategoryID:   p.CategoryID,
		Year:         p.Year,
		Month:        p.Month,
		AmountCents:  p.AmountCents,
		SourceItemID: p.SourceItemID,
	}

	_, err := resilience.Execute(c.cb, "supabase", func() (struct{}, error) {
		return struct{}{}, c.retry(ctx, func() error {
			_, err := c.do(ctx, http.MethodPost, "rpc/upsert_budget_projection", params)
			return err
		})
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/budget_projection", Err: err}
	}
	return nil
}
