// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/boddenberg/card-billing/internal/domain"
)

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// BudgetProjector writes expected future expenses to the budget service.
// Calls happen after the billing transaction committed; failures are logged,
// never rolled back.
type BudgetProjector interface {
	HasBudget(ctx context.Context, ownerID string, year, month int) (bool, error)
	UpsertProjection(ctx context.Context, p *domain.BudgetProjection) error
}

// EventPublisher fans bill changes out to downstream consumers.
type EventPublisher interface {
	PublishBillUpdated(ctx context.Context, ev *domain.BillEvent) error
}

// TokenVerifier validates bearer tokens issued by the auth service and
// returns the owner id they carry.
type TokenVerifier interface {
	VerifyAccessToken(token string) (ownerID string, err error)
}
