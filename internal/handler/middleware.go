package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/boddenberg/card-billing/internal/infra/observability"
	"github.com/boddenberg/card-billing/internal/port"
	"github.com/boddenberg/card-billing/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type contextKey string

const (
	ownerIDKey contextKey = "ownerID"
	accountKey contextKey = "account"
)

// JWTAuthMiddleware validates Bearer tokens and injects the owner id into context.
func JWTAuthMiddleware(verifier port.TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			ownerID, err := verifier.VerifyAccessToken(parts[1])
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerIDFromContext extracts the authenticated owner id from context.
func OwnerIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ownerIDKey).(string)
	return v
}

// cardAccessMiddleware loads {cardId} and rejects it unless it belongs to the
// authenticated owner and is a credit card.
func cardAccessMiddleware(svc *service.BillingService, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cardID := chi.URLParam(r, "cardId")
			acc, err := svc.AuthorizeAccount(r.Context(), OwnerIDFromContext(r.Context()), cardID)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			if !acc.IsCard() {
				handleServiceError(w, &domain.ErrAccountNotFound{AccountID: cardID}, logger)
				return
			}

			ctx := context.WithValue(r.Context(), accountKey, acc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accountFromContext(ctx context.Context) *domain.Account {
	acc, _ := ctx.Value(accountKey).(*domain.Account)
	return acc
}

// requestMetricsMiddleware records request durations by route pattern.
func requestMetricsMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.RecordRequestDuration(r.Method+" "+route, time.Since(start))
		})
	}
}
