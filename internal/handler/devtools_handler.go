package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/boddenberg/card-billing/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Dev Tools Handlers (DEV_TOOLS_ENABLED only)
// ============================================================

type devTokenRequest struct {
	OwnerID    string `json:"owner_id"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type devTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// devTokenHandler issues an access token for any owner so the API can be
// exercised without the auth service.
func devTokenHandler(tokens *service.TokenVerifier, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/dev/token")
		defer span.End()

		var req devTokenRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if req.OwnerID == "" {
			handleServiceError(w, &domain.ErrValidation{Field: "owner_id", Message: "required"}, logger)
			return
		}
		if req.TTLSeconds <= 0 {
			req.TTLSeconds = 3600
		}

		token, err := tokens.SignAccessToken(req.OwnerID, time.Duration(req.TTLSeconds)*time.Second)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		logger.Warn("DEV: access token issued", zap.String("owner_id", req.OwnerID))
		writeJSON(w, http.StatusOK, devTokenResponse{AccessToken: token, ExpiresIn: req.TTLSeconds})
	}
}

type devSweepRequest struct {
	AsOf        time.Time `json:"as_of"`
	Concurrency int       `json:"concurrency,omitempty"`
}

// devSweepHandler runs the status sweep for every card as of a chosen date,
// which lets a tester move bills through their lifecycle.
func devSweepHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/dev/sweep")
		defer span.End()

		var req devSweepRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if req.AsOf.IsZero() {
			req.AsOf = time.Now().UTC()
		}
		if req.Concurrency <= 0 {
			req.Concurrency = 4
		}

		res, err := svc.RefreshAllStatuses(ctx, req.AsOf, req.Concurrency)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
