package service

import (
	"fmt"
	"time"

	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/boddenberg/card-billing/internal/port"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================
// Access tokens (used by middleware)
// ============================================================

// JWTClaims represents the claims of access tokens issued by the auth
// service. Sub is the owner id.
type JWTClaims struct {
	Sub  string `json:"sub"`
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 access tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
}

var _ port.TokenVerifier = (*TokenVerifier)(nil)

// NewTokenVerifier creates a verifier. An empty issuer accepts any issuer.
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// VerifyAccessToken returns the owner id of a valid access token.
func (v *TokenVerifier) VerifyAccessToken(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return "", &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Type != "access" {
		return "", &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	if claims.Sub == "" {
		return "", &domain.ErrUnauthorized{Message: "token has no subject"}
	}
	return claims.Sub, nil
}

// SignAccessToken issues an access token for ownerID. Production tokens come
// from the auth service; this is used by the dev token command and tests.
func (v *TokenVerifier) SignAccessToken(ownerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Sub:  ownerID,
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    v.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
