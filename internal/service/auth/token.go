// Package auth resolves who is behind a bearer token. It does not enforce
// access; a failed verification only means the token is not used for
// personalization.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cheongchun/ai-core/internal/config"
	"github.com/cheongchun/ai-core/internal/service/backend"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier checks a token and returns the user it belongs to.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// ClaimsSource verifies tokens remotely.
type ClaimsSource interface {
	VerifyToken(ctx context.Context, token string) (backend.Claims, error)
}

// NewVerifier picks local HS256 verification when a secret is configured and
// falls back to the backend otherwise. It returns nil when neither is possible.
func NewVerifier(cfg config.AuthConfig, source ClaimsSource) TokenVerifier {
	if cfg.JWTSecret != "" {
		return NewJWTVerifier([]byte(cfg.JWTSecret))
	}
	if source != nil {
		return &BackendVerifier{source: source}
	}
	return nil
}

// JWTVerifier validates HS256 tokens signed with the backend's shared secret.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for the given secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the subject claim.
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return sub, nil
}

// BackendVerifier delegates verification to the backend's /auth/verify.
type BackendVerifier struct {
	source ClaimsSource
}

// Verify asks the backend about the token and reads the user id from the
// first of userId, id or sub that is present.
func (v *BackendVerifier) Verify(ctx context.Context, token string) (string, error) {
	claims, err := v.source.VerifyToken(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	for _, key := range []string{"userId", "id", "sub"} {
		if id := claimString(claims[key]); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: userId", ErrMissingClaim)
}

func claimString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	default:
		return ""
	}
}
