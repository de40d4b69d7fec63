// Package auth issues and validates the tenant-scoped JWTs that protect the
// engine's HTTP API.
package auth

import (
	"net/http"
	"strings"
	"time"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the engine's JWT payload. Every token is scoped to one tenant.
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// GenerateToken issues a signed tenant token valid for expiresIn.
func GenerateToken(tenantID, secret string, expiresIn time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(expiresIn)
	claims := Claims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// JWTMiddleware validates Bearer tokens on every route the skipper does not
// exempt.
func JWTMiddleware(secret string, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		Skipper:    skipper,
		SigningKey: []byte(secret),
		NewClaimsFunc: func(echo.Context) jwt.Claims {
			return new(Claims)
		},
	})
}

// TenantIDFromContext extracts the authenticated tenant from the request.
func TenantIDFromContext(c echo.Context) (string, error) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || strings.TrimSpace(claims.TenantID) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "token has no tenant")
	}
	return claims.TenantID, nil
}
