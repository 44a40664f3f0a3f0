// Package authmw implements the `auth_required`/`permission_denied` control
// surface named in §6/§7: a bearer-token gate in front of the HTTP adapter.
// Grounded on the teacher's internal/http/middleware/auth.go (token
// extraction from header or query, context attachment, abort-with-JSON
// shape) and its services/auth.go JWT issuing/parsing
// (golang-jwt/jwt/v5, HS256, RegisteredClaims, Subject-as-principal),
// simplified from a DB-backed session lookup to stateless claim
// verification: this engine has no user/session store, only a principal
// identity to gate the control surface.
package authmw

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/routilux/routilux-go/internal/apierr"
)

type principalKey struct{}

// Claims is the JWT payload this engine issues and verifies: just a
// principal subject plus the registered expiry/issued-at fields.
type Claims struct {
	jwt.RegisteredClaims
}

// Middleware gates every request behind a bearer token when enabled, or
// passes every request through untouched when Required is false (matching
// config.Config.AuthRequired).
type Middleware struct {
	Required  bool
	SecretKey string
}

func New(required bool, secretKey string) *Middleware {
	return &Middleware{Required: required, SecretKey: secretKey}
}

// IssueToken mints a short-lived access token for principal, used by tests
// and any adapter that wants to self-issue tokens rather than delegate to
// an external identity provider.
func (m *Middleware) IssueToken(principal string, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.SecretKey))
}

// RequireAuth extracts a bearer token from the Authorization header or a
// `token` query parameter, verifies it, and attaches the principal to the
// request context. A missing or invalid token aborts with
// permission_denied when Required is true.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Required {
			c.Next()
			return
		}
		tokenString := extractToken(c)
		if tokenString == "" {
			abort(c, fmt.Errorf("missing bearer token"))
			return
		}
		principal, err := m.Verify(tokenString)
		if err != nil {
			abort(c, err)
			return
		}
		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), principal))
		c.Next()
	}
}

// Verify parses and validates tokenString, returning the principal subject.
func (m *Middleware) Verify(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(m.SecretKey), nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid token")
	}
	return claims.Subject, nil
}

func extractToken(c *gin.Context) string {
	if q := c.Query("token"); q != "" {
		return q
	}
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	return ""
}

func abort(c *gin.Context, err error) {
	apiErr := apierr.Forbidden(apierr.CodePermissionDenied, err)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error": gin.H{"message": apiErr.Error(), "code": string(apiErr.Code)},
	})
}

// WithPrincipal attaches a verified principal to ctx.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// Principal returns the principal attached by RequireAuth, if any.
func Principal(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(principalKey{}).(string)
	return v, ok
}
