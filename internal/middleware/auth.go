// Package middleware provides HTTP middleware for the bridge API.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

// ClaimsKey is the context key the verified token claims are stored under.
const ClaimsKey ContextKey = "claims"

// Scopes the bridge API checks per route group. Read scope covers traces,
// sessions, metrics and the live stream; write scope covers connection
// lifecycle commands.
const (
	ScopeTracesRead      = "traces:read"
	ScopeConnectionWrite = "connection:write"
)

// Claims is the verified bearer-token payload. TenantID partitions rate
// limits and log lines; Scopes gate route groups.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Scopes   []string `json:"scope"`
}

// Auth verifies the HMAC-signed bearer token and stores its claims in the
// request context.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err != nil {
				denyJSON(w, http.StatusUnauthorized, err.Error())
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				denyJSON(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", fmt.Errorf("invalid authorization header format")
	}
	return parts[1], nil
}

func denyJSON(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, "{\"error\":%q}", msg)
}

// GetClaims returns the verified claims, or nil outside an authenticated
// request.
func GetClaims(ctx context.Context) *Claims {
	if c, ok := ctx.Value(ClaimsKey).(*Claims); ok {
		return c
	}
	return nil
}

// GetUserID returns the token subject, or "" when unauthenticated.
func GetUserID(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.Subject
	}
	return ""
}

// GetTenantID returns the token's tenant, or "" when unauthenticated.
func GetTenantID(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.TenantID
	}
	return ""
}

// HasScope reports whether the authenticated token carries scope.
func HasScope(ctx context.Context, scope string) bool {
	c := GetClaims(ctx)
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// RequireScope rejects requests whose token lacks the scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasScope(r.Context(), scope) {
				denyJSON(w, http.StatusForbidden, "missing scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
