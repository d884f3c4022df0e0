package auth

import (
	"context"
	"net/http"
	"strings"

	"warden/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// OperatorContextKey is the key for storing operator claims in context
	OperatorContextKey contextKey = "operator"
)

// RequireOperator validates bearer tokens on the admin surface and injects
// the operator claims into the request context. Tokens must carry the admin
// scope; there is no weaker scope to fall back to.
func RequireOperator(tm *TokenManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			// Parse Bearer token
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := tm.ValidateToken(parts[1])
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			if claims.Scope != models.TokenScopeAdmin {
				http.Error(w, "forbidden: insufficient scope", http.StatusForbidden)
				return
			}

			// Inject claims into context
			ctx := context.WithValue(r.Context(), OperatorContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOperatorFromContext extracts operator claims from request context
func GetOperatorFromContext(r *http.Request) *models.OperatorClaims {
	claims, ok := r.Context().Value(OperatorContextKey).(*models.OperatorClaims)
	if !ok {
		return nil
	}
	return claims
}
