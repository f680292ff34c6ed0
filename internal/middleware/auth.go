package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shiva/labdock/internal/auth"
	"github.com/shiva/labdock/internal/model"
)

type contextKey string

// claimsContextKey carries the verified token claims through the request context.
const claimsContextKey contextKey = "claims"

// ClaimsFromContext retrieves the verified claims injected by Authenticate.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*auth.Claims)
	return claims, ok
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Authenticate verifies the bearer token and injects its claims into the
// request context. Missing or invalid tokens fail with 401.
func Authenticate(issuer *auth.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeAuthError(w, http.StatusUnauthorized, "expected 'Bearer <token>'")
				return
			}

			claims, err := issuer.Verify(parts[1])
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole admits the request only if the verified claims carry exactly
// the given role. Unknown roles are forbidden, never treated as student.
func RequireRole(role model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "missing token")
				return
			}
			if claims.Role != role {
				writeAuthError(w, http.StatusForbidden, string(role)+" role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
