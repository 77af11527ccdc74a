package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	syncpkg "github.com/xelth-com/posync/internal/sync"
	"github.com/xelth-com/posync/internal/utils"
)

type contextKey string

const scopeContextKey contextKey = "scope"

// Auth verifies the bearer JWT and puts the caller's scope in the request
// context. Requests without a valid token are rejected before any handler
// runs.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "Authorization header required", "")
				return
			}

			claims, err := utils.ValidateToken(tokenString, secret)
			if err != nil {
				unauthorized(w, "Invalid or expired token", err.Error())
				return
			}

			scope := syncpkg.Scope{
				OrganizationID: claims.OrganizationID,
				UserID:         claims.UserID,
				DeviceID:       claims.DeviceID,
			}
			next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
		})
	}
}

// WithScope returns a context carrying scope
func WithScope(ctx context.Context, scope syncpkg.Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey, scope)
}

// ScopeFromContext returns the scope set by Auth
func ScopeFromContext(ctx context.Context) (syncpkg.Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey).(syncpkg.Scope)
	return scope, ok
}

// bearerToken reads "Authorization: Bearer <token>". Browser websockets
// cannot set headers, so a token query parameter is accepted too.
func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}

func unauthorized(w http.ResponseWriter, message, details string) {
	body := map[string]string{"error": message}
	if details != "" {
		body["details"] = details
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(body)
}
