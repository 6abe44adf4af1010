// Package auth gates the admin/ops endpoints behind a static bearer token.
package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// AuthorizedKey marks a request that passed admin token verification.
const AuthorizedKey contextKey = "admin_authorized"

// AdminAuth verifies the X-Admin-Token header (or "Authorization: Bearer ...")
// against the configured admin token before letting a request reach an
// admin-gated handler. An empty configured token disables every admin route
// rather than silently allowing access.
type AdminAuth struct {
	token string
}

func NewAdminAuth(token string) *AdminAuth {
	return &AdminAuth{token: token}
}

// Handler wraps a single admin-gated handler; only the /admin/* endpoints
// need this, not the whole router.
func (a *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token == "" || !a.authorized(r) {
			http.Error(w, `{"detail":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), AuthorizedKey, true)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AdminAuth) authorized(r *http.Request) bool {
	if tok := r.Header.Get("X-Admin-Token"); tok != "" {
		return tok == a.token
	}
	if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
		return strings.TrimPrefix(ah, "Bearer ") == a.token
	}
	return false
}

// IsAuthorized reports whether the request context was marked authorized by
// Handler.
func IsAuthorized(ctx context.Context) bool {
	v, _ := ctx.Value(AuthorizedKey).(bool)
	return v
}
