// internal/auth/middleware.go
package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const actorCtxKey contextKey = "actor"

// RequireActor rejects requests without a valid actor key. A missing session
// is a precondition failure here, never something this layer resolves.
func RequireActor(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := r.Header.Get("X-Actor")
			key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if actor == "" || key == "" || key == r.Header.Get("Authorization") {
				http.Error(w, "missing credentials", http.StatusUnauthorized)
				return
			}
			if !v.Verify(actor, key) {
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), actorCtxKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Actor returns the authenticated actor name, or "" outside RequireActor.
func Actor(ctx context.Context) string {
	actor, _ := ctx.Value(actorCtxKey).(string)
	return actor
}
