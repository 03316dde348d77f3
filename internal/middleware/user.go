package middleware

import (
	"context"
	"net/http"
)

const headerUserID = "X-User-ID"

type userCtxKey struct{}

// UserID is middleware that extracts the owner user ID from the X-User-ID
// header and stores it in the request context. Requests without one are
// rejected outright: identity is resolved upstream, and its absence means
// deny, never "assume global".
func UserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get(headerUserID)
		if uid == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"missing X-User-ID header"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), uid)))
	})
}

// WithUserID returns a context carrying the given owner user ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userCtxKey{}, userID)
}

// UserIDFromContext returns the owner user ID stored in ctx, or "" when
// absent. Storage backends treat "" as fail-closed: empty lists, not-found
// lookups, no unscoped queries.
func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(userCtxKey{}).(string)
	return uid
}
