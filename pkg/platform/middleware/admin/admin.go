// Package admin guards operator endpoints behind a shared token.
package admin

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"bruteguard/pkg/requestcontext"
)

const (
	HeaderToken   = "X-Admin-Token"
	HeaderActorID = "X-Admin-Actor-ID"
)

type contextKeyActorID struct{}

// ActorID returns the operator that made the request, or "" outside admin routes.
func ActorID(ctx context.Context) string {
	if actorID, ok := ctx.Value(contextKeyActorID{}).(string); ok {
		return actorID
	}
	return ""
}

// WithActorID attaches an operator identity to ctx.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, contextKeyActorID{}, actorID)
}

// RequireAdminToken rejects requests whose X-Admin-Token does not match
// expectedToken. An empty expectedToken rejects every request.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := r.Header.Get(HeaderToken)
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"admin token required"}`))
				return
			}

			if actorID := r.Header.Get(HeaderActorID); actorID != "" {
				ctx = WithActorID(ctx, actorID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
