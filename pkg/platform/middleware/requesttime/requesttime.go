// Package requesttime pins one clock reading per HTTP request so that the lockout
// check, both rate-limit windows and the audit trail of a single login decision
// all agree on "now".
package requesttime

import (
	"net/http"

	"bruteguard/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _ := requestcontext.Pin(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
