// Package requestcontext carries request-scoped values (clock, request id,
// client metadata) through context.Context.
package requestcontext

import (
	"context"
	"time"
)

type (
	ctxKeyTime      struct{}
	ctxKeyRequestID struct{}
	ctxKeyClientIP  struct{}
	ctxKeyUserAgent struct{}
)

// Now returns the request-scoped time, falling back to time.Now() outside a
// request (workers, CLI, tests that did not inject one).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ctxKeyTime{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the clock for every operation that reads ctx.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyTime{}, t)
}

// Pin returns ctx with its current Now() frozen, plus that instant. Calling it on an
// already pinned context is a no-op.
func Pin(ctx context.Context) (context.Context, time.Time) {
	if t, ok := ctx.Value(ctxKeyTime{}).(time.Time); ok {
		return ctx, t
	}
	now := time.Now()
	return WithTime(ctx, now), now
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return id
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, requestID)
}

// ClientIP returns the resolved client address, empty when not set.
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(ctxKeyClientIP{}).(string)
	return ip
}

func UserAgent(ctx context.Context) string {
	ua, _ := ctx.Value(ctxKeyUserAgent{}).(string)
	return ua
}

// WithClientMetadata stores the resolved client IP and User-Agent.
func WithClientMetadata(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyClientIP{}, ip)
	return context.WithValue(ctx, ctxKeyUserAgent{}, userAgent)
}
