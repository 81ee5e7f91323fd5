package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bruteguard/internal/platform/health"
	"bruteguard/internal/ratelimit/handler"
	adminmw "bruteguard/pkg/platform/middleware/admin"
	"bruteguard/pkg/platform/middleware/metadata"
	"bruteguard/pkg/platform/middleware/request"
	"bruteguard/pkg/platform/middleware/requesttime"
)

const requestTimeout = 30 * time.Second

// RouterDeps collects what the router mounts. Registry and Health are optional.
type RouterDeps struct {
	Logger         *slog.Logger
	Handler        *handler.Handler
	Health         *health.Handler
	Registry       *prometheus.Registry
	TrustedProxies *metadata.Config
	AdminToken     string
	MaxBodyBytes   int64
}

// NewRouter wires the decision API, the admin API and the operational
// endpoints behind the shared middleware stack.
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.NewMiddleware(deps.TrustedProxies).Handler)
	r.Use(request.Logger(logger))
	if deps.Registry != nil {
		r.Use(request.Latency(request.NewMetrics(deps.Registry)))
	}
	r.Use(request.Timeout(requestTimeout))

	if deps.Health != nil {
		deps.Health.Register(r)
	}
	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if deps.MaxBodyBytes > 0 {
			r.Use(request.BodyLimit(deps.MaxBodyBytes))
		}
		r.Use(request.ContentTypeJSON)
		deps.Handler.Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(deps.AdminToken, logger))
		deps.Handler.RegisterAdmin(r)
	})

	return r
}
