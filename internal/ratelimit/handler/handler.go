// Package handler exposes the login limiter and its admin actions over HTTP.
package handler

//go:generate mockgen -source=handler.go -destination=mocks/handler_mock.go -package=mocks LoginLimiter,AdminService

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"bruteguard/internal/ratelimit/middleware"
	"bruteguard/internal/ratelimit/models"
	dErrors "bruteguard/pkg/domain-errors"
	"bruteguard/pkg/platform/httputil"
	adminmw "bruteguard/pkg/platform/middleware/admin"
	"bruteguard/pkg/requestcontext"
	s "bruteguard/pkg/string"
	"bruteguard/pkg/validation"
)

// MaxIdentifierLength bounds identifiers accepted over HTTP.
const MaxIdentifierLength = 320

type LoginLimiter interface {
	Check(ctx context.Context, identifier, ip string) (models.RateLimitDecision, error)
	RecordFailure(ctx context.Context, identifier, ip string) (models.RateLimitDecision, error)
	RecordSuccess(ctx context.Context, identifier, ip string) error
}

type AdminService interface {
	Status(ctx context.Context, identifier string) (*models.LockoutStatus, error)
	ClearLockout(ctx context.Context, identifier, actorID string) error
	ResetIP(ctx context.Context, ip, actorID string) error
}

type Handler struct {
	limiter LoginLimiter
	admin   AdminService
	logger  *slog.Logger
}

func New(limiter LoginLimiter, admin AdminService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		limiter: limiter,
		admin:   admin,
		logger:  logger,
	}
}

// Register mounts the decision API used by login flows in other processes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/login-attempts/check", h.HandleCheck)
	r.Post("/v1/login-attempts/failure", h.HandleFailure)
	r.Post("/v1/login-attempts/success", h.HandleSuccess)
}

// RegisterAdmin mounts the operator API. Callers wrap r with the admin token guard.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/v1/lockouts/{identifier}", h.HandleLockoutStatus)
	r.Delete("/admin/v1/lockouts/{identifier}", h.HandleClearLockout)
	r.Delete("/admin/v1/rate-limits/ip/{ip}", h.HandleResetIP)
}

// attemptRequest carries one login attempt. A password sent by mistake is
// not a field here and is never decoded.
type attemptRequest struct {
	Identifier string `json:"identifier" validate:"max=320"`
	IP         string `json:"ip" validate:"omitempty,ip"`
}

func (r *attemptRequest) Normalize() {
	s.TrimStrings(&r.Identifier, &r.IP)
}

func (r *attemptRequest) Validate() error {
	return validation.Validate(r)
}

// clientIP prefers the address in the body and falls back to the resolved
// address of the calling connection.
func (r *attemptRequest) clientIP(ctx context.Context) string {
	if r.IP != "" {
		return r.IP
	}
	return requestcontext.ClientIP(ctx)
}

// HandleCheck implements POST /v1/login-attempts/check.
// Input: { "identifier": "alice@example.com", "ip": "203.0.113.10" }
// Output: decision; 200 when allowed, 429 with Retry-After otherwise.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[attemptRequest](w, r, h.logger)
	if !ok {
		return
	}
	ctx := r.Context()
	decision, err := h.limiter.Check(ctx, req.Identifier, req.clientIP(ctx))
	if err != nil {
		h.failClosed(w, r, "check", err)
		return
	}
	middleware.WriteDecision(w, decision)
}

// HandleFailure implements POST /v1/login-attempts/failure.
func (h *Handler) HandleFailure(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[attemptRequest](w, r, h.logger)
	if !ok {
		return
	}
	ctx := r.Context()
	decision, err := h.limiter.RecordFailure(ctx, req.Identifier, req.clientIP(ctx))
	if err != nil {
		h.failClosed(w, r, "failure", err)
		return
	}
	middleware.WriteDecision(w, decision)
}

// HandleSuccess implements POST /v1/login-attempts/success. Responds 204.
func (h *Handler) HandleSuccess(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[attemptRequest](w, r, h.logger)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.limiter.RecordSuccess(ctx, req.Identifier, req.clientIP(ctx)); err != nil {
		h.failClosed(w, r, "success", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// failClosed answers a store failure with 503 and a denying decision body.
func (h *Handler) failClosed(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	h.logger.ErrorContext(ctx, "login attempt evaluation failed",
		"operation", op,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusServiceUnavailable, unavailableResponse{
		RateLimitDecision: models.RateLimitDecision{Allowed: false},
		Error:             "service_unavailable",
	})
}

type unavailableResponse struct {
	models.RateLimitDecision
	Error string `json:"error"`
}

// HandleLockoutStatus implements GET /admin/v1/lockouts/{identifier}.
func (h *Handler) HandleLockoutStatus(w http.ResponseWriter, r *http.Request) {
	identifier, ok := h.pathParam(w, r, "identifier")
	if !ok {
		return
	}
	status, err := h.admin.Status(r.Context(), identifier)
	if err != nil {
		h.adminError(w, r, "status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// HandleClearLockout implements DELETE /admin/v1/lockouts/{identifier}. Responds 204.
func (h *Handler) HandleClearLockout(w http.ResponseWriter, r *http.Request) {
	identifier, ok := h.pathParam(w, r, "identifier")
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.admin.ClearLockout(ctx, identifier, adminmw.ActorID(ctx)); err != nil {
		h.adminError(w, r, "clear_lockout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleResetIP implements DELETE /admin/v1/rate-limits/ip/{ip}. Responds 204.
func (h *Handler) HandleResetIP(w http.ResponseWriter, r *http.Request) {
	ip, ok := h.pathParam(w, r, "ip")
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.admin.ResetIP(ctx, ip, adminmw.ActorID(ctx)); err != nil {
		h.adminError(w, r, "reset_ip", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil || strings.TrimSpace(value) == "" || len(value) > MaxIdentifierLength {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid "+name))
		return "", false
	}
	return value, true
}

func (h *Handler) adminError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	h.logger.ErrorContext(ctx, "admin action failed",
		"operation", op,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteError(w, err)
}
