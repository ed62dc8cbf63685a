package handlers

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/casacustomz/api/internal/platform/auth"
	"github.com/casacustomz/api/internal/platform/httpx"
	"github.com/casacustomz/api/internal/services"
)

const (
	loginAttemptsPerWindow = 10
	loginWindow            = 15 * time.Minute
)

// AuthHandlers exposes first-run setup and login for the admin dashboard.
type AuthHandlers struct {
	admins       services.AdminAuthService
	loginLimiter rateLimiter
}

// AuthHandlerOption customises AuthHandlers.
type AuthHandlerOption func(*AuthHandlers)

// WithLoginRateLimit overrides the per client login attempt budget.
func WithLoginRateLimit(limit int, window time.Duration, clock func() time.Time) AuthHandlerOption {
	return func(h *AuthHandlers) {
		h.loginLimiter = newFixedWindowLimiter(limit, window, clock)
	}
}

func NewAuthHandlers(admins services.AdminAuthService, opts ...AuthHandlerOption) *AuthHandlers {
	h := &AuthHandlers{
		admins:       admins,
		loginLimiter: newFixedWindowLimiter(loginRateLimit.Limit, loginRateLimit.Window, time.Now),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /auth endpoints.
func (h *AuthHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/status", h.status)
	r.Post("/setup", h.setup)
	r.Post("/login", h.login)
	r.Get("/verify", h.verify)
}

func (h *AuthHandlers) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.admins == nil {
		serviceUnavailable(ctx, w, "auth")
		return
	}
	needsSetup, err := h.admins.NeedsSetup(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"needsSetup": needsSetup})
}

type setupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandlers) setup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.admins == nil {
		serviceUnavailable(ctx, w, "auth")
		return
	}
	var req setupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(ctx, w, err.Error())
		return
	}
	session, err := h.admins.Setup(ctx, services.AdminSetupCommand{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, sessionPayload("Admin account created", session))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.admins == nil {
		serviceUnavailable(ctx, w, "auth")
		return
	}
	if !allowRequest(w, r, h.loginLimiter, loginRateLimit) {
		return
	}
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(ctx, w, err.Error())
		return
	}
	session, err := h.admins.Login(ctx, services.AdminLoginCommand{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sessionPayload("Login successful", session))
}

func (h *AuthHandlers) verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.admins == nil {
		serviceUnavailable(ctx, w, "auth")
		return
	}
	token, ok := auth.BearerToken(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.ErrUnauthorized)
		return
	}
	account, err := h.admins.Verify(ctx, token)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("unauthorized", "invalid or expired session", http.StatusUnauthorized))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"admin": adminPayload(account),
	})
}

func sessionPayload(message string, session services.AdminSession) map[string]any {
	return map[string]any{
		"message":   message,
		"token":     session.Token,
		"expiresAt": formatTime(session.ExpiresAt),
		"admin":     adminPayload(session.Account),
	}
}

func adminPayload(account services.AdminAccount) map[string]any {
	payload := map[string]any{
		"id":       account.ID,
		"username": account.Username,
		"email":    account.Email,
		"role":     string(account.Role),
	}
	if account.LastLoginAt != nil {
		payload["lastLogin"] = formatTime(*account.LastLoginAt)
	}
	return payload
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
