// Package auth exposes the session lifecycle over HTTP: login, logout,
// impersonation, the session event stream and the access check used by
// dashboard buttons.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bhunte/atelier/internal/access"
	"github.com/bhunte/atelier/internal/backend"
	"github.com/bhunte/atelier/internal/guard"
	"github.com/bhunte/atelier/internal/platform/httpx"
	"github.com/bhunte/atelier/internal/session"
	"github.com/bhunte/atelier/internal/shared"
)

// Sessions drives the session state machine.
type Sessions interface {
	Resolve(ctx context.Context, sid string) (*access.Principal, error)
	Login(ctx context.Context, sid, email, password string) (*access.Principal, error)
	Logout(ctx context.Context, sid string) error
	Impersonate(ctx context.Context, sid, targetID string) (*access.Principal, error)
	ExitImpersonation(ctx context.Context, sid string) (*access.Principal, error)
}

// Events streams the transitions of one session.
type Events interface {
	SubscribeSession(sid string, buffer int) (<-chan session.Event, func())
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	sessions       Sessions
	events         Events
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	guard          guard.Middleware
	validator      *validator.Validate
	heartbeat      time.Duration
	writeTimeout   time.Duration
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, sessions Sessions, events Events, sessionManager *shared.SessionManager, csrf *shared.CSRFManager, g guard.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		sessions:       sessions,
		events:         events,
		sessionManager: sessionManager,
		csrfManager:    csrf,
		guard:          g,
		validator:      validator.New(),
		heartbeat:      25 * time.Second,
	}
}

// SetWriteTimeout tells the event stream the server's write timeout, so the
// stream ends before the connection is cut.
func (h *Handler) SetWriteTimeout(d time.Duration) {
	h.writeTimeout = d
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/session", h.showSession)
	r.Post("/impersonate/{userID}", h.handleImpersonate)
	r.Post("/exit-impersonation", h.handleExitImpersonation)
	r.With(h.guard.RequireAPI(guard.Authenticated())).Get("/events", h.streamEvents)
}

// MountAccessCheck registers the access check endpoint.
func (h *Handler) MountAccessCheck(r chi.Router) {
	r.With(h.guard.RequireAPI(guard.Authenticated())).Get("/check", h.checkAccess)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	Status        string            `json:"status"`
	Principal     *access.Principal `json:"principal,omitempty"`
	Impersonating bool              `json:"impersonating"`
	CSRFToken     string            `json:"csrfToken,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", "email and password are required")
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.RespondError(w, errors.New("session missing"))
		return
	}
	p, err := h.sessions.Login(r.Context(), sess.ID, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, backend.ErrInvalidCredentials) {
			httpx.Problem(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized), "invalid email or password")
			return
		}
		h.fail(w, "login", err)
		return
	}
	sess.Delete(shared.CSRFSessionKey)
	h.respondSession(w, r, p)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.sessions.Logout(r.Context(), sess.ID); err != nil {
			h.fail(w, "logout", err)
			return
		}
		h.sessionManager.Destroy(sess)
	}
	httpx.JSON(w, http.StatusOK, sessionResponse{Status: "anonymous"})
}

func (h *Handler) showSession(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if token, err := h.csrfManager.EnsureToken(r.Context(), sess); err == nil {
			w.Header().Set(shared.CSRFHeader, token)
		}
	}
	p, err := h.sessions.Resolve(r.Context(), shared.SessionID(r.Context()))
	if err != nil {
		h.fail(w, "resolve session", err)
		return
	}
	if p == nil {
		httpx.Problem(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized), "authentication required")
		return
	}
	h.respondSession(w, r, p)
}

func (h *Handler) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "userID")
	p, err := h.sessions.Impersonate(r.Context(), shared.SessionID(r.Context()), target)
	if err != nil {
		h.fail(w, "impersonate", err)
		return
	}
	h.logger.Info("impersonation started", slog.String("target_id", target))
	h.respondSession(w, r, p)
}

func (h *Handler) handleExitImpersonation(w http.ResponseWriter, r *http.Request) {
	p, err := h.sessions.ExitImpersonation(r.Context(), shared.SessionID(r.Context()))
	if err != nil {
		h.fail(w, "exit impersonation", err)
		return
	}
	h.respondSession(w, r, p)
}

func (h *Handler) respondSession(w http.ResponseWriter, r *http.Request, p *access.Principal) {
	resp := sessionResponse{Status: "authenticated", Principal: p, Impersonating: p.Impersonating}
	if p.Impersonating {
		resp.Status = "impersonating"
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		if token, err := h.csrfManager.EnsureToken(r.Context(), sess); err == nil {
			resp.CSRFToken = token
			w.Header().Set(shared.CSRFHeader, token)
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
