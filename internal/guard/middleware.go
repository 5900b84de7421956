package guard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bhunte/atelier/internal/access"
	"github.com/bhunte/atelier/internal/platform/httpx"
	"github.com/bhunte/atelier/internal/shared"
)

const (
	// DefaultLoginPath is the public entry point.
	DefaultLoginPath = "/"
	// DefaultUnauthorizedPath is the generic denial view.
	DefaultUnauthorizedPath = "/dashboard/unauthorized"
)

// PrincipalSource resolves the current principal of a browser session.
type PrincipalSource interface {
	Resolve(ctx context.Context, sid string) (*access.Principal, error)
}

// DecisionRecorder counts decisions.
type DecisionRecorder interface {
	ObserveDecision(feature, decision string)
}

// Middleware wires guard checks for HTTP handlers. Every request is evaluated
// afresh; decisions are never cached.
type Middleware struct {
	Sessions         PrincipalSource
	Logger           *slog.Logger
	Metrics          DecisionRecorder
	LoginPath        string
	UnauthorizedPath string
}

// Protect guards a page navigation: anonymous callers are redirected to the
// login path and denied callers to the unauthorized path.
func (m Middleware) Protect(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, expired, err := m.resolve(r)
			if err != nil {
				m.logError("guard resolve", err)
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			switch m.decide(p, req) {
			case Login:
				target := m.loginPath()
				if expired {
					target += "?reason=expired"
				}
				http.Redirect(w, r, target, http.StatusSeeOther)
			case Unauthorized:
				http.Redirect(w, r, m.unauthorizedPath(), http.StatusSeeOther)
			default:
				next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
			}
		})
	}
}

// ProtectAPI guards an API subtree of feature, deriving the action from the
// request method.
func (m Middleware) ProtectAPI(feature access.Feature) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			action, ok := ActionForMethod(r.Method)
			if !ok {
				httpx.Problem(w, http.StatusMethodNotAllowed, "Method not allowed", "")
				return
			}
			m.serveAPI(w, r, next, Action(feature, action))
		})
	}
}

// RequireAPI guards an API endpoint with a fixed requirement.
func (m Middleware) RequireAPI(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serveAPI(w, r, next, req)
		})
	}
}

func (m Middleware) serveAPI(w http.ResponseWriter, r *http.Request, next http.Handler, req Requirement) {
	p, expired, err := m.resolve(r)
	if err != nil {
		m.logError("guard resolve", err)
		httpx.RespondError(w, err)
		return
	}
	switch m.decide(p, req) {
	case Login:
		detail := "authentication required"
		if expired {
			detail = "session expired, please log in again"
		}
		httpx.Problem(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized), detail)
	case Unauthorized:
		httpx.Problem(w, http.StatusForbidden, http.StatusText(http.StatusForbidden), "access denied")
	default:
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
	}
}

// ActionForMethod maps an HTTP method to the action it performs.
func ActionForMethod(method string) (access.Action, bool) {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return access.ActionView, true
	case http.MethodPost:
		return access.ActionCreate, true
	case http.MethodPut:
		return access.ActionEdit, true
	case http.MethodPatch:
		return access.ActionPatch, true
	case http.MethodDelete:
		return access.ActionDelete, true
	default:
		return 0, false
	}
}

// resolve returns the principal of the request. An expired session reads as
// anonymous with expired set.
func (m Middleware) resolve(r *http.Request) (*access.Principal, bool, error) {
	if p := shared.PrincipalFromContext(r.Context()); p != nil {
		return p, false, nil
	}
	if m.Sessions == nil {
		return nil, false, nil
	}
	p, err := m.Sessions.Resolve(r.Context(), shared.SessionID(r.Context()))
	if err != nil {
		if errors.Is(err, httpx.ErrUnauthorized) {
			return nil, true, nil
		}
		return nil, false, err
	}
	return p, false, nil
}

func (m Middleware) decide(p *access.Principal, req Requirement) Decision {
	decision := Evaluate(p, req)
	if m.Metrics != nil {
		m.Metrics.ObserveDecision(string(req.Feature), decision.String())
	}
	if decision != Allow && m.Logger != nil {
		m.Logger.Debug("guard denied", slog.String("requirement", req.String()), slog.String("decision", decision.String()))
	}
	return decision
}

func (m Middleware) logError(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Any("error", err))
	}
}

func (m Middleware) loginPath() string {
	if m.LoginPath != "" {
		return m.LoginPath
	}
	return DefaultLoginPath
}

func (m Middleware) unauthorizedPath() string {
	if m.UnauthorizedPath != "" {
		return m.UnauthorizedPath
	}
	return DefaultUnauthorizedPath
}
