package guard

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bhunte/atelier/internal/access"
	"github.com/bhunte/atelier/internal/platform/httpx"
	"github.com/bhunte/atelier/internal/shared"
)

// Route is one guarded dashboard view.
type Route struct {
	Pattern     string
	View        string
	Requirement Requirement
}

// DashboardRoutes lists the dashboard views relative to /dashboard. Every view
// requires a session; some also require a grant.
var DashboardRoutes = []Route{
	{Pattern: "/", View: "dashboard", Requirement: Authenticated()},
	{Pattern: "/team", View: "team", Requirement: Action(access.FeatureTeam, access.ActionView)},
	{Pattern: "/create-employee", View: "create-employee", Requirement: Action(access.FeatureTeam, access.ActionCreate)},
	{Pattern: "/edit-employee/{id}", View: "edit-employee", Requirement: Action(access.FeatureTeam, access.ActionPatch)},
	{Pattern: "/permissions", View: "permissions", Requirement: Action(access.FeaturePermissions, access.ActionView)},
	{Pattern: "/edit-profile/{id}", View: "edit-profile", Requirement: Action(access.FeatureProfile, access.ActionPatch)},
	{Pattern: "/profile", View: "profile", Requirement: Authenticated()},
	{Pattern: "/unauthorized", View: "unauthorized", Requirement: Authenticated()},
}

// View is the descriptor the dashboard renders for an allowed navigation.
type View struct {
	View      string            `json:"view"`
	Params    map[string]string `json:"params,omitempty"`
	Principal *access.Principal `json:"principal"`
}

// MountDashboard registers every dashboard route on r behind its guard.
func (m Middleware) MountDashboard(r chi.Router) {
	for _, route := range DashboardRoutes {
		r.With(m.Protect(route.Requirement)).Get(route.Pattern, viewHandler(route.View))
	}
}

// MountEntry registers the public entry point: a signed-in caller is sent to
// the dashboard, anyone else gets the login view.
func (m Middleware) MountEntry(r chi.Router) {
	r.Get(m.loginPath(), func(w http.ResponseWriter, r *http.Request) {
		p, _, err := m.resolve(r)
		if err != nil {
			m.logError("entry resolve", err)
		}
		if p != nil {
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}
		view := View{View: "login"}
		if reason := r.URL.Query().Get("reason"); reason == "expired" {
			view.Params = map[string]string{"reason": reason}
		}
		httpx.JSON(w, http.StatusOK, view)
	})
}

func viewHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view := View{View: name, Principal: shared.PrincipalFromContext(r.Context())}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			for i, key := range rctx.URLParams.Keys {
				if key == "*" {
					continue
				}
				if view.Params == nil {
					view.Params = make(map[string]string)
				}
				view.Params[key] = rctx.URLParams.Values[i]
			}
		}
		httpx.JSON(w, http.StatusOK, view)
	}
}
