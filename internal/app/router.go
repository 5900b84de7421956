package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bhunte/atelier/internal/auth"
	"github.com/bhunte/atelier/internal/guard"
	"github.com/bhunte/atelier/internal/nav"
	"github.com/bhunte/atelier/internal/observability"
	"github.com/bhunte/atelier/internal/permissions"
	"github.com/bhunte/atelier/internal/proxy"
	"github.com/bhunte/atelier/internal/shared"
	"github.com/bhunte/atelier/internal/users"
	"github.com/bhunte/atelier/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionManager     *shared.SessionManager
	CSRFManager        *shared.CSRFManager
	Guard              guard.Middleware
	AuthHandler        *auth.Handler
	NavHandler         *nav.Handler
	PermissionsHandler *permissions.Handler
	UsersHandler       *users.Handler
	Proxy              *proxy.Proxy
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with gateway defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	params.Guard.MountEntry(r)
	r.Route("/dashboard", params.Guard.MountDashboard)
	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Route("/api", func(r chi.Router) {
		r.Route("/access", params.AuthHandler.MountAccessCheck)
		if params.NavHandler != nil {
			r.Route("/navigation", func(r chi.Router) {
				r.Use(params.Guard.RequireAPI(guard.Authenticated()))
				params.NavHandler.MountRoutes(r)
			})
		}
		if params.PermissionsHandler != nil {
			r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		}
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.Proxy != nil {
			params.Proxy.MountRoutes(r)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
