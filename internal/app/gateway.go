package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/bhunte/atelier/internal/audit"
	"github.com/bhunte/atelier/internal/auth"
	"github.com/bhunte/atelier/internal/backend"
	"github.com/bhunte/atelier/internal/guard"
	"github.com/bhunte/atelier/internal/nav"
	"github.com/bhunte/atelier/internal/observability"
	"github.com/bhunte/atelier/internal/permissions"
	"github.com/bhunte/atelier/internal/proxy"
	"github.com/bhunte/atelier/internal/session"
	"github.com/bhunte/atelier/internal/shared"
	"github.com/bhunte/atelier/internal/users"
	"github.com/bhunte/atelier/jobs"
)

// SessionCookieName names the browser session cookie.
const SessionCookieName = "atelier_session"

// GatewayDeps collects the external resources the gateway runs on.
type GatewayDeps struct {
	Config    *Config
	Logger    *slog.Logger
	Redis     *redis.Client
	Metrics   *observability.Metrics
	Inspector *asynq.Inspector
}

// Gateway is the assembled HTTP surface with its session machinery.
type Gateway struct {
	Handler  http.Handler
	Sessions *session.Provider
	Bus      *session.Bus
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewGateway wires every handler against the backend and redis.
func NewGateway(deps GatewayDeps) (*Gateway, error) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout, logger)
	if err != nil {
		return nil, err
	}
	sealer, err := session.NewSealer(cfg.SessionSecret)
	if err != nil {
		return nil, fmt.Errorf("app: session sealer: %w", err)
	}
	bus := session.NewBus(logger)
	provider := session.NewProvider(
		client,
		session.NewRedisStore(deps.Redis, sealer, cfg.SessionTTL),
		session.NewRedisLocker(deps.Redis, 0),
		bus,
		session.Config{
			PrincipalMaxAge: cfg.PrincipalMaxAge,
			BackendTimeout:  cfg.BackendTimeout,
			LockTimeout:     cfg.SessionLockTimeout,
		},
		logger,
	)

	sessionManager := shared.NewSessionManager(deps.Redis, SessionCookieName, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	g := guard.Middleware{Sessions: provider, Logger: logger}
	if deps.Metrics != nil {
		g.Metrics = deps.Metrics
	}

	authHandler := auth.NewHandler(logger, provider, bus, sessionManager, csrfManager, g)
	authHandler.SetWriteTimeout(cfg.AppWriteTimeout)

	handler := NewRouter(RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Guard:              g,
		AuthHandler:        authHandler,
		NavHandler:         nav.NewHandler(),
		PermissionsHandler: permissions.NewHandler(logger, permissions.NewService(client, provider), g),
		UsersHandler:       users.NewHandler(logger, users.NewService(client, provider), g),
		Proxy:              proxy.New(client.BaseURL(), provider, g, nil, logger),
		JobHandler:         jobs.NewHandler(deps.Inspector, logger),
		Metrics:            deps.Metrics,
	})
	return &Gateway{Handler: handler, Sessions: provider, Bus: bus, metrics: deps.Metrics, logger: logger}, nil
}

// Start runs the bus subscribers until ctx ends. A nil enqueuer disables the
// audit trail.
func (g *Gateway) Start(ctx context.Context, enqueuer audit.Enqueuer) {
	if g.metrics != nil {
		events, cancel := g.Bus.Subscribe(64)
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					g.metrics.ObserveTransition(string(ev.Kind()))
				}
			}
		}()
	}
	if enqueuer != nil {
		events, cancel := g.Bus.Subscribe(256)
		go func() {
			defer cancel()
			audit.NewForwarder(enqueuer, g.logger).Run(ctx, events)
		}()
	}
}
