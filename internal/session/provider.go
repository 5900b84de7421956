// Package session owns the principal of each browser session and the
// login, logout, impersonation and forced-logout transitions between states.
package session

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bhunte/atelier/internal/access"
	"github.com/bhunte/atelier/internal/backend"
)

// Backend is the slice of the REST backend the provider drives.
type Backend interface {
	Login(ctx context.Context, email, password string) (backend.Credentials, error)
	Verify(ctx context.Context, creds backend.Credentials) (*access.Principal, error)
	Logout(ctx context.Context, creds backend.Credentials) error
	Impersonate(ctx context.Context, creds backend.Credentials, targetID string) (backend.Credentials, error)
	ExitImpersonation(ctx context.Context, creds backend.Credentials) (backend.Credentials, error)
}

// Config tunes the provider.
type Config struct {
	// PrincipalMaxAge is how long a verified principal is trusted before the
	// backend is asked again. Zero re-verifies on every Resolve.
	PrincipalMaxAge time.Duration
	// BackendTimeout bounds the backend calls of one transition.
	BackendTimeout time.Duration
	// LockTimeout bounds the wait for a concurrent transition to finish.
	LockTimeout time.Duration
}

// Provider is the single writer of session state.
type Provider struct {
	backend Backend
	store   Store
	locker  Locker
	bus     *Bus
	logger  *slog.Logger
	cfg     Config
	refresh singleflight.Group
	now     func() time.Time
}

// NewProvider wires a provider.
func NewProvider(b Backend, store Store, locker Locker, bus *Bus, cfg Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = NewBus(logger)
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = 15 * time.Second
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 10 * time.Second
	}
	return &Provider{
		backend: b,
		store:   store,
		locker:  locker,
		bus:     bus,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Bus exposes the event bus transitions publish to.
func (p *Provider) Bus() *Bus {
	return p.bus
}

var errUnchanged = errors.New("session: unchanged")

// Resolve returns the current principal of sid, nil when anonymous. A principal
// older than PrincipalMaxAge is re-verified; a rejected verification expires
// the session and returns ErrExpired.
func (p *Provider) Resolve(ctx context.Context, sid string) (*access.Principal, error) {
	if sid == "" {
		return nil, nil
	}
	st, err := p.store.Load(ctx, sid)
	if err != nil {
		return nil, err
	}
	if !st.Authenticated() {
		return nil, nil
	}
	if p.fresh(st) {
		return st.Principal.Clone(), nil
	}

	resultChan := p.refresh.DoChan(sid, func() (interface{}, error) {
		return p.reverify(context.WithoutCancel(ctx), sid)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		principal, _ := res.Val.(*access.Principal)
		return principal.Clone(), nil
	}
}

func (p *Provider) fresh(st State) bool {
	return p.cfg.PrincipalMaxAge > 0 && p.now().Sub(st.ResolvedAt) < p.cfg.PrincipalMaxAge
}

func (p *Provider) reverify(ctx context.Context, sid string) (*access.Principal, error) {
	var settled *access.Principal
	st, err := p.transition(ctx, sid, TransitionResolve, func(ctx context.Context, current State) (State, error) {
		if !current.Authenticated() {
			return current, errUnchanged
		}
		if p.fresh(current) {
			settled = current.Principal
			return current, errUnchanged
		}
		verified, err := p.backend.Verify(ctx, current.Credentials)
		if err != nil {
			if errors.Is(err, backend.ErrMalformedPrincipal) {
				return current, backend.ErrUnauthorized
			}
			return current, err
		}
		return State{Principal: verified, Credentials: current.Credentials, ResolvedAt: p.now()}, nil
	})
	if err != nil {
		return nil, err
	}
	if settled != nil {
		return settled, nil
	}
	return st.Principal, nil
}

// Login authenticates an anonymous session.
func (p *Provider) Login(ctx context.Context, sid, email, password string) (*access.Principal, error) {
	st, err := p.transition(ctx, sid, TransitionLogin, func(ctx context.Context, current State) (State, error) {
		if current.Authenticated() {
			return current, ErrAlreadyAuthenticated
		}
		creds, err := p.backend.Login(ctx, email, password)
		if err != nil {
			return current, err
		}
		principal, err := p.backend.Verify(ctx, creds)
		if err != nil {
			return current, err
		}
		return State{Principal: principal, Credentials: creds, ResolvedAt: p.now()}, nil
	})
	if err != nil {
		return nil, err
	}
	return st.Principal.Clone(), nil
}

// Logout returns sid to Anonymous. The backend logout is best effort; local
// state is always cleared. Logging out an anonymous session is a no-op.
func (p *Provider) Logout(ctx context.Context, sid string) error {
	_, err := p.transition(ctx, sid, TransitionLogout, func(ctx context.Context, current State) (State, error) {
		if !current.Authenticated() {
			return current, errUnchanged
		}
		if err := p.backend.Logout(ctx, current.Credentials); err != nil {
			p.logger.Warn("backend logout failed", slog.String("principal", current.Principal.ID), slog.Any("error", err))
		}
		return State{}, nil
	})
	return err
}

// Impersonate switches an admin session to targetID.
func (p *Provider) Impersonate(ctx context.Context, sid, targetID string) (*access.Principal, error) {
	st, err := p.transition(ctx, sid, TransitionImpersonate, func(ctx context.Context, current State) (State, error) {
		if !current.Authenticated() {
			return current, ErrNotAuthenticated
		}
		if !current.Principal.IsAdmin() || current.Principal.Impersonating {
			return current, ErrNotPermitted
		}
		creds, err := p.backend.Impersonate(ctx, current.Credentials, targetID)
		if err != nil {
			return current, err
		}
		target, err := p.backend.Verify(ctx, creds)
		if err != nil {
			return current, err
		}
		target.Impersonating = true
		return State{Principal: target, Credentials: creds, ResolvedAt: p.now()}, nil
	})
	if err != nil {
		return nil, err
	}
	return st.Principal.Clone(), nil
}

// ExitImpersonation returns an impersonating session to the admin identity.
func (p *Provider) ExitImpersonation(ctx context.Context, sid string) (*access.Principal, error) {
	st, err := p.transition(ctx, sid, TransitionExit, func(ctx context.Context, current State) (State, error) {
		if !current.Authenticated() {
			return current, ErrNotAuthenticated
		}
		if !current.Principal.Impersonating {
			return current, ErrNotImpersonating
		}
		creds, err := p.backend.ExitImpersonation(ctx, current.Credentials)
		if err != nil {
			return current, err
		}
		admin, err := p.backend.Verify(ctx, creds)
		if err != nil {
			return current, err
		}
		admin.Impersonating = false
		return State{Principal: admin, Credentials: creds, ResolvedAt: p.now()}, nil
	})
	if err != nil {
		return nil, err
	}
	return st.Principal.Clone(), nil
}

// Expire force-logs-out sid from any authenticated state, discarding the
// principal and upstream credentials.
func (p *Provider) Expire(ctx context.Context, sid, reason string) error {
	_, err := p.transition(ctx, sid, TransitionExpire, func(ctx context.Context, current State) (State, error) {
		if !current.Authenticated() {
			return current, errUnchanged
		}
		return current, errExpire(reason)
	})
	if errors.Is(err, ErrExpired) {
		return nil
	}
	return err
}

// Credentials returns the upstream credentials of an authenticated session.
func (p *Provider) Credentials(ctx context.Context, sid string) (backend.Credentials, error) {
	st, err := p.store.Load(ctx, sid)
	if err != nil {
		return nil, err
	}
	if !st.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	return st.Credentials, nil
}

// WithCredentials runs fn with the upstream credentials of sid. A backend 401
// from fn expires the session and is reported as ErrExpired.
func (p *Provider) WithCredentials(ctx context.Context, sid string, fn func(backend.Credentials) error) error {
	creds, err := p.Credentials(ctx, sid)
	if err != nil {
		return err
	}
	err = fn(creds)
	if errors.Is(err, backend.ErrUnauthorized) {
		if expErr := p.Expire(ctx, sid, "backend rejected credentials"); expErr != nil {
			p.logger.Error("expire session", slog.Any("error", expErr))
		}
		return ErrExpired
	}
	return err
}

type expireSignal struct {
	reason string
}

func (e expireSignal) Error() string { return "session: expire: " + e.reason }

func errExpire(reason string) error { return expireSignal{reason: reason} }

// transition serializes one state change of sid: it waits for the session
// lock, runs step against the stored state and stores the result in a single
// write before publishing. A backend 401 from step turns into a forced logout.
func (p *Provider) transition(ctx context.Context, sid string, kind Transition, step func(context.Context, State) (State, error)) (State, error) {
	if sid == "" {
		return State{}, ErrNotAuthenticated
	}
	lockCtx, cancelLock := context.WithTimeout(ctx, p.cfg.LockTimeout)
	defer cancelLock()
	unlock, err := p.locker.Lock(lockCtx, sid)
	if err != nil {
		return State{}, err
	}
	defer unlock()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.BackendTimeout)
	defer cancel()

	current, err := p.store.Load(runCtx, sid)
	if err != nil {
		return State{}, err
	}

	next, stepErr := step(runCtx, current)
	var signal expireSignal
	switch {
	case stepErr == nil:
	case errors.Is(stepErr, errUnchanged):
		return current, nil
	case errors.As(stepErr, &signal):
		return current, p.expire(runCtx, sid, current, signal.reason)
	case errors.Is(stepErr, backend.ErrUnauthorized) && current.Authenticated():
		return State{}, p.expire(runCtx, sid, current, string(kind)+": backend rejected credentials")
	default:
		return current, stepErr
	}

	next.Version = current.Version + 1
	if err := p.store.Save(runCtx, sid, next); err != nil {
		return current, err
	}
	if kind != TransitionResolve || !samePrincipal(current.Principal, next.Principal) {
		p.bus.Publish(newChanged(sid, next.Principal, kind, p.now()))
	}
	p.logger.Info("session transition",
		slog.String("transition", string(kind)),
		slog.String("status", next.Status()),
		slog.Uint64("version", next.Version),
	)
	return next, nil
}

func (p *Provider) expire(ctx context.Context, sid string, current State, reason string) error {
	if err := p.store.Save(ctx, sid, State{Version: current.Version + 1}); err != nil {
		return err
	}
	p.bus.Publish(newExpired(sid, current.Principal, reason, p.now()))
	p.logger.Warn("session expired", slog.String("reason", reason), slog.Uint64("version", current.Version+1))
	return ErrExpired
}

func samePrincipal(a, b *access.Principal) bool {
	return reflect.DeepEqual(a, b)
}
