package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhunte/atelier/internal/access"
	"github.com/bhunte/atelier/internal/backend"
)

type fakeBackend struct {
	mu        sync.Mutex
	users     map[string]*access.Principal
	passwords map[string]string
	revoked   map[string]bool
	verifies  int
	logouts   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users: map[string]*access.Principal{
			"admin": {ID: "admin", Name: "Root", Role: access.RoleAdmin},
			"u2": {ID: "u2", Name: "Asha", Role: "Manager", Category: "Production", Grants: []access.Grant{
				{Feature: access.FeatureProduct, Permissions: []access.Action{access.ActionCreate, access.ActionView}},
			}},
		},
		passwords: map[string]string{"admin@atelier.test": "admin", "asha@atelier.test": "u2"},
		revoked:   map[string]bool{},
	}
}

func (f *fakeBackend) Login(ctx context.Context, email, password string) (backend.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.passwords[email]
	if !ok || password != "correct horse" {
		return nil, backend.ErrInvalidCredentials
	}
	return backend.Credentials{"token": id}, nil
}

func (f *fakeBackend) Verify(ctx context.Context, creds backend.Credentials) (*access.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++
	token := creds["token"]
	p, ok := f.users[token]
	if !ok || f.revoked[token] {
		return nil, backend.ErrUnauthorized
	}
	out := p.Clone()
	out.Impersonating = creds["adminToken"] != ""
	return out, nil
}

func (f *fakeBackend) Logout(ctx context.Context, creds backend.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

func (f *fakeBackend) Impersonate(ctx context.Context, creds backend.Credentials, targetID string) (backend.Credentials, error) {
	return backend.Credentials{"token": targetID, "adminToken": creds["token"]}, nil
}

func (f *fakeBackend) ExitImpersonation(ctx context.Context, creds backend.Credentials) (backend.Credentials, error) {
	return backend.Credentials{"token": creds["adminToken"]}, nil
}

func (f *fakeBackend) revoke(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[token] = true
}

func (f *fakeBackend) verifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifies
}

type fixture struct {
	provider *Provider
	backend  *fakeBackend
	store    *RedisStore
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sealer, err := NewSealer("session-secret")
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewRedisStore(client, sealer, time.Hour)
	fb := newFakeBackend()
	provider := NewProvider(fb, store, NewRedisLocker(client, 5*time.Second), NewBus(logger), cfg, logger)
	return fixture{provider: provider, backend: fb, store: store}
}

func TestLoginResolveLogout(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	p, err := f.provider.Resolve(ctx, "sid-1")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = f.provider.Login(ctx, "sid-1", "asha@atelier.test", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "u2", p.ID)

	p, err = f.provider.Resolve(ctx, "sid-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Can(access.FeatureProduct, access.ActionCreate))

	require.NoError(t, f.provider.Logout(ctx, "sid-1"))
	p, err = f.provider.Resolve(ctx, "sid-1")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, f.provider.Logout(ctx, "sid-1"))
	assert.Equal(t, 1, f.backend.logouts)
}

func TestLoginInvalidCredentialsKeepsAnonymous(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.provider.Login(ctx, "sid-1", "asha@atelier.test", "wrong")
	assert.ErrorIs(t, err, backend.ErrInvalidCredentials)

	st, err := f.store.Load(ctx, "sid-1")
	require.NoError(t, err)
	assert.False(t, st.Authenticated())
}

func TestLoginRejectedWhenAuthenticated(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.provider.Login(ctx, "sid-1", "asha@atelier.test", "correct horse")
	require.NoError(t, err)
	_, err = f.provider.Login(ctx, "sid-1", "admin@atelier.test", "correct horse")
	assert.ErrorIs(t, err, ErrAlreadyAuthenticated)
}

func TestImpersonationRoundTrip(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	events, cancel := f.provider.Bus().SubscribeSession("sid-1", 8)
	defer cancel()

	admin, err := f.provider.Login(ctx, "sid-1", "admin@atelier.test", "correct horse")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())

	target, err := f.provider.Impersonate(ctx, "sid-1", "u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", target.ID)
	assert.True(t, target.Impersonating)
	assert.False(t, target.IsAdmin())
	assert.False(t, access.CanAccess(target, access.FeatureTeam))

	resolved, err := f.provider.Resolve(ctx, "sid-1")
	require.NoError(t, err)
	assert.True(t, resolved.Impersonating)

	back, err := f.provider.ExitImpersonation(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, back.ID)
	assert.False(t, back.Impersonating)
	assert.True(t, access.CanAccess(back, access.FeatureTeam, access.ActionDelete))

	var kinds []Transition
	for len(kinds) < 3 {
		select {
		case ev := <-events:
			if ev.Kind() != TransitionResolve {
				kinds = append(kinds, ev.Kind())
			}
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", kinds)
		}
	}
	assert.Equal(t, []Transition{TransitionLogin, TransitionImpersonate, TransitionExit}, kinds)
}

func TestImpersonateRequiresAdmin(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.provider.Impersonate(ctx, "sid-1", "u2")
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = f.provider.Login(ctx, "sid-1", "asha@atelier.test", "correct horse")
	require.NoError(t, err)
	_, err = f.provider.Impersonate(ctx, "sid-1", "admin")
	assert.ErrorIs(t, err, ErrNotPermitted)

	_, err = f.provider.ExitImpersonation(ctx, "sid-1")
	assert.ErrorIs(t, err, ErrNotImpersonating)
}

func TestImpersonateWhileImpersonatingIsRejected(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.provider.Login(ctx, "sid-1", "admin@atelier.test", "correct horse")
	require.NoError(t, err)
	f.backend.users["u3"] = &access.Principal{ID: "u3", Role: access.RoleAdmin}
	_, err = f.provider.Impersonate(ctx, "sid-1", "u3")
	require.NoError(t, err)

	_, err = f.provider.Impersonate(ctx, "sid-1", "u2")
	assert.ErrorIs(t, err, ErrNotPermitted)
}

func TestForcedLogoutClearsGrantsMidImpersonation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	events, cancel := f.provider.Bus().Subscribe(8)
	defer cancel()

	_, err := f.provider.Login(ctx, "sid-1", "admin@atelier.test", "correct horse")
	require.NoError(t, err)
	_, err = f.provider.Impersonate(ctx, "sid-1", "u2")
	require.NoError(t, err)

	f.backend.revoke("u2")
	p, err := f.provider.Resolve(ctx, "sid-1")
	assert.ErrorIs(t, err, ErrExpired)
	assert.Nil(t, p)

	st, err := f.store.Load(ctx, "sid-1")
	require.NoError(t, err)
	assert.Nil(t, st.Principal)
	assert.True(t, st.Credentials.Empty())

	p, err = f.provider.Resolve(ctx, "sid-1")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.False(t, access.CanAccess(p, access.FeatureProduct))

	var expired *Expired
	for expired == nil {
		select {
		case ev := <-events:
			if e, ok := ev.(Expired); ok {
				expired = &e
			}
		case <-time.After(time.Second):
			t.Fatal("no expired event")
		}
	}
	assert.Equal(t, "u2", expired.Principal)
	assert.Equal(t, "sid-1", expired.SessionID())
}

func TestWithCredentialsExpiresOnUpstream401(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.provider.Login(ctx, "sid-1", "asha@atelier.test", "correct horse")
	require.NoError(t, err)

	err = f.provider.WithCredentials(ctx, "sid-1", func(creds backend.Credentials) error {
		assert.Equal(t, "u2", creds["token"])
		return backend.ErrUnauthorized
	})
	assert.ErrorIs(t, err, ErrExpired)

	_, err = f.provider.Credentials(ctx, "sid-1")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestPrincipalMaxAgeSkipsReverification(t *testing.T) {
	f := newFixture(t, Config{PrincipalMaxAge: time.Minute})
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.provider.now = func() time.Time { return now }

	_, err := f.provider.Login(ctx, "sid-1", "asha@atelier.test", "correct horse")
	require.NoError(t, err)
	base := f.backend.verifyCount()

	_, err = f.provider.Resolve(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, base, f.backend.verifyCount())

	now = now.Add(2 * time.Minute)
	_, err = f.provider.Resolve(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, base+1, f.backend.verifyCount())
}

func TestRevocationTakesEffectOnNextResolve(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.provider.Login(ctx, "sid-1", "asha@atelier.test", "correct horse")
	require.NoError(t, err)

	f.backend.mu.Lock()
	f.backend.users["u2"].Grants = []access.Grant{{Feature: access.FeatureProduct, Permissions: []access.Action{access.ActionView}}}
	f.backend.mu.Unlock()

	p, err := f.provider.Resolve(ctx, "sid-1")
	require.NoError(t, err)
	assert.False(t, p.Can(access.FeatureProduct, access.ActionCreate))
	assert.True(t, p.Can(access.FeatureProduct, access.ActionView))
}

func TestOverlappingTransitionsSerialize(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.provider.Login(ctx, "sid-1", "admin@atelier.test", "correct horse")
	require.NoError(t, err)
	before, err := f.store.Load(ctx, "sid-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.provider.Impersonate(ctx, "sid-1", "u2")
	}()
	go func() {
		defer wg.Done()
		_ = f.provider.Logout(ctx, "sid-1")
	}()
	wg.Wait()

	after, err := f.store.Load(ctx, "sid-1")
	require.NoError(t, err)
	assert.False(t, after.Authenticated())
	assert.Greater(t, after.Version, before.Version)
}

func TestExpireAnonymousIsNoop(t *testing.T) {
	f := newFixture(t, Config{})
	events, cancel := f.provider.Bus().Subscribe(1)
	defer cancel()

	require.NoError(t, f.provider.Expire(context.Background(), "sid-1", "test"))
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %v", ev.Kind())
	default:
	}
}
