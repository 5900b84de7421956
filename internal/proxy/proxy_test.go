package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhunte/atelier/internal/access"
	"github.com/bhunte/atelier/internal/backend"
	"github.com/bhunte/atelier/internal/guard"
	"github.com/bhunte/atelier/internal/shared"
)

type fakeSessions struct {
	mu      sync.Mutex
	expired []string
}

func (f *fakeSessions) Credentials(ctx context.Context, sid string) (backend.Credentials, error) {
	return backend.Credentials{"token": "upstream-" + sid}, nil
}

func (f *fakeSessions) Expire(ctx context.Context, sid, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, sid)
	return nil
}

type principals map[string]*access.Principal

func (p principals) Resolve(ctx context.Context, sid string) (*access.Principal, error) {
	return p[sid], nil
}

type seen struct {
	method, path, rawPath, query, cookie, csrf, body string
}

type recorder struct {
	mu   sync.Mutex
	last seen
}

func (r *recorder) get() seen {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func newUpstream(t *testing.T) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.last = seen{
			method:  r.Method,
			path:    r.URL.Path,
			rawPath: r.URL.EscapedPath(),
			query:   r.URL.RawQuery,
			cookie:  r.Header.Get("Cookie"),
			csrf:    r.Header.Get(shared.CSRFHeader),
			body:    string(body),
		}
		rec.mu.Unlock()
		if strings.HasSuffix(r.URL.Path, "/revoked") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "token", Value: "rotated"})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func newRouter(t *testing.T, upstream string, sessions Sessions) http.Handler {
	t.Helper()
	target, err := url.Parse(upstream)
	require.NoError(t, err)
	g := guard.Middleware{Sessions: principals{
		"maker": {ID: "u2", Role: "Manager", Category: "Production", Grants: []access.Grant{
			{Feature: access.FeatureProduct, Permissions: []access.Action{access.ActionCreate, access.ActionView}},
		}},
	}}
	p := New(target, sessions, g, nil, nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess := &shared.Session{ID: req.Header.Get("X-Test-Session")}
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	r.Route("/api", p.MountRoutes)
	return r
}

func send(h http.Handler, method, target, sid, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("X-Test-Session", sid)
	req.Header.Set("Cookie", "atelier_session=browser")
	req.Header.Set(shared.CSRFHeader, "csrf-secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestForwardSwapsCredentials(t *testing.T) {
	upstream, rec := newUpstream(t)
	h := newRouter(t, upstream.URL, &fakeSessions{})

	rr := send(h, http.MethodPost, "/api/product/add-product?draft=1", "maker", `{"name":"ring"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"ok":true}`, rr.Body.String())
	assert.Empty(t, rr.Header().Values("Set-Cookie"))

	got := rec.get()
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/product/add-product", got.path)
	assert.Equal(t, "draft=1", got.query)
	assert.Equal(t, "token=upstream-maker", got.cookie)
	assert.Empty(t, got.csrf)
	assert.Equal(t, `{"name":"ring"}`, got.body)
}

func TestForwardIsGuarded(t *testing.T) {
	upstream, rec := newUpstream(t)
	h := newRouter(t, upstream.URL, &fakeSessions{})

	rr := send(h, http.MethodDelete, "/api/product/delete-product/9", "maker", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = send(h, http.MethodGet, "/api/master/categories", "maker", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = send(h, http.MethodGet, "/api/product/list", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, rec.get().path)
}

func TestForwardStaysInsideFeature(t *testing.T) {
	upstream, rec := newUpstream(t)
	h := newRouter(t, upstream.URL, &fakeSessions{})

	for _, target := range []string{
		"/api/product/../master/categories",
		"/api/product/list/../../master/categories",
		"/api/product/..%2Fmaster%2Fcategories",
		"/api/product/%2E%2E/master/categories",
		"/api/product/./list",
	} {
		rr := send(h, http.MethodGet, target, "maker", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
	assert.Empty(t, rec.get().path)
}

func TestForwardPreservesEscaping(t *testing.T) {
	upstream, rec := newUpstream(t)
	h := newRouter(t, upstream.URL, &fakeSessions{})

	rr := send(h, http.MethodGet, "/api/product/sku%2F42", "maker", "")
	require.Equal(t, http.StatusOK, rr.Code)
	got := rec.get()
	assert.Equal(t, "/product/sku/42", got.path)
	assert.Equal(t, "/product/sku%2F42", got.rawPath)

	rr = send(h, http.MethodGet, "/api/product/items/7", "maker", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "/product/items/7", rec.get().rawPath)
}

func TestUpstreamRejectionExpiresSession(t *testing.T) {
	upstream, _ := newUpstream(t)
	sessions := &fakeSessions{}
	h := newRouter(t, upstream.URL, sessions)

	rr := send(h, http.MethodGet, "/api/product/revoked", "maker", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "session expired")
	assert.Equal(t, []string{"maker"}, sessions.expired)
}

func TestUnreachableUpstreamIsBadGateway(t *testing.T) {
	upstream, _ := newUpstream(t)
	addr := upstream.URL
	upstream.Close()
	h := newRouter(t, addr, &fakeSessions{})

	rr := send(h, http.MethodGet, "/api/product/list", "maker", "")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}
