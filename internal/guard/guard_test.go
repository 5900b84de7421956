package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhunte/atelier/internal/access"
	"github.com/bhunte/atelier/internal/platform/httpx"
	"github.com/bhunte/atelier/internal/shared"
)

type stubSource struct {
	principals map[string]*access.Principal
	errs       map[string]error
	calls      int
}

func (s *stubSource) Resolve(ctx context.Context, sid string) (*access.Principal, error) {
	s.calls++
	if err := s.errs[sid]; err != nil {
		return nil, err
	}
	return s.principals[sid].Clone(), nil
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRecorder) ObserveDecision(feature, decision string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[feature+"/"+decision]++
}

var manager = &access.Principal{
	ID:       "u2",
	Role:     "Manager",
	Category: "Production",
	Grants: []access.Grant{
		{Feature: access.FeatureProduct, Permissions: []access.Action{access.ActionCreate, access.ActionView}},
	},
}

func newTestRouter(source PrincipalSource, recorder DecisionRecorder) http.Handler {
	m := Middleware{Sessions: source, Metrics: recorder}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess := &shared.Session{ID: req.Header.Get("X-Test-Session")}
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	m.MountEntry(r)
	r.Route("/dashboard", m.MountDashboard)
	r.Route("/api/product", func(r chi.Router) {
		r.Use(m.ProtectAPI(access.FeatureProduct))
		r.HandleFunc("/*", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
	return r
}

func get(t *testing.T, h http.Handler, method, path, sid string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Test-Session", sid)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestEvaluate(t *testing.T) {
	assert.Equal(t, Login, Evaluate(nil, Authenticated()))
	assert.Equal(t, Login, Evaluate(nil, Action(access.FeatureTeam, access.ActionView)))
	assert.Equal(t, Allow, Evaluate(manager, Authenticated()))
	assert.Equal(t, Allow, Evaluate(manager, Feature(access.FeatureProduct)))
	assert.Equal(t, Allow, Evaluate(manager, Action(access.FeatureProduct, access.ActionCreate)))
	assert.Equal(t, Unauthorized, Evaluate(manager, Action(access.FeatureProduct, access.ActionDelete)))
	assert.Equal(t, Unauthorized, Evaluate(manager, Feature(access.FeatureTeam)))

	admin := &access.Principal{ID: "a", Role: access.RoleAdmin}
	for _, f := range access.Features() {
		for _, a := range access.Actions() {
			assert.Equal(t, Allow, Evaluate(admin, Action(f, a)), "%s/%s", f, a)
		}
	}
}

func TestRequirementString(t *testing.T) {
	assert.Equal(t, "authenticated", Authenticated().String())
	assert.Equal(t, "team", Feature(access.FeatureTeam).String())
	assert.Equal(t, "team:view+patch", Action(access.FeatureTeam, access.ActionView, access.ActionPatch).String())
}

func TestManagerIsRedirectedFromTeam(t *testing.T) {
	recorder := &countingRecorder{}
	h := newTestRouter(&stubSource{principals: map[string]*access.Principal{"s": manager}}, recorder)

	rr := get(t, h, http.MethodGet, "/dashboard/team", "s")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, DefaultUnauthorizedPath, rr.Header().Get("Location"))

	rr = get(t, h, http.MethodGet, "/dashboard/unauthorized", "s")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = get(t, h, http.MethodGet, "/dashboard/profile", "s")
	require.Equal(t, http.StatusOK, rr.Code)
	var view View
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&view))
	assert.Equal(t, "profile", view.View)
	assert.Equal(t, "u2", view.Principal.ID)

	assert.Equal(t, 1, recorder.counts["team/unauthorized"])
}

func TestAnonymousIsSentToEntry(t *testing.T) {
	source := &stubSource{}
	h := newTestRouter(source, nil)

	for _, route := range DashboardRoutes {
		path := "/dashboard" + route.Pattern
		if route.Pattern == "/" {
			path = "/dashboard/"
		}
		path = chiParam(path)
		rr := get(t, h, http.MethodGet, path, "anon")
		assert.Equal(t, http.StatusSeeOther, rr.Code, path)
		assert.Equal(t, DefaultLoginPath, rr.Header().Get("Location"), path)
	}

	rr := get(t, h, http.MethodGet, "/", "anon")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"view":"login"`)
}

func chiParam(path string) string {
	if n := len(path); n > 4 && path[n-4:] == "{id}" {
		return path[:n-4] + "e42"
	}
	return path
}

func TestEntryRedirectsSignedInCaller(t *testing.T) {
	h := newTestRouter(&stubSource{principals: map[string]*access.Principal{"s": manager}}, nil)
	rr := get(t, h, http.MethodGet, "/", "s")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/dashboard", rr.Header().Get("Location"))
}

func TestExpiredSessionRedirectsWithReason(t *testing.T) {
	expired := fmt.Errorf("%w: session expired", httpx.ErrUnauthorized)
	h := newTestRouter(&stubSource{errs: map[string]error{"s": expired}}, nil)

	rr := get(t, h, http.MethodGet, "/dashboard/profile", "s")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/?reason=expired", rr.Header().Get("Location"))

	rr = get(t, h, http.MethodGet, "/api/product/list", "s")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "session expired")
}

func TestResolveFailureIsUnavailable(t *testing.T) {
	h := newTestRouter(&stubSource{errs: map[string]error{"s": errors.New("redis down")}}, nil)
	rr := get(t, h, http.MethodGet, "/dashboard/profile", "s")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestEditViewCarriesParams(t *testing.T) {
	admin := &access.Principal{ID: "a", Role: access.RoleAdmin}
	h := newTestRouter(&stubSource{principals: map[string]*access.Principal{"s": admin}}, nil)

	rr := get(t, h, http.MethodGet, "/dashboard/edit-employee/e42", "s")
	require.Equal(t, http.StatusOK, rr.Code)
	var view View
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&view))
	assert.Equal(t, "edit-employee", view.View)
	assert.Equal(t, "e42", view.Params["id"])
}

func TestProtectAPIDerivesAction(t *testing.T) {
	h := newTestRouter(&stubSource{principals: map[string]*access.Principal{"s": manager}}, nil)

	cases := []struct {
		method string
		status int
	}{
		{http.MethodGet, http.StatusNoContent},
		{http.MethodPost, http.StatusNoContent},
		{http.MethodPut, http.StatusForbidden},
		{http.MethodPatch, http.StatusForbidden},
		{http.MethodDelete, http.StatusForbidden},
		{http.MethodTrace, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		rr := get(t, h, tc.method, "/api/product/items", "s")
		assert.Equal(t, tc.status, rr.Code, tc.method)
	}

	rr := get(t, h, http.MethodGet, "/api/product/items", "nobody")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestDenialsLookAlike(t *testing.T) {
	h := newTestRouter(&stubSource{principals: map[string]*access.Principal{
		"no-grant":  {ID: "x", Role: "Casting"},
		"no-action": manager,
	}}, nil)

	a := get(t, h, http.MethodDelete, "/api/product/items", "no-grant")
	b := get(t, h, http.MethodDelete, "/api/product/items", "no-action")
	assert.Equal(t, http.StatusForbidden, a.Code)
	assert.Equal(t, a.Code, b.Code)
	assert.Equal(t, a.Body.String(), b.Body.String())
}

func TestEveryNavigationReevaluates(t *testing.T) {
	source := &stubSource{principals: map[string]*access.Principal{"s": manager}}
	h := newTestRouter(source, nil)

	get(t, h, http.MethodGet, "/dashboard/profile", "s")
	get(t, h, http.MethodGet, "/dashboard/profile", "s")
	assert.Equal(t, 2, source.calls)
}

func TestActionForMethod(t *testing.T) {
	a, ok := ActionForMethod(http.MethodHead)
	assert.True(t, ok)
	assert.Equal(t, access.ActionView, a)
	_, ok = ActionForMethod("CONNECT")
	assert.False(t, ok)
}
