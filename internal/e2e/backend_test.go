package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type grantRecord struct {
	Feature    string `json:"feature"`
	Permission []int  `json:"permission"`
}

type userRecord struct {
	ID              string        `json:"_id"`
	Name            string        `json:"name"`
	Email           string        `json:"email"`
	Role            string        `json:"role"`
	Category        string        `json:"category"`
	Access          []grantRecord `json:"access"`
	IsImpersonating bool          `json:"isImpersonating"`
	Status          bool          `json:"status"`
}

// fakeBackend mimics the dashboard REST backend: cookie tokens, verify,
// impersonation, permission storage and a product API behind the proxy.
type fakeBackend struct {
	mu       sync.Mutex
	users    map[string]*userRecord
	byEmail  map[string]string
	revoked  map[string]bool
	received []string
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{
		users:   map[string]*userRecord{},
		byEmail: map[string]string{},
		revoked: map[string]bool{},
	}
	b.add(&userRecord{ID: "admin", Name: "Root", Email: "root@atelier.test", Role: "admin", Category: "Admin", Status: true})
	b.add(&userRecord{ID: "u2", Name: "Asha", Email: "asha@atelier.test", Role: "Manager", Category: "Production", Status: true,
		Access: []grantRecord{
			{Feature: "product", Permission: []int{1, 3}},
			{Feature: "profile", Permission: []int{3, 4}},
		}})
	b.add(&userRecord{ID: "u3", Name: "Bram", Email: "bram@atelier.test", Role: "Casting", Status: false})
	return b
}

func (b *fakeBackend) add(u *userRecord) {
	b.users[u.ID] = u
	b.byEmail[u.Email] = u.ID
}

func (b *fakeBackend) revoke(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[id] = true
}

func (b *fakeBackend) requests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.received...)
}

func (b *fakeBackend) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)
	return srv
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	token := cookie(r, "token")
	adminToken := cookie(r, "adminToken")
	caller, known := b.users[token]
	authenticated := known && !b.revoked[token]

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/auth/login":
		var body struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		id, ok := b.byEmail[body.Email]
		if !ok || body.Password != "correct horse" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid credentials"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "token", Value: id, Path: "/"})
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case !authenticated:
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Unauthorized"})
	case r.URL.Path == "/auth/verify-token":
		u := *caller
		u.IsImpersonating = adminToken != ""
		writeJSON(w, http.StatusOK, map[string]any{"user": u})
	case r.URL.Path == "/auth/logout":
		http.SetCookie(w, &http.Cookie{Name: "token", Value: "", MaxAge: -1})
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case strings.HasPrefix(r.URL.Path, "/auth/impersonate/"):
		target := strings.TrimPrefix(r.URL.Path, "/auth/impersonate/")
		if caller.Role != "admin" || b.users[target] == nil {
			writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "message": "Forbidden"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "adminToken", Value: token})
		http.SetCookie(w, &http.Cookie{Name: "token", Value: target})
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case r.URL.Path == "/auth/exitimpersonate":
		http.SetCookie(w, &http.Cookie{Name: "token", Value: adminToken})
		http.SetCookie(w, &http.Cookie{Name: "adminToken", Value: "", MaxAge: -1})
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case r.URL.Path == "/admin/get-all-user":
		users := make([]userRecord, 0, len(b.users))
		for _, u := range b.users {
			users = append(users, *u)
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case strings.HasPrefix(r.URL.Path, "/admin/get-permissions/"):
		u := b.users[strings.TrimPrefix(r.URL.Path, "/admin/get-permissions/")]
		if u == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "User not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"permissions": map[string]any{"access": u.Access}})
	case r.Method == http.MethodPut && r.URL.Path == "/admin/save-permissions":
		var body struct {
			UserID string        `json:"userId"`
			Access []grantRecord `json:"access"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if u := b.users[body.UserID]; u != nil {
			u.Access = body.Access
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case strings.HasPrefix(r.URL.Path, "/product/"):
		b.received = append(b.received, r.Method+" "+r.URL.Path+" token="+token+" browser="+cookie(r, "atelier_session"))
		writeJSON(w, http.StatusOK, map[string]any{"items": []string{"ring", "pendant"}})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Not found"})
	}
}

func cookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
