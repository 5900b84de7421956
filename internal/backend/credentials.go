package backend

import (
	"net/http"
	"sort"
)

// Credentials are the cookies the backend issued for one browser session. They
// are kept server-side and attached to every upstream request.
type Credentials map[string]string

// Apply attaches the credentials to an outgoing request.
func (c Credentials) Apply(req *http.Request) {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		req.AddCookie(&http.Cookie{Name: name, Value: c[name]})
	}
}

// Merge returns a copy of c updated with the cookies set by a response. Cookies
// the backend clears (empty value or negative max-age) are removed.
func (c Credentials) Merge(cookies []*http.Cookie) Credentials {
	out := make(Credentials, len(c)+len(cookies))
	for k, v := range c {
		out[k] = v
	}
	for _, cookie := range cookies {
		if cookie == nil || cookie.Name == "" {
			continue
		}
		if cookie.Value == "" || cookie.MaxAge < 0 {
			delete(out, cookie.Name)
			continue
		}
		out[cookie.Name] = cookie.Value
	}
	return out
}

// Empty reports whether no credential is held.
func (c Credentials) Empty() bool {
	return len(c) == 0
}
