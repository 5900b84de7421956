// Package proxy forwards the feature APIs to the backend on behalf of the
// browser session.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bhunte/atelier/internal/access"
	"github.com/bhunte/atelier/internal/backend"
	"github.com/bhunte/atelier/internal/guard"
	"github.com/bhunte/atelier/internal/platform/httpx"
	"github.com/bhunte/atelier/internal/shared"
)

// Features are the feature APIs served through the proxy.
var Features = []access.Feature{
	access.FeatureProduct,
	access.FeatureMaster,
	access.FeatureDashboard,
	access.FeatureDesigner,
}

// Sessions supplies and revokes upstream credentials.
type Sessions interface {
	Credentials(ctx context.Context, sid string) (backend.Credentials, error)
	Expire(ctx context.Context, sid, reason string) error
}

var (
	errUpstreamRejected = errors.New("proxy: backend rejected credentials")
	errDotSegment       = errors.New("proxy: dot segment in path")
)

type credsKey struct{}

// Proxy forwards guarded feature requests upstream.
type Proxy struct {
	target   *url.URL
	sessions Sessions
	guard    guard.Middleware
	logger   *slog.Logger
	rp       *httputil.ReverseProxy
}

// New builds a Proxy for the backend at target. A nil transport uses the
// default one.
func New(target *url.URL, sessions Sessions, g guard.Middleware, transport http.RoundTripper, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Proxy{target: target, sessions: sessions, guard: g, logger: logger}
	p.rp = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		Transport:      transport,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.errorHandler,
	}
	return p
}

// MountRoutes registers one guarded subtree per feature.
func (p *Proxy) MountRoutes(r chi.Router) {
	for _, f := range Features {
		r.Route("/"+string(f), func(r chi.Router) {
			r.Use(p.guard.ProtectAPI(f))
			r.Handle("/*", p.forward(f))
		})
	}
}

func (p *Proxy) forward(f access.Feature) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds, err := p.sessions.Credentials(r.Context(), shared.SessionID(r.Context()))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		decoded, escaped, err := subpath(r)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest), "invalid path")
			return
		}
		out := r.Clone(context.WithValue(r.Context(), credsKey{}, creds))
		prefix := "/" + string(f) + "/"
		out.URL.Path = prefix + decoded
		out.URL.RawPath = ""
		if escaped != "" {
			out.URL.RawPath = prefix + escaped
		}
		p.rp.ServeHTTP(w, out)
	})
}

// subpath returns the wildcard remainder of r decoded, plus its escaped form
// when the request carried one. Dot segments are rejected so the upstream path
// stays inside the guarded feature.
func subpath(r *http.Request) (decoded, escaped string, err error) {
	rest := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	decoded = rest
	if r.URL.RawPath != "" {
		escaped = rest
		if decoded, err = url.PathUnescape(rest); err != nil {
			return "", "", err
		}
	}
	for _, seg := range strings.Split(decoded, "/") {
		if seg == ".." || seg == "." {
			return "", "", errDotSegment
		}
	}
	return decoded, escaped, nil
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(p.target)
	pr.SetXForwarded()
	pr.Out.Header.Del("Cookie")
	pr.Out.Header.Del("Authorization")
	pr.Out.Header.Del(shared.CSRFHeader)
	if creds, ok := pr.In.Context().Value(credsKey{}).(backend.Credentials); ok {
		creds.Apply(pr.Out)
	}
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	resp.Header.Del("Set-Cookie")
	if resp.StatusCode != http.StatusUnauthorized {
		return nil
	}
	ctx := resp.Request.Context()
	if err := p.sessions.Expire(ctx, shared.SessionID(ctx), "backend rejected credentials"); err != nil {
		p.logger.Error("expire session", slog.Any("error", err))
	}
	return errUpstreamRejected
}

func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errUpstreamRejected) {
		httpx.Problem(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized), "session expired, please log in again")
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	p.logger.Error("proxy upstream", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.Problem(w, http.StatusBadGateway, http.StatusText(http.StatusBadGateway), "")
}
