package shared

import (
	"context"

	"github.com/bhunte/atelier/internal/access"
)

type sessionContextKey struct{}

type principalContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// SessionID returns the id of the session in ctx, or "".
func SessionID(ctx context.Context) string {
	if sess := SessionFromContext(ctx); sess != nil {
		return sess.ID
	}
	return ""
}

// ContextWithPrincipal stores the principal resolved for this request.
func ContextWithPrincipal(ctx context.Context, p *access.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal resolved by the guard, or nil.
func PrincipalFromContext(ctx context.Context) *access.Principal {
	p, _ := ctx.Value(principalContextKey{}).(*access.Principal)
	return p
}
