package backend

import (
	"errors"
	"fmt"

	"github.com/bhunte/atelier/internal/platform/httpx"
)

var (
	// ErrUnauthorized reports that the backend rejected the session credentials.
	ErrUnauthorized = fmt.Errorf("%w: backend rejected credentials", httpx.ErrUnauthorized)
	// ErrInvalidCredentials reports a failed login.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", httpx.ErrUnauthorized)
	// ErrMalformedPrincipal reports a session record missing its identity fields.
	ErrMalformedPrincipal = errors.New("backend: malformed principal record")
	// ErrRejected reports a request answered with success=false.
	ErrRejected = fmt.Errorf("%w: backend rejected request", httpx.ErrValidation)
)

// StatusError describes an unexpected HTTP status returned by the backend.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("backend: %s %s: status %d", e.Method, e.Path, e.Status)
}

// Unwrap maps the status onto the shared HTTP sentinels.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Status == 403:
		return httpx.ErrForbidden
	case e.Status == 404:
		return httpx.ErrNotFound
	case e.Status >= 400 && e.Status < 500:
		return httpx.ErrValidation
	default:
		return httpx.ErrBadGateway
	}
}
