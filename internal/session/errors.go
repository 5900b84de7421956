package session

import (
	"fmt"

	"github.com/bhunte/atelier/internal/platform/httpx"
)

var (
	// ErrExpired reports that the session was force-logged-out during the call.
	ErrExpired = fmt.Errorf("%w: session expired, please log in again", httpx.ErrUnauthorized)
	// ErrNotAuthenticated reports a transition that needs a principal.
	ErrNotAuthenticated = fmt.Errorf("%w: not signed in", httpx.ErrUnauthorized)
	// ErrAlreadyAuthenticated rejects a login over a live session.
	ErrAlreadyAuthenticated = fmt.Errorf("%w: already signed in", httpx.ErrConflict)
	// ErrNotPermitted rejects impersonation by non-admins or while impersonating.
	ErrNotPermitted = fmt.Errorf("%w: impersonation not permitted", httpx.ErrForbidden)
	// ErrNotImpersonating rejects exit without an active impersonation.
	ErrNotImpersonating = fmt.Errorf("%w: not impersonating", httpx.ErrConflict)
	// ErrBusy reports that another transition held the session for too long.
	ErrBusy = fmt.Errorf("%w: session busy", httpx.ErrUnavailable)
)
