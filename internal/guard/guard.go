// Package guard decides whether a request may reach a protected view or API,
// using the session principal and the access evaluator.
package guard

import (
	"strings"

	"github.com/bhunte/atelier/internal/access"
)

// Decision is the outcome of evaluating a requirement.
type Decision int

const (
	// Allow lets the request through.
	Allow Decision = iota
	// Login sends an anonymous caller to the public entry point.
	Login
	// Unauthorized denies an authenticated caller without saying why.
	Unauthorized
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Login:
		return "login"
	case Unauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Requirement is what a route asks of the principal. The zero value only
// requires an authenticated session.
type Requirement struct {
	Feature access.Feature
	Actions []access.Action
}

// Authenticated requires a principal and nothing else.
func Authenticated() Requirement {
	return Requirement{}
}

// Feature requires a grant for f with any actions.
func Feature(f access.Feature) Requirement {
	return Requirement{Feature: f}
}

// Action requires a grant for f holding every listed action.
func Action(f access.Feature, actions ...access.Action) Requirement {
	return Requirement{Feature: f, Actions: actions}
}

func (r Requirement) String() string {
	if r.Feature == "" {
		return "authenticated"
	}
	if len(r.Actions) == 0 {
		return string(r.Feature)
	}
	names := make([]string, len(r.Actions))
	for i, a := range r.Actions {
		names[i] = a.String()
	}
	return string(r.Feature) + ":" + strings.Join(names, "+")
}

// Evaluate decides req for p. The evaluator is not consulted for an absent principal.
func Evaluate(p *access.Principal, req Requirement) Decision {
	if p == nil {
		return Login
	}
	if req.Feature == "" {
		return Allow
	}
	if access.CanAccess(p, req.Feature, req.Actions...) {
		return Allow
	}
	return Unauthorized
}
