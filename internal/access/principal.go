package access

// RoleAdmin is the role with unconditional access to every feature and action.
const RoleAdmin = "admin"

// Grant lists the actions a principal holds on one feature.
type Grant struct {
	Feature     Feature  `json:"feature"`
	Permissions []Action `json:"permission"`
}

// Allows reports whether the grant includes a.
func (g Grant) Allows(a Action) bool {
	for _, p := range g.Permissions {
		if p == a {
			return true
		}
	}
	return false
}

// Set returns the grant's permissions as a bitmask.
func (g Grant) Set() ActionSet {
	return NewActionSet(g.Permissions...)
}

func (g Grant) clone() Grant {
	perms := make([]Action, len(g.Permissions))
	copy(perms, g.Permissions)
	return Grant{Feature: g.Feature, Permissions: perms}
}

// Principal is the authenticated (or impersonated) identity of a browser session.
// Values handed to the evaluator are never mutated by it.
type Principal struct {
	ID            string  `json:"id"`
	Name          string  `json:"name,omitempty"`
	Email         string  `json:"email,omitempty"`
	Role          string  `json:"role"`
	Category      string  `json:"category,omitempty"`
	Grants        []Grant `json:"access"`
	Impersonating bool    `json:"isImpersonating"`
}

// IsAdmin reports whether the principal carries the admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Grant returns the grant for f, if any.
func (p *Principal) Grant(f Feature) (Grant, bool) {
	if p == nil {
		return Grant{}, false
	}
	for i := len(p.Grants) - 1; i >= 0; i-- {
		if p.Grants[i].Feature == f {
			return p.Grants[i], true
		}
	}
	return Grant{}, false
}

// Can is CanAccess bound to p.
func (p *Principal) Can(f Feature, action ...Action) bool {
	return CanAccess(p, f, action...)
}

// Clone returns a deep copy of p.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	out := *p
	out.Grants = make([]Grant, len(p.Grants))
	for i, g := range p.Grants {
		out.Grants[i] = g.clone()
	}
	return &out
}

// NormalizeGrants collapses duplicate features so that each feature appears once,
// at the position of its first occurrence, holding the permissions of its last.
func NormalizeGrants(grants []Grant) []Grant {
	out := make([]Grant, 0, len(grants))
	index := make(map[Feature]int, len(grants))
	for _, g := range grants {
		if i, ok := index[g.Feature]; ok {
			out[i] = g.clone()
			continue
		}
		index[g.Feature] = len(out)
		out = append(out, g.clone())
	}
	return out
}
