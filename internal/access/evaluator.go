package access

// CanAccess decides whether p may use feature f and, when given, every listed action.
//
// The decision fails closed: a nil principal is denied, a missing grant is denied
// and an action outside the grant is denied. The admin role is allowed without
// looking at grants. With no action the check only asks whether the feature is
// granted at all, which is what navigation visibility uses; a grant with an empty
// permission list therefore passes that check and fails every action check.
func CanAccess(p *Principal, f Feature, action ...Action) bool {
	if p == nil {
		return false
	}
	if p.Role == RoleAdmin {
		return true
	}
	grant, ok := p.Grant(f)
	if !ok {
		return false
	}
	for _, a := range action {
		if !grant.Allows(a) {
			return false
		}
	}
	return true
}
