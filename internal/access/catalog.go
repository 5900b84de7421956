package access

import (
	"errors"
	"fmt"
)

// Entry declares the actions a feature supports, in display order.
type Entry struct {
	Feature Feature
	Actions []Action
}

var catalog = []Entry{
	{Feature: FeatureTeam, Actions: []Action{ActionCreate, ActionEdit, ActionDelete, ActionView, ActionPatch}},
	{Feature: FeatureDashboard, Actions: []Action{ActionView}},
	{Feature: FeatureProfile, Actions: []Action{ActionView, ActionPatch}},
	{Feature: FeaturePermissions, Actions: []Action{ActionView, ActionEdit}},
	{Feature: FeatureProduct, Actions: []Action{ActionCreate, ActionEdit, ActionDelete, ActionView, ActionPatch}},
	{Feature: FeatureDesigner, Actions: []Action{ActionCreate, ActionEdit, ActionDelete, ActionView, ActionPatch}},
	{Feature: FeatureMaster, Actions: []Action{ActionCreate, ActionEdit, ActionDelete, ActionView, ActionPatch}},
}

// Catalog returns the declared feature/action matrix used when authoring grants.
// The evaluator does not consult it.
func Catalog() []Entry {
	out := make([]Entry, len(catalog))
	for i, e := range catalog {
		actions := make([]Action, len(e.Actions))
		copy(actions, e.Actions)
		out[i] = Entry{Feature: e.Feature, Actions: actions}
	}
	return out
}

// Declared returns the allowed actions of f; unknown features declare nothing.
func Declared(f Feature) ActionSet {
	for _, e := range catalog {
		if e.Feature == f {
			return NewActionSet(e.Actions...)
		}
	}
	return 0
}

// Validate checks the grant against the catalog.
func (g Grant) Validate() error {
	if !g.Feature.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownFeature, g.Feature)
	}
	var errs []error
	for _, a := range g.Permissions {
		if !a.Valid() {
			errs = append(errs, fmt.Errorf("%w: %s %d", ErrUnknownAction, g.Feature, a))
		}
	}
	declared := Declared(g.Feature)
	if held := g.Set(); !declared.Contains(held) {
		for _, a := range (held &^ declared).Actions() {
			errs = append(errs, fmt.Errorf("%w: %s %s", ErrActionNotDeclared, g.Feature, a))
		}
	}
	return errors.Join(errs...)
}

// ValidateGrants checks every grant and rejects duplicate features.
func ValidateGrants(grants []Grant) error {
	seen := make(map[Feature]struct{}, len(grants))
	var errs []error
	for _, g := range grants {
		if _, dup := seen[g.Feature]; dup {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateGrant, g.Feature))
			continue
		}
		seen[g.Feature] = struct{}{}
		if err := g.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
