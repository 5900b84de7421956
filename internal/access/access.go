// Package access holds the dashboard authorization model: the closed feature and
// action vocabularies shared with the backend, the per-principal grants and the
// evaluator that gates routes, navigation items and action buttons.
package access

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Feature names a protectable area of the dashboard.
type Feature string

// Known features.
const (
	FeatureTeam        Feature = "team"
	FeatureDashboard   Feature = "dashboard"
	FeatureProfile     Feature = "profile"
	FeaturePermissions Feature = "permissions"
	FeatureProduct     Feature = "product"
	FeatureDesigner    Feature = "designer"
	FeatureMaster      Feature = "master"
)

var features = []Feature{
	FeatureTeam,
	FeatureDashboard,
	FeatureProfile,
	FeaturePermissions,
	FeatureProduct,
	FeatureDesigner,
	FeatureMaster,
}

// Features returns every known feature in declaration order.
func Features() []Feature {
	out := make([]Feature, len(features))
	copy(out, features)
	return out
}

// Valid reports whether f belongs to the known feature set.
func (f Feature) Valid() bool {
	for _, known := range features {
		if f == known {
			return true
		}
	}
	return false
}

// ParseFeature resolves a feature name, ignoring case and surrounding spaces.
func ParseFeature(raw string) (Feature, error) {
	f := Feature(strings.ToLower(strings.TrimSpace(raw)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownFeature, raw)
	}
	return f, nil
}

// Action is a fine-grained operation on a feature. The integer codes are part of
// the wire contract with the backend and must not be renumbered.
type Action int

// Known actions.
const (
	ActionEdit   Action = 0
	ActionCreate Action = 1
	ActionDelete Action = 2
	ActionView   Action = 3
	ActionPatch  Action = 4
)

var actionNames = [...]string{
	ActionEdit:   "edit",
	ActionCreate: "create",
	ActionDelete: "delete",
	ActionView:   "view",
	ActionPatch:  "patch",
}

// Actions returns every known action ordered by code.
func Actions() []Action {
	return []Action{ActionEdit, ActionCreate, ActionDelete, ActionView, ActionPatch}
}

// Valid reports whether a is one of the known action codes.
func (a Action) Valid() bool {
	return a >= 0 && int(a) < len(actionNames)
}

func (a Action) String() string {
	if !a.Valid() {
		return "action(" + strconv.Itoa(int(a)) + ")"
	}
	return actionNames[a]
}

// ParseAction accepts an action name ("view") or its integer code ("3").
func ParseAction(raw string) (Action, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for code, name := range actionNames {
		if raw == name {
			return Action(code), nil
		}
	}
	code, err := strconv.Atoi(raw)
	if err != nil || code < 0 || code >= len(actionNames) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, raw)
	}
	return Action(code), nil
}

// ActionFromCode converts a backend integer code.
func ActionFromCode(code int) (Action, error) {
	if code < 0 || code >= len(actionNames) {
		return 0, fmt.Errorf("%w: code %d", ErrUnknownAction, code)
	}
	return Action(code), nil
}

// ActionSet is a bitmask of actions.
type ActionSet uint8

// NewActionSet builds a set from the given actions; invalid actions are ignored.
func NewActionSet(actions ...Action) ActionSet {
	var s ActionSet
	for _, a := range actions {
		if a.Valid() {
			s |= 1 << a
		}
	}
	return s
}

// Has reports whether a is in the set.
func (s ActionSet) Has(a Action) bool {
	return a.Valid() && s&(1<<a) != 0
}

// Contains reports whether every action of other is in s.
func (s ActionSet) Contains(other ActionSet) bool {
	return s&other == other
}

// Actions lists the members ordered by code.
func (s ActionSet) Actions() []Action {
	var out []Action
	for _, a := range Actions() {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

var (
	// ErrUnknownFeature reports a feature outside the known set.
	ErrUnknownFeature = errors.New("access: unknown feature")
	// ErrUnknownAction reports an action code outside the known set.
	ErrUnknownAction = errors.New("access: unknown action")
	// ErrActionNotDeclared reports an action the feature does not support.
	ErrActionNotDeclared = errors.New("access: action not declared for feature")
	// ErrDuplicateGrant reports two grants for the same feature.
	ErrDuplicateGrant = errors.New("access: duplicate grant")
)
