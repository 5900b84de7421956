// Package permissions serves the permission catalog and lets authorised
// users read and replace the grants of a team member.
package permissions

import (
	"context"
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bhunte/atelier/internal/access"
	"github.com/bhunte/atelier/internal/backend"
	"github.com/bhunte/atelier/internal/platform/httpx"
)

// Backend persists grants upstream.
type Backend interface {
	UserGrants(ctx context.Context, creds backend.Credentials, userID string) ([]access.Grant, error)
	SaveGrants(ctx context.Context, creds backend.Credentials, userID string, grants []access.Grant) error
}

// Sessions lends the caller's upstream credentials.
type Sessions interface {
	WithCredentials(ctx context.Context, sid string, fn func(backend.Credentials) error) error
}

// ActionLabel describes one action of a catalog feature.
type ActionLabel struct {
	Code  access.Action `json:"code"`
	Name  string        `json:"name"`
	Label string        `json:"label"`
}

// FeatureEntry is one row of the permission matrix.
type FeatureEntry struct {
	Feature access.Feature `json:"feature"`
	Label   string         `json:"label"`
	Actions []ActionLabel  `json:"actions"`
}

// Service reads and writes grants through the caller's session.
type Service struct {
	backend  Backend
	sessions Sessions
}

// NewService constructs a Service.
func NewService(b Backend, sessions Sessions) *Service {
	return &Service{backend: b, sessions: sessions}
}

// Catalog returns the declared matrix with display labels.
func Catalog() []FeatureEntry {
	title := cases.Title(language.English)
	entries := access.Catalog()
	out := make([]FeatureEntry, 0, len(entries))
	for _, e := range entries {
		fe := FeatureEntry{Feature: e.Feature, Label: title.String(string(e.Feature)), Actions: make([]ActionLabel, 0, len(e.Actions))}
		for _, a := range e.Actions {
			fe.Actions = append(fe.Actions, ActionLabel{Code: a, Name: a.String(), Label: title.String(a.String())})
		}
		out = append(out, fe)
	}
	return out
}

// UserGrants returns the grants stored for userID.
func (s *Service) UserGrants(ctx context.Context, sid, userID string) ([]access.Grant, error) {
	var grants []access.Grant
	err := s.sessions.WithCredentials(ctx, sid, func(creds backend.Credentials) error {
		var err error
		grants, err = s.backend.UserGrants(ctx, creds, userID)
		return err
	})
	return grants, err
}

// SaveGrants replaces the grants of userID after checking them against the catalog.
func (s *Service) SaveGrants(ctx context.Context, sid, userID string, grants []access.Grant) error {
	if err := access.ValidateGrants(grants); err != nil {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return s.sessions.WithCredentials(ctx, sid, func(creds backend.Credentials) error {
		return s.backend.SaveGrants(ctx, creds, userID, grants)
	})
}
