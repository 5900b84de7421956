// Package users lists team members for the dashboard.
package users

import (
	"context"
	"sort"
	"strings"

	"github.com/bhunte/atelier/internal/backend"
)

// Backend lists team members upstream.
type Backend interface {
	ListUsers(ctx context.Context, creds backend.Credentials) ([]backend.User, error)
}

// Sessions lends the caller's upstream credentials.
type Sessions interface {
	WithCredentials(ctx context.Context, sid string, fn func(backend.Credentials) error) error
}

// Filter narrows a listing.
type Filter struct {
	Query      string
	ActiveOnly bool
}

func (f Filter) match(m Member) bool {
	if f.ActiveOnly && !m.Active {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(m.Name), q) || strings.Contains(strings.ToLower(m.Email), q)
}

// Service handles team listing.
type Service struct {
	backend  Backend
	sessions Sessions
}

// NewService builds Service instance.
func NewService(b Backend, sessions Sessions) *Service {
	return &Service{backend: b, sessions: sessions}
}

// ListMembers returns the members matching f ordered by name.
func (s *Service) ListMembers(ctx context.Context, sid string, f Filter) ([]Member, error) {
	var users []backend.User
	err := s.sessions.WithCredentials(ctx, sid, func(creds backend.Credentials) error {
		var err error
		users, err = s.backend.ListUsers(ctx, creds)
		return err
	})
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(users))
	for _, u := range users {
		m := fromBackend(u)
		if f.match(m) {
			members = append(members, m)
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		return strings.ToLower(members[i].Name) < strings.ToLower(members[j].Name)
	})
	return members, nil
}
