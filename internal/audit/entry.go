// Package audit records session transitions: who signed in, who impersonated
// whom and which sessions were forcibly logged out.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/bhunte/atelier/internal/session"
)

// Entry is one audited session transition.
type Entry struct {
	EventID       string             `json:"event_id"`
	SessionRef    string             `json:"session_ref"`
	Transition    session.Transition `json:"transition"`
	PrincipalID   string             `json:"principal_id,omitempty"`
	Role          string             `json:"role,omitempty"`
	Impersonating bool               `json:"impersonating"`
	Reason        string             `json:"reason,omitempty"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

// SessionRef derives a stable reference for a session id. The id itself is a
// bearer secret and is never stored.
func SessionRef(sid string) string {
	sum := sha256.Sum256([]byte(sid))
	return hex.EncodeToString(sum[:8])
}

// EntryFromEvent converts a bus event. Resolve events that did not change the
// principal never reach the bus, so every event is worth an entry.
func EntryFromEvent(ev session.Event) Entry {
	e := Entry{
		EventID:    ev.EventID(),
		SessionRef: SessionRef(ev.SessionID()),
		Transition: ev.Kind(),
		OccurredAt: ev.OccurredAt().UTC(),
	}
	switch v := ev.(type) {
	case session.Changed:
		if v.Principal != nil {
			e.PrincipalID = v.Principal.ID
			e.Role = v.Principal.Role
			e.Impersonating = v.Principal.Impersonating
		}
	case session.Expired:
		e.PrincipalID = v.Principal
		e.Reason = v.Reason
	}
	return e
}
