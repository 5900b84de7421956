package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bhunte/atelier/internal/platform/db"
	"github.com/bhunte/atelier/internal/session"
)

// Schema creates the audit table.
const Schema = `
CREATE TABLE IF NOT EXISTS access_audit (
	event_id      UUID PRIMARY KEY,
	session_ref   TEXT NOT NULL,
	transition    TEXT NOT NULL,
	principal_id  TEXT,
	role          TEXT,
	impersonating BOOLEAN NOT NULL DEFAULT FALSE,
	reason        TEXT,
	occurred_at   TIMESTAMPTZ NOT NULL,
	recorded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS access_audit_principal_idx ON access_audit (principal_id, occurred_at DESC);
`

const insertEntry = `INSERT INTO access_audit (event_id, session_ref, transition, principal_id, role, impersonating, reason, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const selectTimeline = `SELECT event_id::text, session_ref, transition, principal_id, role, impersonating, reason, occurred_at
FROM access_audit
WHERE ($1::text IS NULL OR principal_id = $1) AND occurred_at < $2
ORDER BY occurred_at DESC
LIMIT $3`

// ErrDuplicate reports an entry that was already recorded.
var ErrDuplicate = errors.New("audit: entry already recorded")

// DB is the subset of pgxpool.Pool the recorder uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Recorder persists audit entries.
type Recorder struct {
	db DB
}

// NewRecorder constructs a Recorder.
func NewRecorder(db DB) *Recorder {
	return &Recorder{db: db}
}

// EnsureSchema applies Schema in one transaction.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, Schema); err != nil {
			return fmt.Errorf("audit: apply schema: %w", err)
		}
		return nil
	})
}

// Record stores e. Recording the same event twice yields ErrDuplicate.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit: recorder not configured")
	}
	if e.EventID == "" {
		return errors.New("audit: event id required")
	}
	_, err := r.db.Exec(ctx, insertEntry,
		e.EventID, e.SessionRef, string(e.Transition),
		optionalText(e.PrincipalID), optionalText(e.Role), e.Impersonating, optionalText(e.Reason),
		pgtype.Timestamptz{Time: e.OccurredAt, Valid: true},
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// TimelineFilter narrows a timeline query.
type TimelineFilter struct {
	PrincipalID string
	Before      time.Time
	Limit       int
}

// Timeline returns entries newest first.
func (r *Recorder) Timeline(ctx context.Context, f TimelineFilter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	before := f.Before
	if before.IsZero() {
		before = time.Now().UTC().Add(time.Minute)
	}
	rows, err := r.db.Query(ctx, selectTimeline, optionalText(f.PrincipalID), pgtype.Timestamptz{Time: before, Valid: true}, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                       Entry
			transition              string
			principal, role, reason pgtype.Text
			at                      pgtype.Timestamptz
		)
		if err := rows.Scan(&e.EventID, &e.SessionRef, &transition, &principal, &role, &e.Impersonating, &reason, &at); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Transition = session.Transition(transition)
		e.PrincipalID = principal.String
		e.Role = role.String
		e.Reason = reason.String
		e.OccurredAt = at.Time
		out = append(out, e)
	}
	return out, rows.Err()
}

func optionalText(v string) pgtype.Text {
	if v == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: v, Valid: true}
}

// Prune deletes entries that occurred before cutoff and returns how many went.
func (r *Recorder) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM access_audit WHERE occurred_at < $1`, pgtype.Timestamptz{Time: cutoff, Valid: true})
	if err != nil {
		return 0, fmt.Errorf("audit: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}
