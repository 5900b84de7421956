package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bhunte/atelier/internal/audit"
	jobmetrics "github.com/bhunte/atelier/internal/jobs"
)

// AuditStore persists and prunes audit entries.
type AuditStore interface {
	Record(ctx context.Context, e audit.Entry) error
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionAuditJob writes queued session transitions to the audit table.
type SessionAuditJob struct {
	Store   AuditStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSessionAuditJob wires dependencies for the audit handlers.
func NewSessionAuditJob(store AuditStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionAuditJob {
	return &SessionAuditJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskSessionAudit tasks. A duplicate entry counts as done.
func (j *SessionAuditJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Store == nil {
		return errors.New("session audit: handler not configured")
	}
	var entry audit.Entry
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		return fmt.Errorf("session audit: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskSessionAudit)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	err := j.Store.Record(ctx, entry)
	switch {
	case errors.Is(err, audit.ErrDuplicate):
		j.logger().Debug("audit entry already recorded", slog.String("event_id", entry.EventID))
		return nil
	case err != nil:
		j.logger().Error("record audit entry", slog.String("event_id", entry.EventID), slog.Any("error", err))
		return err
	}
	return nil
}

// HandlePrune processes TaskAuditPrune tasks.
func (j *SessionAuditJob) HandlePrune(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Store == nil {
		return errors.New("audit prune: handler not configured")
	}
	var payload AuditPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("audit prune: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.RetentionDays <= 0 {
		return fmt.Errorf("audit prune: retention must be positive: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskAuditPrune)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	cutoff := j.now().AddDate(0, 0, -payload.RetentionDays)
	n, err := j.Store.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	j.logger().Info("audit pruned", slog.Int64("rows", n), slog.Time("cutoff", cutoff))
	return nil
}

func (j *SessionAuditJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *SessionAuditJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
