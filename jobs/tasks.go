package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bhunte/atelier/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionAudit records one session transition.
	TaskSessionAudit = "session:audit"
	// TaskAuditPrune removes audit entries past retention.
	TaskAuditPrune = "audit:prune"
)

// AuditPrunePayload configures a prune run.
type AuditPrunePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewSessionAuditTask constructs an Asynq task. The event id doubles as the
// task id so a re-published event is not queued twice.
func NewSessionAuditTask(entry audit.Entry) (*asynq.Task, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionAudit, data,
		asynq.TaskID(entry.EventID),
		asynq.MaxRetry(10),
		asynq.Retention(24*time.Hour),
	), nil
}

// NewAuditPruneTask constructs the prune task.
func NewAuditPruneTask(retentionDays int) (*asynq.Task, error) {
	data, err := json.Marshal(AuditPrunePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, data, asynq.MaxRetry(3)), nil
}
