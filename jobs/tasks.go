package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/horsemanagement/stablegate/internal/audit"
)

const (
	// QueueAudit carries audit tasks only.
	QueueAudit = "audit"
	// TaskAuditDenial persists one denied access decision.
	TaskAuditDenial = "audit:denial"
	// TaskAuditPrune deletes audit rows older than the retention window.
	TaskAuditPrune = "audit:prune"
)

// PrunePayload configures one retention run.
type PrunePayload struct {
	Retention time.Duration `json:"retention"`
}

// NewAuditDenialTask constructs an audit:denial task.
func NewAuditDenialTask(d audit.Denial) (*asynq.Task, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditDenial, data), nil
}

// NewAuditPruneTask constructs an audit:prune task.
func NewAuditPruneTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(PrunePayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, data), nil
}
