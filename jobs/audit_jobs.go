package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/horsemanagement/stablegate/internal/audit"
	jobmetrics "github.com/horsemanagement/stablegate/internal/jobs"
)

// AuditStore is the part of audit.Recorder the tasks write through.
type AuditStore interface {
	Record(ctx context.Context, d audit.Denial) (uuid.UUID, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditJobs handles audit:denial and audit:prune.
type AuditJobs struct {
	store   AuditStore
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAuditJobs writes through store. metrics may be nil.
func NewAuditJobs(store AuditStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditJobs {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditJobs{
		store:   store,
		logger:  logger,
		metrics: metrics,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// Register adds both audit handlers to mux.
func (j *AuditJobs) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskAuditDenial, j.HandleDenial)
	mux.HandleFunc(TaskAuditPrune, j.HandlePrune)
}

// HandleDenial inserts one queued denial. Undecodable payloads are dropped
// without retry; store errors are retried by asynq.
func (j *AuditJobs) HandleDenial(ctx context.Context, t *asynq.Task) (err error) {
	defer j.observe(TaskAuditDenial, time.Now(), &err)

	var d audit.Denial
	if err := json.Unmarshal(t.Payload(), &d); err != nil {
		return fmt.Errorf("audit denial payload: %v: %w", err, asynq.SkipRetry)
	}
	id, err := j.store.Record(ctx, d)
	if err != nil {
		return fmt.Errorf("audit denial insert: %w", err)
	}
	j.logger.Debug("audit denial stored", slog.String("id", id.String()), slog.String("feature", d.Feature))
	return nil
}

// HandlePrune deletes rows older than the payload's retention window.
func (j *AuditJobs) HandlePrune(ctx context.Context, t *asynq.Task) (err error) {
	defer j.observe(TaskAuditPrune, time.Now(), &err)

	var payload PrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("audit prune payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Retention <= 0 {
		return fmt.Errorf("audit prune: retention must be positive: %w", asynq.SkipRetry)
	}

	cutoff := j.clock().Add(-payload.Retention)
	n, err := j.store.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("audit prune: %w", err)
	}
	j.metrics.AddPruned(n)
	j.logger.Info("audit prune completed", slog.Int64("rows", n), slog.Time("cutoff", cutoff))
	return nil
}

func (j *AuditJobs) observe(task string, start time.Time, errp *error) {
	outcome := jobmetrics.OutcomeDone
	switch {
	case *errp == nil:
	case errors.Is(*errp, asynq.SkipRetry):
		outcome = jobmetrics.OutcomeDropped
		j.logger.Warn("audit task dropped", slog.String("task", task), slog.Any("error", *errp))
	default:
		outcome = jobmetrics.OutcomeRetry
	}
	j.metrics.Observe(task, outcome, start)
}
