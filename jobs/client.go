package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/horsemanagement/stablegate/internal/audit"
)

const (
	denialMaxRetry = 5
	denialTimeout  = 30 * time.Second
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client hands denied decisions to the worker instead of writing them on the
// request path.
type Client struct {
	queue  enqueuer
	logger *slog.Logger
	now    func() time.Time
}

// NewClient opens an asynq client for redis.
func NewClient(redis asynq.RedisConnOpt, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{queue: asynq.NewClient(redis), logger: logger, now: time.Now}
}

// RecordDenial stamps d with the decision time and queues it. Enqueue
// failures are logged and dropped.
func (c *Client) RecordDenial(ctx context.Context, d audit.Denial) {
	if d.At.IsZero() {
		d.At = c.now().UTC()
	}
	info, err := c.enqueueDenial(context.WithoutCancel(ctx), d)
	if err != nil {
		c.logger.Warn("audit denial not queued",
			slog.String("feature", d.Feature),
			slog.String("reason", d.Reason),
			slog.Any("error", err))
		return
	}
	c.logger.Debug("audit denial queued", slog.String("task_id", info.ID))
}

func (c *Client) enqueueDenial(ctx context.Context, d audit.Denial) (*asynq.TaskInfo, error) {
	task, err := NewAuditDenialTask(d)
	if err != nil {
		return nil, err
	}
	return c.queue.EnqueueContext(ctx, task,
		asynq.Queue(QueueAudit),
		asynq.MaxRetry(denialMaxRetry),
		asynq.Timeout(denialTimeout))
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.queue.Close()
}
