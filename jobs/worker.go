package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const defaultConcurrency = 5

// Registrar adds task handlers to the worker mux.
type Registrar interface {
	Register(mux *asynq.ServeMux)
}

// Periodic enqueues Task on the cron schedule Spec (UTC).
type Periodic struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig bootstraps a Worker.
type WorkerConfig struct {
	Redis       asynq.RedisConnOpt
	Logger      *slog.Logger
	Concurrency int
	Jobs        []Registrar
	Periodic    []Periodic
}

// Worker consumes the audit queue and runs the periodic schedule.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// NewWorker builds the server, mux and scheduler. Nothing connects until Run.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Redis == nil {
		return nil, errors.New("jobs: redis connection required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	server := asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency:     concurrency,
		Queues:          map[string]int{QueueAudit: 1},
		ShutdownTimeout: 10 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Warn("task failed", slog.String("task", task.Type()), slog.Any("error", err))
		}),
	})

	mux := asynq.NewServeMux()
	for _, job := range cfg.Jobs {
		if job != nil {
			job.Register(mux)
		}
	}

	w := &Worker{server: server, mux: mux, logger: logger}
	if len(cfg.Periodic) == 0 {
		return w, nil
	}
	w.scheduler = asynq.NewScheduler(cfg.Redis, &asynq.SchedulerOpts{Location: time.UTC})
	for _, p := range cfg.Periodic {
		if p.Task == nil {
			continue
		}
		opts := append([]asynq.Option{asynq.Queue(QueueAudit)}, p.Options...)
		id, err := w.scheduler.Register(p.Spec, p.Task, opts...)
		if err != nil {
			return nil, fmt.Errorf("jobs: schedule %s %q: %w", p.Task.Type(), p.Spec, err)
		}
		logger.Info("periodic task registered", slog.String("task", p.Task.Type()), slog.String("cron", p.Spec), slog.String("entry", id))
	}
	return w, nil
}

// Run processes tasks until ctx is cancelled, then drains in-flight work.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.server == nil {
		return errors.New("jobs: worker not configured")
	}
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("jobs: start server: %w", err)
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			w.server.Shutdown()
			return fmt.Errorf("jobs: start scheduler: %w", err)
		}
	}

	<-ctx.Done()
	w.logger.Info("worker stopping")
	if w.scheduler != nil {
		w.scheduler.Shutdown()
	}
	w.server.Shutdown()
	return ctx.Err()
}
