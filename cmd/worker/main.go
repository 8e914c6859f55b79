package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/horsemanagement/stablegate/internal/app"
	"github.com/horsemanagement/stablegate/internal/audit"
	jobmetrics "github.com/horsemanagement/stablegate/internal/jobs"
	"github.com/horsemanagement/stablegate/internal/platform/cache"
	"github.com/horsemanagement/stablegate/internal/platform/db"
	"github.com/horsemanagement/stablegate/jobs"
)

const pruneSchedule = "30 3 * * *"

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadWorkerConfig()
	if err != nil {
		slog.Default().Error("load worker config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewWorkerLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.AuditPGDSN, cfg.AuditPGMaxConns)
	if err != nil {
		logger.Error("connect audit postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	recorder := audit.NewRecorder(pool, logger)
	if err := recorder.EnsureSchema(ctx); err != nil {
		logger.Error("audit schema", slog.Any("error", err))
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	auditJobs := jobs.NewAuditJobs(recorder, logger, jobmetrics.NewMetrics(registry))

	pruneTask, err := jobs.NewAuditPruneTask(cfg.AuditRetention)
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		Redis:       redisOpt(cfg.Redis()),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Jobs:        []jobs.Registrar{auditJobs},
		Periodic: []jobs.Periodic{
			{Spec: pruneSchedule, Task: pruneTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           metricsRouter(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()

	logger.Info("starting audit worker", slog.Duration("retention", cfg.AuditRetention), slog.Int("concurrency", cfg.WorkerConcurrency))
	runErr := worker.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("worker run", slog.Any("error", runErr))
		os.Exit(1)
	}
}

func redisOpt(o cache.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: o.Addr, Password: o.Password, DB: o.DB}
}

func metricsRouter(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return r
}
