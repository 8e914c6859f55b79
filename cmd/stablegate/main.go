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

	"github.com/hibiken/asynq"

	"github.com/horsemanagement/stablegate/internal/access"
	accesshttp "github.com/horsemanagement/stablegate/internal/access/http"
	"github.com/horsemanagement/stablegate/internal/app"
	"github.com/horsemanagement/stablegate/internal/audit"
	"github.com/horsemanagement/stablegate/internal/auth"
	"github.com/horsemanagement/stablegate/internal/observability"
	"github.com/horsemanagement/stablegate/internal/platform/cache"
	"github.com/horsemanagement/stablegate/internal/platform/db"
	"github.com/horsemanagement/stablegate/internal/proxy"
	"github.com/horsemanagement/stablegate/internal/screen"
	"github.com/horsemanagement/stablegate/internal/session"
	"github.com/horsemanagement/stablegate/internal/users"
	"github.com/horsemanagement/stablegate/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	catalogue, err := loadCatalogue(cfg)
	if err != nil {
		logger.Error("load feature table", slog.Any("error", err))
		os.Exit(1)
	}
	gate := access.NewGate(catalogue)
	logger.Info("feature table loaded", slog.Int("features", len(catalogue.Features())), slog.String("file", cfg.FeaturesFile))

	metrics := observability.NewMetrics()

	var store *session.Store
	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, actor cache disabled", slog.Any("error", err))
		store = session.NewStore(nil, cfg.SessionTTL)
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		store = session.NewStore(redisClient, cfg.SessionTTL)
	}

	var denials accesshttp.DenialRecorder
	jobHandler := jobs.NewHandler(nil, logger)
	switch {
	case cfg.AuditAsync:
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		queue := jobs.NewClient(redisOpts, logger)
		defer func() {
			if err := queue.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			_ = inspector.Close()
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
		denials = queue
		logger.Info("audit denials queued for worker")
	case cfg.AuditPGDSN != "":
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
		denials = recorder
	}

	userClient := users.NewClient(cfg.BackendURL, cfg.BackendTimeout)
	loader := users.NewLoader(userClient, catalogue, users.LoaderConfig{
		Timeout:  cfg.PermissionsTimeout,
		Logger:   logger,
		Observer: metrics,
	})
	resolver := session.NewResolver(store, loader, logger)
	guard := screen.NewGuard(gate, loader, resolver, logger)

	upstream, err := proxy.New(cfg.BackendURL, cfg.BackendTimeout, logger)
	if err != nil {
		logger.Error("configure backend proxy", slog.Any("error", err))
		os.Exit(1)
	}

	accessHandler := accesshttp.NewHandler(accesshttp.Options{
		Logger:   logger,
		Gate:     gate,
		Guard:    guard,
		Sessions: resolver,
		Users:    userClient,
		Upstream: upstream,
		Observer: metrics,
		Audit:    denials,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Verifier:      auth.NewVerifier(cfg.JWTSecret),
		AccessHandler: accessHandler,
		JobHandler:    jobHandler,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("backend", cfg.BackendURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func loadCatalogue(cfg *app.Config) (*access.Catalogue, error) {
	if cfg.FeaturesFile == "" {
		return access.DefaultCatalogue(), nil
	}
	return access.LoadCatalogue(cfg.FeaturesFile)
}
