package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ispdesk/portal/internal/app"
	"github.com/ispdesk/portal/internal/auth"
	"github.com/ispdesk/portal/internal/observability"
	"github.com/ispdesk/portal/internal/platform/cache"
	"github.com/ispdesk/portal/internal/platform/db"
	"github.com/ispdesk/portal/jobs"
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

	redisOpts := cfg.RedisOptions()
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	deps := app.Deps{
		Config:  cfg,
		Logger:  logger,
		Redis:   redisClient,
		Metrics: observability.NewMetrics(),
	}

	// The audit trail is optional: without Postgres the portal still serves.
	if cfg.PGDSN != "" {
		dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
		if err != nil {
			logger.Warn("connect postgres, session audit disabled", slog.Any("error", err))
		} else {
			defer dbpool.Close()
			deps.History = auth.NewRepository(dbpool)

			jobClient, err := jobs.NewClient(redisOpts.AsynqOpt())
			if err != nil {
				logger.Warn("init job client", slog.Any("error", err))
			} else {
				defer func() {
					_ = jobClient.Close()
				}()
				deps.Auditor = jobClient
			}
			inspector := asynq.NewInspector(redisOpts.AsynqOpt())
			defer func() {
				_ = inspector.Close()
			}()
			deps.Inspector = inspector
		}
	}

	handler, err := app.NewHandler(deps)
	if err != nil {
		logger.Error("build handler", slog.Any("error", err))
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           handler,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("backend", cfg.BackendURL))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
