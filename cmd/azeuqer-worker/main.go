package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"azeuqer/internal/config"
	"azeuqer/internal/game"
	"azeuqer/internal/store"
	"azeuqer/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, "azeuqer-worker", "")
	if err != nil {
		logger.Error("telemetry setup failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	backend, err := store.Open(ctx, cfg.DatabaseURL, store.Options{MaxConns: cfg.DBMaxConns, AutoMigrate: cfg.AutoMigrate})
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer backend.Close()

	svc := game.NewService(backend, game.Config{Registry: game.DefaultRegistryConfig()}, logger)

	if cfg.RunOnce {
		if _, err := svc.RollMonth(ctx, time.Now()); err != nil {
			logger.Error("month rollover failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.TickEvery)
	defer ticker.Stop()

	logger.Info("worker started", "tick_every", cfg.TickEvery.String())
	tick(ctx, svc, logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			tick(ctx, svc, logger)
		}
	}
}

func tick(ctx context.Context, svc *game.Service, logger *slog.Logger) {
	if err := svc.Ping(ctx); err != nil {
		logger.Error("store unreachable", "err", err)
		return
	}
	roll, err := svc.RollMonth(ctx, time.Now())
	if err != nil {
		logger.Error("month rollover failed", "err", err)
		return
	}
	if !roll.Reset && !roll.Initialized {
		logger.Debug("month rollover already applied", "month", game.MonthKey(time.Now()))
	}
}
