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

	"azeuqer/internal/api"
	"azeuqer/internal/auth"
	"azeuqer/internal/config"
	"azeuqer/internal/game"
	"azeuqer/internal/liveness"
	"azeuqer/internal/objects"
	"azeuqer/internal/ratelimit"
	"azeuqer/internal/store"
	"azeuqer/internal/telemetry"

	"golang.org/x/sync/errgroup"
)

const (
	defaultMediaDir      = "data/media"
	localLivenessMinSide = 64
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.APIConfig, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, "azeuqer-api", cfg.Version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", "err", err)
		}
	}()

	backend, err := store.Open(ctx, cfg.DatabaseURL, store.Options{MaxConns: cfg.DBMaxConns, AutoMigrate: cfg.AutoMigrate})
	if err != nil {
		logger.Error("db connect failed", "err", err)
		return err
	}
	defer backend.Close()

	var (
		photos   game.PhotoStore
		mediaDir string
	)
	if cfg.SupabaseURL != "" {
		photos = objects.NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.StorageBucket)
		logger.Info("photo storage", "backend", "supabase", "bucket", cfg.StorageBucket)
	} else {
		dir := cfg.LocalStorageDir
		if dir == "" {
			dir = defaultMediaDir
		}
		local, err := objects.NewLocalStorage(dir, cfg.PublicBaseURL)
		if err != nil {
			return err
		}
		photos, mediaDir = local, local.Dir()
		logger.Info("photo storage", "backend", "local", "dir", dir)
	}

	var checker game.LivenessChecker
	if cfg.LivenessURL != "" {
		checker = liveness.NewHTTPClassifier(cfg.LivenessURL)
		logger.Info("liveness classifier", "backend", "http", "url", cfg.LivenessURL)
	} else {
		checker = liveness.LocalClassifier{MinSide: localLivenessMinSide}
		logger.Warn("AZQ_LIVENESS_URL is unset: bio-lock photos are only size-checked, not inspected for faces",
			"backend", "local", "min_side", localLivenessMinSide)
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemory(cfg.RateLimitWindow, cfg.RateLimitMax)
	if cfg.RedisURL != "" {
		rdb, err := ratelimit.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis connect failed", "err", err)
			return err
		}
		defer rdb.Close()
		limiter = ratelimit.NewRedis(rdb, cfg.RateLimitWindow, cfg.RateLimitMax, logger)
	}

	gameSvc := game.NewService(backend, game.Config{
		Registry: game.RegistryConfig{
			PioneerLimit:  cfg.PioneerLimit,
			ReferralBonus: cfg.ReferralBonus,
		},
		AmbushEvery:  cfg.AmbushEvery,
		FeedPoolSize: cfg.FeedPoolSize,
		Policy:       game.PolicyFromQuorum(cfg.TribunalQuorum, cfg.TribunalRatio),
		Liveness:     checker,
		Photos:       photos,
	}, logger)

	verifier := auth.NewVerifier(cfg.BotToken, cfg.InitDataMaxAge, cfg.DevBypass)
	if cfg.DevBypass {
		logger.Warn("dev bypass enabled: DEBUG_MODE init data is accepted")
	}

	server := api.New(cfg, logger, verifier, gameSvc, limiter, mediaDir)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("azeuqer api listening", "addr", cfg.Addr, "version", cfg.Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
