package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type APIConfig struct {
	Addr        string `env:"AZQ_API_ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"AZQ_DB_MAX_CONNS" envDefault:"20"`
	AutoMigrate bool   `env:"AZQ_AUTO_MIGRATE" envDefault:"true"`

	BotToken       string        `env:"TG_BOT_TOKEN"`
	DevBypass      bool          `env:"AZQ_DEV_BYPASS" envDefault:"false"`
	InitDataMaxAge time.Duration `env:"AZQ_INITDATA_MAX_AGE" envDefault:"24h"`

	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	RequestTimeout time.Duration `env:"AZQ_REQUEST_TIMEOUT" envDefault:"20s"`

	PioneerLimit   int     `env:"AZQ_PIONEER_LIMIT" envDefault:"100"`
	ReferralBonus  int64   `env:"AZQ_REFERRAL_BONUS" envDefault:"50"`
	AmbushEvery    int     `env:"AZQ_AMBUSH_EVERY" envDefault:"10"`
	FeedPoolSize   int     `env:"AZQ_FEED_POOL_SIZE" envDefault:"50"`
	TribunalQuorum int64   `env:"AZQ_TRIBUNAL_QUORUM" envDefault:"0"`
	TribunalRatio  float64 `env:"AZQ_TRIBUNAL_RATIO" envDefault:"0.5"`

	SupabaseURL        string `env:"SUPABASE_URL"`
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	StorageBucket      string `env:"AZQ_STORAGE_BUCKET" envDefault:"biolocks"`
	LocalStorageDir    string `env:"AZQ_LOCAL_STORAGE_DIR"`
	PublicBaseURL      string `env:"AZQ_PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	LivenessURL        string `env:"AZQ_LIVENESS_URL"`

	RedisURL        string        `env:"AZQ_REDIS_URL"`
	RateLimitWindow time.Duration `env:"AZQ_RATE_LIMIT_WINDOW" envDefault:"10s"`
	RateLimitMax    int           `env:"AZQ_RATE_LIMIT_MAX" envDefault:"25"`

	OTelEndpoint string `env:"AZQ_OTEL_ENDPOINT"`
	Version      string `env:"AZQ_VERSION" envDefault:"dev"`
}

type WorkerConfig struct {
	DatabaseURL  string        `env:"DATABASE_URL"`
	DBMaxConns   int32         `env:"AZQ_DB_MAX_CONNS" envDefault:"4"`
	AutoMigrate  bool          `env:"AZQ_AUTO_MIGRATE" envDefault:"true"`
	TickEvery    time.Duration `env:"AZQ_WORKER_TICK_EVERY" envDefault:"1h"`
	RunOnce      bool          `env:"AZQ_WORKER_RUN_ONCE" envDefault:"false"`
	OTelEndpoint string        `env:"AZQ_OTEL_ENDPOINT"`
}

type CLIConfig struct {
	APIBaseURL string `env:"AZQ_API_BASE_URL" envDefault:"http://localhost:8080"`
	// StateDir holds the session and offline queue; empty means ~/.azq.
	StateDir    string `env:"AZQ_HOME"`
	BotToken    string `env:"TG_BOT_TOKEN"`
	BotUsername string `env:"AZQ_BOT_USERNAME" envDefault:"azeuqer_bot"`
}

func LoadAPIFromEnv() (APIConfig, error) {
	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.BotToken = strings.TrimSpace(cfg.BotToken)
	cfg.SupabaseURL = strings.TrimRight(strings.TrimSpace(cfg.SupabaseURL), "/")
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	cfg.AllowedOrigins = trimList(cfg.AllowedOrigins)

	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.BotToken == "" && !cfg.DevBypass {
		return cfg, fmt.Errorf("TG_BOT_TOKEN is required unless AZQ_DEV_BYPASS is set")
	}
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey == "" {
		return cfg, fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY is required with SUPABASE_URL")
	}
	if cfg.LivenessURL != "" {
		if _, err := url.ParseRequestURI(cfg.LivenessURL); err != nil {
			return cfg, fmt.Errorf("AZQ_LIVENESS_URL: %w", err)
		}
	}
	if cfg.PioneerLimit < 0 {
		return cfg, fmt.Errorf("AZQ_PIONEER_LIMIT must be >= 0")
	}
	if cfg.AmbushEvery <= 0 {
		return cfg, fmt.Errorf("AZQ_AMBUSH_EVERY must be > 0")
	}
	if cfg.RateLimitMax <= 0 || cfg.RateLimitWindow <= 0 {
		return cfg, fmt.Errorf("AZQ_RATE_LIMIT_MAX and AZQ_RATE_LIMIT_WINDOW must be > 0")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.TickEvery <= 0 {
		cfg.TickEvery = time.Hour
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	var cfg CLIConfig
	if err := env.Parse(&cfg); err != nil {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.StateDir = strings.TrimSpace(cfg.StateDir)
	cfg.BotToken = strings.TrimSpace(cfg.BotToken)
	cfg.BotUsername = strings.TrimPrefix(strings.TrimSpace(cfg.BotUsername), "@")
	return cfg
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
