// Package config loads the engine's process configuration: connection
// strings and tunables pulled from the environment (via godotenv, the
// teacher's approach for local .env files) layered with CLI flags for
// the handful of process lifecycle settings that gate running the
// engine at all (spec.md §6's "CLI/admin scripts: out of scope" still
// leaves --dsn/--redis-addr/--webhook-url/--migrate as lifecycle flags,
// not an admin surface).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// AppConfig is the fully resolved configuration for one engine process.
type AppConfig struct {
	DSN           string // Postgres connection string
	RedisAddr     string
	RedisPassword string
	WebhookURL    string // outbound notification fan-out target
	Migrate       bool   // run pending migrations then exit
	MigrationsDir string // golang-migrate source path
	BoltPath      string // durable queue file path

	HTTPPort    int // inbound provider-webhook listener
	MetricsPort int

	LogLevel  string
	LogFormat string // json, text

	RateLimitWindowMinutes int
	RateLimitMaxPerWindow  int

	SweepInterval    time.Duration
	FollowupWindowHrs int
}

// ParseFlags loads .env (if present), then layers spf13/pflag process
// flags on top of environment defaults, mirroring the teacher's
// cli.ParseFlags/config.LoadConfig split: env supplies defaults,
// flags override them for a single run.
func ParseFlags() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{}
	cfg.applyEnvDefaults()

	pflag.StringVar(&cfg.DSN, "dsn", cfg.DSN, "Postgres connection string")
	pflag.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis host:port")
	pflag.StringVar(&cfg.WebhookURL, "webhook-url", cfg.WebhookURL, "Outbound notification webhook URL")
	pflag.BoolVar(&cfg.Migrate, "migrate", false, "Run pending migrations then exit")
	pflag.StringVar(&cfg.MigrationsDir, "migrations-dir", cfg.MigrationsDir, "golang-migrate source directory")
	pflag.StringVar(&cfg.BoltPath, "queue-path", cfg.BoltPath, "Durable queue (bbolt) file path")
	pflag.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "Inbound provider-webhook listener port")
	pflag.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Metrics/health listener port")
	pflag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	pflag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json, text")

	pflag.Parse()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnvDefaults() {
	c.DSN = getEnv("ENGINE_DSN", "")
	c.RedisAddr = getEnv("ENGINE_REDIS_ADDR", "localhost:6379")
	c.RedisPassword = getEnv("ENGINE_REDIS_PASSWORD", "")
	c.WebhookURL = getEnv("ENGINE_WEBHOOK_URL", "")
	c.MigrationsDir = getEnv("ENGINE_MIGRATIONS_DIR", "file://migrations")
	c.BoltPath = getEnv("ENGINE_QUEUE_PATH", "engine-queue.db")
	c.HTTPPort = getEnvInt("ENGINE_HTTP_PORT", 8080)
	c.MetricsPort = getEnvInt("ENGINE_METRICS_PORT", 8090)
	c.LogLevel = getEnv("ENGINE_LOG_LEVEL", "info")
	c.LogFormat = getEnv("ENGINE_LOG_FORMAT", "json")
	c.RateLimitWindowMinutes = getEnvInt("ENGINE_RATE_LIMIT_WINDOW_MINUTES", 15)
	c.RateLimitMaxPerWindow = getEnvInt("ENGINE_RATE_LIMIT_MAX_PER_WINDOW", 100)
	c.SweepInterval = getEnvDuration("ENGINE_SWEEP_INTERVAL", 30*time.Second)
	c.FollowupWindowHrs = getEnvInt("ENGINE_FOLLOWUP_WINDOW_HOURS", 24)
}

func (c *AppConfig) validate() error {
	if c.Migrate {
		if c.DSN == "" {
			return fmt.Errorf("config: --dsn is required with --migrate")
		}
		return nil
	}
	if c.DSN == "" {
		return fmt.Errorf("config: --dsn (or ENGINE_DSN) is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("config: --redis-addr (or ENGINE_REDIS_ADDR) is required")
	}
	if c.RateLimitMaxPerWindow < 0 {
		return fmt.Errorf("config: rate_limit_max_per_window cannot be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
