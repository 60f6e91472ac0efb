package config

import (
	"testing"
	"time"
)

func TestApplyEnvDefaults_UsesFallbacksWhenUnset(t *testing.T) {
	cfg := &AppConfig{}
	cfg.applyEnvDefaults()

	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("expected default redis addr, got %q", cfg.RedisAddr)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.LogLevel)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("expected default sweep interval 30s, got %s", cfg.SweepInterval)
	}
}

func TestApplyEnvDefaults_RespectsEnvOverride(t *testing.T) {
	t.Setenv("ENGINE_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("ENGINE_RATE_LIMIT_MAX_PER_WINDOW", "250")

	cfg := &AppConfig{}
	cfg.applyEnvDefaults()

	if cfg.RedisAddr != "redis.internal:6380" {
		t.Fatalf("expected env override, got %q", cfg.RedisAddr)
	}
	if cfg.RateLimitMaxPerWindow != 250 {
		t.Fatalf("expected 250, got %d", cfg.RateLimitMaxPerWindow)
	}
}

func TestValidate_RequiresDSNUnlessMigrating(t *testing.T) {
	cfg := &AppConfig{RedisAddr: "localhost:6379"}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for missing DSN")
	}

	cfg.DSN = "postgres://localhost/engine"
	if err := cfg.validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_MigrateOnlyNeedsDSN(t *testing.T) {
	cfg := &AppConfig{Migrate: true, DSN: "postgres://localhost/engine"}
	if err := cfg.validate(); err != nil {
		t.Fatalf("expected migrate-only config to validate, got %v", err)
	}
}
