package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("LEASEHOLD_STORE_BACKEND", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreBackend != BackendMemory {
		t.Fatalf("expected memory backend, got %q", cfg.StoreBackend)
	}
	if cfg.HTTPAddr != ":8080" || cfg.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("unexpected defaults %#v", cfg)
	}
	if cfg.UsesRedis() {
		t.Fatalf("expected default config to need no redis")
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leasehold.yaml")
	content := strings.Join([]string{
		"http_addr: \":9090\"",
		"store_backend: redis",
		"redis_prefix: team-a",
		"notify_redis: true",
		"read_timeout: 3s",
		"rate_limit_per_window: 20",
		"log_format: text",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(FileEnv, path)
	t.Setenv("LEASEHOLD_HTTP_ADDR", ":7070")
	t.Setenv("LEASEHOLD_RATE_LIMIT_PER_WINDOW", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Fatalf("expected env to override file, got %q", cfg.HTTPAddr)
	}
	if cfg.StoreBackend != BackendRedis || cfg.RedisPrefix != "team-a" || !cfg.NotifyRedis {
		t.Fatalf("expected file values, got %#v", cfg)
	}
	if cfg.ReadTimeout != 3*time.Second {
		t.Fatalf("expected yaml duration, got %s", cfg.ReadTimeout)
	}
	if cfg.RateLimitPerWindow != 20 {
		t.Fatalf("expected invalid env value to keep file value, got %d", cfg.RateLimitPerWindow)
	}
	if cfg.LogFormat != "text" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected log settings %q %q", cfg.LogFormat, cfg.LogLevel)
	}
	if !cfg.UsesRedis() {
		t.Fatalf("expected redis to be required")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	t.Setenv(FileEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.StoreBackend = "etcd"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "etcd") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}

	cfg = Defaults()
	cfg.StoreBackend = BackendPostgres
	cfg.PostgresDSN = " "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected postgres dsn error")
	}

	cfg = Defaults()
	cfg.SessionBackend = BackendRedis
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected redis session backend to be rejected")
	}
}

func TestBoolOrDefault(t *testing.T) {
	t.Setenv("LEASEHOLD_TEST_BOOL", "on")
	if !boolOrDefault("LEASEHOLD_TEST_BOOL", false) {
		t.Fatalf("expected on to parse as true")
	}
	t.Setenv("LEASEHOLD_TEST_BOOL", "maybe")
	if boolOrDefault("LEASEHOLD_TEST_BOOL", false) {
		t.Fatalf("expected fallback for unknown value")
	}
}
