package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fleetwatch/beacond/internal/validation"
)

var envKeys = []string{
	"REDIS_ADDR", "PORT", "HTTP_ADDR", "STORE_BACKEND", "DB_HOST",
	"POSTGRES_PASSWORD", "DB_PASSWORD", "OTEL_EXPORTER_OTLP_ENDPOINT", "LOG_DIR", "DEBUG",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.GRPCPort != "50051" || cfg.Server.HTTPAddr != ":8080" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Storage.Backend != BackendMemory || cfg.Storage.Timeout != 5*time.Second {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Registry.MinIntervalSeconds != 30 || cfg.Registry.MissedBeaconThreshold != 1 {
		t.Fatalf("registry = %+v", cfg.Registry)
	}
	if cfg.Liveness.SweepInterval != 15*time.Second || cfg.Tasks.BatchLimit != 10 {
		t.Fatalf("liveness = %+v, tasks = %+v", cfg.Liveness, cfg.Tasks)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[server]
port = "6000"

[storage]
backend = "redis"
timeout = "2s"

[redis]
addr = "cache:6379"
journal = false

[registry]
min_interval_seconds = 10
missed_beacon_threshold = 3
merge_policy = "preserve_blank"

[liveness]
sweep_interval = "1m"

[tasks]
batch_limit = 25

[logging]
dir = "/var/log/beacond"
max_size_mb = 10
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.GRPCPort != "6000" || cfg.Server.HTTPAddr != ":8080" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Storage.Backend != BackendRedis || cfg.Storage.Timeout != 2*time.Second {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Redis.Addr != "cache:6379" || cfg.Redis.Journal {
		t.Fatalf("redis = %+v", cfg.Redis)
	}
	if cfg.Registry.MinIntervalSeconds != 10 || cfg.Registry.MissedBeaconThreshold != 3 ||
		cfg.Registry.MergePolicy != "preserve_blank" {
		t.Fatalf("registry = %+v", cfg.Registry)
	}
	if cfg.Liveness.SweepInterval != time.Minute || cfg.Tasks.BatchLimit != 25 {
		t.Fatalf("liveness = %+v, tasks = %+v", cfg.Liveness, cfg.Tasks)
	}
	if cfg.Logging.Dir != "/var/log/beacond" || cfg.Logging.MaxSizeMB != 10 {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[storage]
backend = "redis"
[redis]
addr = "cache:6379"
`)
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DB_HOST", "pg.internal")
	t.Setenv("DB_PASSWORD", "fallback")
	t.Setenv("POSTGRES_PASSWORD", "primary")
	t.Setenv("PORT", "7000")
	t.Setenv("DEBUG", "1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Redis.Addr != "redis.internal:6380" || cfg.Storage.Backend != BackendPostgres {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Database.Host != "pg.internal" || cfg.Database.Password != "primary" {
		t.Fatalf("database = %+v", cfg.Database)
	}
	if cfg.Server.GRPCPort != "7000" || !cfg.Logging.Debug {
		t.Fatalf("server = %+v, debug = %v", cfg.Server, cfg.Logging.Debug)
	}

	want := "host=pg.internal port=5432 user=operator password=primary dbname=beacond sslmode=disable"
	if got := cfg.Database.DSN(); got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }, "unknown backend"},
		{"zero threshold", func(c *Config) { c.Registry.MissedBeaconThreshold = 0 }, "missed_beacon_threshold"},
		{"zero interval floor", func(c *Config) { c.Registry.MinIntervalSeconds = 0 }, "min_interval_seconds"},
		{"negative interval floor", func(c *Config) { c.Registry.MinIntervalSeconds = -5 }, "min_interval_seconds"},
		{"interval floor at ceiling", func(c *Config) { c.Registry.MinIntervalSeconds = validation.MaxIntervalSeconds }, "min_interval_seconds"},
		{"zero batch", func(c *Config) { c.Tasks.BatchLimit = 0 }, "batch_limit"},
		{"zero sweep", func(c *Config) { c.Liveness.SweepInterval = 0 }, "sweep_interval"},
		{"bad merge policy", func(c *Config) { c.Registry.MergePolicy = "append" }, "merge_policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoadRejectsExplicitZeroIntervalFloor(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "[registry]\nmin_interval_seconds = 0\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "min_interval_seconds") {
		t.Fatalf("Load() = %v, want min_interval_seconds error", err)
	}

	path = writeConfig(t, "[registry]\nmissed_beacon_threshold = 2\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Registry.MinIntervalSeconds != validation.DefaultMinIntervalSeconds {
		t.Fatalf("omitted floor = %d, want default %d", cfg.Registry.MinIntervalSeconds, validation.DefaultMinIntervalSeconds)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "[liveness]\nsweep_interval = \"soon\"\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "sweep_interval") {
		t.Fatalf("Load err = %v, want sweep_interval error", err)
	}
}
