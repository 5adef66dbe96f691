package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pool.MaxSize != 4 {
		t.Fatalf("expected default max_size 4, got %d", cfg.Pool.MaxSize)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"log_level":"debug","pool":{"max_size":8}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log_level debug, got %q", cfg.LogLevel)
	}
	if cfg.Pool.MaxSize != 8 {
		t.Fatalf("expected max_size 8, got %d", cfg.Pool.MaxSize)
	}
	// field not present in the file keeps its default.
	if cfg.ListenMetricsAddr != ":9090" {
		t.Fatalf("expected default listen addr to survive partial override, got %q", cfg.ListenMetricsAddr)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FIREBREAK_LOG_LEVEL", "warn")
	t.Setenv("FIREBREAK_POOL_MAX_SIZE", "16")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected env override to win, got %q", cfg.LogLevel)
	}
	if cfg.Pool.MaxSize != 16 {
		t.Fatalf("expected env override to win, got %d", cfg.Pool.MaxSize)
	}
}
