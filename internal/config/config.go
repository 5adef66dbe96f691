// Package config loads daemon configuration from a JSON file with
// FIREBREAK_-prefixed environment variable overrides, grounded on the
// teacher's internal/config/config.go (plain struct + json tags, no
// viper/pflag indirection — env overrides applied by field name after
// the file is decoded).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full set of daemon-tunable values (spec §A, §B). Zero
// values are filled by Default before use.
type Config struct {
	ListenMetricsAddr string `json:"listen_metrics_addr"`
	LogFormat         string `json:"log_format"` // "text" | "json"
	LogLevel          string `json:"log_level"`

	SnapshotRegistryPath string `json:"snapshot_registry_path"`

	Pool PoolDefaults `json:"pool"`
}

// PoolDefaults seeds pool.Config for every profile a daemon sees, before
// per-profile overrides (if any) are layered on top.
type PoolDefaults struct {
	MinSize         int           `json:"min_size"`
	MaxSize         int           `json:"max_size"`
	MaxCallsPerVM   int           `json:"max_calls_per_vm"`
	MaxIdleSeconds  int           `json:"max_idle_seconds"`
	CleanupInterval int           `json:"cleanup_interval_seconds"`
	AcquireSlackMs  int           `json:"acquire_slack_ms"`
	MaxInflight     int           `json:"max_inflight"`
	MaxQueueDepth   int           `json:"max_queue_depth"`
	MaxQueueWaitMs  int           `json:"max_queue_wait_ms"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		ListenMetricsAddr:    ":9090",
		LogFormat:            "text",
		LogLevel:             "info",
		SnapshotRegistryPath: "firebreak-snapshots.db",
		Pool: PoolDefaults{
			MinSize:         0,
			MaxSize:         4,
			MaxCallsPerVM:   0,
			MaxIdleSeconds:  60,
			CleanupInterval: 10,
			AcquireSlackMs:  250,
			MaxInflight:     0,
			MaxQueueDepth:   0,
			MaxQueueWaitMs:  0,
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// FIREBREAK_* environment overrides. A missing path is not an error:
// the daemon can run on defaults + env alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("FIREBREAK_LISTEN_METRICS_ADDR"); ok {
		cfg.ListenMetricsAddr = v
	}
	if v, ok := os.LookupEnv("FIREBREAK_LOG_FORMAT"); ok {
		cfg.LogFormat = v
	}
	if v, ok := os.LookupEnv("FIREBREAK_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("FIREBREAK_SNAPSHOT_REGISTRY_PATH"); ok {
		cfg.SnapshotRegistryPath = v
	}
	if v, ok := intEnv("FIREBREAK_POOL_MIN_SIZE"); ok {
		cfg.Pool.MinSize = v
	}
	if v, ok := intEnv("FIREBREAK_POOL_MAX_SIZE"); ok {
		cfg.Pool.MaxSize = v
	}
	if v, ok := intEnv("FIREBREAK_POOL_MAX_CALLS_PER_VM"); ok {
		cfg.Pool.MaxCallsPerVM = v
	}
}

func intEnv(name string) (int, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ToDurations converts the daemon-wide second and millisecond fields
// into the time.Duration values pool.Config takes; cmd/firebreakd
// assembles the pool.Config itself, so this package does not import pool.
func (d PoolDefaults) ToDurations() (maxIdle, cleanupInterval, acquireSlack, maxQueueWait time.Duration) {
	return time.Duration(d.MaxIdleSeconds) * time.Second,
		time.Duration(d.CleanupInterval) * time.Second,
		time.Duration(d.AcquireSlackMs) * time.Millisecond,
		time.Duration(d.MaxQueueWaitMs) * time.Millisecond
}
