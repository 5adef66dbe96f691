// Command firebreakd runs the sandbox control plane as a long-lived
// daemon: it owns the Pool Manager, exposes Prometheus metrics over
// HTTP, and drains every pool on SIGINT/SIGTERM.
//
// Grounded on the teacher's cmd/nova/main.go cobra root command
// assembly and cmd/nova/daemon.go's signal-driven shutdown loop,
// simplified to this repo's single responsibility (no HTTP invocation
// API, no Redis-backed function store: those are out of scope per
// spec.md §1).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperclast/firebreak/internal/config"
	"github.com/hyperclast/firebreak/internal/domain"
	"github.com/hyperclast/firebreak/internal/guestexec"
	"github.com/hyperclast/firebreak/internal/logging"
	"github.com/hyperclast/firebreak/internal/metrics"
	"github.com/hyperclast/firebreak/internal/pool"
	"github.com/hyperclast/firebreak/internal/poolmgr"
	"github.com/hyperclast/firebreak/internal/registry"
	"github.com/hyperclast/firebreak/internal/rpc"
	"github.com/hyperclast/firebreak/internal/runner"
)

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "firebreakd",
		Short: "firebreakd - the sandbox control plane daemon",
		Long:  "Runs the Pool Manager, serving /metrics and /healthz until SIGINT/SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a JSON config file (optional)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	logging.Configure(cfg.LogFormat, cfg.LogLevel)

	reg, err := registry.Open(cfg.SnapshotRegistryPath)
	if err != nil {
		return fmt.Errorf("open snapshot registry: %w", err)
	}
	defer reg.Close()

	// The reference in-guest executor: a real deployment replaces this
	// with a backend dialing an actual micro-VM hypervisor (spec §1,
	// "Out of scope"). guestexec.Registry/runner.Mock stand in so the
	// daemon is runnable end to end without one.
	guestReg := guestexec.NewRegistry()
	codec := rpc.NewJSONCodec()
	rt := runner.NewMock(guestReg, codec)

	mgr := poolmgr.New(rt, rt, codec, func(cp *domain.CapabilityProfile) pool.Config {
		maxIdle, cleanupInterval, acquireSlack, maxQueueWait := cfg.Pool.ToDurations()
		return pool.Config{
			MinSize:         cfg.Pool.MinSize,
			MaxSize:         cfg.Pool.MaxSize,
			MaxCallsPerVM:   cfg.Pool.MaxCallsPerVM,
			MaxIdle:         maxIdle,
			CleanupInterval: cleanupInterval,
			AcquireSlack:    acquireSlack,
			MaxInflight:     cfg.Pool.MaxInflight,
			MaxQueueDepth:   cfg.Pool.MaxQueueDepth,
			MaxQueueWait:    maxQueueWait,
		}
	}, reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	httpServer := &http.Server{Addr: cfg.ListenMetricsAddr, Handler: mux}
	go func() {
		logging.Op().Info("metrics listening", "addr", cfg.ListenMetricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("metrics server failed", "err", err)
		}
	}()

	logging.Op().Info("firebreakd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Op().Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	mgr.Shutdown(shutdownCtx)
	logging.Op().Info("firebreakd stopped")
	return nil
}
