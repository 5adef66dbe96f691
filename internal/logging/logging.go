// Package logging wires structured logging for the control plane,
// grounded on the teacher's internal/logging/slog.go: a package-level
// operational logger backed by log/slog, with a runtime-adjustable
// level, used on every hot path (pool acquisition, RPC dispatch,
// provisioning) instead of fmt.Printf.
package logging

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

func init() {
	logLevel.Set(slog.LevelInfo)
	opLogger.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// Op returns the operational logger used by daemon/infrastructure code:
// pool lifecycle, provisioning, RPC dispatch, maintenance.
func Op() *slog.Logger {
	return opLogger.Load()
}

// Configure switches the handler between "text" and "json" output and
// applies the given level string ("debug"|"info"|"warn"|"error").
func Configure(format, level string) {
	SetLevelFromString(level)
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	opLogger.Store(slog.New(handler))
}

// SetLevelFromString sets the log level from a config string; unknown
// values are ignored, leaving the previous level in effect.
func SetLevelFromString(level string) {
	switch level {
	case "debug", "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "info", "INFO":
		logLevel.Set(slog.LevelInfo)
	case "warn", "WARN", "warning", "WARNING":
		logLevel.Set(slog.LevelWarn)
	case "error", "ERROR":
		logLevel.Set(slog.LevelError)
	}
}
