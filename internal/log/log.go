// Package log is the structured logger used by library packages of the
// report engine. The CLI entry point (package main) controls verbosity
// through logrus; this wrapper lets library code log without depending on
// that choice.
package log // import "github.com/elastic/otel-profiling-report/internal/log"

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

var globalLogger = func() *atomic.Pointer[slog.Logger] {
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	p := new(atomic.Pointer[slog.Logger])
	p.Store(l)
	return p
}()

// SetLevel adjusts the global logger's minimum level.
func SetLevel(level slog.Level) {
	globalLogger.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

func getLogger() *slog.Logger {
	return globalLogger.Load()
}

// Infof logs a formatted informational message.
func Infof(msg string, args ...any) {
	if getLogger().Enabled(context.Background(), slog.LevelInfo) {
		getLogger().Info(fmt.Sprintf(msg, args...))
	}
}

// Debugf logs a formatted debug message.
func Debugf(msg string, args ...any) {
	if getLogger().Enabled(context.Background(), slog.LevelDebug) {
		getLogger().Debug(fmt.Sprintf(msg, args...))
	}
}

// Warnf logs a formatted warning message.
func Warnf(msg string, args ...any) {
	if getLogger().Enabled(context.Background(), slog.LevelWarn) {
		getLogger().Warn(fmt.Sprintf(msg, args...))
	}
}

// Error-level logging is deliberately not exposed here: every error this
// engine's library packages can hit is returned up to main.go as a
// reportcore.Error and logged exactly once at the CLI boundary
// (reportErr); a second Error/Errorf call at the point of origin would
// just duplicate that line.
