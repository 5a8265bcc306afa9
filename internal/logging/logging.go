// Package logging provides structured logging for rastercalc.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports both text and JSON
// output formats, configurable log levels, and component-based loggers.
//
// The process logger is configured once at startup from an explicit Options
// value. Components accept an optional *slog.Logger and fall back to
// Component(name) when none is given, so tests can inject their own handler.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(logging.Options{Level: slog.LevelInfo})
//
//	// Get a component logger
//	log := logging.Component("percentile")
//	log.Info("ranks resolved", "total_valid", n)
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Options configures a logger.
type Options struct {
	// Level is the minimum level emitted.
	Level slog.Level

	// JSON selects the JSON handler instead of human-readable text.
	JSON bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

var (
	mu     sync.RWMutex
	logger *slog.Logger
)

// New builds a logger from opts without touching process-wide state.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	hopts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.Level == slog.LevelDebug,
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(out, hopts)
	} else {
		handler = slog.NewTextHandler(out, hopts)
	}
	return slog.New(handler)
}

// Init initializes the process logger and installs it as the slog default.
// It should be called once at process start.
func Init(opts Options) {
	l := New(opts)

	mu.Lock()
	logger = l
	mu.Unlock()

	slog.SetDefault(l)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a config string to a slog level. Unknown strings map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func current() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	return slog.Default()
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Example:
//
//	log := logging.Component("spool")
//	log.Info("run written") // Output: time=... level=INFO component=spool msg="run written"
func Component(name string) *slog.Logger {
	return current().With("component", name)
}

// Or returns l when non-nil, otherwise the named component logger.
func Or(l *slog.Logger, component string) *slog.Logger {
	if l != nil {
		return l
	}
	return Component(component)
}
