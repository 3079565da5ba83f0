// Package logging provides the process-wide slog logger for medrelay.
// Packages obtain a scoped logger once with Component instead of threading
// loggers through every constructor.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

type handlerBox struct{ h slog.Handler }

var (
	once     sync.Once
	active   atomic.Pointer[handlerBox]
	logLevel = new(slog.LevelVar)

	// Component loggers are derived from this one; Setup swaps the handler
	// underneath them.
	defaultLogger = slog.New(&dynamicHandler{})
)

// Options controls how the global logger is built.
type Options struct {
	Level  string    // debug, info, warn or error
	Format string    // "text" (colored) or "json"
	Output io.Writer // defaults to os.Stdout
}

// Init builds the global logger from LOG_LEVEL, LOG_FORMAT and NO_COLOR.
func Init() {
	format := os.Getenv("LOG_FORMAT")
	if format == "" && os.Getenv("NO_COLOR") != "" {
		format = "json"
	}
	Setup(Options{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: format,
	})
}

// Setup replaces the global handler. It affects loggers previously
// returned by Component as well.
func Setup(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	logLevel.Set(parseLogLevel(opts.Level))
	handlerOpts := &slog.HandlerOptions{Level: logLevel}

	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(out, handlerOpts)
	} else {
		h = NewColorHandler(out, handlerOpts)
	}
	active.Store(&handlerBox{h: h})
}

// Logger returns the global logger.
func Logger() *slog.Logger {
	return defaultLogger
}

// Component returns a logger with component context.
// Use this at package level: var log = logging.Component("routing")
func Component(name string) *slog.Logger {
	return defaultLogger.With("component", name)
}

// Discard returns a logger that drops everything. Useful in tests and benchmarks.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Level returns the current log level.
func Level() slog.Level {
	return logLevel.Level()
}

// IsDebugEnabled returns true if debug logging is enabled.
func IsDebugEnabled() bool {
	return Level() <= slog.LevelDebug
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func current() slog.Handler {
	if b := active.Load(); b != nil {
		return b.h
	}
	once.Do(Init)
	return active.Load().h
}

// dynamicHandler replays With/WithGroup calls onto whichever handler is
// active at the time a record is handled.
type dynamicHandler struct {
	ops []handlerOp
}

type handlerOp struct {
	attrs []slog.Attr
	group string
}

func (d *dynamicHandler) resolve() slog.Handler {
	h := current()
	for _, op := range d.ops {
		if op.group != "" {
			h = h.WithGroup(op.group)
		} else {
			h = h.WithAttrs(op.attrs)
		}
	}
	return h
}

func (d *dynamicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return current().Enabled(ctx, level)
}

func (d *dynamicHandler) Handle(ctx context.Context, r slog.Record) error {
	return d.resolve().Handle(ctx, r)
}

func (d *dynamicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return d.with(handlerOp{attrs: attrs})
}

func (d *dynamicHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return d
	}
	return d.with(handlerOp{group: name})
}

func (d *dynamicHandler) with(op handlerOp) *dynamicHandler {
	ops := make([]handlerOp, 0, len(d.ops)+1)
	ops = append(ops, d.ops...)
	ops = append(ops, op)
	return &dynamicHandler{ops: ops}
}
