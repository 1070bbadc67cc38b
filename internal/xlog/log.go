// Package xlog wraps log/slog with a package-level handler selectable
// between a human-readable terminal form and JSON, a dynamically
// adjustable verbosity level, and per-component child loggers carrying a
// fixed "component" field.
package xlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Level mirrors slog.Level with names matching the configuration surface
// (log_level: trace|debug|info|warn|error|fatal).
type Level int

const (
	LevelTrace Level = iota - 1
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelTrace:
		return slog.Level(-8)
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError, LevelFatal:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel parses the config string form of a level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("xlog: unknown log level %q", s)
	}
}

// verbosity is adjustable at runtime without reconstructing every Logger.
var verbosity atomic.Int64

func init() {
	verbosity.Store(int64(LevelInfo))
}

// SetVerbosity changes the minimum level emitted by every Logger sharing the
// process-wide handler.
func SetVerbosity(l Level) {
	verbosity.Store(int64(l))
}

type levelFilterHandler struct {
	next slog.Handler
}

func (h *levelFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= Level(verbosity.Load()).slogLevel()
}

func (h *levelFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h *levelFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelFilterHandler{next: h.next.WithAttrs(attrs)}
}

func (h *levelFilterHandler) WithGroup(name string) slog.Handler {
	return &levelFilterHandler{next: h.next.WithGroup(name)}
}

// Options configures the process-wide handler.
type Options struct {
	// Format selects "text" (human terminal output) or "json".
	Format string
	Output io.Writer
}

var root *slog.Logger

func init() {
	root = slog.New(&levelFilterHandler{next: newTextHandler(os.Stderr)})
}

func newTextHandler(w io.Writer) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format("2006-01-02T15:04:05.000Z07:00"))
			}
			return a
		},
	})
}

func newJSONHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
}

// Init configures the process-wide root logger. Called once at startup from
// the loaded Config; safe to call again in tests.
func Init(opts Options) error {
	w := opts.Output
	if w == nil {
		w = os.Stderr
	}
	var h slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		h = newJSONHandler(w)
	case "", "text":
		h = newTextHandler(w)
	default:
		return fmt.Errorf("xlog: unknown log format %q", opts.Format)
	}
	root = slog.New(&levelFilterHandler{next: h})
	return nil
}

// Logger is a thin wrapper binding a component name to every record.
type Logger struct {
	s *slog.Logger
}

// For returns a Logger bound to component, e.g. xlog.For("etl").
func For(component string) Logger {
	return Logger{s: root.With("component", component)}
}

func (l Logger) With(args ...any) Logger {
	return Logger{s: l.s.With(args...)}
}

func (l Logger) Trace(msg string, args ...any) { l.s.Log(context.Background(), slog.Level(-8), msg, args...) }
func (l Logger) Debug(msg string, args ...any) { l.s.Debug(msg, args...) }
func (l Logger) Info(msg string, args ...any)  { l.s.Info(msg, args...) }
func (l Logger) Warn(msg string, args ...any)  { l.s.Warn(msg, args...) }
func (l Logger) Error(msg string, args ...any) { l.s.Error(msg, args...) }

// Fatal logs at the highest severity and terminates the process. Reserved
// for invariant violations (xerrors.Fatal) per the error-handling design.
func (l Logger) Fatal(msg string, args ...any) {
	l.s.Log(context.Background(), slog.LevelError, msg, append(args, "fatal", true)...)
	os.Exit(1)
}

// Elapsed is a small helper for logging operation durations:
//
//	defer xlog.Elapsed(logger, "fetchLedgerPage", time.Now())
func Elapsed(l Logger, op string, start time.Time) {
	l.Debug("operation complete", "op", op, "duration", time.Since(start))
}
