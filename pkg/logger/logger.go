package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var global atomic.Pointer[slog.Logger]

func init() {
	global.Store(New(os.Stdout, "dev", "debug"))
}

// New returns a slog.Logger with formatting + level based on env.
// prod logs JSON, everything else logs text.
func New(w io.Writer, env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if env == "prod" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Init replaces the process logger.
func Init(env, level string) {
	global.Store(New(os.Stdout, env, level))
}

// Set swaps the process logger, mostly for tests.
func Set(l *slog.Logger) {
	global.Store(l)
}

func L() *slog.Logger {
	return global.Load()
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Convenience functions
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

func Fatal(msg string, args ...any) {
	L().Error(msg, args...)
	os.Exit(1)
}

func With(args ...any) *slog.Logger {
	return L().With(args...)
}
