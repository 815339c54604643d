// Package logging builds the process-wide structured logger. It mirrors
// the teacher's WithLogger option pattern: callers get an explicit
// *slog.Logger to pass into component constructors rather than reaching
// for a global.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger. Zero value logs text at info level to
// stderr.
type Options struct {
	Level string // debug, info, warn, error
	File  string // optional rotated log file path; empty means stderr only
}

// New builds a *slog.Logger per opts. When File is set, output is
// rotated via lumberjack (100MB per file, 5 backups, 28 days) and also
// mirrored to stderr so interactive runs still see logs.
func New(opts Options) *slog.Logger {
	level := parseLevel(opts.Level)

	var w io.Writer = os.Stderr
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, rotator)
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// NewFromEnv reads LOG_LEVEL and LOG_FILE directly, for callers that
// don't already have a parsed Config (e.g. package-level defaults used
// before config has loaded).
func NewFromEnv() *slog.Logger {
	return New(Options{
		Level: os.Getenv("LOG_LEVEL"),
		File:  os.Getenv("LOG_FILE"),
	})
}

func parseLevel(s string) slog.Level {
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
