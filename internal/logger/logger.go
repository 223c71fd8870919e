package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var levelVar = new(slog.LevelVar)

// Init installs the process-wide logger at info level. SetLevel adjusts it
// once configuration is loaded.
func Init() *slog.Logger {
	l := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(l)
	return l
}

// SetLevel applies a LOG_LEVEL value to the logger returned by Init. debug
// forces debug level.
func SetLevel(value string, debug bool) {
	lv := ParseLevel(value)
	if debug {
		lv = slog.LevelDebug
	}
	levelVar.Set(lv)
}

// New builds a text logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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
