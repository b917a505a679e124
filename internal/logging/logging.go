// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Output formats
const (
	FormatAuto   = "auto"
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// Config selects the handler and level.
type Config struct {
	// Format is "auto", "json" or "pretty". Auto picks pretty output when stdout
	// is a terminal and JSON otherwise.
	Format string
	// Level is "debug", "info", "warn" or "error" (default info).
	Level string
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
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

// New builds a logger writing to out.
func New(out io.Writer, cfg Config) *slog.Logger {
	level := ParseLevel(cfg.Level)

	if usePretty(out, cfg.Format) {
		return slog.New(tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(out),
		}))
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}

// Setup builds a stdout logger and installs it as the slog default.
func Setup(cfg Config) *slog.Logger {
	logger := New(os.Stdout, cfg)
	slog.SetDefault(logger)
	return logger
}

func usePretty(out io.Writer, format string) bool {
	switch strings.ToLower(format) {
	case FormatPretty:
		return true
	case FormatJSON:
		return false
	default:
		return isTerminal(out)
	}
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
