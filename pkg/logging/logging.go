// Package logging configures the process logger for s3crawl using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/eunmann/s3crawl/internal/logctx"
	"github.com/rs/zerolog"
)

var (
	logger zerolog.Logger
	pretty atomic.Bool
)

func init() {
	// JSON at info level until Init runs.
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Init configures the global logger from a level name ("debug", "info",
// "warn", "error"). If human is true, a console writer is used instead of
// JSON. The result also becomes the logctx fallback logger.
func Init(level string, human bool) error {
	return InitTo(os.Stderr, level, human)
}

// InitTo is Init with an explicit destination.
func InitTo(w io.Writer, level string, human bool) error {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		lvl, err = zerolog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("parse log level %q: %w", level, err)
		}
	}
	zerolog.SetGlobalLevel(lvl)

	out := w
	if human {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	pretty.Store(human)
	SetLogger(zerolog.New(out).With().Timestamp().Logger())
	return nil
}

// L returns the base logger.
func L() *zerolog.Logger {
	return &logger
}

// IsPrettyMode reports whether console output was requested. Callers add
// human-readable companion fields only in that mode.
func IsPrettyMode() bool {
	return pretty.Load()
}

// WithPhase returns a logger with the phase field set. Commands use their
// name as the phase.
func WithPhase(phase string) zerolog.Logger {
	return logger.With().Str("phase", phase).Logger()
}

// SetLogger overrides the global logger and the logctx fallback.
func SetLogger(l zerolog.Logger) {
	logger = l
	logctx.SetDefaultLogger(l)
}
