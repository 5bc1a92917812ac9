// Package observ carries the engine's observability surface: structured
// logging, prometheus metrics, the entry/exit snapshot lines, and the
// optional training and signal-CSV writers.
package observ

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the engine logger. Levels follow zerolog naming; an
// unknown level falls back to info. Console mode is for humans, the default
// JSON-line output is for fixtures and ingestion.
func NewLogger(level string, console bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	if console {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
