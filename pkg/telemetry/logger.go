// Package telemetry provides structured logging and Prometheus metrics for
// the provisioning engine.
package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`

	// Format is "console" for human-readable output or "json". Defaults
	// to console.
	Format string `yaml:"format"`
}

// NewLogger builds the root logger on stderr.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	var writer io.Writer = os.Stderr
	if cfg.Format != "json" {
		writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// ComponentLogger derives a child logger tagged with a component name.
func ComponentLogger(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}
