// Package logging centralizes zerolog setup for both binaries, the way
// go-core-stack/mcp-auth-proxy wires zerolog + go-colorable for its CLI.
package logging

import (
	"os"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
)

// New builds a logger. pretty selects a human-readable console writer
// (development, TTY); false emits compact JSON lines (production, piped
// to a log collector).
func New(component string, pretty bool, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if pretty {
		writer := zerolog.ConsoleWriter{Out: colorable.NewColorableStdout()}
		logger = zerolog.New(writer)
	} else {
		logger = zerolog.New(os.Stdout)
	}

	return logger.Level(lvl).With().Timestamp().Str("component", component).Logger()
}
