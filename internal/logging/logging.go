// Package logging configures the process-wide zerolog logger and hands
// out per-component child loggers.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger. Configured once in Init.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init configures the base logger. debug enables console-pretty output
// and debug-level verbosity; otherwise output is compact JSON at info
// level, suitable for piping into a file or systemd journal.
func Init(debug bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	if debug {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger().Level(zerolog.DebugLevel)
		return
	}

	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// WithComponent returns a child logger tagging every event with the
// given component name, e.g. "sync", "imap", "store".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
