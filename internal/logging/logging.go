// Package logging builds the process logger and routes gnark's own logger
// through it.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
)

// New returns a timestamped logger writing to w at the named level. An
// unknown or empty level means info. gnark's compile and prove chatter is
// forwarded at warn so it only shows up when something goes wrong.
func New(level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	l := zerolog.New(w).
		With().
		Timestamp().
		Logger().
		Level(lvl)

	gnarklogger.Set(l.With().Str("component", "gnark").Logger().Level(zerolog.WarnLevel))
	return l
}

// Console is New with a human readable writer, used by the CLIs.
func Console(level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return New(level, zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen})
}

// Disabled silences both the returned logger and gnark.
func Disabled() zerolog.Logger {
	gnarklogger.Disable()
	return zerolog.Nop()
}
