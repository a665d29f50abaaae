// Package logging wires zerolog the way every session-layer task expects
// to receive it: a small sub-logger carrying fixed fields, threaded
// through constructors rather than pulled from a package-global.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// New returns a logger tagged with the given component name. When
// LDROP_LOG_PRETTY is set the output is a human-readable console writer
// (for interactive/terminal use); otherwise it is plain JSON, suitable
// for piping or daemon logs.
func New(component string) zerolog.Logger {
	var w = zerolog.NewConsoleWriter(func(cw *zerolog.ConsoleWriter) {
		cw.Out = os.Stderr
	})

	if os.Getenv("LDROP_LOG_PRETTY") == "" {
		return zerolog.New(os.Stderr).With().Timestamp().Str("component", component).Logger()
	}
	return zerolog.New(w).With().Timestamp().Str("component", component).Logger()
}

// Session returns a logger scoped to one session, carrying its kind and id.
func Session(kind, sessionID string) zerolog.Logger {
	return New("session").With().Str("session_kind", kind).Str("session_id", sessionID).Logger()
}
