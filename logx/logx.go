// Package logx provides the structured-logging setup shared by the IO
// multiplexer and the gang scheduler. Both subsystems run inside a daemon
// that already owns its own process-wide logger configuration; For gives
// each component its own child logger with a stable "component" field
// instead of writing to a process-global sink directly.
package logx

import (
	"os"

	"github.com/rs/zerolog"
)

// Base is the process-wide logger. Daemons embedding batchcore may replace
// it (e.g. to redirect to a file or change level) before constructing any
// component loggers.
var Base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: false}).
	With().
	Timestamp().
	Logger()

// For returns a child logger tagged with component, e.g. "iomux.client" or
// "gang.timeslicer".
func For(component string) zerolog.Logger {
	return Base.With().Str("component", component).Logger()
}
