// Package telemetry provides logging, tracing and metrics setup.
package telemetry

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the component logger. Lambda functions log JSON to stdout
// so CloudWatch can index the fields; the CLI uses a console writer.
func NewLogger(component, level string, console bool) zerolog.Logger {
	var out io.Writer = os.Stdout
	if console {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	return newLogger(out, component, level)
}

func newLogger(out io.Writer, component, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
