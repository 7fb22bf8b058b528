package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds the process-wide zerolog.Logger: a human-readable console
// writer in dev mode, newline-delimited JSON otherwise (piped to a file
// or log aggregator), matching the console-writer/JSON split every
// teacher package's log.Info().Str(...).Msg(...) call sites assume.
// verbosity is the CLI's -v count: 0 is info, 1 is debug, 2+ is trace.
func New(pretty bool, verbosity int, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var out io.Writer = w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(levelFor(verbosity))
}

func levelFor(verbosity int) zerolog.Level {
	switch {
	case verbosity >= 2:
		return zerolog.TraceLevel
	case verbosity == 1:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}
