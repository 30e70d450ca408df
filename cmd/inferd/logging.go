package main

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "inferd").Logger(), nil
}

// requestLogLevel maps the process level onto the per-request levels of the
// HTTP layer.
func requestLogLevel(level string) string {
	switch level {
	case "trace", "debug":
		return "debug"
	case "info", "":
		return "info"
	case "disabled":
		return "off"
	default:
		return "error"
	}
}
