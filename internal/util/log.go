// Package util holds process-wide helpers shared by the binaries.
package util

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger builds a JSON logger on stdout with every line passed through the credential redactor.
func NewLogger(level string) zerolog.Logger {
	return NewLoggerTo(os.Stdout, level)
}

// NewLoggerTo is NewLogger with an explicit sink.
func NewLoggerTo(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(NewRedactWriter(w)).With().Timestamp().Logger().Level(lvl)
}
