package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// setupLogging points the global zerolog logger at stderr or a file. The console
// writer is used for "console", and for "auto" when the target is a terminal.
func setupLogging(level, format, file string) (func(), error) {
	zerolog.SetGlobalLevel(parseZerologLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var (
		w       io.Writer = os.Stderr
		closeFn           = func() {}
		tty               = isatty.IsTerminal(os.Stderr.Fd())
	)
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return closeFn, errors.Wrapf(err, "open log file %s", file)
		}
		w = f
		tty = false
		closeFn = func() { _ = f.Close() }
	}

	switch strings.ToLower(format) {
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: !tty}
	case "json":
	case "", "auto":
		if tty {
			w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
		}
	default:
		closeFn()
		return func() {}, errors.Errorf("unknown log format %q", format)
	}

	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return closeFn, nil
}

// parseZerologLevel converts a string level into zerolog.Level with a safe default.
func parseZerologLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
