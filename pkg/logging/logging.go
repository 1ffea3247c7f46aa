// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging configures zerolog for the gripstat commands.
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "GRIPSTAT_LOG_LEVEL"
	EnvLogFormat  = "GRIPSTAT_LOG_FORMAT"
	EnvLogNoColor = "GRIPSTAT_LOG_NOCOLOR"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options selects level, format and destination. Empty fields fall back to
// info, console and stderr.
type Options struct {
	Level   string
	Format  string
	Output  io.Writer
	NoColor bool
}

// Configure applies environment overrides, builds the logger and installs
// it as the zerolog/log global
func Configure(opts Options) (zerolog.Logger, error) {
	applyEnvOverrides(&opts)

	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	switch strings.ToLower(opts.Format) {
	case "", FormatConsole:
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    opts.NoColor,
			TimeFormat: time.TimeOnly,
		}
	case FormatJSON:
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (use console or json)", opts.Format)
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger, nil
}

// Discard returns a logger that writes nothing and installs it globally.
// The TUI uses it when no log file is given so log lines don't tear the
// alternate screen.
func Discard() zerolog.Logger {
	logger := zerolog.Nop()
	log.Logger = logger
	return logger
}

func applyEnvOverrides(opts *Options) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		opts.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		opts.Format = v
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvLogNoColor))); err == nil {
		opts.NoColor = v
	}
}
