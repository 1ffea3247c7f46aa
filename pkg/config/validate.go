// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"math"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/gripstat/pkg/gripwire"
)

// minFrameBytes fits the longest well-formed telemetry line with small
// values; anything lower would overflow on every frame
const minFrameBytes = 32

// Validate checks configuration correctness.
// It does not mutate cfg.
func Validate(cfg *Config) error {
	// ---- link ----

	l := cfg.Link
	if l.Port != "" && l.URL != "" {
		return fmt.Errorf("link: port and url are mutually exclusive")
	}
	if l.Baud <= 0 {
		return fmt.Errorf("link: baud must be positive, got %d", l.Baud)
	}
	if l.URL != "" {
		u, err := url.Parse(l.URL)
		if err != nil {
			return fmt.Errorf("link: invalid url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("link: url scheme must be ws or wss, got %q", u.Scheme)
		}
	}
	if l.PollTimeoutMs <= 0 {
		return fmt.Errorf("link: poll_timeout_ms must be positive, got %d", l.PollTimeoutMs)
	}
	if l.ReadFaultAfterMs < 0 {
		return fmt.Errorf("link: read_fault_after_ms must not be negative")
	}
	if l.ReadFaultAfterMs > 0 && l.ReadFaultAfterMs <= l.PollTimeoutMs {
		return fmt.Errorf(
			"link: read_fault_after_ms (%d) must exceed poll_timeout_ms (%d)",
			l.ReadFaultAfterMs,
			l.PollTimeoutMs,
		)
	}
	if l.SettleMs < 0 {
		return fmt.Errorf("link: settle_ms must not be negative")
	}

	// ---- backoff ----

	b := cfg.Backoff
	if b.InitialMs <= 0 {
		return fmt.Errorf("backoff: initial_ms must be positive, got %d", b.InitialMs)
	}
	if b.MaxMs < b.InitialMs {
		return fmt.Errorf("backoff: max_ms (%d) must be at least initial_ms (%d)", b.MaxMs, b.InitialMs)
	}
	if b.Multiplier < 1 {
		return fmt.Errorf("backoff: multiplier must be at least 1, got %g", b.Multiplier)
	}

	// ---- session ----

	s := cfg.Session
	if !(s.Tolerance > 0 && s.Tolerance < 0.5) {
		return fmt.Errorf("session: tolerance must be in (0, 0.5), got %g", s.Tolerance)
	}
	if s.ImmediateRetries < 0 {
		return fmt.Errorf("session: immediate_retries must not be negative")
	}
	if s.MaxFrameBytes < minFrameBytes {
		return fmt.Errorf("session: max_frame_bytes must be at least %d, got %d", minFrameBytes, s.MaxFrameBytes)
	}

	// ---- presets ----

	for i, p := range cfg.Presets {
		if len(p.Values) != gripwire.NumActuators {
			return fmt.Errorf(
				"presets[%d] %q: expected %d values, got %d",
				i,
				p.Name,
				gripwire.NumActuators,
				len(p.Values),
			)
		}
	}
	if _, err := cfg.Catalog(); err != nil {
		return fmt.Errorf("presets: %w", err)
	}

	// ---- log ----

	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log: format must be console or json, got %q", cfg.Log.Format)
	}

	// ---- api ----

	if cfg.API.Addr == "" {
		return fmt.Errorf("api: addr must not be empty")
	}

	// ---- limits ----

	lim := cfg.Limits
	if math.IsNaN(lim.MinPressure) || math.IsNaN(lim.MaxPressure) || lim.MinPressure >= lim.MaxPressure {
		return fmt.Errorf("limits: min_pressure (%g) must be below max_pressure (%g)", lim.MinPressure, lim.MaxPressure)
	}

	return nil
}
