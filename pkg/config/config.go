// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads gripstat settings from YAML or TOML files.
package config

import (
	"time"

	"github.com/Thermoquad/gripstat/pkg/gripwire"
	"github.com/Thermoquad/gripstat/pkg/link"
	"github.com/Thermoquad/gripstat/pkg/session"
)

type Config struct {
	Link    LinkConfig     `yaml:"link" toml:"link"`
	Backoff BackoffConfig  `yaml:"backoff" toml:"backoff"`
	Session SessionConfig  `yaml:"session" toml:"session"`
	Presets []PresetConfig `yaml:"presets" toml:"presets"`
	Log     LogConfig      `yaml:"log" toml:"log"`
	API     APIConfig      `yaml:"api" toml:"api"`
	Limits  LimitsConfig   `yaml:"limits" toml:"limits"`
}

// ---- LINK ----

type LinkConfig struct {
	Port        string `yaml:"port" toml:"port"`
	Baud        int    `yaml:"baud" toml:"baud"`
	URL         string `yaml:"url" toml:"url"`
	Username    string `yaml:"username" toml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify" toml:"no_ssl_verify"`

	PollTimeoutMs    int `yaml:"poll_timeout_ms" toml:"poll_timeout_ms"`
	ReadFaultAfterMs int `yaml:"read_fault_after_ms" toml:"read_fault_after_ms"` // 0 disables
	SettleMs         int `yaml:"settle_ms" toml:"settle_ms"`                     // serial only
}

func (l LinkConfig) PollTimeout() time.Duration {
	return time.Duration(l.PollTimeoutMs) * time.Millisecond
}

func (l LinkConfig) ReadFaultAfter() time.Duration {
	return time.Duration(l.ReadFaultAfterMs) * time.Millisecond
}

func (l LinkConfig) Settle() time.Duration {
	return time.Duration(l.SettleMs) * time.Millisecond
}

// ---- BACKOFF ----

type BackoffConfig struct {
	InitialMs  int     `yaml:"initial_ms" toml:"initial_ms"`
	MaxMs      int     `yaml:"max_ms" toml:"max_ms"`
	Multiplier float64 `yaml:"multiplier" toml:"multiplier"`
	Jitter     bool    `yaml:"jitter" toml:"jitter"`
}

func (b BackoffConfig) LinkBackoff() link.BackoffConfig {
	return link.BackoffConfig{
		InitialDelay: time.Duration(b.InitialMs) * time.Millisecond,
		Multiplier:   b.Multiplier,
		MaxDelay:     time.Duration(b.MaxMs) * time.Millisecond,
		Jitter:       b.Jitter,
	}
}

// ---- SESSION ----

type SessionConfig struct {
	Tolerance        float64 `yaml:"tolerance" toml:"tolerance"`
	ImmediateRetries int     `yaml:"immediate_retries" toml:"immediate_retries"`
	MaxFrameBytes    int     `yaml:"max_frame_bytes" toml:"max_frame_bytes"`
}

// ---- PRESETS ----

type PresetConfig struct {
	Name   string    `yaml:"name" toml:"name"`
	Values []float64 `yaml:"values" toml:"values"`
}

// ---- LOG ----

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // console or json
	File   string `yaml:"file" toml:"file"`
}

// ---- API ----

type APIConfig struct {
	Addr        string   `yaml:"addr" toml:"addr"`
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
}

// ---- LIMITS ----

type LimitsConfig struct {
	MinPressure float64 `yaml:"min_pressure" toml:"min_pressure"`
	MaxPressure float64 `yaml:"max_pressure" toml:"max_pressure"`
}

func (l LimitsConfig) Limits() gripwire.Limits {
	return gripwire.Limits{MinPressure: l.MinPressure, MaxPressure: l.MaxPressure}
}

// Default returns the built-in configuration
func Default() Config {
	limits := gripwire.DefaultLimits()
	cfg := Config{
		Link: LinkConfig{
			Baud:             link.DefaultBaudRate,
			PollTimeoutMs:    100,
			ReadFaultAfterMs: 5000,
			SettleMs:         2000,
		},
		Backoff: BackoffConfig{
			InitialMs:  1000,
			MaxMs:      30000,
			Multiplier: 2.0,
		},
		Session: SessionConfig{
			Tolerance:        session.DefaultTolerance,
			ImmediateRetries: 2,
			MaxFrameBytes:    gripwire.DefaultMaxFrameSize,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		API: APIConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
		},
		Limits: LimitsConfig{
			MinPressure: limits.MinPressure,
			MaxPressure: limits.MaxPressure,
		},
	}
	for _, p := range session.DefaultCatalog().All() {
		cfg.Presets = append(cfg.Presets, PresetConfig{Name: p.Name, Values: p.Values[:]})
	}
	return cfg
}

// Catalog builds the preset catalog in file order
func (c *Config) Catalog() (*session.Catalog, error) {
	presets := make([]session.Preset, 0, len(c.Presets))
	for _, p := range c.Presets {
		var values gripwire.Setpoint
		copy(values[:], p.Values)
		presets = append(presets, session.Preset{Name: p.Name, Values: values})
	}
	return session.NewCatalog(presets...)
}

// SessionOptions returns session options without a logger
func (c *Config) SessionOptions() (session.Options, error) {
	catalog, err := c.Catalog()
	if err != nil {
		return session.Options{}, err
	}
	return session.Options{
		Tolerance:        c.Session.Tolerance,
		ImmediateRetries: c.Session.ImmediateRetries,
		MaxFrameSize:     c.Session.MaxFrameBytes,
		Catalog:          catalog,
		Limits:           c.Limits.Limits(),
	}, nil
}
