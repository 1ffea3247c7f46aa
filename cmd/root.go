// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/gripstat/pkg/config"
	"github.com/Thermoquad/gripstat/pkg/logging"
)

// Version is reported by --version and the HTTP health endpoint
const Version = "1.0.0"

// annotationTUI marks commands that own the terminal
const annotationTUI = "tui"

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Config and logging flags
	configPath string
	logLevel   string
	logFormat  string
	logFile    string
)

var (
	// settings is the merged configuration: defaults, then file, then flags
	settings config.Config
	logger   zerolog.Logger
	logOut   io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "gripstat",
	Short: "Pneumatic Gripper Serial Console",
	Long: `Gripstat - A host-side console for the four-actuator pneumatic gripper.

Streams telemetry (pressures, stop flags, grasp results and bend readings)
from the gripper controller and sends actuator setpoints, finger commands
and the emergency stop over its newline-delimited serial protocol.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

Settings may also come from a YAML or TOML file given with --config; flags
override the file.

For WebSocket authentication, the password is read from the GRIPSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logOut != nil {
			_ = logOut.Close()
		}
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (console or json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
}

// loadSettings merges config file and flags, then configures logging
func loadSettings(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Link.Port = portName
		cfg.Link.URL = ""
	}
	if flags.Changed("url") {
		cfg.Link.URL = wsURL
		cfg.Link.Port = ""
	}
	if flags.Changed("baud") {
		cfg.Link.Baud = baudRate
	}
	if flags.Changed("username") {
		cfg.Link.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Link.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("log-file") {
		cfg.Log.File = logFile
	}

	if err := config.Validate(&cfg); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	settings = cfg

	return setupLogging(cmd)
}

func setupLogging(cmd *cobra.Command) error {
	_, isTUI := cmd.Annotations[annotationTUI]

	if settings.Log.File == "" {
		if isTUI {
			logger = logging.Discard()
			return nil
		}
		l, err := logging.Configure(logging.Options{
			Level:  settings.Log.Level,
			Format: settings.Log.Format,
		})
		if err != nil {
			return err
		}
		logger = l
		return nil
	}

	f, err := os.OpenFile(settings.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	l, err := logging.Configure(logging.Options{
		Level:   settings.Log.Level,
		Format:  settings.Log.Format,
		Output:  f,
		NoColor: true,
	})
	if err != nil {
		_ = f.Close()
		return err
	}
	logger = l
	logOut = f
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
