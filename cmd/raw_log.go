// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gripstat/pkg/gripwire"
)

var rawLogShowLines bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display telemetry frames in human-readable format",
	Long: `Continuously decode and display gripper telemetry as it arrives.

Each frame is shown with its timestamp and the pressure, stop flag, grasp
result and (on extended firmware) bend reading of every actuator. Frames
that do not decode are shown as errors. The link is reopened automatically
if it drops.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogShowLines, "lines", false, "Also print each raw line as received")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	dial, err := newDialer()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr, err := openTransport(ctx, dial)
	if err != nil {
		return err
	}
	defer tr.Close()

	fmt.Printf("Gripstat - Raw Telemetry Log\n")
	fmt.Printf("Connection: %s\n", tr.Info())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	reader := gripwire.NewFrameReader(settings.Session.MaxFrameBytes)

	for ctx.Err() == nil {
		chunk, err := tr.Poll()
		if err != nil {
			fmt.Printf("[%s] LINK: %v\n", time.Now().Format("15:04:05.000"), err)
			reader.Reset()
			if err := tr.Reconnect(ctx); err != nil {
				break
			}
			fmt.Printf("[%s] LINK: reconnected (%s)\n", time.Now().Format("15:04:05.000"), tr.Info())
			continue
		}

		if err := reader.Feed(chunk); errors.Is(err, gripwire.ErrFrameOverflow) {
			fmt.Printf("[%s] [ERROR] %v\n", time.Now().Format("15:04:05.000"), err)
		}

		for frame := range reader.Frames() {
			now := time.Now()
			if rawLogShowLines {
				fmt.Printf("[%s] <- %q\n", now.Format("15:04:05.000"), frame)
			}
			snap, err := gripwire.DecodeTelemetry(frame)
			if err != nil {
				fmt.Print(gripwire.FormatDecodeError(err, now))
				continue
			}
			fmt.Print(gripwire.FormatSnapshot(snap, now))
		}
	}

	fmt.Println("\nStopped")
	return nil
}

