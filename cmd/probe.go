// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gripstat/pkg/gripwire"
	"github.com/Thermoquad/gripstat/pkg/link"
)

var probeTimeout int

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connection by waiting for a valid telemetry frame",
	Long: `Wait for a valid telemetry frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for one
complete telemetry line that decodes (12 or 16 tokens). Partial and
malformed lines are skipped.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking wiring, baud rate and the WebSocket bridge.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

type probeResult struct {
	snap    gripwire.Snapshot
	skipped int
	err     error
}

// waitForFrame polls tr until one frame decodes, the link fails or ctx ends
func waitForFrame(ctx context.Context, tr *link.Transport, maxFrame int) probeResult {
	reader := gripwire.NewFrameReader(maxFrame)
	skipped := 0
	for ctx.Err() == nil {
		chunk, err := tr.Poll()
		if err != nil {
			return probeResult{skipped: skipped, err: err}
		}
		_ = reader.Feed(chunk)
		for frame := range reader.Frames() {
			snap, err := gripwire.DecodeTelemetry(frame)
			if err != nil {
				skipped++
				continue
			}
			return probeResult{snap: snap, skipped: skipped}
		}
	}
	return probeResult{skipped: skipped, err: ctx.Err()}
}

func runProbe(cmd *cobra.Command, args []string) error {
	dial, err := newDialer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	timeout := time.Duration(probeTimeout) * time.Second
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	tr, err := openTransport(ctx, dial)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Gripstat - Probe\n")
	fmt.Printf("Connection: %s\n", tr.Info())
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for valid telemetry frame...\n\n")

	res := waitForFrame(ctx, tr, settings.Session.MaxFrameBytes)
	_ = tr.Close()

	switch {
	case res.err == nil:
		if res.skipped > 0 {
			fmt.Printf("(skipped %d malformed line(s) before sync)\n", res.skipped)
		}
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Print(gripwire.FormatSnapshot(res.snap, time.Now()))
		os.Exit(0)

	case ctx.Err() != nil:
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", probeTimeout)
		os.Exit(1)

	default:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", res.err)
		os.Exit(2)
	}

	return nil
}
