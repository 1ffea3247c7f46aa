// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gripstat/pkg/gripwire"
	"github.com/Thermoquad/gripstat/pkg/link"
)

var (
	showAll       bool
	statsInterval int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Detect and analyze malformed frames and anomalies",
	Long: `Track frame errors and anomalous telemetry with statistics.

This command decodes and validates every telemetry frame and detects:
  - Malformed frames (wrong token count, bad stop or grasp flags)
  - Frame overflows (runs of bytes with no line ending)
  - Anomalous values (pressure out of range, actuator faults, failed grasps)
  - Link faults and reconnects

Bytes before the first valid frame are ignored: the controller resets when
the port opens and the first line is usually cut short.

By default, only errors are displayed. Use --show-all to display valid frames too.
A statistics summary is printed at the configured interval.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  >>> FRAME DROPPED <<<\n\n")
}

// printValidationErrors prints the anomalies found in a snapshot
func printValidationErrors(snap gripwire.Snapshot, at time.Time, findings []gripwire.ValidationError) {
	fmt.Printf("[%s] \033[1;33mANOMALY:\033[0m %d finding(s)\n", at.Format("15:04:05.000"), len(findings))

	for i, f := range findings {
		switch f.Type {
		case gripwire.AnomalyActuatorFault:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, f.Message)
		case gripwire.AnomalyPressureRange:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, f.Message)
		default:
			fmt.Printf("  Issue %d: %s\n", i+1, f.Message)
		}
	}

	fmt.Print(gripwire.FormatSnapshot(snap, at))
	fmt.Println()
}

// frameMonitor decodes, validates and counts frames from one link
type frameMonitor struct {
	reader  *gripwire.FrameReader
	stats   *gripwire.Statistics
	limits  gripwire.Limits
	showAll bool

	// Sync tracking - ignore decode errors until first valid frame
	synchronized   bool
	skippedOnStart int
}

func newFrameMonitor(maxFrame int, limits gripwire.Limits, showAll bool) *frameMonitor {
	return &frameMonitor{
		reader:  gripwire.NewFrameReader(maxFrame),
		stats:   gripwire.NewStatistics(),
		limits:  limits,
		showAll: showAll,
	}
}

// resync forgets partial data after the link was reopened
func (fm *frameMonitor) resync() {
	fm.reader.Reset()
	fm.synchronized = false
	fm.skippedOnStart = 0
}

func (fm *frameMonitor) process(chunk []byte) {
	if err := fm.reader.Feed(chunk); err != nil {
		fm.stats.RecordOverflow(err)
		if fm.synchronized {
			printDecodeError(err)
		}
	}

	for frame := range fm.reader.Frames() {
		now := time.Now()
		snap, err := gripwire.DecodeTelemetry(frame)
		if err != nil {
			if !fm.synchronized {
				fm.skippedOnStart++
				continue
			}
			fm.stats.Update(nil, err, nil)
			printDecodeError(err)
			continue
		}

		if !fm.synchronized {
			fm.synchronized = true
			if fm.skippedOnStart > 0 {
				fmt.Printf("[SYNC] Synchronized after skipping %d partial frame(s)\n\n", fm.skippedOnStart)
			} else {
				fmt.Printf("[SYNC] Synchronized\n\n")
			}
		}

		findings := gripwire.ValidateSnapshot(snap, fm.limits)
		fm.stats.Update(&snap, nil, findings)

		if len(findings) > 0 {
			printValidationErrors(snap, now, findings)
		} else if fm.showAll {
			fmt.Print(gripwire.FormatSnapshot(snap, now))
		}
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if statsInterval <= 0 {
		return errors.New("--stats-interval must be positive")
	}

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

	fmt.Printf("Gripstat - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", tr.Info())
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	fm := newFrameMonitor(settings.Session.MaxFrameBytes, settings.Limits.Limits(), showAll)

	chunks := make(chan linkChunk, 16)
	go pollLink(ctx, tr, chunks)

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			fmt.Print(fm.stats.Snapshot().String())
			return nil

		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			if chunk.reconnected {
				fm.resync()
			}
			fm.process(chunk.data)

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(fm.stats.Snapshot().String())
			fmt.Println()
		}
	}
}

// linkChunk is one poll result handed from the polling goroutine
type linkChunk struct {
	data        []byte
	reconnected bool // the link was reopened; earlier partial data is stale
}

// pollLink forwards received chunks until ctx ends, reconnecting on faults
func pollLink(ctx context.Context, tr *link.Transport, chunks chan<- linkChunk) {
	defer close(chunks)
	for ctx.Err() == nil {
		chunk, err := tr.Poll()
		if err != nil {
			fmt.Printf("[%s] \033[1;31mLINK:\033[0m %v\n", time.Now().Format("15:04:05.000"), err)
			if err := tr.Reconnect(ctx); err != nil {
				return
			}
			fmt.Printf("[%s] \033[1;32mLINK:\033[0m reconnected (%s)\n", time.Now().Format("15:04:05.000"), tr.Info())
			chunk = nil
		} else if len(chunk) == 0 {
			continue
		}

		select {
		case chunks <- linkChunk{data: chunk, reconnected: err != nil}:
		case <-ctx.Done():
			return
		}
	}
}
