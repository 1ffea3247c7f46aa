// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var linkCheckDuration int

var linkCheckCmd = &cobra.Command{
	Use:   "link_check",
	Short: "Test raw link stability",
	Long: `Test the connection to the gripper without decoding or sending anything.

This command connects and just listens, logging any data received or errors
encountered. Useful for debugging connection stability issues on long USB
cables or through the WebSocket bridge.

Exit codes:
  0 - Test completed normally
  1 - Test failed
  2 - Connection error`,
	RunE: runLinkCheck,
}

func init() {
	rootCmd.AddCommand(linkCheckCmd)
	linkCheckCmd.Flags().IntVar(&linkCheckDuration, "duration", 30, "Test duration in seconds")
}

func runLinkCheck(cmd *cobra.Command, args []string) error {
	dial, err := newDialer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	duration := time.Duration(linkCheckDuration) * time.Second
	ctx, cancel := context.WithTimeout(cmd.Context(), duration)
	defer cancel()

	tr, err := openTransport(cmd.Context(), dial)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Link Stability Test\n")
	fmt.Printf("Connection: %s\n", tr.Info())
	fmt.Printf("Duration: %d seconds\n\n", linkCheckDuration)

	readChan := make(chan []byte, 100)
	errChan := make(chan error, 1)

	go func() {
		for ctx.Err() == nil {
			data, err := tr.Poll()
			if err != nil {
				errChan <- err
				return
			}
			if len(data) > 0 {
				readChan <- data
			}
		}
	}()

	start := time.Now()
	bytesReceived := 0
	chunksReceived := 0

	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	fmt.Printf("Listening for data...\n\n")

	for {
		select {
		case data := <-readChan:
			bytesReceived += len(data)
			chunksReceived++
			fmt.Printf("[%s] Received %d bytes: %q\n",
				time.Now().Format("15:04:05.000"), len(data), data)

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v\n",
				time.Now().Format("15:04:05.000"), err)
			fmt.Printf("\n--- Test Results ---\n")
			fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Millisecond))
			fmt.Printf("Chunks received: %d\n", chunksReceived)
			fmt.Printf("Bytes received: %d\n", bytesReceived)
			fmt.Printf("Result: FAILED (connection error)\n")
			_ = tr.Close()
			os.Exit(1)

		case <-heartbeat.C:
			remaining := time.Until(start.Add(duration)).Seconds()
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), remaining)

		case <-ctx.Done():
			_ = tr.Close()
			fmt.Printf("\n--- Test Results ---\n")
			fmt.Printf("Duration: %d seconds\n", linkCheckDuration)
			fmt.Printf("Chunks received: %d\n", chunksReceived)
			fmt.Printf("Bytes received: %d\n", bytesReceived)
			if bytesReceived == 0 {
				fmt.Printf("Result: FAILED (no data; check baud rate and wiring)\n")
				os.Exit(1)
			}
			fmt.Printf("Result: PASSED (connection stable)\n")
			return nil
		}
	}
}
