// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gripstat/pkg/link"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long: `List the serial ports on this host, USB ports first.

The gripper controller normally shows up as a USB serial device
(/dev/ttyACM* or /dev/ttyUSB* on Linux, COMx on Windows).`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := link.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	for _, p := range ports {
		if !p.IsUSB {
			fmt.Printf("%s\n", p.Name)
			continue
		}
		fmt.Printf("%s  USB %s:%s", p.Name, p.VID, p.PID)
		if p.Product != "" {
			fmt.Printf("  %s", p.Product)
		}
		if p.SerialNumber != "" {
			fmt.Printf("  (serial %s)", p.SerialNumber)
		}
		fmt.Println()
	}
	return nil
}
