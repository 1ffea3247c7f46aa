// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Gripstat - Pneumatic Gripper Serial Console
//
// A CLI tool for streaming telemetry from and sending commands to a
// four-actuator pneumatic gripper over its serial line protocol.

package main

import (
	"os"

	"github.com/Thermoquad/gripstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
