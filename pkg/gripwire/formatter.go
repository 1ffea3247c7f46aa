// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gripwire

import (
	"fmt"
	"strings"
	"time"
)

// FormatSnapshot formats a snapshot into a human-readable block
func FormatSnapshot(s Snapshot, at time.Time) string {
	kind := "TELEMETRY"
	if s.HasBend {
		kind = "TELEMETRY_EXT"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s\n", at.Format("15:04:05.000"), kind))
	for i := 0; i < NumActuators; i++ {
		b.WriteString(fmt.Sprintf("  Actuator %d: %8.1f hPa  Stop: %-5s  Grasp: %s",
			i+1, s.Pressures[i], FormatStopFlag(s.Stopped[i]), s.Grasp[i]))
		if s.HasBend {
			b.WriteString(fmt.Sprintf("  Bend: %d", s.Bend[i]))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatStopFlag renders a stop flag
func FormatStopFlag(stopped bool) string {
	if stopped {
		return "SAFE"
	}
	return "FAULT"
}

// FormatCommand formats an outbound command with its wire bytes
func FormatCommand(c Command, at time.Time) string {
	wire, err := c.Encode()
	if err != nil {
		return fmt.Sprintf("[%s] -> %s (encode error: %v)\n", at.Format("15:04:05.000"), c, err)
	}
	return fmt.Sprintf("[%s] -> %s %q\n", at.Format("15:04:05.000"), c, string(wire))
}

// FormatDecodeError formats a rejected frame
func FormatDecodeError(err error, at time.Time) string {
	return fmt.Sprintf("[%s] DECODE ERROR: %v\n", at.Format("15:04:05.000"), err)
}
