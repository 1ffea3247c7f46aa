// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package gripwire implements the line-oriented ASCII protocol spoken by the
// pneumatic gripper controller.
//
// Every message is one line terminated by '\n'. The host sends actuator
// setpoints ("0.80 0.80 0.80 0.80"), finger commands ("G" / "R") and the
// emergency stop ("S"). The controller streams telemetry lines of 12 or 16
// whitespace-separated tokens: four pressures, four stop flags, four grasp
// flags and, on extended firmware, four bend sensor readings.
//
// This package provides frame extraction from a raw byte stream, telemetry
// decoding, command encoding, statistics and human-readable formatting.
package gripwire

// NumActuators is the number of independently driven actuators
const NumActuators = 4

// Framing
const (
	Delimiter = '\n'

	// DefaultMaxFrameSize bounds the undelimited bytes the frame reader
	// accumulates before declaring an overflow. A 16-token telemetry line
	// is well under 128 bytes.
	DefaultMaxFrameSize = 256
)

// Telemetry token counts
const (
	BaseTokenCount     = 3 * NumActuators
	ExtendedTokenCount = 4 * NumActuators
)

// Telemetry token offsets
const (
	offsetPressure = 0
	offsetStop     = NumActuators
	offsetGrasp    = 2 * NumActuators
	offsetBend     = 3 * NumActuators
)

// Stop flag tokens
const (
	TokenStopped = "T"
	TokenFault   = "F"
)

// Grasp flag tokens
const (
	TokenGraspUnknown = "0"
	TokenGraspSuccess = "1"
	TokenGraspFailure = "-1"
)

// Command tokens (Host → Controller)
const (
	TokenGrip          = 'G'
	TokenRelease       = 'R'
	TokenEmergencyStop = 'S'
)

// Setpoint range
const (
	SetpointMin = 0.0
	SetpointMax = 1.0
)
