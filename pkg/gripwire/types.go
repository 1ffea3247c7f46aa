// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gripwire

import (
	"fmt"
	"math"
	"strings"
)

// Setpoint is the commanded position of each actuator, 0.0 (relaxed) to
// 1.0 (fully actuated). Only two decimal places reach the controller.
type Setpoint [NumActuators]float64

// Clamp returns a copy with every value limited to [0, 1]
func (s Setpoint) Clamp() Setpoint {
	var out Setpoint
	for i, v := range s {
		out[i] = math.Max(SetpointMin, math.Min(SetpointMax, v))
	}
	return out
}

// Valid reports whether every value is finite and inside [0, 1]
func (s Setpoint) Valid() bool {
	for _, v := range s {
		if math.IsNaN(v) || v < SetpointMin || v > SetpointMax {
			return false
		}
	}
	return true
}

// Finite reports whether no value is NaN or infinite
func (s Setpoint) Finite() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Equal reports whether every component differs from o by at most tol
func (s Setpoint) Equal(o Setpoint, tol float64) bool {
	for i := range s {
		if math.Abs(s[i]-o[i]) > tol {
			return false
		}
	}
	return true
}

// String formats the setpoint the way it appears on the wire
func (s Setpoint) String() string {
	parts := make([]string, NumActuators)
	for i, v := range s {
		parts[i] = fmt.Sprintf("%.2f", v)
	}
	return strings.Join(parts, " ")
}

// FingerState is the discrete finger mode
type FingerState byte

const (
	FingerGrip    FingerState = TokenGrip
	FingerRelease FingerState = TokenRelease
)

// Valid reports whether f is Grip or Release
func (f FingerState) Valid() bool {
	return f == FingerGrip || f == FingerRelease
}

// Toggle returns the opposite finger state. Anything that is not Grip
// toggles to Grip.
func (f FingerState) Toggle() FingerState {
	if f == FingerGrip {
		return FingerRelease
	}
	return FingerGrip
}

func (f FingerState) String() string {
	switch f {
	case FingerGrip:
		return "GRIP"
	case FingerRelease:
		return "RELEASE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(f))
	}
}

// GraspResult is the controller's verdict on the last grasp attempt of an
// actuator
type GraspResult int8

const (
	GraspUnknown GraspResult = 0
	GraspSuccess GraspResult = 1
	GraspFailure GraspResult = -1
)

func (g GraspResult) String() string {
	switch g {
	case GraspUnknown:
		return "UNKNOWN"
	case GraspSuccess:
		return "SUCCESS"
	case GraspFailure:
		return "FAILURE"
	default:
		return fmt.Sprintf("INVALID(%d)", int8(g))
	}
}

// Snapshot is one complete telemetry report. All arrays are indexed by
// actuator, so index i of every field refers to the same actuator.
//
// Snapshots are values; a newer one replaces an older one as a whole.
type Snapshot struct {
	Pressures [NumActuators]float64     // hPa
	Stopped   [NumActuators]bool        // true = halted/safe, false = fault
	Grasp     [NumActuators]GraspResult // last grasp verdict
	Bend      [NumActuators]int32       // raw bend sensor readings
	HasBend   bool                      // Bend is only meaningful when set
}

// InitialSnapshot returns the state assumed before any telemetry arrives:
// zero pressure, every actuator halted, no grasp verdict.
func InitialSnapshot() Snapshot {
	return Snapshot{
		Stopped: [NumActuators]bool{true, true, true, true},
	}
}

// Faulted returns the indices of actuators reporting a fault
func (s Snapshot) Faulted() []int {
	var idx []int
	for i, ok := range s.Stopped {
		if !ok {
			idx = append(idx, i)
		}
	}
	return idx
}
