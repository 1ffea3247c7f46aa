// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gripwire

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSetpoint is returned when a setpoint outside [0, 1] reaches
	// the encoder. Clamping is the caller's job.
	ErrInvalidSetpoint = errors.New("invalid setpoint")

	// ErrInvalidFinger is returned for finger states other than Grip/Release
	ErrInvalidFinger = errors.New("invalid finger state")
)

// EncodeSetpoint formats an actuator command: four values with two decimal
// places, space separated, newline terminated.
func EncodeSetpoint(s Setpoint) ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %v outside [%.1f, %.1f]", ErrInvalidSetpoint, [NumActuators]float64(s), SetpointMin, SetpointMax)
	}
	return []byte(fmt.Sprintf("%.2f %.2f %.2f %.2f\n", s[0], s[1], s[2], s[3])), nil
}

// EncodeFinger formats a finger command ("G\n" or "R\n")
func EncodeFinger(f FingerState) ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidFinger, byte(f))
	}
	return []byte{byte(f), Delimiter}, nil
}

// EncodeEmergencyStop formats the emergency stop command ("S\n")
func EncodeEmergencyStop() []byte {
	return []byte{TokenEmergencyStop, Delimiter}
}

// CommandKind identifies an outbound message
type CommandKind int

const (
	CommandSetpoint CommandKind = iota
	CommandFinger
	CommandEmergencyStop
)

func (k CommandKind) String() string {
	switch k {
	case CommandSetpoint:
		return "SETPOINT"
	case CommandFinger:
		return "FINGER"
	case CommandEmergencyStop:
		return "EMERGENCY_STOP"
	default:
		return "UNKNOWN"
	}
}

// Command is an outbound message before encoding
type Command struct {
	Kind     CommandKind
	Setpoint Setpoint    // CommandSetpoint only
	Finger   FingerState // CommandFinger only
}

// SetpointCommand creates an actuator command
func SetpointCommand(s Setpoint) Command {
	return Command{Kind: CommandSetpoint, Setpoint: s}
}

// FingerCommand creates a finger command
func FingerCommand(f FingerState) Command {
	return Command{Kind: CommandFinger, Finger: f}
}

// EmergencyStopCommand creates the emergency stop command
func EmergencyStopCommand() Command {
	return Command{Kind: CommandEmergencyStop}
}

// Encode returns the wire bytes for the command
func (c Command) Encode() ([]byte, error) {
	switch c.Kind {
	case CommandSetpoint:
		return EncodeSetpoint(c.Setpoint)
	case CommandFinger:
		return EncodeFinger(c.Finger)
	case CommandEmergencyStop:
		return EncodeEmergencyStop(), nil
	default:
		return nil, fmt.Errorf("unknown command kind %d", c.Kind)
	}
}

func (c Command) String() string {
	switch c.Kind {
	case CommandSetpoint:
		return fmt.Sprintf("%s [%s]", c.Kind, c.Setpoint)
	case CommandFinger:
		return fmt.Sprintf("%s %s", c.Kind, c.Finger)
	default:
		return c.Kind.String()
	}
}
