// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gripwire

import "fmt"

// AnomalyType represents different kinds of suspicious telemetry
type AnomalyType int

const (
	AnomalyPressureRange AnomalyType = iota
	AnomalyActuatorFault
	AnomalyGraspFailure
)

func (a AnomalyType) String() string {
	switch a {
	case AnomalyPressureRange:
		return "PRESSURE_RANGE"
	case AnomalyActuatorFault:
		return "ACTUATOR_FAULT"
	case AnomalyGraspFailure:
		return "GRASP_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Limits bounds the plausible telemetry values
type Limits struct {
	MinPressure float64 // hPa
	MaxPressure float64 // hPa
}

// DefaultLimits returns limits suited to a soft pneumatic gripper running
// near atmospheric pressure
func DefaultLimits() Limits {
	return Limits{
		MinPressure: 0,
		MaxPressure: 2500,
	}
}

// ValidationError represents a suspicious value in a decodable snapshot
type ValidationError struct {
	Type     AnomalyType
	Actuator int
	Message  string
	Details  map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateSnapshot checks a decoded snapshot for anomalies. It never
// rejects a snapshot; findings are diagnostic only.
func ValidateSnapshot(s Snapshot, limits Limits) []ValidationError {
	errors := []ValidationError{}

	for i := 0; i < NumActuators; i++ {
		p := s.Pressures[i]
		if p < limits.MinPressure || p > limits.MaxPressure {
			errors = append(errors, ValidationError{
				Type:     AnomalyPressureRange,
				Actuator: i,
				Message:  fmt.Sprintf("Actuator %d pressure %.1f hPa out of range (%.0f to %.0f)", i+1, p, limits.MinPressure, limits.MaxPressure),
				Details:  map[string]interface{}{"value": p, "min": limits.MinPressure, "max": limits.MaxPressure},
			})
		}

		if !s.Stopped[i] {
			errors = append(errors, ValidationError{
				Type:     AnomalyActuatorFault,
				Actuator: i,
				Message:  fmt.Sprintf("Actuator %d reports fault", i+1),
			})
		}

		if s.Grasp[i] == GraspFailure {
			errors = append(errors, ValidationError{
				Type:     AnomalyGraspFailure,
				Actuator: i,
				Message:  fmt.Sprintf("Actuator %d grasp failed", i+1),
			})
		}
	}

	return errors
}
