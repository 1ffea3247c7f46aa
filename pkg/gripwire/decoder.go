// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gripwire

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedFrame is wrapped by every telemetry decode failure
var ErrMalformedFrame = errors.New("malformed frame")

// DecodeError describes why a telemetry frame was rejected
type DecodeError struct {
	Frame  string
	Index  int // token index, -1 when the frame as a whole is at fault
	Token  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", ErrMalformedFrame, e.Reason)
	}
	return fmt.Sprintf("%s: token %d %q: %s", ErrMalformedFrame, e.Index, e.Token, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedFrame
func (e *DecodeError) Unwrap() error {
	return ErrMalformedFrame
}

// DecodeTelemetry parses one frame into a Snapshot.
//
// A frame carries 12 tokens (base) or 16 tokens (extended with bend
// readings). Any other token count, any unparsable token, or any flag
// outside its enumerated set rejects the whole frame; no partial snapshot
// is ever returned. DecodeTelemetry has no side effects and never panics.
func DecodeTelemetry(frame string) (Snapshot, error) {
	tokens := strings.Fields(frame)

	switch len(tokens) {
	case BaseTokenCount, ExtendedTokenCount:
	default:
		return Snapshot{}, &DecodeError{
			Frame:  frame,
			Index:  -1,
			Reason: fmt.Sprintf("got %d tokens, want %d or %d", len(tokens), BaseTokenCount, ExtendedTokenCount),
		}
	}

	var s Snapshot

	for i := 0; i < NumActuators; i++ {
		idx := offsetPressure + i
		p, err := parsePressure(tokens[idx])
		if err != nil {
			return Snapshot{}, tokenError(frame, tokens, idx, "not a number")
		}
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return Snapshot{}, tokenError(frame, tokens, idx, "pressure not finite")
		}
		s.Pressures[i] = p
	}

	for i := 0; i < NumActuators; i++ {
		idx := offsetStop + i
		switch tokens[idx] {
		case TokenStopped:
			s.Stopped[i] = true
		case TokenFault:
			s.Stopped[i] = false
		default:
			return Snapshot{}, tokenError(frame, tokens, idx, "stop flag must be T or F")
		}
	}

	for i := 0; i < NumActuators; i++ {
		idx := offsetGrasp + i
		g, ok := parseGrasp(tokens[idx])
		if !ok {
			return Snapshot{}, tokenError(frame, tokens, idx, "grasp flag must be 0, 1 or -1")
		}
		s.Grasp[i] = g
	}

	if len(tokens) == ExtendedTokenCount {
		for i := 0; i < NumActuators; i++ {
			idx := offsetBend + i
			v, err := strconv.ParseInt(tokens[idx], 10, 32)
			if err != nil {
				return Snapshot{}, tokenError(frame, tokens, idx, "bend reading not a 32-bit integer")
			}
			s.Bend[i] = int32(v)
		}
		s.HasBend = true
	}

	return s, nil
}

// parsePressure parses a decimal float. strconv also takes hex floats
// ("0x1p4"), which the controller never prints.
func parsePressure(tok string) (float64, error) {
	digits := strings.TrimLeft(tok, "+-")
	if len(digits) > 1 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseFloat(tok, 64)
}

func parseGrasp(tok string) (GraspResult, bool) {
	switch tok {
	case TokenGraspUnknown:
		return GraspUnknown, true
	case TokenGraspSuccess:
		return GraspSuccess, true
	case TokenGraspFailure:
		return GraspFailure, true
	default:
		return 0, false
	}
}

func tokenError(frame string, tokens []string, idx int, reason string) *DecodeError {
	return &DecodeError{
		Frame:  frame,
		Index:  idx,
		Token:  tokens[idx],
		Reason: reason,
	}
}
