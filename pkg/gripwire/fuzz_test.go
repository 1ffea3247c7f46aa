// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gripwire

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomTelemetryLine builds a well-formed base or extended telemetry line
func randomTelemetryLine(rng *rand.Rand) string {
	stop := []string{TokenStopped, TokenFault}
	grasp := []string{TokenGraspUnknown, TokenGraspSuccess, TokenGraspFailure}

	tokens := make([]string, 0, ExtendedTokenCount)
	for i := 0; i < NumActuators; i++ {
		tokens = append(tokens, fmt.Sprintf("%.2f", rng.Float64()*2000))
	}
	for i := 0; i < NumActuators; i++ {
		tokens = append(tokens, stop[rng.Intn(len(stop))])
	}
	for i := 0; i < NumActuators; i++ {
		tokens = append(tokens, grasp[rng.Intn(len(grasp))])
	}
	if rng.Intn(2) == 1 {
		for i := 0; i < NumActuators; i++ {
			tokens = append(tokens, strconv.Itoa(rng.Intn(2048)-1024))
		}
	}
	return strings.Join(tokens, " ")
}

// randomStream builds a byte stream of telemetry lines, noise lines and
// blank lines, always under the default frame limit
func randomStream(rng *rand.Rand) []byte {
	var b strings.Builder
	lines := rng.Intn(20)
	for i := 0; i < lines; i++ {
		switch rng.Intn(4) {
		case 0:
			b.WriteString("\r\n")
		case 1:
			noise := make([]byte, rng.Intn(40))
			for j := range noise {
				c := byte(rng.Intn(256))
				if c == Delimiter {
					c = ' '
				}
				noise[j] = c
			}
			b.Write(noise)
			b.WriteByte(Delimiter)
		default:
			b.WriteString(randomTelemetryLine(rng))
			b.WriteByte(Delimiter)
		}
	}
	// Leave an unterminated tail sometimes
	if rng.Intn(2) == 1 {
		b.WriteString("0.00 1.")
	}
	return []byte(b.String())
}

// referenceFrames splits a stream the straightforward way
func referenceFrames(stream []byte) []string {
	parts := strings.Split(string(stream), string(rune(Delimiter)))
	// The last element is never terminated
	parts = parts[:len(parts)-1]
	var out []string
	for _, p := range parts {
		if f := strings.TrimSpace(p); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// ============================================================
// Frame Reader Fuzz Tests
// ============================================================

func TestFuzzFrameReader_ChunkingInvariance(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		stream := randomStream(rng)
		want := referenceFrames(stream)

		r := NewFrameReader(0)
		var got []string
		for rest := stream; len(rest) > 0; {
			n := 1 + rng.Intn(len(rest))
			if err := r.Feed(rest[:n]); err != nil {
				t.Fatalf("round %d: unexpected Feed error: %v", i, err)
			}
			rest = rest[n:]
			// Drain at random points only
			if rng.Intn(3) == 0 {
				for f := range r.Frames() {
					got = append(got, f)
				}
			}
		}
		for f := range r.Frames() {
			got = append(got, f)
		}

		if !slices.Equal(got, want) {
			t.Fatalf("round %d: frames differ\n got: %q\nwant: %q", i, got, want)
		}
	}
}

func TestFuzzFrameReader_OverflowChunkingInvariance(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		var b strings.Builder
		for j := 0; j < 1+rng.Intn(8); j++ {
			b.WriteString(strings.Repeat("x", rng.Intn(24)))
			b.WriteByte(Delimiter)
		}
		stream := []byte(b.String())

		whole := NewFrameReader(12)
		whole.Feed(stream)
		want := slices.Collect(whole.Frames())

		chunked := NewFrameReader(12)
		for _, c := range stream {
			chunked.Feed([]byte{c})
		}
		got := slices.Collect(chunked.Frames())

		if !slices.Equal(got, want) {
			t.Fatalf("round %d: frames differ\n got: %q\nwant: %q", i, got, want)
		}
		if whole.Overflows() != chunked.Overflows() {
			t.Fatalf("round %d: overflow counts differ: %d vs %d", i, whole.Overflows(), chunked.Overflows())
		}
	}
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

func TestFuzzDecodeTelemetry_WellFormed(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		line := randomTelemetryLine(rng)
		s, err := DecodeTelemetry(line)
		if err != nil {
			t.Fatalf("round %d: valid line rejected: %q: %v", i, line, err)
		}
		if s.HasBend != (len(strings.Fields(line)) == ExtendedTokenCount) {
			t.Fatalf("round %d: HasBend mismatch for %q", i, line)
		}
	}
}

func TestFuzzDecodeTelemetry_RandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		data := make([]byte, rng.Intn(120))
		rng.Read(data)

		s, err := DecodeTelemetry(string(data))
		if err != nil {
			if !errors.Is(err, ErrMalformedFrame) {
				t.Fatalf("round %d: unexpected error type: %v", i, err)
			}
			if s != (Snapshot{}) {
				t.Fatalf("round %d: partial snapshot returned with error", i)
			}
		}
	}
}

func TestFuzzDecodeTelemetry_SingleTokenCorruption(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	garbage := []string{"", "?", "TT", "nan", "1e999", "--1", "0x10", "t", "2"}

	for i := 0; i < rounds; i++ {
		tokens := strings.Fields(randomTelemetryLine(rng))
		idx := rng.Intn(len(tokens))
		tokens[idx] = garbage[rng.Intn(len(garbage))]
		line := strings.Join(tokens, " ")

		// Some replacements happen to stay valid (e.g. "2" as a pressure)
		_, err := DecodeTelemetry(line)
		if err == nil {
			if idx >= offsetStop && idx < offsetBend {
				t.Fatalf("round %d: corrupted flag accepted: %q", i, line)
			}
			continue
		}
		if !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("round %d: unexpected error type: %v", i, err)
		}
	}
}
