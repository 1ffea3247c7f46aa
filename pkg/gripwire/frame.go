// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gripwire

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ErrFrameOverflow is reported when the link delivers more undelimited bytes
// than the frame reader is willing to hold
var ErrFrameOverflow = errors.New("frame overflow")

// FrameReader accumulates raw bytes and extracts complete newline-delimited
// frames. It tolerates arbitrary chunking: a frame split across several Feed
// calls is reassembled intact.
//
// FrameReader is not safe for concurrent use.
type FrameReader struct {
	maxFrame  int
	pending   []byte   // bytes of the frame currently being received
	ready     []string // complete frames not yet handed out
	skipping  bool     // discarding the remainder of an overflowed frame
	overflows uint64
}

// NewFrameReader creates a frame reader. A non-positive maxFrame selects
// DefaultMaxFrameSize.
func NewFrameReader(maxFrame int) *FrameReader {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &FrameReader{
		maxFrame: maxFrame,
		pending:  make([]byte, 0, maxFrame),
	}
}

// Feed appends bytes received from the link. It never blocks.
//
// If an undelimited run grows past the frame limit, the partial frame is
// dropped, the rest of it is skipped up to the next delimiter, and an error
// wrapping ErrFrameOverflow is returned. The error is informational; frames
// completed in the same call are still available.
func (r *FrameReader) Feed(p []byte) error {
	var dropped int
	for _, b := range p {
		if b == Delimiter {
			if !r.skipping {
				r.complete()
			}
			r.pending = r.pending[:0]
			r.skipping = false
			continue
		}

		if r.skipping {
			continue
		}

		r.pending = append(r.pending, b)
		if len(r.pending) > r.maxFrame {
			r.pending = r.pending[:0]
			r.skipping = true
			r.overflows++
			dropped++
		}
	}

	if dropped > 0 {
		return fmt.Errorf("%w: %d undelimited run(s) exceeded %d bytes", ErrFrameOverflow, dropped, r.maxFrame)
	}
	return nil
}

// complete moves the pending bytes to the ready queue as a trimmed frame
func (r *FrameReader) complete() {
	frame := strings.TrimSpace(string(r.pending))
	if frame == "" {
		return
	}
	r.ready = append(r.ready, frame)
}

// Next returns the oldest complete frame, if any
func (r *FrameReader) Next() (string, bool) {
	if len(r.ready) == 0 {
		return "", false
	}
	frame := r.ready[0]
	r.ready[0] = ""
	r.ready = r.ready[1:]
	if len(r.ready) == 0 {
		r.ready = nil
	}
	return frame, true
}

// Frames returns a sequence draining the frames completed so far. The
// sequence is finite; frames completed by later Feed calls are picked up by
// the next call to Frames.
func (r *FrameReader) Frames() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			frame, ok := r.Next()
			if !ok || !yield(frame) {
				return
			}
		}
	}
}

// Buffered returns the number of bytes of the frame currently being received
func (r *FrameReader) Buffered() int {
	return len(r.pending)
}

// Overflows returns the number of overflowed frames since creation
func (r *FrameReader) Overflows() uint64 {
	return r.overflows
}

// Reset discards all buffered bytes and queued frames
func (r *FrameReader) Reset() {
	r.pending = r.pending[:0]
	r.ready = nil
	r.skipping = false
}
