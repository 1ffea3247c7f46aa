// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gripwire

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Stats is a point-in-time copy of the link counters
type Stats struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Inbound
	TotalFrames     uint64
	ValidFrames     uint64
	ExtendedFrames  uint64
	MalformedFrames uint64
	Overflows       uint64
	Faults          uint64 // valid frames reporting at least one faulted actuator
	Anomalies       uint64 // validation findings on otherwise valid frames

	// Outbound
	CommandsSent      uint64
	CommandsThrottled uint64
	CommandsQueued    uint64
	WriteErrors       uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// Statistics tracks frame and command counters. It is safe for concurrent
// use: the inbound and outbound roles update it from different goroutines.
type Statistics struct {
	mu sync.Mutex
	s  Stats
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{s: Stats{StartTime: now, LastUpdateTime: now}}
}

// Update records the outcome of decoding one frame
func (st *Statistics) Update(snap *Snapshot, decodeErr error, validationErrors []ValidationError) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.s.TotalFrames++
	st.s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		st.s.MalformedFrames++
		return
	}
	if snap == nil {
		return
	}

	st.s.ValidFrames++
	if snap.HasBend {
		st.s.ExtendedFrames++
	}
	if len(snap.Faulted()) > 0 {
		st.s.Faults++
	}
	st.s.Anomalies += uint64(len(validationErrors))
}

// RecordOverflow records frame reader overflows
func (st *Statistics) RecordOverflow(err error) {
	if !errors.Is(err, ErrFrameOverflow) {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Overflows++
	st.s.LastUpdateTime = time.Now()
}

// RecordSent records a command written to the link
func (st *Statistics) RecordSent() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.CommandsSent++
}

// RecordThrottled records a command suppressed as a duplicate
func (st *Statistics) RecordThrottled() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.CommandsThrottled++
}

// RecordQueued records a command held back while the link is down
func (st *Statistics) RecordQueued() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.CommandsQueued++
}

// RecordWriteError records a failed link write
func (st *Statistics) RecordWriteError() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.WriteErrors++
}

// Snapshot returns a copy of the counters with rates calculated
func (st *Statistics) Snapshot() Stats {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := st.s
	elapsed := time.Since(out.StartTime).Seconds()
	if elapsed > 0 {
		out.FrameRate = float64(out.TotalFrames) / elapsed
		out.ErrorRate = float64(out.MalformedFrames+out.Overflows+out.WriteErrors) / elapsed
	}
	return out
}

// Reset resets all statistics counters
func (st *Statistics) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := time.Now()
	st.s = Stats{StartTime: now, LastUpdateTime: now}
}

// ValidPercent returns the share of frames that decoded successfully
func (s Stats) ValidPercent() float64 {
	if s.TotalFrames == 0 {
		return 0
	}
	return float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
}

// String returns a formatted statistics summary
func (s Stats) String() string {
	var malformedPercent float64
	if s.TotalFrames > 0 {
		malformedPercent = float64(s.MalformedFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := s.LastUpdateTime.Sub(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, s.ValidPercent())
	if s.ExtendedFrames > 0 {
		result += fmt.Sprintf("  Extended:        %6d\n", s.ExtendedFrames)
	}
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.MalformedFrames, malformedPercent)
	}
	if s.Overflows > 0 {
		result += fmt.Sprintf("Overflows:       %8d\n", s.Overflows)
	}
	if s.Faults > 0 {
		result += fmt.Sprintf("Fault Reports:   %8d\n", s.Faults)
	}
	if s.Anomalies > 0 {
		result += fmt.Sprintf("Anomalies:       %8d\n", s.Anomalies)
	}
	result += fmt.Sprintf("Commands Sent:   %8d (throttled %d, queued %d)\n", s.CommandsSent, s.CommandsThrottled, s.CommandsQueued)
	if s.WriteErrors > 0 {
		result += fmt.Sprintf("Write Errors:    %8d\n", s.WriteErrors)
	}
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.2f errors/sec\n", s.ErrorRate)
	return result
}
