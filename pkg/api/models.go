// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"time"

	"github.com/Thermoquad/gripstat/pkg/gripwire"
	"github.com/Thermoquad/gripstat/pkg/session"
)

// ApiResponse is the envelope of every response
type ApiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ---- requests ----

type SetpointRequest struct {
	Values []float64 `json:"values" binding:"required,len=4"`
}

// ---- responses ----

type SnapshotResponse struct {
	Pressures  [gripwire.NumActuators]float64 `json:"pressures"`
	Stopped    [gripwire.NumActuators]bool    `json:"stopped"`
	Grasp      [gripwire.NumActuators]int     `json:"grasp"`
	Bend       *[gripwire.NumActuators]int32  `json:"bend,omitempty"`
	Faulted    []int                          `json:"faulted"`
	ReceivedAt *time.Time                     `json:"received_at,omitempty"`
	Sequence   uint64                         `json:"sequence"`
}

func newSnapshotResponse(t session.Telemetry) SnapshotResponse {
	resp := SnapshotResponse{
		Pressures: t.Pressures,
		Stopped:   t.Stopped,
		Faulted:   t.Faulted(),
		Sequence:  t.Sequence,
	}
	if resp.Faulted == nil {
		resp.Faulted = []int{}
	}
	for i, g := range t.Grasp {
		resp.Grasp[i] = int(g)
	}
	if t.HasBend {
		bend := t.Bend
		resp.Bend = &bend
	}
	if !t.ReceivedAt.IsZero() {
		at := t.ReceivedAt
		resp.ReceivedAt = &at
	}
	return resp
}

type StateResponse struct {
	Setpoint [gripwire.NumActuators]float64 `json:"setpoint"`
	Finger   string                         `json:"finger"`
	Preset   string                         `json:"preset"`
	Phase    string                         `json:"phase"`
	Link     string                         `json:"link"`
}

type CommandResponse struct {
	Outcome string        `json:"outcome"`
	State   StateResponse `json:"state"`
}

type LinkResponse struct {
	State string `json:"state"`
	Info  string `json:"info"`
}

type PresetResponse struct {
	Name   string                         `json:"name"`
	Values [gripwire.NumActuators]float64 `json:"values"`
}

type StatsResponse struct {
	Uptime            string  `json:"uptime"`
	TotalFrames       uint64  `json:"total_frames"`
	ValidFrames       uint64  `json:"valid_frames"`
	ExtendedFrames    uint64  `json:"extended_frames"`
	MalformedFrames   uint64  `json:"malformed_frames"`
	Overflows         uint64  `json:"overflows"`
	Faults            uint64  `json:"faults"`
	Anomalies         uint64  `json:"anomalies"`
	CommandsSent      uint64  `json:"commands_sent"`
	CommandsThrottled uint64  `json:"commands_throttled"`
	CommandsQueued    uint64  `json:"commands_queued"`
	WriteErrors       uint64  `json:"write_errors"`
	FrameRate         float64 `json:"frame_rate"`
	ErrorRate         float64 `json:"error_rate"`
	ValidPercent      float64 `json:"valid_percent"`
}

func newStatsResponse(s gripwire.Stats) StatsResponse {
	return StatsResponse{
		Uptime:            time.Since(s.StartTime).Round(time.Second).String(),
		TotalFrames:       s.TotalFrames,
		ValidFrames:       s.ValidFrames,
		ExtendedFrames:    s.ExtendedFrames,
		MalformedFrames:   s.MalformedFrames,
		Overflows:         s.Overflows,
		Faults:            s.Faults,
		Anomalies:         s.Anomalies,
		CommandsSent:      s.CommandsSent,
		CommandsThrottled: s.CommandsThrottled,
		CommandsQueued:    s.CommandsQueued,
		WriteErrors:       s.WriteErrors,
		FrameRate:         s.FrameRate,
		ErrorRate:         s.ErrorRate,
		ValidPercent:      s.ValidPercent(),
	}
}

type HealthResponse struct {
	Session bool   `json:"session"`
	Phase   string `json:"phase,omitempty"`
	Link    string `json:"link,omitempty"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}
