// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Thermoquad/gripstat/pkg/gripwire"
	"github.com/Thermoquad/gripstat/pkg/session"
)

func respondError(c *gin.Context, code int, msg string) {
	c.JSON(code, ApiResponse{
		Status: "error",
		Error:  msg,
	})
}

// current returns the attached session or writes 503
func (s *Server) current(c *gin.Context) (Controller, bool) {
	ctrl := s.controller()
	if ctrl == nil {
		respondError(c, http.StatusServiceUnavailable, "no active session")
		return nil, false
	}
	return ctrl, true
}

// intentError maps session errors to HTTP status codes
func intentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrTerminated):
		respondError(c, http.StatusConflict, "session terminated by emergency stop; waiting for a new session")
	case errors.Is(err, session.ErrUnknownPreset):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, gripwire.ErrInvalidSetpoint):
		respondError(c, http.StatusBadRequest, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, err.Error())
	}
}

func stateOf(ctrl Controller) StateResponse {
	cmd := ctrl.Commanded()
	return StateResponse{
		Setpoint: cmd.Setpoint,
		Finger:   string(rune(cmd.Finger)),
		Preset:   cmd.Preset,
		Phase:    ctrl.Phase().String(),
		Link:     ctrl.LinkState().String(),
	}
}

// handleHealth reports server and session status
func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Version: s.opts.Version,
	}
	ctrl := s.controller()
	code := http.StatusOK
	if ctrl != nil {
		resp.Session = true
		resp.Phase = ctrl.Phase().String()
		resp.Link = ctrl.LinkState().String()
	} else {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, ApiResponse{
		Status: "success",
		Data:   resp,
	})
}

func (s *Server) handleGetSnapshot(c *gin.Context) {
	ctrl, ok := s.current(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ApiResponse{
		Status: "success",
		Data:   newSnapshotResponse(ctrl.Snapshot()),
	})
}

func (s *Server) handleGetState(c *gin.Context) {
	ctrl, ok := s.current(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ApiResponse{
		Status: "success",
		Data:   stateOf(ctrl),
	})
}

func (s *Server) handleGetLink(c *gin.Context) {
	ctrl, ok := s.current(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ApiResponse{
		Status: "success",
		Data: LinkResponse{
			State: ctrl.LinkState().String(),
			Info:  ctrl.LinkInfo(),
		},
	})
}

func (s *Server) handleGetStats(c *gin.Context) {
	ctrl, ok := s.current(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ApiResponse{
		Status: "success",
		Data:   newStatsResponse(ctrl.Stats()),
	})
}

func (s *Server) handleGetPresets(c *gin.Context) {
	ctrl, ok := s.current(c)
	if !ok {
		return
	}
	all := ctrl.Presets().All()
	presets := make([]PresetResponse, 0, len(all))
	for _, p := range all {
		presets = append(presets, PresetResponse{Name: p.Name, Values: p.Values})
	}
	c.JSON(http.StatusOK, ApiResponse{
		Status: "success",
		Data:   presets,
	})
}

// handleSetSetpoint commands all four actuators. Values outside [0, 1] are
// clamped.
func (s *Server) handleSetSetpoint(c *gin.Context) {
	var req SetpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid setpoint request: "+err.Error())
		return
	}

	ctrl, ok := s.current(c)
	if !ok {
		return
	}

	var sp gripwire.Setpoint
	copy(sp[:], req.Values)
	outcome, err := ctrl.RequestSetpoint(sp)
	if err != nil {
		intentError(c, err)
		return
	}

	c.JSON(http.StatusOK, ApiResponse{
		Status:  "success",
		Message: fmt.Sprintf("setpoint %s", outcome),
		Data:    CommandResponse{Outcome: outcome.String(), State: stateOf(ctrl)},
	})
}

func (s *Server) handleSelectPreset(c *gin.Context) {
	ctrl, ok := s.current(c)
	if !ok {
		return
	}

	name := c.Param("name")
	outcome, err := ctrl.SelectPreset(name)
	if err != nil {
		intentError(c, err)
		return
	}

	c.JSON(http.StatusOK, ApiResponse{
		Status:  "success",
		Message: fmt.Sprintf("preset %s %s", name, outcome),
		Data:    CommandResponse{Outcome: outcome.String(), State: stateOf(ctrl)},
	})
}

func (s *Server) handleToggleFinger(c *gin.Context) {
	ctrl, ok := s.current(c)
	if !ok {
		return
	}

	finger, outcome, err := ctrl.ToggleFinger()
	if err != nil {
		intentError(c, err)
		return
	}

	c.JSON(http.StatusOK, ApiResponse{
		Status:  "success",
		Message: fmt.Sprintf("finger %s %s", finger, outcome),
		Data:    CommandResponse{Outcome: outcome.String(), State: stateOf(ctrl)},
	})
}

// handleEmergencyStop stops the gripper and ends the session. A stop that
// could not be written still ends the session; the caller gets 502.
func (s *Server) handleEmergencyStop(c *gin.Context) {
	ctrl, ok := s.current(c)
	if !ok {
		return
	}

	err := ctrl.EmergencyStop()
	switch {
	case err == nil:
		s.log.Warn().Msg("Emergency stop requested over HTTP")
		c.JSON(http.StatusOK, ApiResponse{
			Status:  "success",
			Message: "emergency stop sent; session terminated",
		})
	case errors.Is(err, session.ErrTerminated):
		intentError(c, err)
	default:
		s.log.Error().Err(err).Msg("Emergency stop over HTTP not delivered")
		respondError(c, http.StatusBadGateway, err.Error())
	}
}
