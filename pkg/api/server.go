// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package api exposes a gripper session over HTTP.
package api

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/gripstat/pkg/gripwire"
	"github.com/Thermoquad/gripstat/pkg/link"
	"github.com/Thermoquad/gripstat/pkg/session"
)

// Controller is the session surface the API drives. *session.Session
// satisfies it.
type Controller interface {
	Snapshot() session.Telemetry
	Commanded() session.Commanded
	LinkState() link.State
	LinkInfo() string
	Phase() session.Phase
	Stats() gripwire.Stats
	Presets() *session.Catalog
	RequestSetpoint(values gripwire.Setpoint) (session.Outcome, error)
	SelectPreset(name string) (session.Outcome, error)
	ToggleFinger() (gripwire.FingerState, session.Outcome, error)
	EmergencyStop() error
}

// Options configures the HTTP server
type Options struct {
	CORSOrigins []string
	Version     string
	Logger      zerolog.Logger
}

// Server serves the current session. The session may be swapped while the
// server runs; requests arriving with no session get 503.
type Server struct {
	mu   sync.RWMutex
	ctrl Controller

	opts      Options
	log       zerolog.Logger
	startTime time.Time
}

// NewServer creates a server with no session attached
func NewServer(opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{
		opts:      opts,
		log:       opts.Logger.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}
}

// SetController attaches c; nil detaches the current session
func (s *Server) SetController(c Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl = c
}

func (s *Server) controller() Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctrl
}

// Handler builds the gin engine
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.Use(cors.New(s.corsConfig()))
	s.SetupRoutes(r)
	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(s.opts.CORSOrigins) == 0 || slices.Contains(s.opts.CORSOrigins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.opts.CORSOrigins
	}
	return cfg
}

// SetupRoutes registers the v1 routes on r
func (s *Server) SetupRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)

		v1.GET("/snapshot", s.handleGetSnapshot)
		v1.GET("/state", s.handleGetState)
		v1.GET("/link", s.handleGetLink)
		v1.GET("/stats", s.handleGetStats)

		v1.POST("/setpoint", s.handleSetSetpoint)
		v1.POST("/finger/toggle", s.handleToggleFinger)
		v1.POST("/estop", s.handleEmergencyStop)

		presets := v1.Group("/presets")
		{
			presets.GET("", s.handleGetPresets)
			presets.POST("/:name", s.handleSelectPreset)
		}
	}
}

// requestLogger logs each request at debug level, errors at warn
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := s.log.Debug()
		if status >= http.StatusInternalServerError {
			ev = s.log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
