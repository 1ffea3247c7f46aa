// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/gripstat/pkg/api"
	"github.com/Thermoquad/gripstat/pkg/session"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the gripper over an HTTP control API",
	Long: `Expose the gripper session over a JSON HTTP API.

Routes (under /api/v1):
  GET  /health           server and session status
  GET  /snapshot         latest telemetry
  GET  /state            commanded setpoint, finger, preset, phase, link
  GET  /link             link state and description
  GET  /stats            frame and command counters
  GET  /presets          preset catalog
  POST /setpoint         {"values": [a, b, c, d]}
  POST /presets/:name    apply a preset
  POST /finger/toggle    toggle grip/release
  POST /estop            emergency stop

After an emergency stop, intents answer 409 until a fresh session is
started a moment later.

Supports both serial and WebSocket connections.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides api.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	dial, err := newDialer()
	if err != nil {
		return err
	}

	addr := settings.API.Addr
	if cmd.Flags().Changed("addr") {
		addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gin.SetMode(gin.ReleaseMode)
	srv := api.NewServer(api.Options{
		CORSOrigins: settings.API.CORSOrigins,
		Version:     Version,
		Logger:      logger,
	})

	sv := newSupervisor(dial, func(s *session.Session) {
		if s == nil {
			srv.SetController(nil)
			return
		}
		srv.SetController(s)
	})

	first, err := sv.open(ctx, dial)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		sv.supervise(ctx, first)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP API listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("HTTP server failed: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown")
	}
	<-supDone

	logger.Info().Msg("Stopped")
	return runErr
}
