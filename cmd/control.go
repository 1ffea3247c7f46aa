// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/gripstat/pkg/session"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for operating the gripper",
	Long: `Operate the pneumatic gripper via an interactive terminal UI.

Features:
  - Actuator setpoint sliders (one per actuator)
  - Preset shapes and typed setpoints
  - Finger grip/release toggle
  - Emergency stop
  - Real-time telemetry (pressure, stop flag, grasp result, bend)
  - Link status and automatic reconnection
  - Event logging

After an emergency stop the session ends and a fresh one is started from
scratch a moment later.

Keys:
  Tab / Shift+Tab   switch panel
  Up/Down           select actuator or preset
  Left/Right        adjust actuator by 0.05 ([ and ] by 0.01)
  Enter             apply preset or typed setpoint
  g                 toggle finger (grip/release)
  x, Ctrl+X         EMERGENCY STOP
  q, Ctrl+C         quit

Logs are discarded unless --log-file is given.

Supports both serial and WebSocket connections.`,
	Annotations: map[string]string{annotationTUI: ""},
	RunE:        runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

// sessionHolder hands the supervisor's current session to the TUI
type sessionHolder struct {
	p atomic.Pointer[session.Session]
}

func (h *sessionHolder) set(s *session.Session) { h.p.Store(s) }
func (h *sessionHolder) get() *session.Session  { return h.p.Load() }

func runControl(cmd *cobra.Command, args []string) error {
	dial, err := newDialer()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	holder := &sessionHolder{}
	sv := newSupervisor(dial, holder.set)

	// Fail before taking over the terminal if the gripper can't be reached
	first, err := sv.open(ctx, dial)
	if err != nil {
		return err
	}

	supCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sv.supervise(supCtx, first)
	}()
	holder.set(first)

	p := tea.NewProgram(
		initialControlModel(holder),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	_, runErr := p.Run()

	cancel()
	wg.Wait()

	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return nil
}
