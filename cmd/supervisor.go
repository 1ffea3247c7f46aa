// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/gripstat/pkg/link"
	"github.com/Thermoquad/gripstat/pkg/session"
)

// restartDelay is how long a terminated session stays visible before a
// fresh one replaces it
const restartDelay = 2 * time.Second

// supervisor keeps one live session attached to a collaborator. After an
// emergency stop it closes the terminated session and builds a new one from
// scratch: new transport, new snapshot, initial commanded state.
type supervisor struct {
	dial    link.Dialer
	attach  func(*session.Session) // nil detaches
	open    func(context.Context, link.Dialer) (*session.Session, error)
	backoff link.BackoffConfig
	delay   time.Duration
	log     zerolog.Logger
}

func newSupervisor(dial link.Dialer, attach func(*session.Session)) *supervisor {
	return &supervisor{
		dial:    dial,
		attach:  attach,
		open:    openSession,
		backoff: settings.Backoff.LinkBackoff(),
		delay:   restartDelay,
		log:     logger.With().Str("component", "supervisor").Logger(),
	}
}

// run blocks until ctx is cancelled. Only the first open is fatal; later
// opens retry with backoff.
func (sv *supervisor) run(ctx context.Context) error {
	sess, err := sv.open(ctx, sv.dial)
	if err != nil {
		return err
	}
	sv.supervise(ctx, sess)
	return nil
}

// supervise runs sess and its successors until ctx is cancelled
func (sv *supervisor) supervise(ctx context.Context, sess *session.Session) {
	for {
		sv.attach(sess)
		sv.log.Info().Str("link", sess.LinkInfo()).Msg("Session started")

		runErr := make(chan error, 1)
		go func() { runErr <- sess.Run(ctx) }()

		select {
		case <-ctx.Done():
		case <-sess.Done():
		case err := <-runErr:
			if err != nil && ctx.Err() == nil {
				sv.log.Error().Err(err).Msg("Session stopped")
			}
		}

		_ = sess.Close()
		if ctx.Err() != nil {
			sv.attach(nil)
			return
		}
		sv.log.Warn().Msg("Session terminated; rebuilding")

		// The terminated session stays attached so collaborators can show it
		if !sleepCtx(ctx, sv.delay) {
			sv.attach(nil)
			return
		}

		sess = sv.reopen(ctx)
		if sess == nil {
			sv.attach(nil)
			return
		}
	}
}

// reopen retries until a session opens or ctx ends
func (sv *supervisor) reopen(ctx context.Context) *session.Session {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 1; ; attempt++ {
		sess, err := sv.open(ctx, sv.dial)
		if err == nil {
			return sess
		}
		delay := link.NextBackoffDelay(sv.backoff, attempt, rng)
		sv.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("Session open failed")
		if !sleepCtx(ctx, delay) {
			return nil
		}
	}
}

// sleepCtx waits d and reports whether ctx is still live
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
