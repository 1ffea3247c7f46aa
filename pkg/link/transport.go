// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPollBuffer is the size of a single read
const DefaultPollBuffer = 256

// Options configures a Transport
type Options struct {
	// PollBuffer is the maximum chunk returned by one Poll
	PollBuffer int

	// ReadFaultAfter faults the link when nothing has been received for
	// this long. The controller streams telemetry continuously, so silence
	// means the link or the board is gone. 0 disables the check.
	ReadFaultAfter time.Duration

	Backoff BackoffConfig
	Logger  zerolog.Logger
}

// Transport owns one logical connection to the controller and its
// lifecycle. Poll is meant for a single inbound goroutine; Write may be
// called from any goroutine.
type Transport struct {
	dial Dialer
	opts Options
	log  zerolog.Logger

	mu   sync.RWMutex // guards conn and info
	conn Conn
	info string

	writeMu  sync.Mutex
	state    atomic.Int32
	closed   atomic.Bool
	lastData atomic.Int64 // unix nanos of the last received byte

	buf []byte
	rng *rand.Rand
	now func() time.Time
}

// NewTransport creates a transport that opens connections with dial. The
// transport starts Disconnected; call Open.
func NewTransport(dial Dialer, opts Options) *Transport {
	if opts.PollBuffer <= 0 {
		opts.PollBuffer = DefaultPollBuffer
	}
	if opts.Backoff == (BackoffConfig{}) {
		opts.Backoff = DefaultBackoff()
	}
	return &Transport{
		dial: dial,
		opts: opts,
		log:  opts.Logger.With().Str("component", "link").Logger(),
		buf:  make([]byte, opts.PollBuffer),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		now:  time.Now,
	}
}

// State returns the current link state
func (t *Transport) State() State {
	return State(t.state.Load())
}

// Info returns the description of the current connection
func (t *Transport) Info() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.info
}

func (t *Transport) getConn() Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn
}

// swapConn installs conn and returns the previous connection
func (t *Transport) swapConn(conn Conn, info string) Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.conn
	t.conn = conn
	if info != "" {
		t.info = info
	}
	return old
}

func (t *Transport) setState(s State) {
	old := State(t.state.Swap(int32(s)))
	if old != s {
		t.log.Debug().Str("from", old.String()).Str("to", s.String()).Msg("Link state changed")
	}
}

// Open opens the connection. It fails with an error wrapping
// ErrLinkUnavailable.
func (t *Transport) Open(ctx context.Context) error {
	if t.closed.Load() {
		return fmt.Errorf("%w: transport closed", ErrLinkDown)
	}

	conn, info, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLinkUnavailable, err)
	}

	// Close raced with the dial
	if t.closed.Load() {
		_ = conn.Close()
		return fmt.Errorf("%w: transport closed", ErrLinkDown)
	}

	if old := t.swapConn(conn, info); old != nil {
		_ = old.Close()
	}
	t.lastData.Store(t.now().UnixNano())
	t.setState(Connected)
	t.log.Info().Str("conn", info).Msg("Link connected")
	return nil
}

// Reopen makes one immediate reconnect attempt
func (t *Transport) Reopen(ctx context.Context) error {
	if old := t.swapConn(nil, ""); old != nil {
		_ = old.Close()
	}
	return t.Open(ctx)
}

// Reconnect retries Reopen with exponential backoff until it succeeds or
// ctx is cancelled. Retries are unbounded: the operator may power-cycle the
// controller at any time.
func (t *Transport) Reconnect(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		delay := NextBackoffDelay(t.opts.Backoff, attempt, t.rng)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		err := t.Reopen(ctx)
		if err == nil {
			return nil
		}
		if t.closed.Load() {
			return err
		}
		t.log.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Reconnect attempt failed")
	}
}

// fault marks the link faulted and releases the connection so a reconnect
// can reopen the device
func (t *Transport) fault(cause error) {
	if !t.state.CompareAndSwap(int32(Connected), int32(Faulted)) {
		return
	}
	t.log.Warn().Err(cause).Msg("Link faulted")
	if old := t.swapConn(nil, ""); old != nil {
		_ = old.Close()
	}
}

// Poll performs one bounded read and returns the bytes received, or nil if
// nothing arrived within the read timeout. The returned slice is owned by
// the caller.
func (t *Transport) Poll() ([]byte, error) {
	if t.State() != Connected {
		return nil, ErrLinkDown
	}
	conn := t.getConn()
	if conn == nil {
		return nil, ErrLinkDown
	}

	n, err := conn.Read(t.buf)
	if err != nil {
		if t.closed.Load() {
			return nil, ErrLinkDown
		}
		wrapped := fmt.Errorf("%w: %w", ErrLinkRead, err)
		t.fault(wrapped)
		return nil, wrapped
	}

	now := t.now()
	if n == 0 {
		if t.opts.ReadFaultAfter > 0 {
			silent := now.Sub(time.Unix(0, t.lastData.Load()))
			if silent > t.opts.ReadFaultAfter {
				err := fmt.Errorf("%w: nothing received for %s", ErrLinkReadTimeout, silent.Round(time.Millisecond))
				t.fault(err)
				return nil, err
			}
		}
		return nil, nil
	}

	t.lastData.Store(now.UnixNano())
	chunk := make([]byte, n)
	copy(chunk, t.buf[:n])
	return chunk, nil
}

// Write sends p in full. A failed or short write faults the link.
func (t *Transport) Write(p []byte) error {
	if t.State() != Connected {
		return ErrLinkDown
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	conn := t.getConn()
	if conn == nil {
		return ErrLinkDown
	}

	written := 0
	for written < len(p) {
		n, err := conn.Write(p[written:])
		if err != nil {
			wrapped := fmt.Errorf("%w: %w", ErrLinkWrite, err)
			t.fault(wrapped)
			return wrapped
		}
		if n == 0 {
			wrapped := fmt.Errorf("%w: write returned 0 bytes", ErrLinkWrite)
			t.fault(wrapped)
			return wrapped
		}
		written += n
	}
	return nil
}

// Close releases the connection unconditionally. Further Open/Reopen calls
// fail. Close is idempotent.
func (t *Transport) Close() error {
	t.closed.Store(true)
	t.setState(Disconnected)
	if old := t.swapConn(nil, ""); old != nil {
		return old.Close()
	}
	return nil
}
