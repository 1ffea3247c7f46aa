// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session keeps the host's view of the gripper consistent with the
// controller. Inbound telemetry replaces the current snapshot; operator
// intents become throttled commands on the link.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/gripstat/pkg/gripwire"
	"github.com/Thermoquad/gripstat/pkg/link"
)

var (
	// ErrTerminated is returned by intents issued after an emergency stop
	ErrTerminated = errors.New("session terminated")

	// ErrAlreadyRunning is returned when Run is called twice
	ErrAlreadyRunning = errors.New("session already running")
)

// Transport is the link as seen by a session. *link.Transport satisfies it.
type Transport interface {
	Poll() ([]byte, error)
	Write(p []byte) error
	State() link.State
	Info() string
	Reopen(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Close() error
}

// Phase is the session lifecycle stage
type Phase int32

const (
	Active Phase = iota
	Degraded
	Terminated
)

func (p Phase) String() string {
	switch p {
	case Active:
		return "ACTIVE"
	case Degraded:
		return "DEGRADED"
	case Terminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(p))
	}
}

// Outcome reports what happened to an intent
type Outcome int

const (
	// Sent means the command was written to the link
	Sent Outcome = iota
	// Throttled means the command matched the last one sent and was dropped
	Throttled
	// Queued means the link is down; the command is held and sent after
	// reconnect unless a newer one replaces it
	Queued
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Throttled:
		return "throttled"
	case Queued:
		return "queued"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Telemetry is the latest snapshot with its receive metadata
type Telemetry struct {
	gripwire.Snapshot
	ReceivedAt time.Time // zero until the first frame
	Sequence   uint64    // count of snapshots applied
}

// Commanded is the operator's current intent
type Commanded struct {
	Setpoint gripwire.Setpoint
	Finger   gripwire.FingerState
	Preset   string
}

// Options configures a Session
type Options struct {
	Tolerance        float64 // setpoint equality tolerance, default 1e-3
	ImmediateRetries int     // reopen attempts before going Degraded
	MaxFrameSize     int     // frame reader limit, default 256
	Catalog          *Catalog
	Limits           gripwire.Limits
	Logger           zerolog.Logger
}

// Session synchronizes telemetry and commands over one Transport. It is
// safe for concurrent use: Run is the inbound role, the intent methods are
// the outbound role, and the readers may be called from anywhere.
type Session struct {
	t       Transport
	opts    Options
	log     zerolog.Logger
	catalog *Catalog
	stats   *gripwire.Statistics

	// Inbound role
	inMu   sync.Mutex
	reader *gripwire.FrameReader
	seq    uint64

	snapshot  atomic.Pointer[Telemetry]
	commanded atomic.Pointer[Commanded]
	phase     atomic.Int32

	// Outbound role; sendMu also serializes commanded updates
	sendMu          sync.Mutex
	lastSent        *gripwire.Setpoint
	pendingSetpoint *gripwire.Setpoint
	pendingFinger   *gripwire.FingerState

	life     context.Context
	stop     context.CancelFunc
	done     chan struct{}
	running  atomic.Bool
	runWG    sync.WaitGroup
	closeErr error
	closed   sync.Once
}

// New creates an Active session over an opened transport
func New(t Transport, opts Options) *Session {
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.ImmediateRetries < 0 {
		opts.ImmediateRetries = 0
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = gripwire.DefaultMaxFrameSize
	}
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	if opts.Limits == (gripwire.Limits{}) {
		opts.Limits = gripwire.DefaultLimits()
	}

	life, stop := context.WithCancel(context.Background())
	s := &Session{
		t:       t,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "session").Logger(),
		catalog: opts.Catalog,
		stats:   gripwire.NewStatistics(),
		reader:  gripwire.NewFrameReader(opts.MaxFrameSize),
		life:    life,
		stop:    stop,
		done:    make(chan struct{}),
	}
	s.snapshot.Store(&Telemetry{Snapshot: gripwire.InitialSnapshot()})
	s.commanded.Store(&Commanded{
		Finger: gripwire.FingerRelease,
		Preset: CustomLabel,
	})
	s.phase.Store(int32(Active))
	return s
}

// ============================================================
// Readers
// ============================================================

// Snapshot returns the latest telemetry
func (s *Session) Snapshot() Telemetry {
	return *s.snapshot.Load()
}

// Commanded returns the current setpoint, finger state and preset label
func (s *Session) Commanded() Commanded {
	return *s.commanded.Load()
}

// LinkState returns the transport state
func (s *Session) LinkState() link.State {
	return s.t.State()
}

// LinkInfo describes the transport connection
func (s *Session) LinkInfo() string {
	return s.t.Info()
}

// Phase returns the lifecycle stage
func (s *Session) Phase() Phase {
	return Phase(s.phase.Load())
}

// Stats returns a copy of the frame and command counters
func (s *Session) Stats() gripwire.Stats {
	return s.stats.Snapshot()
}

// Presets returns the preset catalog
func (s *Session) Presets() *Catalog {
	return s.catalog
}

// Tolerance returns the setpoint equality tolerance in use
func (s *Session) Tolerance() float64 {
	return s.opts.Tolerance
}

// Done is closed when the session terminates after an emergency stop
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ============================================================
// Inbound
// ============================================================

// ApplyTelemetry feeds raw bytes to the frame reader and applies every
// complete frame in stream order. Malformed frames are counted and dropped;
// the previous snapshot stays in place. Returns the number of snapshots
// applied.
func (s *Session) ApplyTelemetry(p []byte) int {
	s.inMu.Lock()
	defer s.inMu.Unlock()

	if err := s.reader.Feed(p); err != nil {
		s.stats.RecordOverflow(err)
		s.log.Warn().Err(err).Msg("Frame overflow, resynchronizing")
	}

	applied := 0
	for frame := range s.reader.Frames() {
		snap, err := gripwire.DecodeTelemetry(frame)
		if err != nil {
			s.stats.Update(nil, err, nil)
			s.log.Warn().Err(err).Msg("Discarding malformed frame")
			continue
		}

		anomalies := gripwire.ValidateSnapshot(snap, s.opts.Limits)
		s.stats.Update(&snap, nil, anomalies)

		s.seq++
		s.snapshot.Store(&Telemetry{
			Snapshot:   snap,
			ReceivedAt: time.Now(),
			Sequence:   s.seq,
		})
		applied++
	}
	return applied
}

// Run is the inbound role: it polls the transport, applies telemetry and
// recovers the link when it faults. It returns nil after an emergency stop
// or Close, and ctx.Err() when ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	s.runWG.Add(1)
	defer s.runWG.Done()

	if s.life.Err() != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unlink := context.AfterFunc(s.life, cancel)
	defer unlink()

	for {
		if runCtx.Err() != nil {
			return s.exitErr(ctx)
		}

		chunk, err := s.t.Poll()
		if err != nil {
			if s.Phase() == Terminated || runCtx.Err() != nil {
				return s.exitErr(ctx)
			}
			if err := s.recoverLink(runCtx, err); err != nil {
				return s.exitErr(ctx)
			}
			continue
		}

		if len(chunk) > 0 {
			s.ApplyTelemetry(chunk)
		}
	}
}

func (s *Session) exitErr(ctx context.Context) error {
	if s.Phase() == Terminated || s.life.Err() != nil {
		return nil
	}
	return ctx.Err()
}

// recoverLink tries a few immediate reopens, then goes Degraded and waits
// for the backoff reconnect
func (s *Session) recoverLink(ctx context.Context, cause error) error {
	s.log.Warn().Err(cause).Str("link", s.t.State().String()).Msg("Link lost")

	for attempt := 1; attempt <= s.opts.ImmediateRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.t.Reopen(ctx)
		if err == nil {
			s.onReconnected()
			return nil
		}
		s.log.Debug().Err(err).Int("attempt", attempt).Msg("Immediate reopen failed")
	}

	if s.phase.CompareAndSwap(int32(Active), int32(Degraded)) {
		s.log.Warn().Msg("Session degraded, reconnecting with backoff")
	}

	if err := s.t.Reconnect(ctx); err != nil {
		return err
	}
	s.onReconnected()
	return nil
}

// onReconnected restores Active and flushes queued intents
func (s *Session) onReconnected() {
	s.inMu.Lock()
	s.reader.Reset()
	s.inMu.Unlock()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.Phase() == Terminated {
		return
	}
	s.phase.Store(int32(Active))
	s.log.Info().Str("link", s.t.Info()).Msg("Session active")

	// The controller may have been power-cycled; never throttle the first
	// setpoint after a reconnect
	s.lastSent = nil

	if sp := s.pendingSetpoint; sp != nil {
		if err := s.send(gripwire.SetpointCommand(*sp)); err != nil {
			return
		}
		s.lastSent = sp
		s.pendingSetpoint = nil
	}
	if f := s.pendingFinger; f != nil {
		if err := s.send(gripwire.FingerCommand(*f)); err != nil {
			return
		}
		s.pendingFinger = nil
	}
}

// ============================================================
// Outbound
// ============================================================

// usable reports whether commands should be written now. Caller holds sendMu.
func (s *Session) usable() bool {
	return s.Phase() == Active && s.t.State() == link.Connected
}

// send encodes and writes one command. Caller holds sendMu.
func (s *Session) send(cmd gripwire.Command) error {
	data, err := cmd.Encode()
	if err != nil {
		return err
	}
	if err := s.t.Write(data); err != nil {
		s.stats.RecordWriteError()
		s.log.Warn().Err(err).Str("cmd", cmd.String()).Msg("Command write failed")
		return err
	}
	s.stats.RecordSent()
	s.log.Debug().Str("cmd", cmd.String()).Msg("Command sent")
	return nil
}

// RequestSetpoint clamps values to [0, 1], records them as the commanded
// setpoint and sends them unless they match the last setpoint sent.
// Non-finite values are rejected with gripwire.ErrInvalidSetpoint.
func (s *Session) RequestSetpoint(values gripwire.Setpoint) (Outcome, error) {
	if !values.Finite() {
		return 0, fmt.Errorf("%w: %v", gripwire.ErrInvalidSetpoint, values)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.Phase() == Terminated {
		return 0, ErrTerminated
	}

	sp := values.Clamp()
	cur := s.commanded.Load()
	s.commanded.Store(&Commanded{
		Setpoint: sp,
		Finger:   cur.Finger,
		Preset:   s.catalog.Match(sp, s.opts.Tolerance),
	})

	if s.lastSent != nil && s.lastSent.Equal(sp, s.opts.Tolerance) {
		// The controller already holds this; an older queued value must
		// not override it after reconnect
		s.pendingSetpoint = nil
		s.stats.RecordThrottled()
		return Throttled, nil
	}

	if !s.usable() {
		s.pendingSetpoint = &sp
		s.stats.RecordQueued()
		return Queued, nil
	}

	if err := s.send(gripwire.SetpointCommand(sp)); err != nil {
		s.pendingSetpoint = &sp
		s.stats.RecordQueued()
		return Queued, nil
	}
	s.lastSent = &sp
	s.pendingSetpoint = nil
	return Sent, nil
}

// SelectPreset behaves as RequestSetpoint with the preset's values
func (s *Session) SelectPreset(name string) (Outcome, error) {
	p, ok := s.catalog.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return s.RequestSetpoint(p.Values)
}

// ToggleFinger flips the finger state and sends it. Finger commands are
// never throttled.
func (s *Session) ToggleFinger() (gripwire.FingerState, Outcome, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.Phase() == Terminated {
		return 0, 0, ErrTerminated
	}

	cur := s.commanded.Load()
	next := cur.Finger.Toggle()
	s.commanded.Store(&Commanded{
		Setpoint: cur.Setpoint,
		Finger:   next,
		Preset:   cur.Preset,
	})

	if !s.usable() {
		s.pendingFinger = &next
		s.stats.RecordQueued()
		return next, Queued, nil
	}
	if err := s.send(gripwire.FingerCommand(next)); err != nil {
		s.pendingFinger = &next
		s.stats.RecordQueued()
		return next, Queued, nil
	}
	s.pendingFinger = nil
	return next, Sent, nil
}

// EmergencyStop sends the stop command immediately, ignoring throttling
// and phase, then terminates the session. The session terminates even when
// the command could not be delivered; the write error is returned.
func (s *Session) EmergencyStop() error {
	s.sendMu.Lock()
	if s.Phase() == Terminated {
		s.sendMu.Unlock()
		return ErrTerminated
	}

	err := s.send(gripwire.EmergencyStopCommand())

	s.phase.Store(int32(Terminated))
	s.pendingSetpoint = nil
	s.pendingFinger = nil
	close(s.done)
	s.sendMu.Unlock()

	s.stop()
	if err != nil {
		s.log.Error().Err(err).Msg("Emergency stop not delivered")
		return fmt.Errorf("emergency stop not delivered: %w", err)
	}
	s.log.Warn().Msg("Emergency stop sent, session terminated")
	return nil
}

// Close stops Run, waits for it to return and closes the transport. It is
// idempotent.
func (s *Session) Close() error {
	s.closed.Do(func() {
		s.stop()
		s.runWG.Wait()
		s.closeErr = s.t.Close()
	})
	return s.closeErr
}
