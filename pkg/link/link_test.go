// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ============================================================
// Test Helpers
// ============================================================

// fakeConn replays scripted reads and records writes
type fakeConn struct {
	mu       sync.Mutex
	reads    [][]byte
	readErr  error
	written  bytes.Buffer
	writeErr error
	shortBy  int
	closed   bool
}

func (f *fakeConn) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, errors.New("closed")
	}
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.reads) == 0 {
		return 0, nil
	}
	n := copy(p, f.reads[0])
	f.reads = f.reads[1:]
	return n, nil
}

func (f *fakeConn) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if f.shortBy > 0 {
		return 0, nil
	}
	return f.written.Write(p)
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// scriptedDialer hands out conns in order; a nil entry fails the dial
type scriptedDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	calls int
}

func (d *scriptedDialer) dial(ctx context.Context) (Conn, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.conns) == 0 {
		return nil, "", errors.New("no device")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	if c == nil {
		return nil, "", errors.New("no device")
	}
	return c, "fake", nil
}

func (d *scriptedDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func newTestTransport(d *scriptedDialer, opts Options) *Transport {
	opts.Logger = zerolog.Nop()
	return NewTransport(d.dial, opts)
}

// ============================================================
// Backoff Tests
// ============================================================

func TestNextBackoffDelay(t *testing.T) {
	cfg := DefaultBackoff()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{50, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := NextBackoffDelay(cfg, tt.attempt, nil); got != tt.want {
			t.Errorf("attempt %d: delay = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNextBackoffDelay_Jitter(t *testing.T) {
	cfg := DefaultBackoff()
	cfg.Jitter = true
	rng := rand.New(rand.NewSource(1))
	for attempt := 1; attempt < 10; attempt++ {
		base := NextBackoffDelay(DefaultBackoff(), attempt, nil)
		upper := min(base*3/2, cfg.MaxDelay)
		got := NextBackoffDelay(cfg, attempt, rng)
		if got < base/2 || got > upper {
			t.Errorf("attempt %d: jittered delay %v outside [%v, %v]", attempt, got, base/2, upper)
		}
	}
}

func TestNextBackoffDelay_JitterRespectsMax(t *testing.T) {
	cfg := DefaultBackoff()
	cfg.Jitter = true
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		if got := NextBackoffDelay(cfg, 20, rng); got > cfg.MaxDelay {
			t.Fatalf("draw %d: delay %v exceeds MaxDelay %v", i, got, cfg.MaxDelay)
		}
	}
}

func TestNextBackoffDelay_ZeroInitial(t *testing.T) {
	if got := NextBackoffDelay(BackoffConfig{}, 3, nil); got != 0 {
		t.Errorf("delay = %v, want 0", got)
	}
}

// ============================================================
// Transport Tests
// ============================================================

func TestTransport_OpenAndPoll(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{[]byte("1.0 2.0"), []byte(" 3.0\n")}}
	d := &scriptedDialer{conns: []*fakeConn{conn}}
	tr := newTestTransport(d, Options{})

	if tr.State() != Disconnected {
		t.Fatalf("initial state = %v, want DISCONNECTED", tr.State())
	}
	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if tr.State() != Connected {
		t.Errorf("state = %v, want CONNECTED", tr.State())
	}
	if tr.Info() != "fake" {
		t.Errorf("Info = %q, want %q", tr.Info(), "fake")
	}

	var got []byte
	for range 3 {
		chunk, err := tr.Poll()
		if err != nil {
			t.Fatalf("Poll error: %v", err)
		}
		got = append(got, chunk...)
	}
	if string(got) != "1.0 2.0 3.0\n" {
		t.Errorf("polled %q", got)
	}
}

func TestTransport_OpenFailure(t *testing.T) {
	tr := newTestTransport(&scriptedDialer{}, Options{})
	err := tr.Open(context.Background())
	if !errors.Is(err, ErrLinkUnavailable) {
		t.Fatalf("Open error = %v, want ErrLinkUnavailable", err)
	}
	if tr.State() != Disconnected {
		t.Errorf("state = %v, want DISCONNECTED", tr.State())
	}
}

func TestTransport_NotConnected(t *testing.T) {
	tr := newTestTransport(&scriptedDialer{}, Options{})
	if _, err := tr.Poll(); !errors.Is(err, ErrLinkDown) {
		t.Errorf("Poll error = %v, want ErrLinkDown", err)
	}
	if err := tr.Write([]byte("S\n")); !errors.Is(err, ErrLinkDown) {
		t.Errorf("Write error = %v, want ErrLinkDown", err)
	}
}

func TestTransport_WriteFaults(t *testing.T) {
	tests := []struct {
		name string
		conn *fakeConn
	}{
		{"error", &fakeConn{writeErr: errors.New("unplugged")}},
		{"zero write", &fakeConn{shortBy: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTransport(&scriptedDialer{conns: []*fakeConn{tt.conn}}, Options{})
			if err := tr.Open(context.Background()); err != nil {
				t.Fatalf("Open error: %v", err)
			}
			err := tr.Write([]byte("0.50 0.50 0.50 0.50\n"))
			if !errors.Is(err, ErrLinkWrite) {
				t.Fatalf("Write error = %v, want ErrLinkWrite", err)
			}
			if tr.State() != Faulted {
				t.Errorf("state = %v, want FAULTED", tr.State())
			}
			if !tt.conn.isClosed() {
				t.Error("faulted connection was not released")
			}
			if err := tr.Write([]byte("S\n")); !errors.Is(err, ErrLinkDown) {
				t.Errorf("second Write error = %v, want ErrLinkDown", err)
			}
		})
	}
}

func TestTransport_ReadError(t *testing.T) {
	conn := &fakeConn{readErr: errors.New("device gone")}
	tr := newTestTransport(&scriptedDialer{conns: []*fakeConn{conn}}, Options{})
	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if _, err := tr.Poll(); !errors.Is(err, ErrLinkRead) {
		t.Fatalf("Poll error = %v, want ErrLinkRead", err)
	}
	if tr.State() != Faulted {
		t.Errorf("state = %v, want FAULTED", tr.State())
	}
}

func TestTransport_ReadFaultAfterSilence(t *testing.T) {
	conn := &fakeConn{}
	tr := newTestTransport(&scriptedDialer{conns: []*fakeConn{conn}}, Options{ReadFaultAfter: time.Second})

	now := time.Unix(1000, 0)
	tr.now = func() time.Time { return now }

	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("Open error: %v", err)
	}

	now = now.Add(500 * time.Millisecond)
	if chunk, err := tr.Poll(); err != nil || chunk != nil {
		t.Fatalf("Poll = %q, %v; want nil, nil", chunk, err)
	}

	now = now.Add(time.Second)
	if _, err := tr.Poll(); !errors.Is(err, ErrLinkReadTimeout) {
		t.Fatalf("Poll error = %v, want ErrLinkReadTimeout", err)
	}
	if tr.State() != Faulted {
		t.Errorf("state = %v, want FAULTED", tr.State())
	}
}

func TestTransport_Reopen(t *testing.T) {
	first := &fakeConn{writeErr: errors.New("unplugged")}
	second := &fakeConn{}
	tr := newTestTransport(&scriptedDialer{conns: []*fakeConn{first, nil, second}}, Options{})
	ctx := context.Background()

	if err := tr.Open(ctx); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	_ = tr.Write([]byte("G\n"))

	if err := tr.Reopen(ctx); !errors.Is(err, ErrLinkUnavailable) {
		t.Fatalf("Reopen error = %v, want ErrLinkUnavailable", err)
	}
	if tr.State() != Faulted {
		t.Errorf("state after failed reopen = %v, want FAULTED", tr.State())
	}

	if err := tr.Reopen(ctx); err != nil {
		t.Fatalf("Reopen error: %v", err)
	}
	if err := tr.Write([]byte("G\n")); err != nil {
		t.Fatalf("Write after reopen: %v", err)
	}
	if second.written.String() != "G\n" {
		t.Errorf("written = %q", second.written.String())
	}
}

func TestTransport_ReconnectRetries(t *testing.T) {
	target := &fakeConn{}
	d := &scriptedDialer{conns: []*fakeConn{nil, nil, target}}
	tr := newTestTransport(d, Options{Backoff: BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect error: %v", err)
	}
	if d.callCount() != 3 {
		t.Errorf("dial calls = %d, want 3", d.callCount())
	}
	if tr.State() != Connected {
		t.Errorf("state = %v, want CONNECTED", tr.State())
	}
}

func TestTransport_ReconnectCancelled(t *testing.T) {
	tr := newTestTransport(&scriptedDialer{}, Options{Backoff: BackoffConfig{InitialDelay: time.Hour, Multiplier: 2}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Reconnect(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Reconnect error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Reconnect did not return after cancel")
	}
}

func TestTransport_CloseIdempotent(t *testing.T) {
	conn := &fakeConn{}
	tr := newTestTransport(&scriptedDialer{conns: []*fakeConn{conn, {}}}, Options{})
	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close error: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}
	if !conn.isClosed() {
		t.Error("connection not closed")
	}
	if tr.State() != Disconnected {
		t.Errorf("state = %v, want DISCONNECTED", tr.State())
	}
	if err := tr.Reopen(context.Background()); !errors.Is(err, ErrLinkDown) {
		t.Errorf("Reopen after Close = %v, want ErrLinkDown", err)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Disconnected: "DISCONNECTED",
		Connected:    "CONNECTED",
		Faulted:      "FAULTED",
		State(9):     "UNKNOWN(9)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(s), s.String(), want)
		}
	}
}

// ============================================================
// WebSocket Tests
// ============================================================

// startBridge runs a WebSocket server and hands each accepted connection to
// the test
func startBridge(t *testing.T) (string, <-chan *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- c
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns
}

func openBridge(t *testing.T) (*WebSocketConnection, *websocket.Conn) {
	t.Helper()
	url, conns := startBridge(t)
	client, err := OpenWebSocket(context.Background(), WebSocketConfig{
		URL:         url,
		ReadTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("OpenWebSocket error: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case peer := <-conns:
		t.Cleanup(func() { peer.Close() })
		return client, peer
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
		return nil, nil
	}
}

// readUntil reads until a chunk or an error arrives, skipping timeouts
func readUntil(t *testing.T, c *WebSocketConnection, p []byte) (int, error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := c.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
	t.Fatal("timed out waiting for data")
	return 0, nil
}

func TestWebSocket_ReadTimeout(t *testing.T) {
	client, _ := openBridge(t)

	n, err := client.Read(make([]byte, 16))
	if n != 0 || err != nil {
		t.Errorf("Read = (%d, %v), want (0, nil) on timeout", n, err)
	}
}

func TestWebSocket_MessageSplitAcrossReads(t *testing.T) {
	client, peer := openBridge(t)

	if err := peer.WriteMessage(websocket.TextMessage, []byte("1.0 2.0 3.0\n")); err != nil {
		t.Fatalf("WriteMessage error: %v", err)
	}

	p := make([]byte, 4)
	n, err := readUntil(t, client, p)
	if err != nil || string(p[:n]) != "1.0 " {
		t.Fatalf("first Read = (%q, %v)", p[:n], err)
	}

	rest := make([]byte, 16)
	n, err = client.Read(rest)
	if err != nil || string(rest[:n]) != "2.0 3.0\n" {
		t.Errorf("second Read = (%q, %v), want buffered remainder", rest[:n], err)
	}
}

func TestWebSocket_Write(t *testing.T) {
	client, peer := openBridge(t)

	if n, err := client.Write([]byte("S\n")); err != nil || n != 2 {
		t.Fatalf("Write = (%d, %v)", n, err)
	}
	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := peer.ReadMessage()
	if err != nil || string(data) != "S\n" {
		t.Errorf("peer got (%q, %v)", data, err)
	}
}

func TestWebSocket_PeerDrop(t *testing.T) {
	client, peer := openBridge(t)

	peer.Close()
	_, err := readUntil(t, client, make([]byte, 16))
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Read after peer drop = %v, want ErrConnectionClosed", err)
	}
}

func TestWebSocket_ReadAfterClose(t *testing.T) {
	client, _ := openBridge(t)

	if err := client.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, err := client.Read(make([]byte, 16)); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Read after Close = %v, want ErrConnectionClosed", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestWebSocket_TransportFaultsOnPeerDrop(t *testing.T) {
	url, conns := startBridge(t)
	tr := NewTransport(WebSocketDialer(WebSocketConfig{URL: url, ReadTimeout: 20 * time.Millisecond}), Options{Logger: zerolog.Nop()})
	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer tr.Close()
	if !strings.HasPrefix(tr.Info(), "WebSocket: ") {
		t.Errorf("Info = %q", tr.Info())
	}

	peer := <-conns
	if err := peer.WriteMessage(websocket.TextMessage, []byte("x\n")); err != nil {
		t.Fatalf("WriteMessage error: %v", err)
	}
	peer.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := tr.Poll(); err != nil {
			if !errors.Is(err, ErrLinkRead) || !errors.Is(err, ErrConnectionClosed) {
				t.Errorf("Poll error = %v, want ErrLinkRead wrapping ErrConnectionClosed", err)
			}
			if tr.State() != Faulted {
				t.Errorf("State = %v, want FAULTED", tr.State())
			}
			return
		}
	}
	t.Fatal("transport never faulted")
}
