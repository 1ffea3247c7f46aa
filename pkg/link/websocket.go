// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig describes a WebSocket bridge connection
type WebSocketConfig struct {
	URL           string
	Username      string
	Password      string
	SkipSSLVerify bool
	ReadTimeout   time.Duration // bound on a single Read; 0 blocks
}

// WebSocketConnection wraps a WebSocket connection for byte-level reading.
//
// A timed-out gorilla read leaves the connection unusable, so a pump
// goroutine owns ReadMessage and Read waits on its channel instead.
type WebSocketConnection struct {
	conn        *websocket.Conn
	readTimeout time.Duration

	messages chan []byte
	done     chan struct{}
	err      error // set by the pump before messages is closed

	buf       []byte
	bufOffset int

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWebSocketConnection(conn *websocket.Conn, readTimeout time.Duration) *WebSocketConnection {
	w := &WebSocketConnection{
		conn:        conn,
		readTimeout: readTimeout,
		messages:    make(chan []byte, 16),
		done:        make(chan struct{}),
	}
	go w.pump()
	return w
}

// pump reads messages until the connection fails or is closed
func (w *WebSocketConnection) pump() {
	defer close(w.messages)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.err = err
			return
		}

		// The gripper bridge may forward lines as text or binary frames
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}

		select {
		case w.messages <- data:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	// If we have buffered data, return it first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	var timeout <-chan time.Time
	if w.readTimeout > 0 {
		timer := time.NewTimer(w.readTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data, ok := <-w.messages:
		if !ok {
			if w.err != nil {
				return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, w.err)
			}
			return 0, ErrConnectionClosed
		}
		w.buf = data
		w.bufOffset = copy(p, data)
		return w.bufOffset, nil
	case <-timeout:
		return 0, nil
	case <-w.done:
		return 0, ErrConnectionClosed
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

// OpenWebSocket opens a WebSocket connection with HTTP Basic auth
func OpenWebSocket(ctx context.Context, cfg WebSocketConfig) (*WebSocketConnection, error) {
	// Parse and validate URL
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: cfg.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if cfg.Username != "" && cfg.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketConnection(conn, cfg.ReadTimeout), nil
}

// WebSocketDialer returns a Dialer for the given WebSocket configuration
func WebSocketDialer(cfg WebSocketConfig) Dialer {
	return func(ctx context.Context) (Conn, string, error) {
		conn, err := OpenWebSocket(ctx, cfg)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", cfg.URL), nil
	}
}
