// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link owns the raw byte-stream connection to the gripper
// controller: serial or WebSocket backends, bounded polling, fault detection
// and backoff reconnection. It has no protocol knowledge.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Conn provides a common interface for reading/writing bytes from serial or WebSocket
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dialer opens a fresh connection and returns it with a human-readable
// description (e.g. "Serial: /dev/ttyACM0 @ 9600 baud")
type Dialer func(ctx context.Context) (Conn, string, error)

var (
	// ErrLinkUnavailable is returned when the connection cannot be opened
	ErrLinkUnavailable = errors.New("link unavailable")

	// ErrLinkWrite is returned when a write fails; the link is faulted
	ErrLinkWrite = errors.New("link write error")

	// ErrLinkRead is returned when a read fails; the link is faulted
	ErrLinkRead = errors.New("link read error")

	// ErrLinkReadTimeout is returned when nothing arrived for longer than
	// the configured fault threshold; the link is faulted
	ErrLinkReadTimeout = errors.New("link read timeout")

	// ErrLinkDown is returned by operations on a link that is not connected
	ErrLinkDown = errors.New("link down")

	// ErrConnectionClosed is returned when reading from a closed WebSocket connection
	ErrConnectionClosed = errors.New("websocket connection closed")
)

// State describes transport health
type State int32

const (
	Disconnected State = iota
	Connected
	Faulted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connected:
		return "CONNECTED"
	case Faulted:
		return "FAULTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(s))
	}
}
