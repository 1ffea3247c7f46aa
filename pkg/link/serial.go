// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the controller firmware's serial rate
const DefaultBaudRate = 9600

// SerialConfig describes a serial port connection
type SerialConfig struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration // bound on a single Read; 0 blocks
	Settle      time.Duration // wait after open for the controller to reset
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// OpenSerial opens a serial port connection, 8N1.
//
// Boards that reset when the port opens (Arduino-style bootloaders) drop
// anything written during the reset window, so Settle delays the return.
func OpenSerial(ctx context.Context, cfg SerialConfig) (*SerialConnection, error) {
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}

	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", cfg.Port, err)
		}
	}

	if cfg.Settle > 0 {
		select {
		case <-ctx.Done():
			_ = port.Close()
			return nil, ctx.Err()
		case <-time.After(cfg.Settle):
		}
		// Discard whatever the bootloader printed while resetting
		_ = port.ResetInputBuffer()
	}

	return &SerialConnection{port: port}, nil
}

// SerialDialer returns a Dialer for the given serial configuration
func SerialDialer(cfg SerialConfig) Dialer {
	return func(ctx context.Context) (Conn, string, error) {
		conn, err := OpenSerial(ctx, cfg)
		if err != nil {
			return nil, "", err
		}
		baud := cfg.BaudRate
		if baud <= 0 {
			baud = DefaultBaudRate
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", cfg.Port, baud), nil
	}
}
