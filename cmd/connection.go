// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/gripstat/pkg/link"
	"github.com/Thermoquad/gripstat/pkg/session"
)

// ErrNoEndpoint is returned when neither a port nor a URL is configured
var ErrNoEndpoint = errors.New("either --port or --url must be specified")

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("GRIPSTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// newDialer builds a serial or WebSocket dialer from settings. The password
// is asked for once here so reconnects don't prompt again.
func newDialer() (link.Dialer, error) {
	cfg := settings.Link

	if cfg.URL != "" {
		password := ""
		if cfg.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, err
			}
		}
		return link.WebSocketDialer(link.WebSocketConfig{
			URL:           cfg.URL,
			Username:      cfg.Username,
			Password:      password,
			SkipSSLVerify: cfg.NoSSLVerify,
			ReadTimeout:   cfg.PollTimeout(),
		}), nil
	}

	if cfg.Port != "" {
		return link.SerialDialer(link.SerialConfig{
			Port:        cfg.Port,
			BaudRate:    cfg.Baud,
			ReadTimeout: cfg.PollTimeout(),
			Settle:      cfg.Settle(),
		}), nil
	}

	return nil, ErrNoEndpoint
}

func transportOptions() link.Options {
	return link.Options{
		ReadFaultAfter: settings.Link.ReadFaultAfter(),
		Backoff:        settings.Backoff.LinkBackoff(),
		Logger:         logger,
	}
}

// openTransport dials once and returns a connected transport
func openTransport(ctx context.Context, dial link.Dialer) (*link.Transport, error) {
	tr := link.NewTransport(dial, transportOptions())
	if err := tr.Open(ctx); err != nil {
		return nil, err
	}
	return tr, nil
}

// openSession opens a fresh transport and wraps it in a new session
func openSession(ctx context.Context, dial link.Dialer) (*session.Session, error) {
	opts, err := settings.SessionOptions()
	if err != nil {
		return nil, err
	}
	opts.Logger = logger

	tr, err := openTransport(ctx, dial)
	if err != nil {
		return nil, err
	}
	return session.New(tr, opts), nil
}
