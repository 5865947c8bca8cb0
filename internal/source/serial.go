// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package source

import (
	"context"
	"fmt"
	"io"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

type openFunc func(serial.OpenOptions) (io.ReadWriteCloser, error)

// Serial reads lines from a serial port. A failed open or a read error
// is reported and the port is reopened after a backoff that doubles from
// MinBackoff up to MaxBackoff and resets after a successful open.
type Serial struct {
	opts       serial.OpenOptions
	MinBackoff time.Duration
	MaxBackoff time.Duration

	open openFunc
}

// NewSerial returns a Source for port at baud, 8N1.
func NewSerial(port string, baud uint, minBackoff, maxBackoff time.Duration) *Serial {
	return &Serial{
		opts: serial.OpenOptions{
			PortName:              port,
			BaudRate:              baud,
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       1,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: 0,
		},
		MinBackoff: minBackoff,
		MaxBackoff: maxBackoff,
		open:       serial.Open,
	}
}

// Port returns the configured device path.
func (s *Serial) Port() string {
	return s.opts.PortName
}

func (s *Serial) Lines(ctx context.Context) (<-chan string, <-chan error) {
	lines := make(chan string, lineBuffer)
	errs := make(chan error, errorBuffer)
	go func() {
		defer close(errs)
		defer close(lines)
		s.run(ctx, lines, errs)
	}()
	return lines, errs
}

func (s *Serial) run(ctx context.Context, lines chan<- string, errs chan<- error) {
	backoff := s.MinBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		port, err := s.open(s.opts)
		if err != nil {
			report(errs, fmt.Errorf("open %s: %w", s.opts.PortName, err))
		} else {
			backoff = s.MinBackoff
			err = readPort(ctx, port, lines)
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = io.EOF
			}
			report(errs, fmt.Errorf("read %s: %w", s.opts.PortName, err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < s.MaxBackoff {
			backoff *= 2
			if backoff > s.MaxBackoff {
				backoff = s.MaxBackoff
			}
		}
	}
}

// readPort scans port into lines and releases the port when scanning
// stops or ctx is cancelled, whichever comes first.
func readPort(ctx context.Context, port io.ReadWriteCloser, lines chan<- string) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = port.Close()
	}()
	return scanLines(ctx, port, lines, 0)
}
