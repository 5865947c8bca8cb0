// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package source supplies raw sentence lines from a receiver.
package source

import (
	"bufio"
	"context"
	"io"
	"time"
)

// Source produces raw lines until ctx is cancelled or the source is
// exhausted, then closes both channels. Errors are reports, not
// terminations: a source that can recover keeps sending lines after one.
type Source interface {
	Lines(ctx context.Context) (<-chan string, <-chan error)
}

const (
	lineBuffer  = 64
	errorBuffer = 8

	// NMEA sentences are at most 82 chars; allow headroom for chatty receivers.
	maxLineLen = 4096
)

// Reader reads lines from r until EOF. Used for replaying recorded
// receiver output.
type Reader struct {
	r io.Reader
	// Pace is the delay between lines; zero replays as fast as possible.
	Pace time.Duration
}

// NewReader returns a Source over r.
func NewReader(r io.Reader, pace time.Duration) *Reader {
	return &Reader{r: r, Pace: pace}
}

func (s *Reader) Lines(ctx context.Context) (<-chan string, <-chan error) {
	lines := make(chan string, lineBuffer)
	errs := make(chan error, errorBuffer)
	go func() {
		defer close(errs)
		defer close(lines)
		if err := scanLines(ctx, s.r, lines, s.Pace); err != nil && ctx.Err() == nil {
			report(errs, err)
		}
	}()
	return lines, errs
}

// scanLines forwards every line of r to out. It returns nil at EOF and
// ctx.Err() when cancelled.
func scanLines(ctx context.Context, r io.Reader, out chan<- string, pace time.Duration) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256), maxLineLen)

	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return ctx.Err()
		}
		if pace > 0 {
			select {
			case <-time.After(pace):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return scanner.Err()
}

// report never blocks the reader. A report that does not fit in the
// buffer is dropped.
func report(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
	}
}
