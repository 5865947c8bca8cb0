// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package ingest turns receiver lines into the current fix.
package ingest

import (
	"context"
	"errors"

	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/logger"
	"github.com/relabs-tech/gps_tracker/internal/metrics"
	"github.com/relabs-tech/gps_tracker/internal/source"
)

var errOutOfRange = errors.New("fix out of range")

// Publisher is told about every accepted fix, after it is stored.
type Publisher interface {
	Publish(gps.Fix)
}

// Loop owns the line source. It is the only writer of the store.
type Loop struct {
	src     source.Source
	parser  gps.Parser
	store   *gps.Store
	pub     Publisher
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New returns a Loop reading src.
func New(src source.Source, parser gps.Parser, store *gps.Store, pub Publisher,
	log *logger.Logger, m *metrics.Metrics,
) *Loop {
	return &Loop{
		src:     src,
		parser:  parser,
		store:   store,
		pub:     pub,
		log:     log,
		metrics: m,
	}
}

// Run consumes lines until the source closes or ctx is cancelled. Source
// errors are logged and counted; they never stop the loop. On cancel Run
// returns at once; a source stuck in a blocking read finishes on its own.
func (l *Loop) Run(ctx context.Context) error {
	lines, errs := l.src.Lines(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.log.Warn("ingest: line source closed, no new fixes will arrive")
				return nil
			}
			l.Handle(line)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			l.metrics.TransportErrors.Add(1)
			l.log.Error("ingest: transport error", logger.Err(err))
		}
	}
}

// Handle processes one line and reports whether it produced a fix.
func (l *Loop) Handle(line string) bool {
	l.metrics.Lines.Add(1)

	fix, err := l.parser.Parse(line)
	if err == nil && !fix.InRange() {
		err = errOutOfRange
	}
	if err != nil {
		l.metrics.LinesRejected.Add(1)
		if !errors.Is(err, gps.ErrWrongSentence) {
			l.log.Debug("ingest: line rejected", "line", line, logger.Err(err))
		}
		return false
	}

	l.store.Set(fix)
	l.pub.Publish(fix)
	l.metrics.FixesAccepted.Add(1)
	l.log.Debug("ingest: fix accepted", "latitude", fix.Latitude, "longitude", fix.Longitude, "time", fix.Time)
	return true
}
