// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package upload forwards the current fix to the telemetry endpoint on a
// fixed period, independent of how often fixes arrive.
package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/logger"
	"github.com/relabs-tech/gps_tracker/internal/metrics"
)

const (
	jobName = "telemetry_upload_job"

	// stopTimeout bounds how long Stop waits for an in-flight forward.
	stopTimeout = time.Second
)

// Forwarder delivers one fix to the remote endpoint.
type Forwarder interface {
	Forward(ctx context.Context, fix gps.Fix) (string, error)
}

// FixSource is read once per tick.
type FixSource interface {
	Get() (gps.Fix, bool)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock drives the scheduler from clock instead of the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// Scheduler runs Tick every interval. At most one forward is in flight:
// a tick that comes due while the previous one is still running is
// skipped, and the next regular tick acts as the retry.
type Scheduler struct {
	current  FixSource
	fwd      Forwarder
	log      *logger.Logger
	metrics  *metrics.Metrics
	clock    clockwork.Clock
	interval time.Duration

	mu        sync.Mutex
	ctx       context.Context
	scheduler gocron.Scheduler
	job       gocron.Job
}

// New returns a stopped Scheduler.
func New(current FixSource, fwd Forwarder, interval time.Duration, log *logger.Logger,
	m *metrics.Metrics, opts ...Option,
) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("upload interval must be positive, got %s", interval)
	}
	s := &Scheduler{
		current:  current,
		fwd:      fwd,
		log:      log,
		metrics:  m,
		interval: interval,
	}
	for _, opt := range opts {
		opt(s)
	}

	schedOpts := []gocron.SchedulerOption{gocron.WithStopTimeout(stopTimeout)}
	if s.clock != nil {
		schedOpts = append(schedOpts, gocron.WithClock(s.clock))
	}
	scheduler, err := gocron.NewScheduler(schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s.scheduler = scheduler
	return s, nil
}

// Start schedules the upload job. The first tick fires one interval from now.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx = ctx
	job, err := s.scheduler.NewJob(gocron.DurationJob(s.interval), gocron.NewTask(s.Tick), s.jobOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	s.job = job
	s.scheduler.Start()
	s.log.Info("upload: scheduler started", "interval", s.interval)
	return nil
}

// Reschedule changes the period of a started scheduler.
func (s *Scheduler) Reschedule(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("upload interval must be positive, got %s", interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if interval == s.interval {
		return nil
	}
	if s.job == nil {
		s.interval = interval
		return nil
	}
	job, err := s.scheduler.Update(s.job.ID(), gocron.DurationJob(interval), gocron.NewTask(s.Tick), s.jobOptions()...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", jobName, err)
	}
	s.job = job
	s.interval = interval
	s.log.Info("upload: interval changed", "interval", interval)
	return nil
}

// Interval returns the current period.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Stop shuts the scheduler down without waiting past stopTimeout for an
// in-flight forward.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Scheduler) jobOptions() []gocron.JobOption {
	return []gocron.JobOption{
		gocron.WithContext(s.ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	}
}

// Tick forwards the current fix, if there is one. Failures are logged
// and counted; they never affect later ticks.
func (s *Scheduler) Tick(ctx context.Context) {
	fix, ok := s.current.Get()
	if !ok {
		s.metrics.UploadsEmpty.Add(1)
		s.log.Debug("upload: no fix yet, skipping tick")
		return
	}

	entry, err := s.fwd.Forward(ctx, fix)
	if err != nil {
		s.metrics.UploadsError.Add(1)
		s.log.Error("upload: forward failed", "latitude", fix.Latitude, "longitude", fix.Longitude,
			logger.Err(err))
		return
	}
	s.metrics.UploadsOK.Add(1)
	s.log.Info("upload: fix forwarded", "entry", entry, "latitude", fix.Latitude, "longitude", fix.Longitude)
}
