// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package upload

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/logger"
	"github.com/relabs-tech/gps_tracker/internal/metrics"
)

type fakeForwarder struct {
	mu       sync.Mutex
	fixes    []gps.Fix
	err      error
	delay    time.Duration
	calls    chan gps.Fix
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newFakeForwarder() *fakeForwarder {
	return &fakeForwarder{calls: make(chan gps.Fix, 64)}
}

func (f *fakeForwarder) Forward(ctx context.Context, fix gps.Fix) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	f.fixes = append(f.fixes, fix)
	err := f.err
	f.mu.Unlock()

	select {
	case f.calls <- fix:
	default:
	}
	if err != nil {
		return "", err
	}
	return "1", nil
}

func (f *fakeForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fixes)
}

func newScheduler(t *testing.T, interval time.Duration, fwd Forwarder, opts ...Option) (*Scheduler, *gps.Store, *metrics.Metrics) {
	t.Helper()
	store := gps.NewStore()
	m := metrics.New()
	s, err := New(store, fwd, interval, logger.Discard(), m, opts...)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	return s, store, m
}

func TestNew_RejectsZeroInterval(t *testing.T) {
	if _, err := New(gps.NewStore(), newFakeForwarder(), 0, logger.Discard(), metrics.New()); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestTick(t *testing.T) {
	t.Run("empty store forwards nothing", func(t *testing.T) {
		fwd := newFakeForwarder()
		s, _, m := newScheduler(t, time.Hour, fwd)
		for i := 0; i < 5; i++ {
			s.Tick(t.Context())
		}
		if fwd.count() != 0 {
			t.Errorf("forwards = %d, want 0", fwd.count())
		}
		if m.UploadsEmpty.Load() != 5 {
			t.Errorf("empty ticks = %d, want 5", m.UploadsEmpty.Load())
		}
	})
	t.Run("each tick forwards the latest fix once", func(t *testing.T) {
		fwd := newFakeForwarder()
		s, store, m := newScheduler(t, time.Hour, fwd)

		store.Set(gps.Fix{Latitude: 1, Longitude: 1})
		s.Tick(t.Context())
		store.Set(gps.Fix{Latitude: 2, Longitude: 2})
		store.Set(gps.Fix{Latitude: 3, Longitude: 3})
		s.Tick(t.Context())
		s.Tick(t.Context())

		if fwd.count() != 3 {
			t.Fatalf("forwards = %d, want 3", fwd.count())
		}
		want := []float64{1, 3, 3}
		for i, f := range fwd.fixes {
			if f.Latitude != want[i] {
				t.Errorf("forward %d sent %+v, want latitude %v", i, f, want[i])
			}
		}
		if m.UploadsOK.Load() != 3 {
			t.Errorf("ok uploads = %d, want 3", m.UploadsOK.Load())
		}
	})
	t.Run("a failed forward does not stop later ticks", func(t *testing.T) {
		fwd := newFakeForwarder()
		fwd.err = errors.New("503 service unavailable")
		s, store, m := newScheduler(t, time.Hour, fwd)
		store.Set(gps.Fix{Latitude: 1})

		s.Tick(t.Context())
		fwd.mu.Lock()
		fwd.err = nil
		fwd.mu.Unlock()
		s.Tick(t.Context())

		if m.UploadsError.Load() != 1 || m.UploadsOK.Load() != 1 {
			t.Errorf("errors/ok = %d/%d, want 1/1", m.UploadsError.Load(), m.UploadsOK.Load())
		}
	})
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	fwd := newFakeForwarder()
	s, store, m := newScheduler(t, 20*time.Millisecond, fwd)
	if err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start: %s", err)
	}
	defer func() { _ = s.Stop() }()

	deadline := time.Now().Add(2 * time.Second)
	for m.UploadsEmpty.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for empty ticks")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if fwd.count() != 0 {
		t.Fatalf("forwards before first fix = %d, want 0", fwd.count())
	}

	store.Set(gps.Fix{Latitude: -23.01, Longitude: -43.2})
	for i := 0; i < 2; i++ {
		select {
		case f := <-fwd.calls:
			if f.Latitude != -23.01 {
				t.Errorf("forwarded %+v", f)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a forward")
		}
	}
}

func TestScheduler_SkipsTickWhileForwardInFlight(t *testing.T) {
	fwd := newFakeForwarder()
	fwd.delay = 60 * time.Millisecond
	s, store, _ := newScheduler(t, 10*time.Millisecond, fwd)
	store.Set(gps.Fix{Latitude: 5})

	if err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start: %s", err)
	}
	time.Sleep(300 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Errorf("Stop: %s", err)
	}

	if got := fwd.maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent forwards = %d, want 1", got)
	}
	// A 10ms period for 300ms would be ~30 ticks; with 60ms forwards at
	// most a handful can have run.
	if n := fwd.count(); n == 0 || n > 8 {
		t.Errorf("forwards = %d, want between 1 and 8", n)
	}
}

func TestScheduler_FakeClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fwd := newFakeForwarder()
	s, store, _ := newScheduler(t, 15*time.Second, fwd, WithClock(clock))
	store.Set(gps.Fix{Latitude: 10, Longitude: 20})

	if err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start: %s", err)
	}
	defer func() { _ = s.Stop() }()

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
		err := clock.BlockUntilContext(ctx, 1)
		cancel()
		if err != nil {
			t.Fatalf("scheduler never armed its timer: %s", err)
		}
		clock.Advance(15 * time.Second)

		select {
		case f := <-fwd.calls:
			if f.Longitude != 20 {
				t.Errorf("forwarded %+v", f)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d did not forward", i+1)
		}
		// Let the job finish before the next tick comes due.
		time.Sleep(20 * time.Millisecond)
	}
}

func TestScheduler_Reschedule(t *testing.T) {
	fwd := newFakeForwarder()
	s, store, _ := newScheduler(t, time.Hour, fwd)
	store.Set(gps.Fix{Latitude: 1})

	if err := s.Reschedule(0); err == nil {
		t.Error("expected error for zero interval")
	}
	if err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start: %s", err)
	}
	defer func() { _ = s.Stop() }()

	if err := s.Reschedule(20 * time.Millisecond); err != nil {
		t.Fatalf("Reschedule: %s", err)
	}
	if s.Interval() != 20*time.Millisecond {
		t.Errorf("interval = %s", s.Interval())
	}
	select {
	case <-fwd.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("rescheduled job never ran")
	}
}
