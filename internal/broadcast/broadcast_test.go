// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package broadcast

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/logger"
	"github.com/relabs-tech/gps_tracker/internal/metrics"
)

type recorder struct {
	received chan gps.Fix
	fail     error
	block    chan struct{}

	mu     sync.Mutex
	closed bool
}

func newRecorder() *recorder {
	return &recorder{received: make(chan gps.Fix, 256)}
}

func (r *recorder) Send(f gps.Fix) error {
	if r.block != nil {
		<-r.block
	}
	if r.fail != nil {
		return r.fail
	}
	r.received <- f
	return nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *recorder) next(t *testing.T) gps.Fix {
	t.Helper()
	select {
	case f := <-r.received:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a fix")
		return gps.Fix{}
	}
}

func (r *recorder) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case f := <-r.received:
		t.Fatalf("unexpected fix %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newBroadcaster(buffer int) (*Broadcaster, *gps.Store, *metrics.Metrics) {
	store := gps.NewStore()
	m := metrics.New()
	return New(store, buffer, logger.Discard(), m), store, m
}

func TestJoin(t *testing.T) {
	t.Run("no replay before the first fix", func(t *testing.T) {
		b, _, _ := newBroadcaster(4)
		r := newRecorder()
		if _, err := b.Join("r", r); err != nil {
			t.Fatalf("Join: %s", err)
		}
		r.expectNothing(t)
	})
	t.Run("late joiner gets only the current fix", func(t *testing.T) {
		b, store, _ := newBroadcaster(4)
		early := newRecorder()
		if _, err := b.Join("early", early); err != nil {
			t.Fatalf("Join: %s", err)
		}
		for i := 1; i <= 3; i++ {
			f := gps.Fix{Latitude: float64(i)}
			store.Set(f)
			b.Publish(f)
		}

		late := newRecorder()
		if _, err := b.Join("late", late); err != nil {
			t.Fatalf("Join: %s", err)
		}
		if got := late.next(t); got.Latitude != 3 {
			t.Errorf("late joiner got %+v, want the current fix", got)
		}
		late.expectNothing(t)

		for i := 1; i <= 3; i++ {
			if got := early.next(t); got.Latitude != float64(i) {
				t.Errorf("early subscriber got %+v, want latitude %d", got, i)
			}
		}
		early.expectNothing(t)
	})
}

func TestPublish_IsolatesFailingSubscriber(t *testing.T) {
	b, _, m := newBroadcaster(4)
	good1, good2, bad := newRecorder(), newRecorder(), newRecorder()
	bad.fail = errors.New("connection reset")

	for name, r := range map[string]*recorder{"good1": good1, "bad": bad, "good2": good2} {
		if _, err := b.Join(name, r); err != nil {
			t.Fatalf("Join: %s", err)
		}
	}

	fix := gps.Fix{Latitude: -23.01, Longitude: -43.2}
	b.Publish(fix)

	if got := good1.next(t); got != fix {
		t.Errorf("good1 got %+v", got)
	}
	if got := good2.next(t); got != fix {
		t.Errorf("good2 got %+v", got)
	}
	eventually(t, bad.isClosed, "failing subscriber to be closed")
	eventually(t, func() bool { return b.Count() == 2 }, "failing subscriber to be removed")
	if m.SubscriberDrops.Load() != 1 {
		t.Errorf("drops = %d, want 1", m.SubscriberDrops.Load())
	}

	next := gps.Fix{Latitude: 1, Longitude: 2}
	b.Publish(next)
	if got := good1.next(t); got != next {
		t.Errorf("good1 got %+v after drop", got)
	}
}

func TestPublish_PreservesOrder(t *testing.T) {
	b, _, _ := newBroadcaster(256)
	r := newRecorder()
	if _, err := b.Join("r", r); err != nil {
		t.Fatalf("Join: %s", err)
	}
	for i := 0; i < 200; i++ {
		b.Publish(gps.Fix{Latitude: float64(i)})
	}
	for i := 0; i < 200; i++ {
		if got := r.next(t); got.Latitude != float64(i) {
			t.Fatalf("fix %d arrived as %+v", i, got)
		}
	}
}

func TestPublish_DropsStalledSubscriber(t *testing.T) {
	b, _, m := newBroadcaster(1)
	fast := newRecorder()
	slow := newRecorder()
	slow.block = make(chan struct{})
	defer close(slow.block)

	if _, err := b.Join("fast", fast); err != nil {
		t.Fatalf("Join: %s", err)
	}
	if _, err := b.Join("slow", slow); err != nil {
		t.Fatalf("Join: %s", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			b.Publish(gps.Fix{Latitude: float64(i)})
			select {
			case <-fast.received:
			case <-time.After(2 * time.Second):
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher stalled behind a slow subscriber")
	}

	eventually(t, func() bool { return b.Count() == 1 }, "stalled subscriber to be dropped")
	if m.SubscriberDrops.Load() != 1 {
		t.Errorf("drops = %d, want 1", m.SubscriberDrops.Load())
	}
}

func TestLeaveAndClose(t *testing.T) {
	b, _, m := newBroadcaster(4)
	a, c := newRecorder(), newRecorder()
	idA, _ := b.Join("a", a)
	if _, err := b.Join("c", c); err != nil {
		t.Fatalf("Join: %s", err)
	}
	if m.Subscribers.Load() != 2 {
		t.Errorf("subscribers gauge = %d, want 2", m.Subscribers.Load())
	}

	b.Leave(idA)
	b.Leave(idA)
	eventually(t, a.isClosed, "left subscriber to be closed")
	if b.Count() != 1 {
		t.Errorf("count = %d, want 1", b.Count())
	}
	if m.SubscriberDrops.Load() != 0 {
		t.Error("leaving is not a drop")
	}

	b.Close()
	eventually(t, c.isClosed, "remaining subscriber to be closed on shutdown")
	if m.Subscribers.Load() != 0 {
		t.Errorf("subscribers gauge = %d, want 0", m.Subscribers.Load())
	}

	late := newRecorder()
	if _, err := b.Join("late", late); !errors.Is(err, ErrClosed) {
		t.Errorf("Join after Close: got %v, want ErrClosed", err)
	}
	if !late.isClosed() {
		t.Error("rejected subscriber should be closed")
	}
	b.Publish(gps.Fix{})
}
