// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package broadcast pushes every accepted fix to the live subscribers.
//
// Each subscriber gets its own FIFO queue drained by its own goroutine, so
// a slow subscriber never stalls the publisher or the other subscribers and
// fixes reach a subscriber in the order they became current.
//
// Drop policy: a subscriber whose Send fails, or whose queue is full when a
// fix is published, is removed and closed. Nothing is reported back to the
// publisher.
package broadcast

import (
	"errors"
	"sync"

	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/logger"
	"github.com/relabs-tech/gps_tracker/internal/metrics"
)

// DefaultBuffer is the per-subscriber queue depth used when none is given.
const DefaultBuffer = 16

var (
	ErrClosed    = errors.New("broadcast: broadcaster closed")
	errQueueFull = errors.New("subscriber queue full")
)

// Subscriber receives fixes. Send is only ever called from one goroutine
// per subscriber. Close is called once, when the subscriber is dropped.
type Subscriber interface {
	Send(gps.Fix) error
	Close() error
}

// FixSource is where a joining subscriber's first fix comes from.
type FixSource interface {
	Get() (gps.Fix, bool)
}

type member struct {
	id    int
	name  string
	sub   Subscriber
	queue chan gps.Fix
}

// Broadcaster fans fixes out to subscribers.
type Broadcaster struct {
	current FixSource
	buffer  int
	log     *logger.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	members map[int]*member
	nextID  int
	closed  bool
}

// New returns a Broadcaster that replays current's fix to new subscribers.
func New(current FixSource, buffer int, log *logger.Logger, m *metrics.Metrics) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		current: current,
		buffer:  buffer,
		log:     log,
		metrics: m,
		members: make(map[int]*member),
	}
}

// Join registers sub and returns its id. If a fix is current it is queued
// for sub before sub can see any later Publish, so sub never receives an
// older fix after a newer one. A fix published concurrently with Join may
// arrive twice.
func (b *Broadcaster) Join(name string, sub Subscriber) (int, error) {
	m := &member{
		name:  name,
		sub:   sub,
		queue: make(chan gps.Fix, b.buffer),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = sub.Close()
		return 0, ErrClosed
	}
	if fix, ok := b.current.Get(); ok {
		m.queue <- fix
	}
	b.nextID++
	m.id = b.nextID
	b.members[m.id] = m
	b.mu.Unlock()

	b.metrics.Subscribers.Add(1)
	b.log.Info("broadcast: subscriber joined", "subscriber", name, "id", m.id)

	go b.pump(m)
	return m.id, nil
}

// Leave removes the subscriber with id. Unknown ids are ignored.
func (b *Broadcaster) Leave(id int) {
	b.remove(id, nil)
}

// Publish queues fix for every current subscriber without blocking.
// Fixes must be published from a single goroutine to keep their order.
func (b *Broadcaster) Publish(fix gps.Fix) {
	var stalled []int

	b.mu.RLock()
	for id, m := range b.members {
		select {
		case m.queue <- fix:
		default:
			stalled = append(stalled, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range stalled {
		b.remove(id, errQueueFull)
	}
}

// Count returns the number of registered subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.members)
}

// Close drops every subscriber; later Joins fail with ErrClosed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	ids := make([]int, 0, len(b.members))
	for id := range b.members {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.remove(id, nil)
	}
}

// remove deletes the member and closes its queue. The queue is only
// closed under the write lock, and Publish only sends under the read
// lock to members still in the map, so a send never hits a closed queue.
func (b *Broadcaster) remove(id int, cause error) {
	b.mu.Lock()
	m, ok := b.members[id]
	if ok {
		delete(b.members, id)
		close(m.queue)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	b.metrics.Subscribers.Add(-1)
	if cause != nil {
		b.metrics.SubscriberDrops.Add(1)
		b.log.Warn("broadcast: subscriber dropped", "subscriber", m.name, "id", id, logger.Err(cause))
		return
	}
	b.log.Info("broadcast: subscriber left", "subscriber", m.name, "id", id)
}

func (b *Broadcaster) pump(m *member) {
	defer func() {
		if err := m.sub.Close(); err != nil {
			b.log.Debug("broadcast: subscriber close", "subscriber", m.name, logger.Err(err))
		}
	}()
	for fix := range m.queue {
		if err := m.sub.Send(fix); err != nil {
			b.remove(m.id, err)
			return
		}
	}
}
