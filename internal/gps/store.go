// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"sync"
	"time"
)

// Store holds the most recent fix. It has no history: every Set
// replaces the previous value as a whole.
type Store struct {
	mu      sync.RWMutex
	fix     Fix
	haveFix bool
	updated time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Set replaces the current fix.
func (s *Store) Set(f Fix) {
	s.mu.Lock()
	s.fix = f
	s.haveFix = true
	s.updated = time.Now()
	s.mu.Unlock()
}

// Get returns the current fix and whether one has been set yet.
func (s *Store) Get() (Fix, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fix, s.haveFix
}

// Updated returns when the current fix was set, or the zero time.
func (s *Store) Updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}
