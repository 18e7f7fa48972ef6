/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine implements the playback scheduling core: a monotonic
// playback clock, per-region content sequencers, and the engine that
// drives every region of a layout forward in lockstep cycles.
package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrClockDisposed is returned when a disposed clock is started again.
var ErrClockDisposed = errors.New("playback clock disposed")

// PlaybackClock measures elapsed playback time. It counts while running,
// freezes while paused, and rebases on resume so repeated pause/resume
// cycles never lose or double-count time. The underlying time source is
// injectable so tests can drive it deterministically.
type PlaybackClock struct {
	mu       sync.Mutex
	clk      clockwork.Clock
	segment  time.Time     // wall anchor of the current running segment
	elapsed  time.Duration // accumulated time from finished segments
	running  bool
	disposed bool
}

// NewPlaybackClock creates a stopped clock. A nil time source falls back
// to the real monotonic clock.
func NewPlaybackClock(clk clockwork.Clock) *PlaybackClock {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &PlaybackClock{clk: clk}
}

// Start begins or resumes counting. Starting a running clock is a no-op.
func (c *PlaybackClock) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrClockDisposed
	}
	if c.running {
		return nil
	}
	c.segment = c.clk.Now()
	c.running = true
	return nil
}

// Pause freezes the reported time without losing position. Pausing a
// stopped clock is a no-op.
func (c *PlaybackClock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.elapsed += c.clk.Since(c.segment)
	c.running = false
}

// Resume is an alias for Start kept for callers that mirror the
// pause/resume pairing.
func (c *PlaybackClock) Resume() error {
	return c.Start()
}

// Reset zeroes elapsed time and clears pause bookkeeping. The clock is
// left stopped.
func (c *PlaybackClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elapsed = 0
	c.running = false
}

// Now returns the elapsed playback time. It is correct whether the clock
// is running or paused.
func (c *PlaybackClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return c.elapsed
	}
	return c.elapsed + c.clk.Since(c.segment)
}

// Running reports whether the clock is counting.
func (c *PlaybackClock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Dispose zeroes all counters and makes the clock permanently unusable.
func (c *PlaybackClock) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elapsed = 0
	c.running = false
	c.disposed = true
}
