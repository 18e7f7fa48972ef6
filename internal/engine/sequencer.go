/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import "time"

// AdvanceReason distinguishes the two paths that finish an item. Both
// funnel through the same advance bookkeeping so the index, start time
// and end time can never be mutated by two competing code paths.
type AdvanceReason int

const (
	// TimerExpired advances because the item's computed end time passed.
	TimerExpired AdvanceReason = iota
	// ExternallySignaled advances because the presentation layer
	// reported the item finished (e.g. a video's native end event).
	ExternallySignaled
)

func (r AdvanceReason) String() string {
	switch r {
	case TimerExpired:
		return "timer_expired"
	case ExternallySignaled:
		return "externally_signaled"
	default:
		return "unknown"
	}
}

// playingItem is the "current playing" record of one region.
type playingItem struct {
	item      *Item
	index     int
	startedAt time.Duration // engine time when the item went on screen
	duration  time.Duration
	endsAt    time.Duration
}

// sequencer walks one region's ordered content list. It never wraps on
// its own: past the last item the region goes dark and stays exhausted
// until the engine's cycle barrier re-seeds every region together.
type sequencer struct {
	region    Region
	items     []*Item
	overrides map[string]time.Duration
	policy    durationPolicy

	index     int
	current   *playingItem
	exhausted bool
	started   bool
	preloaded bool // presentation layer has buffered the next item
}

// durationPolicy carries the per-kind defaults from Options.
type durationPolicy struct {
	image            time.Duration
	web              time.Duration
	videoPlaceholder time.Duration
}

func newSequencer(region Region, items []*Item, overrides map[string]time.Duration, policy durationPolicy) *sequencer {
	if overrides == nil {
		overrides = map[string]time.Duration{}
	}
	return &sequencer{
		region:    region,
		items:     items,
		overrides: overrides,
		policy:    policy,
	}
}

// resolveDuration computes the on-screen duration for the item at idx:
// explicit override first, then the detected native duration for video,
// then the per-kind default. Videos without a detected duration get the
// conservative placeholder so the timer never fires before the real end
// event.
func (s *sequencer) resolveDuration(idx int) time.Duration {
	if idx < 0 || idx >= len(s.items) {
		return 0
	}
	item := s.items[idx]

	if d, ok := s.overrides[item.ID]; ok && d > 0 {
		return d
	}

	switch item.Kind {
	case KindVideo:
		if item.Detected > 0 {
			return item.Detected
		}
		return s.policy.videoPlaceholder
	case KindWeb, KindLivestream:
		// Extent unknowable in advance, use the longer default.
		return s.policy.web
	default:
		return s.policy.image
	}
}

// seed puts the region on its first item at engine time at.
func (s *sequencer) seed(at time.Duration) {
	s.index = 0
	s.exhausted = false
	s.started = true
	s.preloaded = false
	s.setCurrent(at)
}

// advance moves to the next item at engine time at. It returns true when
// region state changed. Past the last item the current entry becomes nil
// (the region renders dark) and the region is marked exhausted.
func (s *sequencer) advance(at time.Duration, _ AdvanceReason) bool {
	if s.current == nil {
		return false
	}
	s.index++
	s.preloaded = false
	s.setCurrent(at)
	return true
}

func (s *sequencer) setCurrent(at time.Duration) {
	if s.index >= len(s.items) {
		s.current = nil
		s.exhausted = true
		return
	}
	duration := s.resolveDuration(s.index)
	s.current = &playingItem{
		item:      s.items[s.index],
		index:     s.index,
		startedAt: at,
		duration:  duration,
		endsAt:    at + duration,
	}
}

// due reports whether the timer path should advance the region at now.
func (s *sequencer) due(now time.Duration) bool {
	return s.current != nil && now >= s.current.endsAt
}

// reset returns the region to "not started".
func (s *sequencer) reset() {
	s.index = 0
	s.current = nil
	s.exhausted = false
	s.started = false
	s.preloaded = false
}

// totalDuration sums the resolved durations across the item list. Used
// for cycle progress reporting, so detected durations refine it between
// calls.
func (s *sequencer) totalDuration() time.Duration {
	var total time.Duration
	for i := range s.items {
		total += s.resolveDuration(i)
	}
	return total
}

// elapsedBefore sums resolved durations of items preceding idx.
func (s *sequencer) elapsedBefore(idx int) time.Duration {
	var total time.Duration
	for i := 0; i < idx && i < len(s.items); i++ {
		total += s.resolveDuration(i)
	}
	return total
}
