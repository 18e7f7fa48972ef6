/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status is the engine lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
	StatusError   Status = "error"
)

var (
	// ErrNotLoaded indicates Play was called before a successful Load.
	ErrNotLoaded = errors.New("no playlist loaded")

	// ErrNoRegions indicates the loaded playlist resolved to zero
	// schedulable regions.
	ErrNoRegions = errors.New("no schedulable regions")

	// ErrEngineDisposed indicates the engine was disposed.
	ErrEngineDisposed = errors.New("engine disposed")

	// ErrLoaderRequired indicates the engine has no content loader.
	ErrLoaderRequired = errors.New("content loader required")
)

// Engine drives every region of a layout forward against one playback
// clock. All state transitions happen under one mutex and all regions
// within a tick observe the same time snapshot, so regions never see
// inconsistent time. Events are emitted after the lock is released,
// which keeps listeners free to call back into the engine.
type Engine struct {
	mu     sync.Mutex
	opts   Options
	logger zerolog.Logger
	loader ContentLoader
	clock  *PlaybackClock

	layout  Layout
	regions map[string]*sequencer
	order   []string // layout-definition order, for deterministic ticks

	status     Status
	cycleCount int
	loaded     bool
	disposed   bool

	listeners  *listenerSet
	tickCancel context.CancelFunc
}

// New constructs a stopped engine. The loader is consulted once per
// assignment entry during Load; nothing is fetched on the tick path.
func New(loader ContentLoader, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		opts:      opts,
		logger:    opts.Logger.With().Str("component", "engine").Logger(),
		loader:    loader,
		clock:     NewPlaybackClock(opts.Clock),
		regions:   make(map[string]*sequencer),
		status:    StatusIdle,
		listeners: newListenerSet(),
	}
}

// On subscribes a listener to the engine's event stream and returns its
// unsubscribe function.
func (e *Engine) On(l Listener) func() {
	return e.listeners.add(l)
}

// Load resolves the playlist against the layout and rebuilds all region
// state. Missing content IDs are logged and skipped; regions that end up
// empty are omitted from scheduling. A loader failure is fatal to the
// load attempt: status becomes error, the partially built state is
// discarded, and the previous session's definitions stay in place so a
// failed reload never blanks a running screen.
func (e *Engine) Load(ctx context.Context, playlist Playlist, layout Layout) error {
	e.mu.Lock()
	evs, err := e.loadLocked(ctx, playlist, layout)
	e.mu.Unlock()
	e.emitAll(evs)
	return err
}

func (e *Engine) loadLocked(ctx context.Context, playlist Playlist, layout Layout) ([]Event, error) {
	if e.disposed {
		return nil, ErrEngineDisposed
	}
	if e.loader == nil {
		return nil, ErrLoaderRequired
	}

	e.haltTickingLocked()
	e.clock.Pause()
	e.status = StatusLoading
	evs := []Event{{Kind: EventStatusChange, Status: StatusLoading}}

	regionsByID := make(map[string]Region, len(layout.Regions))
	for _, r := range layout.Regions {
		regionsByID[r.ID] = r
	}

	policy := durationPolicy{
		image:            e.opts.ImageDuration,
		web:              e.opts.WebDuration,
		videoPlaceholder: e.opts.VideoPlaceholder,
	}

	// One resolve per content ID; duplicated IDs share the same item so
	// a detected duration propagates everywhere at once.
	resolved := make(map[string]*Item)
	newRegions := make(map[string]*sequencer)

	for _, as := range playlist.Assignments {
		region, ok := regionsByID[as.RegionID]
		if !ok {
			e.logger.Warn().Str("region_id", as.RegionID).Msg("assignment targets unknown region, skipping")
			continue
		}
		if _, dup := newRegions[as.RegionID]; dup {
			e.logger.Warn().Str("region_id", as.RegionID).Msg("duplicate assignment for region, keeping first")
			continue
		}

		items := make([]*Item, 0, len(as.ContentIDs))
		for _, id := range as.ContentIDs {
			item, seen := resolved[id]
			if !seen {
				it, err := e.loader.Resolve(ctx, id)
				if err != nil {
					e.status = StatusError
					evs = append(evs,
						Event{Kind: EventError, Message: fmt.Sprintf("load content %s: %v", id, err)},
						Event{Kind: EventStatusChange, Status: StatusError},
					)
					return evs, fmt.Errorf("resolve content %s: %w", id, err)
				}
				if it == nil {
					e.logger.Warn().Str("content_id", id).Str("region_id", as.RegionID).Msg("content not found, skipping")
				}
				resolved[id] = it
				item = it
			}
			if item == nil {
				continue
			}
			items = append(items, item)
		}
		if len(items) == 0 {
			e.logger.Debug().Str("region_id", as.RegionID).Msg("region resolved to zero items, omitted from scheduling")
			continue
		}

		overrides := make(map[string]time.Duration, len(as.Overrides))
		for id, d := range as.Overrides {
			overrides[id] = d
		}
		newRegions[as.RegionID] = newSequencer(region, items, overrides, policy)
	}

	order := make([]string, 0, len(newRegions))
	for _, r := range layout.Regions {
		if _, ok := newRegions[r.ID]; ok {
			order = append(order, r.ID)
		}
	}

	e.layout = layout
	e.regions = newRegions
	e.order = order
	e.cycleCount = 0
	e.clock.Reset()
	e.loaded = true
	e.status = StatusIdle
	evs = append(evs, Event{Kind: EventStatusChange, Status: StatusIdle})

	e.logger.Info().
		Str("playlist", playlist.Name).
		Str("layout", layout.Name).
		Int("regions", len(newRegions)).
		Msg("playlist loaded")
	return evs, nil
}

// Play starts playback, or resumes it after Pause. Calling Play while
// already playing is a no-op. The first play after Load (or after an
// error) seeds every region to its first item at engine time zero.
func (e *Engine) Play() error {
	e.mu.Lock()
	evs, err := e.playLocked()
	e.mu.Unlock()
	e.emitAll(evs)
	return err
}

func (e *Engine) playLocked() ([]Event, error) {
	if e.disposed {
		return nil, ErrEngineDisposed
	}
	if !e.loaded {
		return nil, ErrNotLoaded
	}

	switch e.status {
	case StatusPlaying:
		return nil, nil
	case StatusPaused:
		// The clock rebases on resume, so pending end times shift by
		// exactly the paused duration and regions do not jump forward.
		if err := e.clock.Start(); err != nil {
			return nil, err
		}
		e.startTickLoopLocked()
		e.status = StatusPlaying
		return []Event{{Kind: EventStatusChange, Status: StatusPlaying}}, nil
	default:
		if len(e.regions) == 0 {
			return nil, ErrNoRegions
		}
		e.clock.Reset()
		if err := e.clock.Start(); err != nil {
			return nil, err
		}
		e.cycleCount = 0
		evs := make([]Event, 0, len(e.order)+1)
		for _, id := range e.order {
			rs := e.regions[id]
			rs.reset()
			rs.seed(0)
			evs = append(evs, contentChangeEvent(rs))
		}
		e.startTickLoopLocked()
		e.status = StatusPlaying
		evs = append(evs, Event{Kind: EventStatusChange, Status: StatusPlaying})
		return evs, nil
	}
}

// Pause freezes playback. Only valid while playing; otherwise a no-op.
func (e *Engine) Pause() {
	e.mu.Lock()
	evs := e.pauseLocked()
	e.mu.Unlock()
	e.emitAll(evs)
}

func (e *Engine) pauseLocked() []Event {
	if e.status != StatusPlaying {
		return nil
	}
	e.clock.Pause()
	e.haltTickingLocked()
	e.status = StatusPaused
	return []Event{{Kind: EventStatusChange, Status: StatusPaused}}
}

// Stop halts ticking, zeroes elapsed time and the cycle counter, and
// clears every region back to "not started".
func (e *Engine) Stop() {
	e.mu.Lock()
	evs := e.stopLocked()
	e.mu.Unlock()
	e.emitAll(evs)
}

func (e *Engine) stopLocked() []Event {
	e.haltTickingLocked()
	e.clock.Reset()
	e.cycleCount = 0
	for _, rs := range e.regions {
		rs.reset()
	}
	if e.status == StatusIdle {
		return nil
	}
	e.status = StatusIdle
	return []Event{{Kind: EventStatusChange, Status: StatusIdle}}
}

// Dispose tears the engine down: ticking stops, the clock is released,
// and all listeners are dropped. The engine is unusable afterwards.
func (e *Engine) Dispose() {
	e.mu.Lock()
	e.haltTickingLocked()
	e.clock.Dispose()
	for _, rs := range e.regions {
		rs.reset()
	}
	e.status = StatusIdle
	e.loaded = false
	e.disposed = true
	e.mu.Unlock()
	e.listeners.clear()
}

// NotifyContentComplete is the event-path hook for content whose end is
// signaled by the presentation layer rather than a timer. contentID
// guards against races between the timer and the native end event: a
// signal naming content the region has already advanced past is a
// silent no-op, never a double advance. An empty contentID skips the
// staleness check.
func (e *Engine) NotifyContentComplete(regionID, contentID string) {
	e.mu.Lock()
	evs := e.notifyCompleteLocked(regionID, contentID)
	e.mu.Unlock()
	e.emitAll(evs)
}

func (e *Engine) notifyCompleteLocked(regionID, contentID string) []Event {
	if e.disposed || e.status != StatusPlaying {
		return nil
	}
	rs, ok := e.regions[regionID]
	if !ok || rs.current == nil {
		return nil
	}
	if contentID != "" && rs.current.item.ID != contentID {
		e.logger.Debug().
			Str("region_id", regionID).
			Str("content_id", contentID).
			Msg("stale completion signal ignored")
		return nil
	}

	now := e.clock.Now()
	rs.advance(now, ExternallySignaled)
	evs := []Event{contentChangeEvent(rs)}
	return append(evs, e.checkCycleLocked(now)...)
}

// NotifyDurationDetected records a content item's real duration once the
// presentation layer discovers it. It refines progress reporting and
// future scheduling of that item; the currently running record keeps its
// computed end time and is not rescheduled retroactively.
func (e *Engine) NotifyDurationDetected(contentID string, d time.Duration) {
	if contentID == "" || d <= 0 {
		return
	}
	e.mu.Lock()
	updated := false
	seen := make(map[*Item]bool)
	for _, rs := range e.regions {
		for _, item := range rs.items {
			if item.ID == contentID && !seen[item] {
				item.Detected = d
				seen[item] = true
				updated = true
			}
		}
	}
	e.mu.Unlock()
	if updated {
		e.logger.Debug().
			Str("content_id", contentID).
			Dur("duration", d).
			Msg("content duration detected")
	}
}

// MarkNextPreloaded records that the presentation layer has buffered the
// region's upcoming item. The flag resets on every advance.
func (e *Engine) MarkNextPreloaded(regionID string) {
	e.mu.Lock()
	if rs, ok := e.regions[regionID]; ok {
		rs.preloaded = true
	}
	e.mu.Unlock()
}

// Status returns the engine lifecycle state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// CurrentTime returns the elapsed engine time.
func (e *Engine) CurrentTime() time.Duration {
	return e.clock.Now()
}

// CycleCount returns the number of completed cycles since Play.
func (e *Engine) CycleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycleCount
}

// tick advances every due region against one time snapshot, evaluates
// the cycle barrier, and emits a timeUpdate. It runs once per tick
// interval while playing.
func (e *Engine) tick() {
	e.mu.Lock()
	evs := e.tickLocked()
	e.mu.Unlock()
	e.emitAll(evs)
}

func (e *Engine) tickLocked() []Event {
	if e.status != StatusPlaying {
		return nil
	}
	now := e.clock.Now()

	var evs []Event
	for _, id := range e.order {
		rs := e.regions[id]
		if rs.due(now) {
			rs.advance(now, TimerExpired)
			evs = append(evs, contentChangeEvent(rs))
		}
	}

	evs = append(evs, e.checkCycleLocked(now)...)
	return append(evs, Event{Kind: EventTimeUpdate, CurrentTime: now})
}

// checkCycleLocked evaluates the cycle barrier: a cycle completes only
// when every scheduled region has exhausted its list. Regions with short
// lists deliberately go dark and wait so that all regions restart their
// first item in lockstep. On completion all regions re-seed at the
// current time, not at zero.
func (e *Engine) checkCycleLocked(now time.Duration) []Event {
	if len(e.regions) == 0 {
		return nil
	}
	for _, id := range e.order {
		if !e.regions[id].exhausted {
			return nil
		}
	}

	if e.opts.NoLoop {
		return e.stopLocked()
	}

	e.cycleCount++
	evs := []Event{{Kind: EventCycleComplete, CycleCount: e.cycleCount}}
	for _, id := range e.order {
		rs := e.regions[id]
		rs.seed(now)
		evs = append(evs, contentChangeEvent(rs))
	}
	e.logger.Debug().Int("cycle", e.cycleCount).Dur("at", now).Msg("cycle complete, regions re-seeded")
	return evs
}

// startTickLoopLocked launches the tick goroutine. Cancellation is
// immediate: a tick already in flight no-ops on the status check, so no
// further state changes happen after Pause, Stop or Dispose.
func (e *Engine) startTickLoopLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	e.tickCancel = cancel
	ticker := e.opts.Clock.NewTicker(e.opts.TickInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				e.tick()
			}
		}
	}()
}

func (e *Engine) haltTickingLocked() {
	if e.tickCancel != nil {
		e.tickCancel()
		e.tickCancel = nil
	}
}

func (e *Engine) emitAll(evs []Event) {
	for _, ev := range evs {
		e.listeners.emit(e.logger, ev)
	}
}

func contentChangeEvent(s *sequencer) Event {
	ev := Event{Kind: EventContentChange, RegionID: s.region.ID, Index: s.index}
	if s.current != nil {
		ev.Content = s.current.item
	}
	return ev
}
