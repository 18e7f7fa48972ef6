/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/teambition/rrule-go"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/player"
	"github.com/friendsincode/heimdall_signage/internal/scheduler/state"
	"github.com/friendsincode/heimdall_signage/internal/telemetry"
)

const (
	tickEvery        = 30 * time.Second
	defaultLookahead = 48 * time.Hour
)

// Service evaluates schedule entries on a fixed cadence and steers each
// screen's player toward the playlist its calendar says should be live.
// It never fights manual control inside a window: a screen is only
// touched when the resolved window changes or the screen has no session
// at all.
type Service struct {
	db        *gorm.DB
	players   *player.Manager
	bus       events.PubSub
	store     *state.Store
	clock     clockwork.Clock
	logger    zerolog.Logger
	lookahead time.Duration
	interval  time.Duration

	warnMu sync.Mutex
	warned map[string]struct{}
}

// New constructs the scheduler service. The lookahead bounds how far
// recurrence expansion reaches when listing upcoming windows.
func New(db *gorm.DB, players *player.Manager, bus events.PubSub, store *state.Store, clock clockwork.Clock, lookahead time.Duration, logger zerolog.Logger) *Service {
	if lookahead <= 0 {
		lookahead = defaultLookahead
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if store == nil {
		store = state.NewStore()
	}
	return &Service{
		db:        db,
		players:   players,
		bus:       bus,
		store:     store,
		clock:     clock,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		lookahead: lookahead,
		warned:    make(map[string]struct{}),
	}
}

// SetTickInterval overrides the evaluation cadence. Must be called
// before Run; zero keeps the default.
func (s *Service) SetTickInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// Run executes the scheduler loop until the context is cancelled. The
// first evaluation happens immediately so a restart does not leave
// screens on stale content for a full tick.
func (s *Service) Run(ctx context.Context) error {
	interval := s.interval
	if interval <= 0 {
		interval = tickEvery
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Msg("scheduler loop started")
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	telemetry.SchedulerTicksTotal.Inc()
	started := time.Now()
	now := s.clock.Now().UTC()

	byScreen, err := s.activeEntries(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("schedule entry query failed")
		telemetry.SchedulerErrorsTotal.WithLabelValues("load_entries").Inc()
		return
	}

	screenIDs, err := s.activeScreens(ctx, byScreen)
	if err != nil {
		s.logger.Error().Err(err).Msg("screen query failed")
		telemetry.SchedulerErrorsTotal.WithLabelValues("load_screens").Inc()
		return
	}

	activeWindows := 0
	for _, screenID := range screenIDs {
		n, err := s.evaluateScreen(ctx, screenID, byScreen[screenID], now)
		activeWindows += n
		if err != nil {
			telemetry.SchedulerErrorsTotal.WithLabelValues("apply").Inc()
			s.warnOnce("apply:"+screenID, func(e *zerolog.Event) {
				e.Err(err).Str("screen_id", screenID).Msg("schedule apply failed")
			})
		}
	}

	telemetry.ScheduleEntriesActive.Set(float64(activeWindows))
	telemetry.ScheduleBuildDuration.Observe(time.Since(started).Seconds())
}

// activeEntries loads every schedulable entry, grouped by screen.
// Entries whose recurrence already ran out are excluded in SQL so dead
// campaigns stop costing expansion work.
func (s *Service) activeEntries(ctx context.Context, now time.Time) (map[string][]models.ScheduleEntry, error) {
	var entries []models.ScheduleEntry
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Where("dt_end IS NULL OR dt_end > ?", now.Add(-24*time.Hour)).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	byScreen := make(map[string][]models.ScheduleEntry)
	for _, e := range entries {
		byScreen[e.ScreenID] = append(byScreen[e.ScreenID], e)
	}
	return byScreen, nil
}

// activeScreens filters the scheduled screens down to the ones still
// marked active; disabled screens keep their entries but are left alone.
func (s *Service) activeScreens(ctx context.Context, byScreen map[string][]models.ScheduleEntry) ([]string, error) {
	if len(byScreen) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(byScreen))
	for id := range byScreen {
		ids = append(ids, id)
	}

	var screenIDs []string
	err := s.db.WithContext(ctx).
		Model(&models.Screen{}).
		Where("active = ? AND id IN ?", true, ids).
		Pluck("id", &screenIDs).Error
	if err != nil {
		return nil, err
	}
	sort.Strings(screenIDs)
	return screenIDs, nil
}

// evaluateScreen resolves the window that should be live on the screen
// right now and applies it if it differs from the applied one. Returns
// how many windows cover the instant, for the active-entries gauge.
func (s *Service) evaluateScreen(ctx context.Context, screenID string, entries []models.ScheduleEntry, now time.Time) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "evaluateScreen")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"screen_id": screenID})

	windows := s.expandAll(entries, now.Add(-time.Minute), now.Add(time.Minute))

	active := 0
	for _, w := range windows {
		if w.Contains(now) {
			active++
		}
	}

	win := resolveActive(windows, now)
	if win == nil {
		// Outside every window the screen keeps whatever it is showing;
		// going dark on purpose is expressed as a fallback-priority
		// entry, not as scheduler silence.
		s.store.Clear(screenID)
		return active, nil
	}

	if !s.needsApply(screenID, win) {
		return active, nil
	}

	if err := s.players.Load(ctx, screenID, win.PlaylistID); err != nil {
		telemetry.RecordError(span, err)
		return active, fmt.Errorf("load playlist %s: %w", win.PlaylistID, err)
	}
	if err := s.players.Play(screenID); err != nil {
		telemetry.RecordError(span, err)
		return active, fmt.Errorf("start playback: %w", err)
	}

	s.store.SetCurrent(state.Applied{
		ScreenID:   screenID,
		EntryID:    win.EntryID,
		PlaylistID: win.PlaylistID,
		StartsAt:   win.StartsAt,
		EndsAt:     win.EndsAt,
		AppliedAt:  now,
	})
	s.clearWarned("apply:" + screenID)

	s.bus.Publish(events.EventScheduleApplied, events.Payload{
		"screen_id":    screenID,
		"entry_id":     win.EntryID,
		"playlist_id":  win.PlaylistID,
		"window_start": win.StartsAt,
		"window_end":   win.EndsAt,
	})
	s.logger.Info().
		Str("screen_id", screenID).
		Str("entry_id", win.EntryID).
		Str("playlist_id", win.PlaylistID).
		Time("window_start", win.StartsAt).
		Time("window_end", win.EndsAt).
		Msg("schedule window applied")
	return active, nil
}

// needsApply reports whether the resolved window differs from the one
// already driving the screen. A screen without any session always needs
// the apply, covering nodes that restarted without persisted sessions.
func (s *Service) needsApply(screenID string, win *models.Window) bool {
	if _, err := s.players.Snapshot(screenID); errors.Is(err, player.ErrNoSession) {
		return true
	}
	cur, ok := s.store.Current(screenID)
	if !ok {
		return true
	}
	return cur.EntryID != win.EntryID ||
		cur.PlaylistID != win.PlaylistID ||
		!cur.StartsAt.Equal(win.StartsAt)
}

// EvaluateScreen runs one immediate evaluation for a single screen.
// Called by the API after schedule edits so changes land without
// waiting for the next tick.
func (s *Service) EvaluateScreen(ctx context.Context, screenID string) error {
	now := s.clock.Now().UTC()

	var entries []models.ScheduleEntry
	err := s.db.WithContext(ctx).
		Where("screen_id = ? AND active = ?", screenID, true).
		Find(&entries).Error
	if err != nil {
		return err
	}
	_, err = s.evaluateScreen(ctx, screenID, entries, now)
	return err
}

// Upcoming expands the screen's schedule into concrete windows within
// the horizon, sorted by start time. Windows are derived on demand;
// nothing materialized is stored.
func (s *Service) Upcoming(ctx context.Context, screenID string, from time.Time, horizon time.Duration) ([]models.Window, error) {
	if horizon <= 0 || horizon > s.lookahead {
		horizon = s.lookahead
	}

	var entries []models.ScheduleEntry
	err := s.db.WithContext(ctx).
		Where("screen_id = ? AND active = ?", screenID, true).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	windows := s.expandAll(entries, from, from.Add(horizon))
	sort.Slice(windows, func(i, j int) bool {
		if !windows[i].StartsAt.Equal(windows[j].StartsAt) {
			return windows[i].StartsAt.Before(windows[j].StartsAt)
		}
		return windows[i].Priority < windows[j].Priority
	})
	return windows, nil
}

// Applied returns the windows currently pinned to screens.
func (s *Service) Applied() []state.Applied {
	return s.store.Snapshot()
}

// expandAll expands every entry, dropping ones with broken recurrence
// rules after a single warning instead of failing the whole pass.
func (s *Service) expandAll(entries []models.ScheduleEntry, lo, hi time.Time) []models.Window {
	var windows []models.Window
	for _, entry := range entries {
		expanded, err := ExpandEntry(entry, lo, hi)
		if err != nil {
			telemetry.SchedulerErrorsTotal.WithLabelValues("expand").Inc()
			s.warnOnce("expand:"+entry.ID, func(e *zerolog.Event) {
				e.Err(err).Str("entry_id", entry.ID).Str("screen_id", entry.ScreenID).Msg("schedule entry expansion failed")
			})
			continue
		}
		windows = append(windows, expanded...)
	}
	return windows
}

// ExpandEntry turns one schedule entry into the concrete occurrences
// overlapping [lo, hi). Recurrences are evaluated in the entry's own
// timezone so a daily 08:00 slot survives DST transitions.
func ExpandEntry(entry models.ScheduleEntry, lo, hi time.Time) ([]models.Window, error) {
	duration := time.Duration(entry.DurationMinutes) * time.Minute
	if duration <= 0 {
		duration = time.Hour
	}

	loc := time.UTC
	if entry.Timezone != "" {
		l, err := time.LoadLocation(entry.Timezone)
		if err != nil {
			return nil, fmt.Errorf("timezone %q: %w", entry.Timezone, err)
		}
		loc = l
	}

	// Scan back one duration so an occurrence still on screen at lo is
	// not missed.
	scanLo := lo.Add(-duration)

	var occurrences []time.Time
	if entry.RRule == "" {
		if entry.DTStart.After(scanLo) && entry.DTStart.Before(hi) {
			occurrences = []time.Time{entry.DTStart}
		}
	} else {
		rr, err := rrule.StrToRRule(entry.RRule)
		if err != nil {
			return nil, fmt.Errorf("rrule %q: %w", entry.RRule, err)
		}
		rr.DTStart(entry.DTStart.In(loc))
		occurrences = rr.Between(scanLo.In(loc), hi.In(loc), true)
	}

	windows := make([]models.Window, 0, len(occurrences))
	for _, occ := range occurrences {
		if entry.DTEnd != nil && occ.After(*entry.DTEnd) {
			continue
		}
		windows = append(windows, models.Window{
			EntryID:    entry.ID,
			PlaylistID: entry.PlaylistID,
			Priority:   entry.Priority,
			StartsAt:   occ.UTC(),
			EndsAt:     occ.Add(duration).UTC(),
		})
	}
	return windows, nil
}

// resolveActive picks the window that should be live at now. Lower
// priority value wins; among equals the latest starter wins, so an
// overlapping later occurrence of the same rank takes over.
func resolveActive(windows []models.Window, now time.Time) *models.Window {
	var best *models.Window
	for i := range windows {
		w := &windows[i]
		if !w.Contains(now) {
			continue
		}
		if best == nil || preferred(w, best) {
			best = w
		}
	}
	return best
}

func preferred(a, b *models.Window) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.StartsAt.Equal(b.StartsAt) {
		return a.StartsAt.After(b.StartsAt)
	}
	return a.EntryID < b.EntryID
}

// warnOnce logs through logFn the first time key is seen, then stays
// quiet. Keeps a broken entry from flooding the log on every tick.
func (s *Service) warnOnce(key string, logFn func(e *zerolog.Event)) {
	s.warnMu.Lock()
	if _, ok := s.warned[key]; ok {
		s.warnMu.Unlock()
		return
	}
	s.warned[key] = struct{}{}
	s.warnMu.Unlock()

	logFn(s.logger.Warn())
}

func (s *Service) clearWarned(key string) {
	s.warnMu.Lock()
	delete(s.warned, key)
	s.warnMu.Unlock()
}
