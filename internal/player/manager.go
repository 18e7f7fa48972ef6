/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/heimdall_signage/internal/cache"
	"github.com/friendsincode/heimdall_signage/internal/engine"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/livestream"
	"github.com/friendsincode/heimdall_signage/internal/media"
	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/telemetry"
)

// ErrNoSession indicates a player operation targeted a screen that has
// no playback session.
var ErrNoSession = errors.New("no playback session for screen")

const (
	// A screen with no heartbeat for this long is marked offline.
	offlineAfter = 90 * time.Second
	sweepEvery   = 30 * time.Second

	playlogQueueSize = 256
)

// Manager hosts one playback engine per screen, routes presentation
// callbacks to the right engine, and keeps livestream monitors alive
// for exactly the streams referenced by loaded sessions.
type Manager struct {
	db      *gorm.DB
	cache   *cache.Cache
	bus     events.PubSub
	streams *livestream.Service
	loader  *Loader
	opts    engine.Options
	logger  zerolog.Logger

	mu           sync.Mutex
	sessions     map[string]*session
	watches      map[string]int // livestream content id -> session refcount
	streamStates map[string]livestream.State
	lastSeen     map[string]time.Time
	online       map[string]bool

	playlogCh chan models.PlayLog
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewManager creates the player manager and starts its background
// workers. opts is the template for every screen's engine; the logger
// and clock it carries are shared across screens.
func NewManager(db *gorm.DB, c *cache.Cache, bus events.PubSub, streams *livestream.Service, mediaSvc *media.Service, opts engine.Options, logger zerolog.Logger) *Manager {
	componentLogger := logger.With().Str("component", "player").Logger()
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		db:           db,
		cache:        c,
		bus:          bus,
		streams:      streams,
		loader:       NewLoader(db, c, mediaSvc, logger),
		opts:         opts,
		logger:       componentLogger,
		sessions:     make(map[string]*session),
		watches:      make(map[string]int),
		streamStates: make(map[string]livestream.State),
		lastSeen:     make(map[string]time.Time),
		online:       make(map[string]bool),
		playlogCh:    make(chan models.PlayLog, playlogQueueSize),
		ctx:          ctx,
		cancel:       cancel,
	}

	m.wg.Add(2)
	go m.playlogWriter()
	go m.offlineSweep()
	return m
}

// Load builds a session for the screen from the playlist and its
// layout. A load failure leaves any previous session definitions in
// place; nothing partial is ever applied.
func (m *Manager) Load(ctx context.Context, screenID, playlistID string) error {
	var screen models.Screen
	err := m.db.WithContext(ctx).First(&screen, "id = ?", screenID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("screen %s not found", screenID)
	}
	if err != nil {
		return fmt.Errorf("load screen %s: %w", screenID, err)
	}

	playlist, layout, err := m.loader.BuildSession(ctx, playlistID)
	if err != nil {
		return err
	}

	s := m.ensureSession(screenID)
	if err := s.engine.Load(ctx, playlist, layout); err != nil {
		return err
	}

	s.setSession(playlistID, layout.ID)
	m.rewireStreams(ctx, s, playlist)
	m.persistState(s)

	if err := m.db.WithContext(ctx).Model(&models.Screen{}).
		Where("id = ?", screenID).
		Update("active_layout_id", layout.ID).Error; err != nil {
		m.logger.Warn().Err(err).Str("screen_id", screenID).Msg("screen layout update failed")
	}
	if err := m.cache.InvalidateScreenList(ctx); err != nil {
		m.logger.Debug().Err(err).Msg("screen list invalidation failed")
	}

	m.logger.Info().
		Str("screen_id", screenID).
		Str("playlist_id", playlistID).
		Str("layout_id", layout.ID).
		Msg("session loaded")
	return nil
}

// Play starts or resumes playback on the screen.
func (m *Manager) Play(screenID string) error {
	s, ok := m.session(screenID)
	if !ok {
		return ErrNoSession
	}
	if err := s.engine.Play(); err != nil {
		return err
	}
	m.persistState(s)
	return nil
}

// Pause freezes playback on the screen without losing position.
func (m *Manager) Pause(screenID string) error {
	s, ok := m.session(screenID)
	if !ok {
		return ErrNoSession
	}
	s.engine.Pause()
	m.persistState(s)
	return nil
}

// Stop halts playback and rewinds the session to the top.
func (m *Manager) Stop(screenID string) error {
	s, ok := m.session(screenID)
	if !ok {
		return ErrNoSession
	}
	s.engine.Stop()
	s.flushAllPlays(m)
	m.persistState(s)
	return nil
}

// Unload disposes the screen's session entirely: engine, stream
// watches, persisted state, and cached runtime state.
func (m *Manager) Unload(ctx context.Context, screenID string) error {
	m.mu.Lock()
	s, ok := m.sessions[screenID]
	if ok {
		delete(m.sessions, screenID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNoSession
	}

	s.flushAllPlays(m)
	s.off()
	s.engine.Dispose()
	m.dropStreams(s)

	if err := m.db.WithContext(ctx).Delete(&models.PlayerState{}, "screen_id = ?", screenID).Error; err != nil {
		m.logger.Warn().Err(err).Str("screen_id", screenID).Msg("player state delete failed")
	}
	if err := m.cache.InvalidateScreenState(ctx, screenID); err != nil {
		m.logger.Debug().Err(err).Str("screen_id", screenID).Msg("screen state invalidation failed")
	}
	telemetry.EngineStatus.DeleteLabelValues(screenID)

	m.logger.Info().Str("screen_id", screenID).Msg("session unloaded")
	return nil
}

// NotifyContentComplete routes a presentation-layer end signal to the
// screen's engine. Stale signals are absorbed by the engine.
func (m *Manager) NotifyContentComplete(screenID, regionID, contentID string) error {
	s, ok := m.session(screenID)
	if !ok {
		return ErrNoSession
	}
	s.engine.NotifyContentComplete(regionID, contentID)
	return nil
}

// NotifyDurationDetected records a real media duration reported by a
// player: the running session refines its progress reporting and the
// database learns it for every future load.
func (m *Manager) NotifyDurationDetected(ctx context.Context, screenID, contentID string, d time.Duration) error {
	if contentID == "" || d <= 0 {
		return fmt.Errorf("invalid duration report")
	}
	if s, ok := m.session(screenID); ok {
		s.engine.NotifyDurationDetected(contentID, d)
	}

	err := m.db.WithContext(ctx).Model(&models.ContentItem{}).
		Where("id = ?", contentID).
		Update("detected_duration", d).Error
	if err != nil {
		return fmt.Errorf("persist detected duration for %s: %w", contentID, err)
	}
	if err := m.cache.InvalidateContentItem(ctx, contentID); err != nil {
		m.logger.Debug().Err(err).Str("content_id", contentID).Msg("content invalidation failed")
	}
	m.bus.Publish(events.EventContentUpdated, events.Payload{"content_id": contentID})
	return nil
}

// ApplyDetectedDuration pushes a server-side probed duration into every
// live session. The database write is the probe worker's job; this only
// refines engines already playing the content.
func (m *Manager) ApplyDetectedDuration(contentID string, d time.Duration) {
	if contentID == "" || d <= 0 {
		return
	}
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.engine.NotifyDurationDetected(contentID, d)
	}
}

// NotifyStreamEnded tells the livestream monitor that a player saw the
// stream stop. The playback engine is deliberately not involved:
// livestreams never finish, the region holds while the monitor works
// the reconnect ladder.
func (m *Manager) NotifyStreamEnded(contentID string) {
	m.streams.NotifyStreamEnded(contentID)
}

// MarkPreloaded records that a screen's shell has buffered the next
// item in a region.
func (m *Manager) MarkPreloaded(screenID, regionID string) error {
	s, ok := m.session(screenID)
	if !ok {
		return ErrNoSession
	}
	s.engine.MarkNextPreloaded(regionID)
	return nil
}

// Snapshot returns the point-in-time playback state for one screen.
func (m *Manager) Snapshot(screenID string) (engine.Snapshot, error) {
	s, ok := m.session(screenID)
	if !ok {
		return engine.Snapshot{}, ErrNoSession
	}
	return s.engine.Snapshot(), nil
}

// Layout returns the layout backing the screen's current session.
func (m *Manager) Layout(screenID string) (engine.Layout, error) {
	s, ok := m.session(screenID)
	if !ok {
		return engine.Layout{}, ErrNoSession
	}
	return s.engine.Layout(), nil
}

// SessionInfo summarizes one hosted session.
type SessionInfo struct {
	ScreenID   string        `json:"screen_id"`
	PlaylistID string        `json:"playlist_id"`
	LayoutID   string        `json:"layout_id"`
	Status     engine.Status `json:"status"`
	CycleCount int           `json:"cycle_count"`
	Online     bool          `json:"online"`
}

// Sessions lists all hosted sessions.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(m.sessions))
	for id, s := range m.sessions {
		playlistID, layoutID := s.sessionIDs()
		infos = append(infos, SessionInfo{
			ScreenID:   id,
			PlaylistID: playlistID,
			LayoutID:   layoutID,
			Status:     s.engine.Status(),
			CycleCount: s.engine.CycleCount(),
			Online:     m.online[id],
		})
	}
	return infos
}

// StreamStates exposes the livestream monitor states for diagnostics.
func (m *Manager) StreamStates() map[string]livestream.State {
	return m.streams.States()
}

// OnlineScreenIDs lists screens whose player has checked in recently.
func (m *Manager) OnlineScreenIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.online))
	for id, on := range m.online {
		if on {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Heartbeat records that a screen's player checked in. The first
// heartbeat after an offline period flips the screen online.
func (m *Manager) Heartbeat(ctx context.Context, screenID string) {
	now := time.Now().UTC()

	m.mu.Lock()
	m.lastSeen[screenID] = now
	wasOnline := m.online[screenID]
	m.online[screenID] = true
	onlineCount := len(m.online)
	m.mu.Unlock()

	if err := m.db.WithContext(ctx).Model(&models.Screen{}).
		Where("id = ?", screenID).
		Update("last_seen_at", now).Error; err != nil {
		m.logger.Debug().Err(err).Str("screen_id", screenID).Msg("last seen update failed")
	}

	if !wasOnline {
		telemetry.ScreensOnline.Set(float64(onlineCount))
		m.bus.Publish(events.EventScreenOnline, events.Payload{
			"screen_id": screenID,
			"at":        now,
		})
		m.logger.Info().Str("screen_id", screenID).Msg("screen online")
	}
}

// RestoreSessions reloads persisted sessions after a restart. Screens
// that were playing resume from the top of their playlist.
func (m *Manager) RestoreSessions(ctx context.Context) {
	var states []models.PlayerState
	if err := m.db.WithContext(ctx).Find(&states).Error; err != nil {
		m.logger.Error().Err(err).Msg("player state restore query failed")
		return
	}

	for _, st := range states {
		if err := m.Load(ctx, st.ScreenID, st.PlaylistID); err != nil {
			m.logger.Warn().Err(err).
				Str("screen_id", st.ScreenID).
				Str("playlist_id", st.PlaylistID).
				Msg("session restore failed")
			continue
		}
		if st.Status == string(engine.StatusPlaying) {
			if err := m.Play(st.ScreenID); err != nil {
				m.logger.Warn().Err(err).Str("screen_id", st.ScreenID).Msg("session resume failed")
			}
		}
	}
	if len(states) > 0 {
		m.logger.Info().Int("sessions", len(states)).Msg("persisted sessions restored")
	}
}

// Shutdown persists and disposes every session and stops the workers.
// Safe to call more than once.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		sessions := make([]*session, 0, len(m.sessions))
		for _, s := range m.sessions {
			sessions = append(sessions, s)
		}
		m.sessions = make(map[string]*session)
		m.mu.Unlock()

		for _, s := range sessions {
			m.persistState(s)
			s.flushAllPlays(m)
			s.off()
			s.engine.Dispose()
		}

		m.cancel()
		close(m.playlogCh)
		m.wg.Wait()
		m.logger.Info().Msg("player manager stopped")
	})
}

func (m *Manager) session(screenID string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[screenID]
	return s, ok
}

func (m *Manager) ensureSession(screenID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[screenID]; ok {
		return s
	}

	opts := m.opts
	opts.Logger = m.logger.With().Str("screen_id", screenID).Logger()
	s := newSession(screenID, engine.New(m.loader, opts))
	s.off = s.engine.On(func(ev engine.Event) { m.handleEngineEvent(s, ev) })
	m.sessions[screenID] = s
	return s
}

// persistState upserts the screen's session record.
func (m *Manager) persistState(s *session) {
	playlistID, layoutID := s.sessionIDs()
	st := models.PlayerState{
		ScreenID:   s.screenID,
		PlaylistID: playlistID,
		LayoutID:   layoutID,
		Status:     string(s.engine.Status()),
		CycleCount: s.engine.CycleCount(),
		UpdatedAt:  time.Now().UTC(),
	}
	err := m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "screen_id"}},
		UpdateAll: true,
	}).Create(&st).Error
	if err != nil {
		m.logger.Warn().Err(err).Str("screen_id", s.screenID).Msg("player state persist failed")
	}
}

// offlineSweep flips screens offline when their heartbeats stop.
func (m *Manager) offlineSweep() {
	defer m.wg.Done()
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweepOffline(time.Now().UTC())
		}
	}
}

func (m *Manager) sweepOffline(now time.Time) {
	var dropped []string

	m.mu.Lock()
	for screenID := range m.online {
		if now.Sub(m.lastSeen[screenID]) > offlineAfter {
			delete(m.online, screenID)
			dropped = append(dropped, screenID)
		}
	}
	onlineCount := len(m.online)
	m.mu.Unlock()

	if len(dropped) == 0 {
		return
	}
	telemetry.ScreensOnline.Set(float64(onlineCount))
	for _, screenID := range dropped {
		m.bus.Publish(events.EventScreenOffline, events.Payload{
			"screen_id": screenID,
			"at":        now,
		})
		m.logger.Warn().Str("screen_id", screenID).Msg("screen offline, heartbeats stopped")
	}
}

// playlogWriter drains proof-of-play records to the database.
func (m *Manager) playlogWriter() {
	defer m.wg.Done()
	for row := range m.playlogCh {
		if err := m.db.Create(&row).Error; err != nil {
			m.logger.Error().Err(err).Str("screen_id", row.ScreenID).Msg("playlog write failed")
			continue
		}
		telemetry.PlayLogEntriesTotal.WithLabelValues(row.ScreenID).Inc()
	}
}

func (m *Manager) enqueuePlaylog(row models.PlayLog) {
	select {
	case m.playlogCh <- row:
	default:
		m.logger.Warn().Str("screen_id", row.ScreenID).Msg("playlog queue full, dropping record")
	}
}
