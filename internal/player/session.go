/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/heimdall_signage/internal/cache"
	"github.com/friendsincode/heimdall_signage/internal/engine"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/livestream"
	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/telemetry"
)

// session binds one screen to its engine plus the bookkeeping the
// engine itself does not carry: which playlist is loaded, which
// livestreams the session watches, and per-region proof-of-play
// tracking.
type session struct {
	screenID string
	engine   *engine.Engine
	off      func()

	mu         sync.Mutex
	playlistID string
	layoutID   string
	streamIDs  []string
	plays      map[string]*regionPlay
}

// regionPlay tracks the item currently on screen in one region, for
// the proof-of-play record written when it leaves.
type regionPlay struct {
	contentID   string
	contentName string
	contentType models.ContentType
	index       int
	wallStart   time.Time
	engineStart time.Duration
}

func newSession(screenID string, eng *engine.Engine) *session {
	return &session{
		screenID: screenID,
		engine:   eng,
		plays:    make(map[string]*regionPlay),
	}
}

func (s *session) setSession(playlistID, layoutID string) {
	s.mu.Lock()
	s.playlistID = playlistID
	s.layoutID = layoutID
	s.mu.Unlock()
}

func (s *session) sessionIDs() (playlistID, layoutID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playlistID, s.layoutID
}

func (s *session) swapStreams(ids []string) (removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	for _, old := range s.streamIDs {
		if !keep[old] {
			removed = append(removed, old)
		}
	}
	s.streamIDs = ids
	return removed
}

func (s *session) takeStreams() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.streamIDs
	s.streamIDs = nil
	return ids
}

// recordPlay closes out the region's current play (if any) and starts
// tracking the new item. A nil item means the region went dark.
func (s *session) recordPlay(m *Manager, regionID string, item *engine.Item, index int) {
	now := s.engine.CurrentTime()
	cycle := s.engine.CycleCount()

	s.mu.Lock()
	prev := s.plays[regionID]
	if item != nil {
		s.plays[regionID] = &regionPlay{
			contentID:   item.ID,
			contentName: item.Name,
			contentType: models.ContentType(item.Kind),
			index:       index,
			wallStart:   time.Now().UTC(),
			engineStart: now,
		}
	} else {
		delete(s.plays, regionID)
	}
	s.mu.Unlock()

	if prev != nil {
		m.enqueuePlaylog(prev.toLog(s.screenID, regionID, cycle, now))
	}
}

// flushAllPlays closes out every region's current play, for Stop,
// Unload, and shutdown.
func (s *session) flushAllPlays(m *Manager) {
	now := s.engine.CurrentTime()
	cycle := s.engine.CycleCount()

	s.mu.Lock()
	flushed := s.plays
	s.plays = make(map[string]*regionPlay)
	s.mu.Unlock()

	for regionID, play := range flushed {
		m.enqueuePlaylog(play.toLog(s.screenID, regionID, cycle, now))
	}
}

func (p *regionPlay) toLog(screenID, regionID string, cycle int, engineNow time.Duration) models.PlayLog {
	duration := engineNow - p.engineStart
	if duration < 0 {
		duration = 0
	}
	return models.PlayLog{
		ID:          uuid.NewString(),
		ScreenID:    screenID,
		RegionID:    regionID,
		ContentID:   p.contentID,
		ContentName: p.contentName,
		ContentType: p.contentType,
		CycleCount:  cycle,
		ItemIndex:   p.index,
		StartedAt:   p.wallStart,
		Duration:    duration,
	}
}

// handleEngineEvent translates one engine event into bus traffic,
// metrics, proof-of-play records, and the cached screen state. It runs
// on the engine's emit path, so everything here is either in-memory or
// queued.
func (m *Manager) handleEngineEvent(s *session, ev engine.Event) {
	switch ev.Kind {
	case engine.EventStatusChange:
		telemetry.EngineStatus.WithLabelValues(s.screenID).Set(statusValue(ev.Status))
		m.bus.Publish(events.EventPlayerStatus, events.Payload{
			"screen_id": s.screenID,
			"status":    string(ev.Status),
		})
		m.updateScreenState(s)

	case engine.EventContentChange:
		s.recordPlay(m, ev.RegionID, ev.Content, ev.Index)
		telemetry.ContentAdvancesTotal.WithLabelValues(s.screenID, ev.RegionID).Inc()

		payload := events.Payload{
			"screen_id": s.screenID,
			"region_id": ev.RegionID,
			"index":     ev.Index,
			"dark":      ev.Content == nil,
		}
		if ev.Content != nil {
			payload["content_id"] = ev.Content.ID
			payload["content_name"] = ev.Content.Name
			payload["content_type"] = string(ev.Content.Kind)
			payload["uri"] = ev.Content.URI
			if ev.Content.FallbackURI != "" {
				payload["fallback_uri"] = ev.Content.FallbackURI
			}
		}
		m.bus.Publish(events.EventPlayerContentChange, payload)
		m.updateScreenState(s)

	case engine.EventCycleComplete:
		telemetry.PlaybackCyclesTotal.WithLabelValues(s.screenID).Inc()
		m.bus.Publish(events.EventPlayerCycleComplete, events.Payload{
			"screen_id": s.screenID,
			"cycle":     ev.CycleCount,
		})
		m.persistState(s)

	case engine.EventTimeUpdate:
		m.bus.Publish(events.EventPlayerTimeUpdate, events.Payload{
			"screen_id":       s.screenID,
			"current_time_ms": ev.CurrentTime.Milliseconds(),
		})

	case engine.EventError:
		m.bus.Publish(events.EventPlayerError, events.Payload{
			"screen_id": s.screenID,
			"message":   ev.Message,
		})
	}
}

// updateScreenState refreshes the cached runtime snapshot other nodes
// and the dashboard read.
func (m *Manager) updateScreenState(s *session) {
	snap := s.engine.Snapshot()
	playlistID, layoutID := s.sessionIDs()

	state := &cache.CachedScreenState{
		ScreenID:   s.screenID,
		Status:     string(snap.Status),
		PlaylistID: playlistID,
		LayoutID:   layoutID,
		CycleCount: snap.CycleCount,
		EngineTime: snap.CurrentTime,
		Regions:    make([]cache.CachedRegionState, 0, len(snap.Regions)),
		UpdatedAt:  time.Now().UTC(),
	}
	for _, r := range snap.Regions {
		rs := cache.CachedRegionState{
			RegionID:  r.RegionID,
			ItemIndex: r.Index,
			Dark:      r.Content == nil,
		}
		if r.Content != nil {
			rs.ContentID = r.Content.ID
			rs.ContentName = r.Content.Name
			rs.ContentType = string(r.Content.Kind)
		}
		state.Regions = append(state.Regions, rs)
	}

	if err := m.cache.SetScreenState(context.Background(), state); err != nil {
		m.logger.Debug().Err(err).Str("screen_id", s.screenID).Msg("screen state cache write failed")
	}
}

// rewireStreams reconciles the livestream watch set with the streams
// referenced by the freshly loaded playlist.
func (m *Manager) rewireStreams(ctx context.Context, s *session, playlist engine.Playlist) {
	var ids []string
	seen := make(map[string]bool)

	for _, as := range playlist.Assignments {
		for _, contentID := range as.ContentIDs {
			if seen[contentID] {
				continue
			}
			seen[contentID] = true

			// Cache-hot after the engine load, so this is cheap.
			item, err := m.loader.Resolve(ctx, contentID)
			if err != nil || item == nil {
				continue
			}
			if item.Kind != engine.KindLivestream || !item.Live {
				continue
			}
			ids = append(ids, item.ID)
			m.watchStream(item)
		}
	}

	for _, removed := range s.swapStreams(ids) {
		m.unwatchStream(removed)
	}
}

// dropStreams releases every stream the session was watching.
func (m *Manager) dropStreams(s *session) {
	for _, id := range s.takeStreams() {
		m.unwatchStream(id)
	}
}

func (m *Manager) watchStream(item *engine.Item) {
	m.mu.Lock()
	m.watches[item.ID]++
	first := m.watches[item.ID] == 1
	m.mu.Unlock()

	if first {
		m.streams.Watch(item.ID, item.URI, item.FallbackURI, m.onStreamChange)
	}
}

func (m *Manager) unwatchStream(contentID string) {
	m.mu.Lock()
	m.watches[contentID]--
	last := m.watches[contentID] <= 0
	if last {
		delete(m.watches, contentID)
		delete(m.streamStates, contentID)
	}
	m.mu.Unlock()

	if last {
		m.streams.Unwatch(contentID)
	}
}

// onStreamChange publishes monitor transitions so every shell rendering
// the stream switches between the stream and its fallback in unison.
func (m *Manager) onStreamChange(chg livestream.Change) {
	m.mu.Lock()
	m.streamStates[chg.ContentID] = chg.State
	m.mu.Unlock()

	m.bus.Publish(events.EventStreamStateChange, events.Payload{
		"content_id": chg.ContentID,
		"state":      string(chg.State),
		"render_uri": chg.RenderURI,
		"attempt":    chg.Attempt,
	})
	if chg.Recovered {
		m.bus.Publish(events.EventStreamRecovered, events.Payload{
			"content_id": chg.ContentID,
			"render_uri": chg.RenderURI,
		})
	}
}

// 0=idle 1=loading 2=playing 3=paused 4=error
func statusValue(s engine.Status) float64 {
	switch s {
	case engine.StatusLoading:
		return 1
	case engine.StatusPlaying:
		return 2
	case engine.StatusPaused:
		return 3
	case engine.StatusError:
		return 4
	default:
		return 0
	}
}
