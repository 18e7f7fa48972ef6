/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/engine"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/player"
	"github.com/friendsincode/heimdall_signage/internal/telemetry"
	ws "nhooyr.io/websocket"
)

type playerLoadRequest struct {
	PlaylistID string `json:"playlist_id"`
}

type playerCallbackRequest struct {
	RegionID        string  `json:"region_id"`
	ContentID       string  `json:"content_id"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// AddPlayerRoutes mounts the session list. Transport controls and
// device callbacks are screen-scoped and live under the screens route.
func (a *API) AddPlayerRoutes(r chi.Router) {
	r.Get("/players", a.handlePlayersList)
}

// addScreenPlayerRoutes registers transport controls, device callbacks
// and the player channel relative to /screens/{screenID}.
func (a *API) addScreenPlayerRoutes(r chi.Router) {
	r.Route("/player", func(r chi.Router) {
		r.Get("/layout", a.handlePlayerLayout)

		// Device callbacks. Reachable with a bound device token; the
		// screen claim check rejects tokens for other screens.
		r.Post("/heartbeat", a.handlePlayerHeartbeat)
		r.Post("/complete", a.handlePlayerContentComplete)
		r.Post("/duration", a.handlePlayerDurationDetected)
		r.Post("/stream-ended", a.handlePlayerStreamEnded)
		r.Post("/preloaded", a.handlePlayerPreloaded)

		r.Group(func(r chi.Router) {
			r.Use(a.requireRoles(models.RoleAdmin, models.RoleEditor))
			r.Post("/load", a.handlePlayerLoad)
			r.Post("/play", a.handlePlayerPlay)
			r.Post("/pause", a.handlePlayerPause)
			r.Post("/stop", a.handlePlayerStop)
			r.Post("/unload", a.handlePlayerUnload)
		})
	})

	r.Get("/ws", a.handleScreenWS)
}

// snapshotResponse flattens an engine snapshot for API consumers.
func snapshotResponse(screenID string, snap engine.Snapshot) map[string]any {
	return map[string]any{
		"screen_id":   screenID,
		"status":      snap.Status,
		"layout_id":   snap.LayoutID,
		"layout_name": snap.LayoutName,
		"engine_time": snap.CurrentTime.Seconds(),
		"cycle_count": snap.CycleCount,
		"regions":     snap.Regions,
	}
}

func (a *API) handlePlayerLoad(w http.ResponseWriter, r *http.Request) {
	screenID := chi.URLParam(r, "screenID")

	var req playerLoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.PlaylistID == "" {
		writeError(w, http.StatusBadRequest, "playlist_required")
		return
	}

	var playlist models.Playlist
	result := a.db.WithContext(r.Context()).Select("id").First(&playlist, "id = ?", req.PlaylistID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "playlist_not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if err := a.players.Load(r.Context(), screenID, req.PlaylistID); err != nil {
		a.logger.Error().Err(err).
			Str("screen_id", screenID).
			Str("playlist_id", req.PlaylistID).
			Msg("session load failed")
		writeError(w, http.StatusUnprocessableEntity, "load_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditPlayerControl, events.Payload{
		"screen_id":   screenID,
		"action":      "load",
		"playlist_id": req.PlaylistID,
	})

	snap, err := a.players.Snapshot(screenID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "snapshot_failed")
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(screenID, snap))
}

func (a *API) handlePlayerPlay(w http.ResponseWriter, r *http.Request) {
	a.controlSession(w, r, "play", a.players.Play)
}

func (a *API) handlePlayerPause(w http.ResponseWriter, r *http.Request) {
	a.controlSession(w, r, "pause", a.players.Pause)
}

func (a *API) handlePlayerStop(w http.ResponseWriter, r *http.Request) {
	a.controlSession(w, r, "stop", a.players.Stop)
}

// controlSession runs one transport control against the screen's
// session and answers with the resulting snapshot.
func (a *API) controlSession(w http.ResponseWriter, r *http.Request, action string, fn func(string) error) {
	screenID := chi.URLParam(r, "screenID")

	if err := fn(screenID); err != nil {
		if errors.Is(err, player.ErrNoSession) {
			writeError(w, http.StatusNotFound, "no_session")
			return
		}
		a.logger.Error().Err(err).Str("screen_id", screenID).Str("action", action).Msg("player control failed")
		writeError(w, http.StatusConflict, "control_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditPlayerControl, events.Payload{
		"screen_id": screenID,
		"action":    action,
	})

	snap, err := a.players.Snapshot(screenID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "snapshot_failed")
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(screenID, snap))
}

func (a *API) handlePlayerUnload(w http.ResponseWriter, r *http.Request) {
	screenID := chi.URLParam(r, "screenID")

	if err := a.players.Unload(r.Context(), screenID); err != nil {
		if errors.Is(err, player.ErrNoSession) {
			writeError(w, http.StatusNotFound, "no_session")
			return
		}
		writeError(w, http.StatusInternalServerError, "unload_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditPlayerControl, events.Payload{
		"screen_id": screenID,
		"action":    "unload",
	})
	w.WriteHeader(http.StatusNoContent)
}

// handlePlayerLayout hands the player shell the layout geometry for its
// current session.
func (a *API) handlePlayerLayout(w http.ResponseWriter, r *http.Request) {
	screenID := chi.URLParam(r, "screenID")
	if !a.requireScreenClaim(w, r, screenID) {
		return
	}

	layout, err := a.players.Layout(screenID)
	if err != nil {
		if errors.Is(err, player.ErrNoSession) {
			writeError(w, http.StatusNotFound, "no_session")
			return
		}
		writeError(w, http.StatusInternalServerError, "layout_failed")
		return
	}

	writeJSON(w, http.StatusOK, layout)
}

func (a *API) handlePlayersList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"players": a.players.Sessions()})
}

func (a *API) handlePlayerHeartbeat(w http.ResponseWriter, r *http.Request) {
	screenID := chi.URLParam(r, "screenID")
	if !a.requireScreenClaim(w, r, screenID) {
		return
	}

	a.players.Heartbeat(r.Context(), screenID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePlayerContentComplete(w http.ResponseWriter, r *http.Request) {
	screenID := chi.URLParam(r, "screenID")
	if !a.requireScreenClaim(w, r, screenID) {
		return
	}

	var req playerCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.RegionID == "" || req.ContentID == "" {
		writeError(w, http.StatusBadRequest, "region_and_content_required")
		return
	}

	if err := a.players.NotifyContentComplete(screenID, req.RegionID, req.ContentID); err != nil {
		if errors.Is(err, player.ErrNoSession) {
			writeError(w, http.StatusNotFound, "no_session")
			return
		}
		writeError(w, http.StatusInternalServerError, "notify_failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePlayerDurationDetected(w http.ResponseWriter, r *http.Request) {
	screenID := chi.URLParam(r, "screenID")
	if !a.requireScreenClaim(w, r, screenID) {
		return
	}

	var req playerCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.ContentID == "" {
		writeError(w, http.StatusBadRequest, "content_required")
		return
	}
	if req.DurationSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_duration")
		return
	}

	d := time.Duration(req.DurationSeconds * float64(time.Second))
	if err := a.players.NotifyDurationDetected(r.Context(), screenID, req.ContentID, d); err != nil {
		if errors.Is(err, player.ErrNoSession) {
			writeError(w, http.StatusNotFound, "no_session")
			return
		}
		writeError(w, http.StatusInternalServerError, "notify_failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePlayerStreamEnded(w http.ResponseWriter, r *http.Request) {
	screenID := chi.URLParam(r, "screenID")
	if !a.requireScreenClaim(w, r, screenID) {
		return
	}

	var req playerCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.ContentID == "" {
		writeError(w, http.StatusBadRequest, "content_required")
		return
	}

	a.players.NotifyStreamEnded(req.ContentID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePlayerPreloaded(w http.ResponseWriter, r *http.Request) {
	screenID := chi.URLParam(r, "screenID")
	if !a.requireScreenClaim(w, r, screenID) {
		return
	}

	var req playerCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.RegionID == "" {
		writeError(w, http.StatusBadRequest, "region_required")
		return
	}

	if err := a.players.MarkPreloaded(screenID, req.RegionID); err != nil {
		if errors.Is(err, player.ErrNoSession) {
			writeError(w, http.StatusNotFound, "no_session")
			return
		}
		writeError(w, http.StatusInternalServerError, "notify_failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleScreenWS is the player channel. The shell subscribes once and
// receives content changes, time updates and schedule flips for its
// screen; everything for other screens is filtered out server side.
func (a *API) handleScreenWS(w http.ResponseWriter, r *http.Request) {
	screenID := chi.URLParam(r, "screenID")
	if !a.requireScreenClaim(w, r, screenID) {
		return
	}

	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Str("screen_id", screenID).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	eventTypes := []events.EventType{
		events.EventPlayerStatus,
		events.EventPlayerContentChange,
		events.EventPlayerTimeUpdate,
		events.EventPlayerCycleComplete,
		events.EventStreamStateChange,
		events.EventScheduleApplied,
		events.EventContentUpdated,
	}

	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		subscribers = append(subscribers, a.bus.Subscribe(eventType))
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	a.players.Heartbeat(ctx, screenID)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			// The ping doubles as a liveness signal for the online sweep.
			a.players.Heartbeat(ctx, screenID)
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		default:
			sent := false
			for i, sub := range subscribers {
				select {
				case payload := <-sub:
					if !payloadForScreen(payload, screenID) {
						continue
					}
					if err := a.writeEvent(ctx, conn, eventTypes[i], payload); err != nil {
						conn.Close(ws.StatusInternalError, "write failed")
						return
					}
					sent = true
				default:
				}
			}
			if !sent {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

// payloadForScreen reports whether an event belongs on a screen's
// channel. Events without a screen_id (content updates) pass through.
func payloadForScreen(payload events.Payload, screenID string) bool {
	sid, ok := payload["screen_id"].(string)
	if !ok || sid == "" {
		return true
	}
	return sid == screenID
}
