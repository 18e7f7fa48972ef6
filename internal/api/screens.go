/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/player"
)

type screenCreateRequest struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Location        string         `json:"location"`
	Orientation     string         `json:"orientation"`
	Width           int            `json:"width"`
	Height          int            `json:"height"`
	Timezone        string         `json:"timezone"`
	DefaultLayoutID *string        `json:"default_layout_id"`
	Metadata        map[string]any `json:"metadata"`
}

type screenUpdateRequest struct {
	Name            *string `json:"name"`
	Description     *string `json:"description"`
	Location        *string `json:"location"`
	Orientation     *string `json:"orientation"`
	Width           *int    `json:"width"`
	Height          *int    `json:"height"`
	Timezone        *string `json:"timezone"`
	DefaultLayoutID *string `json:"default_layout_id"`
	Active          *bool   `json:"active"`
}

// AddScreenRoutes mounts screen CRUD under /screens.
func (a *API) AddScreenRoutes(r chi.Router) {
	r.Route("/screens", func(r chi.Router) {
		r.Get("/", a.handleScreensList)
		r.With(a.requireRoles(models.RoleAdmin, models.RoleEditor)).Post("/", a.handleScreensCreate)
		r.Route("/{screenID}", func(r chi.Router) {
			r.Get("/", a.handleScreensGet)
			r.With(a.requireRoles(models.RoleAdmin, models.RoleEditor)).Patch("/", a.handleScreensUpdate)
			r.With(a.requireRoles(models.RoleAdmin)).Delete("/", a.handleScreensDelete)
			r.Get("/state", a.handleScreenState)
			r.Get("/schedule", a.handleScreenSchedule)
			a.addScreenPlayerRoutes(r)
			a.addScreenLogRoutes(r)
		})
	})
}

func (a *API) handleScreensList(w http.ResponseWriter, r *http.Request) {
	query := a.db.WithContext(r.Context())
	if r.URL.Query().Get("active") == "true" {
		query = query.Where("active = ?", true)
	}
	if location := r.URL.Query().Get("location"); location != "" {
		query = query.Where("location = ?", location)
	}

	var screens []models.Screen
	if err := query.Order("name ASC").Find(&screens).Error; err != nil {
		a.logger.Error().Err(err).Msg("list screens failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"screens": screens})
}

func (a *API) handleScreensCreate(w http.ResponseWriter, r *http.Request) {
	var req screenCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	orientation := models.Orientation(req.Orientation)
	if orientation == "" {
		orientation = models.OrientationLandscape
	}
	if orientation != models.OrientationLandscape && orientation != models.OrientationPortrait {
		writeError(w, http.StatusBadRequest, "invalid_orientation")
		return
	}

	if req.DefaultLayoutID != nil && *req.DefaultLayoutID != "" {
		var count int64
		a.db.WithContext(r.Context()).Model(&models.Layout{}).Where("id = ?", *req.DefaultLayoutID).Count(&count)
		if count == 0 {
			writeError(w, http.StatusBadRequest, "default_layout_not_found")
			return
		}
	}

	screen := models.Screen{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Description:     req.Description,
		Location:        req.Location,
		Orientation:     orientation,
		Width:           req.Width,
		Height:          req.Height,
		Timezone:        req.Timezone,
		DefaultLayoutID: req.DefaultLayoutID,
		Active:          true,
	}

	if err := a.db.WithContext(r.Context()).Create(&screen).Error; err != nil {
		a.logger.Error().Err(err).Msg("create screen failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if err := a.cache.InvalidateScreenList(r.Context()); err != nil {
		a.logger.Debug().Err(err).Msg("screen list invalidation failed")
	}

	a.logger.Info().
		Str("screen_id", screen.ID).
		Str("name", screen.Name).
		Msg("screen created")

	a.publishAuditEvent(r, events.EventAuditScreenCreate, events.Payload{
		"screen_id":     screen.ID,
		"resource_type": "screen",
		"resource_id":   screen.ID,
		"name":          screen.Name,
	})
	a.bus.Publish(events.EventScreenCreated, events.Payload{"screen_id": screen.ID})

	writeJSON(w, http.StatusCreated, screen)
}

func (a *API) handleScreensGet(w http.ResponseWriter, r *http.Request) {
	screenID := chi.URLParam(r, "screenID")
	if screenID == "" {
		writeError(w, http.StatusBadRequest, "screen_id_required")
		return
	}

	var screen models.Screen
	result := a.db.WithContext(r.Context()).First(&screen, "id = ?", screenID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get screen failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, screen)
}

func (a *API) handleScreensUpdate(w http.ResponseWriter, r *http.Request) {
	screenID := chi.URLParam(r, "screenID")

	var screen models.Screen
	result := a.db.WithContext(r.Context()).First(&screen, "id = ?", screenID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var req screenUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	updates := make(map[string]any)

	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Location != nil {
		updates["location"] = *req.Location
	}
	if req.Orientation != nil {
		o := models.Orientation(*req.Orientation)
		if o != models.OrientationLandscape && o != models.OrientationPortrait {
			writeError(w, http.StatusBadRequest, "invalid_orientation")
			return
		}
		updates["orientation"] = o
	}
	if req.Width != nil {
		updates["width"] = *req.Width
	}
	if req.Height != nil {
		updates["height"] = *req.Height
	}
	if req.Timezone != nil {
		updates["timezone"] = *req.Timezone
	}
	if req.DefaultLayoutID != nil {
		if *req.DefaultLayoutID == "" {
			updates["default_layout_id"] = nil
		} else {
			var count int64
			a.db.WithContext(r.Context()).Model(&models.Layout{}).Where("id = ?", *req.DefaultLayoutID).Count(&count)
			if count == 0 {
				writeError(w, http.StatusBadRequest, "default_layout_not_found")
				return
			}
			updates["default_layout_id"] = *req.DefaultLayoutID
		}
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}

	if len(updates) == 0 {
		writeJSON(w, http.StatusOK, screen)
		return
	}

	if err := a.db.WithContext(r.Context()).Model(&screen).Updates(updates).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	if err := a.cache.InvalidateScreen(r.Context(), screenID); err != nil {
		a.logger.Debug().Err(err).Msg("screen invalidation failed")
	}

	a.publishAuditEvent(r, events.EventAuditScreenUpdate, events.Payload{
		"screen_id":     screenID,
		"resource_type": "screen",
		"resource_id":   screenID,
	})
	a.bus.Publish(events.EventScreenUpdated, events.Payload{"screen_id": screenID})

	a.db.WithContext(r.Context()).First(&screen, "id = ?", screenID)
	writeJSON(w, http.StatusOK, screen)
}

func (a *API) handleScreensDelete(w http.ResponseWriter, r *http.Request) {
	screenID := chi.URLParam(r, "screenID")

	var screen models.Screen
	result := a.db.WithContext(r.Context()).First(&screen, "id = ?", screenID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	// Tear down any running session first so the engine does not keep
	// driving a screen that no longer exists.
	if err := a.players.Unload(r.Context(), screenID); err != nil && !errors.Is(err, player.ErrNoSession) {
		a.logger.Warn().Err(err).Str("screen_id", screenID).Msg("session unload on delete failed")
	}

	tx := a.db.WithContext(r.Context()).Begin()
	if err := tx.Where("screen_id = ?", screenID).Delete(&models.ScheduleEntry{}).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if err := tx.Where("screen_id = ?", screenID).Delete(&models.PlayerState{}).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if err := tx.Delete(&screen).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	tx.Commit()

	if err := a.cache.InvalidateScreen(r.Context(), screenID); err != nil {
		a.logger.Debug().Err(err).Msg("screen invalidation failed")
	}

	a.publishAuditEvent(r, events.EventAuditScreenDelete, events.Payload{
		"screen_id":     screenID,
		"resource_type": "screen",
		"resource_id":   screenID,
		"name":          screen.Name,
	})
	a.bus.Publish(events.EventScreenDeleted, events.Payload{"screen_id": screenID})

	w.WriteHeader(http.StatusNoContent)
}

// handleScreenState reports what a screen is showing right now. The
// session may live on another node, so a local miss falls back to the
// shared state cache before declaring the screen idle.
func (a *API) handleScreenState(w http.ResponseWriter, r *http.Request) {
	screenID := chi.URLParam(r, "screenID")
	if !a.requireScreenClaim(w, r, screenID) {
		return
	}

	snap, err := a.players.Snapshot(screenID)
	if err == nil {
		writeJSON(w, http.StatusOK, snapshotResponse(screenID, snap))
		return
	}

	if state, ok := a.cache.GetScreenState(r.Context(), screenID); ok {
		writeJSON(w, http.StatusOK, state)
		return
	}

	var persisted models.PlayerState
	result := a.db.WithContext(r.Context()).First(&persisted, "screen_id = ?", screenID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"screen_id": screenID, "status": "idle"})
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"screen_id":   persisted.ScreenID,
		"status":      persisted.Status,
		"playlist_id": persisted.PlaylistID,
		"layout_id":   persisted.LayoutID,
		"cycle_count": persisted.CycleCount,
		"updated_at":  persisted.UpdatedAt,
	})
}
