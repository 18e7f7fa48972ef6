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
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

type playlistCreateRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	LayoutID    string              `json:"layout_id"`
	Assignments []assignmentRequest `json:"assignments"`
}

type assignmentRequest struct {
	RegionID string         `json:"region_id"`
	Entries  []entryRequest `json:"entries"`
}

type entryRequest struct {
	ContentItemID           string  `json:"content_item_id"`
	DurationOverrideSeconds float64 `json:"duration_override_seconds"`
}

type playlistUpdateRequest struct {
	Name        *string              `json:"name"`
	Description *string              `json:"description"`
	Assignments *[]assignmentRequest `json:"assignments"`
}

// AddPlaylistRoutes mounts playlist CRUD under /playlists.
func (a *API) AddPlaylistRoutes(r chi.Router) {
	r.Route("/playlists", func(r chi.Router) {
		r.Get("/", a.handlePlaylistsList)
		r.With(a.requireRoles(models.RoleAdmin, models.RoleEditor)).Post("/", a.handlePlaylistsCreate)
		r.Route("/{playlistID}", func(r chi.Router) {
			r.Get("/", a.handlePlaylistsGet)
			r.With(a.requireRoles(models.RoleAdmin, models.RoleEditor)).Patch("/", a.handlePlaylistsUpdate)
			r.With(a.requireRoles(models.RoleAdmin, models.RoleEditor)).Delete("/", a.handlePlaylistsDelete)
		})
	})
}

// checkAssignments validates region and content references against the
// playlist's layout. Returns an error code, or "" when valid.
func (a *API) checkAssignments(r *http.Request, layoutID string, assignments []assignmentRequest) string {
	var regions []models.Region
	if err := a.db.WithContext(r.Context()).Where("layout_id = ?", layoutID).Find(&regions).Error; err != nil {
		return "db_error"
	}
	validRegion := make(map[string]bool, len(regions))
	for _, region := range regions {
		validRegion[region.ID] = true
	}

	seen := make(map[string]bool, len(assignments))
	for _, assignment := range assignments {
		if !validRegion[assignment.RegionID] {
			return "region_not_in_layout"
		}
		if seen[assignment.RegionID] {
			return "duplicate_region_assignment"
		}
		seen[assignment.RegionID] = true

		for _, entry := range assignment.Entries {
			var count int64
			a.db.WithContext(r.Context()).Model(&models.ContentItem{}).Where("id = ?", entry.ContentItemID).Count(&count)
			if count == 0 {
				return "content_not_found"
			}
			if entry.DurationOverrideSeconds < 0 {
				return "invalid_duration_override"
			}
		}
	}
	return ""
}

func buildAssignments(playlistID string, reqs []assignmentRequest) []models.Assignment {
	assignments := make([]models.Assignment, 0, len(reqs))
	for _, req := range reqs {
		assignment := models.Assignment{
			ID:         uuid.NewString(),
			PlaylistID: playlistID,
			RegionID:   req.RegionID,
		}
		for i, e := range req.Entries {
			assignment.Entries = append(assignment.Entries, models.AssignmentEntry{
				ID:               uuid.NewString(),
				AssignmentID:     assignment.ID,
				ContentItemID:    e.ContentItemID,
				Position:         i,
				DurationOverride: time.Duration(e.DurationOverrideSeconds * float64(time.Second)),
			})
		}
		assignments = append(assignments, assignment)
	}
	return assignments
}

func (a *API) handlePlaylistsList(w http.ResponseWriter, r *http.Request) {
	query := a.db.WithContext(r.Context()).Preload("Assignments.Entries")
	if layoutID := r.URL.Query().Get("layout_id"); layoutID != "" {
		query = query.Where("layout_id = ?", layoutID)
	}

	var playlists []models.Playlist
	if err := query.Order("name ASC").Find(&playlists).Error; err != nil {
		a.logger.Error().Err(err).Msg("list playlists failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playlists": playlists})
}

func (a *API) handlePlaylistsCreate(w http.ResponseWriter, r *http.Request) {
	var req playlistCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	if req.LayoutID == "" {
		writeError(w, http.StatusBadRequest, "layout_required")
		return
	}

	var layout models.Layout
	if err := a.db.WithContext(r.Context()).First(&layout, "id = ?", req.LayoutID).Error; err != nil {
		writeError(w, http.StatusBadRequest, "layout_not_found")
		return
	}

	if code := a.checkAssignments(r, req.LayoutID, req.Assignments); code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}

	playlist := models.Playlist{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		LayoutID:    req.LayoutID,
		Assignments: buildAssignments("", req.Assignments),
	}
	for i := range playlist.Assignments {
		playlist.Assignments[i].PlaylistID = playlist.ID
	}

	if err := a.db.WithContext(r.Context()).Create(&playlist).Error; err != nil {
		a.logger.Error().Err(err).Msg("create playlist failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.bus.Publish(events.EventPlaylistCreated, events.Payload{
		"playlist_id": playlist.ID,
		"name":        playlist.Name,
	})

	a.logger.Info().
		Str("playlist_id", playlist.ID).
		Int("assignments", len(playlist.Assignments)).
		Msg("playlist created")

	writeJSON(w, http.StatusCreated, playlist)
}

func (a *API) handlePlaylistsGet(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlistID")

	var playlist models.Playlist
	result := a.db.WithContext(r.Context()).Preload("Assignments.Entries").First(&playlist, "id = ?", playlistID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, playlist)
}

func (a *API) handlePlaylistsUpdate(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlistID")

	var playlist models.Playlist
	result := a.db.WithContext(r.Context()).First(&playlist, "id = ?", playlistID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var req playlistUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.Assignments != nil {
		if code := a.checkAssignments(r, playlist.LayoutID, *req.Assignments); code != "" {
			writeError(w, http.StatusBadRequest, code)
			return
		}
	}

	tx := a.db.WithContext(r.Context()).Begin()
	if tx.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	updates := make(map[string]any)
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if len(updates) > 0 {
		if err := tx.Model(&playlist).Updates(updates).Error; err != nil {
			tx.Rollback()
			writeError(w, http.StatusInternalServerError, "update_failed")
			return
		}
	}

	if req.Assignments != nil {
		// Assignments are replaced wholesale; partial edits come back
		// as the full desired state from the editor UI.
		var oldIDs []string
		if err := tx.Model(&models.Assignment{}).Where("playlist_id = ?", playlistID).Pluck("id", &oldIDs).Error; err != nil {
			tx.Rollback()
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if len(oldIDs) > 0 {
			if err := tx.Where("assignment_id IN ?", oldIDs).Delete(&models.AssignmentEntry{}).Error; err != nil {
				tx.Rollback()
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			if err := tx.Where("playlist_id = ?", playlistID).Delete(&models.Assignment{}).Error; err != nil {
				tx.Rollback()
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
		}
		for _, assignment := range buildAssignments(playlistID, *req.Assignments) {
			if err := tx.Create(&assignment).Error; err != nil {
				tx.Rollback()
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
		}
	}

	if err := tx.Commit().Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if err := a.cache.InvalidatePlaylist(r.Context(), playlistID); err != nil {
		a.logger.Debug().Err(err).Msg("playlist invalidation failed")
	}
	a.bus.Publish(events.EventPlaylistUpdated, events.Payload{"playlist_id": playlistID})

	a.db.WithContext(r.Context()).Preload("Assignments.Entries").First(&playlist, "id = ?", playlistID)
	writeJSON(w, http.StatusOK, playlist)
}

func (a *API) handlePlaylistsDelete(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlistID")

	var playlist models.Playlist
	result := a.db.WithContext(r.Context()).First(&playlist, "id = ?", playlistID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var scheduleCount int64
	a.db.WithContext(r.Context()).Model(&models.ScheduleEntry{}).Where("playlist_id = ?", playlistID).Count(&scheduleCount)
	if scheduleCount > 0 {
		writeError(w, http.StatusConflict, "playlist_in_use")
		return
	}

	tx := a.db.WithContext(r.Context()).Begin()
	if tx.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var oldIDs []string
	tx.Model(&models.Assignment{}).Where("playlist_id = ?", playlistID).Pluck("id", &oldIDs)
	if len(oldIDs) > 0 {
		if err := tx.Where("assignment_id IN ?", oldIDs).Delete(&models.AssignmentEntry{}).Error; err != nil {
			tx.Rollback()
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
	}
	if err := tx.Where("playlist_id = ?", playlistID).Delete(&models.Assignment{}).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if err := tx.Delete(&playlist).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if err := tx.Commit().Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if err := a.cache.InvalidatePlaylist(r.Context(), playlistID); err != nil {
		a.logger.Debug().Err(err).Msg("playlist invalidation failed")
	}
	a.bus.Publish(events.EventPlaylistDeleted, events.Payload{"playlist_id": playlistID})

	w.WriteHeader(http.StatusNoContent)
}
