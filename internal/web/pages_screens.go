/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/friendsincode/heimdall_signage/internal/engine"
	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/player"
)

// ScreenList renders the screen overview
func (h *Handler) ScreenList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	location := r.URL.Query().Get("location")

	dbQuery := h.db.Model(&models.Screen{})
	if query != "" {
		pattern := "%" + strings.ToLower(query) + "%"
		dbQuery = dbQuery.Where("LOWER(name) LIKE ? OR LOWER(location) LIKE ?", pattern, pattern)
	}
	if location != "" {
		dbQuery = dbQuery.Where("location = ?", location)
	}

	var screens []models.Screen
	dbQuery.Order("name ASC").Find(&screens)

	// Distinct locations for the filter dropdown
	var locations []string
	h.db.Model(&models.Screen{}).
		Where("location != ''").
		Distinct().
		Pluck("location", &locations)

	online := h.onlineScreens()

	h.Render(w, r, "pages/dashboard/screens/list", PageData{
		Title: "Screens",
		Data: map[string]any{
			"Screens":   screens,
			"Online":    online,
			"Query":     query,
			"Location":  location,
			"Locations": locations,
		},
	})
}

// onlineScreens returns the set of screen IDs with a live player channel.
func (h *Handler) onlineScreens() map[string]bool {
	online := make(map[string]bool)
	if h.players == nil {
		return online
	}
	for _, s := range h.players.Sessions() {
		if s.Online {
			online[s.ScreenID] = true
		}
	}
	return online
}

// ScreenCreate handles the new screen form submission
func (h *Handler) ScreenCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}

	orientation := models.Orientation(r.FormValue("orientation"))
	if orientation != models.OrientationPortrait {
		orientation = models.OrientationLandscape
	}

	width, _ := strconv.Atoi(r.FormValue("width"))
	height, _ := strconv.Atoi(r.FormValue("height"))
	if width <= 0 {
		width = 1920
	}
	if height <= 0 {
		height = 1080
	}

	timezone := r.FormValue("timezone")
	if timezone == "" {
		timezone = "UTC"
	}

	screen := models.Screen{
		ID:          uuid.New().String(),
		Name:        name,
		Description: r.FormValue("description"),
		Location:    strings.TrimSpace(r.FormValue("location")),
		Orientation: orientation,
		Width:       width,
		Height:      height,
		Timezone:    timezone,
		Active:      true,
	}
	if layoutID := r.FormValue("default_layout_id"); layoutID != "" {
		screen.DefaultLayoutID = &layoutID
	}

	if err := h.db.Create(&screen).Error; err != nil {
		h.logger.Error().Err(err).Msg("failed to create screen")
		http.Error(w, "Failed to create screen", http.StatusInternalServerError)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/screens/"+screen.ID)
		return
	}
	http.Redirect(w, r, "/dashboard/screens/"+screen.ID, http.StatusSeeOther)
}

// ScreenDetail renders one screen with its live status and schedule.
func (h *Handler) ScreenDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var screen models.Screen
	if err := h.db.First(&screen, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	var layouts []models.Layout
	h.db.Order("name ASC").Find(&layouts)

	var playlists []models.Playlist
	h.db.Order("name ASC").Find(&playlists)

	var entries []models.ScheduleEntry
	h.db.Where("screen_id = ?", id).Order("dt_start ASC").Find(&entries)

	data := map[string]any{
		"Screen":    screen,
		"Layouts":   layouts,
		"Playlists": playlists,
		"Entries":   entries,
		"ShellPath": "/player/" + screen.ID,
	}

	if screen.DefaultLayoutID != nil {
		for _, l := range layouts {
			if l.ID == *screen.DefaultLayoutID {
				data["DefaultLayoutName"] = l.Name
				break
			}
		}
	}

	if h.players != nil {
		if snap, err := h.players.Snapshot(screen.ID); err == nil {
			data["Snapshot"] = snap
		}
	}

	h.Render(w, r, "pages/dashboard/screens/detail", PageData{
		Title: screen.Name,
		Data:  data,
	})
}

// ScreenStatusPartial renders the live status fragment (for HTMX polling).
func (h *Handler) ScreenStatusPartial(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	data := map[string]any{"ScreenID": id}
	if h.players != nil {
		if snap, err := h.players.Snapshot(id); err == nil {
			data["Snapshot"] = snap
		}
	}

	h.RenderPartial(w, r, "partials/screen-status", data)
}

// ScreenEdit renders the screen edit form
func (h *Handler) ScreenEdit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var screen models.Screen
	if err := h.db.First(&screen, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	var layouts []models.Layout
	h.db.Order("name ASC").Find(&layouts)

	defaultLayoutID := ""
	if screen.DefaultLayoutID != nil {
		defaultLayoutID = *screen.DefaultLayoutID
	}

	h.Render(w, r, "pages/dashboard/screens/edit", PageData{
		Title: "Edit: " + screen.Name,
		Data: map[string]any{
			"Screen":          screen,
			"Layouts":         layouts,
			"DefaultLayoutID": defaultLayoutID,
		},
	})
}

// ScreenUpdate handles screen edits
func (h *Handler) ScreenUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var screen models.Screen
	if err := h.db.First(&screen, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	screen.Name = strings.TrimSpace(r.FormValue("name"))
	screen.Description = r.FormValue("description")
	screen.Location = strings.TrimSpace(r.FormValue("location"))
	if o := models.Orientation(r.FormValue("orientation")); o == models.OrientationPortrait || o == models.OrientationLandscape {
		screen.Orientation = o
	}
	if width, err := strconv.Atoi(r.FormValue("width")); err == nil && width > 0 {
		screen.Width = width
	}
	if height, err := strconv.Atoi(r.FormValue("height")); err == nil && height > 0 {
		screen.Height = height
	}
	if tz := r.FormValue("timezone"); tz != "" {
		screen.Timezone = tz
	}
	if layoutID := r.FormValue("default_layout_id"); layoutID != "" {
		screen.DefaultLayoutID = &layoutID
	} else {
		screen.DefaultLayoutID = nil
	}
	screen.Active = r.FormValue("active") == "on"

	if err := h.db.Save(&screen).Error; err != nil {
		http.Error(w, "Failed to update screen", http.StatusInternalServerError)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/screens/"+id)
		return
	}
	http.Redirect(w, r, "/dashboard/screens/"+id, http.StatusSeeOther)
}

// ScreenDelete removes a screen and its schedule.
func (h *Handler) ScreenDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var screen models.Screen
	if err := h.db.First(&screen, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	if h.players != nil {
		if err := h.players.Unload(r.Context(), id); err != nil && !errors.Is(err, player.ErrNoSession) {
			h.logger.Warn().Err(err).Str("screen_id", id).Msg("session unload before delete failed")
		}
	}

	if err := h.db.Where("screen_id = ?", id).Delete(&models.ScheduleEntry{}).Error; err != nil {
		h.logger.Warn().Err(err).Str("screen_id", id).Msg("failed to delete screen schedule")
	}
	if err := h.db.Delete(&models.Screen{}, "id = ?", id).Error; err != nil {
		http.Error(w, "Failed to delete screen", http.StatusInternalServerError)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/screens")
		return
	}
	http.Redirect(w, r, "/dashboard/screens", http.StatusSeeOther)
}

// ScreenPlayerAction drives the hosted playback session from the
// dashboard: load, play, pause, stop, unload.
func (h *Handler) ScreenPlayerAction(w http.ResponseWriter, r *http.Request) {
	if h.players == nil {
		http.Error(w, "Playback unavailable", http.StatusServiceUnavailable)
		return
	}

	id := chi.URLParam(r, "id")
	action := chi.URLParam(r, "action")

	var err error
	switch action {
	case "load":
		if parseErr := r.ParseForm(); parseErr != nil {
			http.Error(w, "Invalid form", http.StatusBadRequest)
			return
		}
		playlistID := r.FormValue("playlist_id")
		if playlistID == "" {
			http.Error(w, "Playlist required", http.StatusBadRequest)
			return
		}
		err = h.players.Load(r.Context(), id, playlistID)
	case "play":
		err = h.players.Play(id)
	case "pause":
		err = h.players.Pause(id)
	case "stop":
		err = h.players.Stop(id)
	case "unload":
		err = h.players.Unload(r.Context(), id)
	default:
		http.Error(w, "Unknown action", http.StatusBadRequest)
		return
	}

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, player.ErrNoSession) || errors.Is(err, engine.ErrNotLoaded) {
			status = http.StatusConflict
		}
		h.logger.Error().Err(err).Str("screen_id", id).Str("action", action).Msg("player action failed")
		http.Error(w, err.Error(), status)
		return
	}

	h.logger.Info().Str("screen_id", id).Str("action", action).Msg("player action")

	if r.Header.Get("HX-Request") == "true" {
		// Let the status poller pick up the new state.
		w.Header().Set("HX-Trigger", "playerStateChanged")
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, "/dashboard/screens/"+id, http.StatusSeeOther)
}
