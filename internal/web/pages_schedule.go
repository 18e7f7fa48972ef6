/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/scheduler"
)

// calendarEvent is the shape the calendar widget consumes.
type calendarEvent struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
	Color    string         `json:"color,omitempty"`
	Extended map[string]any `json:"extendedProps"`
}

// Colors used when an entry has none of its own; keyed by priority band
var priorityColors = map[models.SchedulePriority]string{
	models.PriorityEmergency: "#dc2626",
	models.PriorityCampaign:  "#d97706",
	models.PriorityRegular:   "#6366f1",
	models.PriorityFallback:  "#64748b",
}

// ScheduleCalendar renders the schedule page
func (h *Handler) ScheduleCalendar(w http.ResponseWriter, r *http.Request) {
	var screens []models.Screen
	h.db.Where("active = ?", true).Order("name ASC").Find(&screens)

	var playlists []models.Playlist
	h.db.Order("name ASC").Find(&playlists)

	h.Render(w, r, "pages/dashboard/schedule/calendar", PageData{
		Title: "Schedule",
		Data: map[string]any{
			"Screens":   screens,
			"Playlists": playlists,
			"ScreenID":  r.URL.Query().Get("screen_id"),
		},
	})
}

// parseCalendarTime accepts the formats the calendar widget sends for
// its visible range.
func parseCalendarTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

// ScheduleEvents returns the expanded occurrences inside the calendar's
// visible range as JSON. Expansion happens here rather than through the
// scheduler's lookahead so a month view works.
func (h *Handler) ScheduleEvents(w http.ResponseWriter, r *http.Request) {
	lo, err := parseCalendarTime(r.URL.Query().Get("start"))
	if err != nil {
		http.Error(w, "Invalid start", http.StatusBadRequest)
		return
	}
	hi, err := parseCalendarTime(r.URL.Query().Get("end"))
	if err != nil || !hi.After(lo) {
		http.Error(w, "Invalid end", http.StatusBadRequest)
		return
	}
	// Cap the range so a hostile request cannot force unbounded
	// recurrence expansion.
	if hi.Sub(lo) > 93*24*time.Hour {
		hi = lo.Add(93 * 24 * time.Hour)
	}

	query := h.db.Where("active = ?", true)
	if screenID := r.URL.Query().Get("screen_id"); screenID != "" {
		query = query.Where("screen_id = ?", screenID)
	}

	var entries []models.ScheduleEntry
	if err := query.Find(&entries).Error; err != nil {
		http.Error(w, "Failed to load schedule", http.StatusInternalServerError)
		return
	}

	screenNames := make(map[string]string)
	var screens []models.Screen
	h.db.Select("id, name").Find(&screens)
	for _, s := range screens {
		screenNames[s.ID] = s.Name
	}

	out := make([]calendarEvent, 0, len(entries))
	for _, entry := range entries {
		windows, err := scheduler.ExpandEntry(entry, lo.UTC(), hi.UTC())
		if err != nil {
			h.logger.Warn().Err(err).Str("entry_id", entry.ID).Msg("calendar expansion failed")
			continue
		}

		color := entry.Color
		if color == "" {
			color = priorityColors[entry.Priority]
		}
		title := entry.Name
		if name := screenNames[entry.ScreenID]; name != "" {
			title = entry.Name + " @ " + name
		}

		// The edit form is filled from these props client-side, so the
		// entry's own fields ride along with every occurrence.
		props := map[string]any{
			"entry_id":         entry.ID,
			"name":             entry.Name,
			"screen_id":        entry.ScreenID,
			"playlist_id":      entry.PlaylistID,
			"priority":         int(entry.Priority),
			"rrule":            entry.RRule,
			"color":            entry.Color,
			"timezone":         entry.Timezone,
			"duration_minutes": entry.DurationMinutes,
			"dtstart":          entry.DTStart.Format(time.RFC3339),
			"active":           entry.Active,
		}
		if entry.DTEnd != nil {
			props["dtend"] = entry.DTEnd.Format(time.RFC3339)
		}

		for i, win := range windows {
			out = append(out, calendarEvent{
				ID:       entry.ID + ":" + strconv.Itoa(i),
				Title:    title,
				Start:    win.StartsAt,
				End:      win.EndsAt,
				Color:    color,
				Extended: props,
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode calendar events")
	}
}

// ScheduleScreensJSON lists screens for the calendar filter dropdown
func (h *Handler) ScheduleScreensJSON(w http.ResponseWriter, r *http.Request) {
	var screens []models.Screen
	h.db.Select("id, name").Where("active = ?", true).Order("name ASC").Find(&screens)

	type row struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	rows := make([]row, 0, len(screens))
	for _, s := range screens {
		rows = append(rows, row{ID: s.ID, Name: s.Name})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

// SchedulePlaylistsJSON lists playlists for the entry form
func (h *Handler) SchedulePlaylistsJSON(w http.ResponseWriter, r *http.Request) {
	var playlists []models.Playlist
	h.db.Select("id, name").Order("name ASC").Find(&playlists)

	type row struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	rows := make([]row, 0, len(playlists))
	for _, p := range playlists {
		rows = append(rows, row{ID: p.ID, Name: p.Name})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

// scheduleEntryFromForm builds the entry fields shared by create and
// update. Times typed into the form carry no zone, so they are read in
// the entry's own timezone and stored as UTC.
func scheduleEntryFromForm(r *http.Request, entry *models.ScheduleEntry) (string, int) {
	if name := r.FormValue("name"); name != "" {
		entry.Name = name
	}
	if entry.Name == "" {
		return "Name is required", http.StatusBadRequest
	}

	entry.Color = r.FormValue("color")

	timezone := r.FormValue("timezone")
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return "Unknown timezone", http.StatusBadRequest
	}
	entry.Timezone = timezone

	if raw := r.FormValue("dtstart"); raw != "" {
		start, err := time.ParseInLocation("2006-01-02T15:04", raw, loc)
		if err != nil {
			return "Invalid start time", http.StatusBadRequest
		}
		entry.DTStart = start.UTC()
	}
	if entry.DTStart.IsZero() {
		return "Start time is required", http.StatusBadRequest
	}

	if raw := r.FormValue("dtend"); raw != "" {
		end, err := time.ParseInLocation("2006-01-02T15:04", raw, loc)
		if err != nil {
			return "Invalid end time", http.StatusBadRequest
		}
		utc := end.UTC()
		if !utc.After(entry.DTStart) {
			return "End must be after start", http.StatusBadRequest
		}
		entry.DTEnd = &utc
	} else {
		entry.DTEnd = nil
	}

	entry.RRule = r.FormValue("rrule")
	if entry.RRule != "" {
		if _, err := rrule.StrToRRule(entry.RRule); err != nil {
			return "Invalid recurrence rule", http.StatusBadRequest
		}
	}

	if raw := r.FormValue("duration_minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			return "Invalid duration", http.StatusBadRequest
		}
		entry.DurationMinutes = minutes
	}
	if entry.DurationMinutes <= 0 {
		entry.DurationMinutes = 60
	}

	if raw := r.FormValue("priority"); raw != "" {
		priority, err := strconv.Atoi(raw)
		if err != nil || priority < 0 {
			return "Invalid priority", http.StatusBadRequest
		}
		entry.Priority = models.SchedulePriority(priority)
	}

	return "", 0
}

// ScheduleCreateEntry handles schedule entry creation
func (h *Handler) ScheduleCreateEntry(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	screenID := r.FormValue("screen_id")
	playlistID := r.FormValue("playlist_id")

	var screen models.Screen
	if err := h.db.First(&screen, "id = ?", screenID).Error; err != nil {
		http.Error(w, "Screen not found", http.StatusBadRequest)
		return
	}
	var playlist models.Playlist
	if err := h.db.First(&playlist, "id = ?", playlistID).Error; err != nil {
		http.Error(w, "Playlist not found", http.StatusBadRequest)
		return
	}

	entry := models.ScheduleEntry{
		ID:         uuid.New().String(),
		ScreenID:   screenID,
		PlaylistID: playlistID,
		Priority:   models.PriorityRegular,
		Active:     true,
	}
	if msg, code := scheduleEntryFromForm(r, &entry); msg != "" {
		http.Error(w, msg, code)
		return
	}

	if err := h.db.Create(&entry).Error; err != nil {
		h.logger.Error().Err(err).Msg("failed to create schedule entry")
		http.Error(w, "Failed to create entry", http.StatusInternalServerError)
		return
	}

	h.afterScheduleChange(r, entry.ScreenID, entry.ID, "create")

	if r.Header.Get("HX-Request") == "true" {
		// The calendar refetches its event feed on this trigger
		w.Header().Set("HX-Trigger", "scheduleChanged")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	http.Redirect(w, r, "/dashboard/schedule", http.StatusSeeOther)
}

// ScheduleUpdateEntry handles schedule entry edits
func (h *Handler) ScheduleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var entry models.ScheduleEntry
	if err := h.db.First(&entry, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	if playlistID := r.FormValue("playlist_id"); playlistID != "" && playlistID != entry.PlaylistID {
		var playlist models.Playlist
		if err := h.db.First(&playlist, "id = ?", playlistID).Error; err != nil {
			http.Error(w, "Playlist not found", http.StatusBadRequest)
			return
		}
		entry.PlaylistID = playlistID
	}

	if msg, code := scheduleEntryFromForm(r, &entry); msg != "" {
		http.Error(w, msg, code)
		return
	}
	entry.Active = r.FormValue("active") == "on"

	if err := h.db.Save(&entry).Error; err != nil {
		http.Error(w, "Failed to update entry", http.StatusInternalServerError)
		return
	}

	h.afterScheduleChange(r, entry.ScreenID, entry.ID, "update")

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Trigger", "scheduleChanged")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	http.Redirect(w, r, "/dashboard/schedule", http.StatusSeeOther)
}

// ScheduleDeleteEntry handles schedule entry deletion
func (h *Handler) ScheduleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var entry models.ScheduleEntry
	if err := h.db.First(&entry, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	if err := h.db.Delete(&entry).Error; err != nil {
		http.Error(w, "Failed to delete entry", http.StatusInternalServerError)
		return
	}

	h.afterScheduleChange(r, entry.ScreenID, entry.ID, "delete")

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Trigger", "scheduleChanged")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	http.Redirect(w, r, "/dashboard/schedule", http.StatusSeeOther)
}

// afterScheduleChange nudges the scheduler so the edit lands on screen
// without waiting for the next tick. The event also reaches the cache
// invalidation listener and the audit trail.
func (h *Handler) afterScheduleChange(r *http.Request, screenID, entryID, action string) {
	h.eventBus.Publish(events.EventScheduleUpdate, events.Payload{
		"screen_id":     screenID,
		"resource_type": "schedule_entry",
		"resource_id":   entryID,
		"action":        action,
	})

	if h.scheduler == nil {
		return
	}
	if err := h.scheduler.EvaluateScreen(r.Context(), screenID); err != nil {
		h.logger.Warn().Err(err).Str("screen_id", screenID).Msg("schedule re-evaluation failed")
	}
}
