/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/cache"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

type scheduleCreateRequest struct {
	ScreenID        string                  `json:"screen_id"`
	PlaylistID      string                  `json:"playlist_id"`
	Name            string                  `json:"name"`
	Color           string                  `json:"color"`
	RRule           string                  `json:"rrule"`
	DTStart         time.Time               `json:"dtstart"`
	DTEnd           *time.Time              `json:"dtend"`
	Timezone        string                  `json:"timezone"`
	DurationMinutes int                     `json:"duration_minutes"`
	Priority        models.SchedulePriority `json:"priority"`
	Metadata        map[string]any          `json:"metadata"`
}

type scheduleUpdateRequest struct {
	PlaylistID      *string                  `json:"playlist_id"`
	Name            *string                  `json:"name"`
	Color           *string                  `json:"color"`
	RRule           *string                  `json:"rrule"`
	DTStart         *time.Time               `json:"dtstart"`
	DTEnd           *time.Time               `json:"dtend"`
	ClearDTEnd      bool                     `json:"clear_dtend"`
	Timezone        *string                  `json:"timezone"`
	DurationMinutes *int                     `json:"duration_minutes"`
	Priority        *models.SchedulePriority `json:"priority"`
	Active          *bool                    `json:"active"`
	Metadata        map[string]any           `json:"metadata"`
}

// AddScheduleRoutes mounts schedule entry CRUD. The per-screen window
// projection lives under the screens route.
func (a *API) AddScheduleRoutes(r chi.Router) {
	r.Route("/schedules", func(r chi.Router) {
		r.Get("/", a.handleSchedulesList)
		r.Get("/applied", a.handleSchedulesApplied)
		r.Get("/export/ical", a.handleSchedulesExportICal)
		r.With(a.requireRoles(models.RoleAdmin, models.RoleEditor)).Post("/", a.handleSchedulesCreate)
		r.Route("/{entryID}", func(r chi.Router) {
			r.Get("/", a.handleSchedulesGet)
			r.With(a.requireRoles(models.RoleAdmin, models.RoleEditor)).Patch("/", a.handleSchedulesUpdate)
			r.With(a.requireRoles(models.RoleAdmin, models.RoleEditor)).Delete("/", a.handleSchedulesDelete)
		})
	})
}

func validateRecurrence(rule, timezone string) string {
	if _, err := time.LoadLocation(timezone); err != nil {
		return "invalid_timezone"
	}
	if rule != "" {
		if _, err := rrule.StrToRRule(rule); err != nil {
			return "invalid_rrule"
		}
	}
	return ""
}

func (a *API) handleSchedulesList(w http.ResponseWriter, r *http.Request) {
	query := a.db.WithContext(r.Context())
	if screenID := r.URL.Query().Get("screen_id"); screenID != "" {
		query = query.Where("screen_id = ?", screenID)
	}
	if active := r.URL.Query().Get("active"); active == "true" {
		query = query.Where("active = ?", true)
	}

	var entries []models.ScheduleEntry
	if err := query.Order("priority ASC, dt_start ASC").Find(&entries).Error; err != nil {
		a.logger.Error().Err(err).Msg("list schedules failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": entries})
}

func (a *API) handleSchedulesCreate(w http.ResponseWriter, r *http.Request) {
	var req scheduleCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	if req.DTStart.IsZero() {
		writeError(w, http.StatusBadRequest, "dtstart_required")
		return
	}
	if req.DTEnd != nil && !req.DTEnd.After(req.DTStart) {
		writeError(w, http.StatusBadRequest, "dtend_before_dtstart")
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = 60
	}
	if code := validateRecurrence(req.RRule, req.Timezone); code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}

	var screen models.Screen
	if err := a.db.WithContext(r.Context()).First(&screen, "id = ?", req.ScreenID).Error; err != nil {
		writeError(w, http.StatusBadRequest, "screen_not_found")
		return
	}
	var playlist models.Playlist
	if err := a.db.WithContext(r.Context()).First(&playlist, "id = ?", req.PlaylistID).Error; err != nil {
		writeError(w, http.StatusBadRequest, "playlist_not_found")
		return
	}

	entry := models.ScheduleEntry{
		ID:              uuid.NewString(),
		ScreenID:        req.ScreenID,
		PlaylistID:      req.PlaylistID,
		Name:            req.Name,
		Color:           req.Color,
		RRule:           req.RRule,
		DTStart:         req.DTStart,
		DTEnd:           req.DTEnd,
		Timezone:        req.Timezone,
		DurationMinutes: req.DurationMinutes,
		Priority:        req.Priority,
		Active:          true,
		Metadata:        req.Metadata,
	}
	if entry.Priority == 0 && req.Priority != models.PriorityEmergency {
		entry.Priority = models.PriorityRegular
	}

	if err := a.db.WithContext(r.Context()).Create(&entry).Error; err != nil {
		a.logger.Error().Err(err).Msg("create schedule entry failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.afterScheduleChange(r, entry.ScreenID, entry.ID, "create")
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleSchedulesGet(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")

	var entry models.ScheduleEntry
	result := a.db.WithContext(r.Context()).First(&entry, "id = ?", entryID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleSchedulesUpdate(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")

	var entry models.ScheduleEntry
	result := a.db.WithContext(r.Context()).First(&entry, "id = ?", entryID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var req scheduleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	timezone := entry.Timezone
	if req.Timezone != nil {
		timezone = *req.Timezone
	}
	rule := entry.RRule
	if req.RRule != nil {
		rule = *req.RRule
	}
	if code := validateRecurrence(rule, timezone); code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}

	updates := make(map[string]any)
	if req.PlaylistID != nil {
		var playlist models.Playlist
		if err := a.db.WithContext(r.Context()).First(&playlist, "id = ?", *req.PlaylistID).Error; err != nil {
			writeError(w, http.StatusBadRequest, "playlist_not_found")
			return
		}
		updates["playlist_id"] = *req.PlaylistID
	}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Color != nil {
		updates["color"] = *req.Color
	}
	if req.RRule != nil {
		updates["rrule"] = *req.RRule
	}
	if req.DTStart != nil {
		updates["dt_start"] = *req.DTStart
	}
	if req.ClearDTEnd {
		updates["dt_end"] = nil
	} else if req.DTEnd != nil {
		updates["dt_end"] = *req.DTEnd
	}
	if req.Timezone != nil {
		updates["timezone"] = *req.Timezone
	}
	if req.DurationMinutes != nil {
		if *req.DurationMinutes <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_duration")
			return
		}
		updates["duration_minutes"] = *req.DurationMinutes
	}
	if req.Priority != nil {
		updates["priority"] = *req.Priority
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if req.Metadata != nil {
		updates["metadata"] = req.Metadata
	}

	if len(updates) == 0 {
		writeJSON(w, http.StatusOK, entry)
		return
	}

	if err := a.db.WithContext(r.Context()).Model(&entry).Updates(updates).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	a.afterScheduleChange(r, entry.ScreenID, entry.ID, "update")

	a.db.WithContext(r.Context()).First(&entry, "id = ?", entryID)
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleSchedulesDelete(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")

	var entry models.ScheduleEntry
	result := a.db.WithContext(r.Context()).First(&entry, "id = ?", entryID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if err := a.db.WithContext(r.Context()).Delete(&entry).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.afterScheduleChange(r, entry.ScreenID, entry.ID, "delete")
	w.WriteHeader(http.StatusNoContent)
}

// afterScheduleChange invalidates the window projection and nudges the
// scheduler so the change lands on screen without waiting for the next
// tick. The schedule_update event also feeds the audit trail.
func (a *API) afterScheduleChange(r *http.Request, screenID, entryID, action string) {
	if err := a.cache.InvalidateWindows(r.Context(), screenID); err != nil {
		a.logger.Debug().Err(err).Msg("window invalidation failed")
	}

	payload := a.auditContext(r)
	payload["screen_id"] = screenID
	payload["resource_type"] = "schedule_entry"
	payload["resource_id"] = entryID
	payload["action"] = action
	a.bus.Publish(events.EventScheduleUpdate, payload)

	if err := a.scheduler.EvaluateScreen(r.Context(), screenID); err != nil {
		a.logger.Warn().Err(err).Str("screen_id", screenID).Msg("schedule re-evaluation failed")
	}
}

// handleScreenSchedule projects upcoming windows for one screen. Reads
// go through the shared cache so dashboard polling stays off the rrule
// expansion path.
func (a *API) handleScreenSchedule(w http.ResponseWriter, r *http.Request) {
	screenID := chi.URLParam(r, "screenID")
	if !a.requireScreenClaim(w, r, screenID) {
		return
	}

	var screen models.Screen
	result := a.db.WithContext(r.Context()).Select("id").First(&screen, "id = ?", screenID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 24*14 {
			writeError(w, http.StatusBadRequest, "invalid_hours")
			return
		}
		hours = parsed
	}

	if hours == 24 {
		if cached, ok := a.cache.GetWindows(r.Context(), screenID); ok {
			writeJSON(w, http.StatusOK, map[string]any{"screen_id": screenID, "windows": cached})
			return
		}
	}

	windows, err := a.scheduler.Upcoming(r.Context(), screenID, time.Now(), time.Duration(hours)*time.Hour)
	if err != nil {
		a.logger.Error().Err(err).Str("screen_id", screenID).Msg("window expansion failed")
		writeError(w, http.StatusInternalServerError, "schedule_error")
		return
	}

	cached := make([]cache.CachedWindow, 0, len(windows))
	for _, win := range windows {
		cached = append(cached, cache.CachedWindow{
			EntryID:    win.EntryID,
			PlaylistID: win.PlaylistID,
			Priority:   int(win.Priority),
			StartsAt:   win.StartsAt,
			EndsAt:     win.EndsAt,
		})
	}
	if hours == 24 {
		if err := a.cache.SetWindows(r.Context(), screenID, cached); err != nil {
			a.logger.Debug().Err(err).Msg("window cache write failed")
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"screen_id": screenID, "windows": cached})
}

func (a *API) handleSchedulesApplied(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"applied": a.scheduler.Applied()})
}

// handleSchedulesExportICal streams the schedule as an iCalendar file,
// optionally scoped to one screen via ?screen_id=.
func (a *API) handleSchedulesExportICal(w http.ResponseWriter, r *http.Request) {
	if a.schedExport == nil {
		writeError(w, http.StatusServiceUnavailable, "export_unavailable")
		return
	}

	result, err := a.schedExport.ExportICal(r.Context(), r.URL.Query().Get("screen_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "screen_not_found")
			return
		}
		a.logger.Error().Err(err).Msg("schedule export failed")
		writeError(w, http.StatusInternalServerError, "export_failed")
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(result.Data)
}
