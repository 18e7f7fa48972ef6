/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/heimdall_signage/internal/audit"
	"github.com/friendsincode/heimdall_signage/internal/logbuffer"
	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/version"
)

// SystemStatus reports the health of each backing component.
type SystemStatus struct {
	Database  ComponentStatus `json:"database"`
	Storage   ComponentStatus `json:"storage"`
	Scheduler ComponentStatus `json:"scheduler"`
	Sessions  int             `json:"sessions"`
	Streams   map[string]any  `json:"streams,omitempty"`
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
}

// ComponentStatus is one component's health snapshot.
type ComponentStatus struct {
	Status  string `json:"status"` // "ok", "error", "unavailable"
	Message string `json:"message,omitempty"`
}

// AddSystemRoutes mounts diagnostics and the audit query endpoint.
func (a *API) AddSystemRoutes(r chi.Router) {
	r.Route("/system", func(r chi.Router) {
		r.Use(a.requireRoles(models.RoleAdmin))
		r.Get("/status", a.handleSystemStatus)
		r.Get("/logs", a.handleSystemLogs)
		r.Get("/logs/components", a.handleLogComponents)
		r.Get("/logs/stats", a.handleLogStats)
		r.Delete("/logs", a.handleClearLogs)
	})

	r.With(a.requireRoles(models.RoleAdmin)).Get("/audit", a.handleAuditQuery)
}

// addScreenLogRoutes registers log views relative to
// /screens/{screenID}.
func (a *API) addScreenLogRoutes(r chi.Router) {
	r.Route("/logs", func(r chi.Router) {
		r.Get("/", a.handleScreenLogs)
		r.Get("/stats", a.handleScreenLogStats)
	})
}

func (a *API) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := SystemStatus{
		Version:   version.Version,
		Timestamp: time.Now().UTC(),
	}

	sqlDB, err := a.db.DB()
	if err != nil {
		status.Database = ComponentStatus{Status: "error", Message: err.Error()}
	} else if err := sqlDB.PingContext(ctx); err != nil {
		status.Database = ComponentStatus{Status: "error", Message: err.Error()}
	} else {
		status.Database = ComponentStatus{Status: "ok", Message: "Connected"}
	}

	if a.media != nil {
		if err := a.media.CheckStorageAccess(); err != nil {
			status.Storage = ComponentStatus{Status: "error", Message: err.Error()}
		} else {
			status.Storage = ComponentStatus{Status: "ok", Message: "Accessible"}
		}
	} else {
		status.Storage = ComponentStatus{Status: "unavailable", Message: "Media service not available"}
	}

	if a.scheduler != nil {
		status.Scheduler = ComponentStatus{Status: "ok"}
	} else {
		status.Scheduler = ComponentStatus{Status: "unavailable", Message: "Scheduler not running on this node"}
	}

	if a.players != nil {
		status.Sessions = len(a.players.Sessions())
		streams := a.players.StreamStates()
		if len(streams) > 0 {
			status.Streams = make(map[string]any, len(streams))
			for id, st := range streams {
				status.Streams[id] = st
			}
		}
	}

	writeJSON(w, http.StatusOK, status)
}

func logParamsFromQuery(r *http.Request) logbuffer.QueryParams {
	params := logbuffer.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		Search:     r.URL.Query().Get("search"),
		Descending: true,
	}

	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			params.Since = t
		}
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	} else {
		params.Limit = 500
	}

	if order := r.URL.Query().Get("order"); order == "asc" {
		params.Descending = false
	}
	return params
}

func (a *API) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Log buffer not available"})
		return
	}

	entries := a.logBuffer.Query(logParamsFromQuery(r))

	// Resolve screen names so the dashboard can label entries without
	// a second round trip.
	screenIDs := make(map[string]bool)
	for _, entry := range entries {
		if sid, ok := entry.Fields["screen_id"].(string); ok && sid != "" {
			screenIDs[sid] = true
		}
	}
	screenNames := make(map[string]string)
	if len(screenIDs) > 0 {
		ids := make([]string, 0, len(screenIDs))
		for id := range screenIDs {
			ids = append(ids, id)
		}
		var screens []models.Screen
		a.db.Select("id", "name").Where("id IN ?", ids).Find(&screens)
		for _, s := range screens {
			screenNames[s.ID] = s.Name
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries":      entries,
		"count":        len(entries),
		"screen_names": screenNames,
	})
}

func (a *API) handleLogComponents(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Log buffer not available"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"components": a.logBuffer.GetComponents()})
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Log buffer not available"})
		return
	}
	writeJSON(w, http.StatusOK, a.logBuffer.Stats())
}

func (a *API) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Log buffer not available"})
		return
	}
	a.logBuffer.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Log buffer cleared"})
}

// handleScreenLogs narrows the ring buffer to entries tagged with one
// screen. Device tokens only see their own screen's logs.
func (a *API) handleScreenLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Log buffer not available"})
		return
	}

	screenID := chi.URLParam(r, "screenID")
	if !a.requireScreenClaim(w, r, screenID) {
		return
	}

	params := logParamsFromQuery(r)
	params.ScreenID = screenID
	entries := a.logBuffer.Query(params)

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleScreenLogStats(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Log buffer not available"})
		return
	}

	screenID := chi.URLParam(r, "screenID")
	if !a.requireScreenClaim(w, r, screenID) {
		return
	}

	writeJSON(w, http.StatusOK, a.logBuffer.StatsForScreen(screenID))
}

func auditFiltersFromQuery(r *http.Request) audit.QueryFilters {
	var filters audit.QueryFilters

	if v := r.URL.Query().Get("user_id"); v != "" {
		filters.UserID = &v
	}
	if v := r.URL.Query().Get("screen_id"); v != "" {
		filters.ScreenID = &v
	}
	if v := r.URL.Query().Get("action"); v != "" {
		action := models.AuditAction(v)
		filters.Action = &action
	}
	if v := r.URL.Query().Get("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.StartTime = &t
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.EndTime = &t
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filters.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filters.Offset = n
		}
	}
	return filters
}

func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	filters := auditFiltersFromQuery(r)

	logs, total, err := a.auditSvc.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("audit query failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": logs,
		"total":   total,
	})
}
