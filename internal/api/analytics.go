/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/heimdall_signage/internal/analytics"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

// AddAnalyticsRoutes mounts the proof-of-play reporting endpoints.
func (a *API) AddAnalyticsRoutes(r chi.Router) {
	r.Route("/analytics", func(r chi.Router) {
		r.Get("/content", a.handleContentReport)
		r.Get("/screens", a.handleScreenReport)
		r.Get("/timeslots", a.handleTimeSlotReport)
		r.Get("/uptime", a.handleUptimeReport)
		// Maintenance endpoint to rebuild daily rollups.
		r.With(a.requireRoles(models.RoleAdmin)).Post("/aggregate", a.handleAggregateDaily)
	})
}

// reportRange parses start/end query params (2006-01-02), defaulting to
// the last 30 days. An explicit end date is inclusive.
func reportRange(r *http.Request) (time.Time, time.Time) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)

	if startStr := r.URL.Query().Get("start"); startStr != "" {
		if t, err := time.Parse("2006-01-02", startStr); err == nil {
			start = t
		}
	}
	if endStr := r.URL.Query().Get("end"); endStr != "" {
		if t, err := time.Parse("2006-01-02", endStr); err == nil {
			end = t.AddDate(0, 0, 1)
		}
	}
	return start, end
}

func (a *API) handleContentReport(w http.ResponseWriter, r *http.Request) {
	if a.analytics == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics_unavailable")
		return
	}
	start, end := reportRange(r)

	reports, err := a.analytics.ContentReport(r.Context(), analytics.ReportFilter{
		Start:    start,
		End:      end,
		ScreenID: r.URL.Query().Get("screen_id"),
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("content report failed")
		writeError(w, http.StatusInternalServerError, "report_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"start":   start.Format("2006-01-02"),
		"end":     end.Format("2006-01-02"),
		"content": reports,
	})
}

func (a *API) handleScreenReport(w http.ResponseWriter, r *http.Request) {
	if a.analytics == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics_unavailable")
		return
	}
	start, end := reportRange(r)

	reports, err := a.analytics.ScreenReport(r.Context(), start, end)
	if err != nil {
		a.logger.Error().Err(err).Msg("screen report failed")
		writeError(w, http.StatusInternalServerError, "report_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"start":   start.Format("2006-01-02"),
		"end":     end.Format("2006-01-02"),
		"screens": reports,
	})
}

func (a *API) handleTimeSlotReport(w http.ResponseWriter, r *http.Request) {
	if a.analytics == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics_unavailable")
		return
	}
	start, end := reportRange(r)

	slots, err := a.analytics.TimeSlotReport(r.Context(), analytics.ReportFilter{
		Start:    start,
		End:      end,
		ScreenID: r.URL.Query().Get("screen_id"),
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("time slot report failed")
		writeError(w, http.StatusInternalServerError, "report_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"start": start.Format("2006-01-02"),
		"end":   end.Format("2006-01-02"),
		"slots": slots,
	})
}

func (a *API) handleUptimeReport(w http.ResponseWriter, r *http.Request) {
	if a.analytics == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics_unavailable")
		return
	}
	start, end := reportRange(r)

	reports, err := a.analytics.ScreenUptime(r.Context(), r.URL.Query().Get("screen_id"), start, end)
	if err != nil {
		a.logger.Error().Err(err).Msg("uptime report failed")
		writeError(w, http.StatusInternalServerError, "report_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"start":  start.Format("2006-01-02"),
		"end":    end.Format("2006-01-02"),
		"uptime": reports,
	})
}

func (a *API) handleAggregateDaily(w http.ResponseWriter, r *http.Request) {
	if a.analytics == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics_unavailable")
		return
	}

	// Default: yesterday only (UTC).
	end := time.Now().UTC().AddDate(0, 0, -1)
	start := end

	if startStr := r.URL.Query().Get("start"); startStr != "" {
		if t, err := time.Parse("2006-01-02", startStr); err == nil {
			start = t
		}
	}
	if endStr := r.URL.Query().Get("end"); endStr != "" {
		if t, err := time.Parse("2006-01-02", endStr); err == nil {
			end = t
		}
	}

	// Safety cap: 366 days per request.
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	if endDay.Before(startDay) {
		startDay, endDay = endDay, startDay
	}
	if endDay.Sub(startDay) > 366*24*time.Hour {
		endDay = startDay.Add(366 * 24 * time.Hour)
	}

	if err := a.analytics.BackfillDaily(r.Context(), startDay, endDay); err != nil {
		a.logger.Error().Err(err).Msg("daily aggregation failed")
		writeError(w, http.StatusInternalServerError, "aggregation_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"start":  startDay.Format("2006-01-02"),
		"end":    endDay.Format("2006-01-02"),
	})
}
