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

	"github.com/friendsincode/heimdall_signage/internal/analytics"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

// reportRange reads the period selector shared by the report endpoints.
// Defaults to the last 7 days.
func reportRange(r *http.Request) (time.Time, time.Time) {
	end := time.Now().UTC()
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 1 && parsed <= 365 {
			days = parsed
		}
	}
	start := end.AddDate(0, 0, -days)

	if raw := r.URL.Query().Get("start"); raw != "" {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			start = t
		}
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			// Date-only end means through the end of that day
			end = t.AddDate(0, 0, 1)
		}
	}
	return start, end
}

// AnalyticsOverview renders the proof-of-play reports page
func (h *Handler) AnalyticsOverview(w http.ResponseWriter, r *http.Request) {
	start, end := reportRange(r)

	var screens []models.Screen
	h.db.Select("id, name").Order("name ASC").Find(&screens)

	// Headline numbers for the period
	var totalPlays int64
	var totalSeconds int64
	h.db.Model(&models.PlayLog{}).
		Where("started_at >= ? AND started_at < ?", start, end).
		Count(&totalPlays)
	// Durations are stored as nanoseconds
	h.db.Model(&models.PlayLog{}).
		Where("started_at >= ? AND started_at < ?", start, end).
		Select("COALESCE(SUM(duration) / 1000000000, 0)").
		Scan(&totalSeconds)

	h.Render(w, r, "pages/dashboard/analytics/overview", PageData{
		Title: "Analytics",
		Data: map[string]any{
			"Screens":      screens,
			"ScreenID":     r.URL.Query().Get("screen_id"),
			"Start":        start,
			"End":          end,
			"Days":         r.URL.Query().Get("days"),
			"TotalPlays":   totalPlays,
			"TotalSeconds": totalSeconds,
		},
	})
}

func (h *Handler) analyticsUnavailable(w http.ResponseWriter) bool {
	if h.proofOfPlay == nil {
		http.Error(w, "Analytics unavailable", http.StatusServiceUnavailable)
		return true
	}
	return false
}

// AnalyticsContentJSON returns per-content play totals
func (h *Handler) AnalyticsContentJSON(w http.ResponseWriter, r *http.Request) {
	if h.analyticsUnavailable(w) {
		return
	}
	start, end := reportRange(r)

	report, err := h.proofOfPlay.ContentReport(r.Context(), analytics.ReportFilter{
		Start:    start,
		End:      end,
		ScreenID: r.URL.Query().Get("screen_id"),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("content report failed")
		http.Error(w, "Report failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// AnalyticsScreensJSON returns per-screen play totals
func (h *Handler) AnalyticsScreensJSON(w http.ResponseWriter, r *http.Request) {
	if h.analyticsUnavailable(w) {
		return
	}
	start, end := reportRange(r)

	report, err := h.proofOfPlay.ScreenReport(r.Context(), start, end)
	if err != nil {
		h.logger.Error().Err(err).Msg("screen report failed")
		http.Error(w, "Report failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// AnalyticsTimeSlotsJSON returns the weekly day-hour play heatmap
func (h *Handler) AnalyticsTimeSlotsJSON(w http.ResponseWriter, r *http.Request) {
	if h.analyticsUnavailable(w) {
		return
	}
	start, end := reportRange(r)

	report, err := h.proofOfPlay.TimeSlotReport(r.Context(), analytics.ReportFilter{
		Start:    start,
		End:      end,
		ScreenID: r.URL.Query().Get("screen_id"),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("timeslot report failed")
		http.Error(w, "Report failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// AnalyticsUptimeJSON returns online percentages per screen
func (h *Handler) AnalyticsUptimeJSON(w http.ResponseWriter, r *http.Request) {
	if h.analyticsUnavailable(w) {
		return
	}
	start, end := reportRange(r)

	report, err := h.proofOfPlay.ScreenUptime(r.Context(), r.URL.Query().Get("screen_id"), start, end)
	if err != nil {
		h.logger.Error().Err(err).Msg("uptime report failed")
		http.Error(w, "Report failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
