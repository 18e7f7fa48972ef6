/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"net/http"
	"sort"
	"time"

	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/player"
)

// SessionRow pairs a hosted session with its screen record for display.
type SessionRow struct {
	Session      player.SessionInfo
	Screen       models.Screen
	PlaylistName string
}

// DashboardData holds data for the dashboard overview
type DashboardData struct {
	ScreenCount   int64
	OnlineCount   int
	LayoutCount   int64
	ContentCount  int64
	PlaylistCount int64
	Sessions      []SessionRow
	RecentPlays   []models.PlayLog
	Upcoming      []UpcomingWindow
}

// UpcomingWindow is one expanded schedule occurrence for the overview.
type UpcomingWindow struct {
	ScreenID     string
	ScreenName   string
	PlaylistID   string
	PlaylistName string
	StartsAt     time.Time
	EndsAt       time.Time
}

// DashboardHome renders the main dashboard overview
func (h *Handler) DashboardHome(w http.ResponseWriter, r *http.Request) {
	var data DashboardData

	h.db.Model(&models.Screen{}).Count(&data.ScreenCount)
	h.db.Model(&models.Layout{}).Count(&data.LayoutCount)
	h.db.Model(&models.ContentItem{}).Count(&data.ContentCount)
	h.db.Model(&models.Playlist{}).Count(&data.PlaylistCount)

	data.Sessions = h.loadSessionRows()
	for _, row := range data.Sessions {
		if row.Session.Online {
			data.OnlineCount++
		}
	}

	h.db.Order("started_at DESC").Limit(10).Find(&data.RecentPlays)

	data.Upcoming = h.loadUpcomingWindows(r, 24*time.Hour, 10)

	h.Render(w, r, "pages/dashboard/home", PageData{
		Title: "Dashboard",
		Data:  data,
	})
}

// SessionsPartial renders the live session table (for HTMX polling).
func (h *Handler) SessionsPartial(w http.ResponseWriter, r *http.Request) {
	h.RenderPartial(w, r, "partials/session-table", h.loadSessionRows())
}

func (h *Handler) loadSessionRows() []SessionRow {
	if h.players == nil {
		return nil
	}

	sessions := h.players.Sessions()
	if len(sessions) == 0 {
		return nil
	}

	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ScreenID)
	}

	byID := make(map[string]models.Screen, len(ids))
	var screens []models.Screen
	h.db.Where("id IN ?", ids).Find(&screens)
	for _, s := range screens {
		byID[s.ID] = s
	}

	playlistNames := h.playlistNames()

	rows := make([]SessionRow, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, SessionRow{
			Session:      s,
			Screen:       byID[s.ScreenID],
			PlaylistName: playlistNames[s.PlaylistID],
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Screen.Name < rows[j].Screen.Name
	})
	return rows
}

// loadUpcomingWindows expands active schedule entries into the next
// occurrences across all active screens.
func (h *Handler) loadUpcomingWindows(r *http.Request, horizon time.Duration, limit int) []UpcomingWindow {
	if h.scheduler == nil || limit <= 0 {
		return nil
	}

	var screens []models.Screen
	h.db.Where("active = ?", true).Order("name ASC").Limit(50).Find(&screens)

	// Schedule times are stored and compared in UTC throughout the
	// system; expanding from UTC keeps the overview correct when the
	// server runs in a non-UTC timezone.
	from := time.Now().UTC()

	playlistNames := h.playlistNames()

	var windows []UpcomingWindow
	for _, screen := range screens {
		wins, err := h.scheduler.Upcoming(r.Context(), screen.ID, from, horizon)
		if err != nil {
			h.logger.Warn().Err(err).Str("screen_id", screen.ID).Msg("upcoming window expansion failed")
			continue
		}
		for _, win := range wins {
			windows = append(windows, UpcomingWindow{
				ScreenID:     screen.ID,
				ScreenName:   screen.Name,
				PlaylistID:   win.PlaylistID,
				PlaylistName: playlistNames[win.PlaylistID],
				StartsAt:     win.StartsAt,
				EndsAt:       win.EndsAt,
			})
		}
	}

	sort.Slice(windows, func(i, j int) bool {
		return windows[i].StartsAt.Before(windows[j].StartsAt)
	})
	if len(windows) > limit {
		windows = windows[:limit]
	}
	return windows
}

func (h *Handler) playlistNames() map[string]string {
	var playlists []models.Playlist
	h.db.Select("id, name").Find(&playlists)
	names := make(map[string]string, len(playlists))
	for _, p := range playlists {
		names[p.ID] = p.Name
	}
	return names
}
