/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"net/http"

	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/version"
)

// SettingsPage renders the system settings and status page
func (h *Handler) SettingsPage(w http.ResponseWriter, r *http.Request) {
	var userCount, screenCount, contentCount, playlistCount, scheduleCount int64
	h.db.Model(&models.User{}).Count(&userCount)
	h.db.Model(&models.Screen{}).Count(&screenCount)
	h.db.Model(&models.ContentItem{}).Count(&contentCount)
	h.db.Model(&models.Playlist{}).Count(&playlistCount)
	h.db.Model(&models.ScheduleEntry{}).Count(&scheduleCount)

	var storageBytes int64
	h.db.Model(&models.ContentItem{}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&storageBytes)

	// Probe queue health
	var pendingProbes, failedProbes int64
	h.db.Model(&models.ProbeJob{}).Where("status = ?", models.ProbePending).Count(&pendingProbes)
	h.db.Model(&models.ProbeJob{}).Where("status = ?", models.ProbeFailed).Count(&failedProbes)

	var playLogCount int64
	h.db.Model(&models.PlayLog{}).Count(&playLogCount)

	activeSessions := 0
	if h.players != nil {
		for _, session := range h.players.Sessions() {
			if session.Online {
				activeSessions++
			}
		}
	}

	h.Render(w, r, "pages/dashboard/settings", PageData{
		Title: "Settings",
		Data: map[string]any{
			"Version":        version.Version,
			"UpdateInfo":     h.updateChecker.Info(),
			"MediaRoot":      h.mediaRoot,
			"UserCount":      userCount,
			"ScreenCount":    screenCount,
			"ContentCount":   contentCount,
			"PlaylistCount":  playlistCount,
			"ScheduleCount":  scheduleCount,
			"StorageBytes":   storageBytes,
			"PendingProbes":  pendingProbes,
			"FailedProbes":   failedProbes,
			"PlayLogCount":   playLogCount,
			"ActiveSessions": activeSessions,
		},
	})
}
