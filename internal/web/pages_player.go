/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

// PlayerShell renders the full-screen playback page a display device
// points its browser at. The page embeds a screen-bound device token;
// everything after that happens in the shell script against the API.
func (h *Handler) PlayerShell(w http.ResponseWriter, r *http.Request) {
	screenID := chi.URLParam(r, "screenID")

	var screen models.Screen
	if err := h.db.First(&screen, "id = ?", screenID).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	token := h.GenerateScreenToken(screen.ID)
	if token == "" {
		http.Error(w, "Failed to provision screen", http.StatusInternalServerError)
		return
	}

	// Shells cache aggressively; make sure a restarted screen always
	// picks up a fresh token.
	w.Header().Set("Cache-Control", "no-store")

	h.Render(w, r, "pages/player/shell", PageData{
		Title: screen.Name,
		Data: map[string]any{
			"Screen":   screen,
			"Token":    token,
			"Disabled": !screen.Active,
		},
	})
}
