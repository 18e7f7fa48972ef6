/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

// alertEventNames are the bus events a webhook target may subscribe to.
var alertEventNames = map[string]struct{}{
	string(events.EventScreenOnline):      {},
	string(events.EventScreenOffline):     {},
	string(events.EventPlayerError):       {},
	string(events.EventStreamStateChange): {},
	string(events.EventScheduleApplied):   {},
}

type webhookCreateRequest struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Events   string `json:"events"`
	ScreenID string `json:"screen_id"`
}

type webhookUpdateRequest struct {
	Name   *string `json:"name"`
	URL    *string `json:"url"`
	Events *string `json:"events"`
	Active *bool   `json:"active"`
}

// AddWebhookRoutes mounts alert webhook management. Admin only; a
// webhook URL receives operational data about the whole fleet.
func (a *API) AddWebhookRoutes(r chi.Router) {
	r.Route("/webhooks", func(r chi.Router) {
		r.Use(a.requireRoles(models.RoleAdmin))
		r.Get("/", a.handleWebhooksList)
		r.Post("/", a.handleWebhooksCreate)
		r.Route("/{webhookID}", func(r chi.Router) {
			r.Get("/", a.handleWebhooksGet)
			r.Patch("/", a.handleWebhooksUpdate)
			r.Delete("/", a.handleWebhooksDelete)
			r.Post("/test", a.handleWebhooksTest)
			r.Get("/logs", a.handleWebhooksLogs)
		})
	})
}

// validateWebhookEvents checks a comma-separated subscription list
// against the known alert events. Empty subscribes to everything.
func validateWebhookEvents(list string) string {
	if list == "" {
		return ""
	}
	for _, e := range strings.Split(list, ",") {
		name := strings.TrimSpace(e)
		if name == "" {
			continue
		}
		if _, ok := alertEventNames[name]; !ok {
			return name
		}
	}
	return ""
}

func validateWebhookURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (a *API) handleWebhooksList(w http.ResponseWriter, r *http.Request) {
	var targets []models.WebhookTarget
	if err := a.db.WithContext(r.Context()).Order("created_at DESC").Find(&targets).Error; err != nil {
		a.logger.Error().Err(err).Msg("list webhooks failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": targets})
}

func (a *API) handleWebhooksCreate(w http.ResponseWriter, r *http.Request) {
	var req webhookCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	if !validateWebhookURL(req.URL) {
		writeError(w, http.StatusBadRequest, "invalid_url")
		return
	}
	if bad := validateWebhookEvents(req.Events); bad != "" {
		writeError(w, http.StatusBadRequest, "unknown_event")
		return
	}
	if req.ScreenID != "" {
		var screen models.Screen
		if err := a.db.WithContext(r.Context()).Select("id").First(&screen, "id = ?", req.ScreenID).Error; err != nil {
			writeError(w, http.StatusBadRequest, "screen_not_found")
			return
		}
	}

	target := models.NewWebhookTarget(req.Name, req.URL, req.Events)
	target.ScreenID = req.ScreenID

	if err := a.db.WithContext(r.Context()).Create(target).Error; err != nil {
		a.logger.Error().Err(err).Msg("create webhook failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logAudit(r, models.AuditActionWebhookChange, "webhook", target.ID, map[string]any{
		"op":   "create",
		"name": target.Name,
		"url":  target.URL,
	})

	// The signing secret is shown once; afterwards only the receiver
	// knows it.
	writeJSON(w, http.StatusCreated, map[string]any{
		"webhook": target,
		"secret":  target.Secret,
	})
}

func (a *API) loadWebhook(w http.ResponseWriter, r *http.Request) (*models.WebhookTarget, bool) {
	id := chi.URLParam(r, "webhookID")

	var target models.WebhookTarget
	result := a.db.WithContext(r.Context()).First(&target, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return nil, false
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return nil, false
	}
	return &target, true
}

func (a *API) handleWebhooksGet(w http.ResponseWriter, r *http.Request) {
	target, ok := a.loadWebhook(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, target)
}

func (a *API) handleWebhooksUpdate(w http.ResponseWriter, r *http.Request) {
	target, ok := a.loadWebhook(w, r)
	if !ok {
		return
	}

	var req webhookUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	updates := make(map[string]any)
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.URL != nil {
		if !validateWebhookURL(*req.URL) {
			writeError(w, http.StatusBadRequest, "invalid_url")
			return
		}
		updates["url"] = *req.URL
	}
	if req.Events != nil {
		if bad := validateWebhookEvents(*req.Events); bad != "" {
			writeError(w, http.StatusBadRequest, "unknown_event")
			return
		}
		updates["events"] = *req.Events
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}

	if len(updates) == 0 {
		writeJSON(w, http.StatusOK, target)
		return
	}

	if err := a.db.WithContext(r.Context()).Model(target).Updates(updates).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	fields := make([]string, 0, len(updates))
	for k := range updates {
		fields = append(fields, k)
	}
	a.logAudit(r, models.AuditActionWebhookChange, "webhook", target.ID, map[string]any{
		"op":     "update",
		"fields": fields,
	})

	a.db.WithContext(r.Context()).First(target, "id = ?", target.ID)
	writeJSON(w, http.StatusOK, target)
}

func (a *API) handleWebhooksDelete(w http.ResponseWriter, r *http.Request) {
	target, ok := a.loadWebhook(w, r)
	if !ok {
		return
	}

	if err := a.db.WithContext(r.Context()).Where("target_id = ?", target.ID).Delete(&models.WebhookLog{}).Error; err != nil {
		a.logger.Warn().Err(err).Str("webhook", target.ID).Msg("webhook log cleanup failed")
	}
	if err := a.db.WithContext(r.Context()).Delete(target).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logAudit(r, models.AuditActionWebhookChange, "webhook", target.ID, map[string]any{
		"op":   "delete",
		"name": target.Name,
	})

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleWebhooksTest(w http.ResponseWriter, r *http.Request) {
	if a.webhooks == nil {
		writeError(w, http.StatusServiceUnavailable, "webhooks_unavailable")
		return
	}
	target, ok := a.loadWebhook(w, r)
	if !ok {
		return
	}

	if err := a.webhooks.TestWebhook(r.Context(), target); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleWebhooksLogs(w http.ResponseWriter, r *http.Request) {
	target, ok := a.loadWebhook(w, r)
	if !ok {
		return
	}

	var logs []models.WebhookLog
	if err := a.db.WithContext(r.Context()).
		Where("target_id = ?", target.ID).
		Order("created_at DESC").
		Limit(100).
		Find(&logs).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
