/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/telemetry"
)

type contentCreateRequest struct {
	Name            string         `json:"name"`
	Type            string         `json:"type"`
	SourceURI       string         `json:"source_uri"`
	TextBody        string         `json:"text_body"`
	ScrollSpeed     int            `json:"scroll_speed"`
	TextStyle       map[string]any `json:"text_style"`
	DurationSeconds float64        `json:"display_duration_seconds"`
	FallbackImageID *string        `json:"fallback_image_id"`
	Metadata        map[string]any `json:"metadata"`
}

type contentUpdateRequest struct {
	Name            *string         `json:"name"`
	SourceURI       *string         `json:"source_uri"`
	TextBody        *string         `json:"text_body"`
	ScrollSpeed     *int            `json:"scroll_speed"`
	TextStyle       *map[string]any `json:"text_style"`
	DurationSeconds *float64        `json:"display_duration_seconds"`
	FallbackImageID *string         `json:"fallback_image_id"`
	Metadata        map[string]any  `json:"metadata"`
}

// AddContentRoutes mounts content CRUD and upload under /content.
func (a *API) AddContentRoutes(r chi.Router) {
	r.Route("/content", func(r chi.Router) {
		r.Get("/", a.handleContentList)
		r.With(a.requireRoles(models.RoleAdmin, models.RoleEditor)).Post("/", a.handleContentCreate)
		r.With(a.requireRoles(models.RoleAdmin, models.RoleEditor)).Post("/upload", a.handleContentUpload)
		r.Route("/{contentID}", func(r chi.Router) {
			r.Get("/", a.handleContentGet)
			r.With(a.requireRoles(models.RoleAdmin, models.RoleEditor)).Patch("/", a.handleContentUpdate)
			r.With(a.requireRoles(models.RoleAdmin, models.RoleEditor)).Delete("/", a.handleContentDelete)
			r.Get("/file", a.handleContentFile)
		})
	})
}

func (a *API) handleContentList(w http.ResponseWriter, r *http.Request) {
	query := a.db.WithContext(r.Context())
	if kind := r.URL.Query().Get("type"); kind != "" {
		query = query.Where("type = ?", kind)
	}
	if name := r.URL.Query().Get("q"); name != "" {
		query = query.Where("name LIKE ?", "%"+name+"%")
	}

	var items []models.ContentItem
	if err := query.Order("name ASC").Find(&items).Error; err != nil {
		a.logger.Error().Err(err).Msg("list content failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": items})
}

// handleContentCreate registers URL- or text-backed content. File-backed
// kinds go through the upload endpoint instead.
func (a *API) handleContentCreate(w http.ResponseWriter, r *http.Request) {
	var req contentCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}

	kind := models.ContentType(req.Type)
	switch kind {
	case models.ContentWeb, models.ContentLivestream:
		if req.SourceURI == "" {
			writeError(w, http.StatusBadRequest, "source_uri_required")
			return
		}
	case models.ContentText:
		if req.TextBody == "" {
			writeError(w, http.StatusBadRequest, "text_body_required")
			return
		}
	case models.ContentImage, models.ContentVideo:
		writeError(w, http.StatusBadRequest, "use_upload_endpoint")
		return
	default:
		writeError(w, http.StatusBadRequest, "invalid_type")
		return
	}

	if req.FallbackImageID != nil && *req.FallbackImageID != "" {
		var fallback models.ContentItem
		if err := a.db.WithContext(r.Context()).First(&fallback, "id = ?", *req.FallbackImageID).Error; err != nil {
			writeError(w, http.StatusBadRequest, "fallback_image_not_found")
			return
		}
		if fallback.Type != models.ContentImage {
			writeError(w, http.StatusBadRequest, "fallback_not_an_image")
			return
		}
	}

	item := models.ContentItem{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Type:            kind,
		SourceURI:       req.SourceURI,
		TextBody:        req.TextBody,
		ScrollSpeed:     req.ScrollSpeed,
		TextStyle:       req.TextStyle,
		DisplayDuration: time.Duration(req.DurationSeconds * float64(time.Second)),
		IsLive:          kind == models.ContentLivestream,
		FallbackImageID: req.FallbackImageID,
		Metadata:        req.Metadata,
	}

	if err := a.db.WithContext(r.Context()).Create(&item).Error; err != nil {
		a.logger.Error().Err(err).Msg("create content failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logger.Info().
		Str("content_id", item.ID).
		Str("type", string(item.Type)).
		Msg("content created")

	writeJSON(w, http.StatusCreated, item)
}

func (a *API) handleContentUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(256 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_multipart")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file_required")
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	var displayDuration time.Duration
	if v := r.FormValue("display_duration_seconds"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_duration")
			return
		}
		displayDuration = time.Duration(parsed * float64(time.Second))
	}

	contentID := uuid.NewString()

	res, err := a.media.Upload(r.Context(), contentID, header.Filename, file)
	if err != nil {
		a.logger.Error().Err(err).Str("filename", header.Filename).Msg("media upload failed")
		writeError(w, http.StatusBadRequest, "unsupported_media")
		return
	}

	item := models.ContentItem{
		ID:              contentID,
		Name:            name,
		Type:            res.Kind,
		StorageKey:      res.Key,
		SizeBytes:       res.SizeBytes,
		DisplayDuration: displayDuration,
		ProbeState:      models.ProbePending,
	}

	if err := a.db.WithContext(r.Context()).Create(&item).Error; err != nil {
		_ = a.media.Delete(r.Context(), res.Key)
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	jobID, err := a.analyzer.Enqueue(r.Context(), contentID)
	if err != nil {
		a.logger.Error().Err(err).Str("content_id", contentID).Msg("probe enqueue failed")
		a.db.WithContext(r.Context()).Model(&models.ContentItem{}).
			Where("id = ?", contentID).
			Update("probe_state", models.ProbeFailed)
	}

	telemetry.MediaUploadsTotal.WithLabelValues(string(res.Kind)).Inc()

	resp := map[string]any{
		"id":           item.ID,
		"name":         item.Name,
		"type":         item.Type,
		"storage_key":  item.StorageKey,
		"size_bytes":   item.SizeBytes,
		"probe_state":  item.ProbeState,
		"probe_job_id": jobID,
		"filename":     header.Filename,
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleContentGet(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")

	var item models.ContentItem
	result := a.db.WithContext(r.Context()).First(&item, "id = ?", contentID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleContentUpdate(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")

	var item models.ContentItem
	result := a.db.WithContext(r.Context()).First(&item, "id = ?", contentID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var req contentUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	updates := make(map[string]any)
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.SourceURI != nil {
		updates["source_uri"] = *req.SourceURI
	}
	if req.TextBody != nil {
		updates["text_body"] = *req.TextBody
	}
	if req.ScrollSpeed != nil {
		updates["scroll_speed"] = *req.ScrollSpeed
	}
	if req.TextStyle != nil {
		updates["text_style"] = *req.TextStyle
	}
	if req.DurationSeconds != nil {
		if *req.DurationSeconds < 0 {
			writeError(w, http.StatusBadRequest, "invalid_duration")
			return
		}
		updates["display_duration"] = time.Duration(*req.DurationSeconds * float64(time.Second))
	}
	if req.FallbackImageID != nil {
		if *req.FallbackImageID == "" {
			updates["fallback_image_id"] = nil
		} else {
			var fallback models.ContentItem
			if err := a.db.WithContext(r.Context()).First(&fallback, "id = ?", *req.FallbackImageID).Error; err != nil {
				writeError(w, http.StatusBadRequest, "fallback_image_not_found")
				return
			}
			if fallback.Type != models.ContentImage {
				writeError(w, http.StatusBadRequest, "fallback_not_an_image")
				return
			}
			updates["fallback_image_id"] = *req.FallbackImageID
		}
	}
	if req.Metadata != nil {
		updates["metadata"] = req.Metadata
	}

	if len(updates) == 0 {
		writeJSON(w, http.StatusOK, item)
		return
	}

	if err := a.db.WithContext(r.Context()).Model(&item).Updates(updates).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	if err := a.cache.InvalidateContentItem(r.Context(), contentID); err != nil {
		a.logger.Debug().Err(err).Msg("content invalidation failed")
	}
	a.bus.Publish(events.EventContentUpdated, events.Payload{"content_id": contentID})

	// A changed display duration should reach engines already playing
	// this item without waiting for a reload.
	if req.DurationSeconds != nil && *req.DurationSeconds > 0 {
		a.players.ApplyDetectedDuration(contentID, time.Duration(*req.DurationSeconds*float64(time.Second)))
	}

	a.db.WithContext(r.Context()).First(&item, "id = ?", contentID)
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleContentDelete(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")

	var item models.ContentItem
	result := a.db.WithContext(r.Context()).First(&item, "id = ?", contentID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var entryCount int64
	a.db.WithContext(r.Context()).Model(&models.AssignmentEntry{}).Where("content_item_id = ?", contentID).Count(&entryCount)
	if entryCount > 0 {
		writeError(w, http.StatusConflict, "content_in_use")
		return
	}

	if err := a.db.WithContext(r.Context()).Delete(&item).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if item.StorageKey != "" {
		if err := a.media.Delete(r.Context(), item.StorageKey); err != nil {
			a.logger.Warn().Err(err).Str("content_id", contentID).Msg("asset delete failed")
		}
	}

	if err := a.cache.InvalidateContentItem(r.Context(), contentID); err != nil {
		a.logger.Debug().Err(err).Msg("content invalidation failed")
	}

	a.publishAuditEvent(r, events.EventAuditContentDelete, events.Payload{
		"resource_type": "content",
		"resource_id":   contentID,
		"name":          item.Name,
	})
	a.bus.Publish(events.EventContentDeleted, events.Payload{"content_id": contentID})

	w.WriteHeader(http.StatusNoContent)
}

// handleContentFile streams the stored asset. Player shells hit this
// for every image and video, so it must work for both storage backends.
func (a *API) handleContentFile(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")

	var item models.ContentItem
	result := a.db.WithContext(r.Context()).Select("id", "storage_key", "type").First(&item, "id = ?", contentID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) || item.StorageKey == "" {
		http.NotFound(w, r)
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	rc, err := a.media.Open(r.Context(), item.StorageKey)
	if err != nil {
		a.logger.Error().Err(err).Str("content_id", contentID).Msg("asset open failed")
		http.NotFound(w, r)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(filepath.Ext(item.StorageKey))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")

	if _, err := io.Copy(w, rc); err != nil {
		a.logger.Debug().Err(err).Str("content_id", contentID).Msg("asset stream interrupted")
	}
}
