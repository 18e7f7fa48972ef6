/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

// ContentList renders the content library
func (h *Handler) ContentList(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage := 24

	query := r.URL.Query().Get("q")
	kind := r.URL.Query().Get("type")
	sortBy := r.URL.Query().Get("sort")
	if sortBy == "" {
		sortBy = "created_at"
	}
	sortOrder := r.URL.Query().Get("order")
	if sortOrder == "" {
		sortOrder = "desc"
	}

	var items []models.ContentItem
	var total int64

	dbQuery := h.db.Model(&models.ContentItem{})

	// Search filter (use LOWER for cross-database compatibility)
	if query != "" {
		dbQuery = dbQuery.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(query)+"%")
	}

	if kind != "" {
		dbQuery = dbQuery.Where("type = ?", kind)
	}

	// Use Session clones to avoid Count mutating query state
	dbQuery.Session(&gorm.Session{}).Count(&total)

	orderClause := sortBy + " " + strings.ToUpper(sortOrder)
	dbQuery.Session(&gorm.Session{}).Order(orderClause).
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&items)

	totalPages := int(total) / perPage
	if int(total)%perPage > 0 {
		totalPages++
	}

	h.Render(w, r, "pages/dashboard/content/list", PageData{
		Title: "Content Library",
		Data: map[string]any{
			"Items":      items,
			"Total":      total,
			"Page":       page,
			"PerPage":    perPage,
			"TotalPages": totalPages,
			"Query":      query,
			"Type":       kind,
			"SortBy":     sortBy,
			"SortOrder":  sortOrder,
		},
	})
}

// ContentTablePartial renders just the content table (for HTMX)
func (h *Handler) ContentTablePartial(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	kind := r.URL.Query().Get("type")

	dbQuery := h.db.Model(&models.ContentItem{})
	if query != "" {
		dbQuery = dbQuery.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(query)+"%")
	}
	if kind != "" {
		dbQuery = dbQuery.Where("type = ?", kind)
	}

	var items []models.ContentItem
	dbQuery.Order("created_at DESC").Limit(50).Find(&items)

	h.RenderPartial(w, r, "partials/content-table", items)
}

// ContentUploadPage renders the upload page
func (h *Handler) ContentUploadPage(w http.ResponseWriter, r *http.Request) {
	h.Render(w, r, "pages/dashboard/content/upload", PageData{
		Title: "Upload Content",
	})
}

// ContentUpload handles image and video file uploads. URL-backed kinds
// go through ContentCreate instead.
func (h *Handler) ContentUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.multipartLimit(256 << 20)); err != nil {
		http.Error(w, "File too large", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	var displayDuration time.Duration
	if raw := r.FormValue("display_duration_seconds"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs < 0 {
			http.Error(w, "Invalid duration", http.StatusBadRequest)
			return
		}
		displayDuration = time.Duration(secs * float64(time.Second))
	}

	contentID := uuid.New().String()

	res, err := h.mediaService.Upload(r.Context(), contentID, header.Filename, file)
	if err != nil {
		h.logger.Error().Err(err).Str("filename", header.Filename).Msg("content upload failed")
		if r.Header.Get("HX-Request") == "true" {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `<div class="alert alert-danger">Upload failed: %s</div>`, template.HTMLEscapeString(err.Error()))
			return
		}
		http.Error(w, "Upload failed", http.StatusBadRequest)
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

	if err := h.db.Create(&item).Error; err != nil {
		h.logger.Error().Err(err).Msg("failed to create content record")
		// Remove the stored asset so a failed insert leaves nothing behind
		if derr := h.mediaService.Delete(r.Context(), res.Key); derr != nil {
			h.logger.Warn().Err(derr).Str("key", res.Key).Msg("orphaned asset cleanup failed")
		}
		http.Error(w, "Failed to save content", http.StatusInternalServerError)
		return
	}

	// The analyzer claims pending jobs from this table, so creating the
	// row is all the enqueue there is.
	job := models.ProbeJob{
		ID:        uuid.New().String(),
		ContentID: contentID,
		Status:    models.ProbePending,
	}
	if err := h.db.Create(&job).Error; err != nil {
		h.logger.Warn().Err(err).Str("content_id", contentID).Msg("failed to queue probe job")
	}

	h.logger.Info().
		Str("content_id", contentID).
		Str("key", res.Key).
		Str("type", string(res.Kind)).
		Int64("size", res.SizeBytes).
		Msg("content uploaded")

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<div class="alert alert-success">Uploaded! <a href="/dashboard/content/%s">View details</a></div>`, contentID)
		return
	}

	http.Redirect(w, r, "/dashboard/content/"+contentID, http.StatusSeeOther)
}

// ContentCreate registers web page, text, and livestream items from a form
func (h *Handler) ContentCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	name := r.FormValue("name")
	if name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}

	kind := models.ContentType(r.FormValue("type"))
	item := models.ContentItem{
		ID:   uuid.New().String(),
		Name: name,
		Type: kind,
		// Referenced content has nothing to probe
		ProbeState: models.ProbeComplete,
	}

	switch kind {
	case models.ContentWeb, models.ContentLivestream:
		item.SourceURI = r.FormValue("source_uri")
		if item.SourceURI == "" {
			http.Error(w, "URL is required", http.StatusBadRequest)
			return
		}
	case models.ContentText:
		item.TextBody = r.FormValue("text_body")
		if item.TextBody == "" {
			http.Error(w, "Text is required", http.StatusBadRequest)
			return
		}
		if speed, err := strconv.Atoi(r.FormValue("scroll_speed")); err == nil && speed >= 0 {
			item.ScrollSpeed = speed
		}
	default:
		http.Error(w, "File-backed content goes through the upload form", http.StatusBadRequest)
		return
	}

	if kind == models.ContentLivestream {
		item.IsLive = true
		if fallbackID := r.FormValue("fallback_image_id"); fallbackID != "" {
			var fallback models.ContentItem
			if err := h.db.First(&fallback, "id = ? AND type = ?", fallbackID, models.ContentImage).Error; err != nil {
				http.Error(w, "Fallback image not found", http.StatusBadRequest)
				return
			}
			item.FallbackImageID = &fallbackID
		}
	}

	if raw := r.FormValue("display_duration_seconds"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs < 0 {
			http.Error(w, "Invalid duration", http.StatusBadRequest)
			return
		}
		item.DisplayDuration = time.Duration(secs * float64(time.Second))
	}

	if err := h.db.Create(&item).Error; err != nil {
		h.logger.Error().Err(err).Msg("failed to create content")
		http.Error(w, "Failed to create content", http.StatusInternalServerError)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/content/"+item.ID)
		return
	}

	http.Redirect(w, r, "/dashboard/content/"+item.ID, http.StatusSeeOther)
}

// ContentDetail renders content details page
func (h *Handler) ContentDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var item models.ContentItem
	if err := h.db.First(&item, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	var fallback *models.ContentItem
	if item.FallbackImageID != nil {
		var img models.ContentItem
		if err := h.db.First(&img, "id = ?", *item.FallbackImageID).Error; err == nil {
			fallback = &img
		}
	}

	// Playlists that reference this item, for the usage panel
	var usage []models.Playlist
	h.db.Distinct("playlists.*").
		Joins("JOIN assignments ON assignments.playlist_id = playlists.id").
		Joins("JOIN assignment_entries ON assignment_entries.assignment_id = assignments.id").
		Where("assignment_entries.content_item_id = ?", id).
		Find(&usage)

	var history []models.PlayLog
	h.db.Where("content_id = ?", id).Order("started_at DESC").Limit(20).Find(&history)

	assetURL, err := h.mediaService.URL(r.Context(), item.StorageKey)
	if err != nil {
		h.logger.Warn().Err(err).Str("content_id", item.ID).Msg("resolve asset URL failed")
	}

	h.Render(w, r, "pages/dashboard/content/detail", PageData{
		Title: item.Name,
		Data: map[string]any{
			"Item":      item,
			"Fallback":  fallback,
			"Usage":     usage,
			"History":   history,
			"AssetURL":  assetURL,
			"ProbeJobs": h.probeJobsFor(id),
		},
	})
}

func (h *Handler) probeJobsFor(contentID string) []models.ProbeJob {
	var jobs []models.ProbeJob
	h.db.Where("content_id = ?", contentID).Order("created_at DESC").Limit(5).Find(&jobs)
	return jobs
}

// ContentEdit renders the content edit form
func (h *Handler) ContentEdit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var item models.ContentItem
	if err := h.db.First(&item, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	// Images available as livestream fallbacks
	var images []models.ContentItem
	h.db.Where("type = ?", models.ContentImage).Order("name ASC").Find(&images)

	fallbackID := ""
	if item.FallbackImageID != nil {
		fallbackID = *item.FallbackImageID
	}

	h.Render(w, r, "pages/dashboard/content/edit", PageData{
		Title: "Edit " + item.Name,
		Data: map[string]any{
			"Item":       item,
			"Images":     images,
			"FallbackID": fallbackID,
		},
	})
}

// ContentUpdate handles content edit form submission
func (h *Handler) ContentUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var item models.ContentItem
	if err := h.db.First(&item, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	if name := r.FormValue("name"); name != "" {
		item.Name = name
	}

	if raw := r.FormValue("display_duration_seconds"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs < 0 {
			http.Error(w, "Invalid duration", http.StatusBadRequest)
			return
		}
		item.DisplayDuration = time.Duration(secs * float64(time.Second))
	} else {
		item.DisplayDuration = 0
	}

	switch item.Type {
	case models.ContentWeb, models.ContentLivestream:
		if uri := r.FormValue("source_uri"); uri != "" {
			item.SourceURI = uri
		}
	case models.ContentText:
		item.TextBody = r.FormValue("text_body")
		if speed, err := strconv.Atoi(r.FormValue("scroll_speed")); err == nil && speed >= 0 {
			item.ScrollSpeed = speed
		}
	}

	if item.Type == models.ContentLivestream {
		fallbackID := r.FormValue("fallback_image_id")
		if fallbackID == "" {
			item.FallbackImageID = nil
		} else {
			var fallback models.ContentItem
			if err := h.db.First(&fallback, "id = ? AND type = ?", fallbackID, models.ContentImage).Error; err != nil {
				http.Error(w, "Fallback image not found", http.StatusBadRequest)
				return
			}
			item.FallbackImageID = &fallbackID
		}
	}

	if err := h.db.Save(&item).Error; err != nil {
		http.Error(w, "Failed to update content", http.StatusInternalServerError)
		return
	}

	// Running engines re-resolve the item on this event, so edits reach
	// screens without a reload.
	h.eventBus.Publish(events.EventContentUpdated, events.Payload{"content_id": id})

	// A changed display duration should reach engines already playing
	// this item without waiting for a reload.
	if h.players != nil && item.DisplayDuration > 0 {
		h.players.ApplyDetectedDuration(id, item.DisplayDuration)
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/content/"+id)
		return
	}

	http.Redirect(w, r, "/dashboard/content/"+id, http.StatusSeeOther)
}

// ContentDelete handles content deletion
func (h *Handler) ContentDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var item models.ContentItem
	if err := h.db.First(&item, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	// Refuse while playlists still reference the item
	var entryCount int64
	h.db.Model(&models.AssignmentEntry{}).Where("content_item_id = ?", id).Count(&entryCount)
	if entryCount > 0 {
		http.Error(w, "Content is used by playlists", http.StatusConflict)
		return
	}

	if err := h.db.Delete(&item).Error; err != nil {
		http.Error(w, "Failed to delete content", http.StatusInternalServerError)
		return
	}

	if item.StorageKey != "" {
		if err := h.mediaService.Delete(r.Context(), item.StorageKey); err != nil {
			h.logger.Warn().Err(err).Str("content_id", id).Msg("asset delete failed")
		}
	}

	h.eventBus.Publish(events.EventContentDeleted, events.Payload{"content_id": id})

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/content")
		return
	}

	http.Redirect(w, r, "/dashboard/content", http.StatusSeeOther)
}

// MediaFile serves stored assets by storage key. Player shells load
// every image and video through here via plain img and video tags, so
// the route takes no auth header; keys are unguessable UUID paths.
func (h *Handler) MediaFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" || strings.Contains(key, "..") || filepath.IsAbs(key) {
		http.NotFound(w, r)
		return
	}

	fullPath := filepath.Join(h.mediaRoot, filepath.FromSlash(key))
	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	// Keys are immutable once written; a replaced asset gets a new key
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("Accept-Ranges", "bytes")

	// ServeFile handles range requests, which video seeking needs
	http.ServeFile(w, r, fullPath)
}
