/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

// LayoutList renders the layout library
func (h *Handler) LayoutList(w http.ResponseWriter, r *http.Request) {
	var layouts []models.Layout
	h.db.Preload("Regions").Order("name ASC").Find(&layouts)

	// Playlist counts per layout for the reuse hint
	counts := make(map[string]int64, len(layouts))
	type countRow struct {
		LayoutID string
		N        int64
	}
	var rows []countRow
	h.db.Model(&models.Playlist{}).
		Select("layout_id, COUNT(*) AS n").
		Group("layout_id").
		Scan(&rows)
	for _, row := range rows {
		counts[row.LayoutID] = row.N
	}

	h.Render(w, r, "pages/dashboard/layouts/list", PageData{
		Title: "Layouts",
		Data: map[string]any{
			"Layouts":        layouts,
			"PlaylistCounts": counts,
		},
	})
}

// LayoutCreate handles the new layout form submission
func (h *Handler) LayoutCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}

	width, _ := strconv.Atoi(r.FormValue("canvas_width"))
	height, _ := strconv.Atoi(r.FormValue("canvas_height"))
	if width <= 0 {
		width = 1920
	}
	if height <= 0 {
		height = 1080
	}

	background := r.FormValue("background")
	if background == "" {
		background = "#000000"
	}

	layout := models.Layout{
		ID:           uuid.New().String(),
		Name:         name,
		Description:  r.FormValue("description"),
		CanvasWidth:  width,
		CanvasHeight: height,
		Background:   background,
	}

	if err := h.db.Create(&layout).Error; err != nil {
		h.logger.Error().Err(err).Msg("failed to create layout")
		http.Error(w, "Failed to create layout", http.StatusInternalServerError)
		return
	}

	// A fresh layout starts with one full-canvas region so a playlist
	// can be bound immediately.
	region := models.Region{
		ID:       uuid.New().String(),
		LayoutID: layout.ID,
		Name:     "Main",
		Width:    width,
		Height:   height,
	}
	if err := h.db.Create(&region).Error; err != nil {
		h.logger.Warn().Err(err).Str("layout_id", layout.ID).Msg("failed to create default region")
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/layouts/"+layout.ID)
		return
	}
	http.Redirect(w, r, "/dashboard/layouts/"+layout.ID, http.StatusSeeOther)
}

// LayoutDetail renders the region editor for one layout.
func (h *Handler) LayoutDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var layout models.Layout
	if err := h.db.Preload("Regions").First(&layout, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	var playlists []models.Playlist
	h.db.Where("layout_id = ?", id).Order("name ASC").Find(&playlists)

	h.Render(w, r, "pages/dashboard/layouts/detail", PageData{
		Title: layout.Name,
		Data: map[string]any{
			"Layout":    layout,
			"Playlists": playlists,
		},
	})
}

// LayoutUpdate handles layout edits
func (h *Handler) LayoutUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var layout models.Layout
	if err := h.db.First(&layout, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	layout.Name = strings.TrimSpace(r.FormValue("name"))
	layout.Description = r.FormValue("description")
	if width, err := strconv.Atoi(r.FormValue("canvas_width")); err == nil && width > 0 {
		layout.CanvasWidth = width
	}
	if height, err := strconv.Atoi(r.FormValue("canvas_height")); err == nil && height > 0 {
		layout.CanvasHeight = height
	}
	if bg := r.FormValue("background"); bg != "" {
		layout.Background = bg
	}

	if err := h.db.Save(&layout).Error; err != nil {
		http.Error(w, "Failed to update layout", http.StatusInternalServerError)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/layouts/"+id)
		return
	}
	http.Redirect(w, r, "/dashboard/layouts/"+id, http.StatusSeeOther)
}

// LayoutDelete removes a layout unless playlists still reference it.
func (h *Handler) LayoutDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var inUse int64
	h.db.Model(&models.Playlist{}).Where("layout_id = ?", id).Count(&inUse)
	if inUse > 0 {
		http.Error(w, "Layout is used by playlists", http.StatusConflict)
		return
	}

	if err := h.db.Where("layout_id = ?", id).Delete(&models.Region{}).Error; err != nil {
		h.logger.Warn().Err(err).Str("layout_id", id).Msg("failed to delete layout regions")
	}
	if err := h.db.Delete(&models.Layout{}, "id = ?", id).Error; err != nil {
		http.Error(w, "Failed to delete layout", http.StatusInternalServerError)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/layouts")
		return
	}
	http.Redirect(w, r, "/dashboard/layouts", http.StatusSeeOther)
}

// RegionCreate adds a region to a layout.
func (h *Handler) RegionCreate(w http.ResponseWriter, r *http.Request) {
	layoutID := chi.URLParam(r, "id")

	var layout models.Layout
	if err := h.db.First(&layout, "id = ?", layoutID).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	region := models.Region{
		ID:       uuid.New().String(),
		LayoutID: layoutID,
		Name:     strings.TrimSpace(r.FormValue("name")),
	}
	region.X, _ = strconv.Atoi(r.FormValue("x"))
	region.Y, _ = strconv.Atoi(r.FormValue("y"))
	region.Width, _ = strconv.Atoi(r.FormValue("width"))
	region.Height, _ = strconv.Atoi(r.FormValue("height"))
	region.ZIndex, _ = strconv.Atoi(r.FormValue("z_index"))

	if region.Name == "" {
		region.Name = "Region"
	}
	if region.Width <= 0 || region.Height <= 0 {
		http.Error(w, "Region needs a positive width and height", http.StatusBadRequest)
		return
	}

	if err := h.db.Create(&region).Error; err != nil {
		http.Error(w, "Failed to create region", http.StatusInternalServerError)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/layouts/"+layoutID)
		return
	}
	http.Redirect(w, r, "/dashboard/layouts/"+layoutID, http.StatusSeeOther)
}

// RegionUpdate edits one region's geometry.
func (h *Handler) RegionUpdate(w http.ResponseWriter, r *http.Request) {
	layoutID := chi.URLParam(r, "id")
	regionID := chi.URLParam(r, "regionID")

	var region models.Region
	if err := h.db.First(&region, "id = ? AND layout_id = ?", regionID, layoutID).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	if name := strings.TrimSpace(r.FormValue("name")); name != "" {
		region.Name = name
	}
	if v, err := strconv.Atoi(r.FormValue("x")); err == nil {
		region.X = v
	}
	if v, err := strconv.Atoi(r.FormValue("y")); err == nil {
		region.Y = v
	}
	if v, err := strconv.Atoi(r.FormValue("width")); err == nil && v > 0 {
		region.Width = v
	}
	if v, err := strconv.Atoi(r.FormValue("height")); err == nil && v > 0 {
		region.Height = v
	}
	if v, err := strconv.Atoi(r.FormValue("z_index")); err == nil {
		region.ZIndex = v
	}

	if err := h.db.Save(&region).Error; err != nil {
		http.Error(w, "Failed to update region", http.StatusInternalServerError)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/layouts/"+layoutID)
		return
	}
	http.Redirect(w, r, "/dashboard/layouts/"+layoutID, http.StatusSeeOther)
}

// RegionDelete removes a region and any assignments bound to it.
func (h *Handler) RegionDelete(w http.ResponseWriter, r *http.Request) {
	layoutID := chi.URLParam(r, "id")
	regionID := chi.URLParam(r, "regionID")

	var region models.Region
	if err := h.db.First(&region, "id = ? AND layout_id = ?", regionID, layoutID).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	var assignments []models.Assignment
	h.db.Where("region_id = ?", regionID).Find(&assignments)
	for _, a := range assignments {
		h.db.Where("assignment_id = ?", a.ID).Delete(&models.AssignmentEntry{})
	}
	h.db.Where("region_id = ?", regionID).Delete(&models.Assignment{})

	if err := h.db.Delete(&models.Region{}, "id = ?", regionID).Error; err != nil {
		http.Error(w, "Failed to delete region", http.StatusInternalServerError)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/layouts/"+layoutID)
		return
	}
	http.Redirect(w, r, "/dashboard/layouts/"+layoutID, http.StatusSeeOther)
}
