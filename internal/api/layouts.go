/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

type layoutCreateRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	CanvasWidth  int             `json:"canvas_width"`
	CanvasHeight int             `json:"canvas_height"`
	Background   string          `json:"background"`
	Regions      []regionRequest `json:"regions"`
}

type regionRequest struct {
	Name   string `json:"name"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	ZIndex int    `json:"z_index"`
}

type layoutUpdateRequest struct {
	Name         *string          `json:"name"`
	Description  *string          `json:"description"`
	CanvasWidth  *int             `json:"canvas_width"`
	CanvasHeight *int             `json:"canvas_height"`
	Background   *string          `json:"background"`
	Regions      *[]regionRequest `json:"regions"`
}

// AddLayoutRoutes mounts layout CRUD under /layouts.
func (a *API) AddLayoutRoutes(r chi.Router) {
	r.Route("/layouts", func(r chi.Router) {
		r.Get("/", a.handleLayoutsList)
		r.With(a.requireRoles(models.RoleAdmin, models.RoleEditor)).Post("/", a.handleLayoutsCreate)
		r.Route("/{layoutID}", func(r chi.Router) {
			r.Get("/", a.handleLayoutsGet)
			r.With(a.requireRoles(models.RoleAdmin, models.RoleEditor)).Patch("/", a.handleLayoutsUpdate)
			r.With(a.requireRoles(models.RoleAdmin, models.RoleEditor)).Delete("/", a.handleLayoutsDelete)
		})
	})
}

func validRegions(canvasWidth, canvasHeight int, regions []regionRequest) string {
	if len(regions) == 0 {
		return "at_least_one_region_required"
	}
	for _, reg := range regions {
		if reg.Width <= 0 || reg.Height <= 0 {
			return "region_size_invalid"
		}
		if reg.X < 0 || reg.Y < 0 {
			return "region_position_invalid"
		}
		if canvasWidth > 0 && reg.X+reg.Width > canvasWidth {
			return "region_exceeds_canvas"
		}
		if canvasHeight > 0 && reg.Y+reg.Height > canvasHeight {
			return "region_exceeds_canvas"
		}
	}
	return ""
}

func (a *API) handleLayoutsList(w http.ResponseWriter, r *http.Request) {
	var layouts []models.Layout
	if err := a.db.WithContext(r.Context()).Preload("Regions").Order("name ASC").Find(&layouts).Error; err != nil {
		a.logger.Error().Err(err).Msg("list layouts failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"layouts": layouts})
}

func (a *API) handleLayoutsCreate(w http.ResponseWriter, r *http.Request) {
	var req layoutCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	if code := validRegions(req.CanvasWidth, req.CanvasHeight, req.Regions); code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}

	layoutID := uuid.NewString()
	regions := make([]models.Region, 0, len(req.Regions))
	for _, reg := range req.Regions {
		regions = append(regions, models.Region{
			ID:       uuid.NewString(),
			LayoutID: layoutID,
			Name:     reg.Name,
			X:        reg.X,
			Y:        reg.Y,
			Width:    reg.Width,
			Height:   reg.Height,
			ZIndex:   reg.ZIndex,
		})
	}

	layout := models.Layout{
		ID:           layoutID,
		Name:         req.Name,
		Description:  req.Description,
		CanvasWidth:  req.CanvasWidth,
		CanvasHeight: req.CanvasHeight,
		Background:   req.Background,
		Regions:      regions,
	}

	if err := a.db.WithContext(r.Context()).Create(&layout).Error; err != nil {
		a.logger.Error().Err(err).Msg("create layout failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.bus.Publish(events.EventLayoutCreated, events.Payload{"layout_id": layout.ID})

	a.logger.Info().
		Str("layout_id", layout.ID).
		Str("name", layout.Name).
		Int("regions", len(regions)).
		Msg("layout created")

	writeJSON(w, http.StatusCreated, layout)
}

func (a *API) handleLayoutsGet(w http.ResponseWriter, r *http.Request) {
	layoutID := chi.URLParam(r, "layoutID")

	var layout models.Layout
	result := a.db.WithContext(r.Context()).Preload("Regions").First(&layout, "id = ?", layoutID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, layout)
}

func (a *API) handleLayoutsUpdate(w http.ResponseWriter, r *http.Request) {
	layoutID := chi.URLParam(r, "layoutID")

	var layout models.Layout
	result := a.db.WithContext(r.Context()).Preload("Regions").First(&layout, "id = ?", layoutID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var req layoutUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	updates := make(map[string]any)
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.CanvasWidth != nil {
		updates["canvas_width"] = *req.CanvasWidth
	}
	if req.CanvasHeight != nil {
		updates["canvas_height"] = *req.CanvasHeight
	}
	if req.Background != nil {
		updates["background"] = *req.Background
	}

	canvasWidth := layout.CanvasWidth
	if req.CanvasWidth != nil {
		canvasWidth = *req.CanvasWidth
	}
	canvasHeight := layout.CanvasHeight
	if req.CanvasHeight != nil {
		canvasHeight = *req.CanvasHeight
	}

	tx := a.db.WithContext(r.Context()).Begin()

	if len(updates) > 0 {
		if err := tx.Model(&layout).Updates(updates).Error; err != nil {
			tx.Rollback()
			writeError(w, http.StatusInternalServerError, "update_failed")
			return
		}
	}

	// Replacing regions invalidates assignments pointing at the removed
	// ones; those are dropped with the regions.
	if req.Regions != nil {
		if code := validRegions(canvasWidth, canvasHeight, *req.Regions); code != "" {
			tx.Rollback()
			writeError(w, http.StatusBadRequest, code)
			return
		}

		oldIDs := make([]string, 0, len(layout.Regions))
		for _, reg := range layout.Regions {
			oldIDs = append(oldIDs, reg.ID)
		}
		if len(oldIDs) > 0 {
			var assignmentIDs []string
			if err := tx.Model(&models.Assignment{}).Where("region_id IN ?", oldIDs).Pluck("id", &assignmentIDs).Error; err != nil {
				tx.Rollback()
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			if len(assignmentIDs) > 0 {
				if err := tx.Where("assignment_id IN ?", assignmentIDs).Delete(&models.AssignmentEntry{}).Error; err != nil {
					tx.Rollback()
					writeError(w, http.StatusInternalServerError, "db_error")
					return
				}
				if err := tx.Where("id IN ?", assignmentIDs).Delete(&models.Assignment{}).Error; err != nil {
					tx.Rollback()
					writeError(w, http.StatusInternalServerError, "db_error")
					return
				}
			}
			if err := tx.Where("layout_id = ?", layoutID).Delete(&models.Region{}).Error; err != nil {
				tx.Rollback()
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
		}

		for _, reg := range *req.Regions {
			region := models.Region{
				ID:       uuid.NewString(),
				LayoutID: layoutID,
				Name:     reg.Name,
				X:        reg.X,
				Y:        reg.Y,
				Width:    reg.Width,
				Height:   reg.Height,
				ZIndex:   reg.ZIndex,
			}
			if err := tx.Create(&region).Error; err != nil {
				tx.Rollback()
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
		}
	}

	tx.Commit()

	if err := a.cache.InvalidateLayout(r.Context(), layoutID); err != nil {
		a.logger.Debug().Err(err).Msg("layout invalidation failed")
	}
	a.bus.Publish(events.EventLayoutUpdated, events.Payload{"layout_id": layoutID})

	a.db.WithContext(r.Context()).Preload("Regions").First(&layout, "id = ?", layoutID)
	writeJSON(w, http.StatusOK, layout)
}

func (a *API) handleLayoutsDelete(w http.ResponseWriter, r *http.Request) {
	layoutID := chi.URLParam(r, "layoutID")

	var layout models.Layout
	result := a.db.WithContext(r.Context()).First(&layout, "id = ?", layoutID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var playlistCount int64
	a.db.WithContext(r.Context()).Model(&models.Playlist{}).Where("layout_id = ?", layoutID).Count(&playlistCount)
	if playlistCount > 0 {
		writeError(w, http.StatusConflict, "layout_in_use")
		return
	}

	tx := a.db.WithContext(r.Context()).Begin()
	if err := tx.Where("layout_id = ?", layoutID).Delete(&models.Region{}).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if err := tx.Delete(&layout).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	tx.Commit()

	if err := a.cache.InvalidateLayout(r.Context(), layoutID); err != nil {
		a.logger.Debug().Err(err).Msg("layout invalidation failed")
	}
	a.bus.Publish(events.EventLayoutDeleted, events.Payload{"layout_id": layoutID})

	w.WriteHeader(http.StatusNoContent)
}
