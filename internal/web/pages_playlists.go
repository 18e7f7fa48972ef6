/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

// RegionEntries groups one region of the playlist's layout with the
// entries assigned to it, for the per-region editor.
type RegionEntries struct {
	Region     models.Region
	Assignment *models.Assignment
	Entries    []EntryRow
	TotalTime  time.Duration
}

// EntryRow pairs an assignment entry with its resolved content item.
type EntryRow struct {
	Entry   models.AssignmentEntry
	Content models.ContentItem
}

// PlaylistList renders the playlists page
func (h *Handler) PlaylistList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	dbQuery := h.db.Model(&models.Playlist{}).Preload("Assignments.Entries")
	if query != "" {
		dbQuery = dbQuery.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(query)+"%")
	}

	var playlists []models.Playlist
	dbQuery.Order("name ASC").Find(&playlists)

	// Layout names for the table
	layoutNames := make(map[string]string)
	var layouts []models.Layout
	h.db.Select("id, name").Find(&layouts)
	for _, l := range layouts {
		layoutNames[l.ID] = l.Name
	}

	h.Render(w, r, "pages/dashboard/playlists/list", PageData{
		Title: "Playlists",
		Data: map[string]any{
			"Playlists":   playlists,
			"LayoutNames": layoutNames,
			"Layouts":     layouts,
			"Query":       query,
		},
	})
}

// PlaylistCreate handles playlist creation
func (h *Handler) PlaylistCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	name := r.FormValue("name")
	if name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}
	layoutID := r.FormValue("layout_id")
	if layoutID == "" {
		http.Error(w, "Layout is required", http.StatusBadRequest)
		return
	}

	var layout models.Layout
	if err := h.db.First(&layout, "id = ?", layoutID).Error; err != nil {
		http.Error(w, "Layout not found", http.StatusBadRequest)
		return
	}

	playlist := models.Playlist{
		ID:          uuid.New().String(),
		Name:        name,
		Description: r.FormValue("description"),
		LayoutID:    layoutID,
	}

	if err := h.db.Create(&playlist).Error; err != nil {
		h.logger.Error().Err(err).Msg("failed to create playlist")
		http.Error(w, "Failed to create playlist", http.StatusInternalServerError)
		return
	}

	h.eventBus.Publish(events.EventPlaylistCreated, events.Payload{
		"playlist_id": playlist.ID,
		"name":        playlist.Name,
	})

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/playlists/"+playlist.ID)
		return
	}

	http.Redirect(w, r, "/dashboard/playlists/"+playlist.ID, http.StatusSeeOther)
}

// PlaylistDetail renders the per-region playlist editor
func (h *Handler) PlaylistDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var playlist models.Playlist
	if err := h.db.Preload("Assignments.Entries").First(&playlist, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	var layout models.Layout
	if err := h.db.Preload("Regions").First(&layout, "id = ?", playlist.LayoutID).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	// Content items for the add-entry picker
	var content []models.ContentItem
	h.db.Order("name ASC").Find(&content)
	contentByID := make(map[string]models.ContentItem, len(content))
	for _, c := range content {
		contentByID[c.ID] = c
	}

	regions := buildRegionEntries(layout, playlist, contentByID)

	// Schedule entries that play this playlist, for the usage panel
	var schedules []models.ScheduleEntry
	h.db.Preload("Screen").Where("playlist_id = ?", id).Order("dt_start ASC").Find(&schedules)

	h.Render(w, r, "pages/dashboard/playlists/detail", PageData{
		Title: playlist.Name,
		Data: map[string]any{
			"Playlist":  playlist,
			"Layout":    layout,
			"Regions":   regions,
			"Content":   content,
			"Schedules": schedules,
		},
	})
}

// buildRegionEntries resolves each region's assignment into ordered
// entry rows. Regions without an assignment show up empty.
func buildRegionEntries(layout models.Layout, playlist models.Playlist, contentByID map[string]models.ContentItem) []RegionEntries {
	byRegion := make(map[string]*models.Assignment, len(playlist.Assignments))
	for i := range playlist.Assignments {
		byRegion[playlist.Assignments[i].RegionID] = &playlist.Assignments[i]
	}

	regions := make([]RegionEntries, 0, len(layout.Regions))
	for _, region := range layout.Regions {
		re := RegionEntries{Region: region}
		if assignment := byRegion[region.ID]; assignment != nil {
			re.Assignment = assignment
			entries := make([]models.AssignmentEntry, len(assignment.Entries))
			copy(entries, assignment.Entries)
			sort.Slice(entries, func(i, j int) bool { return entries[i].Position < entries[j].Position })
			for _, entry := range entries {
				row := EntryRow{Entry: entry, Content: contentByID[entry.ContentItemID]}
				re.Entries = append(re.Entries, row)
				if entry.DurationOverride > 0 {
					re.TotalTime += entry.DurationOverride
				} else if row.Content.DisplayDuration > 0 {
					re.TotalTime += row.Content.DisplayDuration
				} else if row.Content.DetectedDuration > 0 {
					re.TotalTime += row.Content.DetectedDuration
				}
			}
		}
		regions = append(regions, re)
	}

	sort.Slice(regions, func(i, j int) bool { return regions[i].Region.ZIndex < regions[j].Region.ZIndex })
	return regions
}

// PlaylistUpdate handles playlist rename
func (h *Handler) PlaylistUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var playlist models.Playlist
	if err := h.db.First(&playlist, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	if name := r.FormValue("name"); name != "" {
		playlist.Name = name
	}
	playlist.Description = r.FormValue("description")

	if err := h.db.Save(&playlist).Error; err != nil {
		http.Error(w, "Failed to update playlist", http.StatusInternalServerError)
		return
	}

	h.eventBus.Publish(events.EventPlaylistUpdated, events.Payload{"playlist_id": id})

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/playlists/"+id)
		return
	}

	http.Redirect(w, r, "/dashboard/playlists/"+id, http.StatusSeeOther)
}

// PlaylistDelete handles playlist deletion
func (h *Handler) PlaylistDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var playlist models.Playlist
	if err := h.db.First(&playlist, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	// Refuse while the schedule still references the playlist
	var scheduleCount int64
	h.db.Model(&models.ScheduleEntry{}).Where("playlist_id = ?", id).Count(&scheduleCount)
	if scheduleCount > 0 {
		http.Error(w, "Playlist is referenced by the schedule", http.StatusConflict)
		return
	}

	tx := h.db.Begin()
	if tx.Error != nil {
		http.Error(w, "Failed to delete playlist", http.StatusInternalServerError)
		return
	}

	var assignmentIDs []string
	tx.Model(&models.Assignment{}).Where("playlist_id = ?", id).Pluck("id", &assignmentIDs)
	if len(assignmentIDs) > 0 {
		if err := tx.Where("assignment_id IN ?", assignmentIDs).Delete(&models.AssignmentEntry{}).Error; err != nil {
			tx.Rollback()
			http.Error(w, "Failed to delete playlist", http.StatusInternalServerError)
			return
		}
	}
	if err := tx.Where("playlist_id = ?", id).Delete(&models.Assignment{}).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Failed to delete playlist", http.StatusInternalServerError)
		return
	}
	if err := tx.Delete(&playlist).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Failed to delete playlist", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Failed to delete playlist", http.StatusInternalServerError)
		return
	}

	h.eventBus.Publish(events.EventPlaylistDeleted, events.Payload{"playlist_id": id})

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/playlists")
		return
	}

	http.Redirect(w, r, "/dashboard/playlists", http.StatusSeeOther)
}

// PlaylistAddEntry appends a content item to one region's sequence
func (h *Handler) PlaylistAddEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var playlist models.Playlist
	if err := h.db.First(&playlist, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	regionID := r.FormValue("region_id")
	contentID := r.FormValue("content_item_id")
	if regionID == "" || contentID == "" {
		http.Error(w, "Region and content are required", http.StatusBadRequest)
		return
	}

	// The region must belong to the playlist's layout
	var region models.Region
	if err := h.db.First(&region, "id = ? AND layout_id = ?", regionID, playlist.LayoutID).Error; err != nil {
		http.Error(w, "Region not in layout", http.StatusBadRequest)
		return
	}
	var item models.ContentItem
	if err := h.db.First(&item, "id = ?", contentID).Error; err != nil {
		http.Error(w, "Content not found", http.StatusBadRequest)
		return
	}

	var override time.Duration
	if raw := r.FormValue("duration_override_seconds"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs < 0 {
			http.Error(w, "Invalid duration override", http.StatusBadRequest)
			return
		}
		override = time.Duration(secs * float64(time.Second))
	}

	// Find or create the region's assignment
	var assignment models.Assignment
	err := h.db.First(&assignment, "playlist_id = ? AND region_id = ?", id, regionID).Error
	if err != nil {
		assignment = models.Assignment{
			ID:         uuid.New().String(),
			PlaylistID: id,
			RegionID:   regionID,
		}
		if err := h.db.Create(&assignment).Error; err != nil {
			http.Error(w, "Failed to add entry", http.StatusInternalServerError)
			return
		}
	}

	var maxPos int
	h.db.Model(&models.AssignmentEntry{}).
		Where("assignment_id = ?", assignment.ID).
		Select("COALESCE(MAX(position), -1)").
		Scan(&maxPos)

	entry := models.AssignmentEntry{
		ID:               uuid.New().String(),
		AssignmentID:     assignment.ID,
		ContentItemID:    contentID,
		Position:         maxPos + 1,
		DurationOverride: override,
	}
	if err := h.db.Create(&entry).Error; err != nil {
		http.Error(w, "Failed to add entry", http.StatusInternalServerError)
		return
	}

	h.eventBus.Publish(events.EventPlaylistUpdated, events.Payload{"playlist_id": id})

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/playlists/"+id)
		return
	}

	http.Redirect(w, r, "/dashboard/playlists/"+id, http.StatusSeeOther)
}

// PlaylistRemoveEntry removes one entry and closes the position gap
func (h *Handler) PlaylistRemoveEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entryID := chi.URLParam(r, "entryID")

	var entry models.AssignmentEntry
	err := h.db.
		Joins("JOIN assignments ON assignments.id = assignment_entries.assignment_id").
		Where("assignment_entries.id = ? AND assignments.playlist_id = ?", entryID, id).
		First(&entry).Error
	if err != nil {
		http.NotFound(w, r)
		return
	}

	tx := h.db.Begin()
	if tx.Error != nil {
		http.Error(w, "Failed to remove entry", http.StatusInternalServerError)
		return
	}
	if err := tx.Delete(&models.AssignmentEntry{}, "id = ?", entryID).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Failed to remove entry", http.StatusInternalServerError)
		return
	}
	// Shift later entries down so positions stay contiguous
	if err := tx.Model(&models.AssignmentEntry{}).
		Where("assignment_id = ? AND position > ?", entry.AssignmentID, entry.Position).
		Update("position", gorm.Expr("position - 1")).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Failed to remove entry", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Failed to remove entry", http.StatusInternalServerError)
		return
	}

	h.eventBus.Publish(events.EventPlaylistUpdated, events.Payload{"playlist_id": id})

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/playlists/"+id)
		return
	}

	http.Redirect(w, r, "/dashboard/playlists/"+id, http.StatusSeeOther)
}

// PlaylistReorderEntries rewrites positions for one region from the
// submitted DOM order. The sortable widget posts entry_id repeated in
// the new order plus the assignment_id it belongs to.
func (h *Handler) PlaylistReorderEntries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	assignmentID := r.FormValue("assignment_id")
	entryIDs := r.Form["entry_id"]
	if assignmentID == "" || len(entryIDs) == 0 {
		http.Error(w, "Nothing to reorder", http.StatusBadRequest)
		return
	}

	// The assignment must belong to this playlist
	var assignment models.Assignment
	if err := h.db.First(&assignment, "id = ? AND playlist_id = ?", assignmentID, id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	tx := h.db.Begin()
	if tx.Error != nil {
		http.Error(w, "Failed to reorder", http.StatusInternalServerError)
		return
	}
	for i, entryID := range entryIDs {
		result := tx.Model(&models.AssignmentEntry{}).
			Where("id = ? AND assignment_id = ?", entryID, assignmentID).
			Update("position", i)
		if result.Error != nil {
			tx.Rollback()
			http.Error(w, "Failed to reorder", http.StatusInternalServerError)
			return
		}
	}
	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Failed to reorder", http.StatusInternalServerError)
		return
	}

	h.eventBus.Publish(events.EventPlaylistUpdated, events.Payload{"playlist_id": id})

	// The DOM already shows the new order; nothing to swap
	w.WriteHeader(http.StatusNoContent)
}
