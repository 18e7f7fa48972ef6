/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package integrity scans the catalog for broken references: content
// rows whose media files vanished, playlist wiring that points at
// deleted records, and screens left without any schedule. Findings are
// reported with a repair path where one exists.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/media"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

type FindingType string

const (
	FindingContentMissingFile    FindingType = "content_missing_file"
	FindingOrphanAssignmentEntry FindingType = "orphan_assignment_entry"
	FindingOrphanAssignment      FindingType = "orphan_assignment"
	FindingOrphanScheduleEntry   FindingType = "orphan_schedule_entry"
	FindingScreenWithoutSchedule FindingType = "screen_without_schedule"
	FindingLayoutWithoutRegions  FindingType = "layout_without_regions"
)

type Finding struct {
	ID         string
	Type       FindingType
	Severity   string
	Summary    string
	ScreenID   *string
	ResourceID string
	Repairable bool
	Details    map[string]any
}

type Report struct {
	GeneratedAt time.Time
	Total       int
	ByType      map[FindingType]int
	Findings    []Finding
}

type RepairInput struct {
	Type       FindingType
	ResourceID string
}

type RepairResult struct {
	Changed bool
	Message string
	Details map[string]any
}

type Service struct {
	db     *gorm.DB
	media  *media.Service
	logger zerolog.Logger
}

func NewService(db *gorm.DB, mediaSvc *media.Service, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		media:  mediaSvc,
		logger: logger.With().Str("component", "integrity").Logger(),
	}
}

func (s *Service) Scan(ctx context.Context) (*Report, error) {
	findings := make([]Finding, 0, 32)

	added, err := s.scanContentMissingFiles(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	added, err = s.scanOrphanAssignmentEntries(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	added, err = s.scanOrphanAssignments(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	added, err = s.scanOrphanScheduleEntries(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	added, err = s.scanScreensWithoutSchedule(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	added, err = s.scanLayoutsWithoutRegions(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	byType := make(map[FindingType]int)
	for _, f := range findings {
		byType[f.Type]++
	}

	report := &Report{
		GeneratedAt: time.Now().UTC(),
		Total:       len(findings),
		ByType:      byType,
		Findings:    findings,
	}

	if report.Total > 0 {
		s.logger.Warn().Int("total_findings", report.Total).Interface("by_type", byType).Msg("integrity scan completed with findings")
	} else {
		s.logger.Info().Msg("integrity scan completed with no findings")
	}

	return report, nil
}

func (s *Service) Repair(ctx context.Context, input RepairInput) (RepairResult, error) {
	switch input.Type {
	case FindingContentMissingFile:
		return s.repairContentMissingFile(ctx, input)
	case FindingOrphanAssignmentEntry:
		return s.repairOrphanAssignmentEntry(ctx, input)
	case FindingOrphanAssignment:
		return s.repairOrphanAssignment(ctx, input)
	case FindingOrphanScheduleEntry:
		return s.repairOrphanScheduleEntry(ctx, input)
	default:
		return RepairResult{}, fmt.Errorf("unsupported finding type: %s", input.Type)
	}
}

// scanContentMissingFiles finds stored content whose backing object is
// gone. Web, text, and livestream items have no storage key and are
// skipped.
func (s *Service) scanContentMissingFiles(ctx context.Context) ([]Finding, error) {
	var items []models.ContentItem
	if err := s.db.WithContext(ctx).
		Select("id, name, type, storage_key").
		Where("storage_key <> ''").
		Find(&items).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0)
	for _, item := range items {
		ok, err := s.media.Exists(ctx, item.StorageKey)
		if err != nil {
			s.logger.Warn().Err(err).Str("content_id", item.ID).Msg("storage check failed during scan")
			continue
		}
		if ok {
			continue
		}
		findings = append(findings, Finding{
			ID:         findingID(FindingContentMissingFile, item.ID),
			Type:       FindingContentMissingFile,
			Severity:   "high",
			Summary:    "Content item's media file is missing from storage",
			ResourceID: item.ID,
			Repairable: true,
			Details: map[string]any{
				"content_name": item.Name,
				"content_type": string(item.Type),
				"storage_key":  item.StorageKey,
			},
		})
	}
	return findings, nil
}

func (s *Service) scanOrphanAssignmentEntries(ctx context.Context) ([]Finding, error) {
	type row struct {
		ID            string
		AssignmentID  string
		ContentItemID string
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Table("assignment_entries ae").
		Select("ae.id, ae.assignment_id, ae.content_item_id").
		Joins("LEFT JOIN content_items ci ON ci.id = ae.content_item_id").
		Where("ci.id IS NULL").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		findings = append(findings, Finding{
			ID:         findingID(FindingOrphanAssignmentEntry, r.ID),
			Type:       FindingOrphanAssignmentEntry,
			Severity:   "medium",
			Summary:    "Playlist entry references deleted content",
			ResourceID: r.ID,
			Repairable: true,
			Details: map[string]any{
				"assignment_id":   r.AssignmentID,
				"content_item_id": r.ContentItemID,
			},
		})
	}
	return findings, nil
}

func (s *Service) scanOrphanAssignments(ctx context.Context) ([]Finding, error) {
	type row struct {
		ID              string
		PlaylistID      string
		RegionID        string
		MissingPlaylist bool
		MissingRegion   bool
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Table("assignments a").
		Select(`
			a.id, a.playlist_id, a.region_id,
			(p.id IS NULL) AS missing_playlist,
			(r.id IS NULL) AS missing_region
		`).
		Joins("LEFT JOIN playlists p ON p.id = a.playlist_id").
		Joins("LEFT JOIN regions r ON r.id = a.region_id").
		Where("p.id IS NULL OR r.id IS NULL").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		findings = append(findings, Finding{
			ID:         findingID(FindingOrphanAssignment, r.ID),
			Type:       FindingOrphanAssignment,
			Severity:   "high",
			Summary:    "Region assignment references missing records",
			ResourceID: r.ID,
			Repairable: true,
			Details: map[string]any{
				"playlist_id":      r.PlaylistID,
				"region_id":        r.RegionID,
				"missing_playlist": r.MissingPlaylist,
				"missing_region":   r.MissingRegion,
			},
		})
	}
	return findings, nil
}

func (s *Service) scanOrphanScheduleEntries(ctx context.Context) ([]Finding, error) {
	type row struct {
		ID              string
		Name            string
		ScreenID        string
		PlaylistID      string
		MissingScreen   bool
		MissingPlaylist bool
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Table("schedule_entries se").
		Select(`
			se.id, se.name, se.screen_id, se.playlist_id,
			(s.id IS NULL) AS missing_screen,
			(p.id IS NULL) AS missing_playlist
		`).
		Joins("LEFT JOIN screens s ON s.id = se.screen_id").
		Joins("LEFT JOIN playlists p ON p.id = se.playlist_id").
		Where("s.id IS NULL OR p.id IS NULL").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		screenID := r.ScreenID
		findings = append(findings, Finding{
			ID:         findingID(FindingOrphanScheduleEntry, r.ID),
			Type:       FindingOrphanScheduleEntry,
			Severity:   "high",
			Summary:    "Schedule entry references missing records",
			ScreenID:   &screenID,
			ResourceID: r.ID,
			Repairable: true,
			Details: map[string]any{
				"entry_name":       r.Name,
				"screen_id":        r.ScreenID,
				"playlist_id":      r.PlaylistID,
				"missing_screen":   r.MissingScreen,
				"missing_playlist": r.MissingPlaylist,
			},
		})
	}
	return findings, nil
}

// scanScreensWithoutSchedule is advisory: an enabled screen with no
// active schedule entries shows the idle card unless someone drives it
// by hand.
func (s *Service) scanScreensWithoutSchedule(ctx context.Context) ([]Finding, error) {
	type row struct {
		ID   string
		Name string
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Table("screens").
		Select("screens.id, screens.name").
		Joins("LEFT JOIN schedule_entries se ON se.screen_id = screens.id AND se.active = ?", true).
		Where("screens.active = ?", true).
		Where("se.id IS NULL").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		screenID := r.ID
		findings = append(findings, Finding{
			ID:         findingID(FindingScreenWithoutSchedule, r.ID),
			Type:       FindingScreenWithoutSchedule,
			Severity:   "low",
			Summary:    "Enabled screen has no active schedule entries",
			ScreenID:   &screenID,
			ResourceID: r.ID,
			Repairable: false,
			Details: map[string]any{
				"screen_name": r.Name,
			},
		})
	}
	return findings, nil
}

func (s *Service) scanLayoutsWithoutRegions(ctx context.Context) ([]Finding, error) {
	type row struct {
		ID   string
		Name string
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Table("layouts").
		Select("layouts.id, layouts.name").
		Joins("LEFT JOIN regions ON regions.layout_id = layouts.id").
		Where("regions.id IS NULL").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		findings = append(findings, Finding{
			ID:         findingID(FindingLayoutWithoutRegions, r.ID),
			Type:       FindingLayoutWithoutRegions,
			Severity:   "medium",
			Summary:    "Layout has no regions and renders nothing",
			ResourceID: r.ID,
			Repairable: false,
			Details: map[string]any{
				"layout_name": r.Name,
			},
		})
	}
	return findings, nil
}

func (s *Service) repairContentMissingFile(ctx context.Context, input RepairInput) (RepairResult, error) {
	var item models.ContentItem
	if err := s.db.WithContext(ctx).First(&item, "id = ?", input.ResourceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RepairResult{Changed: false, Message: "content item already removed"}, nil
		}
		return RepairResult{}, err
	}

	if item.StorageKey != "" {
		ok, err := s.media.Exists(ctx, item.StorageKey)
		if err != nil {
			return RepairResult{}, err
		}
		if ok {
			return RepairResult{Changed: false, Message: "file present; finding already resolved"}, nil
		}
	}

	entries := s.db.WithContext(ctx).Where("content_item_id = ?", item.ID).Delete(&models.AssignmentEntry{})
	if entries.Error != nil {
		return RepairResult{}, entries.Error
	}
	if err := s.db.WithContext(ctx).Where("content_id = ?", item.ID).Delete(&models.ProbeJob{}).Error; err != nil {
		return RepairResult{}, err
	}
	if err := s.db.WithContext(ctx).Delete(&item).Error; err != nil {
		return RepairResult{}, err
	}

	return RepairResult{
		Changed: true,
		Message: "deleted content item with missing file",
		Details: map[string]any{
			"content_name":            item.Name,
			"removed_playlist_usages": entries.RowsAffected,
		},
	}, nil
}

func (s *Service) repairOrphanAssignmentEntry(ctx context.Context, input RepairInput) (RepairResult, error) {
	var entry models.AssignmentEntry
	if err := s.db.WithContext(ctx).First(&entry, "id = ?", input.ResourceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RepairResult{Changed: false, Message: "assignment entry already removed"}, nil
		}
		return RepairResult{}, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.ContentItem{}).Where("id = ?", entry.ContentItemID).Count(&count).Error; err != nil {
		return RepairResult{}, err
	}
	if count > 0 {
		return RepairResult{Changed: false, Message: "content exists; finding already resolved"}, nil
	}

	if err := s.db.WithContext(ctx).Delete(&entry).Error; err != nil {
		return RepairResult{}, err
	}
	return RepairResult{Changed: true, Message: "deleted orphan assignment entry"}, nil
}

func (s *Service) repairOrphanAssignment(ctx context.Context, input RepairInput) (RepairResult, error) {
	var assignment models.Assignment
	if err := s.db.WithContext(ctx).First(&assignment, "id = ?", input.ResourceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RepairResult{Changed: false, Message: "assignment already removed"}, nil
		}
		return RepairResult{}, err
	}

	var playlistCount int64
	if err := s.db.WithContext(ctx).Model(&models.Playlist{}).Where("id = ?", assignment.PlaylistID).Count(&playlistCount).Error; err != nil {
		return RepairResult{}, err
	}
	var regionCount int64
	if err := s.db.WithContext(ctx).Model(&models.Region{}).Where("id = ?", assignment.RegionID).Count(&regionCount).Error; err != nil {
		return RepairResult{}, err
	}
	if playlistCount > 0 && regionCount > 0 {
		return RepairResult{Changed: false, Message: "assignment is no longer orphaned"}, nil
	}

	entries := s.db.WithContext(ctx).Where("assignment_id = ?", assignment.ID).Delete(&models.AssignmentEntry{})
	if entries.Error != nil {
		return RepairResult{}, entries.Error
	}
	if err := s.db.WithContext(ctx).Delete(&assignment).Error; err != nil {
		return RepairResult{}, err
	}

	return RepairResult{
		Changed: true,
		Message: "deleted orphan assignment",
		Details: map[string]any{"removed_entries": entries.RowsAffected},
	}, nil
}

func (s *Service) repairOrphanScheduleEntry(ctx context.Context, input RepairInput) (RepairResult, error) {
	var entry models.ScheduleEntry
	if err := s.db.WithContext(ctx).First(&entry, "id = ?", input.ResourceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RepairResult{Changed: false, Message: "schedule entry already removed"}, nil
		}
		return RepairResult{}, err
	}

	var screenCount int64
	if err := s.db.WithContext(ctx).Model(&models.Screen{}).Where("id = ?", entry.ScreenID).Count(&screenCount).Error; err != nil {
		return RepairResult{}, err
	}
	var playlistCount int64
	if err := s.db.WithContext(ctx).Model(&models.Playlist{}).Where("id = ?", entry.PlaylistID).Count(&playlistCount).Error; err != nil {
		return RepairResult{}, err
	}
	if screenCount > 0 && playlistCount > 0 {
		return RepairResult{Changed: false, Message: "schedule entry is no longer orphaned"}, nil
	}

	if err := s.db.WithContext(ctx).Delete(&entry).Error; err != nil {
		return RepairResult{}, err
	}
	return RepairResult{Changed: true, Message: "deleted orphan schedule entry"}, nil
}

func findingID(t FindingType, resourceID string) string {
	return fmt.Sprintf("%s|%s", t, resourceID)
}
