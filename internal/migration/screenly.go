/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/media"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

// ScreenlyImporter reads a Screenly OSE asset database (screenly.db) and maps
// its single-screen rotation onto a screen, a fullscreen layout and one
// playlist. Screenly has no layout concept, so everything lands in one region.
type ScreenlyImporter struct {
	db           *gorm.DB
	mediaService *media.Service
	logger       zerolog.Logger
}

// NewScreenlyImporter creates a new Screenly OSE importer.
func NewScreenlyImporter(db *gorm.DB, mediaService *media.Service, logger zerolog.Logger) *ScreenlyImporter {
	return &ScreenlyImporter{
		db:           db,
		mediaService: mediaService,
		logger:       logger.With().Str("importer", "screenly").Logger(),
	}
}

type screenlyAsset struct {
	assetID   string
	name      string
	uri       string
	mimetype  string
	duration  int64
	isEnabled bool
	playOrder int64
	startDate *time.Time
	endDate   *time.Time
}

// Validate checks if the migration can proceed.
func (s *ScreenlyImporter) Validate(ctx context.Context, options Options) error {
	var errs ValidationErrors

	if options.ScreenlyDBPath == "" {
		errs = append(errs, ValidationError{
			Field:   "screenly_db_path",
			Message: "path to screenly.db is required",
		})
	} else if _, err := os.Stat(options.ScreenlyDBPath); err != nil {
		errs = append(errs, ValidationError{
			Field:   "screenly_db_path",
			Message: fmt.Sprintf("database file not accessible: %v", err),
		})
	}

	if len(errs) == 0 {
		srcDB, err := s.connect(ctx, options)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "screenly_db_path",
				Message: fmt.Sprintf("failed to open assets database: %v", err),
			})
		} else {
			srcDB.Close()
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Analyze counts what an import would create without writing anything.
func (s *ScreenlyImporter) Analyze(ctx context.Context, options Options) (*Result, error) {
	srcDB, err := s.connect(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("open assets database: %w", err)
	}
	defer srcDB.Close()

	assets, err := s.loadAssets(ctx, srcDB)
	if err != nil {
		return nil, err
	}

	result := newResult()
	result.ScreensCreated = 1
	result.LayoutsCreated = 1
	result.PlaylistsCreated = 1
	for _, asset := range assets {
		if !asset.isEnabled {
			result.Skipped["disabled_assets"]++
			continue
		}
		switch asset.mimetype {
		case "image", "video", "webpage", "streaming":
			result.ContentItemsImported++
		default:
			result.Skipped["unsupported_mimetype_"+asset.mimetype]++
		}
	}

	result.Warnings = append(result.Warnings, "Dry run: no data was written")
	return result, nil
}

// Import performs the actual migration.
func (s *ScreenlyImporter) Import(ctx context.Context, options Options, progressCallback ProgressCallback) (*Result, error) {
	startTime := time.Now()
	result := newResult()

	progress := Progress{Phase: "connecting", CurrentStep: "Opening assets database", StartTime: startTime}
	report := func(phase, step string, pct float64) {
		progress.Phase = phase
		progress.CurrentStep = step
		progress.Percentage = pct
		if progressCallback != nil {
			progressCallback(progress)
		}
	}
	report("connecting", "Opening assets database", 5)

	srcDB, err := s.connect(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("open assets database: %w", err)
	}
	defer srcDB.Close()

	assets, err := s.loadAssets(ctx, srcDB)
	if err != nil {
		return nil, err
	}
	progress.ContentTotal = len(assets)

	report("screens", "Creating screen and layout", 15)
	screen, regionID, err := s.createScreenAndLayout(ctx, result)
	if err != nil {
		return nil, err
	}

	report("content", "Importing assets", 30)
	entries, err := s.importAssets(ctx, options, assets, result, &progress, progressCallback)
	if err != nil {
		return nil, err
	}

	report("playlists", "Building rotation playlist", 75)
	playlist, err := s.createPlaylist(ctx, result, regionID, entries)
	if err != nil {
		return nil, err
	}

	if !options.SkipSchedules && playlist != nil {
		report("schedules", "Creating rotation schedule", 85)
		if err := s.createSchedule(ctx, result, screen, playlist, &progress); err != nil {
			return nil, err
		}
	}

	report("verifying", "Verifying imported durations", 95)
	if err := verifyImportDurations(ctx, s.db, s.logger, options.JobID, options.DurationVerifyStrict, result); err != nil {
		return nil, err
	}

	report("done", "Import complete", 100)
	result.DurationSeconds = time.Since(startTime).Seconds()
	return result, nil
}

func (s *ScreenlyImporter) connect(ctx context.Context, options Options) (*sql.DB, error) {
	srcDB, err := sql.Open("sqlite3", options.ScreenlyDBPath)
	if err != nil {
		return nil, err
	}
	// Opening is lazy; prove the assets table is really there.
	var count int
	if err := srcDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM assets").Scan(&count); err != nil {
		srcDB.Close()
		return nil, fmt.Errorf("not a screenly assets database: %w", err)
	}
	return srcDB, nil
}

func (s *ScreenlyImporter) loadAssets(ctx context.Context, srcDB *sql.DB) ([]screenlyAsset, error) {
	rows, err := srcDB.QueryContext(ctx,
		`SELECT asset_id, name, uri, mimetype, duration, is_enabled, play_order, start_date, end_date
		   FROM assets ORDER BY play_order, asset_id`)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	var assets []screenlyAsset
	for rows.Next() {
		var (
			a         screenlyAsset
			name      sql.NullString
			uri       sql.NullString
			mimetype  sql.NullString
			duration  sql.NullString
			isEnabled sql.NullInt64
			playOrder sql.NullInt64
			startDate sql.NullString
			endDate   sql.NullString
		)
		if err := rows.Scan(&a.assetID, &name, &uri, &mimetype, &duration, &isEnabled, &playOrder, &startDate, &endDate); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		a.name = strings.TrimSpace(name.String)
		a.uri = strings.TrimSpace(uri.String)
		a.mimetype = strings.ToLower(strings.TrimSpace(mimetype.String))
		// Screenly stores duration as a string of seconds.
		if parsed, err := strconv.ParseInt(strings.TrimSpace(duration.String), 10, 64); err == nil {
			a.duration = parsed
		}
		a.isEnabled = isEnabled.Int64 != 0
		a.playOrder = playOrder.Int64
		a.startDate = parseScreenlyDate(startDate.String)
		a.endDate = parseScreenlyDate(endDate.String)
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (s *ScreenlyImporter) createScreenAndLayout(ctx context.Context, result *Result) (*models.Screen, string, error) {
	screen := &models.Screen{
		ID:          uuid.NewString(),
		Name:        "Screenly Player",
		Description: "Imported from Screenly OSE",
		Orientation: models.OrientationLandscape,
		Width:       1920,
		Height:      1080,
		Timezone:    "UTC",
		Active:      true,
	}

	// Screen names are unique; a re-run reuses the player from the last import.
	var existing models.Screen
	switch err := s.db.WithContext(ctx).First(&existing, "name = ?", screen.Name).Error; {
	case err == nil:
		screen = &existing
		result.Skipped["existing_screens"]++
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(screen).Error; err != nil {
			return nil, "", fmt.Errorf("create screen: %w", err)
		}
		result.ScreensCreated++
	default:
		return nil, "", fmt.Errorf("look up screen: %w", err)
	}
	result.Mappings["screen_main"] = Mapping{
		OldID: "screenly",
		NewID: screen.ID,
		Type:  "screen",
		Name:  screen.Name,
	}

	if screen.DefaultLayoutID != nil {
		var layout models.Layout
		err := s.db.WithContext(ctx).Preload("Regions").First(&layout, "id = ?", *screen.DefaultLayoutID).Error
		if err == nil && len(layout.Regions) > 0 {
			result.Mappings["layout_main"] = Mapping{
				OldID: "screenly",
				NewID: layout.ID,
				Type:  "layout",
				Name:  layout.Name,
			}
			return screen, layout.Regions[0].ID, nil
		}
	}

	region := models.Region{
		ID:     uuid.NewString(),
		Name:   "Main",
		X:      0,
		Y:      0,
		Width:  1920,
		Height: 1080,
		ZIndex: 0,
	}
	layout := &models.Layout{
		ID:           uuid.NewString(),
		Name:         "Screenly fullscreen",
		Description:  "Imported from Screenly OSE",
		CanvasWidth:  1920,
		CanvasHeight: 1080,
		Background:   "#000000",
		Regions:      []models.Region{region},
	}
	if err := s.db.WithContext(ctx).Create(layout).Error; err != nil {
		return nil, "", fmt.Errorf("create layout: %w", err)
	}
	result.Mappings["layout_main"] = Mapping{
		OldID: "screenly",
		NewID: layout.ID,
		Type:  "layout",
		Name:  layout.Name,
	}
	result.LayoutsCreated++

	// Point the screen at its layout so a load is one click after import.
	if err := s.db.WithContext(ctx).Model(screen).Update("default_layout_id", layout.ID).Error; err != nil {
		s.logger.Warn().Err(err).Msg("could not set default layout on imported screen")
	}

	return screen, layout.Regions[0].ID, nil
}

// importAssets creates content items and returns the ordered content IDs for
// the rotation playlist.
func (s *ScreenlyImporter) importAssets(ctx context.Context, options Options, assets []screenlyAsset, result *Result, progress *Progress, progressCallback ProgressCallback) ([]string, error) {
	var (
		ordered     []string
		copyJobs    []FileCopyJob
		pendingByID = make(map[string]screenlyAsset)
		flattened   bool
	)

	now := time.Now().UTC()

	for _, asset := range assets {
		if !asset.isEnabled {
			result.Skipped["disabled_assets"]++
			continue
		}
		if asset.endDate != nil && asset.endDate.Before(now) {
			result.Skipped["expired_assets"]++
			continue
		}
		if asset.startDate != nil && asset.startDate.After(now) {
			flattened = true
		}

		exists, err := sourceImportExists(ctx, s.db, SourceTypeScreenly, asset.assetID)
		if err == nil && exists {
			result.Skipped["duplicate_assets"]++
			continue
		}

		name := asset.name
		if name == "" {
			name = filepath.Base(asset.uri)
		}

		switch asset.mimetype {
		case "webpage", "streaming":
			item := &models.ContentItem{
				ID:             uuid.NewString(),
				Name:           name,
				SourceURI:      asset.uri,
				ImportSource:   string(SourceTypeScreenly),
				ImportSourceID: asset.assetID,
				ImportJobID:    options.JobID,
			}
			if asset.mimetype == "streaming" {
				item.Type = models.ContentLivestream
				item.IsLive = true
			} else {
				item.Type = models.ContentWeb
			}
			if asset.duration > 0 {
				item.DisplayDuration = time.Duration(asset.duration) * time.Second
			}
			if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("asset %q failed: %v", name, err))
				continue
			}
			result.Mappings["content_"+asset.assetID] = Mapping{
				OldID: asset.assetID,
				NewID: item.ID,
				Type:  "content",
				Name:  item.Name,
			}
			result.ContentItemsImported++
			progress.ContentImported++
			ordered = append(ordered, item.ID)

		case "image", "video":
			if options.SkipMedia {
				result.Skipped["media_files_skipped"]++
				continue
			}
			sourcePath := s.resolveAssetPath(options, asset)
			contentID := uuid.NewString()
			size, _ := GetFileSize(sourcePath)
			copyJobs = append(copyJobs, FileCopyJob{
				SourcePath: sourcePath,
				ContentID:  contentID,
				Filename:   assetFilename(asset),
				FileSize:   size,
			})
			pendingByID[contentID] = asset
			ordered = append(ordered, contentID)

		default:
			result.Skipped["unsupported_mimetype_"+asset.mimetype]++
		}
	}

	if flattened {
		result.Warnings = append(result.Warnings, "per-asset start dates flattened into a single rotation; review the imported schedule")
	}

	if len(copyJobs) > 0 {
		fileOps := NewFileOperations(s.mediaService, s.logger)
		copyOptions := DefaultCopyOptions()
		copyOptions.SourceRoot = options.ScreenlyMediaPath
		copyOptions.ProgressCallback = func(copied, total int) {
			progress.FilesCopied = copied
			if progressCallback != nil {
				progressCallback(*progress)
			}
		}

		results, err := fileOps.CopyFiles(ctx, copyJobs, copyOptions)
		if err != nil {
			return nil, fmt.Errorf("copy asset files: %w", err)
		}

		failed := make(map[string]bool)
		for _, copied := range results {
			asset := pendingByID[copied.ContentID]
			name := asset.name
			if name == "" {
				name = filepath.Base(asset.uri)
			}

			if !copied.Success {
				result.Skipped["missing_files"]++
				result.Warnings = append(result.Warnings, fmt.Sprintf("asset %q not copied: %v", name, copied.Error))
				failed[copied.ContentID] = true
				continue
			}

			item := &models.ContentItem{
				ID:             copied.ContentID,
				Name:           name,
				Type:           copied.Kind,
				StorageKey:     copied.StorageKey,
				SizeBytes:      copied.BytesCopied,
				ProbeState:     models.ProbePending,
				ImportSource:   string(SourceTypeScreenly),
				ImportSourceID: asset.assetID,
				ImportJobID:    options.JobID,
				Metadata: map[string]any{
					"import_checksum": copied.Checksum,
					"import_path":     asset.uri,
				},
			}
			// Screenly durations are editor display times for every kind.
			if asset.duration > 0 {
				item.DisplayDuration = time.Duration(asset.duration) * time.Second
			}

			if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("asset %q failed: %v", name, err))
				failed[copied.ContentID] = true
				continue
			}

			result.Mappings["content_"+asset.assetID] = Mapping{
				OldID: asset.assetID,
				NewID: item.ID,
				Type:  "content",
				Name:  item.Name,
			}
			result.ContentItemsImported++
			progress.ContentImported++
		}

		if len(failed) > 0 {
			kept := ordered[:0]
			for _, id := range ordered {
				if !failed[id] {
					kept = append(kept, id)
				}
			}
			ordered = kept
		}
	}

	return ordered, nil
}

func (s *ScreenlyImporter) resolveAssetPath(options Options, asset screenlyAsset) string {
	if filepath.IsAbs(asset.uri) {
		if _, err := os.Stat(asset.uri); err == nil {
			return asset.uri
		}
	}
	if options.ScreenlyMediaPath != "" {
		return filepath.Join(options.ScreenlyMediaPath, filepath.Base(asset.uri))
	}
	return asset.uri
}

func (s *ScreenlyImporter) createPlaylist(ctx context.Context, result *Result, regionID string, contentIDs []string) (*models.Playlist, error) {
	if len(contentIDs) == 0 {
		result.Skipped["empty_playlists"]++
		result.Warnings = append(result.Warnings, "no playable assets found; rotation playlist not created")
		return nil, nil
	}

	layoutMapping := result.Mappings["layout_main"]

	assignment := models.Assignment{
		ID:       uuid.NewString(),
		RegionID: regionID,
	}
	for i, contentID := range contentIDs {
		assignment.Entries = append(assignment.Entries, models.AssignmentEntry{
			ID:            uuid.NewString(),
			ContentItemID: contentID,
			Position:      i,
		})
	}

	playlist := &models.Playlist{
		ID:          uuid.NewString(),
		Name:        "Screenly rotation",
		Description: "Imported from Screenly OSE",
		LayoutID:    layoutMapping.NewID,
	}
	assignment.PlaylistID = playlist.ID
	for i := range assignment.Entries {
		assignment.Entries[i].AssignmentID = assignment.ID
	}
	playlist.Assignments = []models.Assignment{assignment}

	if err := s.db.WithContext(ctx).Create(playlist).Error; err != nil {
		return nil, fmt.Errorf("create playlist: %w", err)
	}

	result.Mappings["playlist_main"] = Mapping{
		OldID: "screenly",
		NewID: playlist.ID,
		Type:  "playlist",
		Name:  playlist.Name,
	}
	result.PlaylistsCreated++
	return playlist, nil
}

func (s *ScreenlyImporter) createSchedule(ctx context.Context, result *Result, screen *models.Screen, playlist *models.Playlist, progress *Progress) error {
	now := time.Now().UTC()
	dtStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	entry := &models.ScheduleEntry{
		ID:              uuid.NewString(),
		ScreenID:        screen.ID,
		PlaylistID:      playlist.ID,
		Name:            "Screenly rotation",
		RRule:           "FREQ=DAILY",
		DTStart:         dtStart,
		Timezone:        "UTC",
		DurationMinutes: 24 * 60,
		Priority:        models.PriorityRegular,
		Active:          true,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}

	result.Mappings["schedule_main"] = Mapping{
		OldID: "screenly",
		NewID: entry.ID,
		Type:  "schedule",
		Name:  entry.Name,
	}
	result.SchedulesCreated++
	progress.SchedulesImported++
	return nil
}

func assetFilename(asset screenlyAsset) string {
	base := filepath.Base(asset.uri)
	if filepath.Ext(base) != "" {
		return base
	}
	// Bare md5 filenames carry no extension; guess one from the mimetype so
	// the upload path can classify the asset.
	switch asset.mimetype {
	case "image":
		return base + ".jpg"
	case "video":
		return base + ".mp4"
	}
	return base
}

func parseScreenlyDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05.999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
