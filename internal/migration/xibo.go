/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package migration

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/media"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

// XiboImporter reads a Xibo CMS database (restored into postgres) and maps
// displays, layouts, media and schedule events onto the signage models.
type XiboImporter struct {
	db           *gorm.DB
	mediaService *media.Service
	orphans      *media.OrphanScanner
	logger       zerolog.Logger
}

// NewXiboImporter creates a new Xibo importer.
func NewXiboImporter(db *gorm.DB, mediaService *media.Service, orphans *media.OrphanScanner, logger zerolog.Logger) *XiboImporter {
	return &XiboImporter{
		db:           db,
		mediaService: mediaService,
		orphans:      orphans,
		logger:       logger.With().Str("importer", "xibo").Logger(),
	}
}

// Validate checks if the migration can proceed.
func (x *XiboImporter) Validate(ctx context.Context, options Options) error {
	var errs ValidationErrors

	if options.XiboDSN == "" {
		errs = append(errs, ValidationError{
			Field:   "xibo_dsn",
			Message: "database DSN is required",
		})
	}

	if len(errs) == 0 {
		srcDB, err := x.connect(ctx, options)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "xibo_dsn",
				Message: fmt.Sprintf("failed to connect to Xibo database: %v", err),
			})
		} else {
			srcDB.Close()
		}
	}

	if options.XiboMediaPath != "" && !options.SkipMedia {
		if err := ValidateSourceDirectory(options.XiboMediaPath); err != nil {
			errs = append(errs, ValidationError{
				Field:   "xibo_media_path",
				Message: fmt.Sprintf("media path not usable: %v", err),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Analyze counts what an import would create without writing anything.
func (x *XiboImporter) Analyze(ctx context.Context, options Options) (*Result, error) {
	srcDB, err := x.connect(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("connect to xibo db: %w", err)
	}
	defer srcDB.Close()

	result := newResult()

	counts := []struct {
		query  string
		target *int
	}{
		{"SELECT COUNT(*) FROM display", &result.ScreensCreated},
		{"SELECT COUNT(*) FROM layout WHERE retired = 0", &result.LayoutsCreated},
		{"SELECT COUNT(*) FROM media WHERE type IN ('image', 'video')", &result.ContentItemsImported},
		{"SELECT COUNT(*) FROM layout WHERE retired = 0", &result.PlaylistsCreated},
		{"SELECT COUNT(*) FROM schedule", &result.SchedulesCreated},
	}
	for _, c := range counts {
		if err := srcDB.QueryRowContext(ctx, c.query).Scan(c.target); err != nil {
			return nil, fmt.Errorf("analyze query %q: %w", c.query, err)
		}
	}

	rows, err := srcDB.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM widget WHERE type NOT IN ('image', 'video', 'webpage') GROUP BY type`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var widgetType string
			var count int
			if err := rows.Scan(&widgetType, &count); err != nil {
				continue
			}
			result.Skipped["unsupported_widget_"+widgetType] = count
		}
	}

	result.Warnings = append(result.Warnings, "Dry run: no data was written")
	return result, nil
}

// Import performs the actual migration.
func (x *XiboImporter) Import(ctx context.Context, options Options, progressCallback ProgressCallback) (*Result, error) {
	startTime := time.Now()
	result := newResult()

	progress := Progress{Phase: "connecting", CurrentStep: "Connecting to Xibo database", StartTime: startTime}
	report := func(phase, step string, pct float64) {
		progress.Phase = phase
		progress.CurrentStep = step
		progress.Percentage = pct
		if progressCallback != nil {
			progressCallback(progress)
		}
	}
	report("connecting", "Connecting to Xibo database", 2)

	srcDB, err := x.connect(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("connect to xibo db: %w", err)
	}
	defer srcDB.Close()

	report("screens", "Importing displays", 10)
	if err := x.importScreens(ctx, srcDB, result, &progress); err != nil {
		return nil, fmt.Errorf("import screens: %w", err)
	}

	report("layouts", "Importing layouts and regions", 25)
	if err := x.importLayouts(ctx, srcDB, result, &progress); err != nil {
		return nil, fmt.Errorf("import layouts: %w", err)
	}

	report("content", "Importing media library", 40)
	if err := x.importContent(ctx, srcDB, options, result, &progress, progressCallback); err != nil {
		return nil, fmt.Errorf("import content: %w", err)
	}

	report("playlists", "Building region playlists", 70)
	if err := x.importPlaylists(ctx, srcDB, options, result, &progress); err != nil {
		return nil, fmt.Errorf("import playlists: %w", err)
	}

	if !options.SkipSchedules {
		report("schedules", "Importing schedule events", 85)
		if err := x.importSchedules(ctx, srcDB, result, &progress); err != nil {
			return nil, fmt.Errorf("import schedules: %w", err)
		}
	}

	report("verifying", "Verifying imported durations", 95)
	if err := verifyImportDurations(ctx, x.db, x.logger, options.JobID, options.DurationVerifyStrict, result); err != nil {
		return nil, err
	}

	report("done", "Import complete", 100)
	result.DurationSeconds = time.Since(startTime).Seconds()
	return result, nil
}

func (x *XiboImporter) connect(ctx context.Context, options Options) (*sql.DB, error) {
	srcDB, err := sql.Open("postgres", options.XiboDSN)
	if err != nil {
		return nil, err
	}
	if err := srcDB.PingContext(ctx); err != nil {
		srcDB.Close()
		return nil, err
	}
	return srcDB, nil
}

func (x *XiboImporter) importScreens(ctx context.Context, srcDB *sql.DB, result *Result, progress *Progress) error {
	rows, err := srcDB.QueryContext(ctx,
		`SELECT displayid, display, lastaccessdate FROM display ORDER BY displayid`)
	if err != nil {
		return fmt.Errorf("query displays: %w", err)
	}
	defer rows.Close()

	seenNames := make(map[string]bool)

	for rows.Next() {
		var (
			displayID  int64
			name       sql.NullString
			lastAccess sql.NullInt64
		)
		if err := rows.Scan(&displayID, &name, &lastAccess); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("display row skipped: %v", err))
			continue
		}

		progress.ScreensTotal++

		screenName := strings.TrimSpace(name.String)
		if screenName == "" {
			screenName = fmt.Sprintf("Display %d", displayID)
		}
		// Screen names are unique in the target schema.
		if seenNames[screenName] {
			screenName = fmt.Sprintf("%s (%d)", screenName, displayID)
		}
		seenNames[screenName] = true

		// A re-run maps the display onto the screen from the last import.
		var existing models.Screen
		if err := x.db.WithContext(ctx).First(&existing, "name = ?", screenName).Error; err == nil {
			result.Mappings[fmt.Sprintf("screen_%d", displayID)] = Mapping{
				OldID: fmt.Sprintf("%d", displayID),
				NewID: existing.ID,
				Type:  "screen",
				Name:  existing.Name,
			}
			result.Skipped["existing_screens"]++
			progress.ScreensImported++
			continue
		}

		screen := &models.Screen{
			ID:          uuid.NewString(),
			Name:        screenName,
			Description: "Imported from Xibo",
			Orientation: models.OrientationLandscape,
			Width:       1920,
			Height:      1080,
			Timezone:    "UTC",
			Active:      true,
		}
		if lastAccess.Valid && lastAccess.Int64 > 0 {
			seen := time.Unix(lastAccess.Int64, 0).UTC()
			screen.LastSeenAt = &seen
		}

		if err := x.db.WithContext(ctx).Create(screen).Error; err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("display %q failed: %v", screenName, err))
			continue
		}

		result.Mappings[fmt.Sprintf("screen_%d", displayID)] = Mapping{
			OldID: fmt.Sprintf("%d", displayID),
			NewID: screen.ID,
			Type:  "screen",
			Name:  screen.Name,
		}
		result.ScreensCreated++
		progress.ScreensImported++
	}

	x.logger.Info().Int("count", result.ScreensCreated).Msg("displays imported")
	return rows.Err()
}

func (x *XiboImporter) importLayouts(ctx context.Context, srcDB *sql.DB, result *Result, progress *Progress) error {
	rows, err := srcDB.QueryContext(ctx,
		`SELECT layoutid, layout, description, width, height, backgroundcolor
		   FROM layout WHERE retired = 0 ORDER BY layoutid`)
	if err != nil {
		return fmt.Errorf("query layouts: %w", err)
	}
	defer rows.Close()

	type srcLayout struct {
		id            int64
		name          string
		description   string
		width, height float64
		background    string
	}
	var layouts []srcLayout

	for rows.Next() {
		var (
			l           srcLayout
			name, desc  sql.NullString
			background  sql.NullString
			widthValue  sql.NullFloat64
			heightValue sql.NullFloat64
		)
		if err := rows.Scan(&l.id, &name, &desc, &widthValue, &heightValue, &background); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("layout row skipped: %v", err))
			continue
		}
		l.name = strings.TrimSpace(name.String)
		l.description = desc.String
		l.width = widthValue.Float64
		l.height = heightValue.Float64
		l.background = background.String
		layouts = append(layouts, l)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	progress.LayoutsTotal = len(layouts)

	for _, src := range layouts {
		if src.name == "" {
			src.name = fmt.Sprintf("Layout %d", src.id)
		}

		layout := &models.Layout{
			ID:           uuid.NewString(),
			Name:         src.name,
			Description:  src.description,
			CanvasWidth:  roundPositive(src.width, 1920),
			CanvasHeight: roundPositive(src.height, 1080),
			Background:   normalizeColor(src.background),
		}

		if err := x.importRegions(ctx, srcDB, src.id, layout, result); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("layout %q regions failed: %v", src.name, err))
			continue
		}

		if err := x.db.WithContext(ctx).Create(layout).Error; err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("layout %q failed: %v", src.name, err))
			continue
		}

		result.Mappings[fmt.Sprintf("layout_%d", src.id)] = Mapping{
			OldID: fmt.Sprintf("%d", src.id),
			NewID: layout.ID,
			Type:  "layout",
			Name:  layout.Name,
		}
		result.LayoutsCreated++
		progress.LayoutsImported++
	}

	x.logger.Info().Int("count", result.LayoutsCreated).Msg("layouts imported")
	return nil
}

func (x *XiboImporter) importRegions(ctx context.Context, srcDB *sql.DB, layoutID int64, layout *models.Layout, result *Result) error {
	rows, err := srcDB.QueryContext(ctx,
		`SELECT regionid, name, width, height, "top", "left", zindex
		   FROM region WHERE layoutid = $1 ORDER BY zindex, regionid`, layoutID)
	if err != nil {
		return fmt.Errorf("query regions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			regionID            int64
			name                sql.NullString
			width, height       sql.NullFloat64
			topValue, leftValue sql.NullFloat64
			zIndex              sql.NullInt64
		)
		if err := rows.Scan(&regionID, &name, &width, &height, &topValue, &leftValue, &zIndex); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("region row skipped: %v", err))
			continue
		}

		regionName := strings.TrimSpace(name.String)
		if regionName == "" {
			regionName = fmt.Sprintf("Region %d", regionID)
		}

		region := models.Region{
			ID:       uuid.NewString(),
			LayoutID: layout.ID,
			Name:     regionName,
			X:        int(math.Round(leftValue.Float64)),
			Y:        int(math.Round(topValue.Float64)),
			Width:    roundPositive(width.Float64, layout.CanvasWidth),
			Height:   roundPositive(height.Float64, layout.CanvasHeight),
			ZIndex:   int(zIndex.Int64),
		}
		layout.Regions = append(layout.Regions, region)

		result.Mappings[fmt.Sprintf("region_%d", regionID)] = Mapping{
			OldID: fmt.Sprintf("%d", regionID),
			NewID: region.ID,
			Type:  "region",
			Name:  region.Name,
		}
	}
	return rows.Err()
}

func (x *XiboImporter) importContent(ctx context.Context, srcDB *sql.DB, options Options, result *Result, progress *Progress, progressCallback ProgressCallback) error {
	rows, err := srcDB.QueryContext(ctx,
		`SELECT mediaid, name, type, duration, storedas, filesize
		   FROM media WHERE type IN ('image', 'video') ORDER BY mediaid`)
	if err != nil {
		return fmt.Errorf("query media: %w", err)
	}

	type srcMedia struct {
		id       int64
		name     string
		kind     string
		duration int64
		storedAs string
		fileSize int64
	}
	var items []srcMedia

	for rows.Next() {
		var (
			m        srcMedia
			name     sql.NullString
			kind     sql.NullString
			duration sql.NullInt64
			storedAs sql.NullString
			fileSize sql.NullInt64
		)
		if err := rows.Scan(&m.id, &name, &kind, &duration, &storedAs, &fileSize); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("media row skipped: %v", err))
			continue
		}
		m.name = strings.TrimSpace(name.String)
		m.kind = kind.String
		m.duration = duration.Int64
		m.storedAs = storedAs.String
		m.fileSize = fileSize.Int64
		items = append(items, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	progress.ContentTotal = len(items)

	// Files already sitting in the media root get adopted instead of copied.
	var orphansByHash map[string]*models.OrphanMedia
	if x.orphans != nil && !options.SkipMedia {
		orphansByHash, err = x.orphans.BuildOrphanHashMap(ctx)
		if err != nil {
			x.logger.Warn().Err(err).Msg("orphan hash map unavailable")
			orphansByHash = nil
		}
	}

	mediaAvailable := options.XiboMediaPath != "" && !options.SkipMedia
	fileOps := NewFileOperations(x.mediaService, x.logger)

	var copyJobs []FileCopyJob
	pendingByContentID := make(map[string]srcMedia)

	for _, m := range items {
		sourceID := fmt.Sprintf("%d", m.id)

		exists, err := sourceImportExists(ctx, x.db, SourceTypeXibo, sourceID)
		if err == nil && exists {
			result.Skipped["duplicate_media"]++
			result.Mappings[fmt.Sprintf("content_%d", m.id)] = Mapping{
				OldID:   sourceID,
				Type:    "content",
				Name:    m.name,
				Skipped: true,
				Reason:  "already imported",
			}
			continue
		}

		if m.name == "" {
			m.name = strings.TrimSuffix(m.storedAs, filepath.Ext(m.storedAs))
		}

		if !mediaAvailable {
			result.Skipped["media_files_skipped"]++
			result.Mappings[fmt.Sprintf("content_%d", m.id)] = Mapping{
				OldID:   sourceID,
				Type:    "content",
				Name:    m.name,
				Skipped: true,
				Reason:  "media copy disabled",
			}
			continue
		}

		sourcePath := ResolveFilePath(options.XiboMediaPath, m.storedAs)
		contentID := uuid.NewString()

		if orphansByHash != nil {
			if hash, err := FileSHA256(sourcePath); err == nil {
				if orphan, ok := orphansByHash[hash]; ok {
					if err := x.adoptOrphan(ctx, orphan, m.id, m.name, m.kind, m.duration, options.JobID, result); err == nil {
						progress.ContentImported++
						continue
					}
				}
			}
		}

		copyJobs = append(copyJobs, FileCopyJob{
			SourcePath: sourcePath,
			ContentID:  contentID,
			Filename:   m.storedAs,
			FileSize:   m.fileSize,
		})
		pendingByContentID[contentID] = m
	}

	if len(copyJobs) > 0 {
		copyOptions := DefaultCopyOptions()
		copyOptions.SourceRoot = options.XiboMediaPath
		copyOptions.ProgressCallback = func(copied, total int) {
			progress.FilesCopied = copied
			if progressCallback != nil {
				progressCallback(*progress)
			}
		}

		results, err := fileOps.CopyFiles(ctx, copyJobs, copyOptions)
		if err != nil {
			return fmt.Errorf("copy media files: %w", err)
		}

		for _, copied := range results {
			m := pendingByContentID[copied.ContentID]
			if !copied.Success {
				result.Skipped["missing_files"]++
				result.Warnings = append(result.Warnings, fmt.Sprintf("media %q not copied: %v", m.name, copied.Error))
				continue
			}

			item := &models.ContentItem{
				ID:             copied.ContentID,
				Name:           m.name,
				Type:           copied.Kind,
				StorageKey:     copied.StorageKey,
				SizeBytes:      copied.BytesCopied,
				ProbeState:     models.ProbePending,
				ImportSource:   string(SourceTypeXibo),
				ImportSourceID: fmt.Sprintf("%d", m.id),
				ImportJobID:    options.JobID,
				Metadata: map[string]any{
					"import_checksum": copied.Checksum,
					"import_path":     m.storedAs,
				},
			}
			// Xibo stores editor display time for images and native
			// runtime for videos in the same duration column.
			if m.duration > 0 {
				if copied.Kind == models.ContentImage {
					item.DisplayDuration = time.Duration(m.duration) * time.Second
				} else {
					item.DetectedDuration = time.Duration(m.duration) * time.Second
				}
			}

			if err := x.db.WithContext(ctx).Create(item).Error; err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("media %q failed: %v", m.name, err))
				continue
			}

			result.Mappings[fmt.Sprintf("content_%d", m.id)] = Mapping{
				OldID: fmt.Sprintf("%d", m.id),
				NewID: item.ID,
				Type:  "content",
				Name:  item.Name,
			}
			result.ContentItemsImported++
			progress.ContentImported++
		}
	}

	x.logger.Info().Int("count", result.ContentItemsImported).Msg("media imported")
	return nil
}

func (x *XiboImporter) adoptOrphan(ctx context.Context, orphan *models.OrphanMedia, mediaID int64, name, kind string, duration int64, jobID string, result *Result) error {
	sourceID := fmt.Sprintf("%d", mediaID)
	item, err := x.orphans.AdoptOrphanForImport(ctx, orphan, string(SourceTypeXibo), jobID, sourceID)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"import_source":    string(SourceTypeXibo),
		"import_source_id": sourceID,
		"import_job_id":    jobID,
	}
	if name != "" {
		updates["name"] = name
	}
	if duration > 0 && kind == "image" {
		updates["display_duration"] = time.Duration(duration) * time.Second
	}
	if err := x.db.WithContext(ctx).Model(&models.ContentItem{}).Where("id = ?", item.ID).Updates(updates).Error; err != nil {
		return err
	}

	result.Mappings[fmt.Sprintf("content_%d", mediaID)] = Mapping{
		OldID: sourceID,
		NewID: item.ID,
		Type:  "content",
		Name:  item.Name,
	}
	result.ContentItemsImported++
	result.Skipped["adopted_existing_files"]++
	return nil
}

type xiboWidget struct {
	widgetID     int64
	regionID     int64
	duration     int64
	useDuration  bool
	displayOrder int64
	mediaID      sql.NullInt64
	webURI       sql.NullString
}

func (x *XiboImporter) importPlaylists(ctx context.Context, srcDB *sql.DB, options Options, result *Result, progress *Progress) error {
	widgetsByRegion, err := x.loadWidgets(ctx, srcDB, result)
	if err != nil {
		return err
	}

	// One playlist per imported layout, one assignment per region that has widgets.
	layoutRows, err := srcDB.QueryContext(ctx,
		`SELECT layoutid, layout FROM layout WHERE retired = 0 ORDER BY layoutid`)
	if err != nil {
		return fmt.Errorf("query layouts for playlists: %w", err)
	}
	defer layoutRows.Close()

	type layoutRef struct {
		id   int64
		name string
	}
	var layouts []layoutRef
	for layoutRows.Next() {
		var ref layoutRef
		var name sql.NullString
		if err := layoutRows.Scan(&ref.id, &name); err != nil {
			continue
		}
		ref.name = strings.TrimSpace(name.String)
		layouts = append(layouts, ref)
	}
	if err := layoutRows.Err(); err != nil {
		return err
	}

	progress.PlaylistsTotal = len(layouts)

	for _, ref := range layouts {
		layoutMapping, ok := result.Mappings[fmt.Sprintf("layout_%d", ref.id)]
		if !ok {
			continue
		}

		regionIDs, err := x.layoutRegionIDs(ctx, srcDB, ref.id)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("playlist for layout %q failed: %v", ref.name, err))
			continue
		}

		playlist := &models.Playlist{
			ID:          uuid.NewString(),
			Name:        ref.name + " content",
			Description: "Imported from Xibo",
			LayoutID:    layoutMapping.NewID,
		}

		entriesTotal := 0
		for _, regionID := range regionIDs {
			widgets := widgetsByRegion[regionID]
			if len(widgets) == 0 {
				continue
			}

			regionMapping, ok := result.Mappings[fmt.Sprintf("region_%d", regionID)]
			if !ok {
				continue
			}

			assignment := models.Assignment{
				ID:         uuid.NewString(),
				PlaylistID: playlist.ID,
				RegionID:   regionMapping.NewID,
			}

			position := 0
			for _, w := range widgets {
				contentID, err := x.contentIDForWidget(ctx, w, options, result)
				if err != nil || contentID == "" {
					continue
				}

				entry := models.AssignmentEntry{
					ID:            uuid.NewString(),
					AssignmentID:  assignment.ID,
					ContentItemID: contentID,
					Position:      position,
				}
				if w.useDuration && w.duration > 0 {
					entry.DurationOverride = time.Duration(w.duration) * time.Second
				}
				assignment.Entries = append(assignment.Entries, entry)
				position++
			}

			if len(assignment.Entries) > 0 {
				playlist.Assignments = append(playlist.Assignments, assignment)
				entriesTotal += len(assignment.Entries)
			}
		}

		if len(playlist.Assignments) == 0 {
			result.Skipped["empty_playlists"]++
			continue
		}

		if err := x.db.WithContext(ctx).Create(playlist).Error; err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("playlist %q failed: %v", playlist.Name, err))
			continue
		}

		result.Mappings[fmt.Sprintf("playlist_layout_%d", ref.id)] = Mapping{
			OldID: fmt.Sprintf("%d", ref.id),
			NewID: playlist.ID,
			Type:  "playlist",
			Name:  playlist.Name,
		}
		result.PlaylistsCreated++
		progress.PlaylistsImported++

		x.logger.Debug().
			Str("playlist", playlist.Name).
			Int("assignments", len(playlist.Assignments)).
			Int("entries", entriesTotal).
			Msg("playlist imported")
	}

	x.logger.Info().Int("count", result.PlaylistsCreated).Msg("playlists imported")
	return nil
}

// loadWidgets reads media and webpage widgets grouped by their region.
func (x *XiboImporter) loadWidgets(ctx context.Context, srcDB *sql.DB, result *Result) (map[int64][]xiboWidget, error) {
	byRegion := make(map[int64][]xiboWidget)

	mediaRows, err := srcDB.QueryContext(ctx,
		`SELECT w.widgetid, p.regionid, w.duration, w.useduration, w.displayorder, lwm.mediaid
		   FROM widget w
		   JOIN playlist p ON p.playlistid = w.playlistid
		   JOIN lkwidgetmedia lwm ON lwm.widgetid = w.widgetid
		  WHERE p.regionid IS NOT NULL AND w.type IN ('image', 'video')
		  ORDER BY p.regionid, w.displayorder`)
	if err != nil {
		return nil, fmt.Errorf("query media widgets: %w", err)
	}
	for mediaRows.Next() {
		var w xiboWidget
		var useDuration sql.NullInt64
		if err := mediaRows.Scan(&w.widgetID, &w.regionID, &w.duration, &useDuration, &w.displayOrder, &w.mediaID); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("widget row skipped: %v", err))
			continue
		}
		w.useDuration = useDuration.Int64 != 0
		byRegion[w.regionID] = append(byRegion[w.regionID], w)
	}
	mediaRows.Close()
	if err := mediaRows.Err(); err != nil {
		return nil, err
	}

	webRows, err := srcDB.QueryContext(ctx,
		`SELECT w.widgetid, p.regionid, w.duration, w.useduration, w.displayorder, wo.value
		   FROM widget w
		   JOIN playlist p ON p.playlistid = w.playlistid
		   JOIN widgetoption wo ON wo.widgetid = w.widgetid AND wo.option = 'uri'
		  WHERE p.regionid IS NOT NULL AND w.type = 'webpage'
		  ORDER BY p.regionid, w.displayorder`)
	if err != nil {
		return nil, fmt.Errorf("query webpage widgets: %w", err)
	}
	for webRows.Next() {
		var w xiboWidget
		var useDuration sql.NullInt64
		if err := webRows.Scan(&w.widgetID, &w.regionID, &w.duration, &useDuration, &w.displayOrder, &w.webURI); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("widget row skipped: %v", err))
			continue
		}
		w.useDuration = useDuration.Int64 != 0
		byRegion[w.regionID] = append(byRegion[w.regionID], w)
	}
	webRows.Close()
	if err := webRows.Err(); err != nil {
		return nil, err
	}

	// Keep region playback order stable after merging the two widget kinds.
	for regionID := range byRegion {
		widgets := byRegion[regionID]
		sort.SliceStable(widgets, func(i, j int) bool {
			return widgets[i].displayOrder < widgets[j].displayOrder
		})
		byRegion[regionID] = widgets
	}

	return byRegion, nil
}

func (x *XiboImporter) layoutRegionIDs(ctx context.Context, srcDB *sql.DB, layoutID int64) ([]int64, error) {
	rows, err := srcDB.QueryContext(ctx,
		`SELECT regionid FROM region WHERE layoutid = $1 ORDER BY zindex, regionid`, layoutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// contentIDForWidget resolves a widget to an imported content item, creating
// web content items on demand since Xibo stores those inline in the widget.
func (x *XiboImporter) contentIDForWidget(ctx context.Context, w xiboWidget, options Options, result *Result) (string, error) {
	if w.mediaID.Valid {
		mapping, ok := result.Mappings[fmt.Sprintf("content_%d", w.mediaID.Int64)]
		if !ok || mapping.NewID == "" {
			result.Skipped["widget_media_missing"]++
			return "", nil
		}
		return mapping.NewID, nil
	}

	uri := strings.TrimSpace(w.webURI.String)
	if uri == "" {
		result.Skipped["widget_media_missing"]++
		return "", nil
	}

	// Reuse one web content item per distinct URI.
	key := "web_" + uri
	if mapping, ok := result.Mappings[key]; ok {
		return mapping.NewID, nil
	}

	item := &models.ContentItem{
		ID:             uuid.NewString(),
		Name:           uri,
		Type:           models.ContentWeb,
		SourceURI:      uri,
		ImportSource:   string(SourceTypeXibo),
		ImportSourceID: fmt.Sprintf("widget_%d", w.widgetID),
		ImportJobID:    options.JobID,
	}
	if w.duration > 0 {
		item.DisplayDuration = time.Duration(w.duration) * time.Second
	}
	if err := x.db.WithContext(ctx).Create(item).Error; err != nil {
		return "", err
	}

	result.Mappings[key] = Mapping{
		OldID: fmt.Sprintf("widget_%d", w.widgetID),
		NewID: item.ID,
		Type:  "content",
		Name:  item.Name,
	}
	result.ContentItemsImported++
	return item.ID, nil
}

func (x *XiboImporter) importSchedules(ctx context.Context, srcDB *sql.DB, result *Result, progress *Progress) error {
	rows, err := srcDB.QueryContext(ctx,
		`SELECT s.eventid, s.fromdt, s.todt, s.is_priority,
		        COALESCE(s.recurrence_type, ''), COALESCE(s.recurrence_detail, 0),
		        COALESCE(s.recurrence_range, 0), lcl.layoutid, ld.displayid
		   FROM schedule s
		   JOIN lkscheduledisplaygroup lsdg ON lsdg.eventid = s.eventid
		   JOIN lkdisplaydg ld ON ld.displaygroupid = lsdg.displaygroupid
		   JOIN lkcampaignlayout lcl ON lcl.campaignid = s.campaignid
		  ORDER BY s.eventid`)
	if err != nil {
		return fmt.Errorf("query schedule: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			eventID          int64
			fromDt, toDt     sql.NullInt64
			isPriority       sql.NullInt64
			recurrenceType   string
			recurrenceDetail int64
			recurrenceRange  sql.NullInt64
			layoutID         int64
			displayID        int64
		)
		if err := rows.Scan(&eventID, &fromDt, &toDt, &isPriority, &recurrenceType,
			&recurrenceDetail, &recurrenceRange, &layoutID, &displayID); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("schedule row skipped: %v", err))
			continue
		}

		progress.SchedulesTotal++

		screenMapping, ok := result.Mappings[fmt.Sprintf("screen_%d", displayID)]
		if !ok {
			result.Skipped["schedule_screen_missing"]++
			continue
		}
		playlistMapping, ok := result.Mappings[fmt.Sprintf("playlist_layout_%d", layoutID)]
		if !ok {
			result.Skipped["schedule_playlist_missing"]++
			continue
		}

		if !fromDt.Valid || fromDt.Int64 <= 0 {
			result.Skipped["schedule_invalid_window"]++
			continue
		}

		dtStart := time.Unix(fromDt.Int64, 0).UTC()
		durationMinutes := 60
		if toDt.Valid && toDt.Int64 > fromDt.Int64 {
			durationMinutes = int((toDt.Int64 - fromDt.Int64) / 60)
			if durationMinutes < 1 {
				durationMinutes = 1
			}
		}

		rrule, warn := xiboRecurrenceToRRule(recurrenceType, recurrenceDetail)
		if warn != "" {
			result.Skipped["recurrence_unmapped"]++
			result.Warnings = append(result.Warnings, fmt.Sprintf("event %d: %s", eventID, warn))
		}

		entry := &models.ScheduleEntry{
			ID:              uuid.NewString(),
			ScreenID:        screenMapping.NewID,
			PlaylistID:      playlistMapping.NewID,
			Name:            fmt.Sprintf("Imported: %s", playlistMapping.Name),
			RRule:           rrule,
			DTStart:         dtStart,
			Timezone:        "UTC",
			DurationMinutes: durationMinutes,
			Priority:        models.PriorityRegular,
			Active:          true,
		}
		if isPriority.Valid && isPriority.Int64 > 0 {
			entry.Priority = models.PriorityCampaign
		}
		if recurrenceRange.Valid && recurrenceRange.Int64 > 0 {
			dtEnd := time.Unix(recurrenceRange.Int64, 0).UTC()
			entry.DTEnd = &dtEnd
		}

		if err := x.db.WithContext(ctx).Create(entry).Error; err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("schedule event %d failed: %v", eventID, err))
			continue
		}

		result.Mappings[fmt.Sprintf("schedule_%d", eventID)] = Mapping{
			OldID: fmt.Sprintf("%d", eventID),
			NewID: entry.ID,
			Type:  "schedule",
			Name:  entry.Name,
		}
		result.SchedulesCreated++
		progress.SchedulesImported++
	}

	x.logger.Info().Int("count", result.SchedulesCreated).Msg("schedule events imported")
	return rows.Err()
}

// xiboRecurrenceToRRule maps Xibo recurrence settings onto an RRULE string.
// Sub-daily recurrence has no sensible playlist window equivalent and is
// dropped with a warning.
func xiboRecurrenceToRRule(recurrenceType string, detail int64) (string, string) {
	if detail < 1 {
		detail = 1
	}
	switch strings.ToLower(strings.TrimSpace(recurrenceType)) {
	case "":
		return "", ""
	case "day":
		return fmt.Sprintf("FREQ=DAILY;INTERVAL=%d", detail), ""
	case "week":
		return fmt.Sprintf("FREQ=WEEKLY;INTERVAL=%d", detail), ""
	case "month":
		return fmt.Sprintf("FREQ=MONTHLY;INTERVAL=%d", detail), ""
	case "year":
		return fmt.Sprintf("FREQ=YEARLY;INTERVAL=%d", detail), ""
	default:
		return "", fmt.Sprintf("recurrence type %q not mapped, event imported as one-shot", recurrenceType)
	}
}

func newResult() *Result {
	return &Result{
		Warnings: []string{},
		Skipped:  map[string]int{},
		Mappings: map[string]Mapping{},
	}
}

func roundPositive(v float64, fallback int) int {
	rounded := int(math.Round(v))
	if rounded <= 0 {
		return fallback
	}
	return rounded
}

func normalizeColor(c string) string {
	c = strings.TrimSpace(c)
	if c == "" {
		return "#000000"
	}
	if !strings.HasPrefix(c, "#") {
		return "#" + c
	}
	return c
}
