/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package migration

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

// verifyImportDurations checks that imported videos ended up with a usable
// duration. A video with neither a display duration nor a detected duration
// will play on the conservative placeholder until a player reports back, so
// operators want to know about these up front.
func verifyImportDurations(ctx context.Context, db *gorm.DB, logger zerolog.Logger, jobID string, strict bool, result *Result) error {
	if jobID == "" {
		return nil
	}

	var total int64
	if err := db.WithContext(ctx).
		Model(&models.ContentItem{}).
		Where("import_job_id = ? AND type = ?", jobID, models.ContentVideo).
		Count(&total).Error; err != nil {
		return fmt.Errorf("duration verification count failed: %w", err)
	}
	if total == 0 {
		return nil
	}

	var zeroDuration int64
	if err := db.WithContext(ctx).
		Model(&models.ContentItem{}).
		Where("import_job_id = ? AND type = ? AND display_duration <= ? AND detected_duration <= ?",
			jobID, models.ContentVideo, 0, 0).
		Count(&zeroDuration).Error; err != nil {
		return fmt.Errorf("duration verification zero-count failed: %w", err)
	}

	if zeroDuration == 0 {
		return nil
	}

	if result.Skipped == nil {
		result.Skipped = map[string]int{}
	}
	result.Skipped["video_duration_unknown"] = int(zeroDuration)
	result.Warnings = append(result.Warnings, fmt.Sprintf("Duration verification: %d imported videos have no known duration", zeroDuration))
	logger.Warn().
		Str("job_id", jobID).
		Int64("imported_videos_total", total).
		Int64("zero_duration", zeroDuration).
		Bool("strict", strict).
		Msg("import duration verification found anomalies")

	if strict {
		return fmt.Errorf("duration verification failed: %d videos with no known duration", zeroDuration)
	}
	return nil
}

// sourceImportExists reports whether a content item from the given legacy
// source was already imported, so re-runs do not duplicate the library.
func sourceImportExists(ctx context.Context, db *gorm.DB, source SourceType, sourceID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&models.ContentItem{}).
		Where("import_source = ? AND import_source_id = ?", string(source), sourceID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
