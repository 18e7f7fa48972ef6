/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

// OrphanScanner scans the media root for asset files not in the database.
type OrphanScanner struct {
	db        *gorm.DB
	mediaRoot string
	logger    zerolog.Logger
}

// NewOrphanScanner creates a new orphan scanner.
func NewOrphanScanner(db *gorm.DB, mediaRoot string, logger zerolog.Logger) *OrphanScanner {
	return &OrphanScanner{
		db:        db,
		mediaRoot: mediaRoot,
		logger:    logger.With().Str("component", "orphan_scanner").Logger(),
	}
}

// ScanForOrphans walks the media root, finds files not in the database, and records them.
func (s *OrphanScanner) ScanForOrphans(ctx context.Context) (*models.ScanResult, error) {
	startTime := time.Now()
	result := &models.ScanResult{}

	s.logger.Info().Str("media_root", s.mediaRoot).Msg("starting orphan scan")

	// Get all known storage keys from the content library
	knownKeys, err := s.getKnownStorageKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("get known keys: %w", err)
	}

	s.logger.Debug().Int("known_keys", len(knownKeys)).Msg("loaded known storage keys")

	// Get already-tracked orphan paths
	orphanPaths, err := s.getOrphanPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("get orphan paths: %w", err)
	}

	// Walk the media directory
	err = filepath.Walk(s.mediaRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("error accessing path")
			result.Errors++
			return nil // Continue walking
		}

		// Check context for cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Skip directories
		if info.IsDir() {
			return nil
		}

		// Skip files that are not displayable assets
		if _, err := KindForFilename(info.Name()); err != nil {
			return nil
		}

		result.TotalFiles++

		// Get relative path
		relPath, err := filepath.Rel(s.mediaRoot, path)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("failed to get relative path")
			result.Errors++
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		// Check if this file is a known content item asset
		if _, known := knownKeys[relPath]; known {
			return nil
		}

		// Check if already tracked as orphan
		if _, tracked := orphanPaths[relPath]; tracked {
			result.AlreadyKnown++
			return nil
		}

		// This is a new orphan - compute hash and store
		orphan, err := s.createOrphanRecord(path, relPath, info)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", relPath).Msg("failed to create orphan record")
			result.Errors++
			return nil
		}

		if err := s.db.WithContext(ctx).Create(orphan).Error; err != nil {
			s.logger.Warn().Err(err).Str("path", relPath).Msg("failed to save orphan record")
			result.Errors++
			return nil
		}

		result.NewOrphans++
		result.TotalSize += info.Size()

		s.logger.Debug().
			Str("path", relPath).
			Str("hash", orphan.ContentHash[:12]).
			Int64("size", info.Size()).
			Msg("new orphan detected")

		return nil
	})

	if err != nil && err != context.Canceled {
		return nil, fmt.Errorf("walk media directory: %w", err)
	}

	result.Duration = time.Since(startTime)

	s.logger.Info().
		Int("total_files", result.TotalFiles).
		Int("new_orphans", result.NewOrphans).
		Int("already_known", result.AlreadyKnown).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("orphan scan complete")

	return result, nil
}

// GetOrphans returns a paginated list of orphan media records.
func (s *OrphanScanner) GetOrphans(ctx context.Context, page, pageSize int) ([]models.OrphanMedia, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 25
	}

	var orphans []models.OrphanMedia
	var total int64

	// Count total
	if err := s.db.WithContext(ctx).Model(&models.OrphanMedia{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count orphans: %w", err)
	}

	// Get page
	offset := (page - 1) * pageSize
	if err := s.db.WithContext(ctx).
		Order("detected_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&orphans).Error; err != nil {
		return nil, 0, fmt.Errorf("get orphans: %w", err)
	}

	return orphans, total, nil
}

// GetAllOrphans returns all orphan records (for import matching).
func (s *OrphanScanner) GetAllOrphans(ctx context.Context) ([]models.OrphanMedia, error) {
	var orphans []models.OrphanMedia
	if err := s.db.WithContext(ctx).Find(&orphans).Error; err != nil {
		return nil, fmt.Errorf("get all orphans: %w", err)
	}
	return orphans, nil
}

// GetOrphanByHash finds an orphan by content hash (for import matching).
func (s *OrphanScanner) GetOrphanByHash(ctx context.Context, hash string) (*models.OrphanMedia, error) {
	var orphan models.OrphanMedia
	if err := s.db.WithContext(ctx).Where("content_hash = ?", hash).First(&orphan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get orphan by hash: %w", err)
	}
	return &orphan, nil
}

// GetOrphanByID finds an orphan by ID.
func (s *OrphanScanner) GetOrphanByID(ctx context.Context, id string) (*models.OrphanMedia, error) {
	var orphan models.OrphanMedia
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&orphan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get orphan by id: %w", err)
	}
	return &orphan, nil
}

// AdoptOrphan converts an orphan file into a content item.
func (s *OrphanScanner) AdoptOrphan(ctx context.Context, orphanID string) (*models.ContentItem, error) {
	orphan, err := s.GetOrphanByID(ctx, orphanID)
	if err != nil {
		return nil, err
	}
	if orphan == nil {
		return nil, fmt.Errorf("orphan not found: %s", orphanID)
	}

	item := s.contentItemFromOrphan(orphan, nil)

	// Create in transaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(item).Error; err != nil {
			return fmt.Errorf("create content item: %w", err)
		}

		if err := tx.Delete(&models.OrphanMedia{}, "id = ?", orphanID).Error; err != nil {
			return fmt.Errorf("delete orphan: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("orphan_id", orphanID).
		Str("content_id", item.ID).
		Msg("orphan adopted as content item")

	return item, nil
}

// AdoptOrphanForImport adopts an orphan during an import run, recording
// provenance so re-imports can match it back to the source system.
func (s *OrphanScanner) AdoptOrphanForImport(ctx context.Context, orphan *models.OrphanMedia, source, jobID, sourceID string) (*models.ContentItem, error) {
	item := s.contentItemFromOrphan(orphan, map[string]any{
		"import_source":    source,
		"import_job_id":    jobID,
		"import_source_id": sourceID,
	})

	// Create in transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(item).Error; err != nil {
			return fmt.Errorf("create content item: %w", err)
		}

		if err := tx.Delete(&models.OrphanMedia{}, "id = ?", orphan.ID).Error; err != nil {
			return fmt.Errorf("delete orphan: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("orphan_id", orphan.ID).
		Str("content_id", item.ID).
		Str("import_job", jobID).
		Msg("orphan adopted during import")

	return item, nil
}

func (s *OrphanScanner) contentItemFromOrphan(orphan *models.OrphanMedia, metadata map[string]any) *models.ContentItem {
	item := &models.ContentItem{
		ID:               uuid.New().String(),
		Name:             orphan.Name,
		Type:             orphan.Kind,
		StorageKey:       orphan.FilePath,
		SizeBytes:        orphan.FileSize,
		Width:            orphan.Width,
		Height:           orphan.Height,
		DetectedDuration: orphan.Duration,
		Metadata:         metadata,
	}

	// Set default name from filename if not set
	if item.Name == "" {
		item.Name = strings.TrimSuffix(filepath.Base(orphan.FilePath), filepath.Ext(orphan.FilePath))
	}

	return item
}

// DeleteOrphan removes an orphan record and optionally the file.
func (s *OrphanScanner) DeleteOrphan(ctx context.Context, orphanID string, deleteFile bool) error {
	orphan, err := s.GetOrphanByID(ctx, orphanID)
	if err != nil {
		return err
	}
	if orphan == nil {
		return fmt.Errorf("orphan not found: %s", orphanID)
	}

	// Delete file if requested
	if deleteFile {
		fullPath := filepath.Join(s.mediaRoot, filepath.FromSlash(orphan.FilePath))
		if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete file: %w", err)
		}
		s.logger.Info().Str("path", fullPath).Msg("deleted orphan file")
	}

	// Delete record
	if err := s.db.WithContext(ctx).Delete(&models.OrphanMedia{}, "id = ?", orphanID).Error; err != nil {
		return fmt.Errorf("delete orphan record: %w", err)
	}

	s.logger.Info().Str("orphan_id", orphanID).Bool("file_deleted", deleteFile).Msg("orphan deleted")

	return nil
}

// BulkAdoptOrphans adopts multiple orphans into the content library.
func (s *OrphanScanner) BulkAdoptOrphans(ctx context.Context, orphanIDs []string) (int, error) {
	adopted := 0
	for _, id := range orphanIDs {
		if _, err := s.AdoptOrphan(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("orphan_id", id).Msg("failed to adopt orphan")
			continue
		}
		adopted++
	}
	return adopted, nil
}

// BulkDeleteOrphans deletes multiple orphans.
func (s *OrphanScanner) BulkDeleteOrphans(ctx context.Context, orphanIDs []string, deleteFiles bool) (int, error) {
	deleted := 0
	for _, id := range orphanIDs {
		if err := s.DeleteOrphan(ctx, id, deleteFiles); err != nil {
			s.logger.Warn().Err(err).Str("orphan_id", id).Msg("failed to delete orphan")
			continue
		}
		deleted++
	}
	return deleted, nil
}

// GetOrphanStats returns aggregate statistics about orphans.
func (s *OrphanScanner) GetOrphanStats(ctx context.Context) (count int64, totalSize int64, err error) {
	if err := s.db.WithContext(ctx).Model(&models.OrphanMedia{}).Count(&count).Error; err != nil {
		return 0, 0, fmt.Errorf("count orphans: %w", err)
	}

	var result struct {
		TotalSize int64
	}
	if err := s.db.WithContext(ctx).
		Model(&models.OrphanMedia{}).
		Select("COALESCE(SUM(file_size), 0) as total_size").
		Scan(&result).Error; err != nil {
		return 0, 0, fmt.Errorf("sum orphan sizes: %w", err)
	}

	return count, result.TotalSize, nil
}

// BuildOrphanHashMap builds a map of content hash -> orphan for efficient lookups.
func (s *OrphanScanner) BuildOrphanHashMap(ctx context.Context) (map[string]*models.OrphanMedia, error) {
	orphans, err := s.GetAllOrphans(ctx)
	if err != nil {
		return nil, err
	}

	hashMap := make(map[string]*models.OrphanMedia, len(orphans))
	for i := range orphans {
		if orphans[i].ContentHash != "" {
			hashMap[orphans[i].ContentHash] = &orphans[i]
		}
	}
	return hashMap, nil
}

func (s *OrphanScanner) getKnownStorageKeys(ctx context.Context) (map[string]struct{}, error) {
	var keys []string
	if err := s.db.WithContext(ctx).
		Model(&models.ContentItem{}).
		Where("storage_key != ''").
		Pluck("storage_key", &keys).Error; err != nil {
		return nil, err
	}

	result := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		result[k] = struct{}{}
	}
	return result, nil
}

func (s *OrphanScanner) getOrphanPaths(ctx context.Context) (map[string]struct{}, error) {
	var paths []string
	if err := s.db.WithContext(ctx).
		Model(&models.OrphanMedia{}).
		Pluck("file_path", &paths).Error; err != nil {
		return nil, err
	}

	result := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		result[p] = struct{}{}
	}
	return result, nil
}

func (s *OrphanScanner) createOrphanRecord(fullPath, relPath string, info os.FileInfo) (*models.OrphanMedia, error) {
	// Compute content hash
	hash, err := computeFileHash(fullPath)
	if err != nil {
		return nil, fmt.Errorf("compute hash: %w", err)
	}

	kind, err := KindForFilename(relPath)
	if err != nil {
		return nil, err
	}

	modTime := info.ModTime()
	orphan := &models.OrphanMedia{
		ID:             uuid.New().String(),
		FilePath:       relPath,
		ContentHash:    hash,
		FileSize:       info.Size(),
		Kind:           kind,
		DetectedAt:     time.Now(),
		FileModifiedAt: &modTime,
	}

	// Name from filename
	baseName := filepath.Base(relPath)
	orphan.Name = strings.TrimSuffix(baseName, filepath.Ext(baseName))

	// Best-effort probe for native dimensions and duration
	s.probeOrphan(orphan, fullPath)

	return orphan, nil
}

// probeOrphan fills in duration or pixel size from the file itself.
// Failures are fine; the fields just stay zero.
func (s *OrphanScanner) probeOrphan(orphan *models.OrphanMedia, fullPath string) {
	f, err := os.Open(fullPath)
	if err != nil {
		return
	}
	defer f.Close()

	switch orphan.Kind {
	case models.ContentVideo:
		if d, err := ProbeVideoDuration(f); err == nil {
			orphan.Duration = d
		}
	case models.ContentImage:
		if w, h, err := ProbeImageSize(f); err == nil {
			orphan.Width = w
			orphan.Height = h
		}
	}
}

func computeFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
