/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"
	"path/filepath"

	"github.com/friendsincode/heimdall_signage/internal/migration"
	"github.com/friendsincode/heimdall_signage/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Platform-level models
		&models.User{},
		&models.APIKey{},
		&models.AuditLog{},

		// Signage resources
		&models.Screen{},
		&models.Layout{},
		&models.Region{},
		&models.ContentItem{},
		&models.ProbeJob{},
		&models.OrphanMedia{},
		&models.Playlist{},
		&models.Assignment{},
		&models.AssignmentEntry{},
		&models.ScheduleEntry{},

		// Playback state and proof of play
		&models.PlayerState{},
		&models.PlayLog{},
		&models.PlayLogDaily{},
		&models.UptimeSample{},

		// Fleet alert delivery
		&models.WebhookTarget{},
		&models.WebhookLog{},

		// Legacy system imports
		&migration.Job{},
	); err != nil {
		return err
	}

	if err := applyPostgresScheduleWindowGuard(database); err != nil {
		return err
	}
	if err := normalizeLegacyRoles(database); err != nil {
		return err
	}
	if err := backfillContentNames(database); err != nil {
		return err
	}

	return nil
}

func applyPostgresScheduleWindowGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_invalid_schedule_window()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF NEW.duration_minutes <= 0 THEN
    RAISE EXCEPTION 'schedule entry duration must be positive'
      USING ERRCODE = '23514';
  END IF;

  IF NEW.dt_end IS NOT NULL AND NEW.dt_end <= NEW.dt_start THEN
    RAISE EXCEPTION 'schedule entry recurrence end must be after start'
      USING ERRCODE = '23514';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_invalid_schedule_window ON schedule_entries;

CREATE TRIGGER trg_prevent_invalid_schedule_window
BEFORE INSERT OR UPDATE OF dt_start, dt_end, duration_minutes
ON schedule_entries
FOR EACH ROW
EXECUTE FUNCTION prevent_invalid_schedule_window();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres schedule window guard: %w", err)
	}

	return nil
}

// backfillContentNames populates name for existing content records that were
// imported with a storage key but no display name.
func backfillContentNames(database *gorm.DB) error {
	type row struct {
		ID         string
		StorageKey string
		SourceURI  string
	}
	var rows []row
	if err := database.
		Model(&models.ContentItem{}).
		Select("id, storage_key, source_uri").
		Where("(name IS NULL OR name = '') AND (storage_key != '' OR source_uri != '')").
		Find(&rows).Error; err != nil {
		return fmt.Errorf("backfill content names query: %w", err)
	}

	for _, r := range rows {
		source := r.StorageKey
		if source == "" {
			source = r.SourceURI
		}
		name := filepath.Base(source)
		if name == "" || name == "." {
			continue
		}
		database.Model(&models.ContentItem{}).
			Where("id = ?", r.ID).
			Update("name", name)
	}

	return nil
}

func normalizeLegacyRoles(database *gorm.DB) error {
	if err := database.Exec("UPDATE users SET role = ? WHERE LOWER(TRIM(role)) IN ?", models.RoleEditor, []string{"manager", "mod", "moderator"}).Error; err != nil {
		return fmt.Errorf("normalize legacy editor role: %w", err)
	}
	return nil
}
