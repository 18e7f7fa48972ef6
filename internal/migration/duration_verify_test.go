package migration

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

func openDurationVerifyDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.ContentItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedDurationRows(t *testing.T, db *gorm.DB, jobID string, zeroVideos, okVideos int) {
	t.Helper()
	for i := 0; i < zeroVideos; i++ {
		if err := db.Create(&models.ContentItem{
			ID:          "zero-" + jobID + "-" + string(rune('a'+i)),
			Name:        "Unknown Duration Video",
			Type:        models.ContentVideo,
			ImportJobID: jobID,
		}).Error; err != nil {
			t.Fatalf("seed zero row: %v", err)
		}
	}
	for i := 0; i < okVideos; i++ {
		if err := db.Create(&models.ContentItem{
			ID:               "ok-" + jobID + "-" + string(rune('a'+i)),
			Name:             "Known Duration Video",
			Type:             models.ContentVideo,
			ImportJobID:      jobID,
			DetectedDuration: 42 * time.Second,
		}).Error; err != nil {
			t.Fatalf("seed ok row: %v", err)
		}
	}
	// Images without a duration are normal and must not trip the check.
	if err := db.Create(&models.ContentItem{
		ID:          "img-" + jobID,
		Name:        "Poster",
		Type:        models.ContentImage,
		ImportJobID: jobID,
	}).Error; err != nil {
		t.Fatalf("seed image row: %v", err)
	}
}

func TestVerifyImportDurations_WarnMode(t *testing.T) {
	db := openDurationVerifyDB(t)
	jobID := "job-warn"
	seedDurationRows(t, db, jobID, 2, 1)

	result := newResult()
	if err := verifyImportDurations(context.Background(), db, zerolog.Nop(), jobID, false, result); err != nil {
		t.Fatalf("warn mode returned error: %v", err)
	}
	if result.Skipped["video_duration_unknown"] != 2 {
		t.Fatalf("expected video_duration_unknown=2, got %d", result.Skipped["video_duration_unknown"])
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning entry")
	}
}

func TestVerifyImportDurations_StrictMode(t *testing.T) {
	db := openDurationVerifyDB(t)
	jobID := "job-strict"
	seedDurationRows(t, db, jobID, 1, 1)

	result := newResult()
	if err := verifyImportDurations(context.Background(), db, zerolog.Nop(), jobID, true, result); err == nil {
		t.Fatal("expected strict mode failure")
	}
}

func TestVerifyImportDurations_AllKnown(t *testing.T) {
	db := openDurationVerifyDB(t)
	jobID := "job-clean"
	seedDurationRows(t, db, jobID, 0, 2)

	result := newResult()
	if err := verifyImportDurations(context.Background(), db, zerolog.Nop(), jobID, true, result); err != nil {
		t.Fatalf("clean import should pass strict mode: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("clean import should not warn, got %v", result.Warnings)
	}
}

func TestSourceImportExists(t *testing.T) {
	db := openDurationVerifyDB(t)
	if err := db.Create(&models.ContentItem{
		ID:             "existing-1",
		Name:           "Lobby Loop",
		Type:           models.ContentVideo,
		ImportSource:   "xibo",
		ImportSourceID: "media_9",
	}).Error; err != nil {
		t.Fatalf("seed row: %v", err)
	}

	exists, err := sourceImportExists(context.Background(), db, SourceTypeXibo, "media_9")
	if err != nil {
		t.Fatalf("sourceImportExists: %v", err)
	}
	if !exists {
		t.Fatal("expected media_9 to be reported as imported")
	}

	exists, err = sourceImportExists(context.Background(), db, SourceTypeXibo, "media_10")
	if err != nil {
		t.Fatalf("sourceImportExists: %v", err)
	}
	if exists {
		t.Fatal("media_10 was never imported")
	}

	// Same source id from a different system is a different item.
	exists, err = sourceImportExists(context.Background(), db, SourceTypeScreenly, "media_9")
	if err != nil {
		t.Fatalf("sourceImportExists: %v", err)
	}
	if exists {
		t.Fatal("screenly media_9 was never imported")
	}
}
