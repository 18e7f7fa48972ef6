package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

type fakePresence struct {
	ids []string
	err error
}

func (f *fakePresence) OnlineScreenIDs(ctx context.Context) ([]string, error) {
	return f.ids, f.err
}

func seedScreen(t *testing.T, db *gorm.DB, id, name string, active bool) {
	t.Helper()
	if err := db.Create(&models.Screen{ID: id, Name: name, Active: active}).Error; err != nil {
		t.Fatalf("seed screen: %v", err)
	}
}

func TestUptimeSampler_CapturesActiveScreens(t *testing.T) {
	db := openAnalyticsDB(t)
	seedScreen(t, db, "screen-1", "Lobby", true)
	seedScreen(t, db, "screen-2", "Cafeteria", true)
	seedScreen(t, db, "screen-3", "Storage", false)

	sampler := NewUptimeSampler(db, &fakePresence{ids: []string{"screen-1"}}, zerolog.Nop())
	sampler.capture(context.Background(), time.Now())

	var samples []models.UptimeSample
	if err := db.Order("screen_id").Find(&samples).Error; err != nil {
		t.Fatalf("load samples: %v", err)
	}
	// Inactive screens are not sampled; they would drag uptime to zero
	// for hardware that is deliberately off.
	if len(samples) != 2 {
		t.Fatalf("expected samples for the 2 active screens, got %d", len(samples))
	}
	if samples[0].ScreenID != "screen-1" || !samples[0].Online {
		t.Fatalf("screen-1 should be online: %+v", samples[0])
	}
	if samples[1].ScreenID != "screen-2" || samples[1].Online {
		t.Fatalf("screen-2 should be offline: %+v", samples[1])
	}
}

func TestUptimeSampler_PresenceErrorSkipsSnapshot(t *testing.T) {
	db := openAnalyticsDB(t)
	seedScreen(t, db, "screen-1", "Lobby", true)

	sampler := NewUptimeSampler(db, &fakePresence{err: errors.New("bus down")}, zerolog.Nop())
	sampler.capture(context.Background(), time.Now())

	var count int64
	if err := db.Model(&models.UptimeSample{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	// Better no sample than a snapshot that marks everything offline.
	if count != 0 {
		t.Fatalf("expected no samples after presence error, got %d", count)
	}
}

func TestUptimeSampler_PrunesOldSamples(t *testing.T) {
	db := openAnalyticsDB(t)
	sampler := NewUptimeSampler(db, &fakePresence{}, zerolog.Nop())

	now := time.Now().UTC()
	for _, capturedAt := range []time.Time{now.Add(-40 * 24 * time.Hour), now.Add(-time.Hour)} {
		if err := db.Create(&models.UptimeSample{
			ID:         uuid.NewString(),
			ScreenID:   "screen-1",
			Online:     true,
			CapturedAt: capturedAt,
		}).Error; err != nil {
			t.Fatalf("seed sample: %v", err)
		}
	}

	sampler.pruneOldSamples(context.Background(), now)

	var count int64
	if err := db.Model(&models.UptimeSample{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the recent sample to survive, got %d", count)
	}
}
