/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/cache"
	"github.com/friendsincode/heimdall_signage/internal/config"
	"github.com/friendsincode/heimdall_signage/internal/engine"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/livestream"
	"github.com/friendsincode/heimdall_signage/internal/media"
	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/player"
	"github.com/friendsincode/heimdall_signage/internal/scheduler/state"
)

type okProber struct{}

func (okProber) Probe(ctx context.Context, uri string) error { return nil }

type schedFixture struct {
	db      *gorm.DB
	bus     *events.Bus
	players *player.Manager
	clock   *clockwork.FakeClock
	svc     *Service
}

// Wednesday 09:30 UTC; the seeded daily window runs 09:00-11:00.
var testNow = time.Date(2026, time.March, 18, 9, 30, 0, 0, time.UTC)

func newSchedFixture(t *testing.T) *schedFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&models.Screen{}, &models.Layout{}, &models.Region{},
		&models.ContentItem{}, &models.Playlist{}, &models.Assignment{},
		&models.AssignmentEntry{}, &models.PlayLog{}, &models.PlayerState{},
		&models.ScheduleEntry{},
	)
	if err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	mediaSvc, err := media.NewService(&config.Config{MediaRoot: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("media service: %v", err)
	}

	fake := clockwork.NewFakeClockAt(testNow)
	streams := livestream.NewService(okProber{}, livestream.Config{}, fake, zerolog.Nop())
	t.Cleanup(func() { streams.Shutdown() })

	bus := events.NewBus()
	players := player.NewManager(db, cache.NewDisabled(zerolog.Nop()), bus, streams, mediaSvc, engine.Options{
		TickInterval: time.Hour,
		Clock:        fake,
		Logger:       zerolog.Nop(),
	}, zerolog.Nop())
	t.Cleanup(players.Shutdown)

	svc := New(db, players, bus, state.NewStore(), fake, 0, zerolog.Nop())
	return &schedFixture{db: db, bus: bus, players: players, clock: fake, svc: svc}
}

// seedCatalog creates a screen, a one-region layout, an image, and two
// playlists over that layout.
func (f *schedFixture) seedCatalog(t *testing.T) {
	t.Helper()

	records := []any{
		&models.Screen{ID: "screen-1", Name: "Lobby", Active: true},
		&models.Layout{
			ID: "layout-1", Name: "Full", CanvasWidth: 1920, CanvasHeight: 1080,
			Regions: []models.Region{
				{ID: "region-main", LayoutID: "layout-1", Name: "main", Width: 1920, Height: 1080},
			},
		},
		&models.ContentItem{
			ID: "content-a", Name: "Poster", Type: models.ContentImage,
			StorageKey: "content/aa/aa/content-a.png", DisplayDuration: 10 * time.Second,
		},
		&models.Playlist{
			ID: "playlist-regular", Name: "Regular", LayoutID: "layout-1",
			Assignments: []models.Assignment{{
				ID: "assign-r", PlaylistID: "playlist-regular", RegionID: "region-main",
				Entries: []models.AssignmentEntry{
					{ID: "entry-r", AssignmentID: "assign-r", ContentItemID: "content-a", Position: 0},
				},
			}},
		},
		&models.Playlist{
			ID: "playlist-alert", Name: "Alert", LayoutID: "layout-1",
			Assignments: []models.Assignment{{
				ID: "assign-e", PlaylistID: "playlist-alert", RegionID: "region-main",
				Entries: []models.AssignmentEntry{
					{ID: "entry-e", AssignmentID: "assign-e", ContentItemID: "content-a", Position: 0},
				},
			}},
		},
	}
	for _, r := range records {
		if err := f.db.Create(r).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func (f *schedFixture) seedDailyEntry(t *testing.T) {
	t.Helper()
	entry := models.ScheduleEntry{
		ID:              "sched-daily",
		ScreenID:        "screen-1",
		PlaylistID:      "playlist-regular",
		Name:            "Weekday loop",
		RRule:           "FREQ=DAILY",
		DTStart:         time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC),
		Timezone:        "UTC",
		DurationMinutes: 120,
		Priority:        models.PriorityRegular,
		Active:          true,
	}
	if err := f.db.Create(&entry).Error; err != nil {
		t.Fatalf("seed entry: %v", err)
	}
}

func currentPlaylist(t *testing.T, players *player.Manager, screenID string) string {
	t.Helper()
	for _, s := range players.Sessions() {
		if s.ScreenID == screenID {
			return s.PlaylistID
		}
	}
	return ""
}

func TestTickAppliesActiveWindow(t *testing.T) {
	f := newSchedFixture(t)
	f.seedCatalog(t)
	f.seedDailyEntry(t)

	applied := f.bus.Subscribe(events.EventScheduleApplied)
	f.svc.tick(context.Background())

	if got := currentPlaylist(t, f.players, "screen-1"); got != "playlist-regular" {
		t.Fatalf("playlist on screen: got %q want playlist-regular", got)
	}
	snap, err := f.players.Snapshot("screen-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Status != engine.StatusPlaying {
		t.Fatalf("status: got %v want %v", snap.Status, engine.StatusPlaying)
	}

	select {
	case p := <-applied:
		if p["screen_id"] != "screen-1" || p["playlist_id"] != "playlist-regular" {
			t.Fatalf("applied payload: %v", p)
		}
	default:
		t.Fatal("no schedule.applied event")
	}

	// The same window must not be re-applied on the next pass.
	f.svc.tick(context.Background())
	select {
	case p := <-applied:
		t.Fatalf("window re-applied: %v", p)
	default:
	}
}

func TestTickSkipsInactiveScreens(t *testing.T) {
	f := newSchedFixture(t)
	f.seedCatalog(t)
	f.seedDailyEntry(t)

	if err := f.db.Model(&models.Screen{}).Where("id = ?", "screen-1").
		Update("active", false).Error; err != nil {
		t.Fatalf("deactivate screen: %v", err)
	}

	f.svc.tick(context.Background())
	if got := currentPlaylist(t, f.players, "screen-1"); got != "" {
		t.Fatalf("inactive screen got a session: %q", got)
	}
}

func TestEmergencyEntryPreemptsAndExpires(t *testing.T) {
	f := newSchedFixture(t)
	f.seedCatalog(t)
	f.seedDailyEntry(t)
	ctx := context.Background()

	f.svc.tick(ctx)
	if got := currentPlaylist(t, f.players, "screen-1"); got != "playlist-regular" {
		t.Fatalf("baseline playlist: got %q", got)
	}

	// A one-shot emergency window covering now takes over immediately.
	alert := models.ScheduleEntry{
		ID:              "sched-alert",
		ScreenID:        "screen-1",
		PlaylistID:      "playlist-alert",
		Name:            "Evacuation notice",
		DTStart:         testNow.Add(-5 * time.Minute),
		DurationMinutes: 30,
		Priority:        models.PriorityEmergency,
		Active:          true,
	}
	if err := f.db.Create(&alert).Error; err != nil {
		t.Fatalf("seed alert: %v", err)
	}

	f.svc.tick(ctx)
	if got := currentPlaylist(t, f.players, "screen-1"); got != "playlist-alert" {
		t.Fatalf("emergency playlist: got %q want playlist-alert", got)
	}

	// Past the emergency window the regular schedule resumes.
	f.clock.Advance(40 * time.Minute)
	f.svc.tick(ctx)
	if got := currentPlaylist(t, f.players, "screen-1"); got != "playlist-regular" {
		t.Fatalf("after emergency: got %q want playlist-regular", got)
	}
}

func TestEvaluateScreenAppliesWithoutTick(t *testing.T) {
	f := newSchedFixture(t)
	f.seedCatalog(t)
	f.seedDailyEntry(t)

	if err := f.svc.EvaluateScreen(context.Background(), "screen-1"); err != nil {
		t.Fatalf("EvaluateScreen: %v", err)
	}
	if got := currentPlaylist(t, f.players, "screen-1"); got != "playlist-regular" {
		t.Fatalf("playlist: got %q want playlist-regular", got)
	}

	cur, ok := f.svc.store.Current("screen-1")
	if !ok {
		t.Fatal("no applied window recorded")
	}
	if cur.EntryID != "sched-daily" || cur.PlaylistID != "playlist-regular" {
		t.Fatalf("applied record: %+v", cur)
	}
}

func TestTickSurvivesBrokenEntry(t *testing.T) {
	f := newSchedFixture(t)
	f.seedCatalog(t)
	f.seedDailyEntry(t)

	broken := models.ScheduleEntry{
		ID:              "sched-broken",
		ScreenID:        "screen-1",
		PlaylistID:      "playlist-alert",
		Name:            "Corrupt rule",
		RRule:           "FREQ=BOGUS",
		DTStart:         testNow.Add(-time.Hour),
		DurationMinutes: 60,
		Priority:        models.PriorityEmergency,
		Active:          true,
	}
	if err := f.db.Create(&broken).Error; err != nil {
		t.Fatalf("seed broken entry: %v", err)
	}

	// The broken rule is skipped; the healthy entry still lands.
	f.svc.tick(context.Background())
	if got := currentPlaylist(t, f.players, "screen-1"); got != "playlist-regular" {
		t.Fatalf("playlist: got %q want playlist-regular", got)
	}
}

func TestUpcomingListsSortedWindows(t *testing.T) {
	f := newSchedFixture(t)
	f.seedCatalog(t)
	f.seedDailyEntry(t)

	windows, err := f.svc.Upcoming(context.Background(), "screen-1", testNow, 48*time.Hour)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(windows) < 2 {
		t.Fatalf("windows: got %d want at least 2", len(windows))
	}
	for i := 1; i < len(windows); i++ {
		if windows[i].StartsAt.Before(windows[i-1].StartsAt) {
			t.Fatalf("windows out of order: %v before %v", windows[i].StartsAt, windows[i-1].StartsAt)
		}
	}
	if !windows[0].Contains(testNow) {
		t.Fatalf("first window should be in progress: %+v", windows[0])
	}
}

func TestNewDefaultsLookahead(t *testing.T) {
	svc := New(nil, nil, events.NewBus(), nil, clockwork.NewFakeClockAt(testNow), 0, zerolog.Nop())
	if svc.lookahead != defaultLookahead {
		t.Fatalf("lookahead: got %v want %v", svc.lookahead, defaultLookahead)
	}
	if svc.store == nil {
		t.Fatal("nil store not defaulted")
	}

	svc = New(nil, nil, events.NewBus(), nil, nil, 12*time.Hour, zerolog.Nop())
	if svc.lookahead != 12*time.Hour {
		t.Fatalf("lookahead: got %v want 12h", svc.lookahead)
	}
}
