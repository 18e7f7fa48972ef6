package player

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
)

type stubProber struct{}

func (stubProber) Probe(ctx context.Context, uri string) error { return nil }

type fixture struct {
	db      *gorm.DB
	bus     *events.Bus
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&models.Screen{}, &models.Layout{}, &models.Region{},
		&models.ContentItem{}, &models.Playlist{}, &models.Assignment{},
		&models.AssignmentEntry{}, &models.PlayLog{}, &models.PlayerState{},
	)
	if err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	mediaSvc, err := media.NewService(&config.Config{MediaRoot: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("media service: %v", err)
	}

	fake := clockwork.NewFakeClock()
	streams := livestream.NewService(stubProber{}, livestream.Config{}, fake, zerolog.Nop())
	t.Cleanup(func() { streams.Shutdown() })

	bus := events.NewBus()
	m := NewManager(db, cache.NewDisabled(zerolog.Nop()), bus, streams, mediaSvc, engine.Options{
		TickInterval: time.Hour, // advancement driven by completion signals
		Clock:        fake,
		Logger:       zerolog.Nop(),
	}, zerolog.Nop())
	t.Cleanup(m.Shutdown)

	return &fixture{db: db, bus: bus, manager: m}
}

// seedSession creates a screen, a single-region layout, two images, and
// a playlist cycling them.
func (f *fixture) seedSession(t *testing.T) (screenID, playlistID string) {
	t.Helper()

	screen := models.Screen{ID: "screen-1", Name: "Lobby", Active: true}
	layout := models.Layout{
		ID: "layout-1", Name: "Full", CanvasWidth: 1920, CanvasHeight: 1080,
		Regions: []models.Region{
			{ID: "region-main", LayoutID: "layout-1", Name: "main", Width: 1920, Height: 1080},
		},
	}
	first := models.ContentItem{
		ID: "content-a", Name: "Welcome", Type: models.ContentImage,
		StorageKey: "content/aa/aa/content-a.png", DisplayDuration: 5 * time.Second,
	}
	second := models.ContentItem{
		ID: "content-b", Name: "Menu", Type: models.ContentImage,
		StorageKey: "content/bb/bb/content-b.png", DisplayDuration: 5 * time.Second,
	}
	playlist := models.Playlist{
		ID: "playlist-1", Name: "Default loop", LayoutID: "layout-1",
		Assignments: []models.Assignment{
			{
				ID: "assign-1", PlaylistID: "playlist-1", RegionID: "region-main",
				Entries: []models.AssignmentEntry{
					{ID: "entry-1", AssignmentID: "assign-1", ContentItemID: "content-a", Position: 0},
					{ID: "entry-2", AssignmentID: "assign-1", ContentItemID: "content-b", Position: 1},
				},
			},
		},
	}

	for _, v := range []any{&screen, &layout, &first, &second, &playlist} {
		if err := f.db.Create(v).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return screen.ID, playlist.ID
}

func TestManagerLoadAndPlay(t *testing.T) {
	f := newFixture(t)
	screenID, playlistID := f.seedSession(t)
	ctx := context.Background()

	if err := f.manager.Load(ctx, screenID, playlistID); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.manager.Play(screenID); err != nil {
		t.Fatalf("Play: %v", err)
	}

	snap, err := f.manager.Snapshot(screenID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Status != engine.StatusPlaying {
		t.Fatalf("status: got %v want %v", snap.Status, engine.StatusPlaying)
	}
	if len(snap.Regions) != 1 || snap.Regions[0].Content == nil {
		t.Fatalf("expected one seeded region, got %+v", snap.Regions)
	}
	if snap.Regions[0].Content.ID != "content-a" {
		t.Fatalf("first item: got %s want content-a", snap.Regions[0].Content.ID)
	}

	var st models.PlayerState
	if err := f.db.First(&st, "screen_id = ?", screenID).Error; err != nil {
		t.Fatalf("player state: %v", err)
	}
	if st.Status != string(engine.StatusPlaying) || st.PlaylistID != playlistID {
		t.Fatalf("persisted state mismatch: %+v", st)
	}
}

func TestManagerLoadUnknownPlaylistFails(t *testing.T) {
	f := newFixture(t)
	screenID, _ := f.seedSession(t)

	if err := f.manager.Load(context.Background(), screenID, "missing"); err == nil {
		t.Fatal("expected an error for an unknown playlist")
	}
	// No session should have been created by the failed load.
	if err := f.manager.Play(screenID); err == nil {
		t.Fatal("expected Play to fail after a failed load")
	}
}

func TestManagerCompletionSignalWritesPlaylog(t *testing.T) {
	f := newFixture(t)
	screenID, playlistID := f.seedSession(t)
	ctx := context.Background()

	if err := f.manager.Load(ctx, screenID, playlistID); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.manager.Play(screenID); err != nil {
		t.Fatalf("Play: %v", err)
	}

	// The shell reports the first item finished; the region advances and
	// the closed-out play becomes a proof-of-play row.
	if err := f.manager.NotifyContentComplete(screenID, "region-main", "content-a"); err != nil {
		t.Fatalf("NotifyContentComplete: %v", err)
	}

	snap, _ := f.manager.Snapshot(screenID)
	if snap.Regions[0].Content == nil || snap.Regions[0].Content.ID != "content-b" {
		t.Fatalf("expected region to advance to content-b, got %+v", snap.Regions[0].Content)
	}

	waitForPlaylogRows(t, f.db, 1)
	var row models.PlayLog
	if err := f.db.First(&row, "screen_id = ?", screenID).Error; err != nil {
		t.Fatalf("playlog row: %v", err)
	}
	if row.ContentID != "content-a" || row.RegionID != "region-main" {
		t.Fatalf("playlog row mismatch: %+v", row)
	}

	// A late duplicate of the same signal must not advance again.
	if err := f.manager.NotifyContentComplete(screenID, "region-main", "content-a"); err != nil {
		t.Fatalf("stale NotifyContentComplete: %v", err)
	}
	snap, _ = f.manager.Snapshot(screenID)
	if snap.Regions[0].Content == nil || snap.Regions[0].Content.ID != "content-b" {
		t.Fatalf("stale signal advanced the region: %+v", snap.Regions[0].Content)
	}
}

func waitForPlaylogRows(t *testing.T, db *gorm.DB, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		var count int64
		if err := db.Model(&models.PlayLog{}).Count(&count).Error; err != nil {
			t.Fatalf("count playlog: %v", err)
		}
		if count >= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("playlog rows: got %d want %d", count, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManagerPublishesEngineEvents(t *testing.T) {
	f := newFixture(t)
	screenID, playlistID := f.seedSession(t)

	statusCh := f.bus.Subscribe(events.EventPlayerStatus)
	contentCh := f.bus.Subscribe(events.EventPlayerContentChange)

	if err := f.manager.Load(context.Background(), screenID, playlistID); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.manager.Play(screenID); err != nil {
		t.Fatalf("Play: %v", err)
	}

	sawPlaying := false
	for done := false; !done; {
		select {
		case p := <-statusCh:
			if p["status"] == string(engine.StatusPlaying) && p["screen_id"] == screenID {
				sawPlaying = true
				done = true
			}
		default:
			done = true
		}
	}
	if !sawPlaying {
		t.Fatal("no playing status event on the bus")
	}

	select {
	case p := <-contentCh:
		if p["screen_id"] != screenID || p["content_id"] != "content-a" {
			t.Fatalf("content change payload: %v", p)
		}
	default:
		t.Fatal("no content change event on the bus")
	}
}

func TestManagerRestoreSessions(t *testing.T) {
	f := newFixture(t)
	screenID, playlistID := f.seedSession(t)
	ctx := context.Background()

	if err := f.manager.Load(ctx, screenID, playlistID); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.manager.Play(screenID); err != nil {
		t.Fatalf("Play: %v", err)
	}
	f.manager.Shutdown()

	// A fresh manager on the same database picks the session back up.
	mediaSvc, err := media.NewService(&config.Config{MediaRoot: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("media service: %v", err)
	}
	fake := clockwork.NewFakeClock()
	streams := livestream.NewService(stubProber{}, livestream.Config{}, fake, zerolog.Nop())
	t.Cleanup(func() { streams.Shutdown() })

	restored := NewManager(f.db, cache.NewDisabled(zerolog.Nop()), events.NewBus(), streams, mediaSvc, engine.Options{
		TickInterval: time.Hour,
		Clock:        fake,
		Logger:       zerolog.Nop(),
	}, zerolog.Nop())
	t.Cleanup(restored.Shutdown)

	restored.RestoreSessions(ctx)

	snap, err := restored.Snapshot(screenID)
	if err != nil {
		t.Fatalf("Snapshot after restore: %v", err)
	}
	if snap.Status != engine.StatusPlaying {
		t.Fatalf("restored status: got %v want %v", snap.Status, engine.StatusPlaying)
	}
}

func TestManagerUnloadClearsState(t *testing.T) {
	f := newFixture(t)
	screenID, playlistID := f.seedSession(t)
	ctx := context.Background()

	if err := f.manager.Load(ctx, screenID, playlistID); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.manager.Unload(ctx, screenID); err != nil {
		t.Fatalf("Unload: %v", err)
	}

	if err := f.manager.Play(screenID); err != ErrNoSession {
		t.Fatalf("Play after unload: got %v want ErrNoSession", err)
	}
	var count int64
	if err := f.db.Model(&models.PlayerState{}).Count(&count).Error; err != nil {
		t.Fatalf("count states: %v", err)
	}
	if count != 0 {
		t.Fatalf("player state rows after unload: %d", count)
	}
}

func TestManagerHeartbeatLifecycle(t *testing.T) {
	f := newFixture(t)
	screenID, _ := f.seedSession(t)
	ctx := context.Background()

	onlineCh := f.bus.Subscribe(events.EventScreenOnline)
	offlineCh := f.bus.Subscribe(events.EventScreenOffline)

	f.manager.Heartbeat(ctx, screenID)
	select {
	case p := <-onlineCh:
		if p["screen_id"] != screenID {
			t.Fatalf("online payload: %v", p)
		}
	default:
		t.Fatal("no online event after first heartbeat")
	}

	// A second heartbeat while online stays quiet.
	f.manager.Heartbeat(ctx, screenID)
	select {
	case p := <-onlineCh:
		t.Fatalf("unexpected second online event: %v", p)
	default:
	}

	var screen models.Screen
	if err := f.db.First(&screen, "id = ?", screenID).Error; err != nil {
		t.Fatalf("screen: %v", err)
	}
	if screen.LastSeenAt == nil {
		t.Fatal("heartbeat did not record last seen")
	}

	f.manager.sweepOffline(time.Now().UTC().Add(3 * time.Minute))
	select {
	case p := <-offlineCh:
		if p["screen_id"] != screenID {
			t.Fatalf("offline payload: %v", p)
		}
	default:
		t.Fatal("no offline event after heartbeats stopped")
	}
}

func TestManagerNotifyDurationDetectedPersists(t *testing.T) {
	f := newFixture(t)
	screenID, playlistID := f.seedSession(t)
	ctx := context.Background()

	video := models.ContentItem{
		ID: "content-v", Name: "Spot", Type: models.ContentVideo,
		StorageKey: "content/cc/cc/content-v.mp4",
	}
	if err := f.db.Create(&video).Error; err != nil {
		t.Fatalf("seed video: %v", err)
	}

	if err := f.manager.Load(ctx, screenID, playlistID); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.manager.NotifyDurationDetected(ctx, screenID, "content-v", 42*time.Second); err != nil {
		t.Fatalf("NotifyDurationDetected: %v", err)
	}

	var got models.ContentItem
	if err := f.db.First(&got, "id = ?", "content-v").Error; err != nil {
		t.Fatalf("reload content: %v", err)
	}
	if got.DetectedDuration != 42*time.Second {
		t.Fatalf("detected duration: got %v want %v", got.DetectedDuration, 42*time.Second)
	}

	if err := f.manager.NotifyDurationDetected(ctx, screenID, "", time.Second); err == nil {
		t.Fatal("expected an error for an empty content ID")
	}
}
