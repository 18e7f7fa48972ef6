package analyzer

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/cache"
	"github.com/friendsincode/heimdall_signage/internal/config"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/media"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

type recordingSink struct {
	mu    sync.Mutex
	calls map[string]time.Duration
}

func (r *recordingSink) ApplyDetectedDuration(contentID string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]time.Duration)
	}
	r.calls[contentID] = d
}

func (r *recordingSink) get(contentID string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.calls[contentID]
	return d, ok
}

func box(name string, payload []byte) []byte {
	b := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(b[0:4], uint32(8+len(payload)))
	copy(b[4:8], name)
	copy(b[8:], payload)
	return b
}

func mp4WithDuration(timescale, duration uint32) []byte {
	p := make([]byte, 100)
	binary.BigEndian.PutUint32(p[12:16], timescale)
	binary.BigEndian.PutUint32(p[16:20], duration)
	var file bytes.Buffer
	file.Write(box("ftyp", []byte("isomisomiso2avc1")))
	file.Write(box("moov", box("mvhd", p)))
	return file.Bytes()
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *media.Service, *recordingSink, *events.Bus) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.ContentItem{}, &models.ProbeJob{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	mediaSvc, err := media.NewService(&config.Config{MediaRoot: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("media service: %v", err)
	}

	sink := &recordingSink{}
	bus := events.NewBus()
	svc := New(db, mediaSvc, cache.NewDisabled(zerolog.Nop()), bus, sink, t.TempDir(), zerolog.Nop())
	return svc, db, mediaSvc, sink, bus
}

func uploadAsset(t *testing.T, mediaSvc *media.Service, db *gorm.DB, contentID, filename string, data []byte, kind models.ContentType) models.ContentItem {
	t.Helper()
	res, err := mediaSvc.Upload(context.Background(), contentID, filename, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	item := models.ContentItem{
		ID:         contentID,
		Name:       filename,
		Type:       kind,
		StorageKey: res.Key,
		SizeBytes:  res.SizeBytes,
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("create content: %v", err)
	}
	return item
}

func TestProbeVideoJob(t *testing.T) {
	svc, db, mediaSvc, sink, bus := newTestService(t)
	ctx := context.Background()

	uploadAsset(t, mediaSvc, db, "vid-1", "spot.mp4", mp4WithDuration(1000, 42000), models.ContentVideo)
	updated := bus.Subscribe(events.EventContentUpdated)

	if _, err := svc.Enqueue(ctx, "vid-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := svc.claimNextJob(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.ContentID != "vid-1" {
		t.Fatalf("claimed job: %+v", job)
	}
	if err := svc.processJob(ctx, job); err != nil {
		t.Fatalf("process: %v", err)
	}

	var item models.ContentItem
	if err := db.First(&item, "id = ?", "vid-1").Error; err != nil {
		t.Fatalf("reload content: %v", err)
	}
	if item.DetectedDuration != 42*time.Second {
		t.Fatalf("detected duration: got %v want 42s", item.DetectedDuration)
	}
	if item.ProbeState != models.ProbeComplete {
		t.Fatalf("probe state: got %v", item.ProbeState)
	}

	var done models.ProbeJob
	if err := db.First(&done, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if done.Status != models.ProbeComplete {
		t.Fatalf("job status: got %v", done.Status)
	}

	if d, ok := sink.get("vid-1"); !ok || d != 42*time.Second {
		t.Fatalf("sink call: got %v %v", d, ok)
	}
	select {
	case p := <-updated:
		if p["content_id"] != "vid-1" {
			t.Fatalf("event payload: %v", p)
		}
	default:
		t.Fatal("no content.updated event")
	}
}

func TestProbeImageJob(t *testing.T) {
	svc, db, mediaSvc, _, _ := newTestService(t)
	ctx := context.Background()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 800, 600))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	uploadAsset(t, mediaSvc, db, "img-1", "poster.png", buf.Bytes(), models.ContentImage)

	if _, err := svc.Enqueue(ctx, "img-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := svc.claimNextJob(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim: %v %v", job, err)
	}
	if err := svc.processJob(ctx, job); err != nil {
		t.Fatalf("process: %v", err)
	}

	var item models.ContentItem
	if err := db.First(&item, "id = ?", "img-1").Error; err != nil {
		t.Fatalf("reload content: %v", err)
	}
	if item.Width != 800 || item.Height != 600 {
		t.Fatalf("size: got %dx%d want 800x600", item.Width, item.Height)
	}
}

func TestProbeFailureMarksJobAndContent(t *testing.T) {
	svc, db, mediaSvc, sink, _ := newTestService(t)
	ctx := context.Background()

	uploadAsset(t, mediaSvc, db, "bad-1", "broken.mp4", []byte("not an mp4 at all"), models.ContentVideo)

	if _, err := svc.Enqueue(ctx, "bad-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := svc.claimNextJob(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim: %v %v", job, err)
	}
	if err := svc.processJob(ctx, job); err == nil {
		t.Fatal("expected probe failure")
	}

	var failed models.ProbeJob
	if err := db.First(&failed, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if failed.Status != models.ProbeFailed || failed.Error == "" {
		t.Fatalf("job after failure: %+v", failed)
	}

	var item models.ContentItem
	if err := db.First(&item, "id = ?", "bad-1").Error; err != nil {
		t.Fatalf("reload content: %v", err)
	}
	if item.ProbeState != models.ProbeFailed {
		t.Fatalf("probe state: got %v", item.ProbeState)
	}
	if _, ok := sink.get("bad-1"); ok {
		t.Fatal("sink must not see failed probes")
	}
}

func TestClaimIsExclusive(t *testing.T) {
	svc, db, mediaSvc, _, _ := newTestService(t)
	ctx := context.Background()

	uploadAsset(t, mediaSvc, db, "vid-2", "spot.mp4", mp4WithDuration(1000, 5000), models.ContentVideo)
	if _, err := svc.Enqueue(ctx, "vid-2"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	first, err := svc.claimNextJob(ctx)
	if err != nil || first == nil {
		t.Fatalf("first claim: %v %v", first, err)
	}
	second, err := svc.claimNextJob(ctx)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second != nil {
		t.Fatalf("job claimed twice: %+v", second)
	}
}
