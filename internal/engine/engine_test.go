package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type stubLoader struct {
	items map[string]*Item
	errs  map[string]error
	calls int
}

func (l *stubLoader) Resolve(_ context.Context, id string) (*Item, error) {
	l.calls++
	if err, ok := l.errs[id]; ok {
		return nil, err
	}
	it, ok := l.items[id]
	if !ok {
		return nil, nil
	}
	cp := *it
	return &cp, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) byKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *eventRecorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Status
	for _, ev := range r.events {
		if ev.Kind == EventStatusChange {
			out = append(out, ev.Status)
		}
	}
	return out
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// newTestEngine builds an engine on a fake clock with a tick interval
// long enough that the background loop stays silent; tests drive tick()
// directly so every assertion is deterministic.
func newTestEngine(t *testing.T, loader ContentLoader) (*Engine, *clockwork.FakeClock) {
	t.Helper()
	fake := clockwork.NewFakeClock()
	e := New(loader, Options{
		TickInterval:     time.Hour,
		ImageDuration:    10 * time.Second,
		WebDuration:      60 * time.Second,
		VideoPlaceholder: time.Hour,
		Clock:            fake,
		Logger:           zerolog.Nop(),
	})
	t.Cleanup(e.Dispose)
	return e, fake
}

func singleRegionLayout() Layout {
	return Layout{
		ID:   "layout-1",
		Name: "Single",
		Regions: []Region{
			{ID: "main", Name: "Main", Width: 1920, Height: 1080},
		},
	}
}

func twoRegionLayout() Layout {
	return Layout{
		ID:   "layout-2",
		Name: "Split",
		Regions: []Region{
			{ID: "zoneA", Name: "Zone A", Width: 1280, Height: 1080},
			{ID: "zoneB", Name: "Zone B", X: 1280, Width: 640, Height: 1080},
		},
	}
}

func mustLoad(t *testing.T, e *Engine, playlist Playlist, layout Layout) {
	t.Helper()
	if err := e.Load(context.Background(), playlist, layout); err != nil {
		t.Fatalf("load playlist: %v", err)
	}
}

func mustPlay(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
}

func step(e *Engine, fake *clockwork.FakeClock, d time.Duration) {
	fake.Advance(d)
	e.tick()
}

func TestLoadTransitionsThroughLoadingToIdle(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"img": {ID: "img", Name: "Poster", Kind: KindImage},
	}}
	e, _ := newTestEngine(t, loader)
	rec := &eventRecorder{}
	e.On(rec.record)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{RegionID: "main", ContentIDs: []string{"img"}},
	}}
	mustLoad(t, e, playlist, singleRegionLayout())

	if got := e.Status(); got != StatusIdle {
		t.Fatalf("status after load: got %v want %v", got, StatusIdle)
	}
	want := []Status{StatusLoading, StatusIdle}
	got := rec.statuses()
	if len(got) != len(want) {
		t.Fatalf("status events: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status events: got %v want %v", got, want)
		}
	}
	if e.CycleCount() != 0 {
		t.Fatalf("cycle count after load: got %d want 0", e.CycleCount())
	}
}

func TestLoadResolvesEachContentIDOnce(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"shared": {ID: "shared", Name: "Shared", Kind: KindImage},
		"solo":   {ID: "solo", Name: "Solo", Kind: KindImage},
	}}
	e, _ := newTestEngine(t, loader)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{RegionID: "zoneA", ContentIDs: []string{"shared", "solo", "shared"}},
		{RegionID: "zoneB", ContentIDs: []string{"shared"}},
	}}
	mustLoad(t, e, playlist, twoRegionLayout())

	if loader.calls != 2 {
		t.Fatalf("loader calls: got %d want 2", loader.calls)
	}
}

func TestLoadSkipsMissingContentAndUnknownRegions(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"good": {ID: "good", Name: "Good", Kind: KindImage},
	}}
	e, _ := newTestEngine(t, loader)

	// "ghost" targets a region the layout does not define, zoneB resolves
	// to zero items, and the second zoneA assignment is a duplicate.
	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{RegionID: "zoneA", ContentIDs: []string{"missing", "good"}},
		{RegionID: "ghost", ContentIDs: []string{"good"}},
		{RegionID: "zoneB", ContentIDs: []string{"missing"}},
		{RegionID: "zoneA", ContentIDs: []string{"good"}},
	}}
	mustLoad(t, e, playlist, twoRegionLayout())
	mustPlay(t, e)

	snap := e.Snapshot()
	if len(snap.Regions) != 1 {
		t.Fatalf("scheduled regions: got %d want 1", len(snap.Regions))
	}
	region := snap.Regions[0]
	if region.RegionID != "zoneA" {
		t.Fatalf("scheduled region: got %s want zoneA", region.RegionID)
	}
	if region.TotalItems != 1 {
		t.Fatalf("zoneA items: got %d want 1", region.TotalItems)
	}
	if region.Content == nil || region.Content.ID != "good" {
		t.Fatalf("zoneA playing %+v, want good", region.Content)
	}
	// "missing" resolved once and cached, "good" resolved once; the
	// unknown-region assignment never reached the loader.
	if loader.calls != 2 {
		t.Fatalf("loader calls: got %d want 2", loader.calls)
	}
}

func TestLoadFailureKeepsPreviousSession(t *testing.T) {
	boom := errors.New("backend down")
	loader := &stubLoader{
		items: map[string]*Item{
			"good": {ID: "good", Name: "Good", Kind: KindImage},
		},
		errs: map[string]error{"bad": boom},
	}
	e, _ := newTestEngine(t, loader)
	rec := &eventRecorder{}
	e.On(rec.record)

	first := Playlist{ID: "p1", Assignments: []Assignment{
		{RegionID: "main", ContentIDs: []string{"good"}},
	}}
	mustLoad(t, e, first, singleRegionLayout())

	second := Playlist{ID: "p2", Assignments: []Assignment{
		{RegionID: "main", ContentIDs: []string{"bad"}},
	}}
	err := e.Load(context.Background(), second, singleRegionLayout())
	if err == nil {
		t.Fatal("load with failing content should error")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("load error should wrap the loader error: %v", err)
	}
	if got := e.Status(); got != StatusError {
		t.Fatalf("status after failed load: got %v want %v", got, StatusError)
	}
	if errs := rec.byKind(EventError); len(errs) != 1 {
		t.Fatalf("error events: got %d want 1", len(errs))
	}

	// The previous session survives a failed reload: playing again seeds
	// the old content, not a blank screen.
	mustPlay(t, e)
	snap := e.Snapshot()
	if len(snap.Regions) != 1 || snap.Regions[0].Content == nil || snap.Regions[0].Content.ID != "good" {
		t.Fatalf("previous session lost after failed load: %+v", snap.Regions)
	}
}

func TestPlayWithoutLoadFails(t *testing.T) {
	loader := &stubLoader{}
	e, _ := newTestEngine(t, loader)

	if err := e.Play(); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("play without load: got %v want %v", err, ErrNotLoaded)
	}
}

func TestLoadWithoutLoaderFails(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	err := e.Load(context.Background(), Playlist{}, singleRegionLayout())
	if !errors.Is(err, ErrLoaderRequired) {
		t.Fatalf("load without loader: got %v want %v", err, ErrLoaderRequired)
	}
}

func TestPlayWithNoSchedulableRegionsFails(t *testing.T) {
	loader := &stubLoader{} // every ID resolves to missing
	e, _ := newTestEngine(t, loader)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{RegionID: "main", ContentIDs: []string{"missing"}},
	}}
	mustLoad(t, e, playlist, singleRegionLayout())

	if err := e.Play(); !errors.Is(err, ErrNoRegions) {
		t.Fatalf("play with no regions: got %v want %v", err, ErrNoRegions)
	}
}

func TestPlaySeedsEveryRegionInLayoutOrder(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"a": {ID: "a", Name: "A", Kind: KindImage},
		"b": {ID: "b", Name: "B", Kind: KindImage},
	}}
	e, _ := newTestEngine(t, loader)
	rec := &eventRecorder{}
	e.On(rec.record)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{RegionID: "zoneB", ContentIDs: []string{"b"}},
		{RegionID: "zoneA", ContentIDs: []string{"a"}},
	}}
	mustLoad(t, e, playlist, twoRegionLayout())
	rec.reset()
	mustPlay(t, e)

	changes := rec.byKind(EventContentChange)
	if len(changes) != 2 {
		t.Fatalf("content changes on play: got %d want 2", len(changes))
	}
	// Layout definition order wins over assignment order.
	if changes[0].RegionID != "zoneA" || changes[1].RegionID != "zoneB" {
		t.Fatalf("seed order: got [%s %s] want [zoneA zoneB]", changes[0].RegionID, changes[1].RegionID)
	}
	for _, ch := range changes {
		if ch.Index != 0 || ch.Content == nil {
			t.Fatalf("seed event should carry first item: %+v", ch)
		}
	}
	if got := e.Status(); got != StatusPlaying {
		t.Fatalf("status after play: got %v want %v", got, StatusPlaying)
	}
}

func TestTickAdvancesAllDueRegionsAgainstOneTimeSnapshot(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"a1": {ID: "a1", Kind: KindImage},
		"a2": {ID: "a2", Kind: KindImage},
		"b1": {ID: "b1", Kind: KindImage},
		"b2": {ID: "b2", Kind: KindImage},
	}}
	e, fake := newTestEngine(t, loader)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{
			RegionID:   "zoneA",
			ContentIDs: []string{"a1", "a2"},
			Overrides:  map[string]time.Duration{"a1": 5 * time.Second},
		},
		{
			RegionID:   "zoneB",
			ContentIDs: []string{"b1", "b2"},
			Overrides:  map[string]time.Duration{"b1": 5 * time.Second},
		},
	}}
	mustLoad(t, e, playlist, twoRegionLayout())
	mustPlay(t, e)

	step(e, fake, 5*time.Second)

	snap := e.Snapshot()
	for _, region := range snap.Regions {
		if region.Index != 1 {
			t.Fatalf("%s index: got %d want 1", region.RegionID, region.Index)
		}
		if region.StartedAt != 5*time.Second {
			t.Fatalf("%s startedAt: got %v want %v", region.RegionID, region.StartedAt, 5*time.Second)
		}
	}
}

// A region that exhausts its list before the others goes dark and waits
// at the cycle barrier rather than wrapping around on its own.
func TestShortRegionGoesDarkAtTheBarrier(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"imgA": {ID: "imgA", Name: "Poster A", Kind: KindImage},
		"vid":  {ID: "vid", Name: "Spot", Kind: KindVideo},
		"imgB": {ID: "imgB", Name: "Poster B", Kind: KindImage},
	}}
	e, fake := newTestEngine(t, loader)
	rec := &eventRecorder{}
	e.On(rec.record)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{
			RegionID:   "zoneA",
			ContentIDs: []string{"imgA", "vid"},
			Overrides:  map[string]time.Duration{"imgA": 5 * time.Second},
		},
		{
			RegionID:   "zoneB",
			ContentIDs: []string{"imgB"},
			Overrides:  map[string]time.Duration{"imgB": 3 * time.Second},
		},
	}}
	mustLoad(t, e, playlist, twoRegionLayout())
	mustPlay(t, e)
	rec.reset()

	step(e, fake, 3*time.Second)

	changes := rec.byKind(EventContentChange)
	if len(changes) != 1 {
		t.Fatalf("content changes at t=3: got %d want 1", len(changes))
	}
	if changes[0].RegionID != "zoneB" || changes[0].Content != nil {
		t.Fatalf("zoneB should have gone dark: %+v", changes[0])
	}

	snap := e.Snapshot()
	for _, region := range snap.Regions {
		switch region.RegionID {
		case "zoneA":
			if region.Content == nil || region.Content.ID != "imgA" {
				t.Fatalf("zoneA should still show its first item: %+v", region.Content)
			}
		case "zoneB":
			if !region.Exhausted || region.Content != nil {
				t.Fatalf("zoneB should be dark and exhausted: %+v", region)
			}
		}
	}
	if got := rec.byKind(EventCycleComplete); len(got) != 0 {
		t.Fatalf("cycle completed before all regions finished: %+v", got)
	}
}

// Full walkthrough: zone A plays a 5s poster then a video of unknown
// length, zone B plays a single 3s poster. B goes dark at t=3, A's video
// ends at t=17 via its native end event, and both regions restart their
// first item in lockstep at t=17 with the cycle counter at 1.
func TestCycleBarrierRestartsAllRegionsInLockstep(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"imgA": {ID: "imgA", Name: "Poster A", Kind: KindImage},
		"vid":  {ID: "vid", Name: "Spot", Kind: KindVideo},
		"imgB": {ID: "imgB", Name: "Poster B", Kind: KindImage},
	}}
	e, fake := newTestEngine(t, loader)
	rec := &eventRecorder{}
	e.On(rec.record)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{
			RegionID:   "zoneA",
			ContentIDs: []string{"imgA", "vid"},
			Overrides:  map[string]time.Duration{"imgA": 5 * time.Second},
		},
		{
			RegionID:   "zoneB",
			ContentIDs: []string{"imgB"},
			Overrides:  map[string]time.Duration{"imgB": 3 * time.Second},
		},
	}}
	mustLoad(t, e, playlist, twoRegionLayout())
	mustPlay(t, e)

	step(e, fake, 3*time.Second)  // t=3: B dark
	step(e, fake, 2*time.Second)  // t=5: A moves to the video
	step(e, fake, 12*time.Second) // t=17: nothing due, video still armed

	snap := e.Snapshot()
	if snap.Regions[0].Content == nil || snap.Regions[0].Content.ID != "vid" {
		t.Fatalf("zoneA should be in the video at t=17: %+v", snap.Regions[0].Content)
	}
	if e.CycleCount() != 0 {
		t.Fatalf("cycle count before barrier: got %d want 0", e.CycleCount())
	}

	rec.reset()
	e.NotifyContentComplete("zoneA", "vid")

	cycles := rec.byKind(EventCycleComplete)
	if len(cycles) != 1 || cycles[0].CycleCount != 1 {
		t.Fatalf("cycle completion: got %+v want one event with count 1", cycles)
	}
	changes := rec.byKind(EventContentChange)
	// zoneA going dark, then both regions re-seeded.
	if len(changes) != 3 {
		t.Fatalf("content changes at the barrier: got %d want 3", len(changes))
	}

	snap = e.Snapshot()
	if snap.CycleCount != 1 {
		t.Fatalf("cycle count after barrier: got %d want 1", snap.CycleCount)
	}
	for _, region := range snap.Regions {
		if region.Index != 0 || region.Content == nil {
			t.Fatalf("%s did not restart at the barrier: %+v", region.RegionID, region)
		}
		if region.StartedAt != 17*time.Second {
			t.Fatalf("%s restart time: got %v want %v", region.RegionID, region.StartedAt, 17*time.Second)
		}
	}
}

// With fixed durations every cycle takes exactly the same engine time:
// completions land at cycleLength, 2*cycleLength, 3*cycleLength.
func TestCycleCompletionTimesAreRepeatable(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"a1": {ID: "a1", Kind: KindImage},
		"a2": {ID: "a2", Kind: KindImage},
		"b1": {ID: "b1", Kind: KindImage},
	}}
	e, fake := newTestEngine(t, loader)

	var mu sync.Mutex
	var completions []time.Duration
	e.On(func(ev Event) {
		if ev.Kind == EventCycleComplete {
			mu.Lock()
			completions = append(completions, e.CurrentTime())
			mu.Unlock()
		}
	})

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{
			RegionID:   "zoneA",
			ContentIDs: []string{"a1", "a2"},
			Overrides: map[string]time.Duration{
				"a1": 2 * time.Second,
				"a2": 3 * time.Second,
			},
		},
		{
			RegionID:   "zoneB",
			ContentIDs: []string{"b1"},
			Overrides:  map[string]time.Duration{"b1": 5 * time.Second},
		},
	}}
	mustLoad(t, e, playlist, twoRegionLayout())
	mustPlay(t, e)

	for i := 0; i < 15; i++ {
		step(e, fake, time.Second)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}
	if len(completions) != len(want) {
		t.Fatalf("cycle completions: got %v want %v", completions, want)
	}
	for i := range want {
		if completions[i] != want[i] {
			t.Fatalf("cycle completions: got %v want %v", completions, want)
		}
	}
	if e.CycleCount() != 3 {
		t.Fatalf("cycle count: got %d want 3", e.CycleCount())
	}
}

// Pausing for p shifts every subsequent end observation by exactly p:
// engine time stands still while paused and resumes without a jump.
func TestPauseShiftsTheTimelineByThePausedDuration(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"img": {ID: "img", Kind: KindImage},
	}}
	e, fake := newTestEngine(t, loader)

	var mu sync.Mutex
	var completions []time.Duration
	e.On(func(ev Event) {
		if ev.Kind == EventCycleComplete {
			mu.Lock()
			completions = append(completions, e.CurrentTime())
			mu.Unlock()
		}
	})

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{
			RegionID:   "main",
			ContentIDs: []string{"img"},
			Overrides:  map[string]time.Duration{"img": 5 * time.Second},
		},
	}}
	mustLoad(t, e, playlist, singleRegionLayout())
	mustPlay(t, e)

	step(e, fake, 2*time.Second)
	e.Pause()
	if got := e.Status(); got != StatusPaused {
		t.Fatalf("status after pause: got %v want %v", got, StatusPaused)
	}
	beforePause := e.CurrentTime()

	fake.Advance(30 * time.Second) // wall time passes, engine time must not
	e.tick()                       // a stray tick while paused is a no-op
	if got := e.CurrentTime(); got != beforePause {
		t.Fatalf("engine time moved while paused: got %v want %v", got, beforePause)
	}

	mustPlay(t, e) // resume
	if got := e.CurrentTime(); got != beforePause {
		t.Fatalf("engine time jumped on resume: got %v want %v", got, beforePause)
	}

	step(e, fake, 3*time.Second) // item ends at engine t=5, wall t=35

	mu.Lock()
	defer mu.Unlock()
	if len(completions) != 1 || completions[0] != 5*time.Second {
		t.Fatalf("cycle completion after pause: got %v want [5s]", completions)
	}
}

func TestStaleCompletionSignalIsIgnored(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"first":  {ID: "first", Kind: KindImage},
		"second": {ID: "second", Kind: KindImage},
	}}
	e, fake := newTestEngine(t, loader)
	rec := &eventRecorder{}
	e.On(rec.record)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{
			RegionID:   "main",
			ContentIDs: []string{"first", "second"},
			Overrides: map[string]time.Duration{
				"first":  5 * time.Second,
				"second": 5 * time.Second,
			},
		},
	}}
	mustLoad(t, e, playlist, singleRegionLayout())
	mustPlay(t, e)

	// Timer already advanced past "first"; its late native end event
	// must not advance the region a second time.
	step(e, fake, 5*time.Second)
	rec.reset()

	e.NotifyContentComplete("main", "first")

	if changes := rec.byKind(EventContentChange); len(changes) != 0 {
		t.Fatalf("stale signal advanced the region: %+v", changes)
	}
	snap := e.Snapshot()
	if snap.Regions[0].Content == nil || snap.Regions[0].Content.ID != "second" {
		t.Fatalf("stale signal disturbed playback: %+v", snap.Regions[0].Content)
	}
}

func TestDuplicateCompletionSignalAdvancesOnlyOnce(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"first":  {ID: "first", Kind: KindImage},
		"second": {ID: "second", Kind: KindImage},
	}}
	e, _ := newTestEngine(t, loader)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{RegionID: "main", ContentIDs: []string{"first", "second"}},
	}}
	mustLoad(t, e, playlist, singleRegionLayout())
	mustPlay(t, e)

	e.NotifyContentComplete("main", "first")
	e.NotifyContentComplete("main", "first") // duplicate delivery

	snap := e.Snapshot()
	if snap.Regions[0].Content == nil || snap.Regions[0].Content.ID != "second" {
		t.Fatalf("duplicate signal double-advanced: %+v", snap.Regions[0].Content)
	}
	if snap.Regions[0].Index != 1 {
		t.Fatalf("index after duplicate signal: got %d want 1", snap.Regions[0].Index)
	}
}

func TestCompletionSignalForUnknownRegionIsANoOp(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"img": {ID: "img", Kind: KindImage},
	}}
	e, _ := newTestEngine(t, loader)
	rec := &eventRecorder{}
	e.On(rec.record)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{RegionID: "main", ContentIDs: []string{"img"}},
	}}
	mustLoad(t, e, playlist, singleRegionLayout())
	mustPlay(t, e)
	rec.reset()

	e.NotifyContentComplete("nope", "img")

	if len(rec.byKind(EventContentChange)) != 0 {
		t.Fatal("unknown region signal produced events")
	}
}

func TestDetectedDurationAppliesFromTheNextCycle(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"vid": {ID: "vid", Name: "Spot", Kind: KindVideo},
	}}
	e, _ := newTestEngine(t, loader)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{RegionID: "zoneA", ContentIDs: []string{"vid"}},
		{RegionID: "zoneB", ContentIDs: []string{"vid"}},
	}}
	mustLoad(t, e, playlist, twoRegionLayout())
	mustPlay(t, e)

	snap := e.Snapshot()
	for _, region := range snap.Regions {
		if region.Duration != time.Hour {
			t.Fatalf("%s should start on the placeholder: got %v", region.RegionID, region.Duration)
		}
	}

	e.NotifyDurationDetected("vid", 8*time.Second)

	// The running records keep their armed end times.
	snap = e.Snapshot()
	for _, region := range snap.Regions {
		if region.Duration != time.Hour {
			t.Fatalf("%s was rescheduled retroactively: got %v", region.RegionID, region.Duration)
		}
	}

	// Both regions finish via their end events; the next cycle schedules
	// the detected duration everywhere at once.
	e.NotifyContentComplete("zoneA", "vid")
	e.NotifyContentComplete("zoneB", "vid")

	snap = e.Snapshot()
	if snap.CycleCount != 1 {
		t.Fatalf("cycle count: got %d want 1", snap.CycleCount)
	}
	for _, region := range snap.Regions {
		if region.Duration != 8*time.Second {
			t.Fatalf("%s next cycle duration: got %v want %v", region.RegionID, region.Duration, 8*time.Second)
		}
	}
}

func TestNoLoopStopsAtTheCycleEnd(t *testing.T) {
	fake := clockwork.NewFakeClock()
	loader := &stubLoader{items: map[string]*Item{
		"img": {ID: "img", Kind: KindImage},
	}}
	e := New(loader, Options{
		TickInterval: time.Hour,
		NoLoop:       true,
		Clock:        fake,
		Logger:       zerolog.Nop(),
	})
	t.Cleanup(e.Dispose)
	rec := &eventRecorder{}
	e.On(rec.record)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{
			RegionID:   "main",
			ContentIDs: []string{"img"},
			Overrides:  map[string]time.Duration{"img": 2 * time.Second},
		},
	}}
	mustLoad(t, e, playlist, singleRegionLayout())
	mustPlay(t, e)

	step(e, fake, 2*time.Second)

	if got := e.Status(); got != StatusIdle {
		t.Fatalf("status after single cycle: got %v want %v", got, StatusIdle)
	}
	if got := rec.byKind(EventCycleComplete); len(got) != 0 {
		t.Fatalf("no-loop run should not emit cycle completions: %+v", got)
	}
	if got := e.CurrentTime(); got != 0 {
		t.Fatalf("engine time after stop: got %v want 0", got)
	}
}

func TestStopResetsTimeAndRegions(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"a": {ID: "a", Kind: KindImage},
		"b": {ID: "b", Kind: KindImage},
	}}
	e, fake := newTestEngine(t, loader)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{
			RegionID:   "main",
			ContentIDs: []string{"a", "b"},
			Overrides:  map[string]time.Duration{"a": 5 * time.Second},
		},
	}}
	mustLoad(t, e, playlist, singleRegionLayout())
	mustPlay(t, e)
	step(e, fake, 5*time.Second)

	e.Stop()

	if got := e.Status(); got != StatusIdle {
		t.Fatalf("status after stop: got %v want %v", got, StatusIdle)
	}
	if got := e.CurrentTime(); got != 0 {
		t.Fatalf("engine time after stop: got %v want 0", got)
	}

	// Playing again starts the playlist from the top at time zero.
	mustPlay(t, e)
	snap := e.Snapshot()
	if snap.Regions[0].Index != 0 || snap.Regions[0].StartedAt != 0 {
		t.Fatalf("replay after stop did not restart: %+v", snap.Regions[0])
	}
}

func TestTimeUpdateCarriesEngineTime(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"img": {ID: "img", Kind: KindImage},
	}}
	e, fake := newTestEngine(t, loader)
	rec := &eventRecorder{}
	e.On(rec.record)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{RegionID: "main", ContentIDs: []string{"img"}},
	}}
	mustLoad(t, e, playlist, singleRegionLayout())
	mustPlay(t, e)

	step(e, fake, 4*time.Second)

	updates := rec.byKind(EventTimeUpdate)
	if len(updates) != 1 {
		t.Fatalf("time updates: got %d want 1", len(updates))
	}
	if updates[0].CurrentTime != 4*time.Second {
		t.Fatalf("time update value: got %v want %v", updates[0].CurrentTime, 4*time.Second)
	}
}

func TestMarkNextPreloadedClearsOnAdvance(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"a": {ID: "a", Kind: KindImage},
		"b": {ID: "b", Kind: KindImage},
	}}
	e, fake := newTestEngine(t, loader)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{
			RegionID:   "main",
			ContentIDs: []string{"a", "b"},
			Overrides:  map[string]time.Duration{"a": 5 * time.Second},
		},
	}}
	mustLoad(t, e, playlist, singleRegionLayout())
	mustPlay(t, e)

	e.MarkNextPreloaded("main")
	if snap := e.Snapshot(); !snap.Regions[0].Preloaded {
		t.Fatal("preloaded flag not set")
	}

	step(e, fake, 5*time.Second)
	if snap := e.Snapshot(); snap.Regions[0].Preloaded {
		t.Fatal("preloaded flag should clear on advance")
	}
}

func TestListenerPanicDoesNotAffectOtherListeners(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"img": {ID: "img", Kind: KindImage},
	}}
	e, _ := newTestEngine(t, loader)

	e.On(func(Event) { panic("listener bug") })
	rec := &eventRecorder{}
	e.On(rec.record)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{RegionID: "main", ContentIDs: []string{"img"}},
	}}
	mustLoad(t, e, playlist, singleRegionLayout())
	mustPlay(t, e)

	if got := rec.statuses(); len(got) == 0 {
		t.Fatal("second listener received nothing")
	}
	if got := e.Status(); got != StatusPlaying {
		t.Fatalf("engine status after panicking listener: got %v want %v", got, StatusPlaying)
	}
}

func TestUnsubscribeStopsDeliveryAndIsIdempotent(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"img": {ID: "img", Kind: KindImage},
	}}
	e, _ := newTestEngine(t, loader)

	gone := &eventRecorder{}
	stays := &eventRecorder{}
	unsub := e.On(gone.record)
	e.On(stays.record)

	unsub()
	unsub() // second call is harmless

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{RegionID: "main", ContentIDs: []string{"img"}},
	}}
	mustLoad(t, e, playlist, singleRegionLayout())

	if got := gone.statuses(); len(got) != 0 {
		t.Fatalf("unsubscribed listener still receives events: %v", got)
	}
	if got := stays.statuses(); len(got) == 0 {
		t.Fatal("remaining listener received nothing")
	}
}

func TestDisposeIsTerminal(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"img": {ID: "img", Kind: KindImage},
	}}
	e, _ := newTestEngine(t, loader)
	rec := &eventRecorder{}
	e.On(rec.record)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{RegionID: "main", ContentIDs: []string{"img"}},
	}}
	mustLoad(t, e, playlist, singleRegionLayout())
	mustPlay(t, e)

	e.Dispose()
	rec.reset()

	if err := e.Play(); !errors.Is(err, ErrEngineDisposed) {
		t.Fatalf("play after dispose: got %v want %v", err, ErrEngineDisposed)
	}
	if err := e.Load(context.Background(), playlist, singleRegionLayout()); !errors.Is(err, ErrEngineDisposed) {
		t.Fatalf("load after dispose: got %v want %v", err, ErrEngineDisposed)
	}
	e.NotifyContentComplete("main", "img") // must not panic
	e.Dispose()                            // second dispose is harmless

	rec.mu.Lock()
	got := len(rec.events)
	rec.mu.Unlock()
	if got != 0 {
		t.Fatalf("disposed engine still emits events: %d", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	loader := &stubLoader{items: map[string]*Item{
		"img": {ID: "img", Name: "Poster", Kind: KindImage},
	}}
	e, _ := newTestEngine(t, loader)

	playlist := Playlist{ID: "p1", Assignments: []Assignment{
		{RegionID: "main", ContentIDs: []string{"img"}},
	}}
	mustLoad(t, e, playlist, singleRegionLayout())
	mustPlay(t, e)

	snap := e.Snapshot()
	snap.Regions[0].Content.Name = "mutated"

	if got := e.Snapshot().Regions[0].Content.Name; got != "Poster" {
		t.Fatalf("snapshot mutation leaked into the engine: got %q", got)
	}
}
