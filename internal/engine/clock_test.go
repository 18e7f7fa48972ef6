package engine

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestPlaybackClockCountsWhileRunning(t *testing.T) {
	fake := clockwork.NewFakeClock()
	clock := NewPlaybackClock(fake)

	if err := clock.Start(); err != nil {
		t.Fatalf("start clock: %v", err)
	}
	fake.Advance(3 * time.Second)

	if got := clock.Now(); got != 3*time.Second {
		t.Fatalf("elapsed mismatch: got %v want %v", got, 3*time.Second)
	}
}

func TestPlaybackClockPauseFreezesTime(t *testing.T) {
	fake := clockwork.NewFakeClock()
	clock := NewPlaybackClock(fake)

	if err := clock.Start(); err != nil {
		t.Fatalf("start clock: %v", err)
	}
	fake.Advance(2 * time.Second)
	clock.Pause()

	before := clock.Now()
	fake.Advance(30 * time.Second)
	after := clock.Now()

	if before != after {
		t.Fatalf("paused clock moved: before %v after %v", before, after)
	}
	if before != 2*time.Second {
		t.Fatalf("paused elapsed mismatch: got %v want %v", before, 2*time.Second)
	}
}

func TestPlaybackClockResumeDoesNotJump(t *testing.T) {
	fake := clockwork.NewFakeClock()
	clock := NewPlaybackClock(fake)

	if err := clock.Start(); err != nil {
		t.Fatalf("start clock: %v", err)
	}
	fake.Advance(5 * time.Second)
	clock.Pause()
	beforePause := clock.Now()

	fake.Advance(time.Minute) // paused duration must not count

	if err := clock.Resume(); err != nil {
		t.Fatalf("resume clock: %v", err)
	}
	if got := clock.Now(); got != beforePause {
		t.Fatalf("resume jumped: got %v want %v", got, beforePause)
	}

	fake.Advance(time.Second)
	if got := clock.Now(); got != beforePause+time.Second {
		t.Fatalf("post-resume elapsed mismatch: got %v want %v", got, beforePause+time.Second)
	}
}

func TestPlaybackClockRepeatedPauseResumeNeverDrifts(t *testing.T) {
	fake := clockwork.NewFakeClock()
	clock := NewPlaybackClock(fake)

	if err := clock.Start(); err != nil {
		t.Fatalf("start clock: %v", err)
	}

	var want time.Duration
	for i := 0; i < 10; i++ {
		fake.Advance(time.Second)
		want += time.Second
		clock.Pause()
		fake.Advance(7 * time.Second) // ignored
		if err := clock.Resume(); err != nil {
			t.Fatalf("resume clock: %v", err)
		}
	}

	if got := clock.Now(); got != want {
		t.Fatalf("drift after pause/resume cycles: got %v want %v", got, want)
	}
}

func TestPlaybackClockStartWhileRunningIsNoOp(t *testing.T) {
	fake := clockwork.NewFakeClock()
	clock := NewPlaybackClock(fake)

	if err := clock.Start(); err != nil {
		t.Fatalf("start clock: %v", err)
	}
	fake.Advance(4 * time.Second)
	if err := clock.Start(); err != nil {
		t.Fatalf("restart clock: %v", err)
	}

	if got := clock.Now(); got != 4*time.Second {
		t.Fatalf("double start rebased the clock: got %v want %v", got, 4*time.Second)
	}
}

func TestPlaybackClockResetZeroesBookkeeping(t *testing.T) {
	fake := clockwork.NewFakeClock()
	clock := NewPlaybackClock(fake)

	if err := clock.Start(); err != nil {
		t.Fatalf("start clock: %v", err)
	}
	fake.Advance(9 * time.Second)
	clock.Pause()
	clock.Reset()

	if got := clock.Now(); got != 0 {
		t.Fatalf("reset clock not zero: got %v", got)
	}
	if clock.Running() {
		t.Fatal("reset clock should be stopped")
	}

	if err := clock.Start(); err != nil {
		t.Fatalf("start after reset: %v", err)
	}
	fake.Advance(time.Second)
	if got := clock.Now(); got != time.Second {
		t.Fatalf("elapsed after reset mismatch: got %v want %v", got, time.Second)
	}
}

func TestPlaybackClockDisposeIsTerminal(t *testing.T) {
	fake := clockwork.NewFakeClock()
	clock := NewPlaybackClock(fake)

	if err := clock.Start(); err != nil {
		t.Fatalf("start clock: %v", err)
	}
	fake.Advance(time.Second)
	clock.Dispose()

	if got := clock.Now(); got != 0 {
		t.Fatalf("disposed clock reports time: got %v", got)
	}
	if err := clock.Start(); err != ErrClockDisposed {
		t.Fatalf("start after dispose: got %v want %v", err, ErrClockDisposed)
	}
}
