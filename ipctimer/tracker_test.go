package ipctimer

import (
	"testing"
	"time"
)

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker()
	tr.now = clock.now
	return tr, clock
}

func TestElapsedExcludesPause(t *testing.T) {
	tr, clock := newTestTracker()
	tr.StartTracking("src/a.c:1")

	clock.advance(50 * time.Millisecond)
	tr.Pause("src/a.c:1")
	clock.advance(100 * time.Millisecond)
	tr.Resume("src/a.c:1")
	clock.advance(50 * time.Millisecond)

	if got := tr.ElapsedMs("src/a.c:1"); got != 100 {
		t.Fatalf("elapsed = %dms, want 100ms", got)
	}
}

func TestElapsedConstantWhilePaused(t *testing.T) {
	tr, clock := newTestTracker()
	tr.StartTracking("src/a.c:1")

	clock.advance(30 * time.Millisecond)
	tr.Pause("src/a.c:1")

	before := tr.ElapsedMs("src/a.c:1")
	clock.advance(5 * time.Second)
	after := tr.ElapsedMs("src/a.c:1")
	if before != after {
		t.Fatalf("elapsed changed while paused: %d -> %d", before, after)
	}
	if before != 30 {
		t.Fatalf("elapsed = %dms, want 30ms", before)
	}
}

func TestElapsedMonotoneWhileRunning(t *testing.T) {
	tr, clock := newTestTracker()
	tr.StartTracking("src/a.c:1")

	prev := int64(0)
	for range 10 {
		clock.advance(7 * time.Millisecond)
		got := tr.ElapsedMs("src/a.c:1")
		if got < prev {
			t.Fatalf("elapsed decreased: %d -> %d", prev, got)
		}
		prev = got
	}
}

func TestDoublePauseIsNoOp(t *testing.T) {
	tr, clock := newTestTracker()
	tr.StartTracking("src/a.c:1")

	clock.advance(10 * time.Millisecond)
	tr.Pause("src/a.c:1")
	clock.advance(10 * time.Millisecond)
	// Second started event without an intervening finished: no-op on the
	// pause state, the original pausedAt stands.
	tr.Pause("src/a.c:1")
	clock.advance(10 * time.Millisecond)
	tr.Resume("src/a.c:1")

	if got := tr.ElapsedMs("src/a.c:1"); got != 10 {
		t.Fatalf("elapsed = %dms, want 10ms", got)
	}
}

func TestDoubleResumeNoUnderflow(t *testing.T) {
	tr, clock := newTestTracker()
	tr.StartTracking("src/a.c:1")

	clock.advance(10 * time.Millisecond)
	tr.Pause("src/a.c:1")
	clock.advance(20 * time.Millisecond)
	tr.Resume("src/a.c:1")
	tr.Resume("src/a.c:1")
	clock.advance(5 * time.Millisecond)

	if got := tr.ElapsedMs("src/a.c:1"); got != 15 {
		t.Fatalf("elapsed = %dms, want 15ms", got)
	}
	if tr.IsPaused("src/a.c:1") {
		t.Fatal("timer should be running")
	}
}

func TestUnknownLocation(t *testing.T) {
	tr, _ := newTestTracker()

	if got := tr.ElapsedMs("src/unknown.c:1"); got != 0 {
		t.Fatalf("elapsed for unknown = %d, want 0", got)
	}
	if tr.IsPaused("src/unknown.c:1") {
		t.Fatal("unknown location should not be paused")
	}
	// Pause/resume of unknown locations must not create timers.
	tr.Pause("src/unknown.c:1")
	tr.Resume("src/unknown.c:1")
	if tr.TrackedCount() != 0 {
		t.Fatalf("tracked count = %d, want 0", tr.TrackedCount())
	}
}

func TestHasTimedOut(t *testing.T) {
	tr, clock := newTestTracker()
	tr.StartTracking("src/a.c:1")

	clock.advance(99 * time.Millisecond)
	if tr.HasTimedOut("src/a.c:1", 100) {
		t.Fatal("should not have timed out at 99ms")
	}
	clock.advance(1 * time.Millisecond)
	if !tr.HasTimedOut("src/a.c:1", 100) {
		t.Fatal("should have timed out at 100ms")
	}
}

func TestTimeoutExcludesSimulatorTime(t *testing.T) {
	tr, clock := newTestTracker()
	tr.StartTracking("src/a.c:1")

	clock.advance(60 * time.Millisecond)
	tr.Pause("src/a.c:1")
	clock.advance(10 * time.Minute) // simulator runtime does not count
	tr.Resume("src/a.c:1")
	clock.advance(30 * time.Millisecond)

	if tr.HasTimedOut("src/a.c:1", 100) {
		t.Fatal("simulator time must not count against the budget")
	}
	if got := tr.ElapsedMs("src/a.c:1"); got != 90 {
		t.Fatalf("elapsed = %dms, want 90ms", got)
	}
}

func TestStopTracking(t *testing.T) {
	tr, clock := newTestTracker()
	tr.StartTracking("src/a.c:1")
	clock.advance(10 * time.Millisecond)

	tr.StopTracking("src/a.c:1")
	if got := tr.ElapsedMs("src/a.c:1"); got != 0 {
		t.Fatalf("elapsed after stop = %d", got)
	}
	if tr.TrackedCount() != 0 {
		t.Fatalf("tracked count = %d", tr.TrackedCount())
	}
}

func TestSnapshot(t *testing.T) {
	tr, clock := newTestTracker()
	tr.StartTracking("src/a.c:1")
	tr.StartTracking("src/b.c:2")

	clock.advance(40 * time.Millisecond)
	tr.Pause("src/b.c:2")
	clock.advance(10 * time.Millisecond)

	snap := tr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d", len(snap))
	}
	a := snap["src/a.c:1"]
	if a.ElapsedMs != 50 || a.IsPaused {
		t.Fatalf("timer a: %+v", a)
	}
	b := snap["src/b.c:2"]
	if b.ElapsedMs != 40 || !b.IsPaused || b.TotalPausedMs != 10 {
		t.Fatalf("timer b: %+v", b)
	}
}
