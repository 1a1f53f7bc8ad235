// Package ipctimer tracks per-panic wall clocks that exclude simulator
// runtime. Agents signal simulator start/finish over a small HTTP server;
// the agent runner queries elapsed time locally to enforce budgets.
package ipctimer

import (
	"sync"
	"time"
)

type timerState struct {
	startedAt   time.Time
	pausedAt    time.Time
	paused      bool
	totalPaused time.Duration
}

// Tracker owns the per-panic-location timers. All methods are safe for
// concurrent use; HTTP handlers and local callers share the same map.
type Tracker struct {
	mu     sync.Mutex
	timers map[string]*timerState

	// now is replaceable in tests.
	now func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		timers: make(map[string]*timerState),
		now:    time.Now,
	}
}

// StartTracking creates a timer for the panic location, replacing any
// previous one.
func (t *Tracker) StartTracking(loc string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timers[loc] = &timerState{startedAt: t.now()}
}

// StopTracking destroys the timer for the panic location.
func (t *Tracker) StopTracking(loc string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.timers, loc)
}

// Pause records a simulator start. Pausing an already-paused timer or an
// unknown location is a no-op.
func (t *Tracker) Pause(loc string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.timers[loc]
	if !ok || st.paused {
		return
	}
	st.paused = true
	st.pausedAt = t.now()
}

// Resume records a simulator finish, adding the pause span to the total.
// Resuming a running timer or an unknown location is a no-op, so
// total_paused can never underflow.
func (t *Tracker) Resume(loc string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.timers[loc]
	if !ok || !st.paused {
		return
	}
	st.totalPaused += t.now().Sub(st.pausedAt)
	st.paused = false
	st.pausedAt = time.Time{}
}

// ElapsedMs returns the net elapsed milliseconds for the panic location:
// wall time minus all paused spans, including a still-open one. Unknown
// locations report 0.
func (t *Tracker) ElapsedMs(loc string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.timers[loc]
	if !ok {
		return 0
	}
	return t.elapsedLocked(st).Milliseconds()
}

func (t *Tracker) elapsedLocked(st *timerState) time.Duration {
	elapsed := t.now().Sub(st.startedAt) - st.totalPaused
	if st.paused {
		elapsed -= t.now().Sub(st.pausedAt)
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// IsPaused reports whether the timer exists and is currently paused.
func (t *Tracker) IsPaused(loc string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.timers[loc]
	return ok && st.paused
}

// HasTimedOut reports whether net elapsed time has reached the budget.
func (t *Tracker) HasTimedOut(loc string, budgetMs int64) bool {
	return t.ElapsedMs(loc) >= budgetMs
}

// TrackedCount returns the number of live timers.
func (t *Tracker) TrackedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// TimerInfo is a point-in-time view of one timer, for diagnostics.
type TimerInfo struct {
	ElapsedMs     int64 `json:"elapsedMs"`
	TotalPausedMs int64 `json:"totalPausedMs"`
	IsPaused      bool  `json:"isPaused"`
}

// Snapshot returns diagnostics for every live timer.
func (t *Tracker) Snapshot() map[string]TimerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]TimerInfo, len(t.timers))
	for loc, st := range t.timers {
		totalPaused := st.totalPaused
		if st.paused {
			totalPaused += t.now().Sub(st.pausedAt)
		}
		out[loc] = TimerInfo{
			ElapsedMs:     t.elapsedLocked(st).Milliseconds(),
			TotalPausedMs: totalPaused.Milliseconds(),
			IsPaused:      st.paused,
		}
	}
	return out
}
