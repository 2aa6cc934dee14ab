package rrc

import (
	"testing"
	"time"
)

// manualClock records scheduled callbacks without running them.
type manualClock struct {
	pending []func()
}

type manualStopper struct{}

func (manualStopper) Stop() bool { return true }

func (c *manualClock) Now() time.Time { return time.Time{} }

func (c *manualClock) AfterFunc(_ time.Duration, f func()) Stopper {
	c.pending = append(c.pending, f)
	return manualStopper{}
}

// TestTimerArenaGeneration verifies that a handle becomes stale once its
// timer is cancelled, and that reusing the slot does not revive it.
func TestTimerArenaGeneration(t *testing.T) {
	t.Parallel()

	clk := &manualClock{}
	a := newTimerArena(clk)

	var fired []TimerHandle
	fire := func(h TimerHandle) { fired = append(fired, h) }

	h1 := a.arm(1, TimerConnectionSetup, StateConnectionSetup, time.Second, fire)
	if !a.armed(h1) || a.outstanding() != 1 {
		t.Fatalf("armed(h1)=%v outstanding=%d", a.armed(h1), a.outstanding())
	}

	if !a.cancel(h1) {
		t.Fatal("cancel(h1) = false")
	}
	if a.cancel(h1) {
		t.Error("second cancel(h1) = true")
	}

	h2 := a.arm(2, TimerHandoverJoining, StateHandoverJoining, time.Second, fire)
	if h2.slot != h1.slot {
		t.Fatalf("slot not reused: h1=%d h2=%d", h1.slot, h2.slot)
	}
	if h2 == h1 {
		t.Fatal("reused slot produced identical handle")
	}

	// The callback of the cancelled timer still runs (Stop lost the race).
	clk.pending[0]()
	if _, ok := a.take(fired[0]); ok {
		t.Error("take(stale handle) = true")
	}
	if !a.armed(h2) {
		t.Error("stale firing disarmed the slot's new occupant")
	}

	clk.pending[1]()
	ft, ok := a.take(fired[1])
	if !ok {
		t.Fatal("take(h2) = false")
	}
	if ft.rnti != 2 || ft.kind != TimerHandoverJoining || ft.state != StateHandoverJoining {
		t.Errorf("take(h2) = %+v", ft)
	}
	if a.outstanding() != 0 {
		t.Errorf("outstanding = %d, want 0", a.outstanding())
	}
}

// TestTimerHandleZero verifies that the zero handle is never armed.
func TestTimerHandleZero(t *testing.T) {
	t.Parallel()

	a := newTimerArena(&manualClock{})
	var h TimerHandle
	if !h.IsZero() {
		t.Error("zero handle IsZero() = false")
	}
	if a.armed(h) || a.cancel(h) {
		t.Error("zero handle reported as armed")
	}

	h = a.arm(7, TimerConnectionRequest, StateInitialAccess, time.Millisecond, func(TimerHandle) {})
	if h.IsZero() {
		t.Error("armed handle IsZero() = true")
	}
}

// TestStateTimer verifies which states are guarded.
func TestStateTimer(t *testing.T) {
	t.Parallel()

	guarded := map[State]TimerKind{
		StateInitialAccess:      TimerConnectionRequest,
		StateConnectionSetup:    TimerConnectionSetup,
		StateConnectionRejected: TimerConnectionRejected,
		StateHandoverJoining:    TimerHandoverJoining,
		StateHandoverLeaving:    TimerHandoverLeaving,
		StateHandoverPathSwitch: TimerPathSwitch,
	}
	for s := StateInitialAccess; s <= StateHandoverPathSwitch; s++ {
		want := guarded[s]
		if got := stateTimer(s); got != want {
			t.Errorf("stateTimer(%s) = %s, want %s", s, got, want)
		}
	}

	d := DefaultTimeouts()
	if d.duration(TimerConnectionSetup) != 150*time.Millisecond {
		t.Errorf("default setup timeout = %v", d.duration(TimerConnectionSetup))
	}
	if d.duration(TimerNone) != 0 {
		t.Errorf("TimerNone duration = %v, want 0", d.duration(TimerNone))
	}
}
