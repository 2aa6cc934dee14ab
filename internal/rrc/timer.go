package rrc

import (
	"time"
)

// TimerKind identifies which protocol guard a timer implements.
type TimerKind uint8

const (
	// TimerNone is the zero value: no timer.
	TimerNone TimerKind = iota

	// TimerConnectionRequest guards InitialAccess.
	TimerConnectionRequest

	// TimerConnectionSetup guards ConnectionSetup.
	TimerConnectionSetup

	// TimerConnectionRejected bounds the lifetime of a rejected context.
	TimerConnectionRejected

	// TimerHandoverJoining guards HandoverJoining on the target.
	TimerHandoverJoining

	// TimerHandoverLeaving guards HandoverLeaving on the source.
	TimerHandoverLeaving

	// TimerPathSwitch guards HandoverPathSwitch on the target.
	TimerPathSwitch
)

// String returns the human-readable name of the timer kind.
func (k TimerKind) String() string {
	switch k {
	case TimerNone:
		return "None"
	case TimerConnectionRequest:
		return "ConnectionRequest"
	case TimerConnectionSetup:
		return "ConnectionSetup"
	case TimerConnectionRejected:
		return "ConnectionRejected"
	case TimerHandoverJoining:
		return "HandoverJoining"
	case TimerHandoverLeaving:
		return "HandoverLeaving"
	case TimerPathSwitch:
		return "PathSwitch"
	default:
		return "Unknown"
	}
}

// stateTimer returns the guard timer armed on entry to s.
func stateTimer(s State) TimerKind {
	switch s {
	case StateInitialAccess:
		return TimerConnectionRequest
	case StateConnectionSetup:
		return TimerConnectionSetup
	case StateConnectionRejected:
		return TimerConnectionRejected
	case StateHandoverJoining:
		return TimerHandoverJoining
	case StateHandoverLeaving:
		return TimerHandoverLeaving
	case StateHandoverPathSwitch:
		return TimerPathSwitch
	default:
		return TimerNone
	}
}

// Timeouts holds the guard durations. A zero duration disables the guard.
type Timeouts struct {
	ConnectionRequest  time.Duration
	ConnectionSetup    time.Duration
	ConnectionRejected time.Duration
	HandoverJoining    time.Duration
	HandoverLeaving    time.Duration
	PathSwitch         time.Duration
}

// DefaultTimeouts returns the reference guard durations.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		ConnectionRequest:  15 * time.Millisecond,
		ConnectionSetup:    150 * time.Millisecond,
		ConnectionRejected: 30 * time.Millisecond,
		HandoverJoining:    200 * time.Millisecond,
		HandoverLeaving:    500 * time.Millisecond,
		PathSwitch:         3 * time.Second,
	}
}

func (t Timeouts) duration(k TimerKind) time.Duration {
	switch k {
	case TimerConnectionRequest:
		return t.ConnectionRequest
	case TimerConnectionSetup:
		return t.ConnectionSetup
	case TimerConnectionRejected:
		return t.ConnectionRejected
	case TimerHandoverJoining:
		return t.HandoverJoining
	case TimerHandoverLeaving:
		return t.HandoverLeaving
	case TimerPathSwitch:
		return t.PathSwitch
	default:
		return 0
	}
}

// -------------------------------------------------------------------------
// Clock
// -------------------------------------------------------------------------

// Clock schedules callbacks. The default clock wraps time.AfterFunc; tests
// substitute a manually advanced clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Stopper
}

// Stopper cancels a scheduled callback. *time.Timer satisfies it.
type Stopper interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// -------------------------------------------------------------------------
// Timer arena
// -------------------------------------------------------------------------

// TimerHandle identifies an armed timer. The generation distinguishes
// successive occupants of the same slot; a handle whose generation no longer
// matches its slot refers to a cancelled or fired timer.
type TimerHandle struct {
	slot uint32
	gen  uint32
}

// IsZero reports whether h refers to no timer.
func (h TimerHandle) IsZero() bool {
	return h.gen == 0
}

// timerSlot is one arena entry. gen is odd while armed.
type timerSlot struct {
	gen   uint32
	rnti  uint16
	kind  TimerKind
	state State
	stop  Stopper
}

// firedTimer describes a timer that was still live when it fired.
type firedTimer struct {
	rnti  uint16
	kind  TimerKind
	state State
}

// timerArena owns every outstanding timer of a Controller. It is not safe for
// concurrent use; the Controller serializes access.
type timerArena struct {
	clock Clock
	slots []timerSlot
	free  []uint32
	live  int
}

func newTimerArena(clock Clock) *timerArena {
	return &timerArena{clock: clock}
}

// arm schedules fire after d. The callback receives the handle so the owner
// can ask the arena whether the timer is still current.
func (a *timerArena) arm(rnti uint16, kind TimerKind, state State, d time.Duration, fire func(TimerHandle)) TimerHandle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, timerSlot{})
		idx = uint32(len(a.slots) - 1) //nolint:gosec // G115: arena size is bounded by live contexts.
	}

	s := &a.slots[idx]
	s.gen++ // even -> odd: armed
	s.rnti = rnti
	s.kind = kind
	s.state = state

	h := TimerHandle{slot: idx, gen: s.gen}
	s.stop = a.clock.AfterFunc(d, func() { fire(h) })
	a.live++

	return h
}

// cancel disarms h. Cancelling a stale or zero handle is a no-op.
func (a *timerArena) cancel(h TimerHandle) bool {
	s, ok := a.lookup(h)
	if !ok {
		return false
	}
	if s.stop != nil {
		s.stop.Stop()
	}
	a.retire(h.slot)
	return true
}

// take consumes a fired handle. It returns false when the handle is stale,
// meaning the timer was cancelled after the clock had already queued it.
func (a *timerArena) take(h TimerHandle) (firedTimer, bool) {
	s, ok := a.lookup(h)
	if !ok {
		return firedTimer{}, false
	}
	ft := firedTimer{rnti: s.rnti, kind: s.kind, state: s.state}
	a.retire(h.slot)
	return ft, true
}

// armed reports whether h is still outstanding.
func (a *timerArena) armed(h TimerHandle) bool {
	_, ok := a.lookup(h)
	return ok
}

// outstanding returns the number of armed timers.
func (a *timerArena) outstanding() int {
	return a.live
}

func (a *timerArena) lookup(h TimerHandle) (*timerSlot, bool) {
	if h.IsZero() || int(h.slot) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[h.slot]
	if s.gen != h.gen {
		return nil, false
	}
	return s, true
}

func (a *timerArena) retire(idx uint32) {
	s := &a.slots[idx]
	s.gen++ // odd -> even: free
	s.stop = nil
	s.kind = TimerNone
	a.free = append(a.free, idx)
	a.live--
}
