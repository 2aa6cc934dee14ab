package rrc

import (
	"fmt"
	"math"

	mapset "github.com/deckarep/golang-set"
)

// -------------------------------------------------------------------------
// Round-robin identifier pool
// -------------------------------------------------------------------------

// roundRobin hands out identifiers from [lo, hi], continuing the search after
// the most recently allocated value and skipping values still in use. A
// released identifier is therefore reused only after the rest of the space
// has been visited, which keeps stale references from aliasing a new owner.
//
// roundRobin is not safe for concurrent use; the Controller serializes access.
type roundRobin struct {
	lo, hi uint32
	next   uint32
	inUse  map[uint32]struct{}
}

func newRoundRobin(lo, hi uint32) *roundRobin {
	return &roundRobin{
		lo:    lo,
		hi:    hi,
		next:  lo,
		inUse: make(map[uint32]struct{}),
	}
}

func (r *roundRobin) size() uint64 {
	return uint64(r.hi) - uint64(r.lo) + 1
}

// allocate returns the next free identifier, or false if every identifier
// of the range is in use.
func (r *roundRobin) allocate() (uint32, bool) {
	if uint64(len(r.inUse)) >= r.size() {
		return 0, false
	}

	for {
		v := r.next
		if r.next == r.hi {
			r.next = r.lo
		} else {
			r.next++
		}
		if _, busy := r.inUse[v]; !busy {
			r.inUse[v] = struct{}{}
			return v, true
		}
	}
}

// reserve marks v as used without advancing the cursor.
func (r *roundRobin) reserve(v uint32) bool {
	if v < r.lo || v > r.hi {
		return false
	}
	if _, busy := r.inUse[v]; busy {
		return false
	}
	r.inUse[v] = struct{}{}
	return true
}

func (r *roundRobin) release(v uint32) bool {
	if _, busy := r.inUse[v]; !busy {
		return false
	}
	delete(r.inUse, v)
	return true
}

func (r *roundRobin) contains(v uint32) bool {
	_, busy := r.inUse[v]
	return busy
}

func (r *roundRobin) count() int {
	return len(r.inUse)
}

// -------------------------------------------------------------------------
// RNTI allocator
// -------------------------------------------------------------------------

// MaxRnti is the largest connection identifier. Value 0 is reserved.
const MaxRnti = math.MaxUint16

// RntiAllocator reserves connection identifiers in [1, limit].
type RntiAllocator struct {
	pool *roundRobin
}

// NewRntiAllocator creates an allocator over [1, limit]. It returns
// ErrInvalidRntiSpace when limit is zero.
func NewRntiAllocator(limit uint16) (*RntiAllocator, error) {
	if limit == 0 {
		return nil, fmt.Errorf("%w: limit %d", ErrInvalidRntiSpace, limit)
	}
	return &RntiAllocator{pool: newRoundRobin(1, uint32(limit))}, nil
}

// Allocate returns the next free RNTI or ErrRntiExhausted.
func (a *RntiAllocator) Allocate() (uint16, error) {
	v, ok := a.pool.allocate()
	if !ok {
		return 0, fmt.Errorf("allocate rnti (%d in use): %w", a.pool.count(), ErrRntiExhausted)
	}
	return uint16(v), nil //nolint:gosec // G115: range bounded by [1, limit].
}

// Release returns rnti to the pool. It reports whether rnti was allocated.
func (a *RntiAllocator) Release(rnti uint16) bool {
	return a.pool.release(uint32(rnti))
}

// InUse reports whether rnti is currently allocated.
func (a *RntiAllocator) InUse(rnti uint16) bool {
	return a.pool.contains(uint32(rnti))
}

// -------------------------------------------------------------------------
// DRB identifier allocator
// -------------------------------------------------------------------------

const (
	// MinDrbID and MaxDrbID bound the data radio bearer identity
	// (TS 36.331 DRB-Identity ::= INTEGER (1..32), one value kept spare).
	MinDrbID = 1
	MaxDrbID = 31

	// lcidOffset is the distance between a DRB identity and its logical
	// channel: LCID 0 carries SRB0 and LCID 1 carries SRB1.
	lcidOffset = 2
)

// DrbAllocator reserves data bearer identifiers for one context.
type DrbAllocator struct {
	pool *roundRobin
}

// NewDrbAllocator creates an allocator over [1, 31].
func NewDrbAllocator() *DrbAllocator {
	return &DrbAllocator{pool: newRoundRobin(MinDrbID, MaxDrbID)}
}

// Allocate returns the next free DRB identity or ErrDrbExhausted.
func (a *DrbAllocator) Allocate() (uint8, error) {
	v, ok := a.pool.allocate()
	if !ok {
		return 0, ErrDrbExhausted
	}
	return uint8(v), nil //nolint:gosec // G115: range bounded by [1, 31].
}

// Reserve claims a specific identity, used when a handover carries one over.
func (a *DrbAllocator) Reserve(id uint8) bool {
	return a.pool.reserve(uint32(id))
}

// Release returns id to the pool.
func (a *DrbAllocator) Release(id uint8) bool {
	return a.pool.release(uint32(id))
}

// LogicalChannelID returns the logical channel that carries DRB drbID.
func LogicalChannelID(drbID uint8) uint8 {
	return drbID + lcidOffset
}

// -------------------------------------------------------------------------
// Forwarding TEID allocator
// -------------------------------------------------------------------------

// DefaultTeidSpace is the default number of forwarding tunnel identifiers.
const DefaultTeidSpace = 1 << 20

// TeidAllocator reserves X2-U forwarding tunnel identifiers for a cell.
type TeidAllocator struct {
	pool *roundRobin
}

// NewTeidAllocator creates an allocator over [1, space].
func NewTeidAllocator(space uint32) *TeidAllocator {
	if space == 0 {
		space = DefaultTeidSpace
	}
	return &TeidAllocator{pool: newRoundRobin(1, space)}
}

// Allocate returns the next free TEID or ErrTeidExhausted.
func (a *TeidAllocator) Allocate() (uint32, error) {
	v, ok := a.pool.allocate()
	if !ok {
		return 0, ErrTeidExhausted
	}
	return v, nil
}

// Release returns teid to the pool.
func (a *TeidAllocator) Release(teid uint32) bool {
	return a.pool.release(teid)
}

// -------------------------------------------------------------------------
// SRS index allocator
// -------------------------------------------------------------------------

// srsConfigIndexLow maps an SRS periodicity (in subframes) to the lowest
// UE-specific SRS configuration index with that periodicity
// (TS 36.213 Table 8.2-1).
//
//nolint:gochecknoglobals // lookup table.
var srsConfigIndexLow = map[uint16]uint16{
	2:   0,
	5:   2,
	10:  7,
	20:  17,
	40:  37,
	80:  77,
	160: 157,
	320: 317,
}

// ValidSrsPeriodicity reports whether p is a supported SRS periodicity.
func ValidSrsPeriodicity(p uint16) bool {
	_, ok := srsConfigIndexLow[p]
	return ok
}

// SrsAllocator assigns periodic sounding reference signal offsets in
// [0, periodicity). The periodicity is fixed for the allocator's lifetime.
type SrsAllocator struct {
	periodicity uint16
	assigned    mapset.Set
}

// NewSrsAllocator creates an allocator for periodicity. It returns
// ErrInvalidSrsPeriodicity for an unsupported value.
func NewSrsAllocator(periodicity uint16) (*SrsAllocator, error) {
	if !ValidSrsPeriodicity(periodicity) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSrsPeriodicity, periodicity)
	}
	return &SrsAllocator{
		periodicity: periodicity,
		assigned:    mapset.NewThreadUnsafeSet(),
	}, nil
}

// Periodicity returns the configured periodicity.
func (a *SrsAllocator) Periodicity() uint16 {
	return a.periodicity
}

// Allocate returns a free offset:
//   - 0 when nothing is assigned,
//   - max+1 when the largest assigned offset is below periodicity-1,
//   - otherwise the smallest gap in [0, periodicity).
//
// It returns ErrSrsExhausted when every offset is assigned.
func (a *SrsAllocator) Allocate() (uint16, error) {
	if a.assigned.Cardinality() >= int(a.periodicity) {
		return 0, fmt.Errorf("allocate srs offset (periodicity %d): %w", a.periodicity, ErrSrsExhausted)
	}

	if a.assigned.Cardinality() == 0 {
		a.assigned.Add(uint16(0))
		return 0, nil
	}

	highest := a.highest()
	if highest < a.periodicity-1 {
		a.assigned.Add(highest + 1)
		return highest + 1, nil
	}

	for i := range a.periodicity {
		if !a.assigned.Contains(i) {
			a.assigned.Add(i)
			return i, nil
		}
	}

	return 0, fmt.Errorf("allocate srs offset (periodicity %d): %w", a.periodicity, ErrSrsExhausted)
}

// Release removes offset from the assigned set.
func (a *SrsAllocator) Release(offset uint16) {
	a.assigned.Remove(offset)
}

// Assigned returns the number of assigned offsets.
func (a *SrsAllocator) Assigned() int {
	return a.assigned.Cardinality()
}

// ConfigIndex converts an offset into the SRS configuration index signalled
// to the PHY.
func (a *SrsAllocator) ConfigIndex(offset uint16) uint16 {
	return srsConfigIndexLow[a.periodicity] + offset
}

func (a *SrsAllocator) highest() uint16 {
	var highest uint16
	a.assigned.Each(func(v interface{}) bool {
		if o, ok := v.(uint16); ok && o > highest {
			highest = o
		}
		return false
	})
	return highest
}
