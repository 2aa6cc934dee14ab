package rrc_test

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/dantte-lp/gorrc/internal/rrc"
)

// -------------------------------------------------------------------------
// RNTI allocator
// -------------------------------------------------------------------------

// TestRntiAllocatorRoundRobin verifies that identifiers start at 1, advance
// past released values and wrap without ever producing 0.
func TestRntiAllocatorRoundRobin(t *testing.T) {
	t.Parallel()

	a, err := rrc.NewRntiAllocator(3)
	if err != nil {
		t.Fatalf("NewRntiAllocator: %v", err)
	}

	var got []uint16
	for range 3 {
		v, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		got = append(got, v)
	}
	want := []uint16{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("allocations = %v, want %v", got, want)
		}
	}

	if _, err := a.Allocate(); !errors.Is(err, rrc.ErrRntiExhausted) {
		t.Fatalf("Allocate on full space: error = %v, want ErrRntiExhausted", err)
	}

	a.Release(2)
	v, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate after release: %v", err)
	}
	if v != 2 {
		t.Errorf("Allocate after release = %d, want 2", v)
	}
}

// TestRntiAllocatorSkipsInUse verifies that the cursor continues after the
// last allocation instead of reusing the lowest free value.
func TestRntiAllocatorSkipsInUse(t *testing.T) {
	t.Parallel()

	a, err := rrc.NewRntiAllocator(10)
	if err != nil {
		t.Fatalf("NewRntiAllocator: %v", err)
	}

	first, _ := a.Allocate()
	second, _ := a.Allocate()
	a.Release(first)

	third, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if third != second+1 {
		t.Errorf("Allocate = %d, want %d (cursor continues)", third, second+1)
	}
	if !a.InUse(second) || a.InUse(first) {
		t.Errorf("InUse(%d)=%v InUse(%d)=%v", second, a.InUse(second), first, a.InUse(first))
	}
}

// TestRntiAllocatorZeroSpace verifies the configuration error.
func TestRntiAllocatorZeroSpace(t *testing.T) {
	t.Parallel()

	if _, err := rrc.NewRntiAllocator(0); !errors.Is(err, rrc.ErrInvalidRntiSpace) {
		t.Errorf("NewRntiAllocator(0) error = %v, want ErrInvalidRntiSpace", err)
	}
}

// TestRntiAllocatorDistinct verifies that identifiers in use are pairwise
// distinct across random allocate/release sequences.
func TestRntiAllocatorDistinct(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	a, err := rrc.NewRntiAllocator(64)
	if err != nil {
		t.Fatalf("NewRntiAllocator: %v", err)
	}

	live := make(map[uint16]bool)
	for step := range 5000 {
		if len(live) > 0 && rng.IntN(3) == 0 {
			for v := range live {
				a.Release(v)
				delete(live, v)
				break
			}
			continue
		}

		v, err := a.Allocate()
		if len(live) == 64 {
			if !errors.Is(err, rrc.ErrRntiExhausted) {
				t.Fatalf("step %d: error = %v, want ErrRntiExhausted", step, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("step %d: Allocate: %v", step, err)
		}
		if v == 0 {
			t.Fatalf("step %d: allocated reserved value 0", step)
		}
		if live[v] {
			t.Fatalf("step %d: rnti %d allocated twice", step, v)
		}
		live[v] = true
	}
}

// -------------------------------------------------------------------------
// DRB allocator
// -------------------------------------------------------------------------

// TestDrbAllocatorBounds verifies the [1, 31] range and exhaustion.
func TestDrbAllocatorBounds(t *testing.T) {
	t.Parallel()

	a := rrc.NewDrbAllocator()
	seen := make(map[uint8]bool)
	for range rrc.MaxDrbID {
		id, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if id < rrc.MinDrbID || id > rrc.MaxDrbID {
			t.Fatalf("Allocate = %d, outside [%d, %d]", id, rrc.MinDrbID, rrc.MaxDrbID)
		}
		if seen[id] {
			t.Fatalf("drb %d allocated twice", id)
		}
		seen[id] = true
	}

	_, err := a.Allocate()
	if !errors.Is(err, rrc.ErrDrbExhausted) {
		t.Fatalf("32nd Allocate error = %v, want ErrDrbExhausted", err)
	}
	if !errors.Is(err, rrc.ErrResourceExhausted) {
		t.Errorf("ErrDrbExhausted does not match ErrResourceExhausted")
	}

	a.Release(7)
	id, err := a.Allocate()
	if err != nil || id != 7 {
		t.Errorf("Allocate after release = %d, %v; want 7, nil", id, err)
	}
}

// TestLogicalChannelID verifies LCID = DRB + 2.
func TestLogicalChannelID(t *testing.T) {
	t.Parallel()

	for _, drb := range []uint8{1, 2, 17, 31} {
		if got := rrc.LogicalChannelID(drb); got != drb+2 {
			t.Errorf("LogicalChannelID(%d) = %d, want %d", drb, got, drb+2)
		}
	}
}

// TestErabID verifies the low-byte mapping of external bearer identifiers.
func TestErabID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   uint32
		want uint8
	}{
		{in: 5, want: 5},
		{in: 0x0105, want: 5},
		{in: 0xdeadbeef, want: 0xef},
	}
	for _, tt := range tests {
		if got := rrc.ErabID(tt.in); got != tt.want {
			t.Errorf("ErabID(%#x) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// -------------------------------------------------------------------------
// SRS allocator
// -------------------------------------------------------------------------

// TestSrsAllocatorPolicy walks through the allocation policy: sequential
// growth, then smallest-gap reuse once the top of the range is taken.
func TestSrsAllocatorPolicy(t *testing.T) {
	t.Parallel()

	a, err := rrc.NewSrsAllocator(5)
	if err != nil {
		t.Fatalf("NewSrsAllocator: %v", err)
	}

	for want := range uint16(5) {
		got, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if got != want {
			t.Fatalf("Allocate = %d, want %d", got, want)
		}
	}

	if _, err := a.Allocate(); !errors.Is(err, rrc.ErrSrsExhausted) {
		t.Fatalf("Allocate on full set: error = %v, want ErrSrsExhausted", err)
	}

	a.Release(3)
	a.Release(1)

	got, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got != 1 {
		t.Errorf("Allocate with max assigned = %d, want smallest gap 1", got)
	}
	got, _ = a.Allocate()
	if got != 3 {
		t.Errorf("Allocate = %d, want 3", got)
	}
}

// TestSrsAllocatorMaxPlusOne verifies that a gap below the maximum is not
// reused while the top of the range is still free.
func TestSrsAllocatorMaxPlusOne(t *testing.T) {
	t.Parallel()

	a, err := rrc.NewSrsAllocator(10)
	if err != nil {
		t.Fatalf("NewSrsAllocator: %v", err)
	}
	for range 3 {
		if _, err := a.Allocate(); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
	}
	a.Release(0)

	got, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got != 3 {
		t.Errorf("Allocate = %d, want max+1 = 3", got)
	}
}

// TestSrsAllocatorEmptyRestartsAtZero verifies that releasing everything
// brings allocation back to 0.
func TestSrsAllocatorEmptyRestartsAtZero(t *testing.T) {
	t.Parallel()

	a, _ := rrc.NewSrsAllocator(20)
	v1, _ := a.Allocate()
	v2, _ := a.Allocate()
	a.Release(v1)
	a.Release(v2)

	if a.Assigned() != 0 {
		t.Fatalf("Assigned = %d, want 0", a.Assigned())
	}
	if got, _ := a.Allocate(); got != 0 {
		t.Errorf("Allocate on empty set = %d, want 0", got)
	}
}

// TestSrsAllocatorPeriodicity verifies the accepted periodicities and the
// configuration index mapping.
func TestSrsAllocatorPeriodicity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		periodicity uint16
		wantErr     bool
		wantIndex   uint16
	}{
		{periodicity: 2, wantIndex: 0},
		{periodicity: 5, wantIndex: 2},
		{periodicity: 10, wantIndex: 7},
		{periodicity: 40, wantIndex: 37},
		{periodicity: 320, wantIndex: 317},
		{periodicity: 0, wantErr: true},
		{periodicity: 30, wantErr: true},
	}

	for _, tt := range tests {
		a, err := rrc.NewSrsAllocator(tt.periodicity)
		if tt.wantErr {
			if !errors.Is(err, rrc.ErrInvalidSrsPeriodicity) {
				t.Errorf("NewSrsAllocator(%d) error = %v, want ErrInvalidSrsPeriodicity", tt.periodicity, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NewSrsAllocator(%d): %v", tt.periodicity, err)
		}
		if got := a.ConfigIndex(0); got != tt.wantIndex {
			t.Errorf("periodicity %d: ConfigIndex(0) = %d, want %d", tt.periodicity, got, tt.wantIndex)
		}
		if a.Periodicity() != tt.periodicity {
			t.Errorf("Periodicity() = %d, want %d", a.Periodicity(), tt.periodicity)
		}
	}
}

// -------------------------------------------------------------------------
// TEID allocator
// -------------------------------------------------------------------------

// TestTeidAllocatorExhaustion verifies the class of the TEID pool error.
func TestTeidAllocatorExhaustion(t *testing.T) {
	t.Parallel()

	a := rrc.NewTeidAllocator(2)
	for range 2 {
		if _, err := a.Allocate(); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
	}
	_, err := a.Allocate()
	if !errors.Is(err, rrc.ErrTeidExhausted) || !errors.Is(err, rrc.ErrResourceExhausted) {
		t.Errorf("Allocate error = %v, want ErrTeidExhausted within ErrResourceExhausted", err)
	}
}
