// Package sim provides software stand-ins for the lower layers of a cell
// (MAC, PHY, user plane), a terminal emulator that answers RRC procedures,
// and a scenario runner that drives both from a YAML script.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mapset "github.com/deckarep/golang-set"

	"github.com/dantte-lp/gorrc/internal/rrc"
)

// Dedicated preambles occupy the top of the 64 preamble space; the lower 52
// are left for contention-based access.
const (
	firstDedicatedPreamble uint8 = 52
	numPreambles           uint8 = 64
)

// ErrDuplicateRnti indicates AddUe for an identifier the MAC already serves.
var ErrDuplicateRnti = errors.New("rnti already registered with mac")

// Mac is a scheduler stand-in. It tracks registered identifiers, their
// logical channels, and the dedicated random access preambles handed out
// for incoming handovers.
type Mac struct {
	mu       sync.Mutex
	ues      map[uint16]map[uint8]rrc.LogicalChannelConfig
	inUse    mapset.Set
	preamble map[uint16]uint8

	logger *slog.Logger
}

var _ rrc.MacSap = (*Mac)(nil)

// NewMac creates the MAC of cellID.
func NewMac(cellID uint16, logger *slog.Logger) *Mac {
	return &Mac{
		ues:      make(map[uint16]map[uint8]rrc.LogicalChannelConfig),
		inUse:    mapset.NewThreadUnsafeSet(),
		preamble: make(map[uint16]uint8),
		logger: logger.With(
			slog.String("component", "sim.mac"),
			slog.Uint64("cell_id", uint64(cellID)),
		),
	}
}

// AddUe registers rnti.
func (m *Mac) AddUe(rnti uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ues[rnti]; ok {
		return fmt.Errorf("rnti %d: %w", rnti, ErrDuplicateRnti)
	}
	m.ues[rnti] = make(map[uint8]rrc.LogicalChannelConfig)
	return nil
}

// AllocateNonContentionResource reserves the lowest free dedicated preamble.
func (m *Mac) AllocateNonContentionResource(rnti uint16) (rrc.RachConfigDedicated, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.preamble[rnti]; ok {
		return rrc.RachConfigDedicated{PreambleIndex: p}, nil
	}
	for p := firstDedicatedPreamble; p < numPreambles; p++ {
		if m.inUse.Contains(p) {
			continue
		}
		m.inUse.Add(p)
		m.preamble[rnti] = p
		m.logger.Debug("dedicated preamble assigned",
			slog.Uint64("rnti", uint64(rnti)),
			slog.Uint64("preamble", uint64(p)),
		)
		return rrc.RachConfigDedicated{PreambleIndex: p}, nil
	}
	return rrc.RachConfigDedicated{}, fmt.Errorf("rnti %d: %w", rnti, rrc.ErrNonContentionExhausted)
}

// ConfigureLogicalChannel adds or replaces a logical channel of rnti.
func (m *Mac) ConfigureLogicalChannel(rnti uint16, lc rrc.LogicalChannelConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chans, ok := m.ues[rnti]
	if !ok {
		m.logger.Warn("logical channel for unknown rnti", slog.Uint64("rnti", uint64(rnti)))
		return
	}
	chans[lc.LogicalChannelID] = lc
}

// ReleaseLogicalChannel removes a logical channel of rnti.
func (m *Mac) ReleaseLogicalChannel(rnti uint16, lcid uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if chans, ok := m.ues[rnti]; ok {
		delete(chans, lcid)
	}
}

// RemoveUe forgets rnti and returns its dedicated preamble to the pool.
func (m *Mac) RemoveUe(rnti uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.ues, rnti)
	if p, ok := m.preamble[rnti]; ok {
		m.inUse.Remove(p)
		delete(m.preamble, rnti)
	}
}

// Registered reports whether rnti is known to the MAC.
func (m *Mac) Registered(rnti uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ues[rnti]
	return ok
}

// LogicalChannels returns the configured logical channel ids of rnti.
func (m *Mac) LogicalChannels(rnti uint16) []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]uint8, 0, len(m.ues[rnti]))
	for lcid := range m.ues[rnti] {
		out = append(out, lcid)
	}
	return sortUint8(out)
}

// PreamblesInUse returns the number of assigned dedicated preambles.
func (m *Mac) PreamblesInUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUse.Cardinality()
}
