package sim

import (
	"slices"
	"sync"

	"github.com/dantte-lp/gorrc/internal/rrc"
)

// PhyConfig is the per-terminal radio configuration applied by the cell.
type PhyConfig struct {
	TransmissionMode uint8
	SrsConfigIndex   uint16
}

// Phy records the radio configuration of every terminal.
type Phy struct {
	mu  sync.Mutex
	ues map[uint16]PhyConfig
}

var _ rrc.PhySap = (*Phy)(nil)

// NewPhy creates an empty PHY.
func NewPhy() *Phy {
	return &Phy{ues: make(map[uint16]PhyConfig)}
}

// SetTransmissionMode records mode for rnti.
func (p *Phy) SetTransmissionMode(rnti uint16, mode uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg := p.ues[rnti]
	cfg.TransmissionMode = mode
	p.ues[rnti] = cfg
}

// SetSrsConfigurationIndex records the SRS configuration index of rnti.
func (p *Phy) SetSrsConfigurationIndex(rnti uint16, index uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg := p.ues[rnti]
	cfg.SrsConfigIndex = index
	p.ues[rnti] = cfg
}

// RemoveUe forgets rnti.
func (p *Phy) RemoveUe(rnti uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ues, rnti)
}

// Config returns the configuration of rnti.
func (p *Phy) Config(rnti uint16) (PhyConfig, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, ok := p.ues[rnti]
	return cfg, ok
}

// SrsIndices returns every configured SRS configuration index in ascending
// order.
func (p *Phy) SrsIndices() []uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]uint16, 0, len(p.ues))
	for _, cfg := range p.ues {
		out = append(out, cfg.SrsConfigIndex)
	}
	slices.Sort(out)
	return out
}

func sortUint8(s []uint8) []uint8 {
	slices.Sort(s)
	return s
}
