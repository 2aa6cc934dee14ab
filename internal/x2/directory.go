// Package x2 connects the Controllers of several cells.
//
// Hub is the in-process fabric: messages sent through a Hub endpoint are
// delivered to the destination Controller's RecvX2 on the event loop.
// Directory is a static peer table used to mix hub peers with remote peers
// reached over UDP (package netio).
package x2

import (
	"slices"
	"sync"

	"github.com/dantte-lp/gorrc/internal/rrc"
)

// Directory is a mutable rrc.PeerDirectory keyed by cell id.
type Directory struct {
	mu    sync.RWMutex
	peers map[uint16]rrc.X2Sap
}

var _ rrc.PeerDirectory = (*Directory)(nil)

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{peers: make(map[uint16]rrc.X2Sap)}
}

// Add binds cellID to sap, replacing any earlier entry.
func (d *Directory) Add(cellID uint16, sap rrc.X2Sap) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[cellID] = sap
}

// Remove forgets cellID.
func (d *Directory) Remove(cellID uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, cellID)
}

// Lookup returns the endpoint of cellID.
func (d *Directory) Lookup(cellID uint16) (rrc.X2Sap, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sap, ok := d.peers[cellID]
	return sap, ok
}

// Cells returns the known cell ids in ascending order.
func (d *Directory) Cells() []uint16 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]uint16, 0, len(d.peers))
	for id := range d.peers {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// chain consults several directories in order.
type chain []rrc.PeerDirectory

// Chain returns a directory that answers from the first of dirs that knows
// the cell.
func Chain(dirs ...rrc.PeerDirectory) rrc.PeerDirectory {
	return chain(dirs)
}

func (c chain) Lookup(cellID uint16) (rrc.X2Sap, bool) {
	for _, d := range c {
		if d == nil {
			continue
		}
		if sap, ok := d.Lookup(cellID); ok {
			return sap, true
		}
	}
	return nil, false
}
