package rrc

import (
	"fmt"
)

// AdmissionRequest describes a terminal asking to be admitted by a cell,
// either by random access or by an incoming handover.
type AdmissionRequest struct {
	CellID uint16
	Imsi   uint64

	// Handover is true for an X2 admission; SourceCellID is then set.
	Handover     bool
	SourceCellID uint16

	// ActiveContexts is the number of live contexts in the cell, not
	// counting the requester.
	ActiveContexts int

	// Bearers is the number of data bearers to admit (handover only).
	Bearers int
}

// AdmissionPolicy decides whether a terminal is admitted. A nil error admits.
// A refusal should wrap ErrAdmissionRejected.
type AdmissionPolicy interface {
	Admit(req AdmissionRequest) error
}

// AdmissionFunc adapts a function to AdmissionPolicy.
type AdmissionFunc func(req AdmissionRequest) error

// Admit calls f(req).
func (f AdmissionFunc) Admit(req AdmissionRequest) error { return f(req) }

// AlwaysAdmit admits every request.
type AlwaysAdmit struct{}

// Admit returns nil.
func (AlwaysAdmit) Admit(AdmissionRequest) error { return nil }

// CapacityPolicy limits the number of live contexts per cell and optionally
// restricts a closed subscriber group.
type CapacityPolicy struct {
	// MaxContexts is the largest number of live contexts. Zero means no limit.
	MaxContexts int

	// AllowedImsis, when non-empty, is the closed subscriber group. Requests
	// with an unknown IMSI (zero) are admitted so that random access can
	// proceed until the identity is learned.
	AllowedImsis map[uint64]struct{}
}

// Admit applies the capacity and subscriber group checks.
func (p CapacityPolicy) Admit(req AdmissionRequest) error {
	if p.MaxContexts > 0 && req.ActiveContexts >= p.MaxContexts {
		return fmt.Errorf("%w: cell %d at capacity (%d contexts)",
			ErrAdmissionRejected, req.CellID, req.ActiveContexts)
	}

	if len(p.AllowedImsis) > 0 && req.Imsi != 0 {
		if _, ok := p.AllowedImsis[req.Imsi]; !ok {
			return fmt.Errorf("%w: imsi %d not in closed subscriber group",
				ErrAdmissionRejected, req.Imsi)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Neighbour relations
// -------------------------------------------------------------------------

// NeighbourTable is a static neighbour relation table.
type NeighbourTable map[uint16]map[uint16]struct{}

// NewNeighbourTable returns a table where source lists its neighbours.
func NewNeighbourTable() NeighbourTable {
	return make(NeighbourTable)
}

// Add records a one-way relation from source to each target.
func (t NeighbourTable) Add(source uint16, targets ...uint16) {
	set, ok := t[source]
	if !ok {
		set = make(map[uint16]struct{}, len(targets))
		t[source] = set
	}
	for _, target := range targets {
		set[target] = struct{}{}
	}
}

// HandoverAllowed reports whether target is a neighbour of source.
func (t NeighbourTable) HandoverAllowed(source, target uint16) bool {
	_, ok := t[source][target]
	return ok
}

// AnyNeighbour allows every handover except to the serving cell itself.
type AnyNeighbour struct{}

// HandoverAllowed reports whether target differs from source.
func (AnyNeighbour) HandoverAllowed(source, target uint16) bool {
	return source != target
}
