package rrc

import (
	"net/netip"
)

// Collaborators consumed by the Controller. Calls into these interfaces are
// made while the Controller holds its lock, so implementations must not call
// back into the same Controller synchronously: queue the callback (see
// package eventloop) and return.

// MacSap is the MAC/scheduler side of the cell.
type MacSap interface {
	// AddUe registers a new connection identifier with the scheduler.
	AddUe(rnti uint16) error

	// AllocateNonContentionResource reserves a dedicated random access
	// preamble for a terminal arriving by handover.
	AllocateNonContentionResource(rnti uint16) (RachConfigDedicated, error)

	// ConfigureLogicalChannel adds or updates a logical channel.
	ConfigureLogicalChannel(rnti uint16, lc LogicalChannelConfig)

	// ReleaseLogicalChannel removes a logical channel.
	ReleaseLogicalChannel(rnti uint16, lcid uint8)

	// RemoveUe forgets the connection identifier.
	RemoveUe(rnti uint16)
}

// PhySap is the radio configuration side of the cell.
type PhySap interface {
	SetTransmissionMode(rnti uint16, mode uint8)
	SetSrsConfigurationIndex(rnti uint16, index uint16)
	RemoveUe(rnti uint16)
}

// RrcTransport delivers downlink RRC messages to a terminal. Inbound
// messages reach the Controller through Dispatch. Both the in-process and
// the serializing strategy satisfy this interface.
type RrcTransport interface {
	Send(rnti uint16, msg DownlinkMessage)
}

// X2Sap is the sending half of the X2 interface towards one peer cell.
// Inbound messages reach the Controller through RecvX2.
type X2Sap interface {
	SendHandoverRequest(msg HandoverRequest) error
	SendHandoverRequestAck(msg HandoverRequestAck) error
	SendHandoverPreparationFailure(msg HandoverPreparationFailure) error
	SendSnStatusTransfer(msg SnStatusTransfer) error
	SendUeContextRelease(msg UeContextRelease) error
	SendUeData(msg UeData) error
}

// PeerDirectory resolves a neighbour cell to its X2 endpoint. It is passed
// to the Controller at construction and queried by value.
type PeerDirectory interface {
	Lookup(cellID uint16) (X2Sap, bool)
}

// PathSwitchBearer is one bearer whose downlink moves to this cell.
type PathSwitchBearer struct {
	ErabID          uint8
	UlGtpTeid       uint32
	UlTransportAddr netip.Addr
	DlGtpTeid       uint32
}

// PathSwitchRequest asks the core network to redirect the downlink of a
// terminal to this cell. The acknowledgement comes back through
// Controller.RecvPathSwitchAck.
type PathSwitchRequest struct {
	CellID     uint16
	Rnti       uint16
	Imsi       uint64
	SourceCell uint16
	EnbAddr    netip.Addr
	Bearers    []PathSwitchBearer
}

// CoreNetworkSap is the S1 side of the cell.
type CoreNetworkSap interface {
	NotifyNewTerminal(cellID uint16, imsi uint64, rnti uint16)
	RequestPathSwitch(req PathSwitchRequest) error
	NotifyContextReleased(cellID uint16, rnti uint16)
}

// UserPlaneSap receives downlink data destined for a terminal's logical
// channel.
type UserPlaneSap interface {
	DeliverDownlink(rnti uint16, lcid uint8, payload []byte)
}

// NeighbourRelation decides whether a handover between two cells is allowed.
type NeighbourRelation interface {
	HandoverAllowed(sourceCell, targetCell uint16) bool
}

// HandoverDecider evaluates measurement reports. A true result asks the
// Controller to hand the terminal over to target.
type HandoverDecider interface {
	Evaluate(cellID uint16, imsi uint64, report MeasurementReport) (target uint16, ok bool)
}

// MetricsReporter receives Controller events for monitoring. All methods must
// be cheap and non-blocking.
type MetricsReporter interface {
	RegisterContext(cellID uint16)
	UnregisterContext(cellID uint16)
	RecordStateTransition(cellID uint16, from, to State)
	IncTimeout(cellID uint16, kind TimerKind)
	IncInvalidTransition(cellID uint16, state State)
	IncExhaustion(cellID uint16, pool string)
	IncAdmissionReject(cellID uint16, reason string)
	IncHandover(cellID uint16, role, outcome string)
	SetDataBearers(cellID uint16, n int)
}

// noopMetrics is used when no collector is configured.
type noopMetrics struct{}

func (noopMetrics) RegisterContext(uint16) {}
func (noopMetrics) UnregisterContext(uint16) {}
func (noopMetrics) RecordStateTransition(uint16, State, State) {}
func (noopMetrics) IncTimeout(uint16, TimerKind) {}
func (noopMetrics) IncInvalidTransition(uint16, State) {}
func (noopMetrics) IncExhaustion(uint16, string) {}
func (noopMetrics) IncAdmissionReject(uint16, string) {}
func (noopMetrics) IncHandover(uint16, string, string) {}
func (noopMetrics) SetDataBearers(uint16, int) {}

// Handover roles and outcomes reported to MetricsReporter.IncHandover.
const (
	RoleSource = "source"
	RoleTarget = "target"

	OutcomeStarted   = "started"
	OutcomeAdmitted  = "admitted"
	OutcomeRejected  = "rejected"
	OutcomeCompleted = "completed"
	OutcomeTimeout   = "timeout"
)

// Pool names reported to MetricsReporter.IncExhaustion.
const (
	PoolRnti   = "rnti"
	PoolDrb    = "drb"
	PoolSrs    = "srs"
	PoolTeid   = "teid"
	PoolRachID = "rach"
)
