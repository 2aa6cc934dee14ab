package rrc

import (
	"net/netip"
	"time"
)

// MessageKind enumerates every RRC and X2 message the Controller exchanges.
// The three message interfaces below are closed sums over these kinds; the
// Controller matches them exhaustively at its boundary.
type MessageKind uint8

const (
	// Uplink RRC (terminal -> base station).
	KindConnectionRequest MessageKind = iota + 1
	KindConnectionSetupCompleted
	KindConnectionReconfigurationCompleted
	KindConnectionReestablishmentRequest
	KindConnectionReestablishmentComplete
	KindMeasurementReport

	// Downlink RRC (base station -> terminal).
	KindConnectionSetup
	KindConnectionReject
	KindConnectionReconfiguration
	KindConnectionReestablishment
	KindConnectionReestablishmentReject
	KindConnectionRelease

	// X2 (base station <-> base station).
	KindHandoverRequest
	KindHandoverRequestAck
	KindHandoverPreparationFailure
	KindSnStatusTransfer
	KindUeContextRelease
	KindUeData
)

//nolint:gochecknoglobals // name table.
var messageKindNames = map[MessageKind]string{
	KindConnectionRequest:                  "RRCConnectionRequest",
	KindConnectionSetupCompleted:           "RRCConnectionSetupComplete",
	KindConnectionReconfigurationCompleted: "RRCConnectionReconfigurationComplete",
	KindConnectionReestablishmentRequest:   "RRCConnectionReestablishmentRequest",
	KindConnectionReestablishmentComplete:  "RRCConnectionReestablishmentComplete",
	KindMeasurementReport:                  "MeasurementReport",
	KindConnectionSetup:                    "RRCConnectionSetup",
	KindConnectionReject:                   "RRCConnectionReject",
	KindConnectionReconfiguration:          "RRCConnectionReconfiguration",
	KindConnectionReestablishment:          "RRCConnectionReestablishment",
	KindConnectionReestablishmentReject:    "RRCConnectionReestablishmentReject",
	KindConnectionRelease:                  "RRCConnectionRelease",
	KindHandoverRequest:                    "HandoverRequest",
	KindHandoverRequestAck:                 "HandoverRequestAcknowledge",
	KindHandoverPreparationFailure:         "HandoverPreparationFailure",
	KindSnStatusTransfer:                   "SNStatusTransfer",
	KindUeContextRelease:                   "UEContextRelease",
	KindUeData:                             "UEData",
}

// String returns the 3GPP-style name of the message kind.
func (k MessageKind) String() string {
	if n, ok := messageKindNames[k]; ok {
		return n
	}
	return "Unknown"
}

// UplinkMessage is an RRC message sent by a terminal.
type UplinkMessage interface {
	Kind() MessageKind
	uplink()
}

// DownlinkMessage is an RRC message sent to a terminal.
type DownlinkMessage interface {
	Kind() MessageKind
	downlink()
}

// X2Message is an X2AP (or X2-U) message exchanged between base stations.
type X2Message interface {
	Kind() MessageKind
	x2()
}

// -------------------------------------------------------------------------
// Shared information elements
// -------------------------------------------------------------------------

// RachConfigDedicated is the non-contention random access resource handed
// to a terminal for a handover (TS 36.331 RACH-ConfigDedicated).
type RachConfigDedicated struct {
	PreambleIndex  uint8
	PrachMaskIndex uint8
}

// MobilityControlInfo turns a reconfiguration into a handover command.
type MobilityControlInfo struct {
	TargetCellID  uint16
	NewUeIdentity uint16
	Rach          RachConfigDedicated
}

// SrbToAddMod configures a signalling radio bearer.
type SrbToAddMod struct {
	SrbID            uint8
	LogicalChannelID uint8
	Mode             RlcMode
}

// DrbToAddMod configures a data radio bearer.
type DrbToAddMod struct {
	DrbID            uint8
	ErabID           uint8
	LogicalChannelID uint8
	Mode             RlcMode
	Qci              uint8
}

// PhysicalConfigDedicated carries the per-terminal PHY parameters.
type PhysicalConfigDedicated struct {
	TransmissionMode uint8
	SrsConfigIndex   uint16
}

// RadioResourceConfig is RadioResourceConfigDedicated.
type RadioResourceConfig struct {
	Srbs          []SrbToAddMod
	Drbs          []DrbToAddMod
	DrbsToRelease []uint8
	Physical      *PhysicalConfigDedicated
}

// MeasConfig is the cell's event A3 report configuration.
type MeasConfig struct {
	MeasID        uint8
	A3OffsetDB    float64
	HysteresisDB  float64
	TimeToTrigger time.Duration
}

// NeighbourMeasurement is one neighbour entry of a MeasurementReport.
type NeighbourMeasurement struct {
	CellID  uint16
	RsrpDBm float64
}

// ReestabUeIdentity identifies the connection a terminal wants to restore.
type ReestabUeIdentity struct {
	CRnti      uint16
	PhysCellID uint16
}

// ReestablishmentCause is the reason given in a reestablishment request.
type ReestablishmentCause uint8

const (
	ReestablishmentReconfigurationFailure ReestablishmentCause = iota
	ReestablishmentHandoverFailure
	ReestablishmentOtherFailure
)

// Cause is an X2AP cause value.
type Cause uint8

const (
	CauseUnspecified Cause = iota
	CauseHandoverDesirableForRadioReasons
	CauseNoRadioResourcesAvailable
	CauseUnknownTargetID
	CauseTX2RelocOverallExpiry
	CauseAdmissionRejected
)

// String returns the human-readable cause.
func (c Cause) String() string {
	switch c {
	case CauseUnspecified:
		return "Unspecified"
	case CauseHandoverDesirableForRadioReasons:
		return "HandoverDesirableForRadioReasons"
	case CauseNoRadioResourcesAvailable:
		return "NoRadioResourcesAvailableInTargetCell"
	case CauseUnknownTargetID:
		return "UnknownTargetID"
	case CauseTX2RelocOverallExpiry:
		return "TX2RelocOverallExpiry"
	case CauseAdmissionRejected:
		return "AdmissionRejected"
	default:
		return "Unknown"
	}
}

// -------------------------------------------------------------------------
// Uplink RRC
// -------------------------------------------------------------------------

// ConnectionRequest is RRCConnectionRequest. UeIdentity carries the
// subscriber identity (IMSI) in this model.
type ConnectionRequest struct {
	UeIdentity uint64
}

// ConnectionSetupCompleted is RRCConnectionSetupComplete.
type ConnectionSetupCompleted struct {
	TransactionID uint8
}

// ConnectionReconfigurationCompleted is RRCConnectionReconfigurationComplete.
type ConnectionReconfigurationCompleted struct {
	TransactionID uint8
}

// ConnectionReestablishmentRequest is RRCConnectionReestablishmentRequest.
type ConnectionReestablishmentRequest struct {
	UeIdentity ReestabUeIdentity
	Cause      ReestablishmentCause
}

// ConnectionReestablishmentComplete is RRCConnectionReestablishmentComplete.
type ConnectionReestablishmentComplete struct {
	TransactionID uint8
}

// MeasurementReport carries serving and neighbour RSRP.
type MeasurementReport struct {
	MeasID         uint8
	ServingRsrpDBm float64
	Neighbours     []NeighbourMeasurement
}

func (ConnectionRequest) Kind() MessageKind { return KindConnectionRequest }
func (ConnectionSetupCompleted) Kind() MessageKind {
	return KindConnectionSetupCompleted
}
func (ConnectionReconfigurationCompleted) Kind() MessageKind {
	return KindConnectionReconfigurationCompleted
}
func (ConnectionReestablishmentRequest) Kind() MessageKind {
	return KindConnectionReestablishmentRequest
}
func (ConnectionReestablishmentComplete) Kind() MessageKind {
	return KindConnectionReestablishmentComplete
}
func (MeasurementReport) Kind() MessageKind { return KindMeasurementReport }

func (ConnectionRequest) uplink() {}
func (ConnectionSetupCompleted) uplink() {}
func (ConnectionReconfigurationCompleted) uplink() {}
func (ConnectionReestablishmentRequest) uplink() {}
func (ConnectionReestablishmentComplete) uplink() {}
func (MeasurementReport) uplink() {}

// -------------------------------------------------------------------------
// Downlink RRC
// -------------------------------------------------------------------------

// ConnectionSetup is RRCConnectionSetup.
type ConnectionSetup struct {
	TransactionID uint8
	RadioResource RadioResourceConfig
}

// ConnectionReject is RRCConnectionReject. WaitTime is in seconds.
type ConnectionReject struct {
	WaitTime uint8
}

// ConnectionReconfiguration is RRCConnectionReconfiguration. With Mobility
// set it is a handover command.
type ConnectionReconfiguration struct {
	TransactionID uint8
	Meas          *MeasConfig
	Mobility      *MobilityControlInfo
	RadioResource *RadioResourceConfig
}

// ConnectionReestablishment is RRCConnectionReestablishment.
type ConnectionReestablishment struct {
	TransactionID uint8
	RadioResource RadioResourceConfig
}

// ConnectionReestablishmentReject is RRCConnectionReestablishmentReject.
type ConnectionReestablishmentReject struct{}

// ConnectionRelease is RRCConnectionRelease.
type ConnectionRelease struct {
	TransactionID uint8
}

func (ConnectionSetup) Kind() MessageKind { return KindConnectionSetup }
func (ConnectionReject) Kind() MessageKind { return KindConnectionReject }
func (ConnectionReconfiguration) Kind() MessageKind {
	return KindConnectionReconfiguration
}
func (ConnectionReestablishment) Kind() MessageKind {
	return KindConnectionReestablishment
}
func (ConnectionReestablishmentReject) Kind() MessageKind {
	return KindConnectionReestablishmentReject
}
func (ConnectionRelease) Kind() MessageKind { return KindConnectionRelease }

func (ConnectionSetup) downlink() {}
func (ConnectionReject) downlink() {}
func (ConnectionReconfiguration) downlink() {}
func (ConnectionReestablishment) downlink() {}
func (ConnectionReestablishmentReject) downlink() {}
func (ConnectionRelease) downlink() {}

// -------------------------------------------------------------------------
// X2
// -------------------------------------------------------------------------

// ErabToBeSetup describes one bearer the source asks the target to admit.
type ErabToBeSetup struct {
	ErabID          uint8
	Qos             Qos
	DlForwarding    bool
	UlGtpTeid       uint32
	UlTransportAddr netip.Addr
}

// ErabAdmitted is one bearer admitted by the target, with the tunnel the
// source forwards downlink data into.
type ErabAdmitted struct {
	ErabID           uint8
	DlForwardingTeid uint32
	DlForwardingAddr netip.Addr
}

// ErabSnStatus is the PDCP COUNT state of one lossless bearer.
type ErabSnStatus struct {
	ErabID  uint8
	UlCount uint32
	DlCount uint32
}

// HandoverPreparationInfo is the terminal configuration the source hands to
// the target (TS 36.331 HandoverPreparationInformation).
type HandoverPreparationInfo struct {
	SourceRnti       uint16
	TransmissionMode uint8
	Meas             MeasConfig
	RadioResource    RadioResourceConfig
}

// HandoverRequest is the X2AP HANDOVER REQUEST.
type HandoverRequest struct {
	OldEnbUeX2apID uint16
	Cause          Cause
	SourceCellID   uint16
	TargetCellID   uint16
	Imsi           uint64
	UeAmbrDl       uint64
	UeAmbrUl       uint64
	Bearers        []ErabToBeSetup
	Preparation    HandoverPreparationInfo
}

// HandoverRequestAck is the X2AP HANDOVER REQUEST ACKNOWLEDGE. Command is
// delivered to the terminal by the source unchanged.
type HandoverRequestAck struct {
	OldEnbUeX2apID uint16
	NewEnbUeX2apID uint16
	SourceCellID   uint16
	TargetCellID   uint16
	Admitted       []ErabAdmitted
	Command        ConnectionReconfiguration
}

// HandoverPreparationFailure is the X2AP HANDOVER PREPARATION FAILURE.
type HandoverPreparationFailure struct {
	OldEnbUeX2apID uint16
	SourceCellID   uint16
	TargetCellID   uint16
	Cause          Cause
}

// SnStatusTransfer is the X2AP SN STATUS TRANSFER.
type SnStatusTransfer struct {
	OldEnbUeX2apID uint16
	NewEnbUeX2apID uint16
	SourceCellID   uint16
	TargetCellID   uint16
	Bearers        []ErabSnStatus
}

// UeContextRelease is the X2AP UE CONTEXT RELEASE.
type UeContextRelease struct {
	OldEnbUeX2apID uint16
	NewEnbUeX2apID uint16
	SourceCellID   uint16
	TargetCellID   uint16
}

// UeData is user plane data forwarded over X2-U. TargetCellID addresses the
// receiving cell; GtpTeid selects the forwarding tunnel.
type UeData struct {
	SourceCellID uint16
	TargetCellID uint16
	GtpTeid      uint32
	Payload      []byte
}

func (HandoverRequest) Kind() MessageKind { return KindHandoverRequest }
func (HandoverRequestAck) Kind() MessageKind { return KindHandoverRequestAck }
func (HandoverPreparationFailure) Kind() MessageKind {
	return KindHandoverPreparationFailure
}
func (SnStatusTransfer) Kind() MessageKind { return KindSnStatusTransfer }
func (UeContextRelease) Kind() MessageKind { return KindUeContextRelease }
func (UeData) Kind() MessageKind { return KindUeData }

func (HandoverRequest) x2() {}
func (HandoverRequestAck) x2() {}
func (HandoverPreparationFailure) x2() {}
func (SnStatusTransfer) x2() {}
func (UeContextRelease) x2() {}
func (UeData) x2() {}

// X2Destination returns the cell that should receive msg.
func X2Destination(msg X2Message) uint16 {
	switch m := msg.(type) {
	case HandoverRequest:
		return m.TargetCellID
	case HandoverRequestAck:
		return m.SourceCellID
	case HandoverPreparationFailure:
		return m.SourceCellID
	case SnStatusTransfer:
		return m.TargetCellID
	case UeContextRelease:
		return m.SourceCellID
	case UeData:
		return m.TargetCellID
	default:
		return 0
	}
}

// X2Origin returns the cell that sent msg.
func X2Origin(msg X2Message) uint16 {
	switch m := msg.(type) {
	case HandoverRequest:
		return m.SourceCellID
	case HandoverRequestAck:
		return m.TargetCellID
	case HandoverPreparationFailure:
		return m.TargetCellID
	case SnStatusTransfer:
		return m.SourceCellID
	case UeContextRelease:
		return m.TargetCellID
	case UeData:
		return m.SourceCellID
	default:
		return 0
	}
}
