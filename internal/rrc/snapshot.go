package rrc

import (
	"time"

	"github.com/google/uuid"
)

// HandoverAttempt binds the source-side transaction of an X2 handover to the
// target-side admission. It lives from the handover decision (source) or the
// admission (target) until completion or abort.
type HandoverAttempt struct {
	// ID correlates log lines of both cells. It travels implicitly: each
	// side generates its own and logs the X2AP identifiers next to it.
	ID uuid.UUID

	// Role is RoleSource or RoleTarget.
	Role string

	SourceCellID uint16
	TargetCellID uint16

	// SourceX2apID is the Old eNB UE X2AP ID: the terminal's RNTI at the
	// source.
	SourceX2apID uint16

	// TargetRnti is the New eNB UE X2AP ID. Zero on the source until the
	// Handover Request Acknowledge arrives.
	TargetRnti uint16

	// Bearers are the E-RABs to be preserved.
	Bearers []ErabToBeSetup

	StartedAt time.Time
}

func newHandoverAttempt(role string, source, target, sourceX2apID uint16, now time.Time) *HandoverAttempt {
	return &HandoverAttempt{
		ID:           uuid.New(),
		Role:         role,
		SourceCellID: source,
		TargetCellID: target,
		SourceX2apID: sourceX2apID,
		StartedAt:    now,
	}
}

// StateChangeKind classifies a StateChange notification.
type StateChangeKind uint8

const (
	// ContextAdded is published when a context is created.
	ContextAdded StateChangeKind = iota

	// ContextStateChanged is published on every state transition.
	ContextStateChanged

	// ContextRemoved is published when a context is destroyed.
	ContextRemoved
)

// String returns the human-readable kind.
func (k StateChangeKind) String() string {
	switch k {
	case ContextAdded:
		return "Added"
	case ContextStateChanged:
		return "StateChanged"
	case ContextRemoved:
		return "Removed"
	default:
		return "Unknown"
	}
}

// StateChange is a context lifecycle notification published on the
// Controller's StateChanges channel.
type StateChange struct {
	Kind      StateChangeKind
	CellID    uint16
	Rnti      uint16
	Imsi      uint64
	OldState  State
	NewState  State
	Reason    string
	Timestamp time.Time
}

// BearerSnapshot is a read-only view of a DataBearer.
type BearerSnapshot struct {
	DrbID            uint8
	ErabID           uint8
	Qci              uint8
	LogicalChannelID uint8
	Mode             RlcMode
	GtpTeid          uint32
	ForwardingTeid   uint32
	Started          bool
	UlCount          uint32
	DlCount          uint32
	Buffered         int
}

// ContextSnapshot is a read-only view of a TerminalContext.
type ContextSnapshot struct {
	CellID                 uint16
	Rnti                   uint16
	Imsi                   uint64
	State                  State
	TransactionID          uint8
	SrsOffset              uint16
	SrsConfigIndex         uint16
	TransmissionMode       uint8
	Signalling             [2]SignallingBearer
	Bearers                []BearerSnapshot
	PendingReconfiguration bool
	Handover               *HandoverAttempt
	CreatedAt              time.Time
	LastStateChange        time.Time
}
