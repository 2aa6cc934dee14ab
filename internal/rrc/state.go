package rrc

import "fmt"

// State is the RRC state of a TerminalContext as seen by the base station.
type State uint8

const (
	// StateInitialAccess is entered when the MAC reports a random access
	// from an unknown terminal. The base station waits for an
	// RRCConnectionRequest (TS 36.331 Section 5.3.3.3).
	StateInitialAccess State = iota

	// StateConnectionSetup is entered after RRCConnectionSetup has been sent.
	StateConnectionSetup

	// StateConnectionRejected is entered after RRCConnectionReject has been
	// sent. The context lingers until the reject timer fires.
	StateConnectionRejected

	// StateConnectedNormally is the idle-free steady state.
	StateConnectedNormally

	// StateConnectionReconfiguration waits for
	// RRCConnectionReconfigurationComplete (TS 36.331 Section 5.3.5).
	StateConnectionReconfiguration

	// StateConnectionReestablishment waits for
	// RRCConnectionReestablishmentComplete (TS 36.331 Section 5.3.7).
	StateConnectionReestablishment

	// StateHandoverPreparation is the source-side state between sending the
	// X2 Handover Request and receiving the answer (TS 36.423 Section 8.2.1).
	StateHandoverPreparation

	// StateHandoverLeaving is the source-side state after the handover
	// command has been delivered to the terminal.
	StateHandoverLeaving

	// StateHandoverJoining is the target-side initial state: the context was
	// admitted on behalf of a peer and waits for the terminal to arrive.
	StateHandoverJoining

	// StateHandoverPathSwitch waits for the core network to acknowledge the
	// downlink path switch (TS 36.413 Section 8.4.4).
	StateHandoverPathSwitch
)

// stateNames maps state values to human-readable strings.
var stateNames = [...]string{
	"InitialAccess",
	"ConnectionSetup",
	"ConnectionRejected",
	"ConnectedNormally",
	"ConnectionReconfiguration",
	"ConnectionReestablishment",
	"HandoverPreparation",
	"HandoverLeaving",
	"HandoverJoining",
	"HandoverPathSwitch",
}

// String returns the human-readable name of the state.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(s))
}

// ParseState maps a state name back to its value.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return 0, false
}

// validInitialState reports whether a context may be created in s.
func validInitialState(s State) bool {
	return s == StateInitialAccess || s == StateHandoverJoining
}

// acceptsDeferredReconfiguration reports whether a reconfiguration request
// arriving in s is parked behind the pending flag instead of failing. A
// context handing over to a neighbour accepts none: its bearer set was
// frozen into the Handover Request.
func acceptsDeferredReconfiguration(s State) bool {
	switch s {
	case StateInitialAccess, StateConnectionSetup, StateConnectionReconfiguration,
		StateConnectionReestablishment, StateHandoverJoining, StateHandoverPathSwitch:
		return true
	default:
		return false
	}
}
