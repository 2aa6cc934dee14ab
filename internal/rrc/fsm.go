package rrc

import "fmt"

// This file implements the TerminalContext state machine as a pure function
// over a transition table. Guards (admission, identity checks) are resolved
// by the Controller before an event is applied, so every table entry is
// unconditional. The FSM has no side effects; the returned actions are
// executed by the context.
//
// Source role:
//
//	InitialAccess --accepted--> ConnectionSetup --complete--> ConnectedNormally
//	      |                                                     |   ^
//	      +--rejected--> ConnectionRejected                     |   |
//	                                                            v   |
//	           ConnectionReconfiguration / ConnectionReestablishment
//
//	ConnectedNormally --decision--> HandoverPreparation --admitted--> HandoverLeaving
//	        ^                              |
//	        +-----------rejected-----------+
//
// Target role:
//
//	HandoverJoining --reconfiguration complete--> HandoverPathSwitch --ack--> ConnectedNormally

// Event is an input to the TerminalContext state machine.
type Event uint8

const (
	// EventConnectionAccepted is an RRCConnectionRequest that passed admission.
	EventConnectionAccepted Event = iota

	// EventConnectionRefused is an RRCConnectionRequest refused by admission.
	EventConnectionRefused

	// EventSetupComplete is RRCConnectionSetupComplete from the terminal.
	EventSetupComplete

	// EventReconfigure is a local request to reconfigure the connection
	// (bearer change, measurement or PHY configuration).
	EventReconfigure

	// EventReconfigurationComplete is RRCConnectionReconfigurationComplete.
	// In HandoverJoining it signals that the terminal has arrived.
	EventReconfigurationComplete

	// EventReestablishmentRequest is an accepted
	// RRCConnectionReestablishmentRequest.
	EventReestablishmentRequest

	// EventReestablishmentComplete is RRCConnectionReestablishmentComplete.
	EventReestablishmentComplete

	// EventHandoverDecision starts an X2 handover towards a neighbour.
	EventHandoverDecision

	// EventHandoverAdmitted is an X2 Handover Request Acknowledge.
	EventHandoverAdmitted

	// EventHandoverRejected is an X2 Handover Preparation Failure.
	EventHandoverRejected

	// EventPathSwitchAck is the core network acknowledging the path switch.
	EventPathSwitchAck

	// EventPeerContextRelease is an X2 UE Context Release from the target.
	EventPeerContextRelease
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventConnectionAccepted:
		return "ConnectionAccepted"
	case EventConnectionRefused:
		return "ConnectionRefused"
	case EventSetupComplete:
		return "SetupComplete"
	case EventReconfigure:
		return "Reconfigure"
	case EventReconfigurationComplete:
		return "ReconfigurationComplete"
	case EventReestablishmentRequest:
		return "ReestablishmentRequest"
	case EventReestablishmentComplete:
		return "ReestablishmentComplete"
	case EventHandoverDecision:
		return "HandoverDecision"
	case EventHandoverAdmitted:
		return "HandoverAdmitted"
	case EventHandoverRejected:
		return "HandoverRejected"
	case EventPathSwitchAck:
		return "PathSwitchAck"
	case EventPeerContextRelease:
		return "PeerContextRelease"
	default:
		return "Unknown"
	}
}

// Action is a side effect requested by a transition. Actions are executed
// in order by the context after the new state has been recorded.
type Action uint8

const (
	// ActionSendConnectionSetup sends RRCConnectionSetup with the SRB1
	// configuration.
	ActionSendConnectionSetup Action = iota + 1

	// ActionSendConnectionReject sends RRCConnectionReject.
	ActionSendConnectionReject

	// ActionStartBearers starts data bearers that were set up while the
	// terminal could not yet use them, and flushes forwarded data.
	ActionStartBearers

	// ActionNotifyCoreAttach tells the core network about the new terminal.
	ActionNotifyCoreAttach

	// ActionSendReconfiguration sends RRCConnectionReconfiguration.
	ActionSendReconfiguration

	// ActionApplyPhyMacConfig applies a deferred transmission mode change.
	ActionApplyPhyMacConfig

	// ActionSendReestablishment sends RRCConnectionReestablishment.
	ActionSendReestablishment

	// ActionSendHandoverRequest sends the X2 Handover Request.
	ActionSendHandoverRequest

	// ActionSendHandoverCommand delivers the target-built reconfiguration
	// (with mobility control info) to the terminal.
	ActionSendHandoverCommand

	// ActionSendSnStatus sends the X2 SN Status Transfer for AM bearers.
	ActionSendSnStatus

	// ActionRequestPathSwitch asks the core network to move the downlink path.
	ActionRequestPathSwitch

	// ActionSendUeContextRelease tells the source that it may release.
	ActionSendUeContextRelease

	// ActionRemoveForwarding removes the X2-U forwarding tunnels.
	ActionRemoveForwarding

	// ActionDestroyContext asks the Controller to destroy the context.
	ActionDestroyContext
)

// String returns the human-readable name of the action.
func (a Action) String() string {
	switch a {
	case ActionSendConnectionSetup:
		return "SendConnectionSetup"
	case ActionSendConnectionReject:
		return "SendConnectionReject"
	case ActionStartBearers:
		return "StartBearers"
	case ActionNotifyCoreAttach:
		return "NotifyCoreAttach"
	case ActionSendReconfiguration:
		return "SendReconfiguration"
	case ActionApplyPhyMacConfig:
		return "ApplyPhyMacConfig"
	case ActionSendReestablishment:
		return "SendReestablishment"
	case ActionSendHandoverRequest:
		return "SendHandoverRequest"
	case ActionSendHandoverCommand:
		return "SendHandoverCommand"
	case ActionSendSnStatus:
		return "SendSnStatus"
	case ActionRequestPathSwitch:
		return "RequestPathSwitch"
	case ActionSendUeContextRelease:
		return "SendUeContextRelease"
	case ActionRemoveForwarding:
		return "RemoveForwarding"
	case ActionDestroyContext:
		return "DestroyContext"
	default:
		return "Unknown"
	}
}

// stateEvent is the FSM transition table key: current state + incoming event.
type stateEvent struct {
	state State
	event Event
}

// transition describes the target state and side effects for a single
// FSM transition.
type transition struct {
	newState State
	actions  []Action
}

// FSMResult holds the outcome of applying an event to the FSM.
type FSMResult struct {
	// OldState is the state before the event was applied.
	OldState State

	// NewState is the state after the event was applied.
	NewState State

	// Actions lists the side effects that the caller must execute.
	Actions []Action

	// Changed is true when NewState differs from OldState.
	Changed bool
}

// fsmTable is the complete TerminalContext transition table. Every
// (state, event) pair listed here is legal. Unlisted pairs are protocol
// violations and are reported as ErrInvalidTransition, never dropped.
//
//nolint:gochecknoglobals // FSM transition table is intentionally package-level.
var fsmTable = map[stateEvent]transition{
	// ===================================================================
	// Connection establishment (TS 36.331 Section 5.3.3)
	// ===================================================================

	{StateInitialAccess, EventConnectionAccepted}: {
		newState: StateConnectionSetup,
		actions:  []Action{ActionSendConnectionSetup},
	},

	{StateInitialAccess, EventConnectionRefused}: {
		newState: StateConnectionRejected,
		actions:  []Action{ActionSendConnectionReject},
	},

	{StateConnectionSetup, EventSetupComplete}: {
		newState: StateConnectedNormally,
		actions:  []Action{ActionStartBearers, ActionNotifyCoreAttach},
	},

	// ===================================================================
	// Reconfiguration (TS 36.331 Section 5.3.5)
	// ===================================================================

	{StateConnectedNormally, EventReconfigure}: {
		newState: StateConnectionReconfiguration,
		actions:  []Action{ActionSendReconfiguration},
	},

	{StateConnectionReconfiguration, EventReconfigurationComplete}: {
		newState: StateConnectedNormally,
		actions:  []Action{ActionStartBearers, ActionApplyPhyMacConfig},
	},

	// ===================================================================
	// Reestablishment (TS 36.331 Section 5.3.7)
	// ===================================================================

	{StateConnectedNormally, EventReestablishmentRequest}: {
		newState: StateConnectionReestablishment,
		actions:  []Action{ActionSendReestablishment},
	},

	// Radio link failure while a reconfiguration is outstanding. The
	// interrupted reconfiguration is re-issued once connected again.
	{StateConnectionReconfiguration, EventReestablishmentRequest}: {
		newState: StateConnectionReestablishment,
		actions:  []Action{ActionSendReestablishment},
	},

	{StateConnectionReestablishment, EventReestablishmentComplete}: {
		newState: StateConnectedNormally,
		actions:  []Action{ActionStartBearers},
	},

	// ===================================================================
	// Handover, source role (TS 36.423 Section 8.2.1)
	// ===================================================================

	{StateConnectedNormally, EventHandoverDecision}: {
		newState: StateHandoverPreparation,
		actions:  []Action{ActionSendHandoverRequest},
	},

	{StateHandoverPreparation, EventHandoverAdmitted}: {
		newState: StateHandoverLeaving,
		actions:  []Action{ActionSendHandoverCommand, ActionSendSnStatus},
	},

	{StateHandoverPreparation, EventHandoverRejected}: {
		newState: StateConnectedNormally,
		actions:  nil,
	},

	// Self-loop: the context is destroyed by the caller, it never leaves
	// HandoverLeaving through the table.
	{StateHandoverLeaving, EventPeerContextRelease}: {
		newState: StateHandoverLeaving,
		actions:  []Action{ActionDestroyContext},
	},

	// ===================================================================
	// Handover, target role (TS 36.423 Section 8.2.3, TS 36.413 Section 8.4.4)
	// ===================================================================

	{StateHandoverJoining, EventReconfigurationComplete}: {
		newState: StateHandoverPathSwitch,
		actions:  []Action{ActionStartBearers, ActionRequestPathSwitch},
	},

	{StateHandoverPathSwitch, EventPathSwitchAck}: {
		newState: StateConnectedNormally,
		actions:  []Action{ActionSendUeContextRelease, ActionRemoveForwarding},
	},
}

// ApplyEvent applies an FSM event to the given state and returns the result.
//
// This is a pure function with no side effects. If the (state, event) pair
// has no entry in the transition table, ApplyEvent returns an error wrapping
// ErrInvalidTransition and a result whose NewState equals currentState.
func ApplyEvent(currentState State, event Event) (FSMResult, error) {
	tr, ok := fsmTable[stateEvent{state: currentState, event: event}]
	if !ok {
		return FSMResult{
			OldState: currentState,
			NewState: currentState,
		}, fmt.Errorf("%w: event %s in state %s", ErrInvalidTransition, event, currentState)
	}

	return FSMResult{
		OldState: currentState,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}, nil
}

// Accepts reports whether event is legal in state.
func Accepts(state State, event Event) bool {
	_, ok := fsmTable[stateEvent{state: state, event: event}]
	return ok
}
