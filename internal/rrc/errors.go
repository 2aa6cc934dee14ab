package rrc

import "errors"

// Resource exhaustion. Every pool-specific error wraps ErrResourceExhausted so
// callers can classify failures with errors.Is.
var (
	// ErrResourceExhausted is the class of all identifier pool failures.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrRntiExhausted indicates that every connection identifier is in use.
	ErrRntiExhausted = wrapClass(ErrResourceExhausted, "rnti space exhausted")

	// ErrDrbExhausted indicates that a context already holds 31 data bearers.
	ErrDrbExhausted = wrapClass(ErrResourceExhausted, "drb identifier space exhausted")

	// ErrSrsExhausted indicates that every SRS index of the periodicity is in use.
	ErrSrsExhausted = wrapClass(ErrResourceExhausted, "srs index space exhausted")

	// ErrTeidExhausted indicates that no forwarding tunnel identifier is free.
	ErrTeidExhausted = wrapClass(ErrResourceExhausted, "forwarding teid space exhausted")

	// ErrNonContentionExhausted indicates that the MAC has no dedicated
	// random access preamble left for an incoming handover.
	ErrNonContentionExhausted = wrapClass(ErrResourceExhausted, "non-contention preamble exhausted")
)

// Protocol violations.
var (
	// ErrInvalidTransition indicates that an event arrived for a context in a
	// state that does not accept it.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidInitialState indicates a context creation in a state other
	// than InitialAccess or HandoverJoining.
	ErrInvalidInitialState = errors.New("invalid initial state")

	// ErrTransactionMismatch indicates a completion message whose RRC
	// transaction identifier does not match the outstanding procedure.
	ErrTransactionMismatch = errors.New("rrc transaction identifier mismatch")

	// ErrUnknownMessage indicates a message kind the Controller does not handle.
	ErrUnknownMessage = errors.New("unknown message kind")
)

// Admission.
var (
	// ErrAdmissionRejected indicates a policy refusal.
	ErrAdmissionRejected = errors.New("admission rejected")

	// ErrHandoverNotAllowed indicates that the neighbour relation forbids a
	// handover to the requested cell.
	ErrHandoverNotAllowed = errors.New("handover not allowed by neighbour relation")
)

// Lookup.
var (
	// ErrUnknownContext indicates that no context exists for the RNTI.
	ErrUnknownContext = errors.New("unknown terminal context")

	// ErrUnknownBearer indicates that no data bearer exists for the identifier.
	ErrUnknownBearer = errors.New("unknown data bearer")

	// ErrUnknownPeer indicates that the peer directory has no entry for a cell.
	ErrUnknownPeer = errors.New("unknown peer cell")

	// ErrUnknownTunnel indicates X2-U data for an unregistered TEID.
	ErrUnknownTunnel = errors.New("unknown forwarding tunnel")

	// ErrBearerExists indicates a setup request for an E-RAB that already
	// has a data bearer in the context.
	ErrBearerExists = errors.New("e-rab already has a data bearer")
)

// Configuration. These are the only errors that should stop the host.
var (
	// ErrInvalidSrsPeriodicity indicates a periodicity outside
	// {2, 5, 10, 20, 40, 80, 160, 320}.
	ErrInvalidSrsPeriodicity = errors.New("invalid srs periodicity")

	// ErrInvalidCellID indicates a zero cell identifier.
	ErrInvalidCellID = errors.New("invalid cell id")

	// ErrInvalidRntiSpace indicates an identifier space too small to host
	// a single terminal.
	ErrInvalidRntiSpace = errors.New("invalid rnti space")

	// ErrMissingCollaborator indicates a nil collaborator interface.
	ErrMissingCollaborator = errors.New("missing collaborator")
)

// classError is a sentinel that also matches its class with errors.Is.
type classError struct {
	class error
	msg   string
}

func (e *classError) Error() string { return e.msg }

func (e *classError) Unwrap() error { return e.class }

func wrapClass(class error, msg string) error {
	return &classError{class: class, msg: msg}
}
