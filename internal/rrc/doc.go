// Package rrc implements the control plane of an LTE base station's Radio
// Resource Control layer: the per-terminal connection state machine, data
// radio bearer orchestration, and the X2 handover coordinator that moves a
// terminal between neighbouring base stations.
//
// The package is built around a Controller that owns every TerminalContext
// of one cell. All Controller entry points are serialized: a transition
// runs to completion before the next inbound message, timer expiry or
// administrative request is processed. Collaborators (MAC, PHY, RRC
// transport, X2, core network) are consumed through small interfaces and
// are expected to deliver any callbacks asynchronously.
//
// Timers are kept in a generation-tagged arena. A timer that fires after its
// context has left the arming state, or after the context was destroyed, is
// detected as stale and ignored.
//
// References:
//   - 3GPP TS 36.331 (E-UTRA RRC)
//   - 3GPP TS 36.423 (X2 Application Protocol)
//   - 3GPP TS 36.413 (S1 Application Protocol, path switch)
package rrc
