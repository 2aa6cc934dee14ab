// Package netio carries X2 between base stations over UDP.
//
// Control messages (handover request, acknowledgement, preparation failure,
// SN status transfer, UE context release) are framed by package codec and
// exchanged on the X2 port. Forwarded user data travels as GTPv1-U G-PDUs on
// port 2152, keyed by the forwarding tunnel TEID the target allocated.
//
// The Linux implementation opens SO_REUSEPORT listeners through
// github.com/libp2p/go-reuseport and marks outgoing traffic with a DSCP
// code point through golang.org/x/sys/unix.
package netio
