package netio

import (
	"errors"
	"net/netip"
)

// -------------------------------------------------------------------------
// Port Constants
// -------------------------------------------------------------------------

const (
	// PortX2 is the X2 control port (TS 36.422 Section 7 assigns 36422 to
	// X2AP; it is reused here for the UDP framing).
	PortX2 uint16 = 36422

	// PortGTPU is the GTP-U port (TS 29.281 Section 4.4.2.3).
	PortGTPU uint16 = 2152

	// maxDatagram bounds a single receive.
	maxDatagram = 65535
)

// -------------------------------------------------------------------------
// Transport Metadata
// -------------------------------------------------------------------------

// PacketMeta describes where a received datagram came from.
type PacketMeta struct {
	// Src is the remote address and port of the sender.
	Src netip.AddrPort
}

// -------------------------------------------------------------------------
// PacketConn Interface
// -------------------------------------------------------------------------

// PacketConn abstracts datagram send/receive so that Node can be tested
// without sockets.
type PacketConn interface {
	// ReadPacket reads a single datagram into buf.
	ReadPacket(buf []byte) (n int, meta PacketMeta, err error)

	// WritePacket sends buf to dst.
	WritePacket(buf []byte, dst netip.AddrPort) error

	// Close releases the underlying socket.
	Close() error

	// LocalAddr returns the address the socket is bound to.
	LocalAddr() netip.AddrPort
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrSocketClosed indicates an operation on a closed socket.
	ErrSocketClosed = errors.New("socket closed")

	// ErrPoolType indicates the buffer pool returned an unexpected type.
	ErrPoolType = errors.New("buffer pool returned unexpected type")

	// ErrNotGPDU indicates a GTP-U message other than a G-PDU.
	ErrNotGPDU = errors.New("not a GTP-U G-PDU")

	// ErrUnknownSource indicates a datagram from an address that belongs to
	// no configured peer.
	ErrUnknownSource = errors.New("datagram from unknown peer")
)
