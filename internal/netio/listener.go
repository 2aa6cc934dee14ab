package netio

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
)

// Plane tells which X2 plane a listener serves.
type Plane uint8

const (
	// PlaneControl carries codec-framed X2 control messages.
	PlaneControl Plane = iota + 1

	// PlaneUser carries GTP-U forwarded data.
	PlaneUser
)

// String returns "control" or "user".
func (p Plane) String() string {
	switch p {
	case PlaneControl:
		return "control"
	case PlaneUser:
		return "user"
	default:
		return "unknown"
	}
}

//nolint:gochecknoglobals // shared receive buffers.
var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, maxDatagram)
		return &b
	},
}

// -------------------------------------------------------------------------
// ListenerConfig
// -------------------------------------------------------------------------

// ListenerConfig holds configuration for an X2 listener.
type ListenerConfig struct {
	// Addr is the local address and port to bind to. Port 0 selects the
	// plane's well-known port.
	Addr netip.AddrPort

	// Plane selects control or user plane.
	Plane Plane

	// DSCP marks outgoing datagrams; 0 leaves the default.
	DSCP uint8
}

// -------------------------------------------------------------------------
// Listener
// -------------------------------------------------------------------------

// Listener wraps a PacketConn with pooled receive buffers.
type Listener struct {
	conn  PacketConn
	plane Plane
}

// NewListener opens the socket described by cfg.
func NewListener(ctx context.Context, cfg ListenerConfig) (*Listener, error) {
	addr := cfg.Addr
	if addr.Port() == 0 {
		port := PortX2
		if cfg.Plane == PlaneUser {
			port = PortGTPU
		}
		addr = netip.AddrPortFrom(addr.Addr(), port)
	}

	conn, err := Listen(ctx, addr, cfg.DSCP)
	if err != nil {
		return nil, fmt.Errorf("create %s listener: %w", cfg.Plane, err)
	}

	return &Listener{conn: conn, plane: cfg.Plane}, nil
}

// NewListenerFromConn creates a Listener from an existing PacketConn.
func NewListenerFromConn(conn PacketConn, plane Plane) *Listener {
	return &Listener{conn: conn, plane: plane}
}

// Plane returns the plane the listener serves.
func (l *Listener) Plane() Plane { return l.plane }

// Conn returns the underlying PacketConn, which is also used for sending.
func (l *Listener) Conn() PacketConn { return l.conn }

// Recv blocks until a datagram arrives or ctx is cancelled. The returned
// slice belongs to the pool and must be handed back with Release.
func (l *Listener) Recv(ctx context.Context) ([]byte, PacketMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, PacketMeta{}, fmt.Errorf("listener recv: %w", err)
	}

	bufp, ok := bufferPool.Get().(*[]byte)
	if !ok {
		return nil, PacketMeta{}, fmt.Errorf("listener recv: %w", ErrPoolType)
	}

	n, meta, err := l.conn.ReadPacket(*bufp)
	if err != nil {
		bufferPool.Put(bufp)
		return nil, PacketMeta{}, fmt.Errorf("listener read: %w", err)
	}

	return (*bufp)[:n], meta, nil
}

// Release returns a buffer obtained from Recv to the pool.
func (l *Listener) Release(buf []byte) {
	if cap(buf) != maxDatagram {
		return
	}
	b := buf[:maxDatagram]
	bufferPool.Put(&b)
}

// Close closes the underlying PacketConn.
func (l *Listener) Close() error {
	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}
