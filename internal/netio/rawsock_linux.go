//go:build linux

package netio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"syscall"

	reuse "github.com/libp2p/go-reuseport"
	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// UDPConn
// -------------------------------------------------------------------------

// UDPConn implements PacketConn over a Linux UDP socket opened with
// SO_REUSEADDR/SO_REUSEPORT and an optional DSCP marking.
type UDPConn struct {
	conn      *net.UDPConn
	localAddr netip.AddrPort
	closed    bool
	mu        sync.Mutex
}

// ErrUnexpectedConnType indicates the net.ListenPacket returned an
// unexpected connection type instead of *net.UDPConn.
var ErrUnexpectedConnType = errors.New("unexpected connection type from ListenPacket")

// Listen opens a UDP socket on laddr. A non-zero dscp is written into the
// traffic class of every outgoing datagram.
func Listen(ctx context.Context, laddr netip.AddrPort, dscp uint8) (*UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			if err := reuse.Control(network, address, c); err != nil {
				return fmt.Errorf("reuseport: %w", err)
			}
			return setSocketOpts(c, laddr.Addr().Is6(), dscp)
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("listen UDP %s: %w", laddr, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		closeErr := pc.Close()
		return nil, errors.Join(
			fmt.Errorf("listen UDP %s: %w", laddr, ErrUnexpectedConnType),
			closeErr,
		)
	}

	local := laddr
	if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		local = ua.AddrPort()
	}

	return &UDPConn{conn: conn, localAddr: local}, nil
}

// ReadPacket reads a single datagram.
func (c *UDPConn) ReadPacket(buf []byte) (int, PacketMeta, error) {
	n, src, err := c.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return 0, PacketMeta{}, fmt.Errorf("read datagram: %w", err)
	}
	return n, PacketMeta{Src: netip.AddrPortFrom(src.Addr().Unmap(), src.Port())}, nil
}

// WritePacket sends buf to dst.
func (c *UDPConn) WritePacket(buf []byte, dst netip.AddrPort) error {
	if _, err := c.conn.WriteToUDPAddrPort(buf, dst); err != nil {
		return fmt.Errorf("write datagram to %s: %w", dst, err)
	}
	return nil
}

// Close closes the socket. Subsequent calls return nil.
func (c *UDPConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close UDP socket: %w", err)
	}
	return nil
}

// LocalAddr returns the bound address, including the kernel-chosen port
// when the socket was opened on port 0.
func (c *UDPConn) LocalAddr() netip.AddrPort {
	return c.localAddr
}

// -------------------------------------------------------------------------
// Socket Options
// -------------------------------------------------------------------------

// setSocketOpts applies DSCP marking via the Control callback.
func setSocketOpts(c syscall.RawConn, ipv6 bool, dscp uint8) error {
	if dscp == 0 {
		return nil
	}

	var sockErr error
	err := c.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
		sockErr = applyDSCP(int(fd), ipv6, dscp)
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}
	return sockErr
}

// applyDSCP writes dscp into the upper six bits of IP_TOS or IPV6_TCLASS.
func applyDSCP(fd int, ipv6 bool, dscp uint8) error {
	tos := int(dscp&0x3f) << 2

	if ipv6 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos); err != nil {
			return fmt.Errorf("set IPV6_TCLASS: %w", err)
		}
		return nil
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
		return fmt.Errorf("set IP_TOS: %w", err)
	}
	return nil
}
