package netio

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"

	"github.com/dantte-lp/gorrc/internal/codec"
	"github.com/dantte-lp/gorrc/internal/rrc"
	"github.com/dantte-lp/gorrc/internal/x2"
)

// ErrNotBound indicates a datagram arrived before Bind was called.
var ErrNotBound = errors.New("x2 node has no receiver")

// Peer is a remote base station reachable over UDP.
type Peer struct {
	CellID  uint16
	Control netip.AddrPort
	User    netip.AddrPort
}

// -------------------------------------------------------------------------
// Node
// -------------------------------------------------------------------------

// Node is the UDP X2 endpoint of one local cell. It is the cell's
// rrc.PeerDirectory and the netio Handler of its listeners.
type Node struct {
	local   uint16
	control PacketConn
	user    PacketConn

	mu     sync.RWMutex
	peers  map[uint16]Peer
	byAddr map[netip.Addr]uint16
	recv   x2.Receiver

	loop    x2.Poster
	metrics x2.Metrics
	logger  *slog.Logger
}

var (
	_ rrc.PeerDirectory = (*Node)(nil)
	_ Handler           = (*Node)(nil)
)

// NodeOption configures optional Node parameters.
type NodeOption func(*Node)

// WithMetrics counts X2 traffic through m.
func WithMetrics(m x2.Metrics) NodeOption {
	return func(n *Node) {
		if m != nil {
			n.metrics = m
		}
	}
}

// NewNode creates the endpoint of cell local sending through control and
// user. Received messages are delivered on loop.
func NewNode(local uint16, control, user PacketConn, loop x2.Poster, logger *slog.Logger, opts ...NodeOption) *Node {
	n := &Node{
		local:   local,
		control: control,
		user:    user,
		peers:   make(map[uint16]Peer),
		byAddr:  make(map[netip.Addr]uint16),
		loop:    loop,
		metrics: noopMetrics{},
		logger: logger.With(
			slog.String("component", "netio.x2"),
			slog.Uint64("cell_id", uint64(local)),
		),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type noopMetrics struct{}

func (noopMetrics) IncX2Sent(uint16, uint16, rrc.MessageKind) {}
func (noopMetrics) IncX2Received(uint16, uint16, rrc.MessageKind) {}
func (noopMetrics) IncX2Dropped(uint16, uint16, rrc.MessageKind) {}

// Bind sets the Controller that receives decoded messages.
func (n *Node) Bind(r x2.Receiver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recv = r
}

// AddPeer adds or replaces a remote cell.
func (n *Node) AddPeer(p Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if old, ok := n.peers[p.CellID]; ok {
		delete(n.byAddr, old.Control.Addr())
		delete(n.byAddr, old.User.Addr())
	}
	n.peers[p.CellID] = p
	n.byAddr[p.Control.Addr()] = p.CellID
	n.byAddr[p.User.Addr()] = p.CellID
}

// RemovePeer forgets a remote cell.
func (n *Node) RemovePeer(cellID uint16) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if p, ok := n.peers[cellID]; ok {
		delete(n.byAddr, p.Control.Addr())
		delete(n.byAddr, p.User.Addr())
		delete(n.peers, cellID)
	}
}

// Peers returns the configured peers ordered by cell identity.
func (n *Node) Peers() []Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Peer) int { return int(a.CellID) - int(b.CellID) })
	return out
}

// Lookup implements rrc.PeerDirectory.
func (n *Node) Lookup(cellID uint16) (rrc.X2Sap, bool) {
	if cellID == n.local {
		return nil, false
	}
	if _, ok := n.peer(cellID); !ok {
		return nil, false
	}
	return &link{node: n, remote: cellID}, true
}

func (n *Node) peer(cellID uint16) (Peer, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.peers[cellID]
	return p, ok
}

// -------------------------------------------------------------------------
// Send
// -------------------------------------------------------------------------

func (n *Node) send(to uint16, msg rrc.X2Message) error {
	if dst := rrc.X2Destination(msg); dst != to {
		return fmt.Errorf("%w: %s for cell %d sent towards %d", x2.ErrMisrouted, msg.Kind(), dst, to)
	}
	p, ok := n.peer(to)
	if !ok {
		return fmt.Errorf("cell %d: %w", to, rrc.ErrUnknownPeer)
	}

	var err error
	if data, isData := msg.(rrc.UeData); isData {
		err = n.sendUser(p, data)
	} else {
		err = n.sendControl(p, msg)
	}
	if err != nil {
		return err
	}

	n.metrics.IncX2Sent(n.local, to, msg.Kind())
	n.logger.Debug("x2 message sent",
		slog.Uint64("peer", uint64(to)),
		slog.String("message", msg.Kind().String()),
	)
	return nil
}

func (n *Node) sendControl(p Peer, msg rrc.X2Message) error {
	b, err := codec.EncodeX2(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	if err := n.control.WritePacket(b, p.Control); err != nil {
		return fmt.Errorf("send %s to cell %d: %w", msg.Kind(), p.CellID, err)
	}
	return nil
}

func (n *Node) sendUser(p Peer, msg rrc.UeData) error {
	b, err := EncodeGPDU(msg.GtpTeid, msg.Payload)
	if err != nil {
		return err
	}
	if err := n.user.WritePacket(b, p.User); err != nil {
		return fmt.Errorf("forward data to cell %d: %w", p.CellID, err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Receive
// -------------------------------------------------------------------------

// HandleDatagram implements Handler: it decodes b and queues delivery to
// the bound Controller.
func (n *Node) HandleDatagram(plane Plane, b []byte, meta PacketMeta) error {
	var (
		msg rrc.X2Message
		err error
	)
	switch plane {
	case PlaneUser:
		msg, err = n.decodeUser(b, meta)
	default:
		msg, err = n.decodeControl(b)
	}
	if err != nil {
		n.metrics.IncX2Dropped(n.local, n.sourceOf(meta), 0)
		return err
	}

	from := rrc.X2Origin(msg)
	n.metrics.IncX2Received(n.local, from, msg.Kind())

	return n.loop.Post(func() { n.deliver(from, msg) })
}

func (n *Node) decodeControl(b []byte) (rrc.X2Message, error) {
	msg, err := codec.DecodeX2(b)
	if err != nil {
		return nil, err
	}
	if dst := rrc.X2Destination(msg); dst != n.local {
		return nil, fmt.Errorf("%w: %s for cell %d", x2.ErrMisrouted, msg.Kind(), dst)
	}
	if _, ok := n.peer(rrc.X2Origin(msg)); !ok {
		return nil, fmt.Errorf("%s from cell %d: %w", msg.Kind(), rrc.X2Origin(msg), ErrUnknownSource)
	}
	return msg, nil
}

func (n *Node) decodeUser(b []byte, meta PacketMeta) (rrc.X2Message, error) {
	n.mu.RLock()
	source, ok := n.byAddr[meta.Src.Addr()]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", meta.Src, ErrUnknownSource)
	}

	teid, payload, err := DecodeGPDU(b)
	if err != nil {
		return nil, err
	}
	return rrc.UeData{
		SourceCellID: source,
		TargetCellID: n.local,
		GtpTeid:      teid,
		Payload:      payload,
	}, nil
}

func (n *Node) sourceOf(meta PacketMeta) uint16 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.byAddr[meta.Src.Addr()]
}

func (n *Node) deliver(from uint16, msg rrc.X2Message) {
	n.mu.RLock()
	r := n.recv
	n.mu.RUnlock()

	if r == nil {
		n.metrics.IncX2Dropped(n.local, from, msg.Kind())
		n.logger.Warn("x2 message dropped", slog.String("error", ErrNotBound.Error()))
		return
	}

	if err := r.RecvX2(msg); err != nil {
		n.logger.Warn("x2 message refused",
			slog.Uint64("peer", uint64(from)),
			slog.String("message", msg.Kind().String()),
			slog.String("error", err.Error()),
		)
	}
}

// -------------------------------------------------------------------------
// link
// -------------------------------------------------------------------------

// link is the rrc.X2Sap from the local cell towards one peer.
type link struct {
	node   *Node
	remote uint16
}

func (l *link) SendHandoverRequest(msg rrc.HandoverRequest) error {
	return l.node.send(l.remote, msg)
}

func (l *link) SendHandoverRequestAck(msg rrc.HandoverRequestAck) error {
	return l.node.send(l.remote, msg)
}

func (l *link) SendHandoverPreparationFailure(msg rrc.HandoverPreparationFailure) error {
	return l.node.send(l.remote, msg)
}

func (l *link) SendSnStatusTransfer(msg rrc.SnStatusTransfer) error {
	return l.node.send(l.remote, msg)
}

func (l *link) SendUeContextRelease(msg rrc.UeContextRelease) error {
	return l.node.send(l.remote, msg)
}

func (l *link) SendUeData(msg rrc.UeData) error {
	return l.node.send(l.remote, msg)
}
