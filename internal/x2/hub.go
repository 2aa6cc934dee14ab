package x2

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dantte-lp/gorrc/internal/codec"
	"github.com/dantte-lp/gorrc/internal/rrc"
)

// ErrMisrouted indicates a message whose addressed cell differs from the
// endpoint it was sent through.
var ErrMisrouted = errors.New("x2 message addressed to another cell")

// Receiver is the receiving half of X2: a cell's Controller.
type Receiver interface {
	RecvX2(msg rrc.X2Message) error
}

// Poster queues a callback for serial execution (see package eventloop).
type Poster interface {
	Post(f func()) error
}

// Metrics receives X2 traffic counts. *rrcmetrics.Collector satisfies it.
type Metrics interface {
	IncX2Sent(cellID, peer uint16, kind rrc.MessageKind)
	IncX2Received(cellID, peer uint16, kind rrc.MessageKind)
	IncX2Dropped(cellID, peer uint16, kind rrc.MessageKind)
}

type noopMetrics struct{}

func (noopMetrics) IncX2Sent(uint16, uint16, rrc.MessageKind) {}
func (noopMetrics) IncX2Received(uint16, uint16, rrc.MessageKind) {}
func (noopMetrics) IncX2Dropped(uint16, uint16, rrc.MessageKind) {}

// DropFunc decides whether a message in flight is lost.
type DropFunc func(from, to uint16, msg rrc.X2Message) bool

// Hub is an in-process X2 fabric between registered cells.
type Hub struct {
	mu    sync.RWMutex
	cells map[uint16]Receiver

	loop      Poster
	metrics   Metrics
	drop      DropFunc
	serialize bool

	logger *slog.Logger
}

// HubOption configures optional Hub parameters.
type HubOption func(*Hub)

// WithMetrics counts traffic through m.
func WithMetrics(m Metrics) HubOption {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithSerialization passes every message through package codec.
func WithSerialization() HubOption {
	return func(h *Hub) {
		h.serialize = true
	}
}

// WithDrop installs a loss model.
func WithDrop(f DropFunc) HubOption {
	return func(h *Hub) {
		h.drop = f
	}
}

// NewHub creates an empty fabric delivering on loop.
func NewHub(loop Poster, logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		cells:   make(map[uint16]Receiver),
		loop:    loop,
		metrics: noopMetrics{},
		logger:  logger.With(slog.String("component", "x2.hub")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register attaches the Controller of cellID.
func (h *Hub) Register(cellID uint16, r Receiver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cells[cellID] = r
}

// Unregister detaches cellID. Messages already in flight to it are dropped.
func (h *Hub) Unregister(cellID uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.cells, cellID)
}

// Directory returns the peer directory seen by local: every other
// registered cell, looked up at call time.
func (h *Hub) Directory(local uint16) rrc.PeerDirectory {
	return hubDirectory{hub: h, local: local}
}

type hubDirectory struct {
	hub   *Hub
	local uint16
}

func (d hubDirectory) Lookup(cellID uint16) (rrc.X2Sap, bool) {
	if cellID == d.local {
		return nil, false
	}
	if _, ok := d.hub.receiver(cellID); !ok {
		return nil, false
	}
	return &Endpoint{hub: d.hub, local: d.local, remote: cellID}, true
}

func (h *Hub) receiver(cellID uint16) (Receiver, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.cells[cellID]
	return r, ok
}

// send validates the addressing and queues delivery.
func (h *Hub) send(from, to uint16, msg rrc.X2Message) error {
	if dst := rrc.X2Destination(msg); dst != to {
		return fmt.Errorf("%w: %s for cell %d sent towards %d", ErrMisrouted, msg.Kind(), dst, to)
	}
	if _, ok := h.receiver(to); !ok {
		return fmt.Errorf("cell %d: %w", to, rrc.ErrUnknownPeer)
	}

	if h.serialize {
		b, err := codec.EncodeX2(msg)
		if err != nil {
			return fmt.Errorf("encode %s: %w", msg.Kind(), err)
		}
		decoded, err := codec.DecodeX2(b)
		if err != nil {
			return fmt.Errorf("decode %s: %w", msg.Kind(), err)
		}
		msg = decoded
	}

	h.metrics.IncX2Sent(from, to, msg.Kind())
	if h.drop != nil && h.drop(from, to, msg) {
		h.metrics.IncX2Dropped(to, from, msg.Kind())
		h.logger.Debug("x2 message lost",
			slog.Uint64("from", uint64(from)),
			slog.Uint64("to", uint64(to)),
			slog.String("message", msg.Kind().String()),
		)
		return nil
	}

	return h.loop.Post(func() { h.deliver(from, to, msg) })
}

func (h *Hub) deliver(from, to uint16, msg rrc.X2Message) {
	r, ok := h.receiver(to)
	if !ok {
		h.metrics.IncX2Dropped(to, from, msg.Kind())
		return
	}
	h.metrics.IncX2Received(to, from, msg.Kind())

	if err := r.RecvX2(msg); err != nil {
		h.logger.Warn("x2 message refused",
			slog.Uint64("from", uint64(from)),
			slog.Uint64("to", uint64(to)),
			slog.String("message", msg.Kind().String()),
			slog.String("error", err.Error()),
		)
	}
}

// -------------------------------------------------------------------------
// Endpoint
// -------------------------------------------------------------------------

// Endpoint is the rrc.X2Sap from one cell towards one peer over a Hub.
type Endpoint struct {
	hub    *Hub
	local  uint16
	remote uint16
}

var _ rrc.X2Sap = (*Endpoint)(nil)

// SendHandoverRequest sends a HANDOVER REQUEST to the peer.
func (e *Endpoint) SendHandoverRequest(msg rrc.HandoverRequest) error {
	return e.hub.send(e.local, e.remote, msg)
}

// SendHandoverRequestAck sends a HANDOVER REQUEST ACKNOWLEDGE to the peer.
func (e *Endpoint) SendHandoverRequestAck(msg rrc.HandoverRequestAck) error {
	return e.hub.send(e.local, e.remote, msg)
}

// SendHandoverPreparationFailure sends a HANDOVER PREPARATION FAILURE.
func (e *Endpoint) SendHandoverPreparationFailure(msg rrc.HandoverPreparationFailure) error {
	return e.hub.send(e.local, e.remote, msg)
}

// SendSnStatusTransfer sends an SN STATUS TRANSFER to the peer.
func (e *Endpoint) SendSnStatusTransfer(msg rrc.SnStatusTransfer) error {
	return e.hub.send(e.local, e.remote, msg)
}

// SendUeContextRelease sends a UE CONTEXT RELEASE to the peer.
func (e *Endpoint) SendUeContextRelease(msg rrc.UeContextRelease) error {
	return e.hub.send(e.local, e.remote, msg)
}

// SendUeData forwards user data to the peer.
func (e *Endpoint) SendUeData(msg rrc.UeData) error {
	return e.hub.send(e.local, e.remote, msg)
}
