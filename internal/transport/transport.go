// Package transport carries RRC messages between a cell's Controller and
// the terminals it serves.
//
// Two interchangeable strategies satisfy rrc.RrcTransport: Ideal hands the
// message structs over unchanged, Real serializes every message with
// package codec and decodes it on the far side, as a radio link would.
// Both deliver asynchronously through a Poster so that a Controller never
// sees a terminal's answer from inside its own call.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dantte-lp/gorrc/internal/codec"
	"github.com/dantte-lp/gorrc/internal/rrc"
)

// Strategy names accepted by New.
const (
	StrategyIdeal = "ideal"
	StrategyReal  = "real"
)

// Sentinel errors.
var (
	// ErrUnknownStrategy indicates a strategy name other than ideal or real.
	ErrUnknownStrategy = errors.New("unknown transport strategy")

	// ErrNotBound indicates a send before Bind.
	ErrNotBound = errors.New("transport not bound")
)

// Poster queues a callback for serial execution (see package eventloop).
type Poster interface {
	Post(f func()) error
}

// Dispatcher is the base station end: the cell's Controller.
type Dispatcher interface {
	Dispatch(rnti uint16, msg rrc.UplinkMessage) error
}

// TerminalSide is the terminal end. It receives downlink messages of every
// cell it is bound to.
type TerminalSide interface {
	HandleDownlink(cellID, rnti uint16, msg rrc.DownlinkMessage)
}

// Transport is a bidirectional RRC link of one cell.
type Transport interface {
	rrc.RrcTransport

	// SendUplink delivers a terminal's message to the Controller.
	SendUplink(rnti uint16, msg rrc.UplinkMessage) error

	// Bind attaches both ends. It must be called before any message flows.
	Bind(cell Dispatcher, terminals TerminalSide)

	// Stats returns message and byte counters.
	Stats() Stats
}

// Stats counts traffic through a transport. Bytes are only counted by the
// real strategy.
type Stats struct {
	DownlinkMessages uint64
	UplinkMessages   uint64
	DownlinkBytes    uint64
	UplinkBytes      uint64
	DecodeErrors     uint64
}

// New returns the strategy named by name.
func New(name string, cellID uint16, loop Poster, logger *slog.Logger) (Transport, error) {
	switch name {
	case StrategyIdeal, "":
		return NewIdeal(cellID, loop, logger), nil
	case StrategyReal:
		return NewReal(cellID, loop, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// link holds what both strategies share.
type link struct {
	cellID uint16
	loop   Poster

	mu        sync.RWMutex
	cell      Dispatcher
	terminals TerminalSide

	downMsgs  atomic.Uint64
	upMsgs    atomic.Uint64
	downBytes atomic.Uint64
	upBytes   atomic.Uint64
	decodeErr atomic.Uint64

	logger *slog.Logger
}

func (l *link) init(cellID uint16, loop Poster, logger *slog.Logger, strategy string) {
	l.cellID = cellID
	l.loop = loop
	l.logger = logger.With(
		slog.String("component", "transport"),
		slog.String("strategy", strategy),
		slog.Uint64("cell_id", uint64(cellID)),
	)
}

// Bind attaches the Controller and the terminal side.
func (l *link) Bind(cell Dispatcher, terminals TerminalSide) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cell = cell
	l.terminals = terminals
}

func (l *link) ends() (Dispatcher, TerminalSide) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cell, l.terminals
}

// Stats returns a snapshot of the counters.
func (l *link) Stats() Stats {
	return Stats{
		DownlinkMessages: l.downMsgs.Load(),
		UplinkMessages:   l.upMsgs.Load(),
		DownlinkBytes:    l.downBytes.Load(),
		UplinkBytes:      l.upBytes.Load(),
		DecodeErrors:     l.decodeErr.Load(),
	}
}

func (l *link) deliverDown(rnti uint16, msg rrc.DownlinkMessage) {
	_, terminals := l.ends()
	if terminals == nil {
		l.logger.Warn("downlink message dropped, no terminal side",
			slog.Uint64("rnti", uint64(rnti)),
			slog.String("message", msg.Kind().String()),
		)
		return
	}
	terminals.HandleDownlink(l.cellID, rnti, msg)
}

func (l *link) deliverUp(rnti uint16, msg rrc.UplinkMessage) {
	cell, _ := l.ends()
	if cell == nil {
		return
	}
	if err := cell.Dispatch(rnti, msg); err != nil {
		l.logger.Warn("uplink message refused",
			slog.Uint64("rnti", uint64(rnti)),
			slog.String("message", msg.Kind().String()),
			slog.String("error", err.Error()),
		)
	}
}

func (l *link) post(f func()) {
	if err := l.loop.Post(f); err != nil {
		l.logger.Debug("message dropped", slog.String("error", err.Error()))
	}
}

// -------------------------------------------------------------------------
// Ideal
// -------------------------------------------------------------------------

// Ideal transfers message values without serialization.
type Ideal struct {
	link
}

var _ Transport = (*Ideal)(nil)

// NewIdeal creates an ideal transport for cellID.
func NewIdeal(cellID uint16, loop Poster, logger *slog.Logger) *Ideal {
	t := &Ideal{}
	t.init(cellID, loop, logger, StrategyIdeal)
	return t
}

// Send queues msg for the terminal.
func (t *Ideal) Send(rnti uint16, msg rrc.DownlinkMessage) {
	t.downMsgs.Add(1)
	t.post(func() { t.deliverDown(rnti, msg) })
}

// SendUplink queues msg for the Controller.
func (t *Ideal) SendUplink(rnti uint16, msg rrc.UplinkMessage) error {
	if cell, _ := t.ends(); cell == nil {
		return ErrNotBound
	}
	t.upMsgs.Add(1)
	t.post(func() { t.deliverUp(rnti, msg) })
	return nil
}

// -------------------------------------------------------------------------
// Real
// -------------------------------------------------------------------------

// Real encodes every message and decodes it again at the receiving end.
type Real struct {
	link
}

var _ Transport = (*Real)(nil)

// NewReal creates a serializing transport for cellID.
func NewReal(cellID uint16, loop Poster, logger *slog.Logger) *Real {
	t := &Real{}
	t.init(cellID, loop, logger, StrategyReal)
	return t
}

// Send encodes msg and queues its decoding and delivery to the terminal.
func (t *Real) Send(rnti uint16, msg rrc.DownlinkMessage) {
	b, err := codec.EncodeDownlink(msg)
	if err != nil {
		t.logger.Error("downlink encode failed",
			slog.Uint64("rnti", uint64(rnti)),
			slog.String("error", err.Error()),
		)
		return
	}
	t.downMsgs.Add(1)
	t.downBytes.Add(uint64(len(b)))

	t.post(func() {
		decoded, err := codec.DecodeDownlink(b)
		if err != nil {
			t.decodeErr.Add(1)
			t.logger.Error("downlink decode failed",
				slog.Uint64("rnti", uint64(rnti)),
				slog.String("error", err.Error()),
			)
			return
		}
		t.deliverDown(rnti, decoded)
	})
}

// SendUplink encodes msg and queues its decoding and dispatch.
func (t *Real) SendUplink(rnti uint16, msg rrc.UplinkMessage) error {
	if cell, _ := t.ends(); cell == nil {
		return ErrNotBound
	}
	b, err := codec.EncodeUplink(msg)
	if err != nil {
		return fmt.Errorf("rnti %d: %w", rnti, err)
	}
	t.upMsgs.Add(1)
	t.upBytes.Add(uint64(len(b)))

	t.post(func() {
		decoded, err := codec.DecodeUplink(b)
		if err != nil {
			t.decodeErr.Add(1)
			t.logger.Error("uplink decode failed",
				slog.Uint64("rnti", uint64(rnti)),
				slog.String("error", err.Error()),
			)
			return
		}
		t.deliverUp(rnti, decoded)
	})
	return nil
}
