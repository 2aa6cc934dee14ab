// Package corenet provides the core network side of the base station:
// an in-process mobility anchor that answers path switch requests, and a
// PFCP client that moves downlink tunnels on a user plane function.
package corenet

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dantte-lp/gorrc/internal/rrc"
)

// -------------------------------------------------------------------------
// Collaborator Interfaces
// -------------------------------------------------------------------------

// Acker is the receiver of path switch acknowledgements: a cell's
// Controller.
type Acker interface {
	RecvPathSwitchAck(rnti uint16) error
}

// Poster queues a callback for serial execution (see package eventloop).
type Poster interface {
	Post(f func()) error
}

// PathSwitcher moves the downlink of a terminal to a new base station on
// the user plane. *PFCPClient implements it.
type PathSwitcher interface {
	SwitchPath(ctx context.Context, req rrc.PathSwitchRequest) error
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrUnknownCell indicates a request from a cell that never registered.
	ErrUnknownCell = errors.New("cell not registered with the core")

	// ErrCoreClosed indicates a request after Close.
	ErrCoreClosed = errors.New("core network closed")
)

const defaultSwitchTimeout = 2 * time.Second

// Attachment is the core's view of one registered terminal.
type Attachment struct {
	Imsi   uint64
	CellID uint16
	Rnti   uint16
}

// -------------------------------------------------------------------------
// Loopback
// -------------------------------------------------------------------------

// Loopback is an in-process core network. It tracks where each subscriber
// is attached and acknowledges every path switch, optionally after moving
// the tunnels on a user plane function.
type Loopback struct {
	mu       sync.Mutex
	cells    map[uint16]Acker
	attached map[uint64]Attachment
	closed   bool

	loop     Poster
	switcher PathSwitcher
	timeout  time.Duration

	ctx    context.Context //nolint:containedctx // lifetime of in-flight path switches.
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

var _ rrc.CoreNetworkSap = (*Loopback)(nil)

// LoopbackOption configures optional Loopback parameters.
type LoopbackOption func(*Loopback)

// WithPathSwitcher performs every path switch through s before it is
// acknowledged. A failed switch is logged and not acknowledged, leaving the
// target context in its path switch state.
func WithPathSwitcher(s PathSwitcher) LoopbackOption {
	return func(l *Loopback) {
		l.switcher = s
	}
}

// WithSwitchTimeout bounds a single PathSwitcher exchange.
func WithSwitchTimeout(d time.Duration) LoopbackOption {
	return func(l *Loopback) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// NewLoopback creates a core network acknowledging on loop.
func NewLoopback(loop Poster, logger *slog.Logger, opts ...LoopbackOption) *Loopback {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loopback{
		cells:    make(map[uint16]Acker),
		attached: make(map[uint64]Attachment),
		loop:     loop,
		timeout:  defaultSwitchTimeout,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With(slog.String("component", "corenet.loopback")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register attaches the Controller of cellID.
func (l *Loopback) Register(cellID uint16, a Acker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cells[cellID] = a
}

// NotifyNewTerminal records the subscriber at cellID.
func (l *Loopback) NotifyNewTerminal(cellID uint16, imsi uint64, rnti uint16) {
	l.mu.Lock()
	l.attached[imsi] = Attachment{Imsi: imsi, CellID: cellID, Rnti: rnti}
	l.mu.Unlock()

	l.logger.Info("terminal attached",
		slog.Uint64("cell_id", uint64(cellID)),
		slog.Uint64("imsi", imsi),
		slog.Uint64("rnti", uint64(rnti)),
	)
}

// NotifyContextReleased forgets the subscriber if it is still anchored at
// (cellID, rnti). A release by the handover source after the path switch
// does not detach the subscriber from its new cell.
func (l *Loopback) NotifyContextReleased(cellID uint16, rnti uint16) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for imsi, a := range l.attached {
		if a.CellID == cellID && a.Rnti == rnti {
			delete(l.attached, imsi)
			l.logger.Info("terminal detached",
				slog.Uint64("cell_id", uint64(cellID)),
				slog.Uint64("imsi", imsi),
			)
			return
		}
	}
}

// RequestPathSwitch moves the subscriber to the requesting cell and queues
// the acknowledgement. It never calls back synchronously.
func (l *Loopback) RequestPathSwitch(req rrc.PathSwitchRequest) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("path switch rnti %d: %w", req.Rnti, ErrCoreClosed)
	}
	acker, ok := l.cells[req.CellID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("path switch from cell %d: %w", req.CellID, ErrUnknownCell)
	}
	l.attached[req.Imsi] = Attachment{Imsi: req.Imsi, CellID: req.CellID, Rnti: req.Rnti}
	if l.switcher != nil {
		l.wg.Add(1)
	}
	l.mu.Unlock()

	l.logger.Info("path switch",
		slog.Uint64("cell_id", uint64(req.CellID)),
		slog.Uint64("source_cell", uint64(req.SourceCell)),
		slog.Uint64("imsi", req.Imsi),
		slog.Int("bearers", len(req.Bearers)),
	)

	if l.switcher == nil {
		return l.loop.Post(func() { l.ack(acker, req) })
	}

	go func() {
		defer l.wg.Done()

		ctx, cancel := context.WithTimeout(l.ctx, l.timeout)
		defer cancel()

		if err := l.switcher.SwitchPath(ctx, req); err != nil {
			l.logger.Error("user plane path switch failed",
				slog.Uint64("cell_id", uint64(req.CellID)),
				slog.Uint64("imsi", req.Imsi),
				slog.String("error", err.Error()),
			)
			return
		}
		if err := l.loop.Post(func() { l.ack(acker, req) }); err != nil {
			l.logger.Warn("path switch ack not queued", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (l *Loopback) ack(a Acker, req rrc.PathSwitchRequest) {
	if err := a.RecvPathSwitchAck(req.Rnti); err != nil {
		l.logger.Warn("path switch ack refused",
			slog.Uint64("cell_id", uint64(req.CellID)),
			slog.Uint64("rnti", uint64(req.Rnti)),
			slog.String("error", err.Error()),
		)
	}
}

// Attachments returns the registered subscribers ordered by IMSI.
func (l *Loopback) Attachments() []Attachment {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Attachment, 0, len(l.attached))
	for _, a := range l.attached {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Attachment) int { return cmp.Compare(a.Imsi, b.Imsi) })
	return out
}

// Lookup returns where imsi is attached.
func (l *Loopback) Lookup(imsi uint64) (Attachment, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.attached[imsi]
	return a, ok
}

// Close cancels in-flight path switches and waits for them to return.
func (l *Loopback) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()
}
