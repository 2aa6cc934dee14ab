package sim

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"

	"github.com/dantte-lp/gorrc/internal/rrc"
	"github.com/dantte-lp/gorrc/internal/transport"
)

// -------------------------------------------------------------------------
// Terminal State
// -------------------------------------------------------------------------

// TerminalState is the emulator's view of a terminal's RRC connection.
type TerminalState uint8

const (
	// TerminalIdle has no connection.
	TerminalIdle TerminalState = iota

	// TerminalConnecting has sent RRCConnectionRequest.
	TerminalConnecting

	// TerminalConnected has completed connection setup.
	TerminalConnected

	// TerminalRejected was refused by the cell.
	TerminalRejected

	// TerminalReleased was released by the cell.
	TerminalReleased
)

// String returns the human-readable name of the state.
func (s TerminalState) String() string {
	switch s {
	case TerminalIdle:
		return "Idle"
	case TerminalConnecting:
		return "Connecting"
	case TerminalConnected:
		return "Connected"
	case TerminalRejected:
		return "Rejected"
	case TerminalReleased:
		return "Released"
	default:
		return "Unknown"
	}
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrUnknownCell indicates a cell that was never added to the network.
	ErrUnknownCell = errors.New("cell not in network")

	// ErrUnknownTerminal indicates an IMSI with no emulated terminal.
	ErrUnknownTerminal = errors.New("unknown terminal")

	// ErrAlreadyAttached indicates an attach for a connected IMSI.
	ErrAlreadyAttached = errors.New("terminal already attached")

	// ErrNotConnected indicates an uplink procedure for a terminal that has
	// no connection.
	ErrNotConnected = errors.New("terminal not connected")
)

// -------------------------------------------------------------------------
// Collaborator Interfaces
// -------------------------------------------------------------------------

// Cell is the base station side the emulator and the scenario runner act
// on. *rrc.Controller implements it.
type Cell interface {
	AllocateTemporaryID() (uint16, error)
	RequestBearerSetup(rnti uint16, qos rrc.Qos, externalBearerID uint32, tunnelID uint32, endpoint netip.Addr) (uint8, error)
	RequestBearerRelease(rnti uint16, drbID uint8) error
	TriggerHandover(rnti uint16, targetCell uint16) error
	ReleaseConnection(rnti uint16) error
}

// Uplink carries a terminal's messages to a cell. transport.Transport
// implements it.
type Uplink interface {
	SendUplink(rnti uint16, msg rrc.UplinkMessage) error
}

var (
	_ Cell                   = (*rrc.Controller)(nil)
	_ transport.TerminalSide = (*Network)(nil)
)

// -------------------------------------------------------------------------
// Terminal
// -------------------------------------------------------------------------

// Terminal is a read-only view of an emulated terminal.
type Terminal struct {
	Imsi      uint64
	CellID    uint16
	Rnti      uint16
	State     TerminalState
	Drbs      map[uint8]uint8 // E-RAB id -> DRB id
	Meas      *rrc.MeasConfig
	Handovers int
}

type terminal struct {
	imsi      uint64
	cellID    uint16
	rnti      uint16
	state     TerminalState
	drbs      map[uint8]uint8
	meas      *rrc.MeasConfig
	handovers int
}

func (t *terminal) view() Terminal {
	drbs := make(map[uint8]uint8, len(t.drbs))
	for k, v := range t.drbs {
		drbs[k] = v
	}
	var meas *rrc.MeasConfig
	if t.meas != nil {
		m := *t.meas
		meas = &m
	}
	return Terminal{
		Imsi:      t.imsi,
		CellID:    t.cellID,
		Rnti:      t.rnti,
		State:     t.state,
		Drbs:      drbs,
		Meas:      meas,
		Handovers: t.handovers,
	}
}

// applyRadioResource tracks the data bearers the cell configured.
func (t *terminal) applyRadioResource(rr *rrc.RadioResourceConfig) {
	if rr == nil {
		return
	}
	for _, drb := range rr.DrbsToRelease {
		for erab, id := range t.drbs {
			if id == drb {
				delete(t.drbs, erab)
			}
		}
	}
	for _, d := range rr.Drbs {
		t.drbs[d.ErabID] = d.DrbID
	}
}

// -------------------------------------------------------------------------
// Network
// -------------------------------------------------------------------------

type terminalKey struct {
	cellID uint16
	rnti   uint16
}

type cellEntry struct {
	cell   Cell
	uplink Uplink
}

// Network emulates the terminals of every cell it is bound to. It answers
// connection setup, reconfiguration and reestablishment, and follows
// handover commands to the target cell.
type Network struct {
	mu        sync.Mutex
	cells     map[uint16]cellEntry
	terminals map[uint64]*terminal
	byRnti    map[terminalKey]*terminal

	logger *slog.Logger
}

// NewNetwork creates an empty terminal network.
func NewNetwork(logger *slog.Logger) *Network {
	return &Network{
		cells:     make(map[uint16]cellEntry),
		terminals: make(map[uint64]*terminal),
		byRnti:    make(map[terminalKey]*terminal),
		logger:    logger.With(slog.String("component", "sim.terminal")),
	}
}

// AddCell makes cellID reachable. uplink must deliver to cell.
func (n *Network) AddCell(cellID uint16, cell Cell, uplink Uplink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cells[cellID] = cellEntry{cell: cell, uplink: uplink}
}

// Cell returns the base station side of cellID.
func (n *Network) Cell(cellID uint16) (Cell, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.cells[cellID]
	return e.cell, ok
}

// Attach performs random access on cellID and sends RRCConnectionRequest
// carrying imsi. The rest of the procedure runs as the cell answers.
func (n *Network) Attach(imsi uint64, cellID uint16) error {
	n.mu.Lock()
	entry, ok := n.cells[cellID]
	if !ok {
		n.mu.Unlock()
		return fmt.Errorf("attach imsi %d: cell %d: %w", imsi, cellID, ErrUnknownCell)
	}
	if t, ok := n.terminals[imsi]; ok && (t.state == TerminalConnecting || t.state == TerminalConnected) {
		n.mu.Unlock()
		return fmt.Errorf("attach imsi %d: %w", imsi, ErrAlreadyAttached)
	}
	n.mu.Unlock()

	rnti, err := entry.cell.AllocateTemporaryID()
	if err != nil {
		return fmt.Errorf("attach imsi %d: random access: %w", imsi, err)
	}

	t := &terminal{
		imsi:   imsi,
		cellID: cellID,
		rnti:   rnti,
		state:  TerminalConnecting,
		drbs:   make(map[uint8]uint8),
	}

	n.mu.Lock()
	n.terminals[imsi] = t
	n.byRnti[terminalKey{cellID, rnti}] = t
	n.mu.Unlock()

	n.logger.Info("terminal attaching",
		slog.Uint64("imsi", imsi),
		slog.Uint64("cell_id", uint64(cellID)),
		slog.Uint64("rnti", uint64(rnti)),
	)

	return entry.uplink.SendUplink(rnti, rrc.ConnectionRequest{UeIdentity: imsi})
}

// Measure sends a MeasurementReport from imsi's serving cell.
func (n *Network) Measure(imsi uint64, servingDBm float64, neighbours []rrc.NeighbourMeasurement) error {
	n.mu.Lock()
	t, entry, err := n.connected(imsi)
	if err != nil {
		n.mu.Unlock()
		return fmt.Errorf("measure: %w", err)
	}
	rnti, meas := t.rnti, t.meas
	n.mu.Unlock()

	report := rrc.MeasurementReport{
		ServingRsrpDBm: servingDBm,
		Neighbours:     neighbours,
	}
	if meas != nil {
		report.MeasID = meas.MeasID
	}
	return entry.uplink.SendUplink(rnti, report)
}

// Reestablish sends RRCConnectionReestablishmentRequest for imsi's
// connection on its serving cell.
func (n *Network) Reestablish(imsi uint64) error {
	n.mu.Lock()
	t, entry, err := n.connected(imsi)
	if err != nil {
		n.mu.Unlock()
		return fmt.Errorf("reestablish: %w", err)
	}
	rnti, cellID := t.rnti, t.cellID
	n.mu.Unlock()

	return entry.uplink.SendUplink(rnti, rrc.ConnectionReestablishmentRequest{
		UeIdentity: rrc.ReestabUeIdentity{CRnti: rnti, PhysCellID: cellID},
		Cause:      rrc.ReestablishmentOtherFailure,
	})
}

// connected returns the terminal of imsi and its serving cell. It requires
// n.mu.
func (n *Network) connected(imsi uint64) (*terminal, cellEntry, error) {
	t, ok := n.terminals[imsi]
	if !ok {
		return nil, cellEntry{}, fmt.Errorf("imsi %d: %w", imsi, ErrUnknownTerminal)
	}
	if t.state != TerminalConnected {
		return nil, cellEntry{}, fmt.Errorf("imsi %d in %s: %w", imsi, t.state, ErrNotConnected)
	}
	entry, ok := n.cells[t.cellID]
	if !ok {
		return nil, cellEntry{}, fmt.Errorf("imsi %d: cell %d: %w", imsi, t.cellID, ErrUnknownCell)
	}
	return t, entry, nil
}

// Terminal returns a view of imsi's terminal.
func (n *Network) Terminal(imsi uint64) (Terminal, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.terminals[imsi]
	if !ok {
		return Terminal{}, false
	}
	return t.view(), true
}

// Terminals returns every terminal ordered by IMSI.
func (n *Network) Terminals() []Terminal {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Terminal, 0, len(n.terminals))
	for _, t := range n.terminals {
		out = append(out, t.view())
	}
	slices.SortFunc(out, func(a, b Terminal) int { return cmp.Compare(a.Imsi, b.Imsi) })
	return out
}

// HandleDownlink answers a downlink message from cellID to rnti.
func (n *Network) HandleDownlink(cellID, rnti uint16, msg rrc.DownlinkMessage) {
	n.mu.Lock()
	t, ok := n.byRnti[terminalKey{cellID, rnti}]
	if !ok {
		n.mu.Unlock()
		n.logger.Debug("downlink for unknown terminal",
			slog.Uint64("cell_id", uint64(cellID)),
			slog.Uint64("rnti", uint64(rnti)),
			slog.String("message", msg.Kind().String()),
		)
		return
	}

	reply, to, replyRnti := n.react(t, msg)
	var uplink Uplink
	if reply != nil {
		entry, ok := n.cells[to]
		if ok {
			uplink = entry.uplink
		}
	}
	n.mu.Unlock()

	if reply == nil {
		return
	}
	if uplink == nil {
		n.logger.Warn("no uplink towards cell", slog.Uint64("cell_id", uint64(to)))
		return
	}
	if err := uplink.SendUplink(replyRnti, reply); err != nil {
		n.logger.Warn("uplink send failed",
			slog.Uint64("imsi", t.imsi),
			slog.String("message", reply.Kind().String()),
			slog.String("error", err.Error()),
		)
	}
}

// react updates t for msg and returns the answer, the cell it goes to and
// the identifier it is addressed with. It requires n.mu.
func (n *Network) react(t *terminal, msg rrc.DownlinkMessage) (rrc.UplinkMessage, uint16, uint16) {
	switch m := msg.(type) {
	case rrc.ConnectionSetup:
		t.state = TerminalConnected
		return rrc.ConnectionSetupCompleted{TransactionID: m.TransactionID}, t.cellID, t.rnti

	case rrc.ConnectionReconfiguration:
		if m.Meas != nil {
			meas := *m.Meas
			t.meas = &meas
		}
		t.applyRadioResource(m.RadioResource)
		if m.Mobility != nil {
			n.move(t, m.Mobility)
		}
		return rrc.ConnectionReconfigurationCompleted{TransactionID: m.TransactionID}, t.cellID, t.rnti

	case rrc.ConnectionReestablishment:
		return rrc.ConnectionReestablishmentComplete{TransactionID: m.TransactionID}, t.cellID, t.rnti

	case rrc.ConnectionReject:
		n.forget(t, TerminalRejected)
	case rrc.ConnectionReestablishmentReject, rrc.ConnectionRelease:
		n.forget(t, TerminalReleased)
	}
	return nil, 0, 0
}

// move re-keys t under the target cell of a handover command.
func (n *Network) move(t *terminal, mob *rrc.MobilityControlInfo) {
	delete(n.byRnti, terminalKey{t.cellID, t.rnti})

	n.logger.Info("terminal following handover command",
		slog.Uint64("imsi", t.imsi),
		slog.Uint64("source_cell", uint64(t.cellID)),
		slog.Uint64("target_cell", uint64(mob.TargetCellID)),
		slog.Uint64("preamble", uint64(mob.Rach.PreambleIndex)),
	)

	t.cellID = mob.TargetCellID
	t.rnti = mob.NewUeIdentity
	t.handovers++
	n.byRnti[terminalKey{t.cellID, t.rnti}] = t
}

func (n *Network) forget(t *terminal, state TerminalState) {
	delete(n.byRnti, terminalKey{t.cellID, t.rnti})
	t.state = state
	t.drbs = make(map[uint8]uint8)

	n.logger.Info("terminal disconnected",
		slog.Uint64("imsi", t.imsi),
		slog.Uint64("cell_id", uint64(t.cellID)),
		slog.String("state", state.String()),
	)
}
