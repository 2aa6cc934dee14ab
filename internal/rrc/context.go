package rrc

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"time"
)

// transactionModulus bounds RRC-TransactionIdentifier (INTEGER (0..3)).
const transactionModulus = 4

// TerminalContext is the base station's view of one terminal. It is owned by
// a Controller and only touched while the Controller lock is held.
type TerminalContext struct {
	ctrl *Controller

	rnti  uint16
	imsi  uint64
	state State

	// transactionID is the last identifier issued; outstandingTx is the one
	// the next completion message must echo.
	transactionID uint8
	outstandingTx uint8

	srbs    [2]SignallingBearer
	bearers map[uint8]*DataBearer
	drbs    *DrbAllocator

	// drbsToRelease lists DRBs removed since the last reconfiguration.
	drbsToRelease []uint8

	// unconfirmedReleases and unconfirmedMeas record what the outstanding
	// reconfiguration carried until the terminal completes it.
	unconfirmedReleases []uint8
	unconfirmedMeas     bool

	measConfigSent bool
	srsOffset      uint16

	transmissionMode        uint8
	pendingTransmissionMode uint8
	needPhyMacConfig        bool

	pendingReconfiguration bool

	timer    TimerHandle
	handover *HandoverAttempt

	// rach is the dedicated preamble of a terminal arriving by handover.
	rach RachConfigDedicated

	createdAt       time.Time
	lastStateChange time.Time

	logger *slog.Logger
}

// eventInput carries message payloads needed by transition actions.
type eventInput struct {
	ack *HandoverRequestAck
}

// nextTransaction issues a new RRC transaction identifier and records it as
// the one the terminal must answer.
func (c *TerminalContext) nextTransaction() uint8 {
	c.transactionID = (c.transactionID + 1) % transactionModulus
	c.outstandingTx = c.transactionID
	return c.transactionID
}

// -------------------------------------------------------------------------
// Transitions
// -------------------------------------------------------------------------

// apply runs one FSM transition to completion: state update, timer swap,
// then actions in table order. An event the current state does not accept is
// reported loudly and leaves the context untouched.
func (c *TerminalContext) apply(event Event, in eventInput) error {
	res, err := ApplyEvent(c.state, event)
	if err != nil {
		return c.ctrl.invalidTransition(c, event, err)
	}

	c.logger.Debug("fsm event",
		slog.String("event", event.String()),
		slog.String("from", res.OldState.String()),
		slog.String("to", res.NewState.String()),
	)

	if res.Changed {
		c.switchState(res.NewState, event.String())
	}

	var errs []error
	for _, a := range res.Actions {
		if err := c.execute(a, in); err != nil {
			c.logger.Error("transition action failed",
				slog.String("action", a.String()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", a, err))
		}
		if a == ActionDestroyContext || c.removed() {
			return errors.Join(errs...)
		}
	}

	if res.Changed && c.state == StateConnectedNormally && c.pendingReconfiguration {
		c.pendingReconfiguration = false
		errs = append(errs, c.apply(EventReconfigure, eventInput{}))
	}

	return errors.Join(errs...)
}

// switchState records a new state, cancels the timer armed by the old state
// and arms the guard of the new one.
func (c *TerminalContext) switchState(next State, reason string) {
	old := c.state
	c.cancelTimer()
	c.state = next
	c.lastStateChange = c.ctrl.clock.Now()
	c.armStateTimer()

	c.logger.Info("context state changed",
		slog.String("old_state", old.String()),
		slog.String("new_state", next.String()),
		slog.String("reason", reason),
	)

	c.ctrl.metrics.RecordStateTransition(c.ctrl.cfg.CellID, old, next)
	c.ctrl.publish(StateChange{
		Kind:      ContextStateChanged,
		CellID:    c.ctrl.cfg.CellID,
		Rnti:      c.rnti,
		Imsi:      c.imsi,
		OldState:  old,
		NewState:  next,
		Reason:    reason,
		Timestamp: c.lastStateChange,
	})
}

// removed reports whether the context no longer belongs to its Controller.
func (c *TerminalContext) removed() bool {
	return c.ctrl.contexts[c.rnti] != c
}

func (c *TerminalContext) armStateTimer() {
	kind := stateTimer(c.state)
	if kind == TimerNone {
		return
	}
	d := c.ctrl.cfg.Timeouts.duration(kind)
	if d <= 0 {
		return
	}
	c.timer = c.ctrl.timers.arm(c.rnti, kind, c.state, d, c.ctrl.onTimer)
}

func (c *TerminalContext) cancelTimer() {
	if c.timer.IsZero() {
		return
	}
	c.ctrl.timers.cancel(c.timer)
	c.timer = TimerHandle{}
}

// execute performs one transition side effect.
func (c *TerminalContext) execute(a Action, in eventInput) error {
	ctrl := c.ctrl

	switch a {
	case ActionSendConnectionSetup:
		ctrl.transport.Send(c.rnti, ConnectionSetup{
			TransactionID: c.nextTransaction(),
			RadioResource: RadioResourceConfig{
				Srbs: []SrbToAddMod{c.srbToAddMod(1)},
			},
		})
		return nil

	case ActionSendConnectionReject:
		ctrl.transport.Send(c.rnti, ConnectionReject{WaitTime: ctrl.cfg.RejectWaitTime})
		return nil

	case ActionStartBearers:
		c.startBearers()
		return nil

	case ActionNotifyCoreAttach:
		ctrl.core.NotifyNewTerminal(ctrl.cfg.CellID, c.imsi, c.rnti)
		return nil

	case ActionSendReconfiguration:
		ctrl.transport.Send(c.rnti, c.buildReconfiguration())
		return nil

	case ActionApplyPhyMacConfig:
		if c.needPhyMacConfig {
			c.needPhyMacConfig = false
			c.transmissionMode = c.pendingTransmissionMode
			ctrl.phy.SetTransmissionMode(c.rnti, c.transmissionMode)
		}
		return nil

	case ActionSendReestablishment:
		ctrl.transport.Send(c.rnti, ConnectionReestablishment{
			TransactionID: c.nextTransaction(),
			RadioResource: RadioResourceConfig{
				Srbs: []SrbToAddMod{c.srbToAddMod(1)},
			},
		})
		return nil

	case ActionSendHandoverRequest:
		return c.sendHandoverRequest()

	case ActionSendHandoverCommand:
		return c.sendHandoverCommand(in.ack)

	case ActionSendSnStatus:
		return c.sendSnStatus()

	case ActionRequestPathSwitch:
		if err := c.requestPathSwitch(); err != nil {
			ctrl.destroy(c, "path switch not requested", true)
			return err
		}
		return nil

	case ActionSendUeContextRelease:
		return c.sendUeContextRelease()

	case ActionRemoveForwarding:
		c.removeForwarding()
		return nil

	case ActionDestroyContext:
		ctrl.destroy(c, "handover completed", false)
		return nil

	default:
		return fmt.Errorf("unhandled action %d", a)
	}
}

// -------------------------------------------------------------------------
// Bearers
// -------------------------------------------------------------------------

func (c *TerminalContext) srbToAddMod(i int) SrbToAddMod {
	s := c.srbs[i]
	return SrbToAddMod{SrbID: s.SrbID, LogicalChannelID: s.LogicalChannelID, Mode: s.Mode}
}

// sortedBearers returns the data bearers ordered by DRB identity.
func (c *TerminalContext) sortedBearers() []*DataBearer {
	out := make([]*DataBearer, 0, len(c.bearers))
	for _, b := range c.bearers {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b *DataBearer) int { return int(a.DrbID) - int(b.DrbID) })
	return out
}

func (c *TerminalContext) bearerByErab(erabID uint8) *DataBearer {
	for _, b := range c.bearers {
		if b.ErabID == erabID {
			return b
		}
	}
	return nil
}

// setupDataBearer allocates and configures a data bearer. On failure the
// bearer set is left as it was.
func (c *TerminalContext) setupDataBearer(qos Qos, erabID uint8, teid uint32, endpoint netip.Addr) (*DataBearer, error) {
	ctrl := c.ctrl

	if c.bearerByErab(erabID) != nil {
		return nil, fmt.Errorf("rnti %d erab %d: %w", c.rnti, erabID, ErrBearerExists)
	}

	drbID, err := c.drbs.Allocate()
	if err != nil {
		ctrl.metrics.IncExhaustion(ctrl.cfg.CellID, PoolDrb)
		return nil, fmt.Errorf("rnti %d: %w", c.rnti, err)
	}

	b := &DataBearer{
		DrbID:            drbID,
		ErabID:           erabID,
		Qos:              qos,
		LogicalChannelID: LogicalChannelID(drbID),
		Mode:             ctrl.cfg.BearerPolicy.Mode(qos),
		GtpTeid:          teid,
		TransportAddr:    endpoint,
		dlTeid:           downlinkTeid(c.rnti, drbID),
	}

	// Bearers admitted for an incoming handover get an X2-U tunnel so that
	// data forwarded by the source finds its way to this bearer.
	if c.state == StateHandoverJoining {
		fwd, err := ctrl.teids.Allocate()
		if err != nil {
			c.drbs.Release(drbID)
			ctrl.metrics.IncExhaustion(ctrl.cfg.CellID, PoolTeid)
			return nil, fmt.Errorf("rnti %d forwarding tunnel: %w", c.rnti, err)
		}
		b.ForwardingTeid = fwd
		ctrl.tunnels[fwd] = tunnelEntry{rnti: c.rnti, drbID: drbID}
	}

	c.bearers[drbID] = b

	ctrl.mac.ConfigureLogicalChannel(c.rnti, LogicalChannelConfig{
		LogicalChannelID: b.LogicalChannelID,
		Priority:         qos.Arp,
		Gbr:              qos.IsGbr(),
		GbrUl:            qos.GbrUl,
		MbrUl:            qos.MbrUl,
	})
	ctrl.metrics.SetDataBearers(ctrl.cfg.CellID, ctrl.dataBearerCount())

	c.logger.Info("data bearer set up",
		slog.Uint64("drb_id", uint64(drbID)),
		slog.Uint64("erab_id", uint64(erabID)),
		slog.Uint64("lcid", uint64(b.LogicalChannelID)),
		slog.String("rlc_mode", b.Mode.String()),
	)

	return b, nil
}

// removeDataBearer tears down one bearer and its tunnels.
func (c *TerminalContext) removeDataBearer(drbID uint8) {
	ctrl := c.ctrl
	b, ok := c.bearers[drbID]
	if !ok {
		return
	}

	if b.ForwardingTeid != 0 {
		delete(ctrl.tunnels, b.ForwardingTeid)
		ctrl.teids.Release(b.ForwardingTeid)
	}
	ctrl.mac.ReleaseLogicalChannel(c.rnti, b.LogicalChannelID)
	c.drbs.Release(drbID)
	delete(c.bearers, drbID)
	ctrl.metrics.SetDataBearers(ctrl.cfg.CellID, ctrl.dataBearerCount())
}

// startBearers marks every signalled bearer usable and flushes data
// forwarded while the terminal was not reachable.
func (c *TerminalContext) startBearers() {
	for _, b := range c.sortedBearers() {
		if b.Started || !b.signalled() {
			continue
		}
		b.Started = true
		for _, pkt := range b.forwarded {
			c.ctrl.deliverDownlink(c, b, pkt)
		}
		b.forwarded = nil
	}
}

// scheduleReconfiguration sends a reconfiguration now or parks it behind the
// pending flag when the context is busy.
func (c *TerminalContext) scheduleReconfiguration() error {
	if c.state == StateConnectedNormally {
		return c.apply(EventReconfigure, eventInput{})
	}
	if acceptsDeferredReconfiguration(c.state) {
		c.pendingReconfiguration = true
		c.logger.Debug("reconfiguration deferred", slog.String("state", c.state.String()))
		return nil
	}
	return c.ctrl.invalidTransition(c, EventReconfigure,
		fmt.Errorf("%w: event %s in state %s", ErrInvalidTransition, EventReconfigure, c.state))
}

// reopenReconfiguration forgets that the outstanding reconfiguration was
// signalled, so that its content is sent again.
func (c *TerminalContext) reopenReconfiguration() {
	for _, b := range c.bearers {
		if !b.Started {
			b.announced = false
		}
	}
	if len(c.unconfirmedReleases) > 0 {
		c.drbsToRelease = slices.Concat(c.unconfirmedReleases, c.drbsToRelease)
	}
	if c.unconfirmedMeas {
		c.measConfigSent = false
	}
	c.confirmReconfiguration()
	c.pendingReconfiguration = true
}

// confirmReconfiguration forgets the content of the outstanding
// reconfiguration once the terminal has applied it.
func (c *TerminalContext) confirmReconfiguration() {
	c.unconfirmedReleases = nil
	c.unconfirmedMeas = false
}

// buildReconfiguration collects every change not yet signalled.
func (c *TerminalContext) buildReconfiguration() ConnectionReconfiguration {
	msg := ConnectionReconfiguration{TransactionID: c.nextTransaction()}

	rr := RadioResourceConfig{}
	for _, b := range c.sortedBearers() {
		if b.signalled() {
			continue
		}
		rr.Drbs = append(rr.Drbs, b.toAddMod())
		b.markSignalled()
	}
	if len(c.drbsToRelease) > 0 {
		rr.DrbsToRelease = c.drbsToRelease
		c.drbsToRelease = nil
	}
	c.unconfirmedReleases = rr.DrbsToRelease
	if c.needPhyMacConfig {
		rr.Physical = &PhysicalConfigDedicated{
			TransmissionMode: c.pendingTransmissionMode,
			SrsConfigIndex:   c.ctrl.srs.ConfigIndex(c.srsOffset),
		}
	}
	if len(rr.Drbs) > 0 || len(rr.DrbsToRelease) > 0 || rr.Physical != nil {
		msg.RadioResource = &rr
	}

	if !c.measConfigSent {
		meas := c.ctrl.cfg.Meas
		msg.Meas = &meas
		c.measConfigSent = true
	}
	c.unconfirmedMeas = msg.Meas != nil

	return msg
}

// fullRadioResource describes the complete radio configuration, as carried
// by a handover command or handover preparation information.
func (c *TerminalContext) fullRadioResource() RadioResourceConfig {
	rr := RadioResourceConfig{
		Srbs: []SrbToAddMod{c.srbToAddMod(0), c.srbToAddMod(1)},
		Physical: &PhysicalConfigDedicated{
			TransmissionMode: c.transmissionMode,
			SrsConfigIndex:   c.ctrl.srs.ConfigIndex(c.srsOffset),
		},
	}
	for _, b := range c.sortedBearers() {
		rr.Drbs = append(rr.Drbs, b.toAddMod())
	}
	return rr
}

// -------------------------------------------------------------------------
// Snapshot
// -------------------------------------------------------------------------

func (c *TerminalContext) snapshot() ContextSnapshot {
	s := ContextSnapshot{
		CellID:                 c.ctrl.cfg.CellID,
		Rnti:                   c.rnti,
		Imsi:                   c.imsi,
		State:                  c.state,
		TransactionID:          c.transactionID,
		SrsOffset:              c.srsOffset,
		SrsConfigIndex:         c.ctrl.srs.ConfigIndex(c.srsOffset),
		TransmissionMode:       c.transmissionMode,
		Signalling:             c.srbs,
		PendingReconfiguration: c.pendingReconfiguration,
		CreatedAt:              c.createdAt,
		LastStateChange:        c.lastStateChange,
	}
	for _, b := range c.sortedBearers() {
		s.Bearers = append(s.Bearers, BearerSnapshot{
			DrbID:            b.DrbID,
			ErabID:           b.ErabID,
			Qci:              b.Qos.Qci,
			LogicalChannelID: b.LogicalChannelID,
			Mode:             b.Mode,
			GtpTeid:          b.GtpTeid,
			ForwardingTeid:   b.ForwardingTeid,
			Started:          b.Started,
			UlCount:          b.UlCount,
			DlCount:          b.DlCount,
			Buffered:         len(b.forwarded),
		})
	}
	if c.handover != nil {
		h := *c.handover
		h.Bearers = slices.Clone(h.Bearers)
		s.Handover = &h
	}
	return s
}
