package rrc

import (
	"errors"
	"fmt"
	"log/slog"
)

// This file implements the X2 handover coordinator (TS 36.423 Section 8.2):
//
//	source                                   target
//	  | -- Handover Request ------------------> |  admit bearers, dedicated preamble
//	  | <-------- Handover Request Ack / Failure |
//	  |   (command to terminal)                  |
//	  | -- SN Status Transfer ----------------> |
//	  | == UE data (X2-U) ====================> |  buffered until the terminal arrives
//	  |                                          |  path switch with the core network
//	  | <------------------- UE Context Release |
//	  destroy context

// TriggerHandover starts a handover of rnti to targetCell. The context must be
// in ConnectedNormally and the neighbour relation must allow the target.
func (c *Controller) TriggerHandover(rnti uint16, targetCell uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.lookup(rnti)
	if err != nil {
		return err
	}
	return c.triggerHandover(ctx, targetCell)
}

func (c *Controller) triggerHandover(ctx *TerminalContext, targetCell uint16) error {
	if !Accepts(ctx.state, EventHandoverDecision) {
		return ctx.apply(EventHandoverDecision, eventInput{})
	}
	if !c.neighbours.HandoverAllowed(c.cfg.CellID, targetCell) {
		c.metrics.IncAdmissionReject(c.cfg.CellID, "neighbour_relation")
		return fmt.Errorf("cell %d -> %d: %w", c.cfg.CellID, targetCell, ErrHandoverNotAllowed)
	}
	if _, err := c.peer(targetCell); err != nil {
		return err
	}

	ctx.handover = newHandoverAttempt(RoleSource, c.cfg.CellID, targetCell, ctx.rnti, c.clock.Now())
	ctx.logger.Info("handover triggered",
		slog.Uint64("target_cell", uint64(targetCell)),
		slog.String("handover_id", ctx.handover.ID.String()),
	)
	c.metrics.IncHandover(c.cfg.CellID, RoleSource, OutcomeStarted)

	return ctx.apply(EventHandoverDecision, eventInput{})
}

// RecvX2 dispatches an inbound X2 message to its handler.
func (c *Controller) RecvX2(msg X2Message) error {
	switch m := msg.(type) {
	case HandoverRequest:
		return c.RecvHandoverRequest(m)
	case HandoverRequestAck:
		return c.RecvHandoverRequestAck(m)
	case HandoverPreparationFailure:
		return c.RecvHandoverPreparationFailure(m)
	case SnStatusTransfer:
		return c.RecvSnStatusTransfer(m)
	case UeContextRelease:
		return c.RecvUeContextRelease(m)
	case UeData:
		return c.RecvUeData(m)
	default:
		return fmt.Errorf("cell %d: %w: %T", c.cfg.CellID, ErrUnknownMessage, msg)
	}
}

// -------------------------------------------------------------------------
// Target role
// -------------------------------------------------------------------------

// RecvHandoverRequest admits an incoming terminal. Either every bearer and a
// dedicated preamble are allocated and an acknowledgement is sent, or
// nothing is kept and a preparation failure is sent.
func (c *Controller) RecvHandoverRequest(req HandoverRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := c.logger.With(
		slog.Uint64("source_cell", uint64(req.SourceCellID)),
		slog.Uint64("old_x2ap_id", uint64(req.OldEnbUeX2apID)),
		slog.Uint64("imsi", req.Imsi),
	)

	source, err := c.peer(req.SourceCellID)
	if err != nil {
		logger.Error("handover request from unknown peer", slog.String("error", err.Error()))
		return err
	}

	fail := func(cause Cause, reason error) error {
		c.metrics.IncHandover(c.cfg.CellID, RoleTarget, OutcomeRejected)
		logger.Warn("handover request rejected",
			slog.String("cause", cause.String()),
			slog.String("error", reason.Error()),
		)
		sendErr := source.SendHandoverPreparationFailure(HandoverPreparationFailure{
			OldEnbUeX2apID: req.OldEnbUeX2apID,
			SourceCellID:   req.SourceCellID,
			TargetCellID:   c.cfg.CellID,
			Cause:          cause,
		})
		return errors.Join(reason, sendErr)
	}

	if req.TargetCellID != c.cfg.CellID {
		return fail(CauseUnknownTargetID, fmt.Errorf("%w: target cell %d", ErrUnknownPeer, req.TargetCellID))
	}

	if err := c.admission.Admit(AdmissionRequest{
		CellID:         c.cfg.CellID,
		Imsi:           req.Imsi,
		Handover:       true,
		SourceCellID:   req.SourceCellID,
		ActiveContexts: len(c.contexts),
		Bearers:        len(req.Bearers),
	}); err != nil {
		c.metrics.IncAdmissionReject(c.cfg.CellID, "handover")
		return fail(CauseNoRadioResourcesAvailable, err)
	}

	ctx, err := c.allocateContext(StateHandoverJoining, AdmissionHint{
		Imsi:         req.Imsi,
		SourceCellID: req.SourceCellID,
		SourceX2apID: req.OldEnbUeX2apID,
	})
	if err != nil {
		return fail(CauseNoRadioResourcesAvailable, err)
	}

	ctx.logger = ctx.logger.With(slog.Uint64("imsi", req.Imsi))
	ctx.handover = newHandoverAttempt(RoleTarget, req.SourceCellID, c.cfg.CellID, req.OldEnbUeX2apID, c.clock.Now())
	ctx.handover.TargetRnti = ctx.rnti
	ctx.handover.Bearers = req.Bearers
	ctx.transmissionMode = req.Preparation.TransmissionMode
	c.phy.SetTransmissionMode(ctx.rnti, ctx.transmissionMode)

	admitted := make([]ErabAdmitted, 0, len(req.Bearers))
	for _, e := range req.Bearers {
		b, err := ctx.setupDataBearer(e.Qos, e.ErabID, e.UlGtpTeid, e.UlTransportAddr)
		if err != nil {
			c.destroy(ctx, "handover admission failed", false)
			return fail(CauseNoRadioResourcesAvailable, err)
		}
		admitted = append(admitted, ErabAdmitted{
			ErabID:           e.ErabID,
			DlForwardingTeid: b.ForwardingTeid,
			DlForwardingAddr: c.cfg.UserPlaneAddr,
		})
	}

	rach, err := c.mac.AllocateNonContentionResource(ctx.rnti)
	if err != nil {
		c.metrics.IncExhaustion(c.cfg.CellID, PoolRachID)
		c.destroy(ctx, "no dedicated preamble", false)
		return fail(CauseNoRadioResourcesAvailable, fmt.Errorf("%w: %w", ErrNonContentionExhausted, err))
	}
	ctx.rach = rach

	for _, b := range ctx.bearers {
		b.markSignalled()
	}
	meas := c.cfg.Meas
	rr := ctx.fullRadioResource()
	ctx.measConfigSent = true

	ack := HandoverRequestAck{
		OldEnbUeX2apID: req.OldEnbUeX2apID,
		NewEnbUeX2apID: ctx.rnti,
		SourceCellID:   req.SourceCellID,
		TargetCellID:   c.cfg.CellID,
		Admitted:       admitted,
		Command: ConnectionReconfiguration{
			TransactionID: ctx.nextTransaction(),
			Meas:          &meas,
			Mobility: &MobilityControlInfo{
				TargetCellID:  c.cfg.CellID,
				NewUeIdentity: ctx.rnti,
				Rach:          rach,
			},
			RadioResource: &rr,
		},
	}

	c.metrics.IncHandover(c.cfg.CellID, RoleTarget, OutcomeAdmitted)
	ctx.logger.Info("handover admitted",
		slog.String("handover_id", ctx.handover.ID.String()),
		slog.Uint64("source_cell", uint64(req.SourceCellID)),
		slog.Int("bearers", len(admitted)),
		slog.Uint64("preamble", uint64(rach.PreambleIndex)),
	)

	if err := source.SendHandoverRequestAck(ack); err != nil {
		c.destroy(ctx, "handover ack not sent", false)
		return fmt.Errorf("send handover request ack: %w", err)
	}
	return nil
}

// RecvSnStatusTransfer stores the PDCP COUNT state of the moving bearers.
func (c *Controller) RecvSnStatusTransfer(msg SnStatusTransfer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.targetContext(msg.NewEnbUeX2apID, msg.SourceCellID, msg.OldEnbUeX2apID)
	if err != nil {
		return err
	}
	if ctx.state != StateHandoverJoining && ctx.state != StateHandoverPathSwitch {
		return c.invalidTransition(ctx, EventHandoverAdmitted,
			fmt.Errorf("%w: SN status transfer in state %s", ErrInvalidTransition, ctx.state))
	}

	for _, s := range msg.Bearers {
		b := ctx.bearerByErab(s.ErabID)
		if b == nil {
			ctx.logger.Warn("sn status for unknown e-rab", slog.Uint64("erab_id", uint64(s.ErabID)))
			continue
		}
		b.UlCount = s.UlCount
		b.DlCount = s.DlCount
	}
	ctx.logger.Debug("sn status applied", slog.Int("bearers", len(msg.Bearers)))
	return nil
}

// RecvUeData routes data forwarded by a handover source to the bearer that
// registered the tunnel.
func (c *Controller) RecvUeData(msg UeData) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.tunnels[msg.GtpTeid]
	if !ok {
		return fmt.Errorf("cell %d teid %d: %w", c.cfg.CellID, msg.GtpTeid, ErrUnknownTunnel)
	}
	ctx, err := c.lookup(entry.rnti)
	if err != nil {
		return err
	}
	b, ok := ctx.bearers[entry.drbID]
	if !ok {
		return fmt.Errorf("rnti %d drb %d: %w", entry.rnti, entry.drbID, ErrUnknownBearer)
	}

	if b.Started {
		c.deliverDownlink(ctx, b, msg.Payload)
		return nil
	}
	c.bufferForwarded(ctx, b, msg.Payload)
	return nil
}

// RecvPathSwitchAck completes an incoming handover once the core network
// has moved the downlink path.
func (c *Controller) RecvPathSwitchAck(rnti uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.lookup(rnti)
	if err != nil {
		return err
	}
	return ctx.apply(EventPathSwitchAck, eventInput{})
}

// -------------------------------------------------------------------------
// Source role
// -------------------------------------------------------------------------

// RecvHandoverRequestAck sends the handover command to the terminal.
func (c *Controller) RecvHandoverRequestAck(ack HandoverRequestAck) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.sourceContext(ack.OldEnbUeX2apID, ack.TargetCellID)
	if err != nil {
		return err
	}
	return ctx.apply(EventHandoverAdmitted, eventInput{ack: &ack})
}

// RecvHandoverPreparationFailure returns the context to ConnectedNormally.
func (c *Controller) RecvHandoverPreparationFailure(msg HandoverPreparationFailure) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.sourceContext(msg.OldEnbUeX2apID, msg.TargetCellID)
	if err != nil {
		return err
	}
	if !Accepts(ctx.state, EventHandoverRejected) {
		return ctx.apply(EventHandoverRejected, eventInput{})
	}

	ctx.logger.Warn("handover preparation failed",
		slog.Uint64("target_cell", uint64(msg.TargetCellID)),
		slog.String("cause", msg.Cause.String()),
	)
	c.metrics.IncHandover(c.cfg.CellID, RoleSource, OutcomeRejected)
	ctx.handover = nil
	return ctx.apply(EventHandoverRejected, eventInput{})
}

// RecvUeContextRelease destroys a context whose terminal now belongs to the
// target cell.
func (c *Controller) RecvUeContextRelease(msg UeContextRelease) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.sourceContext(msg.OldEnbUeX2apID, msg.TargetCellID)
	if err != nil {
		return err
	}
	if Accepts(ctx.state, EventPeerContextRelease) {
		c.metrics.IncHandover(c.cfg.CellID, RoleSource, OutcomeCompleted)
	}
	return ctx.apply(EventPeerContextRelease, eventInput{})
}

// sourceContext resolves the context named by an Old eNB UE X2AP ID and
// checks that it is handing over to targetCell.
func (c *Controller) sourceContext(oldX2apID uint16, targetCell uint16) (*TerminalContext, error) {
	ctx, err := c.lookup(oldX2apID)
	if err != nil {
		return nil, err
	}
	if ctx.handover == nil || ctx.handover.Role != RoleSource || ctx.handover.TargetCellID != targetCell {
		return nil, c.invalidTransition(ctx, EventHandoverAdmitted,
			fmt.Errorf("%w: no handover towards cell %d", ErrInvalidTransition, targetCell))
	}
	return ctx, nil
}

// targetContext finds the context admitted for the terminal that sourceCell
// knows as oldX2apID.
func (c *Controller) targetContext(newX2apID, sourceCell, oldX2apID uint16) (*TerminalContext, error) {
	ctx, err := c.lookup(newX2apID)
	if err != nil {
		return nil, err
	}
	ho := ctx.handover
	if ho == nil || ho.Role != RoleTarget || ho.SourceCellID != sourceCell || ho.SourceX2apID != oldX2apID {
		return nil, c.invalidTransition(ctx, EventHandoverAdmitted,
			fmt.Errorf("%w: no handover from cell %d rnti %d", ErrInvalidTransition, sourceCell, oldX2apID))
	}
	return ctx, nil
}

// -------------------------------------------------------------------------
// Transition actions
// -------------------------------------------------------------------------

func (c *TerminalContext) sendHandoverRequest() error {
	ctrl := c.ctrl
	ho := c.handover

	peer, err := ctrl.peer(ho.TargetCellID)
	if err != nil {
		return c.abortHandover(err)
	}

	bearers := make([]ErabToBeSetup, 0, len(c.bearers))
	for _, b := range c.sortedBearers() {
		bearers = append(bearers, ErabToBeSetup{
			ErabID:          b.ErabID,
			Qos:             b.Qos,
			DlForwarding:    true,
			UlGtpTeid:       b.GtpTeid,
			UlTransportAddr: b.TransportAddr,
		})
	}
	ho.Bearers = bearers

	req := HandoverRequest{
		OldEnbUeX2apID: c.rnti,
		Cause:          CauseHandoverDesirableForRadioReasons,
		SourceCellID:   ctrl.cfg.CellID,
		TargetCellID:   ho.TargetCellID,
		Imsi:           c.imsi,
		Bearers:        bearers,
		Preparation: HandoverPreparationInfo{
			SourceRnti:       c.rnti,
			TransmissionMode: c.transmissionMode,
			Meas:             ctrl.cfg.Meas,
			RadioResource:    c.fullRadioResource(),
		},
	}

	if err := peer.SendHandoverRequest(req); err != nil {
		return c.abortHandover(fmt.Errorf("send handover request: %w", err))
	}
	return nil
}

// abortHandover returns a context in HandoverPreparation to ConnectedNormally
// when the request could not be sent.
func (c *TerminalContext) abortHandover(cause error) error {
	c.logger.Error("handover aborted", slog.String("error", cause.Error()))
	c.ctrl.metrics.IncHandover(c.ctrl.cfg.CellID, RoleSource, OutcomeRejected)
	c.handover = nil
	return errors.Join(cause, c.apply(EventHandoverRejected, eventInput{}))
}

func (c *TerminalContext) sendHandoverCommand(ack *HandoverRequestAck) error {
	if ack == nil {
		return errors.New("handover command without acknowledgement")
	}

	c.handover.TargetRnti = ack.NewEnbUeX2apID
	for _, a := range ack.Admitted {
		if b := c.bearerByErab(a.ErabID); b != nil {
			b.PeerForwardingTeid = a.DlForwardingTeid
			b.PeerForwardingAddr = a.DlForwardingAddr
		}
	}

	c.ctrl.metrics.IncHandover(c.ctrl.cfg.CellID, RoleSource, OutcomeAdmitted)
	c.logger.Info("handover command sent",
		slog.String("handover_id", c.handover.ID.String()),
		slog.Uint64("target_rnti", uint64(ack.NewEnbUeX2apID)),
	)
	c.ctrl.transport.Send(c.rnti, ack.Command)
	return nil
}

func (c *TerminalContext) sendSnStatus() error {
	var status []ErabSnStatus
	for _, b := range c.sortedBearers() {
		if !b.Mode.Lossless() {
			continue
		}
		status = append(status, ErabSnStatus{ErabID: b.ErabID, UlCount: b.UlCount, DlCount: b.DlCount})
	}
	if len(status) == 0 {
		return nil
	}

	peer, err := c.ctrl.peer(c.handover.TargetCellID)
	if err != nil {
		return err
	}
	return peer.SendSnStatusTransfer(SnStatusTransfer{
		OldEnbUeX2apID: c.rnti,
		NewEnbUeX2apID: c.handover.TargetRnti,
		SourceCellID:   c.ctrl.cfg.CellID,
		TargetCellID:   c.handover.TargetCellID,
		Bearers:        status,
	})
}

func (c *TerminalContext) requestPathSwitch() error {
	ctrl := c.ctrl
	req := PathSwitchRequest{
		CellID:  ctrl.cfg.CellID,
		Rnti:    c.rnti,
		Imsi:    c.imsi,
		EnbAddr: ctrl.cfg.UserPlaneAddr,
	}
	if c.handover != nil {
		req.SourceCell = c.handover.SourceCellID
	}
	for _, b := range c.sortedBearers() {
		req.Bearers = append(req.Bearers, PathSwitchBearer{
			ErabID:          b.ErabID,
			UlGtpTeid:       b.GtpTeid,
			UlTransportAddr: b.TransportAddr,
			DlGtpTeid:       b.DownlinkTeid(),
		})
	}
	return ctrl.core.RequestPathSwitch(req)
}

func (c *TerminalContext) sendUeContextRelease() error {
	ho := c.handover
	if ho == nil {
		return errors.New("path switch acknowledged without handover attempt")
	}
	c.handover = nil

	c.ctrl.metrics.IncHandover(c.ctrl.cfg.CellID, RoleTarget, OutcomeCompleted)
	c.logger.Info("handover completed",
		slog.String("handover_id", ho.ID.String()),
		slog.Uint64("source_cell", uint64(ho.SourceCellID)),
	)

	peer, err := c.ctrl.peer(ho.SourceCellID)
	if err != nil {
		return err
	}
	return peer.SendUeContextRelease(UeContextRelease{
		OldEnbUeX2apID: ho.SourceX2apID,
		NewEnbUeX2apID: c.rnti,
		SourceCellID:   ho.SourceCellID,
		TargetCellID:   c.ctrl.cfg.CellID,
	})
}

// removeForwarding drops the X2-U tunnels once data arrives directly from
// the core network.
func (c *TerminalContext) removeForwarding() {
	for _, b := range c.bearers {
		if b.ForwardingTeid == 0 {
			continue
		}
		delete(c.ctrl.tunnels, b.ForwardingTeid)
		c.ctrl.teids.Release(b.ForwardingTeid)
		b.ForwardingTeid = 0
	}
}

// forwardUeData sends downlink data of a leaving terminal to the target.
func (c *Controller) forwardUeData(ctx *TerminalContext, b *DataBearer, payload []byte) error {
	peer, err := c.peer(ctx.handover.TargetCellID)
	if err != nil {
		return err
	}
	return peer.SendUeData(UeData{
		SourceCellID: c.cfg.CellID,
		TargetCellID: ctx.handover.TargetCellID,
		GtpTeid:      b.PeerForwardingTeid,
		Payload:      payload,
	})
}

func (c *Controller) peer(cellID uint16) (X2Sap, error) {
	if c.peers == nil {
		return nil, fmt.Errorf("cell %d: %w", cellID, ErrUnknownPeer)
	}
	p, ok := c.peers.Lookup(cellID)
	if !ok {
		return nil, fmt.Errorf("cell %d: %w", cellID, ErrUnknownPeer)
	}
	return p, nil
}
