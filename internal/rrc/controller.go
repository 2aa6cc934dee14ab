package rrc

import (
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
)

// notifyChSize is the buffer size of the StateChanges channel. Consumers
// that fall further behind lose notifications.
const notifyChSize = 256

// Config is the cell-wide RRC configuration.
type Config struct {
	// CellID identifies the cell; it doubles as the physical cell id.
	CellID uint16

	// SrsPeriodicity is the SRS periodicity in subframes.
	SrsPeriodicity uint16

	// DefaultTransmissionMode is applied to every new context (0 = TM1).
	DefaultTransmissionMode uint8

	// BearerPolicy selects the RLC mode of data bearers.
	BearerPolicy BearerPolicy

	// Timeouts are the guard timer durations.
	Timeouts Timeouts

	// Meas is the measurement configuration sent after attach.
	Meas MeasConfig

	// RntiSpace limits connection identifiers to [1, RntiSpace].
	// Zero selects the full 16-bit space.
	RntiSpace uint16

	// TeidSpace limits forwarding tunnel identifiers. Zero selects
	// DefaultTeidSpace.
	TeidSpace uint32

	// UserPlaneAddr is the address advertised for S1-U and X2-U tunnels.
	UserPlaneAddr netip.Addr

	// RejectWaitTime is the wait time in RRCConnectionReject, in seconds.
	RejectWaitTime uint8
}

// Collaborators bundles the interfaces a Controller consumes. Mac, Phy,
// Transport and Core are required.
type Collaborators struct {
	Mac       MacSap
	Phy       PhySap
	Transport RrcTransport
	Core      CoreNetworkSap

	// Peers resolves neighbour cells. Nil disables X2 handover.
	Peers PeerDirectory

	// UserPlane receives downlink data. Nil drops it.
	UserPlane UserPlaneSap
}

// AdmissionHint carries what is known about a terminal when its context is
// created.
type AdmissionHint struct {
	Imsi         uint64
	SourceCellID uint16
	SourceX2apID uint16
}

// tunnelEntry routes X2-U data to a context and bearer.
type tunnelEntry struct {
	rnti  uint16
	drbID uint8
}

// Controller is the RRC entity of one cell. It owns every TerminalContext
// of the cell keyed by RNTI.
//
// All exported methods are serialized by an internal mutex: each call (and
// each timer expiry) runs to completion before the next one starts.
type Controller struct {
	mu sync.Mutex

	cfg Config

	mac       MacSap
	phy       PhySap
	transport RrcTransport
	core      CoreNetworkSap
	peers     PeerDirectory
	userPlane UserPlaneSap

	admission  AdmissionPolicy
	neighbours NeighbourRelation
	decider    HandoverDecider
	metrics    MetricsReporter
	clock      Clock

	rntis  *RntiAllocator
	srs    *SrsAllocator
	teids  *TeidAllocator
	timers *timerArena

	contexts map[uint16]*TerminalContext
	tunnels  map[uint32]tunnelEntry

	notifyCh chan StateChange

	logger *slog.Logger
}

// ControllerOption configures optional Controller parameters.
type ControllerOption func(*Controller)

// WithMetrics sets the MetricsReporter. If mr is nil, a no-op reporter is used.
func WithMetrics(mr MetricsReporter) ControllerOption {
	return func(c *Controller) {
		if mr != nil {
			c.metrics = mr
		}
	}
}

// WithAdmissionPolicy sets the admission policy consulted for connection
// requests and incoming handovers. The default admits everything.
func WithAdmissionPolicy(p AdmissionPolicy) ControllerOption {
	return func(c *Controller) {
		if p != nil {
			c.admission = p
		}
	}
}

// WithNeighbourRelation sets the neighbour relation checked by
// TriggerHandover. The default allows any cell other than the serving one.
func WithNeighbourRelation(n NeighbourRelation) ControllerOption {
	return func(c *Controller) {
		if n != nil {
			c.neighbours = n
		}
	}
}

// WithHandoverDecider enables measurement-driven handover.
func WithHandoverDecider(d HandoverDecider) ControllerOption {
	return func(c *Controller) {
		c.decider = d
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(clk Clock) ControllerOption {
	return func(c *Controller) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// NewController creates the RRC entity of one cell.
//
// It fails only on configuration errors: a zero cell id, an unsupported SRS
// periodicity, or a missing required collaborator.
func NewController(cfg Config, collab Collaborators, logger *slog.Logger, opts ...ControllerOption) (*Controller, error) {
	if cfg.CellID == 0 {
		return nil, ErrInvalidCellID
	}
	if collab.Mac == nil || collab.Phy == nil || collab.Transport == nil || collab.Core == nil {
		return nil, fmt.Errorf("cell %d: %w", cfg.CellID, ErrMissingCollaborator)
	}

	srs, err := NewSrsAllocator(cfg.SrsPeriodicity)
	if err != nil {
		return nil, fmt.Errorf("cell %d: %w", cfg.CellID, err)
	}

	space := cfg.RntiSpace
	if space == 0 {
		space = MaxRnti
	}
	rntis, err := NewRntiAllocator(space)
	if err != nil {
		return nil, fmt.Errorf("cell %d: %w", cfg.CellID, err)
	}

	c := &Controller{
		cfg:        cfg,
		mac:        collab.Mac,
		phy:        collab.Phy,
		transport:  collab.Transport,
		core:       collab.Core,
		peers:      collab.Peers,
		userPlane:  collab.UserPlane,
		admission:  AlwaysAdmit{},
		neighbours: AnyNeighbour{},
		metrics:    noopMetrics{},
		clock:      SystemClock(),
		rntis:      rntis,
		srs:        srs,
		teids:      NewTeidAllocator(cfg.TeidSpace),
		contexts:   make(map[uint16]*TerminalContext),
		tunnels:    make(map[uint32]tunnelEntry),
		notifyCh:   make(chan StateChange, notifyChSize),
		logger: logger.With(
			slog.String("component", "rrc.controller"),
			slog.Uint64("cell_id", uint64(cfg.CellID)),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.timers = newTimerArena(c.clock)

	return c, nil
}

// CellID returns the identity of the cell.
func (c *Controller) CellID() uint16 {
	return c.cfg.CellID
}

// StateChanges returns the channel on which context lifecycle notifications
// are published. The channel is never closed.
func (c *Controller) StateChanges() <-chan StateChange {
	return c.notifyCh
}

// Close cancels every outstanding timer. Contexts are left in place so that
// a final snapshot can still be taken.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ctx := range c.contexts {
		ctx.cancelTimer()
	}
}

// -------------------------------------------------------------------------
// Context lifecycle
// -------------------------------------------------------------------------

// AllocateTemporaryID is the MAC-facing random access entry point: it
// creates a context in InitialAccess and returns its RNTI.
func (c *Controller) AllocateTemporaryID() (uint16, error) {
	return c.AllocateContext(StateInitialAccess, AdmissionHint{})
}

// AllocateContext reserves an RNTI, creates a TerminalContext in initial
// (InitialAccess or HandoverJoining) and establishes its signalling bearers
// before returning.
func (c *Controller) AllocateContext(initial State, hint AdmissionHint) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.allocateContext(initial, hint)
	if err != nil {
		return 0, err
	}
	return ctx.rnti, nil
}

func (c *Controller) allocateContext(initial State, hint AdmissionHint) (*TerminalContext, error) {
	if !validInitialState(initial) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInitialState, initial)
	}

	rnti, err := c.rntis.Allocate()
	if err != nil {
		c.metrics.IncExhaustion(c.cfg.CellID, PoolRnti)
		c.logger.Warn("rnti allocation failed", slog.String("error", err.Error()))
		return nil, err
	}

	offset, err := c.srs.Allocate()
	if err != nil {
		c.rntis.Release(rnti)
		c.metrics.IncExhaustion(c.cfg.CellID, PoolSrs)
		c.logger.Warn("srs allocation failed", slog.String("error", err.Error()))
		return nil, err
	}

	if err := c.mac.AddUe(rnti); err != nil {
		c.srs.Release(offset)
		c.rntis.Release(rnti)
		return nil, fmt.Errorf("mac add rnti %d: %w", rnti, err)
	}

	now := c.clock.Now()
	ctx := &TerminalContext{
		ctrl:             c,
		rnti:             rnti,
		imsi:             hint.Imsi,
		state:            initial,
		srbs:             defaultSignallingBearers(),
		bearers:          make(map[uint8]*DataBearer),
		drbs:             NewDrbAllocator(),
		srsOffset:        offset,
		transmissionMode: c.cfg.DefaultTransmissionMode,
		createdAt:        now,
		lastStateChange:  now,
		logger: c.logger.With(
			slog.Uint64("rnti", uint64(rnti)),
		),
	}

	for _, srb := range ctx.srbs {
		c.mac.ConfigureLogicalChannel(rnti, LogicalChannelConfig{
			LogicalChannelID: srb.LogicalChannelID,
		})
	}
	c.phy.SetTransmissionMode(rnti, ctx.transmissionMode)
	c.phy.SetSrsConfigurationIndex(rnti, c.srs.ConfigIndex(offset))

	c.contexts[rnti] = ctx
	ctx.armStateTimer()

	c.metrics.RegisterContext(c.cfg.CellID)
	c.logger.Info("context created",
		slog.Uint64("rnti", uint64(rnti)),
		slog.String("state", initial.String()),
		slog.Uint64("srs_offset", uint64(offset)),
	)
	c.publish(StateChange{
		Kind:      ContextAdded,
		CellID:    c.cfg.CellID,
		Rnti:      rnti,
		Imsi:      hint.Imsi,
		OldState:  initial,
		NewState:  initial,
		Timestamp: now,
	})

	return ctx, nil
}

// ReleaseContext tears down every bearer of the context, frees its SRS
// index, tells the MAC, PHY and core network to forget it, and destroys it.
// Releasing an unknown RNTI returns ErrUnknownContext.
func (c *Controller) ReleaseContext(rnti uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.lookup(rnti)
	if err != nil {
		return err
	}
	c.destroy(ctx, "explicit release", true)
	return nil
}

// ReleaseConnection sends RRCConnectionRelease to the terminal and then
// releases its context.
func (c *Controller) ReleaseConnection(rnti uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.lookup(rnti)
	if err != nil {
		return err
	}
	c.transport.Send(rnti, ConnectionRelease{TransactionID: ctx.nextTransaction()})
	c.destroy(ctx, "connection release", true)
	return nil
}

// destroy removes ctx and every resource it holds.
func (c *Controller) destroy(ctx *TerminalContext, reason string, notifyCore bool) {
	ctx.cancelTimer()

	for _, b := range ctx.sortedBearers() {
		ctx.removeDataBearer(b.DrbID)
	}
	c.srs.Release(ctx.srsOffset)
	c.mac.RemoveUe(ctx.rnti)
	c.phy.RemoveUe(ctx.rnti)
	if notifyCore {
		c.core.NotifyContextReleased(c.cfg.CellID, ctx.rnti)
	}

	delete(c.contexts, ctx.rnti)
	c.rntis.Release(ctx.rnti)

	c.metrics.UnregisterContext(c.cfg.CellID)
	ctx.logger.Info("context destroyed",
		slog.String("state", ctx.state.String()),
		slog.String("reason", reason),
	)
	c.publish(StateChange{
		Kind:      ContextRemoved,
		CellID:    c.cfg.CellID,
		Rnti:      ctx.rnti,
		Imsi:      ctx.imsi,
		OldState:  ctx.state,
		NewState:  ctx.state,
		Reason:    reason,
		Timestamp: c.clock.Now(),
	})
}

// -------------------------------------------------------------------------
// Inbound RRC
// -------------------------------------------------------------------------

// Dispatch routes an uplink RRC message to the addressed context.
func (c *Controller) Dispatch(rnti uint16, msg UplinkMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.lookup(rnti)
	if err != nil {
		return err
	}

	ctx.logger.Debug("rrc message received", slog.String("message", msg.Kind().String()))

	switch m := msg.(type) {
	case ConnectionRequest:
		return c.recvConnectionRequest(ctx, m)
	case ConnectionSetupCompleted:
		return c.recvCompletion(ctx, EventSetupComplete, m.TransactionID)
	case ConnectionReconfigurationCompleted:
		return c.recvCompletion(ctx, EventReconfigurationComplete, m.TransactionID)
	case ConnectionReestablishmentRequest:
		return c.recvReestablishmentRequest(ctx, m)
	case ConnectionReestablishmentComplete:
		return c.recvCompletion(ctx, EventReestablishmentComplete, m.TransactionID)
	case MeasurementReport:
		return c.recvMeasurementReport(ctx, m)
	default:
		return fmt.Errorf("rnti %d: %w: %T", rnti, ErrUnknownMessage, msg)
	}
}

func (c *Controller) recvConnectionRequest(ctx *TerminalContext, m ConnectionRequest) error {
	if !Accepts(ctx.state, EventConnectionAccepted) {
		return ctx.apply(EventConnectionAccepted, eventInput{})
	}

	ctx.imsi = m.UeIdentity
	ctx.logger = ctx.logger.With(slog.Uint64("imsi", ctx.imsi))

	err := c.admission.Admit(AdmissionRequest{
		CellID:         c.cfg.CellID,
		Imsi:           ctx.imsi,
		ActiveContexts: len(c.contexts) - 1,
	})
	if err != nil {
		c.metrics.IncAdmissionReject(c.cfg.CellID, "connection")
		ctx.logger.Warn("connection request rejected", slog.String("error", err.Error()))
		return ctx.apply(EventConnectionRefused, eventInput{})
	}

	return ctx.apply(EventConnectionAccepted, eventInput{})
}

// recvCompletion applies a procedure-completion event after checking that
// the terminal echoed the outstanding transaction identifier.
func (c *Controller) recvCompletion(ctx *TerminalContext, event Event, txID uint8) error {
	if !Accepts(ctx.state, event) {
		return ctx.apply(event, eventInput{})
	}
	if txID != ctx.outstandingTx {
		return c.invalidTransition(ctx, event, fmt.Errorf("%w: got %d, want %d",
			ErrTransactionMismatch, txID, ctx.outstandingTx))
	}
	if event == EventReconfigurationComplete {
		ctx.confirmReconfiguration()
	}
	return ctx.apply(event, eventInput{})
}

func (c *Controller) recvReestablishmentRequest(ctx *TerminalContext, m ConnectionReestablishmentRequest) error {
	if !Accepts(ctx.state, EventReestablishmentRequest) {
		return ctx.apply(EventReestablishmentRequest, eventInput{})
	}

	if m.UeIdentity.CRnti != ctx.rnti || m.UeIdentity.PhysCellID != c.cfg.CellID {
		ctx.logger.Warn("reestablishment identity mismatch",
			slog.Uint64("c_rnti", uint64(m.UeIdentity.CRnti)),
			slog.Uint64("phys_cell_id", uint64(m.UeIdentity.PhysCellID)),
		)
		c.metrics.IncAdmissionReject(c.cfg.CellID, "reestablishment")
		c.transport.Send(ctx.rnti, ConnectionReestablishmentReject{})
		c.destroy(ctx, "reestablishment rejected", true)
		return nil
	}

	if ctx.state == StateConnectionReconfiguration {
		ctx.reopenReconfiguration()
	}
	return ctx.apply(EventReestablishmentRequest, eventInput{})
}

func (c *Controller) recvMeasurementReport(ctx *TerminalContext, m MeasurementReport) error {
	if c.decider == nil || ctx.state != StateConnectedNormally {
		ctx.logger.Debug("measurement report not evaluated", slog.String("state", ctx.state.String()))
		return nil
	}

	target, ok := c.decider.Evaluate(c.cfg.CellID, ctx.imsi, m)
	if !ok {
		return nil
	}
	ctx.logger.Info("handover decided from measurement report", slog.Uint64("target_cell", uint64(target)))
	return c.triggerHandover(ctx, target)
}

// -------------------------------------------------------------------------
// Bearers
// -------------------------------------------------------------------------

// RequestBearerSetup adds a data bearer for the external bearer and
// triggers a reconfiguration. It returns the allocated DRB identity.
// On failure the bearer set is unchanged.
func (c *Controller) RequestBearerSetup(rnti uint16, qos Qos, externalBearerID uint32, tunnelID uint32, endpoint netip.Addr) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.lookup(rnti)
	if err != nil {
		return 0, err
	}
	if err := c.checkReconfigurable(ctx); err != nil {
		return 0, err
	}

	b, err := ctx.setupDataBearer(qos, ErabID(externalBearerID), tunnelID, endpoint)
	if err != nil {
		return 0, err
	}
	return b.DrbID, ctx.scheduleReconfiguration()
}

// RequestBearerRelease removes a data bearer and triggers a reconfiguration
// that tells the terminal about the removal.
func (c *Controller) RequestBearerRelease(rnti uint16, drbID uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.lookup(rnti)
	if err != nil {
		return err
	}
	if _, ok := ctx.bearers[drbID]; !ok {
		return fmt.Errorf("rnti %d drb %d: %w", rnti, drbID, ErrUnknownBearer)
	}
	if err := c.checkReconfigurable(ctx); err != nil {
		return err
	}

	ctx.removeDataBearer(drbID)
	ctx.drbsToRelease = append(ctx.drbsToRelease, drbID)
	ctx.logger.Info("data bearer released", slog.Uint64("drb_id", uint64(drbID)))

	return ctx.scheduleReconfiguration()
}

// UpdateTransmissionMode records a new transmission mode. It is signalled
// in the next reconfiguration and applied to the PHY once the terminal
// confirms it.
func (c *Controller) UpdateTransmissionMode(rnti uint16, mode uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.lookup(rnti)
	if err != nil {
		return err
	}
	if err := c.checkReconfigurable(ctx); err != nil {
		return err
	}

	ctx.pendingTransmissionMode = mode
	ctx.needPhyMacConfig = true
	return ctx.scheduleReconfiguration()
}

func (c *Controller) checkReconfigurable(ctx *TerminalContext) error {
	if ctx.state == StateConnectedNormally || acceptsDeferredReconfiguration(ctx.state) {
		return nil
	}
	return c.invalidTransition(ctx, EventReconfigure,
		fmt.Errorf("%w: event %s in state %s", ErrInvalidTransition, EventReconfigure, ctx.state))
}

// RecvDownlinkData delivers downlink data from the core network. While the
// context is leaving, data is forwarded to the handover target instead.
func (c *Controller) RecvDownlinkData(rnti uint16, erabID uint8, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.lookup(rnti)
	if err != nil {
		return err
	}
	b := ctx.bearerByErab(erabID)
	if b == nil {
		return fmt.Errorf("rnti %d erab %d: %w", rnti, erabID, ErrUnknownBearer)
	}

	if ctx.state == StateHandoverLeaving && b.PeerForwardingTeid != 0 {
		return c.forwardUeData(ctx, b, payload)
	}
	if !b.Started {
		c.bufferForwarded(ctx, b, payload)
		return nil
	}
	c.deliverDownlink(ctx, b, payload)
	return nil
}

func (c *Controller) deliverDownlink(ctx *TerminalContext, b *DataBearer, payload []byte) {
	b.DlCount++
	if c.userPlane == nil {
		return
	}
	c.userPlane.DeliverDownlink(ctx.rnti, b.LogicalChannelID, payload)
}

func (c *Controller) bufferForwarded(ctx *TerminalContext, b *DataBearer, payload []byte) {
	if len(b.forwarded) >= maxBufferedForwardPackets {
		ctx.logger.Warn("forwarding buffer full, dropping oldest packet",
			slog.Uint64("drb_id", uint64(b.DrbID)))
		b.forwarded = b.forwarded[1:]
	}
	b.forwarded = append(b.forwarded, slices.Clone(payload))
}

// -------------------------------------------------------------------------
// Timers
// -------------------------------------------------------------------------

// onTimer is the clock callback of every guard timer.
func (c *Controller) onTimer(h TimerHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ft, ok := c.timers.take(h)
	if !ok {
		return
	}

	ctx, exists := c.contexts[ft.rnti]
	if !exists || ctx.timer != h || ctx.state != ft.state {
		c.logger.Debug("stale timer ignored",
			slog.Uint64("rnti", uint64(ft.rnti)),
			slog.String("timer", ft.kind.String()),
		)
		return
	}
	ctx.timer = TimerHandle{}

	ctx.logger.Warn("guard timer expired",
		slog.String("timer", ft.kind.String()),
		slog.String("state", ctx.state.String()),
	)
	c.metrics.IncTimeout(c.cfg.CellID, ft.kind)

	switch ft.kind {
	case TimerHandoverJoining, TimerPathSwitch:
		c.metrics.IncHandover(c.cfg.CellID, RoleTarget, OutcomeTimeout)
	case TimerHandoverLeaving:
		c.metrics.IncHandover(c.cfg.CellID, RoleSource, OutcomeTimeout)
	default:
	}

	c.destroy(ctx, ft.kind.String()+" timeout", true)
}

// -------------------------------------------------------------------------
// Queries
// -------------------------------------------------------------------------

// Snapshot returns a read-only view of one context.
func (c *Controller) Snapshot(rnti uint16) (ContextSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.lookup(rnti)
	if err != nil {
		return ContextSnapshot{}, err
	}
	return ctx.snapshot(), nil
}

// Snapshots returns views of every context ordered by RNTI.
func (c *Controller) Snapshots() []ContextSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ContextSnapshot, 0, len(c.contexts))
	for _, ctx := range c.contexts {
		out = append(out, ctx.snapshot())
	}
	slices.SortFunc(out, func(a, b ContextSnapshot) int { return int(a.Rnti) - int(b.Rnti) })
	return out
}

// ContextCount returns the number of live contexts.
func (c *Controller) ContextCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.contexts)
}

// OutstandingTimers returns the number of armed guard timers.
func (c *Controller) OutstandingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers.outstanding()
}

// -------------------------------------------------------------------------
// Internal helpers
// -------------------------------------------------------------------------

func (c *Controller) lookup(rnti uint16) (*TerminalContext, error) {
	ctx, ok := c.contexts[rnti]
	if !ok {
		return nil, fmt.Errorf("cell %d rnti %d: %w", c.cfg.CellID, rnti, ErrUnknownContext)
	}
	return ctx, nil
}

// invalidTransition reports a protocol violation loudly. The context keeps
// its state; other contexts are unaffected.
func (c *Controller) invalidTransition(ctx *TerminalContext, event Event, err error) error {
	ctx.logger.Error("invalid transition",
		slog.String("state", ctx.state.String()),
		slog.String("event", event.String()),
		slog.String("error", err.Error()),
	)
	c.metrics.IncInvalidTransition(c.cfg.CellID, ctx.state)
	return fmt.Errorf("cell %d rnti %d: %w", c.cfg.CellID, ctx.rnti, err)
}

// publish sends a notification without blocking.
func (c *Controller) publish(sc StateChange) {
	select {
	case c.notifyCh <- sc:
	default:
		c.logger.Warn("state change channel full, dropping notification",
			slog.Uint64("rnti", uint64(sc.Rnti)),
			slog.String("kind", sc.Kind.String()),
		)
	}
}

func (c *Controller) dataBearerCount() int {
	n := 0
	for _, ctx := range c.contexts {
		n += len(ctx.bearers)
	}
	return n
}
