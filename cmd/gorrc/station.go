package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gorrc/internal/config"
	"github.com/dantte-lp/gorrc/internal/corenet"
	"github.com/dantte-lp/gorrc/internal/eventloop"
	"github.com/dantte-lp/gorrc/internal/handover"
	rrcmetrics "github.com/dantte-lp/gorrc/internal/metrics"
	"github.com/dantte-lp/gorrc/internal/netio"
	"github.com/dantte-lp/gorrc/internal/rrc"
	"github.com/dantte-lp/gorrc/internal/server"
	"github.com/dantte-lp/gorrc/internal/sim"
	"github.com/dantte-lp/gorrc/internal/transport"
	"github.com/dantte-lp/gorrc/internal/x2"
)

// cell is one hosted cell: its Controller and the emulated layers below it.
type cell struct {
	ctrl *rrc.Controller
	link transport.Transport

	// Set in udp mode only.
	node      *netio.Node
	listeners []*netio.Listener
}

// station is the base station process: every hosted cell plus the shared
// event loop, X2 fabric, core network and terminal emulator.
type station struct {
	loop    *eventloop.Loop
	core    *corenet.Loopback
	pfcp    *corenet.PFCPClient
	hub     *x2.Hub
	network *sim.Network
	cells   []*cell

	logger *slog.Logger
}

// newStation builds the cells described by cfg. Sockets opened in udp
// mode are bound to ctx.
func newStation(ctx context.Context, cfg *config.Config, collector *rrcmetrics.Collector, logger *slog.Logger) (*station, error) {
	st := &station{
		loop:    eventloop.New(logger),
		network: sim.NewNetwork(logger),
		logger:  logger.With(slog.String("component", "station")),
	}

	var coreOpts []corenet.LoopbackOption
	if cfg.Core.Mode == config.CoreModePFCP {
		pfcp, err := corenet.NewPFCPClient(corenet.PFCPClientConfig{
			UPFAddr: cfg.Core.PFCP.UPFAddr,
			NodeID:  cfg.Core.PFCP.NodeID,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create core network: %w", err)
		}
		st.pfcp = pfcp
		coreOpts = append(coreOpts,
			corenet.WithPathSwitcher(pfcp),
			corenet.WithSwitchTimeout(cfg.Core.PFCP.Timeout),
		)
	}
	st.core = corenet.NewLoopback(st.loop, logger, coreOpts...)

	if cfg.X2.Mode == config.X2ModeLocal {
		var hubOpts []x2.HubOption
		hubOpts = append(hubOpts, x2.WithMetrics(collector))
		if cfg.RRC.Transport == transport.StrategyReal {
			hubOpts = append(hubOpts, x2.WithSerialization())
		}
		st.hub = x2.NewHub(st.loop, logger, hubOpts...)
	}

	decider := newHandoverDecider(cfg.Handover, logger)

	for _, cc := range cfg.Cells {
		c, err := st.addCell(ctx, cfg, cc, collector, decider)
		if err != nil {
			st.close()
			return nil, err
		}
		st.cells = append(st.cells, c)
	}

	if cfg.X2.Mode == config.X2ModeUDP {
		if err := st.connectPeers(cfg); err != nil {
			st.close()
			return nil, err
		}
	}

	return st, nil
}

// addCell wires one Controller to its MAC, PHY, user plane, transport,
// core network and X2 peers.
func (st *station) addCell(
	ctx context.Context,
	cfg *config.Config,
	cc config.CellConfig,
	collector *rrcmetrics.Collector,
	decider rrc.HandoverDecider,
) (*cell, error) {
	link, err := transport.New(cfg.RRC.Transport, cc.ID, st.loop, st.logger)
	if err != nil {
		return nil, fmt.Errorf("cell %d: %w", cc.ID, err)
	}

	rrcCfg, err := controllerConfig(cfg, cc)
	if err != nil {
		return nil, err
	}

	c := &cell{link: link}

	var peers rrc.PeerDirectory
	switch cfg.X2.Mode {
	case config.X2ModeUDP:
		if err := c.listen(ctx, cc, cfg.X2.DSCP, collector, st.loop, st.logger); err != nil {
			return nil, err
		}
		peers = c.node
	default:
		peers = st.hub.Directory(cc.ID)
	}

	opts := []rrc.ControllerOption{
		rrc.WithMetrics(collector),
		rrc.WithAdmissionPolicy(rrc.CapacityPolicy{MaxContexts: cfg.RRC.Admission.MaxContexts}),
	}
	if len(cc.Neighbours) > 0 {
		table := rrc.NewNeighbourTable()
		table.Add(cc.ID, cc.Neighbours...)
		opts = append(opts, rrc.WithNeighbourRelation(table))
	}
	if decider != nil {
		opts = append(opts, rrc.WithHandoverDecider(decider))
	}

	ctrl, err := rrc.NewController(rrcCfg, rrc.Collaborators{
		Mac:       sim.NewMac(cc.ID, st.logger),
		Phy:       sim.NewPhy(),
		Transport: link,
		Core:      st.core,
		Peers:     peers,
		UserPlane: sim.NewUserPlane(),
	}, st.logger, opts...)
	if err != nil {
		c.closeListeners(st.logger)
		return nil, fmt.Errorf("create controller: %w", err)
	}
	c.ctrl = ctrl

	link.Bind(ctrl, st.network)
	st.core.Register(cc.ID, ctrl)
	st.network.AddCell(cc.ID, ctrl, link)
	if st.hub != nil {
		st.hub.Register(cc.ID, ctrl)
	}
	if c.node != nil {
		c.node.Bind(ctrl)
	}

	st.logger.Info("cell configured",
		slog.Uint64("cell_id", uint64(cc.ID)),
		slog.String("transport", cfg.RRC.Transport),
		slog.String("user_plane_addr", rrcCfg.UserPlaneAddr.String()),
		slog.Int("neighbours", len(cc.Neighbours)),
	)

	return c, nil
}

// listen opens the X2 control and user plane sockets of a cell.
func (c *cell) listen(
	ctx context.Context,
	cc config.CellConfig,
	dscp uint8,
	collector *rrcmetrics.Collector,
	loop *eventloop.Loop,
	logger *slog.Logger,
) error {
	x2Addr, err := cc.X2AddrPort()
	if err != nil {
		return fmt.Errorf("cell %d x2_addr: %w", cc.ID, err)
	}
	gtpuAddr, err := cc.GTPUAddrPort()
	if err != nil {
		return fmt.Errorf("cell %d gtpu_addr: %w", cc.ID, err)
	}

	control, err := netio.NewListener(ctx, netio.ListenerConfig{
		Addr: x2Addr, Plane: netio.PlaneControl, DSCP: dscp,
	})
	if err != nil {
		return fmt.Errorf("cell %d: %w", cc.ID, err)
	}
	user, err := netio.NewListener(ctx, netio.ListenerConfig{
		Addr: gtpuAddr, Plane: netio.PlaneUser, DSCP: dscp,
	})
	if err != nil {
		_ = control.Close()
		return fmt.Errorf("cell %d: %w", cc.ID, err)
	}

	c.listeners = []*netio.Listener{control, user}
	c.node = netio.NewNode(cc.ID, control.Conn(), user.Conn(), loop, logger, netio.WithMetrics(collector))

	logger.Info("x2 listeners started",
		slog.Uint64("cell_id", uint64(cc.ID)),
		slog.String("control", x2Addr.String()),
		slog.String("user", gtpuAddr.String()),
		slog.Uint64("dscp", uint64(dscp)),
	)
	return nil
}

// connectPeers makes every local cell reachable from every other local
// cell and adds the remote peers of the configuration.
func (st *station) connectPeers(cfg *config.Config) error {
	peers := make([]netio.Peer, 0, len(cfg.Cells)+len(cfg.Peers))

	for _, cc := range cfg.Cells {
		control, err := cc.X2AddrPort()
		if err != nil {
			return fmt.Errorf("cell %d x2_addr: %w", cc.ID, err)
		}
		user, err := cc.GTPUAddrPort()
		if err != nil {
			return fmt.Errorf("cell %d gtpu_addr: %w", cc.ID, err)
		}
		peers = append(peers, netio.Peer{CellID: cc.ID, Control: control, User: user})
	}

	for _, pc := range cfg.Peers {
		control, err := pc.X2AddrPort()
		if err != nil {
			return fmt.Errorf("peer %d x2_addr: %w", pc.ID, err)
		}
		user, err := pc.GTPUAddrPort()
		if err != nil {
			return fmt.Errorf("peer %d gtpu_addr: %w", pc.ID, err)
		}
		peers = append(peers, netio.Peer{CellID: pc.ID, Control: control, User: user})
	}

	for _, c := range st.cells {
		for _, p := range peers {
			if p.CellID != c.ctrl.CellID() {
				c.node.AddPeer(p)
			}
		}
	}
	return nil
}

// controllerConfig derives the Controller configuration of one cell.
func controllerConfig(cfg *config.Config, cc config.CellConfig) (rrc.Config, error) {
	policy, err := rrc.ParseBearerPolicy(cfg.RRC.BearerPolicy)
	if err != nil {
		return rrc.Config{}, fmt.Errorf("cell %d: %w", cc.ID, err)
	}

	upAddr, err := cc.TunnelAddr()
	if err != nil {
		return rrc.Config{}, fmt.Errorf("cell %d: %w", cc.ID, err)
	}

	return rrc.Config{
		CellID:                  cc.ID,
		SrsPeriodicity:          cfg.RRC.SrsPeriodicity,
		DefaultTransmissionMode: cfg.RRC.DefaultTransmissionMode,
		BearerPolicy:            policy,
		Timeouts:                cfg.RRC.Timers.Timeouts(),
		Meas: rrc.MeasConfig{
			MeasID:        1,
			A3OffsetDB:    cfg.Handover.A3OffsetDB,
			HysteresisDB:  cfg.Handover.HysteresisDB,
			TimeToTrigger: cfg.Handover.TimeToTrigger,
		},
		UserPlaneAddr:  upAddr,
		RejectWaitTime: cfg.RRC.RejectWaitTime,
	}, nil
}

// newHandoverDecider returns the measurement-driven decider, or nil when
// handover is left to the admin API.
func newHandoverDecider(cfg config.HandoverConfig, logger *slog.Logger) rrc.HandoverDecider {
	if !cfg.Enabled {
		return nil
	}

	var opts []handover.A3Option
	if cfg.Dampening.Enabled {
		opts = append(opts, handover.WithDampener(handover.NewDampener(handover.DampeningConfig{
			Enabled:           true,
			SuppressThreshold: cfg.Dampening.SuppressThreshold,
			ReuseThreshold:    cfg.Dampening.ReuseThreshold,
			MaxSuppressTime:   cfg.Dampening.MaxSuppressTime,
			HalfLife:          cfg.Dampening.HalfLife,
		}, logger)))
	}

	return handover.NewA3Decider(handover.A3Config{
		OffsetDB:      cfg.A3OffsetDB,
		HysteresisDB:  cfg.HysteresisDB,
		TimeToTrigger: cfg.TimeToTrigger,
	}, logger, opts...)
}

// -------------------------------------------------------------------------
// Runtime
// -------------------------------------------------------------------------

// start registers the X2 receivers of every cell on g.
func (st *station) start(ctx context.Context, g *errgroup.Group) {
	for _, c := range st.cells {
		if c.node == nil {
			continue
		}
		recv := netio.NewReceiver(c.node, st.logger)
		listeners := c.listeners
		g.Go(func() error {
			return recv.Run(ctx, listeners...)
		})
	}
}

// runScenario plays a terminal scenario. A failing step is logged and
// does not stop the daemon.
func (st *station) runScenario(ctx context.Context, sc *sim.Scenario, gw netip.Addr) error {
	runner := sim.NewRunner(st.network, st.logger, sim.WithGateway(gw))
	if err := runner.Run(ctx, sc); err != nil && ctx.Err() == nil {
		st.logger.Error("scenario aborted", slog.String("error", err.Error()))
	}
	return nil
}

// adminCells returns the Controllers in the shape the admin API expects.
func (st *station) adminCells() []server.Cell {
	cells := make([]server.Cell, 0, len(st.cells))
	for _, c := range st.cells {
		cells = append(cells, c.ctrl)
	}
	return cells
}

// stateChanges returns the notification channel of every Controller.
func (st *station) stateChanges() []<-chan rrc.StateChange {
	chans := make([]<-chan rrc.StateChange, 0, len(st.cells))
	for _, c := range st.cells {
		chans = append(chans, c.ctrl.StateChanges())
	}
	return chans
}

// cellIDs returns the hosted cell identities in ascending order.
func (st *station) cellIDs() []uint16 {
	ids := make([]uint16, 0, len(st.cells))
	for _, c := range st.cells {
		ids = append(ids, c.ctrl.CellID())
	}
	slices.Sort(ids)
	return ids
}

// releaseAll releases every context that can still be released, so that
// terminals see an orderly RRCConnectionRelease rather than silence. It
// returns the number of releases issued.
func (st *station) releaseAll() int {
	n := 0
	for _, c := range st.cells {
		for _, snap := range c.ctrl.Snapshots() {
			if err := c.ctrl.ReleaseConnection(snap.Rnti); err != nil {
				st.logger.Debug("release on shutdown",
					slog.Uint64("cell_id", uint64(snap.CellID)),
					slog.Uint64("rnti", uint64(snap.Rnti)),
					slog.String("error", err.Error()),
				)
				continue
			}
			n++
		}
	}
	return n
}

// close stops every timer and releases sockets and the core association.
func (st *station) close() {
	for _, c := range st.cells {
		c.ctrl.Close()
		c.closeListeners(st.logger)
	}
	st.core.Close()
	if st.pfcp != nil {
		if err := st.pfcp.Close(); err != nil {
			st.logger.Warn("failed to close pfcp client", slog.String("error", err.Error()))
		}
	}
}

// closeListeners closes sockets that the receiver has not closed yet.
func (c *cell) closeListeners(logger *slog.Logger) {
	for _, ln := range c.listeners {
		if err := ln.Close(); err != nil {
			logger.Debug("close x2 listener", slog.String("error", err.Error()))
		}
	}
}

// gateway returns the uplink tunnel endpoint announced by scenario bearers:
// the first hosted cell's tunnel address.
func gateway(cfg *config.Config) netip.Addr {
	for _, cc := range cfg.Cells {
		if addr, err := cc.TunnelAddr(); err == nil {
			return addr
		}
	}
	return netip.IPv4Unspecified()
}
