//go:build integration

package integration_test

import (
	"context"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/gorrc/internal/corenet"
	"github.com/dantte-lp/gorrc/internal/eventloop"
	"github.com/dantte-lp/gorrc/internal/netio"
	"github.com/dantte-lp/gorrc/internal/rrc"
	"github.com/dantte-lp/gorrc/internal/sim"
	"github.com/dantte-lp/gorrc/internal/transport"
)

// waitTimeout bounds every asynchronous expectation.
const waitTimeout = 5 * time.Second

// station is a running set of cells sharing one event loop, core network
// and terminal emulator. Its loop runs on its own goroutine, as in the
// daemon.
type station struct {
	loop    *eventloop.Loop
	core    *corenet.Loopback
	network *sim.Network
	runner  *sim.Runner
	cells   map[uint16]*rrc.Controller
}

func newStation(t *testing.T) *station {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	loop := eventloop.New(logger)
	st := &station{
		loop:    loop,
		core:    corenet.NewLoopback(loop, logger),
		network: sim.NewNetwork(logger),
		cells:   make(map[uint16]*rrc.Controller),
	}
	st.runner = sim.NewRunner(st.network, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		st.core.Close()
		for _, c := range st.cells {
			c.Close()
		}
	})

	return st
}

// addCell creates a cell reaching its neighbours through peers.
func (st *station) addCell(t *testing.T, id uint16, peers rrc.PeerDirectory) *rrc.Controller {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	link, err := transport.New(transport.StrategyReal, id, st.loop, logger)
	if err != nil {
		t.Fatalf("transport for cell %d: %v", id, err)
	}

	ctrl, err := rrc.NewController(rrc.Config{
		CellID:         id,
		SrsPeriodicity: 40,
		Timeouts:       rrc.DefaultTimeouts(),
		Meas:           rrc.MeasConfig{MeasID: 1, A3OffsetDB: 3, HysteresisDB: 1},
		UserPlaneAddr:  netip.AddrFrom4([4]byte{127, 0, 0, byte(id)}),
	}, rrc.Collaborators{
		Mac:       sim.NewMac(id, logger),
		Phy:       sim.NewPhy(),
		Transport: link,
		Core:      st.core,
		Peers:     peers,
		UserPlane: sim.NewUserPlane(),
	}, logger)
	if err != nil {
		t.Fatalf("controller for cell %d: %v", id, err)
	}

	link.Bind(ctrl, st.network)
	st.core.Register(id, ctrl)
	st.network.AddCell(id, ctrl, link)
	st.cells[id] = ctrl
	return ctrl
}

// attach connects a terminal and waits until its setup completed.
func (st *station) attach(t *testing.T, imsi uint64, cellID uint16) sim.Terminal {
	t.Helper()

	if err := st.runner.Execute(sim.Step{Action: sim.ActionAttach, Imsi: imsi, Cell: cellID}); err != nil {
		t.Fatalf("attach imsi %d: %v", imsi, err)
	}
	return st.waitTerminal(t, imsi, "connected", func(term sim.Terminal) bool {
		return term.State == sim.TerminalConnected
	})
}

// waitTerminal polls the emulator until cond holds for imsi.
func (st *station) waitTerminal(t *testing.T, imsi uint64, what string, cond func(sim.Terminal) bool) sim.Terminal {
	t.Helper()

	var last sim.Terminal
	waitFor(t, "imsi "+what, func() bool {
		term, ok := st.network.Terminal(imsi)
		last = term
		return ok && cond(term)
	})
	return last
}

// waitFor polls cond every few milliseconds until it holds or waitTimeout
// elapses.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// udpSite is the X2 endpoint of one cell on real loopback sockets.
type udpSite struct {
	id        uint16
	control   netip.AddrPort
	user      netip.AddrPort
	node      *netio.Node
	listeners []*netio.Listener
}

func (s *udpSite) peer() netio.Peer {
	return netio.Peer{CellID: s.id, Control: s.control, User: s.user}
}

// newUDPSite binds the X2 sockets of cell id on 127.0.0.<id>.
func newUDPSite(t *testing.T, st *station, id uint16) *udpSite {
	t.Helper()

	ip := netip.AddrFrom4([4]byte{127, 0, 0, byte(id)})
	s := &udpSite{
		id:      id,
		control: netip.AddrPortFrom(ip, 36422),
		user:    netip.AddrPortFrom(ip, 2152),
	}

	ctx := context.Background()
	control, err := netio.NewListener(ctx, netio.ListenerConfig{Addr: s.control, Plane: netio.PlaneControl})
	if err != nil {
		t.Skipf("bind %s: %v", s.control, err)
	}
	user, err := netio.NewListener(ctx, netio.ListenerConfig{Addr: s.user, Plane: netio.PlaneUser})
	if err != nil {
		_ = control.Close()
		t.Skipf("bind %s: %v", s.user, err)
	}
	s.listeners = []*netio.Listener{control, user}
	s.node = netio.NewNode(id, control.Conn(), user.Conn(), st.loop, slog.New(slog.DiscardHandler))

	return s
}

// serve runs the receiver of the site until the test ends.
func (s *udpSite) serve(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	recv := netio.NewReceiver(s.node, slog.New(slog.DiscardHandler))
	go func() { done <- recv.Run(ctx, s.listeners...) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("receiver of cell %d: %v", s.id, err)
		}
	})
}
