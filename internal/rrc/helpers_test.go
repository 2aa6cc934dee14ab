package rrc_test

import (
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dantte-lp/gorrc/internal/rrc"
)

// -------------------------------------------------------------------------
// Test Helpers -- Clock
// -------------------------------------------------------------------------

// fakeClock is a manually advanced rrc.Clock.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer

	// leakyStop makes Stop report failure without preventing the callback,
	// modelling a timer that had already fired when it was cancelled.
	leakyStop bool
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) rrc.Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped || t.clock.leakyStop {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward and runs every callback that became due,
// in deadline order, outside the clock lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	slices.SortStableFunc(due, func(a, b *fakeTimer) int { return a.at.Compare(b.at) })
	for _, t := range due {
		t.f()
	}
}

// -------------------------------------------------------------------------
// Test Helpers -- Collaborators
// -------------------------------------------------------------------------

type fakeMac struct {
	mu        sync.Mutex
	ues       map[uint16]bool
	channels  map[uint16]map[uint8]rrc.LogicalChannelConfig
	preambles int
	next      uint8
}

func newFakeMac(preambles int) *fakeMac {
	return &fakeMac{
		ues:       make(map[uint16]bool),
		channels:  make(map[uint16]map[uint8]rrc.LogicalChannelConfig),
		preambles: preambles,
	}
}

func (m *fakeMac) AddUe(rnti uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ues[rnti] = true
	m.channels[rnti] = make(map[uint8]rrc.LogicalChannelConfig)
	return nil
}

func (m *fakeMac) AllocateNonContentionResource(uint16) (rrc.RachConfigDedicated, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.preambles == 0 {
		return rrc.RachConfigDedicated{}, errors.New("no dedicated preamble")
	}
	m.preambles--
	m.next++
	return rrc.RachConfigDedicated{PreambleIndex: 52 + m.next}, nil
}

func (m *fakeMac) ConfigureLogicalChannel(rnti uint16, lc rrc.LogicalChannelConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[rnti][lc.LogicalChannelID] = lc
}

func (m *fakeMac) ReleaseLogicalChannel(rnti uint16, lcid uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels[rnti], lcid)
}

func (m *fakeMac) RemoveUe(rnti uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ues, rnti)
	delete(m.channels, rnti)
}

func (m *fakeMac) channelCount(rnti uint16) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels[rnti])
}

func (m *fakeMac) known(rnti uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ues[rnti]
}

type fakePhy struct {
	mu      sync.Mutex
	modes   map[uint16]uint8
	srs     map[uint16]uint16
	removed []uint16
}

func newFakePhy() *fakePhy {
	return &fakePhy{modes: make(map[uint16]uint8), srs: make(map[uint16]uint16)}
}

func (p *fakePhy) SetTransmissionMode(rnti uint16, mode uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modes[rnti] = mode
}

func (p *fakePhy) SetSrsConfigurationIndex(rnti uint16, index uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.srs[rnti] = index
}

func (p *fakePhy) RemoveUe(rnti uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.modes, rnti)
	delete(p.srs, rnti)
	p.removed = append(p.removed, rnti)
}

func (p *fakePhy) mode(rnti uint16) uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.modes[rnti]
}

type sentMessage struct {
	rnti uint16
	msg  rrc.DownlinkMessage
}

type recordingTransport struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recordingTransport) Send(rnti uint16, msg rrc.DownlinkMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{rnti: rnti, msg: msg})
}

// last returns the most recent message sent to rnti.
func (r *recordingTransport) last(t *testing.T, rnti uint16) rrc.DownlinkMessage {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].rnti == rnti {
			return r.sent[i].msg
		}
	}
	t.Fatalf("no message sent to rnti %d", rnti)
	return nil
}

func (r *recordingTransport) count(rnti uint16) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.rnti == rnti {
			n++
		}
	}
	return n
}

type fakeCore struct {
	mu           sync.Mutex
	attached     map[uint64]uint16
	pathSwitches []rrc.PathSwitchRequest
	released     []uint16

	// pathSwitchErr, when set, is returned by RequestPathSwitch.
	pathSwitchErr error
}

func newFakeCore() *fakeCore {
	return &fakeCore{attached: make(map[uint64]uint16)}
}

func (c *fakeCore) NotifyNewTerminal(_ uint16, imsi uint64, rnti uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attached[imsi] = rnti
}

func (c *fakeCore) RequestPathSwitch(req rrc.PathSwitchRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pathSwitchErr != nil {
		return c.pathSwitchErr
	}
	c.pathSwitches = append(c.pathSwitches, req)
	return nil
}

func (c *fakeCore) NotifyContextReleased(_ uint16, rnti uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = append(c.released, rnti)
}

type delivered struct {
	rnti    uint16
	lcid    uint8
	payload string
}

type recordingUserPlane struct {
	mu  sync.Mutex
	got []delivered
}

func (u *recordingUserPlane) DeliverDownlink(rnti uint16, lcid uint8, payload []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.got = append(u.got, delivered{rnti: rnti, lcid: lcid, payload: string(payload)})
}

func (u *recordingUserPlane) payloads() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, 0, len(u.got))
	for _, d := range u.got {
		out = append(out, d.payload)
	}
	return out
}

// -------------------------------------------------------------------------
// Test Helpers -- X2 network
// -------------------------------------------------------------------------

// x2Network queues X2 messages between in-process controllers. Messages are
// delivered only when pump is called, mirroring an asynchronous transport.
type x2Network struct {
	mu    sync.Mutex
	cells map[uint16]*rrc.Controller
	queue []rrc.X2Message

	// drop discards messages of the listed kinds.
	drop map[rrc.MessageKind]bool
}

func newX2Network() *x2Network {
	return &x2Network{
		cells: make(map[uint16]*rrc.Controller),
		drop:  make(map[rrc.MessageKind]bool),
	}
}

func (n *x2Network) Lookup(cellID uint16) (rrc.X2Sap, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.cells[cellID]; !ok {
		return nil, false
	}
	return x2Endpoint{net: n}, true
}

func (n *x2Network) enqueue(msg rrc.X2Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.drop[msg.Kind()] {
		return nil
	}
	n.queue = append(n.queue, msg)
	return nil
}

// pump delivers queued messages until the queue is empty and returns the
// handler errors in delivery order.
func (n *x2Network) pump(t *testing.T) []error {
	t.Helper()
	var errs []error
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return errs
		}
		msg := n.queue[0]
		n.queue = n.queue[1:]
		dst := n.cells[rrc.X2Destination(msg)]
		n.mu.Unlock()

		if dst == nil {
			t.Fatalf("no cell %d for %s", rrc.X2Destination(msg), msg.Kind())
		}
		if err := dst.RecvX2(msg); err != nil {
			errs = append(errs, err)
		}
	}
}

func (n *x2Network) kinds() []rrc.MessageKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]rrc.MessageKind, 0, len(n.queue))
	for _, m := range n.queue {
		out = append(out, m.Kind())
	}
	return out
}

type x2Endpoint struct {
	net *x2Network
}

func (e x2Endpoint) SendHandoverRequest(msg rrc.HandoverRequest) error { return e.net.enqueue(msg) }

func (e x2Endpoint) SendHandoverRequestAck(msg rrc.HandoverRequestAck) error {
	return e.net.enqueue(msg)
}

func (e x2Endpoint) SendHandoverPreparationFailure(msg rrc.HandoverPreparationFailure) error {
	return e.net.enqueue(msg)
}

func (e x2Endpoint) SendSnStatusTransfer(msg rrc.SnStatusTransfer) error { return e.net.enqueue(msg) }

func (e x2Endpoint) SendUeContextRelease(msg rrc.UeContextRelease) error { return e.net.enqueue(msg) }

func (e x2Endpoint) SendUeData(msg rrc.UeData) error { return e.net.enqueue(msg) }

// -------------------------------------------------------------------------
// Test Helpers -- Cells
// -------------------------------------------------------------------------

type testCell struct {
	ctrl      *rrc.Controller
	mac       *fakeMac
	phy       *fakePhy
	transport *recordingTransport
	core      *fakeCore
	userPlane *recordingUserPlane
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(cellID uint16) rrc.Config {
	return rrc.Config{
		CellID:         cellID,
		SrsPeriodicity: 40,
		BearerPolicy:   rrc.PolicyLossRateBased,
		Timeouts:       rrc.DefaultTimeouts(),
		Meas: rrc.MeasConfig{
			MeasID:        1,
			A3OffsetDB:    3,
			HysteresisDB:  1,
			TimeToTrigger: 40 * time.Millisecond,
		},
		UserPlaneAddr:  netip.MustParseAddr("10.0.0.1"),
		RejectWaitTime: 5,
	}
}

// newTestCell builds a Controller wired to recording collaborators. When net
// is non-nil the cell joins it.
func newTestCell(t *testing.T, cfg rrc.Config, clk rrc.Clock, net *x2Network, opts ...rrc.ControllerOption) *testCell {
	t.Helper()

	tc := &testCell{
		mac:       newFakeMac(8),
		phy:       newFakePhy(),
		transport: &recordingTransport{},
		core:      newFakeCore(),
		userPlane: &recordingUserPlane{},
	}
	collab := rrc.Collaborators{
		Mac:       tc.mac,
		Phy:       tc.phy,
		Transport: tc.transport,
		Core:      tc.core,
		UserPlane: tc.userPlane,
	}
	if net != nil {
		collab.Peers = net
	}

	opts = append([]rrc.ControllerOption{rrc.WithClock(clk)}, opts...)
	ctrl, err := rrc.NewController(cfg, collab, discardLogger(), opts...)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(ctrl.Close)
	tc.ctrl = ctrl

	if net != nil {
		net.mu.Lock()
		net.cells[cfg.CellID] = ctrl
		net.mu.Unlock()
	}
	return tc
}

// attach drives a terminal from random access to ConnectedNormally.
func (tc *testCell) attach(t *testing.T, imsi uint64) uint16 {
	t.Helper()

	rnti, err := tc.ctrl.AllocateContext(rrc.StateInitialAccess, rrc.AdmissionHint{})
	if err != nil {
		t.Fatalf("AllocateContext: %v", err)
	}
	if err := tc.ctrl.Dispatch(rnti, rrc.ConnectionRequest{UeIdentity: imsi}); err != nil {
		t.Fatalf("Dispatch(ConnectionRequest): %v", err)
	}
	setup, ok := tc.transport.last(t, rnti).(rrc.ConnectionSetup)
	if !ok {
		t.Fatalf("last message = %T, want ConnectionSetup", tc.transport.last(t, rnti))
	}
	if err := tc.ctrl.Dispatch(rnti, rrc.ConnectionSetupCompleted{TransactionID: setup.TransactionID}); err != nil {
		t.Fatalf("Dispatch(ConnectionSetupCompleted): %v", err)
	}
	tc.requireState(t, rnti, rrc.StateConnectedNormally)
	return rnti
}

// completeReconfiguration answers the last reconfiguration sent to rnti.
func (tc *testCell) completeReconfiguration(t *testing.T, rnti uint16) rrc.ConnectionReconfiguration {
	t.Helper()

	recfg, ok := tc.transport.last(t, rnti).(rrc.ConnectionReconfiguration)
	if !ok {
		t.Fatalf("last message = %T, want ConnectionReconfiguration", tc.transport.last(t, rnti))
	}
	err := tc.ctrl.Dispatch(rnti, rrc.ConnectionReconfigurationCompleted{TransactionID: recfg.TransactionID})
	if err != nil {
		t.Fatalf("Dispatch(ConnectionReconfigurationCompleted): %v", err)
	}
	return recfg
}

// setupBearer adds a bearer and completes the reconfiguration.
func (tc *testCell) setupBearer(t *testing.T, rnti uint16, qci uint8, externalID uint32) uint8 {
	t.Helper()

	drb, err := tc.ctrl.RequestBearerSetup(rnti, rrc.Qos{Qci: qci, Arp: 5}, externalID, 0x1000+externalID,
		netip.MustParseAddr("10.0.0.254"))
	if err != nil {
		t.Fatalf("RequestBearerSetup: %v", err)
	}
	tc.completeReconfiguration(t, rnti)
	tc.requireState(t, rnti, rrc.StateConnectedNormally)
	return drb
}

func (tc *testCell) snapshot(t *testing.T, rnti uint16) rrc.ContextSnapshot {
	t.Helper()
	s, err := tc.ctrl.Snapshot(rnti)
	if err != nil {
		t.Fatalf("Snapshot(%d): %v", rnti, err)
	}
	return s
}

func (tc *testCell) requireState(t *testing.T, rnti uint16, want rrc.State) {
	t.Helper()
	if got := tc.snapshot(t, rnti).State; got != want {
		t.Fatalf("rnti %d state = %s, want %s", rnti, got, want)
	}
}

func (tc *testCell) requireGone(t *testing.T, rnti uint16) {
	t.Helper()
	if _, err := tc.ctrl.Snapshot(rnti); !errors.Is(err, rrc.ErrUnknownContext) {
		t.Fatalf("Snapshot(%d) error = %v, want ErrUnknownContext", rnti, err)
	}
}
