package server_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dantte-lp/gorrc/internal/rrc"
	"github.com/dantte-lp/gorrc/internal/server"
)

// -------------------------------------------------------------------------
// Test Helpers
// -------------------------------------------------------------------------

// bearerCall records a RequestBearerSetup invocation.
type bearerCall struct {
	rnti     uint16
	qos      rrc.Qos
	erab     uint32
	teid     uint32
	endpoint netip.Addr
}

// fakeCell is an in-memory server.Cell.
type fakeCell struct {
	id uint16

	mu        sync.Mutex
	contexts  map[uint16]rrc.ContextSnapshot
	handovers map[uint16]uint16
	released  []uint16
	bearers   []bearerCall
	setupErr  error
	panicOn   bool
}

func newFakeCell(id uint16, rntis ...uint16) *fakeCell {
	c := &fakeCell{
		id:        id,
		contexts:  make(map[uint16]rrc.ContextSnapshot),
		handovers: make(map[uint16]uint16),
	}
	for _, rnti := range rntis {
		c.contexts[rnti] = rrc.ContextSnapshot{
			CellID:    id,
			Rnti:      rnti,
			Imsi:      310150000000000 + uint64(rnti),
			State:     rrc.StateConnectedNormally,
			CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Bearers: []rrc.BearerSnapshot{{
				DrbID: 1, ErabID: 5, Qci: 9, LogicalChannelID: 3, Mode: rrc.RlcModeAM, GtpTeid: 0x0101,
			}},
		}
	}
	return c
}

func (c *fakeCell) CellID() uint16 { return c.id }

func (c *fakeCell) Snapshot(rnti uint16) (rrc.ContextSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panicOn {
		panic("intentional test panic")
	}
	s, ok := c.contexts[rnti]
	if !ok {
		return rrc.ContextSnapshot{}, fmt.Errorf("rnti %d: %w", rnti, rrc.ErrUnknownContext)
	}
	return s, nil
}

func (c *fakeCell) Snapshots() []rrc.ContextSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]rrc.ContextSnapshot, 0, len(c.contexts))
	for rnti := range uint16(1000) {
		if s, ok := c.contexts[rnti]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (c *fakeCell) TriggerHandover(rnti, target uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.contexts[rnti]; !ok {
		return rrc.ErrUnknownContext
	}
	if target == 99 {
		return fmt.Errorf("cell %d: %w", target, rrc.ErrUnknownPeer)
	}
	c.handovers[rnti] = target
	return nil
}

func (c *fakeCell) ReleaseConnection(rnti uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.contexts[rnti]; !ok {
		return rrc.ErrUnknownContext
	}
	delete(c.contexts, rnti)
	c.released = append(c.released, rnti)
	return nil
}

func (c *fakeCell) RequestBearerSetup(rnti uint16, qos rrc.Qos, erab, teid uint32, endpoint netip.Addr) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setupErr != nil {
		return 0, c.setupErr
	}
	c.bearers = append(c.bearers, bearerCall{rnti: rnti, qos: qos, erab: erab, teid: teid, endpoint: endpoint})
	return uint8(len(c.bearers)), nil
}

func (c *fakeCell) RequestBearerRelease(rnti uint16, drbID uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.contexts[rnti]
	if !ok {
		return rrc.ErrUnknownContext
	}
	for i, b := range s.Bearers {
		if b.DrbID == drbID {
			s.Bearers = append(s.Bearers[:i], s.Bearers[i+1:]...)
			c.contexts[rnti] = s
			return nil
		}
	}
	return fmt.Errorf("drb %d: %w", drbID, rrc.ErrUnknownBearer)
}

func (c *fakeCell) handoverTarget(rnti uint16) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handovers[rnti]
}

func (c *fakeCell) releasedRntis() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint16(nil), c.released...)
}

func (c *fakeCell) bearerCalls() []bearerCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bearerCall(nil), c.bearers...)
}

func (c *fakeCell) bearerCount(rnti uint16) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.contexts[rnti].Bearers)
}

// setupTestServer serves the given cells over a real HTTP server and
// returns a client connected to it.
func setupTestServer(
	t *testing.T,
	events *server.Broadcaster,
	cells []server.Cell,
	opts ...connect.HandlerOption,
) *server.Client {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	path, handler := server.New(cells, events, logger, opts...)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return server.NewClient(srv.Client(), srv.URL)
}

func requireCode(t *testing.T, err error, want connect.Code) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != want {
		t.Errorf("code = %s, want %s", connectErr.Code(), want)
	}
}

// -------------------------------------------------------------------------
// Queries
// -------------------------------------------------------------------------

func TestListContexts(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t, nil, []server.Cell{newFakeCell(2, 7), newFakeCell(1, 4, 3)})

	all, err := client.ListContexts(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListContexts: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d contexts, want 3", len(all))
	}

	// Ordered by cell, then RNTI.
	want := [][2]uint16{{1, 3}, {1, 4}, {2, 7}}
	for i, w := range want {
		if all[i].CellID != w[0] || all[i].Rnti != w[1] {
			t.Errorf("contexts[%d] = cell %d rnti %d, want cell %d rnti %d",
				i, all[i].CellID, all[i].Rnti, w[0], w[1])
		}
	}

	one, err := client.ListContexts(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListContexts(2): %v", err)
	}
	if len(one) != 1 || one[0].Rnti != 7 {
		t.Errorf("ListContexts(2) = %+v, want rnti 7", one)
	}

	_, err = client.ListContexts(context.Background(), 9)
	requireCode(t, err, connect.CodeNotFound)
}

func TestGetContext(t *testing.T) {
	t.Parallel()

	cell := newFakeCell(1, 3)
	cell.contexts[3] = func(s rrc.ContextSnapshot) rrc.ContextSnapshot {
		s.Handover = &rrc.HandoverAttempt{
			ID:           uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
			Role:         rrc.RoleSource,
			SourceCellID: 1,
			TargetCellID: 2,
			TargetRnti:   12,
		}
		s.State = rrc.StateHandoverLeaving
		return s
	}(cell.contexts[3])

	client := setupTestServer(t, nil, []server.Cell{cell})

	got, err := client.GetContext(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}

	if got.Imsi != 310150000000003 {
		t.Errorf("Imsi = %d, want 310150000000003", got.Imsi)
	}
	if got.State != "HandoverLeaving" {
		t.Errorf("State = %q, want HandoverLeaving", got.State)
	}
	if !got.CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", got.CreatedAt)
	}
	if len(got.Bearers) != 1 {
		t.Fatalf("Bearers = %+v, want one", got.Bearers)
	}
	b := got.Bearers[0]
	if b.DrbID != 1 || b.ErabID != 5 || b.Qci != 9 || b.LogicalChannelID != 3 || b.GtpTeid != 0x0101 {
		t.Errorf("Bearer = %+v", b)
	}
	if b.Mode != rrc.RlcModeAM.String() {
		t.Errorf("Bearer.Mode = %q, want %q", b.Mode, rrc.RlcModeAM.String())
	}
	if got.Handover == nil || got.Handover.TargetCellID != 2 || got.Handover.TargetRnti != 12 {
		t.Errorf("Handover = %+v", got.Handover)
	}
}

func TestGetContextErrors(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t, nil, []server.Cell{newFakeCell(1, 3)})

	tests := []struct {
		name   string
		cellID uint16
		rnti   uint16
		want   connect.Code
	}{
		{name: "unknown cell", cellID: 5, rnti: 3, want: connect.CodeNotFound},
		{name: "unknown rnti", cellID: 1, rnti: 4, want: connect.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := client.GetContext(context.Background(), tt.cellID, tt.rnti)
			requireCode(t, err, tt.want)
		})
	}
}

// TestMalformedRequests posts raw Struct payloads that the typed client
// never produces.
func TestMalformedRequests(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	path, handler := server.New([]server.Cell{newFakeCell(1, 3)}, nil, logger)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	call := connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+server.GetContextProcedure)

	tests := []struct {
		name   string
		fields map[string]any
	}{
		{name: "missing cell", fields: map[string]any{"rnti": 3}},
		{name: "missing rnti", fields: map[string]any{"cell_id": 1}},
		{name: "negative rnti", fields: map[string]any{"cell_id": 1, "rnti": -1}},
		{name: "rnti overflow", fields: map[string]any{"cell_id": 1, "rnti": 70000}},
		{name: "fractional", fields: map[string]any{"cell_id": 1, "rnti": 2.5}},
		{name: "string rnti", fields: map[string]any{"cell_id": 1, "rnti": "3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req, err := structpb.NewStruct(tt.fields)
			if err != nil {
				t.Fatalf("NewStruct: %v", err)
			}
			_, err = call.CallUnary(context.Background(), connect.NewRequest(req))
			requireCode(t, err, connect.CodeInvalidArgument)
		})
	}
}

// -------------------------------------------------------------------------
// Commands
// -------------------------------------------------------------------------

func TestTriggerHandover(t *testing.T) {
	t.Parallel()

	cell := newFakeCell(1, 3)
	client := setupTestServer(t, nil, []server.Cell{cell})

	if err := client.TriggerHandover(context.Background(), 1, 3, 2); err != nil {
		t.Fatalf("TriggerHandover: %v", err)
	}
	if got := cell.handoverTarget(3); got != 2 {
		t.Errorf("handover target = %d, want 2", got)
	}

	err := client.TriggerHandover(context.Background(), 1, 3, 99)
	requireCode(t, err, connect.CodeNotFound)
}

func TestReleaseContext(t *testing.T) {
	t.Parallel()

	cell := newFakeCell(1, 3)
	client := setupTestServer(t, nil, []server.Cell{cell})

	if err := client.ReleaseContext(context.Background(), 1, 3); err != nil {
		t.Fatalf("ReleaseContext: %v", err)
	}
	if got := cell.releasedRntis(); len(got) != 1 || got[0] != 3 {
		t.Errorf("released = %v, want [3]", got)
	}

	// Second release: the context is gone.
	err := client.ReleaseContext(context.Background(), 1, 3)
	requireCode(t, err, connect.CodeNotFound)
}

func TestSetupBearer(t *testing.T) {
	t.Parallel()

	cell := newFakeCell(1, 3)
	client := setupTestServer(t, nil, []server.Cell{cell})

	drb, err := client.SetupBearer(context.Background(), server.BearerRequest{
		CellID: 1, Rnti: 3, Qci: 7, ErabID: 6, Teid: 0xdeadbeef, Endpoint: "198.51.100.7",
	})
	if err != nil {
		t.Fatalf("SetupBearer: %v", err)
	}
	if drb != 1 {
		t.Errorf("drb = %d, want 1", drb)
	}

	want := bearerCall{
		rnti:     3,
		qos:      rrc.Qos{Qci: 7},
		erab:     6,
		teid:     0xdeadbeef,
		endpoint: netip.MustParseAddr("198.51.100.7"),
	}
	if got := cell.bearerCalls(); len(got) != 1 || got[0] != want {
		t.Errorf("bearer calls = %+v, want %+v", got, want)
	}

	_, err = client.SetupBearer(context.Background(), server.BearerRequest{
		CellID: 1, Rnti: 3, Qci: 7, ErabID: 6, Endpoint: "not-an-ip",
	})
	requireCode(t, err, connect.CodeInvalidArgument)
}

func TestSetupBearerErrorCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want connect.Code
	}{
		{name: "drb exhausted", err: rrc.ErrDrbExhausted, want: connect.CodeResourceExhausted},
		{name: "invalid transition", err: fmt.Errorf("wrap: %w", rrc.ErrInvalidTransition), want: connect.CodeFailedPrecondition},
		{name: "bearer exists", err: rrc.ErrBearerExists, want: connect.CodeAlreadyExists},
		{name: "other", err: errors.New("boom"), want: connect.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cell := newFakeCell(1, 3)
			cell.setupErr = tt.err
			client := setupTestServer(t, nil, []server.Cell{cell})

			_, err := client.SetupBearer(context.Background(), server.BearerRequest{CellID: 1, Rnti: 3, Qci: 9, ErabID: 5})
			requireCode(t, err, tt.want)
		})
	}
}

func TestReleaseBearer(t *testing.T) {
	t.Parallel()

	cell := newFakeCell(1, 3)
	client := setupTestServer(t, nil, []server.Cell{cell})

	if err := client.ReleaseBearer(context.Background(), 1, 3, 1); err != nil {
		t.Fatalf("ReleaseBearer: %v", err)
	}
	if n := cell.bearerCount(3); n != 0 {
		t.Errorf("bearers left = %d, want 0", n)
	}

	err := client.ReleaseBearer(context.Background(), 1, 3, 1)
	requireCode(t, err, connect.CodeNotFound)
}

// -------------------------------------------------------------------------
// Streaming
// -------------------------------------------------------------------------

func TestWatchEvents(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	events := server.NewBroadcaster(logger)
	source := make(chan rrc.StateChange, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- events.Run(ctx, source) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	client := setupTestServer(t, events, []server.Cell{newFakeCell(1, 3)})

	streamCtx, streamCancel := context.WithCancel(context.Background())
	defer streamCancel()

	stream, err := client.WatchEvents(streamCtx, true)
	if err != nil {
		t.Fatalf("WatchEvents: %v", err)
	}
	defer stream.Close()

	if !stream.Receive() {
		t.Fatalf("no current event: %v", stream.Err())
	}
	cur := stream.Event()
	if cur.Kind != server.EventCurrent || cur.Rnti != 3 || cur.NewState != "ConnectedNormally" {
		t.Errorf("current event = %+v", cur)
	}

	// The subscription is registered before the snapshot is streamed.
	source <- rrc.StateChange{
		Kind:     rrc.ContextStateChanged,
		CellID:   1,
		Rnti:     3,
		Imsi:     310150000000003,
		OldState: rrc.StateConnectedNormally,
		NewState: rrc.StateConnectionReconfiguration,
	}

	if !stream.Receive() {
		t.Fatalf("no live event: %v", stream.Err())
	}
	live := stream.Event()
	if live.Kind != "StateChanged" || live.NewState != "ConnectionReconfiguration" || live.Imsi != 310150000000003 {
		t.Errorf("live event = %+v", live)
	}
}

func TestWatchEventsWithoutBroadcaster(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t, nil, []server.Cell{newFakeCell(1)})

	stream, err := client.WatchEvents(context.Background(), false)
	if err != nil {
		requireCode(t, err, connect.CodeUnavailable)
		return
	}
	defer stream.Close()

	if stream.Receive() {
		t.Fatal("unexpected event")
	}
	requireCode(t, stream.Err(), connect.CodeUnavailable)
}
