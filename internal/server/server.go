// Package server implements the ConnectRPC admin API of the gorrc daemon.
//
// The service has no generated stubs: every procedure is a connect generic
// handler exchanging google.protobuf.Struct payloads, so the API speaks the
// Connect, gRPC and gRPC-Web protocols with either JSON or binary encoding.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"sort"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dantte-lp/gorrc/internal/rrc"
)

// ServiceName is the fully qualified name of the admin service.
const ServiceName = "gorrc.admin.v1.AdminService"

// Procedure paths of the admin service.
const (
	ServicePath              = "/" + ServiceName + "/"
	ListContextsProcedure    = ServicePath + "ListContexts"
	GetContextProcedure      = ServicePath + "GetContext"
	TriggerHandoverProcedure = ServicePath + "TriggerHandover"
	ReleaseContextProcedure  = ServicePath + "ReleaseContext"
	SetupBearerProcedure     = ServicePath + "SetupBearer"
	ReleaseBearerProcedure   = ServicePath + "ReleaseBearer"
	WatchEventsProcedure     = ServicePath + "WatchEvents"
)

var (
	// ErrMissingField indicates a request without a required field.
	ErrMissingField = errors.New("missing required field")

	// ErrFieldRange indicates a numeric field outside its type's range.
	ErrFieldRange = errors.New("field out of range")

	// ErrUnknownCell indicates a request for a cell the daemon does not host.
	ErrUnknownCell = errors.New("unknown cell")
)

// Cell is the subset of the RRC controller exposed to operators.
type Cell interface {
	CellID() uint16
	Snapshot(rnti uint16) (rrc.ContextSnapshot, error)
	Snapshots() []rrc.ContextSnapshot
	TriggerHandover(rnti uint16, targetCell uint16) error
	ReleaseConnection(rnti uint16) error
	RequestBearerSetup(rnti uint16, qos rrc.Qos, externalBearerID uint32, tunnelID uint32, endpoint netip.Addr) (uint8, error)
	RequestBearerRelease(rnti uint16, drbID uint8) error
}

// verify interface compliance at compile time.
var _ Cell = (*rrc.Controller)(nil)

// AdminServer serves the admin procedures.
//
// Each RPC delegates to the Controller of the addressed cell. The server is
// a thin adapter between the Connect API and the RRC domain.
type AdminServer struct {
	cells  map[uint16]Cell
	ids    []uint16
	events *Broadcaster
	logger *slog.Logger
}

// New creates an AdminServer and returns the HTTP handler and its mount
// path. events may be nil, in which case WatchEvents is unavailable.
func New(cells []Cell, events *Broadcaster, logger *slog.Logger, opts ...connect.HandlerOption) (string, http.Handler) {
	srv := NewAdminServer(cells, events, logger)

	mux := http.NewServeMux()
	mux.Handle(ListContextsProcedure, connect.NewUnaryHandler(ListContextsProcedure, srv.ListContexts, opts...))
	mux.Handle(GetContextProcedure, connect.NewUnaryHandler(GetContextProcedure, srv.GetContext, opts...))
	mux.Handle(TriggerHandoverProcedure, connect.NewUnaryHandler(TriggerHandoverProcedure, srv.TriggerHandover, opts...))
	mux.Handle(ReleaseContextProcedure, connect.NewUnaryHandler(ReleaseContextProcedure, srv.ReleaseContext, opts...))
	mux.Handle(SetupBearerProcedure, connect.NewUnaryHandler(SetupBearerProcedure, srv.SetupBearer, opts...))
	mux.Handle(ReleaseBearerProcedure, connect.NewUnaryHandler(ReleaseBearerProcedure, srv.ReleaseBearer, opts...))
	mux.Handle(WatchEventsProcedure, connect.NewServerStreamHandler(WatchEventsProcedure, srv.WatchEvents, opts...))

	return ServicePath, mux
}

// NewAdminServer creates the procedure implementations without mounting them.
func NewAdminServer(cells []Cell, events *Broadcaster, logger *slog.Logger) *AdminServer {
	s := &AdminServer{
		cells:  make(map[uint16]Cell, len(cells)),
		events: events,
		logger: logger.With(slog.String("component", "server")),
	}
	for _, c := range cells {
		s.cells[c.CellID()] = c
		s.ids = append(s.ids, c.CellID())
	}
	sort.Slice(s.ids, func(i, j int) bool { return s.ids[i] < s.ids[j] })
	return s
}

// -------------------------------------------------------------------------
// Queries
// -------------------------------------------------------------------------

// ListContexts returns every context, or only those of cell_id when set.
func (s *AdminServer) ListContexts(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	ids := s.ids
	if hasField(req.Msg, fieldCellID) {
		id, err := uint16Field(req.Msg, fieldCellID)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		if _, ok := s.cells[id]; !ok {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("cell %d: %w", id, ErrUnknownCell))
		}
		ids = []uint16{id}
	}

	var views []ContextView
	for _, id := range ids {
		for _, snap := range s.cells[id].Snapshots() {
			views = append(views, contextViewFromSnapshot(snap))
		}
	}

	s.logger.DebugContext(ctx, "ListContexts", slog.Int("contexts", len(views)))

	msg, err := contextListToStruct(views)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// GetContext returns one context addressed by cell_id and rnti.
func (s *AdminServer) GetContext(
	_ context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	cell, rnti, err := s.addressContext(req.Msg)
	if err != nil {
		return nil, err
	}

	snap, err := cell.Snapshot(rnti)
	if err != nil {
		return nil, domainError(err)
	}

	msg, err := structpb.NewStruct(contextViewFromSnapshot(snap).toMap())
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// -------------------------------------------------------------------------
// Commands
// -------------------------------------------------------------------------

// TriggerHandover starts an X2 handover of rnti towards target_cell_id.
func (s *AdminServer) TriggerHandover(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[emptypb.Empty], error) {
	cell, rnti, err := s.addressContext(req.Msg)
	if err != nil {
		return nil, err
	}
	target, err := uint16Field(req.Msg, fieldTargetCellID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	s.logger.InfoContext(ctx, "TriggerHandover",
		slog.Uint64("cell_id", uint64(cell.CellID())),
		slog.Uint64("rnti", uint64(rnti)),
		slog.Uint64("target_cell_id", uint64(target)),
	)

	if err := cell.TriggerHandover(rnti, target); err != nil {
		return nil, domainError(err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// ReleaseContext sends a connection release to the terminal and frees its
// context.
func (s *AdminServer) ReleaseContext(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[emptypb.Empty], error) {
	cell, rnti, err := s.addressContext(req.Msg)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "ReleaseContext",
		slog.Uint64("cell_id", uint64(cell.CellID())),
		slog.Uint64("rnti", uint64(rnti)),
	)

	if err := cell.ReleaseConnection(rnti); err != nil {
		return nil, domainError(err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// SetupBearer requests a data bearer for erab_id with the given qci. The
// response carries the allocated drb_id.
func (s *AdminServer) SetupBearer(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	cell, rnti, err := s.addressContext(req.Msg)
	if err != nil {
		return nil, err
	}
	qci, err := uint8Field(req.Msg, fieldQci)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	erab, err := uint8Field(req.Msg, fieldErabID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	var teid uint32
	if hasField(req.Msg, fieldTeid) {
		if teid, err = uint32Field(req.Msg, fieldTeid); err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
	}
	endpoint := netip.IPv4Unspecified()
	if raw := req.Msg.GetFields()[fieldEndpoint].GetStringValue(); raw != "" {
		if endpoint, err = netip.ParseAddr(raw); err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("endpoint: %w", err))
		}
	}

	drb, err := cell.RequestBearerSetup(rnti, rrc.Qos{Qci: qci}, uint32(erab), teid, endpoint)
	if err != nil {
		return nil, domainError(err)
	}

	s.logger.InfoContext(ctx, "SetupBearer",
		slog.Uint64("cell_id", uint64(cell.CellID())),
		slog.Uint64("rnti", uint64(rnti)),
		slog.Uint64("erab_id", uint64(erab)),
		slog.Uint64("drb_id", uint64(drb)),
	)

	msg, err := structpb.NewStruct(map[string]any{fieldDrbID: int(drb)})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// ReleaseBearer releases the data bearer drb_id.
func (s *AdminServer) ReleaseBearer(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[emptypb.Empty], error) {
	cell, rnti, err := s.addressContext(req.Msg)
	if err != nil {
		return nil, err
	}
	drb, err := uint8Field(req.Msg, fieldDrbID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	s.logger.InfoContext(ctx, "ReleaseBearer",
		slog.Uint64("cell_id", uint64(cell.CellID())),
		slog.Uint64("rnti", uint64(rnti)),
		slog.Uint64("drb_id", uint64(drb)),
	)

	if err := cell.RequestBearerRelease(rnti, drb); err != nil {
		return nil, domainError(err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// -------------------------------------------------------------------------
// Streaming
// -------------------------------------------------------------------------

// WatchEvents streams context lifecycle notifications. With
// include_current set, one Current event per existing context precedes the
// live stream.
func (s *AdminServer) WatchEvents(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
	stream *connect.ServerStream[structpb.Struct],
) error {
	if s.events == nil {
		return connect.NewError(connect.CodeUnavailable, ErrNoBroadcaster)
	}

	// Subscribe before the snapshot so no change falls in between.
	events, cancel := s.events.Subscribe()
	defer cancel()

	if req.Msg.GetFields()[fieldIncludeCurrent].GetBoolValue() {
		for _, id := range s.ids {
			for _, snap := range s.cells[id].Snapshots() {
				if err := sendEvent(stream, currentEvent(snap)); err != nil {
					return err
				}
			}
		}
	}

	s.logger.InfoContext(ctx, "WatchEvents subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := sendEvent(stream, eventViewFromChange(ev)); err != nil {
				return err
			}
		}
	}
}

func sendEvent(stream *connect.ServerStream[structpb.Struct], ev EventView) error {
	msg, err := structpb.NewStruct(ev.toMap())
	if err != nil {
		return connect.NewError(connect.CodeInternal, err)
	}
	if err := stream.Send(msg); err != nil {
		return fmt.Errorf("send event: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// addressContext resolves the cell_id and rnti fields of a request.
func (s *AdminServer) addressContext(msg *structpb.Struct) (Cell, uint16, error) {
	id, err := uint16Field(msg, fieldCellID)
	if err != nil {
		return nil, 0, connect.NewError(connect.CodeInvalidArgument, err)
	}
	cell, ok := s.cells[id]
	if !ok {
		return nil, 0, connect.NewError(connect.CodeNotFound, fmt.Errorf("cell %d: %w", id, ErrUnknownCell))
	}
	rnti, err := uint16Field(msg, fieldRnti)
	if err != nil {
		return nil, 0, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return cell, rnti, nil
}

// domainError maps RRC errors to Connect status codes.
func domainError(err error) error {
	switch {
	case errors.Is(err, rrc.ErrUnknownContext),
		errors.Is(err, rrc.ErrUnknownBearer),
		errors.Is(err, rrc.ErrUnknownPeer):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, rrc.ErrResourceExhausted),
		errors.Is(err, rrc.ErrAdmissionRejected):
		return connect.NewError(connect.CodeResourceExhausted, err)
	case errors.Is(err, rrc.ErrInvalidTransition),
		errors.Is(err, rrc.ErrHandoverNotAllowed):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, rrc.ErrBearerExists):
		return connect.NewError(connect.CodeAlreadyExists, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
