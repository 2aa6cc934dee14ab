package server

import (
	"context"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed client of the admin service.
type Client struct {
	listContexts    *connect.Client[structpb.Struct, structpb.Struct]
	getContext      *connect.Client[structpb.Struct, structpb.Struct]
	triggerHandover *connect.Client[structpb.Struct, emptypb.Empty]
	releaseContext  *connect.Client[structpb.Struct, emptypb.Empty]
	setupBearer     *connect.Client[structpb.Struct, structpb.Struct]
	releaseBearer   *connect.Client[structpb.Struct, emptypb.Empty]
	watchEvents     *connect.Client[structpb.Struct, structpb.Struct]
}

// NewClient constructs a client for the admin service at baseURL
// (e.g. "http://localhost:50061").
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		listContexts:    connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+ListContextsProcedure, opts...),
		getContext:      connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+GetContextProcedure, opts...),
		triggerHandover: connect.NewClient[structpb.Struct, emptypb.Empty](httpClient, baseURL+TriggerHandoverProcedure, opts...),
		releaseContext:  connect.NewClient[structpb.Struct, emptypb.Empty](httpClient, baseURL+ReleaseContextProcedure, opts...),
		setupBearer:     connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+SetupBearerProcedure, opts...),
		releaseBearer:   connect.NewClient[structpb.Struct, emptypb.Empty](httpClient, baseURL+ReleaseBearerProcedure, opts...),
		watchEvents:     connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+WatchEventsProcedure, opts...),
	}
}

// ListContexts returns the contexts of cellID, or of every cell when
// cellID is zero.
func (c *Client) ListContexts(ctx context.Context, cellID uint16) ([]ContextView, error) {
	fields := map[string]any{}
	if cellID != 0 {
		fields[fieldCellID] = int(cellID)
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	resp, err := c.listContexts.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}

	items := resp.Msg.GetFields()[fieldContexts].GetListValue().GetValues()
	out := make([]ContextView, 0, len(items))
	for _, item := range items {
		out = append(out, ContextViewFromStruct(item.GetStructValue()))
	}
	return out, nil
}

// GetContext returns one context.
func (c *Client) GetContext(ctx context.Context, cellID, rnti uint16) (ContextView, error) {
	resp, err := c.getContext.CallUnary(ctx, connect.NewRequest(addressStruct(cellID, rnti, nil)))
	if err != nil {
		return ContextView{}, fmt.Errorf("get context: %w", err)
	}
	return ContextViewFromStruct(resp.Msg), nil
}

// TriggerHandover starts a handover of rnti towards target.
func (c *Client) TriggerHandover(ctx context.Context, cellID, rnti, target uint16) error {
	req := addressStruct(cellID, rnti, map[string]any{fieldTargetCellID: int(target)})
	if _, err := c.triggerHandover.CallUnary(ctx, connect.NewRequest(req)); err != nil {
		return fmt.Errorf("trigger handover: %w", err)
	}
	return nil
}

// ReleaseContext releases the connection of rnti.
func (c *Client) ReleaseContext(ctx context.Context, cellID, rnti uint16) error {
	if _, err := c.releaseContext.CallUnary(ctx, connect.NewRequest(addressStruct(cellID, rnti, nil))); err != nil {
		return fmt.Errorf("release context: %w", err)
	}
	return nil
}

// BearerRequest describes a bearer setup.
type BearerRequest struct {
	CellID   uint16
	Rnti     uint16
	Qci      uint8
	ErabID   uint8
	Teid     uint32
	Endpoint string
}

// SetupBearer requests a data bearer and returns its DRB identity.
func (c *Client) SetupBearer(ctx context.Context, br BearerRequest) (uint8, error) {
	extra := map[string]any{
		fieldQci:    int(br.Qci),
		fieldErabID: int(br.ErabID),
		fieldTeid:   br.Teid,
	}
	if br.Endpoint != "" {
		extra[fieldEndpoint] = br.Endpoint
	}

	resp, err := c.setupBearer.CallUnary(ctx, connect.NewRequest(addressStruct(br.CellID, br.Rnti, extra)))
	if err != nil {
		return 0, fmt.Errorf("setup bearer: %w", err)
	}
	return uint8(resp.Msg.GetFields()[fieldDrbID].GetNumberValue()), nil
}

// ReleaseBearer releases data bearer drbID.
func (c *Client) ReleaseBearer(ctx context.Context, cellID, rnti uint16, drbID uint8) error {
	req := addressStruct(cellID, rnti, map[string]any{fieldDrbID: int(drbID)})
	if _, err := c.releaseBearer.CallUnary(ctx, connect.NewRequest(req)); err != nil {
		return fmt.Errorf("release bearer: %w", err)
	}
	return nil
}

// EventStream is an open WatchEvents stream.
type EventStream struct {
	stream *connect.ServerStreamForClient[structpb.Struct]
}

// WatchEvents opens the event stream.
func (c *Client) WatchEvents(ctx context.Context, includeCurrent bool) (*EventStream, error) {
	req, err := structpb.NewStruct(map[string]any{fieldIncludeCurrent: includeCurrent})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	stream, err := c.watchEvents.CallServerStream(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, fmt.Errorf("watch events: %w", err)
	}
	return &EventStream{stream: stream}, nil
}

// Receive advances to the next event. It returns false at the end of the
// stream or on error; Err distinguishes the two.
func (s *EventStream) Receive() bool { return s.stream.Receive() }

// Event returns the current event.
func (s *EventStream) Event() EventView { return EventViewFromStruct(s.stream.Msg()) }

// Err returns the error that ended the stream, if any.
func (s *EventStream) Err() error { return s.stream.Err() }

// Close releases the stream.
func (s *EventStream) Close() error { return s.stream.Close() }

func addressStruct(cellID, rnti uint16, extra map[string]any) *structpb.Struct {
	fields := map[string]any{
		fieldCellID: int(cellID),
		fieldRnti:   int(rnti),
	}
	for k, v := range extra {
		fields[k] = v
	}
	// Every value above is an int, uint32, string or bool.
	msg, _ := structpb.NewStruct(fields)
	return msg
}
