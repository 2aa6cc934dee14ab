package server

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dantte-lp/gorrc/internal/rrc"
)

// Payload field names.
const (
	fieldCellID         = "cell_id"
	fieldRnti           = "rnti"
	fieldImsi           = "imsi"
	fieldState          = "state"
	fieldTargetCellID   = "target_cell_id"
	fieldQci            = "qci"
	fieldErabID         = "erab_id"
	fieldDrbID          = "drb_id"
	fieldTeid           = "teid"
	fieldEndpoint       = "endpoint"
	fieldIncludeCurrent = "include_current"
	fieldContexts       = "contexts"
)

// EventCurrent is the kind of the snapshot events sent ahead of the live
// stream by WatchEvents.
const EventCurrent = "Current"

// ContextView is the operator view of a terminal context.
type ContextView struct {
	CellID                 uint16        `json:"cell_id" yaml:"cell_id"`
	Rnti                   uint16        `json:"rnti" yaml:"rnti"`
	Imsi                   uint64        `json:"imsi" yaml:"imsi"`
	State                  string        `json:"state" yaml:"state"`
	TransactionID          uint8         `json:"transaction_id" yaml:"transaction_id"`
	SrsConfigIndex         uint16        `json:"srs_config_index" yaml:"srs_config_index"`
	TransmissionMode       uint8         `json:"transmission_mode" yaml:"transmission_mode"`
	PendingReconfiguration bool          `json:"pending_reconfiguration" yaml:"pending_reconfiguration"`
	Bearers                []BearerView  `json:"bearers" yaml:"bearers"`
	Handover               *HandoverView `json:"handover,omitempty" yaml:"handover,omitempty"`
	CreatedAt              time.Time     `json:"created_at" yaml:"created_at"`
	LastStateChange        time.Time     `json:"last_state_change" yaml:"last_state_change"`
}

// BearerView is the operator view of a data bearer.
type BearerView struct {
	DrbID            uint8  `json:"drb_id" yaml:"drb_id"`
	ErabID           uint8  `json:"erab_id" yaml:"erab_id"`
	Qci              uint8  `json:"qci" yaml:"qci"`
	LogicalChannelID uint8  `json:"lcid" yaml:"lcid"`
	Mode             string `json:"mode" yaml:"mode"`
	GtpTeid          uint32 `json:"gtp_teid" yaml:"gtp_teid"`
	ForwardingTeid   uint32 `json:"forwarding_teid" yaml:"forwarding_teid"`
	Buffered         int    `json:"buffered" yaml:"buffered"`
}

// HandoverView is the operator view of an in-flight handover.
type HandoverView struct {
	ID           string `json:"id" yaml:"id"`
	Role         string `json:"role" yaml:"role"`
	SourceCellID uint16 `json:"source_cell_id" yaml:"source_cell_id"`
	TargetCellID uint16 `json:"target_cell_id" yaml:"target_cell_id"`
	TargetRnti   uint16 `json:"target_rnti" yaml:"target_rnti"`
}

// EventView is one context lifecycle notification.
type EventView struct {
	Kind      string    `json:"kind" yaml:"kind"`
	CellID    uint16    `json:"cell_id" yaml:"cell_id"`
	Rnti      uint16    `json:"rnti" yaml:"rnti"`
	Imsi      uint64    `json:"imsi" yaml:"imsi"`
	OldState  string    `json:"old_state" yaml:"old_state"`
	NewState  string    `json:"new_state" yaml:"new_state"`
	Reason    string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// -------------------------------------------------------------------------
// Domain -> view
// -------------------------------------------------------------------------

func contextViewFromSnapshot(s rrc.ContextSnapshot) ContextView {
	v := ContextView{
		CellID:                 s.CellID,
		Rnti:                   s.Rnti,
		Imsi:                   s.Imsi,
		State:                  s.State.String(),
		TransactionID:          s.TransactionID,
		SrsConfigIndex:         s.SrsConfigIndex,
		TransmissionMode:       s.TransmissionMode,
		PendingReconfiguration: s.PendingReconfiguration,
		CreatedAt:              s.CreatedAt,
		LastStateChange:        s.LastStateChange,
	}
	for _, b := range s.Bearers {
		v.Bearers = append(v.Bearers, BearerView{
			DrbID:            b.DrbID,
			ErabID:           b.ErabID,
			Qci:              b.Qci,
			LogicalChannelID: b.LogicalChannelID,
			Mode:             b.Mode.String(),
			GtpTeid:          b.GtpTeid,
			ForwardingTeid:   b.ForwardingTeid,
			Buffered:         b.Buffered,
		})
	}
	if h := s.Handover; h != nil {
		v.Handover = &HandoverView{
			ID:           h.ID.String(),
			Role:         h.Role,
			SourceCellID: h.SourceCellID,
			TargetCellID: h.TargetCellID,
			TargetRnti:   h.TargetRnti,
		}
	}
	return v
}

func eventViewFromChange(c rrc.StateChange) EventView {
	return EventView{
		Kind:      c.Kind.String(),
		CellID:    c.CellID,
		Rnti:      c.Rnti,
		Imsi:      c.Imsi,
		OldState:  c.OldState.String(),
		NewState:  c.NewState.String(),
		Reason:    c.Reason,
		Timestamp: c.Timestamp,
	}
}

func currentEvent(s rrc.ContextSnapshot) EventView {
	return EventView{
		Kind:      EventCurrent,
		CellID:    s.CellID,
		Rnti:      s.Rnti,
		Imsi:      s.Imsi,
		OldState:  s.State.String(),
		NewState:  s.State.String(),
		Timestamp: s.LastStateChange,
	}
}

// -------------------------------------------------------------------------
// View <-> Struct
// -------------------------------------------------------------------------

// IMSIs are carried as decimal strings: a Struct number is a float64.

func (v ContextView) toMap() map[string]any {
	bearers := make([]any, 0, len(v.Bearers))
	for _, b := range v.Bearers {
		bearers = append(bearers, map[string]any{
			"drb_id":          int(b.DrbID),
			"erab_id":         int(b.ErabID),
			"qci":             int(b.Qci),
			"lcid":            int(b.LogicalChannelID),
			"mode":            b.Mode,
			"gtp_teid":        b.GtpTeid,
			"forwarding_teid": b.ForwardingTeid,
			"buffered":        b.Buffered,
		})
	}

	m := map[string]any{
		fieldCellID:               int(v.CellID),
		fieldRnti:                 int(v.Rnti),
		fieldImsi:                 strconv.FormatUint(v.Imsi, 10),
		fieldState:                v.State,
		"transaction_id":          int(v.TransactionID),
		"srs_config_index":        int(v.SrsConfigIndex),
		"transmission_mode":       int(v.TransmissionMode),
		"pending_reconfiguration": v.PendingReconfiguration,
		"bearers":                 bearers,
		"created_at":              formatTime(v.CreatedAt),
		"last_state_change":       formatTime(v.LastStateChange),
	}
	if h := v.Handover; h != nil {
		m["handover"] = map[string]any{
			"id":             h.ID,
			"role":           h.Role,
			"source_cell_id": int(h.SourceCellID),
			"target_cell_id": int(h.TargetCellID),
			"target_rnti":    int(h.TargetRnti),
		}
	}
	return m
}

func (v EventView) toMap() map[string]any {
	return map[string]any{
		"kind":      v.Kind,
		fieldCellID: int(v.CellID),
		fieldRnti:   int(v.Rnti),
		fieldImsi:   strconv.FormatUint(v.Imsi, 10),
		"old_state": v.OldState,
		"new_state": v.NewState,
		"reason":    v.Reason,
		"timestamp": formatTime(v.Timestamp),
	}
}

func contextListToStruct(views []ContextView) (*structpb.Struct, error) {
	list := make([]any, 0, len(views))
	for _, v := range views {
		list = append(list, v.toMap())
	}
	msg, err := structpb.NewStruct(map[string]any{fieldContexts: list})
	if err != nil {
		return nil, fmt.Errorf("encode context list: %w", err)
	}
	return msg, nil
}

// ContextViewFromStruct decodes a context payload.
func ContextViewFromStruct(s *structpb.Struct) ContextView {
	f := s.GetFields()
	v := ContextView{
		CellID:                 uint16(f[fieldCellID].GetNumberValue()),
		Rnti:                   uint16(f[fieldRnti].GetNumberValue()),
		Imsi:                   parseImsi(f[fieldImsi].GetStringValue()),
		State:                  f[fieldState].GetStringValue(),
		TransactionID:          uint8(f["transaction_id"].GetNumberValue()),
		SrsConfigIndex:         uint16(f["srs_config_index"].GetNumberValue()),
		TransmissionMode:       uint8(f["transmission_mode"].GetNumberValue()),
		PendingReconfiguration: f["pending_reconfiguration"].GetBoolValue(),
		CreatedAt:              parseTime(f["created_at"].GetStringValue()),
		LastStateChange:        parseTime(f["last_state_change"].GetStringValue()),
	}
	for _, item := range f["bearers"].GetListValue().GetValues() {
		b := item.GetStructValue().GetFields()
		v.Bearers = append(v.Bearers, BearerView{
			DrbID:            uint8(b["drb_id"].GetNumberValue()),
			ErabID:           uint8(b["erab_id"].GetNumberValue()),
			Qci:              uint8(b["qci"].GetNumberValue()),
			LogicalChannelID: uint8(b["lcid"].GetNumberValue()),
			Mode:             b["mode"].GetStringValue(),
			GtpTeid:          uint32(b["gtp_teid"].GetNumberValue()),
			ForwardingTeid:   uint32(b["forwarding_teid"].GetNumberValue()),
			Buffered:         int(b["buffered"].GetNumberValue()),
		})
	}
	if h := f["handover"].GetStructValue(); h != nil {
		hf := h.GetFields()
		v.Handover = &HandoverView{
			ID:           hf["id"].GetStringValue(),
			Role:         hf["role"].GetStringValue(),
			SourceCellID: uint16(hf["source_cell_id"].GetNumberValue()),
			TargetCellID: uint16(hf["target_cell_id"].GetNumberValue()),
			TargetRnti:   uint16(hf["target_rnti"].GetNumberValue()),
		}
	}
	return v
}

// EventViewFromStruct decodes an event payload.
func EventViewFromStruct(s *structpb.Struct) EventView {
	f := s.GetFields()
	return EventView{
		Kind:      f["kind"].GetStringValue(),
		CellID:    uint16(f[fieldCellID].GetNumberValue()),
		Rnti:      uint16(f[fieldRnti].GetNumberValue()),
		Imsi:      parseImsi(f[fieldImsi].GetStringValue()),
		OldState:  f["old_state"].GetStringValue(),
		NewState:  f["new_state"].GetStringValue(),
		Reason:    f["reason"].GetStringValue(),
		Timestamp: parseTime(f["timestamp"].GetStringValue()),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseImsi(s string) uint64 {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// -------------------------------------------------------------------------
// Request fields
// -------------------------------------------------------------------------

func hasField(s *structpb.Struct, name string) bool {
	_, ok := s.GetFields()[name]
	return ok
}

func numberField(s *structpb.Struct, name string, limit uint64) (uint64, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("%s: %w", name, ErrMissingField)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s: not a number: %w", name, ErrFieldRange)
	}
	f := n.NumberValue
	if f < 0 || f > float64(limit) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%s %v: %w", name, f, ErrFieldRange)
	}
	return uint64(f), nil
}

func uint8Field(s *structpb.Struct, name string) (uint8, error) {
	n, err := numberField(s, name, math.MaxUint8)
	return uint8(n), err
}

func uint16Field(s *structpb.Struct, name string) (uint16, error) {
	n, err := numberField(s, name, math.MaxUint16)
	return uint16(n), err
}

func uint32Field(s *structpb.Struct, name string) (uint32, error) {
	n, err := numberField(s, name, math.MaxUint32)
	return uint32(n), err
}
