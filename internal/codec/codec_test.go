package codec_test

import (
	"errors"
	"net/netip"
	"reflect"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dantte-lp/gorrc/internal/codec"
	"github.com/dantte-lp/gorrc/internal/rrc"
)

func sampleRadioResource() rrc.RadioResourceConfig {
	return rrc.RadioResourceConfig{
		Srbs: []rrc.SrbToAddMod{
			{SrbID: 0, LogicalChannelID: 0, Mode: rrc.RlcModeTM},
			{SrbID: 1, LogicalChannelID: 1, Mode: rrc.RlcModeAM},
		},
		Drbs: []rrc.DrbToAddMod{
			{DrbID: 1, ErabID: 5, LogicalChannelID: 3, Mode: rrc.RlcModeUM, Qci: 1},
			{DrbID: 2, ErabID: 6, LogicalChannelID: 4, Mode: rrc.RlcModeAM, Qci: 9},
		},
		DrbsToRelease: []uint8{3, 7},
		Physical:      &rrc.PhysicalConfigDedicated{TransmissionMode: 2, SrsConfigIndex: 37},
	}
}

// TestHandoverRequestAckCarriesCommand verifies that the handover command
// embedded in the acknowledgement survives serialization intact, since the
// source relays it to the terminal without looking inside.
func TestHandoverRequestAckCarriesCommand(t *testing.T) {
	t.Parallel()

	rr := sampleRadioResource()
	in := rrc.HandoverRequestAck{
		OldEnbUeX2apID: 12,
		NewEnbUeX2apID: 1,
		SourceCellID:   1,
		TargetCellID:   2,
		Admitted: []rrc.ErabAdmitted{
			{ErabID: 5, DlForwardingTeid: 0x0101, DlForwardingAddr: netip.MustParseAddr("10.0.0.2")},
			{ErabID: 6, DlForwardingTeid: 0x0102, DlForwardingAddr: netip.MustParseAddr("2001:db8::2")},
		},
		Command: rrc.ConnectionReconfiguration{
			TransactionID: 3,
			Meas:          &rrc.MeasConfig{MeasID: 1, A3OffsetDB: 3, HysteresisDB: 1.5, TimeToTrigger: 40 * time.Millisecond},
			Mobility: &rrc.MobilityControlInfo{
				TargetCellID:  2,
				NewUeIdentity: 1,
				Rach:          rrc.RachConfigDedicated{PreambleIndex: 52, PrachMaskIndex: 1},
			},
			RadioResource: &rr,
		},
	}

	b, err := codec.EncodeX2(in)
	if err != nil {
		t.Fatalf("EncodeX2: %v", err)
	}
	out, err := codec.DecodeX2(b)
	if err != nil {
		t.Fatalf("DecodeX2: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("DecodeX2 =\n%+v\nwant\n%+v", out, in)
	}

	// The command alone decodes as a downlink message.
	cmd, err := codec.EncodeDownlink(in.Command)
	if err != nil {
		t.Fatalf("EncodeDownlink: %v", err)
	}
	got, err := codec.DecodeDownlink(cmd)
	if err != nil {
		t.Fatalf("DecodeDownlink: %v", err)
	}
	if !reflect.DeepEqual(got, in.Command) {
		t.Errorf("DecodeDownlink = %+v, want %+v", got, in.Command)
	}
}

// TestHandoverRequestPreparation verifies the bearer list and the
// preparation information of a handover request.
func TestHandoverRequestPreparation(t *testing.T) {
	t.Parallel()

	in := rrc.HandoverRequest{
		OldEnbUeX2apID: 12,
		Cause:          rrc.CauseHandoverDesirableForRadioReasons,
		SourceCellID:   1,
		TargetCellID:   2,
		Imsi:           1001,
		UeAmbrDl:       100_000_000,
		UeAmbrUl:       50_000_000,
		Bearers: []rrc.ErabToBeSetup{{
			ErabID:          5,
			Qos:             rrc.Qos{Qci: 1, Arp: 2, GbrDl: 64000, GbrUl: 64000},
			DlForwarding:    true,
			UlGtpTeid:       0xabcdef,
			UlTransportAddr: netip.MustParseAddr("192.0.2.10"),
		}},
		Preparation: rrc.HandoverPreparationInfo{
			SourceRnti:       12,
			TransmissionMode: 1,
			Meas:             rrc.MeasConfig{MeasID: 1, A3OffsetDB: -2},
			RadioResource:    sampleRadioResource(),
		},
	}

	b, err := codec.EncodeX2(in)
	if err != nil {
		t.Fatalf("EncodeX2: %v", err)
	}
	out, err := codec.DecodeX2(b)
	if err != nil {
		t.Fatalf("DecodeX2: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("DecodeX2 =\n%+v\nwant\n%+v", out, in)
	}
}

// TestOptionalElementsStayAbsent verifies that nil optional elements are not
// turned into empty ones and that present-but-empty ones are kept.
func TestOptionalElementsStayAbsent(t *testing.T) {
	t.Parallel()

	tests := []rrc.ConnectionReconfiguration{
		{TransactionID: 1},
		{TransactionID: 2, Meas: &rrc.MeasConfig{}},
		{TransactionID: 3, RadioResource: &rrc.RadioResourceConfig{DrbsToRelease: []uint8{4}}},
	}

	for _, in := range tests {
		b, err := codec.EncodeDownlink(in)
		if err != nil {
			t.Fatalf("EncodeDownlink: %v", err)
		}
		out, err := codec.DecodeDownlink(b)
		if err != nil {
			t.Fatalf("DecodeDownlink: %v", err)
		}
		if !reflect.DeepEqual(out, in) {
			t.Errorf("DecodeDownlink = %+v, want %+v", out, in)
		}
	}
}

// TestUplinkMeasurementReport verifies negative RSRP values and the
// neighbour list.
func TestUplinkMeasurementReport(t *testing.T) {
	t.Parallel()

	in := rrc.MeasurementReport{
		MeasID:         1,
		ServingRsrpDBm: -101.5,
		Neighbours: []rrc.NeighbourMeasurement{
			{CellID: 2, RsrpDBm: -95},
			{CellID: 3, RsrpDBm: -120.25},
		},
	}
	b, err := codec.EncodeUplink(in)
	if err != nil {
		t.Fatalf("EncodeUplink: %v", err)
	}
	out, err := codec.DecodeUplink(b)
	if err != nil {
		t.Fatalf("DecodeUplink: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("DecodeUplink = %+v, want %+v", out, in)
	}

	kind, err := codec.Peek(b)
	if err != nil || kind != rrc.KindMeasurementReport {
		t.Errorf("Peek = %s, %v", kind, err)
	}
}

// TestUeDataPayloadDetached verifies that the decoded payload does not
// alias the receive buffer.
func TestUeDataPayloadDetached(t *testing.T) {
	t.Parallel()

	b, err := codec.EncodeX2(rrc.UeData{SourceCellID: 1, TargetCellID: 2, GtpTeid: 9, Payload: []byte("abc")})
	if err != nil {
		t.Fatalf("EncodeX2: %v", err)
	}
	msg, err := codec.DecodeX2(b)
	if err != nil {
		t.Fatalf("DecodeX2: %v", err)
	}
	for i := range b {
		b[i] = 0
	}
	if got := string(msg.(rrc.UeData).Payload); got != "abc" {
		t.Errorf("payload after buffer reuse = %q, want %q", got, "abc")
	}
}

// -------------------------------------------------------------------------
// Error handling
// -------------------------------------------------------------------------

// TestDecodeErrors verifies the sentinel returned for each kind of bad input.
func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	setup, _ := codec.EncodeDownlink(rrc.ConnectionSetup{TransactionID: 1, RadioResource: sampleRadioResource()})
	request, _ := codec.EncodeUplink(rrc.ConnectionRequest{UeIdentity: 1001})

	var unknown []byte
	unknown = protowire.AppendTag(unknown, 1, protowire.VarintType)
	unknown = protowire.AppendVarint(unknown, 200)

	tests := []struct {
		name   string
		decode func([]byte) error
		input  []byte
		want   error
	}{
		{
			name:   "truncated",
			decode: func(b []byte) error { _, err := codec.DecodeDownlink(b); return err },
			input:  setup[:len(setup)-3],
			want:   codec.ErrMalformed,
		},
		{
			name:   "unknown kind",
			decode: func(b []byte) error { _, err := codec.DecodeX2(b); return err },
			input:  unknown,
			want:   codec.ErrUnknownKind,
		},
		{
			name:   "empty frame",
			decode: func(b []byte) error { _, err := codec.DecodeUplink(b); return err },
			input:  nil,
			want:   codec.ErrUnknownKind,
		},
		{
			name:   "uplink through downlink decoder",
			decode: func(b []byte) error { _, err := codec.DecodeDownlink(b); return err },
			input:  request,
			want:   codec.ErrWrongDirection,
		},
		{
			name:   "downlink through x2 decoder",
			decode: func(b []byte) error { _, err := codec.DecodeX2(b); return err },
			input:  setup,
			want:   codec.ErrWrongDirection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.decode(tt.input); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

// TestBadAddress verifies that a transport address of the wrong length is
// rejected.
func TestBadAddress(t *testing.T) {
	t.Parallel()

	var admitted []byte
	admitted = protowire.AppendTag(admitted, 3, protowire.BytesType)
	admitted = protowire.AppendBytes(admitted, []byte{10, 0, 0})

	var body []byte
	body = protowire.AppendTag(body, 5, protowire.BytesType)
	body = protowire.AppendBytes(body, admitted)

	var frame []byte
	frame = protowire.AppendTag(frame, 1, protowire.VarintType)
	frame = protowire.AppendVarint(frame, uint64(rrc.KindHandoverRequestAck))
	frame = protowire.AppendTag(frame, 2, protowire.BytesType)
	frame = protowire.AppendBytes(frame, body)

	if _, err := codec.DecodeX2(frame); !errors.Is(err, codec.ErrMalformed) {
		t.Errorf("DecodeX2 error = %v, want ErrMalformed", err)
	}
}

// TestOversizedIntegers verifies that a varint wider than the field it
// decodes into is rejected instead of being truncated.
func TestOversizedIntegers(t *testing.T) {
	t.Parallel()

	reestablishment := func(crnti uint64) []byte {
		var body []byte
		body = protowire.AppendTag(body, 1, protowire.VarintType)
		body = protowire.AppendVarint(body, crnti)
		body = protowire.AppendTag(body, 2, protowire.VarintType)
		body = protowire.AppendVarint(body, 1)

		var frame []byte
		frame = protowire.AppendTag(frame, 1, protowire.VarintType)
		frame = protowire.AppendVarint(frame, uint64(rrc.KindConnectionReestablishmentRequest))
		frame = protowire.AppendTag(frame, 2, protowire.BytesType)
		frame = protowire.AppendBytes(frame, body)
		return frame
	}

	tests := []struct {
		name    string
		crnti   uint64
		wantErr error
	}{
		{name: "largest rnti", crnti: 65535},
		{name: "rnti beyond 16 bits", crnti: 70000, wantErr: codec.ErrMalformed},
		{name: "rnti beyond 32 bits", crnti: 1 << 40, wantErr: codec.ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg, err := codec.DecodeUplink(reestablishment(tt.crnti))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeUplink error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeUplink: %v", err)
			}
			req, ok := msg.(rrc.ConnectionReestablishmentRequest)
			if !ok || uint64(req.UeIdentity.CRnti) != tt.crnti {
				t.Errorf("decoded = %+v, want crnti %d", msg, tt.crnti)
			}
		})
	}
}

// TestUnknownFieldsSkipped verifies forward compatibility: fields this
// version does not know are ignored.
func TestUnknownFieldsSkipped(t *testing.T) {
	t.Parallel()

	var body []byte
	body = protowire.AppendTag(body, 1, protowire.VarintType)
	body = protowire.AppendVarint(body, 1001)
	body = protowire.AppendTag(body, 99, protowire.BytesType)
	body = protowire.AppendBytes(body, []byte("future"))
	body = protowire.AppendTag(body, 98, protowire.Fixed32Type)
	body = protowire.AppendFixed32(body, 7)

	var frame []byte
	frame = protowire.AppendTag(frame, 1, protowire.VarintType)
	frame = protowire.AppendVarint(frame, uint64(rrc.KindConnectionRequest))
	frame = protowire.AppendTag(frame, 2, protowire.BytesType)
	frame = protowire.AppendBytes(frame, body)

	msg, err := codec.DecodeUplink(frame)
	if err != nil {
		t.Fatalf("DecodeUplink: %v", err)
	}
	if msg != (rrc.ConnectionRequest{UeIdentity: 1001}) {
		t.Errorf("DecodeUplink = %+v", msg)
	}
}
