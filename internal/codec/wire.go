package codec

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Sentinel errors for decoding.
var (
	// ErrMalformed indicates bytes that are not a valid wire encoding.
	ErrMalformed = errors.New("malformed message")

	// ErrUnknownKind indicates a frame with a kind this codec does not know.
	ErrUnknownKind = errors.New("unknown message kind")

	// ErrWrongDirection indicates a valid frame decoded through the wrong
	// entry point, e.g. a downlink message passed to DecodeUplink.
	ErrWrongDirection = errors.New("message kind not valid in this direction")
)

// Frame field numbers.
const (
	frameKind protowire.Number = 1
	frameBody protowire.Number = 2
)

// -------------------------------------------------------------------------
// Encoder
// -------------------------------------------------------------------------

type encoder struct {
	b []byte
}

func (e *encoder) uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *encoder) bool(num protowire.Number, v bool) {
	if v {
		e.uint(num, 1)
	}
}

func (e *encoder) float(num protowire.Number, v float64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.Fixed64Type)
	e.b = protowire.AppendFixed64(e.b, math.Float64bits(v))
}

func (e *encoder) duration(num protowire.Number, d time.Duration) {
	e.uint(num, protowire.EncodeZigZag(int64(d)))
}

func (e *encoder) bytes(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

func (e *encoder) addr(num protowire.Number, a netip.Addr) {
	if a.IsValid() {
		e.bytes(num, a.AsSlice())
	}
}

// embed writes a nested element. It is emitted even when empty so that
// optional elements keep their presence.
func (e *encoder) embed(num protowire.Number, fn func(*encoder)) {
	var sub encoder
	fn(&sub)
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, sub.b)
}

// -------------------------------------------------------------------------
// Decoder
// -------------------------------------------------------------------------

type field struct {
	num protowire.Number
	typ protowire.Type
	u   uint64
	b   []byte

	// overflow receives the first narrowing failure; walk reports it once
	// the field callback returns.
	overflow *error
}

func (f field) u8() uint8   { return uint8(f.narrow(math.MaxUint8)) }
func (f field) u16() uint16 { return uint16(f.narrow(math.MaxUint16)) }
func (f field) u32() uint32 { return uint32(f.narrow(math.MaxUint32)) }

// narrow returns the varint when it fits under limit. Otherwise it records
// ErrMalformed and returns zero.
func (f field) narrow(limit uint64) uint64 {
	if f.u <= limit {
		return f.u
	}
	if f.overflow != nil && *f.overflow == nil {
		*f.overflow = fmt.Errorf("%w: field %d: value %d exceeds %d", ErrMalformed, f.num, f.u, limit)
	}
	return 0
}

func (f field) bool() bool { return f.u != 0 }

func (f field) float() float64 { return math.Float64frombits(f.u) }

func (f field) duration() time.Duration {
	return time.Duration(protowire.DecodeZigZag(f.u))
}

func (f field) addr() (netip.Addr, error) {
	a, ok := netip.AddrFromSlice(f.b)
	if !ok {
		return netip.Addr{}, fmt.Errorf("%w: field %d: address of %d bytes", ErrMalformed, f.num, len(f.b))
	}
	return a, nil
}

// clone returns a copy of the field bytes, detached from the input buffer.
func (f field) clone() []byte {
	if len(f.b) == 0 {
		return nil
	}
	return append([]byte(nil), f.b...)
}

// walk calls fn for every field of b in order.
func walk(b []byte, fn func(f field) error) error {
	var overflow error
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ, overflow: &overflow}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u = uint64(v)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
		if overflow != nil {
			return overflow
		}
	}
	return nil
}
