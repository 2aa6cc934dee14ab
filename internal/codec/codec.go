package codec

import (
	"fmt"

	"github.com/dantte-lp/gorrc/internal/rrc"
)

// direction groups message kinds by the interface they travel on.
type direction uint8

const (
	dirUplink direction = iota + 1
	dirDownlink
	dirX2
)

func kindDirection(k rrc.MessageKind) direction {
	switch {
	case k >= rrc.KindConnectionRequest && k <= rrc.KindMeasurementReport:
		return dirUplink
	case k >= rrc.KindConnectionSetup && k <= rrc.KindConnectionRelease:
		return dirDownlink
	case k >= rrc.KindHandoverRequest && k <= rrc.KindUeData:
		return dirX2
	default:
		return 0
	}
}

func frame(kind rrc.MessageKind, body func(*encoder)) []byte {
	var e encoder
	e.uint(frameKind, uint64(kind))
	e.embed(frameBody, body)
	return e.b
}

// Peek returns the kind of an encoded frame without decoding its body.
func Peek(b []byte) (rrc.MessageKind, error) {
	kind, _, err := unframe(b)
	return kind, err
}

func unframe(b []byte) (rrc.MessageKind, []byte, error) {
	var (
		kind rrc.MessageKind
		body []byte
	)
	err := walk(b, func(f field) error {
		switch f.num {
		case frameKind:
			kind = rrc.MessageKind(f.u)
		case frameBody:
			body = f.b
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	if kindDirection(kind) == 0 {
		return 0, nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	return kind, body, nil
}

func expect(kind rrc.MessageKind, want direction) error {
	if kindDirection(kind) != want {
		return fmt.Errorf("%w: %s", ErrWrongDirection, kind)
	}
	return nil
}

// -------------------------------------------------------------------------
// Uplink RRC
// -------------------------------------------------------------------------

// EncodeUplink serializes an uplink RRC message.
func EncodeUplink(msg rrc.UplinkMessage) ([]byte, error) {
	switch m := msg.(type) {
	case rrc.ConnectionRequest:
		return frame(m.Kind(), func(e *encoder) { e.uint(1, m.UeIdentity) }), nil
	case rrc.ConnectionSetupCompleted:
		return frame(m.Kind(), func(e *encoder) { e.uint(1, uint64(m.TransactionID)) }), nil
	case rrc.ConnectionReconfigurationCompleted:
		return frame(m.Kind(), func(e *encoder) { e.uint(1, uint64(m.TransactionID)) }), nil
	case rrc.ConnectionReestablishmentRequest:
		return frame(m.Kind(), func(e *encoder) {
			e.uint(1, uint64(m.UeIdentity.CRnti))
			e.uint(2, uint64(m.UeIdentity.PhysCellID))
			e.uint(3, uint64(m.Cause))
		}), nil
	case rrc.ConnectionReestablishmentComplete:
		return frame(m.Kind(), func(e *encoder) { e.uint(1, uint64(m.TransactionID)) }), nil
	case rrc.MeasurementReport:
		return frame(m.Kind(), func(e *encoder) {
			e.uint(1, uint64(m.MeasID))
			e.float(2, m.ServingRsrpDBm)
			for _, n := range m.Neighbours {
				e.embed(3, func(e *encoder) {
					e.uint(1, uint64(n.CellID))
					e.float(2, n.RsrpDBm)
				})
			}
		}), nil
	default:
		return nil, fmt.Errorf("encode uplink %T: %w", msg, ErrUnknownKind)
	}
}

// DecodeUplink parses an uplink RRC message.
func DecodeUplink(b []byte) (rrc.UplinkMessage, error) {
	kind, body, err := unframe(b)
	if err != nil {
		return nil, err
	}
	if err := expect(kind, dirUplink); err != nil {
		return nil, err
	}

	msg, err := decodeUplinkBody(kind, body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return msg, nil
}

func decodeUplinkBody(kind rrc.MessageKind, body []byte) (rrc.UplinkMessage, error) {
	var err error

	switch kind {
	case rrc.KindConnectionRequest:
		var m rrc.ConnectionRequest
		err = walk(body, func(f field) error {
			if f.num == 1 {
				m.UeIdentity = f.u
			}
			return nil
		})
		return m, err
	case rrc.KindConnectionSetupCompleted:
		tx, err := decodeTransaction(body)
		return rrc.ConnectionSetupCompleted{TransactionID: tx}, err
	case rrc.KindConnectionReconfigurationCompleted:
		tx, err := decodeTransaction(body)
		return rrc.ConnectionReconfigurationCompleted{TransactionID: tx}, err
	case rrc.KindConnectionReestablishmentRequest:
		var m rrc.ConnectionReestablishmentRequest
		err = walk(body, func(f field) error {
			switch f.num {
			case 1:
				m.UeIdentity.CRnti = f.u16()
			case 2:
				m.UeIdentity.PhysCellID = f.u16()
			case 3:
				m.Cause = rrc.ReestablishmentCause(f.u)
			}
			return nil
		})
		return m, err
	case rrc.KindConnectionReestablishmentComplete:
		tx, err := decodeTransaction(body)
		return rrc.ConnectionReestablishmentComplete{TransactionID: tx}, err
	default:
		var m rrc.MeasurementReport
		err = walk(body, func(f field) error {
			switch f.num {
			case 1:
				m.MeasID = f.u8()
			case 2:
				m.ServingRsrpDBm = f.float()
			case 3:
				var n rrc.NeighbourMeasurement
				err := walk(f.b, func(f field) error {
					switch f.num {
					case 1:
						n.CellID = f.u16()
					case 2:
						n.RsrpDBm = f.float()
					}
					return nil
				})
				m.Neighbours = append(m.Neighbours, n)
				return err
			}
			return nil
		})
		return m, err
	}
}

func decodeTransaction(body []byte) (uint8, error) {
	var tx uint8
	err := walk(body, func(f field) error {
		if f.num == 1 {
			tx = f.u8()
		}
		return nil
	})
	return tx, err
}

// -------------------------------------------------------------------------
// Downlink RRC
// -------------------------------------------------------------------------

// EncodeDownlink serializes a downlink RRC message.
func EncodeDownlink(msg rrc.DownlinkMessage) ([]byte, error) {
	switch m := msg.(type) {
	case rrc.ConnectionSetup:
		return frame(m.Kind(), func(e *encoder) {
			e.uint(1, uint64(m.TransactionID))
			e.embed(2, func(e *encoder) { encodeRadioResource(e, m.RadioResource) })
		}), nil
	case rrc.ConnectionReject:
		return frame(m.Kind(), func(e *encoder) { e.uint(1, uint64(m.WaitTime)) }), nil
	case rrc.ConnectionReconfiguration:
		return frame(m.Kind(), func(e *encoder) { encodeReconfiguration(e, m) }), nil
	case rrc.ConnectionReestablishment:
		return frame(m.Kind(), func(e *encoder) {
			e.uint(1, uint64(m.TransactionID))
			e.embed(2, func(e *encoder) { encodeRadioResource(e, m.RadioResource) })
		}), nil
	case rrc.ConnectionReestablishmentReject:
		return frame(m.Kind(), func(*encoder) {}), nil
	case rrc.ConnectionRelease:
		return frame(m.Kind(), func(e *encoder) { e.uint(1, uint64(m.TransactionID)) }), nil
	default:
		return nil, fmt.Errorf("encode downlink %T: %w", msg, ErrUnknownKind)
	}
}

// DecodeDownlink parses a downlink RRC message.
func DecodeDownlink(b []byte) (rrc.DownlinkMessage, error) {
	kind, body, err := unframe(b)
	if err != nil {
		return nil, err
	}
	if err := expect(kind, dirDownlink); err != nil {
		return nil, err
	}

	msg, err := decodeDownlinkBody(kind, body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return msg, nil
}

func decodeDownlinkBody(kind rrc.MessageKind, body []byte) (rrc.DownlinkMessage, error) {
	var err error

	switch kind {
	case rrc.KindConnectionSetup:
		var m rrc.ConnectionSetup
		err = walk(body, func(f field) error {
			switch f.num {
			case 1:
				m.TransactionID = f.u8()
			case 2:
				return decodeRadioResource(f.b, &m.RadioResource)
			}
			return nil
		})
		return m, err
	case rrc.KindConnectionReject:
		var m rrc.ConnectionReject
		err = walk(body, func(f field) error {
			if f.num == 1 {
				m.WaitTime = f.u8()
			}
			return nil
		})
		return m, err
	case rrc.KindConnectionReconfiguration:
		var m rrc.ConnectionReconfiguration
		err = decodeReconfiguration(body, &m)
		return m, err
	case rrc.KindConnectionReestablishment:
		var m rrc.ConnectionReestablishment
		err = walk(body, func(f field) error {
			switch f.num {
			case 1:
				m.TransactionID = f.u8()
			case 2:
				return decodeRadioResource(f.b, &m.RadioResource)
			}
			return nil
		})
		return m, err
	case rrc.KindConnectionReestablishmentReject:
		return rrc.ConnectionReestablishmentReject{}, nil
	default:
		tx, err := decodeTransaction(body)
		return rrc.ConnectionRelease{TransactionID: tx}, err
	}
}

func encodeReconfiguration(e *encoder, m rrc.ConnectionReconfiguration) {
	e.uint(1, uint64(m.TransactionID))
	if m.Meas != nil {
		e.embed(2, func(e *encoder) { encodeMeas(e, *m.Meas) })
	}
	if m.Mobility != nil {
		e.embed(3, func(e *encoder) { encodeMobility(e, *m.Mobility) })
	}
	if m.RadioResource != nil {
		e.embed(4, func(e *encoder) { encodeRadioResource(e, *m.RadioResource) })
	}
}

func decodeReconfiguration(b []byte, m *rrc.ConnectionReconfiguration) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.TransactionID = f.u8()
		case 2:
			m.Meas = &rrc.MeasConfig{}
			return decodeMeas(f.b, m.Meas)
		case 3:
			m.Mobility = &rrc.MobilityControlInfo{}
			return decodeMobility(f.b, m.Mobility)
		case 4:
			m.RadioResource = &rrc.RadioResourceConfig{}
			return decodeRadioResource(f.b, m.RadioResource)
		}
		return nil
	})
}

// -------------------------------------------------------------------------
// X2
// -------------------------------------------------------------------------

// x2Header is the identifier block common to X2AP messages.
func encodeX2Header(e *encoder, oldID, newID, source, target uint16) {
	e.uint(1, uint64(oldID))
	e.uint(2, uint64(newID))
	e.uint(3, uint64(source))
	e.uint(4, uint64(target))
}

// EncodeX2 serializes an X2 message.
func EncodeX2(msg rrc.X2Message) ([]byte, error) {
	switch m := msg.(type) {
	case rrc.HandoverRequest:
		return frame(m.Kind(), func(e *encoder) {
			encodeX2Header(e, m.OldEnbUeX2apID, 0, m.SourceCellID, m.TargetCellID)
			e.uint(5, uint64(m.Cause))
			e.uint(6, m.Imsi)
			e.uint(7, m.UeAmbrDl)
			e.uint(8, m.UeAmbrUl)
			for _, r := range m.Bearers {
				e.embed(9, func(e *encoder) { encodeErabToBeSetup(e, r) })
			}
			e.embed(10, func(e *encoder) { encodePreparation(e, m.Preparation) })
		}), nil
	case rrc.HandoverRequestAck:
		return frame(m.Kind(), func(e *encoder) {
			encodeX2Header(e, m.OldEnbUeX2apID, m.NewEnbUeX2apID, m.SourceCellID, m.TargetCellID)
			for _, a := range m.Admitted {
				e.embed(5, func(e *encoder) { encodeErabAdmitted(e, a) })
			}
			e.embed(6, func(e *encoder) { encodeReconfiguration(e, m.Command) })
		}), nil
	case rrc.HandoverPreparationFailure:
		return frame(m.Kind(), func(e *encoder) {
			encodeX2Header(e, m.OldEnbUeX2apID, 0, m.SourceCellID, m.TargetCellID)
			e.uint(5, uint64(m.Cause))
		}), nil
	case rrc.SnStatusTransfer:
		return frame(m.Kind(), func(e *encoder) {
			encodeX2Header(e, m.OldEnbUeX2apID, m.NewEnbUeX2apID, m.SourceCellID, m.TargetCellID)
			for _, s := range m.Bearers {
				e.embed(5, func(e *encoder) { encodeSnStatus(e, s) })
			}
		}), nil
	case rrc.UeContextRelease:
		return frame(m.Kind(), func(e *encoder) {
			encodeX2Header(e, m.OldEnbUeX2apID, m.NewEnbUeX2apID, m.SourceCellID, m.TargetCellID)
		}), nil
	case rrc.UeData:
		return frame(m.Kind(), func(e *encoder) {
			encodeX2Header(e, 0, 0, m.SourceCellID, m.TargetCellID)
			e.uint(5, uint64(m.GtpTeid))
			e.bytes(6, m.Payload)
		}), nil
	default:
		return nil, fmt.Errorf("encode x2 %T: %w", msg, ErrUnknownKind)
	}
}

type x2Header struct {
	oldID, newID   uint16
	source, target uint16
}

// header consumes fields 1-4 and reports whether f was one of them.
func (h *x2Header) header(f field) bool {
	switch f.num {
	case 1:
		h.oldID = f.u16()
	case 2:
		h.newID = f.u16()
	case 3:
		h.source = f.u16()
	case 4:
		h.target = f.u16()
	default:
		return false
	}
	return true
}

// DecodeX2 parses an X2 message.
func DecodeX2(b []byte) (rrc.X2Message, error) {
	kind, body, err := unframe(b)
	if err != nil {
		return nil, err
	}
	if err := expect(kind, dirX2); err != nil {
		return nil, err
	}

	msg, err := decodeX2Body(kind, body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return msg, nil
}

func decodeX2Body(kind rrc.MessageKind, body []byte) (rrc.X2Message, error) {
	var err error

	var h x2Header
	switch kind {
	case rrc.KindHandoverRequest:
		var m rrc.HandoverRequest
		err = walk(body, func(f field) error {
			if h.header(f) {
				return nil
			}
			switch f.num {
			case 5:
				m.Cause = rrc.Cause(f.u)
			case 6:
				m.Imsi = f.u
			case 7:
				m.UeAmbrDl = f.u
			case 8:
				m.UeAmbrUl = f.u
			case 9:
				var r rrc.ErabToBeSetup
				if err := decodeErabToBeSetup(f.b, &r); err != nil {
					return err
				}
				m.Bearers = append(m.Bearers, r)
			case 10:
				return decodePreparation(f.b, &m.Preparation)
			}
			return nil
		})
		m.OldEnbUeX2apID, m.SourceCellID, m.TargetCellID = h.oldID, h.source, h.target
		return m, err

	case rrc.KindHandoverRequestAck:
		var m rrc.HandoverRequestAck
		err = walk(body, func(f field) error {
			if h.header(f) {
				return nil
			}
			switch f.num {
			case 5:
				var a rrc.ErabAdmitted
				if err := decodeErabAdmitted(f.b, &a); err != nil {
					return err
				}
				m.Admitted = append(m.Admitted, a)
			case 6:
				return decodeReconfiguration(f.b, &m.Command)
			}
			return nil
		})
		m.OldEnbUeX2apID, m.NewEnbUeX2apID = h.oldID, h.newID
		m.SourceCellID, m.TargetCellID = h.source, h.target
		return m, err

	case rrc.KindHandoverPreparationFailure:
		var m rrc.HandoverPreparationFailure
		err = walk(body, func(f field) error {
			if !h.header(f) && f.num == 5 {
				m.Cause = rrc.Cause(f.u)
			}
			return nil
		})
		m.OldEnbUeX2apID, m.SourceCellID, m.TargetCellID = h.oldID, h.source, h.target
		return m, err

	case rrc.KindSnStatusTransfer:
		var m rrc.SnStatusTransfer
		err = walk(body, func(f field) error {
			if !h.header(f) && f.num == 5 {
				var s rrc.ErabSnStatus
				if err := decodeSnStatus(f.b, &s); err != nil {
					return err
				}
				m.Bearers = append(m.Bearers, s)
			}
			return nil
		})
		m.OldEnbUeX2apID, m.NewEnbUeX2apID = h.oldID, h.newID
		m.SourceCellID, m.TargetCellID = h.source, h.target
		return m, err

	case rrc.KindUeContextRelease:
		err = walk(body, func(f field) error {
			h.header(f)
			return nil
		})
		return rrc.UeContextRelease{
			OldEnbUeX2apID: h.oldID,
			NewEnbUeX2apID: h.newID,
			SourceCellID:   h.source,
			TargetCellID:   h.target,
		}, err

	default:
		var m rrc.UeData
		err = walk(body, func(f field) error {
			if h.header(f) {
				return nil
			}
			switch f.num {
			case 5:
				m.GtpTeid = f.u32()
			case 6:
				m.Payload = f.clone()
			}
			return nil
		})
		m.SourceCellID, m.TargetCellID = h.source, h.target
		return m, err
	}
}
