package codec

import (
	"github.com/dantte-lp/gorrc/internal/rrc"
)

// Information elements shared by several messages.

func encodeRach(e *encoder, r rrc.RachConfigDedicated) {
	e.uint(1, uint64(r.PreambleIndex))
	e.uint(2, uint64(r.PrachMaskIndex))
}

func decodeRach(b []byte, r *rrc.RachConfigDedicated) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			r.PreambleIndex = f.u8()
		case 2:
			r.PrachMaskIndex = f.u8()
		}
		return nil
	})
}

func encodeMobility(e *encoder, m rrc.MobilityControlInfo) {
	e.uint(1, uint64(m.TargetCellID))
	e.uint(2, uint64(m.NewUeIdentity))
	e.embed(3, func(e *encoder) { encodeRach(e, m.Rach) })
}

func decodeMobility(b []byte, m *rrc.MobilityControlInfo) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.TargetCellID = f.u16()
		case 2:
			m.NewUeIdentity = f.u16()
		case 3:
			return decodeRach(f.b, &m.Rach)
		}
		return nil
	})
}

func encodeRadioResource(e *encoder, rr rrc.RadioResourceConfig) {
	for _, s := range rr.Srbs {
		e.embed(1, func(e *encoder) {
			e.uint(1, uint64(s.SrbID))
			e.uint(2, uint64(s.LogicalChannelID))
			e.uint(3, uint64(s.Mode))
		})
	}
	for _, d := range rr.Drbs {
		e.embed(2, func(e *encoder) {
			e.uint(1, uint64(d.DrbID))
			e.uint(2, uint64(d.ErabID))
			e.uint(3, uint64(d.LogicalChannelID))
			e.uint(4, uint64(d.Mode))
			e.uint(5, uint64(d.Qci))
		})
	}
	for _, id := range rr.DrbsToRelease {
		// DRB identities are never zero, so the varint is always emitted.
		e.uint(3, uint64(id))
	}
	if rr.Physical != nil {
		e.embed(4, func(e *encoder) {
			e.uint(1, uint64(rr.Physical.TransmissionMode))
			e.uint(2, uint64(rr.Physical.SrsConfigIndex))
		})
	}
}

func decodeRadioResource(b []byte, rr *rrc.RadioResourceConfig) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			var s rrc.SrbToAddMod
			err := walk(f.b, func(f field) error {
				switch f.num {
				case 1:
					s.SrbID = f.u8()
				case 2:
					s.LogicalChannelID = f.u8()
				case 3:
					s.Mode = rrc.RlcMode(f.u)
				}
				return nil
			})
			if err != nil {
				return err
			}
			rr.Srbs = append(rr.Srbs, s)
		case 2:
			var d rrc.DrbToAddMod
			err := walk(f.b, func(f field) error {
				switch f.num {
				case 1:
					d.DrbID = f.u8()
				case 2:
					d.ErabID = f.u8()
				case 3:
					d.LogicalChannelID = f.u8()
				case 4:
					d.Mode = rrc.RlcMode(f.u)
				case 5:
					d.Qci = f.u8()
				}
				return nil
			})
			if err != nil {
				return err
			}
			rr.Drbs = append(rr.Drbs, d)
		case 3:
			rr.DrbsToRelease = append(rr.DrbsToRelease, f.u8())
		case 4:
			p := &rrc.PhysicalConfigDedicated{}
			err := walk(f.b, func(f field) error {
				switch f.num {
				case 1:
					p.TransmissionMode = f.u8()
				case 2:
					p.SrsConfigIndex = f.u16()
				}
				return nil
			})
			if err != nil {
				return err
			}
			rr.Physical = p
		}
		return nil
	})
}

func encodeMeas(e *encoder, m rrc.MeasConfig) {
	e.uint(1, uint64(m.MeasID))
	e.float(2, m.A3OffsetDB)
	e.float(3, m.HysteresisDB)
	e.duration(4, m.TimeToTrigger)
}

func decodeMeas(b []byte, m *rrc.MeasConfig) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.MeasID = f.u8()
		case 2:
			m.A3OffsetDB = f.float()
		case 3:
			m.HysteresisDB = f.float()
		case 4:
			m.TimeToTrigger = f.duration()
		}
		return nil
	})
}

func encodeQos(e *encoder, q rrc.Qos) {
	e.uint(1, uint64(q.Qci))
	e.uint(2, uint64(q.Arp))
	e.uint(3, q.GbrDl)
	e.uint(4, q.GbrUl)
	e.uint(5, q.MbrDl)
	e.uint(6, q.MbrUl)
}

func decodeQos(b []byte, q *rrc.Qos) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			q.Qci = f.u8()
		case 2:
			q.Arp = f.u8()
		case 3:
			q.GbrDl = f.u
		case 4:
			q.GbrUl = f.u
		case 5:
			q.MbrDl = f.u
		case 6:
			q.MbrUl = f.u
		}
		return nil
	})
}

func encodeErabToBeSetup(e *encoder, r rrc.ErabToBeSetup) {
	e.uint(1, uint64(r.ErabID))
	e.embed(2, func(e *encoder) { encodeQos(e, r.Qos) })
	e.bool(3, r.DlForwarding)
	e.uint(4, uint64(r.UlGtpTeid))
	e.addr(5, r.UlTransportAddr)
}

func decodeErabToBeSetup(b []byte, r *rrc.ErabToBeSetup) error {
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			r.ErabID = f.u8()
		case 2:
			err = decodeQos(f.b, &r.Qos)
		case 3:
			r.DlForwarding = f.bool()
		case 4:
			r.UlGtpTeid = f.u32()
		case 5:
			r.UlTransportAddr, err = f.addr()
		}
		return err
	})
}

func encodeErabAdmitted(e *encoder, a rrc.ErabAdmitted) {
	e.uint(1, uint64(a.ErabID))
	e.uint(2, uint64(a.DlForwardingTeid))
	e.addr(3, a.DlForwardingAddr)
}

func decodeErabAdmitted(b []byte, a *rrc.ErabAdmitted) error {
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			a.ErabID = f.u8()
		case 2:
			a.DlForwardingTeid = f.u32()
		case 3:
			a.DlForwardingAddr, err = f.addr()
		}
		return err
	})
}

func encodeSnStatus(e *encoder, s rrc.ErabSnStatus) {
	e.uint(1, uint64(s.ErabID))
	e.uint(2, uint64(s.UlCount))
	e.uint(3, uint64(s.DlCount))
}

func decodeSnStatus(b []byte, s *rrc.ErabSnStatus) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			s.ErabID = f.u8()
		case 2:
			s.UlCount = f.u32()
		case 3:
			s.DlCount = f.u32()
		}
		return nil
	})
}

func encodePreparation(e *encoder, p rrc.HandoverPreparationInfo) {
	e.uint(1, uint64(p.SourceRnti))
	e.uint(2, uint64(p.TransmissionMode))
	e.embed(3, func(e *encoder) { encodeMeas(e, p.Meas) })
	e.embed(4, func(e *encoder) { encodeRadioResource(e, p.RadioResource) })
}

func decodePreparation(b []byte, p *rrc.HandoverPreparationInfo) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			p.SourceRnti = f.u16()
		case 2:
			p.TransmissionMode = f.u8()
		case 3:
			return decodeMeas(f.b, &p.Meas)
		case 4:
			return decodeRadioResource(f.b, &p.RadioResource)
		}
		return nil
	})
}
