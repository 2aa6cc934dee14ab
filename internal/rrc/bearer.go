package rrc

import (
	"fmt"
	"net/netip"
	"strings"
)

// RlcMode is the reliability mode of a radio bearer.
type RlcMode uint8

const (
	// RlcModeTM is transparent mode, used by SRB0 only.
	RlcModeTM RlcMode = iota

	// RlcModeUM is unacknowledged (best-effort) mode.
	RlcModeUM

	// RlcModeAM is acknowledged (lossless, retransmitting) mode.
	RlcModeAM
)

// String returns the human-readable mode.
func (m RlcMode) String() string {
	switch m {
	case RlcModeTM:
		return "TM"
	case RlcModeUM:
		return "UM"
	case RlcModeAM:
		return "AM"
	default:
		return "Unknown"
	}
}

// Lossless reports whether the mode retransmits lost PDUs.
func (m RlcMode) Lossless() bool {
	return m == RlcModeAM
}

// Qos is the EPS bearer level QoS (TS 23.203 Section 6.1.7).
type Qos struct {
	Qci   uint8
	Arp   uint8
	GbrDl uint64
	GbrUl uint64
	MbrDl uint64
	MbrUl uint64
}

// IsGbr reports whether the QCI is a guaranteed bit rate class.
func (q Qos) IsGbr() bool {
	return q.Qci >= 1 && q.Qci <= 4
}

// qciPacketErrorLossRate is the standardized packet error loss rate per QCI
// (TS 23.203 Table 6.1.7).
//
//nolint:gochecknoglobals // lookup table.
var qciPacketErrorLossRate = [...]float64{
	0: 1.0,
	1: 1e-2,
	2: 1e-3,
	3: 1e-3,
	4: 1e-6,
	5: 1e-6,
	6: 1e-6,
	7: 1e-3,
	8: 1e-6,
	9: 1e-6,
}

// PacketErrorLossRate returns the PELR of the QoS class, or 1 for an
// unknown class.
func (q Qos) PacketErrorLossRate() float64 {
	if int(q.Qci) < len(qciPacketErrorLossRate) {
		return qciPacketErrorLossRate[q.Qci]
	}
	return 1.0
}

// BearerPolicy selects the RLC mode of new data bearers.
type BearerPolicy uint8

const (
	// PolicyLossRateBased uses AM when the QCI tolerates less than 1e-5
	// packet loss and UM otherwise.
	PolicyLossRateBased BearerPolicy = iota

	// PolicyAlwaysLossless uses AM for every data bearer.
	PolicyAlwaysLossless

	// PolicyAlwaysBestEffort uses UM for every data bearer.
	PolicyAlwaysBestEffort
)

// lossRateThreshold is the PELR below which PolicyLossRateBased picks AM.
const lossRateThreshold = 1e-5

// Mode returns the RLC mode for a bearer with qos.
func (p BearerPolicy) Mode(qos Qos) RlcMode {
	switch p {
	case PolicyAlwaysLossless:
		return RlcModeAM
	case PolicyAlwaysBestEffort:
		return RlcModeUM
	default:
		if qos.PacketErrorLossRate() < lossRateThreshold {
			return RlcModeAM
		}
		return RlcModeUM
	}
}

// String returns the configuration name of the policy.
func (p BearerPolicy) String() string {
	switch p {
	case PolicyLossRateBased:
		return "loss_rate_based"
	case PolicyAlwaysLossless:
		return "always_lossless"
	case PolicyAlwaysBestEffort:
		return "always_best_effort"
	default:
		return "unknown"
	}
}

// ParseBearerPolicy maps a configuration name to a BearerPolicy.
func ParseBearerPolicy(s string) (BearerPolicy, error) {
	switch strings.ToLower(s) {
	case "loss_rate_based", "":
		return PolicyLossRateBased, nil
	case "always_lossless":
		return PolicyAlwaysLossless, nil
	case "always_best_effort":
		return PolicyAlwaysBestEffort, nil
	default:
		return 0, fmt.Errorf("unknown bearer policy %q", s)
	}
}

// ErabID maps an external (core network) bearer identifier onto the E-RAB
// identity used on the radio side: the identity on the low byte.
func ErabID(externalBearerID uint32) uint8 {
	return uint8(externalBearerID & 0xff) //nolint:gosec // G115: masked.
}

// -------------------------------------------------------------------------
// Bearers
// -------------------------------------------------------------------------

const (
	// Srb0LogicalChannel carries CCCH (RRCConnectionRequest/Setup).
	Srb0LogicalChannel = 0

	// Srb1LogicalChannel carries DCCH.
	Srb1LogicalChannel = 1
)

// SignallingBearer is one of the two always-present SRBs.
type SignallingBearer struct {
	SrbID            uint8
	LogicalChannelID uint8
	Mode             RlcMode
}

// defaultSignallingBearers returns SRB0 (best effort) and SRB1 (lossless).
func defaultSignallingBearers() [2]SignallingBearer {
	return [2]SignallingBearer{
		{SrbID: 0, LogicalChannelID: Srb0LogicalChannel, Mode: RlcModeTM},
		{SrbID: 1, LogicalChannelID: Srb1LogicalChannel, Mode: RlcModeAM},
	}
}

// DataBearer is one data radio bearer of a TerminalContext.
type DataBearer struct {
	DrbID            uint8
	ErabID           uint8
	Qos              Qos
	LogicalChannelID uint8
	Mode             RlcMode

	// GtpTeid and TransportAddr are the S1-U uplink tunnel endpoint in the
	// core network.
	GtpTeid       uint32
	TransportAddr netip.Addr

	// dlTeid is the local S1-U downlink tunnel announced in a path switch.
	dlTeid uint32

	// ForwardingTeid is the local X2-U tunnel that receives data forwarded
	// by a handover source. Zero when no forwarding tunnel exists.
	ForwardingTeid uint32

	// PeerForwardingTeid and PeerForwardingAddr are the target's X2-U
	// tunnel while this context is leaving.
	PeerForwardingTeid uint32
	PeerForwardingAddr netip.Addr

	// UlCount and DlCount are the PDCP COUNT values reported in
	// SN Status Transfer.
	UlCount uint32
	DlCount uint32

	// Started is false until the terminal has been told about the bearer.
	Started bool

	// forwarded holds X2-U data received before the terminal arrived.
	forwarded [][]byte

	// announced is true once a reconfiguration or handover command has
	// carried the bearer to the terminal.
	announced bool
}

func (b *DataBearer) signalled() bool { return b.announced }

func (b *DataBearer) markSignalled() { b.announced = true }

// DownlinkTeid returns the local S1-U downlink tunnel identifier.
func (b *DataBearer) DownlinkTeid() uint32 { return b.dlTeid }

// downlinkTeid derives the S1-U downlink tunnel of a bearer from its RNTI
// and DRB identity; forwarding tunnels use a separate pool.
func downlinkTeid(rnti uint16, drbID uint8) uint32 {
	return uint32(rnti)<<8 | uint32(drbID)
}

// toAddMod renders the bearer as a DRB-ToAddMod.
func (b *DataBearer) toAddMod() DrbToAddMod {
	return DrbToAddMod{
		DrbID:            b.DrbID,
		ErabID:           b.ErabID,
		LogicalChannelID: b.LogicalChannelID,
		Mode:             b.Mode,
		Qci:              b.Qos.Qci,
	}
}

// LogicalChannelConfig is what the MAC needs to schedule a logical channel.
type LogicalChannelConfig struct {
	LogicalChannelID uint8
	Priority         uint8
	Gbr              bool
	GbrUl            uint64
	MbrUl            uint64
}

// maxBufferedForwardPackets bounds per-bearer buffering of X2-U data while
// the terminal has not arrived yet.
const maxBufferedForwardPackets = 1024
