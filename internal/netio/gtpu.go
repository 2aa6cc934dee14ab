package netio

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// gtpMessageTypeGPDU is the G-PDU message type (TS 29.281 Section 6.1).
const gtpMessageTypeGPDU uint8 = 255

// EncodeGPDU frames payload as a GTPv1-U G-PDU on tunnel teid.
func EncodeGPDU(teid uint32, payload []byte) ([]byte, error) {
	options := gopacket.SerializeOptions{
		FixLengths: true,
	}
	buffer := gopacket.NewSerializeBuffer()

	gtpLayer := &layers.GTPv1U{
		Version:      1,
		ProtocolType: 1,
		MessageType:  gtpMessageTypeGPDU,
		TEID:         teid,
	}

	if err := gopacket.SerializeLayers(buffer, options, gtpLayer, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize G-PDU teid %#x: %w", teid, err)
	}
	return buffer.Bytes(), nil
}

// DecodeGPDU returns the tunnel and payload of a G-PDU. The payload is a
// copy and does not alias b.
func DecodeGPDU(b []byte) (uint32, []byte, error) {
	var gtp layers.GTPv1U
	if err := gtp.DecodeFromBytes(b, gopacket.NilDecodeFeedback); err != nil {
		return 0, nil, fmt.Errorf("decode GTP-U: %w", err)
	}
	if gtp.MessageType != gtpMessageTypeGPDU {
		return 0, nil, fmt.Errorf("message type %d: %w", gtp.MessageType, ErrNotGPDU)
	}

	payload := make([]byte, len(gtp.Payload))
	copy(payload, gtp.Payload)
	return gtp.TEID, payload, nil
}
