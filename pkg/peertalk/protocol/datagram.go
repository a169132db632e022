package protocol

import (
	"github.com/jabolina/go-peertalk/pkg/peertalk/compat"
	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

// EncodeDatagram writes the 8-byte UDP datagram header (used for
// send_udp / send_udp_fast, distinct from the discovery framing) plus
// payload.
func EncodeDatagram(d types.UDPDatagram, buf []byte) (int, error) {
	if len(d.Payload) > 0xFFFF {
		return 0, types.NewError(types.KindMessageTooLarge, "datagram payload %d too large", len(d.Payload))
	}
	total := types.DatagramHeaderSize + len(d.Payload)
	if len(buf) < total {
		return 0, types.NewError(types.KindInvalidParam, "buffer too small for datagram")
	}

	copy(buf[0:4], types.DatagramMagic)
	compat.PutUint16(buf[4:6], d.SenderPort)
	compat.PutUint16(buf[6:8], uint16(len(d.Payload)))
	copy(buf[8:total], d.Payload)
	return total, nil
}

// DecodeDatagram parses a UDP datagram header and payload.
func DecodeDatagram(buf []byte) (types.UDPDatagram, error) {
	var d types.UDPDatagram
	if len(buf) < types.DatagramHeaderSize {
		return d, types.NewError(types.KindTruncated, "datagram too short: %d bytes", len(buf))
	}
	if string(buf[0:4]) != types.DatagramMagic {
		return d, types.NewError(types.KindMagic, "bad datagram magic")
	}
	d.SenderPort = compat.Uint16(buf[4:6])
	payloadLen := int(compat.Uint16(buf[6:8]))
	total := types.DatagramHeaderSize + payloadLen
	if len(buf) < total {
		return d, types.NewError(types.KindTruncated, "datagram truncated: need %d have %d", total, len(buf))
	}
	d.Payload = append([]byte(nil), buf[types.DatagramHeaderSize:total]...)
	return d, nil
}
