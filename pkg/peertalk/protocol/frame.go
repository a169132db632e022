package protocol

import (
	"github.com/jabolina/go-peertalk/pkg/peertalk/compat"
	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

// EncodeFrame writes the 10-byte TCP message header followed by the
// payload. TCP already guarantees integrity, so there is no CRC here.
func EncodeFrame(f types.MessageFrame, buf []byte) (int, error) {
	if !f.Type.IsValid() {
		return 0, types.NewError(types.KindInvalidParam, "invalid message type %d", f.Type)
	}
	if len(f.Payload) > 0xFFFF {
		return 0, types.NewError(types.KindMessageTooLarge, "payload %d exceeds frame limit", len(f.Payload))
	}
	total := types.MessageHeaderSize + len(f.Payload)
	if len(buf) < total {
		return 0, types.NewError(types.KindInvalidParam, "buffer too small for message frame")
	}

	copy(buf[0:4], types.MessageMagic)
	buf[4] = types.ProtocolVersion
	buf[5] = byte(f.Type)
	buf[6] = f.Flags
	buf[7] = f.Sequence
	compat.PutUint16(buf[8:10], uint16(len(f.Payload)))
	copy(buf[10:total], f.Payload)

	return total, nil
}

// DecodeFrameHeader parses only the fixed 10-byte header, returning the
// payload length so the caller can accumulate that many more bytes
// before calling DecodeFrame. Used by the receive engine's incremental
// parse cursor.
func DecodeFrameHeader(buf []byte) (types.MessageFrame, int, error) {
	var f types.MessageFrame
	if len(buf) < types.MessageHeaderSize {
		return f, 0, types.NewError(types.KindTruncated, "message header too short: %d bytes", len(buf))
	}
	if string(buf[0:4]) != types.MessageMagic {
		return f, 0, types.NewError(types.KindMagic, "bad message magic")
	}
	version := buf[4]
	if version != types.ProtocolVersion {
		return f, 0, types.NewError(types.KindVersion, "unsupported message version %d", version)
	}
	mtype := types.MessageType(buf[5])
	if !mtype.IsValid() {
		return f, 0, types.NewError(types.KindInternal, "unknown message type %d", mtype)
	}

	f.Version = version
	f.Type = mtype
	f.Flags = buf[6]
	f.Sequence = buf[7]
	payloadLen := int(compat.Uint16(buf[8:10]))
	return f, payloadLen, nil
}

// DecodeFrame parses a full frame (header + complete payload already
// available). It never reads past len(buf).
func DecodeFrame(buf []byte) (types.MessageFrame, error) {
	f, payloadLen, err := DecodeFrameHeader(buf)
	if err != nil {
		return f, err
	}
	total := types.MessageHeaderSize + payloadLen
	if len(buf) < total {
		return f, types.NewError(types.KindTruncated, "message frame truncated: need %d have %d", total, len(buf))
	}
	f.Payload = append([]byte(nil), buf[types.MessageHeaderSize:total]...)
	return f, nil
}
