package protocol

import (
	"testing"

	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	f := types.MessageFrame{
		Version: types.ProtocolVersion,
		Type:    types.MessageData,
		Flags:   0,
		Sequence: 7,
		Payload:  []byte("Hello from server!"),
	}
	buf := make([]byte, types.MessageHeaderSize+len(f.Payload))
	n, err := EncodeFrame(f, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	decoded, err := DecodeFrame(buf)
	require.NoError(t, err)
	require.Equal(t, f.Type, decoded.Type)
	require.Equal(t, f.Payload, decoded.Payload)
}

func TestFrame_RejectsBadType(t *testing.T) {
	buf := make([]byte, types.MessageHeaderSize)
	copy(buf[0:4], types.MessageMagic)
	buf[4] = types.ProtocolVersion
	buf[5] = 99 // reserved/out of range

	_, err := DecodeFrameHeader(buf)
	require.Error(t, err)
}

func TestFrame_IncrementalHeaderThenPayload(t *testing.T) {
	f := types.MessageFrame{
		Version:  types.ProtocolVersion,
		Type:     types.MessageFragmentCont,
		Sequence: 3,
		Payload:  make([]byte, 2000),
	}
	for i := range f.Payload {
		f.Payload[i] = byte(i % 256)
	}
	buf := make([]byte, types.MessageHeaderSize+len(f.Payload))
	_, err := EncodeFrame(f, buf)
	require.NoError(t, err)

	header, payloadLen, err := DecodeFrameHeader(buf[:types.MessageHeaderSize])
	require.NoError(t, err)
	require.Equal(t, len(f.Payload), payloadLen)
	require.Equal(t, f.Type, header.Type)

	full, err := DecodeFrame(buf)
	require.NoError(t, err)
	require.Equal(t, f.Payload, full.Payload)
}
