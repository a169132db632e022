package protocol

import (
	"testing"

	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
	"github.com/stretchr/testify/require"
)

func TestDiscovery_RoundTrip(t *testing.T) {
	p := types.DiscoveryPacket{
		Version:    types.ProtocolVersion,
		Type:       types.DiscoveryAnnounce,
		Flags:      0,
		SenderPort: 17391,
		Transports: types.TransportsTCP,
		Name:       "Alpha",
	}
	buf := make([]byte, EncodedDiscoverySize(len(p.Name)))
	n, err := EncodeDiscovery(p, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	decoded, err := DecodeDiscovery(buf)
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}

// Every single-bit corruption of an encoded discovery packet must
// produce a decode error, never a superficially-valid but semantically
// different packet.
func TestDiscovery_BitFlipAlwaysFails(t *testing.T) {
	p := types.DiscoveryPacket{
		Version:    types.ProtocolVersion,
		Type:       types.DiscoveryAnnounce,
		SenderPort: 7354,
		Transports: types.TransportsTCP,
		Name:       "TestPeer",
	}
	buf := make([]byte, EncodedDiscoverySize(len(p.Name)))
	n, err := EncodeDiscovery(p, buf)
	require.NoError(t, err)
	original := append([]byte(nil), buf[:n]...)

	for byteIdx := 0; byteIdx < n; byteIdx++ {
		for bit := 0; bit < 8; bit++ {
			corrupt := append([]byte(nil), original...)
			corrupt[byteIdx] ^= 1 << uint(bit)

			decoded, decErr := DecodeDiscovery(corrupt)
			if decErr == nil && decoded == p {
				t.Fatalf("byte %d bit %d: corruption silently decoded to the original packet", byteIdx, bit)
			}
		}
	}
}

func TestDiscovery_Errors(t *testing.T) {
	_, err := DecodeDiscovery([]byte("short"))
	require.Error(t, err)
	require.Equal(t, types.KindTruncated, types.KindOf(err))

	buf := make([]byte, EncodedDiscoverySize(0))
	_, _ = EncodeDiscovery(types.DiscoveryPacket{Type: types.DiscoveryQuery}, buf)
	buf[0] = 'X'
	_, err = DecodeDiscovery(buf)
	require.Equal(t, types.KindMagic, types.KindOf(err))
}

func FuzzDiscoveryDecode(f *testing.F) {
	p := types.DiscoveryPacket{
		Version:    types.ProtocolVersion,
		Type:       types.DiscoveryQuery,
		SenderPort: 7354,
		Transports: types.TransportsTCP,
		Name:       "Seed",
	}
	buf := make([]byte, EncodedDiscoverySize(len(p.Name)))
	n, _ := EncodeDiscovery(p, buf)
	f.Add(buf[:n])
	f.Add([]byte("PTLK"))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		// DecodeDiscovery must never read past len(data) (no panics,
		// no out-of-bounds slices) regardless of what it's fed.
		_, _ = DecodeDiscovery(data)
	})
}
