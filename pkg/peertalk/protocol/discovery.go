package protocol

import (
	"github.com/jabolina/go-peertalk/pkg/peertalk/compat"
	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

// EncodeDiscovery writes a discovery packet: magic, version, type, flags,
// sender TCP port, transports bitmap, name length, name bytes, and a
// trailing CRC-16 over everything before it. It returns the number of
// bytes written.
func EncodeDiscovery(p types.DiscoveryPacket, buf []byte) (int, error) {
	if len(p.Name) > types.MaxNameLen {
		return 0, types.NewError(types.KindInvalidParam, "discovery name longer than %d bytes", types.MaxNameLen)
	}
	total := types.DiscoveryHeaderSize + len(p.Name) + 2
	if len(buf) < total {
		return 0, types.NewError(types.KindInvalidParam, "buffer too small for discovery packet")
	}

	copy(buf[0:4], types.DiscoveryMagic)
	buf[4] = types.ProtocolVersion
	buf[5] = byte(p.Type)
	compat.PutUint16(buf[6:8], p.Flags)
	compat.PutUint16(buf[8:10], p.SenderPort)
	buf[10] = p.Transports
	buf[11] = byte(len(p.Name))
	copy(buf[12:12+len(p.Name)], p.Name)

	crcEnd := 12 + len(p.Name)
	crc := CRC16(buf[0:crcEnd])
	compat.PutUint16(buf[crcEnd:crcEnd+2], crc)

	return total, nil
}

// DecodeDiscovery parses a discovery packet, validating magic, version
// and CRC. It never reads past len(buf).
func DecodeDiscovery(buf []byte) (types.DiscoveryPacket, error) {
	var p types.DiscoveryPacket
	if len(buf) < types.DiscoveryHeaderSize+2 {
		return p, types.NewError(types.KindTruncated, "discovery packet too short: %d bytes", len(buf))
	}
	if string(buf[0:4]) != types.DiscoveryMagic {
		return p, types.NewError(types.KindMagic, "bad discovery magic")
	}
	version := buf[4]
	if version != types.ProtocolVersion {
		return p, types.NewError(types.KindVersion, "unsupported discovery version %d", version)
	}

	nameLen := int(buf[11])
	total := types.DiscoveryHeaderSize + nameLen + 2
	if len(buf) < total {
		return p, types.NewError(types.KindTruncated, "discovery packet truncated: need %d have %d", total, len(buf))
	}

	crcEnd := 12 + nameLen
	wantCRC := compat.Uint16(buf[crcEnd : crcEnd+2])
	gotCRC := CRC16(buf[0:crcEnd])
	if wantCRC != gotCRC {
		return p, types.NewError(types.KindCRC, "discovery crc mismatch: want %#04x got %#04x", wantCRC, gotCRC)
	}

	p.Version = version
	p.Type = types.DiscoveryType(buf[5])
	p.Flags = compat.Uint16(buf[6:8])
	p.SenderPort = compat.Uint16(buf[8:10])
	p.Transports = buf[10]
	p.Name = string(buf[12:crcEnd])

	if p.Type != types.DiscoveryAnnounce && p.Type != types.DiscoveryQuery && p.Type != types.DiscoveryGoodbye {
		return p, types.NewError(types.KindInternal, "unknown discovery type %d", p.Type)
	}

	return p, nil
}

// EncodedDiscoverySize returns the total wire size for a packet with the
// given name length, useful for callers sizing their send buffer.
func EncodedDiscoverySize(nameLen int) int {
	return types.DiscoveryHeaderSize + nameLen + 2
}
