package core

import (
	"github.com/jabolina/go-peertalk/pkg/peertalk/compat"
	"github.com/jabolina/go-peertalk/pkg/peertalk/protocol"
	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

// feedIncoming drives the incremental parse cursor for one peer's byte
// stream: it accumulates header and payload bytes across however many
// TCPRecvNonblocking calls it takes, dispatching a frame the instant it
// is complete. A single call may dispatch zero, one or many frames.
func (c *Context) feedIncoming(p *PeerRecord, data []byte) error {
	cur := &p.cursor
	off := 0
	for off < len(data) {
		if !cur.haveHeader {
			need := types.MessageHeaderSize - cur.headerFilled
			n := copy(cur.headerBuf[cur.headerFilled:], data[off:off+min(need, len(data)-off)])
			cur.headerFilled += n
			off += n
			if cur.headerFilled < types.MessageHeaderSize {
				continue
			}
			frame, payloadLen, err := protocol.DecodeFrameHeader(cur.headerBuf[:])
			if err != nil {
				return err
			}
			cur.frame = frame
			cur.payloadWant = payloadLen
			cur.payloadHave = 0
			cur.payloadBuf = make([]byte, payloadLen)
			cur.haveHeader = true
			if payloadLen == 0 {
				if err := c.dispatchFrame(p, cur.frame, nil); err != nil {
					return err
				}
				cur.haveHeader = false
				cur.headerFilled = 0
			}
			continue
		}

		need := cur.payloadWant - cur.payloadHave
		n := copy(cur.payloadBuf[cur.payloadHave:], data[off:off+min(need, len(data)-off)])
		cur.payloadHave += n
		off += n
		if cur.payloadHave < cur.payloadWant {
			continue
		}
		if err := c.dispatchFrame(p, cur.frame, cur.payloadBuf); err != nil {
			return err
		}
		cur.haveHeader = false
		cur.headerFilled = 0
		cur.payloadBuf = nil
		cur.payloadWant = 0
		cur.payloadHave = 0
	}
	return nil
}

// dispatchFrame routes a fully-decoded frame by type, per §4.6/§4.8.
func (c *Context) dispatchFrame(p *PeerRecord, f types.MessageFrame, payload []byte) error {
	p.lastSeenTick = c.nowTick
	received := uint64(types.MessageHeaderSize + len(payload))
	p.stats.bytesReceived += received
	c.stats.BytesReceived += received

	switch f.Type {
	case types.MessageData:
		p.stats.messagesReceived++
		c.stats.MessagesReceived++
		delivered := payload
		if len(payload) > SlotPayloadSize {
			if err := p.recvDirect.Receive(payload); err != nil {
				return err
			}
			delivered = p.recvDirect.Bytes()
		}
		c.queueCallback(pendingCallback{kind: cbMessage, peer: snapshot(p), data: append([]byte(nil), delivered...)})
		return nil

	case types.MessageCapability:
		return c.handleCapability(p, payload)

	case types.MessageAck:
		return c.handlePressureReport(p, payload)

	case types.MessageDisconnect:
		return c.handleRemoteDisconnect(p, payload)

	case types.MessageFragmentStart:
		return beginReassembly(&p.reassembly, f.Sequence, payload)

	case types.MessageFragmentCont:
		bound := reassemblyMaxBytes(c.effectiveMaxFor(p), c.config.FragmentCap)
		return appendReassembly(&p.reassembly, payload, bound)

	case types.MessageFragmentEnd:
		bound := reassemblyMaxBytes(c.effectiveMaxFor(p), c.config.FragmentCap)
		full, err := finishReassembly(&p.reassembly, payload, bound)
		if err != nil {
			return err
		}
		p.stats.messagesReceived++
		c.stats.MessagesReceived++
		c.queueCallback(pendingCallback{kind: cbMessage, peer: snapshot(p), data: full})
		return nil

	default:
		return types.NewError(types.KindInternal, "unhandled message type %d", f.Type)
	}
}

// handleCapability applies an incoming CAPABILITY announcement: the
// 4-byte payload is peer_max_message (u16) followed by
// peer_preferred_chunk (u16), both big-endian. A peer still CONNECTING
// transitions to CONNECTED here — capabilities exchanged is what
// CONNECTED means (§4.4/§4.6), not just the TCP handshake completing.
func (c *Context) handleCapability(p *PeerRecord, payload []byte) error {
	if len(payload) < 4 {
		return types.NewError(types.KindTruncated, "capability payload too short: %d bytes", len(payload))
	}
	peerMax := int(compat.Uint16(payload[0:2]))
	peerChunk := int(compat.Uint16(payload[2:4]))
	effMax, effChunk := negotiateCapabilities(&p.capability, c.config.MaxMessageSize, c.config.DefaultChunk, peerMax, peerChunk)
	p.effectiveMax = effMax
	p.effectiveChunk = effChunk

	if p.state == types.PeerConnecting {
		if err := c.table.SetState(p, types.PeerConnected); err != nil {
			return err
		}
		c.logger.Infof("peer %d connected", p.id)
		c.queueCallback(pendingCallback{kind: cbConnected, peer: snapshot(p)})
	}
	return nil
}

// handlePressureReport applies an incoming 1-byte buffer-pressure
// percentage, reported by the peer whenever its own send-side pressure
// crosses a threshold (§4.5).
func (c *Context) handlePressureReport(p *PeerRecord, payload []byte) error {
	if len(payload) < 1 {
		return types.NewError(types.KindTruncated, "pressure report payload empty")
	}
	p.capability.advertisedPressure = int(payload[0])
	return nil
}

// handleRemoteDisconnect processes a graceful DISCONNECT: the 1-byte
// payload carries the peer's reason Kind.
func (c *Context) handleRemoteDisconnect(p *PeerRecord, payload []byte) error {
	reason := types.KindOK
	if len(payload) >= 1 {
		reason = types.Kind(payload[0])
	}
	_ = c.table.SetState(p, types.PeerDisconnecting)
	c.closePeerTransport(p)
	info := snapshot(p)
	id := p.id
	_ = c.table.Remove(id)
	c.queueCallback(pendingCallback{kind: cbDisconnected, peer: info, err: types.NewError(reason, "peer sent disconnect")})
	return nil
}

func (c *Context) closePeerTransport(p *PeerRecord) {
	if p.connHandle != nil {
		_ = c.transport.TCPClose(p.connHandle)
		p.connHandle = nil
	}
}
