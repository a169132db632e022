package core

import (
	"github.com/jabolina/go-peertalk/pkg/peertalk/protocol"
	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

// Send enqueues data for delivery to peer, at normal priority, with no
// coalescing. It is the common case; SendEx exposes every knob.
func (c *Context) Send(peerID uint16, data []byte) error {
	return c.SendEx(peerID, data, types.PriorityNormal, 0, types.NoCoalesceKey)
}

// SendEx implements the routing decision of §4.5: validate, check flow
// control, then route by size into the bounded priority queue, the
// fragmentation driver, or the single-slot direct buffer. It never
// blocks; the poll loop drains whichever tier the message landed in.
func (c *Context) SendEx(peerID uint16, data []byte, priority types.Priority, flags uint8, coalesceKey uint16) error {
	if err := c.checkMagic(); err != nil {
		return err
	}
	if !priority.Valid() {
		return types.NewError(types.KindInvalidParam, "invalid priority %d", priority)
	}
	p, ok := c.table.ByID(peerID)
	if !ok {
		return types.NewError(types.KindPeerNotFound, "peer %d not found", peerID)
	}
	if p.state != types.PeerConnected {
		return types.NewError(types.KindNotConnected, "peer %d is %s, not CONNECTED", peerID, p.state)
	}
	if len(data) > c.config.MaxMessageSize {
		return types.NewError(types.KindMessageTooLarge, "message %d exceeds max message size %d", len(data), c.config.MaxMessageSize)
	}

	if shouldThrottle(p.capability.advertisedPressure, priority) {
		return types.NewError(types.KindBackpressure, "peer %d reported pressure %d%% rejects priority %v", peerID, p.capability.advertisedPressure, priority)
	}

	effectiveMax := c.effectiveMaxFor(p)
	if shouldFragment(c.config.EnableFragmentation, len(data), effectiveMax) {
		bound := reassemblyMaxBytes(effectiveMax, c.config.FragmentCap)
		if len(data) > bound {
			return types.NewError(types.KindMessageTooLarge, "message %d exceeds fragmentation bound %d", len(data), bound)
		}
		return c.startFragmentedSend(p, data, priority, flags)
	}
	if len(data) > effectiveMax {
		return types.NewError(types.KindMessageTooLarge, "message %d exceeds effective max %d with fragmentation disabled", len(data), effectiveMax)
	}

	framed, err := encodeFramed(types.MessageData, 0, flags, data)
	if err != nil {
		return err
	}
	if len(framed) <= SlotPayloadSize {
		return p.sendQueue.PushCoalesce(framed, priority, coalesceKey)
	}
	return p.sendDirect.Queue(framed, priority, flags)
}

// encodeFramed wraps protocol.EncodeFrame with an owned, exactly-sized
// buffer; every outbound queue/buffer stores fully-framed wire bytes so
// the poll loop's drain path never needs to know message semantics.
func encodeFramed(mtype types.MessageType, seq uint8, flags uint8, payload []byte) ([]byte, error) {
	f := types.MessageFrame{Version: types.ProtocolVersion, Type: mtype, Flags: flags, Sequence: seq, Payload: payload}
	buf := make([]byte, types.MessageHeaderSize+len(payload))
	n, err := protocol.EncodeFrame(f, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// enqueueControlFrame frames and pushes a tiny protocol-internal
// message (CAPABILITY, pressure ACK, DISCONNECT) onto the peer's
// bounded queue at critical priority, ahead of ordinary traffic.
func (c *Context) enqueueControlFrame(p *PeerRecord, mtype types.MessageType, seq uint8, payload []byte) error {
	framed, err := encodeFramed(mtype, seq, 0, payload)
	if err != nil {
		return err
	}
	return p.sendQueue.Push(framed, types.PriorityCritical, 0)
}

func (c *Context) effectiveMaxFor(p *PeerRecord) int {
	if p.effectiveMax > 0 {
		return p.effectiveMax
	}
	return c.config.MaxMessageSize
}

func (c *Context) effectiveChunkFor(p *PeerRecord) int {
	if p.effectiveChunk > 0 {
		return p.effectiveChunk
	}
	return c.config.DefaultChunk
}

// startFragmentedSend splits data into effective-max-sized pieces, frames
// each one under a shared sequence id, and arms the peer's
// fragmentation driver; pieces are fed into the direct buffer one at a
// time by the poll loop.
func (c *Context) startFragmentedSend(p *PeerRecord, data []byte, priority types.Priority, flags uint8) error {
	if p.fragActive {
		return types.NewError(types.KindBusy, "peer %d already has a fragmented send in flight", p.id)
	}
	pieces, kinds := fragmentPieces(data, c.effectiveMaxFor(p))
	p.sendMsgIDCounter++
	msgID := p.sendMsgIDCounter

	framed := make([][]byte, len(pieces))
	for i, piece := range pieces {
		buf, err := encodeFramed(kinds[i], msgID, flags, piece)
		if err != nil {
			return err
		}
		framed[i] = buf
	}

	p.fragPieces = framed
	p.fragNext = 0
	p.fragPriority = priority
	p.fragFlags = flags
	p.fragID = msgID
	p.fragActive = true
	return nil
}

// StreamSend starts a large, multi-piece transfer using the same
// fragmentation driver as an oversized SendEx; it exists as a distinct
// entry point so callers can track and cancel it independently of the
// fragmentation threshold.
func (c *Context) StreamSend(peerID uint16, data []byte, priority types.Priority, flags uint8) error {
	if err := c.checkMagic(); err != nil {
		return err
	}
	p, ok := c.table.ByID(peerID)
	if !ok {
		return types.NewError(types.KindPeerNotFound, "peer %d not found", peerID)
	}
	if p.state != types.PeerConnected {
		return types.NewError(types.KindNotConnected, "peer %d is %s, not CONNECTED", peerID, p.state)
	}
	effectiveMax := c.effectiveMaxFor(p)
	bound := reassemblyMaxBytes(effectiveMax, c.config.FragmentCap)
	if len(data) > bound {
		return types.NewError(types.KindMessageTooLarge, "stream of %d bytes exceeds bound %d", len(data), bound)
	}
	return c.startFragmentedSend(p, data, priority, flags)
}

// StreamCancel aborts an in-flight fragmented/stream send, discarding
// any unsent pieces and returning the direct buffer to idle.
func (c *Context) StreamCancel(peerID uint16) error {
	if err := c.checkMagic(); err != nil {
		return err
	}
	p, ok := c.table.ByID(peerID)
	if !ok {
		return types.NewError(types.KindPeerNotFound, "peer %d not found", peerID)
	}
	if !p.fragActive && p.sendDirect.State() == DirectIdle {
		return types.NewError(types.KindInvalidState, "peer %d has no active stream", peerID)
	}
	p.fragActive = false
	p.fragPieces = nil
	p.fragNext = 0
	if p.sendDirect.State() != DirectIdle {
		p.sendDirect.Abort()
	}
	c.queueCallback(pendingCallback{kind: cbStreamComplete, peer: snapshot(p), err: types.NewError(types.KindCancelled, "stream cancelled")})
	return nil
}

// StreamActive reports whether a peer currently has a fragmented/stream
// send in flight.
func (c *Context) StreamActive(peerID uint16) (bool, error) {
	if err := c.checkMagic(); err != nil {
		return false, err
	}
	p, ok := c.table.ByID(peerID)
	if !ok {
		return false, types.NewError(types.KindPeerNotFound, "peer %d not found", peerID)
	}
	return p.fragActive || p.sendDirect.State() != DirectIdle, nil
}

// Broadcast sends data to every CONNECTED peer, collecting the first
// error encountered but still attempting every peer.
func (c *Context) Broadcast(data []byte, priority types.Priority) error {
	if err := c.checkMagic(); err != nil {
		return err
	}
	var first error
	for _, p := range c.table.All() {
		if p.state != types.PeerConnected {
			continue
		}
		if err := c.SendEx(p.id, data, priority, 0, types.NoCoalesceKey); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SendUDP transmits a one-shot, unreliable datagram outside of any peer
// connection or queue.
func (c *Context) SendUDP(destAddr [4]byte, destPort uint16, data []byte) error {
	if err := c.checkMagic(); err != nil {
		return err
	}
	if len(data) > c.config.MaxMessageSize {
		return types.NewError(types.KindMessageTooLarge, "datagram %d exceeds max message size %d", len(data), c.config.MaxMessageSize)
	}
	buf := make([]byte, types.DatagramHeaderSize+len(data))
	n, err := protocol.EncodeDatagram(types.UDPDatagram{SenderPort: c.config.UDPPort, Payload: data}, buf)
	if err != nil {
		return err
	}
	if _, err := c.transport.SendUDP(destAddr, destPort, buf[:n]); err != nil {
		c.stats.SendErrors++
		return err
	}
	c.stats.BytesSent += uint64(n)
	return nil
}

// SendUDPFast skips the length check against MaxMessageSize, trusting
// the caller to have already bounded the payload; it exists for callers
// on the hot path who already know their datagrams are small.
func (c *Context) SendUDPFast(destAddr [4]byte, destPort uint16, data []byte) error {
	if err := c.checkMagic(); err != nil {
		return err
	}
	buf := make([]byte, types.DatagramHeaderSize+len(data))
	n, err := protocol.EncodeDatagram(types.UDPDatagram{SenderPort: c.config.UDPPort, Payload: data}, buf)
	if err != nil {
		return err
	}
	_, err = c.transport.SendUDP(destAddr, destPort, buf[:n])
	return err
}
