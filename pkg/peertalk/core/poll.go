package core

import "github.com/jabolina/go-peertalk/pkg/peertalk/types"

const recvScratchSize = 65536

// Poll runs one full cooperative pass: accept inbound connections,
// progress outbound connects, drive discovery, drive every connected
// peer's I/O, then fire whatever callbacks that work queued. It never
// blocks and performs no syscall of its own; everything goes through
// the injected Transport.
func (c *Context) Poll() error {
	if err := c.checkMagic(); err != nil {
		return err
	}
	c.nowTick = c.transport.NowTicks()

	c.pollAccept()
	c.pollConnecting()
	c.pollDiscovery()
	c.pollConnectedPeers()

	c.fireCallbacks()
	return nil
}

// PollFast skips discovery, accept and connect progress, driving only
// the I/O of peers whose TCP connection is already established
// (CONNECTING peers mid-CAPABILITY exchange included). It exists for
// callers on a tight loop
// who run the full Poll on a slower cadence alongside it.
func (c *Context) PollFast() error {
	if err := c.checkMagic(); err != nil {
		return err
	}
	c.nowTick = c.transport.NowTicks()

	c.pollConnectedPeers()

	c.fireCallbacks()
	return nil
}

func (c *Context) pollConnectedPeers() {
	scratch := make([]byte, recvScratchSize)
	for _, p := range c.table.All() {
		if !p.tcpEstablished {
			continue
		}
		c.pollPeerOutbound(p)
		c.pollPeerInbound(p, scratch)
		if p.state == types.PeerConnected {
			c.pollPeerPressure(p)
		}
	}
}

// pollPeerOutbound advances whichever outbound tier currently owns the
// connection's write side: a Tier 2 send in progress, a queued
// fragment piece waiting to start, or the next Tier 1 message.
func (c *Context) pollPeerOutbound(p *PeerRecord) {
	if p.sendDirect.State() == DirectIdle && p.fragActive {
		piece := p.fragPieces[p.fragNext]
		if err := p.sendDirect.Queue(piece, p.fragPriority, p.fragFlags); err == nil {
			p.fragNext++
			if p.fragNext >= len(p.fragPieces) {
				p.fragActive = false
				p.fragPieces = nil
				c.queueCallback(pendingCallback{kind: cbStreamComplete, peer: snapshot(p)})
			}
		}
	}

	if p.sendDirect.State() == DirectQueued {
		_ = p.sendDirect.MarkSending()
		p.sendCursor = 0
	}
	if p.sendDirect.State() == DirectSending {
		c.driveDirectSend(p)
		return
	}

	c.driveQueueSend(p)
}

func isWouldBlock(err error) bool { return types.KindOf(err) == types.KindWouldBlock }

// chunkGrowStreak is the number of consecutive full-chunk writes that
// must succeed before effective_chunk doubles (§4.5).
const chunkGrowStreak = 4

// shrinkChunk halves a peer's effective chunk after a would-block,
// down to a floor of MinChunk bytes, and resets the success streak.
func (c *Context) shrinkChunk(p *PeerRecord) {
	p.chunkSuccessStreak = 0
	next := c.effectiveChunkFor(p) / 2
	if next < types.MinChunk {
		next = types.MinChunk
	}
	p.effectiveChunk = next
}

// growChunkOnFullWrite tracks consecutive full-chunk writes and doubles
// effective_chunk once chunkGrowStreak of them succeed in a row, capped
// at the smaller of effective_max_msg and MaxChunk.
func (c *Context) growChunkOnFullWrite(p *PeerRecord) {
	p.chunkSuccessStreak++
	if p.chunkSuccessStreak < chunkGrowStreak {
		return
	}
	p.chunkSuccessStreak = 0
	ceiling := c.effectiveMaxFor(p)
	if ceiling > types.MaxChunk {
		ceiling = types.MaxChunk
	}
	next := c.effectiveChunkFor(p) * 2
	if next > ceiling {
		next = ceiling
	}
	p.effectiveChunk = next
}

// chunkedWrite drains at most one effective_chunk worth of remaining
// bytes to the transport, reporting how many bytes were written and
// whether the attempt covered a full chunk (the condition that counts
// toward the adaptive-growth streak).
func (c *Context) chunkedWrite(p *PeerRecord, remaining []byte) (n int, isFullChunk bool, err error) {
	chunk := c.effectiveChunkFor(p)
	attemptLen := len(remaining)
	if attemptLen > chunk {
		attemptLen = chunk
		isFullChunk = true
	}
	n, err = c.transport.TCPSendNonblocking(p.connHandle, remaining[:attemptLen])
	return n, isFullChunk && n == attemptLen, err
}

func (c *Context) driveDirectSend(p *PeerRecord) {
	data := p.sendDirect.Bytes()
	n, fullChunk, err := c.chunkedWrite(p, data[p.sendCursor:])
	if err != nil {
		if isWouldBlock(err) {
			c.shrinkChunk(p)
			return
		}
		c.failConnection(p, err)
		return
	}
	p.sendCursor += n
	if n > 0 {
		p.stats.bytesSent += uint64(n)
		c.stats.BytesSent += uint64(n)
	}
	if fullChunk {
		c.growChunkOnFullWrite(p)
	}
	if p.sendCursor >= len(data) {
		_ = p.sendDirect.Complete()
		p.sendCursor = 0
		p.stats.messagesSent++
		c.stats.MessagesSent++
	}
}

func (c *Context) driveQueueSend(p *PeerRecord) {
	if p.sendPending == nil {
		payload, _, err := p.sendQueue.PopPriorityDirect()
		if err != nil {
			return
		}
		p.sendPending = payload
		p.sendCursor = 0
	}

	n, fullChunk, err := c.chunkedWrite(p, p.sendPending[p.sendCursor:])
	if err != nil {
		if isWouldBlock(err) {
			c.shrinkChunk(p)
			return
		}
		c.failConnection(p, err)
		return
	}
	p.sendCursor += n
	if n > 0 {
		p.stats.bytesSent += uint64(n)
		c.stats.BytesSent += uint64(n)
	}
	if fullChunk {
		c.growChunkOnFullWrite(p)
	}
	if p.sendCursor >= len(p.sendPending) {
		_ = p.sendQueue.PopPriorityCommit()
		p.sendPending = nil
		p.sendCursor = 0
		p.stats.messagesSent++
		c.stats.MessagesSent++
	}
}

func (c *Context) pollPeerInbound(p *PeerRecord, scratch []byte) {
	n, err := c.transport.TCPRecvNonblocking(p.connHandle, scratch)
	if err != nil {
		if isWouldBlock(err) {
			return
		}
		c.failConnection(p, err)
		return
	}
	if n == 0 {
		return
	}
	if err := c.feedIncoming(p, scratch[:n]); err != nil {
		c.failConnection(p, err)
	}
}

// pollPeerPressure re-evaluates the peer's own outbound pressure and
// emits a PRESSURE (ACK-type) report whenever it crosses a threshold
// since the last one sent, per §4.5 step 3.
func (c *Context) pollPeerPressure(p *PeerRecord) {
	current := p.sendQueue.Pressure()
	if crossedThreshold(p.capability.lastReportedPressure, current) {
		if err := c.enqueueControlFrame(p, types.MessageAck, 0, []byte{byte(current)}); err == nil {
			p.capability.lastReportedPressure = current
		}
	}
}

// failConnection tears a peer down after an unrecoverable transport or
// protocol error, whatever state it was in.
func (c *Context) failConnection(p *PeerRecord, cause error) {
	c.closePeerTransport(p)
	info := snapshot(p)
	id := p.id
	_ = c.table.Remove(id)
	c.logger.Warnf("peer %d connection lost: %v", id, cause)
	c.queueCallback(pendingCallback{kind: cbDisconnected, peer: info, err: cause})
}
