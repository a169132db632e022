package core

import "github.com/jabolina/go-peertalk/pkg/peertalk/types"

// StartListening opens the TCP listen socket peers connect to.
func (c *Context) StartListening() error {
	if err := c.checkMagic(); err != nil {
		return err
	}
	if c.listening {
		return types.NewError(types.KindAlreadyInitialized, "already listening")
	}
	listener, err := c.transport.TCPListen(c.config.TCPPort)
	if err != nil {
		return err
	}
	c.listener = listener
	c.listening = true
	return nil
}

// StopListening closes the listen socket; pending connections already
// past accept are unaffected.
func (c *Context) StopListening() error {
	if err := c.checkMagic(); err != nil {
		return err
	}
	if !c.listening {
		return types.NewError(types.KindInvalidState, "not listening")
	}
	err := c.transport.CloseListener(c.listener)
	c.listener = nil
	c.listening = false
	return err
}

// Connect initiates an outbound, non-blocking TCP connection to an
// already-discovered peer, moving it DISCOVERED -> CONNECTING. Progress
// is completed by pollConnecting on a later Poll call.
func (c *Context) Connect(peerID uint16) error {
	if err := c.checkMagic(); err != nil {
		return err
	}
	p, ok := c.table.ByID(peerID)
	if !ok {
		return types.NewError(types.KindPeerNotFound, "peer %d not found", peerID)
	}
	if err := c.table.SetState(p, types.PeerConnecting); err != nil {
		return err
	}
	handle, err := c.transport.TCPConnectNonblocking(p.address, p.port)
	if err != nil {
		_ = c.table.SetState(p, types.PeerFailed)
		return err
	}
	p.connHandle = handle
	p.connectLocalInitiated = true
	return nil
}

// Disconnect gracefully tears down a CONNECTED peer: it enqueues a
// DISCONNECT frame (best effort; failure to enqueue doesn't block
// teardown), closes the transport and removes the peer from the table.
func (c *Context) Disconnect(peerID uint16) error {
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
	_ = c.enqueueControlFrame(p, types.MessageDisconnect, 0, []byte{byte(types.KindOK)})
	_ = c.table.SetState(p, types.PeerDisconnecting)
	c.closePeerTransport(p)
	info := snapshot(p)
	_ = c.table.Remove(peerID)
	c.queueCallback(pendingCallback{kind: cbDisconnected, peer: info, err: nil})
	return nil
}

// pollConnecting progresses every CONNECTING peer's non-blocking
// connect, firing the FAILED transition on error. The CONNECTED
// transition doesn't happen here: a peer stays CONNECTING until its
// CAPABILITY frame round-trips (handleCapability in receive.go).
func (c *Context) pollConnecting() {
	for _, p := range c.table.All() {
		if p.state != types.PeerConnecting || !p.connectLocalInitiated {
			continue
		}
		status, err := c.transport.TCPConnectStatus(p.connHandle)
		if err != nil {
			c.failConnecting(p, err)
			continue
		}
		switch status {
		case ConnectEstablished:
			c.completeConnect(p)
		case ConnectFailed:
			c.failConnecting(p, types.NewError(types.KindConnectionRefused, "connect to peer %d failed", p.id))
		case ConnectPending:
		}
	}
}

func (c *Context) failConnecting(p *PeerRecord, cause error) {
	c.closePeerTransport(p)
	_ = c.table.SetState(p, types.PeerFailed)
	c.logger.Warnf("peer %d failed to connect: %v", p.id, cause)
	c.queueCallback(pendingCallback{kind: cbDisconnected, peer: snapshot(p), err: cause})
}

// completeConnect fires once the TCP handshake itself finishes (either
// side). It only sends our CAPABILITY frame; the peer stays CONNECTING
// until handleCapability sees the peer's own CAPABILITY come back and
// performs the CONNECTED transition.
func (c *Context) completeConnect(p *PeerRecord) {
	p.lastSeenTick = c.nowTick
	p.tcpEstablished = true
	_ = c.enqueueControlFrame(p, types.MessageCapability, 0, capabilityPayload(c.config.MaxMessageSize, c.config.DefaultChunk))
}

func capabilityPayload(maxMessage, chunk int) []byte {
	buf := make([]byte, 4)
	buf[0] = byte(maxMessage >> 8)
	buf[1] = byte(maxMessage)
	buf[2] = byte(chunk >> 8)
	buf[3] = byte(chunk)
	return buf
}

// pollAccept accepts any pending inbound TCP connections, moves each
// one to CONNECTING and sends our CAPABILITY frame right away (the
// remote side already did its half of the three-way handshake by the
// time accept returns a handle). The CONNECTED transition follows in
// handleCapability once the peer's own CAPABILITY arrives.
func (c *Context) pollAccept() {
	if !c.listening {
		return
	}
	for i := 0; i < discoveryRecvBudget; i++ {
		handle, srcAddr, srcPort, err := c.transport.TCPAcceptNonblocking(c.listener)
		if err != nil || handle == nil {
			return
		}

		p, ok := c.table.ByAddress(srcAddr, srcPort)
		if !ok {
			p, err = c.table.Add(srcAddr, srcPort, "",
				c.defaultSendQueueCap(), c.defaultRecvQueueCap(), c.config.DirectBufferSize,
				c.config.MaxMessageSize, c.config.DefaultChunk)
			if err != nil {
				_ = c.transport.TCPClose(handle)
				continue
			}
		}
		if p.state != types.PeerDiscovered {
			_ = c.table.SetState(p, types.PeerDiscovered)
		}
		_ = c.table.SetState(p, types.PeerConnecting)
		p.connHandle = handle
		p.connectLocalInitiated = false
		c.completeConnect(p)
	}
}
