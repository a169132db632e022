package core

import (
	"github.com/jabolina/go-peertalk/pkg/peertalk/protocol"
	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

// broadcastAddr is the limited broadcast address ANNOUNCE/GOODBYE
// packets are sent to; loopback-only test setups still receive their
// own broadcasts back, which is exactly what own-traffic dedup exists
// for.
var broadcastAddr = [4]byte{255, 255, 255, 255}

const discoveryRecvBudget = 32

// StartDiscovery arms periodic ANNOUNCE broadcasts and inbound
// discovery packet processing. The next Poll call sends an immediate
// announce rather than waiting out the first interval.
func (c *Context) StartDiscovery() error {
	if err := c.checkMagic(); err != nil {
		return err
	}
	if c.discoveryActive {
		return types.NewError(types.KindDiscoveryActive, "discovery already active")
	}
	c.discoveryActive = true
	c.lastAnnounceTick = c.nowTick - c.discoveryInterval
	c.logger.Infof("discovery started on port %d", c.config.DiscoveryPort)
	return nil
}

// StopDiscovery broadcasts a GOODBYE and disables further announces.
func (c *Context) StopDiscovery() error {
	if err := c.checkMagic(); err != nil {
		return err
	}
	if !c.discoveryActive {
		return types.NewError(types.KindInvalidState, "discovery not active")
	}
	_ = c.sendDiscoveryBroadcast(types.DiscoveryGoodbye)
	c.discoveryActive = false
	c.logger.Infof("discovery stopped")
	return nil
}

func (c *Context) sendDiscoveryBroadcast(kind types.DiscoveryType) error {
	return c.sendDiscoveryTo(broadcastAddr, c.config.DiscoveryPort, kind)
}

func (c *Context) sendDiscoveryTo(addr [4]byte, port uint16, kind types.DiscoveryType) error {
	pkt := types.DiscoveryPacket{
		Version:    types.ProtocolVersion,
		Type:       kind,
		SenderPort: c.config.TCPPort,
		Transports: types.TransportsTCP,
		Name:       c.config.LocalName,
	}
	buf := make([]byte, protocol.EncodedDiscoverySize(len(pkt.Name)))
	n, err := protocol.EncodeDiscovery(pkt, buf)
	if err != nil {
		return err
	}
	if _, err := c.transport.SendUDP(addr, port, buf[:n]); err != nil {
		c.stats.SendErrors++
		return err
	}
	return nil
}

// pollDiscovery is called once per Poll pass: it sends a periodic
// announce, drains and dispatches whatever discovery traffic has
// arrived (bounded so one noisy poll can't starve everything else) and
// ages out peers that were only ever DISCOVERED and stopped announcing.
func (c *Context) pollDiscovery() {
	if c.discoveryActive && c.nowTick-c.lastAnnounceTick >= c.discoveryInterval {
		_ = c.sendDiscoveryBroadcast(types.DiscoveryAnnounce)
		c.lastAnnounceTick = c.nowTick
	}

	if c.discoveryActive {
		buf := make([]byte, protocol.EncodedDiscoverySize(types.MaxNameLen))
		for i := 0; i < discoveryRecvBudget; i++ {
			n, srcAddr, srcPort, err := c.transport.RecvUDPNonblocking(buf)
			if err != nil || n == 0 {
				break
			}
			pkt, err := protocol.DecodeDiscovery(buf[:n])
			if err != nil {
				continue
			}
			c.handleDiscoveryPacket(pkt, srcAddr, srcPort)
		}
	}

	c.ageOutDiscovered()
}

func (c *Context) handleDiscoveryPacket(pkt types.DiscoveryPacket, srcAddr [4]byte, srcPort uint16) {
	if pkt.Name == c.config.LocalName && pkt.SenderPort == c.config.TCPPort && c.isLocalAddress(srcAddr) {
		return
	}

	switch pkt.Type {
	case types.DiscoveryAnnounce, types.DiscoveryQuery:
		if existing, ok := c.table.ByAddress(srcAddr, pkt.SenderPort); ok {
			existing.lastSeenTick = c.nowTick
		} else {
			p, err := c.table.Add(srcAddr, pkt.SenderPort, pkt.Name,
				c.defaultSendQueueCap(), c.defaultRecvQueueCap(), c.config.DirectBufferSize,
				c.config.MaxMessageSize, c.config.DefaultChunk)
			if err == nil {
				c.stats.PeersDiscovered++
				c.logger.Infof("discovered peer %q at %v:%d", pkt.Name, srcAddr, pkt.SenderPort)
				c.queueCallback(pendingCallback{kind: cbDiscovered, peer: snapshot(p)})
			}
		}
		if pkt.Type == types.DiscoveryQuery {
			_ = c.sendDiscoveryTo(srcAddr, srcPort, types.DiscoveryAnnounce)
		}

	case types.DiscoveryGoodbye:
		if p, ok := c.table.ByAddress(srcAddr, pkt.SenderPort); ok {
			info := snapshot(p)
			_ = c.table.Remove(p.id)
			c.stats.PeersLost++
			c.queueCallback(pendingCallback{kind: cbLost, peer: info})
		}
	}
}

// ageOutDiscovered drops peers that were only ever discovered over UDP
// (never connected) once they stop announcing for discoveryTimeout.
// Connected peers are aged by TCP read failure in the poll loop, not
// here.
func (c *Context) ageOutDiscovered() {
	for _, p := range c.table.All() {
		if p.state != types.PeerDiscovered {
			continue
		}
		if c.nowTick-p.lastSeenTick > c.discoveryTimeout {
			info := snapshot(p)
			_ = c.table.Remove(p.id)
			c.stats.PeersLost++
			c.queueCallback(pendingCallback{kind: cbLost, peer: info})
		}
	}
}

// isLocalAddress reports whether addr is one of this host's own
// addresses, the third leg of own-traffic dedup (§4.7).
func (c *Context) isLocalAddress(addr [4]byte) bool {
	for _, a := range c.localAddrs {
		if a == addr {
			return true
		}
	}
	return false
}

func (c *Context) defaultSendQueueCap() int { return 64 }
func (c *Context) defaultRecvQueueCap() int { return 64 }

// AddPeer registers a peer by address directly, bypassing discovery, so
// a caller that already knows where a peer lives can Connect to it
// without waiting for an ANNOUNCE. The new record starts DISCOVERED,
// the same state discovery itself would have left it in.
func (c *Context) AddPeer(address [4]byte, port uint16, name string) (uint16, error) {
	if err := c.checkMagic(); err != nil {
		return 0, err
	}
	if existing, ok := c.table.ByAddress(address, port); ok {
		return existing.id, nil
	}
	p, err := c.table.Add(address, port, name,
		c.defaultSendQueueCap(), c.defaultRecvQueueCap(), c.config.DirectBufferSize,
		c.config.MaxMessageSize, c.config.DefaultChunk)
	if err != nil {
		return 0, err
	}
	c.queueCallback(pendingCallback{kind: cbDiscovered, peer: snapshot(p)})
	return p.id, nil
}

// Query actively solicits discovery packets from peers already on the
// network, instead of waiting for their next periodic announce.
func (c *Context) Query() error {
	if err := c.checkMagic(); err != nil {
		return err
	}
	return c.sendDiscoveryBroadcast(types.DiscoveryQuery)
}
