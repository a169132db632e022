// Package test hosts the loopback test harness shared by PeerTalk's
// scenario tests: an in-memory network simulating UDP broadcast and TCP
// connect/accept without touching a real socket, so tests stay
// deterministic and fast.
package test

import (
	"sync"

	"github.com/jabolina/go-peertalk/pkg/peertalk/core"
	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

type udpPacket struct {
	data    []byte
	srcAddr [4]byte
	srcPort uint16
}

type udpEndpoint struct {
	addr [4]byte
	port uint16
	net  *fakeNetwork

	mu    sync.Mutex
	inbox []udpPacket
}

type fakeConn struct {
	mu     sync.Mutex
	closed bool
	inbox  []byte
	peer   *fakeConn

	localAddr  [4]byte
	localPort  uint16
	remoteAddr [4]byte
	remotePort uint16
}

func (c *fakeConn) write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, types.NewError(types.KindConnectionClosed, "connection closed")
	}
	peer := c.peer
	peer.mu.Lock()
	peer.inbox = append(peer.inbox, data...)
	peer.mu.Unlock()
	return len(data), nil
}

func (c *fakeConn) read(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbox) == 0 {
		if c.closed {
			return 0, types.NewError(types.KindConnectionClosed, "connection closed")
		}
		return 0, types.NewError(types.KindWouldBlock, "no data pending")
	}
	n := copy(buf, c.inbox)
	c.inbox = c.inbox[n:]
	return n, nil
}

func (c *fakeConn) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

type pendingAccept struct {
	conn *fakeConn
}

type fakeListener struct {
	addr [4]byte
	port uint16

	mu      sync.Mutex
	pending []pendingAccept
	closed  bool
}

// fakeNetwork is the shared medium every fakeTransport in a test
// registers against; it plays the role a physical LAN segment plays for
// the real net-based transport.
type fakeNetwork struct {
	mu        sync.Mutex
	udp       []*udpEndpoint
	listeners map[uint16]*fakeListener
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{listeners: make(map[uint16]*fakeListener)}
}

// NewFakeNetwork creates a fresh in-memory network for a single test's
// cluster of loopback peers. Each test must use its own network so
// parallel tests never cross-deliver broadcasts.
func NewFakeNetwork() *fakeNetwork { return newFakeNetwork() }

var broadcastAddr = [4]byte{255, 255, 255, 255}

func (n *fakeNetwork) registerUDP(ep *udpEndpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.udp = append(n.udp, ep)
}

func (n *fakeNetwork) deliverUDP(from *udpEndpoint, destAddr [4]byte, destPort uint16, data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	pkt := udpPacket{data: append([]byte(nil), data...), srcAddr: from.addr, srcPort: from.port}
	for _, ep := range n.udp {
		if destAddr == broadcastAddr {
			if ep.port != destPort {
				continue
			}
		} else if ep.addr != destAddr || ep.port != destPort {
			continue
		}
		ep.mu.Lock()
		ep.inbox = append(ep.inbox, pkt)
		ep.mu.Unlock()
	}
}

func (n *fakeNetwork) listen(addr [4]byte, port uint16) (*fakeListener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.listeners[port]; exists {
		return nil, types.NewError(types.KindNetwork, "port %d already in use", port)
	}
	ln := &fakeListener{addr: addr, port: port}
	n.listeners[port] = ln
	return ln, nil
}

func (n *fakeNetwork) dial(from [4]byte, fromPort uint16, toAddr [4]byte, toPort uint16) (*fakeConn, error) {
	n.mu.Lock()
	ln, ok := n.listeners[toPort]
	n.mu.Unlock()
	if !ok {
		return nil, types.NewError(types.KindConnectionRefused, "nothing listening on port %d", toPort)
	}

	client := &fakeConn{localAddr: from, localPort: fromPort, remoteAddr: toAddr, remotePort: toPort}
	server := &fakeConn{localAddr: toAddr, localPort: toPort, remoteAddr: from, remotePort: fromPort}
	client.peer = server
	server.peer = client

	ln.mu.Lock()
	defer ln.mu.Unlock()
	if ln.closed {
		return nil, types.NewError(types.KindConnectionRefused, "listener on port %d closed", toPort)
	}
	ln.pending = append(ln.pending, pendingAccept{conn: server})
	return client, nil
}

// fakeTransport implements core.Transport entirely in memory; NowTicks
// advances by a fixed step every call so "within N polls" scenarios run
// without a real clock.
type fakeTransport struct {
	net      *fakeNetwork
	addr     [4]byte
	udpEP    *udpEndpoint
	listener *fakeListener

	tickMS uint32
}

func newFakeTransport(net *fakeNetwork, addr [4]byte, discoveryPort uint16) *fakeTransport {
	ep := &udpEndpoint{addr: addr, port: discoveryPort, net: net}
	net.registerUDP(ep)
	return &fakeTransport{net: net, addr: addr, udpEP: ep}
}

func (t *fakeTransport) SendUDP(destAddr [4]byte, destPort uint16, data []byte) (int, error) {
	t.net.deliverUDP(t.udpEP, destAddr, destPort, data)
	return len(data), nil
}

func (t *fakeTransport) LocalAddresses() ([][4]byte, error) {
	return [][4]byte{t.addr}, nil
}

func (t *fakeTransport) RecvUDPNonblocking(buf []byte) (int, [4]byte, uint16, error) {
	t.udpEP.mu.Lock()
	defer t.udpEP.mu.Unlock()
	if len(t.udpEP.inbox) == 0 {
		return 0, [4]byte{}, 0, types.NewError(types.KindWouldBlock, "no datagram pending")
	}
	pkt := t.udpEP.inbox[0]
	t.udpEP.inbox = t.udpEP.inbox[1:]
	n := copy(buf, pkt.data)
	return n, pkt.srcAddr, pkt.srcPort, nil
}

func (t *fakeTransport) TCPListen(port uint16) (core.ListenHandle, error) {
	ln, err := t.net.listen(t.addr, port)
	if err != nil {
		return nil, err
	}
	t.listener = ln
	return ln, nil
}

func (t *fakeTransport) TCPAcceptNonblocking(listener core.ListenHandle) (core.TCPHandle, [4]byte, uint16, error) {
	ln := listener.(*fakeListener)
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if len(ln.pending) == 0 {
		return nil, [4]byte{}, 0, types.NewError(types.KindWouldBlock, "no connection pending")
	}
	acc := ln.pending[0]
	ln.pending = ln.pending[1:]
	return acc.conn, acc.conn.remoteAddr, acc.conn.remotePort, nil
}

func (t *fakeTransport) TCPConnectNonblocking(addr [4]byte, port uint16) (core.TCPHandle, error) {
	return t.net.dial(t.addr, 0, addr, port)
}

func (t *fakeTransport) TCPConnectStatus(handle core.TCPHandle) (core.ConnectStatus, error) {
	if handle == nil {
		return core.ConnectFailed, types.NewError(types.KindInvalidParam, "nil handle")
	}
	return core.ConnectEstablished, nil
}

func (t *fakeTransport) TCPSendNonblocking(handle core.TCPHandle, data []byte) (int, error) {
	return handle.(*fakeConn).write(data)
}

func (t *fakeTransport) TCPRecvNonblocking(handle core.TCPHandle, buf []byte) (int, error) {
	return handle.(*fakeConn).read(buf)
}

func (t *fakeTransport) TCPClose(handle core.TCPHandle) error {
	handle.(*fakeConn).close()
	return nil
}

func (t *fakeTransport) CloseListener(listener core.ListenHandle) error {
	ln := listener.(*fakeListener)
	ln.mu.Lock()
	ln.closed = true
	ln.mu.Unlock()
	return nil
}

func (t *fakeTransport) CloseDiscovery() error { return nil }

func (t *fakeTransport) NowTicks() uint32 {
	t.tickMS += 10
	return t.tickMS
}

func (t *fakeTransport) GetFreeMem() uint64  { return 1 << 30 }
func (t *fakeTransport) GetMaxBlock() uint64 { return 1 << 20 }
