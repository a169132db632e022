// Package transport is the default, net-package-based implementation of
// core.Transport: the one place in this module that touches a real
// socket. Every method is non-blocking by contract, achieved the
// idiomatic Go way with an immediate SetDeadline(time.Now()) rather
// than raw epoll.
package transport

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/common/log"
	"golang.org/x/sys/unix"

	"github.com/jabolina/go-peertalk/pkg/peertalk/core"
	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

// NetTransport binds a single discovery UDP socket at construction and
// hands out TCP listeners/connections on demand.
type NetTransport struct {
	discoveryConn *net.UDPConn
	startTime     time.Time
}

// New binds the discovery socket with SO_REUSEADDR and SO_BROADCAST set,
// so several peers on the same host can share the discovery port and
// broadcast ANNOUNCE/GOODBYE packets.
func New(discoveryPort uint16) (*NetTransport, error) {
	conn, err := listenDiscovery(discoveryPort)
	if err != nil {
		return nil, types.NewError(types.KindPlatform, "bind discovery socket on port %d: %v", discoveryPort, err)
	}
	return &NetTransport{discoveryConn: conn, startTime: time.Now()}, nil
}

func listenDiscovery(port uint16) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
					sockErr = e
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

// SendUDP writes one datagram to addr:port over the shared discovery
// socket, used both for discovery packets and for send_udp/_fast.
func (t *NetTransport) SendUDP(destAddr [4]byte, destPort uint16, data []byte) (int, error) {
	addr := &net.UDPAddr{IP: net.IPv4(destAddr[0], destAddr[1], destAddr[2], destAddr[3]), Port: int(destPort)}
	n, err := t.discoveryConn.WriteToUDP(data, addr)
	if err != nil {
		log.Errorf("peertalk transport: udp send to %v failed: %v", addr, err)
		return n, types.NewError(types.KindNetwork, "udp send failed: %v", err)
	}
	return n, nil
}

// LocalAddresses enumerates every IPv4 address bound to a local
// interface, so discovery can recognize its own broadcast bouncing back.
func (t *NetTransport) LocalAddresses() ([][4]byte, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, types.NewError(types.KindPlatform, "enumerate local addresses: %v", err)
	}
	var out [][4]byte
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		var addr [4]byte
		copy(addr[:], ip4)
		out = append(out, addr)
	}
	return out, nil
}

// RecvUDPNonblocking polls the discovery socket once for a pending
// datagram, returning would-block if none has arrived.
func (t *NetTransport) RecvUDPNonblocking(buf []byte) (int, [4]byte, uint16, error) {
	var src [4]byte
	_ = t.discoveryConn.SetReadDeadline(time.Now())
	n, addr, err := t.discoveryConn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, src, 0, types.NewError(types.KindWouldBlock, "no datagram pending")
		}
		return 0, src, 0, types.NewError(types.KindNetwork, "udp recv failed: %v", err)
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		copy(src[:], ip4)
	}
	return n, src, uint16(addr.Port), nil
}

// connHandle wraps a net.Conn that may still be mid-dial; TCPConnectNonblocking
// returns one immediately and fills it in from a background goroutine,
// which is how a non-blocking connect is expressed over the net package
// without a raw syscall.Connect/poll loop.
type connHandle struct {
	mu   sync.Mutex
	conn net.Conn
	err  error
	done bool
}

func (t *NetTransport) TCPListen(port uint16) (core.ListenHandle, error) {
	ln, err := net.Listen("tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, types.NewError(types.KindNetwork, "tcp listen on port %d failed: %v", port, err)
	}
	return ln, nil
}

func (t *NetTransport) TCPAcceptNonblocking(listener core.ListenHandle) (core.TCPHandle, [4]byte, uint16, error) {
	var src [4]byte
	ln, ok := listener.(*net.TCPListener)
	if !ok {
		return nil, src, 0, types.NewError(types.KindInvalidParam, "not a tcp listener")
	}
	_ = ln.SetDeadline(time.Now())
	conn, err := ln.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, src, 0, types.NewError(types.KindWouldBlock, "no connection pending")
		}
		log.Warnf("peertalk transport: accept failed: %v", err)
		return nil, src, 0, types.NewError(types.KindNetwork, "accept failed: %v", err)
	}
	if remote, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		if ip4 := remote.IP.To4(); ip4 != nil {
			copy(src[:], ip4)
		}
		return &connHandle{conn: conn, done: true}, src, uint16(remote.Port), nil
	}
	return &connHandle{conn: conn, done: true}, src, 0, nil
}

func (t *NetTransport) TCPConnectNonblocking(addr [4]byte, port uint16) (core.TCPHandle, error) {
	h := &connHandle{}
	target := fmt.Sprintf("%d.%d.%d.%d:%d", addr[0], addr[1], addr[2], addr[3], port)
	go func() {
		conn, err := net.DialTimeout("tcp4", target, 10*time.Second)
		h.mu.Lock()
		h.conn, h.err, h.done = conn, err, true
		h.mu.Unlock()
	}()
	return h, nil
}

func (t *NetTransport) TCPConnectStatus(handle core.TCPHandle) (core.ConnectStatus, error) {
	h, ok := handle.(*connHandle)
	if !ok {
		return core.ConnectFailed, types.NewError(types.KindInvalidParam, "not a connection handle")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.done {
		return core.ConnectPending, nil
	}
	if h.err != nil {
		return core.ConnectFailed, types.NewError(types.KindConnectionRefused, "connect failed: %v", h.err)
	}
	return core.ConnectEstablished, nil
}

func (t *NetTransport) TCPSendNonblocking(handle core.TCPHandle, data []byte) (int, error) {
	h, ok := handle.(*connHandle)
	if !ok || h.conn == nil {
		return 0, types.NewError(types.KindInvalidState, "connection not established")
	}
	_ = h.conn.SetWriteDeadline(time.Now())
	n, err := h.conn.Write(data)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, types.NewError(types.KindWouldBlock, "write would block")
		}
		return n, types.NewError(types.KindConnectionClosed, "tcp write failed: %v", err)
	}
	return n, nil
}

func (t *NetTransport) TCPRecvNonblocking(handle core.TCPHandle, buf []byte) (int, error) {
	h, ok := handle.(*connHandle)
	if !ok || h.conn == nil {
		return 0, types.NewError(types.KindInvalidState, "connection not established")
	}
	_ = h.conn.SetReadDeadline(time.Now())
	n, err := h.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, types.NewError(types.KindWouldBlock, "read would block")
		}
		return n, types.NewError(types.KindConnectionClosed, "tcp read failed: %v", err)
	}
	return n, nil
}

func (t *NetTransport) TCPClose(handle core.TCPHandle) error {
	h, ok := handle.(*connHandle)
	if !ok || h.conn == nil {
		return nil
	}
	return h.conn.Close()
}

func (t *NetTransport) CloseListener(listener core.ListenHandle) error {
	ln, ok := listener.(*net.TCPListener)
	if !ok {
		return types.NewError(types.KindInvalidParam, "not a tcp listener")
	}
	return ln.Close()
}

func (t *NetTransport) CloseDiscovery() error {
	return t.discoveryConn.Close()
}

// NowTicks returns milliseconds since the transport was constructed,
// the clock source every timeout/interval in core is measured against.
func (t *NetTransport) NowTicks() uint32 {
	return uint32(time.Since(t.startTime).Milliseconds())
}

func (t *NetTransport) GetFreeMem() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Sys - stats.HeapInuse
}

func (t *NetTransport) GetMaxBlock() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapIdle
}
