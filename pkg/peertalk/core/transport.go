package core

// TCPHandle and ListenHandle are opaque connection/listener handles
// handed back by the platform transport shim. The core never inspects
// them; it only ever passes them back into the same Transport.
type TCPHandle interface{}
type ListenHandle interface{}

// ConnectStatus is the outcome of polling a non-blocking connect.
type ConnectStatus int

const (
	ConnectPending ConnectStatus = iota
	ConnectEstablished
	ConnectFailed
)

// Transport is the capability set a platform shim must implement so
// the core never performs a syscall itself (§6). A default,
// net-package-based implementation lives in pkg/peertalk/transport.
//
// Every method here is non-blocking by contract: a call that cannot
// complete immediately returns (0, would-block) rather than parking
// the caller, so the single-threaded poll loop never stalls.
type Transport interface {
	SendUDP(destAddr [4]byte, destPort uint16, data []byte) (int, error)
	RecvUDPNonblocking(buf []byte) (n int, srcAddr [4]byte, srcPort uint16, err error)

	// LocalAddresses returns every address this host could plausibly be
	// reached at, used by discovery's own-traffic dedup (§4.7) to
	// recognize a broadcast bouncing back to its sender.
	LocalAddresses() ([][4]byte, error)

	TCPListen(port uint16) (ListenHandle, error)
	TCPAcceptNonblocking(listener ListenHandle) (handle TCPHandle, srcAddr [4]byte, srcPort uint16, err error)

	TCPConnectNonblocking(addr [4]byte, port uint16) (TCPHandle, error)
	TCPConnectStatus(handle TCPHandle) (ConnectStatus, error)

	TCPSendNonblocking(handle TCPHandle, data []byte) (int, error)
	TCPRecvNonblocking(handle TCPHandle, buf []byte) (int, error)
	TCPClose(handle TCPHandle) error

	CloseListener(listener ListenHandle) error
	CloseDiscovery() error

	NowTicks() uint32

	GetFreeMem() uint64
	GetMaxBlock() uint64
}
