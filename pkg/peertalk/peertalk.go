// Package peertalk is the public entry point: a thin facade over
// core.Context that wires in the default net-based Transport so callers
// never have to construct one themselves.
package peertalk

import (
	"github.com/jabolina/go-peertalk/pkg/peertalk/core"
	"github.com/jabolina/go-peertalk/pkg/peertalk/transport"
	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

// Re-exported so callers only need to import this one package for the
// common path.
type (
	Config       = types.Config
	Logger       = types.Logger
	PeerInfo     = types.PeerInfo
	PeerState    = types.PeerState
	Priority     = types.Priority
	Capabilities = types.Capabilities
	QueueStatus  = types.QueueStatus
	GlobalStats  = types.GlobalStats
	Kind         = types.Kind
)

const (
	PriorityCritical = types.PriorityCritical
	PriorityHigh     = types.PriorityHigh
	PriorityNormal   = types.PriorityNormal
	PriorityLow      = types.PriorityLow

	NoCoalesceKey = types.NoCoalesceKey
)

// DefaultConfig returns a Config with every documented default applied.
func DefaultConfig(localName string) *Config { return types.DefaultConfig(localName) }

// ErrorString returns the stable label for an error kind.
func ErrorString(k Kind) string { return types.ErrorString(k) }

// Version reports the library version.
func Version() string { return core.Version() }

// Callbacks mirrors core.Callbacks; kept as its own exported type so
// callers don't need to import pkg/peertalk/core to build one.
type Callbacks = core.Callbacks

// Peer is one local participant in the network: it owns a discovery
// socket, an optional TCP listen socket, and the peer table. A Peer
// must be driven by calling Poll or PollFast on a regular cadence; it
// performs no I/O of its own accord.
type Peer struct {
	ctx *core.Context
}

// Init binds the default transport's discovery socket on the configured
// discovery port and constructs a Peer ready to
// StartDiscovery/StartListening; the TCP port is bound later, by
// StartListening.
func Init(config *Config) (*Peer, error) {
	if config == nil {
		return nil, types.NewError(types.KindInvalidParam, "config must not be nil")
	}
	tr, err := transport.New(config.DiscoveryPort)
	if err != nil {
		return nil, err
	}
	ctx, err := core.Init(config, tr)
	if err != nil {
		return nil, err
	}
	return &Peer{ctx: ctx}, nil
}

// Shutdown closes every socket and invalidates the Peer. Idempotent.
func (p *Peer) Shutdown() error { return p.ctx.Shutdown() }

// SetCallbacks installs the callback set fired from inside Poll/PollFast.
func (p *Peer) SetCallbacks(cb Callbacks) error { return p.ctx.SetCallbacks(cb) }

// Poll runs one full cooperative pass over discovery, connection
// management and connected-peer I/O.
func (p *Peer) Poll() error { return p.ctx.Poll() }

// PollFast drives only the I/O of peers whose TCP connection is already
// established, skipping discovery/accept/connect progress.
func (p *Peer) PollFast() error { return p.ctx.PollFast() }

func (p *Peer) StartDiscovery() error { return p.ctx.StartDiscovery() }
func (p *Peer) StopDiscovery() error  { return p.ctx.StopDiscovery() }
func (p *Peer) Query() error          { return p.ctx.Query() }

func (p *Peer) StartListening() error { return p.ctx.StartListening() }
func (p *Peer) StopListening() error  { return p.ctx.StopListening() }

// AddPeer registers a peer by address without waiting for discovery to
// find it, returning the new peer's id (or the existing one's, if
// already known).
func (p *Peer) AddPeer(address [4]byte, port uint16, name string) (uint16, error) {
	return p.ctx.AddPeer(address, port, name)
}

func (p *Peer) Connect(peerID uint16) error    { return p.ctx.Connect(peerID) }
func (p *Peer) Disconnect(peerID uint16) error { return p.ctx.Disconnect(peerID) }

// Send enqueues data at normal priority with no coalescing key.
func (p *Peer) Send(peerID uint16, data []byte) error { return p.ctx.Send(peerID, data) }

// SendEx enqueues data with an explicit priority, flag byte and
// coalescing key.
func (p *Peer) SendEx(peerID uint16, data []byte, priority Priority, flags uint8, coalesceKey uint16) error {
	return p.ctx.SendEx(peerID, data, priority, flags, coalesceKey)
}

func (p *Peer) SendUDP(destAddr [4]byte, destPort uint16, data []byte) error {
	return p.ctx.SendUDP(destAddr, destPort, data)
}

func (p *Peer) SendUDPFast(destAddr [4]byte, destPort uint16, data []byte) error {
	return p.ctx.SendUDPFast(destAddr, destPort, data)
}

// Broadcast sends data to every currently CONNECTED peer.
func (p *Peer) Broadcast(data []byte, priority Priority) error {
	return p.ctx.Broadcast(data, priority)
}

func (p *Peer) StreamSend(peerID uint16, data []byte, priority Priority, flags uint8) error {
	return p.ctx.StreamSend(peerID, data, priority, flags)
}
func (p *Peer) StreamCancel(peerID uint16) error        { return p.ctx.StreamCancel(peerID) }
func (p *Peer) StreamActive(peerID uint16) (bool, error) { return p.ctx.StreamActive(peerID) }

func (p *Peer) GetPeers() ([]PeerInfo, error)   { return p.ctx.GetPeers() }
func (p *Peer) GetPeersVersion() uint64         { return p.ctx.GetPeersVersion() }
func (p *Peer) GetPeerByID(id uint16) (PeerInfo, error) { return p.ctx.GetPeerByID(id) }

func (p *Peer) FindPeerByName(name string) (PeerInfo, error) {
	return p.ctx.FindPeerByName(name)
}

func (p *Peer) FindPeerByAddress(address [4]byte, port uint16) (PeerInfo, error) {
	return p.ctx.FindPeerByAddress(address, port)
}

func (p *Peer) GetQueueStatus(id uint16) (QueueStatus, error) { return p.ctx.GetQueueStatus(id) }
func (p *Peer) GetGlobalStats() (GlobalStats, error)          { return p.ctx.GetGlobalStats() }
func (p *Peer) ResetStats() error                             { return p.ctx.ResetStats() }

func (p *Peer) GetPeerCapabilities(id uint16) (Capabilities, error) {
	return p.ctx.GetPeerCapabilities(id)
}
func (p *Peer) GetPeerMaxMessage(id uint16) (int, error) { return p.ctx.GetPeerMaxMessage(id) }
func (p *Peer) GetAvailableTransports() uint8            { return p.ctx.GetAvailableTransports() }
