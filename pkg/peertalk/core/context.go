package core

import (
	"github.com/jabolina/go-peertalk/pkg/peertalk/definition"
	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

const contextMagic uint32 = 0x43544c4b // "CTLK" folded to a uint32

// Callbacks are invoked synchronously from inside Poll/PollFast. They
// may call any other public API safely, but must not call Poll/PollFast
// again (the context is single-threaded and already inside one).
type Callbacks struct {
	OnPeerDiscovered   func(types.PeerInfo)
	OnPeerConnected    func(types.PeerInfo)
	OnPeerDisconnected func(types.PeerInfo, error)
	OnPeerLost         func(types.PeerInfo)
	OnMessageReceived  func(peerID uint16, data []byte)
	OnStreamComplete   func(peerID uint16, err error)
}

type callbackKind int

const (
	cbDiscovered callbackKind = iota
	cbConnected
	cbDisconnected
	cbLost
	cbMessage
	cbStreamComplete
)

type pendingCallback struct {
	kind callbackKind
	peer types.PeerInfo
	err  error
	data []byte
}

// Context is the process-wide state for one local participant: it
// exclusively owns the peer table, sockets, logger, config snapshot,
// statistics and the direct-buffer default capacity. It is driven
// entirely from the caller's thread via Poll/PollFast and the other
// public entry points; no goroutine internal to a Context mutates it.
type Context struct {
	magic uint32

	config    *types.Config
	logger    types.Logger
	transport Transport
	table     *PeerTable
	callbacks Callbacks

	stats types.GlobalStats

	discoveryActive  bool
	listening        bool
	listener         ListenHandle

	nowTick           uint32
	lastAnnounceTick  uint32
	discoveryInterval uint32
	discoveryTimeout  uint32

	localAddrs [][4]byte

	pending []pendingCallback
}

// Init constructs a Context for the given configuration and transport
// shim, applying every documented default. The transport is supplied by
// the caller (see pkg/peertalk/transport for the default net-based
// implementation) so the core never touches a socket directly.
func Init(config *types.Config, transport Transport) (*Context, error) {
	if config == nil {
		return nil, types.NewError(types.KindInvalidParam, "config must not be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, types.NewError(types.KindInvalidParam, "transport must not be nil")
	}

	logger := config.Logger
	if logger == nil {
		logger = definition.NewDefaultLogger(config.LocalName)
	}

	ctx := &Context{
		magic:             contextMagic,
		config:            config,
		logger:            logger,
		transport:         transport,
		table:             NewPeerTable(config.MaxPeers),
		discoveryInterval: uint32(config.DiscoveryIntervalMS),
		discoveryTimeout:  uint32(config.DiscoveryTimeoutMS),
	}
	if addrs, err := transport.LocalAddresses(); err == nil {
		ctx.localAddrs = addrs
	} else {
		logger.Warnf("enumerate local addresses: %v", err)
	}
	return ctx, nil
}

func (c *Context) valid() bool { return c != nil && c.magic == contextMagic }

func (c *Context) checkMagic() error {
	if !c.valid() {
		return types.NewError(types.KindInvalidState, "context not initialized")
	}
	return nil
}

// Shutdown tears down all sockets, drops all queues/buffers and zeroes
// the magic. It is idempotent and safe to call on a nil context.
func (c *Context) Shutdown() error {
	if c == nil || c.magic != contextMagic {
		return nil
	}
	if c.listening && c.listener != nil {
		_ = c.transport.CloseListener(c.listener)
	}
	_ = c.transport.CloseDiscovery()

	for _, p := range c.table.All() {
		if p.connHandle != nil {
			_ = c.transport.TCPClose(p.connHandle)
		}
	}

	c.discoveryActive = false
	c.listening = false
	c.magic = 0
	return nil
}

// SetCallbacks installs the callback set fired from inside Poll.
func (c *Context) SetCallbacks(cb Callbacks) error {
	if err := c.checkMagic(); err != nil {
		return err
	}
	c.callbacks = cb
	return nil
}

func (c *Context) queueCallback(cb pendingCallback) {
	c.pending = append(c.pending, cb)
}

// fireCallbacks drains and invokes every pending callback queued during
// this poll pass. Invoked last, per §4.9 step 6.
func (c *Context) fireCallbacks() {
	pending := c.pending
	c.pending = nil
	for _, cb := range pending {
		switch cb.kind {
		case cbDiscovered:
			if c.callbacks.OnPeerDiscovered != nil {
				c.callbacks.OnPeerDiscovered(cb.peer)
			}
		case cbConnected:
			if c.callbacks.OnPeerConnected != nil {
				c.callbacks.OnPeerConnected(cb.peer)
			}
		case cbDisconnected:
			if c.callbacks.OnPeerDisconnected != nil {
				c.callbacks.OnPeerDisconnected(cb.peer, cb.err)
			}
		case cbLost:
			if c.callbacks.OnPeerLost != nil {
				c.callbacks.OnPeerLost(cb.peer)
			}
		case cbMessage:
			if c.callbacks.OnMessageReceived != nil {
				c.callbacks.OnMessageReceived(cb.peer.ID, cb.data)
			}
		case cbStreamComplete:
			if c.callbacks.OnStreamComplete != nil {
				c.callbacks.OnStreamComplete(cb.peer.ID, cb.err)
			}
		}
	}
}

func snapshot(p *PeerRecord) types.PeerInfo {
	return types.PeerInfo{
		ID:             p.id,
		Name:           p.name,
		Address:        p.address,
		Port:           p.port,
		State:          p.state,
		LastSeenTick:   p.lastSeenTick,
		EffectiveChunk: p.effectiveChunk,
		EffectiveMax:   p.effectiveMax,
	}
}

// GetPeers returns a snapshot of every live peer.
func (c *Context) GetPeers() ([]types.PeerInfo, error) {
	if err := c.checkMagic(); err != nil {
		return nil, err
	}
	records := c.table.All()
	out := make([]types.PeerInfo, 0, len(records))
	for _, p := range records {
		out = append(out, snapshot(p))
	}
	return out, nil
}

// GetPeersVersion returns the monotonic counter bumped on any
// add/remove/state-change, so callers can detect peer-set churn cheaply.
func (c *Context) GetPeersVersion() uint64 {
	if !c.valid() {
		return 0
	}
	return c.table.Version()
}

// GetPeerByID returns the snapshot for a single peer.
func (c *Context) GetPeerByID(id uint16) (types.PeerInfo, error) {
	if err := c.checkMagic(); err != nil {
		return types.PeerInfo{}, err
	}
	p, ok := c.table.ByID(id)
	if !ok {
		return types.PeerInfo{}, types.NewError(types.KindPeerNotFound, "peer %d not found", id)
	}
	return snapshot(p), nil
}

// FindPeerByName performs the linear name-table scan.
func (c *Context) FindPeerByName(name string) (types.PeerInfo, error) {
	if err := c.checkMagic(); err != nil {
		return types.PeerInfo{}, err
	}
	p, ok := c.table.ByName(name)
	if !ok {
		return types.PeerInfo{}, types.NewError(types.KindPeerNotFound, "peer named %q not found", name)
	}
	return snapshot(p), nil
}

// FindPeerByAddress scans peers comparing address and port.
func (c *Context) FindPeerByAddress(address [4]byte, port uint16) (types.PeerInfo, error) {
	if err := c.checkMagic(); err != nil {
		return types.PeerInfo{}, err
	}
	p, ok := c.table.ByAddress(address, port)
	if !ok {
		return types.PeerInfo{}, types.NewError(types.KindPeerNotFound, "peer at given address not found")
	}
	return snapshot(p), nil
}

// GetQueueStatus reports the pressure/occupancy of a peer's outbound
// queue.
func (c *Context) GetQueueStatus(id uint16) (types.QueueStatus, error) {
	if err := c.checkMagic(); err != nil {
		return types.QueueStatus{}, err
	}
	p, ok := c.table.ByID(id)
	if !ok {
		return types.QueueStatus{}, types.NewError(types.KindPeerNotFound, "peer %d not found", id)
	}
	return types.QueueStatus{
		Count:     p.sendQueue.Count(),
		Capacity:  p.sendQueue.Capacity(),
		Pressure:  p.sendQueue.Pressure(),
		FreeSlots: p.sendQueue.FreeSlots(),
	}, nil
}

// GetGlobalStats returns the per-context counters.
func (c *Context) GetGlobalStats() (types.GlobalStats, error) {
	if err := c.checkMagic(); err != nil {
		return types.GlobalStats{}, err
	}
	return c.stats, nil
}

// ResetStats zeroes the per-context counters.
func (c *Context) ResetStats() error {
	if err := c.checkMagic(); err != nil {
		return err
	}
	c.stats = types.GlobalStats{}
	return nil
}

// GetPeerCapabilities returns the negotiated capability block for a
// peer.
func (c *Context) GetPeerCapabilities(id uint16) (types.Capabilities, error) {
	if err := c.checkMagic(); err != nil {
		return types.Capabilities{}, err
	}
	p, ok := c.table.ByID(id)
	if !ok {
		return types.Capabilities{}, types.NewError(types.KindPeerNotFound, "peer %d not found", id)
	}
	return types.Capabilities{
		MaxMessageSize:       p.capability.peerMaxMessage,
		PreferredChunk:       p.capability.peerPreferredChunk,
		BufferPressure:       p.capability.advertisedPressure,
		LastReportedPressure: p.capability.lastReportedPressure,
	}, nil
}

// GetPeerMaxMessage returns the peer's negotiated effective max message
// size.
func (c *Context) GetPeerMaxMessage(id uint16) (int, error) {
	if err := c.checkMagic(); err != nil {
		return 0, err
	}
	p, ok := c.table.ByID(id)
	if !ok {
		return 0, types.NewError(types.KindPeerNotFound, "peer %d not found", id)
	}
	return p.effectiveMax, nil
}

// GetAvailableTransports reports the transport bitmap this build
// supports; PeerTalk only ever advertises TCP.
func (c *Context) GetAvailableTransports() uint8 {
	return types.TransportsTCP
}

// Version returns the library version string; it always begins with
// "1.".
func Version() string { return "1.0.0" }
