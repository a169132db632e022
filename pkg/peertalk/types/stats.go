package types

// GlobalStats are the per-context counters returned by get_global_stats.
type GlobalStats struct {
	BytesSent        uint64
	BytesReceived    uint64
	MessagesSent     uint64
	MessagesReceived uint64
	SendErrors       uint64
	PeersDiscovered  uint64
	PeersLost        uint64
}

// QueueStatus is returned by get_queue_status for a single peer
// direction's bounded queue.
type QueueStatus struct {
	Count     int
	Capacity  int
	Pressure  int
	FreeSlots int
}

// Capabilities is the negotiated capability block returned by
// get_peer_capabilities.
type Capabilities struct {
	MaxMessageSize        int
	PreferredChunk        int
	BufferPressure        int
	LastReportedPressure  int
}

// PeerInfo is the public, point-in-time snapshot of a peer record
// returned by get_peers / get_peer / get_peer_by_id. It never aliases
// the internal hot/cold record so callers can't corrupt peer state.
type PeerInfo struct {
	ID             uint16
	Name           string
	Address        [4]byte
	Port           uint16
	State          PeerState
	LastSeenTick   uint32
	EffectiveChunk int
	EffectiveMax   int
}
