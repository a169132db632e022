package core

import (
	"github.com/jabolina/go-peertalk/pkg/peertalk/compat"
	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

const peerMagic uint32 = 0x50544c4b // "PTLK" folded to a uint32

// Atomic hot-block flag bits for PeerRecord.flags. Nothing in this
// module sets or tests them: the poll loop reads connection progress,
// errors and pressure directly from Transport results and the
// capability block.
const (
	FlagDataAvailable uint32 = 1 << iota
	FlagConnectComplete
	FlagError
	FlagPressureUpdatePending
)

// reassemblyState tracks an in-progress FRAGMENT-START..FRAGMENT-END
// sequence for one peer. Only one reassembly may be in flight per peer
// at a time.
type reassemblyState struct {
	active   bool
	msgID    uint8
	buffer   []byte
}

// capabilityBlock holds the peer's negotiated capabilities, per §4.8.
type capabilityBlock struct {
	peerMaxMessage       int
	peerPreferredChunk   int
	advertisedPressure   int
	lastReportedPressure int
}

// peerStats are the per-peer counters rolled up into global stats.
type peerStats struct {
	bytesSent        uint64
	bytesReceived    uint64
	messagesSent     uint64
	messagesReceived uint64
	sendErrors       uint64
}

// parseCursor is the receive engine's incremental header/payload
// accumulator for one peer's byte stream.
type parseCursor struct {
	headerBuf    [types.MessageHeaderSize]byte
	headerFilled int
	haveHeader   bool
	frame        types.MessageFrame
	payloadWant  int
	payloadBuf   []byte
	payloadHave  int
}

// PeerRecord is a single entry in the peer table. The hot/cold split
// named in the data model is logical only (see design notes): fields a
// poll pass touches every iteration come first, the rest follows.
type PeerRecord struct {
	magic uint32

	// Hot.
	id             uint16
	state          types.PeerState
	address        [4]byte
	port           uint16
	lastSeenTick   uint32
	effectiveChunk int
	effectiveMax   int
	flags          compat.Flags

	// Cold.
	name         string
	connHandle   TCPHandle
	cursor       parseCursor
	reassembly   reassemblyState
	capability   capabilityBlock
	sendQueue    *Queue
	recvQueue    *Queue
	sendDirect   *DirectBuffer
	recvDirect   *DirectBuffer
	stats        peerStats

	connectLocalInitiated bool
	chunkSuccessStreak    int

	// tcpEstablished is true once the transport-level handshake finishes
	// (either side), independent of the CONNECTING -> CONNECTED protocol
	// transition, which additionally waits on the CAPABILITY round trip.
	// The poll loop drains I/O for a peer as soon as this is true, not
	// only once it reaches CONNECTED, or the CAPABILITY frame that would
	// complete that transition could never be sent or received.
	tcpEstablished bool

	// Outbound large-message / fragmentation driver. At most one
	// multi-piece send is in flight per peer; Tier 2 (sendDirect) carries
	// whichever already-framed piece is currently loaded.
	fragActive       bool
	fragPieces       [][]byte
	fragNext         int
	fragPriority     types.Priority
	fragFlags        uint8
	fragID           uint8
	sendMsgIDCounter uint8

	// Partial-write cursor shared by whichever of Tier 1 (sendPending) or
	// Tier 2 (sendDirect) currently owns the connection's write side;
	// the two are mutually exclusive at any instant.
	sendPending []byte
	sendCursor  int
}

func (p *PeerRecord) valid() bool { return p.magic == peerMagic }

// PeerTable is the fixed-capacity peer arena: an owned slice of
// PeerRecord plus an O(1) id->index lookup array and a monotonic
// version counter bumped on any add/remove/state-change.
type PeerTable struct {
	peers     []PeerRecord
	used      []bool
	idToIndex [types.MaxPeersHardLimit + 1]int // index by peer.id, or -1
	capacity  int
	count     int
	nextID    uint16
	version   uint64
}

// NewPeerTable allocates a table for up to capacity peers.
func NewPeerTable(capacity int) *PeerTable {
	t := &PeerTable{
		peers:    make([]PeerRecord, capacity),
		used:     make([]bool, capacity),
		capacity: capacity,
		nextID:   1,
	}
	for i := range t.idToIndex {
		t.idToIndex[i] = -1
	}
	return t
}

func (t *PeerTable) Version() uint64 { return t.version }
func (t *PeerTable) Count() int      { return t.count }
func (t *PeerTable) Capacity() int   { return t.capacity }

func (t *PeerTable) bump() { t.version++ }

// Add creates a new peer record in DISCOVERED state for the given
// address/port/name, returning its record pointer. It fails with
// resource when the table is at capacity.
func (t *PeerTable) Add(address [4]byte, port uint16, name string, sendCap, recvCap, directCap, defaultMax, defaultChunk int) (*PeerRecord, error) {
	if t.count >= t.capacity {
		return nil, types.NewError(types.KindResource, "peer table at capacity %d", t.capacity)
	}
	slot := -1
	for i, inUse := range t.used {
		if !inUse {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, types.NewError(types.KindResource, "peer table has no free slot")
	}

	id := t.allocateID()
	sendQ, err := NewQueue(sendCap)
	if err != nil {
		return nil, err
	}
	recvQ, err := NewQueue(recvCap)
	if err != nil {
		return nil, err
	}

	p := &t.peers[slot]
	*p = PeerRecord{
		magic:          peerMagic,
		id:             id,
		state:          types.PeerDiscovered,
		address:        address,
		port:           port,
		name:           name,
		effectiveMax:   defaultMax,
		effectiveChunk: defaultChunk,
		sendQueue:      sendQ,
		recvQueue:      recvQ,
		sendDirect:     NewDirectBuffer(directCap),
		recvDirect:     NewDirectBuffer(directCap),
	}
	t.used[slot] = true
	t.idToIndex[id] = slot
	t.count++
	t.bump()
	return p, nil
}

func (t *PeerTable) allocateID() uint16 {
	for {
		id := t.nextID
		t.nextID++
		if int(t.nextID) >= len(t.idToIndex) {
			t.nextID = 1
		}
		if id != 0 && t.idToIndex[id] == -1 {
			return id
		}
	}
}

// Remove zeroes a peer's magic and frees its table slot.
func (t *PeerTable) Remove(id uint16) error {
	if int(id) >= len(t.idToIndex) {
		return types.NewError(types.KindPeerNotFound, "peer %d not found", id)
	}
	idx := t.idToIndex[id]
	if idx < 0 || !t.used[idx] {
		return types.NewError(types.KindPeerNotFound, "peer %d not found", id)
	}
	t.peers[idx] = PeerRecord{}
	t.used[idx] = false
	t.idToIndex[id] = -1
	t.count--
	t.bump()
	return nil
}

// ByID is the O(1) lookup required by the invariant
// id_to_index[id] == index_of(peer).
func (t *PeerTable) ByID(id uint16) (*PeerRecord, bool) {
	if int(id) >= len(t.idToIndex) {
		return nil, false
	}
	idx := t.idToIndex[id]
	if idx < 0 || !t.used[idx] || !t.peers[idx].valid() {
		return nil, false
	}
	return &t.peers[idx], true
}

// ByName does a linear scan over the name table, as specified.
func (t *PeerTable) ByName(name string) (*PeerRecord, bool) {
	for i, inUse := range t.used {
		if inUse && t.peers[i].name == name {
			return &t.peers[i], true
		}
	}
	return nil, false
}

// ByAddress scans peers comparing address and port.
func (t *PeerTable) ByAddress(address [4]byte, port uint16) (*PeerRecord, bool) {
	for i, inUse := range t.used {
		if inUse && t.peers[i].address == address && t.peers[i].port == port {
			return &t.peers[i], true
		}
	}
	return nil, false
}

// All returns every live peer record, for iteration by the poll loop
// and by get_peers.
func (t *PeerTable) All() []*PeerRecord {
	out := make([]*PeerRecord, 0, t.count)
	for i, inUse := range t.used {
		if inUse {
			out = append(out, &t.peers[i])
		}
	}
	return out
}

// SetState applies the peer state machine's transition table (§4.4),
// rejecting anything not explicitly allowed with invalid-state and
// leaving the peer's state untouched. A self-transition is always
// accepted (idempotent refresh) and still bumps the version so callers
// watching for churn see the refresh.
func (t *PeerTable) SetState(p *PeerRecord, to types.PeerState) error {
	if !p.valid() {
		return types.NewError(types.KindMagic, "peer magic corrupted")
	}
	if !types.CanTransition(p.state, to) {
		return types.NewError(types.KindInvalidState, "cannot transition %s -> %s", p.state, to)
	}
	p.state = to
	t.bump()
	return nil
}
