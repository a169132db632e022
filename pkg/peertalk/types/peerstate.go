package types

// PeerState is the peer lifecycle state machine. All transitions not
// present in the table below, and not a no-op refresh, are rejected
// with invalid-state and leave the peer untouched.
type PeerState uint8

const (
	PeerUnused PeerState = iota
	PeerDiscovered
	PeerConnecting
	PeerConnected
	PeerDisconnecting
	PeerFailed
)

func (s PeerState) String() string {
	switch s {
	case PeerUnused:
		return "UNUSED"
	case PeerDiscovered:
		return "DISCOVERED"
	case PeerConnecting:
		return "CONNECTING"
	case PeerConnected:
		return "CONNECTED"
	case PeerDisconnecting:
		return "DISCONNECTING"
	case PeerFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var peerTransitions = map[PeerState]map[PeerState]bool{
	PeerUnused: {
		PeerDiscovered: true,
	},
	PeerDiscovered: {
		PeerDiscovered: true,
		PeerConnecting: true,
		PeerUnused:     true,
	},
	PeerConnecting: {
		PeerConnected:     true,
		PeerFailed:        true,
		PeerDisconnecting: true,
	},
	PeerConnected: {
		PeerDisconnecting: true,
		PeerFailed:        true,
	},
	PeerDisconnecting: {
		PeerUnused: true,
		PeerFailed: true,
	},
	PeerFailed: {
		PeerDiscovered: true,
		PeerUnused:     true,
	},
}

// CanTransition reports whether moving from `from` to `to` is allowed.
// Setting a state equal to the current one is always accepted as an
// idempotent refresh.
func CanTransition(from, to PeerState) bool {
	if from == to {
		return true
	}
	allowed, ok := peerTransitions[from]
	return ok && allowed[to]
}
