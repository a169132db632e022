package core

import "github.com/jabolina/go-peertalk/pkg/peertalk/types"

// shouldThrottle implements pt_peer_should_throttle: the set of
// priorities rejected only ever grows as pressure rises, shrinking back
// to nothing below 25.
func shouldThrottle(pressure int, priority types.Priority) bool {
	switch {
	case pressure < 25:
		return false
	case pressure < 75:
		return priority == types.PriorityLow
	case pressure < 90:
		return priority == types.PriorityLow || priority == types.PriorityNormal
	case pressure < 100:
		return priority != types.PriorityCritical
	default: // == 100
		return priority != types.PriorityCritical
	}
}

// pressureThresholds are the reporting thresholds: a peer only emits a
// new PRESSURE message when crossing one of these relative to the last
// value it reported.
var pressureThresholds = []int{0, 25, 50, 75, 90}

// crossedThreshold reports whether moving from `last` to `current`
// crosses at least one reporting threshold.
func crossedThreshold(last, current int) bool {
	for _, t := range pressureThresholds {
		if (last < t) != (current < t) {
			return true
		}
	}
	return false
}

// negotiateCapabilities applies a received CAPABILITY message: the
// effective max message size and chunk are always the minimum of the
// two sides, per §4.8.
func negotiateCapabilities(local *capabilityBlock, localMaxMessage, localChunk int, peerMaxMessage, peerChunk int) (effectiveMax, effectiveChunk int) {
	local.peerMaxMessage = peerMaxMessage
	local.peerPreferredChunk = peerChunk

	effectiveMax = localMaxMessage
	if peerMaxMessage < effectiveMax {
		effectiveMax = peerMaxMessage
	}
	effectiveChunk = localChunk
	if peerChunk < effectiveChunk {
		effectiveChunk = peerChunk
	}
	return effectiveMax, effectiveChunk
}
