package core

import "github.com/jabolina/go-peertalk/pkg/peertalk/types"

// fragmentPieces splits data into chunkSize-sized pieces and returns,
// for each piece, the MessageType it must be framed with: the first
// piece is FRAGMENT-START, the last is FRAGMENT-END, everything between
// is FRAGMENT-CONT. A message that fits in a single piece is not
// fragmented by this function; callers only invoke it once they've
// decided fragmentation applies.
func fragmentPieces(data []byte, chunkSize int) ([][]byte, []types.MessageType) {
	if chunkSize <= 0 {
		chunkSize = types.DefaultChunk
	}
	var pieces [][]byte
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		pieces = append(pieces, data[off:end])
	}
	if len(pieces) == 0 {
		pieces = [][]byte{{}}
	}

	kinds := make([]types.MessageType, len(pieces))
	for i := range pieces {
		switch {
		case len(pieces) == 1:
			kinds[i] = types.MessageFragmentStart
		case i == 0:
			kinds[i] = types.MessageFragmentStart
		case i == len(pieces)-1:
			kinds[i] = types.MessageFragmentEnd
		default:
			kinds[i] = types.MessageFragmentCont
		}
	}
	return pieces, kinds
}

// shouldFragment implements the "auto" semantics pinned down in the
// design notes: fragment only when len exceeds effectiveMax, regardless
// of mode, except mode=off which never fragments and mode=on which
// always routes oversized-for-direct messages through fragmentation
// once they exceed effectiveMax.
func shouldFragment(mode types.FragmentationMode, length, effectiveMax int) bool {
	if mode == types.FragmentationOff {
		return false
	}
	return length > effectiveMax
}

// reassemblyMaxBytes bounds reassembly per §4.6: effective_max_msg *
// fragment_cap.
func reassemblyMaxBytes(effectiveMax, fragmentCap int) int {
	if fragmentCap <= 0 {
		fragmentCap = types.DefaultFragmentCap
	}
	return effectiveMax * fragmentCap
}

// beginReassembly starts tracking a FRAGMENT-START. It refuses to start
// a second reassembly while one is already in progress.
func beginReassembly(r *reassemblyState, msgID uint8, first []byte) error {
	if r.active {
		return types.NewError(types.KindInternal, "fragment-start received while a reassembly is already active")
	}
	r.active = true
	r.msgID = msgID
	r.buffer = append(r.buffer[:0], first...)
	return nil
}

// appendReassembly appends a FRAGMENT-CONT/-END piece, bounded by
// maxBytes.
func appendReassembly(r *reassemblyState, piece []byte, maxBytes int) error {
	if !r.active {
		return types.NewError(types.KindInternal, "fragment continuation received with no reassembly in progress")
	}
	if len(r.buffer)+len(piece) > maxBytes {
		return types.NewError(types.KindResource, "reassembly exceeds bound %d bytes", maxBytes)
	}
	r.buffer = append(r.buffer, piece...)
	return nil
}

// finishReassembly appends the final piece and returns the assembled
// message, resetting the reassembly state.
func finishReassembly(r *reassemblyState, piece []byte, maxBytes int) ([]byte, error) {
	if err := appendReassembly(r, piece, maxBytes); err != nil {
		return nil, err
	}
	out := r.buffer
	r.active = false
	r.msgID = 0
	r.buffer = nil
	return out, nil
}
