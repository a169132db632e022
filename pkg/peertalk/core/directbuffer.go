package core

import (
	"github.com/jabolina/go-peertalk/pkg/peertalk/compat"
	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

// DirectState is the Tier 2 single-slot lifecycle: idle -> queued (on
// Queue) -> sending (on MarkSending) -> idle (on Complete).
type DirectState uint8

const (
	DirectIdle DirectState = iota
	DirectQueued
	DirectSending
)

// DirectBuffer is the single-slot large-message path. Unlike the
// bounded priority queue, at most one message can be in flight at a
// time per peer direction.
type DirectBuffer struct {
	data     []byte
	capacity int
	length   int
	state    DirectState
	priority types.Priority
	flags    uint8
}

// NewDirectBuffer allocates a buffer sized to capacity. A non-positive
// capacity gets DefaultDirectBuffer, and anything above MaxDirectBuffer
// is clamped to it.
func NewDirectBuffer(capacity int) *DirectBuffer {
	if capacity <= 0 {
		capacity = types.DefaultDirectBuffer
	}
	if capacity > types.MaxDirectBuffer {
		capacity = types.MaxDirectBuffer
	}
	return &DirectBuffer{
		data:     make([]byte, capacity),
		capacity: capacity,
		state:    DirectIdle,
	}
}

// Queue moves idle -> queued. would-block if not idle, message-too-large
// if len exceeds capacity.
func (b *DirectBuffer) Queue(data []byte, priority types.Priority, flags uint8) error {
	if b.state != DirectIdle {
		return types.NewError(types.KindWouldBlock, "direct buffer not idle")
	}
	if len(data) > b.capacity {
		return types.NewError(types.KindMessageTooLarge, "message %d exceeds direct buffer capacity %d", len(data), b.capacity)
	}
	b.length = compat.ISRMemcpy(b.data, data)
	b.priority = priority
	b.flags = flags
	b.state = DirectQueued
	return nil
}

// MarkSending moves queued -> sending. The poll loop calls it when it
// starts draining the queued message, before the first write.
func (b *DirectBuffer) MarkSending() error {
	if b.state != DirectQueued {
		return types.NewError(types.KindInvalidState, "direct buffer not queued")
	}
	b.state = DirectSending
	return nil
}

// Complete moves sending -> idle. Called after the last byte is
// written.
func (b *DirectBuffer) Complete() error {
	if b.state != DirectSending {
		return types.NewError(types.KindInvalidState, "direct buffer not sending")
	}
	b.state = DirectIdle
	b.length = 0
	return nil
}

// Receive copies an incoming fully-assembled large message directly
// into the buffer without engaging the state machine; the caller
// delivers it immediately and the buffer is left idle for the next
// send. This mirrors the C source's intentional bypass: inbound large
// messages are delivered inline, never queued.
func (b *DirectBuffer) Receive(data []byte) error {
	if len(data) > b.capacity {
		return types.NewError(types.KindMessageTooLarge, "message %d exceeds direct buffer capacity %d", len(data), b.capacity)
	}
	b.length = compat.ISRMemcpy(b.data, data)
	return nil
}

// Abort forces the buffer back to idle regardless of its current state,
// discarding whatever was queued or partially sent.
func (b *DirectBuffer) Abort() {
	b.state = DirectIdle
	b.length = 0
}

func (b *DirectBuffer) State() DirectState { return b.state }
func (b *DirectBuffer) Len() int           { return b.length }
func (b *DirectBuffer) Priority() types.Priority { return b.priority }
func (b *DirectBuffer) Bytes() []byte      { return b.data[:b.length] }
func (b *DirectBuffer) Capacity() int      { return b.capacity }
