package core

import (
	"sync/atomic"

	"github.com/jabolina/go-peertalk/pkg/peertalk/compat"
	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

// SlotPayloadSize bounds a single queue slot's payload, per the data
// model: every small outbound message routes through here, anything
// larger goes through the direct buffer or fragmentation.
const SlotPayloadSize = 256

// coalesceBucketSize is the size of the direct-mapped hash bucket used
// by push_coalesce; collisions are allowed and intentionally
// conservative (a collision just means two distinct keys can't coalesce
// against each other, not that anything is lost).
const coalesceBucketSize = 32

const queueMagic uint32 = 0x51544c4b // "QTLK"

type slotFlags uint8

const (
	slotInUse slotFlags = 1 << iota
	slotCoalescable
)

type queueSlot struct {
	payload     [SlotPayloadSize]byte
	length      int
	priority    types.Priority
	flags       slotFlags
	coalesceKey uint16

	// Doubly linked FIFO order across all priorities, used by the
	// plain pop()/peek() path.
	gPrev, gNext int

	// Doubly linked order within this slot's priority, used by
	// pop_priority() for O(1) highest-priority-first retrieval.
	pPrev, pNext int
}

const listNone = -1

// Queue is the bounded, power-of-two ring queue described in the data
// model: FIFO push/pop, priority-ordered pop, coalescing by key, an
// ISR-safe push path, and a pressure metric.
type Queue struct {
	magic    uint32
	capacity int
	mask     int
	count    int

	slots []queueSlot
	free  []int

	globalHead, globalTail int
	priHead, priTail       [types.NumPriorities]int

	coalesceBucket [coalesceBucketSize]int

	// Zero-copy direct-pop staging: the index currently held out via
	// PopPriorityDirect, committed (freed) by PopPriorityCommit, or -1.
	pendingDirect int
	// Same for the plain Peek/Consume pair.
	pendingPeek int

	isr *isrRing
}

// NewQueue validates capacity is a power of two and allocates the slot
// array.
func NewQueue(capacity int) (*Queue, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, types.NewError(types.KindNotPowerOfTwo, "queue capacity %d is not a power of two", capacity)
	}

	q := &Queue{
		magic:         queueMagic,
		capacity:      capacity,
		mask:          capacity - 1,
		slots:         make([]queueSlot, capacity),
		free:          make([]int, capacity),
		globalHead:    listNone,
		globalTail:    listNone,
		pendingDirect: listNone,
		pendingPeek:   listNone,
	}
	for i := 0; i < capacity; i++ {
		q.free[i] = capacity - 1 - i
	}
	for p := range q.priHead {
		q.priHead[p] = listNone
		q.priTail[p] = listNone
	}
	for i := range q.coalesceBucket {
		q.coalesceBucket[i] = listNone
	}
	q.isr = newISRRing(capacity)
	return q, nil
}

func (q *Queue) checkMagic() error {
	if q.magic != queueMagic {
		return types.NewError(types.KindMagic, "queue magic corrupted")
	}
	return nil
}

func (q *Queue) allocSlot() int {
	idx := q.free[len(q.free)-1]
	q.free = q.free[:len(q.free)-1]
	return idx
}

func (q *Queue) freeSlot(idx int) {
	s := &q.slots[idx]
	*s = queueSlot{}
	q.free = append(q.free, idx)
}

func (q *Queue) linkGlobalTail(idx int) {
	s := &q.slots[idx]
	s.gPrev = q.globalTail
	s.gNext = listNone
	if q.globalTail != listNone {
		q.slots[q.globalTail].gNext = idx
	} else {
		q.globalHead = idx
	}
	q.globalTail = idx
}

func (q *Queue) unlinkGlobal(idx int) {
	s := &q.slots[idx]
	if s.gPrev != listNone {
		q.slots[s.gPrev].gNext = s.gNext
	} else {
		q.globalHead = s.gNext
	}
	if s.gNext != listNone {
		q.slots[s.gNext].gPrev = s.gPrev
	} else {
		q.globalTail = s.gPrev
	}
}

func (q *Queue) linkPriorityTail(idx int) {
	s := &q.slots[idx]
	pr := s.priority
	s.pPrev = q.priTail[pr]
	s.pNext = listNone
	if q.priTail[pr] != listNone {
		q.slots[q.priTail[pr]].pNext = idx
	} else {
		q.priHead[pr] = idx
	}
	q.priTail[pr] = idx
}

func (q *Queue) unlinkPriority(idx int) {
	s := &q.slots[idx]
	pr := s.priority
	if s.pPrev != listNone {
		q.slots[s.pPrev].pNext = s.pNext
	} else {
		q.priHead[pr] = s.pNext
	}
	if s.pNext != listNone {
		q.slots[s.pNext].pPrev = s.pPrev
	} else {
		q.priTail[pr] = s.pPrev
	}
}

func coalesceBucketIndex(key uint16) int {
	return int((key ^ (key >> 8)) & (coalesceBucketSize - 1))
}

// Push enqueues a plain, non-coalescable message at the given priority.
func (q *Queue) Push(data []byte, priority types.Priority, flags uint8) error {
	return q.push(data, priority, flags, types.NoCoalesceKey, false)
}

// PushCoalesce enqueues with coalescing: if key is types.NoCoalesceKey it
// behaves like Push. Otherwise, a hit in the direct-mapped coalesce
// bucket against a live coalescable slot for that key overwrites the
// slot's payload in place instead of enqueueing a new one.
func (q *Queue) PushCoalesce(data []byte, priority types.Priority, key uint16) error {
	if key == types.NoCoalesceKey {
		return q.push(data, priority, 0, types.NoCoalesceKey, false)
	}

	if err := q.checkMagic(); err != nil {
		return err
	}
	if len(data) > SlotPayloadSize {
		return types.NewError(types.KindMessageTooLarge, "payload %d exceeds slot size %d", len(data), SlotPayloadSize)
	}

	bucket := coalesceBucketIndex(key)
	idx := q.coalesceBucket[bucket]
	if idx != listNone {
		s := &q.slots[idx]
		if s.flags&slotInUse != 0 && s.flags&slotCoalescable != 0 && s.coalesceKey == key {
			s.length = copy(s.payload[:], data)
			return nil
		}
	}

	return q.push(data, priority, 0, key, true)
}

func (q *Queue) push(data []byte, priority types.Priority, flags uint8, key uint16, coalescable bool) error {
	if err := q.checkMagic(); err != nil {
		return err
	}
	if !priority.Valid() {
		return types.NewError(types.KindInvalidParam, "invalid priority %d", priority)
	}
	if len(data) > SlotPayloadSize {
		return types.NewError(types.KindMessageTooLarge, "payload %d exceeds slot size %d", len(data), SlotPayloadSize)
	}
	q.drainISR()
	if q.count >= q.capacity {
		return types.NewError(types.KindBufferFull, "queue at capacity %d", q.capacity)
	}

	idx := q.allocSlot()
	s := &q.slots[idx]
	s.length = compat.ISRMemcpy(s.payload[:], data)
	s.priority = priority
	s.flags = slotInUse
	s.coalesceKey = types.NoCoalesceKey
	if coalescable {
		s.flags |= slotCoalescable
		s.coalesceKey = key
		q.coalesceBucket[coalesceBucketIndex(key)] = idx
	}
	_ = flags

	q.linkGlobalTail(idx)
	q.linkPriorityTail(idx)
	q.count++
	return nil
}

// PushISR is the lock-free single-writer path for ISR/deferred-task
// producers: it stages into a dedicated ring so the owner thread can
// drain it later without ever observing a partially written slot.
func (q *Queue) PushISR(data []byte) error {
	if err := q.checkMagic(); err != nil {
		return err
	}
	return q.isr.push(data)
}

// drainISR folds any staged ISR pushes into the main queue. It runs on
// the owner thread only (called by push and by every pop/peek entry
// point), so it never races the ISR producer's reservation.
func (q *Queue) drainISR() {
	for {
		data, ok := q.isr.peek()
		if !ok {
			return
		}
		if q.count >= q.capacity {
			return
		}
		idx := q.allocSlot()
		s := &q.slots[idx]
		s.length = compat.ISRMemcpy(s.payload[:], data)
		s.priority = types.PriorityNormal
		s.flags = slotInUse
		s.coalesceKey = types.NoCoalesceKey
		q.linkGlobalTail(idx)
		q.linkPriorityTail(idx)
		q.count++
		q.isr.advance()
	}
}

func (q *Queue) removeSlot(idx int) (payload []byte, priority types.Priority) {
	s := &q.slots[idx]
	payload = append([]byte(nil), s.payload[:s.length]...)
	priority = s.priority
	if s.flags&slotCoalescable != 0 {
		bucket := coalesceBucketIndex(s.coalesceKey)
		if q.coalesceBucket[bucket] == idx {
			q.coalesceBucket[bucket] = listNone
		}
	}
	q.unlinkGlobal(idx)
	q.unlinkPriority(idx)
	q.freeSlot(idx)
	q.count--
	return payload, priority
}

// Pop removes and returns the oldest-inserted message, independent of
// priority.
func (q *Queue) Pop() ([]byte, error) {
	if err := q.checkMagic(); err != nil {
		return nil, err
	}
	q.drainISR()
	if q.globalHead == listNone {
		return nil, types.NewError(types.KindQueueEmpty, "queue empty")
	}
	payload, _ := q.removeSlot(q.globalHead)
	return payload, nil
}

// PopPriority removes and returns the highest-priority message, FIFO
// within a priority, in O(1).
func (q *Queue) PopPriority() ([]byte, types.Priority, error) {
	if err := q.checkMagic(); err != nil {
		return nil, 0, err
	}
	q.drainISR()
	for pr := types.NumPriorities - 1; pr >= 0; pr-- {
		if q.priHead[pr] != listNone {
			payload, priority := q.removeSlot(q.priHead[pr])
			return payload, priority, nil
		}
	}
	return nil, 0, types.NewError(types.KindQueueEmpty, "queue empty")
}

// PopPriorityDirect is a zero-copy peek at the winning slot; the caller
// must call PopPriorityCommit to retire it before popping again.
func (q *Queue) PopPriorityDirect() ([]byte, types.Priority, error) {
	if err := q.checkMagic(); err != nil {
		return nil, 0, err
	}
	if q.pendingDirect != listNone {
		return nil, 0, types.NewError(types.KindBusy, "previous direct pop not committed")
	}
	q.drainISR()
	for pr := types.NumPriorities - 1; pr >= 0; pr-- {
		if q.priHead[pr] != listNone {
			idx := q.priHead[pr]
			q.pendingDirect = idx
			s := &q.slots[idx]
			return s.payload[:s.length], s.priority, nil
		}
	}
	return nil, 0, types.NewError(types.KindQueueEmpty, "queue empty")
}

// PopPriorityCommit retires the slot handed out by PopPriorityDirect.
func (q *Queue) PopPriorityCommit() error {
	if q.pendingDirect == listNone {
		return types.NewError(types.KindInvalidState, "no pending direct pop")
	}
	idx := q.pendingDirect
	q.pendingDirect = listNone
	q.removeSlot(idx)
	return nil
}

// Peek returns the oldest message without removing it.
func (q *Queue) Peek() ([]byte, error) {
	if err := q.checkMagic(); err != nil {
		return nil, err
	}
	if q.pendingPeek != listNone {
		return nil, types.NewError(types.KindBusy, "previous peek not consumed")
	}
	q.drainISR()
	if q.globalHead == listNone {
		return nil, types.NewError(types.KindQueueEmpty, "queue empty")
	}
	q.pendingPeek = q.globalHead
	s := &q.slots[q.globalHead]
	return s.payload[:s.length], nil
}

// Consume retires the message handed out by Peek.
func (q *Queue) Consume() error {
	if q.pendingPeek == listNone {
		return types.NewError(types.KindInvalidState, "no pending peek")
	}
	idx := q.pendingPeek
	q.pendingPeek = listNone
	q.removeSlot(idx)
	return nil
}

// Reset drops every queued message and returns the queue to its
// just-initialized state.
func (q *Queue) Reset() {
	for i := range q.slots {
		q.slots[i] = queueSlot{}
	}
	q.free = q.free[:0]
	for i := 0; i < q.capacity; i++ {
		q.free = append(q.free, q.capacity-1-i)
	}
	q.globalHead, q.globalTail = listNone, listNone
	for p := range q.priHead {
		q.priHead[p], q.priTail[p] = listNone, listNone
	}
	for i := range q.coalesceBucket {
		q.coalesceBucket[i] = listNone
	}
	q.count = 0
	q.pendingDirect = listNone
	q.pendingPeek = listNone
}

// Free releases the queue's resources and invalidates its magic so any
// further use is caught as corruption rather than silently misbehaving.
func (q *Queue) Free() {
	q.Reset()
	q.magic = 0
}

// Pressure reports percentage fullness, clamped 0..100.
func (q *Queue) Pressure() int {
	p := q.count * 100 / q.capacity
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

func (q *Queue) FreeSlots() int { return q.capacity - q.count }
func (q *Queue) Count() int     { return q.count }
func (q *Queue) Capacity() int  { return q.capacity }
func (q *Queue) IsEmpty() bool  { return q.count == 0 }
func (q *Queue) IsFull() bool   { return q.count >= q.capacity }

// isrRing is the wait-free single-writer/single-reader staging ring
// PushISR reserves into. The owner thread drains it via peek/advance;
// readers only ever observe a slot once it's fully written (ready is a
// release store, observed with an acquire load), so partial writes are
// never visible.
type isrRing struct {
	capacity int
	mask     int
	slots    []isrSlot
	writeRes atomic.Uint64 // next reservation index, ISR-side only
	readIdx  uint64         // owner-thread only
}

type isrSlot struct {
	payload [SlotPayloadSize]byte
	length  int
	ready   atomic.Bool
}

func newISRRing(capacity int) *isrRing {
	return &isrRing{
		capacity: capacity,
		mask:     capacity - 1,
		slots:    make([]isrSlot, capacity),
	}
}

func (r *isrRing) push(data []byte) error {
	if len(data) > SlotPayloadSize {
		return types.NewError(types.KindMessageTooLarge, "isr payload %d exceeds slot size %d", len(data), SlotPayloadSize)
	}
	pos := r.writeRes.Add(1) - 1
	slot := &r.slots[pos&uint64(r.mask)]
	if slot.ready.Load() {
		// The staging ring itself is full (owner hasn't drained yet).
		// Roll the reservation back logically by refusing the write;
		// the counter having advanced just means the next producer
		// retries a slot further ahead once this one drains.
		return types.NewError(types.KindBufferFull, "isr staging ring full")
	}
	slot.length = compat.ISRMemcpy(slot.payload[:], data)
	slot.ready.Store(true)
	return nil
}

func (r *isrRing) peek() ([]byte, bool) {
	slot := &r.slots[r.readIdx&uint64(r.mask)]
	if !slot.ready.Load() {
		return nil, false
	}
	return slot.payload[:slot.length], true
}

func (r *isrRing) advance() {
	slot := &r.slots[r.readIdx&uint64(r.mask)]
	slot.ready.Store(false)
	r.readIdx++
}
