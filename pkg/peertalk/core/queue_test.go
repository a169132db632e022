package core

import (
	"testing"

	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

// TestQueue_PriorityOrderingAndCoalescing is scenario 3 of the testable
// properties: a priority pop drains strictly by priority, and repeated
// coalesce pushes on the same key collapse to one slot holding the
// latest value.
func TestQueue_PriorityOrderingAndCoalescing(t *testing.T) {
	q, err := NewQueue(16)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	if err := q.Push([]byte("low"), types.PriorityLow, 0); err != nil {
		t.Fatalf("push low: %v", err)
	}
	if err := q.Push([]byte("normal"), types.PriorityNormal, 0); err != nil {
		t.Fatalf("push normal: %v", err)
	}
	if err := q.Push([]byte("high"), types.PriorityHigh, 0); err != nil {
		t.Fatalf("push high: %v", err)
	}
	if err := q.Push([]byte("critical"), types.PriorityCritical, 0); err != nil {
		t.Fatalf("push critical: %v", err)
	}

	want := []string{"critical", "high", "normal", "low"}
	for _, w := range want {
		data, _, err := q.PopPriority()
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if string(data) != w {
			t.Fatalf("pop order: got %q want %q", data, w)
		}
	}
	if !q.IsEmpty() {
		t.Fatalf("queue should be drained, count=%d", q.Count())
	}

	const key = uint16(42)
	for i := 1; i <= 5; i++ {
		msg := []byte("pos:" + string(rune('0'+i)) + "," + string(rune('0'+i)))
		if err := q.PushCoalesce(msg, types.PriorityNormal, key); err != nil {
			t.Fatalf("push coalesce %d: %v", i, err)
		}
	}
	if q.Count() != 1 {
		t.Fatalf("coalesced queue count: got %d want 1", q.Count())
	}
	data, _, err := q.PopPriority()
	if err != nil {
		t.Fatalf("pop coalesced: %v", err)
	}
	if want := "pos:5,5"; string(data) != want {
		t.Fatalf("coalesced value: got %q want %q", data, want)
	}
}

func TestQueue_CountNeverExceedsCapacity(t *testing.T) {
	q, err := NewQueue(4)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := q.Push([]byte{byte(i)}, types.PriorityNormal, 0); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if !q.IsFull() {
		t.Fatalf("queue should report full at capacity")
	}
	if err := q.Push([]byte{9}, types.PriorityNormal, 0); err == nil {
		t.Fatalf("push past capacity should fail")
	}
	if q.Count() > q.Capacity() {
		t.Fatalf("count %d exceeds capacity %d", q.Count(), q.Capacity())
	}
}

func TestQueue_PressureTracksOccupancy(t *testing.T) {
	q, err := NewQueue(64)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	for i := 0; i < 32; i++ {
		if err := q.Push([]byte{byte(i)}, types.PriorityNormal, 0); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if p := q.Pressure(); p != 50 {
		t.Fatalf("pressure at half capacity: got %d want 50", p)
	}
}
