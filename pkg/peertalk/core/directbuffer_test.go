package core

import (
	"testing"

	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

func TestDirectBuffer_Lifecycle(t *testing.T) {
	b := NewDirectBuffer(64)
	if b.State() != DirectIdle {
		t.Fatalf("new buffer should start idle, got %v", b.State())
	}

	if err := b.MarkSending(); err == nil {
		t.Fatal("MarkSending from idle should fail")
	}
	if err := b.Complete(); err == nil {
		t.Fatal("Complete from idle should fail")
	}

	if err := b.Queue([]byte("hello"), types.PriorityHigh, 0); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if b.State() != DirectQueued {
		t.Fatalf("state after queue: got %v want queued", b.State())
	}
	if err := b.Queue([]byte("again"), types.PriorityHigh, 0); err == nil {
		t.Fatal("queue while already queued should fail")
	}

	if err := b.MarkSending(); err != nil {
		t.Fatalf("mark sending: %v", err)
	}
	if b.State() != DirectSending {
		t.Fatalf("state after mark sending: got %v want sending", b.State())
	}

	if err := b.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if b.State() != DirectIdle || b.Len() != 0 {
		t.Fatalf("state after complete: got %v len %d, want idle/0", b.State(), b.Len())
	}
}

func TestDirectBuffer_QueueRejectsOversize(t *testing.T) {
	b := NewDirectBuffer(4)
	if err := b.Queue([]byte("toolong"), types.PriorityNormal, 0); types.KindOf(err) != types.KindMessageTooLarge {
		t.Fatalf("oversize queue: got %v want message-too-large", err)
	}
}

func TestDirectBuffer_AbortFromAnyState(t *testing.T) {
	b := NewDirectBuffer(64)
	if err := b.Queue([]byte("x"), types.PriorityNormal, 0); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := b.MarkSending(); err != nil {
		t.Fatalf("mark sending: %v", err)
	}
	b.Abort()
	if b.State() != DirectIdle || b.Len() != 0 {
		t.Fatalf("abort did not reset to idle: state=%v len=%d", b.State(), b.Len())
	}
}

func TestDirectBuffer_ReceiveBypassesStateMachine(t *testing.T) {
	b := NewDirectBuffer(64)
	if err := b.Receive([]byte("inline")); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if b.State() != DirectIdle {
		t.Fatalf("receive must not engage the queued/sending state machine, got %v", b.State())
	}
	if string(b.Bytes()) != "inline" {
		t.Fatalf("received bytes: got %q want %q", b.Bytes(), "inline")
	}
}
