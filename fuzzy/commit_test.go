// Package fuzzy holds full lifecycle integration tests: discovery,
// connect, send, and shutdown driven end to end with no real socket,
// checked for leaked goroutines afterward.
package fuzzy

import (
	"testing"

	"go.uber.org/goleak"

	"github.com/jabolina/go-peertalk/pkg/peertalk/core"
	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
	pt "github.com/jabolina/go-peertalk/test"
)

// Test_SequentialMessages drives two loopback peers through discovery,
// connect, and a run of sequential sends, verifying every message
// arrives in order and no goroutine survives shutdown.
func Test_SequentialMessages(t *testing.T) {
	defer goleak.VerifyNone(t)

	net := pt.NewFakeNetwork()
	alphaName := pt.UniqueName("alpha")
	betaName := pt.UniqueName("beta")
	alpha := pt.NewLoopbackPeer(t, net, alphaName, 19001, 19002)
	beta := pt.NewLoopbackPeer(t, net, betaName, 19001, 19003)

	if err := alpha.StartDiscovery(); err != nil {
		t.Fatalf("alpha start discovery: %v", err)
	}
	if err := beta.StartDiscovery(); err != nil {
		t.Fatalf("beta start discovery: %v", err)
	}
	if err := alpha.StartListening(); err != nil {
		t.Fatalf("alpha start listening: %v", err)
	}
	if err := beta.StartListening(); err != nil {
		t.Fatalf("beta start listening: %v", err)
	}

	peers := []*core.Context{alpha, beta}
	ok := pt.PollUntil(peers, 80, func() bool {
		_, aerr := alpha.FindPeerByName(betaName)
		_, berr := beta.FindPeerByName(alphaName)
		return aerr == nil && berr == nil
	})
	if !ok {
		t.Fatal("peers never discovered each other")
	}

	betaInfo, err := alpha.FindPeerByName(betaName)
	if err != nil {
		t.Fatalf("alpha find beta: %v", err)
	}
	if err := alpha.Connect(betaInfo.ID); err != nil {
		t.Fatalf("alpha connect: %v", err)
	}

	ok = pt.PollUntil(peers, 40, func() bool {
		info, err := alpha.GetPeerByID(betaInfo.ID)
		if err != nil || info.State != types.PeerConnected {
			return false
		}
		bi, err := beta.FindPeerByName(alphaName)
		return err == nil && bi.State == types.PeerConnected
	})
	if !ok {
		t.Fatal("connection never established")
	}

	var received [][]byte
	if err := beta.SetCallbacks(core.Callbacks{
		OnMessageReceived: func(_ uint16, data []byte) { received = append(received, append([]byte(nil), data...)) },
	}); err != nil {
		t.Fatalf("set callbacks: %v", err)
	}

	messages := []string{"a", "b", "c", "d", "e"}
	for _, m := range messages {
		if err := alpha.Send(betaInfo.ID, []byte(m)); err != nil {
			t.Fatalf("send %q: %v", m, err)
		}
	}

	ok = pt.PollUntil(peers, 60, func() bool { return len(received) == len(messages) })
	if !ok {
		t.Fatalf("only received %d of %d messages", len(received), len(messages))
	}
	for i, m := range messages {
		if string(received[i]) != m {
			t.Errorf("message %d: got %q want %q", i, received[i], m)
		}
	}

	if err := alpha.Shutdown(); err != nil {
		t.Fatalf("alpha shutdown: %v", err)
	}
	if err := beta.Shutdown(); err != nil {
		t.Fatalf("beta shutdown: %v", err)
	}
	// Idempotent: a second shutdown on an already-torn-down context must
	// not panic or leak.
	if err := alpha.Shutdown(); err != nil {
		t.Fatalf("second shutdown must be a safe no-op, got: %v", err)
	}
}
