package core

import (
	"testing"

	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

// stubTransport answers every call with "nothing to do"; the flow
// control tests below never drive real I/O, only SendEx's admission
// decision, so no call here needs to succeed.
type stubTransport struct{}

func (stubTransport) SendUDP([4]byte, uint16, []byte) (int, error) { return 0, nil }
func (stubTransport) LocalAddresses() ([][4]byte, error)           { return nil, nil }
func (stubTransport) RecvUDPNonblocking([]byte) (int, [4]byte, uint16, error) {
	return 0, [4]byte{}, 0, types.NewError(types.KindWouldBlock, "")
}
func (stubTransport) TCPListen(uint16) (ListenHandle, error) { return nil, nil }
func (stubTransport) TCPAcceptNonblocking(ListenHandle) (TCPHandle, [4]byte, uint16, error) {
	return nil, [4]byte{}, 0, types.NewError(types.KindWouldBlock, "")
}
func (stubTransport) TCPConnectNonblocking([4]byte, uint16) (TCPHandle, error) { return struct{}{}, nil }
func (stubTransport) TCPConnectStatus(TCPHandle) (ConnectStatus, error)        { return ConnectEstablished, nil }
func (stubTransport) TCPSendNonblocking(TCPHandle, []byte) (int, error)        { return 0, nil }
func (stubTransport) TCPRecvNonblocking(TCPHandle, []byte) (int, error) {
	return 0, types.NewError(types.KindWouldBlock, "")
}
func (stubTransport) TCPClose(TCPHandle) error      { return nil }
func (stubTransport) CloseListener(ListenHandle) error { return nil }
func (stubTransport) CloseDiscovery() error            { return nil }
func (stubTransport) NowTicks() uint32                 { return 0 }
func (stubTransport) GetFreeMem() uint64               { return 1 << 30 }
func (stubTransport) GetMaxBlock() uint64              { return 1 << 20 }

func newConnectedTestPeer(t *testing.T) (*Context, *PeerRecord) {
	t.Helper()
	cfg := types.DefaultConfig("local")
	ctx, err := Init(cfg, stubTransport{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	p, err := ctx.table.Add([4]byte{127, 0, 0, 1}, 9000, "remote", 64, 64, cfg.DirectBufferSize, cfg.MaxMessageSize, cfg.DefaultChunk)
	if err != nil {
		t.Fatalf("add peer: %v", err)
	}
	for _, s := range []types.PeerState{types.PeerConnecting, types.PeerConnected} {
		if err := ctx.table.SetState(p, s); err != nil {
			t.Fatalf("transition to %v: %v", s, err)
		}
	}
	return ctx, p
}

// TestSendEx_ThrottlesByPeerReportedPressure is scenario 6 of the
// testable properties: the admission decision is driven by the peer's
// reported pressure, which is an independently-advertised percentage,
// not the local send queue's own occupancy. Reaching pressure 100 must
// not require the queue itself to be full.
func TestSendEx_ThrottlesByPeerReportedPressure(t *testing.T) {
	ctx, p := newConnectedTestPeer(t)

	p.capability.advertisedPressure = 50
	if err := ctx.SendEx(p.id, []byte("x"), types.PriorityLow, 0, types.NoCoalesceKey); types.KindOf(err) != types.KindBackpressure {
		t.Fatalf("LOW at pressure 50: want backpressure, got %v", err)
	}
	if err := ctx.SendEx(p.id, []byte("x"), types.PriorityNormal, 0, types.NoCoalesceKey); err != nil {
		t.Fatalf("NORMAL at pressure 50: want ok, got %v", err)
	}

	p.capability.advertisedPressure = 90
	if err := ctx.SendEx(p.id, []byte("x"), types.PriorityHigh, 0, types.NoCoalesceKey); types.KindOf(err) != types.KindBackpressure {
		t.Fatalf("HIGH at pressure 90: want backpressure, got %v", err)
	}
	if err := ctx.SendEx(p.id, []byte("x"), types.PriorityCritical, 0, types.NoCoalesceKey); err != nil {
		t.Fatalf("CRITICAL at pressure 90: want ok, got %v", err)
	}

	p.capability.advertisedPressure = 100
	if err := ctx.SendEx(p.id, []byte("x"), types.PriorityHigh, 0, types.NoCoalesceKey); types.KindOf(err) != types.KindBackpressure {
		t.Fatalf("HIGH at pressure 100: want backpressure, got %v", err)
	}
	if err := ctx.SendEx(p.id, []byte("x"), types.PriorityCritical, 0, types.NoCoalesceKey); err != nil {
		t.Fatalf("CRITICAL at pressure 100: want ok, got %v", err)
	}
}

func TestSendEx_RejectsUnknownPeer(t *testing.T) {
	ctx, _ := newConnectedTestPeer(t)
	err := ctx.SendEx(9999, []byte("x"), types.PriorityNormal, 0, types.NoCoalesceKey)
	if types.KindOf(err) != types.KindPeerNotFound {
		t.Fatalf("want peer-not-found, got %v", err)
	}
}

func TestSendEx_RejectsOversizeMessage(t *testing.T) {
	ctx, p := newConnectedTestPeer(t)
	big := make([]byte, ctx.config.MaxMessageSize+1)
	err := ctx.SendEx(p.id, big, types.PriorityNormal, 0, types.NoCoalesceKey)
	if types.KindOf(err) != types.KindMessageTooLarge {
		t.Fatalf("want message-too-large, got %v", err)
	}
}
