package test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/jabolina/go-peertalk/pkg/peertalk/core"
	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

var loopback = [4]byte{127, 0, 0, 1}

// UniqueName returns a name scoped to this test run, for clusters where
// the exact peer name isn't part of what's under test (unlike the
// literal-value scenarios, which pin specific names and ports).
func UniqueName(prefix string) string {
	return prefix + "-" + uuid.New().String()[:8]
}

// NewLoopbackPeer constructs a Context wired to net's shared fake
// network instead of a real socket, the way the teacher's
// test.CreateUnity builds a fully wired Unity for tests without a real
// cluster.
func NewLoopbackPeer(t *testing.T, net *fakeNetwork, name string, discoveryPort, tcpPort uint16) *core.Context {
	t.Helper()
	cfg := types.DefaultConfig(name)
	cfg.DiscoveryPort = discoveryPort
	cfg.TCPPort = tcpPort
	cfg.DiscoveryIntervalMS = 1000
	tr := newFakeTransport(net, loopback, discoveryPort)
	ctx, err := core.Init(cfg, tr)
	if err != nil {
		t.Fatalf("init peer %s: %v", name, err)
	}
	t.Cleanup(func() { _ = ctx.Shutdown() })
	return ctx
}

// PollUntil drives every given peer's Poll once per iteration until
// condition reports true or the iteration budget is exhausted.
func PollUntil(peers []*core.Context, maxPolls int, condition func() bool) bool {
	for i := 0; i < maxPolls; i++ {
		for _, p := range peers {
			_ = p.Poll()
		}
		if condition() {
			return true
		}
	}
	return condition()
}
