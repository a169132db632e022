package core

import (
	"testing"

	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

func addTestPeer(t *testing.T, tbl *PeerTable, addr [4]byte, port uint16, name string) *PeerRecord {
	t.Helper()
	p, err := tbl.Add(addr, port, name, 64, 64, 4096, 8192, 1024)
	if err != nil {
		t.Fatalf("add %s: %v", name, err)
	}
	return p
}

func TestPeerTable_AddAndLookup(t *testing.T) {
	tbl := NewPeerTable(4)
	p := addTestPeer(t, tbl, [4]byte{10, 0, 0, 1}, 9000, "one")

	if p.state != types.PeerDiscovered {
		t.Fatalf("new peer state: got %v want DISCOVERED", p.state)
	}
	if got, ok := tbl.ByID(p.id); !ok || got != p {
		t.Fatalf("ByID did not return the same record")
	}
	if got, ok := tbl.ByName("one"); !ok || got != p {
		t.Fatalf("ByName did not return the same record")
	}
	if got, ok := tbl.ByAddress([4]byte{10, 0, 0, 1}, 9000); !ok || got != p {
		t.Fatalf("ByAddress did not return the same record")
	}
	if _, ok := tbl.ByID(p.id + 1); ok {
		t.Fatalf("ByID found a peer that was never added")
	}
}

func TestPeerTable_CapacityLimit(t *testing.T) {
	tbl := NewPeerTable(2)
	addTestPeer(t, tbl, [4]byte{1, 1, 1, 1}, 1, "a")
	addTestPeer(t, tbl, [4]byte{1, 1, 1, 2}, 2, "b")
	if _, err := tbl.Add([4]byte{1, 1, 1, 3}, 3, "c", 64, 64, 4096, 8192, 1024); types.KindOf(err) != types.KindResource {
		t.Fatalf("add past capacity: got %v want resource", err)
	}
}

func TestPeerTable_RemoveFreesSlotAndID(t *testing.T) {
	tbl := NewPeerTable(4)
	p := addTestPeer(t, tbl, [4]byte{1, 1, 1, 1}, 1, "a")
	id := p.id
	if err := tbl.Remove(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := tbl.ByID(id); ok {
		t.Fatalf("removed peer still found by id")
	}
	if err := tbl.Remove(id); err == nil {
		t.Fatalf("double remove should fail")
	}
	q := addTestPeer(t, tbl, [4]byte{2, 2, 2, 2}, 2, "b")
	if q.id == 0 {
		t.Fatalf("reused slot must get a valid nonzero id")
	}
}

func TestPeerTable_IDToIndexInvariant(t *testing.T) {
	tbl := NewPeerTable(8)
	var ids []uint16
	for i := 0; i < 5; i++ {
		p := addTestPeer(t, tbl, [4]byte{1, 1, 1, byte(i)}, uint16(100+i), "peer")
		ids = append(ids, p.id)
	}
	_ = tbl.Remove(ids[1])
	_ = tbl.Remove(ids[3])
	addTestPeer(t, tbl, [4]byte{9, 9, 9, 9}, 999, "replacement")

	for _, p := range tbl.All() {
		if !p.valid() {
			t.Fatalf("live peer %d has corrupted magic", p.id)
		}
		idx := tbl.idToIndex[p.id]
		if idx < 0 || &tbl.peers[idx] != p {
			t.Fatalf("id_to_index invariant broken for peer %d", p.id)
		}
	}
}

func TestPeerTable_SetStateTransitions(t *testing.T) {
	tbl := NewPeerTable(2)
	p := addTestPeer(t, tbl, [4]byte{1, 1, 1, 1}, 1, "a")

	if err := tbl.SetState(p, types.PeerDiscovered); err != nil {
		t.Fatalf("self-transition should always succeed: %v", err)
	}
	if err := tbl.SetState(p, types.PeerConnected); err == nil {
		t.Fatalf("DISCOVERED -> CONNECTED should be rejected")
	}
	if p.state != types.PeerDiscovered {
		t.Fatalf("rejected transition must leave state untouched, got %v", p.state)
	}
	if err := tbl.SetState(p, types.PeerConnecting); err != nil {
		t.Fatalf("DISCOVERED -> CONNECTING: %v", err)
	}
	if err := tbl.SetState(p, types.PeerConnected); err != nil {
		t.Fatalf("CONNECTING -> CONNECTED: %v", err)
	}
	if err := tbl.SetState(p, types.PeerDiscovered); err == nil {
		t.Fatalf("CONNECTED -> DISCOVERED should be rejected")
	}
}

func TestPeerTable_VersionBumpsOnChurn(t *testing.T) {
	tbl := NewPeerTable(4)
	v0 := tbl.Version()
	p := addTestPeer(t, tbl, [4]byte{1, 1, 1, 1}, 1, "a")
	v1 := tbl.Version()
	if v1 <= v0 {
		t.Fatalf("version must bump on add: before=%d after=%d", v0, v1)
	}
	_ = tbl.SetState(p, types.PeerConnecting)
	v2 := tbl.Version()
	if v2 <= v1 {
		t.Fatalf("version must bump on state change: before=%d after=%d", v1, v2)
	}
	_ = tbl.Remove(p.id)
	v3 := tbl.Version()
	if v3 <= v2 {
		t.Fatalf("version must bump on remove: before=%d after=%d", v2, v3)
	}
}
