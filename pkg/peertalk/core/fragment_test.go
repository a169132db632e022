package core

import (
	"bytes"
	"testing"

	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

func TestShouldFragment_AutoOnlyAboveEffectiveMax(t *testing.T) {
	if shouldFragment(types.FragmentationAuto, 512, 512) {
		t.Fatal("auto must not fragment at exactly the effective max")
	}
	if !shouldFragment(types.FragmentationAuto, 513, 512) {
		t.Fatal("auto must fragment once length exceeds the effective max")
	}
	if shouldFragment(types.FragmentationOff, 10000, 512) {
		t.Fatal("off must never fragment")
	}
}

func TestFragmentPieces_SplitsAndTagsBoundaries(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 2500)
	pieces, kinds := fragmentPieces(data, 1000)
	if len(pieces) != 3 {
		t.Fatalf("piece count: got %d want 3", len(pieces))
	}
	if kinds[0] != types.MessageFragmentStart {
		t.Errorf("first piece kind: got %v want START", kinds[0])
	}
	if kinds[1] != types.MessageFragmentCont {
		t.Errorf("middle piece kind: got %v want CONT", kinds[1])
	}
	if kinds[2] != types.MessageFragmentEnd {
		t.Errorf("last piece kind: got %v want END", kinds[2])
	}
	var rebuilt []byte
	for _, p := range pieces {
		rebuilt = append(rebuilt, p...)
	}
	if !bytes.Equal(rebuilt, data) {
		t.Fatal("pieces do not reassemble to the original data")
	}
}

func TestReassembly_RoundTrip(t *testing.T) {
	data := make([]byte, 2000)
	for i := range data {
		data[i] = byte(i % 256)
	}
	pieces, _ := fragmentPieces(data, 512)
	bound := reassemblyMaxBytes(512, 16)

	var r reassemblyState
	if err := beginReassembly(&r, 1, pieces[0]); err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, p := range pieces[1 : len(pieces)-1] {
		if err := appendReassembly(&r, p, bound); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	full, err := finishReassembly(&r, pieces[len(pieces)-1], bound)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if !bytes.Equal(full, data) {
		t.Fatal("reassembled message does not match the original")
	}
	if r.active {
		t.Fatal("reassembly state must reset to inactive after finish")
	}
}

func TestReassembly_RejectsOverlappingStart(t *testing.T) {
	var r reassemblyState
	if err := beginReassembly(&r, 1, []byte("a")); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := beginReassembly(&r, 2, []byte("b")); err == nil {
		t.Fatal("a second fragment-start while one is active should fail")
	}
}

func TestReassembly_BoundsTotalSize(t *testing.T) {
	var r reassemblyState
	if err := beginReassembly(&r, 1, make([]byte, 10)); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := appendReassembly(&r, make([]byte, 100), 50); types.KindOf(err) != types.KindResource {
		t.Fatalf("over-bound append: got %v want resource", err)
	}
}
