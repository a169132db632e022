// Package compat gathers the small byte-order and atomic-bit helpers the
// original C core needed hand-rolled (fixed-width integers, memcpy/memset,
// byte-order swap, atomic bit set/clear/test). In Go these are either
// built into the language (copy, the encoding/binary package) or into
// sync/atomic, so this package is a thin naming layer kept for fidelity
// with the component table rather than a reimplementation.
package compat

import (
	"encoding/binary"
	"sync/atomic"
)

// PutUint16 and PutUint32 write big-endian wire fields, matching the
// network byte order mandated for every multi-byte field on the wire.
func PutUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func PutUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func Uint16(b []byte) uint16       { return binary.BigEndian.Uint16(b) }
func Uint32(b []byte) uint32       { return binary.BigEndian.Uint32(b) }

// ISRMemcpy copies src into dst the way an interrupt-safe memcpy would:
// a plain bounded copy with no allocation. It exists so the ISR-safe push
// path in the bounded queue reads the same as the source material's
// split between a "normal" and an "ISR-safe" copy primitive, even though
// Go's copy() already satisfies both.
func ISRMemcpy(dst, src []byte) int {
	return copy(dst, src)
}

// Flags is a small atomic bitset for the peer hot-block flags (the
// data-available, connect-complete, error and pressure-update-pending
// bits); every operation is atomic, so a setter and a tester may run
// concurrently.
type Flags struct {
	bits atomic.Uint32
}

func (f *Flags) Set(mask uint32) {
	for {
		old := f.bits.Load()
		if f.bits.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

func (f *Flags) Clear(mask uint32) {
	for {
		old := f.bits.Load()
		if f.bits.CompareAndSwap(old, old&^mask) {
			return
		}
	}
}

func (f *Flags) Test(mask uint32) bool {
	return f.bits.Load()&mask != 0
}

// TestAndClear atomically tests a bit and clears it, returning whether it
// was set, so a reader can drain a flag set from an ISR or notifier
// context without losing a concurrent set.
func (f *Flags) TestAndClear(mask uint32) bool {
	for {
		old := f.bits.Load()
		if old&mask == 0 {
			return false
		}
		if f.bits.CompareAndSwap(old, old&^mask) {
			return true
		}
	}
}
