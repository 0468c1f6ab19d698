// File: channel/ring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package channel implements the base channel (spec component C3): a pair
// of single-producer/single-consumer rings with ownership bits and
// per-message timestamps, plus the sync protocol (C4) layered directly on
// top since the two are inseparable on the hot path.
//
// Grounded on the teacher's core/concurrency/ring.go SPSC cell-sequencing
// ring, generalized from an in-process generic RingBuffer[T] (own
// producer/consumer sequence counters baked into each cell) to a
// cross-process fixed-stride byte ring where the caller-supplied
// base.Entry ownership bit is the only synchronization primitive — the
// ring itself never shares a head/tail index between the two sides.
package channel

import "github.com/simbricks/simbricks-go/proto/base"

// ring is one direction of a channel: n fixed-size entries carved from a
// shm region. Only one side ever advances pos — it is a private position,
// never shared, per spec invariant 4.
type ring struct {
	data      []byte
	entrySize int64
	count     int64
	pos       int64
}

func newRing(data []byte, entrySize, count int64) *ring {
	if int64(len(data)) < entrySize*count {
		panic("channel: ring backing region shorter than entrySize*count")
	}
	return &ring{data: data, entrySize: entrySize, count: count}
}

// entryAt returns the base.Entry view of slot i mod count.
func (r *ring) entryAt(i int64) base.Entry {
	idx := i % r.count
	off := idx * r.entrySize
	return base.NewEntry(r.data[off : off+r.entrySize])
}

// head is the entry at the ring's current private position.
func (r *ring) head() base.Entry { return r.entryAt(r.pos) }

// advance moves the private position forward by one slot.
func (r *ring) advance() { r.pos++ }
