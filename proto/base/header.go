// Package base defines the wire-exact 64-byte message header shared by every
// upper-layer framing (PCIe, network, memory): the upper-layer head, the
// producer-stamped virtual timestamp, and the ownership/type discriminant
// byte that the base channel uses to publish and consume ring entries.
//
// Field layout (little-endian, mandated bit-exact):
//
//	[0..48)  upper-layer specific head
//	[48..56) uint64 timestamp
//	[56..63) reserved, zero
//	[63]     own_type: bit 7 = ownership, bits 0..6 = type tag
//
// Grounded on the teacher's protocol/frame.go tagged-header codec, adapted
// from a variable-length WebSocket frame header to a fixed 64-byte header
// with an ownership discriminant instead of a FIN/opcode byte.
package base

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

const (
	// HeaderSize is the fixed size, in bytes, of every message header.
	HeaderSize = 64

	// timestampOffset is the byte offset of the little-endian uint64
	// producer timestamp.
	timestampOffset = 48

	// ownTypeWordOffset is the offset of the 4-byte-aligned word whose
	// most significant byte (offset 63) is the own_type discriminant.
	// Bytes [56..63) stay reserved/zero; only the top byte of this word
	// carries meaning. Treating it as one atomically-accessed uint32
	// gives us a hardware-guaranteed atomic publish/consume on real
	// cross-process shared memory without relying on Go's unsupported
	// single-byte atomics (see DESIGN.md "Volatile memory accesses").
	ownTypeWordOffset = 60

	// OwnBit is the ownership bit: 0 = producer-owned (empty),
	// 1 = consumer-owned (filled).
	OwnBit uint8 = 0x80

	// TypeMask isolates the low 7 bits of own_type, the message type tag.
	TypeMask uint8 = 0x7f
)

// Reserved type tags, shared by every upper-layer protocol.
const (
	TypeSync      uint8 = 0x00
	TypeTerminate uint8 = 0x01
)

// Entry is a view over one fixed-stride ring slot. It does not own the
// backing memory — callers derive it from a shm-backed ring region so that
// two processes can hold non-overlapping producer/consumer views of the
// same bytes, per the "do not model SHM as owned by one side" design note.
type Entry struct {
	buf []byte
}

// NewEntry wraps buf (len(buf) must be >= HeaderSize) as a header+payload
// view. The caller guarantees 4-byte alignment of buf's start address,
// which shm.Pool.Alloc enforces via 64-byte-aligned allocation.
func NewEntry(buf []byte) Entry {
	if len(buf) < HeaderSize {
		panic("base: entry buffer shorter than HeaderSize")
	}
	return Entry{buf: buf}
}

// Head returns the upper-layer-specific portion of the header, bytes [0,48).
func (e Entry) Head() []byte { return e.buf[0:timestampOffset] }

// Payload returns the bytes following the header, sized to the entry's
// stride.
func (e Entry) Payload() []byte { return e.buf[HeaderSize:] }

// Timestamp returns the producer-stamped virtual timestamp.
func (e Entry) Timestamp() uint64 {
	return binary.LittleEndian.Uint64(e.buf[timestampOffset : timestampOffset+8])
}

// SetTimestamp stamps the producer virtual timestamp. Must be called before
// the ownership-publishing store.
func (e Entry) SetTimestamp(ts uint64) {
	binary.LittleEndian.PutUint64(e.buf[timestampOffset:timestampOffset+8], ts)
}

func (e Entry) ownWord() *uint32 {
	return (*uint32)(unsafe.Pointer(&e.buf[ownTypeWordOffset]))
}

// LoadOwnType performs an acquire-ordered read of the ownership/type byte.
func (e Entry) LoadOwnType() uint8 {
	w := atomic.LoadUint32(e.ownWord())
	return byte(w >> 24)
}

// StoreOwnType performs a release-ordered publish of the ownership/type
// byte; the reserved bytes of the word are kept zero.
func (e Entry) StoreOwnType(v uint8) {
	atomic.StoreUint32(e.ownWord(), uint32(v)<<24)
}

// IsConsumerOwned reports whether the ownership bit marks this entry filled.
func (e Entry) IsConsumerOwned() bool {
	return e.LoadOwnType()&OwnBit != 0
}

// Type returns the low 7 bits of own_type, the message type tag.
func (e Entry) Type() uint8 {
	return e.LoadOwnType() & TypeMask
}

// Publish releases the entry to the consumer with the given type tag. It
// writes only own_type: payload, head and timestamp must already be written.
func (e Entry) Publish(tag uint8) {
	e.StoreOwnType((tag & TypeMask) | OwnBit)
}

// Release flips the entry back to producer-owned, keeping the low 7 bits
// (the last-seen type tag) as the spec's in_done contract requires.
func (e Entry) Release() {
	e.StoreOwnType(e.LoadOwnType() &^ OwnBit)
}
