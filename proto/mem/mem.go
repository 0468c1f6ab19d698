// File: proto/mem/mem.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package mem implements the memory-adapter upper-layer framing (spec
// component C6): host-to-memory requests and memory-to-host completions.
//
// Grounded on the teacher's protocol/frame.go tagged-variant header codec,
// generalized from WebSocket opcodes to the type-tag byte set spec
// §4.6/§6 assigns to memory links.
package mem

import (
	"encoding/binary"

	"github.com/simbricks/simbricks-go/proto/base"
)

// Host-to-memory type tags.
const (
	TypeRead        uint8 = 0x60
	TypeWrite       uint8 = 0x61
	TypePostedWrite uint8 = 0x62
)

// Memory-to-host type tags.
const (
	TypeReadcomp  uint8 = 0x40
	TypeWritecomp uint8 = 0x41
)

const (
	offReqID = 0
	offASID  = 8
	offAddr  = 16
	offLen   = 24
)

// Read is an H2M memory read request.
type Read struct{ e base.Entry }

func NewRead(e base.Entry) Read { return Read{e} }
func (r Read) ReqID() uint64    { return binary.LittleEndian.Uint64(r.e.Head()[offReqID:]) }
func (r Read) ASID() uint64     { return binary.LittleEndian.Uint64(r.e.Head()[offASID:]) }
func (r Read) Addr() uint64     { return binary.LittleEndian.Uint64(r.e.Head()[offAddr:]) }
func (r Read) Len() uint64      { return binary.LittleEndian.Uint64(r.e.Head()[offLen:]) }

// SetRead encodes an H2M read request head.
func SetRead(e base.Entry, reqID, asID, addr, length uint64) {
	h := e.Head()
	binary.LittleEndian.PutUint64(h[offReqID:], reqID)
	binary.LittleEndian.PutUint64(h[offASID:], asID)
	binary.LittleEndian.PutUint64(h[offAddr:], addr)
	binary.LittleEndian.PutUint64(h[offLen:], length)
}

// Write is an H2M memory write request; Data lives in the entry payload.
// PostedWrite shares this exact layout (no completion is expected for it).
type Write struct{ e base.Entry }

func NewWrite(e base.Entry) Write { return Write{e} }
func (w Write) ReqID() uint64     { return binary.LittleEndian.Uint64(w.e.Head()[offReqID:]) }
func (w Write) ASID() uint64      { return binary.LittleEndian.Uint64(w.e.Head()[offASID:]) }
func (w Write) Addr() uint64      { return binary.LittleEndian.Uint64(w.e.Head()[offAddr:]) }
func (w Write) Len() uint64       { return binary.LittleEndian.Uint64(w.e.Head()[offLen:]) }
func (w Write) Data() []byte      { return w.e.Payload()[:w.Len()] }

// SetWrite encodes an H2M write (or posted-write) request head and copies
// data into the payload.
func SetWrite(e base.Entry, reqID, asID, addr uint64, data []byte) {
	h := e.Head()
	binary.LittleEndian.PutUint64(h[offReqID:], reqID)
	binary.LittleEndian.PutUint64(h[offASID:], asID)
	binary.LittleEndian.PutUint64(h[offAddr:], addr)
	binary.LittleEndian.PutUint64(h[offLen:], uint64(len(data)))
	copy(e.Payload(), data)
}

// Readcomp is an M2H completion carrying the data for a prior read.
type Readcomp struct{ e base.Entry }

func NewReadcomp(e base.Entry) Readcomp { return Readcomp{e} }
func (r Readcomp) ReqID() uint64        { return binary.LittleEndian.Uint64(r.e.Head()[offReqID:]) }
func (r Readcomp) Len() uint64          { return binary.LittleEndian.Uint64(r.e.Head()[offLen:]) }
func (r Readcomp) Data() []byte         { return r.e.Payload()[:r.Len()] }

// SetReadcomp encodes a readcomp head and copies data into the payload.
func SetReadcomp(e base.Entry, reqID uint64, data []byte) {
	h := e.Head()
	binary.LittleEndian.PutUint64(h[offReqID:], reqID)
	binary.LittleEndian.PutUint64(h[offLen:], uint64(len(data)))
	copy(e.Payload(), data)
}

// Writecomp acknowledges a prior (non-posted) write by req_id.
type Writecomp struct{ e base.Entry }

func NewWritecomp(e base.Entry) Writecomp { return Writecomp{e} }
func (w Writecomp) ReqID() uint64         { return binary.LittleEndian.Uint64(w.e.Head()[offReqID:]) }

// SetWritecomp encodes a writecomp head.
func SetWritecomp(e base.Entry, reqID uint64) {
	binary.LittleEndian.PutUint64(e.Head()[offReqID:], reqID)
}
