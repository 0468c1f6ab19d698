// File: proto/pcie/pcie.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package pcie implements the PCIe upper-layer framing (spec component
// C6): H2D and D2H message variants layered as typed views over a
// base.Entry's 48-byte head plus trailing payload.
//
// Grounded on the teacher's protocol/frame.go tagged-variant header codec
// (explicit encoding/binary offsets, zero-copy payload slicing),
// generalized from WebSocket opcodes to the PCIe type-tag byte set of
// spec §4.6/§6.
package pcie

import (
	"encoding/binary"

	"github.com/simbricks/simbricks-go/proto/base"
)

// Host-to-device type tags.
const (
	TypeRead      uint8 = 0x60
	TypeWrite     uint8 = 0x61
	TypeReadcomp  uint8 = 0x62
	TypeWritecomp uint8 = 0x63
	TypeDevctrl   uint8 = 0x64
)

// Device-to-host type tags.
const (
	TypeDMARead      uint8 = 0x40
	TypeDMAWrite     uint8 = 0x41
	TypeInterrupt    uint8 = 0x42
	TypeDMAReadcomp  uint8 = 0x43
	TypeDMAWritecomp uint8 = 0x44
)

// InterruptType enumerates the kinds of interrupt a device may raise.
type InterruptType uint8

const (
	IntxHi InterruptType = iota
	IntxLo
	MSI
	MSIX
)

// field offsets within the 48-byte upper-layer head, shared across
// variants that carry them.
const (
	offReqID = 0
	offOff   = 8  // H2D: BAR-relative offset
	offAddr  = 8  // D2H: DMA address (aliases offOff; never both on one entry)
	offLen   = 16
	offBar   = 24
	offFlags = 8
	offVec   = 8
	offIType = 10
)

// Read is an H2D BAR read request.
type Read struct{ e base.Entry }

func NewRead(e base.Entry) Read { return Read{e} }
func (r Read) ReqID() uint64    { return binary.LittleEndian.Uint64(r.e.Head()[offReqID:]) }
func (r Read) Off() uint64      { return binary.LittleEndian.Uint64(r.e.Head()[offOff:]) }
func (r Read) Len() uint64      { return binary.LittleEndian.Uint64(r.e.Head()[offLen:]) }
func (r Read) Bar() uint8       { return r.e.Head()[offBar] }

// SetRead encodes an H2D read request head in place.
func SetRead(e base.Entry, reqID, off, length uint64, bar uint8) {
	h := e.Head()
	binary.LittleEndian.PutUint64(h[offReqID:], reqID)
	binary.LittleEndian.PutUint64(h[offOff:], off)
	binary.LittleEndian.PutUint64(h[offLen:], length)
	h[offBar] = bar
}

// Write is an H2D BAR write request; Data lives in the entry payload.
type Write struct{ e base.Entry }

func NewWrite(e base.Entry) Write   { return Write{e} }
func (w Write) ReqID() uint64       { return binary.LittleEndian.Uint64(w.e.Head()[offReqID:]) }
func (w Write) Off() uint64         { return binary.LittleEndian.Uint64(w.e.Head()[offOff:]) }
func (w Write) Len() uint64         { return binary.LittleEndian.Uint64(w.e.Head()[offLen:]) }
func (w Write) Bar() uint8          { return w.e.Head()[offBar] }
func (w Write) Data() []byte        { return w.e.Payload()[:w.Len()] }

// SetWrite encodes an H2D write request head and copies data into the
// entry's payload region.
func SetWrite(e base.Entry, reqID, off uint64, bar uint8, data []byte) {
	h := e.Head()
	binary.LittleEndian.PutUint64(h[offReqID:], reqID)
	binary.LittleEndian.PutUint64(h[offOff:], off)
	binary.LittleEndian.PutUint64(h[offLen:], uint64(len(data)))
	h[offBar] = bar
	copy(e.Payload(), data)
}

// Readcomp is a D2H→H2D-direction-agnostic completion carrying data for a
// prior read (used both as H2D readcomp for D2H DMA reads, and as D2H
// readcomp for H2D BAR reads).
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

// Writecomp acknowledges a prior write by req_id, no payload.
type Writecomp struct{ e base.Entry }

func NewWritecomp(e base.Entry) Writecomp { return Writecomp{e} }
func (w Writecomp) ReqID() uint64         { return binary.LittleEndian.Uint64(w.e.Head()[offReqID:]) }

// SetWritecomp encodes a writecomp head.
func SetWritecomp(e base.Entry, reqID uint64) {
	binary.LittleEndian.PutUint64(e.Head()[offReqID:], reqID)
}

// Devctrl carries host-to-device control flags (e.g. link-up/down).
type Devctrl struct{ e base.Entry }

func NewDevctrl(e base.Entry) Devctrl { return Devctrl{e} }
func (d Devctrl) Flags() uint64       { return binary.LittleEndian.Uint64(d.e.Head()[offFlags:]) }

// SetDevctrl encodes a devctrl head.
func SetDevctrl(e base.Entry, flags uint64) {
	binary.LittleEndian.PutUint64(e.Head()[offFlags:], flags)
}

// DMARead is a D2H peer-DMA read request.
type DMARead struct{ e base.Entry }

func NewDMARead(e base.Entry) DMARead { return DMARead{e} }
func (r DMARead) ReqID() uint64       { return binary.LittleEndian.Uint64(r.e.Head()[offReqID:]) }
func (r DMARead) Addr() uint64        { return binary.LittleEndian.Uint64(r.e.Head()[offAddr:]) }
func (r DMARead) Len() uint64         { return binary.LittleEndian.Uint64(r.e.Head()[offLen:]) }

// SetDMARead encodes a D2H DMA read request head.
func SetDMARead(e base.Entry, reqID, addr, length uint64) {
	h := e.Head()
	binary.LittleEndian.PutUint64(h[offReqID:], reqID)
	binary.LittleEndian.PutUint64(h[offAddr:], addr)
	binary.LittleEndian.PutUint64(h[offLen:], length)
}

// DMAWrite is a D2H peer-DMA write request; Data lives in the payload.
type DMAWrite struct{ e base.Entry }

func NewDMAWrite(e base.Entry) DMAWrite { return DMAWrite{e} }
func (w DMAWrite) ReqID() uint64        { return binary.LittleEndian.Uint64(w.e.Head()[offReqID:]) }
func (w DMAWrite) Addr() uint64         { return binary.LittleEndian.Uint64(w.e.Head()[offAddr:]) }
func (w DMAWrite) Len() uint64          { return binary.LittleEndian.Uint64(w.e.Head()[offLen:]) }
func (w DMAWrite) Data() []byte         { return w.e.Payload()[:w.Len()] }

// SetDMAWrite encodes a D2H DMA write request head and payload.
func SetDMAWrite(e base.Entry, reqID, addr uint64, data []byte) {
	h := e.Head()
	binary.LittleEndian.PutUint64(h[offReqID:], reqID)
	binary.LittleEndian.PutUint64(h[offAddr:], addr)
	binary.LittleEndian.PutUint64(h[offLen:], uint64(len(data)))
	copy(e.Payload(), data)
}

// Interrupt is a D2H interrupt delivery.
type Interrupt struct{ e base.Entry }

func NewInterrupt(e base.Entry) Interrupt { return Interrupt{e} }
func (i Interrupt) Vec() uint16           { return binary.LittleEndian.Uint16(i.e.Head()[offVec:]) }
func (i Interrupt) Kind() InterruptType   { return InterruptType(i.e.Head()[offIType]) }

// SetInterrupt encodes a D2H interrupt head.
func SetInterrupt(e base.Entry, vec uint16, kind InterruptType) {
	h := e.Head()
	binary.LittleEndian.PutUint16(h[offVec:], vec)
	h[offIType] = uint8(kind)
}
