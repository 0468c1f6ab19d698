// File: proto/network/network.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package network implements the network upper-layer framing (spec
// component C6): a single symmetric packet variant exchanged by both
// peers of a network link.
//
// Grounded on the teacher's protocol/frame.go tagged-variant header codec,
// reduced to the single symmetric opcode spec §4.6/§6 describes for
// network links ("Net: 0x40 packet (symmetric)").
package network

import (
	"encoding/binary"

	"github.com/simbricks/simbricks-go/proto/base"
)

// TypePacket is the sole non-sync type tag on a network channel; both
// peers use it in both directions.
const TypePacket uint8 = 0x40

const (
	offPort = 0
	offLen  = 8
)

// Packet is an Ethernet frame carried over a network channel.
type Packet struct{ e base.Entry }

// NewPacket wraps an already-allocated entry for field access.
func NewPacket(e base.Entry) Packet { return Packet{e} }

// Port identifies which of a switch's ports the frame arrived on or is
// destined for; point-to-point links always use port 0.
func (p Packet) Port() uint32 { return binary.LittleEndian.Uint32(p.e.Head()[offPort:]) }

// Len is the frame length in bytes.
func (p Packet) Len() uint64 { return binary.LittleEndian.Uint64(p.e.Head()[offLen:]) }

// Data returns the frame bytes.
func (p Packet) Data() []byte { return p.e.Payload()[:p.Len()] }

// SetPacket encodes a packet head and copies frame data into the payload.
func SetPacket(e base.Entry, port uint32, data []byte) {
	h := e.Head()
	binary.LittleEndian.PutUint32(h[offPort:], port)
	binary.LittleEndian.PutUint64(h[offLen:], uint64(len(data)))
	copy(e.Payload(), data)
}
