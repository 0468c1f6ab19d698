// File: nicbm/device.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package nicbm implements the reference NIC device runtime (spec
// component C8): a wrapper owning one PCIe channel, one network channel,
// and a bounded DMA in-flight tracker, exposing a small capability set a
// simulated device implements and a small set of operations it calls.
//
// Grounded on the teacher's api/interfaces.go capability-set style
// (Reactor/NetConn/BytePool as narrow single-purpose interfaces) and
// server/server.go's accept→dispatch→callback shape, generalized from a
// WebSocket connection's read/write/close surface to a NIC device's
// register/DMA/interrupt/timer surface.
package nicbm

import "github.com/simbricks/simbricks-go/channel"

// Device is the capability set a simulated NIC-style device implements.
// Runtime calls into it as PCIe and network messages arrive.
type Device interface {
	// RegRead services a host read of BAR bar at offset off, length bytes.
	RegRead(bar uint8, off, length uint64) ([]byte, error)
	// RegWrite services a host write of BAR bar at offset off.
	RegWrite(bar uint8, off uint64, data []byte) error
	// DMAComplete is called once a DMA op issued via Runtime.IssueDMA
	// completes; op.Data holds the result for reads.
	DMAComplete(op *DMAOp)
	// EthRx delivers a received frame, stamped with its arrival time.
	EthRx(ts channel.Ts, port uint32, data []byte)
	// DevctrlUpdate applies a host-issued control-flag change.
	DevctrlUpdate(ts channel.Ts, flags uint64)
	// Timed fires a timed event previously scheduled via Runtime.EventSchedule.
	Timed(ts channel.Ts, payload any)
	// SetupIntro lets the device inspect the peer's already-exchanged
	// upper-layer intro and return its own, for logging/validation —
	// the intro bytes actually sent during the handshake are fixed before
	// the device exists (see the nicbm entry in DESIGN.md).
	SetupIntro(peerIntro []byte) (ownIntro []byte)
}

// DMAOp describes one device-initiated DMA transaction.
type DMAOp struct {
	ReqID uint64
	Addr  uint64
	Len   uint64
	Write bool
	Data  []byte
}
