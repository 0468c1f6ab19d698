// File: channel/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"errors"

	"github.com/simbricks/simbricks-go/proto/base"
)

// Ts is a virtual-time value: a picosecond/nanosecond-resolution logical
// clock, independent of wall-clock time, always monotonically
// non-decreasing per channel direction (spec GLOSSARY "Virtual time").
type Ts uint64

// Role identifies which side of the handshake established this channel.
type Role int

const (
	RoleListener Role = iota
	RoleConnecter
)

// UpperProto identifies the upper-layer framing carried by a channel.
type UpperProto uint32

const (
	ProtoBase    UpperProto = 0x00
	ProtoNetwork UpperProto = 0x01
	ProtoPCIe    UpperProto = 0x02
	ProtoMemory  UpperProto = 0x03
)

var (
	// ErrRingFull is returned by OutSync when the out ring has no
	// producer-owned (empty) slot available. OutAlloc reports the same
	// condition as ok=false rather than as an error.
	ErrRingFull = errors.New("channel: out ring full")
)

// PeerInfo is the metadata describing one connected counterpart (spec §3
// "Peer"): socket path, role, upper-layer protocol, sync parameters, and
// the bookkeeping timestamps the sync protocol needs.
type PeerInfo struct {
	SocketPath string
	Role       Role
	Proto      UpperProto
	SyncEnabled bool
	LinkLatency Ts
	SyncInterval Ts
	Ready       bool
}

// Channel is a pair of rings between two peers: Out (this side's producer
// to the peer's consumer) and In (the peer's producer to this side's
// consumer). Every in_*/out_* operation takes the channel explicitly —
// there are no process-wide statics (spec Design Note).
type Channel struct {
	Peer PeerInfo

	out *ring
	in  *ring

	lastTxTs    Ts
	lastRxTs    Ts
	pendingTxTs Ts // set by OutAlloc, consumed by the next OutSend
}

// New constructs a Channel over already-carved-out ring regions. outData
// is this side's producer ring (entrySize/count as negotiated with the
// peer during the handshake); inData is this side's consumer ring.
func New(peer PeerInfo, outData []byte, outEntrySize, outCount int64, inData []byte, inEntrySize, inCount int64) *Channel {
	return &Channel{
		Peer: peer,
		out:  newRing(outData, outEntrySize, outCount),
		in:   newRing(inData, inEntrySize, inCount),
	}
}

// OutAlloc returns the producer's next out entry if it is currently
// producer-owned (empty). It stamps the entry's timestamp with
// ts+LinkLatency and advances the producer position. Returns ok=false
// (without advancing) if the ring is full.
func (c *Channel) OutAlloc(ts Ts) (base.Entry, bool) {
	e := c.out.head()
	if e.IsConsumerOwned() {
		return base.Entry{}, false
	}
	e.SetTimestamp(uint64(ts + c.Peer.LinkLatency))
	c.pendingTxTs = ts
	c.out.advance()
	return e, true
}

// OutSend publishes an entry allocated by the immediately preceding
// OutAlloc call, with the given type tag, and records last_tx_ts as the
// producer-virtual-time passed to that OutAlloc (before link latency was
// added).
func (c *Channel) OutSend(e base.Entry, tag uint8) {
	e.Publish(tag)
	c.lastTxTs = c.pendingTxTs
}

// OutSync emits a sync heartbeat if sync is enabled and the gap since the
// last outgoing message has reached the sync interval. It is idempotent
// when no heartbeat is due. Returns ErrRingFull if a heartbeat is due but
// the ring has no free slot — callers on the sync-critical path must spin
// on this (see sync.Spin).
func (c *Channel) OutSync(ts Ts) error {
	if !c.Peer.SyncEnabled {
		return nil
	}
	if ts-c.lastTxTs < c.Peer.SyncInterval {
		return nil
	}
	e, ok := c.OutAlloc(ts)
	if !ok {
		return ErrRingFull
	}
	c.OutSend(e, base.TypeSync)
	return nil
}

// OutNextSync returns the virtual-time deadline by which a sync heartbeat
// must be emitted on this direction.
func (c *Channel) OutNextSync() Ts {
	return c.lastTxTs + c.Peer.SyncInterval
}

// InPeek returns the consumer's next in entry if it is consumer-owned
// (filled) and its stamped timestamp is <= ts. It never advances the
// consumer position. Whenever it observes a filled entry — admitted or
// not — it updates last_rx_ts to that entry's stamped timestamp, since a
// not-yet-admissible entry still exposes the peer's next-timestamp lower
// bound that the scheduler needs to compute the next permissible cur_ts.
func (c *Channel) InPeek(ts Ts) (base.Entry, bool) {
	e := c.in.head()
	if !e.IsConsumerOwned() {
		return base.Entry{}, false
	}
	stamped := Ts(e.Timestamp())
	c.lastRxTs = stamped
	if stamped > ts {
		return base.Entry{}, false
	}
	return e, true
}

// InPoll behaves like InPeek but discards SYNC entries in place (marks
// them producer-owned again and advances past them), retrying until it
// finds the first non-sync entry admissible at ts, or runs out of
// admissible entries.
func (c *Channel) InPoll(ts Ts) (base.Entry, bool) {
	for {
		e, ok := c.InPeek(ts)
		if !ok {
			return base.Entry{}, false
		}
		if e.Type() != base.TypeSync {
			return e, true
		}
		e.Release()
		c.in.advance()
	}
}

// InTimestamp returns last_rx_ts, the peer's virtual-time lower bound.
func (c *Channel) InTimestamp() Ts { return c.lastRxTs }

// InType returns the type tag of an entry returned by InPeek/InPoll.
func (c *Channel) InType(e base.Entry) uint8 { return e.Type() }

// InDone releases the entry returned by InPeek/InPoll (flips own_type back
// to producer-owned, release-ordered) and advances the consumer position.
func (c *Channel) InDone(e base.Entry) {
	e.Release()
	c.in.advance()
}
