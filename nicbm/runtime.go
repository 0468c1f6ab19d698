// File: nicbm/runtime.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package nicbm

import (
	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"

	"github.com/simbricks/simbricks-go/channel"
	"github.com/simbricks/simbricks-go/proto/base"
	"github.com/simbricks/simbricks-go/proto/network"
	"github.com/simbricks/simbricks-go/proto/pcie"
	"github.com/simbricks/simbricks-go/scheduler"
	"github.com/simbricks/simbricks-go/timerq"
)

// DefaultInFlightCap is the DMA in-flight bound spec §4.8 mandates.
const DefaultInFlightCap = 64

// Runtime is the reference NIC device runtime (spec §4.8). It implements
// scheduler.Dispatcher, so a scheduler.Loop can dispatch both the PCIe and
// network channels' inbound messages directly into it.
type Runtime struct {
	pcie   *channel.Channel
	net    *channel.Channel
	device Device
	loop   *scheduler.Loop
	log    *logrus.Entry

	inFlightCap int
	inFlight    map[uint64]*DMAOp
	pending     *queue.Queue
	nextReqID   uint64
}

// NewRuntime builds a device runtime over already-established PCIe and
// network channels, sharing loop's timed-event set for event_schedule /
// event_cancel. peerIntro is passed through to device.SetupIntro once, at
// construction.
func NewRuntime(loop *scheduler.Loop, pcieCh, netCh *channel.Channel, device Device, peerIntro []byte, log *logrus.Entry) *Runtime {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Runtime{
		pcie:        pcieCh,
		net:         netCh,
		device:      device,
		loop:        loop,
		log:         log.WithField("component", "nicbm"),
		inFlightCap: DefaultInFlightCap,
		inFlight:    make(map[uint64]*DMAOp),
		pending:     queue.New(),
	}
	device.SetupIntro(peerIntro)
	return r
}

// Dispatch implements scheduler.Dispatcher, routing an inbound message to
// its PCIe or network handler by which channel it arrived on.
func (r *Runtime) Dispatch(ch *channel.Channel, e base.Entry) {
	switch ch {
	case r.pcie:
		r.dispatchPCIe(e)
	case r.net:
		r.dispatchNet(e)
	default:
		r.log.Warn("nicbm: dispatch from unknown channel, skipping")
	}
}

func (r *Runtime) dispatchPCIe(e base.Entry) {
	ts := channel.Ts(e.Timestamp())
	switch e.Type() {
	case pcie.TypeRead:
		req := pcie.NewRead(e)
		data, err := r.device.RegRead(req.Bar(), req.Off(), req.Len())
		if err != nil {
			r.log.WithError(err).Warn("nicbm: reg_read failed")
			return
		}
		if err := r.replyReadcomp(ts, req.ReqID(), data); err != nil {
			r.log.WithError(err).Warn("nicbm: dropping BAR readcomp")
		}
	case pcie.TypeWrite:
		req := pcie.NewWrite(e)
		if err := r.device.RegWrite(req.Bar(), req.Off(), req.Data()); err != nil {
			r.log.WithError(err).Warn("nicbm: reg_write failed")
			return
		}
		if err := r.replyWritecomp(ts, req.ReqID()); err != nil {
			r.log.WithError(err).Warn("nicbm: dropping BAR writecomp")
		}
	case pcie.TypeDevctrl:
		r.device.DevctrlUpdate(ts, pcie.NewDevctrl(e).Flags())
	case pcie.TypeReadcomp:
		rc := pcie.NewReadcomp(e)
		r.completeDMA(ts, rc.ReqID(), rc.Data())
	case pcie.TypeWritecomp:
		wc := pcie.NewWritecomp(e)
		r.completeDMA(ts, wc.ReqID(), nil)
	default:
		r.log.WithField("type", e.Type()).Warn("nicbm: unknown PCIe message type, skipping")
	}
}

func (r *Runtime) dispatchNet(e base.Entry) {
	ts := channel.Ts(e.Timestamp())
	switch e.Type() {
	case network.TypePacket:
		p := network.NewPacket(e)
		r.device.EthRx(ts, p.Port(), p.Data())
	default:
		r.log.WithField("type", e.Type()).Warn("nicbm: unknown network message type, skipping")
	}
}

func (r *Runtime) replyReadcomp(ts channel.Ts, reqID uint64, data []byte) error {
	e, ok := r.pcie.OutAlloc(ts)
	if !ok {
		return channel.ErrRingFull
	}
	pcie.SetReadcomp(e, reqID, data)
	r.pcie.OutSend(e, pcie.TypeDMAReadcomp)
	return nil
}

func (r *Runtime) replyWritecomp(ts channel.Ts, reqID uint64) error {
	e, ok := r.pcie.OutAlloc(ts)
	if !ok {
		return channel.ErrRingFull
	}
	pcie.SetWritecomp(e, reqID)
	r.pcie.OutSend(e, pcie.TypeDMAWritecomp)
	return nil
}

// IssueDMA enqueues op if the in-flight tracker is saturated, otherwise
// synthesizes a D2H DMA read/write message immediately. DMAs are always
// assigned req_ids in call order and, once sent, appear to the host in
// that order, per §4.8's ordering guarantee.
func (r *Runtime) IssueDMA(ts channel.Ts, addr, length uint64, write bool, data []byte) *DMAOp {
	op := &DMAOp{ReqID: r.nextReqID, Addr: addr, Len: length, Write: write, Data: data}
	r.nextReqID++
	r.pending.Add(op)
	r.drainPending(ts)
	return op
}

func (r *Runtime) sendDMA(ts channel.Ts, op *DMAOp) error {
	e, ok := r.pcie.OutAlloc(ts)
	if !ok {
		return channel.ErrRingFull
	}
	if op.Write {
		pcie.SetDMAWrite(e, op.ReqID, op.Addr, op.Data)
		r.pcie.OutSend(e, pcie.TypeDMAWrite)
	} else {
		pcie.SetDMARead(e, op.ReqID, op.Addr, op.Len)
		r.pcie.OutSend(e, pcie.TypeDMARead)
	}
	r.inFlight[op.ReqID] = op
	return nil
}

func (r *Runtime) completeDMA(ts channel.Ts, reqID uint64, data []byte) {
	op, ok := r.inFlight[reqID]
	if !ok {
		r.log.WithField("req_id", reqID).Warn("nicbm: completion for unknown DMA request, dropping")
		return
	}
	delete(r.inFlight, reqID)
	if !op.Write {
		op.Data = data
	}
	r.device.DMAComplete(op)
	r.drainPending(ts)
}

// drainPending issues pending DMAs, preserving issue order, until the
// in-flight tracker is full again or the ring has no free slot.
func (r *Runtime) drainPending(ts channel.Ts) {
	for r.pending.Length() > 0 && len(r.inFlight) < r.inFlightCap {
		op := r.pending.Peek().(*DMAOp)
		if err := r.sendDMA(ts, op); err != nil {
			return
		}
		r.pending.Remove()
	}
}

// MSIIssue synthesizes an MSI interrupt message.
func (r *Runtime) MSIIssue(ts channel.Ts, vec uint16) error {
	return r.issueInterrupt(ts, vec, pcie.MSI)
}

// MSIXIssue synthesizes an MSI-X interrupt message.
func (r *Runtime) MSIXIssue(ts channel.Ts, vec uint16) error {
	return r.issueInterrupt(ts, vec, pcie.MSIX)
}

// IntxIssue synthesizes a legacy INTx level-triggered interrupt message.
func (r *Runtime) IntxIssue(ts channel.Ts, high bool) error {
	kind := pcie.IntxLo
	if high {
		kind = pcie.IntxHi
	}
	return r.issueInterrupt(ts, 0, kind)
}

func (r *Runtime) issueInterrupt(ts channel.Ts, vec uint16, kind pcie.InterruptType) error {
	e, ok := r.pcie.OutAlloc(ts)
	if !ok {
		return channel.ErrRingFull
	}
	pcie.SetInterrupt(e, vec, kind)
	r.pcie.OutSend(e, pcie.TypeInterrupt)
	return nil
}

// EthSend synthesizes a network packet carrying buf.
func (r *Runtime) EthSend(ts channel.Ts, buf []byte) error {
	e, ok := r.net.OutAlloc(ts)
	if !ok {
		return channel.ErrRingFull
	}
	network.SetPacket(e, 0, buf)
	r.net.OutSend(e, network.TypePacket)
	return nil
}

// EventSchedule registers a local timed event on the shared scheduler
// loop, firing device.Timed(ts, payload) once cur_ts reaches at.
func (r *Runtime) EventSchedule(at channel.Ts, payload any) *timerq.Event {
	return r.loop.ScheduleEvent(at, func(ts channel.Ts) { r.device.Timed(ts, payload) })
}

// EventCancel cancels a previously scheduled timed event.
func (r *Runtime) EventCancel(e *timerq.Event) { r.loop.CancelEvent(e) }

// InFlightCount reports the number of DMAs currently awaiting completion,
// for metrics (internal/obs wires this into a gauge).
func (r *Runtime) InFlightCount() int { return len(r.inFlight) }

// PendingCount reports the number of DMAs queued behind the in-flight cap.
func (r *Runtime) PendingCount() int { return r.pending.Length() }
