// File: scheduler/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package scheduler implements the multi-peer scheduler (spec component
// C5): one simulator's main loop, advancing a local virtual clock across
// an arbitrary set of channels and local timed events while preserving
// the no-future-delivery invariant.
//
// Grounded on the teacher's server/server.go Serve loop (accept-dispatch
// shape, a close-to-signal shutdown channel) and the (deliberately
// incomplete) internal/concurrency/scheduler.go stub, which this package
// replaces with a correct implementation built on timerq.Set.
package scheduler

import (
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/simbricks/simbricks-go/channel"
	"github.com/simbricks/simbricks-go/proto/base"
	simsync "github.com/simbricks/simbricks-go/sync"
	"github.com/simbricks/simbricks-go/timerq"
)

// ErrMaxStepNotPositive is returned by NewLoop when MaxStep is zero.
var ErrMaxStepNotPositive = errors.New("scheduler: MaxStep must be > 0")

// Dispatcher receives messages drained from any channel's in ring.
type Dispatcher interface {
	Dispatch(ch *channel.Channel, e base.Entry)
}

// DispatcherFunc adapts a plain function to Dispatcher.
type DispatcherFunc func(ch *channel.Channel, e base.Entry)

func (f DispatcherFunc) Dispatch(ch *channel.Channel, e base.Entry) { f(ch, e) }

// Loop is one simulator process's event loop (spec §4.5).
type Loop struct {
	peers    []*channel.Channel
	dispatch Dispatcher
	timers   *timerq.Set
	maxStep  channel.Ts
	curTs    channel.Ts
	log      *logrus.Entry
	stop     atomic.Bool
}

// NewLoop constructs a scheduler over the given peer channels. maxStep
// bounds how far cur_ts may jump in a single tick even when every peer
// would otherwise allow a larger jump — useful to bound local timed-event
// latency (e.g. statistics windows) even on an otherwise-idle topology.
func NewLoop(peers []*channel.Channel, dispatch Dispatcher, maxStep channel.Ts, log *logrus.Entry) (*Loop, error) {
	if maxStep == 0 {
		return nil, ErrMaxStepNotPositive
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Loop{
		peers:    peers,
		dispatch: dispatch,
		timers:   timerq.NewSet(),
		maxStep:  maxStep,
		log:      log.WithField("component", "scheduler"),
	}, nil
}

// ScheduleEvent registers a local timed event, fired from Run once cur_ts
// reaches `at`. Cancel it by passing the returned handle to CancelEvent.
func (l *Loop) ScheduleEvent(at channel.Ts, fn func(channel.Ts)) *timerq.Event {
	return l.timers.Schedule(uint64(at), fn)
}

// CancelEvent cancels a previously scheduled local timed event.
func (l *Loop) CancelEvent(e *timerq.Event) { l.timers.Cancel(e) }

// SetDispatcher replaces the loop's dispatcher. It exists for the
// two-stage construction a device runtime needs: the runtime's own
// timed-event scheduling (nicbm.Runtime.EventSchedule) requires an
// already-built *Loop, while the loop's dispatcher is that same runtime —
// callers build the loop with a nil dispatcher, build the runtime from
// it, then call SetDispatcher once.
func (l *Loop) SetDispatcher(d Dispatcher) { l.dispatch = d }

// CurTs returns the loop's current virtual time.
func (l *Loop) CurTs() channel.Ts { return l.curTs }

// Stop requests the loop exit at the next tick head, mirroring the
// SIGINT/SIGTERM contract of spec §5: "SIGINT sets an atomic flag observed
// at the loop head". Pending messages are not drained.
func (l *Loop) Stop() { l.stop.Store(true) }

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool { return l.stop.Load() }

// Run executes the §4.5 pseudocode until Stop is called.
func (l *Loop) Run() error {
	for !l.stop.Load() {
		if err := l.tick(); err != nil {
			return err
		}
	}
	return nil
}

// tick runs exactly one outer iteration of the §4.5 pseudocode: emit
// heartbeats, drain-until-quiescent, then advance cur_ts.
func (l *Loop) tick() error {
	for _, p := range l.peers {
		if !p.Peer.SyncEnabled {
			continue
		}
		if err := simsync.Spin(func() error { return p.OutSync(l.curTs) }, l.stop.Load); err != nil {
			if errors.Is(err, simsync.ErrCancelled) {
				return nil
			}
			return err
		}
	}

	for {
		progressed := false
		for _, p := range l.peers {
			for {
				m, ok := p.InPoll(l.curTs)
				if !ok {
					break
				}
				// Dispatch strictly precedes InDone: the ownership bit is
				// the only thing guaranteeing the entry's payload is
				// stable, and InDone releases it back to the remote
				// producer, which may overwrite it as soon as that
				// happens (spec §4.5, §5).
				l.dispatch.Dispatch(p, m)
				p.InDone(m)
				progressed = true
			}
		}

		ready := l.timers.PopReady(uint64(l.curTs))
		for _, ev := range ready {
			progressed = true
			if fn, ok := ev.Payload.(func(channel.Ts)); ok {
				fn(l.curTs)
			}
		}

		next := l.nextDeadline()
		if !progressed || next > l.curTs {
			step := next - l.curTs
			if step > l.maxStep {
				step = l.maxStep
			}
			l.curTs += step
			return nil
		}
	}
}

// nextDeadline computes min over every synchronized peer of
// min(in_timestamp(), out_next_sync()), folded with the earliest pending
// local timed event, per §4.5's "next ← min over p∈P_sync of ...".
func (l *Loop) nextDeadline() channel.Ts {
	next := l.curTs + l.maxStep
	for _, p := range l.peers {
		if !p.Peer.SyncEnabled {
			continue
		}
		if t := p.InTimestamp(); t < next {
			next = t
		}
		if t := p.OutNextSync(); t < next {
			next = t
		}
	}
	if at, ok := l.timers.PeekEarliest(); ok && channel.Ts(at) < next {
		next = channel.Ts(at)
	}
	return next
}
