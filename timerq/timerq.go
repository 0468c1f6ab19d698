// File: timerq/timerq.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package timerq provides the timestamp-ordered timed-event set shared by
// the multi-peer scheduler (spec component C5, "handle_timed_events" /
// "local timed event" in the §4.5 pseudocode) and the nicbm device runtime
// (component C8, event_schedule/event_cancel).
//
// Grounded on the teacher's internal/concurrency/scheduler.go, which
// reaches for container/heap but never finishes its own min-heap — this
// package is the completed version, generalized to arbitrary caller
// payloads instead of the stub's single "task" type. No pack repo ships a
// general-purpose priority-queue library (github.com/eapache/queue, the
// teacher's other queue dependency, is FIFO-only and cannot express
// timestamp ordering), so container/heap is the correct, justified stdlib
// choice here (see DESIGN.md).
package timerq

import "container/heap"

// Event is one scheduled callback, keyed by its virtual-time deadline.
type Event struct {
	At      uint64
	Payload any
	index   int // heap index, maintained by container/heap
}

type innerHeap []*Event

func (h innerHeap) Len() int            { return len(h) }
func (h innerHeap) Less(i, j int) bool  { return h[i].At < h[j].At }
func (h innerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *innerHeap) Push(x any) {
	e := x.(*Event)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *innerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Set is a timestamp-ordered set of pending events, supporting O(log n)
// schedule, cancel, and peek-earliest.
type Set struct {
	h innerHeap
}

// NewSet returns an empty timed-event set.
func NewSet() *Set {
	return &Set{}
}

// Schedule inserts a new event at the given virtual time and returns a
// handle usable with Cancel.
func (s *Set) Schedule(at uint64, payload any) *Event {
	e := &Event{At: at, Payload: payload}
	heap.Push(&s.h, e)
	return e
}

// Cancel removes a previously scheduled event, if still pending. Safe to
// call on an event already popped by PopReady (no-op in that case).
func (s *Set) Cancel(e *Event) {
	if e.index < 0 || e.index >= len(s.h) || s.h[e.index] != e {
		return
	}
	heap.Remove(&s.h, e.index)
}

// Len returns the number of pending events.
func (s *Set) Len() int { return s.h.Len() }

// PeekEarliest returns the earliest pending deadline without removing it.
func (s *Set) PeekEarliest() (uint64, bool) {
	if len(s.h) == 0 {
		return 0, false
	}
	return s.h[0].At, true
}

// PopReady removes and returns every event whose deadline is <= ts, in
// non-decreasing deadline order.
func (s *Set) PopReady(ts uint64) []*Event {
	var ready []*Event
	for len(s.h) > 0 && s.h[0].At <= ts {
		ready = append(ready, heap.Pop(&s.h).(*Event))
	}
	return ready
}
