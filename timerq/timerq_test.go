// File: timerq/timerq_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package timerq

import "testing"

func TestSetOrdersEventsByDeadline(t *testing.T) {
	s := NewSet()
	s.Schedule(30, "c")
	s.Schedule(10, "a")
	s.Schedule(20, "b")

	ready := s.PopReady(25)
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready events at ts=25, got %d", len(ready))
	}
	if ready[0].Payload != "a" || ready[1].Payload != "b" {
		t.Fatalf("expected [a b] in order, got [%v %v]", ready[0].Payload, ready[1].Payload)
	}
	at, ok := s.PeekEarliest()
	if !ok || at != 30 {
		t.Fatalf("expected earliest remaining deadline 30, got %d ok=%v", at, ok)
	}
}

func TestCancelRemovesPendingEvent(t *testing.T) {
	s := NewSet()
	keep := s.Schedule(10, "keep")
	drop := s.Schedule(5, "drop")
	s.Cancel(drop)

	ready := s.PopReady(100)
	if len(ready) != 1 || ready[0] != keep {
		t.Fatalf("expected only the kept event, got %v", ready)
	}
}

func TestCancelAfterPopIsNoop(t *testing.T) {
	s := NewSet()
	e := s.Schedule(1, "x")
	_ = s.PopReady(10)
	s.Cancel(e) // must not panic
	if s.Len() != 0 {
		t.Fatalf("expected empty set, got len=%d", s.Len())
	}
}
