// File: sync/backoff_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sync

import (
	"errors"
	"testing"

	"github.com/simbricks/simbricks-go/channel"
)

func TestSpinSucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := Spin(func() error {
		attempts++
		if attempts < 3 {
			return channel.ErrRingFull
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestSpinPropagatesNonRingFullError(t *testing.T) {
	boom := errors.New("boom")
	err := Spin(func() error { return boom }, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestSpinRespectsCancellation(t *testing.T) {
	err := Spin(func() error { return channel.ErrRingFull }, func() bool { return true })
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestBarrierModeRejected(t *testing.T) {
	if err := PerChannel.Validate(); err != nil {
		t.Fatalf("per-channel mode must validate cleanly: %v", err)
	}
	if err := Barrier.Validate(); !errors.Is(err, ErrBarrierModeUnsupported) {
		t.Fatalf("expected ErrBarrierModeUnsupported, got %v", err)
	}
}
