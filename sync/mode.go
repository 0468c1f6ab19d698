// Package sync implements the synchronization protocol (spec component
// C4) layered over channel.Channel: the spin/backoff helper that makes a
// sync-critical out_alloc succeed, and the mode selector between the
// required per-channel mode and the legacy, deliberately-unsupported
// barrier mode (spec §4.4, Open Question a).
package sync

import "errors"

// Mode selects the sync protocol variant negotiated for a direction.
type Mode int

const (
	// PerChannel is the only mode a new target must implement: the
	// producer promises no message timestamped earlier than
	// last_tx_ts+T will ever be emitted after the last emission, and
	// enforces that promise with a dummy SYNC heartbeat.
	PerChannel Mode = iota

	// Barrier is the legacy mode where a simulator-local epoch bounds
	// how far cur_ts may advance. The source's implementation of this
	// mode is inconsistent across versions; this module preserves the
	// selector but refuses to run it.
	Barrier
)

// ErrBarrierModeUnsupported is returned by any operation asked to run in
// Barrier mode. The mode selector is preserved so callers can detect and
// reject a misconfigured legacy topology with a clear error instead of
// silently falling back to per-channel semantics.
var ErrBarrierModeUnsupported = errors.New("sync: barrier mode is not implemented; use per-channel mode")

// Validate returns ErrBarrierModeUnsupported for Barrier, nil for
// PerChannel.
func (m Mode) Validate() error {
	if m == Barrier {
		return ErrBarrierModeUnsupported
	}
	return nil
}
