// File: sync/backoff.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sync

import (
	"errors"
	"runtime"

	"github.com/simbricks/simbricks-go/channel"
)

// ErrCancelled is returned by Spin when the cancelled callback reports
// true before attempt succeeds.
var ErrCancelled = errors.New("sync: spin cancelled")

// maxBackoffIters caps the adaptive busy-wait, matching the teacher's
// eventloop.go exponential-backoff-capped-at-1ms shape.
const maxBackoffIters = 1 << 20

// Spin retries attempt with adaptive exponential backoff until it no
// longer reports channel.ErrRingFull, cancelled() reports true, or attempt
// fails with a different error. It is the mechanism §4.4 requires for
// sync-critical sends: "for sync messages: spin until free
// (correctness-critical)".
//
// Grounded on the teacher's internal/concurrency/eventloop.go adaptive
// backoff ("busy-loop for d iterations, then runtime.Gosched, then double
// d up to a cap"), adapted from "nothing to dequeue" to "nowhere to
// publish".
func Spin(attempt func() error, cancelled func() bool) error {
	backoff := int64(1)
	for {
		err := attempt()
		if err == nil {
			return nil
		}
		if !errors.Is(err, channel.ErrRingFull) {
			return err
		}
		if cancelled != nil && cancelled() {
			return ErrCancelled
		}
		for i := int64(0); i < backoff; i++ {
			// no-op: adaptive busy-wait
		}
		runtime.Gosched()
		if backoff < maxBackoffIters {
			backoff *= 2
		}
	}
}
