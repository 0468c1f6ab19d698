// File: internal/obs/log.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package obs wires the ambient observability stack: structured logging
// via github.com/sirupsen/logrus and a Prometheus metrics registry,
// replacing the teacher's stdlib-log call sites and its placeholder
// control/metrics.go in-process snapshot.
//
// Grounded on facebook-time's use of logrus across its daemons
// (fbclock/daemon/*.go) for the logging half, and
// ptp/sptp/stats/prom_exporter.go for the metrics half.
package obs

import "github.com/sirupsen/logrus"

// NewLogger returns a logrus entry pre-tagged with the given component
// name, matching facebook-time's per-daemon field convention.
func NewLogger(component string) *logrus.Entry {
	return logrus.StandardLogger().WithField("component", component)
}

// WithPeer returns a derived entry additionally tagged with the peer's
// socket path, for handshake and channel log lines.
func WithPeer(log *logrus.Entry, socketPath string) *logrus.Entry {
	return log.WithField("peer", socketPath)
}

// WithTs returns a derived entry tagged with the current virtual time, for
// scheduler and device log lines where wall-clock time is meaningless.
func WithTs(log *logrus.Entry, ts uint64) *logrus.Entry {
	return log.WithField("ts", ts)
}
