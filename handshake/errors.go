package handshake

import "errors"

var (
	errShortIntro = errors.New("handshake: intro message shorter than its fixed header")

	// ErrVersionMismatch is returned when a peer speaks a control
	// protocol version other than ProtocolVersion.
	ErrVersionMismatch = errors.New("handshake: protocol version mismatch")

	// ErrSizeMismatch names a disagreement in ring parameters between the
	// two sides of a channel. No code path in this package returns it: the
	// connecter adopts the ring layout from the listener's intro and does
	// not compare it against parameters of its own.
	ErrSizeMismatch = errors.New("handshake: ring size mismatch between peers")

	// ErrNoFdReceived is returned when a connecter's RECV_INTRO step
	// completes without an SCM_RIGHTS-attached SHM file descriptor.
	ErrNoFdReceived = errors.New("handshake: listener intro carried no SHM file descriptor")

	// ErrBatchFailed wraps the first endpoint failure that aborts an
	// entire Establish batch — a partial connection is never left
	// behind (spec §4.2 failure semantics).
	ErrBatchFailed = errors.New("handshake: batch establishment aborted")
)
