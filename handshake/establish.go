// File: handshake/establish.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package handshake

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/simbricks/simbricks-go/channel"
	"github.com/simbricks/simbricks-go/shm"
)

type state int

const (
	stListenAccept state = iota
	stConnecting
	stSendIntro
	stRecvIntroHeader
	stRecvIntroBody
	stDone
	stFailed
)

// Endpoint describes one channel to establish, plus the state the
// listener/connecter state machine accumulates as it runs. Listener
// endpoints must have Pool, OutOffset and InOffset already populated by
// the caller (typically urlconf.Establish, which sizes and allocates one
// shared Pool up front for every listener-side endpoint before driving
// any handshake, per spec §4.7).
type Endpoint struct {
	SocketPath string
	Role       channel.Role

	// Listener-only: the already-created pool this endpoint's regions
	// were carved from, and their offsets.
	Pool      *shm.Pool
	OutRing   shm.RingParams // this side's producer ring (listener: l2c)
	InRing    shm.RingParams // this side's consumer ring (listener: c2l)
	OutOffset int64
	InOffset  int64

	SyncRequested bool
	SyncForce     bool
	LinkLatency   channel.Ts
	SyncInterval  channel.Ts
	UpperProto    channel.UpperProto
	UpperIntro    []byte

	// Result, valid once Establish returns with no error.
	Channel        *channel.Channel
	PeerUpperIntro []byte

	state    state
	fd       int
	listenFd int
	rxBuf    []byte
	rxFilled int
	rxFd     int
	txBuf    []byte
	txSent   int
	txFd     int // fd to attach to the first bytes sent (listener only), -1 otherwise

	// Connecter-only, filled in once the listener's intro arrives.
	peerListenerIntro  ListenerIntro
	pendingSyncEnabled bool

	// Header decoded by stRecvIntroHeader, finished by stRecvIntroBody
	// once the (possibly zero-length) upper-layer intro blob has arrived.
	pendingListenerIntro  ListenerIntro  // role == RoleConnecter
	pendingConnecterIntro ConnecterIntro // role == RoleListener
}

func (e *Endpoint) flags() uint64 {
	var f uint64
	if e.SyncRequested {
		f |= FlagSyncRequested
	}
	if e.SyncForce {
		f |= FlagSyncForced
	}
	return f
}

func mergeSync(localReq, localForce, peerReq, peerForce bool) bool {
	if localForce || peerForce {
		return true
	}
	return localReq && peerReq
}

// Establish drives every endpoint's state machine concurrently via a
// single poll() loop until all are DONE or any one fails, per spec §4.2:
// "any socket error, incomplete intro, SHM creation failure, or size
// mismatch aborts the whole batch (no partial connection)".
func Establish(endpoints []*Endpoint) error {
	for _, e := range endpoints {
		e.rxFd = -1
		e.txFd = -1
		if err := e.start(); err != nil {
			abortAll(endpoints)
			return fmt.Errorf("%w: %v", ErrBatchFailed, err)
		}
	}

	for {
		done := true
		pfds := make([]unix.PollFd, 0, len(endpoints))
		index := make([]*Endpoint, 0, len(endpoints))
		for _, e := range endpoints {
			switch e.state {
			case stDone, stFailed:
				continue
			case stListenAccept:
				pfds = append(pfds, unix.PollFd{Fd: int32(e.listenFd), Events: unix.POLLIN})
			case stConnecting:
				pfds = append(pfds, unix.PollFd{Fd: int32(e.fd), Events: unix.POLLOUT})
			case stSendIntro:
				pfds = append(pfds, unix.PollFd{Fd: int32(e.fd), Events: unix.POLLOUT})
			case stRecvIntroHeader, stRecvIntroBody:
				pfds = append(pfds, unix.PollFd{Fd: int32(e.fd), Events: unix.POLLIN})
			}
			index = append(index, e)
			done = false
		}
		if done {
			break
		}

		n, err := unix.Poll(pfds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			abortAll(endpoints)
			return fmt.Errorf("%w: poll: %v", ErrBatchFailed, err)
		}
		if n == 0 {
			continue
		}

		for i, pfd := range pfds {
			if pfd.Revents == 0 {
				continue
			}
			e := index[i]
			if pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 && pfd.Revents&(unix.POLLIN|unix.POLLOUT) == 0 {
				abortAll(endpoints)
				return fmt.Errorf("%w: endpoint %s: socket error", ErrBatchFailed, e.SocketPath)
			}
			if err := e.step(); err != nil {
				abortAll(endpoints)
				return fmt.Errorf("%w: endpoint %s: %v", ErrBatchFailed, e.SocketPath, err)
			}
		}
	}

	for _, e := range endpoints {
		if e.state != stDone {
			abortAll(endpoints)
			return fmt.Errorf("%w: endpoint %s never completed", ErrBatchFailed, e.SocketPath)
		}
	}
	return nil
}

func abortAll(endpoints []*Endpoint) {
	for _, e := range endpoints {
		if e.listenFd > 0 {
			unix.Close(e.listenFd)
		}
		if e.fd > 0 {
			unix.Close(e.fd)
		}
		e.state = stFailed
	}
}

func (e *Endpoint) start() error {
	switch e.Role {
	case channel.RoleListener:
		fd, err := bindListen(e.SocketPath)
		if err != nil {
			return err
		}
		e.listenFd = fd
		e.state = stListenAccept
	case channel.RoleConnecter:
		fd, ok, err := startConnect(e.SocketPath)
		if err != nil {
			return err
		}
		e.fd = fd
		if ok {
			e.state = stRecvIntroHeader
		} else {
			e.state = stConnecting
		}
	}
	return nil
}

func (e *Endpoint) step() error {
	switch e.state {
	case stListenAccept:
		fd, ok, err := tryAccept(e.listenFd)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		unix.Close(e.listenFd)
		e.listenFd = 0
		e.fd = fd
		e.txBuf = ListenerIntro{
			Version:       ProtocolVersion,
			Flags:         e.flags(),
			L2COffset:     uint64(e.OutOffset),
			L2CEntrySize:  uint64(e.OutRing.EntrySize),
			L2CEntryCount: uint64(e.OutRing.EntryCount),
			C2LOffset:     uint64(e.InOffset),
			C2LEntrySize:  uint64(e.InRing.EntrySize),
			C2LEntryCount: uint64(e.InRing.EntryCount),
			UpperProto:    uint64(e.UpperProto),
			UpperIntro:    e.UpperIntro,
		}.Encode()
		e.txFd = e.Pool.Fd()
		e.state = stSendIntro
		return nil

	case stConnecting:
		ok, err := connectCompleted(e.fd)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		e.state = stRecvIntroHeader
		return nil

	case stSendIntro:
		sent, ok, err := sendAll(e.fd, e.txBuf, e.txSent, e.txFd)
		e.txSent = sent
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if e.Role == channel.RoleListener {
			e.rxBuf = nil
			e.rxFilled = 0
			e.state = stRecvIntroHeader
		} else {
			e.state = stDone
			return e.finishConnecter()
		}
		return nil

	// stRecvIntroHeader/stRecvIntroBody read an intro in two passes since a
	// Unix stream socket has no message boundaries: the fixed-size header
	// is read first and decoded to learn the upper-layer intro blob's
	// length, then exactly that many more bytes are read for the blob
	// itself — never requiring the peer to pad its message out to some
	// guessed maximum size.
	case stRecvIntroHeader:
		if e.rxBuf == nil {
			size := connecterIntroFixedSize
			if e.Role == channel.RoleConnecter {
				size = listenerIntroFixedSize
			}
			e.rxBuf = make([]byte, size)
		}
		filled, ok, err := recvAll(e.fd, e.rxBuf, e.rxFilled, &e.rxFd)
		e.rxFilled = filled
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return e.handleIntroHeader()

	case stRecvIntroBody:
		filled, ok, err := recvAll(e.fd, e.rxBuf, e.rxFilled, &e.rxFd)
		e.rxFilled = filled
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return e.finishIntro()
	}
	return nil
}

func (e *Endpoint) handleIntroHeader() error {
	if e.Role == channel.RoleListener {
		ci, bodyLen, err := DecodeConnecterIntroHeader(e.rxBuf[:e.rxFilled])
		if err != nil {
			return err
		}
		if ci.Version != ProtocolVersion {
			return ErrVersionMismatch
		}
		e.pendingConnecterIntro = ci
		return e.startIntroBody(bodyLen)
	}

	li, bodyLen, err := DecodeListenerIntroHeader(e.rxBuf[:e.rxFilled])
	if err != nil {
		return err
	}
	if li.Version != ProtocolVersion {
		return ErrVersionMismatch
	}
	if e.rxFd < 0 {
		return ErrNoFdReceived
	}
	e.pendingListenerIntro = li
	return e.startIntroBody(bodyLen)
}

// startIntroBody transitions to stRecvIntroBody to read the upper-layer
// intro blob, or finishes immediately when the peer's blob is empty.
func (e *Endpoint) startIntroBody(bodyLen uint64) error {
	if bodyLen == 0 {
		e.rxBuf = nil
		e.rxFilled = 0
		return e.finishIntro()
	}
	e.rxBuf = make([]byte, bodyLen)
	e.rxFilled = 0
	e.state = stRecvIntroBody
	return nil
}

func (e *Endpoint) finishIntro() error {
	if e.Role == channel.RoleListener {
		ci := e.pendingConnecterIntro
		ci.UpperIntro = e.rxBuf
		peerReq := ci.Flags&FlagSyncRequested != 0
		peerForce := ci.Flags&FlagSyncForced != 0
		e.PeerUpperIntro = ci.UpperIntro
		e.buildChannel(mergeSync(e.SyncRequested, e.SyncForce, peerReq, peerForce))
		e.state = stDone
		return nil
	}

	li := e.pendingListenerIntro
	li.UpperIntro = e.rxBuf
	return e.startConnecterSendIntro(li)
}

func (e *Endpoint) startConnecterSendIntro(li ListenerIntro) error {
	poolSize := int64(li.L2COffset) + int64(li.L2CEntrySize)*int64(li.L2CEntryCount)
	if c2lEnd := int64(li.C2LOffset) + int64(li.C2LEntrySize)*int64(li.C2LEntryCount); c2lEnd > poolSize {
		poolSize = c2lEnd
	}
	pool, err := shm.Map(e.rxFd, poolSize)
	if err != nil {
		return err
	}
	e.Pool = pool
	e.peerListenerIntro = li
	e.OutOffset = int64(li.C2LOffset)
	e.OutRing = shm.RingParams{EntrySize: int64(li.C2LEntrySize), EntryCount: int64(li.C2LEntryCount)}
	e.InOffset = int64(li.L2COffset)
	e.InRing = shm.RingParams{EntrySize: int64(li.L2CEntrySize), EntryCount: int64(li.L2CEntryCount)}

	peerReq := li.Flags&FlagSyncRequested != 0
	peerForce := li.Flags&FlagSyncForced != 0
	syncEnabled := mergeSync(e.SyncRequested, e.SyncForce, peerReq, peerForce)

	e.txBuf = ConnecterIntro{
		Version:    ProtocolVersion,
		Flags:      e.flags(),
		UpperProto: uint64(e.UpperProto),
		UpperIntro: e.UpperIntro,
	}.Encode()
	e.txSent = 0
	e.txFd = -1
	e.PeerUpperIntro = li.UpperIntro
	e.pendingSyncEnabled = syncEnabled
	e.state = stSendIntro
	return nil
}

func (e *Endpoint) finishConnecter() error {
	e.buildChannel(e.pendingSyncEnabled)
	return nil
}

func (e *Endpoint) buildChannel(syncEnabled bool) {
	peer := channel.PeerInfo{
		SocketPath:   e.SocketPath,
		Role:         e.Role,
		Proto:        e.UpperProto,
		SyncEnabled:  syncEnabled,
		LinkLatency:  e.LinkLatency,
		SyncInterval: e.SyncInterval,
		Ready:        true,
	}
	outData := e.Pool.Slice(e.OutOffset, e.OutRing.Bytes())
	inData := e.Pool.Slice(e.InOffset, e.InRing.Bytes())
	e.Channel = channel.New(peer, outData, e.OutRing.EntrySize, e.OutRing.EntryCount, inData, e.InRing.EntrySize, e.InRing.EntryCount)
}
