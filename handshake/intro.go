// File: handshake/intro.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package handshake implements the Unix-socket rendezvous (spec component
// C2): SHM-fd passing, intro exchange, and role negotiation between a
// listener and a connecter, plus the poll()-driven batch establishment
// that drives N such handshakes concurrently (spec §4.2, §4.7).
//
// Grounded on the teacher's internal/transport/transport_linux.go
// (raw golang.org/x/sys/unix socket plumbing) for the socket layer, and
// reactor/epoll_reactor.go (readiness-driven dispatch) for the
// multi-endpoint poll loop — adapted from persistent epoll registration
// to the one-shot poll() sweep §4.2 specifies.
package handshake

import "encoding/binary"

// ProtocolVersion is the only control-protocol version this package
// speaks (spec §6: "Protocol version is 1").
const ProtocolVersion uint64 = 1

// Flag bits carried in both intro messages.
const (
	FlagSyncRequested uint64 = 1 << 0
	FlagSyncForced    uint64 = 1 << 1
)

// listenerIntroFixedSize is the byte size of ListenerIntro's fixed fields,
// before the appended upper-layer intro blob.
const listenerIntroFixedSize = 10 * 8

// connecterIntroFixedSize is the byte size of ConnecterIntro's fixed
// fields, before the appended upper-layer intro blob.
const connecterIntroFixedSize = 4 * 8

// ListenerIntro is SimbricksProtoListenerIntro: SHM layout, sync flags,
// and upper-layer protocol id, with an appended upper-layer intro blob.
type ListenerIntro struct {
	Version       uint64
	Flags         uint64
	L2COffset     uint64
	L2CEntrySize  uint64
	L2CEntryCount uint64
	C2LOffset     uint64
	C2LEntrySize  uint64
	C2LEntryCount uint64
	UpperProto    uint64
	UpperIntro    []byte
}

// Encode serializes the intro, little-endian, fixed fields (the last of
// which is len(UpperIntro)) followed by the upper-layer intro blob itself.
// The receiver never knows the blob's length up front, so it is carried as
// an explicit length rather than implied by the message's total size —
// see DecodeListenerIntroHeader.
func (li ListenerIntro) Encode() []byte {
	buf := make([]byte, listenerIntroFixedSize+len(li.UpperIntro))
	binary.LittleEndian.PutUint64(buf[0:8], li.Version)
	binary.LittleEndian.PutUint64(buf[8:16], li.Flags)
	binary.LittleEndian.PutUint64(buf[16:24], li.L2COffset)
	binary.LittleEndian.PutUint64(buf[24:32], li.L2CEntrySize)
	binary.LittleEndian.PutUint64(buf[32:40], li.L2CEntryCount)
	binary.LittleEndian.PutUint64(buf[40:48], li.C2LOffset)
	binary.LittleEndian.PutUint64(buf[48:56], li.C2LEntrySize)
	binary.LittleEndian.PutUint64(buf[56:64], li.C2LEntryCount)
	binary.LittleEndian.PutUint64(buf[64:72], li.UpperProto)
	binary.LittleEndian.PutUint64(buf[72:80], uint64(len(li.UpperIntro)))
	copy(buf[listenerIntroFixedSize:], li.UpperIntro)
	return buf
}

// DecodeListenerIntroHeader parses exactly the fixed-field prefix of a
// buffer produced by Encode (buf must be listenerIntroFixedSize bytes) and
// reports how many more bytes the caller must read for UpperIntro. The
// caller reads that many bytes separately and assigns them to UpperIntro
// once received, since a Unix stream socket has no message boundaries to
// rely on for "read until end of message".
func DecodeListenerIntroHeader(buf []byte) (li ListenerIntro, upperIntroLen uint64, err error) {
	if len(buf) < listenerIntroFixedSize {
		return ListenerIntro{}, 0, errShortIntro
	}
	li = ListenerIntro{
		Version:       binary.LittleEndian.Uint64(buf[0:8]),
		Flags:         binary.LittleEndian.Uint64(buf[8:16]),
		L2COffset:     binary.LittleEndian.Uint64(buf[16:24]),
		L2CEntrySize:  binary.LittleEndian.Uint64(buf[24:32]),
		L2CEntryCount: binary.LittleEndian.Uint64(buf[32:40]),
		C2LOffset:     binary.LittleEndian.Uint64(buf[40:48]),
		C2LEntrySize:  binary.LittleEndian.Uint64(buf[48:56]),
		C2LEntryCount: binary.LittleEndian.Uint64(buf[56:64]),
		UpperProto:    binary.LittleEndian.Uint64(buf[64:72]),
	}
	upperIntroLen = binary.LittleEndian.Uint64(buf[72:80])
	return li, upperIntroLen, nil
}

// ConnecterIntro is SimbricksProtoConnecterIntro: the connecter's sync
// preference and its own upper-layer intro blob.
type ConnecterIntro struct {
	Version    uint64
	Flags      uint64
	UpperProto uint64
	UpperIntro []byte
}

// Encode serializes the intro, little-endian, fixed fields (the last of
// which is len(UpperIntro)) followed by the upper-layer intro blob.
func (ci ConnecterIntro) Encode() []byte {
	buf := make([]byte, connecterIntroFixedSize+len(ci.UpperIntro))
	binary.LittleEndian.PutUint64(buf[0:8], ci.Version)
	binary.LittleEndian.PutUint64(buf[8:16], ci.Flags)
	binary.LittleEndian.PutUint64(buf[16:24], ci.UpperProto)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(len(ci.UpperIntro)))
	copy(buf[connecterIntroFixedSize:], ci.UpperIntro)
	return buf
}

// DecodeConnecterIntroHeader parses exactly the fixed-field prefix of a
// buffer produced by Encode (buf must be connecterIntroFixedSize bytes)
// and reports how many more bytes the caller must read for UpperIntro, for
// the same reason DecodeListenerIntroHeader does.
func DecodeConnecterIntroHeader(buf []byte) (ci ConnecterIntro, upperIntroLen uint64, err error) {
	if len(buf) < connecterIntroFixedSize {
		return ConnecterIntro{}, 0, errShortIntro
	}
	ci = ConnecterIntro{
		Version:    binary.LittleEndian.Uint64(buf[0:8]),
		Flags:      binary.LittleEndian.Uint64(buf[8:16]),
		UpperProto: binary.LittleEndian.Uint64(buf[16:24]),
	}
	upperIntroLen = binary.LittleEndian.Uint64(buf[24:32])
	return ci, upperIntroLen, nil
}
