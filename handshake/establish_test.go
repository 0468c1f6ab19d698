// File: handshake/establish_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package handshake

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/goleak"

	"github.com/simbricks/simbricks-go/channel"
	"github.com/simbricks/simbricks-go/shm"
)

func TestEstablishListenerConnecterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "ctrl.sock")
	shmPath := filepath.Join(dir, "pool.shm")

	outRing := shm.RingParams{EntrySize: 128, EntryCount: 8}
	inRing := shm.RingParams{EntrySize: 128, EntryCount: 8}

	pool, err := shm.Create(shmPath, shm.SizeFor(outRing, inRing))
	if err != nil {
		t.Fatalf("shm.Create: %v", err)
	}
	defer pool.Unmap()
	defer pool.Unlink()

	outOff, err := pool.Alloc(outRing.Bytes())
	if err != nil {
		t.Fatalf("alloc out: %v", err)
	}
	inOff, err := pool.Alloc(inRing.Bytes())
	if err != nil {
		t.Fatalf("alloc in: %v", err)
	}

	listener := &Endpoint{
		SocketPath:    sockPath,
		Role:          channel.RoleListener,
		Pool:          pool,
		OutRing:       outRing,
		InRing:        inRing,
		OutOffset:     outOff,
		InOffset:      inOff,
		SyncRequested: true,
		LinkLatency:   500,
		SyncInterval:  100,
		UpperProto:    channel.ProtoPCIe,
		UpperIntro:    []byte("listener-hello"),
	}
	connecter := &Endpoint{
		SocketPath:    sockPath,
		Role:          channel.RoleConnecter,
		SyncRequested: true,
		LinkLatency:   500,
		SyncInterval:  100,
		UpperProto:    channel.ProtoPCIe,
		UpperIntro:    []byte("connecter-hello"),
	}

	if err := Establish([]*Endpoint{listener, connecter}); err != nil {
		t.Fatalf("Establish: %v", err)
	}

	if listener.Channel == nil || connecter.Channel == nil {
		t.Fatal("expected both endpoints to produce a channel")
	}
	if !listener.Channel.Peer.SyncEnabled || !connecter.Channel.Peer.SyncEnabled {
		t.Fatal("expected sync negotiated on since both sides requested it")
	}
	if string(listener.PeerUpperIntro) != "connecter-hello" {
		t.Fatalf("listener got wrong upper intro: %q", listener.PeerUpperIntro)
	}
	if string(connecter.PeerUpperIntro) != "listener-hello" {
		t.Fatalf("connecter got wrong upper intro: %q", connecter.PeerUpperIntro)
	}

	// End-to-end: a message published on the listener's out ring must be
	// visible on the connecter's in ring, proving both sides derived
	// matching, non-overlapping ring views of the same mapped region.
	e, ok := listener.Channel.OutAlloc(10)
	if !ok {
		t.Fatal("OutAlloc failed")
	}
	copy(e.Head(), []byte("ping"))
	listener.Channel.OutSend(e, 0x40)

	got, ok := connecter.Channel.InPoll(10 + 500)
	if !ok {
		t.Fatal("expected connecter to observe listener's message")
	}
	if string(got.Head()[:4]) != "ping" {
		t.Fatalf("payload mismatch: %q", got.Head()[:4])
	}
}

func TestEstablishSyncDeclinedWhenOneSideDeclines(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "ctrl.sock")
	shmPath := filepath.Join(dir, "pool.shm")

	outRing := shm.RingParams{EntrySize: 128, EntryCount: 4}
	inRing := shm.RingParams{EntrySize: 128, EntryCount: 4}
	pool, err := shm.Create(shmPath, shm.SizeFor(outRing, inRing))
	if err != nil {
		t.Fatalf("shm.Create: %v", err)
	}
	defer pool.Unmap()
	defer pool.Unlink()
	outOff, _ := pool.Alloc(outRing.Bytes())
	inOff, _ := pool.Alloc(inRing.Bytes())

	listener := &Endpoint{
		SocketPath: sockPath, Role: channel.RoleListener, Pool: pool,
		OutRing: outRing, InRing: inRing, OutOffset: outOff, InOffset: inOff,
		SyncRequested: true,
	}
	connecter := &Endpoint{
		SocketPath: sockPath, Role: channel.RoleConnecter,
		SyncRequested: false,
	}

	if err := Establish([]*Endpoint{listener, connecter}); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if listener.Channel.Peer.SyncEnabled {
		t.Fatal("expected sync disabled: one side declined and neither forced it")
	}
}

func TestEstablishFailsCleanlyOnMissingListener(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "nobody-home.sock")
	_ = os.RemoveAll(sockPath)

	connecter := &Endpoint{SocketPath: sockPath, Role: channel.RoleConnecter}
	if err := Establish([]*Endpoint{connecter}); err == nil {
		t.Fatal("expected Establish to fail when nothing is listening")
	}
}

// TestEstablishLeavesNoGoroutinesRunning checks that the batch driver,
// which polls every endpoint's fd from a single goroutine rather than one
// per peer, exits cleanly on both a successful batch and a failed one.
func TestEstablishLeavesNoGoroutinesRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	sockPath := filepath.Join(dir, "ctrl.sock")
	shmPath := filepath.Join(dir, "pool.shm")

	outRing := shm.RingParams{EntrySize: 128, EntryCount: 4}
	inRing := shm.RingParams{EntrySize: 128, EntryCount: 4}
	pool, err := shm.Create(shmPath, shm.SizeFor(outRing, inRing))
	if err != nil {
		t.Fatalf("shm.Create: %v", err)
	}
	defer pool.Unmap()
	defer pool.Unlink()
	outOff, _ := pool.Alloc(outRing.Bytes())
	inOff, _ := pool.Alloc(inRing.Bytes())

	listener := &Endpoint{
		SocketPath: sockPath, Role: channel.RoleListener, Pool: pool,
		OutRing: outRing, InRing: inRing, OutOffset: outOff, InOffset: inOff,
	}
	connecter := &Endpoint{SocketPath: sockPath, Role: channel.RoleConnecter}
	if err := Establish([]*Endpoint{listener, connecter}); err != nil {
		t.Fatalf("Establish: %v", err)
	}

	missingSockPath := filepath.Join(dir, "nobody-home.sock")
	failing := &Endpoint{SocketPath: missingSockPath, Role: channel.RoleConnecter}
	if err := Establish([]*Endpoint{failing}); err == nil {
		t.Fatal("expected Establish to fail when nothing is listening")
	}
}
