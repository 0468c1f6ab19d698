// File: urlconf/establish_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package urlconf

import (
	"context"
	"path/filepath"
	"testing"
)

func TestEstablishListenerConnecterOverURLs(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "ctrl.sock")
	poolPath := filepath.Join(dir, "pool.shm")

	urls := []string{
		"listen:" + sockPath + ":sync=true:latency=10:sync_interval=5",
		"connect:" + sockPath + ":sync=true",
	}

	channels, err := Establish(context.Background(), urls, poolPath)
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(channels))
	}
	if channels[0] == nil || channels[1] == nil {
		t.Fatal("expected both channels to be non-nil")
	}
	if !channels[0].Peer.SyncEnabled || !channels[1].Peer.SyncEnabled {
		t.Fatal("expected sync negotiated on")
	}

	e, ok := channels[0].OutAlloc(0)
	if !ok {
		t.Fatal("OutAlloc failed")
	}
	channels[0].OutSend(e, 0x40)

	if _, ok := channels[1].InPoll(0 + 10); !ok {
		t.Fatal("expected connecter side to observe the listener's message")
	}
}

func TestEstablishRejectsMalformedURL(t *testing.T) {
	dir := t.TempDir()
	poolPath := filepath.Join(dir, "pool.shm")
	_, err := Establish(context.Background(), []string{"nonsense"}, poolPath)
	if err == nil {
		t.Fatal("expected error for malformed URL")
	}
}

func TestEstablishHonorsAlreadyCancelledContext(t *testing.T) {
	dir := t.TempDir()
	poolPath := filepath.Join(dir, "pool.shm")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Establish(ctx, []string{"connect:/does/not/matter:sync=false"}, poolPath)
	if err == nil {
		t.Fatal("expected error from pre-cancelled context")
	}
}
