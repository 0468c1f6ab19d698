// File: shm/pool_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package shm

import (
	"path/filepath"
	"testing"
)

func TestSizeForSumsAlignedRingSizes(t *testing.T) {
	out := RingParams{EntrySize: 100, EntryCount: 3} // 300 -> aligned to 320
	in := RingParams{EntrySize: 64, EntryCount: 4}    // 256 -> already aligned
	got := SizeFor(out, in)
	if want := int64(320 + 256); got != want {
		t.Fatalf("SizeFor = %d, want %d", got, want)
	}
}

func TestCreateAllocSliceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.shm")
	out := RingParams{EntrySize: 128, EntryCount: 4}
	in := RingParams{EntrySize: 128, EntryCount: 4}

	pool, err := Create(path, SizeFor(out, in))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer pool.Unmap()
	defer pool.Unlink()

	outOff, err := pool.Alloc(out.Bytes())
	if err != nil {
		t.Fatalf("Alloc(out): %v", err)
	}
	inOff, err := pool.Alloc(in.Bytes())
	if err != nil {
		t.Fatalf("Alloc(in): %v", err)
	}
	if outOff != 0 || inOff != out.Bytes() {
		t.Fatalf("expected sequential bump allocation, got outOff=%d inOff=%d", outOff, inOff)
	}

	region := pool.Slice(outOff, out.Bytes())
	copy(region, []byte("ring-header"))
	if string(pool.Slice(outOff, 11)) != "ring-header" {
		t.Fatal("expected write through Slice to be visible via a fresh Slice call")
	}
}

func TestAllocFailsWhenPoolExhausted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.shm")
	pool, err := Create(path, 64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer pool.Unmap()
	defer pool.Unlink()

	if _, err := pool.Alloc(64); err != nil {
		t.Fatalf("first Alloc should fit exactly: %v", err)
	}
	if _, err := pool.Alloc(1); err == nil {
		t.Fatal("expected Alloc to fail once the pool is exhausted")
	}
}

func TestMapBorrowedFdDoesNotUnlinkOnTeardown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.shm")
	owner, err := Create(path, 128)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer owner.Unmap()
	defer owner.Unlink()

	borrowed, err := Map(owner.Fd(), owner.Size())
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if borrowed.owned {
		t.Fatal("a Map-derived pool must never be marked owned")
	}
	if err := borrowed.Unlink(); err != nil {
		t.Fatalf("Unlink on a borrowed pool should be a no-op, got: %v", err)
	}
}
