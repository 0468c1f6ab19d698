// File: shm/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package shm implements the SHM pool (spec component C1): a fixed-size
// byte region backed by a named file, memory-mapped shared by two
// processes, with a bump allocator carving out channel ring regions.
//
// Grounded on the teacher's pool/bufferpool_linux.go (NUMA slab allocator)
// and core/buffer/bufferpool_linux.go (hugepage-backed buffer pool),
// generalized from a per-process heap slab pool into a real cross-process
// mmap region via golang.org/x/sys/unix, since the teacher's own comment
// ("use heap allocation — more portable than mmap hugepages") explicitly
// opted out of what this component requires.
package shm

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// alignment is the byte alignment every allocation is rounded up to, so
// that every carved-out ring entry's header starts on a boundary where the
// own_type word (see proto/base) is naturally 4-byte aligned.
const alignment = 64

// Pool is a memory-mapped shared-memory region with a bump allocator.
// Once a channel's region is carved out, its offset, entry size and entry
// count are immutable — Pool only ever grows the cursor forward.
type Pool struct {
	file   *os.File // nil when mapped from a borrowed fd
	data   []byte
	size   int64
	cursor int64
	path   string
	owned  bool // true for the side that created (and will unlink) the file
}

// RingParams describes one ring's sizing, used to compute a pool's total
// required size before creation.
type RingParams struct {
	EntrySize  int64
	EntryCount int64
}

// Bytes returns the byte size this ring occupies once allocated, rounded
// up to alignment.
func (p RingParams) Bytes() int64 {
	return alignUp(p.EntrySize*p.EntryCount, alignment)
}

func alignUp(v, a int64) int64 {
	if a <= 0 {
		return v
	}
	return (v + a - 1) &^ (a - 1)
}

// SizeFor returns the total pool size required to hold every ring listed,
// each ring rounded up to alignment. Callers sum both directions of every channel they
// intend to allocate before calling Create.
func SizeFor(rings ...RingParams) int64 {
	var total int64
	for _, r := range rings {
		total += r.Bytes()
	}
	return total
}

// Create creates (or truncates) a named backing file of the given size and
// maps it PROT_READ|PROT_WRITE, MAP_SHARED. Called by the listener, which
// owns the pool's lifetime and will Unlink it on teardown.
func Create(path string, size int64) (*Pool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("shm: truncate %s to %d: %w", path, size, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}
	return &Pool{file: f, data: data, size: size, path: path, owned: true}, nil
}

// Map wraps a file descriptor received from a peer (typically via
// SCM_RIGHTS) as a read/write mapped pool of the given size. This side
// never unlinks the backing file.
func Map(fd int, size int64) (*Pool, error) {
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap borrowed fd %d: %w", fd, err)
	}
	f := os.NewFile(uintptr(fd), "shm-borrowed")
	return &Pool{file: f, data: data, size: size, owned: false}, nil
}

// Alloc bump-allocates size bytes (rounded up to alignment) and returns
// the offset. Fails if the pool is exhausted — pool sizes are computed
// deterministically from channel parameters via SizeFor, so exhaustion
// indicates a sizing bug in the caller, not a runtime condition to retry.
func (p *Pool) Alloc(size int64) (int64, error) {
	want := alignUp(size, alignment)
	for {
		cur := atomic.LoadInt64(&p.cursor)
		next := cur + want
		if next > p.size {
			return 0, fmt.Errorf("shm: pool exhausted: need %d more bytes, %d available", want, p.size-cur)
		}
		if atomic.CompareAndSwapInt64(&p.cursor, cur, next) {
			return cur, nil
		}
	}
}

// Slice returns the byte region [offset, offset+size) of the mapped pool.
// The returned slice aliases the mapping; callers on both sides of the
// SHM derive non-overlapping producer/consumer views from it.
func (p *Pool) Slice(offset, size int64) []byte {
	return p.data[offset : offset+size]
}

// Size returns the total mapped size of the pool.
func (p *Pool) Size() int64 { return p.size }

// Fd returns the pool's backing file descriptor, for passing to a peer via
// SCM_RIGHTS.
func (p *Pool) Fd() int { return int(p.file.Fd()) }

// Unmap removes the memory mapping and closes the backing file descriptor.
// Safe to call once during teardown.
func (p *Pool) Unmap() error {
	if p.data == nil {
		return nil
	}
	err := unix.Munmap(p.data)
	p.data = nil
	if cerr := p.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Unlink removes the backing file from the filesystem. Only the owning
// (listener) side should call this, after Unmap.
func (p *Pool) Unlink() error {
	if !p.owned || p.path == "" {
		return nil
	}
	return os.Remove(p.path)
}
