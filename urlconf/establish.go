// File: urlconf/establish.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package urlconf

import (
	"context"
	"fmt"

	"github.com/simbricks/simbricks-go/channel"
	"github.com/simbricks/simbricks-go/handshake"
	"github.com/simbricks/simbricks-go/shm"
)

// Default ring sizing applied to every channel established through this
// package. The URL grammar of §4.7 carries no entry-size/entry-count
// option, so Establish uses these fixed defaults; callers needing
// different sizing build handshake.Endpoint values directly instead of
// going through urlconf (documented in DESIGN.md).
const (
	DefaultEntrySize  int64 = 2048
	DefaultEntryCount int64 = 64
)

// Establish parses every URL, creates (or maps into) one shared SHM pool
// sized to the sum of the listener sides' ring requirements, and drives
// all resulting handshakes jointly via handshake.Establish — the batch
// succeeds or fails as a whole (spec §4.2, §4.7). Returned channels are in
// the same order as urls. poolPath is only consulted when the batch
// contains at least one listener URL; it is the file the pool is created
// at. Establish unlinks it only when the batch fails; on success the file
// stays at poolPath and no handle to the pool is returned, so Establish
// never unmaps or unlinks it.
//
// ctx cancellation is honored only before the handshake begins — once
// handshake.Establish's poll() loop starts, the batch runs to completion
// or failure since Endpoint exposes no mid-flight abort hook.
func Establish(ctx context.Context, urls []string, poolPath string) ([]*channel.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := make([]Params, len(urls))
	for i, u := range urls {
		p, err := Parse(u)
		if err != nil {
			return nil, err
		}
		params[i] = p
	}

	endpoints := make([]*handshake.Endpoint, len(urls))
	var listenerRings []shm.RingParams
	for i, p := range params {
		role := channel.RoleConnecter
		if p.Listen {
			role = channel.RoleListener
		}
		e := &handshake.Endpoint{
			SocketPath:    p.SocketPath,
			Role:          role,
			SyncRequested: p.Sync,
		}
		if p.HasLinkLatency {
			e.LinkLatency = p.LinkLatency
		}
		if p.HasSyncInterval {
			e.SyncInterval = p.SyncInterval
		}
		endpoints[i] = e
		if p.Listen {
			out := shm.RingParams{EntrySize: DefaultEntrySize, EntryCount: DefaultEntryCount}
			in := shm.RingParams{EntrySize: DefaultEntrySize, EntryCount: DefaultEntryCount}
			e.OutRing = out
			e.InRing = in
			listenerRings = append(listenerRings, out, in)
		}
	}

	var pool *shm.Pool
	if len(listenerRings) > 0 {
		size := shm.SizeFor(listenerRings...)
		p, err := shm.Create(poolPath, size)
		if err != nil {
			return nil, fmt.Errorf("urlconf: create pool %s: %w", poolPath, err)
		}
		pool = p
		for _, e := range endpoints {
			if e.Role != channel.RoleListener {
				continue
			}
			outOff, err := pool.Alloc(e.OutRing.Bytes())
			if err != nil {
				pool.Unmap()
				pool.Unlink()
				return nil, fmt.Errorf("urlconf: alloc out ring for %s: %w", e.SocketPath, err)
			}
			inOff, err := pool.Alloc(e.InRing.Bytes())
			if err != nil {
				pool.Unmap()
				pool.Unlink()
				return nil, fmt.Errorf("urlconf: alloc in ring for %s: %w", e.SocketPath, err)
			}
			e.Pool = pool
			e.OutOffset = outOff
			e.InOffset = inOff
		}
	}

	if err := handshake.Establish(endpoints); err != nil {
		if pool != nil {
			pool.Unmap()
			pool.Unlink()
		}
		return nil, err
	}

	channels := make([]*channel.Channel, len(endpoints))
	for i, e := range endpoints {
		channels[i] = e.Channel
	}
	return channels, nil
}
