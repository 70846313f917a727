// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package ftlmap implements a Flash Translation Layer mapping engine: an
// in-memory, compressed LBA → PBA map absorbing bursty writes through a
// three-tier pipeline (an unordered write buffer, a queue of sealed
// buffers awaiting a background flusher, and a dense array of
// compressed groups).
package ftlmap

import (
	"github.com/js0-site/ftlmap/flusher"
	"github.com/js0-site/ftlmap/group"
	"github.com/js0-site/ftlmap/plcodec"
	"github.com/js0-site/ftlmap/wbuf"
)

// Unmapped is the sentinel PBA meaning "no mapping"/tombstone.
const Unmapped = plcodec.Unmapped

// Mapping is the public LBA → PBA mapping engine.
type Mapping struct {
	capacity uint64
	cfg      Config

	store *group.Store
	bg    *flusher.Flusher

	active *wbuf.Buffer
	sealed []*wbuf.Sealed // L0.5, oldest first
}

// New allocates ⌈capacity / cfg.GroupSize⌉ empty groups and starts the
// background flusher. Returns immediately.
func New(capacity uint64, cfg Config) *Mapping {
	store := group.NewStore(capacity, cfg.GroupSize)
	m := &Mapping{
		capacity: capacity,
		cfg:      cfg,
		store:    store,
		bg:       flusher.New(store, cfg.GroupSize, cfg.PGMEpsilon),
		active:   wbuf.New(),
	}
	go m.bg.Run()
	return m
}

// Get returns the PBA mapped to lba, probing L0, then L0.5 newest to
// oldest, then L1. lba ≥ capacity returns (0, false). Never blocks.
func (m *Mapping) Get(lba uint64) (uint64, bool) {
	if lba >= m.capacity {
		return 0, false
	}
	if pba, ok := m.active.Get(lba); ok {
		return resolveTombstone(pba)
	}
	for i := len(m.sealed) - 1; i >= 0; i-- {
		if pba, ok := m.sealed[i].Get(lba); ok {
			return resolveTombstone(pba)
		}
	}
	return m.store.Get(lba)
}

func resolveTombstone(pba uint64) (uint64, bool) {
	if pba == Unmapped {
		return 0, false
	}
	return pba, true
}

// Set writes pba for lba; pba == Unmapped deletes. A delete of a key
// with no currently visible value is silently discarded rather than
// materializing a tombstone entry. Also drains any background results
// that are ready, without blocking.
func (m *Mapping) Set(lba, pba uint64) {
	if lba >= m.capacity {
		return
	}
	m.drainResults()
	if pba == Unmapped {
		if _, ok := m.Get(lba); !ok {
			return
		}
	}
	m.active.Set(lba, pba)
	if m.active.Len() >= m.cfg.WriteBufferCapacity {
		m.Flush()
	}
}

// Flush seals L0 into L0.5 if it is non-empty, dispatching a FlushTask
// immediately only if L0.5 was previously empty (otherwise the flusher
// picks it up when the preceding task's Done arrives). Non-blocking.
func (m *Mapping) Flush() {
	if m.active.Len() == 0 {
		return
	}
	wasEmpty := len(m.sealed) == 0
	sealed := m.active.Seal()
	m.active = wbuf.New()
	m.sealed = append(m.sealed, sealed)
	if wasEmpty {
		m.bg.Submit(sealed)
	}
}

// Sync seals L0 and blocks until L0.5 is fully drained.
func (m *Mapping) Sync() {
	m.Flush()
	for len(m.sealed) > 0 {
		res, ok := m.bg.NextResult()
		if !ok {
			return
		}
		m.applyResult(res)
	}
}

// drainResults applies every background result ready right now, without
// blocking on ones that aren't.
func (m *Mapping) drainResults() {
	for {
		res, ok := m.bg.TryNextResult()
		if !ok {
			return
		}
		m.applyResult(res)
	}
}

func (m *Mapping) applyResult(res flusher.Result) {
	if res.Done {
		m.sealed = m.sealed[1:]
		if len(m.sealed) > 0 {
			m.bg.Submit(m.sealed[0])
		}
		return
	}
	g := res.Group
	m.store.Apply(g.Group, g.Head, g.Chunks, g.Empty)
}

// Mem approximates the bytes the Mapping currently holds: L1's group
// blobs plus L0/L0.5's entry counts × 16 bytes (one LBA word plus one
// PBA word per entry). A rough walk, not an exactly-tracked running
// counter.
func (m *Mapping) Mem() int {
	total := m.store.Mem()
	total += m.active.Len() * 16
	for _, s := range m.sealed {
		total += s.Len() * 16
	}
	return total
}

// Close signals the background flusher to stop once it drains its
// current queue and waits for it to do so. Mapping must not be used
// afterward.
func (m *Mapping) Close() {
	m.bg.Close()
	for {
		if _, ok := m.bg.NextResult(); !ok {
			return
		}
	}
}
