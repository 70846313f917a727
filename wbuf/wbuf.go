// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package wbuf implements the L0 write buffer: an unordered LBA → PBA
// map exclusively mutated by the foreground thread, sealed by swap into
// read-only snapshots the background flusher consumes.
package wbuf

// Buffer is an unordered LBA → PBA map. A Buffer is never read
// concurrently with a Set; the copy-on-write protocol in Set exists so
// that a Sealed snapshot handed to the background flusher stays frozen
// even though the foreground keeps writing through the same *Buffer.
type Buffer struct {
	entries map[uint64]uint64
	// shared is set by Seal and cleared the next time Set has to copy
	// the map before mutating it. No mutex: this type has exactly one
	// mutator, and Sealed snapshots are read-only.
	shared bool
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{entries: make(map[uint64]uint64)}
}

// Len returns the number of entries currently buffered.
func (b *Buffer) Len() int { return len(b.entries) }

// Get returns the buffered PBA for lba, if any.
func (b *Buffer) Get(lba uint64) (uint64, bool) {
	pba, ok := b.entries[lba]
	return pba, ok
}

// Set records lba → pba, copying the underlying map first if it is
// still shared with a Sealed snapshot from a prior Seal call.
func (b *Buffer) Set(lba, pba uint64) {
	b.copyIfShared()
	b.entries[lba] = pba
}

func (b *Buffer) copyIfShared() {
	if !b.shared {
		return
	}
	cp := make(map[uint64]uint64, len(b.entries))
	for k, v := range b.entries {
		cp[k] = v
	}
	b.entries = cp
	b.shared = false
}

// Seal freezes b's current contents into a Sealed snapshot and marks b
// shared: any further Set on b copies the map first, so the snapshot
// the background flusher holds is never mutated underneath it. b keeps
// accepting writes after Seal; it is the caller's job (the Mapping's
// L0.5 queue) to start routing new writes to a fresh Buffer if it wants
// to bound a single buffer's lifetime to one flush task.
func (b *Buffer) Seal() *Sealed {
	b.shared = true
	return &Sealed{entries: b.entries}
}

// Sealed is a read-only snapshot of a Buffer's contents at the moment
// of Seal, safe to read concurrently with further mutation of the
// Buffer it came from.
type Sealed struct {
	entries map[uint64]uint64
}

// Len returns the number of entries the snapshot holds.
func (s *Sealed) Len() int { return len(s.entries) }

// Get returns the snapshot's PBA for lba, if any. Used by Mapping.Get to
// probe L0.5 buffers newest-to-oldest.
func (s *Sealed) Get(lba uint64) (uint64, bool) {
	pba, ok := s.entries[lba]
	return pba, ok
}

// Entries exposes the raw map for the background flusher's sort-and-
// carve pass; callers must not mutate the returned map.
func (s *Sealed) Entries() map[uint64]uint64 { return s.entries }
