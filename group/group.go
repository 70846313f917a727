// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package group implements the L1 group store: a dense array of
// independent, owned byte blobs, one per GROUP_SIZE-wide window of
// LBAs, each decodable with plcodec.
package group

import (
	"github.com/klauspost/compress/zstd"

	"github.com/js0-site/ftlmap/internal/must"
	"github.com/js0-site/ftlmap/plcodec"
)

// zstdMinBlobSize is the smallest assembled blob Store will even try a
// secondary zstd pass over. Below it the per-call overhead of spinning
// up the encoder dwarfs anything a few dozen bytes could save; it's
// only the large Raw-mode fallback blobs that stand to gain.
const zstdMinBlobSize = 512

// sliceHeaderBytes approximates the three-word (ptr, len, cap) overhead
// of a Go slice header on a 64-bit platform, added per group in Mem's
// accounting.
const sliceHeaderBytes = 24

// entry is one group's storage: either empty (all unmapped), a plain
// decodable blob, or a blob additionally zstd-compressed at rest
// (decompressed back to its canonical form before every decode).
type entry struct {
	head       plcodec.Head
	blob       []byte
	compressed bool
}

// Store is the dense L1 array of groups. It is not internally
// synchronized: only the foreground thread mutates it, and the
// background flusher only reads
// a group's blob (via Blob) while processing a task that names that
// exact group, which the foreground guarantees never overlaps with a
// concurrent write to the same group.
type Store struct {
	groups    []entry
	groupSize int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

// NewStore allocates ⌈capacity / groupSize⌉ empty groups.
func NewStore(capacity uint64, groupSize int) *Store {
	n := int((capacity + uint64(groupSize) - 1) / uint64(groupSize))
	enc, err := zstd.NewWriter(nil)
	must.Nil(err)
	dec, err := zstd.NewReader(nil)
	must.Nil(err)
	return &Store{
		groups:    make([]entry, n),
		groupSize: groupSize,
		enc:       enc,
		dec:       dec,
	}
}

// Count returns the number of groups in the store.
func (s *Store) Count() int { return len(s.groups) }

// index splits lba into its group index and the logical offset within
// that group.
func (s *Store) index(lba uint64) (g int, sub int) {
	gs := uint64(s.groupSize)
	return int(lba / gs), int(lba % gs)
}

// Get returns the PBA stored at lba, if any group has ever had it
// written. lba ≥ capacity (no backing group) returns (0, false), the
// same as an unmapped slot.
func (s *Store) Get(lba uint64) (uint64, bool) {
	g, sub := s.index(lba)
	if g >= len(s.groups) {
		return 0, false
	}
	e := &s.groups[g]
	if len(e.blob) == 0 {
		return 0, false
	}
	blob := s.decompressed(e)
	v := plcodec.DecodeAt(e.head, blob, s.groupSize, sub)
	if v == plcodec.Unmapped {
		return 0, false
	}
	return v, true
}

// Blob returns group g's current canonical (uncompressed) payload,
// ready to pass to the flusher as process_group's "old payload" — nil
// (plus a zero Head) for an empty group.
func (s *Store) Blob(g int) (plcodec.Head, []byte) {
	e := &s.groups[g]
	if len(e.blob) == 0 {
		return plcodec.Head{}, nil
	}
	return e.head, s.decompressed(e)
}

func (s *Store) decompressed(e *entry) []byte {
	if !e.compressed {
		return e.blob
	}
	out, err := s.dec.DecodeAll(e.blob, nil)
	must.Nil(err)
	return out
}

// Apply installs a flush result for group g: head plus the chunk plan
// the flusher produced, resolved against g's previous blob via
// plcodec.Assemble. An empty chunk list with empty==true clears the
// group back to the empty/all-unmapped representation.
func (s *Store) Apply(g int, head plcodec.Head, chunks []plcodec.Chunk, empty bool) {
	if empty {
		s.groups[g] = entry{}
		return
	}
	_, old := s.Blob(g)
	blob := plcodec.Assemble(old, chunks)
	s.groups[g] = s.pack(head, blob)
}

// pack decides whether blob is worth a secondary zstd pass: only large
// blobs are tried, and the compressed form is kept only if it actually
// measurably shrinks things, mirroring the Raw-mode fallback's own
// "only take this path if it helps" framing.
func (s *Store) pack(head plcodec.Head, blob []byte) entry {
	if len(blob) < zstdMinBlobSize {
		return entry{head: head, blob: blob}
	}
	compressed := s.enc.EncodeAll(blob, nil)
	if len(compressed) >= len(blob) {
		return entry{head: head, blob: blob}
	}
	return entry{head: head, blob: compressed, compressed: true}
}

// Mem approximates the bytes the store currently holds: each group's
// stored blob length plus a per-group slice-header overhead. A rough
// diagnostic walk, not an exactly-tracked running counter.
func (s *Store) Mem() int {
	total := 0
	for i := range s.groups {
		total += len(s.groups[i].blob) + sliceHeaderBytes
	}
	return total
}
