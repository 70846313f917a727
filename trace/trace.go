// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package trace implements the 16-byte on-disk record format a trace
// replay harness uses to drive the mapping engine. The harness itself
// (statistics, CLI, file I/O) is out of scope; this package is only the
// wire format, since it is the external interface between the core and
// that (out-of-scope) collaborator.
package trace

import "encoding/binary"

// Op identifies the operation a Record carries.
type Op uint8

const (
	// Read is a get(lba) probe; the record's PBA field is meaningless.
	Read Op = iota
	// Write is a set(lba, pba); a write carrying the tombstone sentinel
	// is a delete (see IsDelete).
	Write
)

// opShift and pbaMask split meta's 64 bits: the high 4 bits hold the op
// code, the low 60 bits hold the PBA for writes.
const (
	opShift = 60
	pbaMask = 1<<opShift - 1
)

// tombstonePBA is the reserved sentinel meaning "unmapped/deleted",
// matching the core mapping engine's Unmapped value truncated to 60
// bits (the low 60 bits of ^uint64(0) are already all ones).
const tombstonePBA = pbaMask

// Size is the encoded byte length of one Record.
const Size = 16

// Record is one decoded trace entry.
type Record struct {
	LBA uint64
	PBA uint64 // valid only when Op() == Write
	op  Op
}

// NewRead returns a read Record for lba.
func NewRead(lba uint64) Record { return Record{LBA: lba, op: Read} }

// NewWrite returns a write Record setting lba to pba.
func NewWrite(lba, pba uint64) Record { return Record{LBA: lba, PBA: pba & pbaMask, op: Write} }

// NewDelete returns a write Record tombstoning lba.
func NewDelete(lba uint64) Record { return Record{LBA: lba, PBA: tombstonePBA, op: Write} }

// Op reports whether r is a read or a write (deletes decode as Write;
// callers distinguish a tombstone by comparing PBA to tombstonePBA).
func (r Record) Op() Op { return r.op }

// IsDelete reports whether r is a write carrying the tombstone sentinel.
func (r Record) IsDelete() bool { return r.op == Write && r.PBA == tombstonePBA }

// Encode appends r's 16-byte little-endian wire form to buf.
func Encode(buf []byte, r Record) []byte {
	var word [Size]byte
	binary.LittleEndian.PutUint64(word[0:8], r.LBA)
	meta := uint64(r.op&0xF) << opShift
	if r.op == Write {
		meta |= r.PBA & pbaMask
	}
	binary.LittleEndian.PutUint64(word[8:16], meta)
	return append(buf, word[:]...)
}

// Decode parses one Record from the first Size bytes of data.
//
// Op is recovered from meta's high 4 bits (0 = read, 1 = write); any
// other op nibble is treated as Write so a harness that tags deletes
// with a distinct nibble (as NewDelete's caller might) still
// round-trips its PBA.
func Decode(data []byte) Record {
	lba := binary.LittleEndian.Uint64(data[0:8])
	meta := binary.LittleEndian.Uint64(data[8:16])
	opNibble := Op(meta >> opShift)
	r := Record{LBA: lba}
	if opNibble == Read {
		r.op = Read
		return r
	}
	r.op = Write
	r.PBA = meta & pbaMask
	return r
}
