// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package ef implements a skip-table-augmented Elias-Fano encoding of
// non-decreasing uint16 sequences: the position indexes of a Mode C group
// payload (its valid logical offsets, its outliers' dense positions and
// its segments' dense start positions). Alongside the classic upper/lower split
// it carries a sampled (bit position, high value) skip table so Get and
// Predecessor can jump near an index instead of rank-scanning from the
// front.
package ef

import (
	"encoding/binary"
	"math/bits"

	"github.com/js0-site/ftlmap/bitio"
)

// SkipInterval is the number of elements between consecutive skip-table
// samples.
const SkipInterval = 64

const skipEntrySize = 4 // 2-byte bit position + 2-byte high value, LE

// sentinel is returned by Get for an out-of-range index, mirroring the
// encoder's "no valid value here" marker.
const sentinel = 0xFFFF

// paramL returns the number of low bits stored per element: the largest l
// such that (1<<l)*n <= uBound, i.e. floor(log2(uBound/n)), computed by
// integer comparison instead of floating point. l is capped at 15 so it
// fits the header's 4-bit field.
func paramL(n, uBound int) uint {
	var l uint
	if uBound > n {
		for l < 15 && (uint64(1)<<(l+1))*uint64(n) <= uint64(uBound) {
			l++
		}
	}
	return l
}

// ByteLen returns the encoded size in bytes of an n-element sequence with
// the given universe bound, excluding the 16-byte trailing padding Encode
// appends. Callers use it to budget group layouts without re-encoding.
func ByteLen(n, uBound int) int {
	if n == 0 {
		return 1
	}
	l := paramL(n, uBound)
	size := 3
	upperValBound := uBound >> l
	upperLenBits := n + upperValBound + 1
	size += (upperLenBits + 7) / 8
	lowerLenBits := n * int(l)
	size += (lowerLenBits + 7) / 8
	skipCount := (n + SkipInterval - 1) / SkipInterval
	size += skipCount * skipEntrySize
	return size
}

// Encode packs a non-decreasing sequence of uint16 values into the
// skip-table Elias-Fano layout:
//
//	byte 0:     l (low nibble)
//	bytes 1-2:  length of the upper stream in bytes, little-endian
//	upper:      unary gap codes, one run of zero bits then a 1 per element,
//	            zero-padded to ceil((n + uBound>>l + 1)/8) bytes
//	lower:      n packed l-bit low parts
//	skip table: ceil(n/SkipInterval) entries of (bitPos u16, highVal u16)
//	16 bytes of zero padding, to satisfy bitio.ReadBits' load guarantee
//
// uBound is an upper bound on the values stored (the universe size); it
// need not be tight, but a tighter bound shrinks l and the upper stream.
func Encode(data []uint16, uBound int) []byte {
	n := len(data)
	if n == 0 {
		return []byte{0}
	}
	l := paramL(n, uBound)
	lowMask := uint64(1)<<l - 1

	skipCount := (n + SkipInterval - 1) / SkipInterval
	type skipEntry struct {
		bitPos  uint16
		highVal uint16
	}
	skipTable := make([]skipEntry, 0, skipCount)

	upperW := bitio.NewWriter()
	lowerW := bitio.NewWriter()

	upperBitPos := 0
	var prevH uint64
	for i, val := range data {
		if i%SkipInterval == 0 {
			skipTable = append(skipTable, skipEntry{uint16(upperBitPos), uint16(prevH)})
		}

		if l > 0 {
			lowerW.WriteBits(uint64(val)&lowMask, l)
		}

		h := uint64(val) >> l
		gap := h - prevH
		for gap > 0 {
			chunk := gap
			if chunk > 64 {
				chunk = 64
			}
			upperW.WriteBits(0, uint(chunk))
			gap -= chunk
			upperBitPos += int(chunk)
		}
		upperW.WriteBits(1, 1)
		upperBitPos++
		prevH = h
	}

	upperBytes := upperW.FinishUnpadded()
	// Zero-extend the upper stream to the size ByteLen budgets for, so the
	// encoded length depends only on (n, uBound).
	if want := (n + (uBound >> l) + 1 + 7) / 8; len(upperBytes) < want {
		upperBytes = append(upperBytes, make([]byte, want-len(upperBytes))...)
	}
	lowerBytes := lowerW.FinishUnpadded()

	out := make([]byte, 0, 3+len(upperBytes)+len(lowerBytes)+len(skipTable)*skipEntrySize+16)
	out = append(out, byte(l&0x0F))
	var u16buf [2]byte
	binary.LittleEndian.PutUint16(u16buf[:], uint16(len(upperBytes)))
	out = append(out, u16buf[:]...)
	out = append(out, upperBytes...)
	out = append(out, lowerBytes...)
	for _, e := range skipTable {
		binary.LittleEndian.PutUint16(u16buf[:], e.bitPos)
		out = append(out, u16buf[:]...)
		binary.LittleEndian.PutUint16(u16buf[:], e.highVal)
		out = append(out, u16buf[:]...)
	}
	out = append(out, make([]byte, 16)...)
	return out
}

// View reads a buffer produced by Encode. The element count n is carried
// alongside the blob by the caller (the group header), not inside it.
type View struct {
	data []byte
	n    int
	l    uint

	upperOffset  int
	upperLenBits int
	lowerOffset  int
	skipOffset   int
	skipCount    int
}

// NewView constructs a View over data holding n encoded elements. It
// returns the zero-length view if data is too short to hold a valid
// layout for n elements.
func NewView(data []byte, n int) View {
	if n == 0 || len(data) < 3 {
		return View{data: data}
	}
	l := uint(data[0] & 0x0F)
	upperLenBytes := int(binary.LittleEndian.Uint16(data[1:3]))
	upperOffset := 3
	lowerOffset := upperOffset + upperLenBytes
	lowerLenBytes := (n*int(l) + 7) / 8
	skipOffset := lowerOffset + lowerLenBytes
	skipCount := (n + SkipInterval - 1) / SkipInterval

	if skipOffset+skipCount*skipEntrySize > len(data) {
		return View{data: data}
	}

	return View{
		data:         data,
		n:            n,
		l:            l,
		upperOffset:  upperOffset,
		upperLenBits: upperLenBytes * 8,
		lowerOffset:  lowerOffset,
		skipOffset:   skipOffset,
		skipCount:    skipCount,
	}
}

// Len returns the number of elements in the view.
func (v View) Len() int { return v.n }

// IsEmpty reports whether the view holds no elements.
func (v View) IsEmpty() bool { return v.n == 0 }

// ByteLen returns the number of bytes of data this view actually
// occupies (including Encode's trailing padding), letting a caller that
// concatenated several Encode outputs back to back find where the next
// one starts without re-deriving it from a universe-bound formula.
func (v View) ByteLen() int {
	if v.n == 0 {
		return 1
	}
	return v.skipOffset + v.skipCount*skipEntrySize + 16
}

func (v View) skipAt(idx int) (bitPos int, highVal uint16) {
	off := v.skipOffset + idx*skipEntrySize
	return int(binary.LittleEndian.Uint16(v.data[off:])), binary.LittleEndian.Uint16(v.data[off+2:])
}

// loadWordSafe reads a little-endian uint64 starting at byteIdx, zero-
// filling past the end of data. Encode's 16-byte trailing pad makes the
// fast path (a direct 8-byte load) the common case.
func loadWordSafe(data []byte, byteIdx int) uint64 {
	if byteIdx >= len(data) {
		return 0
	}
	if byteIdx+8 <= len(data) {
		return binary.LittleEndian.Uint64(data[byteIdx:])
	}
	var buf [8]byte
	copy(buf[:], data[byteIdx:])
	return binary.LittleEndian.Uint64(buf[:])
}

// selectBit returns the bit position of the (needed+1)-th set bit in w
// (0-indexed), by repeatedly clearing the lowest set bit.
func selectBit(w uint64, needed int) int {
	for ; needed > 0; needed-- {
		w &= w - 1
	}
	return bits.TrailingZeros64(w)
}

func (v View) decodeVal(upperBitPos, index int) uint16 {
	hVal := uint64(upperBitPos - index)
	var lower uint64
	if v.l > 0 {
		lower = bitio.ReadBits(v.data, v.lowerOffset*8+index*int(v.l), v.l)
	}
	return uint16((hVal << v.l) | lower)
}

// Get returns the value at the given index, or the sentinel 0xFFFF if
// index is out of range.
func (v View) Get(index int) uint16 {
	if index >= v.n {
		return sentinel
	}

	skipIdx := index / SkipInterval
	startBitPos := 0
	if skipIdx > 0 {
		startBitPos, _ = v.skipAt(skipIdx)
	}
	startRank := skipIdx * SkipInterval
	targetRank := index

	skippedOnes := startRank
	globalBitPos := startBitPos
	byteIdx := v.upperOffset + globalBitPos/8
	bitOffset := globalBitPos % 8

	if bitOffset != 0 {
		masked := uint64(v.data[byteIdx]) >> uint(bitOffset)
		onesInPartial := bits.OnesCount64(masked)
		if skippedOnes+onesInPartial > targetRank {
			globalBitPos += selectBit(masked, targetRank-skippedOnes)
			return v.decodeVal(globalBitPos, index)
		}
		skippedOnes += onesInPartial
		globalBitPos += 8 - bitOffset
		byteIdx++
	}

	for skippedOnes <= targetRank {
		word := loadWordSafe(v.data, byteIdx)
		onesInWord := bits.OnesCount64(word)
		if skippedOnes+onesInWord > targetRank {
			globalBitPos += selectBit(word, targetRank-skippedOnes)
			break
		}
		skippedOnes += onesInWord
		globalBitPos += 64
		byteIdx += 8
	}
	return v.decodeVal(globalBitPos, index)
}

// Predecessor returns the index and value of the rightmost element <=
// target, and ok=false if every element exceeds target (or the view is
// empty).
func (v View) Predecessor(target uint16) (idx int, val uint16, ok bool) {
	if v.n == 0 {
		return 0, 0, false
	}

	l := v.l
	targetH := uint64(target) >> l

	lo, hi := 0, v.skipCount
	for lo < hi {
		mid := lo + (hi-lo)/2
		_, highVal := v.skipAt(mid)
		if uint64(highVal) <= targetH {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	skipIdx := 0
	if lo > 0 {
		skipIdx = lo - 1
	}

	startBitPos := 0
	var startHigh uint16
	if skipIdx > 0 {
		startBitPos, startHigh = v.skipAt(skipIdx)
	}
	currHigh := uint64(startHigh)
	idx = skipIdx * SkipInterval

	if currHigh > targetH {
		return v.scanBackwards(idx, target)
	}

	globalBitPos := startBitPos
	byteIdx := v.upperOffset + globalBitPos/8
	bitOffset := globalBitPos % 8

	bestIdx := idx
	var bestVal uint16
	found := false

	wordCache := loadWordSafe(v.data, byteIdx) >> uint(bitOffset)
	bitsInCache := 64 - bitOffset
	byteIdx += 8

	for idx < v.n {
		for {
			zeros := bits.TrailingZeros64(wordCache)
			if zeros < bitsInCache {
				currHigh += uint64(zeros)
				if currHigh > targetH {
					if idx == skipIdx*SkipInterval {
						return v.scanBackwards(idx, target)
					}
					return bestIdx, bestVal, found
				}

				var lower uint64
				if l > 0 {
					lower = bitio.ReadBits(v.data, v.lowerOffset*8+idx*int(l), l)
				}
				candidate := uint16((currHigh << l) | lower)
				if candidate > target {
					if idx == skipIdx*SkipInterval {
						return v.scanBackwards(idx, target)
					}
					return bestIdx, bestVal, found
				}
				bestIdx, bestVal, found = idx, candidate, true

				consumed := zeros + 1
				if consumed >= 64 {
					wordCache, bitsInCache = 0, 0
				} else {
					wordCache >>= uint(consumed)
					bitsInCache -= consumed
				}
				break
			}
			currHigh += uint64(bitsInCache)
			if byteIdx < len(v.data)+8 {
				wordCache = loadWordSafe(v.data, byteIdx)
				bitsInCache = 64
				byteIdx += 8
			} else {
				break
			}
		}
		idx++
	}
	return bestIdx, bestVal, found
}

// scanBackwards is the fallback path when the skip block located by the
// binary search starts past target: it walks element-by-element from
// limitCount backward to the first value <= target. It is also the
// fallback when a forward scan fails on the very first element of its
// block, since that means the true predecessor lies in an earlier block
// the skip search never visited.
func (v View) scanBackwards(limitCount int, target uint16) (int, uint16, bool) {
	idx := limitCount
	for idx > 0 {
		idx--
		val := v.Get(idx)
		if val <= target {
			return idx, val, true
		}
	}
	return 0, 0, false
}

// Iter walks the sequence in order, amortizing the unary decode over
// whole-word reads the way Get's single-index lookup cannot.
type Iter struct {
	v        View
	idx      int
	currHigh uint64

	upperBitPos int
	wordCache   uint64
	cacheBits   int
}

// Iter returns an iterator positioned before the first element.
func (v View) Iter() *Iter {
	return &Iter{v: v}
}

// Next returns the next value in the sequence, or ok=false once
// exhausted.
func (it *Iter) Next() (val uint16, ok bool) {
	if it.idx >= it.v.n {
		return 0, false
	}
	for {
		if it.cacheBits == 0 && !it.refill() {
			return 0, false
		}
		zeros := bits.TrailingZeros64(it.wordCache)
		if zeros < it.cacheBits {
			it.currHigh += uint64(zeros)
			consumed := zeros + 1
			if consumed >= 64 {
				it.wordCache, it.cacheBits = 0, 0
			} else {
				it.wordCache >>= uint(consumed)
				it.cacheBits -= consumed
			}
			it.upperBitPos += consumed
			break
		}
		it.currHigh += uint64(it.cacheBits)
		it.upperBitPos += it.cacheBits
		it.cacheBits = 0
	}

	l := it.v.l
	var lower uint64
	if l > 0 {
		lower = bitio.ReadBits(it.v.data, it.v.lowerOffset*8+it.idx*int(l), l)
	}
	val = uint16((it.currHigh << l) | lower)
	it.idx++
	return val, true
}

func (it *Iter) refill() bool {
	if it.upperBitPos >= it.v.upperLenBits {
		return false
	}
	byteIdx := it.v.upperOffset + it.upperBitPos/8
	bitOffset := it.upperBitPos % 8
	it.wordCache = loadWordSafe(it.v.data, byteIdx) >> uint(bitOffset)
	it.cacheBits = 64 - bitOffset
	return true
}
