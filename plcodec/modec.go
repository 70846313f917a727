// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package plcodec

import (
	"encoding/binary"
	"sort"

	"github.com/js0-site/ftlmap/bitio"
	"github.com/js0-site/ftlmap/ef"
)

// Unmapped is the sentinel value a group's logical slot holds when no
// set has ever reached it, or when the most recent write to it was a
// tombstone.
const Unmapped = ^uint64(0)

// shortSegmentThreshold is the minimum length a non-final PGM segment
// must reach to survive; shorter ones are demoted to outliers, since a
// 1-3 point "segment" costs more in its 12-byte descriptor and
// Elias-Fano entries than just storing its points as outliers.
const shortSegmentThreshold = 4

// segCountLimit and outlierCountLimit are the largest values
// groupHeader's 10-bit seg_count and 12-bit outlier_count fields can
// hold. A merged window that would overflow either falls back to Raw
// mode instead of encoding a header the decoder can't trust.
const (
	segCountLimit     = 1<<10 - 1
	outlierCountLimit = 1<<12 - 1
)

// Chunk is one contiguous piece of a group's new payload: either a byte
// range to copy out of the group's previous payload (Reuse) or a
// freshly produced byte slice (New). This lets the background flusher
// hand the foreground a plan that reuses unchanged PGM segment
// residuals instead of re-packing them.
type Chunk struct {
	Reuse  bool
	Offset int
	Len    int
	Bytes  []byte
}

// Assemble concatenates chunks into a payload, resolving Reuse ranges
// against old, and appends the 16 bytes of trailing zero padding every
// decode entry point requires.
func Assemble(old []byte, chunks []Chunk) []byte {
	size := 16
	for _, c := range chunks {
		if c.Reuse {
			size += c.Len
		} else {
			size += len(c.Bytes)
		}
	}
	out := make([]byte, 0, size)
	for _, c := range chunks {
		if c.Reuse {
			out = append(out, old[c.Offset:c.Offset+c.Len]...)
		} else {
			out = append(out, c.Bytes...)
		}
	}
	out = append(out, make([]byte, 16)...)
	return out
}

// EncodeGroup picks an encoding for a groupSize-wide window of PBAs
// (holes marked Unmapped) and returns the Head and chunk plan for its
// payload.
//
// oldHead/oldPayload describe the window's previous encoding (oldHead's
// zero value and a nil oldPayload mean "no previous encoding"); dirty
// marks the logical positions this call's merge touched, so a PGM
// segment whose underlying points are unchanged from oldPayload can be
// planned as a Reuse chunk instead of being refit and repacked.
// oldPayload must include its own trailing 16-byte pad, as returned by
// a prior Assemble.
//
// empty reports that values holds no mapped entries at all: a
// zero-valid window is always represented by an empty blob, never by a
// payload with a zero entry count, so callers must not store the
// returned head/chunks when empty is true.
func EncodeGroup(values []uint64, groupSize int, epsilon uint64, oldHead Head, oldPayload []byte, dirty []bool) (head Head, chunks []Chunk, empty bool) {
	validOffsets := make([]int, 0, 8)
	dense := make([]uint64, 0, 8)
	for i, v := range values {
		if v != Unmapped {
			validOffsets = append(validOffsets, i)
			dense = append(dense, v)
		}
	}
	nValid := len(dense)
	if nValid == 0 {
		return Head{}, nil, true
	}

	if nValid <= directMaxCount && isPrefix(validOffsets) && directFits(dense) {
		h, payload := encodeDirect(dense)
		return h, []Chunk{{Bytes: payload}}, false
	}

	return encodeModeC(dense, validOffsets, groupSize, epsilon, oldHead, oldPayload, dirty)
}

// isPrefix reports whether offsets is exactly {0, 1, ..., len(offsets)-1}.
func isPrefix(offsets []int) bool {
	for i, off := range offsets {
		if off != i {
			return false
		}
	}
	return true
}

// rawSeg is a PGM segment as produced by fitting, before it is packed
// into the wire seg struct. base is already masked to the 48 bits the
// wire seg can carry and slope already clamped to its 22-bit range, so
// predictDense here and seg.predict on the decode side compute the
// exact same (wrapping) value for every position.
type rawSeg struct {
	start, length int
	base          uint64
	slope         int32
	bitWidth      uint8
}

const segBaseMask = 1<<48 - 1

func (s rawSeg) predictDense(d int) uint64 {
	i := int64(d - s.start)
	return s.base + uint64((i*int64(s.slope))>>24)
}

// fitSegments carves dense into maximal shrinking-cone segments,
// returning them in order plus the dense-index positions the lookahead
// outlier-skip pulled out of whichever segment they land in.
//
// Residual widths are measured against the wire-masked base, not the
// fit's own: masking to 48 bits can shift a high-PBA segment's decoded
// prediction by a multiple of 2^48, and the packed residual has to
// supply exactly the (wrapping) difference the decoder will add back. A
// width of 64 can come out of that; the caller falls back to Raw mode
// in that case since the 6-bit width field stops at 63.
func fitSegments(dense []uint64, epsilon uint64) ([]rawSeg, []int) {
	var segs []rawSeg
	var outliers []int
	cursor := 0
	for cursor < len(dense) {
		fr, localOut := findLongestSegment(dense[cursor:], epsilon)
		length := fr.length
		if length <= 0 {
			length = 1
		}
		s := rawSeg{start: cursor, length: length, base: fr.base & segBaseMask, slope: fr.slope}
		var maxResid uint64
		outIdx := 0
		for i := 0; i < length; i++ {
			if outIdx < len(localOut) && localOut[outIdx] == i {
				outIdx++
				continue
			}
			if r := dense[cursor+i] - s.predictDense(cursor+i); r > maxResid {
				maxResid = r
			}
		}
		s.bitWidth = bitWidth(maxResid)
		segs = append(segs, s)
		for _, lo := range localOut {
			outliers = append(outliers, cursor+lo)
		}
		cursor += length
	}
	return segs, outliers
}

// demoteShortSegments removes every non-final segment shorter than
// shortSegmentThreshold, folding its points into outliers. Indices
// within a demoted segment's span are later resolved at decode time
// against whichever real segment precedes them (found via the
// segment-start Elias-Fano's Predecessor), exactly mirroring the
// encoder's own predictAt lookup.
func demoteShortSegments(segs []rawSeg, outliers []int) ([]rawSeg, []int) {
	kept := make([]rawSeg, 0, len(segs))
	for i, s := range segs {
		isLast := i == len(segs)-1
		if !isLast && s.length < shortSegmentThreshold {
			for d := s.start; d < s.start+s.length; d++ {
				outliers = append(outliers, d)
			}
			continue
		}
		kept = append(kept, s)
	}
	sort.Ints(outliers)
	return kept, outliers
}

// predictAt returns the linear prediction for dense index d against
// whichever segment in segs (sorted by start) most closely precedes it,
// or 0 if d falls before every segment's start (only possible if the
// very first segment was itself demoted).
func predictAt(segs []rawSeg, d int) uint64 {
	idx := sort.Search(len(segs), func(i int) bool { return segs[i].start > d }) - 1
	if idx < 0 {
		return 0
	}
	return segs[idx].predictDense(d)
}

// oldSegInfo is a PGM segment recovered from a group's previous
// payload, used only to decide whether a freshly fit segment can reuse
// its packed residual bytes. logicalStart is the group-local offset of
// the segment's first entry: dense indices shift whenever the valid set
// changes below a segment, so matching on (start, length) alone could
// pair a new segment with an old one covering different LBAs.
type oldSegInfo struct {
	start, length int
	logicalStart  int
	byteOffset    int
	byteLen       int
}

// parseOldSegments extracts reuse candidates from oldPayload, or nil if
// it wasn't encoded in PGM mode (direct, raw, and empty payloads offer
// nothing to reuse).
func parseOldSegments(oldHead Head, oldPayload []byte) []oldSegInfo {
	if oldHead.IsDirect() || len(oldPayload) == 0 {
		return nil
	}
	nValid := int(binary.LittleEndian.Uint16(oldPayload[:2]))
	if nValid == 0 {
		return nil
	}
	validView := ef.NewView(oldPayload[2:], nValid)
	headerOff := 2 + validView.ByteLen()
	if headerOff+groupHeaderSize > len(oldPayload) {
		return nil
	}
	gh := groupHeaderFromBytes(oldPayload[headerOff:])
	if gh.mode() != modePGM {
		return nil
	}
	outlierEFOff := headerOff + groupHeaderSize
	outlierView := ef.NewView(oldPayload[outlierEFOff:], int(gh.outlierCount()))
	segStartOff := outlierEFOff + outlierView.ByteLen()
	segCount := int(gh.segCount())
	segStartView := ef.NewView(oldPayload[segStartOff:], segCount)
	segTableOff := align2(segStartOff + segStartView.ByteLen())

	infos := make([]oldSegInfo, segCount)
	for i := 0; i < segCount; i++ {
		s := segFromBytes(oldPayload[segTableOff+i*segSize:])
		start := int(segStartView.Get(i))
		var end int
		if i+1 < segCount {
			end = int(segStartView.Get(i + 1))
		} else {
			end = nValid
		}
		byteLen := (int(end-start)*int(s.bitWidth()) + 7) / 8
		infos[i] = oldSegInfo{
			start:        start,
			length:       end - start,
			logicalStart: int(validView.Get(start)),
			byteOffset:   int(s.byteOffset()),
			byteLen:      byteLen,
		}
	}
	return infos
}

func align2(n int) int {
	if n%2 != 0 {
		return n + 1
	}
	return n
}

// segSpans returns each kept segment's residual-stream span: the dense
// distance to the next kept segment's start (or to nValid for the
// last). A span can exceed the segment's fit length when short segments
// between two kept ones were demoted to outliers; the stream still
// carries a slot for every spanned position so decode indexes it by
// (d - start) alone, and so the span is recoverable from consecutive
// starts when an old payload is parsed for reuse.
func segSpans(segs []rawSeg, nValid int) []int {
	spans := make([]int, len(segs))
	for i := range segs {
		if i+1 < len(segs) {
			spans[i] = segs[i+1].start - segs[i].start
		} else {
			spans[i] = nValid - segs[i].start
		}
	}
	return spans
}

// packSegmentResiduals bit-packs seg's residual stream: one bitWidth-bit
// slot per spanned position, written even for positions landing in
// outlierSet (as a zero filler), so decode can always index a non-
// outlier position directly by (d - seg.start) without separately
// tracking how many outliers preceded it.
func packSegmentResiduals(dense []uint64, seg rawSeg, span int, outlierSet map[int]bool) []byte {
	if seg.bitWidth == 0 {
		return nil
	}
	w := bitio.NewWriter()
	for i := 0; i < span; i++ {
		idx := seg.start + i
		var v uint64
		if !outlierSet[idx] {
			v = dense[idx] - seg.predictDense(idx)
		}
		w.WriteBits(v, uint(seg.bitWidth))
	}
	return w.FinishUnpadded()
}

func encodeModeC(dense []uint64, validOffsets []int, groupSize int, epsilon uint64, oldHead Head, oldPayload []byte, dirty []bool) (Head, []Chunk, bool) {
	nValid := len(dense)
	segs, outliers := fitSegments(dense, epsilon)
	segs, outliers = demoteShortSegments(segs, outliers)

	outlierSet := make(map[int]bool, len(outliers))
	for _, idx := range outliers {
		outlierSet[idx] = true
	}

	var outlierBW uint8
	outlierResid := make([]int64, len(outliers))
	for i, idx := range outliers {
		diff := int64(dense[idx]) - int64(predictAt(segs, idx))
		outlierResid[i] = diff
		if w := bitWidth(zigzagEncode(diff)); w > outlierBW {
			outlierBW = w
		}
	}

	var maxSegBW uint8
	for _, s := range segs {
		if s.bitWidth > maxSegBW {
			maxSegBW = s.bitWidth
		}
	}

	// Raw mode is forced whenever any header field would overflow its
	// wire width: segment or outlier counts past their 10/12 bits, or a
	// residual needing all 64 bits where the width fields stop at 63.
	forceRaw := len(segs) > segCountLimit || len(outliers) > outlierCountLimit ||
		maxSegBW > 63 || outlierBW > 63

	validU16 := make([]uint16, nValid)
	for i, off := range validOffsets {
		validU16[i] = uint16(off)
	}
	validEF := ef.Encode(validU16, groupSize)

	rawSize := nValid * 8
	if !forceRaw {
		outlierU16 := make([]uint16, len(outliers))
		for i, idx := range outliers {
			outlierU16[i] = uint16(idx)
		}
		segStartU16 := make([]uint16, len(segs))
		for i, s := range segs {
			segStartU16[i] = uint16(s.start)
		}
		outlierEF := ef.Encode(outlierU16, nValid)
		segStartEF := ef.Encode(segStartU16, nValid)

		headerOff := 2 + len(validEF)
		afterHeader := headerOff + groupHeaderSize
		outlierEFOff := afterHeader
		segStartOff := outlierEFOff + len(outlierEF)
		afterIdx := segStartOff + len(segStartEF)
		segTableOff := align2(afterIdx)
		padLen := segTableOff - afterIdx

		oldSegs := parseOldSegments(oldHead, oldPayload)
		spans := segSpans(segs, nValid)

		residOff := segTableOff + len(segs)*segSize
		segTable := make([]byte, 0, len(segs)*segSize)
		segChunks := make([]Chunk, 0, len(segs))
		for i, s := range segs {
			byteLen := (spans[i]*int(s.bitWidth) + 7) / 8
			wire := newSeg(s.base, s.slope, uint32(residOff), s.bitWidth)
			segTable = wire.appendTo(segTable)
			if reused, ok := findReuse(oldSegs, s, spans[i], validOffsets, dirty); ok {
				segChunks = append(segChunks, Chunk{Reuse: true, Offset: reused.byteOffset, Len: reused.byteLen})
			} else {
				segChunks = append(segChunks, Chunk{Bytes: packSegmentResiduals(dense, s, spans[i], outlierSet)})
			}
			residOff += byteLen
		}

		outlierBytes := packOutlierResiduals(outlierResid, outlierBW)
		pgmSize := residOff + len(outlierBytes)

		if pgmSize <= rawSize {
			header := make([]byte, 0, segTableOff)
			var u16buf [2]byte
			binary.LittleEndian.PutUint16(u16buf[:], uint16(nValid))
			header = append(header, u16buf[:]...)
			header = append(header, validEF...)
			gh := newGroupHeader(modePGM, uint16(len(segs)), uint16(len(outliers)), outlierBW)
			header = gh.appendTo(header)
			header = append(header, outlierEF...)
			header = append(header, segStartEF...)
			header = append(header, make([]byte, padLen)...)
			header = append(header, segTable...)

			chunks := make([]Chunk, 0, len(segChunks)+2)
			chunks = append(chunks, Chunk{Bytes: header})
			chunks = append(chunks, segChunks...)
			chunks = append(chunks, Chunk{Bytes: outlierBytes})

			var head Head
			head.setSegNum(uint16(len(segs)))
			return head, chunks, false
		}
	}

	// Raw fallback: store every dense value as a plain 64-bit word.
	header := make([]byte, 0, 2+len(validEF)+groupHeaderSize)
	var u16buf [2]byte
	binary.LittleEndian.PutUint16(u16buf[:], uint16(nValid))
	header = append(header, u16buf[:]...)
	header = append(header, validEF...)
	gh := newGroupHeader(modeRaw, 0, 0, 0)
	header = gh.appendTo(header)

	raw := make([]byte, 0, rawSize)
	var buf [8]byte
	for _, v := range dense {
		binary.LittleEndian.PutUint64(buf[:], v)
		raw = append(raw, buf[:]...)
	}

	var head Head
	return head, []Chunk{{Bytes: header}, {Bytes: raw}}, false
}

func packOutlierResiduals(diffs []int64, bw uint8) []byte {
	if bw == 0 || len(diffs) == 0 {
		return nil
	}
	w := bitio.NewWriter()
	for _, d := range diffs {
		w.WriteBits(zigzagEncode(d), uint(bw))
	}
	return w.FinishUnpadded()
}

// findReuse reports whether s's span exactly aligns with an old
// segment's span — same dense (start, length) and the same logical
// first offset, so a valid-set change below the segment can't pair it
// with bytes that covered different LBAs — and none of the logical
// positions it covers, nor the first valid position after it, were
// touched this round. The boundary check guards the fitter's two-point
// lookahead, which peeks past a segment's end and could have chosen a
// different outlier set there last time.
func findReuse(oldSegs []oldSegInfo, s rawSeg, span int, validOffsets []int, dirty []bool) (oldSegInfo, bool) {
	if dirty == nil {
		return oldSegInfo{}, false
	}
	for _, old := range oldSegs {
		if old.start != s.start || old.length != span {
			continue
		}
		if old.logicalStart != validOffsets[s.start] {
			return oldSegInfo{}, false
		}
		if old.byteLen != (span*int(s.bitWidth)+7)/8 {
			return oldSegInfo{}, false
		}
		for i := s.start; i < s.start+span; i++ {
			if dirty[validOffsets[i]] {
				return oldSegInfo{}, false
			}
		}
		if end := s.start + span; end < len(validOffsets) && dirty[validOffsets[end]] {
			return oldSegInfo{}, false
		}
		return old, true
	}
	return oldSegInfo{}, false
}

// DecodeAt returns the value stored at logical position sub of a
// groupSize-wide window encoded by EncodeGroup. payload must include
// its trailing 16-byte pad. An empty payload (the Mode A convention)
// and a sub past the direct-mode prefix or missing from the sparse
// index both decode to Unmapped.
func DecodeAt(head Head, payload []byte, groupSize, sub int) uint64 {
	if sub < 0 || sub >= groupSize {
		return Unmapped
	}
	if head.IsDirect() {
		if sub >= int(head.Count()) {
			return Unmapped
		}
		return decodeDirectAt(head, payload, sub)
	}
	if len(payload) == 0 {
		return Unmapped
	}
	nValid := int(binary.LittleEndian.Uint16(payload[:2]))
	if nValid == 0 {
		return Unmapped
	}
	validView := ef.NewView(payload[2:], nValid)
	idx, val, ok := validView.Predecessor(uint16(sub))
	if !ok || int(val) != sub {
		return Unmapped
	}
	d := idx

	headerOff := 2 + validView.ByteLen()
	gh := groupHeaderFromBytes(payload[headerOff:])
	afterHeader := headerOff + groupHeaderSize

	if gh.mode() == modeRaw {
		off := afterHeader + d*8
		return binary.LittleEndian.Uint64(payload[off:])
	}

	outlierView := ef.NewView(payload[afterHeader:], int(gh.outlierCount()))
	segStartOff := afterHeader + outlierView.ByteLen()
	segStartView := ef.NewView(payload[segStartOff:], int(gh.segCount()))
	segTableOff := align2(segStartOff + segStartView.ByteLen())

	if oidx, oval, ook := outlierView.Predecessor(uint16(d)); ook && int(oval) == d {
		pred := segPredecessorPredict(payload, segTableOff, segStartView, d)
		bitOff := outlierResidBitOffset(payload, segTableOff, segStartView, nValid)
		resid := bitio.ReadBits(payload, bitOff+oidx*int(gh.outlierBW()), uint(gh.outlierBW()))
		return pred + uint64(zigzagDecode(resid))
	}

	sIdx, sVal, sok := segStartView.Predecessor(uint16(d))
	if !sok {
		return Unmapped
	}
	s := segFromBytes(payload[segTableOff+sIdx*segSize:])
	rel := d - int(sVal)
	pred := s.predict(int64(rel))
	if s.bitWidth() == 0 {
		return pred
	}
	resid := bitio.ReadBits(payload, int(s.byteOffset())*8+rel*int(s.bitWidth()), uint(s.bitWidth()))
	return pred + resid
}

// segPredecessorPredict finds the segment preceding dense index d (or
// 0 if none) and returns its linear prediction for d, mirroring
// predictAt on the encode side.
func segPredecessorPredict(payload []byte, segTableOff int, segStartView ef.View, d int) uint64 {
	sIdx, sVal, sok := segStartView.Predecessor(uint16(d))
	if !sok {
		return 0
	}
	s := segFromBytes(payload[segTableOff+sIdx*segSize:])
	return s.predict(int64(d - int(sVal)))
}

// outlierResidBitOffset locates the bit offset where the outlier
// residual stream starts: right after the last segment's own packed
// residual bytes (segments are laid out in increasing byteOffset order
// matching increasing dense-start order, so the last entry in
// segStartView always has the highest byteOffset).
func outlierResidBitOffset(payload []byte, segTableOff int, segStartView ef.View, nValid int) int {
	segCount := segStartView.Len()
	if segCount == 0 {
		return segTableOff * 8
	}
	last := segCount - 1
	s := segFromBytes(payload[segTableOff+last*segSize:])
	start := int(segStartView.Get(last))
	length := nValid - start
	byteLen := (length*int(s.bitWidth()) + 7) / 8
	return (int(s.byteOffset()) + byteLen) * 8
}

// DecodeGroup reconstructs every value of a groupSize-wide window into
// out, which must have length groupSize.
func DecodeGroup(head Head, payload []byte, groupSize int, out []uint64) {
	for i := range out {
		out[i] = Unmapped
	}
	if head.IsDirect() {
		vals := make([]uint64, head.Count())
		decodeDirectAll(head, payload, vals)
		for i, v := range vals {
			out[i] = v
		}
		return
	}
	if len(payload) == 0 {
		return
	}
	nValid := int(binary.LittleEndian.Uint16(payload[:2]))
	if nValid == 0 {
		return
	}
	validView := ef.NewView(payload[2:], nValid)
	it := validView.Iter()
	for {
		off, ok := it.Next()
		if !ok {
			break
		}
		out[off] = DecodeAt(head, payload, groupSize, int(off))
	}
}
