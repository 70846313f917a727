// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package blockcodec implements a block-local bit-packed compressor for
// sorted (or merely smooth) uint64 sequences: fixed-size 128-element
// blocks each get their own first/last-value line fit in 32.32
// fixed-point, zigzag-encoded residuals packed at a single per-block bit
// width chosen to minimize total cost, and a global exceptions vector
// with a per-element bitmap (popcount-ranked) for the few residuals that
// don't fit that width.
//
// Unlike plcodec's group segments, which chase an error bound with a
// variable number of variable-length segments, a Codec here always uses
// fixed 128-element blocks and never varies segment length: it optimizes
// purely for the per-block bit width, trading the adaptability of a
// shrinking-cone fit for O(1) block lookup by index.
package blockcodec

import (
	"encoding/binary"
	"math/bits"

	"github.com/js0-site/ftlmap/ftlerrors"
)

// BlockLen is the number of elements per block.
const BlockLen = 128

// DefaultExPenalty weights the per-bit cost of each exception relative
// to widening every residual's packed width by one bit.
const DefaultExPenalty = 2

const flagHasEx = 0x01

// blockMetaSize is the encoded size in bytes of one BlockMeta entry.
const blockMetaSize = 4 + 1 + 1 + 4 + 8 + 8

// BlockMeta is the per-block model and residual-stream descriptor.
type BlockMeta struct {
	BitOffset       uint32
	BitWidth        uint8
	Flags           uint8
	ExceptionOffset uint32
	SlopeFP         uint64 // Q32.32 fixed-point slope
	InterceptFP     int64  // Q32.32 fixed-point intercept
}

// Codec is a block-local bit-packed compressed view of a uint64
// sequence. The zero value represents an empty sequence.
type Codec struct {
	BlockMeta  []BlockMeta
	Residuals  []uint64
	Exceptions []uint64
	Bitmap     []uint64
	Len        int
}

// Conf tunes Build's bit-width/exception tradeoff.
type Conf struct {
	ExPenalty uint64
}

// DefaultConf returns the tuned default configuration.
func DefaultConf() Conf { return Conf{ExPenalty: DefaultExPenalty} }

// Build compresses data into fixed-size blocks, each fit with its own
// first/last-value line model and a per-block bit width chosen to
// minimize packed-residual-bits plus exception cost.
func Build(data []uint64) *Codec {
	return BuildWithConf(data, DefaultConf())
}

// BuildWithConf is Build with an explicit Conf.
func BuildWithConf(data []uint64, conf Conf) *Codec {
	n := len(data)
	if n == 0 {
		return &Codec{}
	}
	exPenalty := conf.ExPenalty

	blockCount := (n + BlockLen - 1) / BlockLen
	blockMeta := make([]BlockMeta, 0, blockCount)
	residualW := newWordWriter(n)
	bitmapW := newWordWriter(n/64 + 1)
	var exceptions []uint64
	diffBuffer := make([]uint64, 0, BlockLen)

	for bIdx := 0; bIdx < blockCount; bIdx++ {
		start := bIdx * BlockLen
		end := start + BlockLen
		if end > n {
			end = n
		}
		block := data[start:end]

		firstVal, lastVal := block[0], block[len(block)-1]
		startX, endX := float64(start), float64(end-1)

		slope := 0.0
		if end > start+1 {
			slope = (float64(lastVal) - float64(firstVal)) / (endX - startX)
		}
		intercept := float64(firstVal) - slope*startX

		slopeFP := uint64(slope * float64(uint64(1)<<32))
		interceptFP := int64(intercept * float64(uint64(1)<<32))

		diffBuffer = diffBuffer[:0]
		for localIdx, val := range block {
			pred := predictFixed(uint64(start+localIdx), slopeFP, interceptFP)
			diff := int64(val - pred)
			diffBuffer = append(diffBuffer, zigzagEncode(diff))
		}

		bitWidth := bestBitWidth(diffBuffer, exPenalty)
		var mask uint64
		if bitWidth >= 64 {
			mask = ^uint64(0)
		} else {
			mask = uint64(1)<<uint(bitWidth) - 1
		}

		exceptionOffset := uint32(len(exceptions))
		blockHasEx := false
		bitOffset := uint32(residualW.bitOffset())

		for _, code := range diffBuffer {
			if code <= mask {
				bitmapW.write(0, 1)
				if bitWidth > 0 {
					residualW.write(code, uint(bitWidth))
				}
			} else {
				bitmapW.write(1, 1)
				if bitWidth > 0 {
					residualW.write(0, uint(bitWidth))
				}
				exceptions = append(exceptions, code)
				blockHasEx = true
			}
		}

		flags := uint8(0)
		if blockHasEx {
			flags = flagHasEx
		}
		blockMeta = append(blockMeta, BlockMeta{
			BitOffset:       bitOffset,
			BitWidth:        uint8(bitWidth),
			Flags:           flags,
			ExceptionOffset: exceptionOffset,
			SlopeFP:         slopeFP,
			InterceptFP:     interceptFP,
		})
	}

	return &Codec{
		BlockMeta:  blockMeta,
		Residuals:  residualW.finish(),
		Exceptions: exceptions,
		Bitmap:     bitmapW.finish(),
		Len:        n,
	}
}

// bestBitWidth picks the per-block packed width minimizing
// n*w + (exceptions at width w)*64*exPenalty, the cost of widening by a
// bit against the cost of spilling a residual to the exceptions vector.
// Ties favor the smaller width, since the loop walks widths from 64
// down to 0 and keeps overwriting on "<=".
func bestBitWidth(diffBuffer []uint64, exPenalty uint64) int {
	var counts [65]int
	for _, d := range diffBuffer {
		w := 0
		if d != 0 {
			w = 64 - bits.LeadingZeros64(d)
		}
		counts[w]++
	}

	bestW := 0
	minCost := uint64(1<<63 - 1)
	var numEx uint64
	for w := 64; w >= 0; w-- {
		if w < 64 {
			numEx += uint64(counts[w+1])
		}
		cost := uint64(len(diffBuffer))*uint64(w) + numEx*64*exPenalty
		if cost <= minCost {
			minCost = cost
			bestW = w
		}
	}
	return bestW
}

// predictFixed evaluates the block's Q32.32 fixed-point line model at
// idx, returning the low 64 bits of the signed 128-bit result — the
// same truncation Get relies on to recover the wrapping-subtracted
// residual.
func predictFixed(idx, slopeFP uint64, interceptFP int64) uint64 {
	hi, lo := bits.Mul64(idx, slopeFP)
	var signExt uint64
	if interceptFP < 0 {
		signExt = ^uint64(0)
	}
	lo2, carry := bits.Add64(lo, uint64(interceptFP), 0)
	hi2, _ := bits.Add64(hi, signExt, carry)
	return (hi2 << 32) | (lo2 >> 32)
}

func zigzagEncode(diff int64) uint64 {
	return (uint64(diff) << 1) ^ uint64(diff>>63)
}

func zigzagDecode(code uint64) int64 {
	return int64(code>>1) ^ -int64(code&1)
}

// Get returns the value at index, or ok=false if index is out of range.
func (c *Codec) Get(index int) (val uint64, ok bool) {
	if index < 0 || index >= c.Len {
		return 0, false
	}
	return c.getUnchecked(index), true
}

func (c *Codec) getUnchecked(index int) uint64 {
	bIdx := index / BlockLen
	meta := &c.BlockMeta[bIdx]
	pred := predictFixed(uint64(index), meta.SlopeFP, meta.InterceptFP)

	if meta.Flags&flagHasEx == 0 {
		var code uint64
		if meta.BitWidth > 0 {
			code = readBits(c.Residuals, int(meta.BitOffset)+(index%BlockLen)*int(meta.BitWidth), uint(meta.BitWidth))
		}
		return pred + uint64(zigzagDecode(code))
	}
	return c.getExceptionCold(index, bIdx, meta, pred)
}

func (c *Codec) getExceptionCold(index, bIdx int, meta *BlockMeta, pred uint64) uint64 {
	bmIdx := index / 64
	bmBit := uint(index % 64)

	if (c.Bitmap[bmIdx]>>bmBit)&1 == 1 {
		startWord := (bIdx * BlockLen) / 64
		var rank int
		for i := startWord; i < bmIdx; i++ {
			rank += bits.OnesCount64(c.Bitmap[i])
		}
		rank += bits.OnesCount64(c.Bitmap[bmIdx] & (uint64(1)<<bmBit - 1))
		return pred + uint64(zigzagDecode(c.Exceptions[int(meta.ExceptionOffset)+rank]))
	}

	var code uint64
	if meta.BitWidth > 0 {
		code = readBits(c.Residuals, int(meta.BitOffset)+(index%BlockLen)*int(meta.BitWidth), uint(meta.BitWidth))
	}
	return pred + uint64(zigzagDecode(code))
}

// SizeInBytes estimates the in-memory footprint of the codec's backing
// slices.
func (c *Codec) SizeInBytes() int {
	return len(c.BlockMeta)*blockMetaSize + len(c.Residuals)*8 + len(c.Exceptions)*8 + len(c.Bitmap)*8
}

// Dump serializes the codec to a byte stream: an 8-byte length header
// followed by length-prefixed block-meta, residual, exception, and
// bitmap vectors, all little-endian.
func (c *Codec) Dump() []byte {
	out := make([]byte, 0, 8+c.SizeInBytes()+16)
	out = appendU64(out, uint64(c.Len))

	out = appendU32(out, uint32(len(c.BlockMeta)))
	for _, m := range c.BlockMeta {
		out = appendU32(out, m.BitOffset)
		out = append(out, m.BitWidth, m.Flags)
		out = appendU32(out, m.ExceptionOffset)
		out = appendU64(out, m.SlopeFP)
		out = appendU64(out, uint64(m.InterceptFP))
	}

	out = appendU64Vec(out, c.Residuals)
	out = appendU64Vec(out, c.Exceptions)
	out = appendU64Vec(out, c.Bitmap)
	return out
}

// Load deserializes a byte stream produced by Dump.
func Load(data []byte) (*Codec, error) {
	if len(data) < 8 {
		return nil, ftlerrors.E(ftlerrors.TooShort, "blockcodec: data too short for length header")
	}
	pos := 0
	length := int(binary.LittleEndian.Uint64(data[pos:]))
	pos += 8

	metaCount, err := readU32(data, &pos)
	if err != nil {
		return nil, err
	}
	blockMeta := make([]BlockMeta, 0, metaCount)
	for i := uint32(0); i < metaCount; i++ {
		if pos+blockMetaSize > len(data) {
			return nil, ftlerrors.E(ftlerrors.TooShort, "blockcodec: truncated block-meta entry")
		}
		m := BlockMeta{
			BitOffset:       binary.LittleEndian.Uint32(data[pos:]),
			BitWidth:        data[pos+4],
			Flags:           data[pos+5],
			ExceptionOffset: binary.LittleEndian.Uint32(data[pos+6:]),
			SlopeFP:         binary.LittleEndian.Uint64(data[pos+10:]),
			InterceptFP:     int64(binary.LittleEndian.Uint64(data[pos+18:])),
		}
		pos += blockMetaSize
		blockMeta = append(blockMeta, m)
	}

	residuals, err := readU64Vec(data, &pos)
	if err != nil {
		return nil, err
	}
	exceptions, err := readU64Vec(data, &pos)
	if err != nil {
		return nil, err
	}
	bitmap, err := readU64Vec(data, &pos)
	if err != nil {
		return nil, err
	}

	if pos != len(data) {
		return nil, ftlerrors.E(ftlerrors.TrailingBytes, "blockcodec: unconsumed trailing bytes")
	}

	return &Codec{
		BlockMeta:  blockMeta,
		Residuals:  residuals,
		Exceptions: exceptions,
		Bitmap:     bitmap,
		Len:        length,
	}, nil
}

func appendU32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

func appendU64Vec(b []byte, v []uint64) []byte {
	b = appendU32(b, uint32(len(v)))
	for _, x := range v {
		b = appendU64(b, x)
	}
	return b
}

func readU32(data []byte, pos *int) (uint32, error) {
	if *pos+4 > len(data) {
		return 0, ftlerrors.E(ftlerrors.TooShort, "blockcodec: truncated u32")
	}
	v := binary.LittleEndian.Uint32(data[*pos:])
	*pos += 4
	return v, nil
}

func readU64Vec(data []byte, pos *int) ([]uint64, error) {
	count, err := readU32(data, pos)
	if err != nil {
		return nil, err
	}
	byteLen := int(count) * 8
	if *pos+byteLen > len(data) {
		return nil, ftlerrors.E(ftlerrors.TooShort, "blockcodec: truncated u64 vector body")
	}
	out := make([]uint64, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(data[*pos:])
		*pos += 8
	}
	return out, nil
}

// wordWriter packs bits LSB-first into a []uint64, mirroring the
// reference residual/bitmap writer: each value's low `width` bits are
// OR'd into the current word, spilling into the next word on overflow.
type wordWriter struct {
	data          []uint64
	current       uint64
	bitsInCurrent uint
	totalBits     int
}

func newWordWriter(capacityBits int) *wordWriter {
	return &wordWriter{data: make([]uint64, 0, capacityBits/64+1)}
}

func (w *wordWriter) write(val uint64, width uint) {
	if width == 0 {
		return
	}
	if width < 64 {
		val &= uint64(1)<<width - 1
	}
	if w.bitsInCurrent+width <= 64 {
		w.current |= val << w.bitsInCurrent
		w.bitsInCurrent += width
		if w.bitsInCurrent == 64 {
			w.data = append(w.data, w.current)
			w.current, w.bitsInCurrent = 0, 0
		}
	} else {
		firstPart := 64 - w.bitsInCurrent
		w.current |= val << w.bitsInCurrent
		w.data = append(w.data, w.current)
		w.bitsInCurrent = width - firstPart
		w.current = val >> firstPart
	}
	w.totalBits += int(width)
}

func (w *wordWriter) bitOffset() int { return w.totalBits }

// finish flushes the partial trailing word and appends one zero word so
// readBits can always safely perform the two-word unaligned read path.
func (w *wordWriter) finish() []uint64 {
	if w.bitsInCurrent > 0 {
		w.data = append(w.data, w.current)
	}
	w.data = append(w.data, 0)
	return w.data
}

// readBits reads width bits (width <= 64) starting at bit startBit from
// a []uint64 produced by wordWriter.
func readBits(data []uint64, startBit int, width uint) uint64 {
	if width == 0 {
		return 0
	}
	wordIdx := startBit / 64
	bitIdx := uint(startBit % 64)

	if bitIdx+width <= 64 {
		word := data[wordIdx]
		return (word >> bitIdx) & (^uint64(0) >> (64 - width))
	}
	word1, word2 := data[wordIdx], data[wordIdx+1]
	bits1 := 64 - bitIdx
	lower := (word1 >> bitIdx) & (^uint64(0) >> (64 - bits1))
	bits2 := width - bits1
	upper := (word2 & (^uint64(0) >> (64 - bits2))) << bits1
	return lower | upper
}
