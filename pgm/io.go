// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pgm

import (
	"encoding/binary"
	"math"

	"github.com/js0-site/ftlmap/ftlerrors"
)

// Dump serializes the index to a byte stream: key count and epsilon,
// then the segment table, the lookup table, and the bin-scale
// parameters, all little-endian. Keys are stored as their 64-bit two's
// complement bit patterns so every Key instantiation round-trips.
func (idx *Index[K]) Dump() []byte {
	out := make([]byte, 0, 8+4+4+len(idx.Segments)*48+4+len(idx.lut)*4+16)
	out = appendU64(out, uint64(idx.n))
	out = appendU32(out, uint32(idx.Epsilon))

	out = appendU32(out, uint32(len(idx.Segments)))
	for _, s := range idx.Segments {
		out = appendU64(out, uint64(s.MinKey))
		out = appendU64(out, uint64(s.MaxKey))
		out = appendU64(out, math.Float64bits(s.Slope))
		out = appendU64(out, math.Float64bits(s.Intercept))
		out = appendU64(out, uint64(s.StartIdx))
		out = appendU64(out, uint64(s.EndIdx))
	}

	out = appendU32(out, uint32(len(idx.lut)))
	for _, v := range idx.lut {
		out = appendU32(out, v)
	}
	out = appendU64(out, math.Float64bits(idx.scale))
	out = appendU64(out, math.Float64bits(idx.minKey))
	return out
}

// Load deserializes a byte stream produced by Dump. The type parameter
// must match the one the index was built with; the stream itself only
// carries bit patterns.
func Load[K Key](data []byte) (*Index[K], error) {
	pos := 0
	n, err := readU64(data, &pos)
	if err != nil {
		return nil, err
	}
	epsilon, err := readU32(data, &pos)
	if err != nil {
		return nil, err
	}
	if epsilon < MinEpsilon {
		return nil, ftlerrors.E(ftlerrors.InvalidHeader, "pgm: epsilon below minimum")
	}

	segCount, err := readU32(data, &pos)
	if err != nil {
		return nil, err
	}
	segments := make([]Segment[K], 0, segCount)
	for i := uint32(0); i < segCount; i++ {
		if pos+48 > len(data) {
			return nil, ftlerrors.E(ftlerrors.TooShort, "pgm: truncated segment entry")
		}
		minKey := binary.LittleEndian.Uint64(data[pos:])
		maxKey := binary.LittleEndian.Uint64(data[pos+8:])
		slope := math.Float64frombits(binary.LittleEndian.Uint64(data[pos+16:]))
		intercept := math.Float64frombits(binary.LittleEndian.Uint64(data[pos+24:]))
		startIdx := binary.LittleEndian.Uint64(data[pos+32:])
		endIdx := binary.LittleEndian.Uint64(data[pos+40:])
		pos += 48
		if startIdx >= endIdx || endIdx > n {
			return nil, ftlerrors.E(ftlerrors.InvalidHeader, "pgm: segment range outside key count")
		}
		segments = append(segments, Segment[K]{
			MinKey:    K(minKey),
			MaxKey:    K(maxKey),
			Slope:     slope,
			Intercept: intercept,
			StartIdx:  int(startIdx),
			EndIdx:    int(endIdx),
		})
	}

	lutCount, err := readU32(data, &pos)
	if err != nil {
		return nil, err
	}
	if lutCount == 0 {
		return nil, ftlerrors.E(ftlerrors.InvalidHeader, "pgm: empty lookup table")
	}
	lut := make([]uint32, lutCount)
	for i := range lut {
		v, err := readU32(data, &pos)
		if err != nil {
			return nil, err
		}
		if len(segments) > 0 && v >= uint32(len(segments)) {
			return nil, ftlerrors.E(ftlerrors.InvalidHeader, "pgm: lookup entry past segment table")
		}
		lut[i] = v
	}

	scaleBits, err := readU64(data, &pos)
	if err != nil {
		return nil, err
	}
	minKeyBits, err := readU64(data, &pos)
	if err != nil {
		return nil, err
	}

	if pos != len(data) {
		return nil, ftlerrors.E(ftlerrors.TrailingBytes, "pgm: unconsumed trailing bytes")
	}

	return &Index[K]{
		Epsilon:  int(epsilon),
		Segments: segments,
		lut:      lut,
		scale:    math.Float64frombits(scaleBits),
		minKey:   math.Float64frombits(minKeyBits),
		n:        int(n),
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

func readU32(data []byte, pos *int) (uint32, error) {
	if *pos+4 > len(data) {
		return 0, ftlerrors.E(ftlerrors.TooShort, "pgm: truncated u32")
	}
	v := binary.LittleEndian.Uint32(data[*pos:])
	*pos += 4
	return v, nil
}

func readU64(data []byte, pos *int) (uint64, error) {
	if *pos+8 > len(data) {
		return 0, ftlerrors.E(ftlerrors.TooShort, "pgm: truncated u64")
	}
	v := binary.LittleEndian.Uint64(data[*pos:])
	*pos += 8
	return v, nil
}
