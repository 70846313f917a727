// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package plcodec

import (
	"encoding/binary"
	"math/bits"

	"github.com/js0-site/ftlmap/bitio"
)

// directMaxCount is the largest group Encode will render in Direct mode;
// Head.Count has only 4 bits to spend on it.
const directMaxCount = 8

// directFits reports whether values can be rendered in Direct mode at
// all: the min-to-max spread must fit the Head's 6-bit delta width
// (≤ 63 bits) and the shared base its 3-bit byte length (≤ 7 bytes).
// Values outside either bound route to Mode C, whose Raw fallback
// stores full words.
func directFits(values []uint64) bool {
	minVal, maxVal := values[0], values[0]
	for _, v := range values[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return (maxVal-minVal)>>63 == 0 && minVal < 1<<56
}

// encodeDirect packs a small group as a shared base plus fixed-width
// deltas: no segment modeling, just enough bits to cover the spread
// between the group's smallest and largest value.
func encodeDirect(values []uint64) (Head, []byte) {
	n := len(values)
	var head Head
	head.setDirect(true)
	head.setCount(uint8(n))

	if n == 0 {
		return head, nil
	}

	minVal, maxVal := values[0], values[0]
	for _, v := range values[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	diff := maxVal - minVal

	var width uint8
	if diff != 0 {
		width = uint8(64 - bits.LeadingZeros64(diff))
	}

	var baseLen uint8
	if minVal != 0 {
		baseLen = uint8((64 - bits.LeadingZeros64(minVal) + 7) / 8)
	}

	head.setWidth(width)
	head.setBaseLen(baseLen)

	payload := make([]byte, 0, int(baseLen)+(n*int(width))/8+16)
	var baseBytes [8]byte
	binary.LittleEndian.PutUint64(baseBytes[:], minVal)
	payload = append(payload, baseBytes[:baseLen]...)

	if width > 0 {
		w := bitio.NewWriter()
		for _, v := range values {
			w.WriteBits(v-minVal, uint(width))
		}
		payload = append(payload, w.Finish()...)
	}

	return head, payload
}

// decodeDirectAt reconstructs the i-th value of a Direct-mode payload.
func decodeDirectAt(head Head, payload []byte, i int) uint64 {
	baseLen := int(head.BaseLen())
	var baseBytes [8]byte
	copy(baseBytes[:], payload[:baseLen])
	base := binary.LittleEndian.Uint64(baseBytes[:])

	width := head.Width()
	if width == 0 {
		return base
	}
	delta := bitio.ReadBits(payload[baseLen:], i*int(width), uint(width))
	return base + delta
}

// decodeDirectAll reconstructs every value of a Direct-mode payload into
// out, which must have length head.Count().
func decodeDirectAll(head Head, payload []byte, out []uint64) {
	baseLen := int(head.BaseLen())
	var baseBytes [8]byte
	copy(baseBytes[:], payload[:baseLen])
	base := binary.LittleEndian.Uint64(baseBytes[:])

	width := head.Width()
	residuals := payload[baseLen:]
	for i := range out {
		if width == 0 {
			out[i] = base
			continue
		}
		out[i] = base + bitio.ReadBits(residuals, i*int(width), uint(width))
	}
}
