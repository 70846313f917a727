// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package plcodec

import "math/bits"

// zigzagEncode maps a signed residual to an unsigned value with small
// magnitudes (in either direction) mapping to small encodings.
func zigzagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

// zigzagDecode is zigzagEncode's inverse.
func zigzagDecode(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

// bitWidth returns the number of bits needed to hold v (0 for v == 0).
func bitWidth(v uint64) uint8 {
	return uint8(64 - bits.LeadingZeros64(v))
}
