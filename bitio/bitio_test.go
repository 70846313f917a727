// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bitio

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	type entry struct {
		v     uint64
		width uint
	}
	var entries []entry
	w := NewWriter()
	bitIdx := 0
	offsets := []int{}
	for i := 0; i < 2000; i++ {
		width := uint(rng.Intn(65))
		v := rng.Uint64()
		entries = append(entries, entry{v, width})
		offsets = append(offsets, bitIdx)
		w.WriteBits(v, width)
		bitIdx += int(width)
	}
	data := w.Finish()

	for i, e := range entries {
		var mask uint64
		if e.width == 64 {
			mask = ^uint64(0)
		} else if e.width > 0 {
			mask = (uint64(1) << e.width) - 1
		}
		got := ReadBits(data, offsets[i], e.width)
		require.Equal(t, e.v&mask, got, "entry %d width %d", i, e.width)
	}
}

func TestWriteReadZeroWidth(t *testing.T) {
	w := NewWriter()
	w.WriteBits(123, 0)
	w.WriteBits(7, 3)
	data := w.Finish()
	require.EqualValues(t, 7, ReadBits(data, 0, 3))
}

func TestFinishPadding(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0x1F, 5)
	data := w.Finish()
	require.GreaterOrEqual(t, len(data), 17)
	for _, b := range data[len(data)-16:] {
		require.Zero(t, b)
	}
}
