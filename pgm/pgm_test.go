// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pgm

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func sortedUint64s(rng *rand.Rand, n int, maxKey uint64) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = uint64(rng.Int63n(int64(maxKey)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestPredictWithinEpsilon(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{0, 1, 2, 100, 5000} {
		for _, epsilon := range []int{1, 4, 64} {
			data := sortedUint64s(rng, n, 1<<40)
			idx := Build(data, epsilon)
			require.Equal(t, n, idx.Len())
			for i, key := range data {
				pred := idx.Predict(key)
				diff := pred - i
				if diff < 0 {
					diff = -diff
				}
				require.LessOrEqual(t, diff, epsilon, "n=%d eps=%d i=%d", n, epsilon, i)
			}
		}
	}
}

func TestPredictRangeContainsTrueIndex(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	data := sortedUint64s(rng, 3000, 1<<32)
	idx := Build(data, 8)
	for i, key := range data {
		start, end := idx.PredictRange(key)
		require.True(t, start <= i && i < end, "key=%d i=%d range=[%d,%d)", key, i, start, end)
	}
}

func TestFindExactMatch(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	data := sortedUint64s(rng, 2000, 1<<30)
	idx := Build(data, 16)
	getKey := func(i int) uint64 { return data[i] }
	for i, key := range data {
		// Skip duplicates: Find returns the leftmost match, which may
		// precede i when key repeats.
		got := idx.Find(key, getKey)
		require.Equal(t, key, data[got])
		require.LessOrEqual(t, got, i)
	}
}

func TestFindMissingKeyReturnsInsertionPoint(t *testing.T) {
	data := []uint64{10, 20, 30, 40, 50}
	idx := Build(data, 4)
	getKey := func(i int) uint64 { return data[i] }
	require.Equal(t, 0, idx.Find(5, getKey))
	require.Equal(t, 2, idx.Find(25, getKey))
	require.Equal(t, 5, idx.Find(1000, getKey))
}

func TestEmptyIndex(t *testing.T) {
	idx := Build[uint64](nil, 4)
	require.True(t, idx.IsEmpty())
	require.Equal(t, 0, idx.Predict(5))
	start, end := idx.PredictRange(5)
	require.Equal(t, 0, start)
	require.Equal(t, 0, end)
}

func TestSingleElement(t *testing.T) {
	idx := Build([]uint64{42}, 4)
	require.Equal(t, 1, idx.Len())
	require.Equal(t, 0, idx.Predict(42))
	require.Equal(t, 0, idx.Predict(0))
	require.Equal(t, 0, idx.Predict(1000))
}

func TestLinearRunUsesOneSegment(t *testing.T) {
	data := make([]uint64, 1000)
	for i := range data {
		data[i] = uint64(i) * 3
	}
	idx := Build(data, 2)
	require.Equal(t, 1, idx.SegmentCount())
	for i, key := range data {
		require.Equal(t, i, idx.Predict(key))
	}
}
