// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pgm

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/js0-site/ftlmap/ftlerrors"
)

func TestDumpLoadRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	data := sortedUint64s(rng, 2000, 1<<40)
	idx := Build(data, 16)

	loaded, err := Load[uint64](idx.Dump())
	require.NoError(t, err)
	require.Equal(t, idx.Len(), loaded.Len())
	require.Equal(t, idx.Epsilon, loaded.Epsilon)
	require.Equal(t, idx.Segments, loaded.Segments)

	for _, key := range data {
		require.Equal(t, idx.Predict(key), loaded.Predict(key))
		s1, e1 := idx.PredictRange(key)
		s2, e2 := loaded.PredictRange(key)
		require.Equal(t, s1, s2)
		require.Equal(t, e1, e2)
	}
}

func TestDumpLoadSignedKeys(t *testing.T) {
	data := []int32{-500, -20, -3, 0, 7, 90, 4000}
	idx := Build(data, 2)

	loaded, err := Load[int32](idx.Dump())
	require.NoError(t, err)
	for i, key := range data {
		got := loaded.Find(key, func(j int) int32 { return data[j] })
		require.Equal(t, i, got)
	}
}

func TestDumpLoadEmptyIndex(t *testing.T) {
	idx := Build([]uint64(nil), 8)
	loaded, err := Load[uint64](idx.Dump())
	require.NoError(t, err)
	require.True(t, loaded.IsEmpty())
}

func TestLoadTooShort(t *testing.T) {
	idx := Build([]uint64{1, 2, 3}, 2)
	dump := idx.Dump()
	_, err := Load[uint64](dump[:len(dump)-5])
	require.Error(t, err)
	require.True(t, errors.Is(err, ftlerrors.E(ftlerrors.TooShort)))
}

func TestLoadTrailingBytes(t *testing.T) {
	idx := Build([]uint64{1, 2, 3}, 2)
	dump := append(idx.Dump(), 0xAB)
	_, err := Load[uint64](dump)
	require.Error(t, err)
	require.True(t, errors.Is(err, ftlerrors.E(ftlerrors.TrailingBytes)))
}

func TestLoadInvalidHeader(t *testing.T) {
	idx := Build([]uint64{1, 2, 3}, 2)
	dump := idx.Dump()
	dump[8] = 0 // epsilon below minimum
	dump[9] = 0
	dump[10] = 0
	dump[11] = 0
	_, err := Load[uint64](dump)
	require.Error(t, err)
	require.True(t, errors.Is(err, ftlerrors.E(ftlerrors.InvalidHeader)))
}
