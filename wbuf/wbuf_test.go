// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package wbuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetSet(t *testing.T) {
	b := New()
	_, ok := b.Get(1)
	require.False(t, ok)
	b.Set(1, 100)
	pba, ok := b.Get(1)
	require.True(t, ok)
	require.Equal(t, uint64(100), pba)
	require.Equal(t, 1, b.Len())
}

func TestOverwrite(t *testing.T) {
	b := New()
	b.Set(1, 100)
	b.Set(1, 200)
	pba, ok := b.Get(1)
	require.True(t, ok)
	require.Equal(t, uint64(200), pba)
	require.Equal(t, 1, b.Len())
}

func TestSealSnapshotsCurrentContents(t *testing.T) {
	b := New()
	b.Set(1, 100)
	b.Set(2, 200)
	sealed := b.Seal()
	require.Equal(t, 2, sealed.Len())
	v, ok := sealed.Get(1)
	require.True(t, ok)
	require.Equal(t, uint64(100), v)
}

func TestSetAfterSealDoesNotMutateSnapshot(t *testing.T) {
	b := New()
	b.Set(1, 100)
	sealed := b.Seal()

	b.Set(1, 999) // must copy-on-write, leaving sealed untouched
	b.Set(2, 2)

	v, ok := sealed.Get(1)
	require.True(t, ok)
	require.Equal(t, uint64(100), v, "sealed snapshot must be immutable after further Set calls")
	require.Equal(t, 1, sealed.Len())

	v, ok = b.Get(1)
	require.True(t, ok)
	require.Equal(t, uint64(999), v)
	require.Equal(t, 2, b.Len())
}

func TestEntriesExposesSnapshotMap(t *testing.T) {
	b := New()
	b.Set(5, 50)
	sealed := b.Seal()
	entries := sealed.Entries()
	require.Equal(t, map[uint64]uint64{5: 50}, entries)
}

func TestMultipleSealsEachFreezeTheirOwnSnapshot(t *testing.T) {
	b := New()
	b.Set(1, 1)
	first := b.Seal()

	b.Set(2, 2)
	second := b.Seal()

	b.Set(3, 3)

	require.Equal(t, 1, first.Len())
	require.Equal(t, 2, second.Len())
	require.Equal(t, 3, b.Len())
}
