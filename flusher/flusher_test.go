// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package flusher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/js0-site/ftlmap/group"
	"github.com/js0-site/ftlmap/plcodec"
	"github.com/js0-site/ftlmap/wbuf"
)

const testGroupSize = 64

func drainUntilDone(t *testing.T, f *Flusher, store *group.Store) {
	for {
		res, ok := f.NextResult()
		require.True(t, ok, "flusher closed before Done")
		if res.Done {
			return
		}
		require.NotNil(t, res.Group)
		store.Apply(res.Group.Group, res.Group.Head, res.Group.Chunks, res.Group.Empty)
	}
}

func TestSingleGroupFlush(t *testing.T) {
	store := group.NewStore(testGroupSize, testGroupSize)
	f := New(store, testGroupSize, 8)
	go f.Run()

	b := wbuf.New()
	b.Set(3, 777)
	b.Set(40, 888)
	f.Submit(b.Seal())

	drainUntilDone(t, f, store)
	f.Close()

	v, ok := store.Get(3)
	require.True(t, ok)
	require.Equal(t, uint64(777), v)
	v, ok = store.Get(40)
	require.True(t, ok)
	require.Equal(t, uint64(888), v)
}

func TestFlushCarvesMultipleGroups(t *testing.T) {
	store := group.NewStore(3*testGroupSize, testGroupSize)
	f := New(store, testGroupSize, 8)
	go f.Run()

	b := wbuf.New()
	b.Set(5, 1)
	b.Set(testGroupSize+5, 2)
	b.Set(2*testGroupSize+5, 3)
	f.Submit(b.Seal())

	drainUntilDone(t, f, store)
	f.Close()

	for i, want := range []uint64{1, 2, 3} {
		v, ok := store.Get(uint64(i*testGroupSize) + 5)
		require.True(t, ok)
		require.Equal(t, want, v)
	}
}

func TestFlushMergesIntoExistingGroup(t *testing.T) {
	store := group.NewStore(testGroupSize, testGroupSize)
	f := New(store, testGroupSize, 8)
	go f.Run()

	b1 := wbuf.New()
	for i := 0; i < testGroupSize; i++ {
		b1.Set(uint64(i), uint64(i)*1000)
	}
	f.Submit(b1.Seal())
	drainUntilDone(t, f, store)

	b2 := wbuf.New()
	b2.Set(15, 999999)
	f.Submit(b2.Seal())
	drainUntilDone(t, f, store)
	f.Close()

	v, ok := store.Get(15)
	require.True(t, ok)
	require.Equal(t, uint64(999999), v)

	v, ok = store.Get(14)
	require.True(t, ok)
	require.Equal(t, uint64(14000), v)
}

func TestTombstoneClearsEntry(t *testing.T) {
	store := group.NewStore(testGroupSize, testGroupSize)
	f := New(store, testGroupSize, 8)
	go f.Run()

	b1 := wbuf.New()
	b1.Set(1, 100)
	f.Submit(b1.Seal())
	drainUntilDone(t, f, store)

	b2 := wbuf.New()
	b2.Set(1, plcodec.Unmapped)
	f.Submit(b2.Seal())
	drainUntilDone(t, f, store)
	f.Close()

	_, ok := store.Get(1)
	require.False(t, ok)
}

func TestCloseThenRunExitsCleanly(t *testing.T) {
	store := group.NewStore(testGroupSize, testGroupSize)
	f := New(store, testGroupSize, 8)
	f.Close()
	f.Run() // must return promptly since the task queue is already closed and empty

	_, ok := f.NextResult()
	require.False(t, ok)
}
