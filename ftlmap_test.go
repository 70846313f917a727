// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package ftlmap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig(groupSize int) Config {
	return Config{GroupSize: groupSize, WriteBufferCapacity: 1 << 20, PGMEpsilon: 8}
}

func TestSingleWriteRead(t *testing.T) {
	m := New(1024, testConfig(64))
	defer m.Close()
	m.Set(0, 100)
	m.Sync()

	v, ok := m.Get(0)
	require.True(t, ok)
	require.Equal(t, uint64(100), v)
	_, ok = m.Get(1)
	require.False(t, ok)
}

func TestOverwrite(t *testing.T) {
	m := New(1024, testConfig(64))
	defer m.Close()
	m.Set(0, 100)
	m.Set(0, 150)
	m.Sync()

	v, ok := m.Get(0)
	require.True(t, ok)
	require.Equal(t, uint64(150), v)
}

func TestLinearRunInOneGroup(t *testing.T) {
	m := New(32, testConfig(64))
	defer m.Close()
	for i := 0; i < 32; i++ {
		m.Set(uint64(i), uint64(10*i))
	}
	m.Sync()
	for i := 0; i < 32; i++ {
		v, ok := m.Get(uint64(i))
		require.True(t, ok)
		require.Equal(t, uint64(10*i), v)
	}
}

func TestDescendingRun(t *testing.T) {
	m := New(32, testConfig(64))
	defer m.Close()
	for i := 0; i < 32; i++ {
		m.Set(uint64(i), uint64(10000-10*i))
	}
	m.Sync()
	for i := 0; i < 32; i++ {
		v, ok := m.Get(uint64(i))
		require.True(t, ok)
		require.Equal(t, uint64(10000-10*i), v)
	}
}

func TestCrossGroupUpdate(t *testing.T) {
	m := New(512, testConfig(32))
	defer m.Close()
	for i := 0; i < 32; i++ {
		m.Set(uint64(i), uint64(i*1000))
	}
	for i := 32; i < 64; i++ {
		m.Set(uint64(i), uint64(i*2000))
	}
	m.Sync()
	m.Set(15, 999999)
	m.Sync()

	v, ok := m.Get(15)
	require.True(t, ok)
	require.Equal(t, uint64(999999), v)
	v, ok = m.Get(14)
	require.True(t, ok)
	require.Equal(t, uint64(14000), v)
	v, ok = m.Get(32)
	require.True(t, ok)
	require.Equal(t, uint64(64000), v)
}

func TestMaximumSpanPair(t *testing.T) {
	m := New(32, testConfig(64))
	defer m.Close()
	m.Set(0, 1)
	m.Set(1, ^uint64(0)-1)
	m.Sync()

	v, ok := m.Get(0)
	require.True(t, ok)
	require.Equal(t, uint64(1), v)
	v, ok = m.Get(1)
	require.True(t, ok)
	require.Equal(t, ^uint64(0)-1, v)
}

func TestDeleteOfAbsentKeyIsNoop(t *testing.T) {
	m := New(32, testConfig(64))
	defer m.Close()
	m.Set(5, Unmapped) // never written; must be a no-op
	m.Sync()
	_, ok := m.Get(5)
	require.False(t, ok)
}

func TestDeleteAfterWrite(t *testing.T) {
	m := New(32, testConfig(64))
	defer m.Close()
	m.Set(5, 42)
	m.Set(5, Unmapped)
	m.Sync()
	_, ok := m.Get(5)
	require.False(t, ok)
}

func TestGetBeforeSyncSeesPendingWrite(t *testing.T) {
	m := New(32, testConfig(64))
	defer m.Close()
	m.Set(5, 42) // still sitting in L0
	v, ok := m.Get(5)
	require.True(t, ok)
	require.Equal(t, uint64(42), v)
}

func TestOutOfRangeLBA(t *testing.T) {
	m := New(32, testConfig(64))
	defer m.Close()
	m.Set(1000, 1) // silently dropped
	_, ok := m.Get(1000)
	require.False(t, ok)
}

func TestRandomChurnAgainstShadowMap(t *testing.T) {
	const capacity = 64
	m := New(capacity, testConfig(16))
	defer m.Close()
	shadow := make(map[uint64]uint64)

	rng := rand.New(rand.NewSource(42))
	for n := 0; n < 200; n++ {
		lba := uint64(rng.Intn(capacity))
		var pba uint64
		if rng.Intn(5) == 0 {
			pba = Unmapped
		} else {
			pba = uint64(rng.Int63n(1 << 40))
		}
		m.Set(lba, pba)
		if pba == Unmapped {
			delete(shadow, lba)
		} else {
			shadow[lba] = pba
		}

		if rng.Intn(7) == 0 {
			m.Sync()
		}

		got, ok := m.Get(lba)
		want, wantOk := shadow[lba]
		require.Equal(t, wantOk, ok, "lba=%d iter=%d", lba, n)
		if wantOk {
			require.Equal(t, want, got, "lba=%d iter=%d", lba, n)
		}
	}

	m.Sync()
	for lba := uint64(0); lba < capacity; lba++ {
		want, wantOk := shadow[lba]
		got, ok := m.Get(lba)
		require.Equal(t, wantOk, ok, "final lba=%d", lba)
		if wantOk {
			require.Equal(t, want, got, "final lba=%d", lba)
		}
	}
}

func TestMemReflectsStoredData(t *testing.T) {
	m := New(4096, testConfig(64))
	defer m.Close()
	base := m.Mem()
	for i := 0; i < 64; i++ {
		m.Set(uint64(i), uint64(i))
	}
	require.Greater(t, m.Mem(), base, "Mem should grow once L0 holds pending writes")
	m.Sync()
	require.Greater(t, m.Mem(), base, "Mem should still reflect data once flushed into L1")
}

func TestAutoFlushOnWriteBufferCapacity(t *testing.T) {
	cfg := Config{GroupSize: 16, WriteBufferCapacity: 4, PGMEpsilon: 8}
	m := New(64, cfg)
	defer m.Close()
	for i := 0; i < 4; i++ {
		m.Set(uint64(i), uint64(i*10))
	}
	m.Sync()
	for i := 0; i < 4; i++ {
		v, ok := m.Get(uint64(i))
		require.True(t, ok)
		require.Equal(t, uint64(i*10), v)
	}
}
