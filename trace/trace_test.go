// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package trace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadRoundTrip(t *testing.T) {
	r := NewRead(12345)
	buf := Encode(nil, r)
	require.Len(t, buf, Size)
	got := Decode(buf)
	require.Equal(t, Read, got.Op())
	require.Equal(t, uint64(12345), got.LBA)
}

func TestWriteRoundTrip(t *testing.T) {
	r := NewWrite(9, 0xABCDEF)
	buf := Encode(nil, r)
	got := Decode(buf)
	require.Equal(t, Write, got.Op())
	require.Equal(t, uint64(9), got.LBA)
	require.Equal(t, uint64(0xABCDEF), got.PBA)
	require.False(t, got.IsDelete())
}

func TestDeleteRoundTrip(t *testing.T) {
	r := NewDelete(9)
	buf := Encode(nil, r)
	got := Decode(buf)
	require.True(t, got.IsDelete())
	require.Equal(t, uint64(9), got.LBA)
}

func TestEncodeAppendsToExistingBuffer(t *testing.T) {
	var buf []byte
	buf = Encode(buf, NewRead(1))
	buf = Encode(buf, NewWrite(2, 99))
	require.Len(t, buf, 2*Size)
	require.Equal(t, Read, Decode(buf[:Size]).Op())
	second := Decode(buf[Size:])
	require.Equal(t, Write, second.Op())
	require.Equal(t, uint64(2), second.LBA)
	require.Equal(t, uint64(99), second.PBA)
}

func TestPBAIsMaskedTo60Bits(t *testing.T) {
	r := NewWrite(0, ^uint64(0))
	buf := Encode(nil, r)
	got := Decode(buf)
	require.Equal(t, uint64(1<<60-1), got.PBA)
}
