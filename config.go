// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package ftlmap

// Config holds the engine's three tuning constants. They are plain
// overridable fields so tests can exercise small groups and buffers;
// production callers should start from DefaultConfig.
type Config struct {
	// GroupSize is the number of contiguous LBAs each L1 group owns.
	GroupSize int
	// WriteBufferCapacity is the number of entries L0 accepts before
	// Set triggers an automatic Flush.
	WriteBufferCapacity int
	// PGMEpsilon is the residual error bound (ε) the per-group PLA
	// fitter is allowed on either side of its predicted line.
	PGMEpsilon uint64
}

// DefaultConfig is the production tuning: 4096-LBA groups, a 4Mi-entry
// write buffer, and a segment-fit error bound of 512.
var DefaultConfig = Config{
	GroupSize:           4096,
	WriteBufferCapacity: 4 << 20,
	PGMEpsilon:          512,
}
