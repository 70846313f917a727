// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package pgm implements a PGM-style learned index over a sorted slice
// of integer keys: a streaming shrinking-cone piecewise-linear fit
// produces a handful of (slope, intercept) segments that predict a
// key's position to within epsilon, and a uniformly spaced lookup table
// turns "which segment covers this key" into an O(1) array read instead
// of a binary search over segments.
//
// This is a general-purpose sibling of the group codec's own
// shrinking-cone fitter in plcodec: plcodec fits deltas against a
// synthetic x-axis (LBA offsets) to predict PBA values directly, while
// pgm fits an index over an arbitrary sorted key slice and answers
// "where would this key be" rather than "what value lives here".
package pgm

import (
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Key constrains the integer types an Index can be built over.
type Key interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// MinEpsilon is the smallest error bound Build accepts; smaller values
// are clamped up to it.
const MinEpsilon = 1

const (
	minLUTBins        = 1024
	maxLUTBins        = 1 << 20
	lutBinsMultiplier = 4
)

// Segment is a linear model y = slope*x + intercept valid over
// [StartIdx, EndIdx) of the original sorted slice, and over keys in
// [MinKey, MaxKey].
type Segment[K Key] struct {
	MinKey, MaxKey   K
	Slope, Intercept float64
	StartIdx, EndIdx int
}

// Index is a learned index over a sorted key slice. It holds no
// reference to the original data; callers pass it back in when
// resolving a prediction into an exact position (see Find).
type Index[K Key] struct {
	Epsilon  int
	Segments []Segment[K]

	lut    []uint32
	scale  float64
	minKey float64
	n      int
}

// Build fits an Index to sorted, which must already be non-decreasing.
// epsilon bounds how far Predict's answer can be from the true index;
// predictRange's width is proportional to it.
func Build[K Key](sorted []K, epsilon int) *Index[K] {
	if epsilon < MinEpsilon {
		epsilon = MinEpsilon
	}
	n := len(sorted)
	if n == 0 {
		return &Index[K]{Epsilon: epsilon, lut: []uint32{0}}
	}

	segments := buildSegments(sorted, epsilon)
	lut, scale, minKey := buildLUT(sorted, segments)

	return &Index[K]{
		Epsilon:  epsilon,
		Segments: segments,
		lut:      lut,
		scale:    scale,
		minKey:   minKey,
		n:        n,
	}
}

// Len returns the number of keys the index was built over.
func (idx *Index[K]) Len() int { return idx.n }

// IsEmpty reports whether the index covers zero keys.
func (idx *Index[K]) IsEmpty() bool { return idx.n == 0 }

// SegmentCount returns the number of linear segments in the index.
func (idx *Index[K]) SegmentCount() int { return len(idx.Segments) }

// AvgSegmentSize returns the mean number of keys covered per segment.
func (idx *Index[K]) AvgSegmentSize() float64 {
	if len(idx.Segments) == 0 {
		return 0
	}
	return float64(idx.n) / float64(len(idx.Segments))
}

// Predict returns the model's best-guess position for key, clamped to
// the covering segment's [StartIdx, EndIdx) range.
func (idx *Index[K]) Predict(key K) int {
	if len(idx.Segments) == 0 {
		return 0
	}
	seg := idx.findSeg(key)
	return predictInSeg(seg, asF64(key))
}

// PredictRange returns a half-open index range guaranteed (given a
// correctly bounded epsilon) to contain key if it is present: [start,
// end), clamped to the covering segment's own range.
func (idx *Index[K]) PredictRange(key K) (start, end int) {
	if len(idx.Segments) == 0 {
		return 0, 0
	}
	seg := idx.findSeg(key)
	pred := predictInSeg(seg, asF64(key))

	start = pred - idx.Epsilon
	if start < seg.StartIdx {
		start = seg.StartIdx
	}
	end = pred + idx.Epsilon + 1
	if end > seg.EndIdx {
		end = seg.EndIdx
	}
	return start, end
}

// Find resolves key to its exact index in the original sorted slice
// (the smallest index whose key is >= the target, i.e. a
// sort.Search-style partition point), using getKey to compare against
// candidate positions within the predicted range.
func (idx *Index[K]) Find(key K, getKey func(i int) K) int {
	start, end := idx.PredictRange(key)
	return start + sort.Search(end-start, func(i int) bool {
		return getKey(start+i) >= key
	})
}

func (idx *Index[K]) findSeg(key K) *Segment[K] {
	segs := idx.Segments
	if len(segs) <= 1 {
		return &segs[0]
	}

	y := asF64(key)
	candidate := (y - idx.minKey) * idx.scale
	lutMax := len(idx.lut) - 1

	var bin int
	switch {
	case candidate < 0:
		bin = 0
	case int(candidate) >= lutMax:
		bin = lutMax
	default:
		bin = int(candidate)
	}

	i := int(idx.lut[bin])
	for i+1 < len(segs) && key > segs[i].MaxKey {
		i++
	}
	for i > 0 && key < segs[i].MinKey {
		i--
	}
	return &segs[i]
}

func predictInSeg[K Key](seg *Segment[K], keyF64 float64) int {
	pos := seg.Slope*keyF64 + seg.Intercept + 0.5
	lo, hi := seg.StartIdx, seg.EndIdx-1
	p := int(pos)
	if p < lo {
		return lo
	}
	if p > hi {
		return hi
	}
	return p
}

func asF64[K Key](k K) float64 {
	return float64(k)
}

// buildSegments runs the streaming shrinking-cone fit: starting at each
// uncovered position, it grows a run for as long as some slope keeps
// every point's predicted index within epsilon of its true index,
// narrowing the admissible slope interval [minSlope, maxSlope] as each
// new point is admitted, and closes the segment the moment no slope in
// the interval can admit the next point.
func buildSegments[K Key](sorted []K, epsilon int) []Segment[K] {
	n := len(sorted)
	estimated := n / max(epsilon*2, 1)
	if estimated < 16 {
		estimated = 16
	}
	segments := make([]Segment[K], 0, estimated)

	eps := float64(epsilon)
	start := 0
	for start < n {
		firstKey := asF64(sorted[start])
		firstIdx := float64(start)

		minSlope := math.Inf(-1)
		maxSlope := math.Inf(1)

		end := start + 1
		for end < n {
			key := asF64(sorted[end])
			idx := float64(end)
			dx := key - firstKey

			if dx == 0 {
				if idx-firstIdx > float64(2*epsilon) {
					break
				}
				end++
				continue
			}

			slopeLo := (idx - firstIdx - eps) / dx
			slopeHi := (idx - firstIdx + eps) / dx

			newMin := math.Max(minSlope, slopeLo)
			newMax := math.Min(maxSlope, slopeHi)
			if newMin > newMax {
				break
			}
			minSlope, maxSlope = newMin, newMax
			end++
		}

		slope := 0.0
		if end != start+1 {
			slope = (minSlope + maxSlope) * 0.5
		}
		intercept := firstIdx - slope*firstKey

		segments = append(segments, Segment[K]{
			MinKey:    sorted[start],
			MaxKey:    sorted[end-1],
			Slope:     slope,
			Intercept: intercept,
			StartIdx:  start,
			EndIdx:    end,
		})

		start = end
	}

	return segments
}

// buildLUT builds a uniform bin lookup table over the key span so
// findSeg starts from a bin whose segment is at most a few steps away
// from the true one, instead of binary-searching every segment. Each
// bin's value is the first segment whose MaxKey reaches that bin's key,
// computed per-bin via binary search: no carried state between bins, so
// the work splits across goroutines with errgroup.
func buildLUT[K Key](sorted []K, segments []Segment[K]) (lut []uint32, scale, minKey float64) {
	if len(sorted) == 0 || len(segments) == 0 {
		return []uint32{0}, 0, 0
	}

	bins := clamp(len(segments)*lutBinsMultiplier, minLUTBins, maxLUTBins)

	minKey = asF64(sorted[0])
	maxKey := asF64(sorted[len(sorted)-1])
	span := maxKey - minKey
	if span < 1 {
		span = 1
	}
	scale = float64(bins) / span

	lut = make([]uint32, bins+1)

	const workers = 8
	chunk := (len(lut) + workers - 1) / workers
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if lo >= len(lut) {
			break
		}
		if hi > len(lut) {
			hi = len(lut)
		}
		g.Go(func() error {
			for b := lo; b < hi; b++ {
				keyAtBin := minKey + float64(b)/scale
				i := sort.Search(len(segments), func(i int) bool {
					return asF64(segments[i].MaxKey) >= keyAtBin
				})
				if i >= len(segments) {
					i = len(segments) - 1
				}
				lut[b] = uint32(i)
			}
			return nil
		})
	}
	_ = g.Wait() // the worker closures never return an error

	return lut, scale, minKey
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
