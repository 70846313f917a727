// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package plcodec

import "math/big"

// fitResult describes one streaming shrinking-cone fit over a run of
// values: a linear model base + slope*i (slope fixed-point, scale 2^24)
// that predicts values[i] to within the residual width the caller packs
// separately, plus how many leading values (length) it covers.
type fitResult struct {
	base        uint64
	slope       int32
	length      int
	maxResidual uint64
}

// deletionSentinel marks a logical "hole" written by a trim/delete; a run
// boundary forms wherever values crosses between this value and anything
// else, so a segment never predicts across a delete.
const deletionSentinel = ^uint64(0)

// findLongestSegment grows a piecewise-linear fit from values[0] for as
// long as some slope keeps every admitted point's residual within
// [-epsilon, +epsilon], tracking the admissible slope interval as an
// exact rational cone (numerator/denominator pairs, compared by cross
// multiplication) instead of floating point so no admitted point is ever
// silently let through by rounding.
//
// A point that would close the cone is not necessarily rejected outright:
// an isolated outlier is tolerated mid-run if both the point after it and
// the point after that still fit the cone as it stood before the outlier,
// on the theory that a single bad sample shouldn't truncate an
// otherwise-long run. A run may skip any number of such outliers. Skipped positions are returned (as indices relative
// to values[0]) so the caller can store them as explicit outliers rather
// than stretching the model to cover them.
func findLongestSegment(values []uint64, epsilon uint64) (fitResult, []int) {
	n := len(values)
	if n == 0 {
		return fitResult{}, nil
	}
	if n == 1 {
		return fitResult{base: values[0], length: 1}, nil
	}

	firstVal := new(big.Int).SetUint64(values[0])
	eps := new(big.Int).SetUint64(epsilon)

	var minNum, minDen, maxNum, maxDen *big.Int
	bestLen := 1
	isMaxSegment := values[0] == deletionSentinel

	var outliers []int

	i := 1
	for i < n {
		val := values[i]
		if (val == deletionSentinel) != isMaxSegment {
			break
		}

		x := big.NewInt(int64(i))
		lowNum, highNum := boundsAt(firstVal, eps, val, i)

		newMinViolates := maxNum != nil && cmpFrac(lowNum, x, maxNum, maxDen) > 0
		newMaxViolates := minNum != nil && cmpFrac(highNum, x, minNum, minDen) < 0

		if !newMinViolates && !newMaxViolates {
			if minNum == nil || cmpFrac(lowNum, x, minNum, minDen) > 0 {
				minNum, minDen = lowNum, x
			}
			if maxNum == nil || cmpFrac(highNum, x, maxNum, maxDen) < 0 {
				maxNum, maxDen = highNum, x
			}
			bestLen = i + 1
			i++
			continue
		}

		if skip, ok := tryOutlierSkip(values, i, isMaxSegment, firstVal, eps, minNum, minDen, maxNum, maxDen); ok {
			outliers = append(outliers, skip)
			i++
			continue
		}
		break
	}

	slope := finalSlope(minNum, minDen, maxNum, maxDen, bestLen)
	base, maxResidual := residualSpan(values, bestLen, outliers, values[0], slope)

	return fitResult{base: base, slope: slope, length: bestLen, maxResidual: maxResidual}, outliers
}

// boundsAt returns the admissible-slope-numerator interval [low, high]
// (over denominator x, the position of val) that keeps val's residual
// against firstVal within +-eps.
func boundsAt(firstVal, eps *big.Int, val uint64, x int) (low, high *big.Int) {
	y := new(big.Int).SetUint64(val)
	d := new(big.Int).Sub(y, firstVal)
	low = new(big.Int).Sub(d, eps)
	high = new(big.Int).Add(d, eps)
	return low, high
}

// cmpFrac returns the sign of aNum/aDen - bNum/bDen, via cross
// multiplication; both denominators are always positive x-positions, so
// the comparison direction never flips.
func cmpFrac(aNum, aDen, bNum, bDen *big.Int) int {
	lhs := new(big.Int).Mul(aNum, bDen)
	rhs := new(big.Int).Mul(bNum, aDen)
	return lhs.Cmp(rhs)
}

// tryOutlierSkip decides whether position i can be dropped as an
// isolated outlier: the cone as it stood before i must still admit i+1,
// and, if present, i+2 must also fit that same (unwidened) cone. Both
// checks are against the cone from before i, matching the encoder
// leaving the cone untouched when a point is skipped.
func tryOutlierSkip(values []uint64, i int, isMaxSegment bool, firstVal, eps, minNum, minDen, maxNum, maxDen *big.Int) (int, bool) {
	n := len(values)
	if i+1 >= n {
		return 0, false
	}
	nextVal := values[i+1]
	if (nextVal == deletionSentinel) != isMaxSegment {
		return 0, false
	}
	nx := big.NewInt(int64(i + 1))
	nLow, nHigh := boundsAt(firstVal, eps, nextVal, i+1)
	if maxNum != nil && cmpFrac(nLow, nx, maxNum, maxDen) > 0 {
		return 0, false
	}
	if minNum != nil && cmpFrac(nHigh, nx, minNum, minDen) < 0 {
		return 0, false
	}

	if i+2 < n {
		next2Val := values[i+2]
		if (next2Val == deletionSentinel) != isMaxSegment {
			return 0, false
		}
		nx2 := big.NewInt(int64(i + 2))
		n2Low, n2High := boundsAt(firstVal, eps, next2Val, i+2)
		if maxNum != nil && cmpFrac(n2Low, nx2, maxNum, maxDen) > 0 {
			return 0, false
		}
		if minNum != nil && cmpFrac(n2High, nx2, minNum, minDen) < 0 {
			return 0, false
		}
	}
	return i, true
}

// slopeMax and slopeMin bound the slopes the 22-bit wire field can
// carry. The cone midpoint is clamped into this range before residuals
// are sized, so the residuals the encoder packs are always measured
// against the exact slope the decoder will reconstruct; a steeper run
// simply pays for the clamp in residual width (and falls back to Raw
// mode if that width stops being worth it).
const (
	slopeMax = 1<<21 - 1
	slopeMin = -(1 << 21)
)

// finalSlope collapses the admissible cone to a single fixed-point
// slope (scale 2^24) by averaging its two rational bounds, computed with
// exact integer division (big.Int.Quo truncates toward zero, matching
// Go's own integer division and the source's i128 arithmetic), then
// clamps the result to the wire-representable 22-bit range.
func finalSlope(minNum, minDen, maxNum, maxDen *big.Int, bestLen int) int32 {
	if bestLen <= 1 {
		return 0
	}
	scale := big.NewInt(1 << 24)
	sMin := new(big.Int).Mul(minNum, scale)
	sMin.Quo(sMin, minDen)
	sMax := new(big.Int).Mul(maxNum, scale)
	sMax.Quo(sMax, maxDen)
	avg := new(big.Int).Add(sMin, sMax)
	avg.Quo(avg, big.NewInt(2))

	if avg.Cmp(big.NewInt(slopeMax)) > 0 {
		return slopeMax
	}
	if avg.Cmp(big.NewInt(slopeMin)) < 0 {
		return slopeMin
	}
	return int32(avg.Int64())
}

// residualSpan replays the fit over its admitted points (skipping
// outliers) to find the tightest non-negative residual band: base is
// shifted so the minimum residual becomes exactly zero, so every stored
// residual ends up non-negative and bit-width sizing never has to
// account for a sign.
func residualSpan(values []uint64, length int, outliers []int, firstVal uint64, slope int32) (base uint64, maxResidual uint64) {
	var minDiff, maxDiff int64
	minDiff = 1<<63 - 1
	maxDiff = -(1 << 63)
	acc := int64(0)
	s64 := int64(slope)

	outIdx := 0
	for i := 0; i < length; i++ {
		if outIdx < len(outliers) && outliers[outIdx] == i {
			outIdx++
			acc += s64
			continue
		}
		pred := int64(firstVal) + (acc >> 24)
		diff := int64(values[i]) - pred
		if diff < minDiff {
			minDiff = diff
		}
		if diff > maxDiff {
			maxDiff = diff
		}
		acc += s64
	}

	if maxDiff >= minDiff {
		maxResidual = uint64(maxDiff - minDiff)
	}
	base = uint64(int64(firstVal) + minDiff)
	return base, maxResidual
}
