// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package overlap

import (
	"math"
	"sync/atomic"
)

// Fixed-point accumulation. Floating-point atomic addition is not
// associative, so cross-section sums are carried in 64-bit signed fixed
// point: identical inputs produce bitwise identical totals regardless of
// thread interleaving.

// ToFixed converts a float to fixed point.
func ToFixed(x float64) int64 {
	return int64(math.Round(x * FixedScale))
}

// FromFixed converts fixed point back to float.
func FromFixed(i int64) float64 {
	return float64(i) / FixedScale
}

// AddFixed accumulates x into slot i of a fixed-point buffer.
func AddFixed(buf []int64, i int, x float64) {
	atomic.AddInt64(&buf[i], ToFixed(x))
}
