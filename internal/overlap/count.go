// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package overlap

// CountOverlaps is the sizing pass: a one-shot CPU estimate of per-atom
// overlap counts used to seed tree capacity. It runs the same pair
// predicate as tree construction (enlarged radii, cutoff-aware) and
// counts, for each atom, the pair overlaps rooted at it. The numeric
// volumes are discarded; only the counts matter.
//
// Higher-order overlaps are not predicted here; the capacity boost
// applied by the layout covers them, and the regrow path corrects the
// estimate when it falls short.
func CountOverlaps(sys *System, pos []float64) []int {
	counts := make([]int, sys.N)
	gs := make([]Gaussian, sys.N)
	for i := 0; i < sys.N; i++ {
		gs[i] = sys.atomGaussianAt(i, pos, true)
	}
	for i := 0; i < sys.N; i++ {
		if gs[i].V <= 0 {
			continue
		}
		for j := i + 1; j < sys.N; j++ {
			if gs[j].V <= 0 {
				continue
			}
			dx, dy, dz := sys.Displacement(
				gs[i].Cx, gs[i].Cy, gs[i].Cz,
				gs[j].Cx, gs[j].Cy, gs[j].Cz)
			d2 := dx*dx + dy*dy + dz*dz
			if !sys.withinCutoff(d2) {
				continue
			}
			g, _, ok := ProductDisplaced(gs[i], gs[j], dx, dy, dz)
			if ok && g.V > VolMinA {
				counts[i]++
			}
		}
	}
	return counts
}
