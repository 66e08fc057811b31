// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package overlap implements the Gaussian overlap model and the CPU
// pipeline that builds and reduces the overlap tree.
package overlap

import "math"

// Gaussian is one spherical Gaussian: integral V, exponent A, center C.
// An atom of radius r maps to V = 4πr³/3, A = KFC/r². Products of atom
// Gaussians are again Gaussians, which is what makes the overlap tree
// closed under intersection.
type Gaussian struct {
	V, A       float64
	Cx, Cy, Cz float64
}

// AtomGaussian builds the Gaussian of an atom at the origin of its center.
// Hydrogens contribute no volume term.
func AtomGaussian(radius float64, hydrogen bool) Gaussian {
	v := 4.0 * math.Pi / 3.0 * radius * radius * radius
	if hydrogen {
		v = 0
	}
	return Gaussian{V: v, A: KFC / (radius * radius)}
}

// PairDeriv carries the position derivatives of one Gaussian product:
// GradX/Y/Z is ∂V/∂c₂ (the derivative with respect to the second, "last
// atom" center) and DVdV is ∂V/∂v₁ = V/v₁, the sensitivity to the first
// factor's volume. Both are consumed by the adjoint sweep of the
// reduction pipeline.
type PairDeriv struct {
	GradX, GradY, GradZ float64
	DVdV                float64
}

// Product intersects two Gaussians. The returned Gaussian holds the
// product center, combined exponent, and overlap volume; ok is false when
// the overlap volume is below MinGVol and the product should be treated
// as empty.
func Product(g1, g2 Gaussian) (g Gaussian, d PairDeriv, ok bool) {
	dx := g2.Cx - g1.Cx
	dy := g2.Cy - g1.Cy
	dz := g2.Cz - g1.Cz
	return productD2(g1, g2, dx, dy, dz, dx*dx+dy*dy+dz*dz)
}

// ProductDisplaced is Product with an explicit displacement from g1's
// center to g2's center, used for minimum-image arithmetic where the
// stored centers may be in different periodic images.
func ProductDisplaced(g1, g2 Gaussian, dx, dy, dz float64) (Gaussian, PairDeriv, bool) {
	return productD2(g1, g2, dx, dy, dz, dx*dx+dy*dy+dz*dz)
}

func productD2(g1, g2 Gaussian, dx, dy, dz, d2 float64) (Gaussian, PairDeriv, bool) {
	a12 := g1.A + g2.A
	df := g1.A * g2.A / a12
	ef := math.Exp(-df * d2)
	dfp := df / math.Pi
	gvol := g1.V * g2.V * dfp * math.Sqrt(dfp) * ef
	if gvol < MinGVol || g1.V <= 0 || g2.V <= 0 {
		return Gaussian{}, PairDeriv{}, false
	}

	// Product center is the exponent-weighted average, expressed relative
	// to g1's stored center so that periodic displacements stay coherent.
	w2 := g2.A / a12
	g := Gaussian{
		V:  gvol,
		A:  a12,
		Cx: g1.Cx + w2*dx,
		Cy: g1.Cy + w2*dy,
		Cz: g1.Cz + w2*dz,
	}

	// ∂gvol/∂c₂ = 2·df·(c₁−c₂)·gvol; ∂gvol/∂v₁ = gvol/v₁.
	k := -2.0 * df * gvol
	d := PairDeriv{
		GradX: k * dx,
		GradY: k * dy,
		GradZ: k * dz,
		DVdV:  gvol / g1.V,
	}
	return g, d, true
}

// SwitchVolume applies the cubic Hermite switching window to an overlap
// volume. It returns the switch value s in [0,1] and its derivative
// sp = ds/dV. Volumes at or below VolMinA are switched off entirely; the
// caller discards those nodes.
func SwitchVolume(v float64) (s, sp float64) {
	if v <= VolMinA {
		return 0, 0
	}
	if v >= VolMinB {
		return 1, 0
	}
	const span = VolMinB - VolMinA
	u := (v - VolMinA) / span
	s = u * u * u * (10.0 + u*(-15.0+6.0*u))
	sp = 30.0 * u * u * (1.0 + u*(-2.0+u)) / span
	return s, sp
}
