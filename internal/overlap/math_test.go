// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package overlap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAtomGaussian(t *testing.T) {
	r := 0.15
	g := AtomGaussian(r, false)
	assert.InDelta(t, 4.0*math.Pi/3.0*r*r*r, g.V, 1e-15, "volume")
	assert.InDelta(t, KFC/(r*r), g.A, 1e-12, "exponent")
	assert.Zero(t, g.Cx)
	assert.Zero(t, g.Cy)
	assert.Zero(t, g.Cz)

	h := AtomGaussian(0.12, true)
	assert.Zero(t, h.V, "hydrogen carries no volume")
	assert.InDelta(t, KFC/(0.12*0.12), h.A, 1e-12, "hydrogen keeps its exponent")
}

func TestSwitchVolumeRegions(t *testing.T) {
	for _, v := range []float64{0, VolMinA / 2, VolMinA} {
		s, sp := SwitchVolume(v)
		assert.Zero(t, s, "below window at %g", v)
		assert.Zero(t, sp, "below window derivative at %g", v)
	}
	for _, v := range []float64{VolMinB, 2 * VolMinB, 1.0} {
		s, sp := SwitchVolume(v)
		assert.Equal(t, 1.0, s, "above window at %g", v)
		assert.Zero(t, sp, "above window derivative at %g", v)
	}

	// The Hermite window hits exactly 1/2 at the midpoint.
	s, _ := SwitchVolume((VolMinA + VolMinB) / 2)
	assert.InDelta(t, 0.5, s, 1e-12, "midpoint")
}

func TestSwitchVolumeMonotone(t *testing.T) {
	prev := 0.0
	for i := 0; i <= 100; i++ {
		v := VolMinA + float64(i)*(VolMinB-VolMinA)/100
		s, sp := SwitchVolume(v)
		assert.GreaterOrEqual(t, s, prev, "switch value must not decrease")
		assert.GreaterOrEqual(t, sp, 0.0, "derivative must not go negative")
		assert.LessOrEqual(t, s, 1.0)
		prev = s
	}
}

func TestSwitchVolumeDerivative(t *testing.T) {
	const h = 1e-11
	for _, v := range []float64{2e-5, 5e-5, 8e-5} {
		sPlus, _ := SwitchVolume(v + h)
		sMinus, _ := SwitchVolume(v - h)
		_, sp := SwitchVolume(v)
		fd := (sPlus - sMinus) / (2 * h)
		assert.InEpsilon(t, sp, fd, 1e-4, "ds/dV at %g", v)
	}
}

func TestProductSymmetric(t *testing.T) {
	g1 := AtomGaussian(0.15, false)
	g2 := AtomGaussian(0.17, false)
	g2.Cx, g2.Cy, g2.Cz = 0.2, 0.05, -0.1

	p12, _, ok12 := Product(g1, g2)
	p21, _, ok21 := Product(g2, g1)
	assert.True(t, ok12)
	assert.True(t, ok21)
	assert.Equal(t, p12.V, p21.V, "overlap volume is symmetric")
	assert.Equal(t, p12.A, p21.A, "combined exponent is symmetric")
}

func TestProductCenter(t *testing.T) {
	// Equal exponents place the product center at the midpoint.
	g1 := AtomGaussian(0.15, false)
	g2 := AtomGaussian(0.15, false)
	g2.Cx = 0.2

	p, _, ok := Product(g1, g2)
	assert.True(t, ok)
	assert.InDelta(t, 0.1, p.Cx, 1e-15)
	assert.Zero(t, p.Cy)
	assert.Zero(t, p.Cz)

	// A tighter Gaussian pulls the center toward itself.
	g3 := AtomGaussian(0.10, false)
	g3.Cx = 0.2
	p, _, ok = Product(g1, g3)
	assert.True(t, ok)
	assert.Greater(t, p.Cx, 0.1, "center leans toward the higher exponent")
}

func TestProductDecay(t *testing.T) {
	g1 := AtomGaussian(0.15, false)
	prev := math.Inf(1)
	for _, d := range []float64{0, 0.1, 0.2, 0.4, 0.8} {
		g2 := AtomGaussian(0.15, false)
		g2.Cx = d
		p, _, ok := Product(g1, g2)
		assert.True(t, ok, "distance %g", d)
		assert.Less(t, p.V, prev, "volume decays with distance")
		prev = p.V
	}

	// Far beyond the interaction range the product underflows to empty.
	far := AtomGaussian(0.15, false)
	far.Cx = 2.0
	_, _, ok := Product(g1, far)
	assert.False(t, ok, "distant pair must be empty")
}

func TestProductRejectsZeroVolume(t *testing.T) {
	g1 := AtomGaussian(0.15, false)
	h := AtomGaussian(0.12, true)
	_, _, ok := Product(g1, h)
	assert.False(t, ok, "hydrogen factor has no volume")
	_, _, ok = Product(h, g1)
	assert.False(t, ok)
}

func TestProductDeriv(t *testing.T) {
	g1 := AtomGaussian(0.15, false)
	g2 := AtomGaussian(0.17, false)
	g2.Cx, g2.Cy, g2.Cz = 0.15, 0.08, -0.05

	p, d, ok := Product(g1, g2)
	assert.True(t, ok)
	assert.InEpsilon(t, p.V/g1.V, d.DVdV, 1e-12, "volume sensitivity")

	// Central difference over each component of g2's center.
	const h = 1e-8
	grad := [3]float64{d.GradX, d.GradY, d.GradZ}
	for k := 0; k < 3; k++ {
		plus, minus := g2, g2
		switch k {
		case 0:
			plus.Cx += h
			minus.Cx -= h
		case 1:
			plus.Cy += h
			minus.Cy -= h
		case 2:
			plus.Cz += h
			minus.Cz -= h
		}
		pp, _, _ := Product(g1, plus)
		pm, _, _ := Product(g1, minus)
		fd := (pp.V - pm.V) / (2 * h)
		assert.InEpsilon(t, fd, grad[k], 1e-5, "component %d", k)
	}
}

func TestProductDisplacedMatchesProduct(t *testing.T) {
	g1 := AtomGaussian(0.15, false)
	g2 := AtomGaussian(0.13, false)
	g2.Cx, g2.Cy, g2.Cz = 0.11, -0.07, 0.02

	pa, da, oka := Product(g1, g2)
	pb, db, okb := ProductDisplaced(g1, g2, g2.Cx-g1.Cx, g2.Cy-g1.Cy, g2.Cz-g1.Cz)
	assert.Equal(t, oka, okb)
	assert.Equal(t, pa, pb, "explicit displacement must reproduce Product")
	assert.Equal(t, da, db)
}
