// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package overlap

// System is the flattened parameter set the pipeline works on. The two
// radius/gamma pairs drive the two passes of a step: the enlarged-radius
// pass carries gamma/RadiusOffset, the nominal-radius rescan carries its
// negation, and the summed energies form the finite-difference surface
// term.
type System struct {
	N int

	Radius      []float64 // nominal radii, nm
	RadiusLarge []float64 // nominal + RadiusOffset

	Gamma1 []float64 // gamma/RadiusOffset, zero for hydrogens
	Gamma2 []float64 // -Gamma1

	Hydrogen []bool

	UseCutoff   bool
	UsePeriodic bool
	Cutoff      float64

	// Orthorhombic box edges, nm. Used only when UsePeriodic.
	BoxX, BoxY, BoxZ float64
}

// Displacement returns the vector from (x1,y1,z1) to (x2,y2,z2), reduced
// to the minimum image when periodic.
func (s *System) Displacement(x1, y1, z1, x2, y2, z2 float64) (dx, dy, dz float64) {
	dx = x2 - x1
	dy = y2 - y1
	dz = z2 - z1
	if s.UsePeriodic {
		dx -= s.BoxX * float64(int(dx/s.BoxX+wrapBias(dx)))
		dy -= s.BoxY * float64(int(dy/s.BoxY+wrapBias(dy)))
		dz -= s.BoxZ * float64(int(dz/s.BoxZ+wrapBias(dz)))
	}
	return dx, dy, dz
}

func wrapBias(d float64) float64 {
	if d >= 0 {
		return 0.5
	}
	return -0.5
}

// withinCutoff reports whether a squared displacement passes the pair
// filter. Always true without a cutoff.
func (s *System) withinCutoff(d2 float64) bool {
	return !s.UseCutoff || d2 <= s.Cutoff*s.Cutoff
}

// atomGaussianAt builds the pass-dependent Gaussian of atom i centered at
// its position. Pass 1 uses enlarged radii, pass 2 nominal.
func (s *System) atomGaussianAt(i int, pos []float64, large bool) Gaussian {
	r := s.Radius[i]
	if large {
		r = s.RadiusLarge[i]
	}
	g := AtomGaussian(r, s.Hydrogen[i])
	g.Cx = pos[3*i]
	g.Cy = pos[3*i+1]
	g.Cz = pos[3*i+2]
	return g
}

