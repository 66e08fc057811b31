// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gaussvol

import "fmt"

// Atom describes one Gaussian atom of the molecular system.
//
// Radius is the van der Waals radius in nm. Gamma is the surface-tension
// coefficient in kJ/(mol·nm²). Hydrogen atoms carry no volume term and no
// surface tension; their Gamma must be zero.
type Atom struct {
	Radius   float64
	Gamma    float64
	Hydrogen bool
}

// NonbondedMethod selects how atom pairs are pruned during tree construction.
type NonbondedMethod int

const (
	// NoCutoff considers every atom pair.
	NoCutoff NonbondedMethod = iota

	// CutoffNonPeriodic skips pairs beyond the cutoff distance.
	CutoffNonPeriodic

	// CutoffPeriodic skips pairs beyond the cutoff distance using
	// minimum-image displacements in an orthorhombic box.
	CutoffPeriodic
)

// String returns the method name.
func (m NonbondedMethod) String() string {
	switch m {
	case NoCutoff:
		return "NoCutoff"
	case CutoffNonPeriodic:
		return "CutoffNonPeriodic"
	case CutoffPeriodic:
		return "CutoffPeriodic"
	default:
		return "Unknown"
	}
}

// Precision selects the floating-point width of device exchange buffers.
//
// The CPU backend computes in float64 regardless. The wgpu backend supports
// Single only; requesting Double with it fails at setup.
type Precision int

const (
	// Single uses 32-bit device exchange buffers.
	Single Precision = iota

	// Double uses 64-bit device exchange buffers.
	Double
)

// String returns the precision name.
func (p Precision) String() string {
	switch p {
	case Single:
		return "Single"
	case Double:
		return "Double"
	default:
		return "Unknown"
	}
}

// Want selects which outputs a Compute call must produce.
// Flags can be combined with bitwise OR.
type Want uint32

const (
	// WantEnergy requests the cavitation energy.
	WantEnergy Want = 1 << iota

	// WantForces requests per-atom forces.
	WantForces
)

// Result holds the outputs of one Compute call.
type Result struct {
	// Energy is the cavitation energy in kJ/mol.
	Energy float64

	// Forces holds per-atom forces in kJ/(mol·nm). Nil unless WantForces
	// was requested.
	Forces []Vec3

	// Volume is the total nominal-radius self-volume in nm³.
	Volume float64

	// SurfaceArea is the finite-difference surface-area estimate in nm².
	// Zero when the common surface tension is zero.
	SurfaceArea float64
}

// Stats reports tree occupancy after the most recent Compute call.
type Stats struct {
	// Sections is the number of independent tree sections.
	Sections int

	// Capacity is the total node capacity across sections.
	Capacity int

	// Used is the number of occupied node slots.
	Used int

	// MaxDepth is the deepest overlap order reached.
	MaxDepth int

	// Iterations is the largest per-section construction sweep count.
	Iterations int

	// Regrows counts capacity regrow cycles over the engine lifetime.
	Regrows int
}

// String returns a one-line occupancy summary.
func (s Stats) String() string {
	return fmt.Sprintf("Tree[%d sections, %d/%d slots, depth %d, %d sweeps, %d regrows]",
		s.Sections, s.Used, s.Capacity, s.MaxDepth, s.Iterations, s.Regrows)
}
