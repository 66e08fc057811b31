// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package overlap

// Model constants. Values follow the AGBNP conventions re-expressed in
// nm and kJ/mol; they must stay bit-exact for cross-platform
// reproducibility of accumulated results.
const (
	// MaxOrder caps the overlap recursion depth. Nodes deeper than this
	// are never created.
	MaxOrder = 16

	// KFC sets the Gaussian exponent of an atom: a = KFC / r².
	// The matching equal-volume prefactor works out to 2.5.
	KFC = 2.227

	// VolMinA and VolMinB bound the switching window in nm³. Overlaps
	// below VolMinA are discarded; above VolMinB they count fully.
	VolMinA = 1e-5
	VolMinB = 1e-4

	// SmallVolume separates "heavy" from "light" children in the
	// two-ended slot allocator, in nm³ of switched volume.
	SmallVolume = 1e-4

	// MinGVol is the smallest representable overlap volume; products
	// below it are treated as zero.
	MinGVol = 1.17549435e-38

	// RadiusOffset is the radius enlargement of the first pass in nm.
	// The surface energy is the finite difference over this offset.
	RadiusOffset = 0.005

	// FixedScale converts gradient components to 64-bit fixed point for
	// associative cross-thread accumulation.
	FixedScale = float64(1 << 32)

	// WorkGroupSize is the device workgroup width and the section pad
	// modulus.
	WorkGroupSize = 64

	// ScratchSlotsPerLane sizes the per-lane temporary buffers used by
	// the iterative construction phase.
	ScratchSlotsPerLane = 64
)
