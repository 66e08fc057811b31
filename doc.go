// Package gaussvol computes molecular cavitation energy and forces from
// the Gaussian overlap model.
//
// # Overview
//
// gaussvol represents each atom as a spherical Gaussian and builds the
// tree of pairwise and higher-order overlap products. An
// inclusion-exclusion reduction over the tree yields per-atom
// self-volumes; running the construction twice, once at radii enlarged by
// RadiusOffset and once at nominal radii with the sign of the surface
// tension flipped, turns the volume difference into a finite-difference
// surface energy with analytic position derivatives.
//
// # Quick Start
//
//	import "github.com/gogpu/gaussvol"
//
//	atoms := []gaussvol.Atom{
//		{Radius: 0.17, Gamma: 0.4},
//		{Radius: 0.15, Gamma: 0.4},
//	}
//	eng, err := gaussvol.New(atoms)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer eng.Close()
//
//	res, err := eng.Compute(positions, gaussvol.WantEnergy|gaussvol.WantForces)
//
// # Backends
//
// The built-in CPU backend is always available and is the reference for
// correctness: results are bitwise identical for any worker count. The
// wgpu backend runs the same pipeline as compute shaders and registers
// through a blank import:
//
//	import _ "github.com/gogpu/gaussvol/gpu" // enables the wgpu backend
//
// # Architecture
//
// The library is organized into:
//   - Public API: Engine, Atom, Result, DeviceContext, backend registry
//   - internal/overlap: Gaussian math and the construction/reduction pipeline
//   - internal/tree: sectioned tree layout and node storage
//   - internal/gpu: device lifecycle, shader pipelines, readback
//
// # Units
//
// Lengths are nm, energies kJ/mol, surface tension kJ/(mol·nm²), forces
// kJ/(mol·nm).
package gaussvol
