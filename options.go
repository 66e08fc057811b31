// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gaussvol

// Option configures an Engine during creation.
// Use functional options to customize Engine behavior.
//
// Example:
//
//	// Default CPU execution, no cutoff
//	eng, err := gaussvol.New(atoms)
//
//	// Cutoff at 1.2 nm with 4 worker goroutines
//	eng, err := gaussvol.New(atoms,
//	    gaussvol.WithNonbondedMethod(gaussvol.CutoffNonPeriodic),
//	    gaussvol.WithCutoff(1.2),
//	    gaussvol.WithWorkers(4))
type Option func(*engineOptions)

// engineOptions holds optional configuration for Engine creation.
type engineOptions struct {
	backend       string
	workers       int
	precision     Precision
	method        NonbondedMethod
	cutoff        float64
	box           Vec3
	treeSizeBoost int
	deviceContext *DeviceContext
}

// defaultOptions returns the default engine options.
func defaultOptions() engineOptions {
	return engineOptions{
		backend:       "", // auto-select: registered GPU backend if available, else cpu
		workers:       0,  // 0 means runtime.NumCPU, capped by section count
		precision:     Single,
		method:        NoCutoff,
		cutoff:        1.0,
		treeSizeBoost: 2,
	}
}

// WithBackend selects a registered backend by name ("cpu", "wgpu").
// The zero value auto-selects: a registered GPU backend when available,
// the built-in CPU backend otherwise.
func WithBackend(name string) Option {
	return func(o *engineOptions) {
		o.backend = name
	}
}

// WithWorkers sets the number of worker goroutines used by the CPU backend.
// Zero or negative selects one worker per CPU. Results are bitwise
// identical for any worker count.
func WithWorkers(n int) Option {
	return func(o *engineOptions) {
		o.workers = n
	}
}

// WithPrecision selects the floating-point width of device exchange buffers.
func WithPrecision(p Precision) Option {
	return func(o *engineOptions) {
		o.precision = p
	}
}

// WithNonbondedMethod selects the pair-pruning method.
func WithNonbondedMethod(m NonbondedMethod) Option {
	return func(o *engineOptions) {
		o.method = m
	}
}

// WithCutoff sets the cutoff distance in nm. Ignored for NoCutoff.
func WithCutoff(d float64) Option {
	return func(o *engineOptions) {
		o.cutoff = d
	}
}

// WithPeriodicBox sets the orthorhombic box edge lengths in nm.
// Required for CutoffPeriodic.
func WithPeriodicBox(x, y, z float64) Option {
	return func(o *engineOptions) {
		o.box = Vec3{X: x, Y: y, Z: z}
	}
}

// WithTreeSizeBoost sets the initial overlap-capacity multiplier applied to
// the sizing estimate. The default is 2. The boost doubles on every regrow.
// Values below 1 are treated as 1. Mostly useful in tests that exercise the
// overflow path.
func WithTreeSizeBoost(k int) Option {
	return func(o *engineOptions) {
		o.treeSizeBoost = k
	}
}

// WithDeviceContext binds the engine to a shared DeviceContext instead of
// creating a private one. A DeviceContext drives at most one engine at a
// time; binding a busy context fails with ErrContextBound.
func WithDeviceContext(dc *DeviceContext) Option {
	return func(o *engineOptions) {
		o.deviceContext = dc
	}
}
