// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gaussvol

import (
	"errors"
	"sync"
)

// System is the flattened per-atom parameter set handed to backends.
// It is derived once from the []Atom slice at engine creation and owned by
// the engine; backends treat it as read-only except through UpdateGammas.
type System struct {
	// N is the atom count.
	N int

	// Radii holds nominal radii in nm. RadiiLarge holds the enlarged radii
	// (nominal + RadiusOffset) used by the first construction pass.
	Radii      []float64
	RadiiLarge []float64

	// Gamma1 holds gamma/RadiusOffset per atom (zero for hydrogens), used
	// by the enlarged-radius pass. Gamma2 is its negation, used by the
	// nominal-radius rescan pass.
	Gamma1 []float64
	Gamma2 []float64

	// Hydrogen flags atoms that carry no volume term.
	Hydrogen []bool

	Method    NonbondedMethod
	Cutoff    float64
	Box       Vec3
	Precision Precision

	// Workers is the CPU worker count (0 = NumCPU).
	Workers int
}

// StepResult is produced by a Backend for one step.
type StepResult struct {
	Energy float64
	Forces []Vec3

	// Volume is the total nominal-radius self-volume in nm³.
	Volume float64

	// Overflow reports a tree-section overflow; ScratchOverflow reports a
	// temporary-buffer overflow. Either one invalidates Energy and Forces.
	Overflow        bool
	ScratchOverflow bool

	// Counts holds measured per-atom node counts, used to re-seed capacity
	// planning after an overflow.
	Counts []int

	// Stats is an occupancy snapshot of the step.
	Stats Stats
}

// Backend executes the overlap pipeline on some compute substrate.
//
// The engine owns orchestration: sizing, layout, regrow bookkeeping, retry
// bounds, and parameter validation. A backend owns storage and the phase
// sequence of a single step.
type Backend interface {
	// Name returns the backend name ("cpu", "wgpu").
	Name() string

	// Available reports whether the backend can run on this host.
	// This is a fast check used before Setup.
	Available() bool

	// Setup allocates backend state for the system and tree layout.
	Setup(sys *System, layout *TreeLayout) error

	// Step runs two construction+reduction passes for the given positions.
	Step(pos []Vec3, want Want) (StepResult, error)

	// Resize replaces the tree layout after a regrow. Live node data is
	// discarded, never relocated.
	Resize(layout *TreeLayout) error

	// UpdateGammas replaces the per-atom surface-tension arrays.
	UpdateGammas(gamma1, gamma2 []float64) error

	// Close releases all backend resources. Close is idempotent.
	Close() error
}

// BackendConstructor builds a Backend bound to a device context.
// CPU-only backends may ignore the context.
type BackendConstructor func(dc *DeviceContext) (Backend, error)

var (
	backendMu    sync.RWMutex
	backendCtors = map[string]BackendConstructor{}
	backendOrder []string
)

// RegisterBackend registers a backend constructor under a name.
//
// The built-in "cpu" backend is always present. GPU backends register via
// blank import of their package:
//
//	import _ "github.com/gogpu/gaussvol/gpu" // enables the wgpu backend
//
// Registering an existing name replaces the previous constructor.
func RegisterBackend(name string, ctor BackendConstructor) error {
	if name == "" {
		return errors.New("gaussvol: backend name must not be empty")
	}
	if ctor == nil {
		return errors.New("gaussvol: backend constructor must not be nil")
	}
	backendMu.Lock()
	if _, ok := backendCtors[name]; !ok {
		backendOrder = append(backendOrder, name)
	}
	backendCtors[name] = ctor
	backendMu.Unlock()
	return nil
}

// Backends returns the registered backend names in registration order,
// with "cpu" always first.
func Backends() []string {
	backendMu.RLock()
	defer backendMu.RUnlock()
	names := make([]string, 0, len(backendOrder)+1)
	names = append(names, "cpu")
	names = append(names, backendOrder...)
	return names
}

// resolveBackend picks the constructor for the requested name. An empty
// name auto-selects: the first registered backend that reports Available,
// falling back to the built-in CPU backend.
func resolveBackend(name string, dc *DeviceContext) (Backend, error) {
	if name == "cpu" {
		return newCPUBackend(), nil
	}
	backendMu.RLock()
	ctor, ok := backendCtors[name]
	order := append([]string(nil), backendOrder...)
	backendMu.RUnlock()

	if name != "" {
		if !ok {
			return nil, errors.New("gaussvol: unknown backend " + name)
		}
		b, err := ctor(dc)
		if err != nil {
			return nil, err
		}
		if !b.Available() {
			b.Close()
			return nil, ErrBackendUnavailable
		}
		return b, nil
	}

	for _, n := range order {
		backendMu.RLock()
		c := backendCtors[n]
		backendMu.RUnlock()
		b, err := c(dc)
		if err != nil {
			slogger().Warn("backend construction failed, skipping",
				"backend", n, "error", err)
			continue
		}
		if b.Available() {
			slogger().Info("backend selected", "backend", n)
			return b, nil
		}
		b.Close()
	}
	return newCPUBackend(), nil
}
