// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gaussvol

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gogpu/gaussvol/internal/overlap"
	"github.com/gogpu/gaussvol/internal/tree"
)

// TreeLayout describes the sectioned slot layout of the overlap tree:
// per-atom section assignment, per-section capacity, and the capacity
// boosts. Backends allocate their node storage from it.
type TreeLayout = tree.Layout

// Model constants, re-exported for callers that post-process results.
const (
	// RadiusOffset is the finite-difference radius increment in nm. The
	// reported energy approximates γ·dV/dr over this offset.
	RadiusOffset = overlap.RadiusOffset

	// MaxOrder is the deepest overlap order the tree represents.
	MaxOrder = overlap.MaxOrder
)

// paramTol bounds the squared parameter drift UpdateParameters accepts as
// "unchanged".
const paramTol = 1e-6

// maxConsecutiveOverflows is how many back-to-back overflow steps the
// engine absorbs by regrowing before it reports ErrRepeatedOverflow.
const maxConsecutiveOverflows = 2

// Engine computes the cavitation energy and forces of one molecular
// system. It owns orchestration: parameter validation, first-step sizing,
// capacity regrowing, and backend lifecycle. An Engine is safe for
// concurrent use; Compute calls serialize.
type Engine struct {
	mu sync.Mutex

	atoms []Atom
	sys   *System
	opts  engineOptions

	backend Backend
	dc      *DeviceContext

	layout *TreeLayout

	ready     bool
	closed    bool
	overflows int // consecutive overflowed steps
	regrows   int
	last      Stats

	// gammaRef is the common non-hydrogen surface tension, used to derive
	// the surface-area estimate from the energy.
	gammaRef float64
}

// New builds an engine over the atoms. The atom slice is copied; device
// and tree state allocate lazily on the first Compute call, when positions
// are first known.
func New(atoms []Atom, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.treeSizeBoost < 1 {
		o.treeSizeBoost = 1
	}

	sys, gammaRef, err := buildSystem(atoms, &o)
	if err != nil {
		return nil, err
	}

	if o.deviceContext != nil {
		if err := o.deviceContext.acquire(); err != nil {
			return nil, err
		}
	}
	backend, err := resolveBackend(o.backend, o.deviceContext)
	if err != nil {
		if o.deviceContext != nil {
			o.deviceContext.release()
		}
		return nil, err
	}

	e := &Engine{
		atoms:    append([]Atom(nil), atoms...),
		sys:      sys,
		opts:     o,
		backend:  backend,
		dc:       o.deviceContext,
		gammaRef: gammaRef,
	}
	slogger().Info("engine created",
		"atoms", len(atoms),
		"backend", backend.Name(),
		"method", o.method.String(),
		"precision", o.precision.String())
	return e, nil
}

// buildSystem validates the atoms and options and flattens them into the
// backend parameter set.
func buildSystem(atoms []Atom, o *engineOptions) (*System, float64, error) {
	if len(atoms) == 0 {
		return nil, 0, errors.New("gaussvol: at least one atom required")
	}
	switch o.method {
	case NoCutoff:
	case CutoffNonPeriodic:
		if o.cutoff <= 0 {
			return nil, 0, fmt.Errorf("gaussvol: cutoff must be positive, got %g", o.cutoff)
		}
	case CutoffPeriodic:
		if o.cutoff <= 0 {
			return nil, 0, fmt.Errorf("gaussvol: cutoff must be positive, got %g", o.cutoff)
		}
		if o.box.X <= 0 || o.box.Y <= 0 || o.box.Z <= 0 {
			return nil, 0, errors.New("gaussvol: CutoffPeriodic requires a positive box, see WithPeriodicBox")
		}
		if half := 0.5 * math.Min(o.box.X, math.Min(o.box.Y, o.box.Z)); o.cutoff > half {
			return nil, 0, fmt.Errorf("gaussvol: cutoff %g exceeds half the smallest box edge %g", o.cutoff, half)
		}
	default:
		return nil, 0, fmt.Errorf("gaussvol: unknown nonbonded method %d", int(o.method))
	}
	if o.precision != Single && o.precision != Double {
		return nil, 0, fmt.Errorf("gaussvol: unknown precision %d", int(o.precision))
	}

	n := len(atoms)
	sys := &System{
		N:          n,
		Radii:      make([]float64, n),
		RadiiLarge: make([]float64, n),
		Gamma1:     make([]float64, n),
		Gamma2:     make([]float64, n),
		Hydrogen:   make([]bool, n),
		Method:     o.method,
		Cutoff:     o.cutoff,
		Box:        o.box,
		Precision:  o.precision,
		Workers:    o.workers,
	}

	gammaRef, haveRef := 0.0, false
	for i, a := range atoms {
		if a.Radius <= 0 {
			return nil, 0, fmt.Errorf("gaussvol: atom %d: radius must be positive, got %g", i, a.Radius)
		}
		sys.Radii[i] = a.Radius
		sys.RadiiLarge[i] = a.Radius + RadiusOffset
		sys.Hydrogen[i] = a.Hydrogen
		if a.Hydrogen {
			if a.Gamma != 0 {
				return nil, 0, fmt.Errorf("gaussvol: atom %d: hydrogens carry no surface tension, got gamma %g", i, a.Gamma)
			}
			continue
		}
		if !haveRef {
			gammaRef = a.Gamma
			haveRef = true
		} else if d := a.Gamma - gammaRef; d*d > paramTol {
			return nil, 0, fmt.Errorf("gaussvol: atom %d: gamma %g differs from common value %g", i, a.Gamma, gammaRef)
		}
		g := a.Gamma / RadiusOffset
		sys.Gamma1[i] = g
		sys.Gamma2[i] = -g
	}
	return sys, gammaRef, nil
}

// Compute runs one step at the given positions (nm) and returns the
// requested outputs. The first call sizes and allocates the overlap tree
// from these positions.
//
// A step that overflows the tree returns a nil Result and ErrTreeRegrown
// with capacity already raised, so calling again with the same positions
// succeeds. After maxConsecutiveOverflows back-to-back overflows the
// engine reports ErrRepeatedOverflow instead.
func (e *Engine) Compute(pos []Vec3, want Want) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if len(pos) != e.sys.N {
		return nil, fmt.Errorf("gaussvol: got %d positions for %d atoms", len(pos), e.sys.N)
	}
	if want == 0 {
		want = WantEnergy
	}
	if err := e.ensureReady(pos); err != nil {
		return nil, err
	}

	res, err := e.backend.Step(pos, want)
	if err != nil {
		return nil, err
	}
	if res.Overflow || res.ScratchOverflow {
		return nil, e.regrow(res)
	}

	e.overflows = 0
	e.last = res.Stats
	e.last.Regrows = e.regrows

	out := &Result{Energy: res.Energy, Volume: res.Volume}
	if e.gammaRef != 0 {
		out.SurfaceArea = res.Energy / e.gammaRef
	}
	if want&WantForces != 0 {
		out.Forces = res.Forces
	}
	return out, nil
}

// ensureReady runs the sizing pass and allocates backend state on the
// first step.
func (e *Engine) ensureReady(pos []Vec3) error {
	if e.ready {
		return nil
	}
	flat := make([]float64, 3*len(pos))
	for i, p := range pos {
		flat[3*i+0] = p.X
		flat[3*i+1] = p.Y
		flat[3*i+2] = p.Z
	}
	counts := overlap.CountOverlaps(overlapSystem(e.sys), flat)
	for i := range counts {
		counts[i]++ // one root slot per atom on top of the pair demand
	}
	layout, err := tree.NewLayout(counts,
		tree.DefaultSections(e.sys.N), e.opts.treeSizeBoost, 1, overlap.WorkGroupSize)
	if err != nil {
		return err
	}
	if err := e.backend.Setup(e.sys, layout); err != nil {
		return err
	}
	e.layout = layout
	e.ready = true
	slogger().Info("overlap tree laid out", "layout", layout.String())
	return nil
}

// regrow replaces the layout after an overflowed step and reports the
// step outcome.
func (e *Engine) regrow(res StepResult) error {
	e.overflows++
	if e.overflows > maxConsecutiveOverflows {
		return fmt.Errorf("%w (%d consecutive)", ErrRepeatedOverflow, e.overflows)
	}
	layout, err := e.layout.Regrow(res.Counts, res.ScratchOverflow)
	if err != nil {
		return err
	}
	if err := e.backend.Resize(layout); err != nil {
		return err
	}
	e.layout = layout
	e.regrows++
	slogger().Warn("overlap tree regrown",
		"layout", layout.String(),
		"scratch_overflow", res.ScratchOverflow,
		"consecutive", e.overflows)
	return ErrTreeRegrown
}

// UpdateParameters adopts new per-atom surface tensions without touching
// device topology state. The atom count, radii, and hydrogen flags must
// be unchanged; altering those needs a new engine.
func (e *Engine) UpdateParameters(atoms []Atom) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if len(atoms) != len(e.atoms) {
		return fmt.Errorf("gaussvol: atom count changed from %d to %d", len(e.atoms), len(atoms))
	}

	gammaRef, haveRef := 0.0, false
	for i, a := range atoms {
		if a.Hydrogen != e.atoms[i].Hydrogen {
			return fmt.Errorf("gaussvol: atom %d: hydrogen flag cannot change", i)
		}
		if d := a.Radius - e.atoms[i].Radius; d*d > paramTol {
			return fmt.Errorf("gaussvol: atom %d: radius cannot change (%g to %g)", i, e.atoms[i].Radius, a.Radius)
		}
		if a.Hydrogen {
			if a.Gamma != 0 {
				return fmt.Errorf("gaussvol: atom %d: hydrogens carry no surface tension, got gamma %g", i, a.Gamma)
			}
			continue
		}
		if !haveRef {
			gammaRef = a.Gamma
			haveRef = true
		} else if d := a.Gamma - gammaRef; d*d > paramTol {
			return fmt.Errorf("gaussvol: atom %d: gamma %g differs from common value %g", i, a.Gamma, gammaRef)
		}
	}

	for i, a := range atoms {
		e.atoms[i] = a
		if a.Hydrogen {
			continue
		}
		g := a.Gamma / RadiusOffset
		e.sys.Gamma1[i] = g
		e.sys.Gamma2[i] = -g
	}
	e.gammaRef = gammaRef
	if e.ready {
		return e.backend.UpdateGammas(e.sys.Gamma1, e.sys.Gamma2)
	}
	return nil
}

// Stats returns the occupancy snapshot of the most recent successful
// Compute call.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.last
	s.Regrows = e.regrows
	return s
}

// BackendName reports which backend serves this engine.
func (e *Engine) BackendName() string {
	return e.backend.Name()
}

// Close releases backend state and unbinds the device context. Close is
// idempotent; the context itself stays open for its owner to close.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.backend.Close()
	if e.dc != nil {
		e.dc.release()
	}
	return err
}

// overlapSystem flattens the engine parameter set into the pipeline's
// form. The slices are shared, not copied, so gamma updates propagate.
func overlapSystem(sys *System) *overlap.System {
	return &overlap.System{
		N:           sys.N,
		Radius:      sys.Radii,
		RadiusLarge: sys.RadiiLarge,
		Gamma1:      sys.Gamma1,
		Gamma2:      sys.Gamma2,
		Hydrogen:    sys.Hydrogen,
		UseCutoff:   sys.Method != NoCutoff,
		UsePeriodic: sys.Method == CutoffPeriodic,
		Cutoff:      sys.Cutoff,
		BoxX:        sys.Box.X,
		BoxY:        sys.Box.Y,
		BoxZ:        sys.Box.Z,
	}
}
