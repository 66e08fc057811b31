// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package overlap

import (
	"sync/atomic"

	"github.com/gogpu/gaussvol/internal/tree"
)

// Executor runs a batch of independent tasks and returns when all have
// finished. The parallel worker pool satisfies it; a nil executor runs
// tasks inline.
type Executor interface {
	ExecuteAll(tasks []func())
}

// Pipeline drives the two-pass overlap computation over one tree store.
// Phases run as per-section tasks with a barrier between phases; the
// panic flags are the only cross-phase signal and are inspected once per
// step, after construction.
type Pipeline struct {
	sys   *System
	store *tree.Store
	exec  Executor

	gaussians []Gaussian   // per-atom, rebuilt per pass
	demand    []int32      // per-atom slot demand seen by the last step
	scratch   [][]candidate

	panicTree    atomic.Int32
	panicScratch atomic.Int32
}

// NewPipeline binds a parameter set to a tree store.
func NewPipeline(sys *System, st *tree.Store, exec Executor) *Pipeline {
	return &Pipeline{
		sys:       sys,
		store:     st,
		exec:      exec,
		gaussians: make([]Gaussian, sys.N),
		demand:    make([]int32, sys.N),
		scratch:   make([][]candidate, st.Layout.NumSections),
	}
}

// StepOut is one step's result. When Overflow or ScratchOverflow is set
// the numeric fields are meaningless and Counts carries the measured
// per-atom demand for regrowing the tree.
type StepOut struct {
	Energy float64
	Volume float64

	// Grad is dE/dx as a flat xyz array; forces are its negation.
	Grad []float64

	Overflow        bool
	ScratchOverflow bool
	Counts          []int

	Used       int
	MaxDepth   int
	Iterations int
}

// Step runs both passes over the positions (flat xyz, nm). Pass 1 builds
// the tree at enlarged radii with positive gammas; pass 2 rescans the
// frozen topology at nominal radii with negated gammas. The summed
// energies form the finite-difference surface term, and the summed
// gradients its position derivative.
func (p *Pipeline) Step(pos []float64) StepOut {
	st := p.store
	p.panicTree.Store(0)
	p.panicScratch.Store(0)

	p.forEachSection(st.ResetSection)
	st.ResetAccumulators()
	p.buildGaussians(pos, true)
	p.forEachSection(p.initOneBody)
	p.forEachSection(p.countChildren)
	p.forEachSection(p.prefixChildStarts)
	p.forEachSection(p.fillPairs)
	p.forEachSection(p.resetCompute)
	p.forEachSection(p.expand)

	// The one host observation of in-flight state: a panicked step is
	// abandoned before any reduction, and the measured demand goes back
	// to the caller for regrowing.
	if p.panicTree.Load() == 1 || p.panicScratch.Load() == 1 {
		return StepOut{
			Overflow:        p.panicTree.Load() == 1,
			ScratchOverflow: p.panicScratch.Load() == 1,
			Counts:          p.measuredCounts(),
		}
	}

	grad := make([]float64, 3*p.sys.N)
	p.forEachSection(st.ResetSelfVolumesSection)
	p.forEachSection(p.computeSelfVolumes)
	energy := p.collectEnergy()
	p.accumulateGradients(grad)

	p.buildGaussians(pos, false)
	p.forEachSection(p.initOneBodyNominal)
	p.forEachSection(p.resetRescan)
	p.forEachSection(p.rescan)
	p.forEachSection(st.ResetSelfVolumesSection)
	st.ResetAccumulators()
	p.forEachSection(p.computeSelfVolumes)
	energy += p.collectEnergy()
	volume := p.accumulateGradients(grad)

	return StepOut{
		Energy:     energy,
		Volume:     volume,
		Grad:       grad,
		Used:       st.Used(),
		MaxDepth:   st.MaxDepth(),
		Iterations: st.MaxIterations(),
	}
}

func (p *Pipeline) buildGaussians(pos []float64, large bool) {
	for i := 0; i < p.sys.N; i++ {
		p.gaussians[i] = p.sys.atomGaussianAt(i, pos, large)
	}
}

// forEachSection runs fn once per section, in parallel when an executor
// is attached. Each invocation owns its section's slots exclusively.
func (p *Pipeline) forEachSection(fn func(sec int)) {
	n := p.store.Layout.NumSections
	if p.exec == nil || n == 1 {
		for sec := 0; sec < n; sec++ {
			fn(sec)
		}
		return
	}
	tasks := make([]func(), n)
	for sec := 0; sec < n; sec++ {
		tasks[sec] = func() { fn(sec) }
	}
	p.exec.ExecuteAll(tasks)
}

// measuredCounts merges the nodes actually built with the pre-truncation
// pair demand, giving the layout a lower bound to regrow from.
func (p *Pipeline) measuredCounts() []int {
	counts := p.store.AtomCounts()
	for i := 0; i < p.sys.N; i++ {
		if d := int(p.demand[i]); d > counts[i] {
			counts[i] = d
		}
	}
	return counts
}
