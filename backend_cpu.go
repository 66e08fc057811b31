// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gaussvol

import (
	"runtime"

	"github.com/gogpu/gaussvol/internal/overlap"
	"github.com/gogpu/gaussvol/internal/parallel"
	"github.com/gogpu/gaussvol/internal/tree"
)

// cpuBackend runs the overlap pipeline on the host, one goroutine per
// section task. It is the always-available reference backend; results are
// bitwise identical for any worker count.
type cpuBackend struct {
	sys    *overlap.System
	layout *TreeLayout
	store  *tree.Store
	pipe   *overlap.Pipeline
	pool   *parallel.WorkerPool
	pos    []float64
}

func newCPUBackend() Backend { return &cpuBackend{} }

func (b *cpuBackend) Name() string { return "cpu" }

func (b *cpuBackend) Available() bool { return true }

func (b *cpuBackend) Setup(sys *System, layout *TreeLayout) error {
	b.sys = overlapSystem(sys)

	workers := sys.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > layout.NumSections {
		workers = layout.NumSections
	}
	b.pool = parallel.NewWorkerPool(workers)
	b.pos = make([]float64, 3*sys.N)
	return b.bind(layout)
}

func (b *cpuBackend) bind(layout *TreeLayout) error {
	b.layout = layout
	b.store = tree.NewStore(layout)
	b.pipe = overlap.NewPipeline(b.sys, b.store, b.pool)
	return nil
}

// Resize swaps in a regrown layout. The store is reallocated, never
// relocated; node data does not survive, which is fine because a resize
// only follows an abandoned step.
func (b *cpuBackend) Resize(layout *TreeLayout) error {
	return b.bind(layout)
}

func (b *cpuBackend) Step(pos []Vec3, want Want) (StepResult, error) {
	for i, p := range pos {
		b.pos[3*i+0] = p.X
		b.pos[3*i+1] = p.Y
		b.pos[3*i+2] = p.Z
	}
	out := b.pipe.Step(b.pos)
	if out.Overflow || out.ScratchOverflow {
		return StepResult{
			Overflow:        out.Overflow,
			ScratchOverflow: out.ScratchOverflow,
			Counts:          out.Counts,
		}, nil
	}

	res := StepResult{
		Energy: out.Energy,
		Volume: out.Volume,
		Stats: Stats{
			Sections:   b.layout.NumSections,
			Capacity:   b.layout.TotalSize,
			Used:       out.Used,
			MaxDepth:   out.MaxDepth,
			Iterations: out.Iterations,
		},
	}
	if want&WantForces != 0 {
		forces := make([]Vec3, len(pos))
		for i := range forces {
			forces[i] = Vec3{
				X: -out.Grad[3*i+0],
				Y: -out.Grad[3*i+1],
				Z: -out.Grad[3*i+2],
			}
		}
		res.Forces = forces
	}
	return res, nil
}

func (b *cpuBackend) UpdateGammas(gamma1, gamma2 []float64) error {
	copy(b.sys.Gamma1, gamma1)
	copy(b.sys.Gamma2, gamma2)
	return nil
}

func (b *cpuBackend) Close() error {
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}
