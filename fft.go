// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gaussvol

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mjibson/go-dsp/fft"
)

// FFTPlan is a cached three-dimensional transform plan handed out by a
// DeviceContext. Sibling force terms of the same simulation share plans
// through the context instead of each building their own; the context's
// Close destroys every plan it handed out.
//
// The transform runs axis by axis over a flat row-major grid, index
// x·Ny·Nz + y·Nz + z. Forward is unnormalized; Inverse applies the full
// 1/(Nx·Ny·Nz) factor, so a round trip reproduces the input.
type FFTPlan struct {
	Nx, Ny, Nz int

	destroyed atomic.Bool

	mu  sync.Mutex
	buf []complex128 // axis scratch, sized to the longest edge
}

func newFFTPlan(nx, ny, nz int) *FFTPlan {
	edge := nx
	if ny > edge {
		edge = ny
	}
	if nz > edge {
		edge = nz
	}
	return &FFTPlan{Nx: nx, Ny: ny, Nz: nz, buf: make([]complex128, edge)}
}

// Size returns the grid point count Nx·Ny·Nz.
func (p *FFTPlan) Size() int { return p.Nx * p.Ny * p.Nz }

// Forward transforms data in place.
func (p *FFTPlan) Forward(data []complex128) error {
	return p.transform(data, fft.FFT)
}

// Inverse applies the normalized inverse transform in place.
func (p *FFTPlan) Inverse(data []complex128) error {
	return p.transform(data, fft.IFFT)
}

func (p *FFTPlan) transform(data []complex128, axis func([]complex128) []complex128) error {
	if p.destroyed.Load() {
		return ErrPlanDestroyed
	}
	if len(data) != p.Size() {
		return fmt.Errorf("gaussvol: fft data length %d does not match %dx%dx%d grid",
			len(data), p.Nx, p.Ny, p.Nz)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	nx, ny, nz := p.Nx, p.Ny, p.Nz

	// Z axis: contiguous runs.
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			row := data[(x*ny+y)*nz : (x*ny+y+1)*nz]
			copy(row, axis(row))
		}
	}
	// Y axis: stride nz.
	for x := 0; x < nx; x++ {
		for z := 0; z < nz; z++ {
			col := p.buf[:ny]
			for y := 0; y < ny; y++ {
				col[y] = data[(x*ny+y)*nz+z]
			}
			out := axis(col)
			for y := 0; y < ny; y++ {
				data[(x*ny+y)*nz+z] = out[y]
			}
		}
	}
	// X axis: stride ny·nz.
	for y := 0; y < ny; y++ {
		for z := 0; z < nz; z++ {
			col := p.buf[:nx]
			for x := 0; x < nx; x++ {
				col[x] = data[(x*ny+y)*nz+z]
			}
			out := axis(col)
			for x := 0; x < nx; x++ {
				data[(x*ny+y)*nz+z] = out[x]
			}
		}
	}
	return nil
}

// Destroy releases the plan. Destroy is idempotent; transforms on a
// destroyed plan fail with ErrPlanDestroyed.
func (p *FFTPlan) Destroy() {
	p.destroyed.Store(true)
}
