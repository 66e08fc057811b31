// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package gpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gogpu/gaussvol"
	"github.com/gogpu/gaussvol/internal/overlap"
	"github.com/gogpu/gaussvol/internal/tree"
)

// BackendName is the name the wgpu backend registers under.
const BackendName = "wgpu"

// Backend runs the overlap pipeline on a wgpu device. It mirrors the
// CPU pipeline stage for stage; a step is one command submission, one
// fence wait, and one readback, so the host never observes intermediate
// device state.
//
// The backend computes in float32 and rejects PrecisionDouble.
type Backend struct {
	mu sync.Mutex

	provider any // optional shared-device provider from the DeviceContext

	dev  *Device
	disp *Dispatcher
	bufs *Buffers

	sys    *gaussvol.System
	layout *tree.Layout

	openOnce sync.Once
	openErr  error

	closed bool
}

var _ gaussvol.Backend = (*Backend)(nil)

// New builds the wgpu backend bound to a device context. The context's
// provider, when set, supplies a shared HAL device; otherwise a
// standalone Vulkan device is opened lazily on first use.
func New(dc *gaussvol.DeviceContext) (*Backend, error) {
	SetLogger(gaussvol.Logger())
	b := &Backend{}
	if dc != nil {
		b.provider = dc.Provider()
	}
	return b, nil
}

// Name returns the backend name.
func (b *Backend) Name() string { return BackendName }

// Available reports whether a device can be opened on this host. The
// first call performs the open; the result is cached.
func (b *Backend) Available() bool {
	return b.ensureDevice() == nil
}

func (b *Backend) ensureDevice() error {
	b.openOnce.Do(func() {
		var dev *Device
		var err error
		if b.provider != nil {
			dev, err = FromProvider(b.provider)
		} else {
			dev, err = Open()
		}
		if err != nil {
			b.openErr = err
			slogger().Warn("gpu: device unavailable", "error", err)
			return
		}
		b.dev = dev
	})
	return b.openErr
}

// Setup allocates device state for the system and tree layout and
// uploads the static per-atom and per-section tables.
func (b *Backend) Setup(sys *gaussvol.System, layout *gaussvol.TreeLayout) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return gaussvol.ErrClosed
	}
	if sys.Precision == gaussvol.Double {
		return fmt.Errorf("%w: wgpu backend is float32 only", gaussvol.ErrPrecisionUnsupported)
	}
	if err := b.ensureDevice(); err != nil {
		return fmt.Errorf("%w: %v", gaussvol.ErrBackendUnavailable, err)
	}

	if b.disp == nil {
		disp := NewDispatcher(b.dev.device, b.dev.queue)
		if err := disp.Init(); err != nil {
			return err
		}
		b.disp = disp
	}

	b.sys = sys
	return b.bind(layout)
}

// bind allocates buffers for a layout and uploads everything that does
// not change per step.
func (b *Backend) bind(layout *tree.Layout) error {
	if b.bufs != nil {
		b.disp.DestroyBuffers(b.bufs)
		b.bufs = nil
	}

	bufs, err := b.disp.AllocateBuffers(layout)
	if err != nil {
		return err
	}
	b.bufs = bufs
	b.layout = layout

	b.disp.queue.WriteBuffer(bufs.Atoms, 0, b.packAtoms())
	b.disp.queue.WriteBuffer(bufs.SectionState, 0, packSectionState(layout))

	scratchSlots := layout.ScratchSlots(overlap.WorkGroupSize, overlap.ScratchSlotsPerLane)
	for pass := 0; pass < 2; pass++ {
		cfg := b.packConfig(pass, scratchSlots)
		b.disp.queue.WriteBuffer(bufs.Config[pass], 0, cfg.toBytes())
	}
	return nil
}

// Resize swaps in a regrown layout. Device buffers are reallocated,
// never relocated; a resize only follows an abandoned step.
func (b *Backend) Resize(layout *gaussvol.TreeLayout) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return gaussvol.ErrClosed
	}
	return b.bind(layout)
}

func (b *Backend) packConfig(pass, scratchSlots int) Config {
	sys := b.sys
	cfg := Config{
		NumAtoms:     uint32(sys.N),
		NumSections:  uint32(b.layout.NumSections),
		TotalSlots:   uint32(b.layout.TotalSize),
		ScratchSlots: uint32(scratchSlots),
		PassNominal:  uint32(pass),
		MaxOrder:     overlap.MaxOrder,
	}
	if sys.Method == gaussvol.CutoffNonPeriodic || sys.Method == gaussvol.CutoffPeriodic {
		cfg.UseCutoff = 1
		cfg.Cutoff2 = float32(sys.Cutoff * sys.Cutoff)
	}
	if sys.Method == gaussvol.CutoffPeriodic {
		cfg.UsePeriodic = 1
		cfg.BoxX = float32(sys.Box.X)
		cfg.BoxY = float32(sys.Box.Y)
		cfg.BoxZ = float32(sys.Box.Z)
	}
	return cfg
}

// packAtoms serializes the per-atom statics into the AtomParams layout:
// radius, enlarged radius, gamma1, gamma2, hydrogen flag, root slot,
// section.
func (b *Backend) packAtoms() []byte {
	sys := b.sys
	l := b.layout
	buf := make([]byte, sys.N*atomStride)
	le := binary.LittleEndian
	for i := 0; i < sys.N; i++ {
		o := i * atomStride
		le.PutUint32(buf[o+0:], math.Float32bits(float32(sys.Radii[i])))
		le.PutUint32(buf[o+4:], math.Float32bits(float32(sys.RadiiLarge[i])))
		le.PutUint32(buf[o+8:], math.Float32bits(float32(sys.Gamma1[i])))
		le.PutUint32(buf[o+12:], math.Float32bits(float32(sys.Gamma2[i])))
		h := uint32(0)
		if sys.Hydrogen[i] {
			h = 1
		}
		le.PutUint32(buf[o+16:], h)
		le.PutUint32(buf[o+20:], uint32(l.AtomTreePointer[i]))
		le.PutUint32(buf[o+24:], uint32(l.SectionOf[i]))
		le.PutUint32(buf[o+28:], 0)
	}
	return buf
}

// packSectionState serializes the per-section records: the static
// partition up front, the mutable registers zeroed. The step kernels
// only ever touch the mutable tail, so this is uploaded once per
// layout.
func packSectionState(l *tree.Layout) []byte {
	buf := make([]byte, l.NumSections*sectionStateStride)
	le := binary.LittleEndian
	for s := 0; s < l.NumSections; s++ {
		o := s * sectionStateStride
		le.PutUint32(buf[o+0:], uint32(l.TreePointer[s]))
		le.PutUint32(buf[o+4:], uint32(l.SectionSize[s]))
		le.PutUint32(buf[o+8:], uint32(l.FirstAtom[s]))
		le.PutUint32(buf[o+12:], uint32(l.AtomCount[s]))
		// tree_size, iterations, energy_cell, pad stay zero.
	}
	return buf
}

// stepStages is the full two-pass dispatch sequence of one step. It is
// the device-side equivalent of Pipeline.Step: construction, bottom-up
// reduction and collection for the enlarged pass, then the nominal
// rescan with a second reduction. Overflowed construction does not stop
// the encoded sequence; later stages stay in bounds on the clamped
// counts and the host discards the numbers when it reads the panic
// flags.
func (b *Backend) stepStages() []stageDispatch {
	natoms := uint32(b.sys.N)
	nsections := uint32(b.layout.NumSections)
	slots := uint32(b.layout.TotalSize)
	accumWords := natoms * accumValues * 2 // u32 lo/hi pair per value

	return []stageDispatch{
		// Pass 1: build at enlarged radii, reduce, collect.
		{StageResetTree, slots, 0},
		{StageResetAccum, accumWords, 0},
		{StageInitTree, natoms, 0},
		{StageCountPairs, natoms, 0},
		{StagePrefixStarts, nsections, 0},
		{StageFillPairs, natoms, 0},
		{StageResetCompute, slots, 0},
		{StageExpand, nsections, 0},
		{StageCountNodes, slots, 0},
		{StageResetSelfVol, slots, 0},
		{StageSelfVolumes, nsections, 0},
		{StageCollect, natoms, 0},
		{StageReduceOut, 1, 0},

		// Pass 2: rescan the frozen topology at nominal radii.
		{StageInitRescan, natoms, 1},
		{StageResetRescan, slots, 1},
		{StageRescan, nsections, 1},
		{StageResetSelfVol, slots, 1},
		{StageResetAccum, accumWords, 1},
		{StageSelfVolumes, nsections, 1},
		{StageCollect, natoms, 1},
		{StageReduceOut, 1, 1},
	}
}

// Step uploads positions, runs the encoded two-pass sequence, and
// parses the staging readback. The fence wait inside Run is the single
// synchronization with the device.
func (b *Backend) Step(pos []gaussvol.Vec3, want gaussvol.Want) (gaussvol.StepResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return gaussvol.StepResult{}, gaussvol.ErrClosed
	}
	if b.bufs == nil {
		return gaussvol.StepResult{}, fmt.Errorf("gpu: backend not set up")
	}

	posBytes := make([]byte, len(pos)*3*4)
	le := binary.LittleEndian
	for i, p := range pos {
		o := i * 12
		le.PutUint32(posBytes[o+0:], math.Float32bits(float32(p.X)))
		le.PutUint32(posBytes[o+4:], math.Float32bits(float32(p.Y)))
		le.PutUint32(posBytes[o+8:], math.Float32bits(float32(p.Z)))
	}
	b.disp.queue.WriteBuffer(b.bufs.Positions, 0, posBytes)

	// The output page accumulates across both passes and carries the
	// panic flags; it must start from zero every step.
	b.disp.queue.WriteBuffer(b.bufs.Out, 0, make([]byte, b.bufs.OutSize))

	if err := b.disp.Run(b.bufs, b.stepStages()); err != nil {
		return gaussvol.StepResult{}, err
	}

	readback := make([]byte, b.bufs.OutSize)
	if err := b.disp.queue.ReadBuffer(b.bufs.Staging, 0, readback); err != nil {
		return gaussvol.StepResult{}, fmt.Errorf("gpu: readback: %w", err)
	}
	return b.parseReadback(readback, pos, want)
}

// parseReadback decodes the Out page. An overflowed step reports the
// merged measured demand and no numbers.
func (b *Backend) parseReadback(rb []byte, pos []gaussvol.Vec3, want gaussvol.Want) (gaussvol.StepResult, error) {
	le := binary.LittleEndian
	natoms := b.sys.N

	panicTree := le.Uint32(rb[outPanicTree:]) != 0
	panicScratch := le.Uint32(rb[outPanicScratch:]) != 0
	if panicTree || panicScratch {
		counts := make([]int, natoms)
		demandOff := b.bufs.outDemandOffset()
		nodeOff := b.bufs.outNodeCountOffset()
		for i := 0; i < natoms; i++ {
			d := int(le.Uint32(rb[demandOff+4*i:]))
			n := int(le.Uint32(rb[nodeOff+4*i:]))
			if n > d {
				d = n
			}
			counts[i] = d
		}
		return gaussvol.StepResult{
			Overflow:        panicTree,
			ScratchOverflow: panicScratch,
			Counts:          counts,
		}, nil
	}

	res := gaussvol.StepResult{
		Energy: float64(math.Float32frombits(le.Uint32(rb[outEnergy:]))),
		Volume: float64(math.Float32frombits(le.Uint32(rb[outVolume:]))),
		Stats: gaussvol.Stats{
			Sections:   b.layout.NumSections,
			Capacity:   b.layout.TotalSize,
			Used:       int(le.Uint32(rb[outUsed:])),
			MaxDepth:   int(le.Uint32(rb[outMaxDepth:])),
			Iterations: int(le.Uint32(rb[outIterations:])),
		},
	}

	if want&gaussvol.WantForces != 0 {
		gradOff := b.bufs.outGradOffset()
		forces := make([]gaussvol.Vec3, len(pos))
		for i := range forces {
			o := gradOff + 12*i
			forces[i] = gaussvol.Vec3{
				X: -float64(math.Float32frombits(le.Uint32(rb[o+0:]))),
				Y: -float64(math.Float32frombits(le.Uint32(rb[o+4:]))),
				Z: -float64(math.Float32frombits(le.Uint32(rb[o+8:]))),
			}
		}
		res.Forces = forces
	}
	return res, nil
}

// UpdateGammas re-uploads the per-atom statics after a gamma change.
// The engine has already rewritten the shared System slices.
func (b *Backend) UpdateGammas(gamma1, gamma2 []float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return gaussvol.ErrClosed
	}
	if b.bufs == nil {
		return nil
	}
	copy(b.sys.Gamma1, gamma1)
	copy(b.sys.Gamma2, gamma2)
	b.disp.queue.WriteBuffer(b.bufs.Atoms, 0, b.packAtoms())
	return nil
}

// Close releases buffers, pipelines, and the device. Idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if b.bufs != nil {
		b.disp.DestroyBuffers(b.bufs)
		b.bufs = nil
	}
	if b.disp != nil {
		b.disp.Close()
		b.disp = nil
	}
	if b.dev != nil {
		b.dev.Close()
		b.dev = nil
	}
	return nil
}
