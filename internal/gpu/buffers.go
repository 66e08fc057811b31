// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gaussvol/internal/overlap"
	"github.com/gogpu/gaussvol/internal/tree"
)

// Device struct strides in bytes. These must match the WGSL struct
// layouts in shaders/.
const (
	atomStride         = 32 // AtomParams: 4 f32 + 4 u32
	sectionStateStride = 32 // SectionState: partition statics + occupancy + energy cell
	topoStride         = 48 // NodeTopo: 12 i32
	gaussStride        = 48 // NodeGauss: 12 f32
	dvStride           = 32 // NodeDV: 2 vec4<f32>
	accumStride        = 32 // 4 fixed-point values as u32 lo/hi pairs
	scratchStride      = 8  // candidate: vec2<u32> (parent slot, atom)

	// outHeaderSize is the fixed header of the Out buffer: panic flags,
	// occupancy counters, energy, and volume. The per-atom regions
	// (gradients, self-volumes, demand, node counts) follow it.
	outHeaderSize = 32

	// accumValues is the number of fixed-point accumulators per atom:
	// gradient x/y/z and self-volume.
	accumValues = 4
)

// Out buffer header offsets.
const (
	outPanicTree    = 0
	outPanicScratch = 4
	outUsed         = 8
	outMaxDepth     = 12
	outIterations   = 16
	outEnergy       = 20
	outVolume       = 24
)

// Buffers holds the device-side mirror of one tree layout: the node
// store split by concern, the per-atom statics and accumulators, the
// construction scratch, and the output/staging pair for readback.
// Buffers are allocated per layout and live until the next resize.
type Buffers struct {
	// Config holds the two Params uniforms, indexed by pass: 0 is the
	// enlarged-radius pass, 1 the nominal rescan.
	Config [2]hal.Buffer

	// Atoms holds per-atom statics: radii for both passes, gammas for
	// both passes, the hydrogen flag, and the root slot/section
	// assignment. Rewritten by UpdateGammas.
	Atoms hal.Buffer

	// Positions holds the per-step atom coordinates, 3 f32 per atom.
	Positions hal.Buffer

	// SectionState holds one record per section: the static partition
	// (tree pointer, padded size, first atom, atom count) followed by
	// the mutable registers (occupancy, sweep count, energy cell). The
	// statics are uploaded once per layout; the step kernels reset
	// only the mutable tail.
	SectionState hal.Buffer

	// NodesTopo, NodesGauss, NodesDV mirror the tree store arrays:
	// topology and worklist flags, Gaussian and volume fields, and the
	// adjoint vectors.
	NodesTopo  hal.Buffer
	NodesGauss hal.Buffer
	NodesDV    hal.Buffer

	// Accum holds the per-atom fixed-point accumulators as u32 lo/hi
	// pairs, added to with split-carry atomics.
	Accum hal.Buffer

	// Scratch buffers expansion candidates, per section.
	Scratch hal.Buffer

	// Out collects everything the host reads per step; Staging is its
	// map-readable copy target.
	Out     hal.Buffer
	Staging hal.Buffer

	// OutSize is the byte size of Out and Staging.
	OutSize uint64

	natoms       uint32
	nsections    uint32
	totalSlots   uint32
	scratchSlots uint32
}

// Offsets of the per-atom regions inside the Out buffer.

func (b *Buffers) outGradOffset() int      { return outHeaderSize }
func (b *Buffers) outSelfVolOffset() int   { return outHeaderSize + 12*int(b.natoms) }
func (b *Buffers) outDemandOffset() int    { return outHeaderSize + 16*int(b.natoms) }
func (b *Buffers) outNodeCountOffset() int { return outHeaderSize + 20*int(b.natoms) }

// bufSizes holds the computed byte sizes for one layout.
type bufSizes struct {
	config       uint64
	atoms        uint64
	positions    uint64
	sectionState uint64
	topo         uint64
	gauss        uint64
	dv           uint64
	accum        uint64
	scratch      uint64
	out          uint64
}

func computeBufferSizes(layout *tree.Layout, scratchSlots int) bufSizes {
	natoms := uint64(layout.NumAtoms)
	nsections := uint64(layout.NumSections)
	total := uint64(layout.TotalSize)
	return bufSizes{
		config:       Config{}.sizeInBytes(),
		atoms:        natoms * atomStride,
		positions:    natoms * 3 * 4,
		sectionState: nsections * sectionStateStride,
		topo:         total * topoStride,
		gauss:        total * gaussStride,
		dv:           total * dvStride,
		accum:        natoms * accumStride,
		scratch:      nsections * uint64(scratchSlots) * scratchStride,
		out:          outHeaderSize + natoms*24,
	}
}

// createBuffer creates one GPU buffer with a minimum size guarantee.
func (d *Dispatcher) createBuffer(label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
	const minBufSize = 4
	if size < minBufSize {
		size = minBufSize
	}
	return d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
}

// AllocateBuffers creates the device buffers for a tree layout. The
// caller must call DestroyBuffers before allocating for a new layout;
// a resize never relocates live node data.
func (d *Dispatcher) AllocateBuffers(layout *tree.Layout) (*Buffers, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.initialized {
		return nil, fmt.Errorf("gpu: dispatcher not initialized, call Init() first")
	}

	scratchSlots := layout.ScratchSlots(overlap.WorkGroupSize, overlap.ScratchSlotsPerLane)
	sz := computeBufferSizes(layout, scratchSlots)

	bufs := &Buffers{
		OutSize:      sz.out,
		natoms:       uint32(layout.NumAtoms),
		nsections:    uint32(layout.NumSections),
		totalSlots:   uint32(layout.TotalSize),
		scratchSlots: uint32(scratchSlots),
	}

	storageCPU := gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
	storageGPU := gputypes.BufferUsageStorage
	uniformCPU := gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst
	storageOut := gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	stagingDst := gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst

	type bufSpec struct {
		target   *hal.Buffer
		label    string
		size     uint64
		usage    gputypes.BufferUsage
		zeroInit bool // atomics and flags must start from zero
	}

	specs := []bufSpec{
		{&bufs.Config[0], "overlap_params_coarse", sz.config, uniformCPU, false},
		{&bufs.Config[1], "overlap_params_nominal", sz.config, uniformCPU, false},
		{&bufs.Atoms, "overlap_atoms", sz.atoms, storageCPU, false},
		{&bufs.Positions, "overlap_positions", sz.positions, storageCPU, false},
		{&bufs.SectionState, "overlap_section_state", sz.sectionState, storageCPU, false},
		{&bufs.NodesTopo, "overlap_nodes_topo", sz.topo, storageGPU, false},
		{&bufs.NodesGauss, "overlap_nodes_gauss", sz.gauss, storageGPU, false},
		{&bufs.NodesDV, "overlap_nodes_dv", sz.dv, storageGPU, false},
		{&bufs.Accum, "overlap_accum", sz.accum, storageCPU, true},
		{&bufs.Scratch, "overlap_scratch", sz.scratch, storageGPU, false},
		{&bufs.Out, "overlap_out", sz.out, storageOut, true},
		{&bufs.Staging, "overlap_staging", sz.out, stagingDst, false},
	}

	for _, s := range specs {
		buf, err := d.createBuffer(s.label, s.size, s.usage)
		if err != nil {
			d.destroyBuffersLocked(bufs)
			return nil, fmt.Errorf("gpu: create %s buffer: %w", s.label, err)
		}
		*s.target = buf

		if s.zeroInit && s.size > 0 {
			zeros := make([]byte, s.size)
			d.queue.WriteBuffer(buf, 0, zeros)
		}
	}

	slogger().Debug("gpu: buffers allocated",
		"atoms", layout.NumAtoms,
		"sections", layout.NumSections,
		"slots", layout.TotalSize,
		"scratch_slots", scratchSlots,
		"node_bytes", sz.topo+sz.gauss+sz.dv,
		"out_bytes", sz.out)

	return bufs, nil
}

// DestroyBuffers releases all device buffers of a layout.
func (d *Dispatcher) DestroyBuffers(bufs *Buffers) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	d.destroyBuffersLocked(bufs)
}

func (d *Dispatcher) destroyBuffersLocked(bufs *Buffers) {
	if bufs == nil {
		return
	}

	destroyBuf := func(b hal.Buffer) {
		if b != nil {
			d.device.DestroyBuffer(b)
		}
	}

	destroyBuf(bufs.Config[0])
	destroyBuf(bufs.Config[1])
	destroyBuf(bufs.Atoms)
	destroyBuf(bufs.Positions)
	destroyBuf(bufs.SectionState)
	destroyBuf(bufs.NodesTopo)
	destroyBuf(bufs.NodesGauss)
	destroyBuf(bufs.NodesDV)
	destroyBuf(bufs.Accum)
	destroyBuf(bufs.Scratch)
	destroyBuf(bufs.Out)
	destroyBuf(bufs.Staging)

	*bufs = Buffers{}
}

// stageBindGroupEntries returns the bind group entries for a stage,
// mapping each binding index to the right buffer. pass picks the Params
// uniform.
func stageBindGroupEntries(stage Stage, bufs *Buffers, pass int) []gputypes.BindGroupEntry {
	entry := func(binding uint32, buf hal.Buffer) gputypes.BindGroupEntry {
		return gputypes.BindGroupEntry{
			Binding: binding,
			Resource: gputypes.BufferBinding{
				Buffer: buf.NativeHandle(),
				Offset: 0,
				Size:   0, // entire buffer
			},
		}
	}
	config := bufs.Config[pass&1]

	switch stage {
	case StageResetTree:
		return []gputypes.BindGroupEntry{
			entry(0, config),
			entry(1, bufs.NodesTopo),
			entry(2, bufs.NodesGauss),
			entry(3, bufs.NodesDV),
			entry(4, bufs.SectionState),
		}

	case StageResetAccum:
		return []gputypes.BindGroupEntry{
			entry(0, config),
			entry(1, bufs.Accum),
		}

	case StageInitTree:
		return []gputypes.BindGroupEntry{
			entry(0, config),
			entry(1, bufs.Atoms),
			entry(2, bufs.Positions),
			entry(3, bufs.NodesTopo),
			entry(4, bufs.NodesGauss),
			entry(5, bufs.SectionState),
		}

	case StageCountPairs:
		return []gputypes.BindGroupEntry{
			entry(0, config),
			entry(1, bufs.Atoms),
			entry(2, bufs.NodesGauss),
			entry(3, bufs.NodesTopo),
		}

	case StagePrefixStarts:
		return []gputypes.BindGroupEntry{
			entry(0, config),
			entry(1, bufs.NodesTopo),
			entry(2, bufs.SectionState),
			entry(3, bufs.Out),
		}

	case StageFillPairs:
		return []gputypes.BindGroupEntry{
			entry(0, config),
			entry(1, bufs.Atoms),
			entry(2, bufs.NodesGauss),
			entry(3, bufs.NodesTopo),
			entry(4, bufs.NodesDV),
		}

	case StageResetCompute:
		return []gputypes.BindGroupEntry{
			entry(0, config),
			entry(1, bufs.NodesTopo),
		}

	case StageExpand:
		return []gputypes.BindGroupEntry{
			entry(0, config),
			entry(1, bufs.Atoms),
			entry(2, bufs.NodesTopo),
			entry(3, bufs.NodesGauss),
			entry(4, bufs.NodesDV),
			entry(5, bufs.SectionState),
			entry(6, bufs.Scratch),
			entry(7, bufs.Out),
		}

	case StageCountNodes:
		return []gputypes.BindGroupEntry{
			entry(0, config),
			entry(1, bufs.NodesTopo),
			entry(2, bufs.Out),
		}

	case StageResetSelfVol:
		return []gputypes.BindGroupEntry{
			entry(0, config),
			entry(1, bufs.NodesTopo),
			entry(2, bufs.NodesGauss),
			entry(3, bufs.NodesDV),
			entry(4, bufs.SectionState),
		}

	case StageSelfVolumes:
		return []gputypes.BindGroupEntry{
			entry(0, config),
			entry(1, bufs.NodesTopo),
			entry(2, bufs.NodesGauss),
			entry(3, bufs.NodesDV),
			entry(4, bufs.SectionState),
			entry(5, bufs.Accum),
		}

	case StageCollect:
		return []gputypes.BindGroupEntry{
			entry(0, config),
			entry(1, bufs.Accum),
			entry(2, bufs.Out),
		}

	case StageReduceOut:
		return []gputypes.BindGroupEntry{
			entry(0, config),
			entry(1, bufs.SectionState),
			entry(2, bufs.Out),
		}

	case StageInitRescan:
		return []gputypes.BindGroupEntry{
			entry(0, config),
			entry(1, bufs.Atoms),
			entry(2, bufs.Positions),
			entry(3, bufs.NodesGauss),
			entry(4, bufs.NodesDV),
		}

	case StageResetRescan:
		return []gputypes.BindGroupEntry{
			entry(0, config),
			entry(1, bufs.NodesTopo),
		}

	case StageRescan:
		return []gputypes.BindGroupEntry{
			entry(0, config),
			entry(1, bufs.Atoms),
			entry(2, bufs.SectionState),
			entry(3, bufs.NodesTopo),
			entry(4, bufs.NodesGauss),
			entry(5, bufs.NodesDV),
		}

	default:
		return nil
	}
}
