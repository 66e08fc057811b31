// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

// dispatcher.go defines the GPU dispatch orchestration for the overlap
// pipeline. It manages shader compilation, pipeline creation, and the
// per-step dispatch sequence that mirrors the CPU phases in
// internal/overlap.

package gpu

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Shader sources are embedded from the shaders directory. Each file is
// one stage of the overlap pipeline.

//go:embed shaders/reset_tree.wgsl
var shaderResetTree string

//go:embed shaders/reset_accum.wgsl
var shaderResetAccum string

//go:embed shaders/init_tree.wgsl
var shaderInitTree string

//go:embed shaders/count_pairs.wgsl
var shaderCountPairs string

//go:embed shaders/prefix_starts.wgsl
var shaderPrefixStarts string

//go:embed shaders/fill_pairs.wgsl
var shaderFillPairs string

//go:embed shaders/reset_compute.wgsl
var shaderResetCompute string

//go:embed shaders/expand.wgsl
var shaderExpand string

//go:embed shaders/count_nodes.wgsl
var shaderCountNodes string

//go:embed shaders/reset_selfvol.wgsl
var shaderResetSelfVol string

//go:embed shaders/self_volumes.wgsl
var shaderSelfVolumes string

//go:embed shaders/collect.wgsl
var shaderCollect string

//go:embed shaders/reduce_out.wgsl
var shaderReduceOut string

//go:embed shaders/init_rescan.wgsl
var shaderInitRescan string

//go:embed shaders/reset_rescan.wgsl
var shaderResetRescan string

//go:embed shaders/rescan.wgsl
var shaderRescan string

const (
	// dispatchWGSize is the workgroup size used by all overlap compute
	// shaders. This matches the WG_SIZE constant in every WGSL kernel
	// and the section pad modulus of the tree layout.
	dispatchWGSize = 64

	// fenceTimeout is the maximum time to wait for a step to complete.
	fenceTimeout = 5 * time.Second
)

// Stage identifies one compute dispatch of the overlap pipeline. The
// construction stages run once per step; the reduction stages run once
// per pass.
type Stage int

const (
	// StageResetTree clears every node slot and the per-section
	// registers. One thread per slot.
	StageResetTree Stage = iota

	// StageResetAccum zeroes the fixed-point per-atom accumulator
	// words. One thread per word.
	StageResetAccum

	// StageInitTree writes the 1-body root nodes from the enlarged
	// atom Gaussians and sets the section occupancy. One thread per atom.
	StageInitTree

	// StageCountPairs counts the admissible 2-body overlaps under each
	// root. One thread per atom, scanning partners of higher index.
	StageCountPairs

	// StagePrefixStarts reserves contiguous child ranges below the
	// section's roots, clamping and raising the tree panic flag on
	// overflow. One workgroup per section, lane 0 scans serially.
	StagePrefixStarts

	// StageFillPairs re-runs the pair scan and stores the 2-body nodes
	// two-ended into the reserved ranges. One thread per atom.
	StageFillPairs

	// StageResetCompute arms the processed/eligible flags for the
	// iterative expansion. One thread per slot.
	StageResetCompute

	// StageExpand builds levels 3 and up breadth-first. One workgroup
	// per section, lane 0 runs the sweep loop serially in slot order.
	StageExpand

	// StageCountNodes measures per-atom node demand and the maximum
	// depth of the built tree. One thread per slot.
	StageCountNodes

	// StageResetSelfVol clears the reduction state: self-volumes,
	// adjoints, reported/processed flags, energy cells. One thread per
	// slot.
	StageResetSelfVol

	// StageSelfVolumes folds the tree bottom-up, accumulating energy,
	// self-volumes, and fixed-point gradients. One workgroup per
	// section, lane 0 folds serially in slot order.
	StageSelfVolumes

	// StageCollect converts the fixed-point accumulators into the
	// output gradient array. One thread per atom.
	StageCollect

	// StageReduceOut rolls per-section energies and occupancy counters
	// into the output header. A single workgroup.
	StageReduceOut

	// StageInitRescan rewrites the root nodes with nominal-radius
	// Gaussians and second-pass gammas. One thread per atom.
	StageInitRescan

	// StageResetRescan arms the flags for the top-down refresh. One
	// thread per slot.
	StageResetRescan

	// StageRescan propagates refreshed Gaussians down the frozen
	// topology. One workgroup per section, lane 0 sweeps serially.
	StageRescan

	// StageCount is the total number of pipeline stages.
	StageCount
)

// String returns the shader name of the compute stage.
func (s Stage) String() string {
	switch s {
	case StageResetTree:
		return "reset_tree"
	case StageResetAccum:
		return "reset_accum"
	case StageInitTree:
		return "init_tree"
	case StageCountPairs:
		return "count_pairs"
	case StagePrefixStarts:
		return "prefix_starts"
	case StageFillPairs:
		return "fill_pairs"
	case StageResetCompute:
		return "reset_compute"
	case StageExpand:
		return "expand"
	case StageCountNodes:
		return "count_nodes"
	case StageResetSelfVol:
		return "reset_selfvol"
	case StageSelfVolumes:
		return "self_volumes"
	case StageCollect:
		return "collect"
	case StageReduceOut:
		return "reduce_out"
	case StageInitRescan:
		return "init_rescan"
	case StageResetRescan:
		return "reset_rescan"
	case StageRescan:
		return "rescan"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Config holds the per-pass parameters that map to the Params uniform
// buffer in the WGSL kernels.
//
// This struct must match the Params struct defined in every kernel:
// eight u32 fields followed by four f32 fields, 48 bytes. Two instances
// are uploaded per layout, one per pass; PassNominal selects between the
// enlarged-radius and nominal-radius parameter sets on the device.
type Config struct {
	NumAtoms     uint32
	NumSections  uint32
	TotalSlots   uint32
	ScratchSlots uint32 // per-section candidate capacity

	UseCutoff   uint32
	UsePeriodic uint32
	PassNominal uint32 // 0 = enlarged-radius pass, 1 = nominal rescan
	MaxOrder    uint32

	Cutoff2 float32 // squared cutoff, nm²
	BoxX    float32
	BoxY    float32
	BoxZ    float32
}

// sizeInBytes returns the byte size of Config: 12 fields * 4 bytes.
func (c Config) sizeInBytes() uint64 { return 12 * 4 }

// toBytes serializes Config in little-endian order, matching the WGSL
// Params layout.
func (c Config) toBytes() []byte {
	buf := make([]byte, c.sizeInBytes())
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], c.NumAtoms)
	le.PutUint32(buf[4:8], c.NumSections)
	le.PutUint32(buf[8:12], c.TotalSlots)
	le.PutUint32(buf[12:16], c.ScratchSlots)
	le.PutUint32(buf[16:20], c.UseCutoff)
	le.PutUint32(buf[20:24], c.UsePeriodic)
	le.PutUint32(buf[24:28], c.PassNominal)
	le.PutUint32(buf[28:32], c.MaxOrder)
	le.PutUint32(buf[32:36], math.Float32bits(c.Cutoff2))
	le.PutUint32(buf[36:40], math.Float32bits(c.BoxX))
	le.PutUint32(buf[40:44], math.Float32bits(c.BoxY))
	le.PutUint32(buf[44:48], math.Float32bits(c.BoxZ))
	return buf
}

// Dispatcher owns the compiled compute pipelines of the overlap backend
// and encodes the per-step dispatch sequence. One dispatcher serves one
// device; buffers vary per layout and are passed in.
type Dispatcher struct {
	mu sync.RWMutex

	device hal.Device
	queue  hal.Queue

	pipelines       [StageCount]hal.ComputePipeline
	pipelineLayouts [StageCount]hal.PipelineLayout
	bgLayouts       [StageCount]hal.BindGroupLayout
	shaderModules   [StageCount]hal.ShaderModule
	shaderSources   [StageCount]string

	initialized bool
	wgSize      uint32
}

// NewDispatcher creates a dispatcher attached to the given HAL device
// and queue. Init must be called before Run.
func NewDispatcher(device hal.Device, queue hal.Queue) *Dispatcher {
	d := &Dispatcher{
		device: device,
		queue:  queue,
		wgSize: dispatchWGSize,
	}
	d.shaderSources = [StageCount]string{
		StageResetTree:    shaderResetTree,
		StageResetAccum:   shaderResetAccum,
		StageInitTree:     shaderInitTree,
		StageCountPairs:   shaderCountPairs,
		StagePrefixStarts: shaderPrefixStarts,
		StageFillPairs:    shaderFillPairs,
		StageResetCompute: shaderResetCompute,
		StageExpand:       shaderExpand,
		StageCountNodes:   shaderCountNodes,
		StageResetSelfVol: shaderResetSelfVol,
		StageSelfVolumes:  shaderSelfVolumes,
		StageCollect:      shaderCollect,
		StageReduceOut:    shaderReduceOut,
		StageInitRescan:   shaderInitRescan,
		StageResetRescan:  shaderResetRescan,
		StageRescan:       shaderRescan,
	}
	return d
}

// stageBindGroupLayoutEntries returns the bind group layout entries for
// a compute stage. These match the @group(0) @binding(N) annotations in
// the corresponding WGSL kernel exactly.
func stageBindGroupLayoutEntries(stage Stage) []gputypes.BindGroupLayoutEntry {
	// Every stage has the Params uniform at binding 0.
	configUniform := gputypes.BindGroupLayoutEntry{
		Binding:    0,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	}
	storageRO := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		}
	}
	storageRW := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}
	}

	switch stage {
	case StageResetTree:
		// @binding(1) topo  @binding(2) gauss  @binding(3) dv
		// @binding(4) section_state
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRW(1), storageRW(2), storageRW(3), storageRW(4),
		}

	case StageResetAccum:
		// @binding(1) accum
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRW(1),
		}

	case StageInitTree:
		// @binding(1) atoms  @binding(2) positions  @binding(3) topo
		// @binding(4) gauss  @binding(5) section_state
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRO(1), storageRO(2),
			storageRW(3), storageRW(4), storageRW(5),
		}

	case StageCountPairs:
		// @binding(1) atoms  @binding(2) gauss  @binding(3) topo
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRO(1), storageRO(2), storageRW(3),
		}

	case StagePrefixStarts:
		// @binding(1) topo  @binding(2) section_state  @binding(3) out
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRW(1), storageRW(2), storageRW(3),
		}

	case StageFillPairs:
		// @binding(1) atoms  @binding(2) gauss  @binding(3) topo
		// @binding(4) dv
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRO(1), storageRW(2), storageRW(3), storageRW(4),
		}

	case StageResetCompute:
		// @binding(1) topo
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRW(1),
		}

	case StageExpand:
		// @binding(1) atoms  @binding(2) topo  @binding(3) gauss
		// @binding(4) dv  @binding(5) section_state  @binding(6) scratch
		// @binding(7) out
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRO(1),
			storageRW(2), storageRW(3), storageRW(4),
			storageRW(5), storageRW(6), storageRW(7),
		}

	case StageCountNodes:
		// @binding(1) topo  @binding(2) out
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRO(1), storageRW(2),
		}

	case StageResetSelfVol:
		// @binding(1) topo  @binding(2) gauss  @binding(3) dv
		// @binding(4) section_state
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRW(1), storageRW(2), storageRW(3), storageRW(4),
		}

	case StageSelfVolumes:
		// @binding(1) topo  @binding(2) gauss  @binding(3) dv
		// @binding(4) section_state  @binding(5) accum
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRW(1), storageRW(2), storageRW(3),
			storageRW(4), storageRW(5),
		}

	case StageCollect:
		// @binding(1) accum  @binding(2) out
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRO(1), storageRW(2),
		}

	case StageReduceOut:
		// @binding(1) section_state  @binding(2) out
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRO(1), storageRW(2),
		}

	case StageInitRescan:
		// @binding(1) atoms  @binding(2) positions  @binding(3) gauss
		// @binding(4) dv
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRO(1), storageRO(2), storageRW(3), storageRW(4),
		}

	case StageResetRescan:
		// @binding(1) topo
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRW(1),
		}

	case StageRescan:
		// @binding(1) atoms  @binding(2) section_state  @binding(3) topo
		// @binding(4) gauss  @binding(5) dv
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRO(1), storageRO(2),
			storageRW(3), storageRW(4), storageRW(5),
		}

	default:
		return nil
	}
}

// Init compiles all WGSL kernels and creates compute pipelines. Safe to
// call more than once; subsequent calls are no-ops.
func (d *Dispatcher) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	for i := Stage(0); i < StageCount; i++ {
		src := d.shaderSources[i]
		if src == "" {
			return fmt.Errorf("gpu: missing shader source for stage %s", i)
		}

		stageName := fmt.Sprintf("overlap_%s", i)

		module, err := createShaderModule(d.device, stageName, src)
		if err != nil {
			d.destroyPartialInit(i)
			return fmt.Errorf("gpu: create shader module for %s: %w", i, err)
		}
		d.shaderModules[i] = module

		entries := stageBindGroupLayoutEntries(i)
		bgLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   stageName + "_bgl",
			Entries: entries,
		})
		if err != nil {
			d.destroyPartialInit(i + 1) // module was already stored
			return fmt.Errorf("gpu: create bind group layout for %s: %w", i, err)
		}
		d.bgLayouts[i] = bgLayout

		pipelineLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
			Label:            stageName + "_pl",
			BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("gpu: create pipeline layout for %s: %w", i, err)
		}
		d.pipelineLayouts[i] = pipelineLayout

		pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label:  stageName,
			Layout: pipelineLayout,
			Compute: hal.ComputeState{
				Module:     module,
				EntryPoint: "main",
			},
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("gpu: create compute pipeline for %s: %w", i, err)
		}
		d.pipelines[i] = pipeline

		slogger().Debug("gpu: pipeline created",
			"stage", i.String(),
			"bindings", len(entries),
			"shader_bytes", len(src))
	}

	slogger().Info("gpu: all pipelines initialized", "stages", int(StageCount))

	d.initialized = true
	return nil
}

// destroyPartialInit cleans up resources for stages [0, upTo) during a
// failed Init, so partial initialization never leaks.
func (d *Dispatcher) destroyPartialInit(upTo Stage) {
	for j := Stage(0); j < upTo; j++ {
		if d.pipelines[j] != nil {
			d.device.DestroyComputePipeline(d.pipelines[j])
			d.pipelines[j] = nil
		}
		if d.pipelineLayouts[j] != nil {
			d.device.DestroyPipelineLayout(d.pipelineLayouts[j])
			d.pipelineLayouts[j] = nil
		}
		if d.bgLayouts[j] != nil {
			d.device.DestroyBindGroupLayout(d.bgLayouts[j])
			d.bgLayouts[j] = nil
		}
		if d.shaderModules[j] != nil {
			d.device.DestroyShaderModule(d.shaderModules[j])
			d.shaderModules[j] = nil
		}
	}
}

// Close releases all pipelines and modules. The dispatcher must be
// re-initialized before further use.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.destroyPartialInit(StageCount)
	d.initialized = false
}

// ComputeWorkgroupCount returns the workgroup count for a stage given
// its element count.
//
// Parallel stages use ceiling division by the workgroup size. The
// section-serial stages dispatch one workgroup per section with lane 0
// doing the section's work, and StageReduceOut is a single workgroup.
func (d *Dispatcher) ComputeWorkgroupCount(stage Stage, elementCount uint32) uint32 {
	if elementCount == 0 {
		return 0
	}

	switch stage {
	case StagePrefixStarts, StageExpand, StageSelfVolumes, StageRescan:
		// One workgroup per section; lane 0 walks the section serially
		// in slot order, which keeps device results reproducible.
		return elementCount

	case StageReduceOut:
		return 1

	default:
		return (elementCount + d.wgSize - 1) / d.wgSize
	}
}

// stageDispatch holds parameters for a single compute stage dispatch.
// pass selects which Params uniform the stage binds.
type stageDispatch struct {
	stage    Stage
	elements uint32
	pass     int
}

// dispatchResources tracks per-step GPU resources for cleanup.
type dispatchResources struct {
	device     hal.Device
	bindGroups []hal.BindGroup
	cmdBuf     hal.CommandBuffer
	fence      hal.Fence
}

// cleanup destroys all tracked per-step resources.
func (r *dispatchResources) cleanup() {
	if r.fence != nil {
		r.device.DestroyFence(r.fence)
	}
	if r.cmdBuf != nil {
		r.device.FreeCommandBuffer(r.cmdBuf)
	}
	for _, g := range r.bindGroups {
		r.device.DestroyBindGroup(g)
	}
}

// Run encodes the given stage sequence into one command buffer, appends
// the readback copy into the staging buffer, submits, and blocks on the
// fence. This is the backend's single device synchronization per step.
func (d *Dispatcher) Run(bufs *Buffers, stages []stageDispatch) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.initialized {
		return fmt.Errorf("gpu: dispatcher not initialized, call Init() first")
	}
	if bufs == nil {
		return fmt.Errorf("gpu: buffers must not be nil")
	}

	res := &dispatchResources{device: d.device}
	defer res.cleanup()

	if err := d.encodeComputeStages(res, bufs, stages); err != nil {
		return err
	}
	return d.submitAndWait(res)
}

// encodeComputeStages records all compute passes and the final staging
// copy into a command buffer.
func (d *Dispatcher) encodeComputeStages(
	res *dispatchResources,
	bufs *Buffers,
	stages []stageDispatch,
) error {
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "overlap_step",
	})
	if err != nil {
		return fmt.Errorf("gpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("overlap_step"); err != nil {
		return fmt.Errorf("gpu: begin encoding: %w", err)
	}

	for _, sd := range stages {
		wgCount := d.ComputeWorkgroupCount(sd.stage, sd.elements)
		if wgCount == 0 {
			continue
		}

		bg, bgErr := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:   fmt.Sprintf("overlap_%s_bg", sd.stage),
			Layout:  d.bgLayouts[sd.stage],
			Entries: stageBindGroupEntries(sd.stage, bufs, sd.pass),
		})
		if bgErr != nil {
			encoder.DiscardEncoding()
			return fmt.Errorf("gpu: create bind group for %s: %w", sd.stage, bgErr)
		}
		res.bindGroups = append(res.bindGroups, bg)

		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{
			Label: fmt.Sprintf("overlap_%s", sd.stage),
		})
		pass.SetPipeline(d.pipelines[sd.stage])
		pass.SetBindGroup(0, bg, nil)
		pass.Dispatch(wgCount, 1, 1)
		pass.End()

		slogger().Debug("gpu: dispatched stage",
			"stage", sd.stage.String(),
			"elements", sd.elements,
			"workgroups", wgCount)
	}

	encoder.CopyBufferToBuffer(bufs.Out, bufs.Staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: bufs.OutSize},
	})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("gpu: end encoding: %w", err)
	}
	res.cmdBuf = cmdBuf
	return nil
}

// submitAndWait submits the command buffer and waits for completion.
func (d *Dispatcher) submitAndWait(res *dispatchResources) error {
	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("gpu: create fence: %w", err)
	}
	res.fence = fence

	if err := d.queue.Submit([]hal.CommandBuffer{res.cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("gpu: submit: %w", err)
	}

	ok, err := d.device.Wait(fence, 1, fenceTimeout)
	if err != nil {
		return fmt.Errorf("gpu: wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("gpu: timeout after %v", fenceTimeout)
	}
	return nil
}
