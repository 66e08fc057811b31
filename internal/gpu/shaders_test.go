// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package gpu

import (
	"math"
	"strings"
	"testing"

	"github.com/gogpu/gaussvol/internal/overlap"
)

// TestShaderSourcesNonEmpty verifies that all kernel sources are
// embedded correctly.
func TestShaderSourcesNonEmpty(t *testing.T) {
	d := NewDispatcher(nil, nil)
	for i := Stage(0); i < StageCount; i++ {
		src := d.shaderSources[i]
		if src == "" {
			t.Errorf("%s shader source is empty", i)
			continue
		}
		if len(src) < 200 {
			t.Errorf("%s shader source suspiciously short: %d bytes", i, len(src))
		}
		if !strings.Contains(src, "fn main") {
			t.Errorf("%s shader has no main entry point", i)
		}
		if !strings.Contains(src, "@compute") {
			t.Errorf("%s shader is not a compute shader", i)
		}
	}
}

// TestShaderWorkgroupSize verifies every kernel uses the dispatch
// workgroup width the Go side divides by.
func TestShaderWorkgroupSize(t *testing.T) {
	d := NewDispatcher(nil, nil)
	want := "@workgroup_size(64"
	for i := Stage(0); i < StageCount; i++ {
		if !strings.Contains(d.shaderSources[i], want) {
			t.Errorf("%s shader does not declare %s)", i, want)
		}
	}
	if dispatchWGSize != overlap.WorkGroupSize {
		t.Errorf("dispatch workgroup size %d != section pad modulus %d",
			dispatchWGSize, overlap.WorkGroupSize)
	}
}

// TestShaderBindingsMatchLayouts verifies the binding declarations in
// each kernel agree with the bind group layout built on the Go side.
func TestShaderBindingsMatchLayouts(t *testing.T) {
	d := NewDispatcher(nil, nil)
	for i := Stage(0); i < StageCount; i++ {
		src := d.shaderSources[i]
		entries := stageBindGroupLayoutEntries(i)

		if got, want := strings.Count(src, "@binding("), len(entries); got != want {
			t.Errorf("%s shader declares %d bindings, layout has %d", i, got, want)
		}
		if !strings.Contains(src, "@binding(0) var<uniform>") {
			t.Errorf("%s shader does not bind Params as uniform at 0", i)
		}
		for _, e := range entries {
			marker := "@binding(" + string(rune('0'+e.Binding)) + ")"
			if !strings.Contains(src, marker) {
				t.Errorf("%s shader missing %s", i, marker)
			}
		}
	}
}

// TestShaderSourcesContainExpectedContent verifies each kernel carries
// the key elements of its pipeline phase.
func TestShaderSourcesContainExpectedContent(t *testing.T) {
	tests := []struct {
		stage    Stage
		required []string
	}{
		{StageResetTree, []string{"children_start", "section_state", "tree_size"}},
		{StageResetAccum, []string{"accum", "natoms"}},
		{StageInitTree, []string{"KFC", "switch_volume", "first_atom"}},
		{StageCountPairs, []string{"gauss_vol", "children_count", "cutoff2"}},
		{StagePrefixStarts, []string{"panic_tree", "children_start", "demand"}},
		{StageFillPairs, []string{"store_child", "GaussProd", "count_top", "count_bottom"}},
		{StageResetCompute, []string{"processed"}},
		{StageExpand, []string{"scratch", "panic_scratch", "iterations", "root_index"}},
		{StageCountNodes, []string{"atomicAdd", "max_depth"}},
		{StageResetSelfVol, []string{"self_volume", "vol_energy", "energy_cell"}},
		{StageSelfVolumes, []string{"fixed_add", "fold_node", "FIXED_SCALE", "energy_cell"}},
		{StageCollect, []string{"fixed_read", "bitcast"}},
		{StageReduceOut, []string{"energy_cell", "tree_size", "iterations"}},
		{StageInitRescan, []string{"gamma2", "KFC"}},
		{StageResetRescan, []string{"processed"}},
		{StageRescan, []string{"gauss_product", "gamma1i", "children_count"}},
	}

	d := NewDispatcher(nil, nil)
	for _, tt := range tests {
		t.Run(tt.stage.String(), func(t *testing.T) {
			src := d.shaderSources[tt.stage]
			for _, req := range tt.required {
				if !strings.Contains(src, req) {
					t.Errorf("%s shader missing required element: %q", tt.stage, req)
				}
			}
		})
	}
}

// The split-carry accumulator below mirrors fixed_add in
// self_volumes.wgsl and fixed_read in collect.wgsl word for word, so the
// device algorithm can be validated against the host's int64 fixed point
// without a device.

func floor32(x float32) float32 { return float32(math.Floor(float64(x))) }

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func mirrorFixedAdd(acc *[2]uint32, x float32) {
	scaled := x * float32(overlap.FixedScale)
	mag := floor32(abs32(scaled) + 0.5)
	hi := uint32(floor32(mag / 4294967296.0))
	lo := uint32(mag - float32(hi)*4294967296.0)
	if scaled < 0 {
		lo = ^lo
		hi = ^hi
		lo++
		if lo == 0 {
			hi++
		}
	}
	old := acc[0]
	acc[0] = old + lo
	if old+lo < old {
		acc[1]++
	}
	acc[1] += hi
}

func mirrorFixedRead(acc [2]uint32) float32 {
	lo, hi := acc[0], acc[1]
	neg := hi&0x80000000 != 0
	if neg {
		lo = ^lo
		hi = ^hi
		lo++
		if lo == 0 {
			hi++
		}
	}
	v := float32(hi) + float32(lo)/4294967296.0
	if neg {
		return -v
	}
	return v
}

func TestFixedPointMirrorRoundTrip(t *testing.T) {
	// Dyadic values are exact in both float32 and the fixed-point grid,
	// so the round trip must be equality, not approximation.
	tests := []struct {
		name string
		add  []float32
		want float32
	}{
		{"zero", nil, 0},
		{"positive", []float32{0.75}, 0.75},
		{"negative", []float32{-1.5}, -1.5},
		{"low word carry", []float32{0.75, 0.75}, 1.5},
		{"sign cancel", []float32{1.0, -0.25}, 0.75},
		{"net negative", []float32{0.5, -2.0}, -1.5},
		{"negative carry chain", []float32{-0.75, -0.75}, -1.5},
		{"high word", []float32{1024.0, 512.0}, 1536.0},
		{"one fixed ulp", []float32{1.0 / 4294967296.0}, 1.0 / 4294967296.0},
		{"half ulp rounds away", []float32{0.5 / 4294967296.0}, 1.0 / 4294967296.0},
		{"negative half ulp", []float32{-0.5 / 4294967296.0}, -1.0 / 4294967296.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var acc [2]uint32
			for _, x := range tt.add {
				mirrorFixedAdd(&acc, x)
			}
			if got := mirrorFixedRead(acc); got != tt.want {
				t.Errorf("accumulated %v: got %g, want %g", tt.add, got, tt.want)
			}
		})
	}
}

func TestFixedPointMirrorMatchesHost(t *testing.T) {
	// Interleaved signs, carries, and sub-ulp rounding must agree
	// exactly with the host's int64 accumulation of the same values.
	values := []float32{0.5, -0.25, 3.0, -1.75, 0.125, 0.75, -2.0,
		1.0 / 8589934592.0, -1.0 / 8589934592.0}

	var acc [2]uint32
	var ref int64
	for _, x := range values {
		mirrorFixedAdd(&acc, x)
		ref += overlap.ToFixed(float64(x))
	}

	got := float64(mirrorFixedRead(acc))
	want := overlap.FromFixed(ref)
	if got != want {
		t.Errorf("mirror total %g, host total %g", got, want)
	}
}
