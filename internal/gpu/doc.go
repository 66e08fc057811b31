// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

// Package gpu implements the wgpu compute backend of the overlap engine.
//
// The backend mirrors the CPU pipeline in internal/overlap stage for
// stage: every construction, reduction, and rescan phase becomes one
// compute dispatch, and a full step is a single command submission with
// a single fence wait. The host observes device state exactly once per
// step, at the readback after the fence; an overflowed step is detected
// there and abandoned without ever having blocked mid-pipeline.
//
// Per-section phases run one workgroup per tree section with lane 0
// walking the section serially, the same slot order as the CPU path, so
// results are reproducible run to run on the same device. Cross-section
// per-atom accumulation uses 64-bit fixed point split across u32 atomic
// pairs, matching the CPU fixed-point convention.
//
// All arithmetic is float32; the backend rejects Double precision.
package gpu
