// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package tree owns the section-partitioned overlap node store: capacity
// planning, buffer layout, and the regrow policy.
package tree

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Layout describes the section partition of the node array. Sections are
// contiguous, independently sized slices of one flat array; each section
// is owned by exactly one compute unit and writes never cross section
// boundaries. Atoms are assigned to sections so that predicted overlap
// counts, not atom counts, balance across sections.
type Layout struct {
	// NumAtoms and NumSections fix the partition shape.
	NumAtoms    int
	NumSections int

	// Boost is the capacity multiplier applied to the per-atom overlap
	// predictions. ScratchBoost multiplies the construction scratch.
	Boost        int
	ScratchBoost int

	// PadModulus is the alignment of section capacities (the device
	// workgroup width).
	PadModulus int

	// NOverlaps holds the per-atom overlap predictions this layout was
	// built from.
	NOverlaps []int

	// SectionOf maps atom -> section. FirstAtom/AtomCount give each
	// section's contiguous atom range.
	SectionOf []int
	FirstAtom []int
	AtomCount []int

	// SectionSize is the padded node capacity per section. TreePointer
	// is the first global slot of each section. AtomTreePointer is the
	// global slot of each atom's 1-body root node.
	SectionSize     []int
	TreePointer     []int
	AtomTreePointer []int

	// TotalSize is the summed padded capacity.
	TotalSize int
}

// NewLayout plans the section partition for the given per-atom overlap
// predictions.
//
// The load target is max(total/(S−1), max(noverlaps)): dividing by S−1
// rather than S deliberately leaves slack in the last section, and no
// section may be smaller than the largest single atom demand.
func NewLayout(noverlaps []int, nsections, boost, scratchBoost, padModulus int) (*Layout, error) {
	n := len(noverlaps)
	if n == 0 {
		return nil, fmt.Errorf("tree: no atoms")
	}
	if boost < 1 {
		boost = 1
	}
	if scratchBoost < 1 {
		scratchBoost = 1
	}
	if padModulus < 1 {
		padModulus = 1
	}
	if nsections < 1 {
		nsections = 1
	}
	if nsections > n {
		nsections = n
	}

	prefix := make([]float64, n)
	maxn := 0
	for i, c := range noverlaps {
		if c < 1 {
			return nil, fmt.Errorf("tree: atom %d has overlap prediction %d, need >= 1", i, c)
		}
		if c > maxn {
			maxn = c
		}
		prefix[i] = float64(c)
	}
	floats.CumSum(prefix, prefix)
	total := int(prefix[n-1])

	load := total
	if nsections > 1 {
		load = total / (nsections - 1)
		if maxn > load {
			load = maxn
		}
	}

	l := &Layout{
		NumAtoms:        n,
		NumSections:     nsections,
		Boost:           boost,
		ScratchBoost:    scratchBoost,
		PadModulus:      padModulus,
		NOverlaps:       append([]int(nil), noverlaps...),
		SectionOf:       make([]int, n),
		FirstAtom:       make([]int, nsections),
		AtomCount:       make([]int, nsections),
		SectionSize:     make([]int, nsections),
		TreePointer:     make([]int, nsections),
		AtomTreePointer: make([]int, n),
	}

	// Bucket atoms by their exclusive prefix sum. Buckets are monotone in
	// atom index, so each section covers a contiguous atom range.
	raw := make([]int, nsections)
	for i := 0; i < n; i++ {
		excl := int(prefix[i]) - noverlaps[i]
		s := excl / load
		if s > nsections-1 {
			s = nsections - 1
		}
		l.SectionOf[i] = s
		if l.AtomCount[s] == 0 {
			l.FirstAtom[s] = i
		}
		l.AtomCount[s]++
		raw[s] += noverlaps[i]
	}

	offset := 0
	for s := 0; s < nsections; s++ {
		size := raw[s] * boost
		size = roundUp(size, padModulus)
		if size < padModulus {
			size = padModulus
		}
		l.SectionSize[s] = size
		l.TreePointer[s] = offset
		offset += size
	}
	l.TotalSize = offset

	for s := 0; s < nsections; s++ {
		for k := 0; k < l.AtomCount[s]; k++ {
			l.AtomTreePointer[l.FirstAtom[s]+k] = l.TreePointer[s] + k
		}
	}
	return l, nil
}

// Regrow plans a replacement layout after an overflow. Per-atom demand is
// max-merged with the measured counts (+1 reserves the 1-body root) and
// the boost doubles; the scratch boost doubles only when the scratch
// overflowed. Live node data is never carried over: callers free and
// reallocate.
func (l *Layout) Regrow(measured []int, scratchOverflow bool) (*Layout, error) {
	merged := append([]int(nil), l.NOverlaps...)
	for i := 0; i < len(merged) && i < len(measured); i++ {
		if m := measured[i] + 1; m > merged[i] {
			merged[i] = m
		}
	}
	sb := l.ScratchBoost
	if scratchOverflow {
		sb *= 2
	}
	return NewLayout(merged, l.NumSections, l.Boost*2, sb, l.PadModulus)
}

// ScratchSlots is the per-section candidate capacity of the iterative
// construction phase: workgroup width × slots per lane × scratch boost.
func (l *Layout) ScratchSlots(workGroupSize, slotsPerLane int) int {
	return workGroupSize * slotsPerLane * l.ScratchBoost
}

// String summarizes the layout for debug logs.
func (l *Layout) String() string {
	return fmt.Sprintf("Tree[%d sections, %d slots, boost %d, scratch x%d]",
		l.NumSections, l.TotalSize, l.Boost, l.ScratchBoost)
}

// DefaultSections picks the section count for a system size: one section
// per 64 atoms, at least 1, at most 128. Independent of worker count so
// that results do not depend on scheduling.
func DefaultSections(natoms int) int {
	s := (natoms + 63) / 64
	if s < 1 {
		s = 1
	}
	if s > 128 {
		s = 128
	}
	return s
}

func roundUp(v, m int) int {
	if m <= 1 {
		return v
	}
	r := v % m
	if r == 0 {
		return v
	}
	return v + m - r
}
