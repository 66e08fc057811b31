// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tree

import (
	"strings"
	"testing"
)

func TestNewLayoutSingleSection(t *testing.T) {
	l, err := NewLayout([]int{3, 3, 3, 3}, 1, 1, 1, 64)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	if l.NumSections != 1 {
		t.Fatalf("sections %d, want 1", l.NumSections)
	}
	if l.AtomCount[0] != 4 || l.FirstAtom[0] != 0 {
		t.Errorf("section 0 atoms = %d from %d, want 4 from 0", l.AtomCount[0], l.FirstAtom[0])
	}
	// 12 raw slots padded to the workgroup width.
	if l.SectionSize[0] != 64 {
		t.Errorf("section size %d, want 64", l.SectionSize[0])
	}
	if l.TotalSize != 64 {
		t.Errorf("total size %d, want 64", l.TotalSize)
	}
}

func TestNewLayoutPartition(t *testing.T) {
	noverlaps := make([]int, 100)
	for i := range noverlaps {
		noverlaps[i] = 1 + i%7
	}
	l, err := NewLayout(noverlaps, 4, 2, 1, 64)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}

	// Sections tile the atom range contiguously and completely.
	atom := 0
	for s := 0; s < l.NumSections; s++ {
		if l.AtomCount[s] == 0 {
			continue
		}
		if l.FirstAtom[s] != atom {
			t.Errorf("section %d starts at atom %d, want %d", s, l.FirstAtom[s], atom)
		}
		for k := 0; k < l.AtomCount[s]; k++ {
			if l.SectionOf[atom+k] != s {
				t.Errorf("atom %d assigned to section %d, want %d",
					atom+k, l.SectionOf[atom+k], s)
			}
		}
		atom += l.AtomCount[s]
	}
	if atom != 100 {
		t.Errorf("sections cover %d atoms, want 100", atom)
	}

	// Section capacities are padded and tight against the pointers.
	offset := 0
	for s := 0; s < l.NumSections; s++ {
		if l.TreePointer[s] != offset {
			t.Errorf("section %d pointer %d, want %d", s, l.TreePointer[s], offset)
		}
		if l.SectionSize[s]%64 != 0 {
			t.Errorf("section %d size %d not padded to 64", s, l.SectionSize[s])
		}
		if l.SectionSize[s] < 64 {
			t.Errorf("section %d size %d below one workgroup", s, l.SectionSize[s])
		}
		offset += l.SectionSize[s]
	}
	if l.TotalSize != offset {
		t.Errorf("total %d, want %d", l.TotalSize, offset)
	}

	// Every atom's root slot is inside its section, at the section base
	// plus its local index.
	for i := 0; i < 100; i++ {
		s := l.SectionOf[i]
		want := l.TreePointer[s] + (i - l.FirstAtom[s])
		if l.AtomTreePointer[i] != want {
			t.Errorf("atom %d root slot %d, want %d", i, l.AtomTreePointer[i], want)
		}
	}
}

func TestNewLayoutCapacityScalesWithBoost(t *testing.T) {
	noverlaps := []int{16, 16, 16, 16}
	l1, err := NewLayout(noverlaps, 1, 1, 1, 64)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	l2, err := NewLayout(noverlaps, 1, 2, 1, 64)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	if l2.TotalSize != 2*l1.TotalSize {
		t.Errorf("boost 2 total %d, want %d", l2.TotalSize, 2*l1.TotalSize)
	}
}

func TestNewLayoutRejectsBadInput(t *testing.T) {
	if _, err := NewLayout(nil, 1, 1, 1, 64); err == nil {
		t.Error("empty atom set accepted")
	}
	if _, err := NewLayout([]int{3, 0, 3}, 1, 1, 1, 64); err == nil {
		t.Error("zero overlap prediction accepted")
	}
}

func TestNewLayoutClampsSections(t *testing.T) {
	// More sections than atoms degrades to one section per atom.
	l, err := NewLayout([]int{2, 2}, 16, 1, 1, 4)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	if l.NumSections != 2 {
		t.Errorf("sections %d, want 2", l.NumSections)
	}
}

func TestRegrow(t *testing.T) {
	l, err := NewLayout([]int{4, 4, 4, 4}, 2, 2, 1, 64)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}

	grown, err := l.Regrow([]int{10, 2, 2, 2}, false)
	if err != nil {
		t.Fatalf("Regrow: %v", err)
	}
	if grown.Boost != 2*l.Boost {
		t.Errorf("boost %d, want doubled %d", grown.Boost, 2*l.Boost)
	}
	if grown.ScratchBoost != l.ScratchBoost {
		t.Errorf("scratch boost %d changed without scratch overflow", grown.ScratchBoost)
	}
	// Demand is max-merged with one slot reserved for the root.
	if grown.NOverlaps[0] != 11 {
		t.Errorf("atom 0 demand %d, want measured+1 = 11", grown.NOverlaps[0])
	}
	if grown.NOverlaps[1] != 4 {
		t.Errorf("atom 1 demand %d, want original 4", grown.NOverlaps[1])
	}
	if grown.TotalSize <= l.TotalSize {
		t.Errorf("regrown total %d not above %d", grown.TotalSize, l.TotalSize)
	}

	scratchGrown, err := l.Regrow([]int{4, 4, 4, 4}, true)
	if err != nil {
		t.Fatalf("Regrow: %v", err)
	}
	if scratchGrown.ScratchBoost != 2*l.ScratchBoost {
		t.Errorf("scratch boost %d, want doubled", scratchGrown.ScratchBoost)
	}
}

func TestScratchSlots(t *testing.T) {
	l, err := NewLayout([]int{4, 4}, 1, 1, 2, 64)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	if got := l.ScratchSlots(64, 64); got != 64*64*2 {
		t.Errorf("scratch slots %d, want %d", got, 64*64*2)
	}
}

func TestDefaultSections(t *testing.T) {
	tests := []struct {
		natoms int
		want   int
	}{
		{1, 1},
		{64, 1},
		{65, 2},
		{640, 10},
		{1 << 20, 128},
	}
	for _, tt := range tests {
		if got := DefaultSections(tt.natoms); got != tt.want {
			t.Errorf("DefaultSections(%d) = %d, want %d", tt.natoms, got, tt.want)
		}
	}
}

func TestLayoutString(t *testing.T) {
	l, err := NewLayout([]int{4, 4}, 1, 2, 1, 64)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	s := l.String()
	if !strings.Contains(s, "1 sections") || !strings.Contains(s, "boost 2") {
		t.Errorf("unexpected summary %q", s)
	}
}
