// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gaussvol

import "testing"

func TestNonbondedMethodString(t *testing.T) {
	tests := []struct {
		method NonbondedMethod
		want   string
	}{
		{NoCutoff, "NoCutoff"},
		{CutoffNonPeriodic, "CutoffNonPeriodic"},
		{CutoffPeriodic, "CutoffPeriodic"},
		{NonbondedMethod(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.method.String(); got != tt.want {
			t.Errorf("NonbondedMethod(%d).String() = %q, want %q", int(tt.method), got, tt.want)
		}
	}
}

func TestPrecisionString(t *testing.T) {
	tests := []struct {
		precision Precision
		want      string
	}{
		{Single, "Single"},
		{Double, "Double"},
		{Precision(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.precision.String(); got != tt.want {
			t.Errorf("Precision(%d).String() = %q, want %q", int(tt.precision), got, tt.want)
		}
	}
}

func TestWantFlags(t *testing.T) {
	if WantEnergy&WantForces != 0 {
		t.Error("WantEnergy and WantForces must be distinct bits")
	}
	combined := WantEnergy | WantForces
	if combined&WantEnergy == 0 || combined&WantForces == 0 {
		t.Error("combined flags must preserve both bits")
	}
}

func TestStatsString(t *testing.T) {
	s := Stats{
		Sections:   2,
		Capacity:   128,
		Used:       10,
		MaxDepth:   3,
		Iterations: 4,
		Regrows:    1,
	}
	want := "Tree[2 sections, 10/128 slots, depth 3, 4 sweeps, 1 regrows]"
	if got := s.String(); got != want {
		t.Errorf("Stats.String() = %q, want %q", got, want)
	}
}
