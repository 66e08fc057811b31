// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tree

// Store holds the overlap tree as flat per-node arrays plus per-atom
// accumulators. One Store instance is the CPU backend's "device memory";
// the GPU backend mirrors the same arrays as device buffers.
//
// Within a section all writes come from that section's owner; the only
// cross-section traffic is through the fixed-point per-atom accumulators.
type Store struct {
	Layout *Layout

	// Per-section state.
	TreeSize    []int32 // occupied slots per section
	NIterations []int32 // construction sweeps per section
	EnergyCell  []float64

	// Per-node topology.
	Level         []int32
	LastAtom      []int32
	RootIndex     []int32
	ChildrenStart []int32
	ChildrenCount []int32
	CountTop      []int32
	CountBottom   []int32
	Reported      []int32
	Processed     []int32
	OKToProcess   []int32

	// Per-node Gaussian and volume fields. Vsp is the switched volume
	// s·V; Vsfp is the switching-force prefactor s′·V + s.
	GV, GA     []float64
	GX, GY, GZ []float64
	Volume     []float64
	Vsp        []float64
	Vsfp       []float64
	Gamma1i    []float64
	SelfVolume []float64
	VolEnergy  []float64

	// Static pair derivatives (set at construction/rescan): DV1 xyz is
	// ∂V/∂c_lastAtom, DV1w is ∂V/∂V_parent. Adjoint accumulators (set
	// during reduction): DV2 xyz is the center adjoint, DV2w the volume
	// adjoint.
	DV1x, DV1y, DV1z, DV1w []float64
	DV2x, DV2y, DV2z, DV2w []float64

	// Per-atom fixed-point accumulators (cross-section traffic).
	GradX, GradY, GradZ []int64
	SelfVolAcc          []int64
}

// NewStore allocates a zeroed store for the layout.
func NewStore(l *Layout) *Store {
	n := l.TotalSize
	s := &Store{
		Layout:      l,
		TreeSize:    make([]int32, l.NumSections),
		NIterations: make([]int32, l.NumSections),
		EnergyCell:  make([]float64, l.NumSections),

		Level:         make([]int32, n),
		LastAtom:      make([]int32, n),
		RootIndex:     make([]int32, n),
		ChildrenStart: make([]int32, n),
		ChildrenCount: make([]int32, n),
		CountTop:      make([]int32, n),
		CountBottom:   make([]int32, n),
		Reported:      make([]int32, n),
		Processed:     make([]int32, n),
		OKToProcess:   make([]int32, n),

		GV:         make([]float64, n),
		GA:         make([]float64, n),
		GX:         make([]float64, n),
		GY:         make([]float64, n),
		GZ:         make([]float64, n),
		Volume:     make([]float64, n),
		Vsp:        make([]float64, n),
		Vsfp:       make([]float64, n),
		Gamma1i:    make([]float64, n),
		SelfVolume: make([]float64, n),
		VolEnergy:  make([]float64, n),

		DV1x: make([]float64, n),
		DV1y: make([]float64, n),
		DV1z: make([]float64, n),
		DV1w: make([]float64, n),
		DV2x: make([]float64, n),
		DV2y: make([]float64, n),
		DV2z: make([]float64, n),
		DV2w: make([]float64, n),

		GradX:      make([]int64, l.NumAtoms),
		GradY:      make([]int64, l.NumAtoms),
		GradZ:      make([]int64, l.NumAtoms),
		SelfVolAcc: make([]int64, l.NumAtoms),
	}
	return s
}

// ResetSection clears every node slot of one section and marks all flags
// unprocessed. Root indices become -1.
func (s *Store) ResetSection(sec int) {
	lo := s.Layout.TreePointer[sec]
	hi := lo + s.Layout.SectionSize[sec]
	for i := lo; i < hi; i++ {
		s.Level[i] = 0
		s.LastAtom[i] = -1
		s.RootIndex[i] = -1
		s.ChildrenStart[i] = -1
		s.ChildrenCount[i] = 0
		s.CountTop[i] = 0
		s.CountBottom[i] = 0
		s.Reported[i] = 0
		s.Processed[i] = 0
		s.OKToProcess[i] = 0
		s.GV[i] = 0
		s.GA[i] = 0
		s.GX[i] = 0
		s.GY[i] = 0
		s.GZ[i] = 0
		s.Volume[i] = 0
		s.Vsp[i] = 0
		s.Vsfp[i] = 0
		s.Gamma1i[i] = 0
		s.SelfVolume[i] = 0
		s.VolEnergy[i] = 0
		s.DV1x[i] = 0
		s.DV1y[i] = 0
		s.DV1z[i] = 0
		s.DV1w[i] = 0
		s.DV2x[i] = 0
		s.DV2y[i] = 0
		s.DV2z[i] = 0
		s.DV2w[i] = 0
	}
	s.TreeSize[sec] = 0
	s.NIterations[sec] = 0
	s.EnergyCell[sec] = 0
}

// ResetAccumulators zeroes the per-atom fixed-point buffers.
func (s *Store) ResetAccumulators() {
	for i := range s.GradX {
		s.GradX[i] = 0
		s.GradY[i] = 0
		s.GradZ[i] = 0
		s.SelfVolAcc[i] = 0
	}
}

// ResetSelfVolumesSection clears the reduction state of one section:
// self-volumes, volume energies, adjoints, and the reported/processed
// flags used by the bottom-up worklist. Topology and volumes survive.
func (s *Store) ResetSelfVolumesSection(sec int) {
	lo := s.Layout.TreePointer[sec]
	hi := lo + int(s.TreeSize[sec])
	for i := lo; i < hi; i++ {
		s.SelfVolume[i] = 0
		s.VolEnergy[i] = 0
		s.DV2x[i] = 0
		s.DV2y[i] = 0
		s.DV2z[i] = 0
		s.DV2w[i] = 0
		s.Reported[i] = 0
		s.Processed[i] = 0
		s.OKToProcess[i] = 0
	}
	s.EnergyCell[sec] = 0
}

// AtomCounts reports measured per-atom node demand: the size of each
// atom's root subtree among the nodes built so far. Callers use it to
// re-seed capacity planning after an overflow.
func (s *Store) AtomCounts() []int {
	counts := make([]int, s.Layout.NumAtoms)
	// Count nodes per root atom by walking slots and crediting the
	// 1-body ancestor. RootIndex chains stay inside one section.
	for sec := 0; sec < s.Layout.NumSections; sec++ {
		lo := s.Layout.TreePointer[sec]
		hi := lo + int(s.TreeSize[sec])
		for i := lo; i < hi; i++ {
			if s.Level[i] < 1 {
				continue
			}
			j := int32(i)
			for s.Level[j] > 1 {
				j = s.RootIndex[j]
			}
			root := int(s.LastAtom[j])
			if root >= 0 && root < len(counts) {
				counts[root]++
			}
		}
	}
	return counts
}

// MaxDepth returns the deepest node level currently stored.
func (s *Store) MaxDepth() int {
	depth := int32(0)
	for sec := 0; sec < s.Layout.NumSections; sec++ {
		lo := s.Layout.TreePointer[sec]
		hi := lo + int(s.TreeSize[sec])
		for i := lo; i < hi; i++ {
			if s.Level[i] > depth {
				depth = s.Level[i]
			}
		}
	}
	return int(depth)
}

// Used returns the total occupied slots.
func (s *Store) Used() int {
	u := 0
	for _, t := range s.TreeSize {
		u += int(t)
	}
	return u
}

// MaxIterations returns the largest per-section sweep count.
func (s *Store) MaxIterations() int {
	m := int32(0)
	for _, it := range s.NIterations {
		if it > m {
			m = it
		}
	}
	return int(m)
}
