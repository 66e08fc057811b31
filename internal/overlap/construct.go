// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package overlap

// Construction phases. Each runs once per section per step, driven by the
// pipeline in a fixed order; no phase observes a partial result of its
// successor. All writes stay inside the section that owns the slot.

// initOneBody writes one root node per atom of the section. Pass 1 loads
// enlarged-radius Gaussians and positive gammas and resets the section
// occupancy to its root count; the nominal-radius variant is in rescan.go.
func (p *Pipeline) initOneBody(sec int) {
	st := p.store
	l := st.Layout
	for k := 0; k < l.AtomCount[sec]; k++ {
		i := l.FirstAtom[sec] + k
		slot := l.AtomTreePointer[i]
		g := p.gaussians[i]
		s, sp := SwitchVolume(g.V)

		st.Level[slot] = 1
		st.LastAtom[slot] = int32(i)
		st.RootIndex[slot] = -1
		st.ChildrenStart[slot] = -1
		st.ChildrenCount[slot] = 0
		st.CountTop[slot] = 0
		st.CountBottom[slot] = 0
		st.GV[slot] = g.V
		st.GA[slot] = g.A
		st.GX[slot] = g.Cx
		st.GY[slot] = g.Cy
		st.GZ[slot] = g.Cz
		st.Volume[slot] = g.V
		st.Vsp[slot] = s * g.V
		st.Vsfp[slot] = sp*g.V + s
		st.Gamma1i[slot] = p.sys.Gamma1[i]
	}
	st.TreeSize[sec] = int32(l.AtomCount[sec])
}

// countChildren runs the pairwise traversal and counts, per root, the
// admissible level-2 overlaps. Pairs are canonical: atom j > i counts
// under i's root, so every unordered pair enters the tree exactly once.
func (p *Pipeline) countChildren(sec int) {
	st := p.store
	l := st.Layout
	sys := p.sys
	for k := 0; k < l.AtomCount[sec]; k++ {
		i := l.FirstAtom[sec] + k
		gi := p.gaussians[i]
		if gi.V <= 0 {
			continue
		}
		cnt := int32(0)
		for j := i + 1; j < sys.N; j++ {
			gj := p.gaussians[j]
			if gj.V <= 0 {
				continue
			}
			dx, dy, dz := sys.Displacement(gi.Cx, gi.Cy, gi.Cz, gj.Cx, gj.Cy, gj.Cz)
			d2 := dx*dx + dy*dy + dz*dz
			if !sys.withinCutoff(d2) {
				continue
			}
			if g, _, ok := ProductDisplaced(gi, gj, dx, dy, dz); ok && g.V > VolMinA {
				cnt++
			}
		}
		st.ChildrenCount[l.AtomTreePointer[i]] = cnt
	}
}

// prefixChildStarts assigns contiguous child ranges below the section's
// roots by prefix sum over the counts. A section that runs out of slots
// raises the panic flag and truncates the remaining counts so that every
// later phase stays inside its section; the step's results are abandoned
// at the handshake point either way. The untruncated demand is kept for
// the regrow sizing.
func (p *Pipeline) prefixChildStarts(sec int) {
	st := p.store
	l := st.Layout
	base := l.TreePointer[sec]
	next := base + int(st.TreeSize[sec])
	limit := base + l.SectionSize[sec]
	overflow := false
	for k := 0; k < l.AtomCount[sec]; k++ {
		i := l.FirstAtom[sec] + k
		slot := l.AtomTreePointer[i]
		cnt := int(st.ChildrenCount[slot])
		p.demand[i] = int32(1 + cnt)
		if next+cnt > limit {
			overflow = true
			cnt = limit - next
			st.ChildrenCount[slot] = int32(cnt)
		}
		st.ChildrenStart[slot] = int32(next)
		next += cnt
	}
	st.TreeSize[sec] = int32(next - base)
	if overflow {
		p.panicTree.Store(1)
	}
}

// fillPairs re-runs the pairwise traversal and stores the level-2 nodes
// into the ranges reserved by prefixChildStarts, two-ended: children with
// switched volume above SmallVolume fill the low end of the range, the
// rest fill from the high end. Counting and filling share one predicate,
// so the reserved counts are exact.
func (p *Pipeline) fillPairs(sec int) {
	st := p.store
	l := st.Layout
	sys := p.sys
	for k := 0; k < l.AtomCount[sec]; k++ {
		i := l.FirstAtom[sec] + k
		gi := p.gaussians[i]
		if gi.V <= 0 {
			continue
		}
		root := int32(l.AtomTreePointer[i])
		for j := i + 1; j < sys.N; j++ {
			gj := p.gaussians[j]
			if gj.V <= 0 {
				continue
			}
			dx, dy, dz := sys.Displacement(gi.Cx, gi.Cy, gi.Cz, gj.Cx, gj.Cy, gj.Cz)
			d2 := dx*dx + dy*dy + dz*dz
			if !sys.withinCutoff(d2) {
				continue
			}
			g, d, ok := ProductDisplaced(gi, gj, dx, dy, dz)
			if !ok || g.V <= VolMinA {
				continue
			}
			p.storeChild(root, int32(j), g, d, sys.Gamma1[i]+sys.Gamma1[j])
		}
	}
}

// storeChild places one overlap node under parent using the two-ended
// allocator and fills every node field. New nodes start unprocessed and
// eligible. A full range only happens on a panicked step with truncated
// counts; the excess children are dropped along with the step.
func (p *Pipeline) storeChild(parent, lastAtom int32, g Gaussian, d PairDeriv, gamma1i float64) {
	st := p.store
	if st.CountTop[parent]+st.CountBottom[parent] >= st.ChildrenCount[parent] {
		return
	}
	s, sp := SwitchVolume(g.V)
	vsp := s * g.V

	var slot int32
	if vsp > SmallVolume {
		slot = st.ChildrenStart[parent] + st.CountTop[parent]
		st.CountTop[parent]++
	} else {
		slot = st.ChildrenStart[parent] + st.ChildrenCount[parent] - 1 - st.CountBottom[parent]
		st.CountBottom[parent]++
	}

	st.Level[slot] = st.Level[parent] + 1
	st.LastAtom[slot] = lastAtom
	st.RootIndex[slot] = parent
	st.ChildrenStart[slot] = -1
	st.ChildrenCount[slot] = 0
	st.CountTop[slot] = 0
	st.CountBottom[slot] = 0
	st.Reported[slot] = 0
	st.Processed[slot] = 0
	st.OKToProcess[slot] = 1
	st.GV[slot] = g.V
	st.GA[slot] = g.A
	st.GX[slot] = g.Cx
	st.GY[slot] = g.Cy
	st.GZ[slot] = g.Cz
	st.Volume[slot] = g.V
	st.Vsp[slot] = vsp
	st.Vsfp[slot] = sp*g.V + s
	st.Gamma1i[slot] = gamma1i
	st.SelfVolume[slot] = 0
	st.VolEnergy[slot] = 0
	st.DV1x[slot] = d.GradX
	st.DV1y[slot] = d.GradY
	st.DV1z[slot] = d.GradZ
	st.DV1w[slot] = d.DVdV
	st.DV2x[slot] = 0
	st.DV2y[slot] = 0
	st.DV2z[slot] = 0
	st.DV2w[slot] = 0
}

// resetCompute prepares the flags for iterative expansion: roots are
// final, level-2 nodes are the first eligible generation.
func (p *Pipeline) resetCompute(sec int) {
	st := p.store
	l := st.Layout
	lo := l.TreePointer[sec]
	hi := lo + int(st.TreeSize[sec])
	for i := lo; i < hi; i++ {
		if st.Level[i] == 1 {
			st.Processed[i] = 1
			st.OKToProcess[i] = 0
		} else {
			st.Processed[i] = 0
			st.OKToProcess[i] = 1
		}
	}
}

// candidate is one buffered higher-order overlap awaiting placement.
type candidate struct {
	parent  int32
	atom    int32
	g       Gaussian
	d       PairDeriv
	gamma1i float64
}

// expand is the iterative breadth-first construction of levels 3 and up.
// Each sweep scans the section for eligible nodes, intersects them with
// heavier siblings' last atoms, buffers the candidates in the bounded
// scratch, then reserves and fills child ranges. Overflow of the section
// or the scratch raises the panic flags checked at the handshake point.
func (p *Pipeline) expand(sec int) {
	st := p.store
	l := st.Layout
	sys := p.sys
	scratchCap := l.ScratchSlots(WorkGroupSize, ScratchSlotsPerLane)

	var pending []int32
	cands := p.scratch[sec][:0]

	for {
		lo := l.TreePointer[sec]
		hi := lo + int(st.TreeSize[sec])
		pending = pending[:0]
		for i := lo; i < hi; i++ {
			if st.OKToProcess[i] == 1 && st.Processed[i] == 0 {
				pending = append(pending, int32(i))
			}
		}
		if len(pending) == 0 {
			break
		}
		st.NIterations[sec]++
		cands = cands[:0]

		for _, q := range pending {
			st.Processed[q] = 1
			st.OKToProcess[q] = 0
			if st.Level[q]+1 > MaxOrder {
				continue
			}
			parent := st.RootIndex[q]
			gq := Gaussian{
				V: st.Volume[q], A: st.GA[q],
				Cx: st.GX[q], Cy: st.GY[q], Cz: st.GZ[q],
			}
			topEnd := st.ChildrenStart[parent] + st.CountTop[parent]
			for r := q + 1; r < topEnd; r++ {
				k := st.LastAtom[r]
				gk := p.gaussians[k]
				if gk.V <= 0 {
					continue
				}
				dx, dy, dz := sys.Displacement(gq.Cx, gq.Cy, gq.Cz, gk.Cx, gk.Cy, gk.Cz)
				g, d, ok := ProductDisplaced(gq, gk, dx, dy, dz)
				if !ok || g.V <= VolMinA {
					continue
				}
				if len(cands) == scratchCap {
					p.panicScratch.Store(1)
					p.scratch[sec] = cands
					return
				}
				cands = append(cands, candidate{
					parent:  q,
					atom:    k,
					g:       g,
					d:       d,
					gamma1i: st.Gamma1i[q] + sys.Gamma1[k],
				})
			}
		}
		if len(cands) == 0 {
			continue
		}

		// Reserve child ranges in candidate order; candidates sharing a
		// parent are adjacent, so each parent's range is contiguous.
		next := l.TreePointer[sec] + int(st.TreeSize[sec])
		for _, c := range cands {
			if st.ChildrenStart[c.parent] < 0 {
				st.ChildrenStart[c.parent] = int32(next)
			}
			st.ChildrenCount[c.parent]++
			next++
		}
		if next-l.TreePointer[sec] > l.SectionSize[sec] {
			p.panicTree.Store(1)
			p.scratch[sec] = cands
			return
		}
		st.TreeSize[sec] = int32(next - l.TreePointer[sec])
		for _, c := range cands {
			p.storeChild(c.parent, c.atom, c.g, c.d, c.gamma1i)
		}
	}
	p.scratch[sec] = cands
}
