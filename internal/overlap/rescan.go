// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package overlap

// Rescan phases: the second energy pass reuses the pass-1 topology and
// refreshes every node's Gaussian, volume, and gamma fields from the
// nominal radii and the negated gamma scale. Child ranges, slot order,
// and the heavy/light split are frozen; only values change.

// initOneBodyNominal rewrites the root nodes in place with the nominal
// atom Gaussians and the second-pass gammas. Topology fields and the
// section occupancy are left untouched.
func (p *Pipeline) initOneBodyNominal(sec int) {
	st := p.store
	l := st.Layout
	for k := 0; k < l.AtomCount[sec]; k++ {
		i := l.FirstAtom[sec] + k
		slot := l.AtomTreePointer[i]
		g := p.gaussians[i]
		s, sp := SwitchVolume(g.V)

		st.GV[slot] = g.V
		st.GA[slot] = g.A
		st.GX[slot] = g.Cx
		st.GY[slot] = g.Cy
		st.GZ[slot] = g.Cz
		st.Volume[slot] = g.V
		st.Vsp[slot] = s * g.V
		st.Vsfp[slot] = sp*g.V + s
		st.Gamma1i[slot] = p.sys.Gamma2[i]
		st.DV1x[slot] = 0
		st.DV1y[slot] = 0
		st.DV1z[slot] = 0
		st.DV1w[slot] = 0
	}
}

// resetRescan arms the top-down sweep: roots are the first eligible
// generation, everything else waits for its parent's refresh.
func (p *Pipeline) resetRescan(sec int) {
	st := p.store
	l := st.Layout
	lo := l.TreePointer[sec]
	hi := lo + int(st.TreeSize[sec])
	for i := lo; i < hi; i++ {
		st.Processed[i] = 0
		if st.Level[i] == 1 {
			st.OKToProcess[i] = 1
		} else {
			st.OKToProcess[i] = 0
		}
	}
}

// rescan propagates refreshed Gaussians down the frozen tree. Each sweep
// takes the eligible nodes in slot order and recomputes every child from
// the parent's refreshed Gaussian and the child's last-atom Gaussian at
// nominal radius. A product that falls below the representable floor
// zeroes the child's volume terms; its subtree then carries zero volume
// through the reduction without disturbing the stored exponents.
func (p *Pipeline) rescan(sec int) {
	st := p.store
	l := st.Layout
	sys := p.sys
	lo := l.TreePointer[sec]
	hi := lo + int(st.TreeSize[sec])

	var pending []int32
	for {
		pending = pending[:0]
		for i := lo; i < hi; i++ {
			if st.OKToProcess[i] == 1 && st.Processed[i] == 0 {
				pending = append(pending, int32(i))
			}
		}
		if len(pending) == 0 {
			break
		}
		for _, q := range pending {
			st.Processed[q] = 1
			st.OKToProcess[q] = 0
			if st.ChildrenCount[q] == 0 {
				continue
			}
			gq := Gaussian{
				V: st.GV[q], A: st.GA[q],
				Cx: st.GX[q], Cy: st.GY[q], Cz: st.GZ[q],
			}
			start := st.ChildrenStart[q]
			end := start + st.ChildrenCount[q]
			for r := start; r < end; r++ {
				k := st.LastAtom[r]
				gk := p.gaussians[k]
				dx, dy, dz := sys.Displacement(gq.Cx, gq.Cy, gq.Cz, gk.Cx, gk.Cy, gk.Cz)
				g, d, ok := ProductDisplaced(gq, gk, dx, dy, dz)
				if ok {
					s, sp := SwitchVolume(g.V)
					st.GV[r] = g.V
					st.GA[r] = g.A
					st.GX[r] = g.Cx
					st.GY[r] = g.Cy
					st.GZ[r] = g.Cz
					st.Volume[r] = g.V
					st.Vsp[r] = s * g.V
					st.Vsfp[r] = sp*g.V + s
					st.DV1x[r] = d.GradX
					st.DV1y[r] = d.GradY
					st.DV1z[r] = d.GradZ
					st.DV1w[r] = d.DVdV
				} else {
					// Keep the stored exponent and center so adjoint
					// weight ratios stay finite; the volume terms are
					// dead from here down.
					st.GV[r] = 0
					st.Volume[r] = 0
					st.Vsp[r] = 0
					st.Vsfp[r] = 0
					st.DV1x[r] = 0
					st.DV1y[r] = 0
					st.DV1z[r] = 0
					st.DV1w[r] = 0
				}
				st.Gamma1i[r] = st.Gamma1i[q] + sys.Gamma2[k]
				st.OKToProcess[r] = 1
			}
		}
	}
}
