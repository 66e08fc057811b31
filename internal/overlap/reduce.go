// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package overlap

// Reduction phases: bottom-up adjoint sweep over the built tree,
// producing the inclusion-exclusion energy, per-atom self-volumes, and
// position gradients. Runs once per pass; the rescan pass reuses the
// pass-1 topology with refreshed volumes.

// computeSelfVolumes folds one section bottom-up. Leaves seed the
// worklist; a parent becomes eligible once every child has reported its
// adjoint. Folding order inside a sweep is slot order, which together
// with fixed-point accumulation keeps results bitwise stable across
// worker counts.
func (p *Pipeline) computeSelfVolumes(sec int) {
	st := p.store
	l := st.Layout
	lo := l.TreePointer[sec]
	hi := lo + int(st.TreeSize[sec])

	for i := lo; i < hi; i++ {
		if st.ChildrenCount[i] == 0 {
			st.OKToProcess[i] = 1
		}
	}

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
			p.foldNode(sec, q)
		}
	}
}

// foldNode consumes one node whose children have all reported. It adds
// the node's energy and self-volume terms, pushes the position gradient
// to the node's last atom, and reports the volume and center adjoints to
// the parent.
func (p *Pipeline) foldNode(sec int, q int32) {
	st := p.store
	n := float64(st.Level[q])
	cf := 1.0
	if st.Level[q]%2 == 0 {
		cf = -1.0
	}
	vsp := st.Vsp[q]
	gamma := st.Gamma1i[q]

	e := cf * gamma * vsp / n
	st.VolEnergy[q] = e
	st.EnergyCell[sec] += e

	// The overlap's volume is shared by every atom it contains: credit
	// cf·Vsp/n to each atom along the ancestor chain.
	sv := cf * vsp / n
	st.SelfVolume[q] = sv
	if sv != 0 {
		for t := q; t >= 0; t = st.RootIndex[t] {
			AddFixed(st.SelfVolAcc, int(st.LastAtom[t]), sv)
		}
	}

	wx, wy, wz := st.DV2x[q], st.DV2y[q], st.DV2z[q]
	b := int(st.LastAtom[q])

	if st.Level[q] == 1 {
		// A root's center is the atom position itself; the accumulated
		// center adjoint is the whole gradient.
		AddFixed(st.GradX, b, wx)
		AddFixed(st.GradY, b, wy)
		AddFixed(st.GradZ, b, wz)
	} else {
		u := cf*gamma*st.Vsfp[q]/n + st.DV2w[q]
		parent := st.RootIndex[q]
		// The product center splits its adjoint by exponent weight
		// between the parent center and the last atom.
		wp := st.GA[parent] / st.GA[q]
		wb := 1.0 - wp

		AddFixed(st.GradX, b, u*st.DV1x[q]+wx*wb)
		AddFixed(st.GradY, b, u*st.DV1y[q]+wy*wb)
		AddFixed(st.GradZ, b, u*st.DV1z[q]+wz*wb)

		st.DV2w[parent] += u * st.DV1w[q]
		st.DV2x[parent] += -u*st.DV1x[q] + wx*wp
		st.DV2y[parent] += -u*st.DV1y[q] + wy*wp
		st.DV2z[parent] += -u*st.DV1z[q] + wz*wp
		st.Reported[parent]++
		if st.Reported[parent] == st.ChildrenCount[parent] {
			st.OKToProcess[parent] = 1
		}
	}
	st.Processed[q] = 1
	st.OKToProcess[q] = 0
}

// collectEnergy sums the per-section energy cells in section order.
func (p *Pipeline) collectEnergy() float64 {
	e := 0.0
	for _, c := range p.store.EnergyCell {
		e += c
	}
	return e
}

// accumulateGradients converts the fixed-point per-atom gradients into
// the caller's flat xyz array, adding to whatever a previous pass left
// there. It returns the summed self-volume of this pass.
func (p *Pipeline) accumulateGradients(grad []float64) float64 {
	st := p.store
	vol := 0.0
	for i := 0; i < p.sys.N; i++ {
		grad[3*i+0] += FromFixed(st.GradX[i])
		grad[3*i+1] += FromFixed(st.GradY[i])
		grad[3*i+2] += FromFixed(st.GradZ[i])
		vol += FromFixed(st.SelfVolAcc[i])
	}
	return vol
}
