// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package antlr

import (
	"fmt"
	"log"

	"github.com/emer/etable/v2/etensor"
	"github.com/snnsim/antlr/tmath"
)

// GradTrace holds the per-layer, per-timestep gradient state of one
// backward pass.  All slices are indexed [layer][timestep]; entries for
// layers or rules that don't use a given quantity are nil.  I, V, VDep,
// EF1 and EF2 exist only on weighted layers; S carries the
// activation-path spike gradient, T the timing-path gradient, and both
// exist on every layer so pooling and flatten layers can relay them.
type GradTrace struct {
	I    [][]*etensor.Float32 `desc:"gradient w.r.t. synaptic current"`
	V    [][]*etensor.Float32 `desc:"gradient w.r.t. membrane potential"`
	VDep [][]*etensor.Float32 `desc:"reset-dependent potential gradient accumulated backward in time (SRM, SLAYER)"`
	S    [][]*etensor.Float32 `desc:"gradient w.r.t. spike emission"`
	T    [][]*etensor.Float32 `desc:"gradient w.r.t. spike timing"`
	EF1  [][]*etensor.Float32 `desc:"first timing eligibility trace"`
	EF2  [][]*etensor.Float32 `desc:"second timing eligibility trace, propagated through the weights"`
}

func (nt *Network) newGradTrace(tr *Trace) *GradTrace {
	style := nt.backStyle()
	timing := nt.Rule == Timing || nt.Rule == ANTLR
	gt := &GradTrace{}
	nl := nt.NumLayers()
	alloc := func() [][]*etensor.Float32 {
		return make([][]*etensor.Float32, nl)
	}
	gt.I = alloc()
	gt.V = alloc()
	if style != RNN {
		gt.VDep = alloc()
	}
	if nt.Rule != Timing {
		gt.S = alloc()
	}
	if timing {
		gt.T = alloc()
		gt.EF1 = alloc()
		gt.EF2 = alloc()
	}
	for l := 0; l < nl; l++ {
		sh := tr.S[l][0].Shp
		seq := func() []*etensor.Float32 {
			ts := make([]*etensor.Float32, tr.TermLength)
			for t := range ts {
				ts[t] = etensor.NewFloat32(sh, nil, nil)
			}
			return ts
		}
		if gt.S != nil {
			gt.S[l] = seq()
		}
		if gt.T != nil {
			gt.T[l] = seq()
		}
		if !nt.Layers[l][0].IsWeighted() {
			continue
		}
		gt.I[l] = seq()
		gt.V[l] = seq()
		if gt.VDep != nil {
			gt.VDep[l] = seq()
		}
		if timing {
			gt.EF1[l] = seq()
			gt.EF2[l] = seq()
		}
	}
	return gt
}

// backStyle is the membrane-decay style the backward recurrences use:
// the configured one for the Activation rule, always SRM for the timing
// rules.
func (nt *Network) backStyle() DecayStyles {
	if nt.Rule == Activation {
		return nt.Decay
	}
	return SRM
}

// Backward computes and accumulates weight and bias gradients from a
// forward trace and its loss, under the configured learning rule, then
// clamps each model's gradients to its clip bound.  Gradients add into
// Layer.WtGrad / Layer.BiasGrad; call ZeroGrads between batches.  The
// returned GradTrace exposes the intermediate state.
func (nt *Network) Backward(tr *Trace, ls *Loss) (*GradTrace, error) {
	if tr == nil || ls == nil {
		return nil, fmt.Errorf("%w: backward requires a forward trace and its loss", ErrConfig)
	}
	if ls.Rule != nt.Loss {
		return nil, fmt.Errorf("%w: loss computed as %s but network configured for %s", ErrConfig, ls.Rule, nt.Loss)
	}

	gt := nt.newGradTrace(tr)
	switch nt.Rule {
	case Activation:
		nt.bpAct(tr, gt, nt.calcDLdS(tr, ls))
	case Timing:
		nt.bpTiming(tr, gt, nt.calcDLdT(tr, ls))
	case ANTLR:
		nt.bpANTLR(tr, gt, nt.calcDLdT(tr, ls), nt.calcDLdS(tr, ls))
	default:
		return nil, fmt.Errorf("%w: unrecognized learning rule %d", ErrConfig, nt.Rule)
	}

	for _, lys := range nt.Layers {
		if !lys[0].IsWeighted() {
			continue
		}
		for m, ly := range lys {
			ly.ClampGrads(nt.effClip(m))
		}
	}
	return gt, nil
}

// bpAct runs activation-path backpropagation: the spike gradient flows
// down through the layers at each timestep, converts to a potential
// gradient via the surrogate spike derivative, and then follows the
// decay-style recurrence back through time.
func (nt *Network) bpAct(tr *Trace, gt *GradTrace, dLdS []*etensor.Float32) {
	nl := nt.NumLayers()
	style := nt.backStyle()
	for t := tr.TermLength - 1; t >= 0; t-- {
		for l := nl - 1; l >= 0; l-- {
			switch {
			case l == nl-1:
				copy(gt.S[l][t].Values, dLdS[t].Values)
			case nt.Layers[l+1][0].IsWeighted():
				nt.propIGradToX(tr, gt, t, l, false)
			default:
				nt.propXToX(tr, gt, t, l, false)
			}
			if !nt.Layers[l][0].IsWeighted() {
				continue
			}
			vg := gt.V[l][t].Values
			vv := tr.V[l][t].Values
			sg := gt.S[l][t].Values
			for i := range vg {
				vg[i] = nt.Surr.Deriv(vv[i]) * sg[i]
			}
			nt.propVToI(tr, gt, style, t, l)
		}
	}
	nt.gradAdd(tr, gt, style, false, 1)
}

// bpTiming runs timing-path backpropagation: the timing gradient of a
// spiked neuron converts to a potential gradient through the negative
// potential slope, and crosses layers through the eligibility traces.
func (nt *Network) bpTiming(tr *Trace, gt *GradTrace, dLdT []*etensor.Float32) {
	nl := nt.NumLayers()
	for t := tr.TermLength - 1; t >= 0; t-- {
		for l := nl - 1; l >= 0; l-- {
			switch {
			case l == nl-1:
				copy(gt.T[l][t].Values, dLdT[t].Values)
			case nt.Layers[l+1][0].IsWeighted():
				nt.tpropVToT(tr, gt, t, l)
			default:
				nt.propXToX(tr, gt, t, l, true)
			}
			if !nt.Layers[l][0].IsWeighted() {
				continue
			}
			vg := gt.V[l][t].Values
			sv := tr.S[l][t].Values
			tg := gt.T[l][t].Values
			vp := tr.VPrime[l][t].Values
			for i := range vg {
				if sv[i] == 1 {
					vg[i] = tg[i] / -vp[i]
				} else {
					vg[i] = 0
				}
			}
			nt.propVToI(tr, gt, SRM, t, l)
		}
	}
	nt.gradAdd(tr, gt, SRM, true, 1)
}

// bpANTLR blends the activation and timing paths: both gradients flow
// down in parallel and their potential-gradient contributions are
// combined with the configured lambda weights before the shared SRM
// recurrence.
func (nt *Network) bpANTLR(tr *Trace, gt *GradTrace, dLdT, dLdS []*etensor.Float32) {
	nl := nt.NumLayers()
	for t := tr.TermLength - 1; t >= 0; t-- {
		for l := nl - 1; l >= 0; l-- {
			switch {
			case l == nl-1:
				copy(gt.T[l][t].Values, dLdT[t].Values)
				copy(gt.S[l][t].Values, dLdS[t].Values)
			case nt.Layers[l+1][0].IsWeighted():
				nt.tpropVToT(tr, gt, t, l)
				nt.propIGradToX(tr, gt, t, l, false)
			default:
				nt.propXToX(tr, gt, t, l, true)
				nt.propXToX(tr, gt, t, l, false)
			}
			if !nt.Layers[l][0].IsWeighted() {
				continue
			}
			vg := gt.V[l][t].Values
			vv := tr.V[l][t].Values
			sg := gt.S[l][t].Values
			sv := tr.S[l][t].Values
			tg := gt.T[l][t].Values
			vp := tr.VPrime[l][t].Values
			for i := range vg {
				vg[i] = nt.LambdaAct * nt.Surr.Deriv(vv[i]) * sg[i]
				if sv[i] == 1 {
					vg[i] += nt.LambdaTiming * tg[i] / -vp[i]
				}
			}
			nt.propVToI(tr, gt, SRM, t, l)
		}
	}
	nt.gradAdd(tr, gt, SRM, false, 1)
}

// propIGradToX carries a gradient from weighted layer l+1 down across
// its weights into layer l: the current gradient for the activation
// path (into S), the second eligibility trace for the timing path (into
// T, masked to spiked neurons).
func (nt *Network) propIGradToX(tr *Trace, gt *GradTrace, t, l int, toT bool) {
	src, dst := gt.I, gt.S
	if toT {
		src, dst = gt.EF2, gt.T
	}
	up := l + 1
	upLy := nt.Layers[up][0]
	switch upLy.Kind {
	case FC:
		if nt.MultiModel && nt.NModels > 1 {
			pb := tr.BatchSize / nt.NModels
			for m := 0; m < nt.NModels; m++ {
				g := tmath.RowSlice(src[up][t], m*pb, pb)
				tmath.SetRows(dst[l][t], tmath.Mul(g, nt.Layers[up][m].Wt), m*pb)
			}
		} else {
			copy(dst[l][t].Values, tmath.Mul(src[up][t], upLy.Wt).Values)
		}
	case Conv:
		xg := tmath.Conv2DInGrad(dst[l][t].Shp, upLy.Wt, src[up][t], upLy.Padding)
		copy(dst[l][t].Values, xg.Values)
	}
	tmath.Scale(dst[l][t], nt.Kernel.BetaI)
	if toT {
		dv := dst[l][t].Values
		sv := tr.S[l][t].Values
		for i := range dv {
			dv[i] *= sv[i]
		}
	}
}

// tpropVToT updates the eligibility traces of weighted layer l+1 from
// its potential gradient and carries the result down into layer l's
// timing gradient.  The traces run the epsilon-kernel derivative
// backward in time: EF1 tracks the potential-decay branch and EF2 adds
// the current-decay branch before crossing the weights.
func (nt *Network) tpropVToT(tr *Trace, gt *GradTrace, t, l int) {
	up := l + 1
	e1 := gt.EF1[up][t].Values
	e2 := gt.EF2[up][t].Values
	vg := gt.V[up][t].Values
	ai := nt.Kernel.AlphaI
	av := nt.Kernel.AlphaV
	bv := nt.Kernel.BetaV
	if t != tr.TermLength-1 {
		sv := tr.S[up][t].Values
		e1n := gt.EF1[up][t+1].Values
		e2n := gt.EF2[up][t+1].Values
		vgn := gt.V[up][t+1].Values
		for i := range e1 {
			gate := 1 - sv[i]
			e1[i] = gate * (vgn[i]/2 + av*e1n[i])
			e2[i] = ai * gate * e2n[i]
		}
	}
	for i := range e1 {
		e1[i] += av * -vg[i] / 2
		e2[i] += bv*ai*-vg[i]/2 + bv*e1[i]
	}
	nt.propIGradToX(tr, gt, t, l, true)
}

// propXToX relays a spike or timing gradient down through a structural
// layer l+1 (pooling or flatten).
func (nt *Network) propXToX(tr *Trace, gt *GradTrace, t, l int, toT bool) {
	dst := gt.S
	if toT {
		dst = gt.T
	}
	up := l + 1
	upLy := nt.Layers[up][0]
	lo := dst[l][t]
	switch upLy.Kind {
	case AvgPool:
		k := upLy.Spec.Pool
		xg := tmath.Upsample2D(dst[up][t], k)
		tmath.Scale(xg, 1/float32(k*k))
		// floor-divided pooling can leave trailing rows/cols uncovered
		if xg.Dim(2) != lo.Dim(2) || xg.Dim(3) != lo.Dim(3) {
			xg = tmath.PadRB(xg, lo.Dim(2)-xg.Dim(2), lo.Dim(3)-xg.Dim(3))
		}
		copy(lo.Values, xg.Values)
	case MaxPool:
		xg := tmath.MaxUnpool2D(dst[up][t], tr.MaxIndex[up][t], lo.Dim(2), lo.Dim(3))
		copy(lo.Values, xg.Values)
	case Flatten:
		copy(lo.Values, dst[up][t].Values)
	}
}

// propVToI converts layer l's potential gradient at step t into a
// current gradient, folding in the next timestep's state under the
// given decay style.  RNN gates both decays on not-spiked, SRM keeps a
// separate reset-dependent potential accumulator, SLAYER drops the
// spike gating entirely.
func (nt *Network) propVToI(tr *Trace, gt *GradTrace, style DecayStyles, t, l int) {
	last := t == tr.TermLength-1
	ai := nt.Kernel.AlphaI
	av := nt.Kernel.AlphaV
	bv := nt.Kernel.BetaV
	vg := gt.V[l][t].Values
	ig := gt.I[l][t].Values

	switch style {
	case RNN:
		if !last {
			sv := tr.S[l][t].Values
			vgn := gt.V[l][t+1].Values
			for i := range vg {
				vg[i] += av * (1 - sv[i]) * vgn[i]
			}
		}
		for i := range ig {
			ig[i] = bv * vg[i]
		}
		if !last {
			sv := tr.S[l][t].Values
			ign := gt.I[l][t+1].Values
			for i := range ig {
				ig[i] += ai * (1 - sv[i]) * ign[i]
			}
		}
	case SRM:
		vd := gt.VDep[l][t].Values
		copy(vd, vg)
		if !last {
			sv := tr.S[l][t].Values
			vdn := gt.VDep[l][t+1].Values
			for i := range vd {
				vd[i] += av * (1 - sv[i]) * vdn[i]
			}
		}
		for i := range ig {
			ig[i] = bv * vd[i]
		}
		if !last {
			sv := tr.S[l][t].Values
			ign := gt.I[l][t+1].Values
			for i := range ig {
				ig[i] += ai * (1 - sv[i]) * ign[i]
			}
		}
	case SLAYER:
		vd := gt.VDep[l][t].Values
		copy(vd, vg)
		if !last {
			vdn := gt.VDep[l][t+1].Values
			for i := range vd {
				vd[i] += av * vdn[i]
			}
		}
		for i := range ig {
			ig[i] = bv * vd[i]
		}
		if !last {
			ign := gt.I[l][t+1].Values
			for i := range ig {
				ig[i] += ai * ign[i]
			}
		}
	}
}

// gradAdd folds the finished current gradients into every weighted
// layer's weight and bias gradients.  NaN gradient entries are replaced
// with zero with a logged warning, matching the numerical guard the
// timing path needs when a potential slope underflows.
func (nt *Network) gradAdd(tr *Trace, gt *GradTrace, style DecayStyles, isTiming bool, scale float32) {
	vdep := gt.VDep
	if style == RNN {
		vdep = gt.V
	}
	term := tr.TermLength
	pb := tr.BatchSize / nt.NModels

	for l, lys := range nt.Layers {
		if !lys[0].IsWeighted() {
			continue
		}
		switch lys[0].Kind {
		case FC:
			for m, ly := range lys {
				wg := etensor.NewFloat32(ly.Wt.Shp, nil, nil)
				for t := 0; t < term; t++ {
					x := nt.layerInput(tr, l, t)
					if nt.NModels > 1 {
						tmath.OuterAcc(wg,
							tmath.RowSlice(gt.I[l][t], m*pb, pb),
							tmath.RowSlice(x, m*pb, pb))
					} else {
						tmath.OuterAcc(wg, gt.I[l][t], x)
					}
				}
				tmath.Scale(wg, nt.Kernel.BetaI*scale)
				if isTiming {
					nt.subTimingPenalty(tr, gt, wg, l, m, pb)
				}
				if n := tmath.ZeroNaN(wg); n > 0 {
					log.Printf("layer %d model %d: replaced %d NaN weight gradient values with 0", l, m, n)
				}
				tmath.Add(ly.WtGrad, wg)

				no := ly.Wt.Dim(0)
				for t := 0; t < term; t++ {
					vd := vdep[l][t].Values
					for b := m * pb; b < (m+1)*pb; b++ {
						for o := 0; o < no; o++ {
							ly.BiasGrad.Values[o] += vd[b*no+o] * nt.Kernel.BetaBias * scale
						}
					}
				}
			}
		case Conv:
			ly := lys[0]
			sh := tr.S[l][0].Shp
			inSh := nt.layerInput(tr, l, 0).Shp
			inAll := etensor.NewFloat32([]int{term * tr.BatchSize, inSh[1], inSh[2], inSh[3]}, nil, nil)
			gAll := etensor.NewFloat32([]int{term * tr.BatchSize, sh[1], sh[2], sh[3]}, nil, nil)
			in1 := len(inAll.Values) / (term * tr.BatchSize)
			g1 := len(gAll.Values) / (term * tr.BatchSize)
			for t := 0; t < term; t++ {
				x := nt.layerInput(tr, l, t)
				copy(inAll.Values[t*tr.BatchSize*in1:], x.Values)
				copy(gAll.Values[t*tr.BatchSize*g1:], gt.I[l][t].Values)
			}
			wg := tmath.Conv2DWtGrad(inAll, gAll, ly.Wt.Shp, ly.Padding)
			tmath.Scale(wg, scale)
			if n := tmath.ZeroNaN(wg); n > 0 {
				log.Printf("layer %d: replaced %d NaN weight gradient values with 0", l, n)
			}
			tmath.Add(ly.WtGrad, wg)

			nc, plane := sh[1], sh[2]*sh[3]
			for t := 0; t < term; t++ {
				vd := vdep[l][t].Values
				for b := 0; b < tr.BatchSize; b++ {
					for c := 0; c < nc; c++ {
						var sum float32
						for p := 0; p < plane; p++ {
							sum += vd[(b*nc+c)*plane+p]
						}
						ly.BiasGrad.Values[c] += sum * nt.Kernel.BetaBias * scale
					}
				}
			}
		}
	}
}

// subTimingPenalty subtracts the never-spiked penalty from a fully
// connected weight gradient: each output neuron that emitted no spike
// over the whole run pulls its entire weight row down by
// TimingPenalty / fanIn, averaged over the model's batch rows.
func (nt *Network) subTimingPenalty(tr *Trace, gt *GradTrace, wg *etensor.Float32, l, m, pb int) {
	no := wg.Dim(0)
	ni := wg.Dim(1)
	coeff := nt.TimingPenalty / float32(ni)
	for o := 0; o < no; o++ {
		var frac float32
		for b := m * pb; b < (m+1)*pb; b++ {
			var cnt float32
			for t := 0; t < tr.TermLength; t++ {
				cnt += tr.S[l][t].Values[b*no+o]
			}
			if cnt == 0 {
				frac++
			}
		}
		sub := coeff * frac / float32(pb)
		for i := 0; i < ni; i++ {
			wg.Values[o*ni+i] -= sub
		}
	}
}

// layerInput is the spike input feeding weighted layer l at step t: the
// external input for the first layer, the previous layer's spikes
// otherwise.
func (nt *Network) layerInput(tr *Trace, l, t int) *etensor.Float32 {
	if l == 0 {
		return tmath.TimeSlice(tr.Input, t)
	}
	return tr.S[l-1][t]
}
