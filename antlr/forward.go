// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package antlr

import (
	"fmt"

	"github.com/emer/etable/v2/etensor"
	"github.com/emer/etable/v2/minmax"
	"github.com/snnsim/antlr/tmath"
)

// spikeThr is the hard membrane potential firing threshold.
const spikeThr = 1

// vPrimeMin is the floor on the voltage finite difference, avoiding
// division by zero when converting timing gradients.
const vPrimeMin = 0.01

// Forward runs the simulation over the configured time horizon (or fewer
// steps if the latency early exit triggers) and returns the Trace.
// Input shape is [batch, time, features] for flat input or
// [batch, time, chans, h, w] for image input, with a leading model axis
// prepended under multi-model mode.  The returned Trace is also retained
// on the Network until ResetState.
func (nt *Network) Forward(input *etensor.Float32) (*Trace, error) {
	in := input
	if nt.MultiModel {
		if input.Dim(0) != nt.NModels {
			return nil, fmt.Errorf("%w: input model axis is %d, want %d models", ErrShape, input.Dim(0), nt.NModels)
		}
		sh := in.Shp
		ns := append([]int{sh[0] * sh[1]}, sh[2:]...)
		in = etensor.NewFloat32(ns, nil, nil)
		copy(in.Values, input.Values)
	}

	nl := nt.NumLayers()
	tr := &Trace{
		Input:     in,
		BatchSize: in.Dim(0),
		I:         make([][]*etensor.Float32, nl),
		V:         make([][]*etensor.Float32, nl),
		VPrime:    make([][]*etensor.Float32, nl),
		S:         make([][]*etensor.Float32, nl),
		MaxIndex:  make([][]*etensor.Int32, nl),
		VStats:    make([]minmax.AvgMax32, nl),
	}
	for l := range tr.VStats {
		tr.VStats[l].Init()
	}
	outF := nt.Layers[nl-1][0].NumFmap()
	if nt.Loss == Latency {
		tr.OutCum = etensor.NewFloat32([]int{tr.BatchSize, outF}, nil, nil)
	}

	term := nt.TimeSteps
	for t := 0; t < nt.TimeSteps; t++ {
		for l := 0; l < nl; l++ {
			if err := nt.forwardLayer(tr, t, l); err != nil {
				return nil, err
			}
		}
		if nt.Loss == Latency {
			s := tr.S[nl-1][t]
			done := true
			for i, v := range s.Values {
				tr.OutCum.Values[i] += v
				if tr.OutCum.Values[i] == 0 {
					done = false
				}
			}
			if done {
				term = t + 1
				break
			}
		}
	}
	tr.TermLength = term

	// output spike train, batch x time x feature
	tr.Output = etensor.NewFloat32([]int{tr.BatchSize, term, outF}, nil, []string{"Batch", "Time", "Feat"})
	for t := 0; t < term; t++ {
		sv := tr.S[nl-1][t].Values
		for b := 0; b < tr.BatchSize; b++ {
			copy(tr.Output.Values[(b*term+t)*outF:(b*term+t+1)*outF], sv[b*outF:(b+1)*outF])
		}
	}
	for l := range tr.VStats {
		tr.VStats[l].CalcAvg()
	}
	nt.calcFirstSpike(tr)
	nt.calcNumSpike(tr)
	nt.Trace = tr
	return tr, nil
}

// forwardLayer advances layer l by one timestep.
func (nt *Network) forwardLayer(tr *Trace, t, l int) error {
	models := nt.Layers[l]
	ly := models[0]

	var x *etensor.Float32
	if l == 0 {
		x = tmath.TimeSlice(tr.Input, t)
	} else {
		x = tr.S[l-1][t]
	}

	switch ly.Kind {
	case Conv, FC:
		var cur *etensor.Float32
		if nt.MultiModel {
			pb := tr.BatchSize / nt.NModels
			cur = etensor.NewFloat32([]int{tr.BatchSize, ly.Fmap[0]}, nil, nil)
			for m, mly := range models {
				xm := tmath.RowSlice(x, m*pb, pb)
				tmath.SetRows(cur, tmath.MulT(xm, mly.Wt), m*pb)
			}
		} else if ly.Kind == FC {
			cur = tmath.MulT(x, ly.Wt)
		} else {
			cur = tmath.Conv2D(x, ly.Wt, ly.Padding)
		}
		tmath.Scale(cur, nt.Kernel.BetaI)
		if t > 0 {
			ip := tr.I[l][t-1].Values
			sp := tr.S[l][t-1].Values
			for i := range cur.Values {
				cur.Values[i] += nt.Kernel.AlphaI * ip[i] * (1 - sp[i])
			}
		}
		tr.I[l] = append(tr.I[l], cur)

		vm := tmath.NewLike(cur)
		if err := nt.addBias(vm, cur, models, tr.BatchSize); err != nil {
			return err
		}
		if t > 0 {
			vp := tr.V[l][t-1].Values
			sp := tr.S[l][t-1].Values
			for i := range vm.Values {
				vm.Values[i] += vp[i] * (1 - sp[i]) * nt.Kernel.AlphaV
			}
		}
		tr.V[l] = append(tr.V[l], vm)

		vpr := tmath.NewLike(vm)
		if t > 0 {
			prev := tr.V[l][t-1].Values
			sp := tr.S[l][t-1].Values
			for i, v := range vm.Values {
				vpr.Values[i] = v - prev[i]*(1-sp[i])
			}
		} else {
			copy(vpr.Values, vm.Values)
		}
		for i, v := range vpr.Values {
			if v < vPrimeMin {
				vpr.Values[i] = vPrimeMin
			}
		}
		tr.VPrime[l] = append(tr.VPrime[l], vpr)

		sp := tmath.NewLike(vm)
		st := &tr.VStats[l]
		for i, v := range vm.Values {
			st.UpdateVal(v, int32(i))
			if v >= spikeThr {
				sp.Values[i] = 1
			}
		}
		tr.S[l] = append(tr.S[l], sp)

	case AvgPool:
		tr.S[l] = append(tr.S[l], tmath.AvgPool2D(x, ly.Spec.Pool))

	case MaxPool:
		pooled, idx := tmath.MaxPool2D(x, ly.Spec.Pool)
		tr.S[l] = append(tr.S[l], pooled)
		tr.MaxIndex[l] = append(tr.MaxIndex[l], idx)

	case Flatten:
		flat := etensor.NewFloat32([]int{x.Dim(0), ly.Fmap[0]}, nil, nil)
		copy(flat.Values, x.Values)
		tr.S[l] = append(tr.S[l], flat)
	}
	return nil
}

// addBias sets vm = cur * BetaV + bias * BetaBias, broadcasting the
// per-output bias over the batch (rank 2) or over the spatial map
// (rank 4).  Under multi-model mode each model's rows get that model's
// bias.
func (nt *Network) addBias(vm, cur *etensor.Float32, models []*Layer, batch int) error {
	kp := &nt.Kernel
	if nt.MultiModel {
		pb := batch / nt.NModels
		nf := models[0].Fmap[0]
		for b := 0; b < batch; b++ {
			bias := models[b/pb].Bias.Values
			for o := 0; o < nf; o++ {
				vm.Values[b*nf+o] = cur.Values[b*nf+o]*kp.BetaV + bias[o]*kp.BetaBias
			}
		}
		return nil
	}
	ly := models[0]
	switch cur.NumDims() {
	case 2:
		nf := ly.Fmap[0]
		bias := ly.Bias.Values
		for b := 0; b < batch; b++ {
			for o := 0; o < nf; o++ {
				vm.Values[b*nf+o] = cur.Values[b*nf+o]*kp.BetaV + bias[o]*kp.BetaBias
			}
		}
	case 4:
		nc, hw := cur.Dim(1), cur.Dim(2)*cur.Dim(3)
		bias := ly.Bias.Values
		for b := 0; b < batch; b++ {
			for c := 0; c < nc; c++ {
				bv := bias[c] * kp.BetaBias
				off := (b*nc + c) * hw
				for i := 0; i < hw; i++ {
					vm.Values[off+i] = cur.Values[off+i]*kp.BetaV + bv
				}
			}
		}
	default:
		return fmt.Errorf("%w: expected rank 2 or 4 current tensor, got rank %d", ErrShape, cur.NumDims())
	}
	return nil
}

// calcFirstSpike finds, per batch row, the earliest timestep at which any
// output neuron fired.  It takes the maximum over a time weight that
// decreases linearly from TermLength at t=0 to 1 at the last step (0 for
// a neuron that never fires), so the winning weight directly encodes the
// earliest spike.  Rows that never spike get FirstSpike = TermLength.
func (nt *Network) calcFirstSpike(tr *Trace) {
	term := tr.TermLength
	outF := tr.Output.Dim(2)
	tr.FirstSpike = make([]float32, tr.BatchSize)
	for b := 0; b < tr.BatchSize; b++ {
		var best float32
		for t := 0; t < term; t++ {
			wt := float32(term - t)
			for f := 0; f < outF; f++ {
				if v := tr.Output.Values[(b*term+t)*outF+f] * wt; v > best {
					best = v
				}
			}
		}
		tr.FirstSpike[b] = float32(term) - best
	}
	pb := tr.BatchSize / nt.NModels
	tr.FirstSpikeMin = make([]float32, nt.NModels)
	tr.FirstSpikeMean = make([]float32, nt.NModels)
	for m := 0; m < nt.NModels; m++ {
		mn := tr.FirstSpike[m*pb]
		var sum float32
		for b := m * pb; b < (m+1)*pb; b++ {
			if tr.FirstSpike[b] < mn {
				mn = tr.FirstSpike[b]
			}
			sum += tr.FirstSpike[b]
		}
		tr.FirstSpikeMin[m] = mn
		tr.FirstSpikeMean[m] = sum / float32(pb)
	}
}

// calcNumSpike computes, per model and per weighted layer, the total
// spike count and the "necessary" spike count: spikes occurring at or
// before each example's first output spike.
func (nt *Network) calcNumSpike(tr *Trace) {
	pb := tr.BatchSize / nt.NModels
	tr.NumSpikeTotal = make([][]int, nt.NModels)
	tr.NumSpikeNec = make([][]int, nt.NModels)
	for m := range tr.NumSpikeTotal {
		tr.NumSpikeTotal[m] = make([]int, 0, nt.NumLayers())
		tr.NumSpikeNec[m] = make([]int, 0, nt.NumLayers())
	}
	for l := 0; l < nt.NumLayers(); l++ {
		if !nt.Layers[l][0].IsWeighted() {
			continue
		}
		nf := nt.Layers[l][0].NumFmap()
		for m := 0; m < nt.NModels; m++ {
			tot, nec := 0, 0
			for t := 0; t < tr.TermLength; t++ {
				sv := tr.S[l][t].Values
				for b := m * pb; b < (m+1)*pb; b++ {
					cnt := 0
					for f := 0; f < nf; f++ {
						if sv[b*nf+f] > 0 {
							cnt++
						}
					}
					tot += cnt
					if float32(t) <= tr.FirstSpike[b] {
						nec += cnt
					}
				}
			}
			tr.NumSpikeTotal[m] = append(tr.NumSpikeTotal[m], tot)
			tr.NumSpikeNec[m] = append(tr.NumSpikeNec[m], nec)
		}
	}
}
