// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package antlr

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/emer/etable/v2/etensor"
	"github.com/goki/ki/ints"
	"github.com/snnsim/antlr/tmath"
)

// Target is the supervised target for one batch.  Spikes is used by the
// SpikeTrain and SpikeCount losses and must match the output spike train
// shape (with the leading model axis under multi-model mode).  Classes is
// used by the Latency loss: one class index per batch row, model-major
// under multi-model mode.
type Target struct {
	Spikes  *etensor.Float32
	Classes []int
}

// Loss holds the scalar loss and the intermediates that seed the
// backward pass.  It is produced by ComputeLoss and consumed by Backward
// for the same Trace.
type Loss struct {
	Rule      LossRules `desc:"loss formulation this was computed under"`
	Total     float32   `desc:"summed loss; under multi-model the sum of PerModel"`
	PerModel  []float32 `desc:"per-model loss, scaled by the model count to preserve per-model-equivalent magnitude"`
	BatchSize int       `desc:"collapsed batch rows the normalization used"`

	Diff    *etensor.Float32 `desc:"alpha-kernel smoothed output/target difference [batch, extended time, features]"`
	Score   *etensor.Float32 `desc:"latency first-spike scores [batch, features]: max over time of output * remaining-time weight"`
	SmGrad  *etensor.Float32 `desc:"gradient of the latency cross-entropy w.r.t. the softmax input [batch, features]"`
	NoSpike []float32        `desc:"latency per-row penalty for a target neuron that never spiked"`
	Classes []int            `desc:"collapsed latency class targets"`
}

// ComputeLoss computes the configured loss for the given trace and
// target.  Shape disagreements are reported as errors wrapping ErrShape.
func (nt *Network) ComputeLoss(tr *Trace, tgt *Target) (*Loss, error) {
	switch nt.Loss {
	case SpikeTrain, SpikeCount:
		return nt.mseLoss(tr, tgt)
	case Latency:
		return nt.latencyLoss(tr, tgt)
	}
	return nil, fmt.Errorf("%w: unrecognized loss rule %d", ErrConfig, nt.Loss)
}

// mseLoss computes the spike-train or spike-count MSE: the output/target
// difference is smoothed by the time-flipped alpha kernel over an
// extended horizon; the loss is the mean squared smoothed difference
// (every timestep for SpikeTrain, only the final one for SpikeCount),
// normalized by horizon * batch.
func (nt *Network) mseLoss(tr *Trace, tgt *Target) (*Loss, error) {
	target := tgt.Spikes
	if target == nil {
		return nil, fmt.Errorf("%w: %s loss requires a spike target", ErrConfig, nt.Loss)
	}
	if nt.MultiModel && target.NumDims() == 4 {
		sh := target.Shp
		flat := etensor.NewFloat32([]int{sh[0] * sh[1], sh[2], sh[3]}, nil, nil)
		copy(flat.Values, target.Values)
		target = flat
	}
	if !shapeEq(tr.Output.Shp, target.Shp) {
		return nil, fmt.Errorf("%w: output %v vs target %v", ErrShape, tr.Output.Shp, target.Shp)
	}

	ls := &Loss{Rule: nt.Loss, BatchSize: tr.BatchSize}
	diffIn := tmath.Clone(tr.Output)
	for i, v := range target.Values {
		diffIn.Values[i] -= v
	}
	full := nt.Kernel.ApplyAlpha(diffIn, true, true, false)
	lim := ints.MinInt(nt.TimeSteps+nt.Kernel.AlphaExtend, full.Dim(1))
	nf := full.Dim(2)
	ls.Diff = etensor.NewFloat32([]int{tr.BatchSize, lim, nf}, nil, nil)
	for b := 0; b < tr.BatchSize; b++ {
		copy(ls.Diff.Values[b*lim*nf:(b+1)*lim*nf], full.Values[b*full.Dim(1)*nf:b*full.Dim(1)*nf+lim*nf])
	}

	norm := float32(nt.NModels) / float32(nt.TimeSteps*tr.BatchSize)
	perRow := make([]float32, tr.BatchSize)
	for b := 0; b < tr.BatchSize; b++ {
		var sum float32
		if nt.Loss == SpikeTrain {
			for _, v := range ls.Diff.Values[b*lim*nf : (b+1)*lim*nf] {
				sum += v * v
			}
		} else {
			for _, v := range ls.Diff.Values[(b*lim+lim-1)*nf : (b+1)*lim*nf] {
				sum += v * v
			}
		}
		perRow[b] = sum * norm
	}
	nt.aggregate(ls, perRow)
	return ls, nil
}

// latencyLoss computes the first-spike-latency loss: cross-entropy over
// softmax-temperature-scaled first-spike scores, plus a penalty
// proportional to the fraction of rows whose target neuron never spiked.
// The cross-entropy gradient w.r.t. the scores is the analytic
// softmax-minus-one-hot form, stored for the backward pass.
func (nt *Network) latencyLoss(tr *Trace, tgt *Target) (*Loss, error) {
	if len(tgt.Classes) != tr.BatchSize {
		return nil, fmt.Errorf("%w: %d class targets vs batch %d", ErrShape, len(tgt.Classes), tr.BatchSize)
	}
	term := tr.TermLength
	nf := tr.Output.Dim(2)
	for _, c := range tgt.Classes {
		if c < 0 || c >= nf {
			return nil, fmt.Errorf("%w: class %d out of range [0, %d)", ErrShape, c, nf)
		}
	}

	ls := &Loss{Rule: Latency, BatchSize: tr.BatchSize, Classes: tgt.Classes}
	ls.Score = etensor.NewFloat32([]int{tr.BatchSize, nf}, nil, nil)
	for b := 0; b < tr.BatchSize; b++ {
		for f := 0; f < nf; f++ {
			var best float32
			for t := 0; t < term; t++ {
				if v := tr.Output.Values[(b*term+t)*nf+f] * float32(term-t); v > best {
					best = v
				}
			}
			ls.Score.Values[b*nf+f] = best
		}
	}

	mscale := float32(nt.NModels) / float32(tr.BatchSize)
	ls.SmGrad = etensor.NewFloat32([]int{tr.BatchSize, nf}, nil, nil)
	ls.NoSpike = make([]float32, tr.BatchSize)
	perRow := make([]float32, tr.BatchSize)
	prob := make([]float32, nf)
	for b := 0; b < tr.BatchSize; b++ {
		cls := tgt.Classes[b]

		// softmax over temperature-scaled scores
		mx := float32(-math32.MaxFloat32)
		for f := 0; f < nf; f++ {
			if v := ls.Score.Values[b*nf+f] * nt.SoftmaxBeta; v > mx {
				mx = v
			}
		}
		var den float32
		for f := 0; f < nf; f++ {
			prob[f] = math32.Exp(ls.Score.Values[b*nf+f]*nt.SoftmaxBeta - mx)
			den += prob[f]
		}
		for f := 0; f < nf; f++ {
			prob[f] /= den
		}

		ce := -math32.Log(prob[cls]) * mscale
		for f := 0; f < nf; f++ {
			g := prob[f]
			if f == cls {
				g -= 1
			}
			ls.SmGrad.Values[b*nf+f] = g * mscale
		}

		// penalty if the target neuron never spiked at all
		var cnt float32
		for t := 0; t < term; t++ {
			cnt += tr.Output.Values[(b*term+t)*nf+cls]
		}
		if cnt == 0 {
			ls.NoSpike[b] = mscale * nt.LambdaNoSpike
		}
		perRow[b] = ce + ls.NoSpike[b]
	}
	nt.aggregate(ls, perRow)
	return ls, nil
}

// aggregate fills Total and PerModel from per-row losses.  The per-row
// values already carry the model-count scaling, so PerModel is a plain
// per-model sum.
func (nt *Network) aggregate(ls *Loss, perRow []float32) {
	pb := len(perRow) / nt.NModels
	ls.PerModel = make([]float32, nt.NModels)
	for m := 0; m < nt.NModels; m++ {
		var sum float32
		for b := m * pb; b < (m+1)*pb; b++ {
			sum += perRow[b]
		}
		ls.PerModel[m] = sum
		ls.Total += sum
	}
}

// calcDLdS derives the per-timestep gradient of the loss with respect to
// the output spikes, one [batch, features] tensor per executed step.
func (nt *Network) calcDLdS(tr *Trace, ls *Loss) []*etensor.Float32 {
	term := tr.TermLength
	nf := tr.Output.Dim(2)
	out := make([]*etensor.Float32, term)

	if ls.Rule == Latency {
		// only the no-spike penalty seeds dL/dS: it is scattered onto the
		// target class at every timestep
		for t := range out {
			g := etensor.NewFloat32([]int{tr.BatchSize, nf}, nil, nil)
			for b := 0; b < tr.BatchSize; b++ {
				g.Values[b*nf+ls.Classes[b]] = -ls.NoSpike[b]
			}
			out[t] = g
		}
		return out
	}

	scale := 2 * float32(nt.NModels) / float32(nt.TimeSteps*tr.BatchSize)
	if ls.Rule == SpikeTrain {
		conv := nt.Kernel.ApplyAlpha(ls.Diff, false, false, false)
		ct := conv.Dim(1)
		for t := range out {
			g := etensor.NewFloat32([]int{tr.BatchSize, nf}, nil, nil)
			for b := 0; b < tr.BatchSize; b++ {
				for f := 0; f < nf; f++ {
					g.Values[b*nf+f] = conv.Values[(b*ct+t)*nf+f] * scale
				}
			}
			out[t] = g
		}
		return out
	}

	// count: the trivial constant kernel reduces the convolution to the
	// final-step difference, repeated at every timestep
	lim := ls.Diff.Dim(1)
	for t := range out {
		g := etensor.NewFloat32([]int{tr.BatchSize, nf}, nil, nil)
		for b := 0; b < tr.BatchSize; b++ {
			for f := 0; f < nf; f++ {
				g.Values[b*nf+f] = ls.Diff.Values[(b*lim+lim-1)*nf+f] * scale
			}
		}
		out[t] = g
	}
	return out
}

// calcDLdT derives the per-timestep gradient of the loss with respect to
// spike timing.  For spike-train targets this uses the time-derivative
// kernel, masked to timesteps where an output spike occurred; for count
// targets it is identically zero; for latency targets the softmax
// gradient is scattered onto the timestep of each row's maximal score.
func (nt *Network) calcDLdT(tr *Trace, ls *Loss) []*etensor.Float32 {
	term := tr.TermLength
	nf := tr.Output.Dim(2)
	out := make([]*etensor.Float32, term)
	for t := range out {
		out[t] = etensor.NewFloat32([]int{tr.BatchSize, nf}, nil, nil)
	}

	switch ls.Rule {
	case Latency:
		for b := 0; b < tr.BatchSize; b++ {
			for f := 0; f < nf; f++ {
				sc := ls.Score.Values[b*nf+f]
				if sc == 0 {
					continue // never spiked: no timing to move
				}
				t := int(float32(term) - sc)
				if t < 0 {
					t = 0
				} else if t > term-1 {
					t = term - 1
				}
				out[t].Values[b*nf+f] = ls.SmGrad.Values[b*nf+f] * -nt.SoftmaxBeta
			}
		}
	case SpikeTrain:
		raw := nt.Kernel.ApplyAlpha(ls.Diff, true, false, true)
		start := nt.Kernel.AlphaPrime.Len() - 2
		rt := raw.Dim(1)
		scale := -2 * float32(nt.NModels) / float32(nt.TimeSteps*tr.BatchSize)
		for t := 0; t < term; t++ {
			for b := 0; b < tr.BatchSize; b++ {
				for f := 0; f < nf; f++ {
					out[t].Values[b*nf+f] = tr.Output.Values[(b*term+t)*nf+f] *
						raw.Values[(b*rt+start+t)*nf+f] * scale
				}
			}
		}
	}
	// SpikeCount: timing carries no gradient, seeds stay zero
	return out
}

func shapeEq(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
