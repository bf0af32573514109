// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package kernel provides the discrete impulse-response kernels that convolve
spike trains into loss-relevant synaptic traces.

The alpha kernel is a single exponential decay AlphaExp^t, truncated where
its magnitude falls to 1e-6, used to smooth the output/target difference
for spike-train and spike-count losses.  The epsilon kernel is the
double-exponential post-synaptic response obtained by convolving an
exponentially decaying current response (AlphaI) with an exponentially
decaying voltage integration response (AlphaV).  Both come with a centered
finite-difference "prime" variant approximating their time derivative.

When BetaAuto is set, the normalization constants are derived so the peak
post-synaptic response is unity: BetaI = 1, BetaV = BetaBias =
1 / max(epsilon).
*/
package kernel

import (
	"github.com/chewxy/math32"
	"github.com/emer/etable/v2/etensor"
	"github.com/goki/ki/ints"
	"github.com/snnsim/antlr/tmath"
)

// maxAlphaLen caps the alpha kernel length for very long time horizons.
const maxAlphaLen = 1000

// truncThr is the magnitude below which alpha kernel entries are dropped.
const truncThr = 1e-6

// Params holds the decay and normalization constants and the derived
// kernel tensors.  Update must be called after any change to the
// constants or the time horizon.
type Params struct {
	TimeSteps   int     `desc:"time horizon T: number of simulated steps, sets kernel lengths"`
	AlphaI      float32 `def:"0.25" desc:"per-step decay multiplier for the synaptic current I"`
	AlphaV      float32 `def:"0.8" desc:"per-step decay multiplier for the membrane potential V"`
	AlphaExp    float32 `def:"0.9" desc:"per-step decay of the alpha kernel used for spike-train targets -- forced to 1 for count targets"`
	AlphaExtend int     `def:"200" desc:"extra timesteps of smoothed difference retained beyond the horizon for the spike-train loss"`
	BetaAuto    bool    `desc:"derive BetaV and BetaBias from the epsilon kernel peak so the peak post-synaptic response is unity"`
	BetaI       float32 `def:"1" desc:"scaling of the synaptic current update"`
	BetaV       float32 `def:"1" desc:"scaling of the current-to-voltage integration"`
	BetaBias    float32 `def:"1" desc:"scaling of the bias contribution to the voltage -- separate from BetaV because the bias bypasses the current kernel"`

	Alpha        *etensor.Float32 `view:"-" desc:"alpha kernel values, truncated"`
	AlphaPrime   *etensor.Float32 `view:"-" desc:"centered finite-difference of the alpha kernel"`
	Epsilon      *etensor.Float32 `view:"-" desc:"double-exponential kernel, scaled by BetaI*BetaV"`
	EpsilonPrime *etensor.Float32 `view:"-" desc:"centered finite-difference of the epsilon kernel"`
}

func (kp *Params) Defaults() {
	kp.TimeSteps = 100
	kp.AlphaI = 0.25
	kp.AlphaV = 0.8
	kp.AlphaExp = 0.9
	kp.AlphaExtend = 200
	kp.BetaAuto = true
	kp.BetaI = 1
	kp.BetaV = 1
	kp.BetaBias = 1
	kp.Update()
}

// Update recomputes all kernel tensors from the current constants.
// Values are pure functions of the params.
func (kp *Params) Update() {
	kp.updateAlpha()
	kp.updateEpsilon()
}

func (kp *Params) updateAlpha() {
	n := ints.MinInt(kp.TimeSteps, maxAlphaLen)
	vals := make([]float32, 0, n)
	for t := 0; t < n; t++ {
		v := math32.Pow(kp.AlphaExp, float32(t))
		if v <= truncThr {
			break
		}
		vals = append(vals, v)
	}
	kp.Alpha = etensor.NewFloat32([]int{len(vals)}, nil, []string{"Tau"})
	copy(kp.Alpha.Values, vals)
	kp.AlphaPrime = centeredDiff(vals)
}

func (kp *Params) updateEpsilon() {
	n := kp.TimeSteps
	kp.Epsilon = etensor.NewFloat32([]int{n}, nil, []string{"Tau"})
	for t := 0; t < n; t++ {
		var sum float32
		for k := 0; k <= t; k++ {
			sum += math32.Pow(kp.AlphaI, float32(k)) * math32.Pow(kp.AlphaV, float32(t-k))
		}
		kp.Epsilon.Values[t] = sum
	}
	if kp.BetaAuto {
		mx := float32(0)
		for _, v := range kp.Epsilon.Values {
			if v > mx {
				mx = v
			}
		}
		kp.BetaI = 1
		kp.BetaV = 1 / mx
		kp.BetaBias = 1 / mx
	}
	sc := kp.BetaI * kp.BetaV
	for i := range kp.Epsilon.Values {
		kp.Epsilon.Values[i] *= sc
	}
	kp.EpsilonPrime = centeredDiff(kp.Epsilon.Values)
}

// ApplyAlpha convolves each feature's time series in in [batch, time, feat]
// with the alpha kernel (or its finite-difference variant when prime is
// set).  With padding, both ends are zero-padded by the kernel length - 1,
// extending the output horizon; flip applies the kernel time-reversed,
// which is the inference-direction (true convolution) orientation, while
// the unflipped kernel is used when seeding gradients.
func (kp *Params) ApplyAlpha(in *etensor.Float32, padding, flip, prime bool) *etensor.Float32 {
	kt := kp.Alpha
	if prime {
		kt = kp.AlphaPrime
	}
	k := kt.Values
	if flip {
		k = tmath.Reverse(k)
	}
	pad := 0
	if padding {
		pad = len(k) - 1
	}
	return tmath.Conv1D(in, k, pad)
}

// centeredDiff returns (front-shifted - back-shifted) / 2 where the input
// is extended by two zeros on each end, approximating the time derivative.
// The result has len(k)+2 entries.
func centeredDiff(k []float32) *etensor.Float32 {
	n := len(k)
	out := etensor.NewFloat32([]int{n + 2}, nil, []string{"Tau"})
	for i := 0; i < n+2; i++ {
		var front, back float32
		if i < n {
			front = k[i]
		}
		if i >= 2 {
			back = k[i-2]
		}
		out.Values[i] = (front - back) / 2
	}
	return out
}
