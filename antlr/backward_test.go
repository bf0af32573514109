// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package antlr

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/emer/etable/v2/etensor"
)

// countTarget is the memoryless-scenario target that zeroes neuron 0's
// spikes: the final smoothed count difference is (2, 0).
func countTarget() *Target {
	target := etensor.NewFloat32([]int{1, 3, 2}, nil, nil)
	copy(target.Values, []float32{0, 0, 0, 1, 0, 1})
	return &Target{Spikes: target}
}

// runCycle runs one full forward / loss / backward cycle.
func runCycle(t *testing.T, nt *Network, in *etensor.Float32, tgt *Target) (*Trace, *Loss, *GradTrace) {
	t.Helper()
	tr, err := nt.Forward(in)
	if err != nil {
		t.Fatal(err)
	}
	ls, err := nt.ComputeLoss(tr, tgt)
	if err != nil {
		t.Fatal(err)
	}
	gt, err := nt.Backward(tr, ls)
	if err != nil {
		t.Fatal(err)
	}
	return tr, ls, gt
}

// TestBackwardActivation checks the activation-rule gradients of the
// memoryless scenario against hand-derived values.  With zero decay the
// recurrences collapse: dL/dI(t) = surrDeriv(V(t)) * dL/dS(t), and
// dL/dS(t) is the constant 2*diff/(T*B) = 4/3 on neuron 0.
func TestBackwardActivation(t *testing.T) {
	nt := memorylessNet(t, SpikeCount, Activation)
	_, _, _ = runCycle(t, nt, memorylessInput(), countTarget())

	// neuron 0's V over time is 1, 0, 1
	d1 := float32(4.0/3.0) * nt.Surr.Deriv(1)
	d0 := float32(4.0/3.0) * nt.Surr.Deriv(0)

	// x(t) = (1,0), (0,1), (1,1); neuron 0's V = 1, 0, 1
	ly := nt.Layer(0, 0)
	cmpFloats(t, ly.WtGrad.Values, []float32{
		d1 + d1, d0 + d1,
		0, 0,
	}, "weight gradient")
	cmpFloats(t, ly.BiasGrad.Values, []float32{d1 + d0 + d1, 0}, "bias gradient")
}

// TestBackwardTimingSilent checks that the timing rule with a count
// target produces exactly zero gradients when every neuron spikes: the
// count loss carries no timing gradient and no silent-neuron penalty
// applies.
func TestBackwardTimingSilent(t *testing.T) {
	nt := memorylessNet(t, SpikeCount, Timing)
	_, _, _ = runCycle(t, nt, memorylessInput(), countTarget())

	ly := nt.Layer(0, 0)
	cmpFloats(t, ly.WtGrad.Values, []float32{0, 0, 0, 0}, "timing weight gradient")
	cmpFloats(t, ly.BiasGrad.Values, []float32{0, 0}, "timing bias gradient")
}

// TestBackwardTimingPenalty checks the silent-neuron penalty: a neuron
// with no spikes over the whole run pulls its weight row down by
// TimingPenalty / fanIn.
func TestBackwardTimingPenalty(t *testing.T) {
	nt := memorylessNet(t, SpikeCount, Timing)
	ly := nt.Layer(0, 0)
	copy(ly.Wt.Values, []float32{1, 0, 0, 0}) // neuron 1 silent
	copy(ly.Bias.Values, []float32{0, 0})

	tr, err := nt.Forward(memorylessInput())
	if err != nil {
		t.Fatal(err)
	}
	ls, err := nt.ComputeLoss(tr, &Target{Spikes: tr.Output})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := nt.Backward(tr, ls); err != nil {
		t.Fatal(err)
	}

	pen := nt.TimingPenalty / 2 // fan-in 2
	cmpFloats(t, ly.WtGrad.Values, []float32{0, 0, -pen, -pen}, "penalty gradient")
}

// TestBackwardANTLRBlend checks that with a count target (which has no
// timing gradient) the hybrid rule reduces to LambdaAct times the
// activation-rule gradient.
func TestBackwardANTLRBlend(t *testing.T) {
	act := memorylessNet(t, SpikeCount, Activation)
	_, _, _ = runCycle(t, act, memorylessInput(), countTarget())

	hyb := memorylessNet(t, SpikeCount, ANTLR)
	hyb.LambdaAct = 0.5
	_, _, _ = runCycle(t, hyb, memorylessInput(), countTarget())

	aw := act.Layer(0, 0).WtGrad.Values
	hw := hyb.Layer(0, 0).WtGrad.Values
	for i := range aw {
		if dif := hw[i] - 0.5*aw[i]; dif < -difTol || dif > difTol {
			t.Errorf("blend weight %v: got %v, want %v", i, hw[i], 0.5*aw[i])
		}
	}
}

// TestBackwardANTLRLatency checks the hybrid gradients for a latency
// target where every neuron fires immediately: the whole gradient comes
// from the timing path through the potential slope.
func TestBackwardANTLRLatency(t *testing.T) {
	nt := memorylessNet(t, Latency, ANTLR)
	ly := nt.Layer(0, 0)
	copy(ly.Wt.Values, []float32{5, 5, 5, 5})
	copy(ly.Bias.Values, []float32{0, 0})

	in := etensor.NewFloat32([]int{1, 3, 2}, nil, nil)
	for i := range in.Values {
		in.Values[i] = 1
	}
	_, _, _ = runCycle(t, nt, in, &Target{Classes: []int{0}})

	// scores (1,1) -> softmax gradient (-0.5, 0.5), scattered to t=0 and
	// negated by the temperature; the potential slope is V = 10, so
	// dL/dV = (0.5, -0.5) / -10 and the all-ones input spreads it evenly
	cmpFloats(t, ly.WtGrad.Values, []float32{
		-0.05, -0.05,
		0.05, 0.05,
	}, "latency weight gradient")
	cmpFloats(t, ly.BiasGrad.Values, []float32{-0.05, 0.05}, "latency bias gradient")
}

// TestBackwardClip checks that every accumulated gradient entry is
// clamped to the configured magnitude.
func TestBackwardClip(t *testing.T) {
	nt := memorylessNet(t, SpikeCount, Activation)
	nt.GradClip = []float32{0.5}
	_, _, _ = runCycle(t, nt, memorylessInput(), countTarget())

	ly := nt.Layer(0, 0)
	// unclipped value would be 0.8
	cmpFloats(t, ly.WtGrad.Values[:1], []float32{0.5}, "clipped gradient")
	for i, v := range ly.BiasGrad.Values {
		if v < -0.5 || v > 0.5 {
			t.Errorf("bias gradient %v outside clip: %v", i, v)
		}
	}
}

// TestBackwardMultiModel checks that replicated models fed the same
// example reproduce the single-model gradient per replica: the model
// count scaling exactly offsets the larger collapsed batch.
func TestBackwardMultiModel(t *testing.T) {
	single := memorylessNet(t, SpikeCount, Activation)
	_, _, _ = runCycle(t, single, memorylessInput(), countTarget())

	cfg := &Config{}
	cfg.Defaults()
	cfg.Net = []string{"2", "fc2"}
	cfg.TimeSteps = 3
	cfg.Loss = SpikeCount
	cfg.Rule = Activation
	cfg.Kernel.BetaAuto = false
	cfg.Kernel.AlphaI = 0
	cfg.Kernel.AlphaV = 0
	cfg.WtInit.On = false
	cfg.MultiModel = true
	cfg.NModels = 2
	nt, err := NewNetwork(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for m := 0; m < 2; m++ {
		ly := nt.Layer(0, m)
		copy(ly.Wt.Values, []float32{1, 0, 0, 0.5})
		copy(ly.Bias.Values, []float32{0, 0.6})
	}

	in := etensor.NewFloat32([]int{2, 1, 3, 2}, nil, nil)
	copy(in.Values[:6], []float32{1, 0, 0, 1, 1, 1})
	copy(in.Values[6:], []float32{1, 0, 0, 1, 1, 1})
	target := etensor.NewFloat32([]int{2, 1, 3, 2}, nil, nil)
	copy(target.Values[:6], []float32{0, 0, 0, 1, 0, 1})
	copy(target.Values[6:], []float32{0, 0, 0, 1, 0, 1})
	_, ls, _ := runCycle(t, nt, in, &Target{Spikes: target})

	if dif := ls.PerModel[0] - ls.PerModel[1]; dif < -difTol || dif > difTol {
		t.Errorf("per-model losses differ: %v", ls.PerModel)
	}
	want := single.Layer(0, 0).WtGrad.Values
	for m := 0; m < 2; m++ {
		cmpFloats(t, nt.Layer(0, m).WtGrad.Values, want, "model gradient")
	}
}

// TestBackwardConvPath runs activation-rule backpropagation through a
// conv / mpool / flatten / fc stack with zero decay and uniform state,
// so every gradient is derivable by counting kernel tap overlaps.
func TestBackwardConvPath(t *testing.T) {
	cfg := &Config{}
	cfg.Defaults()
	cfg.Net = []string{"1x4x4", "conv1c3", "mpool2", "flatten", "fc2"}
	cfg.TimeSteps = 2
	cfg.Loss = SpikeCount
	cfg.Rule = Activation
	cfg.Kernel.BetaAuto = false
	cfg.Kernel.AlphaI = 0
	cfg.Kernel.AlphaV = 0
	cfg.WtInit.On = false
	nt, err := NewNetwork(cfg)
	if err != nil {
		t.Fatal(err)
	}
	conv := nt.Layer(0, 0)
	conv.Bias.Values[0] = 2 // every conv unit fires every step
	fc := nt.Layer(3, 0)
	for i := range fc.Wt.Values {
		fc.Wt.Values[i] = 0.3 // V = 0.3*4 = 1.2: both outputs fire
	}

	in := etensor.NewFloat32([]int{1, 2, 1, 4, 4}, nil, nil)
	for i := range in.Values {
		in.Values[i] = 1
	}
	target := etensor.NewFloat32([]int{1, 2, 2}, nil, nil)
	_, _, _ = runCycle(t, nt, in, &Target{Spikes: target})

	// count difference 2 per output over T=2, batch 1: dL/dS = 2
	igFC := 2 * nt.Surr.Deriv(1.2)
	want := igFC * 2 // summed over both timesteps, all-ones input
	cmpFloats(t, fc.WtGrad.Values, []float32{
		want, want, want, want,
		want, want, want, want,
	}, "fc weight gradient")
	cmpFloats(t, fc.BiasGrad.Values, []float32{want, want}, "fc bias gradient")

	// the pooled gradient unpools onto each window's top-left unit; each
	// carries both output rows through the 0.3 weights
	g := igFC * 0.3 * 2 * nt.Surr.Deriv(2)
	// per kernel tap: number of valid (output, tap) overlaps along each
	// axis is 1 for tap 0, 2 for taps 1 and 2, squared across axes and
	// doubled over time
	cnt := []float32{1, 2, 2}
	wantW := make([]float32, 9)
	for ky := 0; ky < 3; ky++ {
		for kx := 0; kx < 3; kx++ {
			wantW[ky*3+kx] = g * 2 * cnt[ky] * cnt[kx]
		}
	}
	cmpFloats(t, conv.WtGrad.Values, wantW, "conv weight gradient")
	// four winning units per step, two steps
	cmpFloats(t, conv.BiasGrad.Values, []float32{g * 8}, "conv bias gradient")
}

// TestBackwardNaNGuard checks that a NaN flowing out of the gradient
// recurrences is replaced with zero in the weight gradients instead of
// poisoning the accumulator or failing the pass.
func TestBackwardNaNGuard(t *testing.T) {
	nt := memorylessNet(t, SpikeCount, Activation)
	ly := nt.Layer(0, 0)
	ly.Wt.Values[0] = math32.NaN()

	// neuron 0's potential is NaN at every step, so it never crosses
	// threshold and matches the all-zero target; its surrogate slope is
	// still NaN and taints the whole gradient row
	_, _, _ = runCycle(t, nt, memorylessInput(), countTarget())

	for i, v := range ly.WtGrad.Values {
		if math32.IsNaN(v) {
			t.Errorf("weight gradient %d is NaN", i)
		}
	}
	cmpFloats(t, ly.WtGrad.Values, []float32{0, 0, 0, 0}, "guarded weight gradient")
	// neuron 1 is untouched by the injection and has zero loss
	if g := ly.BiasGrad.Values[1]; g != 0 {
		t.Errorf("bias gradient 1: got %v, want 0", g)
	}
}

// TestSGDStep checks the zero-grads / step round trip against the
// activation-rule gradients.
func TestSGDStep(t *testing.T) {
	nt := memorylessNet(t, SpikeCount, Activation)
	_, _, _ = runCycle(t, nt, memorylessInput(), countTarget())

	ly := nt.Layer(0, 0)
	w0 := ly.Wt.Values[0]
	g0 := ly.WtGrad.Values[0]

	// zero-rate step leaves the weights bit-identical
	before := append([]float32(nil), ly.Wt.Values...)
	nt.SGDStep(0)
	for i, v := range ly.Wt.Values {
		if v != before[i] {
			t.Errorf("zero-lr step changed weight %d: %v -> %v", i, before[i], v)
		}
	}

	nt.SGDStep(0.1)
	if dif := ly.Wt.Values[0] - (w0 - 0.1*g0); dif < -difTol || dif > difTol {
		t.Errorf("sgd step: got %v, want %v", ly.Wt.Values[0], w0-0.1*g0)
	}

	nt.ZeroGrads()
	cmpFloats(t, ly.WtGrad.Values, []float32{0, 0, 0, 0}, "zeroed gradients")
	cmpFloats(t, ly.BiasGrad.Values, []float32{0, 0}, "zeroed bias gradients")
}
