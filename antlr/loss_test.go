// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package antlr

import (
	"errors"
	"testing"

	"github.com/chewxy/math32"
	"github.com/emer/etable/v2/etensor"
)

func TestSpikeCountLoss(t *testing.T) {
	nt := memorylessNet(t, SpikeCount, Activation)
	tr, err := nt.Forward(memorylessInput())
	if err != nil {
		t.Fatal(err)
	}

	// exact target: zero loss
	tgt := &Target{Spikes: tr.Output}
	ls, err := nt.ComputeLoss(tr, tgt)
	if err != nil {
		t.Fatal(err)
	}
	if ls.Total < -difTol || ls.Total > difTol {
		t.Errorf("exact target loss: got %v, want 0", ls.Total)
	}

	// drop neuron 0's two target spikes: count difference 2,
	// loss = 2^2 / (T * batch) = 4/3
	target := etensor.NewFloat32([]int{1, 3, 2}, nil, nil)
	copy(target.Values, []float32{0, 0, 0, 1, 0, 1})
	ls, err = nt.ComputeLoss(tr, &Target{Spikes: target})
	if err != nil {
		t.Fatal(err)
	}
	want := float32(4.0 / 3.0)
	if dif := ls.Total - want; dif < -difTol || dif > difTol {
		t.Errorf("count loss: got %v, want %v", ls.Total, want)
	}
	if len(ls.PerModel) != 1 || ls.PerModel[0] != ls.Total {
		t.Errorf("per-model loss: %v", ls.PerModel)
	}

	// under a constant smoothing kernel the final smoothed difference is
	// the count difference
	lim := ls.Diff.Dim(1)
	cmpFloats(t, ls.Diff.Values[(lim-1)*2:lim*2], []float32{2, 0}, "final diff")

	// shape mismatch
	bad := etensor.NewFloat32([]int{1, 3, 3}, nil, nil)
	if _, err := nt.ComputeLoss(tr, &Target{Spikes: bad}); !errors.Is(err, ErrShape) {
		t.Errorf("target shape: got %v, want ErrShape", err)
	}
}

func TestSpikeTrainLoss(t *testing.T) {
	nt := memorylessNet(t, SpikeTrain, Activation)
	tr, err := nt.Forward(memorylessInput())
	if err != nil {
		t.Fatal(err)
	}

	// exact target still gives zero under the smoothed difference
	ls, err := nt.ComputeLoss(tr, &Target{Spikes: tr.Output})
	if err != nil {
		t.Fatal(err)
	}
	if ls.Total < -difTol || ls.Total > difTol {
		t.Errorf("exact target loss: got %v, want 0", ls.Total)
	}

	// a mismatch is penalized over the extended horizon
	target := etensor.NewFloat32([]int{1, 3, 2}, nil, nil)
	ls, err = nt.ComputeLoss(tr, &Target{Spikes: target})
	if err != nil {
		t.Fatal(err)
	}
	if ls.Total <= 0 {
		t.Errorf("mismatch loss not positive: %v", ls.Total)
	}
	if ls.Diff.Dim(1) <= nt.TimeSteps {
		t.Errorf("diff horizon not extended: %v", ls.Diff.Dim(1))
	}
}

func TestLatencyLoss(t *testing.T) {
	nt := memorylessNet(t, Latency, ANTLR)
	ly := nt.Layer(0, 0)
	copy(ly.Wt.Values, []float32{5, 5, 5, 5})
	copy(ly.Bias.Values, []float32{0, 0})

	in := etensor.NewFloat32([]int{1, 3, 2}, nil, nil)
	for i := range in.Values {
		in.Values[i] = 1
	}
	tr, err := nt.Forward(in)
	if err != nil {
		t.Fatal(err)
	}

	ls, err := nt.ComputeLoss(tr, &Target{Classes: []int{0}})
	if err != nil {
		t.Fatal(err)
	}
	// both neurons fire at t=0 with term 1: scores (1,1), softmax is
	// uniform, cross-entropy = ln 2, and the target neuron spiked
	cmpFloats(t, ls.Score.Values, []float32{1, 1}, "scores")
	want := math32.Log(2)
	if dif := ls.Total - want; dif < -difTol || dif > difTol {
		t.Errorf("latency loss: got %v, want %v", ls.Total, want)
	}
	cmpFloats(t, ls.SmGrad.Values, []float32{-0.5, 0.5}, "softmax gradient")
	if ls.NoSpike[0] != 0 {
		t.Errorf("no-spike penalty: got %v, want 0", ls.NoSpike[0])
	}

	// class index errors
	if _, err := nt.ComputeLoss(tr, &Target{Classes: []int{5}}); !errors.Is(err, ErrShape) {
		t.Errorf("class out of range: got %v, want ErrShape", err)
	}
	if _, err := nt.ComputeLoss(tr, &Target{Classes: []int{0, 1}}); !errors.Is(err, ErrShape) {
		t.Errorf("class count mismatch: got %v, want ErrShape", err)
	}
}

func TestLatencyNoSpikePenalty(t *testing.T) {
	nt := memorylessNet(t, Latency, ANTLR)
	ly := nt.Layer(0, 0)
	// only neuron 0 can fire
	copy(ly.Wt.Values, []float32{5, 5, 0, 0})
	copy(ly.Bias.Values, []float32{0, 0})

	in := etensor.NewFloat32([]int{1, 3, 2}, nil, nil)
	for i := range in.Values {
		in.Values[i] = 1
	}
	tr, err := nt.Forward(in)
	if err != nil {
		t.Fatal(err)
	}
	// neuron 1 never fires, so the latency run uses the full horizon
	if tr.TermLength != 3 {
		t.Fatalf("term length: got %v, want 3", tr.TermLength)
	}

	ls, err := nt.ComputeLoss(tr, &Target{Classes: []int{1}})
	if err != nil {
		t.Fatal(err)
	}
	if ls.NoSpike[0] != nt.LambdaNoSpike {
		t.Errorf("no-spike penalty: got %v, want %v", ls.NoSpike[0], nt.LambdaNoSpike)
	}
	// total = cross-entropy + penalty > penalty alone
	if ls.Total <= ls.NoSpike[0] {
		t.Errorf("loss %v should exceed the bare penalty %v", ls.Total, ls.NoSpike[0])
	}
}
