// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package antlr

import (
	"github.com/emer/etable/v2/etensor"
	"github.com/snnsim/antlr/tmath"
)

// Layer is one layer descriptor: its kind, trainable parameters (nil for
// pooling and flatten layers), and feature-map shapes.  It holds
// parameters only -- all per-timestep simulation state lives on the Trace
// so that one Layer can never leak state between forward/backward cycles.
type Layer struct {
	Kind    LayerKinds `desc:"layer kind"`
	Spec    LayerSpec  `desc:"parsed spec this layer was built from"`
	In      []int      `desc:"input feature-map shape: [chans, height, width] or [features]"`
	Fmap    []int      `desc:"output feature-map shape: [chans, height, width] or [features]"`
	Padding int        `desc:"conv zero padding = kernel size / 2"`

	Wt       *etensor.Float32 `desc:"weights: [out, in] for FC, [out, in, k, k] for Conv; nil otherwise"`
	Bias     *etensor.Float32 `desc:"per-output bias [out], applied during the voltage update; nil for non-trainable layers"`
	WtGrad   *etensor.Float32 `desc:"accumulated weight gradient, same shape as Wt"`
	BiasGrad *etensor.Float32 `desc:"accumulated bias gradient, same shape as Bias"`
}

// IsWeighted returns true for layers with trainable parameters.
func (ly *Layer) IsWeighted() bool { return ly.Kind == Conv || ly.Kind == FC }

// NumFmap returns the flat size of the output feature map.
func (ly *Layer) NumFmap() int {
	n := 1
	for _, d := range ly.Fmap {
		n *= d
	}
	return n
}

// FanIn returns the number of inputs per output unit.
func (ly *Layer) FanIn() int {
	switch ly.Kind {
	case FC:
		return ly.Wt.Dim(1)
	case Conv:
		return ly.Wt.Dim(1) * ly.Wt.Dim(2) * ly.Wt.Dim(3)
	}
	return 0
}

// InitWeights initializes the trainable parameters: bias to zero, weights
// drawn from the init distribution (if enabled) plus the constant offset.
func (ly *Layer) InitWeights(wi *WtInitParams) {
	if !ly.IsWeighted() {
		return
	}
	for i := range ly.Bias.Values {
		ly.Bias.Values[i] = 0
	}
	for i := range ly.Wt.Values {
		w := wi.Bias
		if wi.On {
			w += float32(wi.Gen(-1))
		}
		ly.Wt.Values[i] = w
	}
	ly.ZeroGrads()
}

// ZeroGrads zeroes the accumulated parameter gradients.
func (ly *Layer) ZeroGrads() {
	if !ly.IsWeighted() {
		return
	}
	for i := range ly.WtGrad.Values {
		ly.WtGrad.Values[i] = 0
	}
	for i := range ly.BiasGrad.Values {
		ly.BiasGrad.Values[i] = 0
	}
}

// ClampGrads clamps the accumulated parameter gradients elementwise to
// [-|clip|, +|clip|].
func (ly *Layer) ClampGrads(clip float32) {
	if !ly.IsWeighted() {
		return
	}
	tmath.ClampAbs(ly.WtGrad, clip)
	tmath.ClampAbs(ly.BiasGrad, clip)
}

// SGDStep applies one plain gradient-descent step with learning rate lr.
// Provided for external optimizer loops and tests; gradients are left
// untouched so callers control when to zero them.
func (ly *Layer) SGDStep(lr float32) {
	if !ly.IsWeighted() {
		return
	}
	for i, g := range ly.WtGrad.Values {
		ly.Wt.Values[i] -= lr * g
	}
	for i, g := range ly.BiasGrad.Values {
		ly.Bias.Values[i] -= lr * g
	}
}
