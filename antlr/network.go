// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package antlr

import (
	"fmt"

	"github.com/emer/etable/v2/etensor"
)

// Network is a feed-forward spiking network: an ordered list of layer
// descriptors built once from the configured layer tags, plus the derived
// kernels.  Under multi-model replication the stack is instantiated once
// per model with independent weights; Layers is indexed [layer][model]
// and has a single model column otherwise.
//
// A Network carries no per-cycle simulation state of its own beyond the
// Trace retained between Forward and ResetState -- callers must serialize
// Forward/ComputeLoss/Backward cycles per instance.
type Network struct {
	Config

	Input  InputSpec  `desc:"parsed input shape"`
	Specs  []LayerSpec `desc:"parsed layer specs, one per layer"`
	Layers [][]*Layer  `desc:"layer descriptors indexed [layer][model]"`

	Trace *Trace `view:"-" desc:"trace retained from the last Forward, released by ResetState"`
}

// NewNetwork validates the configuration, derives the kernels, builds the
// layer stack, and initializes weights.  Any configuration problem is
// reported as an error wrapping ErrConfig.
func NewNetwork(cfg *Config) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	nt := &Network{Config: *cfg}
	nt.Kernel.TimeSteps = nt.TimeSteps
	if nt.Loss == SpikeCount {
		// with a constant kernel the smoothed difference degenerates to
		// the running count difference
		nt.Kernel.AlphaExp = 1
		nt.Kernel.AlphaExtend = 0
	}
	nt.Kernel.Update()
	if err := nt.Build(); err != nil {
		return nil, err
	}
	nt.InitWeights()
	return nt, nil
}

// NumLayers returns the number of layers in the stack.
func (nt *Network) NumLayers() int { return len(nt.Layers) }

// Layer returns the descriptor for the given layer and model.
func (nt *Network) Layer(l, m int) *Layer { return nt.Layers[l][m] }

// Build parses the layer tags and constructs the layer descriptors,
// threading the running feature-map shape left to right.  Under
// multi-model mode the walk runs once per model, sharing shape metadata
// but registering independent parameters.
func (nt *Network) Build() error {
	in, err := ParseInputSpec(nt.Net[0])
	if err != nil {
		return err
	}
	nt.Input = in
	nt.Specs = make([]LayerSpec, 0, len(nt.Net)-1)
	nt.Layers = make([][]*Layer, 0, len(nt.Net)-1)

	ch, h, w := in.Chans, in.Height, in.Width
	for _, tag := range nt.Net[1:] {
		spec, err := ParseLayerSpec(tag)
		if err != nil {
			return err
		}
		if nt.MultiModel {
			switch spec.Kind {
			case Conv, AvgPool, MaxPool:
				return fmt.Errorf("%w: layer kind %s unsupported for multi-models", ErrConfig, spec.Kind)
			}
		}
		var inShape, fmap []int
		pad := 0
		switch spec.Kind {
		case Conv:
			if h == 0 {
				return fmt.Errorf("%w: conv layer %q requires image input, have flat %d features", ErrConfig, tag, ch)
			}
			pad = spec.Ksize / 2
			inShape = []int{ch, h, w}
			ch = spec.Out
			fmap = []int{ch, h, w}
		case FC:
			if h != 0 {
				return fmt.Errorf("%w: fc layer %q requires flat input, insert flatten after [%d %d %d]", ErrConfig, tag, ch, h, w)
			}
			inShape = []int{ch}
			ch = spec.Out
			fmap = []int{ch}
		case AvgPool, MaxPool:
			if h == 0 {
				return fmt.Errorf("%w: pool layer %q requires image input", ErrConfig, tag)
			}
			inShape = []int{ch, h, w}
			h /= spec.Pool
			w /= spec.Pool
			fmap = []int{ch, h, w}
		case Flatten:
			inShape = []int{ch, h, w}
			ch = ch * h * w
			h, w = 0, 0
			fmap = []int{ch}
		}

		models := make([]*Layer, nt.NModels)
		for m := range models {
			ly := &Layer{Kind: spec.Kind, Spec: spec, In: inShape, Fmap: fmap, Padding: pad}
			switch spec.Kind {
			case Conv:
				ly.Wt = etensor.NewFloat32([]int{spec.Out, inShape[0], spec.Ksize, spec.Ksize}, nil, []string{"Out", "In", "KY", "KX"})
				ly.Bias = etensor.NewFloat32([]int{spec.Out}, nil, []string{"Out"})
			case FC:
				ly.Wt = etensor.NewFloat32([]int{spec.Out, inShape[0]}, nil, []string{"Out", "In"})
				ly.Bias = etensor.NewFloat32([]int{spec.Out}, nil, []string{"Out"})
			}
			if ly.IsWeighted() {
				ly.WtGrad = etensor.NewFloat32(ly.Wt.Shp, nil, nil)
				ly.BiasGrad = etensor.NewFloat32(ly.Bias.Shp, nil, nil)
			}
			models[m] = ly
		}
		nt.Specs = append(nt.Specs, spec)
		nt.Layers = append(nt.Layers, models)
	}
	return nil
}

// InitWeights initializes all model parameters from the WtInit params.
func (nt *Network) InitWeights() {
	for _, models := range nt.Layers {
		for _, ly := range models {
			ly.InitWeights(&nt.WtInit)
		}
	}
}

// ZeroGrads zeroes all accumulated parameter gradients, the external
// optimizer's between-step reset.
func (nt *Network) ZeroGrads() {
	for _, models := range nt.Layers {
		for _, ly := range models {
			ly.ZeroGrads()
		}
	}
}

// SGDStep applies one plain gradient-descent step to every trainable
// parameter.
func (nt *Network) SGDStep(lr float32) {
	for _, models := range nt.Layers {
		for _, ly := range models {
			ly.SGDStep(lr)
		}
	}
}

// ResetState releases all per-cycle tensors retained from the last
// Forward.  Allocation and release must stay symmetric around every
// simulation cycle to bound memory.
func (nt *Network) ResetState() {
	if nt.Trace != nil {
		nt.Trace.Release()
		nt.Trace = nil
	}
}

// effClip returns the effective clip magnitude for model m, selecting
// from the configured clip list round-robin.  The declared list is never
// mutated; divisibility is validated before use.
func (nt *Network) effClip(m int) float32 {
	n := len(nt.GradClip)
	if n == 1 {
		return nt.GradClip[0]
	}
	return nt.GradClip[m/(nt.NModels/n)]
}
