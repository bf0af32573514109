// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package antlr

import (
	"fmt"

	"github.com/emer/emergent/v2/erand"
	"github.com/snnsim/antlr/kernel"
	"github.com/snnsim/antlr/surrogate"
)

// WtInitParams are weight initialization parameters: the random
// distribution for the initial weights plus a constant offset added to
// every weight afterwards.  Biases are always initialized to zero.
type WtInitParams struct {
	erand.RndParams
	On   bool    `desc:"draw initial weights from the random distribution -- otherwise weights start at the Bias offset only"`
	Bias float32 `def:"0" desc:"constant added to every weight after random initialization"`
}

func (wp *WtInitParams) Defaults() {
	wp.On = true
	wp.Mean = 0
	wp.Var = 0.01
	wp.Dist = erand.Gaussian
	wp.Bias = 0
}

// Config fully enumerates the recognized configuration of a Network.
// There is no dynamic option merging: every field is listed here, and
// Validate rejects inconsistent combinations with an error wrapping
// ErrConfig.
type Config struct {
	Net       []string    `desc:"layer specification: first entry is the input shape ('N' or 'CxHxW'), each subsequent entry a layer tag such as conv32c3, fc10, apool2, mpool2, flatten"`
	TimeSteps int         `def:"100" desc:"time horizon T: maximum number of simulated steps per forward pass"`
	Loss      LossRules   `desc:"which loss formulation is active -- also selects the alpha kernel parameterization and target semantics"`
	Rule      LearnRules  `desc:"which gradient rule the backward pass runs"`
	Decay     DecayStyles `def:"SRM" desc:"gradient decay-propagation style for the Activation rule -- Timing and ANTLR always use SRM"`

	Kernel kernel.Params    `view:"inline" desc:"decay and normalization constants and derived impulse-response kernels"`
	Surr   surrogate.Params `view:"inline" desc:"surrogate spike derivative parameters"`
	WtInit WtInitParams     `view:"inline" desc:"weight initialization parameters"`

	GradClip []float32 `desc:"elementwise gradient clip magnitude(s) -- a list is distributed round-robin across models and its length must evenly divide NModels"`

	MultiModel bool `desc:"replicate the whole layer stack into NModels independently-weighted models run in lock-step"`
	NModels    int  `def:"1" desc:"number of model replicas -- must be 1 unless MultiModel is set"`

	SoftmaxBeta   float32 `def:"1" desc:"softmax temperature scaling on the first-spike scores for the Latency loss"`
	LambdaNoSpike float32 `def:"1" desc:"weight of the Latency loss penalty for target neurons that never spike"`
	TimingPenalty float32 `def:"1" desc:"weight of the Timing rule penalty pushing silent neurons toward firing"`
	LambdaAct     float32 `def:"1" desc:"weight of the Activation component in the ANTLR blend"`
	LambdaTiming  float32 `def:"1" desc:"weight of the Timing component in the ANTLR blend"`
}

func (cf *Config) Defaults() {
	cf.TimeSteps = 100
	cf.Decay = SRM
	cf.Kernel.Defaults()
	cf.Surr.Defaults()
	cf.WtInit.Defaults()
	cf.GradClip = []float32{1}
	cf.NModels = 1
	cf.SoftmaxBeta = 1
	cf.LambdaNoSpike = 1
	cf.TimingPenalty = 1
	cf.LambdaAct = 1
	cf.LambdaTiming = 1
}

// Validate checks the configuration for inconsistencies.  It does not
// parse the layer tags -- Build does that and reports its own errors.
func (cf *Config) Validate() error {
	if len(cf.Net) < 2 {
		return fmt.Errorf("%w: Net must have an input shape and at least one layer, has %d entries", ErrConfig, len(cf.Net))
	}
	if cf.TimeSteps < 1 {
		return fmt.Errorf("%w: TimeSteps must be positive, is %d", ErrConfig, cf.TimeSteps)
	}
	if cf.Loss < 0 || cf.Loss >= LossRulesN {
		return fmt.Errorf("%w: unrecognized loss rule %d", ErrConfig, cf.Loss)
	}
	if cf.Rule < 0 || cf.Rule >= LearnRulesN {
		return fmt.Errorf("%w: unrecognized learning rule %d", ErrConfig, cf.Rule)
	}
	if cf.Decay < 0 || cf.Decay >= DecayStylesN {
		return fmt.Errorf("%w: unrecognized decay style %d", ErrConfig, cf.Decay)
	}
	if cf.NModels < 1 {
		return fmt.Errorf("%w: NModels must be positive, is %d", ErrConfig, cf.NModels)
	}
	if !cf.MultiModel && cf.NModels != 1 {
		return fmt.Errorf("%w: must set MultiModel when NModels > 1 (NModels = %d)", ErrConfig, cf.NModels)
	}
	if len(cf.GradClip) == 0 {
		return fmt.Errorf("%w: GradClip must have at least one entry", ErrConfig)
	}
	if cf.NModels%len(cf.GradClip) != 0 {
		return fmt.Errorf("%w: len(GradClip) must be a factor of NModels (%d and %d)", ErrConfig, len(cf.GradClip), cf.NModels)
	}
	return nil
}
