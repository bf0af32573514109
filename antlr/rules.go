// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package antlr

import "github.com/goki/ki/kit"

// LossRules enumerates the mutually exclusive loss formulations.
// Exactly one is active per network instance; it determines the kernel
// parameterization, the loss formula, and the target tensor semantics.
type LossRules int32

//go:generate stringer -type=LossRules

var KiT_LossRules = kit.Enums.AddEnum(LossRulesN, kit.NotBitFlag, nil)

func (ev LossRules) MarshalJSON() ([]byte, error)  { return kit.EnumMarshalJSON(ev) }
func (ev *LossRules) UnmarshalJSON(b []byte) error { return kit.EnumUnmarshalJSON(ev, b) }

const (
	// SpikeTrain is the per-timestep spike-train MSE loss: the
	// output/target difference is smoothed by the alpha kernel and
	// squared at every timestep.
	SpikeTrain LossRules = iota

	// SpikeCount is the spike-count MSE loss: with the count
	// parameterization the alpha kernel is constant, so only the final
	// timestep of the smoothed difference contributes.
	SpikeCount

	// Latency is the first-spike-latency cross-entropy loss over
	// negatively time-weighted first spike scores, plus a penalty for
	// target neurons that never spike.
	Latency

	LossRulesN
)

// LearnRules enumerates the gradient computation rules.  Exactly one is
// active; it determines which backward recurrence runs and which
// gradient-trace fields are allocated.
type LearnRules int32

//go:generate stringer -type=LearnRules

var KiT_LearnRules = kit.Enums.AddEnum(LearnRulesN, kit.NotBitFlag, nil)

func (ev LearnRules) MarshalJSON() ([]byte, error)  { return kit.EnumMarshalJSON(ev) }
func (ev *LearnRules) UnmarshalJSON(b []byte) error { return kit.EnumUnmarshalJSON(ev, b) }

const (
	// Activation is backprop-through-time using the surrogate derivative
	// for every spike gradient.
	Activation LearnRules = iota

	// Timing treats only the first-spike time as the learning signal,
	// converting timing gradients to voltage gradients via the
	// threshold-crossing slope.
	Timing

	// ANTLR is the hybrid rule: a weighted blend of the Activation and
	// Timing voltage gradients at each position.
	ANTLR

	LearnRulesN
)

// DecayStyles enumerates how the Activation rule carries voltage and
// current gradients across timesteps, differing in whether the leak
// carries across a spike reset.
type DecayStyles int32

//go:generate stringer -type=DecayStyles

var KiT_DecayStyles = kit.Enums.AddEnum(DecayStylesN, kit.NotBitFlag, nil)

func (ev DecayStyles) MarshalJSON() ([]byte, error)  { return kit.EnumMarshalJSON(ev) }
func (ev *DecayStyles) UnmarshalJSON(b []byte) error { return kit.EnumUnmarshalJSON(ev, b) }

const (
	// RNN propagates gradients directly through the voltage recurrence,
	// gating on spike resets, without a separate dependency trace.
	RNN DecayStyles = iota

	// SRM keeps a separate spike-response dependency trace, gated by
	// spike resets.  This is the default and the only style used by the
	// Timing and ANTLR rules.
	SRM

	// SLAYER is like SRM but lets gradients leak across spike resets.
	SLAYER

	DecayStylesN
)
