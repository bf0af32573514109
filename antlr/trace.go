// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package antlr

import (
	"github.com/emer/etable/v2/etensor"
	"github.com/emer/etable/v2/minmax"
)

// Trace is the full per-cycle simulation state produced by one Forward
// call: time-indexed synaptic current, membrane potential, the
// finite-difference helper used to convert timing gradients, and binary
// spikes, per layer.  It is owned by the call that produced it, consumed
// by ComputeLoss and Backward, and released afterwards -- a Network never
// hides trace state in its own fields beyond retaining the last Trace
// for ResetState.
//
// All state tensors carry the collapsed batch: under multi-model mode the
// leading model axis of the input is folded into the batch axis, so rows
// [m*B/NModels, (m+1)*B/NModels) belong to model m.
type Trace struct {
	Input      *etensor.Float32 `desc:"input spike train with collapsed batch: [batch, time, features...]"`
	BatchSize  int              `desc:"total batch rows including the collapsed model axis"`
	TermLength int              `desc:"timesteps actually executed: equals the horizon unless latency early exit triggered"`

	I      [][]*etensor.Float32 `desc:"synaptic current per [layer][t]; empty for pool/flatten layers"`
	V      [][]*etensor.Float32 `desc:"membrane potential per [layer][t]; empty for pool/flatten layers"`
	VPrime [][]*etensor.Float32 `desc:"voltage finite difference per [layer][t], clamped to >= 0.01"`
	S      [][]*etensor.Float32 `desc:"binary spikes per [layer][t]"`

	MaxIndex [][]*etensor.Int32 `desc:"max-pool argmax indices per [layer][t]; nil for other layers"`

	OutCum *etensor.Float32 `desc:"cumulative output spike count for the latency early-exit check"`
	Output *etensor.Float32 `desc:"output spike train [batch, term, features]"`

	VStats []minmax.AvgMax32 `desc:"per-layer membrane potential statistics across the whole run"`

	NumSpikeTotal  [][]int   `desc:"total spikes per [model][weighted layer]"`
	NumSpikeNec    [][]int   `desc:"spikes at or before each example's first output spike, per [model][weighted layer]"`
	FirstSpike     []float32 `desc:"per batch row: timestep of the earliest output spike, TermLength if none"`
	FirstSpikeMin  []float32 `desc:"per model min of FirstSpike"`
	FirstSpikeMean []float32 `desc:"per model mean of FirstSpike"`
}

// Release drops all trace tensors so they can be collected.  Symmetric
// with the allocation in Forward; call via Network.ResetState at the end
// of every training step, including on early-exit and error paths.
func (tr *Trace) Release() {
	tr.Input = nil
	tr.I = nil
	tr.V = nil
	tr.VPrime = nil
	tr.S = nil
	tr.MaxIndex = nil
	tr.OutCum = nil
	tr.Output = nil
}
