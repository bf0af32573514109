// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package surrogate provides the surrogate spike derivative: a smooth
stand-in for the derivative of the non-differentiable hard spike
threshold, used only in the backward pass.

The function is a Laplacian bump centered at the firing threshold:

	Deriv(V) = Alpha * exp(-Beta * |V - 1|)

so its peak value Alpha occurs exactly at threshold and it falls off
exponentially on both sides at rate Beta.
*/
package surrogate

import (
	"github.com/chewxy/math32"
	"github.com/goki/mat32"
)

// Thr is the membrane potential firing threshold the bump is centered on.
const Thr = 1

// Params are the surrogate derivative parameters.
type Params struct {
	Alpha float32 `def:"0.3" min:"0" desc:"peak value of the surrogate derivative, at V = threshold"`
	Beta  float32 `def:"1" min:"0" desc:"exponential falloff rate away from threshold -- larger = narrower bump"`
}

func (sp *Params) Defaults() {
	sp.Alpha = 0.3
	sp.Beta = 1
}

// Update is a no-op; there are no derived fields.  Present for
// consistency with other param packages.
func (sp *Params) Update() {
}

// Deriv returns the surrogate derivative of the spike state with respect
// to the membrane potential v.  This runs once per neuron per timestep in
// the backward pass, so it uses the fast spline exp approximation.
func (sp *Params) Deriv(v float32) float32 {
	return sp.Alpha * mat32.FastExp(-sp.Beta*math32.Abs(v-Thr))
}
