// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package antlr simulates feed-forward spiking neural networks and trains
them with manually derived gradient rules, following Kim et al. (2020),
"Unifying activation- and timing-based learning rules for spiking neural
networks".

A Network is built once from a Config whose Net field lists the input
shape and a tag per layer (conv32c3, fc10, apool2, mpool2, flatten).
Each training cycle is three explicit calls:

	tr, err := net.Forward(input)
	ls, err := net.ComputeLoss(tr, target)
	gt, err := net.Backward(tr, ls)

Forward integrates the leaky current / potential / spike recurrence over
the configured time horizon and returns the full state history as a
Trace.  ComputeLoss evaluates one of three targets: the alpha-kernel
smoothed spike-train MSE, the spike-count MSE, or the first-spike
latency cross-entropy (which also stops the simulation early once every
output neuron has fired).  Backward runs one of three time-and-layer
reversed gradient recurrences against the trace: the activation path
(surrogate spike derivative), the timing path (potential slope and
eligibility traces), or the ANTLR hybrid blending both.  Gradients
accumulate into the layer descriptors; SGDStep and ZeroGrads complete
the training loop.

Under multi-model mode the whole stack is replicated NModels times with
independent weights and the replicas run in lock-step, with the model
axis folded into the batch.  This trains one model per hyperparameter
setting (e.g. a per-model gradient clip) in a single pass.
*/
package antlr
