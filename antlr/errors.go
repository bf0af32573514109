// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package antlr

import "errors"

// ErrConfig is wrapped by all configuration errors: unrecognized layer
// tags, invalid rule selectors, multi-model mismatches, and gradient-clip
// lists that do not divide the model count.  Always fatal, raised at
// construction or backward time.
var ErrConfig = errors.New("invalid configuration")

// ErrShape is wrapped by all shape-mismatch errors between outputs,
// targets, and propagated gradients.  Fatal, surfaced to the caller.
var ErrShape = errors.New("shape mismatch")
