// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tmath

import "github.com/emer/etable/v2/etensor"

// Conv2D computes a stride-1 2D convolution (cross-correlation) of
// in [batch, inC, h, w] with weights w [outC, inC, k, k] and symmetric
// zero padding pad, returning [batch, outC, oh, ow] where
// oh = h + 2*pad - k + 1.
func Conv2D(in, w *etensor.Float32, pad int) *etensor.Float32 {
	nb, ic, ih, iw := in.Dim(0), in.Dim(1), in.Dim(2), in.Dim(3)
	oc, k := w.Dim(0), w.Dim(2)
	oh := ih + 2*pad - k + 1
	ow := iw + 2*pad - k + 1
	out := etensor.NewFloat32([]int{nb, oc, oh, ow}, nil, nil)
	for b := 0; b < nb; b++ {
		for o := 0; o < oc; o++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					var sum float32
					for c := 0; c < ic; c++ {
						for ky := 0; ky < k; ky++ {
							iy := oy + ky - pad
							if iy < 0 || iy >= ih {
								continue
							}
							for kx := 0; kx < k; kx++ {
								ix := ox + kx - pad
								if ix < 0 || ix >= iw {
									continue
								}
								iv := in.Values[((b*ic+c)*ih+iy)*iw+ix]
								wv := w.Values[((o*ic+c)*k+ky)*k+kx]
								sum += iv * wv
							}
						}
					}
					out.Values[((b*oc+o)*oh+oy)*ow+ox] = sum
				}
			}
		}
	}
	return out
}

// Conv2DInGrad routes an output-side gradient g [batch, outC, oh, ow]
// back through weights w [outC, inC, k, k] to the input side, returning
// [batch, inC, h, w] for the given input spatial shape.  This is the
// transposed convolution matching Conv2D.
func Conv2DInGrad(inShape []int, w, g *etensor.Float32, pad int) *etensor.Float32 {
	ic, ih, iw := inShape[0], inShape[1], inShape[2]
	nb := g.Dim(0)
	oc, oh, ow := g.Dim(1), g.Dim(2), g.Dim(3)
	k := w.Dim(2)
	out := etensor.NewFloat32([]int{nb, ic, ih, iw}, nil, nil)
	for b := 0; b < nb; b++ {
		for o := 0; o < oc; o++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					gv := g.Values[((b*oc+o)*oh+oy)*ow+ox]
					if gv == 0 {
						continue
					}
					for c := 0; c < ic; c++ {
						for ky := 0; ky < k; ky++ {
							iy := oy + ky - pad
							if iy < 0 || iy >= ih {
								continue
							}
							for kx := 0; kx < k; kx++ {
								ix := ox + kx - pad
								if ix < 0 || ix >= iw {
									continue
								}
								wv := w.Values[((o*ic+c)*k+ky)*k+kx]
								out.Values[((b*ic+c)*ih+iy)*iw+ix] += gv * wv
							}
						}
					}
				}
			}
		}
	}
	return out
}

// Conv2DWtGrad computes the weight gradient of Conv2D for input
// in [batch, inC, h, w] and output-side gradient g [batch, outC, oh, ow],
// returning [outC, inC, k, k].
func Conv2DWtGrad(in, g *etensor.Float32, wShape []int, pad int) *etensor.Float32 {
	nb, ic, ih, iw := in.Dim(0), in.Dim(1), in.Dim(2), in.Dim(3)
	oc, oh, ow := g.Dim(1), g.Dim(2), g.Dim(3)
	k := wShape[2]
	out := etensor.NewFloat32(wShape, nil, nil)
	for b := 0; b < nb; b++ {
		for o := 0; o < oc; o++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					gv := g.Values[((b*oc+o)*oh+oy)*ow+ox]
					if gv == 0 {
						continue
					}
					for c := 0; c < ic; c++ {
						for ky := 0; ky < k; ky++ {
							iy := oy + ky - pad
							if iy < 0 || iy >= ih {
								continue
							}
							for kx := 0; kx < k; kx++ {
								ix := ox + kx - pad
								if ix < 0 || ix >= iw {
									continue
								}
								iv := in.Values[((b*ic+c)*ih+iy)*iw+ix]
								out.Values[((o*ic+c)*k+ky)*k+kx] += gv * iv
							}
						}
					}
				}
			}
		}
	}
	return out
}

// Conv1D convolves each feature's time series in in [batch, time, feat]
// with the 1D kernel kern, zero-padding both ends by pad steps, returning
// [batch, time + 2*pad - len(kern) + 1, feat].  The kernel is applied as
// a cross-correlation; callers wanting true convolution flip it first.
func Conv1D(in *etensor.Float32, kern []float32, pad int) *etensor.Float32 {
	nb, nt, nf := in.Dim(0), in.Dim(1), in.Dim(2)
	nk := len(kern)
	ot := nt + 2*pad - nk + 1
	out := etensor.NewFloat32([]int{nb, ot, nf}, nil, nil)
	for b := 0; b < nb; b++ {
		for f := 0; f < nf; f++ {
			for o := 0; o < ot; o++ {
				var sum float32
				for j, kv := range kern {
					t := o + j - pad
					if t < 0 || t >= nt {
						continue
					}
					sum += kv * in.Values[(b*nt+t)*nf+f]
				}
				out.Values[(b*ot+o)*nf+f] = sum
			}
		}
	}
	return out
}

// Reverse returns a reversed copy of k.
func Reverse(k []float32) []float32 {
	r := make([]float32, len(k))
	for i, v := range k {
		r[len(k)-1-i] = v
	}
	return r
}
