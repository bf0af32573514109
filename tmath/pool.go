// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tmath

import "github.com/emer/etable/v2/etensor"

// AvgPool2D average-pools in [batch, chans, h, w] with a k x k window and
// stride k, returning [batch, chans, h/k, w/k] (floor division -- trailing
// rows and columns that do not fill a full window are dropped).
func AvgPool2D(in *etensor.Float32, k int) *etensor.Float32 {
	nb, nc, ih, iw := in.Dim(0), in.Dim(1), in.Dim(2), in.Dim(3)
	oh, ow := ih/k, iw/k
	out := etensor.NewFloat32([]int{nb, nc, oh, ow}, nil, nil)
	norm := 1 / float32(k*k)
	for b := 0; b < nb; b++ {
		for c := 0; c < nc; c++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					var sum float32
					for ky := 0; ky < k; ky++ {
						for kx := 0; kx < k; kx++ {
							sum += in.Values[((b*nc+c)*ih+oy*k+ky)*iw+ox*k+kx]
						}
					}
					out.Values[((b*nc+c)*oh+oy)*ow+ox] = sum * norm
				}
			}
		}
	}
	return out
}

// MaxPool2D max-pools in [batch, chans, h, w] with a k x k window and
// stride k.  It returns the pooled tensor [batch, chans, h/k, w/k] and an
// index tensor of the same shape recording, for each output, the flat
// y*w + x position within its input plane that won the max.  The indices
// are required to route gradients back to the exact input location.
func MaxPool2D(in *etensor.Float32, k int) (*etensor.Float32, *etensor.Int32) {
	nb, nc, ih, iw := in.Dim(0), in.Dim(1), in.Dim(2), in.Dim(3)
	oh, ow := ih/k, iw/k
	out := etensor.NewFloat32([]int{nb, nc, oh, ow}, nil, nil)
	idx := etensor.NewInt32([]int{nb, nc, oh, ow}, nil, nil)
	for b := 0; b < nb; b++ {
		for c := 0; c < nc; c++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					best := in.Values[((b*nc+c)*ih+oy*k)*iw+ox*k]
					bidx := int32((oy*k)*iw + ox*k)
					for ky := 0; ky < k; ky++ {
						for kx := 0; kx < k; kx++ {
							v := in.Values[((b*nc+c)*ih+oy*k+ky)*iw+ox*k+kx]
							if v > best {
								best = v
								bidx = int32((oy*k + ky) * iw + ox*k + kx)
							}
						}
					}
					oi := ((b*nc+c)*oh + oy) * ow + ox
					out.Values[oi] = best
					idx.Values[oi] = bidx
				}
			}
		}
	}
	return out, idx
}

// MaxUnpool2D scatters g [batch, chans, oh, ow] back to a
// [batch, chans, h, w] tensor using the argmax indices recorded by
// MaxPool2D.  Non-winning positions stay zero.
func MaxUnpool2D(g *etensor.Float32, idx *etensor.Int32, h, w int) *etensor.Float32 {
	nb, nc, oh, ow := g.Dim(0), g.Dim(1), g.Dim(2), g.Dim(3)
	out := etensor.NewFloat32([]int{nb, nc, h, w}, nil, nil)
	for b := 0; b < nb; b++ {
		for c := 0; c < nc; c++ {
			plane := (b*nc + c) * h * w
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					oi := ((b*nc+c)*oh + oy) * ow + ox
					out.Values[plane+int(idx.Values[oi])] += g.Values[oi]
				}
			}
		}
	}
	return out
}

// Upsample2D nearest-neighbor upsamples g [batch, chans, h, w] by an
// integer factor k, returning [batch, chans, h*k, w*k].
func Upsample2D(g *etensor.Float32, k int) *etensor.Float32 {
	nb, nc, ih, iw := g.Dim(0), g.Dim(1), g.Dim(2), g.Dim(3)
	oh, ow := ih*k, iw*k
	out := etensor.NewFloat32([]int{nb, nc, oh, ow}, nil, nil)
	for b := 0; b < nb; b++ {
		for c := 0; c < nc; c++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					out.Values[((b*nc+c)*oh+oy)*ow+ox] = g.Values[((b*nc+c)*ih+oy/k)*iw+ox/k]
				}
			}
		}
	}
	return out
}

// PadRB zero-pads the bottom rows and right columns of
// g [batch, chans, h, w] out to [batch, chans, h+py, w+px].
func PadRB(g *etensor.Float32, py, px int) *etensor.Float32 {
	nb, nc, ih, iw := g.Dim(0), g.Dim(1), g.Dim(2), g.Dim(3)
	oh, ow := ih+py, iw+px
	out := etensor.NewFloat32([]int{nb, nc, oh, ow}, nil, nil)
	for b := 0; b < nb; b++ {
		for c := 0; c < nc; c++ {
			for y := 0; y < ih; y++ {
				copy(out.Values[((b*nc+c)*oh+y)*ow:((b*nc+c)*oh+y)*ow+iw],
					g.Values[((b*nc+c)*ih+y)*iw:((b*nc+c)*ih+y+1)*iw])
			}
		}
	}
	return out
}
