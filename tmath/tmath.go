// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package tmath provides the dense float32 numeric kernels used by the antlr
simulator: matrix products against weight matrices (and their transposes),
2D convolution forward and backward kernels, spatial pooling, and 1D
convolution along the time axis used for impulse-response filtering of
spike trains.  All operations work on etensor.Float32 values in row-major
layout and are plain sequential loops -- there is no device dispatch.
*/
package tmath

import (
	"github.com/chewxy/math32"
	"github.com/emer/etable/v2/etensor"
)

// NewLike returns a new zero-valued tensor with the same shape as t.
func NewLike(t *etensor.Float32) *etensor.Float32 {
	return etensor.NewFloat32(t.Shp, nil, nil)
}

// Clone returns a new tensor with the same shape and values as t.
func Clone(t *etensor.Float32) *etensor.Float32 {
	c := NewLike(t)
	copy(c.Values, t.Values)
	return c
}

// Add adds src into dst elementwise.  Panics if lengths differ.
func Add(dst, src *etensor.Float32) {
	if len(dst.Values) != len(src.Values) {
		panic("tmath.Add: length mismatch")
	}
	for i, v := range src.Values {
		dst.Values[i] += v
	}
}

// Scale multiplies every element of t by s.
func Scale(t *etensor.Float32, s float32) {
	for i := range t.Values {
		t.Values[i] *= s
	}
}

// ZeroNaN replaces every NaN element of t with 0 and returns the number
// of elements replaced.
func ZeroNaN(t *etensor.Float32) int {
	n := 0
	for i, v := range t.Values {
		if math32.IsNaN(v) {
			t.Values[i] = 0
			n++
		}
	}
	return n
}

// ClampAbs clamps every element of t to [-|c|, +|c|].
func ClampAbs(t *etensor.Float32, c float32) {
	ac := math32.Abs(c)
	for i, v := range t.Values {
		if v > ac {
			t.Values[i] = ac
		} else if v < -ac {
			t.Values[i] = -ac
		}
	}
}

// TimeSlice extracts timestep t from a tensor whose leading dimensions are
// [batch, time, ...], returning a [batch, ...] tensor.
func TimeSlice(in *etensor.Float32, t int) *etensor.Float32 {
	sh := in.Shp
	nb, nt := sh[0], sh[1]
	rest := 1
	for _, d := range sh[2:] {
		rest *= d
	}
	oshp := append([]int{nb}, sh[2:]...)
	out := etensor.NewFloat32(oshp, nil, nil)
	for b := 0; b < nb; b++ {
		src := in.Values[(b*nt+t)*rest : (b*nt+t+1)*rest]
		copy(out.Values[b*rest:(b+1)*rest], src)
	}
	return out
}

// RowSlice returns rows [start, start+n) of a tensor whose first dimension
// indexes rows, preserving the trailing shape.
func RowSlice(t *etensor.Float32, start, n int) *etensor.Float32 {
	sh := t.Shp
	rest := 1
	for _, d := range sh[1:] {
		rest *= d
	}
	oshp := append([]int{n}, sh[1:]...)
	out := etensor.NewFloat32(oshp, nil, nil)
	copy(out.Values, t.Values[start*rest:(start+n)*rest])
	return out
}

// SetRows copies src into dst starting at row start of dst's first
// dimension.  The trailing shapes must agree.
func SetRows(dst, src *etensor.Float32, start int) {
	rest := 1
	for _, d := range dst.Shp[1:] {
		rest *= d
	}
	copy(dst.Values[start*rest:], src.Values)
}

// MulT computes x · wᵀ for x [batch, in] and w [out, in],
// returning [batch, out].  This is the fully-connected forward product.
func MulT(x, w *etensor.Float32) *etensor.Float32 {
	nb := x.Dim(0)
	ni := x.Dim(1)
	no := w.Dim(0)
	out := etensor.NewFloat32([]int{nb, no}, nil, nil)
	for b := 0; b < nb; b++ {
		xr := x.Values[b*ni : (b+1)*ni]
		for o := 0; o < no; o++ {
			wr := w.Values[o*ni : (o+1)*ni]
			var sum float32
			for i, xv := range xr {
				sum += xv * wr[i]
			}
			out.Values[b*no+o] = sum
		}
	}
	return out
}

// Mul computes g · w for g [batch, out] and w [out, in],
// returning [batch, in].  This routes an output-side gradient back
// through a fully-connected weight matrix.
func Mul(g, w *etensor.Float32) *etensor.Float32 {
	nb := g.Dim(0)
	no := w.Dim(0)
	ni := w.Dim(1)
	out := etensor.NewFloat32([]int{nb, ni}, nil, nil)
	for b := 0; b < nb; b++ {
		gr := g.Values[b*no : (b+1)*no]
		or := out.Values[b*ni : (b+1)*ni]
		for o, gv := range gr {
			if gv == 0 {
				continue
			}
			wr := w.Values[o*ni : (o+1)*ni]
			for i, wv := range wr {
				or[i] += gv * wv
			}
		}
	}
	return out
}

// OuterAcc accumulates gᵀ · x into dst for g [batch, out] and
// x [batch, in], dst [out, in].  This is the fully-connected weight
// gradient accumulation.
func OuterAcc(dst, g, x *etensor.Float32) {
	nb := g.Dim(0)
	no := g.Dim(1)
	ni := x.Dim(1)
	for b := 0; b < nb; b++ {
		gr := g.Values[b*no : (b+1)*no]
		xr := x.Values[b*ni : (b+1)*ni]
		for o, gv := range gr {
			if gv == 0 {
				continue
			}
			dr := dst.Values[o*ni : (o+1)*ni]
			for i, xv := range xr {
				dr[i] += gv * xv
			}
		}
	}
}
