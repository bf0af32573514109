// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package antlr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goki/ki/kit"
)

// LayerKinds enumerates the supported layer kinds.
type LayerKinds int32

//go:generate stringer -type=LayerKinds

var KiT_LayerKinds = kit.Enums.AddEnum(LayerKindsN, kit.NotBitFlag, nil)

func (ev LayerKinds) MarshalJSON() ([]byte, error)  { return kit.EnumMarshalJSON(ev) }
func (ev *LayerKinds) UnmarshalJSON(b []byte) error { return kit.EnumUnmarshalJSON(ev, b) }

const (
	// Conv is a 2D convolutional layer with same-ish padding (k/2) and an
	// explicit per-channel bias applied during the voltage update.
	Conv LayerKinds = iota

	// FC is a fully-connected layer with an explicit per-feature bias
	// applied during the voltage update.
	FC

	// AvgPool is a non-trainable average-pooling layer.
	AvgPool

	// MaxPool is a non-trainable max-pooling layer that records argmax
	// indices per timestep for exact gradient routing.
	MaxPool

	// Flatten reshapes a conv feature map into a flat feature vector.
	Flatten

	LayerKindsN
)

// InputSpec is the parsed input shape: channel count only for flat
// (fully-connected) input, or channels x height x width for image input.
type InputSpec struct {
	Chans  int `desc:"input channels (flat feature count when Height and Width are zero)"`
	Height int `desc:"input height, zero for flat input"`
	Width  int `desc:"input width, zero for flat input"`
}

// Flat returns true if the input is a flat feature vector.
func (is *InputSpec) Flat() bool { return is.Height == 0 }

// ParseInputSpec parses the first Net entry: either a plain feature count
// such as "784", or a CxHxW shape such as "1x28x28".
func ParseInputSpec(tag string) (InputSpec, error) {
	is := InputSpec{}
	if strings.Contains(tag, "x") {
		parts := strings.Split(tag, "x")
		if len(parts) != 3 {
			return is, fmt.Errorf("%w: input shape %q must be N or CxHxW", ErrConfig, tag)
		}
		dims := make([]int, 3)
		for i, p := range parts {
			d, err := strconv.Atoi(p)
			if err != nil || d < 1 {
				return is, fmt.Errorf("%w: invalid input shape %q", ErrConfig, tag)
			}
			dims[i] = d
		}
		is.Chans, is.Height, is.Width = dims[0], dims[1], dims[2]
		return is, nil
	}
	n, err := strconv.Atoi(tag)
	if err != nil || n < 1 {
		return is, fmt.Errorf("%w: invalid input shape %q", ErrConfig, tag)
	}
	is.Chans = n
	return is, nil
}

// LayerSpec is one parsed layer tag: the kind plus its size parameters.
// Parsing happens once, at network construction -- everything downstream
// switches on Kind, never on tag strings.
type LayerSpec struct {
	Kind  LayerKinds
	Out   int `desc:"output channels (Conv) or features (FC)"`
	Ksize int `desc:"convolution kernel size"`
	Pool  int `desc:"pooling window size"`
}

// ParseLayerSpec parses one layer tag: conv<out>c<k>, fc<out>,
// apool<k>, mpool<k>, or flatten.
func ParseLayerSpec(tag string) (LayerSpec, error) {
	ls := LayerSpec{}
	switch {
	case strings.HasPrefix(tag, "conv"):
		parts := strings.Split(strings.TrimPrefix(tag, "conv"), "c")
		if len(parts) != 2 {
			return ls, fmt.Errorf("%w: conv tag %q must be conv<out>c<k>", ErrConfig, tag)
		}
		out, err1 := strconv.Atoi(parts[0])
		k, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || out < 1 || k < 1 {
			return ls, fmt.Errorf("%w: invalid conv tag %q", ErrConfig, tag)
		}
		ls.Kind = Conv
		ls.Out = out
		ls.Ksize = k
	case strings.HasPrefix(tag, "fc"):
		out, err := strconv.Atoi(strings.TrimPrefix(tag, "fc"))
		if err != nil || out < 1 {
			return ls, fmt.Errorf("%w: invalid fc tag %q", ErrConfig, tag)
		}
		ls.Kind = FC
		ls.Out = out
	case strings.HasPrefix(tag, "apool"):
		k, err := strconv.Atoi(strings.TrimPrefix(tag, "apool"))
		if err != nil || k < 1 {
			return ls, fmt.Errorf("%w: invalid apool tag %q", ErrConfig, tag)
		}
		ls.Kind = AvgPool
		ls.Pool = k
	case strings.HasPrefix(tag, "mpool"):
		k, err := strconv.Atoi(strings.TrimPrefix(tag, "mpool"))
		if err != nil || k < 1 {
			return ls, fmt.Errorf("%w: invalid mpool tag %q", ErrConfig, tag)
		}
		ls.Kind = MaxPool
		ls.Pool = k
	case tag == "flatten":
		ls.Kind = Flatten
	default:
		return ls, fmt.Errorf("%w: unrecognized layer tag %q", ErrConfig, tag)
	}
	return ls, nil
}
