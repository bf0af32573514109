// Copyright (c) 2024, The SNNSim Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package antlr

import (
	"errors"
	"testing"
)

func TestBuildShapes(t *testing.T) {
	cfg := &Config{}
	cfg.Defaults()
	cfg.Net = []string{"1x8x8", "conv4c3", "mpool2", "apool2", "flatten", "fc10"}
	nt, err := NewNetwork(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if nt.NumLayers() != 5 {
		t.Fatalf("layer count: got %v, want 5", nt.NumLayers())
	}

	wantFmap := [][]int{
		{4, 8, 8}, // conv, same padding
		{4, 4, 4}, // mpool
		{4, 2, 2}, // apool
		{16},      // flatten
		{10},      // fc
	}
	for l, want := range wantFmap {
		got := nt.Layer(l, 0).Fmap
		if len(got) != len(want) {
			t.Errorf("layer %v fmap rank: got %v, want %v", l, got, want)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("layer %v fmap: got %v, want %v", l, got, want)
				break
			}
		}
	}

	conv := nt.Layer(0, 0)
	if sh := conv.Wt.Shp; sh[0] != 4 || sh[1] != 1 || sh[2] != 3 || sh[3] != 3 {
		t.Errorf("conv weight shape: %v", sh)
	}
	if conv.Padding != 1 {
		t.Errorf("conv padding: got %v, want 1", conv.Padding)
	}
	fc := nt.Layer(4, 0)
	if sh := fc.Wt.Shp; sh[0] != 10 || sh[1] != 16 {
		t.Errorf("fc weight shape: %v", sh)
	}
	if fc.FanIn() != 16 {
		t.Errorf("fc fan-in: got %v, want 16", fc.FanIn())
	}
}

func TestBuildErrors(t *testing.T) {
	build := func(net ...string) error {
		cfg := &Config{}
		cfg.Defaults()
		cfg.Net = net
		_, err := NewNetwork(cfg)
		return err
	}
	if err := build("784", "conv4c3"); !errors.Is(err, ErrConfig) {
		t.Errorf("conv on flat input: got %v, want ErrConfig", err)
	}
	if err := build("1x8x8", "fc10"); !errors.Is(err, ErrConfig) {
		t.Errorf("fc on image input: got %v, want ErrConfig", err)
	}
	if err := build("784", "pool2"); !errors.Is(err, ErrConfig) {
		t.Errorf("bad tag: got %v, want ErrConfig", err)
	}
}

func TestMultiModelBuild(t *testing.T) {
	cfg := &Config{}
	cfg.Defaults()
	cfg.Net = []string{"4", "fc8", "fc2"}
	cfg.MultiModel = true
	cfg.NModels = 3
	nt, err := NewNetwork(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for l := 0; l < nt.NumLayers(); l++ {
		if len(nt.Layers[l]) != 3 {
			t.Errorf("layer %v model count: got %v, want 3", l, len(nt.Layers[l]))
		}
	}
	// replicas must have independent parameter storage
	nt.Layer(0, 0).Wt.Values[0] = 42
	if nt.Layer(0, 1).Wt.Values[0] == 42 {
		t.Errorf("model replicas share weight storage")
	}

	cfg.Net = []string{"1x8x8", "conv4c3", "flatten", "fc2"}
	if _, err := NewNetwork(cfg); !errors.Is(err, ErrConfig) {
		t.Errorf("multi-model conv: got %v, want ErrConfig", err)
	}
}

func TestInitWeights(t *testing.T) {
	cfg := &Config{}
	cfg.Defaults()
	cfg.Net = []string{"4", "fc2"}
	cfg.WtInit.Bias = 0.25
	cfg.WtInit.On = false
	nt, err := NewNetwork(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ly := nt.Layer(0, 0)
	for i, v := range ly.Wt.Values {
		if v != 0.25 {
			t.Errorf("weight %v: got %v, want 0.25", i, v)
		}
	}
	for i, v := range ly.Bias.Values {
		if v != 0 {
			t.Errorf("bias %v: got %v, want 0", i, v)
		}
	}

	cfg.WtInit.On = true
	nt, err = NewNetwork(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ly = nt.Layer(0, 0)
	allSame := true
	for _, v := range ly.Wt.Values {
		if v != ly.Wt.Values[0] {
			allSame = false
			break
		}
	}
	if allSame {
		t.Errorf("random init produced identical weights")
	}
}
