// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/born-ml/systolic/nn"
	"github.com/born-ml/systolic/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hostMultiplier computes products on the host.
type hostMultiplier struct{}

func (hostMultiplier) Multiply(_ context.Context, l, r *tensor.Matrix) (*tensor.Matrix, error) {
	return tensor.MatMulReference(l.ToFloat32(), r.ToFloat32())
}

// TestModuleInterface verifies that concrete types implement Module.
func TestModuleInterface(t *testing.T) {
	w, err := tensor.FromSlice([]float32{1, -1, 2, 0, 0, 1}, 3, 2)
	require.NoError(t, err)
	linear, err := nn.NewLinear(hostMultiplier{}, w, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		module nn.Module
		cols   int
		params int
	}{
		{name: "Linear", module: linear, cols: 2, params: 1},
		{name: "ReLU", module: nn.NewReLU(), cols: 3, params: 0},
		{name: "Sequential", module: nn.NewSequential(linear, nn.NewReLU()), cols: 2, params: 1},
	}

	input, err := tensor.FromSlice([]float32{1, 2, 3}, 1, 3)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.module.Forward(context.Background(), input)
			require.NoError(t, err)
			assert.Equal(t, tt.cols, out.Cols())
			if got := len(tt.module.Parameters()); got != tt.params {
				t.Errorf("Parameters() returned %d, want %d", got, tt.params)
			}
		})
	}
}

func TestFeedForward_FromFile(t *testing.T) {
	w1, err := tensor.FromSlice([]float32{1, 0, 0, 1}, 2, 2)
	require.NoError(t, err)
	w2, err := tensor.FromSlice([]float32{-1, 1}, 2, 1)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, nn.SaveWeights(path, nn.NewWeightSet(w1, w2)))

	set, err := nn.LoadWeights(path)
	require.NoError(t, err)
	model, err := nn.NewFeedForward(hostMultiplier{}, set)
	require.NoError(t, err)

	input, err := tensor.FromSlice([]float32{3, 5, 5, 3}, 2, 2)
	require.NoError(t, err)
	got, err := model.Forward(context.Background(), input)
	require.NoError(t, err)

	want, err := nn.Evaluate(context.Background(), hostMultiplier{}, input, []*tensor.Matrix{w1, w2})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 0}, got.AsFloat32())
	assert.Equal(t, want.AsFloat32(), got.AsFloat32())
}
