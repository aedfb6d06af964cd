// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"context"

	"github.com/born-ml/systolic/internal/nn"
	"github.com/born-ml/systolic/internal/weights"
	"github.com/born-ml/systolic/tensor"
)

// Multiplier computes matrix products for Linear layers.
type Multiplier = nn.Multiplier

// Module is the base interface for network components.
//
// Modules can be composed:
//
//	model := nn.NewSequential(
//	    linear1,
//	    nn.NewReLU(),
//	    linear2,
//	)
type Module = nn.Module

// Linear is a fully connected layer.
type Linear = nn.Linear

// ReLU is the rectified linear activation.
type ReLU = nn.ReLU

// Sequential applies modules in order.
type Sequential = nn.Sequential

// FeedForward is a Linear/ReLU stack built from a weight set.
type FeedForward = nn.FeedForward

// WeightSet holds the per-layer weights and biases of a network.
type WeightSet = weights.Set

// Layer is one weight/bias pair of a WeightSet.
type Layer = weights.Layer

// NewLinear creates a Linear layer with weight of shape
// [in_features, out_features]. bias may be nil.
func NewLinear(mm Multiplier, weight, bias *tensor.Matrix) (*Linear, error) {
	return nn.NewLinear(mm, weight, bias)
}

// NewReLU creates a ReLU activation.
func NewReLU() *ReLU {
	return nn.NewReLU()
}

// NewSequential creates a container running modules in order.
func NewSequential(modules ...Module) *Sequential {
	return nn.NewSequential(modules...)
}

// NewFeedForward builds the network described by set.
func NewFeedForward(mm Multiplier, set *WeightSet) (*FeedForward, error) {
	return nn.NewFeedForward(mm, set)
}

// Evaluate runs input through layers, applying ReLU after every product
// including the last.
func Evaluate(ctx context.Context, mm Multiplier, input *tensor.Matrix, layers []*tensor.Matrix) (*tensor.Matrix, error) {
	return nn.Evaluate(ctx, mm, input, layers)
}

// NewWeightSet creates a bias-free weight set from layer weights.
func NewWeightSet(ws ...*tensor.Matrix) *WeightSet {
	return weights.NewSet(ws...)
}

// LoadWeights reads a weight set from a safetensors file.
func LoadWeights(path string) (*WeightSet, error) {
	return weights.Load(path)
}

// SaveWeights writes a weight set as a safetensors file.
func SaveWeights(path string, set *WeightSet) error {
	return weights.Save(path, set)
}
