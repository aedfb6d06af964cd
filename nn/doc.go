// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides feed-forward network evaluation on top of the
// matrix-multiply engine.
//
// # Overview
//
// Layers are composed from:
//   - Linear: y = x·W + b, with the product computed by a Multiplier
//   - ReLU: element-wise max(0, x)
//   - Sequential: modules applied in order
//
// A Multiplier is anything that multiplies two matrices; *matmul.Engine is
// the device-backed one.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/systolic/matmul"
//	    "github.com/born-ml/systolic/nn"
//	)
//
//	func main() {
//	    engine, _ := matmul.New(devices)
//
//	    // Every layer is followed by ReLU, the last one included.
//	    out, err := nn.Evaluate(ctx, engine, input, []*tensor.Matrix{w1, w2, w3})
//
//	    // The same network with biases, loaded from a safetensors file.
//	    set, _ := nn.LoadWeights("model.safetensors")
//	    model, _ := nn.NewFeedForward(engine, set)
//	    out, err = model.Forward(ctx, input)
//	}
package nn
