// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense matrices consumed and produced by the
// systolic matrix-multiply engine.
//
// # Overview
//
// A Matrix is a 2-D row-major buffer with one of these element types:
//   - Int16: device operands (fixed point)
//   - Int32: device accumulators
//   - Int64: exact host reassembly of integer products
//   - Float16, Float32: host weights and activations
//
// # Basic Usage
//
//	import "github.com/born-ml/systolic/tensor"
//
//	func main() {
//	    a, _ := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
//	    w, _ := tensor.Identity(3, tensor.Float32)
//
//	    // Host reference product, for checking device results
//	    c, _ := tensor.MatMulReference(a, w)
//	    _ = tensor.Rectify(c)
//	}
//
// # Fixed Point Transfer
//
// Floating point operands are quantized to Int16 with a symmetric
// per-matrix scale before they reach a device (Quantize). Device products
// are scaled back with Dequantize. QuantizationTolerance bounds the error
// of the round trip.
package tensor
