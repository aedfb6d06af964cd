// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import "github.com/born-ml/systolic/internal/tensor"

// Matrix is a dense 2-D buffer in row-major layout.
type Matrix = tensor.Matrix

// DataType is the element type of a Matrix.
type DataType = tensor.DataType

// Element is the set of Go types a Matrix can hold.
type Element = tensor.Element

// Shape holds matrix dimensions.
type Shape = tensor.Shape

// Element types.
const (
	Int16   = tensor.Int16
	Int32   = tensor.Int32
	Int64   = tensor.Int64
	Float16 = tensor.Float16
	Float32 = tensor.Float32
)

// ErrDimensionMismatch reports operands whose inner dimensions differ.
var ErrDimensionMismatch = tensor.ErrDimensionMismatch

// New creates a zero-filled matrix.
func New(rows, cols int, dtype DataType) (*Matrix, error) {
	return tensor.New(rows, cols, dtype)
}

// FromSlice creates a matrix by copying row-major data.
//
// Example:
//
//	m, _ := tensor.FromSlice([]int16{1, 2, 3, 4}, 2, 2)
func FromSlice[T Element](data []T, rows, cols int) (*Matrix, error) {
	return tensor.FromSlice(data, rows, cols)
}

// FromBytes creates a matrix from a little-endian raw buffer.
func FromBytes(raw []byte, rows, cols int, dtype DataType) (*Matrix, error) {
	return tensor.FromBytes(raw, rows, cols, dtype)
}

// Full creates a matrix with every element set to value.
func Full(rows, cols int, dtype DataType, value float64) (*Matrix, error) {
	return tensor.Full(rows, cols, dtype, value)
}

// Identity creates an n×n identity matrix.
func Identity(n int, dtype DataType) (*Matrix, error) {
	return tensor.Identity(n, dtype)
}

// MatMulReference multiplies on the host. Integer operands produce an
// exact Int64 result.
func MatMulReference(a, b *Matrix) (*Matrix, error) {
	return tensor.MatMulReference(a, b)
}

// Rectify returns a copy of m with negative entries replaced by zero.
func Rectify(m *Matrix) *Matrix {
	return tensor.Rectify(m)
}

// AllClose reports whether a and b agree element-wise within tol.
func AllClose(a, b *Matrix, tol float64) bool {
	return tensor.AllClose(a, b, tol)
}

// Quantize converts a float matrix to Int16 with a symmetric scale.
func Quantize(m *Matrix, qmax int64) (*Matrix, float64, error) {
	return tensor.Quantize(m, qmax)
}

// Dequantize scales an integer matrix back to Float32.
func Dequantize(acc *Matrix, scale float64) *Matrix {
	return tensor.Dequantize(acc, scale)
}

// QuantizationTolerance bounds the error of a product of quantized operands.
func QuantizationTolerance(aMax, sa, bMax, sb float64, k int) float64 {
	return tensor.QuantizationTolerance(aMax, sa, bMax, sb, k)
}

// SafeOperandMagnitude returns the largest operand magnitude whose
// tileSize-long dot products fit a signed accumulator of accBits.
func SafeOperandMagnitude(tileSize, accBits int) int64 {
	return tensor.SafeOperandMagnitude(tileSize, accBits)
}
