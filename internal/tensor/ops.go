package tensor

import (
	"errors"
	"fmt"
	"math"

	"github.com/born-ml/systolic/internal/parallel"
)

// ErrDimensionMismatch reports operands whose inner dimensions differ.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Full creates a matrix with every element set to value.
func Full(rows, cols int, dtype DataType, value float64) (*Matrix, error) {
	m, err := New(rows, cols, dtype)
	if err != nil {
		return nil, err
	}
	m.fill(func(_, _ int) float64 { return value })
	return m, nil
}

// Identity creates an n×n identity matrix.
func Identity(n int, dtype DataType) (*Matrix, error) {
	m, err := New(n, n, dtype)
	if err != nil {
		return nil, err
	}
	m.fill(func(i, j int) float64 {
		if i == j {
			return 1
		}
		return 0
	})
	return m, nil
}

// fill sets every element from f, converting to the matrix type.
func (m *Matrix) fill(f func(i, j int) float64) {
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			m.set(i*m.cols+j, f(i, j))
		}
	}
}

func (m *Matrix) set(idx int, v float64) {
	switch m.dtype {
	case Int16:
		m.AsInt16()[idx] = int16(v)
	case Int32:
		m.AsInt32()[idx] = int32(v)
	case Int64:
		m.AsInt64()[idx] = int64(v)
	case Float16:
		m.AsFloat16()[idx] = float16From(v)
	case Float32:
		m.AsFloat32()[idx] = float32(v)
	}
}

// MatMulReference performs a dense multiply on the host, splitting
// output rows across CPUs for large operands.
// (M, K) @ (K, N) -> (M, N)
//
// Integer operands accumulate exactly into Int64. Floating point operands
// accumulate in float64 and return Float32.
func MatMulReference(a, b *Matrix) (*Matrix, error) {
	if a.cols != b.rows {
		return nil, fmt.Errorf("matmul: %w: [%d,%d] @ [%d,%d]", ErrDimensionMismatch, a.rows, a.cols, b.rows, b.cols)
	}
	m, k, n := a.rows, a.cols, b.cols

	if a.dtype.IsInteger() && b.dtype.IsInteger() {
		out := MustNew(m, n, Int64)
		c := out.AsInt64()
		parallel.For(m, func(i int) {
			for j := 0; j < n; j++ {
				var sum int64
				for kIdx := 0; kIdx < k; kIdx++ {
					sum += int64(a.At(i, kIdx)) * int64(b.At(kIdx, j))
				}
				c[i*n+j] = sum
			}
		}, referenceConfig(k*n))
		return out, nil
	}

	out := MustNew(m, n, Float32)
	c := out.AsFloat32()
	parallel.For(m, func(i int) {
		for j := 0; j < n; j++ {
			var sum float64
			for kIdx := 0; kIdx < k; kIdx++ {
				sum += a.At(i, kIdx) * b.At(kIdx, j)
			}
			c[i*n+j] = float32(sum)
		}
	}, referenceConfig(k*n))
	return out, nil
}

// referenceConfig returns the row fan-out for a reference multiply whose
// rows each cost rowWork multiply-adds. Cheap rows stay sequential.
func referenceConfig(rowWork int) parallel.Config {
	cfg := parallel.DefaultConfig()
	if rowWork >= 4096 {
		cfg.MinChunkSize = 1
	}
	return cfg
}

// Rectify returns a copy of m with negative entries replaced by zero (ReLU).
func Rectify(m *Matrix) *Matrix {
	out := m.Clone()
	switch out.dtype {
	case Float32:
		rectify(out.AsFloat32())
	case Int16:
		rectify(out.AsInt16())
	case Int32:
		rectify(out.AsInt32())
	case Int64:
		rectify(out.AsInt64())
	case Float16:
		data := out.AsFloat16()
		for i, v := range data {
			if v.Signbit() && !v.IsNaN() {
				data[i] = 0
			}
		}
	}
	return out
}

func rectify[T int16 | int32 | int64 | float32](data []T) {
	for i, v := range data {
		if v < 0 {
			data[i] = 0
		}
	}
}

// ConcatRows stacks matrices vertically in argument order.
// All parts must share the column count and dtype.
func ConcatRows(parts ...*Matrix) (*Matrix, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("concat: no matrices")
	}
	cols, dtype := parts[0].cols, parts[0].dtype
	rows := 0
	for i, p := range parts {
		if p.cols != cols || p.dtype != dtype {
			return nil, fmt.Errorf("concat: part %d is %s, want %s[*, %d]", i, p, dtype, cols)
		}
		rows += p.rows
	}

	out, err := New(rows, cols, dtype)
	if err != nil {
		return nil, err
	}
	offset := 0
	for _, p := range parts {
		offset += copy(out.data[offset:], p.data)
	}
	return out, nil
}

// AllClose reports whether a and b have the same shape and every pair of
// elements differs by at most tol.
func AllClose(a, b *Matrix, tol float64) bool {
	if a.rows != b.rows || a.cols != b.cols {
		return false
	}
	for i := 0; i < a.rows; i++ {
		for j := 0; j < a.cols; j++ {
			if math.Abs(a.At(i, j)-b.At(i, j)) > tol {
				return false
			}
		}
	}
	return true
}
