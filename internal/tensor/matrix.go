package tensor

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/x448/float16"
)

// Matrix is a dense 2-D buffer in row-major layout.
//
// Device-resident operands are Int16, device results Int32, host
// reassembly Int64. Host activations are Float32 or Float16.
type Matrix struct {
	data  []byte
	rows  int
	cols  int
	dtype DataType
}

// New creates a zero-filled matrix with the given dimensions and type.
func New(rows, cols int, dtype DataType) (*Matrix, error) {
	shape := Shape{rows, cols}
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &Matrix{
		data:  make([]byte, rows*cols*dtype.Size()),
		rows:  rows,
		cols:  cols,
		dtype: dtype,
	}, nil
}

// MustNew is like New but panics on invalid dimensions.
func MustNew(rows, cols int, dtype DataType) *Matrix {
	m, err := New(rows, cols, dtype)
	if err != nil {
		panic(err)
	}
	return m
}

// FromSlice creates a matrix by copying data laid out row-major.
//
// Example:
//
//	m, _ := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
func FromSlice[T Element](data []T, rows, cols int) (*Matrix, error) {
	if len(data) != rows*cols {
		return nil, fmt.Errorf("data length %d does not match shape [%d, %d]", len(data), rows, cols)
	}

	var dummy T
	m, err := New(rows, cols, inferDataType(dummy))
	if err != nil {
		return nil, err
	}
	copy(asSlice[T](m.data, len(data)), data)
	return m, nil
}

// FromBytes creates a matrix that copies a little-endian raw buffer.
func FromBytes(raw []byte, rows, cols int, dtype DataType) (*Matrix, error) {
	m, err := New(rows, cols, dtype)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(m.data) {
		return nil, fmt.Errorf("raw size %d does not match %s [%d, %d] (%d bytes)",
			len(raw), dtype, rows, cols, len(m.data))
	}
	copy(m.data, raw)
	return m, nil
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int {
	return m.rows
}

// Cols returns the number of columns.
func (m *Matrix) Cols() int {
	return m.cols
}

// Shape returns the matrix dimensions as [rows, cols].
func (m *Matrix) Shape() Shape {
	return Shape{m.rows, m.cols}
}

// DType returns the element type.
func (m *Matrix) DType() DataType {
	return m.dtype
}

// NumElements returns the total number of elements.
func (m *Matrix) NumElements() int {
	return m.rows * m.cols
}

// ByteSize returns the total memory size in bytes.
func (m *Matrix) ByteSize() int {
	return len(m.data)
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (m *Matrix) Data() []byte {
	return m.data
}

func asSlice[T any](data []byte, n int) []T {
	if n == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), n)
}

func (m *Matrix) mustBe(dt DataType) {
	if m.dtype != dt {
		panic(fmt.Sprintf("matrix dtype is %s, not %s", m.dtype, dt))
	}
}

// AsInt16 interprets the data as []int16.
// Panics if the matrix dtype is not Int16.
func (m *Matrix) AsInt16() []int16 {
	m.mustBe(Int16)
	return asSlice[int16](m.data, m.NumElements())
}

// AsInt32 interprets the data as []int32.
// Panics if the matrix dtype is not Int32.
func (m *Matrix) AsInt32() []int32 {
	m.mustBe(Int32)
	return asSlice[int32](m.data, m.NumElements())
}

// AsInt64 interprets the data as []int64.
// Panics if the matrix dtype is not Int64.
func (m *Matrix) AsInt64() []int64 {
	m.mustBe(Int64)
	return asSlice[int64](m.data, m.NumElements())
}

// AsFloat16 interprets the data as []float16.Float16.
// Panics if the matrix dtype is not Float16.
func (m *Matrix) AsFloat16() []float16.Float16 {
	m.mustBe(Float16)
	return asSlice[float16.Float16](m.data, m.NumElements())
}

// AsFloat32 interprets the data as []float32.
// Panics if the matrix dtype is not Float32.
func (m *Matrix) AsFloat32() []float32 {
	m.mustBe(Float32)
	return asSlice[float32](m.data, m.NumElements())
}

// At returns element (i, j) widened to float64.
func (m *Matrix) At(i, j int) float64 {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		panic(fmt.Sprintf("index (%d, %d) out of range for [%d, %d]", i, j, m.rows, m.cols))
	}
	idx := i*m.cols + j
	switch m.dtype {
	case Int16:
		return float64(m.AsInt16()[idx])
	case Int32:
		return float64(m.AsInt32()[idx])
	case Int64:
		return float64(m.AsInt64()[idx])
	case Float16:
		return float64(m.AsFloat16()[idx].Float32())
	case Float32:
		return float64(m.AsFloat32()[idx])
	default:
		panic("unknown data type")
	}
}

// RowSlice returns a view of rows [start, end) sharing the same buffer.
// Rows are contiguous in row-major layout, so no copy is made.
func (m *Matrix) RowSlice(start, end int) *Matrix {
	if start < 0 || end > m.rows || start >= end {
		panic(fmt.Sprintf("row range [%d, %d) invalid for %d rows", start, end, m.rows))
	}
	stride := m.cols * m.dtype.Size()
	return &Matrix{
		data:  m.data[start*stride : end*stride],
		rows:  end - start,
		cols:  m.cols,
		dtype: m.dtype,
	}
}

// Clone returns a deep copy of the matrix.
func (m *Matrix) Clone() *Matrix {
	data := make([]byte, len(m.data))
	copy(data, m.data)
	return &Matrix{
		data:  data,
		rows:  m.rows,
		cols:  m.cols,
		dtype: m.dtype,
	}
}

// ToFloat32 converts the matrix to Float32. Float32 input is cloned.
func (m *Matrix) ToFloat32() *Matrix {
	out := MustNew(m.rows, m.cols, Float32)
	dst := out.AsFloat32()
	switch m.dtype {
	case Float32:
		copy(dst, m.AsFloat32())
	case Float16:
		for i, v := range m.AsFloat16() {
			dst[i] = v.Float32()
		}
	default:
		for i := range dst {
			dst[i] = float32(m.At(i/m.cols, i%m.cols))
		}
	}
	return out
}

// ToFloat16 converts a floating point matrix to Float16, rounding to nearest even.
func (m *Matrix) ToFloat16() *Matrix {
	out := MustNew(m.rows, m.cols, Float16)
	dst := out.AsFloat16()
	src := m.ToFloat32().AsFloat32()
	for i, v := range src {
		dst[i] = float16.Fromfloat32(v)
	}
	return out
}

// MaxAbs returns the largest absolute element value, or NaN if any
// element is NaN.
func (m *Matrix) MaxAbs() float64 {
	var best float64
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			v := math.Abs(m.At(i, j))
			if math.IsNaN(v) {
				return v
			}
			if v > best {
				best = v
			}
		}
	}
	return best
}

// String returns a short description such as "int16[8, 4]".
func (m *Matrix) String() string {
	return fmt.Sprintf("%s[%d, %d]", m.dtype, m.rows, m.cols)
}
