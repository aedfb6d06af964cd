// Package tensor provides the matrix type shared by host code and accelerator devices.
package tensor

import "github.com/x448/float16"

// Element is a constraint for supported matrix element types.
// It uses Go generics to ensure compile-time type safety.
type Element interface {
	~int16 | ~int32 | ~int64 | ~float32 | float16.Float16
}

// DataType represents runtime type information for matrices.
type DataType int

// Supported data types for matrices.
//
// Int16 is the device operand type, Int32 the per-pass accumulator type
// and Int64 the host reassembly type. Float32 and Float16 are host-side
// activation types.
const (
	Int16 DataType = iota
	Int32
	Int64
	Float16
	Float32
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Int16, Float16:
		return 2
	case Int32, Float32:
		return 4
	case Int64:
		return 8
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float16:
		return "float16"
	case Float32:
		return "float32"
	default:
		return "unknown"
	}
}

// IsInteger reports whether the type is a fixed-point integer type.
func (dt DataType) IsInteger() bool {
	return dt == Int16 || dt == Int32 || dt == Int64
}

// IsFloat reports whether the type is a host floating point type.
func (dt DataType) IsFloat() bool {
	return dt == Float16 || dt == Float32
}

// inferDataType infers DataType from a generic type T.
func inferDataType[T Element](dummy T) DataType {
	switch any(dummy).(type) {
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case float16.Float16:
		return Float16
	case float32:
		return Float32
	default:
		panic("unsupported type")
	}
}
