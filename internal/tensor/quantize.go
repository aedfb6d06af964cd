package tensor

import (
	"fmt"
	"math"

	"github.com/x448/float16"
)

// OperandLimit returns the largest magnitude representable by a signed
// operand of the given bit width (e.g. 32767 for 16 bits).
func OperandLimit(bits int) int64 {
	if bits < 2 || bits > 32 {
		panic(fmt.Sprintf("operand width %d out of range [2, 32]", bits))
	}
	return int64(1)<<(bits-1) - 1
}

// SafeOperandMagnitude returns the largest operand magnitude m such that a
// dot product of length tileSize never exceeds a signed accumulator of
// accBits: tileSize * m^2 <= 2^(accBits-1) - 1.
func SafeOperandMagnitude(tileSize, accBits int) int64 {
	if tileSize <= 0 {
		panic(fmt.Sprintf("tile size %d must be positive", tileSize))
	}
	limit := OperandLimit(accBits) / int64(tileSize)
	return isqrt(limit)
}

// isqrt returns floor(sqrt(n)) exactly for n >= 0.
func isqrt(n int64) int64 {
	x := int64(math.Sqrt(float64(n)))
	for x*x > n {
		x--
	}
	for (x+1)*(x+1) <= n {
		x++
	}
	return x
}

// MaxAbsInt returns the largest absolute value of an integer matrix.
func MaxAbsInt(m *Matrix) int64 {
	var best int64
	switch m.dtype {
	case Int16:
		for _, v := range m.AsInt16() {
			best = max(best, absInt64(int64(v)))
		}
	case Int32:
		for _, v := range m.AsInt32() {
			best = max(best, absInt64(int64(v)))
		}
	case Int64:
		for _, v := range m.AsInt64() {
			best = max(best, absInt64(v))
		}
	default:
		panic(fmt.Sprintf("MaxAbsInt: %s is not an integer type", m.dtype))
	}
	return best
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Quantize converts a floating point matrix to Int16 fixed point with a
// symmetric per-matrix scale: q = round(x / scale), |q| <= qmax.
//
// The returned scale satisfies x ≈ q * scale. Precision lost in the
// conversion is at most scale/2 per element. An all-zero matrix gets
// scale 1.
func Quantize(m *Matrix, qmax int64) (*Matrix, float64, error) {
	if !m.dtype.IsFloat() {
		return nil, 0, fmt.Errorf("quantize: %s is not a floating point type", m.dtype)
	}
	if qmax <= 0 || qmax > OperandLimit(16) {
		return nil, 0, fmt.Errorf("quantize: qmax %d out of range (0, %d]", qmax, OperandLimit(16))
	}

	maxAbs := m.MaxAbs()
	if math.IsNaN(maxAbs) || math.IsInf(maxAbs, 0) {
		return nil, 0, fmt.Errorf("quantize: matrix contains non-finite values")
	}
	scale := 1.0
	if maxAbs > 0 {
		scale = maxAbs / float64(qmax)
	}

	out := MustNew(m.rows, m.cols, Int16)
	dst := out.AsInt16()
	src := m.ToFloat32().AsFloat32()
	for i, v := range src {
		q := math.Round(float64(v) / scale)
		q = math.Max(-float64(qmax), math.Min(float64(qmax), q))
		dst[i] = int16(q)
	}
	return out, scale, nil
}

// Dequantize converts an integer accumulator matrix back to Float32 by
// multiplying every element by scale.
func Dequantize(acc *Matrix, scale float64) *Matrix {
	out := MustNew(acc.rows, acc.cols, Float32)
	dst := out.AsFloat32()
	for i := range dst {
		dst[i] = float32(acc.At(i/acc.cols, i%acc.cols) * scale)
	}
	return out
}

// QuantizationTolerance bounds the absolute error of a product computed
// from quantized operands, relative to the exact float product.
//
// For operands a, b with quantization steps sa, sb, each product term
// errs by at most |a|*sb/2 + |b|*sa/2 + sa*sb/4; the bound sums k terms.
func QuantizationTolerance(aMax, sa, bMax, sb float64, k int) float64 {
	per := aMax*sb/2 + bMax*sa/2 + sa*sb/4
	return float64(k) * per
}

func float16From(v float64) float16.Float16 {
	return float16.Fromfloat32(float32(v))
}
