package cpu

import (
	"encoding/binary"

	"github.com/born-ml/systolic/internal/device"
)

// matmulTile computes one T×T systolic pass.
//
// weights holds W[r][k] row-major, activations holds X[k][c] transposed
// (activations[c*T+k]); out receives C[r][c] = sum_k W[r][k]*X[k][c] as
// little-endian int32. Sums wrap at 32 bits.
func matmulTile(out, weights, activations []byte, arch device.Arch) {
	t := arch.TileSize
	w := decodeOperands(weights, arch.OperandBytes())
	x := decodeOperands(activations, arch.OperandBytes())

	for r := 0; r < t; r++ {
		for c := 0; c < t; c++ {
			var sum int32
			for k := 0; k < t; k++ {
				sum += w[r*t+k] * x[c*t+k]
			}
			binary.LittleEndian.PutUint32(out[(r*t+c)*4:], uint32(sum)) //nolint:gosec // G115: two's complement reinterpretation
		}
	}
}

// decodeOperands widens little-endian 8- or 16-bit signed operands.
func decodeOperands(data []byte, width int) []int32 {
	n := len(data) / width
	vals := make([]int32, n)
	for i := 0; i < n; i++ {
		switch width {
		case 1:
			vals[i] = int32(int8(data[i])) //nolint:gosec // G115: two's complement reinterpretation
		default:
			vals[i] = int32(int16(binary.LittleEndian.Uint16(data[i*2:]))) //nolint:gosec // G115: two's complement reinterpretation
		}
	}
	return vals
}
