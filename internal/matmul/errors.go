package matmul

import (
	"errors"

	"github.com/born-ml/systolic/internal/protocol"
	"github.com/born-ml/systolic/internal/tensor"
)

// Precondition errors. They are returned before any device I/O.
var (
	// ErrDimensionMismatch reports operands whose inner dimensions differ.
	ErrDimensionMismatch = tensor.ErrDimensionMismatch

	// ErrOverflowRisk reports operands too large for the device accumulator.
	ErrOverflowRisk = protocol.ErrOverflowRisk

	// ErrUnsupportedType reports an operand type the requested multiply cannot take.
	ErrUnsupportedType = errors.New("unsupported element type")
)
