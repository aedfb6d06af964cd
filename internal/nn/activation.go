package nn

import (
	"context"

	"github.com/born-ml/systolic/internal/tensor"
)

// ReLU is a Rectified Linear Unit activation module.
//
// Applies the element-wise function: f(x) = max(0, x)
//
// Example:
//
//	relu := nn.NewReLU()
//	output, _ := relu.Forward(ctx, input) // All negative values become 0
type ReLU struct{}

// NewReLU creates a new ReLU activation module.
func NewReLU() *ReLU {
	return &ReLU{}
}

// Forward applies ReLU activation: f(x) = max(0, x).
// The input is not modified.
func (r *ReLU) Forward(_ context.Context, input *tensor.Matrix) (*tensor.Matrix, error) {
	return tensor.Rectify(input), nil
}

// Parameters returns an empty slice (ReLU has no parameters).
func (r *ReLU) Parameters() []*Parameter {
	return nil
}
