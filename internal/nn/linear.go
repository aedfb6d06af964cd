package nn

import (
	"context"
	"fmt"

	"github.com/born-ml/systolic/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W + b
// where:
//   - x is the input matrix with shape [batch_size, in_features]
//   - W is the weight matrix with shape [in_features, out_features]
//   - b is the optional bias row with shape [1, out_features]
//   - y is the output matrix with shape [batch_size, out_features]
//
// The multiply x @ W runs on the accelerator devices through the
// Multiplier; the bias is added on the host.
//
// Example:
//
//	layer, err := nn.NewLinear(engine, w, nil)
//	output, err := layer.Forward(ctx, input) // shape: [32, 512]
type Linear struct {
	mm     Multiplier
	weight *Parameter // [in_features, out_features]
	bias   *Parameter // [1, out_features], may be nil
}

// NewLinear creates a new Linear layer from existing weights.
//
// Integer weights are converted to Float32 so the multiply can quantize
// them together with the activations.
//
// Parameters:
//   - mm: Multiplier that runs x @ W
//   - weight: Weight matrix [in_features, out_features]
//   - bias: Bias row [1, out_features], or nil
//
// Returns a new Linear layer or an error if the shapes do not agree.
func NewLinear(mm Multiplier, weight, bias *tensor.Matrix) (*Linear, error) {
	if weight == nil {
		return nil, fmt.Errorf("linear: nil weight")
	}
	if bias != nil && (bias.Rows() != 1 || bias.Cols() != weight.Cols()) {
		return nil, fmt.Errorf("linear: bias %s does not match weight %s", bias, weight)
	}

	l := &Linear{
		mm:     mm,
		weight: NewParameter("weight", asFloat(weight)),
	}
	if bias != nil {
		l.bias = NewParameter("bias", bias.ToFloat32())
	}
	return l, nil
}

// Forward computes the output of the linear layer.
//
// Performs: y = x @ W + b
//
// Input shape: [batch_size, in_features]
// Output shape: [batch_size, out_features]
func (l *Linear) Forward(ctx context.Context, input *tensor.Matrix) (*tensor.Matrix, error) {
	if input.Cols() != l.InFeatures() {
		return nil, fmt.Errorf("linear: %w: input %s has %d features, want %d",
			tensor.ErrDimensionMismatch, input, input.Cols(), l.InFeatures())
	}

	out, err := l.mm.Multiply(ctx, asFloat(input), l.weight.Matrix())
	if err != nil {
		return nil, err
	}
	if l.bias == nil {
		return out, nil
	}

	data := out.AsFloat32()
	b := l.bias.Matrix().AsFloat32()
	cols := out.Cols()
	for i := range data {
		data[i] += b[i%cols]
	}
	return out, nil
}

// Parameters returns the weight and, if present, the bias.
func (l *Linear) Parameters() []*Parameter {
	if l.bias == nil {
		return []*Parameter{l.weight}
	}
	return []*Parameter{l.weight, l.bias}
}

// InFeatures returns the number of input features.
func (l *Linear) InFeatures() int {
	return l.weight.Matrix().Rows()
}

// OutFeatures returns the number of output features.
func (l *Linear) OutFeatures() int {
	return l.weight.Matrix().Cols()
}

// Weight returns the weight parameter.
func (l *Linear) Weight() *Parameter {
	return l.weight
}

// Bias returns the bias parameter, or nil.
func (l *Linear) Bias() *Parameter {
	return l.bias
}

// asFloat returns m unchanged if it is floating point, otherwise a Float32 copy.
func asFloat(m *tensor.Matrix) *tensor.Matrix {
	if m.DType().IsFloat() {
		return m
	}
	return m.ToFloat32()
}
