package nn

import (
	"context"
	"fmt"

	"github.com/born-ml/systolic/internal/tensor"
	"github.com/born-ml/systolic/internal/weights"
)

// Evaluate runs a feed-forward pass over layers:
//
//	activations = ReLU(activations @ W_i)   for each layer i in order
//
// ReLU follows every layer including the last, so the output is the
// non-negative feature vector of the final layer rather than raw logits.
// Integer inputs are converted to Float32 first.
//
// Shapes of the whole chain are checked before the first multiply; a
// mismatch wraps tensor.ErrDimensionMismatch. A failure in any layer fails
// the whole evaluation; the error names the layer.
func Evaluate(ctx context.Context, mm Multiplier, input *tensor.Matrix, layers []*tensor.Matrix) (*tensor.Matrix, error) {
	if err := checkChain(input, layers); err != nil {
		return nil, err
	}

	activations := asFloat(input)
	for i, w := range layers {
		out, err := mm.Multiply(ctx, activations, asFloat(w))
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		activations = tensor.Rectify(out)
	}
	return activations, nil
}

// checkChain verifies that input feeds layers[0] and every layer feeds the next.
func checkChain(input *tensor.Matrix, layers []*tensor.Matrix) error {
	width := input.Cols()
	for i, w := range layers {
		if w == nil {
			return fmt.Errorf("layer %d: nil weight", i)
		}
		if w.Rows() != width {
			return fmt.Errorf("layer %d: %w: %d input features, weight %s", i, tensor.ErrDimensionMismatch, width, w)
		}
		width = w.Cols()
	}
	return nil
}

// FeedForward is a Linear/ReLU stack built from a weight set.
//
// Layer parameters are named after the weight file layout, so
// weights.Save of FeedForward.WeightSet round-trips.
type FeedForward struct {
	*Sequential
	layers []*Linear
}

// NewFeedForward builds a FeedForward network that runs every multiply
// through mm. Like Evaluate, a ReLU follows every Linear layer including
// the last.
func NewFeedForward(mm Multiplier, set *weights.Set) (*FeedForward, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}

	ff := &FeedForward{Sequential: NewSequential()}
	for i, l := range set.Layers {
		linear, err := NewLinear(mm, l.Weight, l.Bias)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		linear.weight.SetName(weights.WeightName(i))
		if linear.bias != nil {
			linear.bias.SetName(weights.BiasName(i))
		}
		ff.layers = append(ff.layers, linear)
		ff.Add(linear)
		ff.Add(NewReLU())
	}
	return ff, nil
}

// Layers returns the Linear layers in order.
func (f *FeedForward) Layers() []*Linear {
	return f.layers
}

// WeightSet returns the network's parameters as a weight set.
func (f *FeedForward) WeightSet() *weights.Set {
	set := &weights.Set{Layers: make([]weights.Layer, len(f.layers))}
	for i, l := range f.layers {
		set.Layers[i].Weight = l.weight.Matrix()
		if l.bias != nil {
			set.Layers[i].Bias = l.bias.Matrix()
		}
	}
	return set
}
