// Package nn evaluates feed-forward networks on accelerator devices.
//
// This package provides the building blocks of a dense network:
//   - Module interface: Base interface for all NN components
//   - Parameter: Named weight or bias matrix
//   - Linear: Fully connected layer whose multiply runs on the devices
//   - ReLU: Rectified linear activation
//   - Sequential: Container for stacking layers
//   - FeedForward: Linear/ReLU stack built from a weight set
package nn

import (
	"context"

	"github.com/born-ml/systolic/internal/tensor"
)

// Multiplier computes matrix products. *matmul.Engine implements it.
type Multiplier interface {
	// Multiply computes left @ right for floating point operands and
	// returns a Float32 matrix.
	Multiply(ctx context.Context, left, right *tensor.Matrix) (*tensor.Matrix, error)
}

// Module is the base interface for all neural network components.
//
// Every NN module must implement:
//   - Forward: Compute output from input
//   - Parameters: Return all weight and bias matrices
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential(
//	    linear1,
//	    nn.NewReLU(),
//	    linear2,
//	)
type Module interface {
	// Forward computes the output of the module given an input matrix.
	//
	// The input should have the appropriate shape for this module.
	// For example, Linear expects [batch_size, in_features].
	//
	// Forward fails if a device multiply fails; it never returns a
	// partially computed matrix.
	Forward(ctx context.Context, input *tensor.Matrix) (*tensor.Matrix, error)

	// Parameters returns the module's weight and bias matrices.
	//
	// Returns an empty slice for modules without parameters
	// (e.g., activation functions).
	Parameters() []*Parameter
}
