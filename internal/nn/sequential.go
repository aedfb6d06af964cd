package nn

import (
	"context"
	"fmt"
	"strings"

	"github.com/born-ml/systolic/internal/tensor"
)

// Sequential is a container module that chains multiple modules together.
//
// Each module's output becomes the next module's input, creating a
// sequential pipeline of transformations.
//
// Example:
//
//	model := nn.NewSequential(
//	    linear1,
//	    nn.NewReLU(),
//	    linear2,
//	)
//
//	output, err := model.Forward(ctx, input)
//
// This is equivalent to:
//
//	h1, _ := linear1.Forward(ctx, input)
//	h2, _ := relu.Forward(ctx, h1)
//	output, _ := linear2.Forward(ctx, h2)
type Sequential struct {
	modules []Module
}

// NewSequential creates a new Sequential container.
//
// Parameters:
//   - modules: List of modules to chain together
//
// Returns a new Sequential container.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules: modules,
	}
}

// Forward applies all modules in sequence.
//
// The output of each module becomes the input to the next module. The
// first failing module stops the chain; its error names the module index.
func (s *Sequential) Forward(ctx context.Context, input *tensor.Matrix) (*tensor.Matrix, error) {
	output := input

	for i, module := range s.modules {
		var err error
		output, err = module.Forward(ctx, output)
		if err != nil {
			return nil, fmt.Errorf("module %d: %w", i, err)
		}
	}

	return output, nil
}

// Parameters returns all parameters from all modules, in order.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// Add appends a module to the end of the sequence.
func (s *Sequential) Add(module Module) {
	s.modules = append(s.modules, module)
}

// Len returns the number of modules in the sequence.
func (s *Sequential) Len() int {
	return len(s.modules)
}

// Module returns the module at the given index.
func (s *Sequential) Module(i int) Module {
	return s.modules[i]
}

// String returns a short description such as "Sequential(Linear[784→512], ReLU)".
func (s *Sequential) String() string {
	parts := make([]string, len(s.modules))
	for i, m := range s.modules {
		switch v := m.(type) {
		case *Linear:
			parts[i] = fmt.Sprintf("Linear[%d→%d]", v.InFeatures(), v.OutFeatures())
		case *ReLU:
			parts[i] = "ReLU"
		default:
			parts[i] = fmt.Sprintf("%T", m)
		}
	}
	return "Sequential(" + strings.Join(parts, ", ") + ")"
}
