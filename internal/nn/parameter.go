package nn

import (
	"github.com/born-ml/systolic/internal/tensor"
)

// Parameter is a named weight or bias matrix of a module.
//
// Parameters are read-only during evaluation. Their names follow the
// weight file layout (e.g. "layers.0.weight") so a model can be saved
// and reloaded with the weights package.
//
// Example:
//
//	weight := nn.NewParameter("layers.0.weight", w)
//	m := weight.Matrix()
type Parameter struct {
	name   string         // Parameter name (e.g., "layers.0.weight")
	matrix *tensor.Matrix // The parameter value
}

// NewParameter creates a new parameter.
//
// Parameters:
//   - name: Descriptive name for this parameter (e.g., "layers.1.bias")
//   - m: The parameter matrix
//
// Returns a new Parameter.
func NewParameter(name string, m *tensor.Matrix) *Parameter {
	return &Parameter{
		name:   name,
		matrix: m,
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Matrix returns the parameter value.
func (p *Parameter) Matrix() *tensor.Matrix {
	return p.matrix
}

// SetName renames the parameter. Sequential uses it to prefix layer indices.
func (p *Parameter) SetName(name string) {
	p.name = name
}
