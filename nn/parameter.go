// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/systolic/internal/nn"
	"github.com/born-ml/systolic/tensor"
)

// Parameter is a named weight or bias matrix of a layer.
//
// Example:
//
//	for _, p := range model.Parameters() {
//	    fmt.Println(p.Name(), p.Matrix())
//	}
type Parameter = nn.Parameter

// NewParameter creates a named parameter.
func NewParameter(name string, m *tensor.Matrix) *Parameter {
	return nn.NewParameter(name, m)
}
