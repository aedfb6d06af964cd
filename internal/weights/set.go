// Package weights reads and writes the ordered layer matrices of a
// feed-forward network in SafeTensors format.
//
// Layer i is stored as "layers.<i>.weight" with shape [in, out] and an
// optional "layers.<i>.bias" with shape [out] or [1, out].
package weights

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/born-ml/systolic/internal/tensor"
)

// InputName is the tensor name used for a stored input batch.
const InputName = "input"

var layerName = regexp.MustCompile(`^layers\.(\d+)\.(weight|bias)$`)

// Layer is one dense layer: out = in @ Weight (+ Bias).
type Layer struct {
	Weight *tensor.Matrix // [in, out]
	Bias   *tensor.Matrix // [1, out] or nil
}

// Set is an ordered sequence of layers. It is read-only once built.
type Set struct {
	Layers   []Layer
	Metadata map[string]string
}

// NewSet builds a set from weight matrices without biases.
func NewSet(ws ...*tensor.Matrix) *Set {
	layers := make([]Layer, len(ws))
	for i, w := range ws {
		layers[i] = Layer{Weight: w}
	}
	return &Set{Layers: layers}
}

// Weights returns the weight matrices in layer order.
func (s *Set) Weights() []*tensor.Matrix {
	out := make([]*tensor.Matrix, len(s.Layers))
	for i, l := range s.Layers {
		out[i] = l.Weight
	}
	return out
}

// Validate checks that consecutive layers chain: each layer's output width
// equals the next layer's input width, and biases match output widths.
func (s *Set) Validate() error {
	if len(s.Layers) == 0 {
		return fmt.Errorf("weight set has no layers")
	}
	for i, l := range s.Layers {
		if l.Weight == nil {
			return fmt.Errorf("layer %d: missing weight", i)
		}
		if l.Bias != nil && (l.Bias.Rows() != 1 || l.Bias.Cols() != l.Weight.Cols()) {
			return fmt.Errorf("layer %d: bias %s does not match weight %s", i, l.Bias, l.Weight)
		}
		if i > 0 {
			if prev := s.Layers[i-1].Weight; prev.Cols() != l.Weight.Rows() {
				return fmt.Errorf("layer %d: weight %s does not chain from layer %d output width %d",
					i, l.Weight, i-1, prev.Cols())
			}
		}
	}
	return nil
}

// Load reads a weight set from a SafeTensors file.
func Load(path string) (*Set, error) {
	tensors, metadata, err := ReadTensors(path)
	if err != nil {
		return nil, err
	}
	set, err := fromTensors(tensors)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	set.Metadata = metadata
	return set, nil
}

// Save writes a weight set to a SafeTensors file.
func Save(path string, set *Set) error {
	if err := set.Validate(); err != nil {
		return err
	}
	tensors := make(map[string]*tensor.Matrix, 2*len(set.Layers))
	for i, l := range set.Layers {
		tensors[WeightName(i)] = l.Weight
		if l.Bias != nil {
			tensors[BiasName(i)] = l.Bias
		}
	}
	return WriteTensors(path, tensors, set.Metadata)
}

// WeightName returns the tensor name of layer i's weight.
func WeightName(i int) string {
	return "layers." + strconv.Itoa(i) + ".weight"
}

// BiasName returns the tensor name of layer i's bias.
func BiasName(i int) string {
	return "layers." + strconv.Itoa(i) + ".bias"
}

func fromTensors(tensors map[string]*tensor.Matrix) (*Set, error) {
	byIndex := make(map[int]*Layer)
	for name, m := range tensors {
		match := layerName.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		idx, err := strconv.Atoi(match[1])
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		l := byIndex[idx]
		if l == nil {
			l = &Layer{}
			byIndex[idx] = l
		}
		if match[2] == "weight" {
			l.Weight = m
		} else {
			l.Bias = m
		}
	}

	indices := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	set := &Set{Layers: make([]Layer, len(indices))}
	for i, idx := range indices {
		if idx != i {
			return nil, fmt.Errorf("layer %d missing", i)
		}
		set.Layers[i] = *byIndex[idx]
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}
