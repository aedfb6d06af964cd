package device

import "fmt"

// Reference hardware build: 4×4 systolic array, 16-bit operands,
// 32-bit accumulators.
const (
	DefaultTileSize        = 4
	DefaultOperandBits     = 16
	DefaultAccumulatorBits = 32
)

// Arch describes the fixed datapath of one hardware build.
type Arch struct {
	TileSize        int `json:"tile_size" yaml:"tile_size"`               // Side T of the square systolic array
	OperandBits     int `json:"operand_bits" yaml:"operand_bits"`         // Operand width on the wire (8 or 16)
	AccumulatorBits int `json:"accumulator_bits" yaml:"accumulator_bits"` // Result width on the wire (32)
}

// DefaultArch returns the reference hardware build.
func DefaultArch() Arch {
	return Arch{
		TileSize:        DefaultTileSize,
		OperandBits:     DefaultOperandBits,
		AccumulatorBits: DefaultAccumulatorBits,
	}
}

// Validate checks that the build parameters are supported.
func (a Arch) Validate() error {
	if a.TileSize < 1 || a.TileSize > 256 {
		return fmt.Errorf("tile size %d out of range [1, 256]", a.TileSize)
	}
	if a.OperandBits != 8 && a.OperandBits != 16 {
		return fmt.Errorf("operand width %d not supported (8 or 16)", a.OperandBits)
	}
	if a.AccumulatorBits != 32 {
		return fmt.Errorf("accumulator width %d not supported (32)", a.AccumulatorBits)
	}
	return nil
}

// OperandBytes returns the wire size of one operand element.
func (a Arch) OperandBytes() int {
	return a.OperandBits / 8
}

// OperandTileBytes returns the wire size of one T×T operand tile.
func (a Arch) OperandTileBytes() int {
	return a.TileSize * a.TileSize * a.OperandBytes()
}

// ResultTileBytes returns the wire size of one T×T result tile.
func (a Arch) ResultTileBytes() int {
	return a.TileSize * a.TileSize * a.AccumulatorBits / 8
}

// RegisterMap is the register address table of one hardware build.
// CONTROL and STATUS may share an offset: writes go to CONTROL, reads
// come from STATUS.
type RegisterMap struct {
	Control     uint32 `json:"control" yaml:"control"`
	Status      uint32 `json:"status" yaml:"status"`
	Weights     uint32 `json:"weights" yaml:"weights"`
	Activations uint32 `json:"activations" yaml:"activations"`
	Result      uint32 `json:"result" yaml:"result"`

	StartValue uint32 `json:"start_value" yaml:"start_value"` // Written to CONTROL to trigger a pass
	DoneMask   uint32 `json:"done_mask" yaml:"done_mask"`     // STATUS bit set when the pass completes
}

// DefaultRegisterMap returns the reference build's address table.
func DefaultRegisterMap() RegisterMap {
	return RegisterMap{
		Control:     0x00,
		Status:      0x00,
		Weights:     0x10,
		Activations: 0x20,
		Result:      0x30,
		StartValue:  1,
		DoneMask:    1 << 1,
	}
}

// Validate checks that data registers do not alias each other or the
// control/status registers.
func (r RegisterMap) Validate() error {
	if r.DoneMask == 0 {
		return fmt.Errorf("register map: done mask is zero")
	}
	if r.StartValue == 0 {
		return fmt.Errorf("register map: start value is zero")
	}
	data := map[string]uint32{
		"weights":     r.Weights,
		"activations": r.Activations,
		"result":      r.Result,
	}
	seen := make(map[uint32]string, 5)
	seen[r.Control] = "control"
	seen[r.Status] = "status"
	for _, name := range []string{"weights", "activations", "result"} {
		off := data[name]
		if other, ok := seen[off]; ok {
			return fmt.Errorf("register map: %s offset 0x%02x aliases %s", name, off, other)
		}
		seen[off] = name
	}
	return nil
}
