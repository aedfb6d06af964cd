// Package cpu implements a systolic array simulated on the host CPU,
// exposed through the same register window as the hardware.
package cpu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/born-ml/systolic/internal/device"
)

// errNoResponse is returned by every register read of an unresponsive array.
var errNoResponse = errors.New("cpu: register read timed out")

// Config controls the simulated array's timing and fault injection.
type Config struct {
	Latency      int  // STATUS reads reporting busy before the done bit is raised
	Stuck        bool // Never raise the done bit
	StuckAfter   int  // Complete this many passes, then never raise done again (0 = disabled)
	Unresponsive bool // Fail every register read
	RejectImage  bool // Fail Configure
}

// Array is a simulated systolic array.
//
// Register semantics follow the hardware build described by the loaded
// image: operand tiles are written to WEIGHTS (row-major) and ACTIVATIONS
// (transposed), a write of the start value to CONTROL runs the pass, STATUS
// raises the done bit after Latency reads, and RESULT holds T×T int32
// accumulators. Accumulation wraps at 32 bits like the hardware datapath.
type Array struct {
	cfg Config
	mu  sync.Mutex

	configured bool
	closed     bool
	arch       device.Arch
	regs       device.RegisterMap

	weights     []byte
	activations []byte
	result      []byte // visible RESULT registers
	pending     []byte // result of the in-flight pass
	busy        bool
	countdown   int
	passes      int
	violations  int
}

// New creates a simulated array. It holds no state until Configure.
func New(cfg Config) *Array {
	return &Array{cfg: cfg}
}

// Open creates a simulated array and opens it as a device.
func Open(ctx context.Context, img *device.Image, cfg Config, opts device.Options) (*device.Handle, *Array, error) {
	arr := New(cfg)
	h, err := device.Open(ctx, img, arr, opts)
	if err != nil {
		return nil, nil, err
	}
	return h, arr, nil
}

// Configure loads the build described by img.
func (a *Array) Configure(img *device.Image) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cfg.RejectImage {
		return fmt.Errorf("cpu: image %q rejected", img.Header.Name)
	}
	arch := img.Arch()
	if err := arch.Validate(); err != nil {
		return fmt.Errorf("cpu: %w", err)
	}

	a.arch = arch
	a.regs = img.Registers()
	a.weights = make([]byte, arch.OperandTileBytes())
	a.activations = make([]byte, arch.OperandTileBytes())
	a.result = make([]byte, arch.ResultTileBytes())
	a.pending = make([]byte, arch.ResultTileBytes())
	a.busy = false
	a.passes = 0
	a.configured = true
	return nil
}

// WriteRegister implements device.Bus.
func (a *Array) WriteRegister(offset uint32, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ready(); err != nil {
		return err
	}

	switch offset {
	case a.regs.Control:
		return a.control(data)
	case a.regs.Weights:
		return a.load(a.weights, data, "weights")
	case a.regs.Activations:
		return a.load(a.activations, data, "activations")
	default:
		return fmt.Errorf("cpu: write to unmapped register 0x%02x", offset)
	}
}

// ReadRegister implements device.Bus.
func (a *Array) ReadRegister(offset uint32, dst []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ready(); err != nil {
		return err
	}
	if a.cfg.Unresponsive {
		return errNoResponse
	}

	switch offset {
	case a.regs.Status:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], a.status())
		copy(dst, buf[:])
		return nil
	case a.regs.Result:
		if len(dst) > len(a.result) {
			return fmt.Errorf("cpu: result read of %d bytes exceeds %d", len(dst), len(a.result))
		}
		if a.busy {
			a.violations++
		}
		copy(dst, a.result)
		return nil
	default:
		return fmt.Errorf("cpu: read from unmapped register 0x%02x", offset)
	}
}

// Close implements device.Bus.
func (a *Array) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// SetStuck toggles the never-done fault at runtime.
func (a *Array) SetStuck(stuck bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Stuck = stuck
}

// SetUnresponsive toggles the failing-reads fault at runtime.
func (a *Array) SetUnresponsive(unresponsive bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Unresponsive = unresponsive
}

// Passes returns the number of passes triggered since Configure.
func (a *Array) Passes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.passes
}

// Violations returns the number of protocol violations observed: operand
// writes, triggers or result reads while a pass was in flight.
func (a *Array) Violations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.violations
}

func (a *Array) ready() error {
	if a.closed {
		return errors.New("cpu: array closed")
	}
	if !a.configured {
		return errors.New("cpu: array not configured")
	}
	return nil
}

func (a *Array) load(reg, data []byte, name string) error {
	if len(data) != len(reg) {
		return fmt.Errorf("cpu: %s write of %d bytes, want %d", name, len(data), len(reg))
	}
	if a.busy {
		a.violations++
	}
	copy(reg, data)
	return nil
}

func (a *Array) control(data []byte) error {
	if len(data) == 0 || len(data) > 4 {
		return fmt.Errorf("cpu: control write of %d bytes", len(data))
	}
	var buf [4]byte
	copy(buf[:], data)
	v := binary.LittleEndian.Uint32(buf[:])

	switch v {
	case 0:
		return nil
	case a.regs.StartValue:
		if a.busy {
			a.violations++
		}
		matmulTile(a.pending, a.weights, a.activations, a.arch)
		a.busy = true
		a.countdown = a.cfg.Latency
		a.passes++
		return nil
	default:
		return fmt.Errorf("cpu: unsupported control value 0x%x", v)
	}
}

// status advances the pass state machine by one STATUS read.
func (a *Array) status() uint32 {
	if !a.busy {
		if a.passes > 0 {
			return a.regs.DoneMask
		}
		return 0
	}
	if a.cfg.Stuck || (a.cfg.StuckAfter > 0 && a.passes > a.cfg.StuckAfter) {
		return 0
	}
	if a.countdown > 0 {
		a.countdown--
		return 0
	}
	a.busy = false
	copy(a.result, a.pending)
	return a.regs.DoneMask
}

// NewImage builds an in-memory configuration image for a simulated array
// with the given datapath and the default register map.
func NewImage(arch device.Arch) (*device.Image, error) {
	return NewImageWithRegisters(arch, device.DefaultRegisterMap())
}

// NewImageWithRegisters is like NewImage with an explicit register map.
func NewImageWithRegisters(arch device.Arch, regs device.RegisterMap) (*device.Image, error) {
	return device.NewImage(device.ImageHeader{
		Name:      "systolic_array",
		Build:     "sim",
		Arch:      arch,
		Registers: regs,
	}, nil)
}
