// Package protocol drives one tile pass through the accelerator's
// register window.
//
// A pass is a fixed sequence: write WEIGHTS, write ACTIVATIONS, write the
// start value to CONTROL, poll STATUS until the done bit is set, read
// RESULT. The sequence holds the device exclusively from the first write
// to the last read.
package protocol

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/born-ml/systolic/internal/device"
	"github.com/born-ml/systolic/internal/tensor"
)

// ErrOverflowRisk reports an operand whose magnitude could overflow the
// device accumulator for the loaded tile size.
var ErrOverflowRisk = errors.New("operand magnitude risks accumulator overflow")

// Protocol holds the poll bounds for tile passes.
type Protocol struct {
	PollTimeout     time.Duration // Wall-clock bound on one pass's poll loop
	PollInterval    time.Duration // Wait between STATUS reads (0 = yield only)
	MaxPollAttempts int           // Bound on STATUS reads per pass (0 = unbounded)
}

// Default returns the poll bounds used when none are configured.
func Default() Protocol {
	return Protocol{
		PollTimeout:  time.Second,
		PollInterval: 0,
	}
}

// Pass runs one tile pass on h.
//
// weights holds the left tile row-major and activations the right tile
// transposed, both T×T. The returned slice holds the T×T accumulators
// row-major. Transfer buffers are released on every return path.
//
// A pass whose done bit does not rise within the poll bound fails with
// device.ErrDeviceTimeout wrapped in *device.Error.
func (p Protocol) Pass(ctx context.Context, h *device.Handle, weights, activations []int16) ([]int32, error) {
	arch := h.Arch()
	regs := h.Registers()
	n := arch.TileSize * arch.TileSize
	if len(weights) != n || len(activations) != n {
		return nil, fmt.Errorf("pass: operand tiles have %d and %d elements, want %d",
			len(weights), len(activations), n)
	}
	if err := CheckOperands(arch, weights); err != nil {
		return nil, err
	}
	if err := CheckOperands(arch, activations); err != nil {
		return nil, err
	}

	if err := h.Acquire(ctx); err != nil {
		return nil, err
	}
	defer h.Release()

	in := h.Buffers().Acquire(arch.OperandTileBytes())
	defer in.Release()
	out := h.Buffers().Acquire(arch.ResultTileBytes())
	defer out.Release()

	encodeOperands(in.Bytes(), weights, arch.OperandBytes())
	if err := h.WriteRegister(regs.Weights, in.Bytes()); err != nil {
		return nil, &device.Error{Ordinal: h.Ordinal(), Op: "write weights", Err: err}
	}
	encodeOperands(in.Bytes(), activations, arch.OperandBytes())
	if err := h.WriteRegister(regs.Activations, in.Bytes()); err != nil {
		return nil, &device.Error{Ordinal: h.Ordinal(), Op: "write activations", Err: err}
	}
	if err := h.WriteControl(regs.StartValue); err != nil {
		return nil, &device.Error{Ordinal: h.Ordinal(), Op: "trigger", Err: err}
	}

	polls, err := p.poll(ctx, h)
	if err != nil {
		return nil, err
	}

	if err := h.ReadRegisterInto(regs.Result, out.Bytes()); err != nil {
		return nil, &device.Error{Ordinal: h.Ordinal(), Op: "read result", Err: err}
	}
	h.RecordPass(polls)

	result := make([]int32, n)
	for i := range result {
		result[i] = int32(binary.LittleEndian.Uint32(out.Bytes()[i*4:])) //nolint:gosec // G115: two's complement reinterpretation
	}
	return result, nil
}

// poll reads STATUS until the done bit is set, yielding between reads.
// It returns the number of reads taken.
func (p Protocol) poll(ctx context.Context, h *device.Handle) (int, error) {
	regs := h.Registers()
	timeout := p.PollTimeout
	if timeout <= 0 {
		timeout = Default().PollTimeout
	}
	deadline := time.Now().Add(timeout)

	var timer *time.Timer
	if p.PollInterval > 0 {
		timer = time.NewTimer(p.PollInterval)
		defer timer.Stop()
	}

	polls := 0
	for {
		status, err := h.ReadStatus()
		polls++
		if err != nil {
			return polls, &device.Error{Ordinal: h.Ordinal(), Op: "poll", Err: err}
		}
		if status&regs.DoneMask != 0 {
			return polls, nil
		}

		if time.Now().After(deadline) || (p.MaxPollAttempts > 0 && polls >= p.MaxPollAttempts) {
			h.RecordTimeout(polls)
			return polls, &device.Error{Ordinal: h.Ordinal(), Op: "poll",
				Err: fmt.Errorf("%w: done bit not set after %d reads", device.ErrDeviceTimeout, polls)}
		}

		if timer == nil {
			if err := ctx.Err(); err != nil {
				return polls, err
			}
			runtime.Gosched()
			continue
		}
		timer.Reset(p.PollInterval)
		select {
		case <-ctx.Done():
			return polls, ctx.Err()
		case <-timer.C:
		}
	}
}

// CheckOperands returns ErrOverflowRisk if any operand exceeds the
// magnitude a T-long dot product can hold in the device accumulator, or
// the operand wire width.
func CheckOperands(arch device.Arch, vals []int16) error {
	limit := min(tensor.SafeOperandMagnitude(arch.TileSize, arch.AccumulatorBits), tensor.OperandLimit(arch.OperandBits))
	for i, v := range vals {
		if m := int64(v); m > limit || -m > limit {
			return fmt.Errorf("%w: operand %d at index %d exceeds %d", ErrOverflowRisk, v, i, limit)
		}
	}
	return nil
}

// encodeOperands writes vals little-endian at the given width into dst.
func encodeOperands(dst []byte, vals []int16, width int) {
	for i, v := range vals {
		switch width {
		case 1:
			dst[i] = byte(int8(v)) //nolint:gosec // G115: range checked by CheckOperands
		default:
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(v)) //nolint:gosec // G115: two's complement reinterpretation
		}
	}
}
