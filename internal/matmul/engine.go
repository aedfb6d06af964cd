// Package matmul multiplies matrices across a set of accelerator devices.
//
// The left operand is split by rows into one contiguous partition per
// healthy device. Each device walks its partition's output tiles in
// row-major order, one register-protocol pass per (tile, k-step), and the
// partition results are concatenated in partition order once every device
// has finished.
package matmul

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/born-ml/systolic/internal/device"
	"github.com/born-ml/systolic/internal/parallel"
	"github.com/born-ml/systolic/internal/protocol"
	"github.com/born-ml/systolic/internal/tensor"
	"github.com/born-ml/systolic/internal/tile"
)

// Engine drives multiplies over a fixed device set.
// The device list is read-only after New; an Engine is safe for concurrent use.
type Engine struct {
	devices  []*device.Handle
	arch     device.Arch
	proto    protocol.Protocol
	parallel parallel.Config
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithProtocol sets the poll bounds used for every tile pass.
func WithProtocol(p protocol.Protocol) Option {
	return func(e *Engine) {
		e.proto = p
	}
}

// WithParallel sets the per-device fan-out configuration.
func WithParallel(cfg parallel.Config) Option {
	return func(e *Engine) {
		e.parallel = cfg
	}
}

// New creates an engine over devices. All devices must share one datapath.
func New(devices []*device.Handle, opts ...Option) (*Engine, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no devices", device.ErrDeviceUnavailable)
	}
	arch := devices[0].Arch()
	for _, h := range devices[1:] {
		if h.Arch() != arch {
			return nil, fmt.Errorf("device %d datapath %+v differs from device %d %+v",
				h.Ordinal(), h.Arch(), devices[0].Ordinal(), arch)
		}
	}

	e := &Engine{
		devices:  append([]*device.Handle(nil), devices...),
		arch:     arch,
		proto:    protocol.Default(),
		parallel: parallel.DeviceConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Devices returns the engine's device set.
func (e *Engine) Devices() []*device.Handle {
	return e.devices
}

// Arch returns the shared datapath of the devices.
func (e *Engine) Arch() device.Arch {
	return e.arch
}

// OperandLimit returns the largest operand magnitude the engine accepts:
// the smaller of the wire width limit and the accumulator-safe magnitude.
func (e *Engine) OperandLimit() int64 {
	return min(tensor.OperandLimit(e.arch.OperandBits),
		tensor.SafeOperandMagnitude(e.arch.TileSize, e.arch.AccumulatorBits))
}

// Healthy returns the devices currently eligible for scheduling.
func (e *Engine) Healthy() []*device.Handle {
	var out []*device.Handle
	for _, h := range e.devices {
		if h.Healthy() {
			out = append(out, h)
		}
	}
	return out
}

// Reprobe probes every unhealthy device and returns how many were restored.
func (e *Engine) Reprobe(ctx context.Context) int {
	restored := 0
	for _, h := range e.devices {
		if h.Healthy() {
			continue
		}
		if err := h.Probe(ctx); err == nil {
			restored++
			e.logger.Info("device restored", "device", h.Ordinal())
		}
	}
	return restored
}

// MultiplyInt computes left @ right exactly for Int16 operands and returns
// an Int64 matrix.
//
// Operands larger than OperandLimit fail with ErrOverflowRisk before any
// device is touched.
func (e *Engine) MultiplyInt(ctx context.Context, left, right *tensor.Matrix) (*tensor.Matrix, error) {
	if left.DType() != tensor.Int16 || right.DType() != tensor.Int16 {
		return nil, fmt.Errorf("%w: integer multiply takes int16 operands, got %s @ %s",
			ErrUnsupportedType, left, right)
	}
	if err := checkShapes(left, right); err != nil {
		return nil, err
	}
	limit := e.OperandLimit()
	for _, m := range []*tensor.Matrix{left, right} {
		if v := tensor.MaxAbsInt(m); v > limit {
			return nil, fmt.Errorf("%w: %s holds magnitude %d, limit %d for %d×%d tiles",
				ErrOverflowRisk, m, v, limit, e.arch.TileSize, e.arch.TileSize)
		}
	}
	return e.run(ctx, left, right)
}

// Multiply computes left @ right for Float32 or Float16 operands.
//
// Each operand is quantized to Int16 with its own symmetric scale bounded
// by OperandLimit, multiplied exactly on the devices, and scaled back to
// Float32. The result differs from the float product by at most
// tensor.QuantizationTolerance for the operands' scales.
func (e *Engine) Multiply(ctx context.Context, left, right *tensor.Matrix) (*tensor.Matrix, error) {
	if !left.DType().IsFloat() || !right.DType().IsFloat() {
		return nil, fmt.Errorf("%w: float multiply takes float operands, got %s @ %s",
			ErrUnsupportedType, left, right)
	}
	if err := checkShapes(left, right); err != nil {
		return nil, err
	}

	limit := e.OperandLimit()
	qa, sa, err := tensor.Quantize(left, limit)
	if err != nil {
		return nil, err
	}
	qb, sb, err := tensor.Quantize(right, limit)
	if err != nil {
		return nil, err
	}

	acc, err := e.run(ctx, qa, qb)
	if err != nil {
		return nil, err
	}
	return tensor.Dequantize(acc, sa*sb), nil
}

func checkShapes(left, right *tensor.Matrix) error {
	if left.Cols() != right.Rows() {
		return fmt.Errorf("%w: [%d, %d] @ [%d, %d]", ErrDimensionMismatch,
			left.Rows(), left.Cols(), right.Rows(), right.Cols())
	}
	return nil
}

// run partitions left over the healthy devices and waits for all of them.
func (e *Engine) run(ctx context.Context, left, right *tensor.Matrix) (*tensor.Matrix, error) {
	devices := e.Healthy()
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no healthy devices", device.ErrDeviceUnavailable)
	}

	start := time.Now()
	parts := Partition(left.Rows(), len(devices))
	results := make([]*tensor.Matrix, len(parts))

	err := parallel.ForEach(ctx, len(parts), func(ctx context.Context, i int) error {
		p := parts[i]
		if p.Len() == 0 {
			return nil
		}
		out, err := e.runPartition(ctx, devices[p.Device], left.RowSlice(p.Start, p.End), right, p)
		if err != nil {
			return err
		}
		results[i] = out
		return nil
	}, e.parallel)
	if err != nil {
		return nil, err
	}

	blocks := make([]*tensor.Matrix, 0, len(results))
	for _, r := range results {
		if r != nil {
			blocks = append(blocks, r)
		}
	}
	out, err := tensor.ConcatRows(blocks...)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("multiply done",
		"shape", fmt.Sprintf("[%d, %d] @ [%d, %d]", left.Rows(), left.Cols(), right.Rows(), right.Cols()),
		"devices", len(devices),
		"elapsed", time.Since(start))
	return out, nil
}

// runPartition multiplies one partition, moving it to another healthy
// device if its device fails. It gives up when no untried healthy device
// remains.
func (e *Engine) runPartition(ctx context.Context, h *device.Handle, a, b *tensor.Matrix, p RowPartition) (*tensor.Matrix, error) {
	tried := make(map[int]bool, len(e.devices))
	for {
		tried[h.Ordinal()] = true
		start := time.Now()

		out, err := e.multiplyOn(ctx, h, a, b)
		if err == nil {
			h.Logger().Debug("partition done",
				"partition", p.String(),
				"elapsed", time.Since(start))
			return out, nil
		}

		var devErr *device.Error
		if ctx.Err() != nil || !errors.As(err, &devErr) {
			return nil, err
		}
		h.MarkUnhealthy(err)

		next := e.replacement(tried)
		if next == nil {
			return nil, fmt.Errorf("%s: %w, no replacement left: %w", p, device.ErrDeviceUnhealthy, err)
		}
		e.logger.Warn("moving partition to replacement device",
			"partition", p.String(),
			"from", h.Ordinal(),
			"to", next.Ordinal(),
			"err", err)
		h = next
	}
}

func (e *Engine) replacement(tried map[int]bool) *device.Handle {
	for _, h := range e.devices {
		if h.Healthy() && !tried[h.Ordinal()] {
			return h
		}
	}
	return nil
}

// multiplyOn computes a @ b on one device, tile by tile.
// The shared dimension is walked in steps of T; each step is one pass.
func (e *Engine) multiplyOn(ctx context.Context, h *device.Handle, a, b *tensor.Matrix) (*tensor.Matrix, error) {
	size := e.arch.TileSize
	sched, err := tile.NewScheduler(a.Rows(), b.Cols(), size)
	if err != nil {
		return nil, err
	}

	out := tensor.MustNew(a.Rows(), b.Cols(), tensor.Int64)
	acc := out.AsInt64()
	weights := make([]int16, size*size)
	activations := make([]int16, size*size)
	kSteps := tile.Steps(a.Cols(), size)

	for t, ok := sched.Next(); ok; t, ok = sched.Next() {
		for ks := 0; ks < kSteps; ks++ {
			k0 := ks * size
			tile.PackWeights(weights, a, t.Row0, k0, size)
			tile.PackActivations(activations, b, k0, t.Col0, size)

			res, err := e.pass(ctx, h, weights, activations)
			if err != nil {
				var devErr *device.Error
				if errors.As(err, &devErr) {
					devErr.Tile = t.String()
				}
				return nil, err
			}
			tile.Accumulate(acc, b.Cols(), res, t, size)
		}
	}
	return out, nil
}

// pass runs one tile pass. A timeout is retried once after a successful
// re-probe of the device.
func (e *Engine) pass(ctx context.Context, h *device.Handle, weights, activations []int16) ([]int32, error) {
	res, err := e.proto.Pass(ctx, h, weights, activations)
	if err == nil || !errors.Is(err, device.ErrDeviceTimeout) {
		return res, err
	}

	h.Logger().Warn("tile pass timed out, re-probing", "err", err)
	if perr := h.Probe(ctx); perr != nil {
		return nil, perr
	}
	return e.proto.Pass(ctx, h, weights, activations)
}
