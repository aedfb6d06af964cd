// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package matmul multiplies matrices across a set of accelerator devices.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/systolic/backend/cpu"
//	    "github.com/born-ml/systolic/device"
//	    "github.com/born-ml/systolic/matmul"
//	)
//
//	func main() {
//	    img, _ := cpu.NewImage(device.DefaultArch())
//	    var devices []*device.Handle
//	    for i := 0; i < 4; i++ {
//	        h, _, _ := cpu.Open(ctx, img, cpu.Config{}, device.Options{Ordinal: i})
//	        devices = append(devices, h)
//	    }
//
//	    engine, _ := matmul.New(devices)
//	    c, err := engine.Multiply(ctx, a, b)
//	}
//
// # Partitioning
//
// The left operand is split by rows into one contiguous range per healthy
// device. Every device walks its output tiles in row-major order and the
// results are stacked in partition order. A device that times out twice on
// one pass is marked unhealthy and its range moves to another device.
package matmul

import (
	"log/slog"
	"time"

	"github.com/born-ml/systolic/device"
	"github.com/born-ml/systolic/internal/matmul"
	"github.com/born-ml/systolic/internal/parallel"
	"github.com/born-ml/systolic/internal/protocol"
)

// Engine drives multiplies over a fixed device set.
type Engine = matmul.Engine

// Option configures an Engine.
type Option = matmul.Option

// RowPartition is a contiguous row range assigned to one device.
type RowPartition = matmul.RowPartition

// Precondition errors, returned before any device I/O.
var (
	ErrDimensionMismatch = matmul.ErrDimensionMismatch
	ErrOverflowRisk      = matmul.ErrOverflowRisk
	ErrUnsupportedType   = matmul.ErrUnsupportedType
)

// New creates an engine over devices. All devices must share one datapath.
func New(devices []*device.Handle, opts ...Option) (*Engine, error) {
	return matmul.New(devices, opts...)
}

// Partition splits rows into n contiguous ranges.
func Partition(rows, n int) []RowPartition {
	return matmul.Partition(rows, n)
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return matmul.WithLogger(l)
}

// WithPollTimeout bounds the wait for the done bit of one pass.
// maxReads caps the status reads of a pass (0 = unbounded).
func WithPollTimeout(timeout time.Duration, maxReads int) Option {
	p := protocol.Default()
	p.PollTimeout = timeout
	p.MaxPollAttempts = maxReads
	return matmul.WithProtocol(p)
}

// WithSequential drives the devices one after another instead of
// concurrently. Results are identical.
func WithSequential() Option {
	return matmul.WithParallel(parallel.Config{Enabled: false})
}
