// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides a simulated systolic array that runs in process.
//
// The simulation implements the same register protocol as the hardware:
// operand tiles are written to the Weights and Activations registers, a
// write of the start value to Control triggers a pass, and the Status done
// bit rises after Config.Latency status reads. It can also be told to stick
// or stop answering, which exercises the engine's failure handling.
//
// Example:
//
//	import (
//	    "github.com/born-ml/systolic/backend/cpu"
//	    "github.com/born-ml/systolic/device"
//	)
//
//	func main() {
//	    img, _ := cpu.NewImage(device.DefaultArch())
//	    h, array, _ := cpu.Open(ctx, img, cpu.Config{Latency: 2}, device.DefaultOptions())
//	    defer h.Close()
//	    _ = array.Passes()
//	}
package cpu

import (
	"context"

	internalcpu "github.com/born-ml/systolic/internal/backend/cpu"
	"github.com/born-ml/systolic/device"
)

// Array is one simulated systolic array.
type Array = internalcpu.Array

// Config controls simulated latency and failure injection.
type Config = internalcpu.Config

// Compile-time check that Array implements device.Bus.
var _ device.Bus = (*Array)(nil)

// New creates a simulated array.
func New(cfg Config) *Array {
	return internalcpu.New(cfg)
}

// Open creates a simulated array and opens it as a device.
func Open(ctx context.Context, img *device.Image, cfg Config, opts device.Options) (*device.Handle, *Array, error) {
	return internalcpu.Open(ctx, img, cfg, opts)
}

// NewImage builds an in-memory configuration image for a simulated array
// with the default register map.
func NewImage(arch device.Arch) (*device.Image, error) {
	return internalcpu.NewImage(arch)
}
