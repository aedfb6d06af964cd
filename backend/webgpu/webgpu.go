// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu runs tile passes on a GPU through WebGPU.
//
// The GPU is driven through the same register protocol as a systolic
// array, so the engine treats it as one more device:
//
//	import (
//	    "github.com/born-ml/systolic/backend/webgpu"
//	    "github.com/born-ml/systolic/device"
//	)
//
//	func main() {
//	    bus, err := webgpu.New()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    img, _ := device.LoadImage("systolic.img")
//	    h, _ := device.Open(ctx, img, bus, device.DefaultOptions())
//	    defer h.Close()
//	}
//
// WebGPU is only wired on Windows. Elsewhere New returns ErrUnavailable.
package webgpu

import (
	"github.com/born-ml/systolic/device"
	internalwebgpu "github.com/born-ml/systolic/internal/backend/webgpu"
)

// Bus is a GPU driven through the register protocol.
type Bus = internalwebgpu.Bus

// ErrUnavailable is returned when no WebGPU adapter can be used.
var ErrUnavailable = internalwebgpu.ErrUnavailable

// Compile-time check that Bus implements device.Bus.
var _ device.Bus = (*Bus)(nil)

// New initializes the default GPU adapter. Close the returned Bus (or the
// Handle opened on it) to free GPU resources.
func New() (*Bus, error) {
	return internalwebgpu.New()
}

// IsAvailable checks whether a WebGPU adapter can be initialized.
//
// Example:
//
//	if webgpu.IsAvailable() {
//	    bus, _ := webgpu.New()
//	    h, _ = device.Open(ctx, img, bus, opts)
//	} else {
//	    h, _, _ = cpu.Open(ctx, img, cpu.Config{}, opts)
//	}
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}
