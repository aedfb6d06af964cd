// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package device opens accelerators for the matrix-multiply engine.
//
// A device is one systolic array reached through a register window (a
// Bus). Devices are opened once from a configuration image and handed to
// the engine explicitly:
//
//	img, err := device.LoadImage("systolic.img")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	h, err := device.Open(ctx, img, bus, device.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Close()
//
// A Handle serializes passes with Acquire and Release. Failures carry the
// device ordinal and tile in an *Error and match the package errors with
// errors.Is.
package device

import (
	"context"

	"github.com/born-ml/systolic/internal/device"
)

// Handle is one opened accelerator.
type Handle = device.Handle

// Bus is the register window of one accelerator.
type Bus = device.Bus

// Image is a loaded configuration image.
type Image = device.Image

// ImageHeader describes a configuration image.
type ImageHeader = device.ImageHeader

// Arch describes a hardware build's datapath.
type Arch = device.Arch

// RegisterMap is a hardware build's register address table.
type RegisterMap = device.RegisterMap

// Options configures Open.
type Options = device.Options

// Stats counts the work done by one device.
type Stats = device.Stats

// Error identifies the device and tile involved in a failure.
type Error = device.Error

// ImageError reports an image that could not be loaded.
type ImageError = device.ImageError

// Device errors.
var (
	ErrDeviceUnavailable = device.ErrDeviceUnavailable
	ErrDeviceTimeout     = device.ErrDeviceTimeout
	ErrDeviceUnhealthy   = device.ErrDeviceUnhealthy
)

// DefaultArch returns the reference build: a 4×4 array with 16-bit
// operands and 32-bit accumulators.
func DefaultArch() Arch {
	return device.DefaultArch()
}

// DefaultRegisterMap returns the reference build's register addresses.
func DefaultRegisterMap() RegisterMap {
	return device.DefaultRegisterMap()
}

// DefaultOptions returns Options for device 0 with default probing.
func DefaultOptions() Options {
	return device.DefaultOptions()
}

// NewImage builds an in-memory configuration image.
func NewImage(header ImageHeader, payload []byte) (*Image, error) {
	return device.NewImage(header, payload)
}

// LoadImage memory-maps and validates a configuration image file.
func LoadImage(path string) (*Image, error) {
	return device.LoadImage(path)
}

// WriteImage writes a configuration image file.
func WriteImage(path string, header ImageHeader, payload []byte) error {
	return device.WriteImage(path, header, payload)
}

// Open loads img onto bus and probes the device.
func Open(ctx context.Context, img *Image, bus Bus, opts Options) (*Handle, error) {
	return device.Open(ctx, img, bus, opts)
}
