//go:build !windows

// Package webgpu runs systolic tile passes on a GPU through WebGPU.
// The GPU bus is only built on windows; elsewhere New always fails.
package webgpu

import (
	"github.com/born-ml/systolic/internal/device"
)

// Bus is unavailable on this platform.
type Bus struct{}

// New always fails with ErrUnavailable on this platform.
func New() (*Bus, error) {
	return nil, ErrUnavailable
}

// IsAvailable reports false on this platform.
func IsAvailable() bool {
	return false
}

// Configure implements device.Bus.
func (b *Bus) Configure(*device.Image) error { return ErrUnavailable }

// WriteRegister implements device.Bus.
func (b *Bus) WriteRegister(uint32, []byte) error { return ErrUnavailable }

// ReadRegister implements device.Bus.
func (b *Bus) ReadRegister(uint32, []byte) error { return ErrUnavailable }

// Close implements device.Bus.
func (b *Bus) Close() error { return nil }
