// Package device implements the host side of one accelerator: its
// register window, configuration image, health and transfer buffers.
package device

// Bus is the register window of one accelerator.
//
// Implementations:
//   - internal/backend/cpu: systolic array simulated on the host
//   - internal/backend/webgpu: tile passes dispatched to a GPU (windows)
//
// A Bus is driven by one goroutine at a time; Handle enforces this.
type Bus interface {
	// Configure loads a configuration image onto the device.
	Configure(img *Image) error

	// WriteRegister writes data starting at the register offset.
	WriteRegister(offset uint32, data []byte) error

	// ReadRegister fills dst from the register offset.
	ReadRegister(offset uint32, dst []byte) error

	// Close releases the device.
	Close() error
}
