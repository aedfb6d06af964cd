package device

import (
	"errors"
	"fmt"
)

// Device errors. Callers test for them with errors.Is.
var (
	// ErrDeviceUnavailable reports that a configuration image could not be
	// loaded or a device did not answer its probe. It is not retried.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrDeviceTimeout reports that a device did not raise its done bit
	// within the poll bound.
	ErrDeviceTimeout = errors.New("device timeout")

	// ErrDeviceUnhealthy reports use of a device that was excluded after
	// repeated timeouts.
	ErrDeviceUnhealthy = errors.New("device unhealthy")
)

// Error identifies the device, operation and (when known) output tile
// involved in a failure.
type Error struct {
	Ordinal int    // Device ordinal (0..N-1)
	Op      string // Operation (e.g. "open", "probe", "poll", "write weights")
	Tile    string // Output tile, e.g. "(4,0)"; empty when not tile related
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Tile != "" {
		return fmt.Sprintf("device %d: %s tile %s: %v", e.Ordinal, e.Op, e.Tile, e.Err)
	}
	return fmt.Sprintf("device %d: %s: %v", e.Ordinal, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// ImageError provides detailed information about configuration image validation failures.
type ImageError struct {
	Type    string // Type of error (e.g., "bad_magic", "checksum_mismatch")
	Path    string // Image path, empty for in-memory images
	Details string // Additional details
}

// Error implements the error interface.
func (e *ImageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config image %q: %s: %s", e.Path, e.Type, e.Details)
	}
	return fmt.Sprintf("config image: %s: %s", e.Type, e.Details)
}

// Unwrap lets errors.Is match ErrDeviceUnavailable for every image failure.
func (e *ImageError) Unwrap() error {
	return ErrDeviceUnavailable
}
