package webgpu

import "errors"

// ErrUnavailable reports that no WebGPU adapter could be opened.
var ErrUnavailable = errors.New("webgpu: unavailable")
